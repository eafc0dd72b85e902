package libisulad

import (
	"encoding/json"
	"math"

	"github.com/pkg/errors"
)

// cfsPeriodMicros is the fixed CFS bandwidth period used whenever
// nano_cpus is projected into a period/quota pair.
const cfsPeriodMicros = 100_000

const nanoCPUsDivisor = 1_000_000_000

// ResourcesDocument is the JSON schema written to resources.json. Field
// names follow the wire contract, not Go convention.
type ResourcesDocument struct {
	BlockIO *BlockIOResources `json:"block_io,omitempty"`
	CPU     *CPUResources     `json:"cpu,omitempty"`
	Memory  *MemoryResources  `json:"memory,omitempty"`
}

type BlockIOResources struct {
	Weight uint16 `json:"weight,omitempty"`
}

type CPUResources struct {
	Shares          int64  `json:"shares,omitempty"`
	Period          int64  `json:"period,omitempty"`
	Quota           int64  `json:"quota,omitempty"`
	Cpus            string `json:"cpus,omitempty"`
	Mems            string `json:"mems,omitempty"`
	RealtimePeriod  int64  `json:"realtime_period,omitempty"`
	RealtimeRuntime int64  `json:"realtime_runtime,omitempty"`
}

type MemoryResources struct {
	Limit       int64 `json:"limit,omitempty"`
	Swap        int64 `json:"swap,omitempty"`
	Reservation int64 `json:"reservation,omitempty"`
	Kernel      int64 `json:"kernel,omitempty"`
}

// BuildResourcesDocument projects a HostConfig into the cgroup-resources
// payload the runtime's `update --resources` subcommand consumes.
// NanoCPUs, when positive, overrides CPUPeriod/CPUQuota using the fixed
// 100ms CFS period; an overflowing conversion is ErrBadArgument, never a
// silently wrapped value.
func BuildResourcesDocument(hc HostConfig) (ResourcesDocument, error) {
	doc := ResourcesDocument{
		BlockIO: &BlockIOResources{Weight: hc.BlkioWeight},
		CPU: &CPUResources{
			Shares:          hc.CPUShares,
			Period:          hc.CPUPeriod,
			Quota:           hc.CPUQuota,
			Cpus:            hc.CPUSetCPUs,
			Mems:            hc.CPUSetMems,
			RealtimePeriod:  hc.CPURealtimePeriod,
			RealtimeRuntime: hc.CPURealtimeRuntime,
		},
		Memory: &MemoryResources{
			Limit:       hc.Memory,
			Swap:        hc.MemorySwap,
			Reservation: hc.MemoryReservation,
			Kernel:      hc.KernelMemory,
		},
	}

	if hc.NanoCPUs > 0 {
		period, quota, err := nanoCPUsToPeriodQuota(hc.NanoCPUs)
		if err != nil {
			return ResourcesDocument{}, err
		}
		doc.CPU.Period = period
		doc.CPU.Quota = quota
	}

	return doc, nil
}

// nanoCPUsToPeriodQuota fixes period at 100_000 and derives
// quota := (nano_cpus/1e9) x period, matching the runtime's own C
// implementation: nano_cpus/1e9 is a floating-point division (fractional
// CPU counts survive it), and the overflow guard compares against
// INT64_MAX/period rather than against a threshold pre-scaled by 1e9.
func nanoCPUsToPeriodQuota(nanoCPUs int64) (period, quota int64, err error) {
	period = cfsPeriodMicros
	cpus := float64(nanoCPUs) / nanoCPUsDivisor
	if cpus > float64(math.MaxInt64/period) {
		return 0, 0, errors.Wrapf(ErrBadArgument, "nano_cpus %d overflows when projected to CFS quota", nanoCPUs)
	}
	quota = int64(cpus * float64(period))
	return period, quota, nil
}

// marshalResources serializes doc for resources.json.
func marshalResources(doc ResourcesDocument) ([]byte, error) {
	data, err := json.Marshal(doc)
	if err != nil {
		return nil, errors.Wrapf(ErrSerializationFailed, "%v", err)
	}
	return data, nil
}
