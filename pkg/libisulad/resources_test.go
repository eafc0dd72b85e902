package libisulad

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNanoCPUsToPeriodQuotaBoundary(t *testing.T) {
	period, quota, err := nanoCPUsToPeriodQuota(1_000_000_000)
	require.NoError(t, err)
	assert.EqualValues(t, 100_000, period)
	assert.EqualValues(t, 100_000, quota)
}

func TestNanoCPUsToPeriodQuotaHalfCPU(t *testing.T) {
	period, quota, err := nanoCPUsToPeriodQuota(500_000_000)
	require.NoError(t, err)
	assert.EqualValues(t, 100_000, period)
	assert.EqualValues(t, 50_000, quota)
}

func TestNanoCPUsToPeriodQuotaMaxInt64DoesNotOverflow(t *testing.T) {
	// nano_cpus/1e9 tops out around 9.2e9 for any valid int64 nano_cpus,
	// well under the INT64_MAX/period threshold (~9.2e13), so the guard
	// never actually trips within the domain of a real nano_cpus value --
	// matching the runtime's own C implementation.
	period, quota, err := nanoCPUsToPeriodQuota(math.MaxInt64)
	require.NoError(t, err)
	assert.EqualValues(t, 100_000, period)
	assert.Greater(t, quota, int64(0))
}

func TestBuildResourcesDocumentAppliesNanoCPUsOverride(t *testing.T) {
	hc := HostConfig{
		NanoCPUs:    2_000_000_000,
		CPUPeriod:   50_000,
		CPUQuota:    10_000,
		Memory:      1 << 30,
		BlkioWeight: 500,
	}
	doc, err := BuildResourcesDocument(hc)
	require.NoError(t, err)
	require.NotNil(t, doc.CPU)
	assert.EqualValues(t, 100_000, doc.CPU.Period)
	assert.EqualValues(t, 200_000, doc.CPU.Quota)
	require.NotNil(t, doc.Memory)
	assert.EqualValues(t, 1<<30, doc.Memory.Limit)
	require.NotNil(t, doc.BlockIO)
	assert.EqualValues(t, 500, doc.BlockIO.Weight)
}

func TestBuildResourcesDocumentWithoutNanoCPUsKeepsExplicitPeriodQuota(t *testing.T) {
	hc := HostConfig{CPUPeriod: 50_000, CPUQuota: 10_000}
	doc, err := BuildResourcesDocument(hc)
	require.NoError(t, err)
	assert.EqualValues(t, 50_000, doc.CPU.Period)
	assert.EqualValues(t, 10_000, doc.CPU.Quota)
}

func TestBuildResourcesDocumentMaxInt64NanoCPUsDoesNotOverflow(t *testing.T) {
	hc := HostConfig{NanoCPUs: math.MaxInt64}
	doc, err := BuildResourcesDocument(hc)
	require.NoError(t, err)
	assert.EqualValues(t, 100_000, doc.CPU.Period)
}

func TestMarshalResourcesOmitsEmptyFields(t *testing.T) {
	doc, err := BuildResourcesDocument(HostConfig{})
	require.NoError(t, err)
	data, err := marshalResources(doc)
	require.NoError(t, err)
	assert.NotContains(t, string(data), `"shares"`)
	assert.Contains(t, string(data), `"cpu"`)
}
