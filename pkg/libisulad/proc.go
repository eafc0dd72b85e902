package libisulad

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// clockTicksPerSecond is USER_HZ on essentially every Linux distribution
// this daemon targets. There is no portable syscall to query it from Go
// without cgo, so it is a constant here, matching the convention runc's
// own libcontainer/system package uses for the same value.
const clockTicksPerSecond = 100

// ProcessStartTime reads pid's start time from /proc/<pid>/stat, for use
// as the PID-reuse detection token start() captures and kill() later
// compares against.
func ProcessStartTime(pid int) (time.Time, error) {
	ticks, err := readStartTimeTicks(pid)
	if err != nil {
		return time.Time{}, err
	}
	boot, err := bootTime()
	if err != nil {
		return time.Time{}, err
	}
	return boot.Add(time.Duration(ticks) * time.Second / clockTicksPerSecond), nil
}

// readStartTimeTicks parses field 22 (starttime) of /proc/<pid>/stat. The
// comm field (field 2) is parenthesized and may itself contain spaces or
// closing parens, so fields are counted from the last ')' rather than by
// naive whitespace splitting.
func readStartTimeTicks(pid int) (uint64, error) {
	data, err := os.ReadFile(fmt.Sprintf("/proc/%d/stat", pid))
	if err != nil {
		return 0, err
	}
	line := string(data)
	close := strings.LastIndexByte(line, ')')
	if close < 0 {
		return 0, fmt.Errorf("malformed /proc/%d/stat", pid)
	}
	fields := strings.Fields(line[close+1:])
	// Fields after comm are numbered from 3; starttime is field 22, i.e.
	// index 22-3=19 in this remainder slice.
	const starttimeIndex = 22 - 3
	if len(fields) <= starttimeIndex {
		return 0, fmt.Errorf("malformed /proc/%d/stat: too few fields", pid)
	}
	return strconv.ParseUint(fields[starttimeIndex], 10, 64)
}

// bootTime reads /proc/stat's btime line, the reference point start-time
// ticks are relative to.
func bootTime() (time.Time, error) {
	data, err := os.ReadFile("/proc/stat")
	if err != nil {
		return time.Time{}, err
	}
	for _, line := range strings.Split(string(data), "\n") {
		if strings.HasPrefix(line, "btime ") {
			secs, err := strconv.ParseInt(strings.TrimSpace(strings.TrimPrefix(line, "btime ")), 10, 64)
			if err != nil {
				return time.Time{}, err
			}
			return time.Unix(secs, 0), nil
		}
	}
	return time.Time{}, fmt.Errorf("btime not found in /proc/stat")
}

// isProcessAlive reports whether pid still has a /proc entry whose start
// time matches (within a second) the one recorded at start, guarding
// against PID reuse. It sends no signal.
func isProcessAlive(pid int, startTime time.Time) bool {
	if pid <= 0 {
		return false
	}
	current, err := ProcessStartTime(pid)
	if err != nil {
		return false
	}
	diff := current.Sub(startTime)
	if diff < 0 {
		diff = -diff
	}
	return diff < time.Second
}
