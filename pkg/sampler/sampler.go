// Package sampler reads point-in-time resource usage for the current process.
package sampler

import (
	"math"
	"os"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v4/process"
)

const bytesPerMB = 1024 * 1024

// Sample is a single observation of process state. CPUSeconds is cumulative
// user+system CPU time; RSSMB is resident set size in mebibytes.
type Sample struct {
	Timestamp  time.Time
	CPUSeconds float64
	RSSMB      float64
}

var (
	procOnce sync.Once
	proc     *process.Process
)

func self() *process.Process {
	procOnce.Do(func() {
		// Error deliberately dropped: a nil handle makes Take degrade to
		// sentinel values instead of failing the instrumented call.
		proc, _ = process.NewProcess(int32(os.Getpid()))
	})
	return proc
}

// Take samples the current process. It never fails: when an OS query cannot
// be served, the affected fields hold NaN and the caller proceeds. Safe for
// concurrent use; the process handle is read-only after initialization.
func Take() Sample {
	s := Sample{
		Timestamp:  time.Now(),
		CPUSeconds: math.NaN(),
		RSSMB:      math.NaN(),
	}

	p := self()
	if p == nil {
		return s
	}

	if times, err := p.Times(); err == nil {
		s.CPUSeconds = times.User + times.System
	}
	if mem, err := p.MemoryInfo(); err == nil {
		s.RSSMB = float64(mem.RSS) / bytesPerMB
	}

	return s
}

// Delta returns after minus before for the numeric fields. A NaN on either
// side propagates so downstream consumers can tell "unknown" from zero.
func Delta(before, after Sample) (cpuSeconds, rssMB float64) {
	return after.CPUSeconds - before.CPUSeconds, after.RSSMB - before.RSSMB
}
