package fetcher

import (
	"os"
	"time"

	"github.com/shirou/gopsutil/v4/process"

	"checkengine/internal/model"
)

// CPUTracker measures wall clock and process CPU time around a fetch.
type CPUTracker struct {
	proc *process.Process
	now  func() time.Time
}

// NewCPUTracker creates a tracker for the current process. CPU times stay zero
// where the platform does not provide them.
func NewCPUTracker() *CPUTracker {
	proc, err := process.NewProcess(int32(os.Getpid())) //nolint:gosec // pid fits int32
	if err != nil {
		proc = nil
	}
	return &CPUTracker{proc: proc, now: time.Now}
}

type mark struct {
	wall   time.Time
	user   float64
	system float64
}

func (t *CPUTracker) mark() mark {
	m := mark{wall: t.now()}
	if t.proc == nil {
		return m
	}
	if times, err := t.proc.Times(); err == nil {
		m.user, m.system = times.User, times.System
	}
	return m
}

// Track runs fn and returns the time it took.
func (t *CPUTracker) Track(fn func()) model.Snapshot {
	start := t.mark()
	fn()
	end := t.mark()
	return model.Snapshot{
		Wall:   end.wall.Sub(start.wall),
		User:   seconds(end.user - start.user),
		System: seconds(end.system - start.system),
	}
}

func seconds(s float64) time.Duration {
	if s < 0 {
		return 0
	}
	return time.Duration(s * float64(time.Second))
}
