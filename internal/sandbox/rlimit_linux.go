//go:build linux

package sandbox

import (
	"math"

	"golang.org/x/sys/unix"
)

// applyCPULimit puts RLIMIT_CPU on a started child. prlimit targets a
// live pid, so this runs between Start and Wait. Past the soft limit
// the kernel sends SIGXCPU; one second later the hard limit kills.
func (s *Sandbox) applyCPULimit(pid int) {
	if s.cfg.CPUTimeLimit <= 0 {
		return
	}

	secs := uint64(math.Ceil(s.cfg.CPUTimeLimit.Seconds()))
	if secs == 0 {
		secs = 1
	}
	lim := unix.Rlimit{Cur: secs, Max: secs + 1}
	if err := unix.Prlimit(pid, unix.RLIMIT_CPU, &lim, nil); err != nil {
		// The child may already be gone; the wall clock still bounds it.
		s.logger.Warn("cannot apply cpu time limit",
			"plugin", s.plugin,
			"pid", pid,
			"error", err)
		return
	}
	s.logger.Debug("applied cpu time limit",
		"plugin", s.plugin,
		"pid", pid,
		"cpu_seconds", secs)
}
