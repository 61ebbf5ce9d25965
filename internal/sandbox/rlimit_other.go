//go:build !linux

package sandbox

// applyCPULimit is a no-op off Linux; the wall-clock timeout is the
// only runtime bound there.
func (s *Sandbox) applyCPULimit(pid int) {
	if s.cfg.CPUTimeLimit > 0 {
		s.logger.Debug("cpu time limit unsupported on this platform",
			"plugin", s.plugin,
			"pid", pid)
	}
}
