package supervisor

import (
	"context"
	"syscall"
	"time"
)

// gracePeriod is how long Shutdown waits for live processes to exit
// after signaling them, before force-killing the remainder.
const gracePeriod = 30 * time.Second
const progressInterval = 5 * time.Second

// Shutdown sends a termination signal to every live process, then waits
// up to gracePeriod (logging progress every progressInterval) before
// force-killing stragglers. If force fires before the grace period
// elapses (a second termination signal observed by the caller), it
// force-kills immediately instead of waiting out the grace period.
func (s *Supervisor) Shutdown(ctx context.Context, force <-chan struct{}) {
	s.mu.Lock()
	procs := make([]*Process, 0, len(s.processes))
	for _, p := range s.processes {
		procs = append(procs, p)
	}
	s.mu.Unlock()

	for _, p := range procs {
		if p.cmd.Process != nil {
			_ = p.cmd.Process.Signal(syscall.SIGTERM)
		}
	}

	deadline := time.Now().Add(gracePeriod)
	ticker := time.NewTicker(progressInterval)
	defer ticker.Stop()

	for {
		if s.allExited(procs) {
			return
		}
		select {
		case <-force:
			s.killAll(procs)
			return
		case <-ctx.Done():
			s.killAll(procs)
			return
		case <-ticker.C:
			remaining := s.countRunning(procs)
			if remaining == 0 {
				return
			}
			s.logger.Info("waiting for agent processes to exit", "remaining", remaining)
			if time.Now().After(deadline) {
				s.killAll(procs)
				return
			}
		}
	}
}

func (s *Supervisor) allExited(procs []*Process) bool {
	return s.countRunning(procs) == 0
}

func (s *Supervisor) countRunning(procs []*Process) int {
	n := 0
	for _, p := range procs {
		select {
		case <-p.done:
		default:
			n++
		}
	}
	return n
}

func (s *Supervisor) killAll(procs []*Process) {
	for _, p := range procs {
		select {
		case <-p.done:
			continue
		default:
		}
		if p.cmd.Process != nil {
			_ = p.cmd.Process.Kill()
		}
	}
}
