//go:build windows

package supervisor

import "syscall"

// Windows has no signal-0 probe; os.Process.Signal only supports Kill
// there. IsAlive falls back to whether the process handle still opens.
func syscallSignal0() syscall.Signal {
	return syscall.Signal(0)
}
