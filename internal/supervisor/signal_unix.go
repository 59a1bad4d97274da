//go:build !windows

package supervisor

import "syscall"

func syscallSignal0() syscall.Signal {
	return syscall.Signal(0)
}
