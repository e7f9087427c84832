//go:build unix

// SPDX-License-Identifier: Apache-2.0

package signals

import (
	"os"
	"syscall"
)

// CatchableSignals lists the signals worth logging. SIGKILL and SIGSTOP
// cannot be caught, SIGINT is owned by the shutdown path, and the fault
// signals plus SIGURG and SIGCHLD belong to the Go runtime.
func CatchableSignals() []os.Signal {
	return []os.Signal{
		syscall.SIGHUP,
		syscall.SIGQUIT,
		syscall.SIGTERM,
		syscall.SIGUSR1,
		syscall.SIGUSR2,
		syscall.SIGPIPE,
		syscall.SIGALRM,
		syscall.SIGTSTP,
		syscall.SIGTTIN,
		syscall.SIGTTOU,
		syscall.SIGWINCH,
	}
}

// ServiceFallbacks is the disposition a long running process wants: stop on
// the termination signals and ignore the ones a terminal or supervisor sends
// in passing.
func ServiceFallbacks() map[os.Signal]Fallback {
	return map[os.Signal]Fallback{
		os.Interrupt:     FallbackShutdown,
		syscall.SIGTERM:  FallbackShutdown,
		syscall.SIGQUIT:  FallbackShutdown,
		syscall.SIGHUP:   FallbackIgnore,
		syscall.SIGPIPE:  FallbackIgnore,
		syscall.SIGWINCH: FallbackIgnore,
		syscall.SIGUSR1:  FallbackIgnore,
		syscall.SIGUSR2:  FallbackIgnore,
	}
}

func isUncatchable(sig os.Signal) bool {
	return sig == syscall.SIGKILL || sig == syscall.SIGSTOP
}

func reraise(sig os.Signal) error {
	s, ok := sig.(syscall.Signal)
	if !ok {
		return nil
	}
	return syscall.Kill(os.Getpid(), s)
}
