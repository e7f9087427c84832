//go:build !unix

// SPDX-License-Identifier: Apache-2.0

package signals

import "os"

func CatchableSignals() []os.Signal {
	return []os.Signal{os.Interrupt}
}

func ServiceFallbacks() map[os.Signal]Fallback {
	return map[os.Signal]Fallback{os.Interrupt: FallbackShutdown}
}

func isUncatchable(sig os.Signal) bool {
	return sig == os.Kill
}

func reraise(os.Signal) error {
	os.Exit(1)
	return nil
}
