//go:build !windows

package source

import (
	"os"
	"syscall"
)

func defaultSignals() []os.Signal {
	return []os.Signal{os.Interrupt, syscall.SIGTERM}
}
