//go:build windows

package source

import "os"

func defaultSignals() []os.Signal {
	return []os.Signal{os.Interrupt}
}
