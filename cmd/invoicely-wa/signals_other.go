//go:build !unix

package main

import "os"

// shutdownSignals is Interrupt only where SIGTERM is unavailable (e.g. Windows).
func shutdownSignals() []os.Signal {
	return []os.Signal{os.Interrupt}
}
