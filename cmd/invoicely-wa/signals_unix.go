//go:build unix

package main

import (
	"os"
	"syscall"
)

// shutdownSignals includes SIGTERM as sent by Docker and process managers.
func shutdownSignals() []os.Signal {
	return []os.Signal{os.Interrupt, syscall.SIGTERM}
}
