package main

import (
	"errors"
	"os"
)

// errRunningAsRoot is returned by serve when the effective user ID is 0.
var errRunningAsRoot = errors.New("refusing to run as root: run as a non-root user or pass --allow-root")

// geteuid returns the effective user ID (-1 on Windows); tests may replace it.
var geteuid = os.Geteuid

func requireNonRoot(allow bool) error {
	if allow {
		return nil
	}
	if geteuid() == 0 {
		return errRunningAsRoot
	}
	return nil
}
