package cli

import (
	"net/http"
	"os"

	"invoicely/internal/config"
)

// Function variables for dependency injection in tests.
// Default values are the real implementations; tests may temporarily swap them.
var (
	osStat             = os.Stat
	osMkdirAll         = os.MkdirAll
	configLoad         = config.Load
	configWriteDefault = config.WriteDefault
	defaultHTTPClient  = &http.Client{}
)
