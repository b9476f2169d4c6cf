package cli

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"path/filepath"

	"invoicely/internal/domain"
)

// CheckOptions holds options for the check command.
type CheckOptions struct {
	ConfigPath string
	Fix        bool // write a default config when missing and create the session db directory
}

// RunCheck inspects the config file and the paths the server needs, printing
// one note per finding. Returns 0 when the server could start, 1 otherwise.
func RunCheck(opts CheckOptions, stdout, stderr io.Writer) int {
	note := func(section, message string) {
		fmt.Fprintf(stdout, "  %s %s\n", Cyan("["+section+"]"), message)
	}
	warn := func(section, message string) {
		fmt.Fprintf(stdout, "  %s %s %s\n", Cyan("["+section+"]"), Yellow("!"), message)
	}

	cfg, err := configLoad(opts.ConfigPath)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		warn("Config", fmt.Sprintf("No config at %s; defaults and INVOICELY_* variables apply.", opts.ConfigPath))
		if !opts.Fix {
			note("Config", "Run with --fix to write a default config.")
			fmt.Fprintln(stdout, "  Check complete.")
			return 0
		}
		if err := configWriteDefault(opts.ConfigPath); err != nil {
			fmt.Fprintf(stderr, "  %s failed to write default config: %v\n", Red("x"), err)
			return 1
		}
		note("Config", fmt.Sprintf("Wrote default config to %s.", opts.ConfigPath))
		if cfg, err = configLoad(opts.ConfigPath); err != nil {
			fmt.Fprintf(stderr, "  %s %v\n", Red("x"), err)
			return 1
		}
	case err != nil:
		fmt.Fprintf(stderr, "  %s %v\n", Red("x"), err)
		return 1
	default:
		note("Config", fmt.Sprintf("Loaded %s.", opts.ConfigPath))
	}

	note("Gateway", fmt.Sprintf("port=%d", cfg.Gateway.Port))
	if cfg.Gateway.Auth.AuthToken == "" {
		warn("Gateway", "No auth token; every endpoint is public. Set gateway.auth.authToken for production.")
	}

	ok := true
	if err := checkSessionDir(cfg.WhatsApp.SessionDB, opts.Fix); err != nil {
		fmt.Fprintf(stderr, "  %s %v\n", Red("x"), err)
		ok = false
	} else {
		note("Session", fmt.Sprintf("device store %s ok.", cfg.WhatsApp.SessionDB))
	}
	if cfg.WhatsApp.PairingTimeout == 0 {
		note("Session", "Pairing watchdog disabled.")
	} else {
		note("Session", fmt.Sprintf("Pairing abandoned after %ds.", cfg.WhatsApp.PairingTimeout))
	}

	switch cfg.Mirror.Driver {
	case domain.MirrorDriverSupabase:
		note("Mirror", fmt.Sprintf("supabase %s table=%s", cfg.Mirror.SupabaseURL, cfg.Mirror.Table))
	default:
		note("Mirror", fmt.Sprintf("sql %s table=%s", cfg.Mirror.URL, cfg.Mirror.Table))
	}

	if !ok {
		return 1
	}
	fmt.Fprintln(stdout, "  Check complete.")
	return 0
}

// checkSessionDir verifies the directory that will hold the device database.
func checkSessionDir(dbPath string, fix bool) error {
	dir, err := filepath.Abs(filepath.Dir(dbPath))
	if err != nil {
		return fmt.Errorf("whatsapp.sessionDb: %w", err)
	}
	info, err := osStat(dir)
	if errors.Is(err, fs.ErrNotExist) {
		if !fix {
			return fmt.Errorf("whatsapp.sessionDb: directory %q does not exist (run with --fix)", dir)
		}
		if err := osMkdirAll(dir, 0700); err != nil {
			return fmt.Errorf("whatsapp.sessionDb %q: mkdir failed: %w", dir, err)
		}
		return nil
	}
	if err != nil {
		return fmt.Errorf("whatsapp.sessionDb %q: %w", dir, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("whatsapp.sessionDb %q: not a directory", dir)
	}
	return nil
}
