package main

import (
	"errors"
	"fmt"
	"os"
	"runtime"
	"strings"

	"github.com/spf13/cobra"
)

// buildMeta holds version and build metadata (injectable via ldflags).
type buildMeta struct {
	Version string
	GoOS    string
	GoArch  string
}

func newBuildMeta(version, goos, goarch string) buildMeta {
	if goos == "" {
		goos = runtime.GOOS
	}
	if goarch == "" {
		goarch = runtime.GOARCH
	}
	return buildMeta{Version: version, GoOS: goos, GoArch: goarch}
}

func (m buildMeta) String() string {
	return fmt.Sprintf("invoicely-wa %s %s/%s", m.Version, m.GoOS, m.GoArch)
}

// globalFlags are shared by every subcommand.
type globalFlags struct {
	configPath string
	envFile    string
	addr       string
}

func defaultConfigPath() string {
	if p := os.Getenv("INVOICELY_CONFIG"); p != "" {
		return p
	}
	return "invoicely.json"
}

func newRootCommand(bm buildMeta) *cobra.Command {
	g := &globalFlags{}
	root := &cobra.Command{
		Use:           "invoicely-wa",
		Short:         "WhatsApp session service for invoicely",
		Long:          "invoicely-wa pairs a WhatsApp account, reports its session status and delivers invoices through it.",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if showVersion, _ := cmd.Flags().GetBool("version"); showVersion {
				fmt.Fprintln(cmd.OutOrStdout(), bm.String())
				return nil
			}
			return cmd.Help()
		},
	}
	root.Flags().BoolP("version", "V", false, "print version and build metadata")
	root.PersistentFlags().StringVarP(&g.configPath, "config", "c", defaultConfigPath(), "config file (JSON or YAML)")
	root.PersistentFlags().StringVar(&g.envFile, "env-file", ".env", "dotenv file loaded before the config")
	root.PersistentFlags().StringVar(&g.addr, "addr", "", "server URL for client commands (default http://127.0.0.1:<gateway.port>)")

	root.AddCommand(newServeCommand(bm, g))
	root.AddCommand(newStatusCommand(g), newConnectCommand(g), newDisconnectCommand(g), newQRCommand(g))
	root.AddCommand(newCheckCommand(g), newConfigCommand(g))
	return root
}

func getVersion() string {
	if version != "" {
		return version
	}
	b, err := os.ReadFile("VERSION")
	if err != nil {
		return "dev"
	}
	return strings.TrimSpace(string(b))
}

// version is set at build time via ldflags, e.g.:
//
//	go build -ldflags "-X main.version=1.2.0" -o invoicely-wa ./cmd/invoicely-wa
var version string

// exitCodeErr carries an exit code for the process. When returned from a command, runApp exits with that code.
type exitCodeErr int

func (e exitCodeErr) Error() string { return fmt.Sprintf("exit %d", int(e)) }
func (e exitCodeErr) ExitCode() int { return int(e) }

// stderr is where runApp reports errors; tests may replace it.
var stderr interface{ Write([]byte) (int, error) } = os.Stderr

// runApp runs the root command with the given args and returns the exit code (0, 1, or 2).
func runApp(args []string) int {
	bm := newBuildMeta(version, "", "")
	if bm.Version == "" {
		bm.Version = getVersion()
	}
	root := newRootCommand(bm)
	root.SetArgs(args[1:])
	if err := root.Execute(); err != nil {
		if errors.Is(err, errRunningAsRoot) {
			fmt.Fprintln(stderr, err)
			return 2
		}
		var ec interface{ ExitCode() int }
		if errors.As(err, &ec) {
			return ec.ExitCode()
		}
		fmt.Fprintln(stderr, err)
		return 1
	}
	return 0
}
