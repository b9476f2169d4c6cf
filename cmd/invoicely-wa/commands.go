package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"invoicely/internal/cli"
	"invoicely/internal/config"
	"invoicely/internal/session"
)

// clientTimeout bounds each client command's HTTP call.
const clientTimeout = 15 * time.Second

// newAPIClient resolves the server URL and token from flags, the .env file and the config.
// A missing config file is fine; defaults and INVOICELY_* variables apply.
var newAPIClient = func(g *globalFlags) (*cli.Client, error) {
	if err := config.LoadDotEnv(g.envFile); err != nil {
		return nil, err
	}
	cfg, _, err := config.LoadOrDefault(g.configPath)
	if err != nil {
		return nil, err
	}
	addr := g.addr
	if addr == "" {
		addr = "http://127.0.0.1:" + strconv.Itoa(cfg.Gateway.Port)
	}
	return cli.NewClient(addr, cfg.Gateway.Auth.AuthToken), nil
}

func withClient(g *globalFlags, fn func(ctx context.Context, c *cli.Client, cmd *cobra.Command) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		c, err := newAPIClient(g)
		if err != nil {
			return err
		}
		ctx, cancel := context.WithTimeout(cmd.Context(), clientTimeout)
		defer cancel()
		return fn(ctx, c, cmd)
	}
}

func newStatusCommand(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the WhatsApp session status of a running server",
		Args:  cobra.NoArgs,
		RunE: withClient(g, func(ctx context.Context, c *cli.Client, cmd *cobra.Command) error {
			v, err := c.Status(ctx)
			if err != nil {
				return err
			}
			cli.RenderStatus(cmd.OutOrStdout(), v)
			return nil
		}),
	}
}

func newConnectCommand(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "connect",
		Short: "Start a WhatsApp client on a running server (pairing if needed)",
		Args:  cobra.NoArgs,
		RunE: withClient(g, func(ctx context.Context, c *cli.Client, cmd *cobra.Command) error {
			if err := c.Connect(ctx); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "initializing; run `invoicely-wa qr` to pair or `invoicely-wa status` to follow")
			return nil
		}),
	}
}

func newDisconnectCommand(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "disconnect",
		Short: "End the WhatsApp session on a running server",
		Args:  cobra.NoArgs,
		RunE: withClient(g, func(ctx context.Context, c *cli.Client, cmd *cobra.Command) error {
			msg, err := c.Disconnect(ctx)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), cli.Green("ok"), msg)
			return nil
		}),
	}
}

func newQRCommand(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "qr",
		Short: "Print the current pairing code as a terminal QR code",
		Args:  cobra.NoArgs,
		RunE: withClient(g, func(ctx context.Context, c *cli.Client, cmd *cobra.Command) error {
			q, err := c.QR(ctx)
			if err != nil {
				return err
			}
			if q.Code == nil {
				fmt.Fprintf(cmd.OutOrStdout(), "no pairing code (status %s)\n", q.Status)
				if q.Status != session.StatusConnected {
					return exitCodeErr(1)
				}
				return nil
			}
			cli.RenderQR(cmd.OutOrStdout(), *q.Code)
			fmt.Fprintln(cmd.OutOrStdout(), "Scan with WhatsApp > Linked devices > Link a device")
			return nil
		}),
	}
}

func newCheckCommand(g *globalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "check",
		Short: "Check config and paths",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := config.LoadDotEnv(g.envFile); err != nil {
				return err
			}
			fix, _ := cmd.Flags().GetBool("fix")
			code := cli.RunCheck(cli.CheckOptions{ConfigPath: g.configPath, Fix: fix}, cmd.OutOrStdout(), cmd.ErrOrStderr())
			if code != 0 {
				return exitCodeErr(code)
			}
			return nil
		},
	}
	cmd.Flags().Bool("fix", false, "write default config if missing and create the session directory")
	return cmd
}

func newConfigCommand(g *globalFlags) *cobra.Command {
	configCmd := &cobra.Command{Use: "config", Short: "Manage the config file"}
	initCmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default config file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			force, _ := cmd.Flags().GetBool("force")
			if _, err := os.Stat(g.configPath); err == nil && !force {
				return fmt.Errorf("%s already exists (use --force to overwrite)", g.configPath)
			} else if err != nil && !errors.Is(err, fs.ErrNotExist) {
				return err
			}
			if err := config.WriteDefault(g.configPath); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", g.configPath)
			return nil
		},
	}
	initCmd.Flags().Bool("force", false, "overwrite an existing file")
	configCmd.AddCommand(initCmd)
	return configCmd
}
