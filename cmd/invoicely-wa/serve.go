package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os/signal"
	"time"

	"github.com/spf13/cobra"

	"invoicely/internal/cli"
	"invoicely/internal/config"
	"invoicely/internal/db"
	"invoicely/internal/domain"
	"invoicely/internal/gateway"
	"invoicely/internal/logging"
	"invoicely/internal/metrics"
	"invoicely/internal/mirror"
	"invoicely/internal/retry"
	"invoicely/internal/session"
	"invoicely/internal/watchdog"
	"invoicely/internal/whatsapp"
)

// serveContext returns the context that ends serve; tests replace it to stop without signals.
var serveContext = func(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, shutdownSignals()...)
}

// openDeviceStore opens the whatsmeow device database; tests may replace it.
var openDeviceStore = whatsapp.OpenDeviceStore

// openMirror opens the configured mirror backend; tests may replace it.
var openMirror = openMirrorStore

// mirrorRetry controls how long startup waits for a remote mirror backend.
var mirrorRetry = retry.DefaultConfig()

// serveStarted is called with the running server once it has bound. Production leaves it nil.
var serveStarted func(*gateway.Server, *session.Controller)

// bindWait bounds how long serve waits for the listener before reporting.
var bindWait = time.Second

func newServeCommand(bm buildMeta, g *globalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP gateway and WhatsApp session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			allowRoot, _ := cmd.Flags().GetBool("allow-root")
			if err := requireNonRoot(allowRoot); err != nil {
				return err
			}
			ctx, stop := serveContext(cmd.Context())
			defer stop()
			return runServe(ctx, bm, g, cmd.OutOrStdout(), cmd.ErrOrStderr())
		},
	}
	cmd.Flags().Bool("allow-root", false, "run even when the effective user is root")
	return cmd
}

// runServe wires the service and blocks until ctx ends or the listener fails.
func runServe(ctx context.Context, bm buildMeta, g *globalFlags, stdout, logOut io.Writer) error {
	if err := config.LoadDotEnv(g.envFile); err != nil {
		return err
	}
	cfg, found, err := config.LoadOrDefault(g.configPath)
	if err != nil {
		return err
	}
	logger, level, err := logging.New(cfg.Infra, logOut)
	if err != nil {
		return err
	}
	slog.SetDefault(logger)
	logger.Info("starting", "version", bm.String(), "config", g.configPath, "config_found", found)

	m := metrics.New()

	store, closeMirror, err := openMirror(ctx, cfg.Mirror, logger)
	if err != nil {
		return err
	}
	defer closeMirror()

	devices, err := openDeviceStore(ctx, cfg.WhatsApp.SessionDB, logger)
	if err != nil {
		return err
	}
	defer devices.Close()

	ctrl := session.NewController(
		session.WithLogger(logger),
		session.WithFactory(devices.Factory()),
		session.WithMirror(store),
		session.WithMirrorTimeout(time.Duration(cfg.Mirror.Timeout)*time.Millisecond),
		session.WithMirrorFallback(cfg.Mirror.FallbackOnBoot),
		session.WithRecorder(m),
	)
	// Release the client on exit but keep the mirror record for the next boot.
	defer ctrl.Disconnected()

	if cfg.WhatsApp.PrintQR {
		stopQR := printPairingCodes(ctrl, stdout)
		defer stopQR()
	}

	if cfg.WhatsApp.PairingTimeout > 0 {
		wd, err := watchdog.New(
			watchdog.NewRobfigCronEngine(),
			ctrl,
			time.Duration(cfg.WhatsApp.PairingTimeout)*time.Second,
			time.Duration(cfg.WhatsApp.WatchdogInterval)*time.Second,
			watchdog.WithLogger(logger),
			watchdog.WithOnExpire(m.PairingExpired),
		)
		if err != nil {
			return err
		}
		if err := wd.Start(); err != nil {
			return err
		}
		defer wd.Stop()
	}

	if found {
		w := config.NewWatcher(g.configPath, logger)
		if err := w.Start(func(c *domain.Config) { applyLogLevel(level, c.Infra.LogLevel, logger) }); err != nil {
			logger.Warn("config: live reload unavailable", "error", err)
		} else {
			defer w.Stop()
		}
	}

	srv, err := gateway.NewServer(&cfg.Gateway, ctrl,
		gateway.WithLogger(logger),
		gateway.WithMetrics(m.Handler()),
		gateway.WithInstrumenter(m.Instrument),
	)
	if err != nil {
		return err
	}
	shutdown := make(chan struct{})
	runErr := make(chan error, 1)
	go func() { runErr <- srv.Run(shutdown) }()

	if !waitBound(srv) {
		if err := srv.ListenErr(); err != nil {
			return fmt.Errorf("gateway: listen: %w", err)
		}
	}
	if serveStarted != nil {
		serveStarted(srv, ctrl)
	}

	if cfg.WhatsApp.ConnectOnStart {
		connectOnStart(ctx, ctrl, devices, logger)
	}

	select {
	case <-ctx.Done():
		logger.Info("shutting down")
		close(shutdown)
		return <-runErr
	case err := <-runErr:
		return err
	}
}

// waitBound polls until srv has an address or bindWait passes.
func waitBound(srv *gateway.Server) bool {
	deadline := time.Now().Add(bindWait)
	for time.Now().Before(deadline) {
		if srv.Addr() != "" {
			return true
		}
		if srv.ListenErr() != nil {
			return false
		}
		time.Sleep(10 * time.Millisecond)
	}
	return srv.Addr() != ""
}

// sessionChecker reports whether a paired device is stored.
type sessionChecker interface {
	HasSession(ctx context.Context) (bool, error)
}

// connectOnStart resumes a stored session. Without one it does nothing:
// pairing waits for an explicit /connect.
func connectOnStart(ctx context.Context, ctrl *session.Controller, devices sessionChecker, logger *slog.Logger) {
	ok, err := devices.HasSession(ctx)
	if err != nil {
		logger.Warn("whatsapp: cannot read device store", "error", err)
		return
	}
	if !ok {
		logger.Info("whatsapp: no paired device; waiting for /connect")
		return
	}
	done, err := ctrl.Connect(ctx)
	if err != nil {
		logger.Error("whatsapp: connect on start failed", "error", err)
		return
	}
	go func() {
		if err := <-done; err != nil {
			logger.Error("whatsapp: initialization failed", "error", err)
		}
	}()
}

func applyLogLevel(level *slog.LevelVar, s string, logger *slog.Logger) {
	l, err := logging.ParseLevel(s)
	if err != nil {
		logger.Warn("config: ignoring log level", "error", err)
		return
	}
	if l != level.Level() {
		level.Set(l)
		logger.Info("config: log level changed", "level", l.String())
	}
}

// printPairingCodes renders every new pairing code as a terminal QR code
// until the returned stop func is called.
func printPairingCodes(ctrl *session.Controller, w io.Writer) func() {
	views, cancel := ctrl.Watch()
	done := make(chan struct{})
	go func() {
		defer close(done)
		var last string
		for v := range views {
			if v.Status != session.StatusQR {
				last = ""
				continue
			}
			code := ctrl.PairingCode()
			if code == "" || code == last {
				continue
			}
			last = code
			fmt.Fprintln(w, "Scan with WhatsApp > Linked devices > Link a device:")
			cli.RenderQR(w, code)
		}
	}()
	return func() {
		cancel()
		<-done
	}
}

// openMirrorStore opens the mirror backend, retrying transient failures of a
// remote database or PostgREST endpoint. The returned func releases it.
func openMirrorStore(ctx context.Context, cfg domain.MirrorConfig, logger *slog.Logger) (mirror.Store, func() error, error) {
	switch cfg.Driver {
	case domain.MirrorDriverSupabase:
		s, err := mirror.NewSupabaseStore(mirror.SupabaseConfig{
			ProjectURL: cfg.SupabaseURL,
			APIKey:     cfg.SupabaseKey,
			Table:      cfg.Table,
		})
		if err != nil {
			return nil, nil, err
		}
		err = retry.Do(ctx, mirrorRetry, func(ctx context.Context) error {
			_, err := s.Get(ctx, mirror.NumberKey)
			if errors.Is(err, mirror.ErrNotFound) {
				return nil
			}
			return err
		})
		if err != nil {
			return nil, nil, fmt.Errorf("mirror: supabase probe: %w", err)
		}
		logger.Info("mirror: supabase ready", "table", cfg.Table)
		return s, func() error { return nil }, nil
	default:
		var conn *sql.DB
		var s *mirror.SQLStore
		err := retry.Do(ctx, mirrorRetry, func(ctx context.Context) error {
			c, err := db.Connect(ctx, cfg.URL)
			if err != nil {
				return err
			}
			st, err := mirror.NewSQLStore(c, cfg.Table)
			if err != nil {
				c.Close()
				return err
			}
			if err := st.Migrate(ctx); err != nil {
				c.Close()
				return err
			}
			conn, s = c, st
			return nil
		})
		if err != nil {
			return nil, nil, fmt.Errorf("mirror: open: %w", err)
		}
		logger.Info("mirror: sql ready", "table", cfg.Table)
		return s, conn.Close, nil
	}
}
