// Package gateway serves the session status and control endpoints.
package gateway

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"invoicely/internal/domain"
	"invoicely/internal/session"
)

// ErrInvalidPort is returned when gateway port is not in 0..65535.
var ErrInvalidPort = errors.New("gateway port must be 0-65535")

// ErrNoController is returned by NewServer without a session controller.
var ErrNoController = errors.New("gateway: session controller is required")

// Controller is the session surface the endpoints use; *session.Controller implements it.
type Controller interface {
	Status(ctx context.Context) session.View
	PairingCode() string
	Connect(ctx context.Context) (<-chan error, error)
	Disconnect(ctx context.Context) error
	Deliver(ctx context.Context, d session.Delivery) error
	Watch() (<-chan session.View, func())
}

// Instrumenter wraps the handler serving route, e.g. to record request metrics.
type Instrumenter func(route string, next http.Handler) http.Handler

// Option configures a Server.
type Option func(*Server)

// WithLogger sets a structured logger. If l is nil the default slog logger is used.
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithMetrics mounts h at /metrics, outside bearer auth.
func WithMetrics(h http.Handler) Option {
	return func(s *Server) { s.metrics = h }
}

// WithInstrumenter wraps every route handler with fn.
func WithInstrumenter(fn Instrumenter) Option {
	return func(s *Server) { s.instrument = fn }
}

// Server is an HTTP server exposing the session endpoints behind optional Bearer token auth.
type Server struct {
	cfg        *domain.GatewayConfig
	ctrl       Controller
	logger     *slog.Logger
	metrics    http.Handler
	instrument Instrumenter

	server      *http.Server
	addr        string
	addrMu      sync.RWMutex
	listenErr   error
	listenErrMu sync.Mutex
	listener    net.Listener
}

// NewServer builds a gateway server from config. Port 0 means pick a random port.
// Returns ErrInvalidPort if port is not in 0..65535.
func NewServer(cfg *domain.GatewayConfig, ctrl Controller, opts ...Option) (*Server, error) {
	if cfg == nil {
		cfg = &domain.GatewayConfig{Port: 8080, Auth: domain.AuthConfig{}}
	}
	if cfg.Port < 0 || cfg.Port > 65535 {
		return nil, ErrInvalidPort
	}
	if ctrl == nil {
		return nil, ErrNoController
	}
	s := &Server{cfg: cfg, ctrl: ctrl}
	for _, opt := range opts {
		opt(s)
	}
	s.server = &http.Server{
		Handler:           s.routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s, nil
}

func (s *Server) log() *slog.Logger {
	if s.logger != nil {
		return s.logger
	}
	return slog.Default()
}

// routes builds the handler tree: public probes, then the authenticated API,
// all behind request IDs and access logging.
func (s *Server) routes() http.Handler {
	api := http.NewServeMux()
	s.handle(api, "GET /status", s.handleStatus)
	s.handle(api, "POST /disconnect", s.handleDisconnect)
	s.handle(api, "POST /connect", s.handleConnect)
	s.handle(api, "GET /qr", s.handleQR)
	s.handle(api, "POST /send", s.handleSend)
	s.handle(api, "GET /ws/status", s.handleStatusWS)

	root := http.NewServeMux()
	s.handle(root, "GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})
	if s.metrics != nil {
		root.Handle("GET /metrics", s.metrics)
	}
	root.Handle("/", BearerAuth(s.cfg.Auth.AuthToken)(api))

	return RequestID(AccessLog(s.log())(root))
}

func (s *Server) handle(mux *http.ServeMux, pattern string, fn http.HandlerFunc) {
	var h http.Handler = fn
	if s.instrument != nil {
		h = s.instrument(pattern, h)
	}
	mux.Handle(pattern, h)
}

// Addr returns the bound address (e.g. "127.0.0.1:8080") after Run has started. Empty before Run.
func (s *Server) Addr() string {
	s.addrMu.RLock()
	defer s.addrMu.RUnlock()
	return s.addr
}

// ListenErr returns the error from the initial Listen in Run(), if any.
func (s *Server) ListenErr() error {
	s.listenErrMu.Lock()
	defer s.listenErrMu.Unlock()
	return s.listenErr
}

// Handler returns the full HTTP handler. For testing without binding.
func (s *Server) Handler() http.Handler {
	return s.server.Handler
}

// netListen is the function used to listen; tests may replace it to force Listen errors.
var netListen = func(network, address string) (net.Listener, error) {
	return net.Listen(network, address)
}

// Run listens on the configured port and serves until shutdown is closed. Returns nil when shutdown.
func (s *Server) Run(shutdown <-chan struct{}) error {
	addr := ":" + strconv.Itoa(s.cfg.Port)
	ln, err := netListen("tcp", addr)
	if err != nil {
		s.listenErrMu.Lock()
		s.listenErr = err
		s.listenErrMu.Unlock()
		return err
	}
	s.addrMu.Lock()
	s.listener = ln
	s.addr = ln.Addr().String()
	s.addrMu.Unlock()
	s.log().Info("gateway: listening", "addr", s.addr)

	done := make(chan error, 1)
	go func() {
		done <- s.server.Serve(ln)
	}()

	<-shutdown
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err = serverShutdown(s.server, ctx)
	if err != nil {
		return err
	}
	<-done
	return nil
}

// serverShutdown is the function used to shut down the server; tests may replace it.
var serverShutdown = func(srv *http.Server, ctx context.Context) error {
	return srv.Shutdown(ctx)
}
