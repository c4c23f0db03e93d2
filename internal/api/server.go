package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/dasshubham762/atomberg-integration/internal/accounts"
	"github.com/dasshubham762/atomberg-integration/internal/coordinator"
	"github.com/dasshubham762/atomberg-integration/internal/device"
	"github.com/dasshubham762/atomberg-integration/internal/infrastructure/config"
	"github.com/dasshubham762/atomberg-integration/internal/infrastructure/logging"
	"github.com/dasshubham762/atomberg-integration/internal/settings"
)

// gracefulShutdownTimeout is the maximum time to wait for in-flight requests
// to complete during shutdown.
const gracefulShutdownTimeout = 10 * time.Second

// Fleet is the read and command surface of every coordinator.
// *coordinator.Manager implements it.
type Fleet interface {
	Statuses() []coordinator.Status
	Devices() []device.Device
	Device(deviceID string) (*device.Device, error)
	Execute(ctx context.Context, deviceID string, cmd device.Command) (coordinator.Route, error)
}

// AccountService lists, adds, changes and removes accounts.
// *accounts.Service implements it.
type AccountService interface {
	List(ctx context.Context) ([]settings.Account, error)
	Create(ctx context.Context, in accounts.NewAccount) (*settings.Account, error)
	Update(ctx context.Context, id string, u accounts.Update) (*settings.Account, error)
	Delete(ctx context.Context, id string) error
}

// HealthChecker is implemented by every infrastructure client.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// Deps holds the dependencies required by the API server.
type Deps struct {
	Config  config.APIConfig
	WS      config.WebSocketConfig
	Logger  *logging.Logger
	Fleet   Fleet
	Version string

	// Optional.
	Accounts AccountService
	History  device.StateHistoryRepository
	Checks   map[string]HealthChecker

	// Notifications feeds the websocket hub. Nil disables live events.
	Notifications <-chan coordinator.Notification
}

// Server is the HTTP API server.
type Server struct {
	cfg      config.APIConfig
	wsCfg    config.WebSocketConfig
	logger   *logging.Logger
	fleet    Fleet
	accounts AccountService
	history  device.StateHistoryRepository
	checks   map[string]HealthChecker
	version  string

	notifications <-chan coordinator.Notification

	server   *http.Server
	listener net.Listener
	hub      *Hub
	cancel   context.CancelFunc
	done     chan struct{}
}

// New creates a new API server with the given dependencies.
// The server is not started until Start() is called.
func New(deps Deps) (*Server, error) {
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if deps.Fleet == nil {
		return nil, fmt.Errorf("fleet is required")
	}

	return &Server{
		cfg:           deps.Config,
		wsCfg:         deps.WS,
		logger:        deps.Logger,
		fleet:         deps.Fleet,
		accounts:      deps.Accounts,
		history:       deps.History,
		checks:        deps.Checks,
		version:       deps.Version,
		notifications: deps.Notifications,
		hub:           NewHub(deps.WS, deps.Logger, deps.Fleet),
	}, nil
}

// Start binds the listener and serves in the background.
func (s *Server) Start(ctx context.Context) error {
	var srvCtx context.Context
	srvCtx, s.cancel = context.WithCancel(ctx)

	ln, err := net.Listen("tcp", fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port))
	if err != nil {
		s.cancel()
		return fmt.Errorf("binding API listener: %w", err)
	}
	s.listener = ln

	go s.hub.Run(srvCtx)
	if s.notifications != nil {
		go s.forwardNotifications(srvCtx)
	}

	s.server = &http.Server{
		Handler:           s.buildRouter(),
		ReadTimeout:       time.Duration(s.cfg.Timeouts.Read) * time.Second,
		ReadHeaderTimeout: time.Duration(s.cfg.Timeouts.Read) * time.Second,
		WriteTimeout:      time.Duration(s.cfg.Timeouts.Write) * time.Second,
		IdleTimeout:       time.Duration(s.cfg.Timeouts.Idle) * time.Second,
	}

	s.done = make(chan struct{})
	go func() {
		defer close(s.done)
		s.logger.Info("API server listening", "address", ln.Addr().String())
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("API server error", "error", err)
		}
	}()

	return nil
}

// Addr returns the bound address, or nil before Start.
func (s *Server) Addr() net.Addr {
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// forwardNotifications pushes coordinator notifications to websocket clients.
func (s *Server) forwardNotifications(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case n, ok := <-s.notifications:
			if !ok {
				return
			}
			s.hub.Publish(n)
		}
	}
}

// Close gracefully shuts down the API server.
func (s *Server) Close() error {
	if s.server == nil {
		return nil
	}
	if s.cancel != nil {
		s.cancel()
	}

	ctx, cancel := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
	defer cancel()

	s.logger.Info("API server shutting down")
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutting down API server: %w", err)
	}
	<-s.done
	return nil
}

// HealthCheck reports whether the server is serving.
func (s *Server) HealthCheck(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("api health check: %w", ctx.Err())
	default:
	}
	if s.server == nil {
		return fmt.Errorf("api server not started")
	}
	return nil
}
