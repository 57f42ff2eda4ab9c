// Package server owns the bus process lifecycle: it binds the listener with
// port fallback, accepts websocket connections, runs each inbound frame
// through validation and routing, and samples throughput metrics.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"orchestra/internal/event"
	"orchestra/internal/logging"
	"orchestra/internal/message"
	"orchestra/internal/metrics"
	"orchestra/internal/persistence"
	"orchestra/internal/registry"
	"orchestra/internal/router"
	"orchestra/internal/validator"
)

const (
	DefaultPort            = 7777
	DefaultMaxPortAttempts = 10
	DefaultMaxFrameBytes   = 1 << 20
	DefaultMetricsInterval = 5 * time.Second
	DefaultReplayWindow    = 5 * time.Minute

	httpShutdownTimeout = 5 * time.Second
)

type State int32

const (
	StateStopped State = iota
	StateStarting
	StateRunning
	StateStopping
)

func (s State) String() string {
	switch s {
	case StateStarting:
		return "starting"
	case StateRunning:
		return "running"
	case StateStopping:
		return "stopping"
	default:
		return "stopped"
	}
}

// Router is what the server needs from the routing layer.
type Router interface {
	Route(ctx context.Context, envelope message.Envelope, exclude ...string) (router.Result, error)
	ReplayToClient(ctx context.Context, logicalID string, opts router.ReplayOptions) (int, error)
	HandleAcknowledgment(ack message.Envelope) bool
	SetDashboardCallback(fn router.DashboardCallback)
	PendingAcks() []router.PendingAck
}

// ListenFunc opens a listener. It matches net.Listen.
type ListenFunc func(network, address string) (net.Listener, error)

type Options struct {
	Host string
	// Port is the first port tried. Zero binds an ephemeral port.
	Port            int
	MaxPortAttempts int
	MaxFrameBytes   int
	AuthToken       string
	AllowedOrigins  []string
	// RateLimit is inbound frames per second per connection; zero disables
	// limiting.
	RateLimit float64
	RateBurst int

	MetricsInterval   time.Duration
	HeartbeatInterval time.Duration
	HeartbeatTimeout  time.Duration
	ReplayLimit       int
	ReplayWindow      time.Duration

	Store   persistence.Store
	Metrics metrics.Collector
	// MetricsHandler is served at /metrics when set.
	MetricsHandler http.Handler
	Events         event.Publisher[event.Event]
	Logger         *logging.Logger

	// Router replaces the default router built on the server registry.
	Router Router
	Listen ListenFunc
	Now    func() time.Time
}

// BindError is returned by Start when no port in the attempted range could
// be bound. It unwraps to the last listen error.
type BindError struct {
	Attempts  int
	FirstPort int
	LastPort  int
	Err       error
}

func (e *BindError) Error() string {
	return fmt.Sprintf("bind ports %d-%d failed after %d attempts: %v", e.FirstPort, e.LastPort, e.Attempts, e.Err)
}

func (e *BindError) Unwrap() error {
	return e.Err
}

type Server struct {
	opts      Options
	logger    *logging.Logger
	metrics   metrics.Collector
	registry  *registry.Registry
	router    Router
	validator *validator.Validator
	now       func() time.Time

	mu         sync.Mutex
	state      State
	port       int
	startedAt  time.Time
	httpServer *http.Server
	stopSample chan struct{}
	sampleDone chan struct{}

	connWG   sync.WaitGroup
	inbound  *throughput
	outbound *throughput
	peak     atomic.Int64
}

func New(opts Options) *Server {
	if opts.MaxPortAttempts <= 0 {
		opts.MaxPortAttempts = DefaultMaxPortAttempts
	}
	if opts.MaxFrameBytes <= 0 {
		opts.MaxFrameBytes = DefaultMaxFrameBytes
	}
	if opts.MetricsInterval <= 0 {
		opts.MetricsInterval = DefaultMetricsInterval
	}
	if opts.ReplayWindow <= 0 {
		opts.ReplayWindow = DefaultReplayWindow
	}
	if opts.Listen == nil {
		opts.Listen = net.Listen
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	s := &Server{
		opts:      opts,
		logger:    opts.Logger,
		metrics:   metrics.OrNop(opts.Metrics),
		validator: validator.New(opts.MaxFrameBytes),
		now:       opts.Now,
		inbound:   newThroughput(time.Second),
		outbound:  newThroughput(time.Second),
	}
	s.registry = registry.New(registry.Options{
		Logger:            opts.Logger,
		Now:               opts.Now,
		HeartbeatInterval: opts.HeartbeatInterval,
		HeartbeatTimeout:  opts.HeartbeatTimeout,
		OnReassign:        s.publishReassignment,
		OnEvict:           s.publishEviction,
	})
	s.router = opts.Router
	if s.router == nil {
		s.router = router.New(router.Options{
			Registry:           s.registry,
			Store:              opts.Store,
			Metrics:            opts.Metrics,
			Logger:             opts.Logger,
			Now:                opts.Now,
			DefaultReplayLimit: opts.ReplayLimit,
		})
	}
	s.router.SetDashboardCallback(s.mirrorToDashboard)
	return s
}

// Registry exposes the connection registry owned by the server.
func (s *Server) Registry() *registry.Registry {
	return s.registry
}

func (s *Server) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Port returns the bound port, or zero when not running.
func (s *Server) Port() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.port
}

// Start binds the listener and begins serving. Calling Start on a running
// server is a no-op. When the configured port is taken the next ports are
// tried up to MaxPortAttempts; exhausting them returns a *BindError and
// leaves the server stopped.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.state != StateStopped {
		state := s.state
		s.mu.Unlock()
		s.logger.Info("server already started", map[string]string{"state": state.String()})
		return nil
	}
	s.state = StateStarting
	s.mu.Unlock()

	listener, port, err := s.bind(ctx)
	if err != nil {
		s.setState(StateStopped)
		s.logger.Error("server failed to start", map[string]string{"error": err.Error()})
		return err
	}

	httpServer := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		if err := httpServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("http server stopped", map[string]string{"error": err.Error()})
		}
	}()

	s.registry.StartHeartbeat()
	stop, done := make(chan struct{}), make(chan struct{})
	go s.runSampler(stop, done)

	s.mu.Lock()
	s.httpServer = httpServer
	s.port = port
	s.startedAt = s.now()
	s.stopSample, s.sampleDone = stop, done
	s.state = StateRunning
	s.mu.Unlock()

	s.publish(event.NewServerEvent(event.TypeServerStarted, port))
	s.logger.Info("server listening", map[string]string{
		"address": listener.Addr().String(),
		"port":    strconv.Itoa(port),
	})
	return nil
}

func (s *Server) bind(ctx context.Context) (net.Listener, int, error) {
	attempts := s.opts.MaxPortAttempts
	if s.opts.Port == 0 {
		attempts = 1
	}
	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, 0, err
		}
		port := s.opts.Port + attempt
		listener, err := s.opts.Listen("tcp", net.JoinHostPort(s.opts.Host, strconv.Itoa(port)))
		if err == nil {
			bound := port
			if tcpAddr, ok := listener.Addr().(*net.TCPAddr); ok {
				bound = tcpAddr.Port
			}
			return listener, bound, nil
		}
		lastErr = err
		if attempt+1 < attempts {
			s.logger.Warn(fmt.Sprintf("port %d unavailable, retrying on %d", port, port+1), map[string]string{
				"port":      strconv.Itoa(port),
				"next_port": strconv.Itoa(port + 1),
				"error":     err.Error(),
			})
		}
	}
	return nil, 0, &BindError{
		Attempts:  attempts,
		FirstPort: s.opts.Port,
		LastPort:  s.opts.Port + attempts - 1,
		Err:       lastErr,
	}
}

// Stop halts the heartbeat sweep and sampler, closes every connection, and
// waits for in-flight frames to finish or ctx to expire. Stopping a server
// that is not running is a no-op.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	if s.state != StateRunning {
		state := s.state
		s.mu.Unlock()
		s.logger.Info("server not running", map[string]string{"state": state.String()})
		return nil
	}
	s.state = StateStopping
	httpServer := s.httpServer
	stop, done := s.stopSample, s.sampleDone
	port := s.port
	s.mu.Unlock()

	close(stop)
	<-done
	s.registry.StopHeartbeat()

	var stopErr error
	shutdownCtx, cancel := context.WithTimeout(ctx, httpShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		stopErr = fmt.Errorf("shutdown http server: %w", err)
	}
	s.registry.Dispose()

	drained := make(chan struct{})
	go func() {
		s.connWG.Wait()
		close(drained)
	}()
	select {
	case <-drained:
	case <-shutdownCtx.Done():
		s.logger.Warn("connections still draining at shutdown", nil)
	}

	s.mu.Lock()
	s.httpServer = nil
	s.port = 0
	s.state = StateStopped
	s.mu.Unlock()

	s.publish(event.NewServerEvent(event.TypeServerStopped, port))
	s.logger.Info("server stopped", map[string]string{"port": strconv.Itoa(port)})
	return stopErr
}

func (s *Server) setState(state State) {
	s.mu.Lock()
	s.state = state
	s.mu.Unlock()
}

func (s *Server) publish(evt event.Event) {
	if s.opts.Events != nil {
		s.opts.Events.Publish(evt)
	}
}

func (s *Server) publishReassignment(record registry.Reassignment) {
	s.publish(event.ReassignmentEvent{
		LogicalID:        record.LogicalID,
		PreviousClientID: record.PreviousClientID,
		NewClientID:      record.NewClientID,
		OccurredAt:       record.Timestamp,
	})
}

func (s *Server) publishEviction(conn *registry.Connection) {
	s.publish(event.NewConnectionEvent(event.TypeClientEvicted, conn.ClientID, conn.Identity, conn.IsAgent))
	s.recordConnectionGauges()
}
