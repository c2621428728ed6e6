package xfer

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/marmos91/dittoxfer/internal/logger"
	"github.com/marmos91/dittoxfer/internal/ratelimiter"
	"github.com/marmos91/dittoxfer/pkg/content"
	"github.com/marmos91/dittoxfer/pkg/metrics"
	"github.com/marmos91/dittoxfer/pkg/registry"
)

// XferAdapter accepts file transfer clients and serves each on its own
// goroutine.
//
// Architecture:
// A single accept loop hands every connection a fresh session ID, registers
// the session and starts an XferConnection for it. Sessions stay in the
// registry until their own cleanup removes them, which lets administrative
// callers list and disconnect them at any time.
//
// Shutdown:
// Closing the listener is the only way to interrupt a pending Accept. After
// the loop exits, every registered session is shut down and the adapter waits
// for all session goroutines before Serve returns.
type XferAdapter struct {
	config   XferConfig
	pacing   ratelimiter.Config
	store    content.ContentStore
	metrics  metrics.XferMetrics
	registry *registry.Registry

	// nextID allocates session IDs; the first accepted session gets 1.
	nextID atomic.Uint64

	listenMu sync.Mutex
	listener net.Listener

	state atomic.Int32

	// activeConns tracks session goroutines so shutdown can join them.
	activeConns sync.WaitGroup

	// shutdown is closed exactly once by initiateShutdown.
	shutdownOnce sync.Once
	shutdown     chan struct{}

	// serving is claimed by the first Serve (or by a Stop that runs first).
	serving atomic.Bool

	// done is closed once Serve has disconnected and joined every session.
	doneOnce sync.Once
	done     chan struct{}

	connCount atomic.Int32

	// connSemaphore limits concurrent connections; nil means unlimited.
	connSemaphore chan struct{}

	// shutdownCtx is the parent of every session context. It is cancelled on
	// shutdown so that pacing waits end immediately.
	shutdownCtx    context.Context
	cancelRequests context.CancelFunc
}

// AcceptorState is the lifecycle state of an XferAdapter.
type AcceptorState int32

const (
	StateIdle AcceptorState = iota
	StateListening
	StateClosed
)

func (s AcceptorState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateListening:
		return "listening"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// XferConfig holds configuration for the file transfer adapter.
//
// Configuration is loaded through pkg/config and may come from a file,
// environment variables (DITTOXFER_ADAPTERS_XFER_*) or defaults.
type XferConfig struct {
	// Enabled controls whether the adapter is started.
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`

	// BindAddress is the interface to listen on. Empty means all interfaces.
	BindAddress string `mapstructure:"bind_address" yaml:"bind_address"`

	// Port is the TCP port to listen on. 0 picks an ephemeral port.
	Port int `mapstructure:"port" yaml:"port" validate:"min=0,max=65535"`

	// MaxConnections limits concurrent sessions. 0 means unlimited.
	// When the limit is reached, new connections wait in the listen backlog.
	MaxConnections int `mapstructure:"max_connections" yaml:"max_connections" validate:"min=0"`

	// ReadTimeout bounds how long a client may take to send its request.
	// 0 means no timeout.
	ReadTimeout time.Duration `mapstructure:"read_timeout" yaml:"read_timeout" validate:"min=0"`

	// WriteTimeout bounds each write to the client. 0 means no timeout.
	WriteTimeout time.Duration `mapstructure:"write_timeout" yaml:"write_timeout" validate:"min=0"`

	// MetricsLogInterval is how often to log connection statistics.
	// 0 disables periodic logging.
	MetricsLogInterval time.Duration `mapstructure:"metrics_log_interval" yaml:"metrics_log_interval" validate:"min=0"`

	// RateLimit selects how payload bytes are paced.
	RateLimit RateLimitConfig `mapstructure:"rate_limit" yaml:"rate_limit"`
}

// RateLimitConfig selects the per-session pacer.
type RateLimitConfig struct {
	// Mode is "fixed" (a constant delay after each byte), "token_bucket"
	// or "none".
	Mode string `mapstructure:"mode" yaml:"mode" validate:"omitempty,oneof=fixed token_bucket none"`

	// SendDelay is the delay after each byte in fixed mode.
	SendDelay time.Duration `mapstructure:"send_delay" yaml:"send_delay" validate:"min=0"`

	// BytesPerSecond is the sustained rate in token_bucket mode.
	BytesPerSecond uint `mapstructure:"bytes_per_second" yaml:"bytes_per_second"`

	// Burst is the bucket size in token_bucket mode.
	Burst uint `mapstructure:"burst" yaml:"burst"`
}

func (c *XferConfig) applyDefaults() {
	if c.RateLimit.Mode == "" {
		c.RateLimit.Mode = ratelimiter.ModeFixed
	}
	if c.RateLimit.Mode == ratelimiter.ModeTokenBucket && c.RateLimit.Burst == 0 {
		c.RateLimit.Burst = 1
	}
}

func (c *XferConfig) pacerConfig() ratelimiter.Config {
	return ratelimiter.Config{
		Mode:           c.RateLimit.Mode,
		SendDelay:      c.RateLimit.SendDelay,
		BytesPerSecond: c.RateLimit.BytesPerSecond,
		Burst:          c.RateLimit.Burst,
	}
}

func (c *XferConfig) validate() error {
	if c.Port < 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port %d: must be 0-65535", c.Port)
	}
	if c.MaxConnections < 0 {
		return fmt.Errorf("invalid MaxConnections %d: must be >= 0", c.MaxConnections)
	}
	if c.ReadTimeout < 0 {
		return fmt.Errorf("invalid ReadTimeout %v: must be >= 0", c.ReadTimeout)
	}
	if c.WriteTimeout < 0 {
		return fmt.Errorf("invalid WriteTimeout %v: must be >= 0", c.WriteTimeout)
	}
	if c.RateLimit.SendDelay < 0 {
		return fmt.Errorf("invalid SendDelay %v: must be >= 0", c.RateLimit.SendDelay)
	}
	if _, err := ratelimiter.NewPacer(c.pacerConfig()); err != nil {
		return fmt.Errorf("invalid rate limit: %w", err)
	}
	return nil
}

// New creates a new XferAdapter serving files from store.
//
// The adapter is created in the Idle state. Call Listen to bind early, or
// Serve to bind and start accepting.
//
// A nil xferMetrics uses a no-op implementation. New panics if config is
// invalid or store is nil; both are programmer errors caught by config
// validation.
func New(config XferConfig, store content.ContentStore, xferMetrics metrics.XferMetrics) *XferAdapter {
	config.applyDefaults()

	if err := config.validate(); err != nil {
		panic(fmt.Sprintf("invalid xfer config: %v", err))
	}
	if store == nil {
		panic("xfer adapter requires a content store")
	}

	var connSemaphore chan struct{}
	if config.MaxConnections > 0 {
		connSemaphore = make(chan struct{}, config.MaxConnections)
		logger.Debug("Xfer connection limit: %d", config.MaxConnections)
	} else {
		logger.Debug("Xfer connection limit: unlimited")
	}

	shutdownCtx, cancelRequests := context.WithCancel(context.Background())

	if xferMetrics == nil {
		xferMetrics = metrics.NewNoopXferMetrics()
	}

	return &XferAdapter{
		config:         config,
		pacing:         config.pacerConfig(),
		store:          store,
		metrics:        xferMetrics,
		registry:       registry.NewRegistry(),
		shutdown:       make(chan struct{}),
		done:           make(chan struct{}),
		connSemaphore:  connSemaphore,
		shutdownCtx:    shutdownCtx,
		cancelRequests: cancelRequests,
	}
}

// Listen binds the listening socket. It is idempotent and fails once the
// adapter has been stopped.
func (s *XferAdapter) Listen() error {
	s.listenMu.Lock()
	defer s.listenMu.Unlock()

	if s.listener != nil {
		return nil
	}

	select {
	case <-s.shutdown:
		return fmt.Errorf("xfer adapter is stopped")
	default:
	}

	addr := net.JoinHostPort(s.config.BindAddress, strconv.Itoa(s.config.Port))
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to create xfer listener on %s: %w", addr, err)
	}

	s.listener = listener
	s.state.Store(int32(StateListening))

	logger.Info("Xfer server listening on %s", listener.Addr())
	logger.Debug("Xfer config: max_connections=%d read_timeout=%v write_timeout=%v pacing=%s send_delay=%v bytes_per_second=%d",
		s.config.MaxConnections, s.config.ReadTimeout, s.config.WriteTimeout,
		s.pacing.Mode, s.pacing.SendDelay, s.pacing.BytesPerSecond)

	return nil
}

// Serve accepts connections until ctx is cancelled, Stop is called, or the
// listener fails.
//
// Before returning it shuts down every registered session and waits for all
// session goroutines to finish.
func (s *XferAdapter) Serve(ctx context.Context) error {
	if !s.serving.CompareAndSwap(false, true) {
		return fmt.Errorf("xfer adapter already started or stopped")
	}
	defer s.finish()

	if err := s.Listen(); err != nil {
		s.initiateShutdown()
		return err
	}

	// Monitor context cancellation in a separate goroutine
	go func() {
		select {
		case <-ctx.Done():
			logger.Info("Xfer shutdown signal received: %v", ctx.Err())
			s.initiateShutdown()
		case <-s.shutdown:
		}
	}()

	if s.config.MetricsLogInterval > 0 {
		go s.logMetrics()
	}

	serveErr := s.acceptLoop()

	s.initiateShutdown()
	s.disconnectAll()

	logger.Debug("Xfer waiting for %d session(s) to finish", s.connCount.Load())
	s.activeConns.Wait()
	logger.Info("Xfer server stopped: all sessions closed")

	return serveErr
}

// acceptLoop runs until shutdown is initiated or Accept fails. It returns nil
// when the loop ended because of shutdown.
func (s *XferAdapter) acceptLoop() error {
	listener := s.currentListener()

	for {
		// Acquire a connection slot before accepting
		if s.connSemaphore != nil {
			select {
			case s.connSemaphore <- struct{}{}:
			case <-s.shutdown:
				return nil
			}
		}

		conn, err := listener.Accept()
		if err != nil {
			if s.connSemaphore != nil {
				<-s.connSemaphore
			}

			select {
			case <-s.shutdown:
				return nil
			default:
			}

			logger.Error("Error accepting xfer connection: %v", err)
			return fmt.Errorf("accept: %w", err)
		}

		s.startSession(conn)
	}
}

// startSession registers a new session for conn and serves it on its own
// goroutine. The registry entry exists before the goroutine starts.
func (s *XferAdapter) startSession(conn net.Conn) {
	id := registry.SessionID(s.nextID.Add(1))
	session := registry.NewSession(s.shutdownCtx, id, conn)

	if err := s.registry.Add(session); err != nil {
		logger.Error("Failed to register session %d: %v", id, err)
		_ = conn.Close()
		if s.connSemaphore != nil {
			<-s.connSemaphore
		}
		return
	}

	s.activeConns.Add(1)
	current := s.connCount.Add(1)
	s.metrics.RecordConnectionAccepted()
	s.metrics.SetActiveConnections(current)

	logger.Info("CID=%d| Connection accepted from %s (active: %d)", id, conn.RemoteAddr(), current)

	c := NewXferConnection(s, session)

	go func() {
		defer func() {
			s.activeConns.Done()
			remaining := s.connCount.Add(-1)
			if s.connSemaphore != nil {
				<-s.connSemaphore
			}
			s.metrics.RecordConnectionClosed()
			s.metrics.SetActiveConnections(remaining)
		}()

		c.Serve()
	}()
}

// initiateShutdown closes the shutdown channel and the listener, and cancels
// every session context. Safe to call multiple times.
func (s *XferAdapter) initiateShutdown() {
	s.shutdownOnce.Do(func() {
		logger.Debug("Xfer shutdown initiated")

		close(s.shutdown)

		s.listenMu.Lock()
		if s.listener != nil {
			if err := s.listener.Close(); err != nil {
				logger.Debug("Error closing xfer listener: %v", err)
			}
		}
		s.listenMu.Unlock()

		s.cancelRequests()
	})
}

// disconnectAll shuts down every registered session.
func (s *XferAdapter) disconnectAll() {
	ids := s.registry.ListIDs()
	if len(ids) == 0 {
		return
	}

	logger.Info("Xfer disconnecting %d session(s)", len(ids))
	for _, id := range ids {
		s.registry.Disconnect(id)
	}
}

func (s *XferAdapter) finish() {
	s.doneOnce.Do(func() {
		s.state.Store(int32(StateClosed))
		close(s.done)
	})
}

// Stop stops accepting, disconnects every session and waits until Serve has
// joined them all, or until ctx expires.
//
// Stop is idempotent. Called before Serve, it prevents Serve from starting.
func (s *XferAdapter) Stop(ctx context.Context) error {
	s.initiateShutdown()

	// Nobody is serving: there are no sessions to wait for.
	if s.serving.CompareAndSwap(false, true) {
		s.finish()
	}

	select {
	case <-s.done:
		return nil
	case <-ctx.Done():
		logger.Warn("Xfer shutdown context cancelled: %d session(s) still active: %v",
			s.connCount.Load(), ctx.Err())
		return ctx.Err()
	}
}

// Done is closed once the adapter has fully stopped.
func (s *XferAdapter) Done() <-chan struct{} {
	return s.done
}

// ListConnections returns every registered session with its request info,
// ordered by session ID.
func (s *XferAdapter) ListConnections() []registry.SessionInfo {
	return s.registry.SnapshotWithInfo()
}

// Disconnect aborts the session with the given ID. It returns false if no
// such session is registered.
func (s *XferAdapter) Disconnect(id registry.SessionID) bool {
	if !s.registry.Disconnect(id) {
		logger.Debug("Disconnect requested for unknown session %d", id)
		return false
	}

	logger.Info("CID=%d| Disconnect requested", id)
	return true
}

// StopServer performs a full shutdown. It is Stop under the name used by
// administrative callers.
func (s *XferAdapter) StopServer(ctx context.Context) error {
	return s.Stop(ctx)
}

// logMetrics periodically logs connection statistics until shutdown.
func (s *XferAdapter) logMetrics() {
	ticker := time.NewTicker(s.config.MetricsLogInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.shutdown:
			return
		case <-ticker.C:
			logger.Info("Xfer metrics: active_connections=%d sessions_started=%d",
				s.connCount.Load(), s.nextID.Load())
		}
	}
}

func (s *XferAdapter) currentListener() net.Listener {
	s.listenMu.Lock()
	defer s.listenMu.Unlock()
	return s.listener
}

// GetActiveConnections returns the number of live session goroutines.
func (s *XferAdapter) GetActiveConnections() int32 {
	return s.connCount.Load()
}

// State returns the acceptor's lifecycle state.
func (s *XferAdapter) State() AcceptorState {
	return AcceptorState(s.state.Load())
}

// Addr returns the bound address, or nil before Listen.
func (s *XferAdapter) Addr() net.Addr {
	if l := s.currentListener(); l != nil {
		return l.Addr()
	}
	return nil
}

// Port returns the bound TCP port, or the configured port before Listen.
func (s *XferAdapter) Port() int {
	if addr, ok := s.Addr().(*net.TCPAddr); ok {
		return addr.Port
	}
	return s.config.Port
}

func (s *XferAdapter) Protocol() string {
	return "XFER"
}
