package server

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/marmos91/dittoxfer/internal/logger"
	"github.com/marmos91/dittoxfer/pkg/adapter"
	"github.com/marmos91/dittoxfer/pkg/metrics"
	"golang.org/x/sync/errgroup"
)

// DefaultShutdownTimeout bounds how long Serve waits for adapters to stop.
const DefaultShutdownTimeout = 30 * time.Second

// XferServer manages the lifecycle of the protocol adapters and the optional
// metrics endpoint.
//
// Lifecycle:
//  1. Creation: New() with the shutdown timeout
//  2. Registration: AddAdapter() for each protocol, SetMetricsServer() optionally
//  3. Startup: Serve() starts everything concurrently
//  4. Shutdown: context cancellation, an adapter failure, or an adapter
//     finishing on its own (e.g. an operator "shutdown") stops everything
//
// Example usage:
//
//	srv := server.New(cfg.Server.ShutdownTimeout)
//	srv.AddAdapter(xfer.New(xferConfig, store, nil))
//
//	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
//	defer cancel()
//
//	if err := srv.Serve(ctx); err != nil {
//	    log.Fatal(err)
//	}
type XferServer struct {
	shutdownTimeout time.Duration

	// mu protects adapters and metricsServer
	mu            sync.RWMutex
	adapters      []adapter.Adapter
	metricsServer *metrics.Server

	served atomic.Bool
}

// New creates a server with no adapters. A non-positive shutdownTimeout uses
// DefaultShutdownTimeout.
func New(shutdownTimeout time.Duration) *XferServer {
	if shutdownTimeout <= 0 {
		shutdownTimeout = DefaultShutdownTimeout
	}
	return &XferServer{
		shutdownTimeout: shutdownTimeout,
		adapters:        make([]adapter.Adapter, 0, 1),
	}
}

// AddAdapter registers a protocol adapter.
//
// Duplicate protocols or port conflicts are detected and return an error.
//
// Panics if adapter is nil or Serve() has already been called (programmer
// errors).
func (s *XferServer) AddAdapter(a adapter.Adapter) error {
	if a == nil {
		panic("adapter cannot be nil")
	}
	if s.served.Load() {
		panic("cannot add adapter after Serve() has been called")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	protocol := a.Protocol()
	port := a.Port()

	for _, existing := range s.adapters {
		if existing.Protocol() == protocol {
			return fmt.Errorf("adapter for protocol %s already registered", protocol)
		}
		// Port 0 asks for an ephemeral port and never conflicts
		if port != 0 && existing.Port() == port {
			return fmt.Errorf("port %d already in use by %s adapter", port, existing.Protocol())
		}
	}

	s.adapters = append(s.adapters, a)

	logger.Info("Registered %s adapter on port %d", protocol, port)

	return nil
}

// SetMetricsServer makes Serve run m alongside the adapters.
func (s *XferServer) SetMetricsServer(m *metrics.Server) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.metricsServer = m
}

// Serve starts all registered adapters and blocks until every one of them
// has stopped.
//
// Shutdown is triggered by:
//   - ctx cancellation
//   - any adapter returning an error
//   - any adapter returning nil, which happens after an administrative stop
//
// Returns nil on graceful shutdown, or the first adapter or metrics server
// error.
func (s *XferServer) Serve(ctx context.Context) error {
	if !s.served.CompareAndSwap(false, true) {
		return errors.New("Serve() has already been called on this server instance")
	}

	s.mu.RLock()
	adapters := make([]adapter.Adapter, len(s.adapters))
	copy(adapters, s.adapters)
	metricsServer := s.metricsServer
	s.mu.RUnlock()

	if len(adapters) == 0 {
		return fmt.Errorf("no adapters registered; call AddAdapter() before Serve()")
	}

	logger.Info("Starting DittoXfer with %d adapter(s)", len(adapters))

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	g, gctx := errgroup.WithContext(ctx)

	for _, a := range adapters {
		a := a
		g.Go(func() error {
			protocol := a.Protocol()
			logger.Info("Starting %s adapter on port %d", protocol, a.Port())

			if err := a.Serve(gctx); err != nil {
				logger.Error("%s adapter failed: %v", protocol, err)
				return fmt.Errorf("%s adapter error: %w", protocol, err)
			}

			logger.Info("%s adapter stopped", protocol)
			cancel()
			return nil
		})
	}

	if metricsServer != nil {
		g.Go(func() error {
			return metricsServer.Start(gctx)
		})
	}

	g.Go(func() error {
		<-gctx.Done()
		s.stopAllAdapters(adapters)
		return nil
	})

	err := g.Wait()
	if err != nil {
		logger.Error("DittoXfer stopped with error: %v", err)
		return err
	}

	logger.Info("DittoXfer stopped gracefully")
	return nil
}

// stopAllAdapters stops adapters in reverse registration order, giving all
// of them together at most the shutdown timeout.
func (s *XferServer) stopAllAdapters(adapters []adapter.Adapter) {
	ctx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
	defer cancel()

	logger.Info("Initiating graceful shutdown of %d adapter(s)", len(adapters))

	for i := len(adapters) - 1; i >= 0; i-- {
		adp := adapters[i]
		protocol := adp.Protocol()

		logger.Debug("Stopping %s adapter (port %d)", protocol, adp.Port())

		if err := adp.Stop(ctx); err != nil {
			logger.Error("Error stopping %s adapter: %v", protocol, err)
		} else {
			logger.Debug("%s adapter stopped", protocol)
		}
	}
}

// Adapters returns a snapshot of currently registered adapters.
func (s *XferServer) Adapters() []adapter.Adapter {
	s.mu.RLock()
	defer s.mu.RUnlock()

	adapters := make([]adapter.Adapter, len(s.adapters))
	copy(adapters, s.adapters)
	return adapters
}
