package shutdown

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/psantana5/sentiment-pulse/pkg/logging"
)

// Manager runs registered cleanup functions when the process is asked to stop
type Manager struct {
	shutdownFuncs []namedFunc
	mu            sync.Mutex
	timeout       time.Duration
	logger        *logging.Logger
	doneChan      chan struct{}
	once          sync.Once
}

type namedFunc struct {
	name string
	fn   func(context.Context) error
}

// New creates a manager whose cleanup is bounded by timeout
func New(timeout time.Duration, logger *logging.Logger) *Manager {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Manager{
		timeout:  timeout,
		logger:   logger,
		doneChan: make(chan struct{}),
	}
}

// Register adds a cleanup function. Functions run in reverse order.
func (m *Manager) Register(name string, fn func(context.Context) error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.shutdownFuncs = append(m.shutdownFuncs, namedFunc{name: name, fn: fn})
}

// Done is closed once shutdown starts
func (m *Manager) Done() <-chan struct{} {
	return m.doneChan
}

// Trigger starts shutdown without a signal
func (m *Manager) Trigger() {
	m.once.Do(func() { close(m.doneChan) })
}

// WaitWithContext blocks until SIGINT/SIGTERM, Trigger or ctx cancellation,
// then runs the registered functions
func (m *Manager) WaitWithContext(ctx context.Context) error {
	sigCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM, os.Interrupt)
	defer stop()

	select {
	case <-sigCtx.Done():
		if ctx.Err() != nil {
			m.Trigger()
			return errors.Join(ctx.Err(), m.Shutdown())
		}
		m.logger.Info("Received signal, shutting down")
	case <-m.doneChan:
		m.logger.Info("Shutdown requested")
	}

	m.Trigger()
	return m.Shutdown()
}

// Shutdown runs every registered function once, last registered first
func (m *Manager) Shutdown() error {
	m.mu.Lock()
	funcs := m.shutdownFuncs
	m.shutdownFuncs = nil
	m.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), m.timeout)
	defer cancel()

	var errs []error
	for i := len(funcs) - 1; i >= 0; i-- {
		f := funcs[i]
		if err := f.fn(ctx); err != nil {
			m.logger.Error("Shutdown step failed", logging.Fields{"step": f.name, "error": err.Error()})
			errs = append(errs, fmt.Errorf("%s: %w", f.name, err))
			continue
		}
		m.logger.Debug("Shutdown step complete", logging.Fields{"step": f.name})
	}

	m.logger.Info("Graceful shutdown complete")
	return errors.Join(errs...)
}

// StopHTTPServer adapts an http.Server to a cleanup function
func StopHTTPServer(server interface{ Shutdown(context.Context) error }) func(context.Context) error {
	return func(ctx context.Context) error {
		return server.Shutdown(ctx)
	}
}

// CloseResource adapts an io.Closer to a cleanup function
func CloseResource(closer interface{ Close() error }) func(context.Context) error {
	return func(context.Context) error {
		return closer.Close()
	}
}
