// Package broker implements the Connection Manager and Message Bus over
// RabbitMQ (amqp091-go): durable reconnect with exponential backoff, and a
// thin publish/consume layer the Task Consumer builds on.
package broker

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/fairyhunter13/ai-task-pipeline/internal/adapter/observability"
	"github.com/fairyhunter13/ai-task-pipeline/internal/config"
)

// ConnectionManager owns a single AMQP connection and its reconnect policy.
// Callers obtain channels through Channel(); they do not dial directly.
type ConnectionManager struct {
	urls         []string
	initialDelay time.Duration
	maxDelay     time.Duration
	maxAttempts  int
	heartbeat    time.Duration
	logger       *slog.Logger

	mu        sync.RWMutex
	conn      *amqp.Connection
	connected chan struct{}

	closed chan struct{}
}

// NewConnectionManager builds a manager from the reconnect policy in cfg. It
// does not dial until Start is called.
func NewConnectionManager(cfg config.Config, logger *slog.Logger) *ConnectionManager {
	if logger == nil {
		logger = slog.Default()
	}
	return &ConnectionManager{
		urls:         cfg.AMQPURLs,
		initialDelay: cfg.AMQPReconnectInitialDelay,
		maxDelay:     cfg.AMQPReconnectMaxDelay,
		maxAttempts:  cfg.AMQPReconnectMaxAttempts,
		heartbeat:    cfg.AMQPHeartbeat,
		logger:       logger,
		connected:    make(chan struct{}),
		closed:       make(chan struct{}),
	}
}

// Start dials the broker, retrying with exponential backoff
// (min(initialDelay*2^(attempt-1), maxDelay)) up to maxAttempts times, and then
// keeps reconnecting in the background whenever the connection drops.
func (m *ConnectionManager) Start(ctx context.Context) error {
	if err := m.connectWithRetry(ctx); err != nil {
		return err
	}
	go m.watch(ctx)
	return nil
}

func (m *ConnectionManager) connectWithRetry(ctx context.Context) error {
	var lastErr error
	for attempt := 0; attempt < m.maxAttempts; attempt++ {
		if attempt > 0 {
			delay := backoffDelay(attempt, m.initialDelay, m.maxDelay)
			m.logger.Warn("amqp reconnect backoff", slog.Int("attempt", attempt), slog.Duration("delay", delay))
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		conn, err := m.dial()
		if err == nil {
			m.mu.Lock()
			m.conn = conn
			closed := m.connected
			m.connected = make(chan struct{})
			m.mu.Unlock()
			close(closed)
			observability.ConnectionReconnects.Inc()
			return nil
		}
		lastErr = err
		m.logger.Error("amqp dial failed", slog.Int("attempt", attempt), slog.Any("error", err))
	}
	return fmt.Errorf("amqp connect: exhausted %d attempts: %w", m.maxAttempts, lastErr)
}

func (m *ConnectionManager) dial() (*amqp.Connection, error) {
	var lastErr error
	for _, url := range m.urls {
		conn, err := amqp.DialConfig(url, amqp.Config{Heartbeat: m.heartbeat})
		if err == nil {
			return conn, nil
		}
		lastErr = err
	}
	return nil, lastErr
}

// backoffDelay implements min(initialDelay*2^(attempt-1), maxDelay).
func backoffDelay(attempt int, initial, max time.Duration) time.Duration {
	d := initial
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= max {
			return max
		}
	}
	if d > max {
		return max
	}
	return d
}

func (m *ConnectionManager) watch(ctx context.Context) {
	for {
		m.mu.RLock()
		conn := m.conn
		m.mu.RUnlock()
		if conn == nil {
			return
		}
		closeCh := conn.NotifyClose(make(chan *amqp.Error, 1))
		select {
		case <-ctx.Done():
			return
		case <-m.closed:
			return
		case err := <-closeCh:
			m.logger.Error("amqp connection closed", slog.Any("error", err))
			if reconnErr := m.connectWithRetry(ctx); reconnErr != nil {
				m.logger.Error("amqp reconnect exhausted", slog.Any("error", reconnErr))
				return
			}
		}
	}
}

// Channel opens a fresh AMQP channel on the current connection.
func (m *ConnectionManager) Channel() (*amqp.Channel, error) {
	m.mu.RLock()
	conn := m.conn
	m.mu.RUnlock()
	if conn == nil || conn.IsClosed() {
		return nil, fmt.Errorf("amqp: not connected")
	}
	return conn.Channel()
}

// Connected returns a channel that closes each time a new connection is
// established, so callers can resubscribe to lifecycle events.
func (m *ConnectionManager) Connected() <-chan struct{} {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.connected
}

// Ping satisfies httpserver.Pinger for the /readyz handler.
func (m *ConnectionManager) Ping(ctx context.Context) error {
	m.mu.RLock()
	conn := m.conn
	m.mu.RUnlock()
	if conn == nil || conn.IsClosed() {
		return fmt.Errorf("amqp: not connected")
	}
	return nil
}

// Close shuts the connection down and stops the reconnect watcher.
func (m *ConnectionManager) Close() error {
	close(m.closed)
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.conn == nil {
		return nil
	}
	return m.conn.Close()
}
