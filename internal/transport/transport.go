// Package transport manages the single public WebSocket connection to the
// exchange: dialing, reconnect backoff, ping/pong health tracking, and
// read/write loops. Modeled directly on the teacher's Binance stream
// manager, generalized from a per-stream subscribe/unsubscribe request
// protocol to Kraken's event/array frame shapes (subscription framing
// itself lives in internal/subscription).
package transport

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/coder/websocket"

	"github.com/krakenfeed/sdk/errs"
)

// Config configures dial timeout, keepalive cadence, and reconnect backoff.
type Config struct {
	URL                 string
	DialTimeout         time.Duration
	PingInterval        time.Duration
	PingTimeout         time.Duration
	InitialBackoff      time.Duration
	MaxReconnectBackoff time.Duration
	BackoffMultiplier   float64
	ReadLimit           int64
}

// DefaultConfig mirrors the teacher's Binance tuning constants, retargeted
// at Kraken's public feed.
func DefaultConfig(url string) Config {
	return Config{
		URL:                 url,
		DialTimeout:         10 * time.Second,
		PingInterval:        30 * time.Second,
		PingTimeout:         5 * time.Second,
		InitialBackoff:      500 * time.Millisecond,
		MaxReconnectBackoff: 30 * time.Second,
		BackoffMultiplier:   2.0,
		ReadLimit:           2 * 1024 * 1024,
	}
}

// Health reports the ping/pong liveness of the current connection. A
// connection is healthy when the last pong arrived at or after the last
// ping, and that ping happened within the last 60 seconds.
type Health struct {
	LastPing time.Time
	LastPong time.Time
}

func (h Health) Healthy(now time.Time) bool {
	if h.LastPing.IsZero() {
		return true
	}
	if h.LastPong.Before(h.LastPing) {
		return false
	}
	return now.Sub(h.LastPing) <= 60*time.Second
}

// Manager owns the single live WebSocket connection, reconnecting with
// exponential backoff on failure. Send writes a frame to the live
// connection and fails when there is none; frames are not queued.
type Manager struct {
	cfg Config

	ctx    context.Context
	cancel context.CancelFunc

	conn   *websocket.Conn
	connMu sync.RWMutex

	healthMu sync.Mutex
	health   Health

	handler   func([]byte) error
	errorChan chan<- error

	// OnConnected and OnDisconnected, when set, are invoked from the
	// connection loop on each successful dial / lost connection, letting
	// the client facade drive the connstate machine without transport
	// importing it.
	OnConnected    func()
	OnDisconnected func(err error)

	// OnBeforeRetry, when set, is invoked once before each reconnect
	// attempt (never before the first dial), letting the facade fire its
	// own retry-cap policy. Returning false tells the manager to stop
	// reconnecting and exit.
	OnBeforeRetry func() bool

	ready     chan struct{}
	readyOnce sync.Once
}

// New constructs a Manager. handler receives every text frame read off the
// wire; errorChan receives non-fatal errors encountered along the way.
func New(ctx context.Context, cfg Config, handler func([]byte) error, errorChan chan<- error) *Manager {
	managerCtx, cancel := context.WithCancel(ctx)
	return &Manager{
		cfg:       cfg,
		ctx:       managerCtx,
		cancel:    cancel,
		handler:   handler,
		errorChan: errorChan,
		ready:     make(chan struct{}),
	}
}

// Start dials in the background and blocks until the first connection
// succeeds, the context is canceled, or DialTimeout elapses.
func (m *Manager) Start() error {
	go func() {
		if err := m.connect(); err != nil && !errors.Is(err, context.Canceled) {
			m.reportError(fmt.Errorf("transport manager connection failed: %w", err))
		}
	}()

	timeout := m.cfg.DialTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	select {
	case <-m.ready:
		return nil
	case <-time.After(timeout):
		return errs.New(errs.CodeConnection,
			errs.WithCanonical(errs.CanonicalConnectionTimeout),
			errs.WithMessage("timeout waiting for websocket connection"))
	case <-m.ctx.Done():
		return errs.New(errs.CodeConnection,
			errs.WithCanonical(errs.CanonicalEstablishmentFailed),
			errs.WithMessage("transport context done"),
			errs.WithCause(m.ctx.Err()))
	}
}

// Stop cancels the manager and closes any live connection.
func (m *Manager) Stop() {
	m.cancel()
	m.connMu.Lock()
	if m.conn != nil {
		_ = m.conn.Close(websocket.StatusNormalClosure, "shutdown")
		m.conn = nil
	}
	m.connMu.Unlock()
}

// Send writes one text frame to the live connection, or returns an error if
// there is none.
func (m *Manager) Send(ctx context.Context, data []byte) error {
	m.connMu.RLock()
	conn := m.conn
	m.connMu.RUnlock()
	if conn == nil {
		return errs.New(errs.CodeConnection,
			errs.WithCanonical(errs.CanonicalConnectionLost),
			errs.WithMessage("no live connection"))
	}
	if err := conn.Write(ctx, websocket.MessageText, data); err != nil {
		return errs.New(errs.CodeConnection,
			errs.WithCanonical(errs.CanonicalConnectionLost),
			errs.WithMessage("write frame"),
			errs.WithCause(err))
	}
	return nil
}

// HealthSnapshot returns the current ping/pong health reading.
func (m *Manager) HealthSnapshot() Health {
	m.healthMu.Lock()
	defer m.healthMu.Unlock()
	return m.health
}

func (m *Manager) connect() error {
	backoffCfg := backoff.NewExponentialBackOff()
	if m.cfg.InitialBackoff > 0 {
		backoffCfg.InitialInterval = m.cfg.InitialBackoff
	}
	if m.cfg.MaxReconnectBackoff > 0 {
		backoffCfg.MaxInterval = m.cfg.MaxReconnectBackoff
	}
	if m.cfg.BackoffMultiplier > 1 {
		backoffCfg.Multiplier = m.cfg.BackoffMultiplier
	}

	for {
		select {
		case <-m.ctx.Done():
			return context.Canceled
		default:
		}

		conn, _, err := websocket.Dial(m.ctx, m.cfg.URL, nil)
		if err != nil {
			m.reportError(fmt.Errorf("dial %s: %w", m.cfg.URL, err))
			if m.OnDisconnected != nil {
				m.OnDisconnected(err)
			}
			if err := m.awaitRetry(backoffCfg); err != nil {
				if errors.Is(err, errStopRetrying) {
					return nil
				}
				return err
			}
			continue
		}

		m.connMu.Lock()
		m.conn = conn
		m.connMu.Unlock()

		conn.SetReadLimit(m.cfg.ReadLimit)

		m.readyOnce.Do(func() { close(m.ready) })
		backoffCfg.Reset()
		if m.OnConnected != nil {
			m.OnConnected()
		}

		connCtx, connCancel := context.WithCancel(m.ctx)
		errCh := make(chan error, 2)
		var wg sync.WaitGroup
		wg.Add(2)

		go func() {
			defer wg.Done()
			errCh <- m.readLoop(connCtx, conn)
		}()
		go func() {
			defer wg.Done()
			errCh <- m.pingLoop(connCtx, conn)
		}()

		firstErr := <-errCh
		connCancel()

		m.connMu.Lock()
		if m.conn == conn {
			m.conn = nil
		}
		m.connMu.Unlock()
		_ = conn.Close(websocket.StatusNormalClosure, "")

		wg.Wait()
		close(errCh)

		aggregated := firstErr
		for e := range errCh {
			if aggregated == nil || errors.Is(aggregated, context.Canceled) {
				aggregated = e
			}
		}

		if m.OnDisconnected != nil {
			m.OnDisconnected(aggregated)
		}

		if aggregated != nil && !errors.Is(aggregated, context.Canceled) {
			m.reportError(fmt.Errorf("connection loop: %w", aggregated))
		}

		if err := m.awaitRetry(backoffCfg); err != nil {
			if errors.Is(err, errStopRetrying) {
				return nil
			}
			return err
		}
	}
}

// errStopRetrying signals that OnBeforeRetry declined the next reconnect
// attempt; connect() treats it as a clean exit, not a failure.
var errStopRetrying = errors.New("transport: retry declined")

// awaitRetry gives OnBeforeRetry a chance to veto the next reconnect
// attempt before sleeping for the computed backoff delay. This is the one
// place both branches of connect()'s loop (dial failure, connection lost)
// pause before redialing.
func (m *Manager) awaitRetry(b *backoff.ExponentialBackOff) error {
	if m.OnBeforeRetry != nil && !m.OnBeforeRetry() {
		return errStopRetrying
	}
	sleep := m.nextBackoff(b)
	select {
	case <-m.ctx.Done():
		return context.Canceled
	case <-time.After(sleep):
		return nil
	}
}

func (m *Manager) nextBackoff(b *backoff.ExponentialBackOff) time.Duration {
	sleep := b.NextBackOff()
	if sleep == backoff.Stop {
		return m.cfg.MaxReconnectBackoff
	}
	return sleep
}

func (m *Manager) pingLoop(ctx context.Context, conn *websocket.Conn) error {
	interval := m.cfg.PingInterval
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return context.Canceled
		case <-ticker.C:
			m.healthMu.Lock()
			m.health.LastPing = time.Now()
			m.healthMu.Unlock()

			pingCtx, cancel := context.WithTimeout(ctx, m.cfg.PingTimeout)
			err := conn.Ping(pingCtx)
			cancel()
			if err != nil {
				if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
					return context.Canceled
				}
				if errors.Is(err, net.ErrClosed) {
					return context.Canceled
				}
				if status := websocket.CloseStatus(err); status != -1 {
					return fmt.Errorf("ping: remote closed with status %d", status)
				}
				return fmt.Errorf("ping: %w", err)
			}

			m.healthMu.Lock()
			m.health.LastPong = time.Now()
			m.healthMu.Unlock()
		}
	}
}

func (m *Manager) readLoop(ctx context.Context, conn *websocket.Conn) error {
	for {
		msgType, data, err := conn.Read(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return context.Canceled
			}
			if errors.Is(err, net.ErrClosed) {
				return context.Canceled
			}
			if status := websocket.CloseStatus(err); status != -1 {
				if status == websocket.StatusNormalClosure {
					return context.Canceled
				}
				return fmt.Errorf("read: remote closed with status %d", status)
			}
			return fmt.Errorf("read: %w", err)
		}

		if msgType != websocket.MessageText {
			continue
		}

		if m.handler != nil {
			if err := m.handler(data); err != nil {
				m.reportError(fmt.Errorf("handle message: %w", err))
			}
		}
	}
}

func (m *Manager) reportError(err error) {
	if err == nil || m.errorChan == nil {
		log.Printf("transport: %v", err)
		return
	}
	select {
	case <-m.ctx.Done():
	case m.errorChan <- err:
	default:
	}
}
