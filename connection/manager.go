package connection

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/next-trace/scg-message-queue/config"
	"github.com/next-trace/scg-message-queue/connect"
	"github.com/next-trace/scg-message-queue/contract/broker"
	berr "github.com/next-trace/scg-message-queue/contract/errors"
	"github.com/next-trace/scg-message-queue/contract/messaging"
)

// Listener receives deliveries for subscriptions it registered.
// Listeners are used as registry keys and must be comparable (pointer receivers).
type Listener interface {
	OnMessage(msg *broker.Msg, err error)
}

// Subscription is one registered (subject, listener) pair.
type Subscription struct {
	Subject    string
	QueueGroup string
	// Filter is set for subjects without wildcards; deliveries for any other
	// subject are discarded before reaching the listener.
	Filter bool

	handler  broker.Subscription
	listener Listener
}

type subKey struct {
	subject  string
	listener Listener
}

// Manager owns exactly one physical broker connection and multiplexes
// subscriptions of any number of queues over it.
//
// Manager is safe for concurrent use.
type Manager struct {
	mu sync.RWMutex

	driver   broker.Driver
	resolver *connect.Resolver
	params   config.Params
	logger   *slog.Logger
	now      func() time.Time

	conn broker.Conn
	opts *connect.Options
	subs map[subKey]*Subscription
	gen  uint64
}

// Option configures a Manager.
type Option func(*Manager)

// WithLogger sets the structured logger. Nil keeps the default discard logger.
func WithLogger(l *slog.Logger) Option {
	return func(m *Manager) {
		if l != nil {
			m.logger = l
		}
	}
}

// WithParams sets the configuration used at Open.
func WithParams(p config.Params) Option {
	return func(m *Manager) { m.params = p }
}

// WithResolver replaces the resolver derived from the driver.
func WithResolver(r *connect.Resolver) Option {
	return func(m *Manager) {
		if r != nil {
			m.resolver = r
		}
	}
}

// WithClock sets the clock used to stamp outgoing envelopes.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		if now != nil {
			m.now = now
		}
	}
}

// New creates a closed Manager over driver.
func New(driver broker.Driver, opts ...Option) *Manager {
	m := &Manager{
		driver:   driver,
		resolver: connect.NewResolver(driver.Protocol(), driver.DefaultPort()),
		params:   config.Params{},
		logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
		now:      time.Now,
		subs:     make(map[subKey]*Subscription),
	}

	for _, opt := range opts {
		opt(m)
	}

	return m
}

// Configure replaces the configuration. It takes effect on the next Open.
func (m *Manager) Configure(p config.Params) {
	m.mu.Lock()
	m.params = p
	m.mu.Unlock()
}

// IsOpen reports whether a usable connection is held. A connection the driver
// closed on its own, for example after running out of reconnect attempts, is not.
func (m *Manager) IsOpen() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return m.liveLocked()
}

// Generation identifies the current connection. It changes on every successful
// Open, so a holder can tell that subscriptions it registered earlier are gone.
func (m *Manager) Generation() uint64 {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return m.gen
}

func (m *Manager) liveLocked() bool {
	if m.conn == nil {
		return false
	}

	if r, ok := m.conn.(broker.ClosedReporter); ok && r.Closed() {
		return false
	}

	return true
}

// Options returns the options resolved by the last successful Open, or nil.
func (m *Manager) Options() *connect.Options {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return m.opts
}

// Open resolves the configuration and connects. It is a no-op when already open.
// On failure nothing is retained and Open may be retried.
func (m *Manager) Open(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.liveLocked() {
		return nil
	}

	if m.conn != nil {
		m.logger.WarnContext(ctx, "broker connection lost, reconnecting",
			slog.String("connection", m.opts.String()))

		_ = m.conn.Close()
		m.conn = nil
		m.opts = nil
	}

	opts, err := m.resolver.Resolve(ctx, m.params)
	if err != nil {
		return err
	}

	conn, err := m.driver.Connect(ctx, opts)
	if err != nil {
		m.logger.ErrorContext(ctx, "broker connect failed",
			slog.String("connection", opts.String()),
			slog.String("error", err.Error()))

		if isContextErr(err) {
			return err
		}

		return &berr.ConnectionError{Op: "connect", Servers: opts.Servers, Err: err}
	}

	m.conn = conn
	m.opts = opts
	m.subs = make(map[subKey]*Subscription)
	m.gen++

	m.logger.InfoContext(ctx, "connected to broker", slog.String("connection", opts.String()))

	return nil
}

// Close disconnects and forgets all subscriptions; closing the connection
// invalidates them on the broker side. It is a no-op when already closed.
func (m *Manager) Close(ctx context.Context) error {
	m.mu.Lock()
	conn := m.conn
	opts := m.opts
	m.conn = nil
	m.opts = nil
	m.subs = make(map[subKey]*Subscription)
	m.mu.Unlock()

	if conn == nil {
		return nil
	}

	if err := conn.Close(); err != nil {
		m.logger.WarnContext(ctx, "broker disconnect failed", slog.String("error", err.Error()))
		return fmt.Errorf("close %s: %w", opts.Protocol, err)
	}

	m.logger.InfoContext(ctx, "disconnected from broker", slog.String("connection", opts.String()))

	return nil
}

// Publish stamps the envelope with the manager clock if needed, encodes it and forwards it to subject.
func (m *Manager) Publish(ctx context.Context, subject string, e *messaging.Envelope) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.RLock()
	conn, opts, live := m.conn, m.opts, m.liveLocked()
	m.mu.RUnlock()

	if !live {
		return fmt.Errorf("publish %s: connection is not open: %w", subject, berr.ErrInvalidState)
	}

	e.Stamp(m.now())

	if err := conn.Publish(ctx, messaging.Encode(subject, e)); err != nil {
		if isContextErr(err) {
			return err
		}

		return &berr.ConnectionError{Op: "publish", Servers: opts.Servers, Err: err}
	}

	return nil
}

// Subscribe registers listener for subject. Registering the same (subject, listener)
// twice keeps the first subscription. The broker subscription is active on return.
func (m *Manager) Subscribe(ctx context.Context, subject, group string, l Listener) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.liveLocked() {
		return fmt.Errorf("subscribe %s: connection is not open: %w", subject, berr.ErrInvalidState)
	}

	key := subKey{subject: subject, listener: l}
	if _, ok := m.subs[key]; ok {
		return nil
	}

	s := &Subscription{
		Subject:    subject,
		QueueGroup: group,
		Filter:     !hasWildcard(subject),
		listener:   l,
	}

	h, err := m.conn.Subscribe(subject, group, s.deliver)
	if err != nil {
		return &berr.ConnectionError{Op: "subscribe", Servers: m.opts.Servers, Err: err}
	}

	s.handler = h
	m.subs[key] = s

	m.logger.DebugContext(ctx, "subscribed",
		slog.String("subject", subject),
		slog.String("group", group))

	return nil
}

// Unsubscribe cancels the (subject, listener) subscription. Unknown pairs are a no-op.
func (m *Manager) Unsubscribe(ctx context.Context, subject string, l Listener) error {
	key := subKey{subject: subject, listener: l}

	m.mu.Lock()
	s, ok := m.subs[key]
	if ok {
		delete(m.subs, key)
	}
	m.mu.Unlock()

	if !ok {
		return nil
	}

	if err := s.handler.Unsubscribe(); err != nil {
		return fmt.Errorf("unsubscribe %s: %w", subject, err)
	}

	m.logger.DebugContext(ctx, "unsubscribed", slog.String("subject", subject))

	return nil
}

// Subscriptions returns a snapshot of the active registry.
func (m *Manager) Subscriptions() []Subscription {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]Subscription, 0, len(m.subs))
	for _, s := range m.subs {
		out = append(out, *s)
	}

	return out
}

func (s *Subscription) deliver(msg *broker.Msg, err error) {
	if err == nil && s.Filter && msg != nil && msg.Subject != s.Subject {
		return
	}

	s.listener.OnMessage(msg, err)
}

func hasWildcard(subject string) bool {
	return strings.ContainsAny(subject, "*>")
}

func isContextErr(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
