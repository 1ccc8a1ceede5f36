package inmemory

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/next-trace/scg-message-queue/config"
	"github.com/next-trace/scg-message-queue/connect"
	"github.com/next-trace/scg-message-queue/contract/broker"
)

// Protocol is the URI scheme of the in-memory driver.
const Protocol = "memory"

// ErrClosed is returned when publishing or subscribing on a closed connection.
var ErrClosed = errors.New("inmemory: connection closed")

// Broker is a thread-safe in-process broker with NATS subject semantics:
// "*" matches one token, ">" matches one or more trailing tokens, and
// subscribers sharing a queue group receive deliveries round-robin.
//
// Deliveries are synchronous: Publish returns after every handler ran.
type Broker struct {
	mu         sync.RWMutex
	subs       []*subscription
	next       map[string]int // round-robin cursor per subject pattern + group
	published  []*broker.Msg
	connectErr error
}

// NewBroker creates an empty broker.
func NewBroker() *Broker {
	return &Broker{next: make(map[string]int)}
}

// Driver returns a broker.Driver whose connections share this broker.
func (b *Broker) Driver() *Driver { return &Driver{Broker: b} }

// FailConnect makes subsequent Connect calls fail with err; nil restores them.
func (b *Broker) FailConnect(err error) {
	b.mu.Lock()
	b.connectErr = err
	b.mu.Unlock()
}

// Published returns a copy of every message accepted by Publish, in order.
func (b *Broker) Published() []*broker.Msg {
	b.mu.RLock()
	defer b.mu.RUnlock()

	out := make([]*broker.Msg, len(b.published))
	copy(out, b.published)

	return out
}

// SubscriptionCount reports active subscriptions across all connections.
func (b *Broker) SubscriptionCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()

	return len(b.subs)
}

// Fail delivers err to every subscription matching subject, as a driver does for
// asynchronous subscription errors.
func (b *Broker) Fail(subject string, err error) {
	for _, s := range b.match(subject) {
		s.h(nil, err)
	}
}

// Params returns the configuration a Manager needs to open over this driver.
func Params() config.Params {
	return config.NewParams("connection.uri", Protocol+"://local")
}

func (b *Broker) match(subject string) []*subscription {
	b.mu.Lock()
	defer b.mu.Unlock()

	var (
		out    []*subscription
		groups = map[string][]*subscription{}
		order  []string
	)

	for _, s := range b.subs {
		if !Match(s.subject, subject) {
			continue
		}

		if s.group == "" {
			out = append(out, s)
			continue
		}

		key := s.subject + "\x00" + s.group
		if _, seen := groups[key]; !seen {
			order = append(order, key)
		}

		groups[key] = append(groups[key], s)
	}

	for _, key := range order {
		members := groups[key]
		i := b.next[key] % len(members)
		b.next[key] = i + 1
		out = append(out, members[i])
	}

	return out
}

func (b *Broker) remove(target *subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for i, s := range b.subs {
		if s == target {
			b.subs = append(b.subs[:i], b.subs[i+1:]...)
			return
		}
	}
}

// Driver implements broker.Driver over a Broker.
type Driver struct {
	Broker *Broker
}

var _ broker.Driver = (*Driver)(nil)

func (d *Driver) Protocol() string { return Protocol }
func (d *Driver) DefaultPort() int { return 0 }

func (d *Driver) Connect(ctx context.Context, _ *connect.Options) (broker.Conn, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	d.Broker.mu.RLock()
	err := d.Broker.connectErr
	d.Broker.mu.RUnlock()

	if err != nil {
		return nil, err
	}

	return &conn{b: d.Broker}, nil
}

type conn struct {
	b      *Broker
	mu     sync.Mutex
	closed bool
}

type subscription struct {
	c       *conn
	subject string
	group   string
	h       broker.Handler
}

func (s *subscription) Unsubscribe() error {
	s.c.b.remove(s)
	return nil
}

func (c *conn) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.closed
}

func (c *conn) Publish(ctx context.Context, m *broker.Msg) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	if c.isClosed() {
		return ErrClosed
	}

	if m.Subject == "" || strings.ContainsAny(m.Subject, "*>") {
		return fmt.Errorf("inmemory: invalid publish subject %q", m.Subject)
	}

	c.b.mu.Lock()
	c.b.published = append(c.b.published, clone(m))
	c.b.mu.Unlock()

	for _, s := range c.b.match(m.Subject) {
		s.h(clone(m), nil)
	}

	return nil
}

func (c *conn) Subscribe(subject, group string, h broker.Handler) (broker.Subscription, error) {
	if c.isClosed() {
		return nil, ErrClosed
	}

	if subject == "" {
		return nil, errors.New("inmemory: empty subject")
	}

	s := &subscription{c: c, subject: subject, group: group, h: h}

	c.b.mu.Lock()
	c.b.subs = append(c.b.subs, s)
	c.b.mu.Unlock()

	return s, nil
}

func (c *conn) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	c.b.mu.Lock()
	kept := c.b.subs[:0]
	for _, s := range c.b.subs {
		if s.c != c {
			kept = append(kept, s)
		}
	}
	c.b.subs = kept
	c.b.mu.Unlock()

	return nil
}

// Match reports whether a NATS-style subject pattern matches a concrete subject.
func Match(pattern, subject string) bool {
	pt := strings.Split(pattern, ".")
	st := strings.Split(subject, ".")

	for i, p := range pt {
		if p == ">" {
			return len(st) > i
		}

		if i >= len(st) {
			return false
		}

		if p != "*" && p != st[i] {
			return false
		}
	}

	return len(pt) == len(st)
}

func clone(m *broker.Msg) *broker.Msg {
	h := make(map[string]string, len(m.Header))
	for k, v := range m.Header {
		h[k] = v
	}

	data := make([]byte, len(m.Data))
	copy(data, m.Data)

	return &broker.Msg{Subject: m.Subject, Header: h, Data: data}
}
