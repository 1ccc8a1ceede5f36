package queue

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/next-trace/scg-message-queue/adapters/nats"
	"github.com/next-trace/scg-message-queue/config"
	"github.com/next-trace/scg-message-queue/connection"
	"github.com/next-trace/scg-message-queue/contract/broker"
	berr "github.com/next-trace/scg-message-queue/contract/errors"
	"github.com/next-trace/scg-message-queue/contract/messaging"
)

// pollInterval is how often Receive re-checks for a message, the queue state and its deadline.
const pollInterval = 100 * time.Millisecond

// binding is an installed receiver together with the context it was installed with.
type binding struct {
	ctx context.Context
	r   messaging.Receiver
}

// base holds what both queue variants share: configuration, connection
// ownership, subscription state, sending and envelope decoding.
type base struct {
	name        string
	logger      *slog.Logger
	driver      broker.Driver
	locatorName string

	// self is the outer queue, passed to receivers and used as the
	// subscription listener identity.
	self     messaging.Queue
	listener connection.Listener

	lifecycle     sync.Mutex
	params        config.Params
	subject       string
	group         string
	autoSubscribe bool
	conn          *connection.Manager
	ownsConn      bool
	subscribed    bool
	// gen is the connection generation the queue was opened against.
	gen uint64

	opened atomic.Bool
}

func (q *base) init(name string, self messaging.Queue, l connection.Listener, opts []Option) {
	q.name = name
	q.self = self
	q.listener = l
	q.logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	q.driver = nats.NewDriver()
	q.locatorName = connection.DefaultName
	q.params = config.Params{}

	for _, opt := range opts {
		opt(q)
	}

	q.logger = q.logger.With(slog.String("queue", name))
}

// Name returns the queue name given at construction.
func (q *base) Name() string { return q.name }

// Subject is the subject the queue subscribes on: the configured subject, or the name.
func (q *base) Subject() string {
	q.lifecycle.Lock()
	defer q.lifecycle.Unlock()

	return q.subjectLocked()
}

func (q *base) subjectLocked() string {
	if q.subject != "" {
		return q.subject
	}

	return q.name
}

// Configure reads subject/topic, group/queue_group and options.autosubscribe.
// Connection keys are kept for a connection the queue creates itself.
// Configuration applied after Open has no effect.
func (q *base) Configure(p config.Params) {
	if q.IsOpen() {
		q.logger.Debug("configure ignored on open queue")
		return
	}

	q.lifecycle.Lock()
	defer q.lifecycle.Unlock()

	q.params = p
	q.subject = p.FirstOf("subject", "topic")
	q.group = p.FirstOf("group", "queue_group")
	q.autoSubscribe = p.Bool("options.autosubscribe", false)
}

// SetReferences looks up a shared connection by the configured locator name.
// When none is found the queue creates and owns a connection at Open.
func (q *base) SetReferences(loc connection.Locator) {
	if loc == nil || q.IsOpen() {
		return
	}

	m, ok := loc.Lookup(q.locatorName)
	if !ok {
		return
	}

	q.lifecycle.Lock()
	q.conn = m
	q.ownsConn = false
	q.lifecycle.Unlock()
}

// IsOpen reports whether the queue is open and the connection it was opened
// against is still open. After a shared connection is closed and reopened the
// queue reports closed until it is opened again.
func (q *base) IsOpen() bool {
	if !q.opened.Load() {
		return false
	}

	q.lifecycle.Lock()
	m, gen := q.conn, q.gen
	q.lifecycle.Unlock()

	return m != nil && m.IsOpen() && m.Generation() == gen
}

// Open acquires the connection and, with options.autosubscribe, subscribes.
// A queue that was subscribed on a shared connection which has since been
// reopened subscribes again. A failed Open leaves the queue closed.
func (q *base) Open(ctx context.Context) error {
	if q.IsOpen() {
		return nil
	}

	resume, err := q.openConnection(ctx)
	if err != nil {
		return err
	}

	q.lifecycle.Lock()
	auto := q.autoSubscribe
	q.lifecycle.Unlock()

	if auto || resume {
		if err := q.Subscribe(ctx); err != nil {
			_ = q.closeConnection(ctx) //nolint:errcheck // report the subscribe failure
			return err
		}
	}

	q.logger.DebugContext(ctx, "queue opened")

	return nil
}

// openConnection reports whether a subscription held on an earlier connection
// generation must be restored.
func (q *base) openConnection(ctx context.Context) (bool, error) {
	q.lifecycle.Lock()
	defer q.lifecycle.Unlock()

	if q.conn == nil {
		q.conn = connection.New(q.driver, connection.WithLogger(q.logger))
		q.ownsConn = true
	}

	if q.ownsConn {
		q.conn.Configure(q.params)

		if err := q.conn.Open(ctx); err != nil {
			return false, err
		}
	} else if !q.conn.IsOpen() {
		return false, fmt.Errorf("open %s: shared connection is not open: %w", q.name, berr.ErrInvalidState)
	}

	resume := false
	if gen := q.conn.Generation(); gen != q.gen {
		resume = q.subscribed
		q.subscribed = false
		q.gen = gen
	}

	q.opened.Store(true)

	return resume, nil
}

// closeConnection marks the queue closed first so pollers stop, then closes an owned connection.
func (q *base) closeConnection(ctx context.Context) error {
	q.opened.Store(false)

	q.lifecycle.Lock()
	m, owned := q.conn, q.ownsConn
	q.subscribed = false
	q.lifecycle.Unlock()

	if m == nil || !owned {
		return nil
	}

	return m.Close(ctx)
}

func (q *base) checkOpen(op string) error {
	if !q.IsOpen() {
		return fmt.Errorf("%s %s: queue is not open: %w", op, q.name, berr.ErrInvalidState)
	}

	return nil
}

// Subscribe subscribes the queue on its subject and group. It is idempotent.
func (q *base) Subscribe(ctx context.Context) error {
	if err := q.checkOpen("subscribe"); err != nil {
		return err
	}

	q.lifecycle.Lock()
	defer q.lifecycle.Unlock()

	if q.subscribed {
		return nil
	}

	subject := q.subjectLocked()
	if subject == "" {
		return fmt.Errorf("subscribe: queue has neither name nor subject: %w", berr.ErrConfiguration)
	}

	if err := q.conn.Subscribe(ctx, subject, q.group, q.listener); err != nil {
		return err
	}

	q.subscribed = true

	return nil
}

func (q *base) unsubscribe(ctx context.Context) error {
	q.lifecycle.Lock()
	defer q.lifecycle.Unlock()

	if !q.subscribed || q.conn == nil {
		return nil
	}

	q.subscribed = false

	return q.conn.Unsubscribe(ctx, q.subjectLocked(), q.listener)
}

// Send publishes the envelope to the queue name, or to the configured subject
// for an unnamed queue. The connection stamps identity and send time.
func (q *base) Send(ctx context.Context, e *messaging.Envelope) error {
	if err := q.checkOpen("send"); err != nil {
		return err
	}

	q.lifecycle.Lock()
	m := q.conn
	subject := q.name
	if subject == "" {
		subject = q.subject
	}
	q.lifecycle.Unlock()

	if subject == "" {
		return fmt.Errorf("send: queue has neither name nor subject: %w", berr.ErrConfiguration)
	}

	return m.Publish(ctx, subject, e)
}

// The broker has no acknowledgement model: the lock, completion, abandon and
// dead-letter operations do nothing.

func (q *base) RenewLock(context.Context, *messaging.Envelope, time.Duration) error { return nil }
func (q *base) Complete(context.Context, *messaging.Envelope) error                 { return nil }
func (q *base) Abandon(context.Context, *messaging.Envelope) error                  { return nil }
func (q *base) MoveToDeadLetter(context.Context, *messaging.Envelope) error         { return nil }

// decode turns a delivery into an envelope, logging and dropping failures.
func (q *base) decode(msg *broker.Msg, err error) *messaging.Envelope {
	if err != nil {
		q.logger.Error("subscription error", slog.String("error", err.Error()))
		return nil
	}

	e, err := messaging.Decode(msg)
	if err != nil {
		q.logger.Warn("dropping malformed message", slog.String("error", err.Error()))
		return nil
	}

	return e
}

func (q *base) dropClosed(e *messaging.Envelope) {
	q.logger.Debug("queue closed, message dropped",
		slog.String("message_id", e.MessageID),
		slog.String("message_type", e.MessageType))
}

func (q *base) dispatch(b *binding, e *messaging.Envelope) {
	if err := b.r.ReceiveMessage(b.ctx, e, q.self); err != nil {
		q.logger.ErrorContext(b.ctx, "receiver failed",
			slog.String("message_id", e.MessageID),
			slog.String("message_type", e.MessageType),
			slog.String("error", err.Error()))
	}
}

// poll calls take every pollInterval until it yields an envelope, the queue
// closes, or wait elapses. The deadline is checked once per interval.
func (q *base) poll(ctx context.Context, wait time.Duration, take func() *messaging.Envelope) (*messaging.Envelope, error) {
	deadline := time.Now().Add(wait)

	var ticker *time.Ticker

	for {
		if e := take(); e != nil {
			return e, nil
		}

		if !q.IsOpen() || !time.Now().Before(deadline) {
			return nil, nil
		}

		if ticker == nil {
			ticker = time.NewTicker(pollInterval)
			defer ticker.Stop()
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

func newBinding(ctx context.Context, r messaging.Receiver) *binding {
	return &binding{ctx: context.WithoutCancel(ctx), r: r}
}
