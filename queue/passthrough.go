package queue

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/next-trace/scg-message-queue/connection"
	"github.com/next-trace/scg-message-queue/contract/broker"
	"github.com/next-trace/scg-message-queue/contract/messaging"
)

// PassThroughQueue hands each delivery to the current consumer and never buffers.
// A delivery goes to the listening receiver if one is installed, otherwise to a
// Receive call that is waiting; with neither it is dropped.
type PassThroughQueue struct {
	base

	mu       sync.Mutex
	receiver *binding
	waiting  int                   // Receive calls in progress
	claimed  []*messaging.Envelope // deliveries accepted for waiting Receive calls, len <= waiting
}

var (
	_ messaging.Queue     = (*PassThroughQueue)(nil)
	_ connection.Listener = (*PassThroughQueue)(nil)
)

// NewPassThroughQueue creates a closed pass-through queue.
func NewPassThroughQueue(name string, opts ...Option) *PassThroughQueue {
	q := &PassThroughQueue{}
	q.init(name, q, q, opts)

	return q
}

// Capabilities reports the operations this queue supports.
func (q *PassThroughQueue) Capabilities() messaging.Capabilities {
	return messaging.Capabilities{Send: true, Receive: true}
}

// OnMessage is the broker callback. Errors, malformed deliveries and deliveries
// arriving after Close are logged and dropped.
func (q *PassThroughQueue) OnMessage(msg *broker.Msg, err error) {
	e := q.decode(msg, err)
	if e == nil {
		return
	}

	q.mu.Lock()
	if !q.opened.Load() {
		q.mu.Unlock()
		q.dropClosed(e)

		return
	}

	if r := q.receiver; r != nil {
		q.mu.Unlock()
		q.dispatch(r, e)

		return
	}

	if len(q.claimed) < q.waiting {
		q.claimed = append(q.claimed, e)
		q.mu.Unlock()

		return
	}
	q.mu.Unlock()

	q.logger.Debug("no consumer, message dropped",
		slog.String("message_id", e.MessageID),
		slog.String("message_type", e.MessageType))
}

// MessageCount is always zero: nothing is retained.
func (q *PassThroughQueue) MessageCount(context.Context) (int, error) { return 0, nil }

// Peek always returns nil: there is nothing to inspect without consuming it.
func (q *PassThroughQueue) Peek(context.Context) (*messaging.Envelope, error) { return nil, nil }

// PeekBatch always returns an empty batch.
func (q *PassThroughQueue) PeekBatch(context.Context, int) ([]*messaging.Envelope, error) {
	return []*messaging.Envelope{}, nil
}

// Clear has nothing to drop.
func (q *PassThroughQueue) Clear(context.Context) error { return nil }

// Receive waits up to wait for a single delivery and consumes exactly that one.
// It returns nil without error on timeout or when the queue closes meanwhile.
func (q *PassThroughQueue) Receive(ctx context.Context, wait time.Duration) (*messaging.Envelope, error) {
	if err := q.Subscribe(ctx); err != nil {
		return nil, err
	}

	q.mu.Lock()
	q.waiting++
	q.mu.Unlock()

	e, err := q.poll(ctx, wait, q.takeClaimed)

	q.mu.Lock()
	q.waiting--

	// A delivery may have been accepted on our behalf after the last poll.
	if e == nil && len(q.claimed) > q.waiting {
		e, err = q.claimed[0], nil
		q.claimed = q.claimed[1:]
	}
	q.mu.Unlock()

	return e, err
}

func (q *PassThroughQueue) takeClaimed() *messaging.Envelope {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.claimed) == 0 {
		return nil
	}

	e := q.claimed[0]
	q.claimed = q.claimed[1:]

	return e
}

// Listen installs r for every subsequent delivery, replacing any previous receiver.
func (q *PassThroughQueue) Listen(ctx context.Context, r messaging.Receiver) error {
	if err := q.Subscribe(ctx); err != nil {
		return err
	}

	q.mu.Lock()
	q.receiver = newBinding(ctx, r)
	q.mu.Unlock()

	q.logger.DebugContext(ctx, "listening")

	return nil
}

// EndListen removes the receiver.
func (q *PassThroughQueue) EndListen(context.Context) {
	q.mu.Lock()
	q.receiver = nil
	q.mu.Unlock()
}

// Close unsubscribes, drops the receiver, and closes an owned connection.
func (q *PassThroughQueue) Close(ctx context.Context) error {
	if !q.opened.Load() {
		return nil
	}

	uerr := q.unsubscribe(ctx)
	cerr := q.closeConnection(ctx)

	// Deliveries already in flight check opened under mu, so nothing lands after this.
	q.mu.Lock()
	q.receiver = nil
	q.claimed = nil
	q.mu.Unlock()

	q.logger.DebugContext(ctx, "queue closed")

	return errors.Join(uerr, cerr)
}
