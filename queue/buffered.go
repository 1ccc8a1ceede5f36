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

// BufferedQueue keeps every delivery in an in-memory FIFO until it is received,
// unless a receiver is listening, in which case deliveries go straight to it.
//
// The buffer is bounded only by memory.
type BufferedQueue struct {
	base

	mu       sync.Mutex
	buffer   []*messaging.Envelope
	receiver *binding
}

var (
	_ messaging.Queue     = (*BufferedQueue)(nil)
	_ connection.Listener = (*BufferedQueue)(nil)
)

// NewBufferedQueue creates a closed buffering queue.
func NewBufferedQueue(name string, opts ...Option) *BufferedQueue {
	q := &BufferedQueue{}
	q.init(name, q, q, opts)

	return q
}

// Capabilities reports the operations this queue supports.
func (q *BufferedQueue) Capabilities() messaging.Capabilities {
	return messaging.Capabilities{
		MessageCount: true,
		Send:         true,
		Receive:      true,
		Peek:         true,
		PeekBatch:    true,
		Clear:        true,
	}
}

// OnMessage is the broker callback. Errors, malformed deliveries and deliveries
// arriving after Close are logged and dropped.
func (q *BufferedQueue) OnMessage(msg *broker.Msg, err error) {
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

	r := q.receiver
	if r == nil {
		q.buffer = append(q.buffer, e)
		q.mu.Unlock()

		return
	}
	q.mu.Unlock()

	q.dispatch(r, e)
}

// MessageCount returns the number of buffered envelopes.
func (q *BufferedQueue) MessageCount(context.Context) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	return len(q.buffer), nil
}

// Peek returns the oldest buffered envelope without removing it, or nil. It never blocks.
func (q *BufferedQueue) Peek(ctx context.Context) (*messaging.Envelope, error) {
	if err := q.Subscribe(ctx); err != nil {
		return nil, err
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.buffer) == 0 {
		return nil, nil
	}

	return q.buffer[0], nil
}

// PeekBatch returns up to n oldest buffered envelopes without removing them.
func (q *BufferedQueue) PeekBatch(ctx context.Context, n int) ([]*messaging.Envelope, error) {
	if err := q.Subscribe(ctx); err != nil {
		return nil, err
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	n = min(max(n, 0), len(q.buffer))
	out := make([]*messaging.Envelope, n)
	copy(out, q.buffer[:n])

	return out, nil
}

// Receive removes and returns the oldest buffered envelope, waiting up to wait
// for one to arrive. It returns nil without error on timeout or when the queue
// closes meanwhile.
func (q *BufferedQueue) Receive(ctx context.Context, wait time.Duration) (*messaging.Envelope, error) {
	if err := q.Subscribe(ctx); err != nil {
		return nil, err
	}

	return q.poll(ctx, wait, q.pop)
}

func (q *BufferedQueue) pop() *messaging.Envelope {
	q.mu.Lock()
	defer q.mu.Unlock()

	return q.popLocked()
}

func (q *BufferedQueue) popLocked() *messaging.Envelope {
	if len(q.buffer) == 0 {
		return nil
	}

	e := q.buffer[0]
	q.buffer[0] = nil
	q.buffer = q.buffer[1:]

	return e
}

// Listen forwards every buffered envelope to r, oldest first, then installs r
// so later deliveries bypass the buffer. It replaces any previous receiver and
// returns once r is installed.
func (q *BufferedQueue) Listen(ctx context.Context, r messaging.Receiver) error {
	if err := q.Subscribe(ctx); err != nil {
		return err
	}

	b := newBinding(ctx, r)

	// Deliveries arriving while draining still land in the buffer and are
	// drained in turn, so r sees broker order.
	drained := 0

	for {
		q.mu.Lock()
		e := q.popLocked()
		if e == nil {
			q.receiver = b
			q.mu.Unlock()

			break
		}
		q.mu.Unlock()

		q.dispatch(b, e)
		drained++
	}

	q.logger.DebugContext(ctx, "listening", slog.Int("drained", drained))

	return nil
}

// EndListen removes the receiver; deliveries are buffered again.
func (q *BufferedQueue) EndListen(context.Context) {
	q.mu.Lock()
	q.receiver = nil
	q.mu.Unlock()
}

// Clear drops all buffered envelopes.
func (q *BufferedQueue) Clear(context.Context) error {
	q.mu.Lock()
	q.buffer = nil
	q.mu.Unlock()

	return nil
}

// Close unsubscribes, drops the buffer and the receiver, and closes an owned connection.
func (q *BufferedQueue) Close(ctx context.Context) error {
	if !q.opened.Load() {
		return nil
	}

	uerr := q.unsubscribe(ctx)
	cerr := q.closeConnection(ctx)

	// Deliveries already in flight check opened under mu, so nothing lands after this.
	q.mu.Lock()
	q.buffer = nil
	q.receiver = nil
	q.mu.Unlock()

	q.logger.DebugContext(ctx, "queue closed")

	return errors.Join(uerr, cerr)
}
