package messaging

import (
	"context"
	"time"
)

// Receiver consumes envelopes pushed by a listening queue.
// Implementations are called from broker goroutines and must be safe for concurrent use.
type Receiver interface {
	ReceiveMessage(ctx context.Context, e *Envelope, q Queue) error
}

// ReceiverFunc adapts a function to Receiver.
type ReceiverFunc func(ctx context.Context, e *Envelope, q Queue) error

func (f ReceiverFunc) ReceiveMessage(ctx context.Context, e *Envelope, q Queue) error {
	return f(ctx, e, q)
}

// Capabilities reports which operations a queue supports meaningfully.
type Capabilities struct {
	MessageCount bool
	Send         bool
	Receive      bool
	Peek         bool
	PeekBatch    bool
	RenewLock    bool
	Abandon      bool
	DeadLetter   bool
	Clear        bool
}

// Queue is the contract shared by the buffering and pass-through queues.
//
// RenewLock, Complete, Abandon and MoveToDeadLetter exist for interface parity with
// acknowledging brokers. Fire-and-forget brokers implement them as no-ops.
type Queue interface {
	Name() string
	Capabilities() Capabilities

	Open(ctx context.Context) error
	Close(ctx context.Context) error
	IsOpen() bool

	Send(ctx context.Context, e *Envelope) error
	Peek(ctx context.Context) (*Envelope, error)
	PeekBatch(ctx context.Context, n int) ([]*Envelope, error)
	// Receive returns nil without error when wait elapses or the queue closes.
	Receive(ctx context.Context, wait time.Duration) (*Envelope, error)
	MessageCount(ctx context.Context) (int, error)
	Clear(ctx context.Context) error

	RenewLock(ctx context.Context, e *Envelope, lockTimeout time.Duration) error
	Complete(ctx context.Context, e *Envelope) error
	Abandon(ctx context.Context, e *Envelope) error
	MoveToDeadLetter(ctx context.Context, e *Envelope) error

	Listen(ctx context.Context, r Receiver) error
	EndListen(ctx context.Context)
}
