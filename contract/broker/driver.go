package broker

import (
	"context"

	"github.com/next-trace/scg-message-queue/connect"
)

// Handler receives deliveries for one subscription. Drivers call it from their own
// goroutines; err is set for asynchronous subscription failures (slow consumer,
// fetch errors) and msg is nil in that case.
type Handler func(msg *Msg, err error)

// Subscription is the driver-side handle of an active subscription.
type Subscription interface {
	Unsubscribe() error
}

// Conn is one physical connection to a broker cluster.
// Implementations must be safe for concurrent use by multiple goroutines.
type Conn interface {
	Publish(ctx context.Context, msg *Msg) error
	// Subscribe starts delivering messages matching subject. A non-empty group
	// makes subscribers of the same group compete for deliveries.
	Subscribe(subject, group string, h Handler) (Subscription, error)
	Close() error
}

// ClosedReporter is implemented by connections that can close on their own,
// for example when the client gives up reconnecting.
type ClosedReporter interface {
	Closed() bool
}

// Driver connects to a concrete broker technology (NATS, RabbitMQ, Kafka, in-memory).
type Driver interface {
	// Protocol is the URI scheme accepted by the connection resolver for this driver.
	Protocol() string
	// DefaultPort is used for connection blocks without an explicit port.
	DefaultPort() int
	Connect(ctx context.Context, opts *connect.Options) (Conn, error)
}
