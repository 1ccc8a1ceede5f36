package queue

import (
	"log/slog"

	"github.com/next-trace/scg-message-queue/connection"
	"github.com/next-trace/scg-message-queue/contract/broker"
)

// Option configures a queue at construction.
type Option func(*base)

// WithLogger sets the structured logger. Nil keeps the default discard logger.
func WithLogger(l *slog.Logger) Option {
	return func(b *base) {
		if l != nil {
			b.logger = l
		}
	}
}

// WithDriver selects the broker driver used when the queue creates its own connection.
// The default is the NATS driver.
func WithDriver(d broker.Driver) Option {
	return func(b *base) {
		if d != nil {
			b.driver = d
		}
	}
}

// WithConnection shares an externally managed connection. The queue never opens
// or closes it and requires it to be open by the time the queue opens.
func WithConnection(m *connection.Manager) Option {
	return func(b *base) {
		if m != nil {
			b.conn = m
			b.ownsConn = false
		}
	}
}

// WithLocatorName sets the name SetReferences looks up. Defaults to connection.DefaultName.
func WithLocatorName(name string) Option {
	return func(b *base) { b.locatorName = name }
}
