package queue_test

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/next-trace/scg-message-queue/adapters/inmemory"
	"github.com/next-trace/scg-message-queue/connection"
	"github.com/next-trace/scg-message-queue/contract/messaging"
)

// sharedConn opens a manager over a fresh in-memory broker.
func sharedConn(t *testing.T) (*inmemory.Broker, *connection.Manager) {
	t.Helper()

	b := inmemory.NewBroker()
	m := connection.New(b.Driver(), connection.WithParams(inmemory.Params()))
	require.NoError(t, m.Open(t.Context()))

	t.Cleanup(func() { _ = m.Close(context.Background()) })

	return b, m
}

func send(t *testing.T, q messaging.Queue, messageType, body string) *messaging.Envelope {
	t.Helper()

	e := messaging.NewEnvelope("trace-1", messageType, []byte(body))
	require.NoError(t, q.Send(t.Context(), e))

	return e
}

// collector is a Receiver that records what it was handed.
type collector struct {
	mu     sync.Mutex
	got    []*messaging.Envelope
	queues []messaging.Queue
	err    error
}

func (c *collector) ReceiveMessage(_ context.Context, e *messaging.Envelope, q messaging.Queue) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.got = append(c.got, e)
	c.queues = append(c.queues, q)

	return c.err
}

func (c *collector) bodies() []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]string, 0, len(c.got))
	for _, e := range c.got {
		out = append(out, e.MessageAsString())
	}

	return out
}

func bodies(es []*messaging.Envelope) []string {
	out := make([]string, 0, len(es))
	for _, e := range es {
		out = append(out, e.MessageAsString())
	}

	return out
}
