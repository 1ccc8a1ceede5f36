package memory

import (
	"context"

	"github.com/next-trace/scg-message-queue/adapters/inmemory"
	"github.com/next-trace/scg-message-queue/connection"
)

// New opens a connection manager over a private in-memory broker and returns it
// along with a cleanup function that closes it.
func New(ctx context.Context, opts ...connection.Option) (*connection.Manager, func(), error) {
	b := inmemory.NewBroker()

	opts = append([]connection.Option{connection.WithParams(inmemory.Params())}, opts...)
	m := connection.New(b.Driver(), opts...)

	if err := m.Open(ctx); err != nil {
		return nil, nil, err
	}

	cleanup := func() { _ = m.Close(context.Background()) }

	return m, cleanup, nil
}

// Registry is New with the manager registered under connection.DefaultName,
// ready for queues resolving their connection through SetReferences.
func Registry(ctx context.Context, opts ...connection.Option) (*connection.Registry, func(), error) {
	m, cleanup, err := New(ctx, opts...)
	if err != nil {
		return nil, nil, err
	}

	reg := connection.NewRegistry()
	reg.Register(connection.DefaultName, m)

	return reg, cleanup, nil
}
