package nats

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/next-trace/scg-message-queue/connect"
	"github.com/next-trace/scg-message-queue/contract/broker"
	berr "github.com/next-trace/scg-message-queue/contract/errors"
)

const (
	// Protocol is the URI scheme accepted for NATS connections.
	Protocol = "nats"
	// DefaultPort is the NATS client port.
	DefaultPort = 4222
)

// statusPoll backs up the client status callbacks while Connect waits for the first connection.
const statusPoll = 50 * time.Millisecond

// Driver implements broker.Driver on top of nats.go.
type Driver struct {
	name        string
	connTimeout time.Duration
	logger      *slog.Logger
}

var _ broker.Driver = (*Driver)(nil)

// DriverOption configures a Driver.
type DriverOption func(*Driver)

// WithName sets the client connection name shown by the server.
func WithName(name string) DriverOption {
	return func(d *Driver) { d.name = name }
}

// WithConnTimeout bounds each dial attempt.
func WithConnTimeout(t time.Duration) DriverOption {
	return func(d *Driver) { d.connTimeout = t }
}

// WithLogger sets the logger for connection events and unroutable async errors.
func WithLogger(l *slog.Logger) DriverOption {
	return func(d *Driver) {
		if l != nil {
			d.logger = l
		}
	}
}

// NewDriver creates a NATS driver.
func NewDriver(opts ...DriverOption) *Driver {
	d := &Driver{logger: slog.New(slog.NewTextHandler(io.Discard, nil))}
	for _, opt := range opts {
		opt(d)
	}

	return d
}

func (d *Driver) Protocol() string { return Protocol }
func (d *Driver) DefaultPort() int { return DefaultPort }

// Connect dials the cluster described by o and returns once a server connection
// is established. With retry_connect the client keeps dialing up to max_reconnect
// times, reconnect_timeout apart (forever when max_reconnect is negative), and
// Connect waits for it. The dial runs in the background so ctx cancellation
// returns early; a connection completing after that is closed.
func (d *Driver) Connect(ctx context.Context, o *connect.Options) (broker.Conn, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if o == nil || len(o.Servers) == 0 {
		return nil, fmt.Errorf("%w: nats servers required", berr.ErrConfiguration)
	}

	c := newConn(o.Tuning.FlushTimeout, d.logger)

	type result struct {
		nc  *nats.Conn
		err error
	}

	done := make(chan result, 1)

	go func() {
		nc, err := nats.Connect(o.URL(), d.options(o, c)...)
		done <- result{nc: nc, err: err}
	}()

	select {
	case r := <-done:
		if r.err != nil {
			return nil, r.err
		}

		c.nc = r.nc

		if err := c.awaitConnected(ctx); err != nil {
			r.nc.Close()
			return nil, err
		}

		return c, nil
	case <-ctx.Done():
		go func() {
			if r := <-done; r.nc != nil {
				r.nc.Close()
			}
		}()

		return nil, ctx.Err()
	}
}

func (d *Driver) options(o *connect.Options, c *conn) []nats.Option {
	opts := []nats.Option{
		nats.MaxReconnects(o.Tuning.MaxReconnect),
		nats.RetryOnFailedConnect(o.Tuning.RetryConnect),
		nats.ErrorHandler(func(_ *nats.Conn, sub *nats.Subscription, err error) {
			c.asyncError(sub, err)
		}),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				d.logger.Warn("nats disconnected", slog.String("error", err.Error()))
			}
		}),
		nats.ConnectHandler(func(nc *nats.Conn) {
			d.logger.Info("nats connected", slog.String("url", nc.ConnectedUrlRedacted()))
			c.signal()
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			d.logger.Info("nats reconnected", slog.String("url", nc.ConnectedUrlRedacted()))
			c.signal()
		}),
		nats.ClosedHandler(func(nc *nats.Conn) {
			if err := nc.LastError(); err != nil {
				d.logger.Warn("nats connection closed", slog.String("error", err.Error()))
			}

			c.signal()
		}),
	}

	if o.Tuning.ReconnectTimeout > 0 {
		opts = append(opts, nats.ReconnectWait(o.Tuning.ReconnectTimeout))
	}

	if d.name != "" {
		opts = append(opts, nats.Name(d.name))
	}

	if d.connTimeout > 0 {
		opts = append(opts, nats.Timeout(d.connTimeout))
	}

	switch {
	case o.Token != "":
		opts = append(opts, nats.Token(o.Token))
	case o.Username != "":
		opts = append(opts, nats.UserInfo(o.Username, o.Password))
	}

	return opts
}
