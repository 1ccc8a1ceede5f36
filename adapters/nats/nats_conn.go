package nats

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/next-trace/scg-message-queue/contract/broker"
)

// Concrete NATS connection-backed broker.Conn.

type conn struct {
	nc           *nats.Conn
	flushTimeout time.Duration
	logger       *slog.Logger

	mu       sync.RWMutex
	handlers map[*nats.Subscription]broker.Handler

	// status is signalled on connect, reconnect and close.
	status chan struct{}
}

var _ broker.ClosedReporter = (*conn)(nil)

func newConn(flushTimeout time.Duration, logger *slog.Logger) *conn {
	return &conn{
		flushTimeout: flushTimeout,
		logger:       logger,
		handlers:     make(map[*nats.Subscription]broker.Handler),
		status:       make(chan struct{}, 1),
	}
}

func (c *conn) signal() {
	select {
	case c.status <- struct{}{}:
	default:
	}
}

// awaitConnected blocks until the client holds a server connection. With
// retry on failed connect the client may still be dialing in the background;
// it gives up by closing itself once its reconnect attempts are used up.
func (c *conn) awaitConnected(ctx context.Context) error {
	tick := time.NewTicker(statusPoll)
	defer tick.Stop()

	for {
		switch {
		case c.nc.IsConnected():
			return nil
		case c.nc.IsClosed():
			if err := c.nc.LastError(); err != nil {
				return err
			}

			return nats.ErrNoServers
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-c.status:
		case <-tick.C:
		}
	}
}

// Closed reports whether the client closed for good, including after it ran
// out of reconnect attempts.
func (c *conn) Closed() bool {
	return c.nc == nil || c.nc.IsClosed()
}

// Publish writes the message. With a flush timeout configured, or a ctx deadline,
// it also waits for the server round trip; otherwise the client flushes in the background.
func (c *conn) Publish(ctx context.Context, m *broker.Msg) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	if err := c.nc.PublishMsg(toNats(m)); err != nil {
		return err
	}

	if c.flushTimeout > 0 {
		return c.nc.FlushTimeout(c.flushTimeout)
	}

	if _, ok := ctx.Deadline(); ok {
		return c.nc.FlushWithContext(ctx)
	}

	return nil
}

func (c *conn) Subscribe(subject, group string, h broker.Handler) (broker.Subscription, error) {
	cb := func(m *nats.Msg) { h(fromNats(m), nil) }

	var (
		sub *nats.Subscription
		err error
	)

	if group != "" {
		sub, err = c.nc.QueueSubscribe(subject, group, cb)
	} else {
		sub, err = c.nc.Subscribe(subject, cb)
	}

	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.handlers[sub] = h
	c.mu.Unlock()

	return &subscription{c: c, sub: sub}, nil
}

func (c *conn) Close() error {
	if c.nc != nil && !c.nc.IsClosed() {
		c.nc.Close()
	}

	return nil
}

// asyncError routes subscription-level failures (slow consumer, permissions)
// to the owning handler.
func (c *conn) asyncError(sub *nats.Subscription, err error) {
	c.mu.RLock()
	h, ok := c.handlers[sub]
	c.mu.RUnlock()

	if !ok {
		c.logger.Error("nats async error", slog.String("error", err.Error()))
		return
	}

	h(nil, err)
}

type subscription struct {
	c   *conn
	sub *nats.Subscription
}

func (s *subscription) Unsubscribe() error {
	s.c.mu.Lock()
	delete(s.c.handlers, s.sub)
	s.c.mu.Unlock()

	err := s.sub.Unsubscribe()
	if errors.Is(err, nats.ErrConnectionClosed) || errors.Is(err, nats.ErrBadSubscription) {
		return nil
	}

	return err
}

func toNats(m *broker.Msg) *nats.Msg {
	msg := &nats.Msg{Subject: m.Subject, Data: m.Data}

	if len(m.Header) > 0 {
		msg.Header = nats.Header{}
		for k, v := range m.Header {
			msg.Header.Set(k, v)
		}
	}

	return msg
}

func fromNats(m *nats.Msg) *broker.Msg {
	out := &broker.Msg{Subject: m.Subject, Data: m.Data}

	if len(m.Header) > 0 {
		out.Header = make(map[string]string, len(m.Header))
		for k, vs := range m.Header {
			if len(vs) > 0 {
				out.Header[k] = vs[0]
			}
		}
	}

	return out
}
