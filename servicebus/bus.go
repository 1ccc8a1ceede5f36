package servicebus

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	berr "github.com/next-trace/scg-message-queue/contract/errors"
	"github.com/next-trace/scg-message-queue/contract/messaging"
)

// Handler processes one envelope.
type Handler func(ctx context.Context, e *messaging.Envelope) error

// Middleware wraps handler execution. Middlewares are executed in registration order.
type Middleware func(next Handler) Handler

// Dispatcher maps message types to handlers.
//
// Dispatcher is concurrency-safe and contains no global state.
type Dispatcher struct {
	mu sync.RWMutex

	handlers map[string]Handler
	fallback Handler

	// global middleware executed in registration order
	mw []Middleware

	logger *slog.Logger
}

var _ messaging.Receiver = (*Dispatcher)(nil)

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithMiddleware registers global middleware.
func WithMiddleware(mw ...Middleware) Option {
	return func(d *Dispatcher) { d.mw = append(d.mw, mw...) }
}

// WithFallback handles message types without a bound handler instead of failing.
func WithFallback(h Handler) Option {
	return func(d *Dispatcher) { d.fallback = h }
}

// WithLogger sets the logger. Nil keeps the default discard logger.
func WithLogger(l *slog.Logger) Option {
	return func(d *Dispatcher) {
		if l != nil {
			d.logger = l
		}
	}
}

// New constructs an empty Dispatcher.
func New(opts ...Option) *Dispatcher {
	d := &Dispatcher{
		handlers: make(map[string]Handler),
		logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(d)
	}

	return d
}

// Bind registers h for messageType. Duplicate bindings are rejected.
func (d *Dispatcher) Bind(messageType string, h Handler) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, exists := d.handlers[messageType]; exists {
		return fmt.Errorf("bind %s: %w", messageType, berr.ErrHandlerExists)
	}

	d.handlers[messageType] = h

	return nil
}

// BindJSON registers a handler receiving the JSON-decoded payload as T.
// Payloads that do not decode fail with ErrSerializationFailed.
func BindJSON[T any](d *Dispatcher, messageType string, h func(ctx context.Context, v T, e *messaging.Envelope) error) error {
	return d.Bind(messageType, func(ctx context.Context, e *messaging.Envelope) error {
		var v T
		if err := e.MessageAsJSON(&v); err != nil {
			return fmt.Errorf("dispatch %s: %w", messageType, err)
		}

		return h(ctx, v, e)
	})
}

// Dispatch runs the handler bound to e.MessageType through the middleware chain.
func (d *Dispatcher) Dispatch(ctx context.Context, e *messaging.Envelope) error {
	return d.dispatchWithMiddleware(ctx, e)
}

// DispatchWithMiddleware dispatches with additional per-call middleware.
func (d *Dispatcher) DispatchWithMiddleware(ctx context.Context, e *messaging.Envelope, mws ...Middleware) error {
	return d.dispatchWithMiddleware(ctx, e, mws...)
}

func (d *Dispatcher) dispatchWithMiddleware(ctx context.Context, e *messaging.Envelope, mws ...Middleware) error {
	d.mu.RLock()
	f, ok := d.handlers[e.MessageType]
	if !ok {
		f = d.fallback
	}
	chain := make([]Middleware, 0, len(d.mw)+len(mws))
	chain = append(chain, d.mw...)
	d.mu.RUnlock()

	if f == nil {
		return fmt.Errorf("dispatch %s: %w", e.MessageType, berr.ErrHandlerNotFound)
	}

	chain = append(chain, mws...)

	// Build chain so the first registered middleware runs first
	final := f
	for i := len(chain) - 1; i >= 0; i-- {
		final = chain[i](final)
	}

	return final(ctx, e)
}

// ReceiveMessage dispatches a delivery from q. Failures are logged and returned.
func (d *Dispatcher) ReceiveMessage(ctx context.Context, e *messaging.Envelope, q messaging.Queue) error {
	err := d.Dispatch(ctx, e)
	if err != nil {
		d.logger.ErrorContext(ctx, "dispatch failed",
			slog.String("queue", q.Name()),
			slog.String("message_id", e.MessageID),
			slog.String("message_type", e.MessageType),
			slog.String("error", err.Error()))
	}

	return err
}

// Serve installs d on q and blocks until ctx ends, then removes it.
func Serve(ctx context.Context, q messaging.Queue, d *Dispatcher) error {
	if err := q.Listen(ctx, d); err != nil {
		return err
	}

	<-ctx.Done()
	q.EndListen(context.WithoutCancel(ctx))

	return nil
}

// SendJSON sends v as a JSON payload of the given message type.
func SendJSON(ctx context.Context, q messaging.Queue, traceID, messageType string, v any) error {
	e := messaging.NewEnvelope(traceID, messageType, nil)
	if err := e.SetMessageAsJSON(v); err != nil {
		return fmt.Errorf("send %s: %w", messageType, err)
	}

	return q.Send(ctx, e)
}

// Logging logs every dispatch with its duration at debug level and failures at error level.
func Logging(l *slog.Logger) Middleware {
	return func(next Handler) Handler {
		return func(ctx context.Context, e *messaging.Envelope) error {
			start := time.Now()
			err := next(ctx, e)

			attrs := []any{
				slog.String("message_id", e.MessageID),
				slog.String("message_type", e.MessageType),
				slog.Duration("took", time.Since(start)),
			}

			if err != nil {
				l.ErrorContext(ctx, "handler failed", append(attrs, slog.String("error", err.Error()))...)
				return err
			}

			l.DebugContext(ctx, "handled", attrs...)

			return nil
		}
	}
}

// Recover turns a handler panic into an error.
func Recover() Middleware {
	return func(next Handler) Handler {
		return func(ctx context.Context, e *messaging.Envelope) (err error) {
			defer func() {
				if r := recover(); r != nil {
					err = fmt.Errorf("dispatch %s: handler panic: %v", e.MessageType, r)
				}
			}()

			return next(ctx, e)
		}
	}
}
