package rabbitmq

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/next-trace/scg-message-queue/contract/broker"
)

// Concrete AMQP connection-backed broker.Conn. Publishing shares one channel;
// each subscription consumes on its own channel.

type publisher interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

type consumeChannel interface {
	QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error)
	QueueBind(name, key, exchange string, noWait bool, args amqp.Table) error
	Consume(queue, consumer string, autoAck, exclusive, noLocal, noWait bool, args amqp.Table) (<-chan amqp.Delivery, error)
	NotifyClose(c chan *amqp.Error) chan *amqp.Error
	Cancel(consumer string, noWait bool) error
	Close() error
}

type conn struct {
	ac       io.Closer
	pub      publisher
	exchange string
	logger   *slog.Logger
	channel  func() (consumeChannel, error)
}

func (c *conn) Publish(ctx context.Context, m *broker.Msg) error {
	var h amqp.Table
	if len(m.Header) > 0 {
		h = amqp.Table{}
		for k, v := range m.Header {
			h[k] = v
		}
	}

	return c.pub.PublishWithContext(ctx, c.exchange, m.Subject, false, false, amqp.Publishing{
		DeliveryMode: amqp.Transient,
		Headers:      h,
		ContentType:  "application/octet-stream",
		MessageId:    m.Header["message_id"],
		Type:         m.Header["message_type"],
		Body:         m.Data,
	})
}

// Subscribe binds a queue to subject. A group shares one auto-delete queue
// named after group and subject so members compete; without a group the
// queue is exclusive and server-named.
func (c *conn) Subscribe(subject, group string, h broker.Handler) (broker.Subscription, error) {
	ch, err := c.channel()
	if err != nil {
		return nil, err
	}

	var q amqp.Queue
	if group != "" {
		q, err = ch.QueueDeclare(fmt.Sprintf("%s.%s", group, subject), false, true, false, false, nil)
	} else {
		q, err = ch.QueueDeclare("", false, true, true, false, nil)
	}

	if err == nil {
		err = ch.QueueBind(q.Name, BindingKey(subject), c.exchange, false, nil)
	}

	tag := uuid.NewString()

	var deliveries <-chan amqp.Delivery
	if err == nil {
		deliveries, err = ch.Consume(q.Name, tag, true, false, false, false, nil)
	}

	if err != nil {
		_ = ch.Close()
		return nil, err
	}

	closed := ch.NotifyClose(make(chan *amqp.Error, 1))

	go func() {
		for d := range deliveries {
			h(fromDelivery(&d), nil)
		}

		if aerr, ok := <-closed; ok && aerr != nil {
			c.logger.Warn("amqp subscription channel closed",
				slog.String("subject", subject), slog.String("error", aerr.Error()))
			h(nil, aerr)
		}
	}()

	return &subscription{ch: ch, tag: tag}, nil
}

func (c *conn) Close() error {
	perr := c.pub.Close()
	cerr := c.ac.Close()

	if errors.Is(perr, amqp.ErrClosed) {
		perr = nil
	}

	if errors.Is(cerr, amqp.ErrClosed) {
		cerr = nil
	}

	return errors.Join(perr, cerr)
}

type subscription struct {
	ch  consumeChannel
	tag string
}

func (s *subscription) Unsubscribe() error {
	err := s.ch.Cancel(s.tag, false)
	if errors.Is(err, amqp.ErrClosed) {
		err = nil
	}

	cerr := s.ch.Close()
	if errors.Is(cerr, amqp.ErrClosed) {
		cerr = nil
	}

	return errors.Join(err, cerr)
}

func fromDelivery(d *amqp.Delivery) *broker.Msg {
	m := &broker.Msg{Subject: d.RoutingKey, Data: d.Body}

	if len(d.Headers) > 0 {
		m.Header = make(map[string]string, len(d.Headers))
		for k, v := range d.Headers {
			switch v := v.(type) {
			case string:
				m.Header[k] = v
			case []byte:
				m.Header[k] = string(v)
			default:
				m.Header[k] = fmt.Sprint(v)
			}
		}
	}

	return m
}
