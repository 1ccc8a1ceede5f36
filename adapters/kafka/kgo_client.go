package kafka

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/twmb/franz-go/pkg/kgo"

	"github.com/next-trace/scg-message-queue/contract/broker"
)

// Concrete franz-go backed broker.Conn.

type conn struct {
	producer  client
	base      []kgo.Opt
	newClient func(opts ...kgo.Opt) (client, error)
	logger    *slog.Logger
}

func (c *conn) Publish(ctx context.Context, m *broker.Msg) error {
	return c.producer.ProduceSync(ctx, toRecord(m)).FirstErr()
}

// Subscribe starts a consumer client for subject. Without a group it reads
// only records produced from now on; with one, the group shares the partitions.
func (c *conn) Subscribe(subject, group string, h broker.Handler) (broker.Subscription, error) {
	opts := append([]kgo.Opt{}, c.base...)

	if pattern, ok := TopicPattern(subject); ok {
		opts = append(opts, kgo.ConsumeRegex(), kgo.ConsumeTopics(pattern))
	} else {
		opts = append(opts, kgo.ConsumeTopics(subject))
	}

	opts = append(opts, kgo.ConsumeResetOffset(kgo.NewOffset().AtEnd()))
	if group != "" {
		opts = append(opts, kgo.ConsumerGroup(group))
	}

	cl, err := c.newClient(opts...)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &subscription{cl: cl, cancel: cancel}

	go c.consume(ctx, cl, subject, h)

	return s, nil
}

func (c *conn) consume(ctx context.Context, cl client, subject string, h broker.Handler) {
	for {
		fetches := cl.PollFetches(ctx)
		if ctx.Err() != nil || fetches.IsClientClosed() {
			return
		}

		fetches.EachError(func(topic string, partition int32, err error) {
			c.logger.Warn("kafka fetch failed",
				slog.String("subject", subject),
				slog.String("topic", topic),
				slog.Int("partition", int(partition)),
				slog.String("error", err.Error()))
			h(nil, fmt.Errorf("kafka fetch %s[%d]: %w", topic, partition, err))
		})

		fetches.EachRecord(func(r *kgo.Record) {
			h(fromRecord(r), nil)
		})
	}
}

func (c *conn) Close() error {
	c.producer.Close()
	return nil
}

type subscription struct {
	cl     client
	cancel context.CancelFunc
}

func (s *subscription) Unsubscribe() error {
	s.cancel()
	s.cl.Close()

	return nil
}

func toRecord(m *broker.Msg) *kgo.Record {
	rec := &kgo.Record{Topic: m.Subject, Value: m.Data}

	if id := m.Header["message_id"]; id != "" {
		rec.Key = []byte(id)
	}

	if len(m.Header) > 0 {
		rec.Headers = make([]kgo.RecordHeader, 0, len(m.Header))
		for k, v := range m.Header {
			rec.Headers = append(rec.Headers, kgo.RecordHeader{Key: k, Value: []byte(v)})
		}
	}

	return rec
}

func fromRecord(r *kgo.Record) *broker.Msg {
	m := &broker.Msg{Subject: r.Topic, Data: r.Value}

	if len(r.Headers) > 0 {
		m.Header = make(map[string]string, len(r.Headers))
		for _, h := range r.Headers {
			m.Header[h.Key] = string(h.Value)
		}
	}

	return m
}
