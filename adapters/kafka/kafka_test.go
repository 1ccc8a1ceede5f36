package kafka

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/twmb/franz-go/pkg/kgo"

	"github.com/next-trace/scg-message-queue/connect"
	"github.com/next-trace/scg-message-queue/contract/broker"
	berr "github.com/next-trace/scg-message-queue/contract/errors"
)

// Unified Kafka driver tests (single file).

type fakeClient struct {
	mu       sync.Mutex
	produced []*kgo.Record
	err      error
	pingErr  error
	closed   bool
	opts     int

	fetches chan kgo.Fetches
}

func newFakeClient() *fakeClient {
	return &fakeClient{fetches: make(chan kgo.Fetches, 4)}
}

func (f *fakeClient) ProduceSync(_ context.Context, rs ...*kgo.Record) kgo.ProduceResults {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.produced = append(f.produced, rs...)

	out := make(kgo.ProduceResults, 0, len(rs))
	for _, r := range rs {
		out = append(out, kgo.ProduceResult{Record: r, Err: f.err})
	}

	return out
}

func (f *fakeClient) PollFetches(ctx context.Context) kgo.Fetches {
	select {
	case fs := <-f.fetches:
		return fs
	case <-ctx.Done():
		return nil
	}
}

func (f *fakeClient) Ping(context.Context) error { return f.pingErr }

func (f *fakeClient) Close() {
	f.mu.Lock()
	f.closed = true
	f.mu.Unlock()
}

func (f *fakeClient) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.closed
}

func fakeDriver(clients ...*fakeClient) *Driver {
	d := NewDriver(WithClientID("test"))

	i := 0
	d.newClient = func(opts ...kgo.Opt) (client, error) {
		c := clients[i]
		c.opts = len(opts)
		i++

		return c, nil
	}

	return d
}

func fetchOf(recs ...*kgo.Record) kgo.Fetches {
	return kgo.Fetches{{Topics: []kgo.FetchTopic{{
		Topic:      recs[0].Topic,
		Partitions: []kgo.FetchPartition{{Partition: 0, Records: recs}},
	}}}}
}

func testOptions() *connect.Options {
	return &connect.Options{Protocol: Protocol, Servers: []string{"127.0.0.1:9092"}, Tuning: connect.DefaultTuning()}
}

func TestDriver_Identity(t *testing.T) {
	d := NewDriver()
	if d.Protocol() != "kafka" || d.DefaultPort() != 9092 {
		t.Fatalf("unexpected identity %s:%d", d.Protocol(), d.DefaultPort())
	}
}

func TestTopicPattern(t *testing.T) {
	cases := []struct {
		in, want string
		wild     bool
	}{
		{"orders", "orders", false},
		{"orders.created", "orders.created", false},
		{"orders.*", `^orders\.[^.]+$`, true},
		{"orders.>", `^orders\..+$`, true},
		{"a.*.c", `^a\.[^.]+\.c$`, true},
	}

	for _, c := range cases {
		got, wild := TopicPattern(c.in)
		if got != c.want || wild != c.wild {
			t.Fatalf("TopicPattern(%q) = %q,%v want %q,%v", c.in, got, wild, c.want, c.wild)
		}
	}
}

func TestConnect_NoBrokers(t *testing.T) {
	_, err := NewDriver().Connect(t.Context(), &connect.Options{})
	if !errors.Is(err, berr.ErrConfiguration) {
		t.Fatalf("want ErrConfiguration, got %v", err)
	}
}

func TestConnect_PingFailureClosesClient(t *testing.T) {
	cl := newFakeClient()
	cl.pingErr = errors.New("no brokers")

	_, err := fakeDriver(cl).Connect(t.Context(), testOptions())
	if err == nil || !cl.isClosed() {
		t.Fatalf("want ping error and closed client, got %v closed=%v", err, cl.isClosed())
	}
}

func TestConnect_Options(t *testing.T) {
	d := NewDriver(WithClientID("svc"))

	o := testOptions()
	o.Username, o.Password = "u", "p"

	// seed brokers, client id, SASL, retries, backoff
	if n := len(d.options(o)); n != 5 {
		t.Fatalf("want 5 options, got %d", n)
	}

	o.Tuning.RetryConnect = false
	o.Tuning.ReconnectTimeout = 0
	o.Username = ""

	if n := len(d.options(o)); n != 3 {
		t.Fatalf("want 3 options, got %d", n)
	}
}

func TestConn_Publish(t *testing.T) {
	cl := newFakeClient()

	c, err := fakeDriver(cl).Connect(t.Context(), testOptions())
	if err != nil {
		t.Fatalf("connect: %v", err)
	}

	err = c.Publish(t.Context(), &broker.Msg{
		Subject: "orders",
		Header:  map[string]string{"message_id": "m1", "message_type": "created"},
		Data:    []byte("x"),
	})
	if err != nil {
		t.Fatalf("publish: %v", err)
	}

	r := cl.produced[0]
	if r.Topic != "orders" || string(r.Key) != "m1" || string(r.Value) != "x" || len(r.Headers) != 2 {
		t.Fatalf("unexpected record %+v", r)
	}

	cl.err = errors.New("boom")
	if err := c.Publish(t.Context(), &broker.Msg{Subject: "orders"}); err == nil {
		t.Fatalf("expected produce error")
	}

	if err := c.Close(); err != nil || !cl.isClosed() {
		t.Fatalf("close: %v", err)
	}
}

func TestConn_SubscribeDeliversAndStops(t *testing.T) {
	producer, consumer := newFakeClient(), newFakeClient()

	c, err := fakeDriver(producer, consumer).Connect(t.Context(), testOptions())
	if err != nil {
		t.Fatalf("connect: %v", err)
	}

	got := make(chan *broker.Msg, 1)

	sub, err := c.Subscribe("orders.*", "workers", func(m *broker.Msg, err error) {
		if err == nil {
			got <- m
		}
	})
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	consumer.fetches <- fetchOf(&kgo.Record{
		Topic:   "orders.created",
		Value:   []byte("x"),
		Headers: []kgo.RecordHeader{{Key: "message_id", Value: []byte("m1")}},
	})

	select {
	case m := <-got:
		if m.Subject != "orders.created" || m.Header["message_id"] != "m1" {
			t.Fatalf("unexpected delivery %+v", m)
		}
	case <-time.After(time.Second):
		t.Fatalf("no delivery")
	}

	if err := sub.Unsubscribe(); err != nil || !consumer.isClosed() {
		t.Fatalf("unsubscribe: %v", err)
	}
}

func TestConn_FetchErrorReachesHandler(t *testing.T) {
	producer, consumer := newFakeClient(), newFakeClient()

	c, err := fakeDriver(producer, consumer).Connect(t.Context(), testOptions())
	if err != nil {
		t.Fatalf("connect: %v", err)
	}

	errs := make(chan error, 1)

	sub, err := c.Subscribe("orders", "", func(_ *broker.Msg, err error) {
		if err != nil {
			errs <- err
		}
	})
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer sub.Unsubscribe() //nolint:errcheck // test cleanup

	boom := errors.New("leader not available")
	consumer.fetches <- kgo.Fetches{{Topics: []kgo.FetchTopic{{
		Topic:      "orders",
		Partitions: []kgo.FetchPartition{{Partition: 3, Err: boom}},
	}}}}

	select {
	case err := <-errs:
		if !errors.Is(err, boom) {
			t.Fatalf("unexpected error %v", err)
		}
	case <-time.After(time.Second):
		t.Fatalf("handler not notified")
	}
}
