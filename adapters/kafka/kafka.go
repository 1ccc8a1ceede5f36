// Package kafka provides an Apache Kafka broker driver built on franz-go.
// Subjects are topics; wildcard subscriptions consume by topic regex and
// queue groups map to consumer groups.
package kafka

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/twmb/franz-go/pkg/kgo"
	"github.com/twmb/franz-go/pkg/sasl/plain"

	"github.com/next-trace/scg-message-queue/connect"
	"github.com/next-trace/scg-message-queue/contract/broker"
	berr "github.com/next-trace/scg-message-queue/contract/errors"
)

const (
	// Protocol is the URI scheme accepted for Kafka connections.
	Protocol = "kafka"
	// DefaultPort is the Kafka broker port.
	DefaultPort = 9092
)

// client is the subset of *kgo.Client the driver uses.
type client interface {
	ProduceSync(ctx context.Context, rs ...*kgo.Record) kgo.ProduceResults
	PollFetches(ctx context.Context) kgo.Fetches
	Ping(ctx context.Context) error
	Close()
}

// Driver implements broker.Driver on top of franz-go.
type Driver struct {
	clientID  string
	tls       *tls.Config
	logger    *slog.Logger
	newClient func(opts ...kgo.Opt) (client, error)
}

var _ broker.Driver = (*Driver)(nil)

// DriverOption configures a Driver.
type DriverOption func(*Driver)

// WithClientID sets the client id sent to brokers.
func WithClientID(id string) DriverOption {
	return func(d *Driver) { d.clientID = id }
}

// WithTLS enables TLS with the given configuration.
func WithTLS(cfg *tls.Config) DriverOption {
	return func(d *Driver) { d.tls = cfg }
}

// WithLogger sets the logger for consumer loop events.
func WithLogger(l *slog.Logger) DriverOption {
	return func(d *Driver) {
		if l != nil {
			d.logger = l
		}
	}
}

// NewDriver creates a Kafka driver.
func NewDriver(opts ...DriverOption) *Driver {
	d := &Driver{
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
		newClient: func(opts ...kgo.Opt) (client, error) {
			return kgo.NewClient(opts...)
		},
	}
	for _, opt := range opts {
		opt(d)
	}

	return d
}

func (d *Driver) Protocol() string { return Protocol }
func (d *Driver) DefaultPort() int { return DefaultPort }

// Connect creates the producing client and pings the cluster. Consumers get
// their own client per subscription, built from the same options.
func (d *Driver) Connect(ctx context.Context, o *connect.Options) (broker.Conn, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if o == nil || len(o.Servers) == 0 {
		return nil, fmt.Errorf("%w: kafka brokers required", berr.ErrConfiguration)
	}

	base := d.options(o)

	cl, err := d.newClient(base...)
	if err != nil {
		return nil, fmt.Errorf("%w: kafka client init: %w", berr.ErrConfiguration, err)
	}

	if err := cl.Ping(ctx); err != nil {
		cl.Close()
		return nil, err
	}

	return &conn{producer: cl, base: base, newClient: d.newClient, logger: d.logger}, nil
}

func (d *Driver) options(o *connect.Options) []kgo.Opt {
	opts := []kgo.Opt{kgo.SeedBrokers(o.Servers...)}

	if d.clientID != "" {
		opts = append(opts, kgo.ClientID(d.clientID))
	}

	if d.tls != nil {
		opts = append(opts, kgo.DialTLSConfig(d.tls))
	}

	if o.Username != "" {
		opts = append(opts, kgo.SASL(plain.Auth{User: o.Username, Pass: o.Password}.AsMechanism()))
	}

	if !o.Tuning.RetryConnect {
		opts = append(opts, kgo.RequestRetries(0))
	} else if o.Tuning.MaxReconnect >= 0 {
		opts = append(opts, kgo.RequestRetries(o.Tuning.MaxReconnect))
	}

	if wait := o.Tuning.ReconnectTimeout; wait > 0 {
		opts = append(opts, kgo.RetryBackoffFn(func(int) time.Duration { return wait }))
	}

	return opts
}

// TopicPattern converts a NATS-style subject to a topic regex. It reports
// false for subjects without wildcards, which are consumed as plain topics.
func TopicPattern(subject string) (string, bool) {
	tokens := strings.Split(subject, ".")
	wild := false

	for i, t := range tokens {
		switch t {
		case "*":
			tokens[i] = `[^.]+`
			wild = true
		case ">":
			tokens[i] = `.+`
			wild = true
		default:
			tokens[i] = regexp.QuoteMeta(t)
		}
	}

	if !wild {
		return subject, false
	}

	return "^" + strings.Join(tokens, `\.`) + "$", true
}
