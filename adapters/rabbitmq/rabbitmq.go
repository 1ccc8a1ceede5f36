package rabbitmq

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"strconv"
	"strings"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/next-trace/scg-message-queue/connect"
	"github.com/next-trace/scg-message-queue/contract/broker"
	berr "github.com/next-trace/scg-message-queue/contract/errors"
)

const (
	// Protocol is the URI scheme accepted for AMQP connections.
	Protocol = "amqp"
	// DefaultPort is the AMQP client port.
	DefaultPort = 5672

	// DefaultExchange is the topic exchange every subject is routed through.
	DefaultExchange = "scg.messages"
	exchangeType    = "topic"
)

// Driver implements broker.Driver on top of amqp091-go.
type Driver struct {
	exchange    string
	vhost       string
	connTimeout time.Duration
	logger      *slog.Logger
}

var _ broker.Driver = (*Driver)(nil)

// DriverOption configures a Driver.
type DriverOption func(*Driver)

// WithExchange overrides the topic exchange name.
func WithExchange(name string) DriverOption {
	return func(d *Driver) {
		if name != "" {
			d.exchange = name
		}
	}
}

// WithVhost selects the virtual host. The default is "/".
func WithVhost(vhost string) DriverOption {
	return func(d *Driver) { d.vhost = vhost }
}

// WithConnTimeout bounds each dial attempt.
func WithConnTimeout(t time.Duration) DriverOption {
	return func(d *Driver) { d.connTimeout = t }
}

// WithLogger sets the logger for dial retries and channel failures.
func WithLogger(l *slog.Logger) DriverOption {
	return func(d *Driver) {
		if l != nil {
			d.logger = l
		}
	}
}

// NewDriver creates an AMQP driver.
func NewDriver(opts ...DriverOption) *Driver {
	d := &Driver{
		exchange:    DefaultExchange,
		vhost:       "/",
		connTimeout: 30 * time.Second,
		logger:      slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(d)
	}

	return d
}

func (d *Driver) Protocol() string { return Protocol }
func (d *Driver) DefaultPort() int { return DefaultPort }

// Connect dials the servers in order until one accepts. With retry_connect set,
// it makes up to max_reconnect further rounds, reconnect_timeout apart
// (a negative max_reconnect retries until ctx ends).
func (d *Driver) Connect(ctx context.Context, o *connect.Options) (broker.Conn, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if o == nil || len(o.Servers) == 0 {
		return nil, fmt.Errorf("%w: amqp servers required", berr.ErrConfiguration)
	}

	uris := make([]string, 0, len(o.Servers))

	for _, s := range o.Servers {
		u, err := d.uri(s, o)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", berr.ErrConfiguration, err)
		}

		uris = append(uris, u)
	}

	rounds := 1
	if o.Tuning.RetryConnect {
		rounds += o.Tuning.MaxReconnect
	}

	forever := o.Tuning.RetryConnect && o.Tuning.MaxReconnect < 0

	var lastErr error

	for round := 0; forever || round < rounds; round++ {
		if round > 0 {
			d.logger.WarnContext(ctx, "amqp dial failed, retrying",
				slog.Int("round", round), slog.String("error", lastErr.Error()))

			if err := sleep(ctx, o.Tuning.ReconnectTimeout); err != nil {
				return nil, err
			}
		}

		for _, u := range uris {
			c, err := d.dial(u)
			if err == nil {
				return c, nil
			}

			lastErr = err
		}
	}

	return nil, lastErr
}

func (d *Driver) dial(uri string) (*conn, error) {
	ac, err := amqp.DialConfig(uri, amqp.Config{
		Locale:     "en_US",
		Properties: amqp.Table{"product": "scg-message-queue"},
		Dial:       amqp.DefaultDial(d.connTimeout),
	})
	if err != nil {
		return nil, err
	}

	ch, err := ac.Channel()
	if err != nil {
		_ = ac.Close()
		return nil, err
	}

	if err := ch.ExchangeDeclare(d.exchange, exchangeType, true, false, false, false, nil); err != nil {
		_ = ch.Close()
		_ = ac.Close()

		return nil, err
	}

	return &conn{
		ac:       ac,
		pub:      ch,
		exchange: d.exchange,
		logger:   d.logger,
		channel:  func() (consumeChannel, error) { return ac.Channel() },
	}, nil
}

// uri builds the dial URI for one "host:port" server. A token without a
// username is sent as the password, as the RabbitMQ OAuth 2 plugin expects.
func (d *Driver) uri(server string, o *connect.Options) (string, error) {
	host, p, err := net.SplitHostPort(server)
	if err != nil {
		return "", err
	}

	port, err := strconv.Atoi(p)
	if err != nil {
		return "", fmt.Errorf("invalid port %q", p)
	}

	u := amqp.URI{
		Scheme:   "amqp",
		Host:     host,
		Port:     port,
		Username: o.Username,
		Password: o.Password,
		Vhost:    d.vhost,
	}

	if o.Token != "" && o.Username == "" {
		u.Password = o.Token
	}

	return u.String(), nil
}

// BindingKey maps a NATS-style subject pattern to an AMQP topic binding key.
// "*" already means one word in both; a trailing ">" becomes "#".
func BindingKey(subject string) string {
	tokens := strings.Split(subject, ".")
	if n := len(tokens); tokens[n-1] == ">" {
		tokens[n-1] = "#"
	}

	return strings.Join(tokens, ".")
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}

	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
