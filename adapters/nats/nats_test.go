package nats_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/next-trace/scg-message-queue/adapters/nats"
	"github.com/next-trace/scg-message-queue/config"
	"github.com/next-trace/scg-message-queue/connect"
	"github.com/next-trace/scg-message-queue/connection"
	berr "github.com/next-trace/scg-message-queue/contract/errors"
)

func TestDriver_Identity(t *testing.T) {
	d := nats.NewDriver()

	if d.Protocol() != "nats" {
		t.Fatalf("protocol = %q", d.Protocol())
	}

	if d.DefaultPort() != 4222 {
		t.Fatalf("port = %d", d.DefaultPort())
	}
}

func TestConnect_NoServers(t *testing.T) {
	_, err := nats.NewDriver().Connect(context.Background(), &connect.Options{Protocol: "nats"})
	if !errors.Is(err, berr.ErrConfiguration) {
		t.Fatalf("want ErrConfiguration, got %v", err)
	}

	_, err = nats.NewDriver().Connect(context.Background(), nil)
	if !errors.Is(err, berr.ErrConfiguration) {
		t.Fatalf("want ErrConfiguration for nil options, got %v", err)
	}
}

func TestConnect_CanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := nats.NewDriver().Connect(ctx, &connect.Options{Servers: []string{"127.0.0.1:1"}})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("want context.Canceled, got %v", err)
	}
}

func TestConnect_Unreachable(t *testing.T) {
	o := &connect.Options{
		Protocol: "nats",
		Servers:  []string{"127.0.0.1:1"},
		Tuning:   connect.Tuning{RetryConnect: false, MaxReconnect: 0},
	}

	d := nats.NewDriver(nats.WithName("test"), nats.WithConnTimeout(500*time.Millisecond))

	c, err := d.Connect(context.Background(), o)
	if err == nil {
		_ = c.Close()
		t.Fatalf("expected dial error")
	}
}

func TestManager_OpenUnreachable(t *testing.T) {
	m := connection.New(nats.NewDriver(), connection.WithParams(config.NewParams(
		"connection.uri", "nats://127.0.0.1:1",
		"options.retry_connect", "false",
	)))

	err := m.Open(context.Background())
	if !errors.Is(err, berr.ErrConnection) {
		t.Fatalf("want ErrConnection, got %v", err)
	}

	var ce *berr.ConnectionError
	if !errors.As(err, &ce) || ce.Op != "connect" {
		t.Fatalf("want ConnectionError{Op: connect}, got %#v", err)
	}

	if m.IsOpen() {
		t.Fatalf("manager must stay closed")
	}
}

func TestConnect_RetryGivesUp(t *testing.T) {
	o := &connect.Options{
		Protocol: "nats",
		Servers:  []string{"127.0.0.1:1"},
		Tuning:   connect.Tuning{RetryConnect: true, MaxReconnect: 2, ReconnectTimeout: 20 * time.Millisecond},
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	c, err := nats.NewDriver().Connect(ctx, o)
	if err == nil {
		_ = c.Close()
		t.Fatalf("expected connect to fail once retries are used up")
	}

	if errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("connect should give up before the deadline, got %v", err)
	}
}

func TestConnect_RetryForeverStopsAtDeadline(t *testing.T) {
	o := &connect.Options{
		Protocol: "nats",
		Servers:  []string{"127.0.0.1:1"},
		Tuning:   connect.Tuning{RetryConnect: true, MaxReconnect: -1, ReconnectTimeout: 20 * time.Millisecond},
	}

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()

	c, err := nats.NewDriver().Connect(ctx, o)
	if err == nil {
		_ = c.Close()
		t.Fatalf("expected connect to fail")
	}

	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("want context.DeadlineExceeded, got %v", err)
	}
}

func TestManager_OpenUnreachableWithRetry(t *testing.T) {
	m := connection.New(nats.NewDriver(), connection.WithParams(config.NewParams(
		"connection.uri", "nats://127.0.0.1:1",
		"options.max_reconnect", "1",
		"options.reconnect_timeout", "20ms",
	)))

	err := m.Open(context.Background())
	if !errors.Is(err, berr.ErrConnection) {
		t.Fatalf("want ErrConnection, got %v", err)
	}

	if m.IsOpen() {
		t.Fatalf("manager must stay closed when no server was ever reached")
	}
}
