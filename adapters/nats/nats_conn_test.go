package nats

import (
	"testing"

	"github.com/nats-io/nats.go"

	"github.com/next-trace/scg-message-queue/contract/broker"
)

func TestHeaderConversion(t *testing.T) {
	in := &broker.Msg{
		Subject: "orders",
		Header:  map[string]string{"message_id": "1", "message_type": "created"},
		Data:    []byte("x"),
	}

	nm := toNats(in)
	if nm.Subject != "orders" || string(nm.Data) != "x" {
		t.Fatalf("unexpected nats msg: %+v", nm)
	}

	if nm.Header.Get("message_id") != "1" || nm.Header.Get("message_type") != "created" {
		t.Fatalf("headers not carried: %v", nm.Header)
	}

	out := fromNats(nm)
	if out.Header["message_id"] != "1" || out.Header["message_type"] != "created" {
		t.Fatalf("headers lost on the way back: %v", out.Header)
	}
}

func TestHeaderConversion_NoHeaders(t *testing.T) {
	nm := toNats(&broker.Msg{Subject: "a"})
	if nm.Header != nil {
		t.Fatalf("want nil header, got %v", nm.Header)
	}

	out := fromNats(&nats.Msg{Subject: "a", Header: nats.Header{"k": nil}})
	if _, ok := out.Header["k"]; ok {
		t.Fatalf("empty header value must be skipped")
	}
}

func TestAsyncError_RoutesToHandler(t *testing.T) {
	c := newConn(0, nil)

	sub := &nats.Subscription{}

	var got error

	c.handlers[sub] = func(_ *broker.Msg, err error) { got = err }

	c.asyncError(sub, nats.ErrSlowConsumer)

	if got != nats.ErrSlowConsumer { //nolint:errorlint // identity check
		t.Fatalf("handler did not receive the error: %v", got)
	}
}
