package messaging

import (
	"fmt"
	"time"

	"github.com/next-trace/scg-message-queue/contract/broker"
	berr "github.com/next-trace/scg-message-queue/contract/errors"
)

// Wire header keys. Values are carried verbatim as broker message headers.
const (
	HeaderMessageID   = "message_id"
	HeaderTraceID     = "trace_id"
	HeaderMessageType = "message_type"
	HeaderSentTime    = "sent_time"
)

// SentTimeLayout is the ISO-8601 form written into the sent_time header.
const SentTimeLayout = time.RFC3339Nano

// Encode maps an envelope onto a broker message for subject.
// The envelope is expected to be stamped; Encode does not generate identity fields.
func Encode(subject string, e *Envelope) *broker.Msg {
	data := e.Message
	if data == nil {
		data = []byte{}
	}

	h := map[string]string{
		HeaderMessageID:   e.MessageID,
		HeaderTraceID:     e.TraceID,
		HeaderMessageType: e.MessageType,
	}

	if !e.SentTime.IsZero() {
		h[HeaderSentTime] = e.SentTime.UTC().Format(SentTimeLayout)
	}

	return &broker.Msg{Subject: subject, Header: h, Data: data}
}

// Decode maps a delivered broker message back to an envelope.
// message_id and message_type must be present; sent_time must parse when present.
func Decode(m *broker.Msg) (*Envelope, error) {
	if m == nil {
		return nil, fmt.Errorf("decode: nil message: %w", berr.ErrMalformedMessage)
	}

	id, ok := m.HeaderValue(HeaderMessageID)
	if !ok || id == "" {
		return nil, fmt.Errorf("decode %s: missing %s header: %w", m.Subject, HeaderMessageID, berr.ErrMalformedMessage)
	}

	typ, ok := m.HeaderValue(HeaderMessageType)
	if !ok {
		return nil, fmt.Errorf("decode %s: missing %s header: %w", m.Subject, HeaderMessageType, berr.ErrMalformedMessage)
	}

	trace, _ := m.HeaderValue(HeaderTraceID)

	var sent time.Time

	if raw, ok := m.HeaderValue(HeaderSentTime); ok && raw != "" {
		t, err := time.Parse(SentTimeLayout, raw)
		if err != nil {
			return nil, fmt.Errorf("decode %s: bad %s %q: %w", m.Subject, HeaderSentTime, raw, berr.ErrMalformedMessage)
		}

		sent = t
	}

	data := m.Data
	if data == nil {
		data = []byte{}
	}

	return &Envelope{
		MessageID:   id,
		TraceID:     trace,
		MessageType: typ,
		SentTime:    sent,
		Message:     data,
		Reference:   m,
	}, nil
}
