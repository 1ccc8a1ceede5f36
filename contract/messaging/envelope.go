package messaging

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	berr "github.com/next-trace/scg-message-queue/contract/errors"
)

// Envelope is the portable message record exchanged between queues and callers.
//
// MessageID and SentTime are assigned once by Stamp at send time and must not be
// changed afterwards. TraceID is propagated but never generated here.
type Envelope struct {
	MessageID   string
	TraceID     string
	MessageType string
	SentTime    time.Time
	Message     []byte

	// Reference is the driver message this envelope was decoded from, if any.
	// It is never encoded.
	Reference any
}

// NewEnvelope creates an envelope for sending. Identity fields are left for Stamp.
func NewEnvelope(traceID, messageType string, message []byte) *Envelope {
	return &Envelope{TraceID: traceID, MessageType: messageType, Message: message}
}

// Stamp assigns MessageID and SentTime when they are absent.
func (e *Envelope) Stamp(now time.Time) {
	if e.MessageID == "" {
		e.MessageID = uuid.NewString()
	}

	if e.SentTime.IsZero() {
		e.SentTime = now.UTC()
	}
}

// SetMessageAsString replaces the payload with s.
func (e *Envelope) SetMessageAsString(s string) { e.Message = []byte(s) }

// MessageAsString returns the payload as a string.
func (e *Envelope) MessageAsString() string { return string(e.Message) }

// SetMessageAsJSON encodes v as the payload.
func (e *Envelope) SetMessageAsJSON(v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("envelope encode %s: %w", e.MessageType, errors.Join(berr.ErrSerializationFailed, err))
	}

	e.Message = b

	return nil
}

// MessageAsJSON decodes the payload into v.
func (e *Envelope) MessageAsJSON(v any) error {
	if err := json.Unmarshal(e.Message, v); err != nil {
		return fmt.Errorf("envelope decode %s: %w", e.MessageType, errors.Join(berr.ErrSerializationFailed, err))
	}

	return nil
}

func (e *Envelope) String() string {
	if e == nil {
		return "<nil>"
	}

	return fmt.Sprintf("[%s,%s,%s]", e.TraceID, e.MessageType, e.MessageID)
}
