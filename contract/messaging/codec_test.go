package messaging_test

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/next-trace/scg-message-queue/contract/broker"
	berr "github.com/next-trace/scg-message-queue/contract/errors"
	"github.com/next-trace/scg-message-queue/contract/messaging"
)

func TestEncodeDecode_RoundTrip(t *testing.T) {
	t.Parallel()

	e := messaging.NewEnvelope("trace-1", "created", []byte("ABC"))
	e.Stamp(time.Date(2024, 5, 1, 12, 0, 0, 123456789, time.UTC))

	msg := messaging.Encode("orders", e)
	assert.Equal(t, "orders", msg.Subject)
	assert.Equal(t, e.MessageID, msg.Header[messaging.HeaderMessageID])
	assert.Equal(t, "2024-05-01T12:00:00.123456789Z", msg.Header[messaging.HeaderSentTime])

	got, err := messaging.Decode(msg)
	require.NoError(t, err)

	assert.Equal(t, e.MessageID, got.MessageID)
	assert.Equal(t, e.TraceID, got.TraceID)
	assert.Equal(t, e.MessageType, got.MessageType)
	assert.Equal(t, e.Message, got.Message)
	assert.True(t, e.SentTime.Equal(got.SentTime))
	assert.Same(t, msg, got.Reference)
}

func TestEncode_NilPayloadIsEmpty(t *testing.T) {
	t.Parallel()

	e := &messaging.Envelope{MessageID: "id", MessageType: "t"}
	msg := messaging.Encode("s", e)

	require.NotNil(t, msg.Data)
	assert.Empty(t, msg.Data)

	_, hasSent := msg.Header[messaging.HeaderSentTime]
	assert.False(t, hasSent)
}

func TestDecode_Malformed(t *testing.T) {
	t.Parallel()

	cases := map[string]*broker.Msg{
		"nil":           nil,
		"no headers":    {Subject: "s", Data: []byte("x")},
		"no type":       {Subject: "s", Header: map[string]string{"message_id": "1"}},
		"empty id":      {Subject: "s", Header: map[string]string{"message_id": "", "message_type": "t"}},
		"bad sent time": {Subject: "s", Header: map[string]string{"message_id": "1", "message_type": "t", "sent_time": "yesterday"}},
	}

	for name, m := range cases {
		_, err := messaging.Decode(m)
		assert.ErrorIs(t, err, berr.ErrMalformedMessage, name)
	}
}

func TestDecode_OptionalHeaders(t *testing.T) {
	t.Parallel()

	got, err := messaging.Decode(&broker.Msg{
		Subject: "s",
		Header:  map[string]string{"message_id": "1", "message_type": ""},
	})
	require.NoError(t, err)

	assert.Empty(t, got.TraceID)
	assert.Empty(t, got.MessageType)
	assert.True(t, got.SentTime.IsZero())
	assert.NotNil(t, got.Message)
}

func TestEnvelope_StampOnce(t *testing.T) {
	t.Parallel()

	e := messaging.NewEnvelope("", "t", nil)
	first := time.Now()
	e.Stamp(first)

	_, err := uuid.Parse(e.MessageID)
	require.NoError(t, err)

	id, sent := e.MessageID, e.SentTime
	e.Stamp(first.Add(time.Hour))

	assert.Equal(t, id, e.MessageID)
	assert.Equal(t, sent, e.SentTime)
}

func TestEnvelope_JSONPayload(t *testing.T) {
	t.Parallel()

	type order struct {
		ID    string `json:"id"`
		Total int    `json:"total"`
	}

	e := messaging.NewEnvelope("", "order", nil)
	require.NoError(t, e.SetMessageAsJSON(order{ID: "o1", Total: 5}))
	assert.JSONEq(t, `{"id":"o1","total":5}`, e.MessageAsString())

	var out order
	require.NoError(t, e.MessageAsJSON(&out))
	assert.Equal(t, order{ID: "o1", Total: 5}, out)

	e.SetMessageAsString("{")
	assert.ErrorIs(t, e.MessageAsJSON(&out), berr.ErrSerializationFailed)
}
