package errors

import (
	"fmt"
	"strings"
)

// Error codes for the queue contracts. Keep stable; used across adapters, connection and queues.
const (
	ErrCodeConfiguration       = "queue.configuration"
	ErrCodeConnection          = "queue.connection"
	ErrCodeInvalidState        = "queue.invalid_state"
	ErrCodeMalformedMessage    = "queue.malformed_message"
	ErrCodeHandlerExists       = "servicebus.handler_exists"
	ErrCodeHandlerNotFound     = "servicebus.handler_not_found"
	ErrCodeSerializationFailed = "servicebus.serialization_failed"
)

// Code returns an error value that carries only a code string.
// It implements error by returning the code string in Error().
func Code(code string) error { return codedError(code) }

type codedError string

func (e codedError) Error() string { return string(e) }

var (
	// ErrConfiguration marks missing or invalid connection parameters. Fatal to open, never retried.
	ErrConfiguration = Code(ErrCodeConfiguration)
	// ErrConnection marks a broker connect or publish failure.
	ErrConnection = Code(ErrCodeConnection)
	// ErrInvalidState marks an operation attempted while closed, or on a shared connection that is not open.
	ErrInvalidState = Code(ErrCodeInvalidState)
	// ErrMalformedMessage marks a delivery missing a required header.
	ErrMalformedMessage    = Code(ErrCodeMalformedMessage)
	ErrHandlerExists       = Code(ErrCodeHandlerExists)
	ErrHandlerNotFound     = Code(ErrCodeHandlerNotFound)
	ErrSerializationFailed = Code(ErrCodeSerializationFailed)
)

// ConnectionError wraps a driver failure with the operation that caused it.
// It matches both ErrConnection and the original cause with errors.Is.
type ConnectionError struct {
	Op      string   // connect, publish, subscribe
	Servers []string // resolved servers, never credentials
	Err     error
}

func (e *ConnectionError) Error() string {
	if len(e.Servers) == 0 {
		return fmt.Sprintf("%s: %s failed: %v", ErrCodeConnection, e.Op, e.Err)
	}

	return fmt.Sprintf("%s: %s to %s failed: %v", ErrCodeConnection, e.Op, strings.Join(e.Servers, ","), e.Err)
}

func (e *ConnectionError) Unwrap() []error {
	return []error{ErrConnection, e.Err}
}
