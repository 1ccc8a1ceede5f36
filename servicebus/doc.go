/*
Package servicebus routes received envelopes to handlers by message type.
A Dispatcher is a messaging.Receiver, so it can be installed on any queue with
Listen or driven by Serve; SendJSON is the matching typed send helper.
*/
package servicebus
