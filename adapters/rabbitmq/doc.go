/*
Package rabbitmq provides an AMQP 0-9-1 broker driver for the queue connection manager.
Subjects are routing keys on a single topic exchange; NATS-style wildcards in
subscriptions are mapped to AMQP binding patterns, and queue groups become
shared auto-delete queues.
*/
package rabbitmq
