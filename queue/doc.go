/*
Package queue provides message queues over a pub/sub broker connection.

A BufferedQueue keeps deliveries in memory until they are received or peeked,
and a PassThroughQueue hands each delivery to whoever is consuming at that
moment. Both send to the queue name and subscribe on the configured subject
(or the name), optionally inside a queue group so that queues sharing the
group compete for deliveries.

Queues either create their own connection from configuration, with the
driver chosen by WithDriver, or share one obtained through WithConnection
or SetReferences. A shared connection is never opened or closed by a queue.

The broker has no acknowledgement model: RenewLock, Complete, Abandon and
MoveToDeadLetter succeed without effect.
*/
package queue
