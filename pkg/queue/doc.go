/*
Package queue implements the per-agent priority command queues.

Each agent's queue is a directory holding a monotonic sequence file and
one file per pending command, named cmd_<priority>_<sequence>_<rand>.
Every operation runs under the queue's directory lock, which makes the
sequence counter monotonic across concurrent enqueuers and makes
enqueue/dequeue linearizable.

Delivery order is total: High strictly before Normal strictly before Low,
and strict enqueue order within a priority. A queue holding the
configured maximum (default 1000) rejects further commands with
QueueFull; dequeueing an empty queue reports QueueEmpty.
*/
package queue
