// Package mailbox provides the per-entity FIFO task serializer the spec
// calls the entity's mailbox: a chain of futures where each enqueued task
// runs only after every previously enqueued task has settled, and one
// task's failure never stalls the queue for the tasks behind it.
package mailbox

import "sync"

// Mailbox serializes arbitrary tasks for one entity. The zero value is
// ready to use.
type Mailbox struct {
	mu   sync.Mutex
	tail chan struct{} // closed once the current tail task has settled
}

// New returns a ready-to-use Mailbox.
func New() *Mailbox {
	m := &Mailbox{}
	m.tail = closedChan()
	return m
}

func closedChan() chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}

// Enqueue appends task to the mailbox's queue and returns a channel through
// which the caller can await task's error. task only begins running after
// every task enqueued before it has settled (successfully or not); task's
// own failure does not block tasks enqueued after it.
func (m *Mailbox) Enqueue(task func() error) <-chan error {
	m.mu.Lock()
	prev := m.tail
	if prev == nil {
		prev = closedChan()
	}
	next := make(chan struct{})
	m.tail = next
	m.mu.Unlock()

	result := make(chan error, 1)
	go func() {
		<-prev
		defer close(next)
		result <- task()
	}()
	return result
}

// Wait blocks until every task enqueued so far has settled. It is used by
// operations (inspect, stateAt) that must observe a snapshot consistent
// with all prior writes without themselves mutating anything.
func (m *Mailbox) Wait() {
	m.mu.Lock()
	tail := m.tail
	m.mu.Unlock()
	if tail == nil {
		return
	}
	<-tail
}
