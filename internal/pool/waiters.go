package pool

import (
	"container/list"

	"github.com/brindlecove/pgwire/internal/proto"
)

// waiterResult is delivered to a suspended borrower once a connection
// becomes available or the wait is abandoned. reused reports whether conn
// had a prior borrower (handed off directly by ReturnConnection) as
// opposed to being freshly dialed for this waiter (createForWaiter) — the
// borrower uses it to decide whether validation applies.
type waiterResult struct {
	conn   *proto.Conn
	reused bool
	err    error
}

// waiter is one FIFO-queued borrow request. ch is buffered so that a
// deliverer never blocks on a waiter that has already timed out and
// stopped listening.
//
// claimed records whether some deliverer (popFront) has already committed
// to sending a result into ch. It is only ever read or written while the
// owning Pool's mutex is held, alongside the queue mutation that pairs
// with it (popFront, abandon) — this is what lets a timed-out or
// canceled waiter tell whether a connection is already in flight for it
// before deciding to report failure.
type waiter struct {
	ch      chan waiterResult
	claimed bool
}

func newWaiter() *waiter {
	return &waiter{ch: make(chan waiterResult, 1)}
}

// waiterQueue is the pool's FIFO of suspended borrowers, backed by
// container/list so an abandoned (timed-out) waiter can be removed from
// the middle in O(1) given its element handle.
type waiterQueue struct {
	l list.List
}

func (q *waiterQueue) pushBack(w *waiter) *list.Element {
	return q.l.PushBack(w)
}

// abandon removes e from the queue on behalf of a timed-out or
// context-canceled borrower, but only if no deliverer has claimed w yet.
// It reports whether the abandonment succeeded. false means a deliverer
// already popped w (or is doing so concurrently under the same lock) and
// is committed to sending into w.ch — the caller must receive from w.ch
// instead of treating the wait as failed, or the delivered connection
// would be silently leaked.
func (q *waiterQueue) abandon(e *list.Element, w *waiter) bool {
	if w.claimed {
		return false
	}
	q.l.Remove(e)
	w.claimed = true
	return true
}

// popFront removes and returns the oldest waiter, marking it claimed so a
// racing abandon of that same waiter fails, or nil if none are queued.
func (q *waiterQueue) popFront() *waiter {
	front := q.l.Front()
	if front == nil {
		return nil
	}
	q.l.Remove(front)
	w := front.Value.(*waiter)
	w.claimed = true
	return w
}

// drain empties the queue, delivering err to every waiter still listening.
func (q *waiterQueue) drain(err error) {
	for {
		w := q.popFront()
		if w == nil {
			return
		}
		w.ch <- waiterResult{err: err}
	}
}
