package fedcomm

import "sync"

// queuedAction is one entry of the tx queue: a route id paired with
// the message bound for it. The rx queue reuses the same shape and
// simply leaves RouteID unset, since its entries are always destined
// for the local receive loop.
type queuedAction struct {
	RouteID int64
	Msg     *ActionMessage
}

// ActionQueue is the bounded-in-spirit-but-implemented-unbounded MPSC
// queue behind both txQueue and rxMessageQueue. transmit() must never
// fail or drop once connect() has succeeded, so Push never blocks and
// never rejects a live queue; Pop blocks until an item is available or
// the queue is closed.
type ActionQueue struct {
	mu     sync.Mutex
	cond   *sync.Cond
	items  []queuedAction
	closed bool
}

// NewActionQueue returns a ready-to-use, empty queue.
func NewActionQueue() *ActionQueue {
	q := &ActionQueue{}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// Push appends an item. A push after Close is silently dropped, per
// §7 category 6 ("messages queued after DISCONNECT was dispatched are
// silently discarded by the tx loop").
func (q *ActionQueue) Push(routeID int64, msg *ActionMessage) {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.items = append(q.items, queuedAction{RouteID: routeID, Msg: msg})
	q.mu.Unlock()
	q.cond.Signal()
}

// Pop blocks until an item is available or the queue has been closed
// and drained, in which case ok is false.
func (q *ActionQueue) Pop() (item queuedAction, ok bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for len(q.items) == 0 && !q.closed {
		q.cond.Wait()
	}
	if len(q.items) == 0 {
		return queuedAction{}, false
	}
	item = q.items[0]
	q.items = q.items[1:]
	return item, true
}

// Close marks the queue closed and wakes any blocked Pop. Items
// already queued are still delivered by subsequent Pop calls; only
// new Push calls are rejected.
func (q *ActionQueue) Close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
	q.cond.Broadcast()
}

// Len reports the number of items currently queued.
func (q *ActionQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}
