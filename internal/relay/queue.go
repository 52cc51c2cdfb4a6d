package relay

import "sync"

type outbound struct {
	payload any
	audio   bool
}

// outboundQueue is a FIFO with any number of producers and the single drain
// loop as consumer. It is unbounded unless maxAudio is set, in which case
// audio appends beyond that many pending items are dropped. Commands are
// never dropped.
type outboundQueue struct {
	cond     *sync.Cond
	items    []outbound
	closed   bool
	maxAudio int
}

func newOutboundQueue(maxAudio int) *outboundQueue {
	return &outboundQueue{
		cond:     sync.NewCond(&sync.Mutex{}),
		maxAudio: maxAudio,
	}
}

// Put appends item and reports whether it was accepted.
func (q *outboundQueue) Put(item outbound) bool {
	q.cond.L.Lock()
	defer q.cond.L.Unlock()
	if q.closed {
		return false
	}
	if item.audio && q.maxAudio > 0 && len(q.items) >= q.maxAudio {
		return false
	}
	q.items = append(q.items, item)
	q.cond.Signal()
	return true
}

// Get blocks until an item is available. It returns false once the queue is
// closed; pending items are discarded with the connection.
func (q *outboundQueue) Get() (outbound, bool) {
	q.cond.L.Lock()
	defer q.cond.L.Unlock()
	for len(q.items) == 0 && !q.closed {
		q.cond.Wait()
	}
	if q.closed {
		return outbound{}, false
	}
	return q.pop(), true
}

func (q *outboundQueue) GetNoWait() (outbound, bool) {
	q.cond.L.Lock()
	defer q.cond.L.Unlock()
	if len(q.items) == 0 || q.closed {
		return outbound{}, false
	}
	return q.pop(), true
}

func (q *outboundQueue) Len() int {
	q.cond.L.Lock()
	defer q.cond.L.Unlock()
	return len(q.items)
}

func (q *outboundQueue) Close() {
	q.cond.L.Lock()
	q.closed = true
	q.items = nil
	q.cond.L.Unlock()
	q.cond.Broadcast()
}

func (q *outboundQueue) pop() outbound {
	v := q.items[0]
	q.items[0] = outbound{}
	q.items = q.items[1:]
	return v
}
