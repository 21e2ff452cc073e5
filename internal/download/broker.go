package download

import "sync"

// subscriberBufferSize is the channel buffer for each progress subscriber.
const subscriberBufferSize = 64

// Broker fans progress snapshots for each download out to subscribers. It
// is safe for concurrent use.
//
// Closed topics are kept as markers so that subscribing to a finished
// download yields a closed channel instead of blocking forever.
type Broker struct {
	mu     sync.Mutex
	topics map[string]*topic
}

type topic struct {
	subs   map[int]chan Snapshot
	nextID int
	closed bool
	last   Snapshot
}

// NewBroker creates an empty broker.
func NewBroker() *Broker {
	return &Broker{topics: make(map[string]*topic)}
}

// Subscribe returns a channel of snapshots for download id and an
// unsubscribe function. The latest snapshot, if any, is delivered first. If
// the download already finished the channel carries that final snapshot
// and is then closed.
func (b *Broker) Subscribe(id string) (<-chan Snapshot, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	t, ok := b.topics[id]
	if !ok {
		t = &topic{subs: make(map[int]chan Snapshot)}
		b.topics[id] = t
	}

	ch := make(chan Snapshot, subscriberBufferSize)
	if t.last != nil {
		ch <- t.last.Clone()
	}
	if t.closed {
		close(ch)
		return ch, func() {}
	}

	sid := t.nextID
	t.nextID++
	t.subs[sid] = ch

	return ch, func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		delete(t.subs, sid)
	}
}

// Publish sends a snapshot to every subscriber of id. Snapshots are dropped
// for subscribers whose buffers are full.
func (b *Broker) Publish(id string, snap Snapshot) {
	b.mu.Lock()
	defer b.mu.Unlock()

	t, ok := b.topics[id]
	if !ok {
		t = &topic{subs: make(map[int]chan Snapshot)}
		b.topics[id] = t
	}
	if t.closed {
		return
	}
	t.last = snap.Clone()

	for _, ch := range t.subs {
		select {
		case ch <- snap.Clone():
		default:
		}
	}
}

// Close ends the stream for id. Subscriber channels are closed and later
// subscribers receive the final snapshot on a closed channel.
func (b *Broker) Close(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	t, ok := b.topics[id]
	if !ok {
		b.topics[id] = &topic{subs: make(map[int]chan Snapshot), closed: true}
		return
	}

	t.closed = true
	for sid, ch := range t.subs {
		close(ch)
		delete(t.subs, sid)
	}
}

// Forget drops every trace of id, closing any remaining subscribers. Later
// subscribers start a fresh topic.
func (b *Broker) Forget(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if t, ok := b.topics[id]; ok {
		for _, ch := range t.subs {
			if !t.closed {
				close(ch)
			}
		}
		delete(b.topics, id)
	}
}
