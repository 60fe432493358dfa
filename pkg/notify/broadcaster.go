// Package notify provides the latest-value broadcaster behind watch
// subscriptions: an owned current value fanned out to subscriber channels,
// where every new subscriber immediately receives the most recently
// published value before any later one.
package notify

import "sync"

// defaultBuffer is each subscriber's channel capacity. Publishing never
// blocks on a slow subscriber; when its buffer is full the oldest pending
// value is dropped in favor of the newest, because watchers only care about
// the latest state.
const defaultBuffer = 16

// Broadcaster multiplexes a continuously updated value to many observers.
// The zero value is not usable; construct with NewBroadcaster.
type Broadcaster[T any] struct {
	mu       sync.Mutex
	current  T
	hasValue bool
	nextID   uint64
	order    []uint64
	subs     map[uint64]chan T
	closed   bool
}

// Subscription is a handle on a broadcaster feed. Close is idempotent.
type Subscription[T any] struct {
	ch      chan T
	once    sync.Once
	closeFn func()
}

// Values returns the subscriber's receive channel. It is closed when the
// subscription or the broadcaster closes.
func (s *Subscription[T]) Values() <-chan T { return s.ch }

// Close cancels the subscription. Safe to call any number of times.
func (s *Subscription[T]) Close() {
	s.once.Do(s.closeFn)
}

// NewBroadcaster creates a broadcaster with no current value. Subscribers
// arriving before the first Publish receive nothing until it happens.
func NewBroadcaster[T any]() *Broadcaster[T] {
	return &Broadcaster[T]{subs: make(map[uint64]chan T)}
}

// Publish replaces the current value and fans it out to all live
// subscribers in subscription order without blocking.
func (b *Broadcaster[T]) Publish(value T) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.current = value
	b.hasValue = true
	for _, id := range b.order {
		send(b.subs[id], value)
	}
}

// Subscribe registers a new observer. If a value has ever been published,
// it is delivered first, before any subsequent value.
func (b *Broadcaster[T]) Subscribe() *Subscription[T] {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan T, defaultBuffer)
	if b.closed {
		close(ch)
		return &Subscription[T]{ch: ch, closeFn: func() {}}
	}

	b.nextID++
	id := b.nextID
	b.subs[id] = ch
	b.order = append(b.order, id)
	if b.hasValue {
		send(ch, b.current)
	}

	return &Subscription[T]{
		ch: ch,
		closeFn: func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			if _, ok := b.subs[id]; !ok {
				return
			}
			delete(b.subs, id)
			for i, existing := range b.order {
				if existing == id {
					b.order = append(b.order[:i], b.order[i+1:]...)
					break
				}
			}
			close(ch)
		},
	}
}

// Current returns the latest published value, if any.
func (b *Broadcaster[T]) Current() (T, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.current, b.hasValue
}

// SubscriberCount reports the number of live subscriptions.
func (b *Broadcaster[T]) SubscriberCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

// Close shuts the broadcaster down and closes every subscriber channel.
// Idempotent; publishing after Close is a no-op.
func (b *Broadcaster[T]) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for _, id := range b.order {
		close(b.subs[id])
	}
	b.subs = make(map[uint64]chan T)
	b.order = nil
}

// send delivers without blocking, dropping the oldest buffered value when
// the subscriber is full.
func send[T any](ch chan T, value T) {
	for {
		select {
		case ch <- value:
			return
		default:
			select {
			case <-ch:
			default:
			}
		}
	}
}
