// Package broker provides the retained-value pub/sub topics that connect the
// hardware-facing subsystems to the web interface. Every externally visible
// piece of daemon state lives in a Topic; the HTTP layer reads, writes and
// streams topics without knowing anything about the value types behind them.
package broker

import (
	"context"
	"encoding/json"
	"sync"
)

// Message is a serialized topic update as it travels to a websocket client.
type Message struct {
	Topic   string          `json:"topic"`
	Payload json.RawMessage `json:"payload"`
}

// AnyTopic is the type-erased topic view used by the web surface.
type AnyTopic interface {
	Path() string
	WebReadable() bool
	WebWritable() bool

	// SetFromBytes deserializes a JSON payload and sets the topic to the
	// resulting value. Returns an error if the payload does not decode.
	SetFromBytes(payload []byte) error

	// TryGetBytes returns the retained value serialized as JSON, or false if
	// no value has been set yet.
	TryGetBytes() ([]byte, bool)

	// SubscribeBytes registers a serialized subscriber. The retained value,
	// if any, is queued on ch before the registration takes effect, so the
	// first message is never older than a concurrent Set. One channel may
	// be subscribed to many topics, so an overflowing channel is not
	// closed; the subscriber is dropped from this topic and onEvict is
	// called once from a fresh goroutine.
	SubscribeBytes(ch chan<- Message, onEvict func())
	UnsubscribeBytes(ch chan<- Message)
}

// Topic is a single retained-value channel. A Set stores the value and fans
// it out to all subscribers. Subscribers that cannot keep up have their
// channel closed and are evicted, so a stuck websocket cannot stall the
// hardware pollers.
type Topic[T any] struct {
	path        string
	webReadable bool
	webWritable bool

	mu         sync.Mutex
	retained   *T
	serialized []byte // lazily cached JSON of retained, nil when stale
	ready      chan struct{}
	subs       []chan T
	byteSubs   []byteSub
}

type byteSub struct {
	ch      chan<- Message
	onEvict func()
}

func newTopic[T any](path string, readable, writable bool) *Topic[T] {
	return &Topic[T]{
		path:        path,
		webReadable: readable,
		webWritable: writable,
		ready:       make(chan struct{}),
	}
}

// Path returns the topic path, empty for hidden topics.
func (t *Topic[T]) Path() string { return t.path }

// WebReadable reports whether GET and stream subscriptions are allowed.
func (t *Topic[T]) WebReadable() bool { return t.webReadable }

// WebWritable reports whether web writes are allowed.
func (t *Topic[T]) WebWritable() bool { return t.webWritable }

// Set stores a new retained value and notifies all subscribers.
func (t *Topic[T]) Set(v T) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.setLocked(v)
}

func (t *Topic[T]) setLocked(v T) {
	first := t.retained == nil
	t.retained = &v
	t.serialized = nil
	if first {
		close(t.ready)
	}

	// Non-blocking fan-out. A full queue means the consumer stopped keeping
	// up; close it so the consuming side notices and terminates.
	kept := t.subs[:0]
	for _, ch := range t.subs {
		select {
		case ch <- v:
			kept = append(kept, ch)
		default:
			close(ch)
		}
	}
	t.subs = kept

	if len(t.byteSubs) > 0 {
		msg := Message{Topic: t.path, Payload: t.serializedLocked()}
		keptB := t.byteSubs[:0]
		for _, sub := range t.byteSubs {
			select {
			case sub.ch <- msg:
				keptB = append(keptB, sub)
			default:
				// The channel is shared with other topics, so it must not
				// be closed here; the eviction callback tells the owner.
				if sub.onEvict != nil {
					go sub.onEvict()
				}
			}
		}
		t.byteSubs = keptB
	}
}

func (t *Topic[T]) serializedLocked() []byte {
	if t.serialized == nil && t.retained != nil {
		// Marshal errors are programming errors (unsupported value type);
		// surface them loudly instead of silently dropping updates.
		b, err := json.Marshal(*t.retained)
		if err != nil {
			panic("broker: marshal topic " + t.path + ": " + err.Error())
		}
		t.serialized = b
	}
	return t.serialized
}

// TryGet returns the retained value, or false if none has been set yet.
func (t *Topic[T]) TryGet() (T, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.retained == nil {
		var zero T
		return zero, false
	}
	return *t.retained, true
}

// Get returns the retained value, waiting for the first Set if necessary.
func (t *Topic[T]) Get(ctx context.Context) (T, error) {
	t.mu.Lock()
	if t.retained != nil {
		v := *t.retained
		t.mu.Unlock()
		return v, nil
	}
	ready := t.ready
	t.mu.Unlock()

	select {
	case <-ready:
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}

	v, _ := t.TryGet()
	return v, nil
}

// Modify performs an atomic read-modify-write cycle. The callback receives
// the retained value (ok=false if none yet) and returns the new value;
// returning set=false leaves the topic untouched.
func (t *Topic[T]) Modify(fn func(cur T, ok bool) (next T, set bool)) {
	t.mu.Lock()
	defer t.mu.Unlock()

	var cur T
	ok := t.retained != nil
	if ok {
		cur = *t.retained
	}
	if next, set := fn(cur, ok); set {
		t.setLocked(next)
	}
}

// Subscribe registers a new subscriber channel with the given buffer size
// and returns its receiving end. The channel is closed when the subscriber
// falls behind or the topic evicts it via Unsubscribe.
//
// The retained value is not replayed; use Get for the current state.
func (t *Topic[T]) Subscribe(buffer int) <-chan T {
	ch := make(chan T, buffer)
	t.mu.Lock()
	t.subs = append(t.subs, ch)
	t.mu.Unlock()
	return ch
}

// Unsubscribe removes a subscriber channel and closes it.
func (t *Topic[T]) Unsubscribe(ch <-chan T) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for i, sub := range t.subs {
		if (<-chan T)(sub) == ch {
			t.subs = append(t.subs[:i], t.subs[i+1:]...)
			close(sub)
			return
		}
	}
}

// SetFromBytes implements AnyTopic.
func (t *Topic[T]) SetFromBytes(payload []byte) error {
	var v T
	if err := json.Unmarshal(payload, &v); err != nil {
		return err
	}
	t.Set(v)
	return nil
}

// TryGetBytes implements AnyTopic.
func (t *Topic[T]) TryGetBytes() ([]byte, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.retained == nil {
		return nil, false
	}
	return t.serializedLocked(), true
}

// SubscribeBytes implements AnyTopic. The Message carries the topic path,
// so one channel can serve a whole stream connection. Replaying the
// retained value and registering happen under one lock, which keeps the
// replay ordered before any update from a concurrent Set.
func (t *Topic[T]) SubscribeBytes(ch chan<- Message, onEvict func()) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.retained != nil {
		select {
		case ch <- Message{Topic: t.path, Payload: t.serializedLocked()}:
		default:
			// No room for even the initial state; treat it like any
			// other overflow and do not register.
			if onEvict != nil {
				go onEvict()
			}
			return
		}
	}
	t.byteSubs = append(t.byteSubs, byteSub{ch: ch, onEvict: onEvict})
}

// UnsubscribeBytes removes a serialized subscriber without closing the
// channel, since it may still be subscribed to other topics.
func (t *Topic[T]) UnsubscribeBytes(ch chan<- Message) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for i, sub := range t.byteSubs {
		if sub.ch == ch {
			t.byteSubs = append(t.byteSubs[:i], t.byteSubs[i+1:]...)
			return
		}
	}
}
