package broker

import (
	"fmt"
	"sort"
	"sync"
)

// Broker is the registry of all web-visible topics. Subsystems register
// their topics during wiring; the web surface looks them up by path.
type Broker struct {
	mu     sync.RWMutex
	topics map[string]AnyTopic
}

// New creates an empty topic registry.
func New() *Broker {
	return &Broker{topics: make(map[string]AnyTopic)}
}

func (b *Broker) register(t AnyTopic) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, dup := b.topics[t.Path()]; dup {
		// Duplicate registration is a wiring bug, not a runtime condition.
		panic(fmt.Sprintf("broker: topic %q registered twice", t.Path()))
	}
	b.topics[t.Path()] = t
}

// Lookup returns the topic registered under path.
func (b *Broker) Lookup(path string) (AnyTopic, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	t, ok := b.topics[path]
	return t, ok
}

// Paths returns all registered topic paths in sorted order.
func (b *Broker) Paths() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	paths := make([]string, 0, len(b.topics))
	for p := range b.topics {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths
}

// TopicRO registers a topic that the web may read but not write.
func TopicRO[T any](b *Broker, path string, initial ...T) *Topic[T] {
	return addTopic(b, path, true, false, initial)
}

// TopicRW registers a topic that the web may both read and write.
func TopicRW[T any](b *Broker, path string, initial ...T) *Topic[T] {
	return addTopic(b, path, true, true, initial)
}

// TopicWO registers a topic that the web may write but not read back.
func TopicWO[T any](b *Broker, path string, initial ...T) *Topic[T] {
	return addTopic(b, path, false, true, initial)
}

// TopicHidden creates a topic for daemon-internal plumbing. It is not
// registered and never appears on the web surface.
func TopicHidden[T any](initial ...T) *Topic[T] {
	t := newTopic[T]("", false, false)
	if len(initial) > 0 {
		t.Set(initial[0])
	}
	return t
}

func addTopic[T any](b *Broker, path string, readable, writable bool, initial []T) *Topic[T] {
	t := newTopic[T](path, readable, writable)
	if len(initial) > 0 {
		t.Set(initial[0])
	}
	b.register(t)
	return t
}
