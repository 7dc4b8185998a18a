package fanout

import (
	"sync"
)

// MemoryBus is an in-process Transport for development and tests. Events
// are delivered FIFO per group; a subscriber that stops draining loses
// events rather than blocking the publisher.
type MemoryBus struct {
	mu   sync.Mutex
	subs map[string][]chan []byte
}

func NewMemoryBus() *MemoryBus {
	return &MemoryBus{subs: make(map[string][]chan []byte)}
}

func (b *MemoryBus) Publish(group string, payload []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, ch := range b.subs[group] {
		select {
		case ch <- payload:
		default:
			// Slow subscriber: drop, never block the writer.
		}
	}
	return nil
}

func (b *MemoryBus) Subscribe(group string) (<-chan []byte, func(), error) {
	ch := make(chan []byte, 64)

	b.mu.Lock()
	b.subs[group] = append(b.subs[group], ch)
	b.mu.Unlock()

	cancel := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		chans := b.subs[group]
		for i, c := range chans {
			if c == ch {
				b.subs[group] = append(chans[:i], chans[i+1:]...)
				break
			}
		}
		close(ch)
	}
	return ch, cancel, nil
}
