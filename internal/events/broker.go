package events

import (
	"context"
	"sync"
)

// Broker is the in-process Bus.
type Broker struct {
	mu   sync.Mutex
	subs map[chan Event]struct{}
	size int
}

func NewBroker() *Broker {
	return &Broker{subs: map[chan Event]struct{}{}, size: 16}
}

func (b *Broker) Subscribe(ctx context.Context) (<-chan Event, func(), error) {
	ch := make(chan Event, b.size)
	b.mu.Lock()
	b.subs[ch] = struct{}{}
	b.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, ch)
			close(ch)
			b.mu.Unlock()
		})
	}
	return ch, cancel, nil
}

func (b *Broker) Publish(ctx context.Context, evt Event) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for ch := range b.subs {
		select {
		case ch <- evt:
		default:
		}
	}
	return nil
}

// Subscribers reports the number of open subscriptions.
func (b *Broker) Subscribers() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}
