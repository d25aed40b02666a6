// Package bus provides the broadcast channel that keeps independently-mounted
// playback surfaces in sync without any shared ancestor.
package bus

import (
	"log"
	"sync"

	"playsync/internal/models"
)

const subscriberBuffer = 16

// Bus fans events out to any number of subscribers. Publish never blocks: a
// subscriber that falls more than subscriberBuffer events behind loses the
// oldest pending event and is expected to re-sync from a snapshot.
type Bus struct {
	mu          sync.Mutex
	subscribers map[chan models.Event]struct{}
	closed      bool
}

func New() *Bus {
	return &Bus{subscribers: make(map[chan models.Event]struct{})}
}

// Subscribe registers a new subscriber and returns its receive channel. The
// channel is closed on Unsubscribe or when the bus shuts down.
func (b *Bus) Subscribe() chan models.Event {
	ch := make(chan models.Event, subscriberBuffer)
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		close(ch)
		return ch
	}
	b.subscribers[ch] = struct{}{}
	return ch
}

func (b *Bus) Unsubscribe(ch chan models.Event) {
	b.mu.Lock()
	_, exists := b.subscribers[ch]
	delete(b.subscribers, ch)
	b.mu.Unlock()
	if exists {
		close(ch)
	}
}

// Publish delivers the event to every subscriber in registration-agnostic
// order. Events to a single subscriber are delivered in publish order.
func (b *Bus) Publish(ev models.Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for ch := range b.subscribers {
		select {
		case ch <- ev:
		default:
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- ev:
			default:
				log.Printf("bus: dropping %s event for slow subscriber", ev.Type)
			}
		}
	}
}

// Close shuts the bus down and closes all subscriber channels.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for ch := range b.subscribers {
		close(ch)
	}
	b.subscribers = nil
}
