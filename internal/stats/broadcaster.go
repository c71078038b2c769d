package stats

import "sync"

// broadcaster fans a DashboardEvent out to any number of subscribers. A
// slow subscriber loses its oldest buffered event rather than block the
// publisher (spec.md §4.4).
type broadcaster struct {
	mu   sync.Mutex
	subs map[int]chan DashboardEvent
	next int
}

func newBroadcaster() *broadcaster {
	return &broadcaster{subs: make(map[int]chan DashboardEvent)}
}

func (b *broadcaster) subscribe(buffer int) (int, <-chan DashboardEvent) {
	if buffer <= 0 {
		buffer = 16
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	id := b.next
	b.next++
	ch := make(chan DashboardEvent, buffer)
	b.subs[id] = ch
	return id, ch
}

func (b *broadcaster) unsubscribe(id int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if ch, ok := b.subs[id]; ok {
		delete(b.subs, id)
		close(ch)
	}
}

func (b *broadcaster) publish(ev DashboardEvent) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, ch := range b.subs {
		select {
		case ch <- ev:
		default:
			// Drop the oldest buffered event to make room, then retry
			// once; if the subscriber is still not draining fast enough
			// the event is simply lost, which is the documented policy.
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- ev:
			default:
			}
		}
	}
}
