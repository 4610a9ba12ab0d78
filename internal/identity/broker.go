package identity

import "sync"

const subscriberBuffer = 8

// broker fans auth state changes out to subscribers. A new subscriber first receives the
// current state. A slow subscriber loses its oldest pending states, never the latest.
type broker struct {
	mu    sync.Mutex
	state AuthState
	subs  map[int]chan AuthState
	next  int
}

func (b *broker) publish(s AuthState) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state = s
	for _, ch := range b.subs {
		offer(ch, s)
	}
}

func (b *broker) current() AuthState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

func (b *broker) subscribe() (<-chan AuthState, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.subs == nil {
		b.subs = make(map[int]chan AuthState)
	}
	id := b.next
	b.next++
	ch := make(chan AuthState, subscriberBuffer)
	ch <- b.state
	b.subs[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			delete(b.subs, id)
			close(ch)
		})
	}
}

// offer sends without blocking, dropping the oldest queued value when full.
// Only called with broker.mu held, so there is a single sender.
func offer(ch chan AuthState, s AuthState) {
	for {
		select {
		case ch <- s:
			return
		default:
		}
		select {
		case <-ch:
		default:
		}
	}
}
