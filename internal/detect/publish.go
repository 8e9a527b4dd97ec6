package detect

import "sync"

// Capacity of each subscriber channel. When a subscriber falls this far
// behind, its oldest pending state is dropped so the newest always gets through.
const subscriberBuffer = 16

// publisher holds the current State and fans transitions out to subscribers.
// Every transition happens under mu, so subscribers see states in the order
// they were published and never see a partially built state.
type publisher struct {
	mu      sync.Mutex
	current State
	subs    map[int]chan State
	nextID  int
	closed  bool
}

func (p *publisher) get() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.current
}

// update computes the next state from the current one. If fn returns false
// nothing is published.
func (p *publisher) update(fn func(cur State) (State, bool)) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	next, ok := fn(p.current)
	if !ok {
		return false
	}
	p.current = next
	for _, ch := range p.subs {
		deliver(ch, next)
	}
	return true
}

func deliver(ch chan State, s State) {
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

// subscribe returns a channel primed with the current state.
func (p *publisher) subscribe() (<-chan State, func()) {
	p.mu.Lock()
	defer p.mu.Unlock()
	ch := make(chan State, subscriberBuffer)
	if p.closed {
		close(ch)
		return ch, func() {}
	}
	ch <- p.current
	id := p.nextID
	p.nextID++
	if p.subs == nil {
		p.subs = make(map[int]chan State)
	}
	p.subs[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			p.mu.Lock()
			defer p.mu.Unlock()
			if c, ok := p.subs[id]; ok {
				delete(p.subs, id)
				close(c)
			}
		})
	}
}

func (p *publisher) close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	for id, ch := range p.subs {
		delete(p.subs, id)
		close(ch)
	}
}
