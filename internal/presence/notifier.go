package presence

import "sync"

// Notifier fans state changes out to registered subscribers. Subscribers run
// synchronously on the publishing goroutine, in registration order, and
// receive the state by value.
type Notifier struct {
	mu   sync.Mutex
	subs []func(State)
}

// Subscribe registers fn for every subsequent [Notifier.Publish].
func (n *Notifier) Subscribe(fn func(State)) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.subs = append(n.subs, fn)
}

// Publish delivers s to every subscriber.
func (n *Notifier) Publish(s State) {
	n.mu.Lock()
	subs := make([]func(State), len(n.subs))
	copy(subs, n.subs)
	n.mu.Unlock()

	for _, fn := range subs {
		fn(s)
	}
}
