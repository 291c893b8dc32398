package stream

import (
	"sync"

	"github.com/hookci/hookci/model"
)

// chanSet is a minimal pub/sub broadcaster: each subscriber gets its own
// buffered channel so a slow WebSocket write never blocks the others.
type chanSet struct {
	mu     sync.Mutex
	subs   map[chan model.Event]struct{}
	closed bool
}

func newChanSet() chanSet {
	return chanSet{subs: make(map[chan model.Event]struct{})}
}

func (c *chanSet) subscribe() chan model.Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	ch := make(chan model.Event, 64)
	if c.closed {
		close(ch)
		return ch
	}
	c.subs[ch] = struct{}{}
	return ch
}

func (c *chanSet) unsubscribe(ch chan model.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.subs[ch]; ok {
		delete(c.subs, ch)
		close(ch)
	}
}

func (c *chanSet) broadcast(ev model.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for ch := range c.subs {
		select {
		case ch <- ev:
		default:
			// Subscriber too slow to keep up; drop this event for it
			// rather than block the single producer feeding every
			// subscriber. The subscriber itself stays subscribed.
		}
	}
}

func (c *chanSet) closeAll() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	for ch := range c.subs {
		close(ch)
		delete(c.subs, ch)
	}
}
