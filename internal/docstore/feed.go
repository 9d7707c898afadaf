package docstore

import "sync"

// Feed delivers events to one subscriber and keeps only the newest undelivered
// event, so a slow consumer never blocks the store and never sees a stale snapshot
// after a newer one.
type Feed struct {
	mu     sync.Mutex
	ch     chan Event
	closed bool
}

func NewFeed() *Feed {
	return &Feed{ch: make(chan Event, 1)}
}

// Push replaces any pending event with ev. It reports false once the feed is closed.
func (f *Feed) Push(ev Event) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return false
	}
	select {
	case f.ch <- ev:
	default:
		select {
		case <-f.ch:
		default:
		}
		f.ch <- ev
	}
	return true
}

// Events is the receive side of the feed.
func (f *Feed) Events() <-chan Event {
	return f.ch
}

// Close closes the channel. Safe to call more than once.
func (f *Feed) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return
	}
	f.closed = true
	close(f.ch)
}
