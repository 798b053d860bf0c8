package cdp

import (
	"sync"
	"sync/atomic"
)

// Subscription receives events from a Channel in wire order. Its queue is
// bounded: when full, the oldest queued event is discarded.
type Subscription struct {
	channel *Channel
	events  chan Event
	filters map[string]struct{}
	dropped atomic.Int64
	once    sync.Once
}

func newSubscription(c *Channel, size int, filters []string) *Subscription {
	s := &Subscription{
		channel: c,
		events:  make(chan Event, size),
	}
	if len(filters) > 0 {
		s.filters = make(map[string]struct{}, len(filters))
		for _, f := range filters {
			s.filters[f] = struct{}{}
		}
	}
	return s
}

// Events returns the event stream. It is closed after Unsubscribe or when the
// channel closes.
func (s *Subscription) Events() <-chan Event {
	return s.events
}

// Dropped returns how many events were discarded because the queue was full.
func (s *Subscription) Dropped() int64 {
	return s.dropped.Load()
}

// Unsubscribe stops delivery and closes the event stream.
func (s *Subscription) Unsubscribe() {
	s.channel.unsubscribe(s)
}

func (s *Subscription) matches(ev Event) bool {
	if s.filters == nil {
		return true
	}
	if _, ok := s.filters[ev.Method]; ok {
		return true
	}
	_, ok := s.filters[ev.Domain()]
	return ok
}

// deliver enqueues ev without blocking and returns how many events were
// dropped to make room. Only the dispatch loop calls deliver.
func (s *Subscription) deliver(ev Event) int {
	dropped := 0
	for {
		select {
		case s.events <- ev:
			return dropped
		default:
		}
		select {
		case <-s.events:
			dropped++
			s.dropped.Add(1)
		default:
		}
	}
}

// close must be called with the channel's subscription lock held.
func (s *Subscription) close() {
	s.once.Do(func() { close(s.events) })
}
