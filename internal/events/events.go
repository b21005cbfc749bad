// Package events carries download progress and completion notifications from the
// download coordinator to whoever is listening.
package events

import (
	"sync"
	"time"

	"github.com/italolelis/offline_maps/internal/storage"
)

// Kind distinguishes progress updates from the final event of a download pass.
type Kind string

const (
	KindProgress Kind = "progress"
	KindComplete Kind = "complete"
)

// Event is emitted by a download pass. Progress is a percentage in [0, 100]. A complete
// event is always the last event of a pass and carries the final status.
type Event struct {
	Kind       Kind
	AreaID     string
	Progress   float64
	Downloaded int
	Total      int
	Status     storage.AreaStatus
	Err        string
	At         time.Time
}

// Observer receives events synchronously from the download pass that produced them.
type Observer interface {
	Notify(e Event)
}

// ObserverFunc adapts a function to the Observer interface.
type ObserverFunc func(e Event)

func (f ObserverFunc) Notify(e Event) { f(e) }

// Multi fans an event out to several observers in order.
func Multi(observers ...Observer) Observer {
	return ObserverFunc(func(e Event) {
		for _, o := range observers {
			if o != nil {
				o.Notify(e)
			}
		}
	})
}

type subscription struct {
	areaID string
	ch     chan Event
	done   chan struct{}
	once   sync.Once
}

func (s *subscription) cancel() {
	s.once.Do(func() { close(s.done) })
}

// Broker is an Observer that hands events to subscribers. Progress events are dropped for
// a subscriber whose buffer is full; complete events block until the subscriber reads
// them or unsubscribes.
type Broker struct {
	mu     sync.Mutex
	byArea map[string]map[*subscription]struct{}
	all    map[*subscription]struct{}
	buffer int
}

// NewBroker returns a broker giving each subscriber a buffer of the given size.
func NewBroker(buffer int) *Broker {
	if buffer < 1 {
		buffer = 1
	}

	return &Broker{
		byArea: make(map[string]map[*subscription]struct{}),
		all:    make(map[*subscription]struct{}),
		buffer: buffer,
	}
}

// Subscribe returns a channel of events for one area, or for every area when areaID is
// empty, and a function that ends the subscription. A per-area channel is closed after
// the complete event of the next finished pass; the all-areas channel is never closed.
func (b *Broker) Subscribe(areaID string) (<-chan Event, func()) {
	sub := &subscription{
		areaID: areaID,
		ch:     make(chan Event, b.buffer),
		done:   make(chan struct{}),
	}

	b.mu.Lock()
	if areaID == "" {
		b.all[sub] = struct{}{}
	} else {
		if b.byArea[areaID] == nil {
			b.byArea[areaID] = make(map[*subscription]struct{})
		}

		b.byArea[areaID][sub] = struct{}{}
	}
	b.mu.Unlock()

	return sub.ch, func() { b.unsubscribe(sub) }
}

func (b *Broker) unsubscribe(sub *subscription) {
	sub.cancel()

	b.mu.Lock()
	defer b.mu.Unlock()

	if sub.areaID == "" {
		delete(b.all, sub)

		return
	}

	if subs, ok := b.byArea[sub.areaID]; ok {
		delete(subs, sub)

		if len(subs) == 0 {
			delete(b.byArea, sub.areaID)
		}
	}
}

// Notify delivers e to the area's subscribers and to the all-areas subscribers.
func (b *Broker) Notify(e Event) {
	b.mu.Lock()

	var areaSubs []*subscription
	for sub := range b.byArea[e.AreaID] {
		areaSubs = append(areaSubs, sub)
	}

	if e.Kind == KindComplete {
		delete(b.byArea, e.AreaID)
	}

	allSubs := make([]*subscription, 0, len(b.all))
	for sub := range b.all {
		allSubs = append(allSubs, sub)
	}

	b.mu.Unlock()

	for _, sub := range areaSubs {
		deliver(sub, e)

		if e.Kind == KindComplete {
			close(sub.ch)
		}
	}

	for _, sub := range allSubs {
		deliver(sub, e)
	}
}

// Subscribers returns the number of live subscriptions.
func (b *Broker) Subscribers() int {
	b.mu.Lock()
	defer b.mu.Unlock()

	n := len(b.all)
	for _, subs := range b.byArea {
		n += len(subs)
	}

	return n
}

func deliver(sub *subscription, e Event) {
	if e.Kind == KindProgress {
		select {
		case sub.ch <- e:
		case <-sub.done:
		default:
		}

		return
	}

	select {
	case sub.ch <- e:
	case <-sub.done:
	}
}
