// Package notify delivers controller change notifications, one per changed
// facet, in a fixed order.
package notify

import (
	"strings"
	"sync"
)

// Facet identifies one observable part of controller state.
type Facet uint8

const (
	Device Facet = 1 << iota
	Process
	Session
	Agent
	Stage
	Mode
	Capture
)

// Order is the delivery order of facets within one publication.
var Order = []Facet{Device, Process, Session, Agent, Stage, Mode, Capture}

var facetNames = map[Facet]string{
	Device:  "device",
	Process: "process",
	Session: "session",
	Agent:   "agent",
	Stage:   "stage",
	Mode:    "mode",
	Capture: "capture",
}

func (f Facet) String() string {
	if name, ok := facetNames[f]; ok {
		return name
	}
	return "unknown"
}

// Set is a set of facets.
type Set uint8

// All contains every facet.
const All Set = Set(Device | Process | Session | Agent | Stage | Mode | Capture)

// Of builds a set from facets.
func Of(facets ...Facet) Set {
	var s Set
	for _, f := range facets {
		s |= Set(f)
	}
	return s
}

// Has reports whether f is in s.
func (s Set) Has(f Facet) bool {
	return s&Set(f) != 0
}

// Empty reports whether s has no facets.
func (s Set) Empty() bool {
	return s == 0
}

func (s Set) String() string {
	var names []string
	for _, f := range Order {
		if s.Has(f) {
			names = append(names, f.String())
		}
	}
	return strings.Join(names, ",")
}

// Handler receives one notification.
type Handler func(Facet)

type subscription struct {
	id     uint64
	facets Set
	fn     Handler
}

// Bus fans notifications out to subscribers. Handlers run on the publishing
// goroutine and must not publish synchronously.
type Bus struct {
	mu     sync.RWMutex
	nextID uint64
	subs   []subscription
}

// NewBus creates an empty bus.
func NewBus() *Bus {
	return &Bus{}
}

// Subscribe registers fn for the facets in set and returns a function that
// removes the registration.
func (b *Bus) Subscribe(set Set, fn Handler) (unsubscribe func()) {
	b.mu.Lock()
	b.nextID++
	id := b.nextID
	b.subs = append(b.subs, subscription{id: id, facets: set, fn: fn})
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			for i, s := range b.subs {
				if s.id == id {
					b.subs = append(b.subs[:i], b.subs[i+1:]...)
					return
				}
			}
		})
	}
}

// Publish delivers every facet in set, in Order. Within a facet, handlers run
// in subscription order.
func (b *Bus) Publish(set Set) {
	if set.Empty() {
		return
	}

	b.mu.RLock()
	subs := make([]subscription, len(b.subs))
	copy(subs, b.subs)
	b.mu.RUnlock()

	for _, f := range Order {
		if !set.Has(f) {
			continue
		}
		for _, s := range subs {
			if s.facets.Has(f) {
				s.fn(f)
			}
		}
	}
}
