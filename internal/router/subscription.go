package router

import (
	"sort"
	"sync"
	"sync/atomic"

	lru "github.com/hashicorp/golang-lru/v2"

	"relaymesh/internal/domain"
)

// Subscription is one filter and the events admitted for it.
type Subscription struct {
	id     string
	filter domain.Filter
	seen   *lru.Cache[domain.EventID, struct{}]

	events   chan domain.InboundEvent
	done     chan struct{}
	stopOnce sync.Once

	// sendMu is read-held around each non-blocking send, so stop can close
	// events safely.
	sendMu  sync.RWMutex
	stopped bool
	// overflowing is set while the consumer is behind and events are dropped.
	overflowing atomic.Bool
	dropped     atomic.Uint64

	mu        sync.Mutex
	installed map[string]struct{}
}

// ID is the subscription id sent to relays.
func (s *Subscription) ID() string { return s.id }

// Filter returns the subscription's filter.
func (s *Subscription) Filter() domain.Filter { return s.filter }

// Events delivers each admitted event once. It is closed when the
// subscription stops. A consumer that lets the buffer fill loses the events
// that arrive meanwhile; see Dropped.
func (s *Subscription) Events() <-chan domain.InboundEvent { return s.events }

// Done is closed when the subscription stops.
func (s *Subscription) Done() <-chan struct{} { return s.done }

// Dropped is how many admitted events were discarded because Events was full.
func (s *Subscription) Dropped() uint64 { return s.dropped.Load() }

// MarkInstalled records that relay accepted the subscription request.
func (s *Subscription) MarkInstalled(relay string) {
	if s.isStopped() {
		return
	}
	s.mu.Lock()
	s.installed[relay] = struct{}{}
	s.mu.Unlock()
}

// Installed returns the relays the subscription is installed on, sorted.
func (s *Subscription) Installed() []string {
	s.mu.Lock()
	out := make([]string, 0, len(s.installed))
	for u := range s.installed {
		out = append(out, u)
	}
	s.mu.Unlock()
	sort.Strings(out)
	return out
}

// Uninstall forgets relay, after it closed the subscription or left the pool.
func (s *Subscription) Uninstall(relay string) {
	s.mu.Lock()
	delete(s.installed, relay)
	s.mu.Unlock()
}

type delivery int

const (
	deliveryStopped delivery = iota
	deliveryQueued
	deliveryDropped
)

// deliver never blocks: the caller is a relay's receive path, which also
// carries publish acknowledgements and must keep moving.
func (s *Subscription) deliver(ev domain.InboundEvent) delivery {
	s.sendMu.RLock()
	defer s.sendMu.RUnlock()
	if s.stopped {
		return deliveryStopped
	}
	select {
	case s.events <- ev:
		return deliveryQueued
	default:
		s.dropped.Add(1)
		return deliveryDropped
	}
}

func (s *Subscription) isStopped() bool {
	s.sendMu.RLock()
	defer s.sendMu.RUnlock()
	return s.stopped
}

func (s *Subscription) stop() {
	s.stopOnce.Do(func() {
		close(s.done)
		s.sendMu.Lock()
		s.stopped = true
		close(s.events)
		s.sendMu.Unlock()
		s.seen.Purge()
	})
}
