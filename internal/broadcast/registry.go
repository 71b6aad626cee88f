package broadcast

import (
	"errors"
	"sync"

	"acctmonitor/internal/account"
	"acctmonitor/internal/metrics"

	"github.com/google/uuid"
)

var (
	ErrClosed     = errors.New("subscription closed")
	ErrBufferFull = errors.New("subscriber buffer full")
)

// Filter is the last query filter a subscriber asked for. Broadcast frames
// ignore it and always carry the full state.
type Filter struct {
	Symbol    string
	AccountID account.ID
}

// Subscription is the handle of one connected client. Frames arrive on C
// until Done is closed.
type Subscription struct {
	id   string
	ch   chan []byte
	done chan struct{}
	once sync.Once
}

// NewSubscription creates a handle buffering up to buffer frames.
func NewSubscription(buffer int) *Subscription {
	if buffer <= 0 {
		buffer = 1
	}
	return &Subscription{
		id:   uuid.NewString(),
		ch:   make(chan []byte, buffer),
		done: make(chan struct{}),
	}
}

func (s *Subscription) ID() string { return s.id }

// C delivers encoded frames.
func (s *Subscription) C() <-chan []byte { return s.ch }

// Done is closed when the subscription is unregistered or dropped.
func (s *Subscription) Done() <-chan struct{} { return s.done }

func (s *Subscription) Closed() bool {
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}

// Offer queues frame without blocking.
func (s *Subscription) Offer(frame []byte) error {
	if s.Closed() {
		return ErrClosed
	}
	select {
	case s.ch <- frame:
		return nil
	default:
		return ErrBufferFull
	}
}

func (s *Subscription) close() { s.once.Do(func() { close(s.done) }) }

// Registry tracks connected subscribers and their last query filters.
type Registry struct {
	mu      sync.RWMutex
	subs    map[string]*Subscription
	filters map[string]Filter
	metrics *metrics.Metrics
}

func NewRegistry(m *metrics.Metrics) *Registry {
	return &Registry{
		subs:    make(map[string]*Subscription),
		filters: make(map[string]Filter),
		metrics: m,
	}
}

// Register adds s. Registering a closed or already registered handle is a
// no-op and reports false.
func (r *Registry) Register(s *Subscription) bool {
	if s == nil || s.Closed() {
		return false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.subs[s.id]; ok {
		return false
	}
	r.subs[s.id] = s
	r.metrics.SetSubscribers(len(r.subs))
	return true
}

// Unregister removes and closes s. It never blocks on the subscriber and may
// be called any number of times.
func (r *Registry) Unregister(s *Subscription) bool {
	if s == nil {
		return false
	}
	r.mu.Lock()
	_, ok := r.subs[s.id]
	delete(r.subs, s.id)
	delete(r.filters, s.id)
	n := len(r.subs)
	r.mu.Unlock()

	s.close()
	if ok {
		r.metrics.SetSubscribers(n)
	}
	return ok
}

// SetFilter records the non-empty fields of f as the last query filter of a
// registered subscriber. Empty fields keep their previous value.
func (r *Registry) SetFilter(s *Subscription, f Filter) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.subs[s.id]; !ok {
		return
	}
	prev := r.filters[s.id]
	if f.Symbol != "" {
		prev.Symbol = f.Symbol
	}
	if f.AccountID.Valid() {
		prev.AccountID = f.AccountID
	}
	r.filters[s.id] = prev
}

// Filter returns the last query filter of s.
func (r *Registry) Filter(s *Subscription) (Filter, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	f, ok := r.filters[s.id]
	return f, ok
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.subs)
}

func (r *Registry) list() []*Subscription {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Subscription, 0, len(r.subs))
	for _, s := range r.subs {
		out = append(out, s)
	}
	return out
}
