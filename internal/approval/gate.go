// Package approval implements the rendezvous point that suspends a worker
// until a human resolves a high-risk action. Each request owns a one-shot
// decision slot; resolving twice is a no-op.
package approval

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// Request is a pending decision handle. Decision yields exactly one value
// and is closed afterwards; receivers see the decision or, if a TTL expired
// the request, a rejection.
type Request struct {
	ID       string
	Decision <-chan bool

	ch    chan bool
	once  sync.Once
	timer *time.Timer
}

// Gate registers pending approval requests by id. TTL of zero means
// requests never expire and an unresolved gate suspends its worker
// indefinitely.
type Gate struct {
	mu      sync.Mutex
	pending map[string]*Request
	ttl     time.Duration
}

// NewGate returns a gate whose requests expire (as rejected) after ttl.
// Pass 0 to disable expiry.
func NewGate(ttl time.Duration) *Gate {
	return &Gate{pending: make(map[string]*Request), ttl: ttl}
}

// Request registers a new pending decision and returns its handle. The
// caller blocks on Decision; an external actor calls Resolve with the id.
func (g *Gate) Request() *Request {
	ch := make(chan bool, 1)
	req := &Request{ID: uuid.NewString(), Decision: ch, ch: ch}

	g.mu.Lock()
	g.pending[req.ID] = req
	g.mu.Unlock()

	if g.ttl > 0 {
		req.timer = time.AfterFunc(g.ttl, func() {
			g.Resolve(req.ID, false)
		})
	}
	return req
}

// Resolve fulfills the pending decision exactly once. A second resolution
// for the same id, or an unknown id, returns false with no effect.
func (g *Gate) Resolve(id string, approved bool) bool {
	g.mu.Lock()
	req, ok := g.pending[id]
	if ok {
		delete(g.pending, id)
	}
	g.mu.Unlock()
	if !ok {
		return false
	}

	resolved := false
	req.once.Do(func() {
		if req.timer != nil {
			req.timer.Stop()
		}
		req.ch <- approved
		close(req.ch)
		resolved = true
	})
	return resolved
}

// Pending reports whether the given id still awaits a decision.
func (g *Gate) Pending(id string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	_, ok := g.pending[id]
	return ok
}

// Len returns the number of unresolved requests.
func (g *Gate) Len() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.pending)
}
