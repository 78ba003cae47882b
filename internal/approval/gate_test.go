package approval

import (
	"testing"
	"time"
)

func TestGate_approve(t *testing.T) {
	t.Parallel()
	g := NewGate(0)
	req := g.Request()
	if !g.Pending(req.ID) {
		t.Fatal("request should be pending")
	}

	if !g.Resolve(req.ID, true) {
		t.Fatal("first resolve should succeed")
	}
	select {
	case approved := <-req.Decision:
		if !approved {
			t.Fatal("expected approval")
		}
	case <-time.After(time.Second):
		t.Fatal("decision never delivered")
	}
	if g.Pending(req.ID) {
		t.Fatal("request should no longer be pending")
	}
}

func TestGate_reject(t *testing.T) {
	t.Parallel()
	g := NewGate(0)
	req := g.Request()
	g.Resolve(req.ID, false)
	if approved := <-req.Decision; approved {
		t.Fatal("expected rejection")
	}
}

func TestGate_doubleResolve(t *testing.T) {
	t.Parallel()
	g := NewGate(0)
	req := g.Request()
	if !g.Resolve(req.ID, true) {
		t.Fatal("first resolve should succeed")
	}
	if g.Resolve(req.ID, false) {
		t.Fatal("second resolve must be a no-op")
	}
	if approved := <-req.Decision; !approved {
		t.Fatal("first decision must win")
	}
}

func TestGate_unknownID(t *testing.T) {
	t.Parallel()
	g := NewGate(0)
	if g.Resolve("nope", true) {
		t.Fatal("unknown id must not resolve")
	}
}

func TestGate_unresolvedStaysPending(t *testing.T) {
	t.Parallel()
	g := NewGate(0)
	req := g.Request()
	select {
	case <-req.Decision:
		t.Fatal("decision arrived without a resolver")
	case <-time.After(50 * time.Millisecond):
	}
	if !g.Pending(req.ID) || g.Len() != 1 {
		t.Fatal("request should still be pending")
	}
}

func TestGate_ttlExpiresAsRejected(t *testing.T) {
	t.Parallel()
	g := NewGate(20 * time.Millisecond)
	req := g.Request()
	select {
	case approved := <-req.Decision:
		if approved {
			t.Fatal("expiry must reject")
		}
	case <-time.After(time.Second):
		t.Fatal("ttl never fired")
	}
	if g.Pending(req.ID) {
		t.Fatal("expired request should be removed")
	}
}
