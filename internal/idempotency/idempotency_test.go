package idempotency_test

import (
	"testing"

	"marketsim/internal/idempotency"
)

func TestGetPutRoundTrip(t *testing.T) {
	c := idempotency.New(100)
	if _, ok := c.Get("missing"); ok {
		t.Fatalf("expected no entry for unknown key")
	}

	r := idempotency.Result{TickID: 3, Results: []idempotency.ActionResult{
		{ActionIndex: 0, Status: "accepted", OrderID: "order-1"},
	}}
	c.Put("key-1", r)

	got, ok := c.Get("key-1")
	if !ok {
		t.Fatalf("expected entry for key-1")
	}
	if got.TickID != 3 || got.Results[0].OrderID != "order-1" {
		t.Fatalf("unexpected cached result: %+v", got)
	}
	if c.Size() != 1 {
		t.Fatalf("expected size 1, got %d", c.Size())
	}
}

func TestOnTickAdvanceFlushesEveryWindow(t *testing.T) {
	c := idempotency.New(100)
	c.Put("key-1", idempotency.Result{TickID: 0})

	for tick := int64(1); tick < 100; tick++ {
		c.OnTickAdvance(tick)
		if _, ok := c.Get("key-1"); !ok {
			t.Fatalf("expected entry to survive until tick 100, flushed early at tick %d", tick)
		}
	}

	c.OnTickAdvance(100)
	if _, ok := c.Get("key-1"); ok {
		t.Fatalf("expected entry to be flushed at tick 100")
	}
}

func TestZeroFlushWindowDisablesFlushing(t *testing.T) {
	c := idempotency.New(0)
	c.Put("key-1", idempotency.Result{TickID: 0})
	for tick := int64(1); tick < 500; tick++ {
		c.OnTickAdvance(tick)
	}
	if _, ok := c.Get("key-1"); !ok {
		t.Fatalf("expected entry to survive with flush disabled")
	}
}
