package ocrpool

import "testing"

func TestCapacityGuardAllowsWithinHeadroom(t *testing.T) {
	g := NewCapacityGuard(10, 32e9, 1, 2e9, 0.2)

	if !g.Allows(0, 4) {
		t.Fatalf("expected 4 workers to fit within 8 usable cores")
	}
	if g.Allows(0, 9) {
		t.Fatalf("expected 9 workers to exceed the 20%% headroom-reduced CPU budget")
	}
}

func TestCapacityGuardMaxWorkers(t *testing.T) {
	g := NewCapacityGuard(10, 16e9, 1, 2e9, 0.2)

	// usable CPU = 8 cores -> 8 workers by CPU; usable RAM = 12.8e9 -> 6 by RAM.
	if got := g.MaxWorkers(); got != 6 {
		t.Fatalf("expected RAM to be the binding constraint at 6 workers, got %d", got)
	}
}
