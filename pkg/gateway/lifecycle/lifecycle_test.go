package lifecycle

import "testing"

func TestLifecycle_DrainingFlag(t *testing.T) {
	var lc Lifecycle
	if lc.IsDraining() {
		t.Fatal("zero value should not be draining")
	}
	lc.SetDraining(true)
	if !lc.IsDraining() {
		t.Fatal("expected draining after SetDraining(true)")
	}
	lc.SetDraining(false)
	if lc.IsDraining() {
		t.Fatal("expected not draining after SetDraining(false)")
	}
}

func TestLifecycle_NilReceiverIsSafe(t *testing.T) {
	var lc *Lifecycle
	lc.SetDraining(true)
	if lc.IsDraining() {
		t.Fatal("nil lifecycle should report not draining")
	}
}
