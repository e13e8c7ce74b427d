package strategy

import "testing"

func TestLadderFirstRungFiresAtHalfTarget(t *testing.T) {
	l, err := NewLadder(10.0) // target 10%
	if err != nil {
		t.Fatalf("NewLadder: %v", err)
	}

	if _, ok := l.ShouldPartialSell(4.0); ok {
		t.Fatalf("expected no sell below 50%% of target profit")
	}

	ratio, ok := l.ShouldPartialSell(5.0) // exactly 50% of target
	if !ok {
		t.Fatalf("expected L1 to fire at 50%% of target profit")
	}
	if ratio != 0.30 {
		t.Errorf("expected L1 ratio 0.30, got %v", ratio)
	}
}

func TestLadderRungFiresOnlyOnce(t *testing.T) {
	l, _ := NewLadder(10.0)
	l.ShouldPartialSell(5.0)

	if _, ok := l.ShouldPartialSell(6.0); ok {
		t.Fatalf("expected L1 to not refire once completed")
	}
}

func TestLadderScansInOrderNeverSkipsRungs(t *testing.T) {
	l, _ := NewLadder(10.0)

	// Jump straight past both thresholds in one tick.
	ratio, ok := l.ShouldPartialSell(20.0)
	if !ok {
		t.Fatalf("expected a rung to fire")
	}
	if ratio != 0.30 {
		t.Errorf("expected the un-skipped L1 rung (0.30) to fire first, got %v", ratio)
	}

	ratio2, ok2 := l.ShouldPartialSell(20.0)
	if !ok2 {
		t.Fatalf("expected L2 to fire on the next call")
	}
	if ratio2 != 0.50 {
		t.Errorf("expected L2 ratio 0.50, got %v", ratio2)
	}
}

func TestCalculateSellQuantity(t *testing.T) {
	qty, err := CalculateSellQuantity(10.0, 0.3)
	if err != nil {
		t.Fatalf("CalculateSellQuantity: %v", err)
	}
	if qty != 3.0 {
		t.Errorf("expected 3.0, got %v", qty)
	}

	if _, err := CalculateSellQuantity(10.0, 1.5); err == nil {
		t.Errorf("expected error for ratio > 1")
	}
}

func TestLadderReset(t *testing.T) {
	l, _ := NewLadder(10.0)
	l.ShouldPartialSell(5.0)
	l.Reset()

	if _, ok := l.ShouldPartialSell(5.0); !ok {
		t.Fatalf("expected L1 to be able to fire again after reset")
	}
}

func TestShouldAdjustStopLossFiresOnceAfterL1(t *testing.T) {
	l, _ := NewLadder(10.0)

	if l.ShouldAdjustStopLoss() {
		t.Fatalf("expected no adjustment before L1 completes")
	}

	l.ShouldPartialSell(5.0) // completes L1

	if !l.ShouldAdjustStopLoss() {
		t.Fatalf("expected adjustment to be due once L1 completes")
	}

	l.MarkStopLossAdjusted()

	if l.ShouldAdjustStopLoss() {
		t.Fatalf("expected no further adjustment once marked")
	}
}

func TestResetClearsStopLossAdjustedFlag(t *testing.T) {
	l, _ := NewLadder(10.0)
	l.ShouldPartialSell(5.0)
	l.MarkStopLossAdjusted()
	l.Reset()

	if l.ShouldAdjustStopLoss() {
		t.Fatalf("expected no adjustment due immediately after reset (L1 not yet completed again)")
	}

	l.ShouldPartialSell(5.0)
	if !l.ShouldAdjustStopLoss() {
		t.Fatalf("expected adjustment to be due again after reset and L1 refires")
	}
}
