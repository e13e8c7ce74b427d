package strategy

import (
	"fmt"
	"sync"
)

// TrailingState is the lifecycle state of a single market's trailing-stop
// tracker.
type TrailingState int

const (
	// TrailingIdle is the state before activation: no stop price is tracked.
	TrailingIdle TrailingState = iota
	// TrailingArmed is the state once activation profit has been reached:
	// the high-water mark and stop price are tracked on every price update.
	TrailingArmed
)

func (s TrailingState) String() string {
	switch s {
	case TrailingIdle:
		return "idle"
	case TrailingArmed:
		return "armed"
	default:
		return "unknown"
	}
}

// TrailingStopTracker tracks the high-water price and resulting stop price
// for a single position once armed. stop_price only ever moves up while
// armed, since it is recomputed only when the high-water mark increases.
type TrailingStopTracker struct {
	mu                sync.Mutex
	activationProfit  float64
	trailPercent      float64
	state             TrailingState
	highPrice         float64
	activationPrice   float64
	stopPrice         float64
}

// NewTrailingStopTracker builds a tracker that arms once profit reaches
// activationProfit percent, trailing trailPercent percent below the
// high-water mark thereafter.
func NewTrailingStopTracker(activationProfit, trailPercent float64) (*TrailingStopTracker, error) {
	if activationProfit <= 0 {
		return nil, fmt.Errorf("activation profit must be positive")
	}
	if trailPercent <= 0 {
		return nil, fmt.Errorf("trail percent must be positive")
	}
	return &TrailingStopTracker{
		activationProfit: activationProfit,
		trailPercent:     trailPercent,
		state:            TrailingIdle,
	}, nil
}

// ShouldActivate reports whether currentPnLPercent crosses the activation
// threshold. Once armed, it always returns true (idempotent check).
func (t *TrailingStopTracker) ShouldActivate(currentPnLPercent float64) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state == TrailingArmed {
		return true
	}
	return currentPnLPercent >= t.activationProfit
}

// Activate transitions Idle -> Armed, seeding the high-water mark at
// currentPrice. It is a no-op when already Armed.
func (t *TrailingStopTracker) Activate(currentPrice float64) error {
	if currentPrice <= 0 {
		return fmt.Errorf("current price must be positive")
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if t.state == TrailingArmed {
		return nil
	}

	t.state = TrailingArmed
	t.highPrice = currentPrice
	t.activationPrice = currentPrice
	t.recomputeStopPrice()
	return nil
}

// UpdateHighPrice raises the high-water mark (and recomputes stop_price) if
// currentPrice is a new high. No-op while Idle or if currentPrice doesn't
// exceed the existing high-water mark.
func (t *TrailingStopTracker) UpdateHighPrice(currentPrice float64) error {
	if currentPrice <= 0 {
		return fmt.Errorf("current price must be positive")
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if t.state != TrailingArmed {
		return nil
	}

	if currentPrice > t.highPrice {
		t.highPrice = currentPrice
		t.recomputeStopPrice()
	}
	return nil
}

// ShouldTriggerStop reports whether currentPrice has fallen to or below the
// current stop_price. Always false while Idle.
func (t *TrailingStopTracker) ShouldTriggerStop(currentPrice float64) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.state != TrailingArmed {
		return false
	}
	return currentPrice <= t.stopPrice
}

// StopPrice returns the current stop price and whether the tracker is armed.
func (t *TrailingStopTracker) StopPrice() (float64, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.stopPrice, t.state == TrailingArmed
}

// HighPrice returns the tracked high-water mark and whether the tracker is
// armed.
func (t *TrailingStopTracker) HighPrice() (float64, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.highPrice, t.state == TrailingArmed
}

// State returns the tracker's current lifecycle state.
func (t *TrailingStopTracker) State() TrailingState {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// Reset returns the tracker to Idle, clearing all tracked prices.
func (t *TrailingStopTracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.state = TrailingIdle
	t.highPrice = 0
	t.activationPrice = 0
	t.stopPrice = 0
}

// recomputeStopPrice must be called with mu held.
func (t *TrailingStopTracker) recomputeStopPrice() {
	t.stopPrice = t.highPrice * (1 - t.trailPercent/100)
}
