package strategy

import (
	"fmt"
	"sync"
)

// ladderRung is one fixed step of the partial-sell ladder: once the position's
// profit reaches threshold (expressed as a multiple of target profit), ratio
// of the remaining quantity is sold.
type ladderRung struct {
	threshold float64
	ratio     float64
	completed bool
}

// Ladder implements the two-rung partial-sell schedule: L1 fires at 50% of
// target profit (sells 30%), L2 fires at 100% of target profit (sells 50%).
// Each rung fires exactly once and rungs are scanned in order, so the ladder
// never skips a rung even if price gaps past both thresholds in one tick.
type Ladder struct {
	mu                sync.Mutex
	targetProfit      float64
	rungs             []ladderRung
	stopLossAdjusted  bool
}

// NewLadder builds a Ladder for the given target profit percentage.
func NewLadder(targetProfit float64) (*Ladder, error) {
	if targetProfit <= 0 {
		return nil, fmt.Errorf("target profit must be positive")
	}
	return &Ladder{
		targetProfit: targetProfit,
		rungs: []ladderRung{
			{threshold: 0.5, ratio: 0.30},
			{threshold: 1.0, ratio: 0.50},
		},
	}, nil
}

// ShouldPartialSell returns the sell ratio for the first uncompleted rung
// whose threshold is met by currentPnLPercent, or ok=false if none fires.
// Marks that rung completed so it never fires again.
func (l *Ladder) ShouldPartialSell(currentPnLPercent float64) (ratio float64, ok bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	achievementRatio := currentPnLPercent / l.targetProfit

	for i := range l.rungs {
		rung := &l.rungs[i]
		if !rung.completed && achievementRatio >= rung.threshold {
			rung.completed = true
			return rung.ratio, true
		}
	}
	return 0, false
}

// ShouldAdjustStopLoss reports whether L1 has completed and the stop-loss
// has not yet been adjusted for it. Once L1 completes it keeps returning true
// until MarkStopLossAdjusted is called; Reset clears both conditions.
func (l *Ladder) ShouldAdjustStopLoss() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.rungs[0].completed && !l.stopLossAdjusted
}

// MarkStopLossAdjusted records that the stop-loss has been moved up
// following L1's completion, so ShouldAdjustStopLoss does not fire again.
func (l *Ladder) MarkStopLossAdjusted() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.stopLossAdjusted = true
}

// StopLossAdjusted reports whether MarkStopLossAdjusted has been called
// since the last Reset, independent of L1's current completion state.
func (l *Ladder) StopLossAdjusted() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.stopLossAdjusted
}

// CalculateSellQuantity returns totalQuantity * sellRatio. sellRatio must be
// in (0, 1].
func CalculateSellQuantity(totalQuantity, sellRatio float64) (float64, error) {
	if totalQuantity <= 0 {
		return 0, fmt.Errorf("total quantity must be positive")
	}
	if sellRatio <= 0 || sellRatio > 1 {
		return 0, fmt.Errorf("sell ratio must be in (0, 1]")
	}
	return totalQuantity * sellRatio, nil
}

// RemainingQuantityRatio returns 1 minus the sum of the ratios of the rungs
// that have fired: 1.0 before any sell, 0.7 after L1, 0.2 after both.
func (l *Ladder) RemainingQuantityRatio() float64 {
	l.mu.Lock()
	defer l.mu.Unlock()

	remaining := 1.0
	for _, rung := range l.rungs {
		if rung.completed {
			remaining -= rung.ratio
		}
	}
	if remaining < 0 {
		remaining = 0
	}
	return remaining
}

// Reset clears every rung's completed flag, returning the ladder to its
// initial state for a fresh position.
func (l *Ladder) Reset() {
	l.mu.Lock()
	defer l.mu.Unlock()
	for i := range l.rungs {
		l.rungs[i].completed = false
	}
	l.stopLossAdjusted = false
}
