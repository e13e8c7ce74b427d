package position

import (
	"fmt"
	"sync"
	"time"
)

// EntryType distinguishes the initial buy from subsequent averaging buys.
type EntryType string

const (
	EntryInitial   EntryType = "initial"
	EntryAveraging EntryType = "averaging"
)

// Entry is a single buy leg within a position.
type Entry struct {
	Price     float64
	Quantity  float64
	Cost      float64
	OrderType EntryType
	Timestamp time.Time
}

// StopLossPosition is the aggregate state of one market's open position
// under the stop-loss/averaging strategy.
type StopLossPosition struct {
	Market        string
	Entries       []Entry
	AveragePrice  float64
	TotalQuantity float64
	TotalCost     float64
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// zeroQuantityEpsilon is the threshold below which a position's remaining
// quantity is considered fully liquidated.
const zeroQuantityEpsilon = 0.00001

// ErrDuplicatePosition is returned when an initial buy targets a market that
// already has an open position.
var ErrDuplicatePosition = fmt.Errorf("position already exists")

// ErrNoPosition is returned when an operation targets a market with no open
// position.
var ErrNoPosition = fmt.Errorf("no existing position found")

// ErrSellExceedsPosition is returned when a partial sell's quantity exceeds
// the position's remaining quantity.
var ErrSellExceedsPosition = fmt.Errorf("sell quantity exceeds position quantity")

// Manager tracks open positions per market and recomputes the weighted
// average price on every averaging buy.
type Manager struct {
	mu        sync.RWMutex
	positions map[string]*StopLossPosition
}

// NewManager builds an empty Manager.
func NewManager() *Manager {
	return &Manager{positions: make(map[string]*StopLossPosition)}
}

// AddInitialPosition opens a new position for market. It is an error to call
// this for a market that already has an open position.
func (m *Manager) AddInitialPosition(market string, price, quantity float64) (StopLossPosition, error) {
	if market == "" {
		return StopLossPosition{}, fmt.Errorf("market must be non-empty")
	}
	if price <= 0 {
		return StopLossPosition{}, fmt.Errorf("price must be positive")
	}
	if quantity <= 0 {
		return StopLossPosition{}, fmt.Errorf("quantity must be positive")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.positions[market]; exists {
		return StopLossPosition{}, fmt.Errorf("%w for market %s", ErrDuplicatePosition, market)
	}

	now := time.Now()
	cost := price * quantity
	pos := &StopLossPosition{
		Market: market,
		Entries: []Entry{{
			Price:     price,
			Quantity:  quantity,
			Cost:      cost,
			OrderType: EntryInitial,
			Timestamp: now,
		}},
		AveragePrice:  price,
		TotalQuantity: quantity,
		TotalCost:     cost,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	m.positions[market] = pos

	return *pos, nil
}

// AddAveragingPosition adds an additional buy leg to an existing position
// and recomputes average_price as total_cost/total_quantity.
func (m *Manager) AddAveragingPosition(market string, price, quantity float64) (StopLossPosition, error) {
	if market == "" {
		return StopLossPosition{}, fmt.Errorf("market must be non-empty")
	}
	if price <= 0 {
		return StopLossPosition{}, fmt.Errorf("price must be positive")
	}
	if quantity <= 0 {
		return StopLossPosition{}, fmt.Errorf("quantity must be positive")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	pos, exists := m.positions[market]
	if !exists {
		return StopLossPosition{}, fmt.Errorf("%w for market %s", ErrNoPosition, market)
	}

	cost := price * quantity
	pos.Entries = append(pos.Entries, Entry{
		Price:     price,
		Quantity:  quantity,
		Cost:      cost,
		OrderType: EntryAveraging,
		Timestamp: time.Now(),
	})
	pos.TotalQuantity += quantity
	pos.TotalCost += cost
	pos.AveragePrice = pos.TotalCost / pos.TotalQuantity
	pos.UpdatedAt = time.Now()

	return *pos, nil
}

// PartialSell reduces a position's quantity. The cost basis removed is
// sellQuantity * average_price, NOT sellQuantity * sellPrice: average_price
// itself never changes on a sell. If the remaining quantity falls below
// zeroQuantityEpsilon the position is fully removed.
func (m *Manager) PartialSell(market string, sellQuantity, sellPrice float64) (StopLossPosition, error) {
	if market == "" {
		return StopLossPosition{}, fmt.Errorf("market must be non-empty")
	}
	if sellQuantity <= 0 {
		return StopLossPosition{}, fmt.Errorf("sell quantity must be positive")
	}
	if sellPrice <= 0 {
		return StopLossPosition{}, fmt.Errorf("sell price must be positive")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	pos, exists := m.positions[market]
	if !exists {
		return StopLossPosition{}, fmt.Errorf("%w for market %s", ErrNoPosition, market)
	}

	if sellQuantity > pos.TotalQuantity {
		return StopLossPosition{}, fmt.Errorf("%w (%.8f > %.8f)", ErrSellExceedsPosition, sellQuantity, pos.TotalQuantity)
	}

	sellCost := sellQuantity * pos.AveragePrice
	pos.TotalQuantity -= sellQuantity
	pos.TotalCost -= sellCost
	pos.UpdatedAt = time.Now()

	if pos.TotalQuantity < zeroQuantityEpsilon {
		delete(m.positions, market)
		pos.TotalQuantity = 0
		pos.TotalCost = 0
		pos.AveragePrice = 0
	}

	return *pos, nil
}

// ClosePosition fully removes a position regardless of remaining quantity.
func (m *Manager) ClosePosition(market string) bool {
	if market == "" {
		return false
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.positions[market]; exists {
		delete(m.positions, market)
		return true
	}
	return false
}

// GetPosition returns the current position for market, if any.
func (m *Manager) GetPosition(market string) (StopLossPosition, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	pos, exists := m.positions[market]
	if !exists {
		return StopLossPosition{}, false
	}
	return *pos, true
}

// GetAllPositions returns a snapshot copy of all open positions.
func (m *Manager) GetAllPositions() map[string]StopLossPosition {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make(map[string]StopLossPosition, len(m.positions))
	for market, pos := range m.positions {
		out[market] = *pos
	}
	return out
}

// HasPosition reports whether market currently has an open position.
func (m *Manager) HasPosition(market string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, exists := m.positions[market]
	return exists
}

// PnL is the unrealized profit/loss snapshot for an open position at a given
// market price.
type PnL struct {
	PnL          float64
	PnLRate      float64
	CurrentValue float64
	TotalCost    float64
	AveragePrice float64
	CurrentPrice float64
}

// GetPositionPnL computes unrealized PnL for market at currentPrice. It
// returns false if there is no open position or currentPrice is non-positive.
func (m *Manager) GetPositionPnL(market string, currentPrice float64) (PnL, bool) {
	if currentPrice <= 0 {
		return PnL{}, false
	}

	pos, exists := m.GetPosition(market)
	if !exists {
		return PnL{}, false
	}

	currentValue := currentPrice * pos.TotalQuantity
	pnl := currentValue - pos.TotalCost
	var pnlRate float64
	if pos.TotalCost > 0 {
		pnlRate = (pnl / pos.TotalCost) * 100
	}

	return PnL{
		PnL:          pnl,
		PnLRate:      pnlRate,
		CurrentValue: currentValue,
		TotalCost:    pos.TotalCost,
		AveragePrice: pos.AveragePrice,
		CurrentPrice: currentPrice,
	}, true
}

// ClearAllPositions removes every tracked position.
func (m *Manager) ClearAllPositions() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.positions = make(map[string]*StopLossPosition)
}

// PositionCount returns the number of currently open positions.
func (m *Manager) PositionCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.positions)
}
