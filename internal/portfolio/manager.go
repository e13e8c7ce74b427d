package portfolio

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"upbit-trading-bot/internal/upbit"
)

// defaultTradesLimit bounds a GetTrades call when the caller does not name
// an explicit limit, so performance calculation never pulls an unbounded
// ledger into memory.
const defaultTradesLimit = 10000

// Snapshot is a point-in-time portfolio valuation and performance summary,
// the row contract for C8's insert_portfolio_snapshot.
type Snapshot struct {
	TotalKRW       float64
	TotalBTC       float64
	PositionsCount int
	NetProfit      float64
	WinRate        float64
	SharpeRatio    float64
	MaxDrawdown    float64
	TakenAt        time.Time
}

// Store is the persistence surface the portfolio manager needs: a trade
// ledger it can append to and query for performance reporting, plus the
// portfolio snapshot table. Implemented by internal/store, injected
// explicitly rather than reached for as a package-level global.
type Store interface {
	InsertTrade(ctx context.Context, trade Trade) error
	GetTrades(ctx context.Context, start, end time.Time, market string, limit int) ([]Trade, error)
	InsertPortfolioSnapshot(ctx context.Context, snap Snapshot) error
}

// Manager tracks live account/position state and records executed trades to
// a Store, computing performance metrics from the recorded ledger.
type Manager struct {
	store  Store
	logger zerolog.Logger

	mu        sync.RWMutex
	accounts  map[string]upbit.Position
	totalKRW  float64
	totalBTC  float64
	updatedAt time.Time
}

// NewManager builds a Manager backed by store.
func NewManager(store Store, logger zerolog.Logger) *Manager {
	return &Manager{
		store:    store,
		logger:   logger.With().Str("component", "portfolio_manager").Logger(),
		accounts: make(map[string]upbit.Position),
	}
}

// UpdatePositions replaces the tracked account snapshot with a fresh read
// from the exchange, recomputes aggregate KRW/BTC valuation, and persists a
// portfolio snapshot row capturing the result. A snapshot write failure is
// logged, not returned: the in-memory state this call exists to refresh is
// already consistent by the time the write is attempted.
func (m *Manager) UpdatePositions(ctx context.Context, accounts []upbit.Position) {
	m.mu.Lock()

	m.accounts = make(map[string]upbit.Position, len(accounts))
	var totalKRW, totalBTC float64

	for _, a := range accounts {
		m.accounts[a.Currency] = a
		switch a.Currency {
		case "KRW":
			totalKRW += a.Balance
		case "BTC":
			totalBTC += a.Balance
		default:
			totalKRW += a.Balance * a.AvgBuyPrice
		}
	}

	m.totalKRW = totalKRW
	m.totalBTC = totalBTC
	m.updatedAt = time.Now()

	positionsCount := 0
	for currency, a := range m.accounts {
		if currency != "KRW" && (a.Balance > 0 || a.Locked > 0) {
			positionsCount++
		}
	}
	m.mu.Unlock()

	metrics, err := m.CalculatePerformance(ctx, time.Now().Add(-30*24*time.Hour), time.Now(), "", 0)
	if err != nil {
		m.logger.Warn().Err(err).Msg("failed to compute metrics for portfolio snapshot")
		return
	}

	snap := Snapshot{
		TotalKRW:       totalKRW,
		TotalBTC:       totalBTC,
		PositionsCount: positionsCount,
		NetProfit:      metrics.NetProfit,
		WinRate:        metrics.WinRate,
		SharpeRatio:    metrics.SharpeRatio,
		MaxDrawdown:    metrics.MaxDrawdown,
		TakenAt:        m.updatedAt,
	}
	if err := m.store.InsertPortfolioSnapshot(ctx, snap); err != nil {
		m.logger.Warn().Err(err).Msg("failed to persist portfolio snapshot")
	}
}

// GetAccount returns the cached account snapshot for a currency.
func (m *Manager) GetAccount(currency string) (upbit.Position, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	a, ok := m.accounts[currency]
	return a, ok
}

// GetAccounts returns a copy of every tracked account.
func (m *Manager) GetAccounts() map[string]upbit.Position {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]upbit.Position, len(m.accounts))
	for k, v := range m.accounts {
		out[k] = v
	}
	return out
}

// TotalValue returns the aggregate KRW and BTC valuation as of the last
// UpdatePositions call.
func (m *Manager) TotalValue() (krw, btc float64) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.totalKRW, m.totalBTC
}

// RecordTrade persists an executed order fill to the ledger. Orders that
// never executed (executed_volume <= 0) are not recorded.
func (m *Manager) RecordTrade(ctx context.Context, result upbit.OrderResult, strategyID string) error {
	if result.ExecutedVolume <= 0 {
		m.logger.Info().Str("order_id", result.OrderID).Msg("order did not execute, skipping trade record")
		return nil
	}

	trade := Trade{
		Market:     result.Market,
		Side:       result.Side,
		Price:      result.Price,
		Volume:     result.ExecutedVolume,
		Fee:        result.PaidFee,
		Timestamp:  time.Now(),
		StrategyID: strategyID,
	}

	if err := m.store.InsertTrade(ctx, trade); err != nil {
		return fmt.Errorf("record trade: %w", err)
	}

	m.logger.Info().
		Str("market", trade.Market).
		Str("side", trade.Side).
		Float64("volume", trade.Volume).
		Msg("trade recorded")
	return nil
}

// CalculatePerformance loads trades in [start, end] from the store, scoped
// to market when non-empty and bounded by limit (defaultTradesLimit when
// limit <= 0), and derives performance metrics from them.
func (m *Manager) CalculatePerformance(ctx context.Context, start, end time.Time, market string, limit int) (Metrics, error) {
	if limit <= 0 {
		limit = defaultTradesLimit
	}
	trades, err := m.store.GetTrades(ctx, start, end, market, limit)
	if err != nil {
		return Metrics{}, fmt.Errorf("load trades for performance calculation: %w", err)
	}
	return CalculateMetrics(trades, start, end), nil
}

// Report is the performance report: metrics for the window plus the current
// account balances, aggregate valuation, and held-position count.
type Report struct {
	Metrics        Metrics
	Accounts       map[string]upbit.Position
	TotalKRW       float64
	TotalBTC       float64
	PositionsCount int
	GeneratedAt    time.Time
}

// GenerateReport builds a Report for the given window, across every market.
func (m *Manager) GenerateReport(ctx context.Context, start, end time.Time) (Report, error) {
	metrics, err := m.CalculatePerformance(ctx, start, end, "", 0)
	if err != nil {
		return Report{}, err
	}

	krw, btc := m.TotalValue()
	accounts := m.GetAccounts()

	positionsCount := 0
	for currency, a := range accounts {
		if currency == "KRW" {
			continue
		}
		if a.Balance > 0 || a.Locked > 0 {
			positionsCount++
		}
	}

	return Report{
		Metrics:        metrics,
		Accounts:       accounts,
		TotalKRW:       krw,
		TotalBTC:       btc,
		PositionsCount: positionsCount,
		GeneratedAt:    time.Now(),
	}, nil
}
