package order

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"upbit-trading-bot/internal/portfolio"
	"upbit-trading-bot/internal/upbit"
)

// TradeStore is the ledger-append surface the order manager needs to record
// a fill. Satisfied by internal/store.Repository, the same store
// internal/portfolio writes reports from.
type TradeStore interface {
	InsertTrade(ctx context.Context, trade portfolio.Trade) error
}

// Signal is a strategy-level instruction to buy or sell a market, prior to
// being translated into an exchange Order.
type Signal struct {
	Market     string
	Action     string // "buy" or "sell"
	Volume     float64
	StrategyID string
	Timestamp  time.Time
}

// Validate checks the signal's shape.
func (s Signal) Validate() bool {
	if s.Market == "" {
		return false
	}
	if s.Action != "buy" && s.Action != "sell" {
		return false
	}
	return s.Volume > 0
}

// ValidationResult is the outcome of pre-flight order validation: a tagged
// result rather than an error, since insufficient balance is an expected
// outcome, not an exceptional one.
type ValidationResult struct {
	IsValid          bool
	ErrorMessage     string
	RequiredBalance  float64
	AvailableBalance float64
}

// ErrInsufficientBalance is returned by Execute when validation fails on
// balance grounds, distinguishing it from a malformed order.
var ErrInsufficientBalance = errors.New("insufficient balance")

// retryDelays is the fixed backoff schedule between execution attempts; the
// final value repeats for any additional retries.
var retryDelays = []time.Duration{1 * time.Second, 2 * time.Second, 4 * time.Second}

// Manager creates, validates, executes, and tracks exchange orders derived
// from trading signals.
type Manager struct {
	client     *upbit.Client
	store      TradeStore
	maxRetries int
	logger     zerolog.Logger

	mu           sync.Mutex
	activeOrders map[string]upbit.OrderStatus
}

// NewManager builds a Manager bound to client, recording fills to store
// before exposing them in the active-orders map, and retrying a failed order
// placement up to maxRetries times.
func NewManager(client *upbit.Client, store TradeStore, maxRetries int, logger zerolog.Logger) *Manager {
	if maxRetries <= 0 {
		maxRetries = 3
	}
	return &Manager{
		client:       client,
		store:        store,
		maxRetries:   maxRetries,
		logger:       logger.With().Str("component", "order_manager").Logger(),
		activeOrders: make(map[string]upbit.OrderStatus),
	}
}

// CreateOrder translates a trading signal into a concrete exchange Order. A
// buy signal places a market-buy priced in KRW ("price" ord_type, with
// signal.Volume interpreted as a KRW amount); a sell signal places a
// market-sell sized in base currency ("market" ord_type).
func (m *Manager) CreateOrder(signal Signal) (upbit.Order, error) {
	if !signal.Validate() {
		return upbit.Order{}, fmt.Errorf("invalid trading signal for %s", signal.Market)
	}

	identifier := fmt.Sprintf("%s_%d", signal.StrategyID, signal.Timestamp.Unix())

	var ord upbit.Order
	if signal.Action == "buy" {
		ord = upbit.Order{
			Market:     signal.Market,
			Side:       "bid",
			OrdType:    "price",
			Price:      signal.Volume,
			Identifier: identifier,
		}
	} else {
		ord = upbit.Order{
			Market:     signal.Market,
			Side:       "ask",
			OrdType:    "market",
			Volume:     roundTo8(signal.Volume),
			Identifier: identifier,
		}
	}

	if !ord.Validate() {
		return upbit.Order{}, fmt.Errorf("translated order is invalid for signal on %s", signal.Market)
	}

	return ord, nil
}

// Validate checks an order's shape and, for a well-formed order, the
// account's available balance against what the order requires. No API call
// is made when the order itself is malformed.
func (m *Manager) Validate(ord upbit.Order) ValidationResult {
	if !ord.Validate() {
		return ValidationResult{IsValid: false, ErrorMessage: "order data is invalid"}
	}

	positions, err := m.client.GetAccounts()
	if err != nil {
		return ValidationResult{IsValid: false, ErrorMessage: fmt.Sprintf("failed to fetch accounts: %v", err)}
	}

	if ord.Side == "bid" {
		return validateBid(ord, positions)
	}
	return validateAsk(ord, positions)
}

func validateBid(ord upbit.Order, positions []upbit.Position) ValidationResult {
	krw, ok := findPosition(positions, "KRW")
	if !ok {
		return ValidationResult{IsValid: false, ErrorMessage: "KRW balance not found"}
	}

	var required float64
	switch ord.OrdType {
	case "price":
		required = ord.Price
	case "limit":
		required = ord.Price * ord.Volume
	default:
		required = 0
	}

	available := krw.Balance - krw.Locked
	if available < required {
		return ValidationResult{
			IsValid:          false,
			ErrorMessage:     "insufficient KRW balance",
			RequiredBalance:  required,
			AvailableBalance: available,
		}
	}
	return ValidationResult{IsValid: true, RequiredBalance: required, AvailableBalance: available}
}

func validateAsk(ord upbit.Order, positions []upbit.Position) ValidationResult {
	currency := marketCurrency(ord.Market)
	coin, ok := findPosition(positions, currency)
	if !ok {
		return ValidationResult{IsValid: false, ErrorMessage: fmt.Sprintf("%s balance not found", currency)}
	}

	available := coin.Balance - coin.Locked
	if available < ord.Volume {
		return ValidationResult{
			IsValid:          false,
			ErrorMessage:     "insufficient coin balance to sell",
			RequiredBalance:  ord.Volume,
			AvailableBalance: available,
		}
	}
	return ValidationResult{IsValid: true, RequiredBalance: ord.Volume, AvailableBalance: available}
}

// Execute validates then places an order, retrying on RateLimited/Server/
// Transport errors per the fixed backoff schedule. Validation failures and
// every other error kind (client, auth) are never retried.
//
// On a successful placement with a non-zero executed volume, the fill is
// appended to the trade ledger before the order is exposed in the
// active-orders map — the map update happens after, and only after, the
// ledger write. A placement that reports no executed volume writes no ledger
// row and is tracked directly. If the ledger write itself fails, it is logged
// and the active-orders map is left unchanged, but the exchange has already
// accepted the order, so the successful OrderResult is still returned to the
// caller.
func (m *Manager) Execute(ctx context.Context, ord upbit.Order, strategyID string) (upbit.OrderResult, error) {
	validation := m.Validate(ord)
	if !validation.IsValid {
		if strings.Contains(validation.ErrorMessage, "insufficient") {
			return upbit.OrderResult{}, fmt.Errorf("%w: %s", ErrInsufficientBalance, validation.ErrorMessage)
		}
		return upbit.OrderResult{}, fmt.Errorf("order validation failed: %s", validation.ErrorMessage)
	}

	var lastErr error
	for attempt := 0; attempt <= m.maxRetries; attempt++ {
		result, err := m.client.PlaceOrder(ord)
		if err == nil {
			m.recordAndTrack(ctx, result, strategyID)
			return result, nil
		}

		lastErr = err
		if !isRetryable(err) || attempt == m.maxRetries {
			break
		}

		delay := retryDelays[len(retryDelays)-1]
		if attempt < len(retryDelays) {
			delay = retryDelays[attempt]
		}
		m.logger.Warn().Err(err).Int("attempt", attempt+1).Dur("delay", delay).Msg("order execution failed, retrying")
		time.Sleep(delay)
	}

	return upbit.OrderResult{}, fmt.Errorf("order execution exhausted retries: %w", lastErr)
}

func isRetryable(err error) bool {
	var rateLimited *upbit.RateLimitedError
	var serverErr *upbit.ServerError
	var transportErr *upbit.TransportError
	return errors.As(err, &rateLimited) || errors.As(err, &serverErr) || errors.As(err, &transportErr)
}

// recordAndTrack appends result to the trade ledger when it has executed
// volume and, only once that write succeeds, exposes the order in the
// active-orders map. A result with no executed volume is tracked without a
// ledger row.
func (m *Manager) recordAndTrack(ctx context.Context, result upbit.OrderResult, strategyID string) {
	if result.ExecutedVolume > 0 {
		trade := portfolio.Trade{
			Market:     result.Market,
			Side:       result.Side,
			Price:      result.Price,
			Volume:     result.ExecutedVolume,
			Fee:        result.PaidFee,
			Timestamp:  time.Now(),
			StrategyID: strategyID,
		}
		if err := m.store.InsertTrade(ctx, trade); err != nil {
			m.logger.Error().Err(err).Str("order_id", result.OrderID).Msg("failed to append trade ledger row, active order not tracked")
			return
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.activeOrders[result.OrderID] = upbit.OrderStatus{
		OrderID:         result.OrderID,
		Market:          result.Market,
		Side:            result.Side,
		OrdType:         result.OrdType,
		Price:           result.Price,
		State:           "wait",
		Volume:          result.Volume,
		RemainingVolume: result.RemainingVolume,
		ExecutedVolume:  result.ExecutedVolume,
		CreatedAt:       time.Now(),
	}
}

// CancelOrder cancels a resting order and marks it cancelled in the active
// order cache if present.
func (m *Manager) CancelOrder(orderID string) bool {
	ok := m.client.CancelOrder(orderID)
	if ok {
		m.mu.Lock()
		if status, exists := m.activeOrders[orderID]; exists {
			status.State = "cancel"
			m.activeOrders[orderID] = status
		}
		m.mu.Unlock()
	}
	return ok
}

// TrackOrders polls the exchange for every active order's current status,
// updating the cache only for orders whose state actually changed, and
// evicting orders that reach a terminal state (done/cancel).
func (m *Manager) TrackOrders() ([]upbit.OrderStatus, error) {
	m.mu.Lock()
	orderIDs := make([]string, 0, len(m.activeOrders))
	for id := range m.activeOrders {
		orderIDs = append(orderIDs, id)
	}
	m.mu.Unlock()

	updated := make([]upbit.OrderStatus, 0, len(orderIDs))
	var toRemove []string

	for _, id := range orderIDs {
		current, err := m.client.GetOrderStatus(id)
		if err != nil {
			m.logger.Error().Err(err).Str("order_id", id).Msg("failed to fetch order status")
			m.mu.Lock()
			updated = append(updated, m.activeOrders[id])
			m.mu.Unlock()
			continue
		}

		m.mu.Lock()
		cached := m.activeOrders[id]
		if current.State != cached.State {
			m.activeOrders[id] = current
			if current.State == "done" || current.State == "cancel" {
				toRemove = append(toRemove, id)
			}
		}
		m.mu.Unlock()

		updated = append(updated, current)
	}

	m.mu.Lock()
	for _, id := range toRemove {
		delete(m.activeOrders, id)
	}
	m.mu.Unlock()

	return updated, nil
}

// GetOrderStatus returns the cached status for a tracked order.
func (m *Manager) GetOrderStatus(orderID string) (upbit.OrderStatus, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	status, ok := m.activeOrders[orderID]
	return status, ok
}

// GetActiveOrders returns a snapshot of all currently tracked orders.
func (m *Manager) GetActiveOrders() []upbit.OrderStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]upbit.OrderStatus, 0, len(m.activeOrders))
	for _, status := range m.activeOrders {
		out = append(out, status)
	}
	return out
}

func findPosition(positions []upbit.Position, currency string) (upbit.Position, bool) {
	for _, p := range positions {
		if p.Currency == currency {
			return p, true
		}
	}
	return upbit.Position{}, false
}

func marketCurrency(market string) string {
	parts := strings.SplitN(market, "-", 2)
	if len(parts) != 2 {
		return market
	}
	return parts[1]
}

func roundTo8(v float64) float64 {
	const scale = 1e8
	return float64(int64(v*scale+0.5)) / scale
}
