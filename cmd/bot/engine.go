package main

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"upbit-trading-bot/config"
	"upbit-trading-bot/internal/api"
	"upbit-trading-bot/internal/order"
	"upbit-trading-bot/internal/portfolio"
	"upbit-trading-bot/internal/position"
	"upbit-trading-bot/internal/strategy"
	"upbit-trading-bot/internal/upbit"
)

// marketState bundles the per-market strategy tools the engine evaluates on
// every tick: the partial-sell ladder and trailing-stop tracker are scaled
// to the same strategy.Config but track independent state per market.
type marketState struct {
	ladder   *strategy.Ladder
	trailing *strategy.TrailingStopTracker
}

// effectiveStopLoss returns the stop-loss threshold (a negative PnL%) that
// should currently apply: the configured level, moved up to breakeven once
// the ladder's first rung has sold.
func (st *marketState) effectiveStopLoss(configured float64) float64 {
	if st.ladder.ShouldAdjustStopLoss() {
		st.ladder.MarkStopLossAdjusted()
	}
	if st.ladder.StopLossAdjusted() {
		return 0
	}
	return -configured
}

// engine is the steady-state loop described in spec.md: poll tickers, run
// the stop-loss/averaging decisions through C3/C4/C5, and dispatch signals
// through C6. It also implements api.BotAPI so the monitoring server can
// read its live state without a second source of truth.
type engine struct {
	cfgMu sync.RWMutex
	cfg   config.StrategyConfig

	client    *upbit.Client
	positions *position.Manager
	orders    *order.Manager
	portfolio *portfolio.Manager
	logger    zerolog.Logger
	hub       *api.Hub

	markets map[string]*marketState

	running bool
}

func newEngine(cfg config.StrategyConfig, client *upbit.Client, positions *position.Manager, orders *order.Manager, pf *portfolio.Manager, hub *api.Hub, logger zerolog.Logger) *engine {
	return &engine{
		cfg:       cfg,
		client:    client,
		positions: positions,
		orders:    orders,
		portfolio: pf,
		hub:       hub,
		logger:    logger.With().Str("component", "engine").Logger(),
		markets:   make(map[string]*marketState),
	}
}

// getCfg returns a copy of the engine's current strategy config, safe to call
// concurrently with ApplyConfig.
func (e *engine) getCfg() config.StrategyConfig {
	e.cfgMu.RLock()
	defer e.cfgMu.RUnlock()
	return e.cfg
}

// ApplyConfig implements C9's configuration atomicity: bundle is validated
// first, and only a valid bundle replaces the running strategy's parameters.
// A rejected bundle leaves e.cfg untouched. Per-market ladder/trailing-stop
// state, open positions, and active orders are untouched either way — a
// reconfiguration changes the parameters applied to future decisions, not
// the state accumulated under the old ones.
func (e *engine) ApplyConfig(cfg config.StrategyConfig) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	e.cfgMu.Lock()
	defer e.cfgMu.Unlock()
	e.cfg = cfg
	return nil
}

// stateFor lazily builds the ladder/trailing-stop pair for market, scaled to
// the engine's strategy config.
func (e *engine) stateFor(market string) (*marketState, error) {
	if st, ok := e.markets[market]; ok {
		return st, nil
	}

	cfg := e.getCfg()
	ladder, err := cfg.NewLadderFor()
	if err != nil {
		return nil, err
	}
	trailing, err := cfg.NewTrailingStopFor()
	if err != nil {
		return nil, err
	}
	st := &marketState{ladder: ladder, trailing: trailing}
	e.markets[market] = st
	return st, nil
}

// evaluateMarket pulls the current ticker for market and drives the
// stop-loss/averaging/ladder/trailing-stop decisions for any open position,
// dispatching the resulting sell signal through the order manager.
func (e *engine) evaluateMarket(ctx context.Context, market string) error {
	ticker, err := e.client.GetTicker(market)
	if err != nil {
		return err
	}

	pos, hasPosition := e.positions.GetPosition(market)
	if !hasPosition {
		return nil
	}

	pnl, ok := e.positions.GetPositionPnL(market, ticker.TradePrice)
	if !ok {
		return nil
	}

	st, err := e.stateFor(market)
	if err != nil {
		return err
	}
	cfg := e.getCfg()

	dropPercent := (ticker.TradePrice - pos.AveragePrice) / pos.AveragePrice * 100
	if dropPercent <= -cfg.AveragingDropPercent {
		return e.handleAveragingSignal(ctx, market, ticker.TradePrice)
	}

	if st.trailing.ShouldActivate(pnl.PnLRate) {
		if err := st.trailing.Activate(ticker.TradePrice); err != nil {
			e.logger.Warn().Err(err).Str("market", market).Msg("failed to activate trailing stop")
		}
	}
	if err := st.trailing.UpdateHighPrice(ticker.TradePrice); err != nil {
		e.logger.Debug().Err(err).Str("market", market).Msg("trailing stop update skipped")
	}
	if st.trailing.ShouldTriggerStop(ticker.TradePrice) {
		return e.handleFullExit(ctx, market, pos.TotalQuantity, ticker.TradePrice)
	}

	if ratio, ok := st.ladder.ShouldPartialSell(pnl.PnLRate); ok {
		sellQty := pos.TotalQuantity * ratio
		return e.handlePartialSell(ctx, market, sellQty, ticker.TradePrice)
	}

	if pnl.PnLRate <= st.effectiveStopLoss(cfg.StopLossPercent) {
		return e.handleFullExit(ctx, market, pos.TotalQuantity, ticker.TradePrice)
	}

	return nil
}

func (e *engine) handleAveragingSignal(ctx context.Context, market string, price float64) error {
	pos, ok := e.positions.GetPosition(market)
	if !ok {
		return nil
	}
	cfg := e.getCfg()
	if len(pos.Entries) > cfg.MaxAveragingCount {
		return nil
	}

	krw, _ := e.portfolio.GetAccount("KRW")
	spend := krw.Balance * cfg.AveragingPositionRatio
	if spend <= 0 {
		return nil
	}

	sig := order.Signal{Market: market, Action: "buy", Volume: spend, StrategyID: "averaging", Timestamp: time.Now()}
	return e.dispatch(ctx, sig, func(result upbit.OrderResult) {
		qty := result.ExecutedVolume
		if qty <= 0 {
			return
		}
		if _, err := e.positions.AddAveragingPosition(market, price, qty); err != nil {
			e.logger.Error().Err(err).Str("market", market).Msg("failed to record averaging entry")
		}
	})
}

func (e *engine) handlePartialSell(ctx context.Context, market string, quantity, price float64) error {
	sig := order.Signal{Market: market, Action: "sell", Volume: quantity, StrategyID: "ladder", Timestamp: time.Now()}
	return e.dispatch(ctx, sig, func(result upbit.OrderResult) {
		if result.ExecutedVolume <= 0 {
			return
		}
		if _, err := e.positions.PartialSell(market, result.ExecutedVolume, price); err != nil {
			e.logger.Error().Err(err).Str("market", market).Msg("failed to record partial sell")
		}
	})
}

func (e *engine) handleFullExit(ctx context.Context, market string, quantity, price float64) error {
	sig := order.Signal{Market: market, Action: "sell", Volume: quantity, StrategyID: "stop_loss", Timestamp: time.Now()}
	return e.dispatch(ctx, sig, func(result upbit.OrderResult) {
		if result.ExecutedVolume <= 0 {
			return
		}
		e.positions.ClosePosition(market)
		if st, ok := e.markets[market]; ok {
			st.ladder.Reset()
			st.trailing.Reset()
		}
	})
}

// dispatch creates and executes an order from sig (the order manager itself
// appends the ledger row ahead of exposing the fill in the active-orders
// map), invokes onFilled for any position bookkeeping specific to the
// caller, and broadcasts a status event to connected monitoring clients.
func (e *engine) dispatch(ctx context.Context, sig order.Signal, onFilled func(upbit.OrderResult)) error {
	ord, err := e.orders.CreateOrder(sig)
	if err != nil {
		return err
	}

	result, err := e.orders.Execute(ctx, ord, sig.StrategyID)
	if err != nil {
		e.logger.Error().Err(err).Str("market", sig.Market).Str("action", sig.Action).Msg("order execution failed")
		return err
	}

	onFilled(result)

	if e.hub != nil {
		e.hub.Broadcast(api.StatusEvent{
			Type:      "order_filled",
			Market:    sig.Market,
			Payload:   result,
			Timestamp: time.Now(),
		})
	}
	return nil
}

// refreshAccounts pulls the latest account balances into the portfolio
// manager, used both before evaluating signals and for the monitoring API.
func (e *engine) refreshAccounts(ctx context.Context) error {
	accounts, err := e.client.GetAccounts()
	if err != nil {
		return err
	}
	e.portfolio.UpdatePositions(ctx, accounts)
	return nil
}

// Run polls every configured market once per interval until ctx is
// cancelled.
func (e *engine) Run(ctx context.Context, markets []string, interval time.Duration) {
	e.running = true
	defer func() { e.running = false }()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := e.refreshAccounts(ctx); err != nil {
				e.logger.Warn().Err(err).Msg("failed to refresh accounts")
			}
			for _, market := range markets {
				if err := e.evaluateMarket(ctx, market); err != nil {
					e.logger.Warn().Err(err).Str("market", market).Msg("market evaluation failed")
				}
			}
			if _, err := e.orders.TrackOrders(); err != nil {
				e.logger.Warn().Err(err).Msg("failed to track active orders")
			}
		}
	}
}

// GetStatus implements api.BotAPI.
func (e *engine) GetStatus(ctx context.Context) (api.StatusReport, error) {
	report, err := e.portfolio.GenerateReport(ctx, time.Now().Add(-30*24*time.Hour), time.Now())
	if err != nil {
		return api.StatusReport{}, err
	}
	return api.StatusReport{
		Running:        e.running,
		ActiveOrders:   len(e.orders.GetActiveOrders()),
		PositionsCount: report.PositionsCount,
		TotalKRW:       report.TotalKRW,
		TotalBTC:       report.TotalBTC,
		NetProfit:      report.Metrics.NetProfit,
		WinRate:        report.Metrics.WinRate,
		SharpeRatio:    report.Metrics.SharpeRatio,
		MaxDrawdown:    report.Metrics.MaxDrawdown,
		GeneratedAt:    report.GeneratedAt,
	}, nil
}

// GetPositions implements api.BotAPI.
func (e *engine) GetPositions() []api.PositionView {
	all := e.positions.GetAllPositions()
	views := make([]api.PositionView, 0, len(all))
	for market, pos := range all {
		views = append(views, api.PositionView{
			Market:         market,
			AveragePrice:   pos.AveragePrice,
			TotalQuantity:  pos.TotalQuantity,
			AveragingCount: len(pos.Entries) - 1,
		})
	}
	return views
}

// GetConfig implements api.BotAPI.
func (e *engine) GetConfig() config.StrategyConfig {
	return e.getCfg()
}
