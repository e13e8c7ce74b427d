package store

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"upbit-trading-bot/internal/portfolio"
)

// Repository is the pgx-backed trade ledger and portfolio snapshot store. It
// satisfies portfolio.Store.
type Repository struct {
	db *DB
}

// NewRepository builds a Repository over db.
func NewRepository(db *DB) *Repository {
	return &Repository{db: db}
}

// HealthCheck pings the underlying pool.
func (r *Repository) HealthCheck(ctx context.Context) error {
	return r.db.Pool.Ping(ctx)
}

// InsertTrade appends a single executed fill to the ledger.
func (r *Repository) InsertTrade(ctx context.Context, trade portfolio.Trade) error {
	query := `
		INSERT INTO trades (market, side, price, volume, fee, strategy_id, executed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	_, err := r.db.Pool.Exec(ctx, query,
		trade.Market, trade.Side, trade.Price, trade.Volume, trade.Fee, trade.StrategyID, trade.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("insert trade: %w", err)
	}
	return nil
}

// GetTrades returns trades executed within [start, end], optionally scoped
// to a single market, ordered chronologically and bounded by limit.
func (r *Repository) GetTrades(ctx context.Context, start, end time.Time, market string, limit int) ([]portfolio.Trade, error) {
	if limit <= 0 {
		limit = 10000
	}
	query := `
		SELECT market, side, price, volume, fee, strategy_id, executed_at
		FROM trades
		WHERE executed_at >= $1 AND executed_at <= $2 AND ($3 = '' OR market = $3)
		ORDER BY executed_at ASC
		LIMIT $4
	`
	rows, err := r.db.Pool.Query(ctx, query, start, end, market, limit)
	if err != nil {
		return nil, fmt.Errorf("query trades: %w", err)
	}
	defer rows.Close()

	var trades []portfolio.Trade
	for rows.Next() {
		var t portfolio.Trade
		var strategyID *string
		if err := rows.Scan(&t.Market, &t.Side, &t.Price, &t.Volume, &t.Fee, &strategyID, &t.Timestamp); err != nil {
			return nil, fmt.Errorf("scan trade row: %w", err)
		}
		if strategyID != nil {
			t.StrategyID = *strategyID
		}
		trades = append(trades, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate trade rows: %w", err)
	}
	return trades, nil
}

// InsertPortfolioSnapshot persists a portfolio.Snapshot.
func (r *Repository) InsertPortfolioSnapshot(ctx context.Context, snap portfolio.Snapshot) error {
	query := `
		INSERT INTO portfolio_snapshots
			(total_krw, total_btc, positions_count, net_profit, win_rate, sharpe_ratio, max_drawdown, taken_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`
	_, err := r.db.Pool.Exec(ctx, query,
		snap.TotalKRW, snap.TotalBTC, snap.PositionsCount, snap.NetProfit,
		snap.WinRate, snap.SharpeRatio, snap.MaxDrawdown, snap.TakenAt,
	)
	if err != nil {
		return fmt.Errorf("insert portfolio snapshot: %w", err)
	}
	return nil
}

// GetLatestPortfolioSnapshot returns the most recently taken snapshot.
func (r *Repository) GetLatestPortfolioSnapshot(ctx context.Context) (portfolio.Snapshot, error) {
	query := `
		SELECT total_krw, total_btc, positions_count, net_profit, win_rate, sharpe_ratio, max_drawdown, taken_at
		FROM portfolio_snapshots
		ORDER BY taken_at DESC
		LIMIT 1
	`
	var s portfolio.Snapshot
	err := r.db.Pool.QueryRow(ctx, query).Scan(
		&s.TotalKRW, &s.TotalBTC, &s.PositionsCount, &s.NetProfit,
		&s.WinRate, &s.SharpeRatio, &s.MaxDrawdown, &s.TakenAt,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			return portfolio.Snapshot{}, fmt.Errorf("no portfolio snapshot exists yet")
		}
		return portfolio.Snapshot{}, fmt.Errorf("query latest portfolio snapshot: %w", err)
	}
	return s, nil
}

// GetSnapshotHistory returns up to limit snapshots, most recent first.
func (r *Repository) GetSnapshotHistory(ctx context.Context, limit int) ([]portfolio.Snapshot, error) {
	if limit <= 0 {
		limit = 100
	}
	query := `
		SELECT total_krw, total_btc, positions_count, net_profit, win_rate, sharpe_ratio, max_drawdown, taken_at
		FROM portfolio_snapshots
		ORDER BY taken_at DESC
		LIMIT $1
	`
	rows, err := r.db.Pool.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("query snapshot history: %w", err)
	}
	defer rows.Close()

	var snapshots []portfolio.Snapshot
	for rows.Next() {
		var s portfolio.Snapshot
		if err := rows.Scan(
			&s.TotalKRW, &s.TotalBTC, &s.PositionsCount, &s.NetProfit,
			&s.WinRate, &s.SharpeRatio, &s.MaxDrawdown, &s.TakenAt,
		); err != nil {
			return nil, fmt.Errorf("scan snapshot row: %w", err)
		}
		snapshots = append(snapshots, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate snapshot rows: %w", err)
	}
	return snapshots, nil
}

// PruneSnapshots deletes snapshots older than olderThan, returning the
// number of rows removed.
func (r *Repository) PruneSnapshots(ctx context.Context, olderThan time.Time) (int64, error) {
	tag, err := r.db.Pool.Exec(ctx, `DELETE FROM portfolio_snapshots WHERE taken_at < $1`, olderThan)
	if err != nil {
		return 0, fmt.Errorf("prune portfolio snapshots: %w", err)
	}
	return tag.RowsAffected(), nil
}
