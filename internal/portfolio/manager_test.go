package portfolio

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"upbit-trading-bot/internal/upbit"
)

type fakeStore struct {
	trades    []Trade
	snapshots []Snapshot
}

func (f *fakeStore) InsertTrade(_ context.Context, trade Trade) error {
	f.trades = append(f.trades, trade)
	return nil
}

func (f *fakeStore) GetTrades(_ context.Context, start, end time.Time, market string, limit int) ([]Trade, error) {
	var out []Trade
	for _, t := range f.trades {
		if !t.Timestamp.Before(start) && !t.Timestamp.After(end) && (market == "" || t.Market == market) {
			out = append(out, t)
		}
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (f *fakeStore) InsertPortfolioSnapshot(_ context.Context, snap Snapshot) error {
	f.snapshots = append(f.snapshots, snap)
	return nil
}

func TestUpdatePositionsAggregatesKRWAndBTC(t *testing.T) {
	m := NewManager(&fakeStore{}, zerolog.Nop())
	m.UpdatePositions(context.Background(), []upbit.Position{
		{Currency: "KRW", Balance: 500000},
		{Currency: "BTC", Balance: 0.1},
		{Currency: "ETH", Balance: 2, AvgBuyPrice: 3000000},
	})

	krw, btc := m.TotalValue()
	if krw != 500000+2*3000000 {
		t.Errorf("expected KRW total to include altcoin valuation, got %v", krw)
	}
	if btc != 0.1 {
		t.Errorf("expected BTC total 0.1, got %v", btc)
	}
}

func TestUpdatePositionsPersistsSnapshot(t *testing.T) {
	store := &fakeStore{}
	m := NewManager(store, zerolog.Nop())
	m.UpdatePositions(context.Background(), []upbit.Position{
		{Currency: "KRW", Balance: 500000},
		{Currency: "BTC", Balance: 0.1},
	})

	if len(store.snapshots) != 1 {
		t.Fatalf("expected UpdatePositions to write one snapshot, got %d", len(store.snapshots))
	}
	if store.snapshots[0].TotalKRW != 500000 {
		t.Errorf("expected snapshot TotalKRW 500000, got %v", store.snapshots[0].TotalKRW)
	}
}

func TestRecordTradeSkipsUnexecutedOrders(t *testing.T) {
	store := &fakeStore{}
	m := NewManager(store, zerolog.Nop())

	if err := m.RecordTrade(context.Background(), upbit.OrderResult{OrderID: "o1", ExecutedVolume: 0}, "s1"); err != nil {
		t.Fatalf("RecordTrade: %v", err)
	}
	if len(store.trades) != 0 {
		t.Fatalf("expected no trade recorded for an unexecuted order")
	}
}

func TestRecordTradePersistsExecutedOrder(t *testing.T) {
	store := &fakeStore{}
	m := NewManager(store, zerolog.Nop())

	result := upbit.OrderResult{OrderID: "o1", Market: "KRW-BTC", Side: "bid", Price: 100, ExecutedVolume: 1, PaidFee: 0.5}
	if err := m.RecordTrade(context.Background(), result, "s1"); err != nil {
		t.Fatalf("RecordTrade: %v", err)
	}
	if len(store.trades) != 1 {
		t.Fatalf("expected one recorded trade, got %d", len(store.trades))
	}
	if store.trades[0].Volume != 1 || store.trades[0].Fee != 0.5 {
		t.Errorf("unexpected recorded trade: %+v", store.trades[0])
	}
}

func TestCalculatePerformanceUsesStoredTrades(t *testing.T) {
	now := time.Now()
	store := &fakeStore{trades: []Trade{
		{Market: "KRW-BTC", Side: "bid", Price: 100, Volume: 1, Timestamp: now.Add(-time.Hour)},
		{Market: "KRW-BTC", Side: "ask", Price: 110, Volume: 1, Timestamp: now},
	}}
	m := NewManager(store, zerolog.Nop())

	metrics, err := m.CalculatePerformance(context.Background(), now.Add(-24*time.Hour), now.Add(time.Hour), "", 0)
	if err != nil {
		t.Fatalf("CalculatePerformance: %v", err)
	}
	if metrics.GrossProfit != 10 {
		t.Errorf("expected gross profit 10, got %v", metrics.GrossProfit)
	}
}

func TestGenerateReportIncludesPositionsCount(t *testing.T) {
	store := &fakeStore{}
	m := NewManager(store, zerolog.Nop())
	m.UpdatePositions(context.Background(), []upbit.Position{
		{Currency: "KRW", Balance: 100000},
		{Currency: "BTC", Balance: 0.01},
		{Currency: "ETH", Balance: 0},
	})

	report, err := m.GenerateReport(context.Background(), time.Now().Add(-24*time.Hour), time.Now())
	if err != nil {
		t.Fatalf("GenerateReport: %v", err)
	}
	if report.PositionsCount != 1 {
		t.Errorf("expected 1 active position (BTC), got %d", report.PositionsCount)
	}
}
