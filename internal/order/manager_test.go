package order

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"upbit-trading-bot/internal/portfolio"
	"upbit-trading-bot/internal/upbit"
)

// fakeTradeStore is an in-memory TradeStore that can be made to fail, so
// tests can assert the ledger-write-before-active-map ordering directly.
type fakeTradeStore struct {
	trades []portfolio.Trade
	fail   bool
}

func (f *fakeTradeStore) InsertTrade(_ context.Context, trade portfolio.Trade) error {
	if f.fail {
		return errors.New("ledger unavailable")
	}
	f.trades = append(f.trades, trade)
	return nil
}

func newTestManager(t *testing.T, handler http.HandlerFunc) (*Manager, *httptest.Server) {
	t.Helper()
	m, server, _ := newTestManagerWithStore(t, handler)
	return m, server
}

func newTestManagerWithStore(t *testing.T, handler http.HandlerFunc) (*Manager, *httptest.Server, *fakeTradeStore) {
	t.Helper()
	server := httptest.NewServer(handler)
	client := upbit.NewClient("access", "secret", server.URL, upbit.NewRateLimiter(1000, 3), zerolog.Nop())
	store := &fakeTradeStore{}
	return NewManager(client, store, 3, zerolog.Nop()), server, store
}

func accountsHandler(krwBalance, krwLocked float64, coin string, coinBalance, coinLocked float64) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/accounts" {
			http.NotFound(w, r)
			return
		}
		accounts := []map[string]string{
			{
				"currency":       "KRW",
				"balance":        ftoa(krwBalance),
				"locked":         ftoa(krwLocked),
				"avg_buy_price":  "0",
				"unit_currency":  "KRW",
			},
		}
		if coin != "" {
			accounts = append(accounts, map[string]string{
				"currency":      coin,
				"balance":       ftoa(coinBalance),
				"locked":        ftoa(coinLocked),
				"avg_buy_price": "0",
				"unit_currency": "KRW",
			})
		}
		json.NewEncoder(w).Encode(accounts)
	}
}

func ftoa(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}

func TestCreateOrderBuyUsesPriceOrdType(t *testing.T) {
	m, server := newTestManager(t, accountsHandler(1000000, 0, "", 0, 0))
	defer server.Close()

	signal := Signal{Market: "KRW-BTC", Action: "buy", Volume: 50000, StrategyID: "s1", Timestamp: time.Unix(1700000000, 0)}
	ord, err := m.CreateOrder(signal)
	if err != nil {
		t.Fatalf("CreateOrder: %v", err)
	}
	if ord.Side != "bid" || ord.OrdType != "price" {
		t.Fatalf("expected bid/price order, got %+v", ord)
	}
	if ord.Price != 50000 {
		t.Errorf("expected price 50000 (KRW amount), got %v", ord.Price)
	}
}

func TestCreateOrderSellUsesMarketOrdType(t *testing.T) {
	m, server := newTestManager(t, accountsHandler(0, 0, "BTC", 1, 0))
	defer server.Close()

	signal := Signal{Market: "KRW-BTC", Action: "sell", Volume: 0.5, StrategyID: "s1", Timestamp: time.Unix(1700000000, 0)}
	ord, err := m.CreateOrder(signal)
	if err != nil {
		t.Fatalf("CreateOrder: %v", err)
	}
	if ord.Side != "ask" || ord.OrdType != "market" {
		t.Fatalf("expected ask/market order, got %+v", ord)
	}
	if ord.Volume != 0.5 {
		t.Errorf("expected volume 0.5, got %v", ord.Volume)
	}
}

func TestCreateOrderRejectsInvalidSignal(t *testing.T) {
	m, server := newTestManager(t, accountsHandler(0, 0, "", 0, 0))
	defer server.Close()

	if _, err := m.CreateOrder(Signal{Market: "", Action: "buy", Volume: 1}); err == nil {
		t.Fatalf("expected error for empty market")
	}
}

func TestValidateBidInsufficientBalance(t *testing.T) {
	m, server := newTestManager(t, accountsHandler(1000, 0, "", 0, 0))
	defer server.Close()

	ord := upbit.Order{Market: "KRW-BTC", Side: "bid", OrdType: "price", Price: 50000}
	result := m.Validate(ord)
	if result.IsValid {
		t.Fatalf("expected insufficient balance")
	}
	if result.RequiredBalance != 50000 || result.AvailableBalance != 1000 {
		t.Errorf("unexpected balances: %+v", result)
	}
}

func TestValidateBidSufficientBalance(t *testing.T) {
	m, server := newTestManager(t, accountsHandler(100000, 10000, "", 0, 0))
	defer server.Close()

	ord := upbit.Order{Market: "KRW-BTC", Side: "bid", OrdType: "price", Price: 50000}
	result := m.Validate(ord)
	if !result.IsValid {
		t.Fatalf("expected valid, got %+v", result)
	}
}

func TestValidateAskChecksCoinBalance(t *testing.T) {
	m, server := newTestManager(t, accountsHandler(0, 0, "BTC", 0.2, 0.1))
	defer server.Close()

	ord := upbit.Order{Market: "KRW-BTC", Side: "ask", OrdType: "market", Volume: 0.05}
	if result := m.Validate(ord); !result.IsValid {
		t.Fatalf("expected valid sell within available (0.2-0.1=0.1 >= 0.05), got %+v", result)
	}

	ord2 := upbit.Order{Market: "KRW-BTC", Side: "ask", OrdType: "market", Volume: 0.5}
	if result := m.Validate(ord2); result.IsValid {
		t.Fatalf("expected invalid sell exceeding available balance")
	}
}

func TestExecuteSkipsAPICallOnValidationFailure(t *testing.T) {
	calls := 0
	m, server := newTestManager(t, func(w http.ResponseWriter, r *http.Request) {
		calls++
		if r.URL.Path == "/v1/accounts" {
			accountsHandler(100, 0, "", 0, 0)(w, r)
			return
		}
		t.Fatalf("unexpected call to %s", r.URL.Path)
	})
	defer server.Close()

	ord := upbit.Order{Market: "KRW-BTC", Side: "bid", OrdType: "price", Price: 50000}
	_, err := m.Execute(context.Background(), ord, "s1")
	if err == nil {
		t.Fatalf("expected execution to fail validation")
	}
	if calls != 1 {
		t.Errorf("expected only the accounts lookup, no order placement call, got %d calls", calls)
	}
}

func TestExecuteRetriesOnServerError(t *testing.T) {
	attempts := 0
	m, server := newTestManager(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/v1/accounts":
			accountsHandler(1000000, 0, "", 0, 0)(w, r)
		case "/v1/orders":
			attempts++
			if attempts < 3 {
				w.WriteHeader(http.StatusInternalServerError)
				w.Write([]byte(`{"error":{"name":"server_error","message":"boom"}}`))
				return
			}
			json.NewEncoder(w).Encode(map[string]string{
				"uuid": "order-1", "market": "KRW-BTC", "side": "bid", "ord_type": "price",
				"price": "50000", "volume": "0", "remaining_volume": "0", "reserved_fee": "0",
				"remaining_fee": "0", "paid_fee": "0", "locked": "0", "executed_volume": "0",
			})
		}
	})
	defer server.Close()

	start := time.Now()
	ord := upbit.Order{Market: "KRW-BTC", Side: "bid", OrdType: "price", Price: 50000}
	result, err := m.Execute(context.Background(), ord, "s1")
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if result.OrderID != "order-1" {
		t.Errorf("expected order-1, got %v", result.OrderID)
	}
	if attempts != 3 {
		t.Errorf("expected 3 attempts, got %d", attempts)
	}
	if elapsed := time.Since(start); elapsed < 3*time.Second {
		t.Errorf("expected retry backoff of at least 1s+2s, elapsed %v", elapsed)
	}
}

func TestExecuteDoesNotRetryOnClientError(t *testing.T) {
	attempts := 0
	m, server := newTestManager(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/v1/accounts":
			accountsHandler(1000000, 0, "", 0, 0)(w, r)
		case "/v1/orders":
			attempts++
			w.WriteHeader(http.StatusBadRequest)
			w.Write([]byte(`{"error":{"name":"validation_error","message":"bad request"}}`))
		}
	})
	defer server.Close()

	ord := upbit.Order{Market: "KRW-BTC", Side: "bid", OrdType: "price", Price: 50000}
	if _, err := m.Execute(context.Background(), ord, "s1"); err == nil {
		t.Fatalf("expected error")
	}
	if attempts != 1 {
		t.Errorf("expected exactly one attempt (no retry on client error), got %d", attempts)
	}
}

func TestTrackOrdersRemovesTerminalOrders(t *testing.T) {
	state := "wait"
	m, server := newTestManager(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/v1/accounts":
			accountsHandler(1000000, 0, "", 0, 0)(w, r)
		case "/v1/orders":
			json.NewEncoder(w).Encode(map[string]string{
				"uuid": "order-1", "market": "KRW-BTC", "side": "bid", "ord_type": "price",
				"price": "50000", "volume": "0", "remaining_volume": "0", "reserved_fee": "0",
				"remaining_fee": "0", "paid_fee": "0", "locked": "0", "executed_volume": "0",
			})
		case "/v1/order":
			json.NewEncoder(w).Encode(map[string]string{
				"uuid": "order-1", "market": "KRW-BTC", "side": "bid", "ord_type": "price",
				"price": "50000", "state": state, "volume": "0", "remaining_volume": "0",
				"executed_volume": "0", "created_at": "2024-01-01T00:00:00Z",
			})
		}
	})
	defer server.Close()

	ord := upbit.Order{Market: "KRW-BTC", Side: "bid", OrdType: "price", Price: 50000}
	if _, err := m.Execute(context.Background(), ord, "s1"); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if len(m.GetActiveOrders()) != 1 {
		t.Fatalf("expected one active order after execution")
	}

	state = "done"
	if _, err := m.TrackOrders(); err != nil {
		t.Fatalf("TrackOrders: %v", err)
	}
	if len(m.GetActiveOrders()) != 0 {
		t.Fatalf("expected order to be removed once done, got %d active", len(m.GetActiveOrders()))
	}
}

func filledOrderHandler(executedVolume string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/v1/accounts":
			accountsHandler(1000000, 0, "", 0, 0)(w, r)
		case "/v1/orders":
			json.NewEncoder(w).Encode(map[string]string{
				"uuid": "order-1", "market": "KRW-BTC", "side": "bid", "ord_type": "price",
				"price": "50000", "volume": "1", "remaining_volume": "0", "reserved_fee": "0",
				"remaining_fee": "0", "paid_fee": "0", "locked": "0", "executed_volume": executedVolume,
			})
		}
	}
}

func TestExecuteRecordsLedgerBeforeTrackingActiveOrder(t *testing.T) {
	m, server, store := newTestManagerWithStore(t, filledOrderHandler("1"))
	defer server.Close()

	ord := upbit.Order{Market: "KRW-BTC", Side: "bid", OrdType: "price", Price: 50000}
	result, err := m.Execute(context.Background(), ord, "s1")
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if result.OrderID != "order-1" {
		t.Fatalf("expected order-1, got %v", result.OrderID)
	}

	if len(store.trades) != 1 {
		t.Fatalf("expected one ledger row, got %d", len(store.trades))
	}
	if len(m.GetActiveOrders()) != 1 {
		t.Fatalf("expected one active-orders entry alongside the ledger row")
	}
}

func TestExecuteLeavesOrderUntrackedWhenLedgerWriteFails(t *testing.T) {
	m, server, store := newTestManagerWithStore(t, filledOrderHandler("1"))
	defer server.Close()
	store.fail = true

	ord := upbit.Order{Market: "KRW-BTC", Side: "bid", OrdType: "price", Price: 50000}
	result, err := m.Execute(context.Background(), ord, "s1")
	if err != nil {
		t.Fatalf("expected execute_order to still return the successful fill despite the ledger failure: %v", err)
	}
	if result.OrderID != "order-1" {
		t.Fatalf("expected the exchange fill to be returned, got %+v", result)
	}

	if len(store.trades) != 0 {
		t.Fatalf("expected zero ledger rows, got %d", len(store.trades))
	}
	if len(m.GetActiveOrders()) != 0 {
		t.Fatalf("expected zero active-orders entries when the ledger write failed, got %d", len(m.GetActiveOrders()))
	}
}

func TestExecuteSkipsLedgerWriteWhenNothingExecuted(t *testing.T) {
	m, server, store := newTestManagerWithStore(t, filledOrderHandler("0"))
	defer server.Close()

	ord := upbit.Order{Market: "KRW-BTC", Side: "bid", OrdType: "price", Price: 50000}
	if _, err := m.Execute(context.Background(), ord, "s1"); err != nil {
		t.Fatalf("Execute: %v", err)
	}

	if len(store.trades) != 0 {
		t.Fatalf("expected no ledger row for a zero-volume fill, got %d", len(store.trades))
	}
	if len(m.GetActiveOrders()) != 1 {
		t.Fatalf("expected the order to still be tracked even without a ledger row")
	}
}
