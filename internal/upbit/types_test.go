package upbit

import "testing"

func TestOrderValidate(t *testing.T) {
	tests := []struct {
		name  string
		order Order
		want  bool
	}{
		{"valid market buy", Order{Market: "KRW-BTC", Side: "bid", OrdType: "price", Price: 10000}, true},
		{"valid market sell", Order{Market: "KRW-BTC", Side: "ask", OrdType: "market", Volume: 0.1}, true},
		{"valid limit order", Order{Market: "KRW-BTC", Side: "bid", OrdType: "limit", Price: 100, Volume: 1}, true},
		{"limit missing volume", Order{Market: "KRW-BTC", Side: "bid", OrdType: "limit", Price: 100}, false},
		{"market buy missing price", Order{Market: "KRW-BTC", Side: "bid", OrdType: "price"}, false},
		{"market sell missing volume", Order{Market: "KRW-BTC", Side: "ask", OrdType: "market"}, false},
		{"invalid side", Order{Market: "KRW-BTC", Side: "hold", OrdType: "market", Volume: 1}, false},
		{"empty market", Order{Side: "bid", OrdType: "price", Price: 1}, false},
		{"unknown ord type", Order{Market: "KRW-BTC", Side: "bid", OrdType: "stop"}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.order.Validate(); got != tt.want {
				t.Errorf("Validate() = %v, want %v", got, tt.want)
			}
		})
	}
}
