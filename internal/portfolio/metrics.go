package portfolio

import (
	"math"
	"sort"
	"time"
)

// Trade is a single executed fill, as recorded to the trade ledger.
type Trade struct {
	Market     string
	Side       string // "bid" or "ask"
	Price      float64
	Volume     float64
	Fee        float64
	Timestamp  time.Time
	StrategyID string
}

// TradingSummary is the volume/count breakdown of a ledger window.
type TradingSummary struct {
	TotalTrades      int
	BuyTrades        int
	SellTrades       int
	TotalBuyVolume   float64
	TotalSellVolume  float64
	TotalFees        float64
}

// Profitability is the P&L breakdown of a ledger window.
type Profitability struct {
	GrossProfit  float64
	NetProfit    float64
	TotalFees    float64
	ProfitMargin float64
}

// PerformanceRatios is the risk-adjusted return breakdown of a ledger window.
type PerformanceRatios struct {
	WinRate     float64
	SharpeRatio float64
	MaxDrawdown float64
}

// Metrics is the full performance report for a [StartDate, EndDate] window.
type Metrics struct {
	StartDate time.Time
	EndDate   time.Time
	Days      int

	TradingSummary
	Profitability
	PerformanceRatios

	CalculatedAt time.Time
}

const (
	riskFreeAnnual = 0.03
	daysPerYear    = 365.0
	riskFreeDaily  = riskFreeAnnual / daysPerYear
)

// CalculateMetrics derives every performance statistic from trades alone - a
// pure function of the ledger window, not of any live mutable position
// state. Win rate compares each sell's price against the window's own
// volume-weighted average buy price, so the metric is reproducible from the
// ledger alone regardless of what positions currently exist.
func CalculateMetrics(trades []Trade, start, end time.Time) Metrics {
	m := Metrics{StartDate: start, EndDate: end, Days: int(end.Sub(start).Hours() / 24), CalculatedAt: time.Now()}

	if len(trades) == 0 {
		return m
	}

	var buys, sells []Trade
	for _, t := range trades {
		if t.Side == "bid" {
			buys = append(buys, t)
		} else {
			sells = append(sells, t)
		}
	}

	var totalBuyVolume, totalSellVolume, totalFees, totalBuyValue, totalSellValue float64
	for _, t := range trades {
		totalFees += t.Fee
	}
	for _, t := range buys {
		totalBuyVolume += t.Volume
		totalBuyValue += t.Price * t.Volume
	}
	for _, t := range sells {
		totalSellVolume += t.Volume
		totalSellValue += t.Price * t.Volume
	}

	m.TradingSummary = TradingSummary{
		TotalTrades:     len(trades),
		BuyTrades:       len(buys),
		SellTrades:      len(sells),
		TotalBuyVolume:  totalBuyVolume,
		TotalSellVolume: totalSellVolume,
		TotalFees:       totalFees,
	}

	grossProfit := totalSellValue - totalBuyValue
	netProfit := grossProfit - totalFees
	var profitMargin float64
	if totalBuyValue > 0 {
		profitMargin = netProfit / totalBuyValue * 100
	}
	m.Profitability = Profitability{
		GrossProfit:  grossProfit,
		NetProfit:    netProfit,
		TotalFees:    totalFees,
		ProfitMargin: profitMargin,
	}

	var weightedAvgBuyPrice float64
	if totalBuyVolume > 0 {
		weightedAvgBuyPrice = totalBuyValue / totalBuyVolume
	}
	var profitableSells int
	for _, t := range sells {
		if t.Price > weightedAvgBuyPrice {
			profitableSells++
		}
	}
	var winRate float64
	if len(sells) > 0 {
		winRate = float64(profitableSells) / float64(len(sells)) * 100
	}

	m.PerformanceRatios = PerformanceRatios{
		WinRate:     winRate,
		SharpeRatio: sharpeRatio(dailyReturns(trades)),
		MaxDrawdown: maxDrawdown(trades) * 100,
	}

	return m
}

// dailyReturns buckets trades by calendar day and returns each day's net
// P&L as a fraction of that day's traded value.
func dailyReturns(trades []Trade) []float64 {
	type dayAccum struct {
		profit float64
		volume float64
	}
	byDay := make(map[string]*dayAccum)

	for _, t := range trades {
		key := t.Timestamp.Format("2006-01-02")
		acc, ok := byDay[key]
		if !ok {
			acc = &dayAccum{}
			byDay[key] = acc
		}
		value := t.Price * t.Volume
		if t.Side == "bid" {
			acc.profit -= value
		} else {
			acc.profit += value
		}
		acc.profit -= t.Fee
		acc.volume += value
	}

	keys := make([]string, 0, len(byDay))
	for k := range byDay {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	returns := make([]float64, 0, len(keys))
	for _, k := range keys {
		acc := byDay[k]
		if acc.volume > 0 {
			returns = append(returns, acc.profit/acc.volume)
		}
	}
	return returns
}

// sharpeRatio computes the Sharpe ratio against a fixed 3% annual risk-free
// rate. Zero when fewer than two daily observations exist or the sample has
// zero variance.
func sharpeRatio(returns []float64) float64 {
	if len(returns) < 2 {
		return 0
	}

	var sum float64
	for _, r := range returns {
		sum += r
	}
	mean := sum / float64(len(returns))

	var sumSquares float64
	for _, r := range returns {
		diff := r - mean
		sumSquares += diff * diff
	}
	variance := sumSquares / float64(len(returns)-1)
	stdev := math.Sqrt(variance)
	if stdev == 0 {
		return 0
	}

	return (mean - riskFreeDaily) / stdev
}

// maxDrawdown walks the cumulative P&L curve in chronological order,
// tracking the running peak, and returns the largest (peak-current)/peak
// fraction observed. Non-negative by construction.
func maxDrawdown(trades []Trade) float64 {
	sorted := make([]Trade, len(trades))
	copy(sorted, trades)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Timestamp.Before(sorted[j].Timestamp) })

	var cumulative, peak, worst float64
	for _, t := range sorted {
		value := t.Price * t.Volume
		if t.Side == "bid" {
			cumulative -= value
		} else {
			cumulative += value
		}
		cumulative -= t.Fee

		if cumulative > peak {
			peak = cumulative
		}
		if peak > 0 {
			drawdown := (peak - cumulative) / peak
			if drawdown > worst {
				worst = drawdown
			}
		}
	}
	return worst
}
