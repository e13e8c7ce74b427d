package strategy

import "fmt"

// Config is the strategy parameter bundle (C9): the knobs that drive
// averaging, the partial-sell ladder, and the trailing stop for a single
// market under management. StopLossPercent and AveragingDropPercent are
// carried as positive magnitudes (the spec's stop_loss_level and
// averaging_trigger are negative PnL% thresholds); callers apply the sign.
type Config struct {
	TargetProfitPercent      float64 `json:"target_profit_percent"`
	StopLossPercent          float64 `json:"stop_loss_percent"`
	AveragingDropPercent     float64 `json:"averaging_drop_percent"`
	MonitoringIntervalSecs   int     `json:"monitoring_interval_secs"`
	MaxAveragingCount        int     `json:"max_averaging_count"`
	DailyLossLimit           float64 `json:"daily_loss_limit"`
	MinBalance               float64 `json:"min_balance"`
	TrailingActivationProfit float64 `json:"trailing_activation_profit"`
	TrailingPercent          float64 `json:"trailing_percent"`
	InitialPositionRatio     float64 `json:"initial_position_ratio"`
	AveragingPositionRatio   float64 `json:"averaging_position_ratio"`
}

// Inclusive bounds on the named Strategy Config fields. All other bounds
// (stop_loss_level, averaging_trigger) are expressed here as their positive
// magnitude, since Config stores them unsigned.
const (
	minStopLossPercent = 1.0
	maxStopLossPercent = 5.0

	minAveragingDropPercent = 0.5
	maxAveragingDropPercent = 2.0

	minTargetProfitPercent = 0.2
	maxTargetProfitPercent = 2.0

	minMonitoringIntervalSecs = 5
	maxMonitoringIntervalSecs = 60

	minAveragingCount = 1
	maxAveragingCount = 3
)

// Validate checks the bundle's invariants. Validation is all-or-nothing: the
// first violation found is returned and no partial application is implied by
// a caller receiving a nil error from a prior bundle.
func (c Config) Validate() error {
	if c.TargetProfitPercent < minTargetProfitPercent || c.TargetProfitPercent > maxTargetProfitPercent {
		return fmt.Errorf("target_profit_percent must be in [%v, %v]%%", minTargetProfitPercent, maxTargetProfitPercent)
	}
	if c.StopLossPercent < minStopLossPercent || c.StopLossPercent > maxStopLossPercent {
		return fmt.Errorf("stop_loss_percent must be in [%v, %v]%%", minStopLossPercent, maxStopLossPercent)
	}
	if c.AveragingDropPercent < minAveragingDropPercent || c.AveragingDropPercent > maxAveragingDropPercent {
		return fmt.Errorf("averaging_drop_percent must be in [%v, %v]%%", minAveragingDropPercent, maxAveragingDropPercent)
	}
	if c.MonitoringIntervalSecs < minMonitoringIntervalSecs || c.MonitoringIntervalSecs > maxMonitoringIntervalSecs {
		return fmt.Errorf("monitoring_interval_secs must be in [%d, %d]", minMonitoringIntervalSecs, maxMonitoringIntervalSecs)
	}
	if c.MaxAveragingCount < minAveragingCount || c.MaxAveragingCount > maxAveragingCount {
		return fmt.Errorf("max_averaging_count must be in [%d, %d]", minAveragingCount, maxAveragingCount)
	}
	if c.DailyLossLimit <= 0 {
		return fmt.Errorf("daily_loss_limit must be positive")
	}
	if c.MinBalance < 0 {
		return fmt.Errorf("min_balance must not be negative")
	}
	if c.TrailingActivationProfit <= 0 {
		return fmt.Errorf("trailing_activation_profit must be positive")
	}
	if c.TrailingPercent <= 0 {
		return fmt.Errorf("trailing_percent must be positive")
	}
	if c.InitialPositionRatio <= 0 || c.InitialPositionRatio > 1 {
		return fmt.Errorf("initial_position_ratio must be in (0, 1]")
	}
	if c.AveragingPositionRatio <= 0 || c.AveragingPositionRatio > 1 {
		return fmt.Errorf("averaging_position_ratio must be in (0, 1]")
	}
	return nil
}

// NewLadderFor builds a partial-sell Ladder scaled to this config's target
// profit.
func (c Config) NewLadderFor() (*Ladder, error) {
	return NewLadder(c.TargetProfitPercent)
}

// NewTrailingStopFor builds a TrailingStopTracker scaled to this config's
// trailing activation/percent settings.
func (c Config) NewTrailingStopFor() (*TrailingStopTracker, error) {
	return NewTrailingStopTracker(c.TrailingActivationProfit, c.TrailingPercent)
}
