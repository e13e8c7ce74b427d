package strategy

import "testing"

func TestTrailingStopIdleUntilActivation(t *testing.T) {
	tr, err := NewTrailingStopTracker(2.0, 1.0)
	if err != nil {
		t.Fatalf("NewTrailingStopTracker: %v", err)
	}

	if tr.State() != TrailingIdle {
		t.Fatalf("expected initial state idle")
	}
	if tr.ShouldTriggerStop(50.0) {
		t.Fatalf("expected no trigger while idle")
	}
	if !tr.ShouldActivate(2.0) {
		t.Fatalf("expected activation at the configured threshold")
	}
}

func TestTrailingStopActivateSetsStopPrice(t *testing.T) {
	tr, _ := NewTrailingStopTracker(2.0, 1.0) // 1% trail
	if err := tr.Activate(100.0); err != nil {
		t.Fatalf("Activate: %v", err)
	}

	if tr.State() != TrailingArmed {
		t.Fatalf("expected state armed after activation")
	}
	stop, armed := tr.StopPrice()
	if !armed {
		t.Fatalf("expected armed=true")
	}
	want := 100.0 * (1 - 1.0/100)
	if stop != want {
		t.Errorf("expected stop_price %v, got %v", want, stop)
	}
}

func TestTrailingStopMonotonicNonDecreasing(t *testing.T) {
	tr, _ := NewTrailingStopTracker(2.0, 1.0)
	tr.Activate(100.0)
	stop1, _ := tr.StopPrice()

	tr.UpdateHighPrice(110.0)
	stop2, _ := tr.StopPrice()
	if stop2 <= stop1 {
		t.Fatalf("expected stop price to rise with a new high: %v -> %v", stop1, stop2)
	}

	// A lower price must not pull the stop price back down.
	tr.UpdateHighPrice(105.0)
	stop3, _ := tr.StopPrice()
	if stop3 != stop2 {
		t.Fatalf("expected stop price to stay put on a lower price, got %v want %v", stop3, stop2)
	}
}

func TestTrailingStopTriggersBelowStopPrice(t *testing.T) {
	tr, _ := NewTrailingStopTracker(2.0, 1.0)
	tr.Activate(100.0)
	stop, _ := tr.StopPrice()

	if tr.ShouldTriggerStop(stop + 1) {
		t.Fatalf("expected no trigger above stop price")
	}
	if !tr.ShouldTriggerStop(stop) {
		t.Fatalf("expected trigger at exactly the stop price")
	}
}

func TestTrailingStopReset(t *testing.T) {
	tr, _ := NewTrailingStopTracker(2.0, 1.0)
	tr.Activate(100.0)
	tr.Reset()

	if tr.State() != TrailingIdle {
		t.Fatalf("expected idle after reset")
	}
	if stop, armed := tr.StopPrice(); armed || stop != 0 {
		t.Fatalf("expected cleared stop price after reset, got %v armed=%v", stop, armed)
	}
}

func TestConfigValidate(t *testing.T) {
	valid := Config{
		TargetProfitPercent:      1.0,
		StopLossPercent:          2,
		AveragingDropPercent:     1.0,
		MonitoringIntervalSecs:   10,
		MaxAveragingCount:        3,
		DailyLossLimit:           50000,
		MinBalance:               10000,
		TrailingActivationProfit: 1.5,
		TrailingPercent:          1,
		InitialPositionRatio:     0.3,
		AveragingPositionRatio:   0.2,
	}
	if err := valid.Validate(); err != nil {
		t.Fatalf("expected valid config, got %v", err)
	}

	invalid := valid
	invalid.InitialPositionRatio = 1.5
	if err := invalid.Validate(); err == nil {
		t.Fatalf("expected error for out-of-range ratio")
	}
}

func TestConfigValidateRejectsOutOfBoundsStrategyFields(t *testing.T) {
	base := Config{
		TargetProfitPercent:      1.0,
		StopLossPercent:          2,
		AveragingDropPercent:     1.0,
		MonitoringIntervalSecs:   10,
		MaxAveragingCount:        3,
		DailyLossLimit:           50000,
		MinBalance:               10000,
		TrailingActivationProfit: 1.5,
		TrailingPercent:          1,
		InitialPositionRatio:     0.3,
		AveragingPositionRatio:   0.2,
	}

	cases := []func(*Config){
		func(c *Config) { c.TargetProfitPercent = 2.1 },
		func(c *Config) { c.StopLossPercent = 0.5 },
		func(c *Config) { c.StopLossPercent = 5.1 },
		func(c *Config) { c.AveragingDropPercent = 0.4 },
		func(c *Config) { c.MonitoringIntervalSecs = 4 },
		func(c *Config) { c.MonitoringIntervalSecs = 61 },
		func(c *Config) { c.MaxAveragingCount = 0 },
		func(c *Config) { c.MaxAveragingCount = 4 },
		func(c *Config) { c.DailyLossLimit = 0 },
		func(c *Config) { c.MinBalance = -1 },
	}

	for i, mutate := range cases {
		c := base
		mutate(&c)
		if err := c.Validate(); err == nil {
			t.Errorf("case %d: expected validation error", i)
		}
	}
}
