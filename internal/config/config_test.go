package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load with defaults should succeed: %v", err)
	}

	if cfg.App.Name != "treasurywatch" {
		t.Errorf("app.name = %q, want treasurywatch", cfg.App.Name)
	}
	if cfg.Scheduler.Interval != 5*time.Minute {
		t.Errorf("scheduler.interval = %s, want 5m", cfg.Scheduler.Interval)
	}
	if cfg.Metrics.LookbackDays != 7 {
		t.Errorf("metrics.lookback_days = %d, want 7", cfg.Metrics.LookbackDays)
	}
	if cfg.Alerting.SendTimeout != 10*time.Second {
		t.Errorf("alerting.send_timeout = %s, want 10s", cfg.Alerting.SendTimeout)
	}
}

func TestValidate(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	cfg.Scheduler.Interval = 0
	if err := cfg.Validate(); err == nil {
		t.Error("zero scheduler interval should fail validation")
	}
	cfg.Scheduler.Interval = time.Minute

	cfg.Metrics.LookbackDays = 0
	if err := cfg.Validate(); err == nil {
		t.Error("zero lookback days should fail validation")
	}
	cfg.Metrics.LookbackDays = 7

	cfg.Alerting.Telegram.Enabled = true
	cfg.Alerting.Telegram.BotToken = ""
	if err := cfg.Validate(); err == nil {
		t.Error("enabled telegram without bot token should fail validation")
	}
}
