package runner

import "time"

// Config holds the decision loop tunables.
type Config struct {
	DecisionInterval  time.Duration `yaml:"decision_interval"`
	SettleDelay       time.Duration `yaml:"settle_delay"`
	ContextEvery      int           `yaml:"context_every"`
	ProgressTick      time.Duration `yaml:"progress_tick"`
	ProgressStep      int           `yaml:"progress_step"`
	ScreenshotRetries int           `yaml:"screenshot_retries"`
	ScreenshotBackoff time.Duration `yaml:"screenshot_backoff"`
	ReadyAttempts     int           `yaml:"ready_attempts"`
	ReadyBackoff      time.Duration `yaml:"ready_backoff"`
	ReadyMaxBackoff   time.Duration `yaml:"ready_max_backoff"`
	ClickTolerance    int           `yaml:"click_tolerance"`
	ClickWindow       time.Duration `yaml:"click_window"`
	LoopThreshold     int           `yaml:"loop_threshold"`
	HistorySize       int           `yaml:"history_size"`
	MaxIterations     int           `yaml:"max_iterations"`
	ViewportWidth     int           `yaml:"viewport_width"`
	ViewportHeight    int           `yaml:"viewport_height"`
	EvidenceWindow    int           `yaml:"evidence_window"`
}

// DefaultConfig returns the production tunables.
func DefaultConfig() Config {
	return Config{
		DecisionInterval:  3 * time.Second,
		SettleDelay:       1500 * time.Millisecond,
		ContextEvery:      5,
		ProgressTick:      2 * time.Second,
		ProgressStep:      2,
		ScreenshotRetries: 3,
		ScreenshotBackoff: 500 * time.Millisecond,
		ReadyAttempts:     5,
		ReadyBackoff:      250 * time.Millisecond,
		ReadyMaxBackoff:   4 * time.Second,
		ClickTolerance:    10,
		ClickWindow:       30 * time.Second,
		LoopThreshold:     3,
		HistorySize:       10,
		MaxIterations:     200,
		ViewportWidth:     1280,
		ViewportHeight:    800,
		EvidenceWindow:    12,
	}
}

func (c Config) loop() LoopConfig {
	return LoopConfig{
		Tolerance: c.ClickTolerance,
		Window:    c.ClickWindow,
		Threshold: c.LoopThreshold,
		Size:      c.HistorySize,
	}
}

func (c Config) ready() Backoff {
	return Backoff{Attempts: c.ReadyAttempts, Base: c.ReadyBackoff, Max: c.ReadyMaxBackoff}
}
