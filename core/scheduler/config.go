package scheduler

import (
	"fmt"
	"time"
)

// Config defines the daily trigger parameters loaded from configuration.
type Config struct {
	// TriggerTime is the local HH:MM at which the pipeline fires.
	TriggerTime string `json:"trigger_time"`
	// MaxRetries bounds transient-failure retries within one run.
	MaxRetries int `json:"max_retries"`
	// RetryBackoffSeconds is the pause between retries.
	RetryBackoffSeconds int `json:"retry_backoff_seconds"`
}

// SetDefaults applies sane defaults.
func (c *Config) SetDefaults() {
	if c.TriggerTime == "" {
		c.TriggerTime = "00:00"
	}
	if c.MaxRetries == 0 {
		c.MaxRetries = 3
	}
	if c.RetryBackoffSeconds == 0 {
		c.RetryBackoffSeconds = 30
	}
}

// Validate checks mandatory fields.
func (c Config) Validate() error {
	if _, err := time.Parse("15:04", c.TriggerTime); err != nil {
		return fmt.Errorf("trigger_time must be HH:MM: %w", err)
	}
	if c.MaxRetries < 0 {
		return fmt.Errorf("max_retries must not be negative")
	}
	if c.RetryBackoffSeconds < 0 {
		return fmt.Errorf("retry_backoff_seconds must not be negative")
	}
	return nil
}

func (c Config) triggerClock() (hour, minute int) {
	t, err := time.Parse("15:04", c.TriggerTime)
	if err != nil {
		return 0, 0
	}
	return t.Hour(), t.Minute()
}
