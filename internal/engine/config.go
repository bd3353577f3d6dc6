package engine

import (
	"errors"
	"fmt"
	"time"
)

// Config schedules the engine loops.
type Config struct {
	Instruments     []string      `yaml:"instruments"`
	SignalInterval  time.Duration `yaml:"signal_interval"`
	MonitorInterval time.Duration `yaml:"monitor_interval"`
	PersistInterval time.Duration `yaml:"persist_interval"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	ATRPeriod       int           `yaml:"atr_period"`
	// AutoTrade turns signals into entry intents. When false the engine only
	// evaluates signals and manages positions it already holds.
	AutoTrade bool `yaml:"auto_trade"`
}

// DefaultConfig returns the default loop schedule.
func DefaultConfig() Config {
	return Config{
		Instruments:     []string{"BTC-USD", "ETH-USD"},
		SignalInterval:  60 * time.Second,
		MonitorInterval: 15 * time.Second,
		PersistInterval: time.Minute,
		ShutdownTimeout: 30 * time.Second,
		ATRPeriod:       14,
		AutoTrade:       true,
	}
}

// Validate reports every invalid setting.
func (c Config) Validate() error {
	var errs []error
	if len(c.Instruments) == 0 {
		errs = append(errs, errors.New("at least one instrument is required"))
	}
	seen := make(map[string]bool, len(c.Instruments))
	for _, inst := range c.Instruments {
		if inst == "" {
			errs = append(errs, errors.New("empty instrument name"))
			continue
		}
		if seen[inst] {
			errs = append(errs, fmt.Errorf("duplicate instrument %q", inst))
		}
		seen[inst] = true
	}
	if c.SignalInterval <= 0 {
		errs = append(errs, errors.New("signal_interval must be positive"))
	}
	if c.MonitorInterval <= 0 {
		errs = append(errs, errors.New("monitor_interval must be positive"))
	}
	if c.SignalInterval > 0 && c.MonitorInterval > c.SignalInterval {
		errs = append(errs, fmt.Errorf("monitor_interval %s must not exceed signal_interval %s", c.MonitorInterval, c.SignalInterval))
	}
	if c.PersistInterval <= 0 {
		errs = append(errs, errors.New("persist_interval must be positive"))
	}
	if c.ShutdownTimeout <= 0 {
		errs = append(errs, errors.New("shutdown_timeout must be positive"))
	}
	if c.ATRPeriod < 1 {
		errs = append(errs, fmt.Errorf("atr_period must be at least 1, got %d", c.ATRPeriod))
	}
	return errors.Join(errs...)
}
