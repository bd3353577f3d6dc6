package execution

import (
	"errors"
	"time"
)

// Config controls retries, rate limiting and the circuit breaker around
// exchange calls.
type Config struct {
	CallTimeout     time.Duration `yaml:"call_timeout"`
	MaxAttempts     int           `yaml:"max_attempts"`
	BaseBackoff     time.Duration `yaml:"base_backoff"`
	MaxBackoff      time.Duration `yaml:"max_backoff"`
	RateLimit       float64       `yaml:"rate_limit"` // requests per second
	Burst           int           `yaml:"burst"`
	BreakerFailures uint32        `yaml:"breaker_failures"`
	BreakerCooldown time.Duration `yaml:"breaker_cooldown"`
	QueueSize       int           `yaml:"queue_size"`
}

// DefaultConfig returns the default execution settings.
func DefaultConfig() Config {
	return Config{
		CallTimeout:     10 * time.Second,
		MaxAttempts:     3,
		BaseBackoff:     time.Second,
		MaxBackoff:      10 * time.Second,
		RateLimit:       30,
		Burst:           5,
		BreakerFailures: 5,
		BreakerCooldown: 30 * time.Second,
		QueueSize:       64,
	}
}

// Validate reports every invalid setting.
func (c Config) Validate() error {
	var errs []error
	if c.CallTimeout <= 0 {
		errs = append(errs, errors.New("call_timeout must be positive"))
	}
	if c.MaxAttempts < 1 {
		errs = append(errs, errors.New("max_attempts must be at least 1"))
	}
	if c.BaseBackoff < 0 || c.MaxBackoff < c.BaseBackoff {
		errs = append(errs, errors.New("need 0 <= base_backoff <= max_backoff"))
	}
	if c.RateLimit <= 0 || c.Burst < 1 {
		errs = append(errs, errors.New("rate_limit and burst must be positive"))
	}
	if c.BreakerFailures < 1 {
		errs = append(errs, errors.New("breaker_failures must be at least 1"))
	}
	if c.QueueSize < 1 {
		errs = append(errs, errors.New("queue_size must be at least 1"))
	}
	return errors.Join(errs...)
}

// backoff returns the delay before attempt n (n >= 2).
func (c Config) backoff(attempt int) time.Duration {
	d := c.BaseBackoff
	for i := 2; i < attempt; i++ {
		d *= 2
		if d >= c.MaxBackoff {
			return c.MaxBackoff
		}
	}
	return min(d, c.MaxBackoff)
}
