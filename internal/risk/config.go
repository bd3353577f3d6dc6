package risk

import (
	"errors"
	"fmt"
)

// Correlation declares that two instruments move together.
type Correlation struct {
	A   string  `yaml:"a"`
	B   string  `yaml:"b"`
	Rho float64 `yaml:"rho"`
}

// Config holds the sizing and gating limits.
type Config struct {
	MinStrength          float64       `yaml:"min_strength"`
	MinConfidence        float64       `yaml:"min_confidence"`
	MaxPositions         int           `yaml:"max_positions"`
	RiskPerTrade         float64       `yaml:"risk_per_trade"`         // fraction of total balance lost if the stop hits
	MaxDailyLoss         float64       `yaml:"max_daily_loss"`         // fraction of total balance
	MaxAggregateExposure float64       `yaml:"max_aggregate_exposure"` // fraction of total per correlated group
	MinNotional          float64       `yaml:"min_notional"`
	MaxNotional          float64       `yaml:"max_notional"`
	KellyCap             float64       `yaml:"kelly_cap"`
	RewardRisk           float64       `yaml:"reward_risk"`
	MinTradesForWinRate  int           `yaml:"min_trades_for_win_rate"`
	QuantityPrecision    int32         `yaml:"quantity_precision"`
	CostBufferBps        float64       `yaml:"cost_buffer_bps"` // available balance held back for fees and slippage
	CorrelationThreshold float64       `yaml:"correlation_threshold"`
	Correlations         []Correlation `yaml:"correlations"`
}

// DefaultConfig returns conservative defaults: 2% risk per trade, five
// positions, 5% daily loss limit.
func DefaultConfig() Config {
	return Config{
		MinStrength:          0.3,
		MinConfidence:        0.5,
		MaxPositions:         5,
		RiskPerTrade:         0.02,
		MaxDailyLoss:         0.05,
		MaxAggregateExposure: 0.5,
		MinNotional:          10,
		MaxNotional:          1000,
		KellyCap:             0.25,
		RewardRisk:           2,
		MinTradesForWinRate:  10,
		QuantityPrecision:    8,
		CostBufferBps:        50,
		CorrelationThreshold: 0.7,
	}
}

// Validate reports every invalid setting.
func (c Config) Validate() error {
	var errs []error
	unit := func(name string, v float64) {
		if v < 0 || v > 1 {
			errs = append(errs, fmt.Errorf("%s %.4f outside [0,1]", name, v))
		}
	}
	unit("min_strength", c.MinStrength)
	unit("min_confidence", c.MinConfidence)
	unit("max_daily_loss", c.MaxDailyLoss)
	unit("correlation_threshold", c.CorrelationThreshold)

	if c.RiskPerTrade <= 0 || c.RiskPerTrade > 1 {
		errs = append(errs, fmt.Errorf("risk_per_trade %.4f outside (0,1]", c.RiskPerTrade))
	}
	if c.MaxAggregateExposure <= 0 || c.MaxAggregateExposure > 1 {
		errs = append(errs, fmt.Errorf("max_aggregate_exposure %.4f outside (0,1]", c.MaxAggregateExposure))
	}
	if c.KellyCap <= 0 || c.KellyCap > 1 {
		errs = append(errs, fmt.Errorf("kelly_cap %.4f outside (0,1]", c.KellyCap))
	}
	if c.MaxPositions < 1 {
		errs = append(errs, errors.New("max_positions must be at least 1"))
	}
	if c.MinNotional < 0 || c.MaxNotional <= 0 || c.MinNotional > c.MaxNotional {
		errs = append(errs, fmt.Errorf("need 0 <= min_notional <= max_notional, got %.2f / %.2f", c.MinNotional, c.MaxNotional))
	}
	if c.RewardRisk <= 0 {
		errs = append(errs, errors.New("reward_risk must be positive"))
	}
	if c.CostBufferBps < 0 {
		errs = append(errs, errors.New("cost_buffer_bps must not be negative"))
	}
	if c.QuantityPrecision < 0 {
		errs = append(errs, errors.New("quantity_precision must not be negative"))
	}
	for _, corr := range c.Correlations {
		if corr.A == "" || corr.B == "" {
			errs = append(errs, errors.New("correlation entries need both instruments"))
		}
		if corr.Rho < -1 || corr.Rho > 1 {
			errs = append(errs, fmt.Errorf("correlation %s/%s: rho %.2f outside [-1,1]", corr.A, corr.B, corr.Rho))
		}
	}
	return errors.Join(errs...)
}
