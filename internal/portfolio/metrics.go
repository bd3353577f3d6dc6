package portfolio

import (
	"math"
)

// Metrics summarises ledger performance.
type Metrics struct {
	TotalTrades   int     `json:"total_trades"`
	Winning       int     `json:"winning"`
	Losing        int     `json:"losing"`
	WinRate       float64 `json:"win_rate"`      // 0..1
	ProfitFactor  float64 `json:"profit_factor"` // gross profit / gross loss, 0 without losses
	Sharpe        float64 `json:"sharpe"`        // mean / stddev of per-trade returns
	MaxDrawdown   float64 `json:"max_drawdown"`  // 0..1 of peak equity
	RealizedPnL   float64 `json:"realized_pnl"`
	UnrealizedPnL float64 `json:"unrealized_pnl"`
	AvgWin        float64 `json:"avg_win"`
	AvgLoss       float64 `json:"avg_loss"`
	LargestWin    float64 `json:"largest_win"`
	LargestLoss   float64 `json:"largest_loss"`
	OpenPositions int     `json:"open_positions"`
	Exposure      float64 `json:"exposure"` // reserved / total
}

// ComputeMetrics derives metrics from a ledger state. Open positions are
// marked with marks; instruments without a mark contribute no unrealized
// P&L.
func ComputeMetrics(s State, marks map[string]float64) Metrics {
	m := Metrics{
		TotalTrades:   len(s.Trades),
		OpenPositions: len(s.Positions),
	}
	if s.Total > 0 {
		m.Exposure = s.Reserved / s.Total
	}

	grossProfit, grossLoss := 0.0, 0.0
	returns := make([]float64, 0, len(s.Trades))
	equity := s.StartingBalance
	peak := equity
	for _, t := range s.Trades {
		m.RealizedPnL += t.RealizedPnL
		returns = append(returns, t.ReturnPct)
		switch {
		case t.RealizedPnL > 0:
			m.Winning++
			grossProfit += t.RealizedPnL
			m.LargestWin = math.Max(m.LargestWin, t.RealizedPnL)
		case t.RealizedPnL < 0:
			m.Losing++
			grossLoss += -t.RealizedPnL
			m.LargestLoss = math.Min(m.LargestLoss, t.RealizedPnL)
		}

		equity += t.RealizedPnL
		peak = math.Max(peak, equity)
		if peak > 0 {
			m.MaxDrawdown = math.Max(m.MaxDrawdown, (peak-equity)/peak)
		}
	}

	for _, p := range s.Positions {
		m.RealizedPnL += p.RealizedPnL
		if mark, ok := marks[p.Instrument]; ok {
			m.UnrealizedPnL += p.Unrealized(mark)
		}
	}

	if m.TotalTrades > 0 {
		m.WinRate = float64(m.Winning) / float64(m.TotalTrades)
	}
	if m.Winning > 0 {
		m.AvgWin = grossProfit / float64(m.Winning)
	}
	if m.Losing > 0 {
		m.AvgLoss = -grossLoss / float64(m.Losing)
	}
	if grossLoss > 0 {
		m.ProfitFactor = grossProfit / grossLoss
	}
	m.Sharpe = sharpe(returns)
	return m
}

func sharpe(returns []float64) float64 {
	if len(returns) < 2 {
		return 0
	}
	mean := 0.0
	for _, r := range returns {
		mean += r
	}
	mean /= float64(len(returns))

	variance := 0.0
	for _, r := range returns {
		variance += (r - mean) * (r - mean)
	}
	std := math.Sqrt(variance / float64(len(returns)-1))
	if std == 0 {
		return 0
	}
	return mean / std
}
