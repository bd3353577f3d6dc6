package risk

import (
	"strings"
)

var quoteSuffixes = []string{"USDT", "USDC", "USD", "EUR", "GBP", "BTC", "ETH"}

// BaseAsset extracts the base asset of an instrument name such as
// "BTC-USD", "XBT/USD" or "SOLUSDT".
func BaseAsset(instrument string) string {
	s := strings.ToUpper(strings.TrimSpace(instrument))
	if i := strings.IndexAny(s, "-/_:"); i > 0 {
		s = s[:i]
	} else {
		for _, q := range quoteSuffixes {
			if len(s) > len(q) && strings.HasSuffix(s, q) {
				s = strings.TrimSuffix(s, q)
				break
			}
		}
	}
	if s == "XBT" {
		return "BTC"
	}
	return s
}

// correlationTable answers pairwise correlation lookups.
type correlationTable struct {
	threshold float64
	pairs     map[[2]string]float64
}

func newCorrelationTable(threshold float64, entries []Correlation) correlationTable {
	t := correlationTable{threshold: threshold, pairs: make(map[[2]string]float64, len(entries))}
	for _, e := range entries {
		t.pairs[pairKey(e.A, e.B)] = e.Rho
	}
	return t
}

func pairKey(a, b string) [2]string {
	if a > b {
		a, b = b, a
	}
	return [2]string{a, b}
}

// weight returns how much of another position's exposure counts against
// instrument: 1 for a shared base asset, rho for a configured pair at or
// above the threshold, otherwise 0.
func (t correlationTable) weight(instrument, other string) float64 {
	if instrument == other || BaseAsset(instrument) == BaseAsset(other) {
		return 1
	}
	rho, ok := t.pairs[pairKey(instrument, other)]
	if !ok {
		rho, ok = t.pairs[pairKey(BaseAsset(instrument), BaseAsset(other))]
	}
	if ok && rho >= t.threshold {
		return rho
	}
	return 0
}
