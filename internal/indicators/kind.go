package indicators

import (
	"fmt"
)

// Kind identifies one member of the closed indicator set.
type Kind int

const (
	RSI Kind = iota
	MACD
	Bollinger
	MACrossover
	Stochastic
	WilliamsR
)

// AllKinds lists every supported indicator in evaluation order.
var AllKinds = []Kind{RSI, MACD, Bollinger, MACrossover, Stochastic, WilliamsR}

// Class groups indicators by what they measure.
type Class int

const (
	// ClassTrend indicators follow momentum and moving average structure.
	ClassTrend Class = iota
	// ClassReversal indicators are bounded oscillators.
	ClassReversal
)

func (k Kind) String() string {
	switch k {
	case RSI:
		return "rsi"
	case MACD:
		return "macd"
	case Bollinger:
		return "bollinger"
	case MACrossover:
		return "ma_crossover"
	case Stochastic:
		return "stochastic"
	case WilliamsR:
		return "williams_r"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Class returns the indicator family used by regime weighting.
func (k Kind) Class() Class {
	switch k {
	case MACD, Bollinger, MACrossover:
		return ClassTrend
	default:
		return ClassReversal
	}
}

// ParseKind converts a configuration name into a Kind.
func ParseKind(s string) (Kind, error) {
	for _, k := range AllKinds {
		if k.String() == s {
			return k, nil
		}
	}
	return 0, fmt.Errorf("unknown indicator %q", s)
}

// MarshalText implements encoding.TextMarshaler.
func (k Kind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (k *Kind) UnmarshalText(text []byte) error {
	parsed, err := ParseKind(string(text))
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}
