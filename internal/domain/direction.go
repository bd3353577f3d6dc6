// Package domain holds value types shared across the trading pipeline.
package domain

import "fmt"

// Direction is the side of a signal or position.
type Direction string

const (
	Long    Direction = "long"
	Short   Direction = "short"
	Neutral Direction = "neutral"
)

// Sign returns +1 for long, -1 for short and 0 for neutral.
func (d Direction) Sign() float64 {
	switch d {
	case Long:
		return 1
	case Short:
		return -1
	default:
		return 0
	}
}

// Tradable reports whether the direction can open a position.
func (d Direction) Tradable() bool {
	return d == Long || d == Short
}

// ParseDirection converts a string into a Direction.
func ParseDirection(s string) (Direction, error) {
	switch Direction(s) {
	case Long, Short, Neutral:
		return Direction(s), nil
	default:
		return "", fmt.Errorf("unknown direction %q", s)
	}
}
