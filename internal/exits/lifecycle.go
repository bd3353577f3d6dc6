package exits

import (
	"errors"
	"fmt"
)

// Status is the lifecycle state of a position.
type Status string

const (
	StatusOpening Status = "opening"
	StatusOpen    Status = "open"
	StatusClosing Status = "closing"
	StatusClosed  Status = "closed"
)

// ErrInvalidTransition is returned for a lifecycle move that is not allowed.
var ErrInvalidTransition = errors.New("invalid position transition")

var transitions = map[Status][]Status{
	StatusOpening: {StatusOpen, StatusClosed},
	StatusOpen:    {StatusClosing},
	StatusClosing: {StatusOpen, StatusClosed},
}

// Transition validates a move between lifecycle states. Closing may fall
// back to open when an exit order is rejected or only partially closes
// the position. Closed is terminal.
func Transition(from, to Status) error {
	for _, next := range transitions[from] {
		if next == to {
			return nil
		}
	}
	return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
}
