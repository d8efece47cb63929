// Package position computes ordering keys for queue entries. Positions are
// floats so an entry can be placed between two neighbours without touching
// any other row; smaller values play earlier.
package position

import "errors"

const (
	// Start is the position assigned to the first entry of an empty queue.
	Start = 0.0
	// Step is the gap left between appended entries. A full step leaves
	// ~50 midpoint insertions before float64 spacing runs out.
	Step = 1.0
)

// ErrExhausted signals that the gap between two neighbours can no longer be
// split. The caller is expected to renumber the queue and retry.
var ErrExhausted = errors.New("position: spacing between neighbours exhausted")

// Append returns the position for an entry added at the tail. max is the
// current largest position, or nil for an empty queue.
func Append(max *float64) float64 {
	if max == nil {
		return Start
	}
	return *max + Step
}

// Between returns a position strictly between lower and upper. Either bound
// may be nil: nil lower means "before everything", nil upper means "after
// everything", both nil means the queue is empty.
func Between(lower, upper *float64) (float64, error) {
	switch {
	case lower == nil && upper == nil:
		return Start, nil
	case lower == nil:
		return *upper - Step, nil
	case upper == nil:
		return *lower + Step, nil
	}

	if *lower >= *upper {
		return 0, ErrExhausted
	}
	mid := (*lower + *upper) / 2
	if mid <= *lower || mid >= *upper {
		return 0, ErrExhausted
	}
	return mid, nil
}
