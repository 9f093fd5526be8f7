package rules

import (
	"fmt"
)

// StrategyKind identifies how the next legal bid is derived from the current one.
type StrategyKind string

const (
	StrategyStraight StrategyKind = "straight"
	StrategySlab     StrategyKind = "slab"
)

// SlabRange is a half-open price band [From, To) with its raise step.
type SlabRange struct {
	From int64 `json:"from" yaml:"from"`
	To   int64 `json:"to" yaml:"to"`
	Step int64 `json:"step" yaml:"step"`
}

// IncrementStrategy is either Straight{Step} or Slab{Ranges}.
type IncrementStrategy struct {
	Kind   StrategyKind `json:"kind"`
	Step   int64        `json:"step,omitempty"`
	Ranges []SlabRange  `json:"ranges,omitempty"`
}

// Straight returns a fixed-step strategy.
func Straight(step int64) IncrementStrategy {
	return IncrementStrategy{Kind: StrategyStraight, Step: step}
}

// Slab returns a banded strategy. Ranges are copied.
func Slab(ranges ...SlabRange) IncrementStrategy {
	rs := make([]SlabRange, len(ranges))
	copy(rs, ranges)
	return IncrementStrategy{Kind: StrategySlab, Ranges: rs}
}

// Validate checks the strategy shape. Slab ranges must start at 0, be sorted,
// contiguous and non-empty, each with a positive step.
func (s IncrementStrategy) Validate() error {
	switch s.Kind {
	case StrategyStraight:
		if s.Step <= 0 {
			return fmt.Errorf("%w: straight step must be positive, got %d", ErrInvalidConfig, s.Step)
		}
		return nil
	case StrategySlab:
		if len(s.Ranges) == 0 {
			return fmt.Errorf("%w: slab strategy needs at least one range", ErrInvalidConfig)
		}
		if s.Ranges[0].From != 0 {
			return fmt.Errorf("%w: first slab range must start at 0, got %d", ErrInvalidConfig, s.Ranges[0].From)
		}
		for i, r := range s.Ranges {
			if r.To <= r.From {
				return fmt.Errorf("%w: slab range %d is empty [%d, %d)", ErrInvalidConfig, i, r.From, r.To)
			}
			if r.Step <= 0 {
				return fmt.Errorf("%w: slab range %d step must be positive, got %d", ErrInvalidConfig, i, r.Step)
			}
			if i > 0 && r.From != s.Ranges[i-1].To {
				return fmt.Errorf("%w: slab range %d starts at %d, previous ends at %d",
					ErrInvalidConfig, i, r.From, s.Ranges[i-1].To)
			}
		}
		return nil
	default:
		return fmt.Errorf("%w: unknown increment strategy %q", ErrInvalidConfig, s.Kind)
	}
}

// StepAt returns the raise step that applies when the current bid is current.
// For slabs the band containing current wins, so a value sitting on a boundary
// takes the upper band's step. Values at or past the last band use its step.
func (s IncrementStrategy) StepAt(current int64) int64 {
	if s.Kind != StrategySlab {
		return s.Step
	}
	for _, r := range s.Ranges {
		if current >= r.From && current < r.To {
			return r.Step
		}
	}
	if len(s.Ranges) == 0 {
		return 0
	}
	return s.Ranges[len(s.Ranges)-1].Step
}

// NextIncrement is the single legal raise over current.
func NextIncrement(s IncrementStrategy, current int64) int64 {
	return current + s.StepAt(current)
}
