package rules

import (
	"fmt"
)

// BidLimitMode tags the BidLimit variant.
type BidLimitMode string

const (
	BidLimitUnlimited BidLimitMode = "unlimited"
	BidLimitLimited   BidLimitMode = "limited"
)

// BidLimit is Unlimited or Limited{MaxBidsPerPlayer}.
type BidLimit struct {
	Mode             BidLimitMode `json:"mode"`
	MaxBidsPerPlayer int          `json:"max_bids_per_player,omitempty"`
}

func Unlimited() BidLimit { return BidLimit{Mode: BidLimitUnlimited} }

func Limited(n int) BidLimit { return BidLimit{Mode: BidLimitLimited, MaxBidsPerPlayer: n} }

// Allows reports whether one more bid may be accepted after placed bids.
func (b BidLimit) Allows(placed int) bool {
	if b.Mode != BidLimitLimited {
		return true
	}
	return placed < b.MaxBidsPerPlayer
}

func (b BidLimit) Validate() error {
	switch b.Mode {
	case BidLimitUnlimited:
		return nil
	case BidLimitLimited:
		if b.MaxBidsPerPlayer <= 0 {
			return fmt.Errorf("%w: bid limit must be positive, got %d", ErrInvalidConfig, b.MaxBidsPerPlayer)
		}
		return nil
	default:
		return fmt.Errorf("%w: unknown bid limit mode %q", ErrInvalidConfig, b.Mode)
	}
}

// Rules is the per-session auction configuration. It never changes while a
// session is running.
type Rules struct {
	Increment   IncrementStrategy `json:"increment"`
	BidLimit    BidLimit          `json:"bid_limit"`
	BasePrice   int64             `json:"base_price"`
	TeamFundCap int64             `json:"team_fund_cap"`

	// ReserveForEmptySlots keeps basePrice aside for every empty roster slot
	// after the one being bid for.
	ReserveForEmptySlots bool `json:"reserve_for_empty_slots,omitempty"`
}

func (r Rules) Validate() error {
	if err := r.Increment.Validate(); err != nil {
		return err
	}
	if err := r.BidLimit.Validate(); err != nil {
		return err
	}
	if r.BasePrice < 0 {
		return fmt.Errorf("%w: base price must not be negative, got %d", ErrInvalidConfig, r.BasePrice)
	}
	if r.TeamFundCap <= 0 {
		return fmt.Errorf("%w: team fund cap must be positive, got %d", ErrInvalidConfig, r.TeamFundCap)
	}
	return nil
}

// OpeningPrice is the first legal amount for a player whose own base price is
// override (0 means none).
func (r Rules) OpeningPrice(override int64) int64 {
	if override > 0 {
		return override
	}
	return r.BasePrice
}
