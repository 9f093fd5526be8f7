package tournament

import (
	"fmt"
	"sort"
	"strings"

	"github.com/ulmjahfar/playlivepro-sub003/go/internal/auction/engine"
	"github.com/ulmjahfar/playlivepro-sub003/go/internal/auction/rules"
)

// Normalize resolves the stored document into validated rules and settings.
// Nothing that is present but malformed is silently defaulted.
func (c Config) Normalize() (rules.Rules, engine.Settings, error) {
	r, err := c.Rules.normalize()
	if err != nil {
		return rules.Rules{}, engine.Settings{}, fmt.Errorf("tournament %s: %w", c.Code, err)
	}
	s, err := c.Advanced.normalize()
	if err != nil {
		return rules.Rules{}, engine.Settings{}, fmt.Errorf("tournament %s: %w", c.Code, err)
	}
	return r, s, nil
}

func (a AuctionRules) normalize() (rules.Rules, error) {
	var inc rules.IncrementStrategy
	kind := strings.ToLower(strings.TrimSpace(a.Type))
	if kind == "" {
		// documents written before the type field existed
		kind = string(rules.StrategyStraight)
		if len(a.Ranges) > 0 {
			kind = string(rules.StrategySlab)
		}
	}
	switch rules.StrategyKind(kind) {
	case rules.StrategyStraight:
		inc = rules.Straight(a.FixedIncrement)
	case rules.StrategySlab:
		ranges := make([]rules.SlabRange, 0, len(a.Ranges))
		for _, rc := range a.Ranges {
			ranges = append(ranges, rules.SlabRange{From: rc.From, To: rc.To, Step: rc.Increment})
		}
		sort.SliceStable(ranges, func(i, j int) bool { return ranges[i].From < ranges[j].From })
		inc = rules.Slab(ranges...)
	default:
		return rules.Rules{}, fmt.Errorf("%w: unknown increment type %q", rules.ErrInvalidConfig, a.Type)
	}

	limit := rules.Unlimited()
	switch strings.ToLower(strings.TrimSpace(a.BidLimitMode)) {
	case "", "unlimited":
	case "limit", "limited":
		n := a.BidLimitCount
		if n == nil {
			n = a.MaxBidsPerPlayer
		}
		if n == nil {
			return rules.Rules{}, fmt.Errorf("%w: bid limit mode is %q but no count is set", rules.ErrInvalidConfig, a.BidLimitMode)
		}
		limit = rules.Limited(*n)
	default:
		return rules.Rules{}, fmt.Errorf("%w: unknown bid limit mode %q", rules.ErrInvalidConfig, a.BidLimitMode)
	}

	r := rules.Rules{
		Increment:            inc,
		BidLimit:             limit,
		BasePrice:            a.BaseValueOfPlayer,
		TeamFundCap:          a.MaxFundForTeam,
		ReserveForEmptySlots: a.ReserveForEmptySlots,
	}
	if err := r.Validate(); err != nil {
		return rules.Rules{}, err
	}
	return r, nil
}

func (a AdvancedSettings) normalize() (engine.Settings, error) {
	s := engine.DefaultSettings()
	if a.TimerSeconds != nil {
		s.TimerSeconds = *a.TimerSeconds
	}
	if a.LastCallTimerSeconds != nil {
		s.LastCallSeconds = *a.LastCallTimerSeconds
	}
	if a.MaxRounds != nil {
		s.MaxRounds = *a.MaxRounds
	}
	if a.AutoNextEnabled != nil {
		s.AutoAdvance = *a.AutoNextEnabled
	}
	if a.AutoTimeoutAction != "" {
		s.AutoTimeoutAction = engine.TimeoutAction(strings.ToLower(a.AutoTimeoutAction))
	}
	s.ShufflePool = a.ShufflePool
	if err := s.Validate(); err != nil {
		return engine.Settings{}, err
	}
	return s, nil
}

// Wallet builds the engine wallet for t. The fund cap is set by the session.
func (t Team) Wallet() rules.Wallet {
	return rules.Wallet{
		TeamID:        t.ID,
		Name:          t.Name,
		Spent:         t.Spent,
		RosterCount:   t.RosterCount,
		MaxRosterSize: t.MaxRosterSize,
	}
}
