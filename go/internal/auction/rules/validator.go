package rules

// Wallet is the slice of a team the engine needs to decide on bids.
type Wallet struct {
	TeamID        string `json:"team_id"`
	Name          string `json:"name"`
	FundCap       int64  `json:"fund_cap"`
	Spent         int64  `json:"spent"`
	RosterCount   int    `json:"roster_count"`
	MaxRosterSize int    `json:"max_roster_size"`
}

func (w Wallet) Remaining() int64 {
	return w.FundCap - w.Spent
}

// EmptySlots is -1 when the roster has no size limit.
func (w Wallet) EmptySlots() int {
	if w.MaxRosterSize <= 0 {
		return -1
	}
	if n := w.MaxRosterSize - w.RosterCount; n > 0 {
		return n
	}
	return 0
}

func (w Wallet) RosterFull() bool {
	return w.EmptySlots() == 0
}

// MaxBid is the largest amount the team may commit to a single player. With
// reserve enabled, basePrice stays set aside for each empty slot after this one.
func (w Wallet) MaxBid(basePrice int64, reserve bool) int64 {
	max := w.Remaining()
	if reserve {
		if slots := w.EmptySlots(); slots > 1 {
			max -= int64(slots-1) * basePrice
		}
	}
	if max < 0 {
		return 0
	}
	return max
}

// Lot is the bidding state of the player currently on the block.
type Lot struct {
	InBidding     bool
	OpeningPrice  int64
	CurrentBid    int64
	HighestBidder string
	BidCount      int
}

// NextAmount is the only amount a bid may carry right now.
func NextAmount(inc IncrementStrategy, lot Lot) int64 {
	if lot.HighestBidder == "" {
		return lot.OpeningPrice
	}
	return NextIncrement(inc, lot.CurrentBid)
}

// ValidateBid decides whether wallet may bid amount on lot. A nil wallet means
// the team is unknown. On success it returns the amount that becomes legal once
// this bid is committed.
func (r Rules) ValidateBid(lot Lot, wallet *Wallet, amount int64) (int64, error) {
	if !lot.InBidding {
		return 0, Reject(ReasonNotInBidding, "no player is open for bidding")
	}
	if wallet == nil {
		return 0, Reject(ReasonTeamNotRecognized, "team is not part of this auction")
	}
	if lot.HighestBidder == wallet.TeamID {
		return 0, Reject(ReasonSameTeamRepeat, "%s already holds the highest bid", wallet.Name)
	}
	next := NextAmount(r.Increment, lot)
	if amount != next {
		return 0, Reject(ReasonStaleAmount, "bid must be %d, got %d", next, amount)
	}
	if !r.BidLimit.Allows(lot.BidCount) {
		return 0, Reject(ReasonBidLimitExceeded, "bid limit of %d reached", r.BidLimit.MaxBidsPerPlayer)
	}
	if wallet.RosterFull() {
		return 0, Reject(ReasonRosterFull, "%s roster is full", wallet.Name)
	}
	if max := wallet.MaxBid(r.BasePrice, r.ReserveForEmptySlots); amount > max {
		return 0, Reject(ReasonInsufficientFunds, "%s can bid at most %d", wallet.Name, max)
	}
	return NextIncrement(r.Increment, amount), nil
}
