package engine

import (
	"fmt"
)

// nextPlayerID pops the next player off the pool. When the pool runs dry the
// pending queue becomes the next round, as long as rounds remain.
func (tx *step) nextPlayerID() (string, bool) {
	s := tx.s
	for {
		for len(s.Pool) > 0 {
			id := s.Pool[0]
			s.Pool = s.Pool[1:]
			if _, done := s.Outcomes[id]; done {
				continue
			}
			return id, true
		}
		if len(s.PendingQueue) == 0 || s.CurrentRound >= s.MaxRounds {
			return "", false
		}
		s.CurrentRound++
		s.Pool = s.PendingQueue
		s.PendingQueue = nil
		entry := tx.audit(KindStatus, fmt.Sprintf("round %d started with %d pending player(s)", s.CurrentRound, len(s.Pool)), map[string]any{
			"round":   s.CurrentRound,
			"players": len(s.Pool),
		})
		tx.emit(EventRoundStarted, entry)
	}
}

// callNext moves SelectingPlayer to Bidding, or to Finalizing when nobody is left.
func (tx *step) callNext() {
	s := tx.s
	s.Stage = StageSelectingPlayer
	id, ok := tx.nextPlayerID()
	if !ok {
		tx.finalize("no players left")
		return
	}
	tx.putOnBlock(id, false)
}

// putOnBlock opens bidding on id at its opening price.
func (tx *step) putOnBlock(id string, called bool) {
	s := tx.s
	p := s.Players[id]
	s.Stage = StageBidding
	s.CurrentPlayerID = id
	s.CurrentBid = s.Rules.OpeningPrice(p.BasePrice)
	s.HighestBidderTeamID = ""
	s.BidCount = 0
	s.LastCall = LastCall{}
	tx.startCountdown(s.Settings.TimerSeconds)

	meta := map[string]any{
		"player_id":     id,
		"opening_price": s.CurrentBid,
		"round":         s.CurrentRound,
	}
	msg := fmt.Sprintf("%s is on the block at %d", s.playerName(id), s.CurrentBid)
	if called {
		meta["called"] = true
		msg = fmt.Sprintf("%s called to the block at %d", s.playerName(id), s.CurrentBid)
	}
	entry := tx.audit(KindStatus, msg, meta)
	tx.emit(EventPlayerOnBlock, entry)
}

// advance leaves Sold or Pending. With auto advance off the session waits in
// SelectingPlayer for the operator.
func (tx *step) advance() {
	s := tx.s
	s.CurrentPlayerID = ""
	s.HighestBidderTeamID = ""
	s.CurrentBid = 0
	s.BidCount = 0
	s.LastCall = LastCall{}
	s.Timer = Countdown{}

	if s.Settings.AutoAdvance {
		tx.callNext()
		return
	}
	s.Stage = StageSelectingPlayer
	entry := tx.audit(KindInfo, "waiting for the next player to be called", nil)
	tx.emit(EventAwaitingNextPlayer, entry)
}

func (tx *step) enterLastCall(duration, resume int, trigger string) {
	s := tx.s
	s.Stage = StageLastCall
	s.LastCall = LastCall{Active: true, TeamID: s.HighestBidderTeamID, ResumeSeconds: resume}
	tx.startCountdown(duration)

	entry := tx.audit(KindStatus, fmt.Sprintf("last call for %s at %d, held by %s",
		s.playerName(s.CurrentPlayerID), s.CurrentBid, s.teamName(s.HighestBidderTeamID)), map[string]any{
		"player_id":      s.CurrentPlayerID,
		"team_id":        s.HighestBidderTeamID,
		"amount":         s.CurrentBid,
		"timer_seconds":  duration,
		"resume_seconds": resume,
		"trigger":        trigger,
	})
	tx.emit(EventLastCallStarted, entry)
}

// settle records a terminal outcome. A player is settled at most once.
func (tx *step) settle(id string, o Outcome, sale *Sale) bool {
	if _, done := tx.s.Outcomes[id]; done {
		return false
	}
	tx.s.Outcomes[id] = o
	tx.settlements = append(tx.settlements, Settlement{PlayerID: id, Outcome: o, Sale: sale})
	return true
}

// sell commits the sale of the current player: wallet debit, roster slot and
// stage change happen in this one step.
func (tx *step) sell(teamID string, amount int64, override bool) {
	s := tx.s
	if _, done := s.Outcomes[s.CurrentPlayerID]; done {
		return
	}
	s.Stage = StageSold
	tx.stopCountdown()
	s.LastCall = LastCall{}
	tx.recordSale(s.CurrentPlayerID, teamID, amount, override)
	tx.advance()
}

// recordSale settles id as sold to teamID and charges the team.
func (tx *step) recordSale(id, teamID string, amount int64, override bool) {
	s := tx.s
	w := s.Teams[teamID]
	sale := Sale{
		PlayerID:   id,
		PlayerName: s.playerName(id),
		TeamID:     teamID,
		TeamName:   s.teamName(teamID),
		Amount:     amount,
		Round:      s.CurrentRound,
		Override:   override,
		SoldAt:     tx.now,
	}
	if !tx.settle(id, OutcomeSold, &sale) {
		return
	}
	w.Spent += amount
	w.RosterCount++
	s.Teams[teamID] = w
	s.Sales = append(s.Sales, sale)

	entry := tx.audit(KindBid, fmt.Sprintf("%s sold to %s for %d", sale.PlayerName, sale.TeamName, amount), map[string]any{
		"player_id": id,
		"team_id":   teamID,
		"amount":    amount,
		"round":     sale.Round,
		"override":  override,
	})
	tx.emit(EventPlayerSold, entry)
}

// deferPlayer sends the current player to the pending queue.
func (tx *step) deferPlayer(reason string, override bool) {
	s := tx.s
	id := s.CurrentPlayerID
	s.Stage = StagePending
	tx.stopCountdown()
	s.LastCall = LastCall{}

	entry := tx.audit(KindStatus, fmt.Sprintf("%s moved to pending: %s", s.playerName(id), reason), map[string]any{
		"player_id": id,
		"round":     s.CurrentRound,
		"override":  override,
	})
	tx.emit(EventPlayerPending, entry)

	s.CurrentPlayerID = ""
	s.PendingQueue = append(s.PendingQueue, id)
	tx.advance()
}

// dropPlayer settles the current player as unsold or withdrawn and moves on.
func (tx *step) dropPlayer(o Outcome, reason string, override bool) {
	s := tx.s
	id := s.CurrentPlayerID
	tx.settle(id, o, nil)
	tx.stopCountdown()
	s.CurrentPlayerID = ""
	s.HighestBidderTeamID = ""
	s.LastCall = LastCall{}
	s.Stage = StageSelectingPlayer

	typ := EventPlayerUnsold
	if o == OutcomeWithdrawn {
		typ = EventPlayerWithdrawn
	}
	entry := tx.audit(KindStatus, fmt.Sprintf("%s %s: %s", s.playerName(id), o, reason), map[string]any{
		"player_id": id,
		"outcome":   string(o),
		"round":     s.CurrentRound,
		"override":  override,
	})
	tx.emit(typ, entry)
	tx.advance()
}

// finalize settles every open player as unsold and completes the session.
func (tx *step) finalize(reason string) {
	s := tx.s
	s.Stage = StageFinalizing
	if s.Timer.Deadline != nil || s.CurrentPlayerID != "" {
		tx.stopCountdown()
	}

	if s.CurrentPlayerID != "" {
		tx.settle(s.CurrentPlayerID, OutcomeUnsold, nil)
	}
	for _, id := range s.Pool {
		tx.settle(id, OutcomeUnsold, nil)
	}
	converted := 0
	for _, id := range s.PendingQueue {
		if tx.settle(id, OutcomeUnsold, nil) {
			converted++
		}
	}
	s.CurrentPlayerID = ""
	s.HighestBidderTeamID = ""
	s.CurrentBid = 0
	s.BidCount = 0
	s.LastCall = LastCall{}
	s.Pool = nil
	s.PendingQueue = nil

	entry := tx.audit(KindStatus, fmt.Sprintf("auction finalizing: %s", reason), map[string]any{
		"pending_converted_to_unsold": converted,
	})
	tx.emit(EventAuctionFinalizing, entry)

	summary := s.buildSummary(tx.now, converted)
	s.CompletedSummary = &summary
	s.Status = StatusCompleted
	ended := tx.now
	s.EndedAt = &ended
	entry = tx.audit(KindStatus, fmt.Sprintf("auction completed: %d sold, %d unsold, %d withdrawn",
		summary.PlayersSold, summary.UnsoldPlayers, summary.WithdrawnPlayers), map[string]any{
		"players_sold":   summary.PlayersSold,
		"unsold_players": summary.UnsoldPlayers,
		"total_spend":    summary.TotalSpend,
	})
	tx.emit(EventAuctionCompleted, entry)
}
