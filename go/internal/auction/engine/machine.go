package engine

import (
	"fmt"
	"math/rand"
	"sort"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/ulmjahfar/playlivepro-sub003/go/internal/auction/rules"
)

// Result is what the writer reports back for one command.
type Result struct {
	Accepted   bool             `json:"accepted"`
	Rejection  *rules.Rejection `json:"rejection,omitempty"`
	NextAmount int64            `json:"next_amount,omitempty"`
	State      View             `json:"state"`

	// Stale is set for deadlines of a superseded generation. Nothing changed.
	Stale       bool         `json:"-"`
	Events      []Event      `json:"-"`
	Settlements []Settlement `json:"-"`
}

// step collects the effects of one command while it is applied.
type step struct {
	s           *Session
	now         time.Time
	events      []Event
	settlements []Settlement
	nextAmount  int64
}

// Apply runs cmd against the session at now. Rejected commands only append an
// audit entry. Apply must only be called by the session's writer.
func (s *Session) Apply(cmd Command, now time.Time) Result {
	tx := &step{s: s, now: now}

	var err error
	switch c := cmd.(type) {
	case Deadline:
		if !tx.deadline(c) {
			return Result{Stale: true, State: s.View(now)}
		}
	case Recover:
		tx.recover(c)
	case NoteDurability:
		tx.noteDurability(c)
	case StartAuction:
		err = tx.start(c)
	case PauseAuction:
		err = tx.pause(c)
	case ResumeAuction:
		err = tx.resume(c)
	case PlaceBid:
		err = tx.placeBid(c)
	case ForceAdvance:
		err = tx.forceAdvance(c)
	case ManualSetWinner:
		err = tx.manualSetWinner(c)
	case CompleteAuction:
		err = tx.complete(c)
	case StartLastCall:
		err = tx.startLastCall(c)
	case WithdrawLastCall:
		err = tx.withdrawLastCall(c)
	case MarkUnsold:
		err = tx.markUnsold(c)
	case WithdrawPlayer:
		err = tx.withdrawPlayer(c)
	case SetLock:
		err = tx.setLock(c)
	case NextPlayer:
		err = tx.nextPlayer(c)
	case CallPlayer:
		err = tx.callPlayer(c)
	case ReinstatePlayer:
		err = tx.reinstate(c)
	case AssignPending:
		err = tx.assignPending(c)
	default:
		err = rules.Reject(ReasonInvalidStage, "unsupported command %T", cmd)
	}
	if err != nil {
		return tx.reject(cmd, err)
	}
	return Result{
		Accepted:    true,
		NextAmount:  tx.nextAmount,
		State:       s.View(now),
		Events:      tx.events,
		Settlements: tx.settlements,
	}
}

// RecordBusy audits commands that were turned away because the queue was full.
func (s *Session) RecordBusy(n int64, now time.Time) []Event {
	tx := &step{s: s, now: now}
	s.BusyRejections += n
	entry := tx.audit(KindError, fmt.Sprintf("%d command(s) rejected: queue full", n), map[string]any{
		"reason": string(ReasonBusy),
		"count":  n,
	})
	tx.emit(EventCommandsDropped, entry)
	return tx.events
}

func (tx *step) reject(cmd Command, err error) Result {
	rej, ok := rules.AsRejection(err)
	if !ok {
		rej = &rules.Rejection{Reason: ReasonInvalidStage, Message: err.Error()}
	}
	tx.s.RejectedCommands++
	tx.audit(KindError, fmt.Sprintf("%s rejected: %s", cmd.Name(), rej.Error()), map[string]any{
		"command": cmd.Name(),
		"reason":  string(rej.Reason),
	})
	return Result{Rejection: rej, State: tx.s.View(tx.now)}
}

func (tx *step) audit(kind AuditKind, msg string, meta map[string]any) *AuditEntry {
	entry := AuditEntry{
		ID:        ulid.MustNew(ulid.Timestamp(tx.now), ulid.DefaultEntropy()).String(),
		Message:   msg,
		Kind:      kind,
		Metadata:  meta,
		Timestamp: tx.now,
	}
	tx.s.AuditLog = append(tx.s.AuditLog, entry)
	return &entry
}

func (tx *step) emit(typ EventType, entry *AuditEntry) {
	tx.s.Sequence++
	tx.events = append(tx.events, Event{
		ID:             ulid.MustNew(ulid.Timestamp(tx.now), ulid.DefaultEntropy()).String(),
		Sequence:       tx.s.Sequence,
		TournamentCode: tx.s.TournamentCode,
		Type:           typ,
		Timestamp:      tx.now,
		State:          tx.s.View(tx.now),
		Audit:          entry,
	})
}

func requireRole(a Actor, allowed ...Role) error {
	for _, r := range allowed {
		if a.Role == r {
			return nil
		}
	}
	return rules.Reject(ReasonForbidden, "role %q may not issue this command", a.Role)
}

func (tx *step) requireStatus(want Status) error {
	if tx.s.Status != want {
		return rules.Reject(ReasonInvalidStage, "auction is %s", tx.s.Status)
	}
	return nil
}

func (tx *step) requireOnBlock() error {
	if err := tx.requireStatus(StatusRunning); err != nil {
		return err
	}
	if !tx.s.onBlock() {
		return rules.Reject(ReasonInvalidStage, "no player on the block (stage %s)", tx.s.Stage)
	}
	return nil
}

func (tx *step) start(c StartAuction) error {
	s := tx.s
	if err := requireRole(c.Actor, RoleAdmin); err != nil {
		return err
	}
	if s.Status != StatusNotStarted {
		return rules.Reject(ReasonInvalidStage, "auction is %s", s.Status)
	}
	if err := c.Rules.Validate(); err != nil {
		return rules.Reject(ReasonConfig, "%v", err)
	}
	if err := c.Settings.Validate(); err != nil {
		return rules.Reject(ReasonConfig, "%v", err)
	}
	if len(c.Teams) == 0 {
		return rules.Reject(ReasonConfig, "no teams registered")
	}
	if len(c.Players) == 0 {
		return rules.Reject(ReasonConfig, "no players available")
	}

	s.Stage = StageInitialize
	s.Rules = c.Rules
	s.Settings = c.Settings
	s.MaxRounds = c.Settings.MaxRounds
	s.CurrentRound = 1
	s.ShuffleSeed = c.Seed

	s.Teams = make(map[string]rules.Wallet, len(c.Teams))
	s.TeamOrder = s.TeamOrder[:0]
	for _, w := range c.Teams {
		w.FundCap = c.Rules.TeamFundCap
		s.Teams[w.TeamID] = w
		s.TeamOrder = append(s.TeamOrder, w.TeamID)
	}

	s.Players = make(map[string]Player, len(c.Players))
	s.Outcomes = map[string]Outcome{}
	s.Pool = make([]string, 0, len(c.Players))
	for _, p := range c.Players {
		s.Players[p.ID] = p
		if p.Withdrawn {
			s.Outcomes[p.ID] = OutcomeWithdrawn
			continue
		}
		s.Pool = append(s.Pool, p.ID)
	}
	if c.Settings.ShufflePool {
		rng := rand.New(rand.NewSource(c.Seed))
		rng.Shuffle(len(s.Pool), func(i, j int) { s.Pool[i], s.Pool[j] = s.Pool[j], s.Pool[i] })
	}

	s.Status = StatusRunning
	started := tx.now
	s.StartedAt = &started
	entry := tx.audit(KindStatus, fmt.Sprintf("auction started with %d players and %d teams", len(s.Pool), len(s.Teams)), map[string]any{
		"players":    len(s.Pool),
		"teams":      len(s.Teams),
		"max_rounds": s.MaxRounds,
		"shuffled":   c.Settings.ShufflePool,
		"seed":       c.Seed,
	})
	tx.emit(EventAuctionStarted, entry)

	tx.callNext()
	return nil
}

func (tx *step) pause(c PauseAuction) error {
	s := tx.s
	if err := requireRole(c.Actor, RoleAdmin); err != nil {
		return err
	}
	if err := tx.requireStatus(StatusRunning); err != nil {
		return err
	}
	tx.freezeCountdown()
	s.Status = StatusPaused
	entry := tx.audit(KindStatus, "auction paused", map[string]any{
		"reason":            c.Reason,
		"remaining_seconds": s.Timer.RemainingSeconds,
	})
	tx.emit(EventAuctionPaused, entry)
	return nil
}

func (tx *step) resume(c ResumeAuction) error {
	s := tx.s
	if err := requireRole(c.Actor, RoleAdmin); err != nil {
		return err
	}
	if err := tx.requireStatus(StatusPaused); err != nil {
		return err
	}
	s.Status = StatusRunning
	tx.thawCountdown()
	entry := tx.audit(KindStatus, "auction resumed", map[string]any{
		"remaining_seconds": s.Timer.RemainingSeconds,
	})
	tx.emit(EventAuctionResumed, entry)
	return nil
}

func (tx *step) placeBid(c PlaceBid) error {
	s := tx.s
	if err := requireRole(c.Actor, RoleAdmin, RoleTeam); err != nil {
		return err
	}
	if c.Actor.Role == RoleTeam && c.Actor.TeamID != c.TeamID {
		return rules.Reject(ReasonForbidden, "team %s may not bid for %s", c.Actor.TeamID, c.TeamID)
	}
	if err := tx.requireStatus(StatusRunning); err != nil {
		return err
	}
	if s.IsLocked && c.Actor.Role == RoleTeam {
		return rules.Reject(ReasonLocked, "auction is locked")
	}

	var wallet *rules.Wallet
	if w, ok := s.Teams[c.TeamID]; ok {
		wallet = &w
	}
	next, err := s.Rules.ValidateBid(s.lot(), wallet, c.Amount)
	if err != nil {
		return err
	}

	reentry := s.Stage == StageLastCall
	s.CurrentBid = c.Amount
	s.HighestBidderTeamID = c.TeamID
	s.BidCount++
	s.LastCall = LastCall{}
	s.Stage = StageBidding
	tx.startCountdown(s.Settings.TimerSeconds)
	tx.nextAmount = next

	entry := tx.audit(KindBid, fmt.Sprintf("%s bid %d for %s", s.teamName(c.TeamID), c.Amount, s.playerName(s.CurrentPlayerID)), map[string]any{
		"team_id":         c.TeamID,
		"player_id":       s.CurrentPlayerID,
		"amount":          c.Amount,
		"bid_count":       s.BidCount,
		"next_amount":     next,
		"last_call_rival": reentry,
	})
	tx.emit(EventBidAccepted, entry)
	return nil
}

func (tx *step) forceAdvance(c ForceAdvance) error {
	if err := requireRole(c.Actor, RoleAdmin); err != nil {
		return err
	}
	if err := tx.requireOnBlock(); err != nil {
		return err
	}
	tx.deferPlayer("moved to pending by operator", true)
	return nil
}

func (tx *step) manualSetWinner(c ManualSetWinner) error {
	s := tx.s
	if err := requireRole(c.Actor, RoleAdmin); err != nil {
		return err
	}
	if err := tx.requireOnBlock(); err != nil {
		return err
	}
	if c.Amount <= 0 {
		return rules.Reject(ReasonInvalidAmount, "amount must be positive, got %d", c.Amount)
	}
	if err := s.canAfford(c.TeamID, c.Amount); err != nil {
		return err
	}
	s.HighestBidderTeamID = c.TeamID
	if c.Amount > s.CurrentBid {
		s.CurrentBid = c.Amount
	}
	tx.sell(c.TeamID, c.Amount, true)
	return nil
}

// canAfford checks an operator sale against the team's roster and fund cap.
func (s *Session) canAfford(teamID string, amount int64) error {
	w, ok := s.Teams[teamID]
	if !ok {
		return rules.Reject(rules.ReasonTeamNotRecognized, "team %s is not part of this auction", teamID)
	}
	if w.RosterFull() {
		return rules.Reject(rules.ReasonRosterFull, "%s roster is full", w.Name)
	}
	if amount > w.Remaining() {
		return rules.Reject(rules.ReasonInsufficientFunds, "%s has %d left", w.Name, w.Remaining())
	}
	return nil
}

func (tx *step) complete(c CompleteAuction) error {
	if err := requireRole(c.Actor, RoleAdmin); err != nil {
		return err
	}
	if err := tx.requireStatus(StatusRunning); err != nil {
		return err
	}
	tx.finalize("auction ended by operator")
	return nil
}

func clampSeconds(v int) int {
	switch {
	case v < 5:
		return 5
	case v > 180:
		return 180
	}
	return v
}

func (tx *step) startLastCall(c StartLastCall) error {
	s := tx.s
	if err := requireRole(c.Actor, RoleAdmin); err != nil {
		return err
	}
	if err := tx.requireStatus(StatusRunning); err != nil {
		return err
	}
	if s.Stage != StageBidding {
		return rules.Reject(ReasonInvalidStage, "last call needs the bidding stage, auction is in %s", s.Stage)
	}
	if s.HighestBidderTeamID == "" {
		return rules.Reject(ReasonInvalidStage, "at least one bid is required before last call")
	}
	duration := s.Settings.LastCallSeconds
	if c.DurationSeconds > 0 {
		duration = clampSeconds(c.DurationSeconds)
	}
	resume := s.Settings.TimerSeconds
	if c.ResumeSeconds > 0 {
		resume = clampSeconds(c.ResumeSeconds)
	}
	tx.enterLastCall(duration, resume, "operator")
	return nil
}

func (tx *step) withdrawLastCall(c WithdrawLastCall) error {
	s := tx.s
	if err := requireRole(c.Actor, RoleAdmin); err != nil {
		return err
	}
	if err := tx.requireStatus(StatusRunning); err != nil {
		return err
	}
	if s.Stage != StageLastCall {
		return rules.Reject(ReasonInvalidStage, "no last call in progress")
	}
	secs := s.LastCall.ResumeSeconds
	if c.TimerSeconds > 0 {
		secs = clampSeconds(c.TimerSeconds)
	}
	if secs <= 0 {
		secs = s.Settings.TimerSeconds
	}
	s.LastCall = LastCall{}
	s.Stage = StageBidding
	tx.startCountdown(secs)
	entry := tx.audit(KindStatus, fmt.Sprintf("last call withdrawn for %s, timer restored to %ds", s.playerName(s.CurrentPlayerID), secs), map[string]any{
		"player_id":     s.CurrentPlayerID,
		"timer_seconds": secs,
	})
	tx.emit(EventLastCallWithdrawn, entry)
	return nil
}

func (tx *step) markUnsold(c MarkUnsold) error {
	if err := requireRole(c.Actor, RoleAdmin); err != nil {
		return err
	}
	if err := tx.requireOnBlock(); err != nil {
		return err
	}
	tx.dropPlayer(OutcomeUnsold, "marked unsold by operator", true)
	return nil
}

func (tx *step) withdrawPlayer(c WithdrawPlayer) error {
	s := tx.s
	if err := requireRole(c.Actor, RoleAdmin); err != nil {
		return err
	}
	if s.Status == StatusCompleted || s.Status == StatusNotStarted {
		return rules.Reject(ReasonInvalidStage, "auction is %s", s.Status)
	}
	if _, ok := s.Players[c.PlayerID]; !ok {
		return rules.Reject(ReasonUnknownPlayer, "player %s is not in this auction", c.PlayerID)
	}
	if o, done := s.Outcomes[c.PlayerID]; done {
		return rules.Reject(ReasonInvalidStage, "player %s is already %s", s.playerName(c.PlayerID), o)
	}
	reason := c.Reason
	if reason == "" {
		reason = "withdrawn during auction"
	}

	if c.PlayerID == s.CurrentPlayerID {
		if err := tx.requireStatus(StatusRunning); err != nil {
			return err
		}
		tx.dropPlayer(OutcomeWithdrawn, reason, true)
		return nil
	}

	s.Pool = without(s.Pool, c.PlayerID)
	s.PendingQueue = without(s.PendingQueue, c.PlayerID)
	tx.settle(c.PlayerID, OutcomeWithdrawn, nil)
	entry := tx.audit(KindStatus, fmt.Sprintf("%s withdrawn from auction", s.playerName(c.PlayerID)), map[string]any{
		"player_id": c.PlayerID,
		"reason":    reason,
	})
	tx.emit(EventPlayerWithdrawn, entry)
	return nil
}

func (tx *step) setLock(c SetLock) error {
	s := tx.s
	if err := requireRole(c.Actor, RoleAdmin); err != nil {
		return err
	}
	if s.Status == StatusCompleted {
		return rules.Reject(ReasonInvalidStage, "auction is %s", s.Status)
	}
	s.IsLocked = c.Locked
	msg := "auction unlocked"
	if c.Locked {
		msg = "auction locked"
	}
	entry := tx.audit(KindStatus, msg, map[string]any{"locked": c.Locked})
	tx.emit(EventLockChanged, entry)
	return nil
}

func (tx *step) nextPlayer(c NextPlayer) error {
	if err := requireRole(c.Actor, RoleAdmin); err != nil {
		return err
	}
	if err := tx.requireStatus(StatusRunning); err != nil {
		return err
	}
	if tx.s.Stage != StageSelectingPlayer {
		return rules.Reject(ReasonInvalidStage, "a player is already on the block (stage %s)", tx.s.Stage)
	}
	tx.callNext()
	return nil
}

func (tx *step) callPlayer(c CallPlayer) error {
	s := tx.s
	if err := requireRole(c.Actor, RoleAdmin); err != nil {
		return err
	}
	if err := tx.requireStatus(StatusRunning); err != nil {
		return err
	}
	if _, ok := s.Players[c.PlayerID]; !ok {
		return rules.Reject(ReasonUnknownPlayer, "player %s is not in this auction", c.PlayerID)
	}
	if c.PlayerID == s.CurrentPlayerID {
		return rules.Reject(ReasonInvalidStage, "%s is already on the block", s.playerName(c.PlayerID))
	}
	if o, done := s.Outcomes[c.PlayerID]; done {
		return rules.Reject(ReasonInvalidStage, "player %s is already %s", s.playerName(c.PlayerID), o)
	}
	inPool, inPending := contains(s.Pool, c.PlayerID), contains(s.PendingQueue, c.PlayerID)
	if !inPool && !inPending {
		return rules.Reject(ReasonInvalidStage, "player %s is neither in the pool nor pending", s.playerName(c.PlayerID))
	}

	switch {
	case s.Stage == StageSelectingPlayer:
	case s.onBlock() && s.HighestBidderTeamID == "":
		tx.returnToPool()
	default:
		return rules.Reject(ReasonInvalidStage, "finish %s before calling another player", s.playerName(s.CurrentPlayerID))
	}

	s.Pool = without(s.Pool, c.PlayerID)
	s.PendingQueue = without(s.PendingQueue, c.PlayerID)
	tx.putOnBlock(c.PlayerID, true)
	return nil
}

// returnToPool takes a player nobody bid on off the block and puts it back at
// the front of the pool.
func (tx *step) returnToPool() {
	s := tx.s
	id := s.CurrentPlayerID
	tx.stopCountdown()
	s.CurrentPlayerID = ""
	s.CurrentBid = 0
	s.BidCount = 0
	s.LastCall = LastCall{}
	s.Stage = StageSelectingPlayer
	s.Pool = append([]string{id}, s.Pool...)

	entry := tx.audit(KindStatus, fmt.Sprintf("%s returned to the pool", s.playerName(id)), map[string]any{
		"player_id": id,
	})
	tx.emit(EventPlayerReturned, entry)
}

func (tx *step) reinstate(c ReinstatePlayer) error {
	s := tx.s
	if err := requireRole(c.Actor, RoleAdmin); err != nil {
		return err
	}
	if s.Status != StatusRunning && s.Status != StatusPaused {
		return rules.Reject(ReasonInvalidStage, "auction is %s", s.Status)
	}

	var ids []string
	if c.PlayerID != "" {
		if _, ok := s.Players[c.PlayerID]; !ok {
			return rules.Reject(ReasonUnknownPlayer, "player %s is not in this auction", c.PlayerID)
		}
		switch o, done := s.Outcomes[c.PlayerID]; {
		case done && o == OutcomeSold:
			return rules.Reject(ReasonInvalidStage, "player %s is sold", s.playerName(c.PlayerID))
		case !done && !contains(s.PendingQueue, c.PlayerID):
			return rules.Reject(ReasonInvalidStage, "player %s is still available", s.playerName(c.PlayerID))
		}
		ids = []string{c.PlayerID}
	} else {
		if c.Outcome != OutcomeUnsold && c.Outcome != OutcomeWithdrawn {
			return rules.Reject(ReasonInvalidStage, "only unsold or withdrawn players can be reinstated, got %q", c.Outcome)
		}
		for id, o := range s.Outcomes {
			if o == c.Outcome {
				ids = append(ids, id)
			}
		}
		if len(ids) == 0 {
			return rules.Reject(ReasonInvalidStage, "no %s players to reinstate", c.Outcome)
		}
		sort.Strings(ids)
	}

	for _, id := range ids {
		if _, done := s.Outcomes[id]; done {
			delete(s.Outcomes, id)
			tx.settlements = append(tx.settlements, Settlement{PlayerID: id, Outcome: OutcomeAvailable})
		}
		s.PendingQueue = without(s.PendingQueue, id)
		s.Pool = append(without(s.Pool, id), id)
	}

	msg := fmt.Sprintf("%s put back into the pool", s.playerName(ids[0]))
	if len(ids) > 1 {
		msg = fmt.Sprintf("%d %s players put back into the pool", len(ids), c.Outcome)
	}
	entry := tx.audit(KindStatus, msg, map[string]any{"player_ids": ids})
	tx.emit(EventPlayersReinstated, entry)
	return nil
}

func (tx *step) assignPending(c AssignPending) error {
	s := tx.s
	if err := requireRole(c.Actor, RoleAdmin); err != nil {
		return err
	}
	if s.Status != StatusRunning && s.Status != StatusPaused {
		return rules.Reject(ReasonInvalidStage, "auction is %s", s.Status)
	}
	if !contains(s.PendingQueue, c.PlayerID) {
		return rules.Reject(ReasonInvalidStage, "player %s is not pending", s.playerName(c.PlayerID))
	}
	if c.Amount < 0 {
		return rules.Reject(ReasonInvalidAmount, "amount must not be negative, got %d", c.Amount)
	}
	if err := s.canAfford(c.TeamID, c.Amount); err != nil {
		return err
	}
	s.PendingQueue = without(s.PendingQueue, c.PlayerID)
	tx.recordSale(c.PlayerID, c.TeamID, c.Amount, true)
	return nil
}

// deadline handles a timer expiry. It returns false for stale generations.
func (tx *step) deadline(d Deadline) bool {
	s := tx.s
	if d.Generation != s.Generation || s.activeDeadline() == nil {
		return false
	}
	switch s.Stage {
	case StageBidding:
		if s.HighestBidderTeamID != "" {
			tx.enterLastCall(s.Settings.LastCallSeconds, s.Settings.TimerSeconds, "timer")
			return true
		}
		if s.Settings.AutoTimeoutAction == TimeoutUnsold {
			tx.dropPlayer(OutcomeUnsold, "no bids before the timer ran out", false)
		} else {
			tx.deferPlayer("no bids before the timer ran out", false)
		}
	case StageLastCall:
		tx.sell(s.HighestBidderTeamID, s.CurrentBid, false)
	}
	return true
}

// recover resumes a session loaded from a checkpoint. Saved deadlines are
// dropped and the remaining seconds projected at save time are re-anchored.
func (tx *step) recover(c Recover) {
	s := tx.s
	if s.Timer.Deadline != nil || s.LastCall.Deadline != nil {
		s.Generation++
		s.Timer.Deadline = nil
		s.LastCall.Deadline = nil
	}
	if s.Status == StatusRunning {
		if c.AutoResume {
			tx.thawCountdown()
		} else {
			tx.freezeCountdown()
			s.Status = StatusPaused
		}
	}
	entry := tx.audit(KindSystem, fmt.Sprintf("session restored as %s", s.Status), map[string]any{
		"auto_resume":       c.AutoResume,
		"remaining_seconds": s.Timer.RemainingSeconds,
	})
	tx.emit(EventSessionRestored, entry)
}

func (tx *step) noteDurability(c NoteDurability) {
	tx.s.Degraded = c.Degraded
	msg := "store writes recovered"
	if c.Degraded {
		msg = "store writes failing, durability degraded"
	}
	entry := tx.audit(KindSystem, msg, map[string]any{"degraded": c.Degraded, "detail": c.Detail})
	tx.emit(EventDurabilityChanged, entry)
}

func without(ids []string, id string) []string {
	out := ids[:0:0]
	for _, v := range ids {
		if v != id {
			out = append(out, v)
		}
	}
	return out
}

func contains(ids []string, id string) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}
