package auction

import (
	"context"
	"errors"
	"net/http"

	"connectrpc.com/connect"
	"github.com/rs/zerolog/log"

	"github.com/ulmjahfar/playlivepro-sub003/go/internal/auction/engine"
)

const ServiceName = "auction.v1.AuctionService"

// Procedure paths.
const (
	StartAuctionProcedure     = "/" + ServiceName + "/StartAuction"
	PauseAuctionProcedure     = "/" + ServiceName + "/PauseAuction"
	ResumeAuctionProcedure    = "/" + ServiceName + "/ResumeAuction"
	PlaceBidProcedure         = "/" + ServiceName + "/PlaceBid"
	ForceAdvanceProcedure     = "/" + ServiceName + "/ForceAdvance"
	ManualSetWinnerProcedure  = "/" + ServiceName + "/ManualSetWinner"
	CompleteAuctionProcedure  = "/" + ServiceName + "/CompleteAuction"
	StartLastCallProcedure    = "/" + ServiceName + "/StartLastCall"
	WithdrawLastCallProcedure = "/" + ServiceName + "/WithdrawLastCall"
	MarkUnsoldProcedure       = "/" + ServiceName + "/MarkUnsold"
	WithdrawPlayerProcedure   = "/" + ServiceName + "/WithdrawPlayer"
	SetLockProcedure          = "/" + ServiceName + "/SetLock"
	NextPlayerProcedure       = "/" + ServiceName + "/NextPlayer"
	CallPlayerProcedure       = "/" + ServiceName + "/CallPlayer"
	ReinstatePlayerProcedure  = "/" + ServiceName + "/ReinstatePlayer"
	AssignPendingProcedure    = "/" + ServiceName + "/AssignPending"
	GetStateProcedure         = "/" + ServiceName + "/GetState"
	GetSnapshotProcedure      = "/" + ServiceName + "/GetSnapshot"
	GetSummaryProcedure       = "/" + ServiceName + "/GetSummary"
	ListActiveProcedure       = "/" + ServiceName + "/ListActive"
)

// CommandRequest carries any auction command. Only the fields the command
// uses are read.
type CommandRequest struct {
	TournamentCode  string         `json:"tournament_code"`
	Actor           engine.Actor   `json:"actor"`
	TeamID          string         `json:"team_id,omitempty"`
	Amount          int64          `json:"amount,omitempty"`
	Reason          string         `json:"reason,omitempty"`
	PlayerID        string         `json:"player_id,omitempty"`
	Outcome         engine.Outcome `json:"outcome,omitempty"`
	Locked          bool           `json:"locked,omitempty"`
	DurationSeconds int            `json:"duration_seconds,omitempty"`
	ResumeSeconds   int            `json:"resume_seconds,omitempty"`
	TimerSeconds    int            `json:"timer_seconds,omitempty"`
}

type StateRequest struct {
	TournamentCode string `json:"tournament_code"`
}

type SummaryResponse struct {
	Summary *engine.Summary `json:"summary,omitempty"`
}

type ListActiveRequest struct{}

type ListActiveResponse struct {
	Auctions []engine.View `json:"auctions"`
}

// AuctionApp defines what the service layer needs from the manager.
type AuctionApp interface {
	StartAuction(ctx context.Context, code string, actor engine.Actor) (engine.Result, error)
	Submit(ctx context.Context, code string, cmd engine.Command) (engine.Result, error)
	Snapshot(ctx context.Context, code string) (engine.View, error)
	State(ctx context.Context, code string) (engine.View, error)
	Summary(ctx context.Context, code string) (*engine.Summary, error)
	ListActive(ctx context.Context) ([]engine.View, error)
}

// Service exposes the manager over connect with a JSON codec.
type Service struct {
	app AuctionApp
}

func NewService(app AuctionApp) *Service {
	return &Service{app: app}
}

// commands maps each command procedure to the engine command it submits.
var commands = map[string]func(CommandRequest) engine.Command{
	PauseAuctionProcedure: func(r CommandRequest) engine.Command {
		return engine.PauseAuction{Actor: r.Actor, Reason: r.Reason}
	},
	ResumeAuctionProcedure: func(r CommandRequest) engine.Command {
		return engine.ResumeAuction{Actor: r.Actor}
	},
	PlaceBidProcedure: func(r CommandRequest) engine.Command {
		return engine.PlaceBid{Actor: r.Actor, TeamID: r.TeamID, Amount: r.Amount}
	},
	ForceAdvanceProcedure: func(r CommandRequest) engine.Command {
		return engine.ForceAdvance{Actor: r.Actor}
	},
	ManualSetWinnerProcedure: func(r CommandRequest) engine.Command {
		return engine.ManualSetWinner{Actor: r.Actor, TeamID: r.TeamID, Amount: r.Amount}
	},
	CompleteAuctionProcedure: func(r CommandRequest) engine.Command {
		return engine.CompleteAuction{Actor: r.Actor}
	},
	StartLastCallProcedure: func(r CommandRequest) engine.Command {
		return engine.StartLastCall{Actor: r.Actor, DurationSeconds: r.DurationSeconds, ResumeSeconds: r.ResumeSeconds}
	},
	WithdrawLastCallProcedure: func(r CommandRequest) engine.Command {
		return engine.WithdrawLastCall{Actor: r.Actor, TimerSeconds: r.TimerSeconds}
	},
	MarkUnsoldProcedure: func(r CommandRequest) engine.Command {
		return engine.MarkUnsold{Actor: r.Actor}
	},
	WithdrawPlayerProcedure: func(r CommandRequest) engine.Command {
		return engine.WithdrawPlayer{Actor: r.Actor, PlayerID: r.PlayerID, Reason: r.Reason}
	},
	SetLockProcedure: func(r CommandRequest) engine.Command {
		return engine.SetLock{Actor: r.Actor, Locked: r.Locked}
	},
	NextPlayerProcedure: func(r CommandRequest) engine.Command {
		return engine.NextPlayer{Actor: r.Actor}
	},
	CallPlayerProcedure: func(r CommandRequest) engine.Command {
		return engine.CallPlayer{Actor: r.Actor, PlayerID: r.PlayerID}
	},
	ReinstatePlayerProcedure: func(r CommandRequest) engine.Command {
		return engine.ReinstatePlayer{Actor: r.Actor, PlayerID: r.PlayerID, Outcome: r.Outcome}
	},
	AssignPendingProcedure: func(r CommandRequest) engine.Command {
		return engine.AssignPending{Actor: r.Actor, PlayerID: r.PlayerID, TeamID: r.TeamID, Amount: r.Amount}
	},
}

// NewHandler builds the HTTP handler for the service and returns the path to
// mount it on.
func NewHandler(svc *Service, opts ...connect.HandlerOption) (string, http.Handler) {
	opts = append([]connect.HandlerOption{connect.WithCodec(jsonCodec{})}, opts...)
	mux := http.NewServeMux()

	mux.Handle(StartAuctionProcedure, connect.NewUnaryHandler(StartAuctionProcedure, svc.StartAuction, opts...))
	for procedure, build := range commands {
		mux.Handle(procedure, connect.NewUnaryHandler(procedure, svc.command(build), opts...))
	}
	mux.Handle(GetStateProcedure, connect.NewUnaryHandler(GetStateProcedure, svc.GetState, opts...))
	mux.Handle(GetSnapshotProcedure, connect.NewUnaryHandler(GetSnapshotProcedure, svc.GetSnapshot, opts...))
	mux.Handle(GetSummaryProcedure, connect.NewUnaryHandler(GetSummaryProcedure, svc.GetSummary, opts...))
	mux.Handle(ListActiveProcedure, connect.NewUnaryHandler(ListActiveProcedure, svc.ListActive, opts...))

	return "/" + ServiceName + "/", mux
}

func (s *Service) StartAuction(ctx context.Context, req *connect.Request[CommandRequest]) (*connect.Response[engine.Result], error) {
	if req.Msg.TournamentCode == "" {
		return nil, connect.NewError(connect.CodeInvalidArgument, errors.New("tournament_code is required"))
	}
	res, err := s.app.StartAuction(ctx, req.Msg.TournamentCode, req.Msg.Actor)
	if err != nil {
		return nil, toConnectError(err)
	}
	return connect.NewResponse(&res), nil
}

func (s *Service) command(build func(CommandRequest) engine.Command) func(context.Context, *connect.Request[CommandRequest]) (*connect.Response[engine.Result], error) {
	return func(ctx context.Context, req *connect.Request[CommandRequest]) (*connect.Response[engine.Result], error) {
		if req.Msg.TournamentCode == "" {
			return nil, connect.NewError(connect.CodeInvalidArgument, errors.New("tournament_code is required"))
		}
		res, err := s.app.Submit(ctx, req.Msg.TournamentCode, build(*req.Msg))
		if err != nil {
			return nil, toConnectError(err)
		}
		return connect.NewResponse(&res), nil
	}
}

func (s *Service) GetState(ctx context.Context, req *connect.Request[StateRequest]) (*connect.Response[engine.View], error) {
	v, err := s.app.State(ctx, req.Msg.TournamentCode)
	if err != nil {
		return nil, toConnectError(err)
	}
	return connect.NewResponse(&v), nil
}

func (s *Service) GetSnapshot(ctx context.Context, req *connect.Request[StateRequest]) (*connect.Response[engine.View], error) {
	v, err := s.app.Snapshot(ctx, req.Msg.TournamentCode)
	if err != nil {
		return nil, toConnectError(err)
	}
	return connect.NewResponse(&v), nil
}

func (s *Service) GetSummary(ctx context.Context, req *connect.Request[StateRequest]) (*connect.Response[SummaryResponse], error) {
	sum, err := s.app.Summary(ctx, req.Msg.TournamentCode)
	if err != nil {
		return nil, toConnectError(err)
	}
	return connect.NewResponse(&SummaryResponse{Summary: sum}), nil
}

func (s *Service) ListActive(ctx context.Context, _ *connect.Request[ListActiveRequest]) (*connect.Response[ListActiveResponse], error) {
	views, err := s.app.ListActive(ctx)
	if err != nil {
		return nil, toConnectError(err)
	}
	return connect.NewResponse(&ListActiveResponse{Auctions: views}), nil
}

func toConnectError(err error) error {
	switch {
	case errors.Is(err, ErrNotFound):
		return connect.NewError(connect.CodeNotFound, err)
	case errors.Is(err, engine.ErrStopped):
		return connect.NewError(connect.CodeUnavailable, err)
	case errors.Is(err, context.DeadlineExceeded):
		return connect.NewError(connect.CodeDeadlineExceeded, err)
	case errors.Is(err, context.Canceled):
		return connect.NewError(connect.CodeCanceled, err)
	default:
		log.Error().Err(err).Msg("auction request failed")
		return connect.NewError(connect.CodeInternal, err)
	}
}

var _ AuctionApp = (*Manager)(nil)
