package auction

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"connectrpc.com/connect"

	"github.com/ulmjahfar/playlivepro-sub003/go/internal/auction/engine"
)

// Client talks to a remote auction server. It serves the standalone gateway
// as its state provider and bid router.
type Client struct {
	commands    map[string]*connect.Client[CommandRequest, engine.Result]
	getState    *connect.Client[StateRequest, engine.View]
	getSnapshot *connect.Client[StateRequest, engine.View]
	getSummary  *connect.Client[StateRequest, SummaryResponse]
	listActive  *connect.Client[ListActiveRequest, ListActiveResponse]
}

func NewClient(httpClient connect.HTTPClient, baseURL string, opts ...connect.ClientOption) *Client {
	baseURL = strings.TrimRight(baseURL, "/")
	opts = append([]connect.ClientOption{connect.WithCodec(jsonCodec{})}, opts...)

	c := &Client{
		commands:    make(map[string]*connect.Client[CommandRequest, engine.Result]),
		getState:    connect.NewClient[StateRequest, engine.View](httpClient, baseURL+GetStateProcedure, opts...),
		getSnapshot: connect.NewClient[StateRequest, engine.View](httpClient, baseURL+GetSnapshotProcedure, opts...),
		getSummary:  connect.NewClient[StateRequest, SummaryResponse](httpClient, baseURL+GetSummaryProcedure, opts...),
		listActive:  connect.NewClient[ListActiveRequest, ListActiveResponse](httpClient, baseURL+ListActiveProcedure, opts...),
	}
	c.commands[StartAuctionProcedure] = connect.NewClient[CommandRequest, engine.Result](httpClient, baseURL+StartAuctionProcedure, opts...)
	for procedure := range commands {
		c.commands[procedure] = connect.NewClient[CommandRequest, engine.Result](httpClient, baseURL+procedure, opts...)
	}
	return c
}

// NewHTTPClient returns a client on http.DefaultClient.
func NewHTTPClient(baseURL string) *Client {
	return NewClient(http.DefaultClient, baseURL)
}

// Call sends req to a command procedure.
func (c *Client) Call(ctx context.Context, procedure string, req CommandRequest) (engine.Result, error) {
	cl, ok := c.commands[procedure]
	if !ok {
		return engine.Result{}, fmt.Errorf("unknown procedure %s", procedure)
	}
	resp, err := cl.CallUnary(ctx, connect.NewRequest(&req))
	if err != nil {
		return engine.Result{}, fromConnectError(err)
	}
	return *resp.Msg, nil
}

func (c *Client) StartAuction(ctx context.Context, code string, actor engine.Actor) (engine.Result, error) {
	return c.Call(ctx, StartAuctionProcedure, CommandRequest{TournamentCode: code, Actor: actor})
}

func (c *Client) PlaceBid(ctx context.Context, code string, actor engine.Actor, teamID string, amount int64) (engine.Result, error) {
	return c.Call(ctx, PlaceBidProcedure, CommandRequest{TournamentCode: code, Actor: actor, TeamID: teamID, Amount: amount})
}

func (c *Client) State(ctx context.Context, code string) (engine.View, error) {
	resp, err := c.getState.CallUnary(ctx, connect.NewRequest(&StateRequest{TournamentCode: code}))
	if err != nil {
		return engine.View{}, fromConnectError(err)
	}
	return *resp.Msg, nil
}

func (c *Client) Snapshot(ctx context.Context, code string) (engine.View, error) {
	resp, err := c.getSnapshot.CallUnary(ctx, connect.NewRequest(&StateRequest{TournamentCode: code}))
	if err != nil {
		return engine.View{}, fromConnectError(err)
	}
	return *resp.Msg, nil
}

func (c *Client) Summary(ctx context.Context, code string) (*engine.Summary, error) {
	resp, err := c.getSummary.CallUnary(ctx, connect.NewRequest(&StateRequest{TournamentCode: code}))
	if err != nil {
		return nil, fromConnectError(err)
	}
	return resp.Msg.Summary, nil
}

func (c *Client) ListActive(ctx context.Context) ([]engine.View, error) {
	resp, err := c.listActive.CallUnary(ctx, connect.NewRequest(&ListActiveRequest{}))
	if err != nil {
		return nil, fromConnectError(err)
	}
	return resp.Msg.Auctions, nil
}

// fromConnectError maps a not-found status back to ErrNotFound.
func fromConnectError(err error) error {
	var ce *connect.Error
	if errors.As(err, &ce) && ce.Code() == connect.CodeNotFound {
		return fmt.Errorf("%w: %s", ErrNotFound, ce.Message())
	}
	return err
}
