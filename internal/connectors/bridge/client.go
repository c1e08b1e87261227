// Package bridge is the client of the cross-chain bridge REST API.
package bridge

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"go.uber.org/zap"

	"github.com/ApolloDevsGroup/okse-swaps-controller/internal/config"
	"github.com/ApolloDevsGroup/okse-swaps-controller/internal/connectors/apiclient"
	"github.com/ApolloDevsGroup/okse-swaps-controller/internal/types"
)

// CodeOK is the envelope code of a successful call.
const CodeOK = 20000

// Response is the envelope every bridge endpoint answers with.
type Response[T any] struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    T      `json:"data"`
}

func (r Response[T]) OK() bool { return r.Code == CodeOK }

// APIError is an envelope with a non-success code.
type APIError struct {
	Code    int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("bridge code %d: %s", e.Code, e.Message)
}

type Client struct {
	api  *apiclient.Client
	base string
	log  *zap.Logger
}

func NewClient(cfg *config.Config, api *apiclient.Client, log *zap.Logger) *Client {
	return &Client{api: api, base: strings.TrimRight(cfg.API.BridgeURL, "/"), log: log}
}

func unwrap[T any](r Response[T], err error) (T, error) {
	if err != nil {
		var zero T
		return zero, err
	}
	if !r.OK() {
		var zero T
		return zero, &APIError{Code: r.Code, Message: r.Message}
	}
	return r.Data, nil
}

// FetchTokens returns every token the bridge lists, unfiltered.
func (c *Client) FetchTokens(ctx context.Context) ([]types.BridgeToken, error) {
	r, err := apiclient.GetJSON[Response[struct {
		Tokens []types.BridgeToken `json:"tokens"`
	}]](ctx, c.api, c.base+"/tokens")
	data, err := unwrap(r, err)
	if err != nil {
		return nil, fmt.Errorf("fetch bridge tokens: %w", err)
	}
	return data.Tokens, nil
}

// FetchNetworks returns the networks symbol can travel over.
func (c *Client) FetchNetworks(ctx context.Context, symbol string) ([]types.BridgeNetwork, error) {
	u := c.base + "/tokens/" + url.PathEscape(symbol) + "/networks"
	r, err := apiclient.GetJSON[Response[struct {
		Networks []types.BridgeNetwork `json:"networks"`
	}]](ctx, c.api, u)
	data, err := unwrap(r, err)
	if err != nil {
		return nil, fmt.Errorf("fetch bridge networks: %w", err)
	}
	return data.Networks, nil
}

// CreateSwap opens a swap. The raw envelope is returned so callers can
// inspect the code.
func (c *Client) CreateSwap(ctx context.Context, req types.BridgeSwapRequest) (Response[types.BridgeSwap], error) {
	r, err := apiclient.PostJSON[Response[types.BridgeSwap]](ctx, c.api, c.base+"/swaps", req)
	if err != nil {
		return r, fmt.Errorf("create bridge swap: %w", err)
	}
	c.log.Debug("bridge create response",
		zap.Int("code", r.Code), zap.String("id", r.Data.ID), zap.String("status", r.Data.Status))
	return r, nil
}

// SwapStatus fetches a swap by id.
func (c *Client) SwapStatus(ctx context.Context, id string) (types.BridgeSwap, error) {
	r, err := apiclient.GetJSON[Response[types.BridgeSwap]](ctx, c.api, c.base+"/swaps/"+url.PathEscape(id))
	s, err := unwrap(r, err)
	if err != nil {
		return s, fmt.Errorf("bridge swap %s: %w", id, err)
	}
	return s, nil
}

// FindSwaps lists the swaps of a wallet.
func (c *Client) FindSwaps(ctx context.Context, p types.BridgeFindParams) ([]types.BridgeSwap, error) {
	u := c.base + "/swaps?walletAddress=" + url.QueryEscape(p.WalletAddress)
	r, err := apiclient.GetJSON[Response[struct {
		Swaps []types.BridgeSwap `json:"swaps"`
	}]](ctx, c.api, u)
	data, err := unwrap(r, err)
	if err != nil {
		return nil, fmt.Errorf("find bridge swaps: %w", err)
	}
	return data.Swaps, nil
}
