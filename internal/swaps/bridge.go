package swaps

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/ApolloDevsGroup/okse-swaps-controller/internal/connectors/bridge"
	imetrics "github.com/ApolloDevsGroup/okse-swaps-controller/internal/metrics"
	"github.com/ApolloDevsGroup/okse-swaps-controller/internal/types"
)

// excludedBridgeNetwork is never offered as a bridge route.
const excludedBridgeNetwork = "BNB"

func bridgeResult(op string, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	imetrics.BridgeRequests.WithLabelValues(op, result).Inc()
}

// FetchBridgeNetworks loads the networks symbol can travel over.
func (c *Controller) FetchBridgeNetworks(ctx context.Context, symbol string) ([]types.BridgeNetwork, error) {
	if c.deps.Bridge == nil {
		return nil, ErrBridgeDisabled
	}
	c.opMu.Lock()
	defer c.opMu.Unlock()

	all, err := c.deps.Bridge.FetchNetworks(ctx, symbol)
	bridgeResult("networks", err)
	if err != nil {
		return nil, fmt.Errorf("fetch bridge networks: %w", err)
	}
	nets := make([]types.BridgeNetwork, 0, len(all))
	for _, n := range all {
		if n.Name != excludedBridgeNetwork {
			nets = append(nets, n)
		}
	}
	c.update(func(s *types.State) { s.BridgeNetworks = nets })
	return nets, nil
}

// CreateBridgeRequest opens a cross-chain swap and tracks it by id.
func (c *Controller) CreateBridgeRequest(ctx context.Context, req types.BridgeSwapRequest) (types.BridgeSwap, error) {
	if c.deps.Bridge == nil {
		return types.BridgeSwap{}, ErrBridgeDisabled
	}
	c.opMu.Lock()
	defer c.opMu.Unlock()

	resp, err := c.deps.Bridge.CreateSwap(ctx, req)
	if err == nil && !resp.OK() {
		err = &bridge.APIError{Code: resp.Code, Message: resp.Message}
	}
	bridgeResult("create", err)
	if err != nil {
		return types.BridgeSwap{}, fmt.Errorf("create bridge swap: %w", err)
	}

	swap := resp.Data
	c.update(func(s *types.State) {
		if s.BridgeStatus == nil {
			s.BridgeStatus = map[string]types.BridgeSwap{}
		}
		s.BridgeStatus[swap.ID] = swap
	})
	c.log.Info("bridge swap created",
		zap.String("id", swap.ID),
		zap.String("symbol", swap.Symbol),
		zap.String("status", swap.Status))
	return swap, nil
}

// PollBridgeStatus refreshes one tracked swap. Once it is completed or
// cancelled it is no longer tracked.
func (c *Controller) PollBridgeStatus(ctx context.Context, id string) (types.BridgeSwap, error) {
	if c.deps.Bridge == nil {
		return types.BridgeSwap{}, ErrBridgeDisabled
	}
	c.opMu.Lock()
	defer c.opMu.Unlock()

	swap, err := c.deps.Bridge.SwapStatus(ctx, id)
	bridgeResult("status", err)
	if err != nil {
		return types.BridgeSwap{}, fmt.Errorf("bridge swap status %s: %w", id, err)
	}

	c.update(func(s *types.State) {
		if swap.Terminal() {
			delete(s.BridgeStatus, id)
			return
		}
		if s.BridgeStatus == nil {
			s.BridgeStatus = map[string]types.BridgeSwap{}
		}
		s.BridgeStatus[id] = swap
	})
	if swap.Terminal() {
		c.log.Info("bridge swap finished", zap.String("id", id), zap.String("status", swap.Status))
	}
	return swap, nil
}

// FindBridgeSwaps lists the bridge history of a wallet. State is not touched.
func (c *Controller) FindBridgeSwaps(ctx context.Context, p types.BridgeFindParams) ([]types.BridgeSwap, error) {
	if c.deps.Bridge == nil {
		return nil, ErrBridgeDisabled
	}
	c.opMu.Lock()
	defer c.opMu.Unlock()

	swaps, err := c.deps.Bridge.FindSwaps(ctx, p)
	bridgeResult("find", err)
	if err != nil {
		return nil, fmt.Errorf("find bridge swaps: %w", err)
	}
	return swaps, nil
}
