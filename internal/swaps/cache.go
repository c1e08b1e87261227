package swaps

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/ApolloDevsGroup/okse-swaps-controller/internal/types"
)

// RefreshTokenCache refetches the token list when it was never fetched or
// is older than the configured threshold.
func (c *Controller) RefreshTokenCache(ctx context.Context) error {
	if c.deps.Tokens == nil {
		return nil
	}
	c.opMu.Lock()
	defer c.opMu.Unlock()

	c.mu.Lock()
	tokens, last := c.state.Tokens, c.state.TokensLastFetched
	c.mu.Unlock()
	if tokens != nil && c.now().Sub(last) < c.cfg.FetchTokensThreshold() {
		return nil
	}

	fresh, err := c.deps.Tokens.FetchTokens(ctx)
	if err != nil {
		return fmt.Errorf("fetch tokens: %w", err)
	}
	now := c.now()
	c.update(func(s *types.State) {
		s.Tokens = fresh
		s.TokensLastFetched = now
	})
	c.log.Info("token cache refreshed", zap.Int("tokens", len(fresh)))
	return nil
}

// RefreshBridgeTokenCache refetches the bridge token list once it is older
// than the threshold, keeping only tokens both chains can carry.
func (c *Controller) RefreshBridgeTokenCache(ctx context.Context) error {
	if c.deps.Bridge == nil {
		return ErrBridgeDisabled
	}
	c.opMu.Lock()
	defer c.opMu.Unlock()

	c.mu.Lock()
	last := c.state.BridgeTokensLastFetched
	c.mu.Unlock()
	if c.now().Sub(last) < c.cfg.FetchTokensThreshold() {
		return nil
	}

	all, err := c.deps.Bridge.FetchTokens(ctx)
	if err != nil {
		bridgeResult("tokens", err)
		return fmt.Errorf("fetch bridge tokens: %w", err)
	}
	bridgeResult("tokens", nil)
	usable := make([]types.BridgeToken, 0, len(all))
	for _, t := range all {
		if t.Bridgeable() {
			usable = append(usable, t)
		}
	}
	now := c.now()
	c.update(func(s *types.State) {
		s.BridgeTokens = usable
		s.BridgeTokensLastFetched = now
	})
	c.log.Info("bridge token cache refreshed", zap.Int("tokens", len(usable)), zap.Int("listed", len(all)))
	return nil
}
