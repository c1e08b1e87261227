// Package metaswap talks to the swaps quote API and the CoinGecko price feed.
package metaswap

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/ApolloDevsGroup/okse-swaps-controller/internal/config"
	"github.com/ApolloDevsGroup/okse-swaps-controller/internal/connectors/apiclient"
	"github.com/ApolloDevsGroup/okse-swaps-controller/internal/types"
	"github.com/ApolloDevsGroup/okse-swaps-controller/internal/units"
)

// Name identifies this backend in the source registry.
const Name = "metaswap"

// upstream aggregation timeout passed with every trades request
const tradesUpstreamTimeoutMs = 10000

type Client struct {
	api           *apiclient.Client
	base          string
	coingecko     string
	tradesTimeout time.Duration
	log           *zap.Logger
}

func NewClient(cfg *config.Config, api *apiclient.Client, log *zap.Logger) *Client {
	return &Client{
		api:           api,
		base:          strings.TrimRight(cfg.API.MetaSwapURL, "/"),
		coingecko:     strings.TrimRight(cfg.API.CoinGeckoURL, "/"),
		tradesTimeout: cfg.TradesTimeout(),
		log:           log,
	}
}

func (c *Client) Name() string { return Name }

// tradeResp keeps Trade as a pointer so a missing trade is distinguishable.
type tradeResp struct {
	types.Quote
	Trade *types.TxParams `json:"trade"`
}

// TradesURL builds the trades query for p.
func (c *Client) TradesURL(p types.FetchParams) string {
	q := url.Values{}
	q.Set("destinationToken", p.DestinationToken.Hex())
	q.Set("sourceToken", p.SourceToken.Hex())
	q.Set("sourceAmount", p.SourceAmount.Truncate(0).String())
	q.Set("slippage", p.Slippage.String())
	q.Set("timeout", fmt.Sprint(tradesUpstreamTimeoutMs))
	q.Set("walletAddress", p.WalletAddress.Hex())
	if len(p.ExchangeList) > 0 {
		q.Set("exchangeList", strings.Join(p.ExchangeList, ","))
	}
	return c.base + "/trades?" + q.Encode()
}

// FetchTrades returns one quote per aggregator that answered with a trade
// and no error, in response order. A repeated aggregator id replaces the
// earlier entry in place.
func (c *Client) FetchTrades(ctx context.Context, p types.FetchParams) ([]types.Quote, error) {
	ctx, cancel := context.WithTimeout(ctx, c.tradesTimeout)
	defer cancel()

	start := time.Now()
	resp, err := apiclient.GetJSON[[]tradeResp](ctx, c.api, c.TradesURL(p))
	if err != nil {
		return nil, fmt.Errorf("fetch trades: %w", err)
	}

	out := make([]types.Quote, 0, len(resp))
	idx := make(map[string]int, len(resp))
	for _, r := range resp {
		if r.Trade == nil || r.HasError() || r.Aggregator == "" {
			continue
		}
		q := r.Quote
		q.Trade = *r.Trade
		q.Trade.Gas = types.NewQuantity(int64(q.MaxGas))
		q.Slippage = p.Slippage
		if i, ok := idx[q.Aggregator]; ok {
			out[i] = q
			continue
		}
		idx[q.Aggregator] = len(out)
		out = append(out, q)
	}
	c.log.Debug("trades fetched",
		zap.Int("received", len(resp)),
		zap.Int("usable", len(out)),
		zap.Duration("took", time.Since(start)))
	return out, nil
}

// FetchTokens returns the tradeable tokens with the native asset last.
func (c *Client) FetchTokens(ctx context.Context) ([]types.Token, error) {
	tokens, err := apiclient.GetJSON[[]types.Token](ctx, c.api, c.base+"/tokens")
	if err != nil {
		return nil, fmt.Errorf("fetch tokens: %w", err)
	}
	out := make([]types.Token, 0, len(tokens)+1)
	for _, t := range tokens {
		if types.IsNative(t.Address) {
			continue
		}
		out = append(out, t)
	}
	return append(out, types.NativeTokenInfo), nil
}

func (c *Client) FetchTopAssets(ctx context.Context) ([]types.TopAsset, error) {
	v, err := apiclient.GetJSON[[]types.TopAsset](ctx, c.api, c.base+"/topAssets")
	if err != nil {
		return nil, fmt.Errorf("fetch top assets: %w", err)
	}
	return v, nil
}

func (c *Client) FetchAggregatorMetadata(ctx context.Context) (map[string]types.AggregatorMetadata, error) {
	v, err := apiclient.GetJSON[map[string]types.AggregatorMetadata](ctx, c.api, c.base+"/aggregatorMetadata")
	if err != nil {
		return nil, fmt.Errorf("fetch aggregator metadata: %w", err)
	}
	return v, nil
}

// FeatureLive reports whether swaps are enabled upstream. Any failure
// counts as not live.
func (c *Client) FeatureLive(ctx context.Context) bool {
	v, err := apiclient.GetJSON[struct {
		Active bool `json:"active"`
	}](ctx, c.api, c.base+"/featureFlag")
	if err != nil {
		c.log.Warn("feature flag unavailable", zap.Error(err))
		return false
	}
	return v.Active
}

func (c *Client) FetchGasPrices(ctx context.Context) (types.GasPrices, error) {
	v, err := apiclient.GetJSON[types.GasPrices](ctx, c.api, c.base+"/gasPrices")
	if err != nil {
		return v, fmt.Errorf("fetch gas prices: %w", err)
	}
	return v, nil
}

// ProposedGasPrice returns the oracle's proposed price in wei.
func (c *Client) ProposedGasPrice(ctx context.Context) (decimal.Decimal, error) {
	p, err := c.FetchGasPrices(ctx)
	if err != nil {
		return decimal.Zero, err
	}
	wei, err := units.GweiToWei(p.ProposeGasPrice)
	if err != nil {
		return decimal.Zero, fmt.Errorf("proposed gas price: %w", err)
	}
	return wei, nil
}

// FetchTokenPrice returns the price of token in ETH. ok is false when the
// feed has no price for it.
func (c *Client) FetchTokenPrice(ctx context.Context, token common.Address) (price decimal.Decimal, ok bool, err error) {
	addr := strings.ToLower(token.Hex())
	u := c.coingecko + "/simple/token_price/ethereum?contract_addresses=" + url.QueryEscape(addr) + "&vs_currencies=eth"
	prices, err := apiclient.GetJSON[map[string]map[string]decimal.Decimal](ctx, c.api, u)
	if err != nil {
		return decimal.Zero, false, fmt.Errorf("fetch token price: %w", err)
	}
	for k, v := range prices {
		if strings.EqualFold(k, addr) {
			if p, found := v["eth"]; found {
				return p, true, nil
			}
		}
	}
	return decimal.Zero, false, nil
}
