package swaps

import (
	"context"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	imetrics "github.com/ApolloDevsGroup/okse-swaps-controller/internal/metrics"
	"github.com/ApolloDevsGroup/okse-swaps-controller/internal/savings"
	"github.com/ApolloDevsGroup/okse-swaps-controller/internal/types"
	"github.com/ApolloDevsGroup/okse-swaps-controller/internal/units"
	"github.com/ApolloDevsGroup/okse-swaps-controller/internal/valuation"
)

// Start begins a polling session for params. A nil params is ignored. Any
// cycle still running for earlier params is cancelled and its result
// dropped. Start does not wait for the first cycle.
func (c *Controller) Start(params *types.FetchParams, meta *types.FetchParamsMetaData, customGasPrice *decimal.Decimal) {
	if params == nil {
		return
	}
	p := *params
	m := c.resolveMeta(p, meta)

	c.mu.Lock()
	c.gen++
	gen := c.gen
	c.abortLocked(types.ErrFetchOrderConflict)
	c.pollCount = 0
	c.state.FetchParams = &p
	c.state.FetchParamsMetaData = &m
	c.state.CustomGasPrice = customGasPrice
	c.state.ApprovalTransaction = nil
	c.state.ErrorKey = ""
	// quotes of the previous params must not show next to the new ones
	c.state.Quotes = map[string]types.Quote{}
	c.state.QuoteValues = map[string]types.QuoteValues{}
	c.state.TopAggID = ""
	c.state.TopAggSavings = nil
	c.state.QuotesLastFetched = time.Time{}
	c.publishLocked()
	c.mu.Unlock()

	c.log.Info("quote polling started",
		zap.String("source", p.SourceToken.Hex()),
		zap.String("destination", p.DestinationToken.Hex()),
		zap.String("amount", p.SourceAmount.String()))

	go c.poll(gen)
}

// Stop ends polling with key as the error (empty for a plain stop). State
// goes back to defaults except for the token caches.
func (c *Controller) Stop(key types.SwapsError) {
	c.mu.Lock()
	c.stopLocked(key)
	c.mu.Unlock()
}

func (c *Controller) stopLocked(key types.SwapsError) {
	c.gen++
	c.abortLocked(context.Canceled)
	c.pollCount = c.cfg.PollCountLimit + 1

	prev := c.state
	s := types.DefaultState(c.cfg.PollCountLimit)
	s.Tokens = prev.Tokens
	s.TokensLastFetched = prev.TokensLastFetched
	s.BridgeTokens = prev.BridgeTokens
	s.BridgeTokensLastFetched = prev.BridgeTokensLastFetched
	s.IsInPolling = false
	s.IsInFetch = false
	s.ErrorKey = key
	c.state = s
	c.publishLocked()

	if key != "" {
		c.log.Warn("quote polling stopped", zap.String("error", string(key)))
	} else {
		c.log.Info("quote polling stopped")
	}
}

// abortLocked cancels the in-flight cycle and the pending poll timer.
func (c *Controller) abortLocked(cause error) {
	if c.cancel != nil {
		c.cancel(cause)
		c.cancel = nil
	}
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
}

// SafeRefetchQuotes runs one cycle now if there are params and no cycle is
// running. It does not use up a poll attempt; a pending poll tick is pushed
// back by a full interval. It reports whether a cycle ran.
func (c *Controller) SafeRefetchQuotes() bool {
	c.mu.Lock()
	if c.state.FetchParams == nil || c.state.IsInFetch {
		c.mu.Unlock()
		return false
	}
	gen, attempt := c.gen, c.pollCount
	rearm := c.timer != nil
	if rearm {
		c.timer.Stop()
		c.timer = nil
	}
	c.mu.Unlock()

	c.fetchAndSetQuotes(gen, attempt)

	if rearm {
		c.mu.Lock()
		if gen == c.gen && c.timer == nil {
			c.timer = time.AfterFunc(c.cfg.QuotePollingInterval(), func() { c.poll(gen) })
		}
		c.mu.Unlock()
	}
	return true
}

func (c *Controller) poll(gen uint64) {
	limit := c.cfg.PollCountLimit

	c.mu.Lock()
	if gen != c.gen {
		c.mu.Unlock()
		return
	}
	c.pollCount++
	attempt := c.pollCount
	if attempt >= limit+1 {
		c.stopLocked(types.ErrQuotesExpired)
		c.mu.Unlock()
		return
	}
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	c.state.IsInPolling = true
	c.state.PollingCyclesLeft = limit - attempt
	c.publishLocked()
	c.mu.Unlock()
	imetrics.PollingCyclesLeft.Set(float64(limit - attempt))

	c.fetchAndSetQuotes(gen, attempt)

	c.mu.Lock()
	defer c.mu.Unlock()
	if gen != c.gen {
		return
	}
	c.timer = time.AfterFunc(c.cfg.QuotePollingInterval(), func() { c.poll(gen) })
}

type cycleResult struct {
	quotes      []types.Quote
	values      valuation.Result
	savings     types.Savings
	approval    *types.TxParams
	meta        types.FetchParamsMetaData
	lastFetched time.Time
}

func (c *Controller) fetchAndSetQuotes(gen uint64, attempt int) {
	c.cycleMu.Lock()
	defer c.cycleMu.Unlock()

	ctx, cancel := context.WithCancelCause(c.root)
	defer cancel(nil)

	c.mu.Lock()
	if gen != c.gen || c.state.FetchParams == nil {
		c.mu.Unlock()
		return
	}
	c.cancel = cancel
	params := *c.state.FetchParams
	meta := *c.state.FetchParamsMetaData
	custom := c.state.CustomGasPrice
	approval := c.state.ApprovalTransaction
	c.state.IsInFetch = true
	c.publishLocked()
	c.mu.Unlock()

	log := c.log.With(zap.String("cycle", uuid.NewString()), zap.Int("attempt", attempt))
	log.Debug("fetch cycle started", zap.String("src", params.SourceToken.Hex()), zap.String("dst", params.DestinationToken.Hex()))

	start := time.Now()
	res, err := c.runCycle(ctx, params, meta, custom, approval, attempt)
	imetrics.FetchLatency.Observe(time.Since(start).Seconds())

	if err != nil {
		c.mu.Lock()
		defer c.mu.Unlock()
		if gen != c.gen {
			imetrics.FetchCycles.WithLabelValues("discarded").Inc()
			log.Debug("superseded cycle failed", zap.Error(err), zap.NamedError("cause", context.Cause(ctx)))
			return
		}
		imetrics.FetchCycles.WithLabelValues("failed").Inc()
		log.Warn("fetch cycle failed", zap.Error(err))
		c.stopLocked(types.Classify(err))
		return
	}

	c.opMu.Lock()
	defer c.opMu.Unlock()
	c.mu.Lock()
	defer c.mu.Unlock()
	if gen != c.gen || !c.state.IsInPolling {
		imetrics.FetchCycles.WithLabelValues("discarded").Inc()
		log.Debug("discarding quotes of a stopped session")
		if gen == c.gen {
			c.state.IsInFetch = false
			c.cancel = nil
			c.publishLocked()
		}
		return
	}

	quotes := make(map[string]types.Quote, len(res.quotes))
	for _, q := range res.quotes {
		quotes[q.Aggregator] = q
	}
	c.state.Quotes = quotes
	c.state.QuoteValues = res.values.Values
	c.state.TopAggID = res.values.TopAggID
	c.state.TopAggSavings = &res.savings
	c.state.ApprovalTransaction = res.approval
	c.state.FetchParamsMetaData = &res.meta
	c.state.QuotesLastFetched = res.lastFetched
	c.state.IsInFetch = false
	c.cancel = nil
	c.publishLocked()

	imetrics.FetchCycles.WithLabelValues("committed").Inc()
	imetrics.QuotesReceived.Set(float64(len(quotes)))
	imetrics.TopSavingsEth.Set(res.savings.Total.InexactFloat64())
	log.Info("quotes updated",
		zap.Int("quotes", len(quotes)),
		zap.String("top", res.values.TopAggID),
		zap.String("savings_eth", res.savings.Total.String()))
}

func (c *Controller) runCycle(ctx context.Context, p types.FetchParams, meta types.FetchParamsMetaData,
	custom *decimal.Decimal, approval *types.TxParams, attempt int) (cycleResult, error) {
	quotes, err := c.deps.Quotes.FetchTrades(ctx, p)
	if err != nil {
		return cycleResult{}, fmt.Errorf("fetch quotes: %w", err)
	}
	if len(quotes) == 0 {
		return cycleResult{}, types.ErrQuotesNotAvailable
	}
	res := cycleResult{lastFetched: c.now(), meta: meta, approval: approval}

	if !types.IsNative(p.SourceToken) && attempt <= 1 {
		res.approval = nil
		bal, allowance, err := c.deps.Chain.BalanceAndAllowance(ctx, p.SourceToken, p.WalletAddress, c.contract)
		if err != nil {
			return cycleResult{}, fmt.Errorf("read allowance: %w", err)
		}
		res.meta.AccountBalance = bal.String()
		if decimal.NewFromBigInt(bal, 0).LessThan(p.SourceAmount) {
			c.log.Warn("wallet balance below source amount",
				zap.String("balance", bal.String()), zap.String("amount", p.SourceAmount.String()))
		}
		if allowance.Sign() == 0 {
			tx, err := c.approvalTx(ctx, quotes)
			if err != nil {
				return cycleResult{}, err
			}
			res.approval = tx
		}
	}

	res.quotes = c.deps.Gas.EstimateAll(ctx, quotes)
	if err := context.Cause(ctx); err != nil {
		return cycleResult{}, err
	}

	gasPrice, err := c.gasPrice(ctx, custom)
	if err != nil {
		return cycleResult{}, err
	}
	approvalGas := decimal.Zero
	if res.approval != nil {
		approvalGas = res.approval.Gas.Decimal
	}
	res.values, err = valuation.Evaluate(valuation.Input{
		Quotes:           res.quotes,
		GasPrice:         gasPrice,
		ApprovalGas:      approvalGas,
		DestinationToken: meta.DestinationTokenInfo,
		ConversionRate:   meta.DestinationTokenConversionRate,
		MaxGasLimit:      c.cfg.MaxGasLimit,
	})
	if err != nil {
		return cycleResult{}, fmt.Errorf("value quotes: %w", err)
	}
	res.savings, err = savings.Calculate(res.values.TopAggID, res.values.Values)
	if err != nil {
		return cycleResult{}, fmt.Errorf("calculate savings: %w", err)
	}
	return res, nil
}

// approvalTx takes the approve() call from the first quote offering one and
// prices its gas, falling back to the configured default.
func (c *Controller) approvalTx(ctx context.Context, quotes []types.Quote) (*types.TxParams, error) {
	var tx *types.TxParams
	for _, q := range quotes {
		if q.ApprovalNeeded != nil {
			a := *q.ApprovalNeeded
			tx = &a
			break
		}
	}
	if tx == nil {
		return nil, fmt.Errorf("allowance is zero and no quote carries an approval: %w", types.ErrFetchingQuotes)
	}
	if g, ok := c.deps.Gas.Estimate(ctx, &types.TxParams{From: tx.From, To: tx.To, Data: tx.Data}); ok {
		tx.Gas = types.NewQuantity(int64(g))
	} else {
		tx.Gas = types.Quantity{Decimal: c.approveGas}
	}
	return tx, nil
}

// gasPrice resolves the price in wei: custom, then the backend oracle, then
// the node.
func (c *Controller) gasPrice(ctx context.Context, custom *decimal.Decimal) (decimal.Decimal, error) {
	if custom != nil && custom.IsPositive() {
		return *custom, nil
	}
	if c.deps.GasPrices != nil {
		p, err := c.deps.GasPrices.ProposedGasPrice(ctx)
		if err == nil && p.IsPositive() {
			return p, nil
		}
		c.log.Debug("gas price oracle unavailable, asking the node", zap.Error(err))
	}
	p, err := c.deps.Chain.SuggestGasPrice(ctx)
	if err != nil {
		return decimal.Zero, fmt.Errorf("resolve gas price: %w", err)
	}
	return decimal.NewFromBigInt(p, 0), nil
}

// resolveMeta fills token descriptors the caller left out from the token
// cache, defaulting to 18 decimals.
func (c *Controller) resolveMeta(p types.FetchParams, meta *types.FetchParamsMetaData) types.FetchParamsMetaData {
	var m types.FetchParamsMetaData
	if meta != nil {
		m = *meta
	}
	c.mu.Lock()
	tokens := c.state.Tokens
	c.mu.Unlock()

	lookup := func(addr common.Address, have types.Token) types.Token {
		if have.Address == addr && have.Decimals > 0 {
			return have
		}
		if types.IsNative(addr) {
			return types.NativeTokenInfo
		}
		for _, t := range tokens {
			if t.Address == addr {
				return t
			}
		}
		return types.Token{Address: addr, Decimals: units.EthDecimals}
	}
	m.SourceTokenInfo = lookup(p.SourceToken, m.SourceTokenInfo)
	m.DestinationTokenInfo = lookup(p.DestinationToken, m.DestinationTokenInfo)
	return m
}
