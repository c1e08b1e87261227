package swaps

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ApolloDevsGroup/okse-swaps-controller/internal/config"
	"github.com/ApolloDevsGroup/okse-swaps-controller/internal/connectors/bridge"
	"github.com/ApolloDevsGroup/okse-swaps-controller/internal/types"
)

var (
	dai    = common.HexToAddress("0x6b175474e89094c44da98b954eedeac495271d0f")
	wallet = common.HexToAddress("0x00000000000000000000000000000000000000aa")
	gwei   = decimal.New(1, 9)
)

type MockQuotes struct {
	mu    sync.Mutex
	calls int
	ctxs  []context.Context
	fn    func(ctx context.Context, p types.FetchParams) ([]types.Quote, error)
}

func (m *MockQuotes) FetchTrades(ctx context.Context, p types.FetchParams) ([]types.Quote, error) {
	m.mu.Lock()
	m.calls++
	m.ctxs = append(m.ctxs, ctx)
	fn := m.fn
	m.mu.Unlock()
	return fn(ctx, p)
}

func (m *MockQuotes) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

type MockTokens struct {
	mu     sync.Mutex
	calls  int
	tokens []types.Token
	err    error
}

func (m *MockTokens) FetchTokens(ctx context.Context) ([]types.Token, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	return m.tokens, m.err
}

type MockGasPricer struct {
	price decimal.Decimal
	err   error
}

func (m *MockGasPricer) ProposedGasPrice(ctx context.Context) (decimal.Decimal, error) {
	return m.price, m.err
}

type MockChain struct {
	balance   *big.Int
	allowance *big.Int
	err       error
	gasPrice  *big.Int
}

func (m *MockChain) BalanceAndAllowance(ctx context.Context, token, owner, spender common.Address) (*big.Int, *big.Int, error) {
	if m.err != nil {
		return nil, nil, m.err
	}
	return m.balance, m.allowance, nil
}

func (m *MockChain) SuggestGasPrice(ctx context.Context) (*big.Int, error) {
	if m.gasPrice == nil {
		return nil, errors.New("no price")
	}
	return m.gasPrice, nil
}

type MockGas struct {
	estimate uint64
	ok       bool
}

func (m *MockGas) Estimate(ctx context.Context, tx *types.TxParams) (uint64, bool) {
	return m.estimate, m.ok
}

func (m *MockGas) EstimateAll(ctx context.Context, quotes []types.Quote) []types.Quote {
	out := append([]types.Quote(nil), quotes...)
	for i := range out {
		g := out[i].AverageGas
		out[i].GasEstimate = &g
		out[i].GasEstimateWithRefund = g
	}
	return out
}

type MockBridge struct {
	tokens   []types.BridgeToken
	networks []types.BridgeNetwork
	create   bridge.Response[types.BridgeSwap]
	status   map[string]types.BridgeSwap
	found    []types.BridgeSwap
	calls    int
}

func (m *MockBridge) FetchTokens(ctx context.Context) ([]types.BridgeToken, error) {
	m.calls++
	return m.tokens, nil
}

func (m *MockBridge) FetchNetworks(ctx context.Context, symbol string) ([]types.BridgeNetwork, error) {
	return m.networks, nil
}

func (m *MockBridge) CreateSwap(ctx context.Context, req types.BridgeSwapRequest) (bridge.Response[types.BridgeSwap], error) {
	return m.create, nil
}

func (m *MockBridge) SwapStatus(ctx context.Context, id string) (types.BridgeSwap, error) {
	s, ok := m.status[id]
	if !ok {
		return types.BridgeSwap{}, errors.New("unknown swap")
	}
	return s, nil
}

func (m *MockBridge) FindSwaps(ctx context.Context, p types.BridgeFindParams) ([]types.BridgeSwap, error) {
	return m.found, nil
}

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (f *fakeClock) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.t
}

func (f *fakeClock) Advance(d time.Duration) {
	f.mu.Lock()
	f.t = f.t.Add(d)
	f.mu.Unlock()
}

func testCfg() config.SwapsCfg {
	cfg := config.Default().Swaps
	cfg.QuotePollingIntervalMs = 60 * 60 * 1000
	return cfg
}

func newController(t *testing.T, cfg config.SwapsCfg, deps Deps) *Controller {
	t.Helper()
	if deps.Chain == nil {
		deps.Chain = &MockChain{gasPrice: big.NewInt(1_000_000_000)}
	}
	if deps.Gas == nil {
		deps.Gas = &MockGas{}
	}
	if deps.GasPrices == nil {
		deps.GasPrices = &MockGasPricer{price: gwei.Mul(decimal.NewFromInt(10))}
	}
	c, err := New(cfg, deps, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(c.Close)
	return c
}

func quote(agg string, src common.Address, destAmount string) types.Quote {
	return types.Quote{
		Aggregator:        agg,
		SourceToken:       src,
		DestinationToken:  dai,
		SourceAmount:      types.NewQuantity(1_000_000_000_000_000_000),
		DestinationAmount: types.Quantity{Decimal: decimal.RequireFromString(destAmount)},
		AverageGas:        100_000,
		MaxGas:            150_000,
	}
}

func staticQuotes(quotes ...types.Quote) *MockQuotes {
	return &MockQuotes{fn: func(ctx context.Context, p types.FetchParams) ([]types.Quote, error) {
		return quotes, nil
	}}
}

func ethToDai(amount int64) *types.FetchParams {
	return &types.FetchParams{
		Slippage:         decimal.NewFromInt(3),
		SourceToken:      types.NativeToken,
		SourceAmount:     decimal.NewFromInt(amount),
		DestinationToken: dai,
		WalletAddress:    wallet,
	}
}

func eventually(t *testing.T, c *Controller, cond func(s types.State) bool, msg string) types.State {
	t.Helper()
	var last types.State
	require.Eventually(t, func() bool {
		last = c.State()
		return cond(last)
	}, 2*time.Second, 5*time.Millisecond, msg)
	return last
}

func TestNewValidates(t *testing.T) {
	_, err := New(testCfg(), Deps{}, zap.NewNop())
	assert.Error(t, err)

	cfg := testCfg()
	cfg.MetaSwapContractAddress = "nope"
	_, err = New(cfg, Deps{Quotes: staticQuotes(), Chain: &MockChain{}, Gas: &MockGas{}}, zap.NewNop())
	assert.Error(t, err)
}

func TestStartCommitsRankedQuotes(t *testing.T) {
	src := staticQuotes(
		quote("A", types.NativeToken, "1000000000000000000000"),
		quote("B", types.NativeToken, "1500000000000000000000"),
	)
	c := newController(t, testCfg(), Deps{Quotes: src})

	c.Start(ethToDai(1), nil, nil)
	s := eventually(t, c, func(s types.State) bool { return s.TopAggID != "" }, "quotes committed")

	assert.Equal(t, "B", s.TopAggID)
	assert.Len(t, s.Quotes, 2)
	assert.Len(t, s.QuoteValues, 2)
	assert.True(t, s.IsInPolling)
	assert.False(t, s.IsInFetch)
	assert.Equal(t, 2, s.PollingCyclesLeft)
	assert.False(t, s.QuotesLastFetched.IsZero())
	assert.Nil(t, s.ApprovalTransaction)
	require.NotNil(t, s.TopAggSavings)
	assert.Equal(t, 18, s.FetchParamsMetaData.DestinationTokenInfo.Decimals)
	assert.Empty(t, s.ErrorKey)
}

func TestStartIgnoresNilParams(t *testing.T) {
	src := staticQuotes(quote("A", types.NativeToken, "1"))
	c := newController(t, testCfg(), Deps{Quotes: src})

	c.Start(nil, nil, nil)
	time.Sleep(20 * time.Millisecond)
	assert.Zero(t, src.Calls())
	assert.False(t, c.State().IsInPolling)
}

func TestNoQuotesStopsPolling(t *testing.T) {
	c := newController(t, testCfg(), Deps{Quotes: staticQuotes()})

	c.Start(ethToDai(1), nil, nil)
	s := eventually(t, c, func(s types.State) bool { return s.ErrorKey != "" }, "polling stopped")

	assert.Equal(t, types.ErrQuotesNotAvailable, s.ErrorKey)
	assert.False(t, s.IsInPolling)
	assert.Nil(t, s.FetchParams)
	assert.Empty(t, s.Quotes)
}

func TestPollingExpiresAfterLimit(t *testing.T) {
	cfg := testCfg()
	cfg.PollCountLimit = 2
	cfg.QuotePollingIntervalMs = 10
	src := staticQuotes(quote("A", types.NativeToken, "1000"))
	c := newController(t, cfg, Deps{Quotes: src})

	c.Start(ethToDai(1), nil, nil)
	s := eventually(t, c, func(s types.State) bool { return s.ErrorKey != "" }, "quotes expired")

	assert.Equal(t, types.ErrQuotesExpired, s.ErrorKey)
	assert.Equal(t, 2, src.Calls())
	assert.Empty(t, s.TopAggID)
	assert.Equal(t, 2, s.PollingCyclesLeft)
}

func TestStopDiscardsInFlightCycle(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	src := &MockQuotes{fn: func(ctx context.Context, p types.FetchParams) ([]types.Quote, error) {
		close(started)
		select {
		case <-release:
			return []types.Quote{quote("A", types.NativeToken, "1000")}, nil
		case <-ctx.Done():
			return nil, context.Cause(ctx)
		}
	}}
	c := newController(t, testCfg(), Deps{Quotes: src})

	c.Start(ethToDai(1), nil, nil)
	<-started
	c.Stop("")
	close(release)

	time.Sleep(30 * time.Millisecond)
	s := c.State()
	assert.Empty(t, s.Quotes)
	assert.Empty(t, s.TopAggID)
	assert.Empty(t, s.ErrorKey)
	assert.False(t, s.IsInPolling)
	assert.False(t, s.IsInFetch)
}

func TestStopDropsCycleThatSucceedsLate(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	// ignores ctx: the backend answers after Stop anyway
	src := &MockQuotes{fn: func(ctx context.Context, p types.FetchParams) ([]types.Quote, error) {
		close(started)
		<-release
		return []types.Quote{quote("A", types.NativeToken, "1000")}, nil
	}}
	c := newController(t, testCfg(), Deps{Quotes: src})

	c.Start(ethToDai(1), nil, nil)
	<-started
	c.Stop("")
	close(release)

	// wait for the cycle to finish
	c.cycleMu.Lock()
	c.cycleMu.Unlock()

	s := c.State()
	assert.Empty(t, s.Quotes)
	assert.Empty(t, s.QuoteValues)
	assert.Empty(t, s.TopAggID)
	assert.Nil(t, s.TopAggSavings)
	assert.False(t, s.IsInFetch)
	assert.False(t, s.IsInPolling)
	assert.Nil(t, s.FetchParams)
}

func TestDiscardedRefetchClearsFetchFlag(t *testing.T) {
	src := staticQuotes(quote("A", types.NativeToken, "1000"))
	c := newController(t, testCfg(), Deps{Quotes: src})

	// params set, poll loop not yet running
	p := ethToDai(1)
	m := c.resolveMeta(*p, nil)
	c.mu.Lock()
	c.state.FetchParams = p
	c.state.FetchParamsMetaData = &m
	c.mu.Unlock()

	require.True(t, c.SafeRefetchQuotes())
	s := c.State()
	assert.False(t, s.IsInFetch)
	assert.Empty(t, s.Quotes)
	c.mu.Lock()
	assert.Nil(t, c.cancel)
	c.mu.Unlock()

	assert.True(t, c.SafeRefetchQuotes())
	assert.Equal(t, 2, src.Calls())
}

func TestStartClearsPreviousQuotes(t *testing.T) {
	block := make(chan struct{})
	defer close(block)
	src := &MockQuotes{fn: func(ctx context.Context, p types.FetchParams) ([]types.Quote, error) {
		if p.SourceAmount.Equal(decimal.NewFromInt(2)) {
			select {
			case <-block:
			case <-ctx.Done():
			}
			return nil, context.Cause(ctx)
		}
		return []types.Quote{quote("A", types.NativeToken, "1000")}, nil
	}}
	c := newController(t, testCfg(), Deps{Quotes: src})

	c.Start(ethToDai(1), nil, nil)
	eventually(t, c, func(s types.State) bool { return s.TopAggID == "A" }, "first session committed")

	c.Start(ethToDai(2), nil, nil)
	s := c.State()
	assert.True(t, s.FetchParams.SourceAmount.Equal(decimal.NewFromInt(2)))
	assert.Empty(t, s.Quotes)
	assert.Empty(t, s.QuoteValues)
	assert.Empty(t, s.TopAggID)
	assert.Nil(t, s.TopAggSavings)
	assert.True(t, s.QuotesLastFetched.IsZero())
}

func TestStartSupersedesRunningCycle(t *testing.T) {
	first := make(chan struct{})
	src := &MockQuotes{fn: func(ctx context.Context, p types.FetchParams) ([]types.Quote, error) {
		if p.SourceAmount.Equal(decimal.NewFromInt(1)) {
			close(first)
			<-ctx.Done()
			return nil, context.Cause(ctx)
		}
		return []types.Quote{quote("B", types.NativeToken, "2000")}, nil
	}}
	c := newController(t, testCfg(), Deps{Quotes: src})

	c.Start(ethToDai(1), nil, nil)
	<-first
	c.Start(ethToDai(2), nil, nil)

	s := eventually(t, c, func(s types.State) bool { return s.TopAggID == "B" }, "second session committed")
	assert.Empty(t, s.ErrorKey)
	assert.True(t, s.FetchParams.SourceAmount.Equal(decimal.NewFromInt(2)))

	src.mu.Lock()
	cause := context.Cause(src.ctxs[0])
	src.mu.Unlock()
	assert.ErrorIs(t, cause, types.ErrFetchOrderConflict)
}

func TestApprovalUsesDefaultGasWhenEstimateFails(t *testing.T) {
	q := quote("A", dai, "1000")
	q.ApprovalNeeded = &types.TxParams{From: wallet, To: dai, Data: []byte{0x09, 0x5e, 0xa7, 0xb3}}
	chain := &MockChain{balance: big.NewInt(5), allowance: big.NewInt(0), gasPrice: big.NewInt(1)}
	c := newController(t, testCfg(), Deps{Quotes: staticQuotes(q), Chain: chain})

	p := ethToDai(1)
	p.SourceToken = dai
	c.Start(p, nil, nil)
	s := eventually(t, c, func(s types.State) bool { return s.TopAggID != "" }, "quotes committed")

	require.NotNil(t, s.ApprovalTransaction)
	assert.Equal(t, "120000", s.ApprovalTransaction.Gas.String())
	assert.Equal(t, "5", s.FetchParamsMetaData.AccountBalance)
}

func TestApprovalUsesEstimate(t *testing.T) {
	q := quote("A", dai, "1000")
	q.ApprovalNeeded = &types.TxParams{From: wallet, To: dai}
	chain := &MockChain{balance: big.NewInt(5), allowance: big.NewInt(0), gasPrice: big.NewInt(1)}
	c := newController(t, testCfg(), Deps{Quotes: staticQuotes(q), Chain: chain, Gas: &MockGas{estimate: 46_000, ok: true}})

	p := ethToDai(1)
	p.SourceToken = dai
	c.Start(p, nil, nil)
	s := eventually(t, c, func(s types.State) bool { return s.TopAggID != "" }, "quotes committed")

	require.NotNil(t, s.ApprovalTransaction)
	assert.Equal(t, "46000", s.ApprovalTransaction.Gas.String())
}

func TestZeroAllowanceWithoutApprovalFails(t *testing.T) {
	chain := &MockChain{balance: big.NewInt(5), allowance: big.NewInt(0)}
	c := newController(t, testCfg(), Deps{Quotes: staticQuotes(quote("A", dai, "1000")), Chain: chain})

	p := ethToDai(1)
	p.SourceToken = dai
	c.Start(p, nil, nil)
	s := eventually(t, c, func(s types.State) bool { return s.ErrorKey != "" }, "polling stopped")
	assert.Equal(t, types.ErrFetchingQuotes, s.ErrorKey)
}

func TestChainFailureIsClassified(t *testing.T) {
	chain := &MockChain{err: errors.New("rpc down")}
	c := newController(t, testCfg(), Deps{Quotes: staticQuotes(quote("A", dai, "1000")), Chain: chain})

	p := ethToDai(1)
	p.SourceToken = dai
	c.Start(p, nil, nil)
	s := eventually(t, c, func(s types.State) bool { return s.ErrorKey != "" }, "polling stopped")
	assert.Equal(t, types.ErrFetchingQuotes, s.ErrorKey)
}

func TestSafeRefetchQuotes(t *testing.T) {
	src := staticQuotes(quote("A", types.NativeToken, "1000"))
	c := newController(t, testCfg(), Deps{Quotes: src})

	assert.False(t, c.SafeRefetchQuotes())

	c.Start(ethToDai(1), nil, nil)
	eventually(t, c, func(s types.State) bool { return s.TopAggID != "" }, "quotes committed")

	assert.True(t, c.SafeRefetchQuotes())
	assert.Equal(t, 2, src.Calls())
	s := c.State()
	assert.Equal(t, 2, s.PollingCyclesLeft)
	assert.True(t, s.IsInPolling)
}

func TestGasPriceResolution(t *testing.T) {
	chain := &MockChain{gasPrice: big.NewInt(7)}
	pricer := &MockGasPricer{price: decimal.NewFromInt(5)}
	c := newController(t, testCfg(), Deps{Quotes: staticQuotes(), Chain: chain, GasPrices: pricer})
	ctx := context.Background()

	custom := decimal.NewFromInt(3)
	p, err := c.gasPrice(ctx, &custom)
	require.NoError(t, err)
	assert.Equal(t, "3", p.String())

	p, err = c.gasPrice(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, "5", p.String())

	pricer.err = errors.New("503")
	p, err = c.gasPrice(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, "7", p.String())

	chain.gasPrice = nil
	_, err = c.gasPrice(ctx, nil)
	assert.Error(t, err)
}

func TestResolveMetaUsesTokenCache(t *testing.T) {
	usdc := types.Token{Address: common.HexToAddress("0xa0b86991c6218b36c1d19d4a2e9eb0ce3606eb48"), Symbol: "USDC", Decimals: 6}
	tokens := &MockTokens{tokens: []types.Token{usdc}}
	c := newController(t, testCfg(), Deps{Quotes: staticQuotes(), Tokens: tokens})
	require.NoError(t, c.RefreshTokenCache(context.Background()))

	m := c.resolveMeta(types.FetchParams{SourceToken: types.NativeToken, DestinationToken: usdc.Address}, nil)
	assert.Equal(t, types.NativeTokenInfo, m.SourceTokenInfo)
	assert.Equal(t, 6, m.DestinationTokenInfo.Decimals)

	m = c.resolveMeta(types.FetchParams{DestinationToken: dai}, nil)
	assert.Equal(t, 18, m.DestinationTokenInfo.Decimals)
}

func TestRefreshTokenCacheHonorsThreshold(t *testing.T) {
	clock := &fakeClock{t: time.Unix(1_700_000_000, 0)}
	tokens := &MockTokens{tokens: []types.Token{{Address: dai, Symbol: "DAI", Decimals: 18}}}
	c := newController(t, testCfg(), Deps{Quotes: staticQuotes(), Tokens: tokens})
	c.now = clock.Now
	ctx := context.Background()

	require.NoError(t, c.RefreshTokenCache(ctx))
	require.NoError(t, c.RefreshTokenCache(ctx))
	assert.Equal(t, 1, tokens.calls)

	clock.Advance(25 * time.Hour)
	require.NoError(t, c.RefreshTokenCache(ctx))
	assert.Equal(t, 2, tokens.calls)
	assert.Equal(t, clock.Now(), c.State().TokensLastFetched)

	tokens.err = errors.New("timeout")
	clock.Advance(25 * time.Hour)
	assert.Error(t, c.RefreshTokenCache(ctx))
	assert.Len(t, c.State().Tokens, 1)
}

func TestRefreshTokenCacheSerializesRefills(t *testing.T) {
	tokens := &MockTokens{tokens: []types.Token{{Address: dai}}}
	c := newController(t, testCfg(), Deps{Quotes: staticQuotes(), Tokens: tokens})

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, c.RefreshTokenCache(context.Background()))
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, tokens.calls)
}

func TestStopKeepsTokenCaches(t *testing.T) {
	tokens := &MockTokens{tokens: []types.Token{{Address: dai}}}
	c := newController(t, testCfg(), Deps{Quotes: staticQuotes(quote("A", types.NativeToken, "1")), Tokens: tokens})
	require.NoError(t, c.RefreshTokenCache(context.Background()))

	c.Start(ethToDai(1), nil, nil)
	eventually(t, c, func(s types.State) bool { return s.TopAggID != "" }, "quotes committed")
	c.Stop(types.ErrSwapFailed)

	s := c.State()
	assert.Equal(t, types.ErrSwapFailed, s.ErrorKey)
	assert.Len(t, s.Tokens, 1)
	assert.Empty(t, s.Quotes)
	assert.Nil(t, s.FetchParams)
	assert.Equal(t, 3, s.PollingCyclesLeft)
}

func intp(v int) *int { return &v }

func TestRefreshBridgeTokenCacheFilters(t *testing.T) {
	br := &MockBridge{tokens: []types.BridgeToken{
		{Symbol: "OK", Enabled: true, BscContractDecimal: intp(18), EthContractDecimal: intp(18)},
		{Symbol: "OFF", Enabled: false, BscContractDecimal: intp(18), EthContractDecimal: intp(18)},
		{Symbol: "HALF", Enabled: true, BscContractDecimal: intp(18)},
		{Symbol: "ZERO", Enabled: true, BscContractDecimal: intp(0), EthContractDecimal: intp(18)},
	}}
	c := newController(t, testCfg(), Deps{Quotes: staticQuotes(), Bridge: br})
	ctx := context.Background()

	require.NoError(t, c.RefreshBridgeTokenCache(ctx))
	require.NoError(t, c.RefreshBridgeTokenCache(ctx))
	assert.Equal(t, 1, br.calls)

	s := c.State()
	require.Len(t, s.BridgeTokens, 1)
	assert.Equal(t, "OK", s.BridgeTokens[0].Symbol)
}

func TestBridgeRequestLifecycle(t *testing.T) {
	br := &MockBridge{
		create: bridge.Response[types.BridgeSwap]{Code: bridge.CodeOK, Data: types.BridgeSwap{ID: "s1", Status: "WaitingForDeposit"}},
		status: map[string]types.BridgeSwap{},
	}
	c := newController(t, testCfg(), Deps{Quotes: staticQuotes(), Bridge: br})
	ctx := context.Background()

	swap, err := c.CreateBridgeRequest(ctx, types.BridgeSwapRequest{Symbol: "USDT"})
	require.NoError(t, err)
	assert.Equal(t, "s1", swap.ID)
	assert.Contains(t, c.State().BridgeStatus, "s1")

	br.status["s1"] = types.BridgeSwap{ID: "s1", Status: "DepositInProgress"}
	_, err = c.PollBridgeStatus(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, "DepositInProgress", c.State().BridgeStatus["s1"].Status)

	br.status["s1"] = types.BridgeSwap{ID: "s1", Status: types.BridgeStatusCompleted}
	_, err = c.PollBridgeStatus(ctx, "s1")
	require.NoError(t, err)
	assert.NotContains(t, c.State().BridgeStatus, "s1")

	_, err = c.PollBridgeStatus(ctx, "missing")
	assert.Error(t, err)
}

func TestCreateBridgeRequestRejectsErrorCode(t *testing.T) {
	br := &MockBridge{create: bridge.Response[types.BridgeSwap]{Code: 40001, Message: "amount too small", Data: types.BridgeSwap{ID: "x"}}}
	c := newController(t, testCfg(), Deps{Quotes: staticQuotes(), Bridge: br})

	_, err := c.CreateBridgeRequest(context.Background(), types.BridgeSwapRequest{})
	var apiErr *bridge.APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, 40001, apiErr.Code)
	assert.Empty(t, c.State().BridgeStatus)
}

func TestFetchBridgeNetworksDropsBNB(t *testing.T) {
	br := &MockBridge{networks: []types.BridgeNetwork{{Name: "BSC"}, {Name: "BNB"}, {Name: "ETH"}}}
	c := newController(t, testCfg(), Deps{Quotes: staticQuotes(), Bridge: br})

	nets, err := c.FetchBridgeNetworks(context.Background(), "USDT")
	require.NoError(t, err)
	require.Len(t, nets, 2)
	assert.Equal(t, "BSC", nets[0].Name)
	assert.Equal(t, "ETH", nets[1].Name)
	assert.Len(t, c.State().BridgeNetworks, 2)
}

func TestBridgeDisabled(t *testing.T) {
	c := newController(t, testCfg(), Deps{Quotes: staticQuotes()})
	ctx := context.Background()

	assert.ErrorIs(t, c.RefreshBridgeTokenCache(ctx), ErrBridgeDisabled)
	_, err := c.CreateBridgeRequest(ctx, types.BridgeSwapRequest{})
	assert.ErrorIs(t, err, ErrBridgeDisabled)
	_, err = c.PollBridgeStatus(ctx, "s1")
	assert.ErrorIs(t, err, ErrBridgeDisabled)
	_, err = c.FindBridgeSwaps(ctx, types.BridgeFindParams{})
	assert.ErrorIs(t, err, ErrBridgeDisabled)
}

func TestSubscribeReceivesLatestSnapshot(t *testing.T) {
	c := newController(t, testCfg(), Deps{Quotes: staticQuotes(quote("A", types.NativeToken, "1000"))})
	ch, unsubscribe := c.Subscribe(1)

	c.Start(ethToDai(1), nil, nil)
	eventually(t, c, func(s types.State) bool { return s.TopAggID != "" }, "quotes committed")

	select {
	case s := <-ch:
		assert.Equal(t, "A", s.TopAggID)
	case <-time.After(time.Second):
		t.Fatal("no snapshot delivered")
	}

	unsubscribe()
	unsubscribe()
	_, open := <-ch
	assert.False(t, open)
}
