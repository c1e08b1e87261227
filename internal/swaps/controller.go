// Package swaps drives the quote polling state machine: fetch quotes,
// estimate gas, value and rank them, and publish the resulting state.
package swaps

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/ApolloDevsGroup/okse-swaps-controller/internal/config"
	"github.com/ApolloDevsGroup/okse-swaps-controller/internal/connectors/bridge"
	"github.com/ApolloDevsGroup/okse-swaps-controller/internal/types"
	"github.com/ApolloDevsGroup/okse-swaps-controller/internal/units"
)

// QuoteSource returns the current quotes for a trade.
type QuoteSource interface {
	FetchTrades(ctx context.Context, p types.FetchParams) ([]types.Quote, error)
}

type TokenSource interface {
	FetchTokens(ctx context.Context) ([]types.Token, error)
}

// GasPricer is the backend gas price oracle, in wei.
type GasPricer interface {
	ProposedGasPrice(ctx context.Context) (decimal.Decimal, error)
}

type Chain interface {
	BalanceAndAllowance(ctx context.Context, token, owner, spender common.Address) (balance, allowance *big.Int, err error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
}

type GasEstimator interface {
	Estimate(ctx context.Context, tx *types.TxParams) (uint64, bool)
	EstimateAll(ctx context.Context, quotes []types.Quote) []types.Quote
}

type Bridge interface {
	FetchTokens(ctx context.Context) ([]types.BridgeToken, error)
	FetchNetworks(ctx context.Context, symbol string) ([]types.BridgeNetwork, error)
	CreateSwap(ctx context.Context, req types.BridgeSwapRequest) (bridge.Response[types.BridgeSwap], error)
	SwapStatus(ctx context.Context, id string) (types.BridgeSwap, error)
	FindSwaps(ctx context.Context, p types.BridgeFindParams) ([]types.BridgeSwap, error)
}

// Deps are the collaborators of a Controller. GasPrices and Bridge are
// optional.
type Deps struct {
	Quotes    QuoteSource
	Tokens    TokenSource
	GasPrices GasPricer
	Chain     Chain
	Gas       GasEstimator
	Bridge    Bridge
}

var ErrBridgeDisabled = errors.New("bridge client not configured")

type Controller struct {
	cfg        config.SwapsCfg
	deps       Deps
	log        *zap.Logger
	contract   common.Address
	approveGas decimal.Decimal
	now        func() time.Time

	root     context.Context
	shutdown context.CancelFunc

	// opMu serializes cache refills, bridge operations and quote commits.
	opMu sync.Mutex
	// cycleMu keeps at most one fetch cycle running.
	cycleMu sync.Mutex

	// mu guards everything below.
	mu        sync.Mutex
	state     types.State
	pollCount int
	gen       uint64
	timer     *time.Timer
	cancel    context.CancelCauseFunc
	subs      map[int]chan types.State
	nextSub   int
}

func New(cfg config.SwapsCfg, deps Deps, log *zap.Logger) (*Controller, error) {
	if deps.Quotes == nil || deps.Chain == nil || deps.Gas == nil {
		return nil, errors.New("swaps: quotes, chain and gas dependencies are required")
	}
	if !common.IsHexAddress(cfg.MetaSwapContractAddress) {
		return nil, errors.New("swaps: invalid metaswap contract address")
	}
	approveGas, err := units.ParseQuantity(cfg.DefaultApproveGas)
	if err != nil {
		return nil, err
	}
	root, shutdown := context.WithCancel(context.Background())
	return &Controller{
		cfg:        cfg,
		deps:       deps,
		log:        log,
		contract:   common.HexToAddress(cfg.MetaSwapContractAddress),
		approveGas: approveGas,
		now:        time.Now,
		root:       root,
		shutdown:   shutdown,
		state:      types.DefaultState(cfg.PollCountLimit),
		subs:       map[int]chan types.State{},
	}, nil
}

// State returns a copy of the current snapshot.
func (c *Controller) State() types.State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state.Clone()
}

// Subscribe returns a channel receiving a snapshot after every state change.
// A slow reader only loses intermediate snapshots, never the latest one.
func (c *Controller) Subscribe(buf int) (<-chan types.State, func()) {
	if buf < 1 {
		buf = 1
	}
	ch := make(chan types.State, buf)
	c.mu.Lock()
	id := c.nextSub
	c.nextSub++
	c.subs[id] = ch
	c.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			c.mu.Lock()
			delete(c.subs, id)
			c.mu.Unlock()
			close(ch)
		})
	}
}

// Close stops polling and aborts any network call still running.
func (c *Controller) Close() {
	c.Stop("")
	c.shutdown()
}

// update applies fn to the state and notifies subscribers.
func (c *Controller) update(fn func(s *types.State)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fn(&c.state)
	c.publishLocked()
}

func (c *Controller) publishLocked() {
	if len(c.subs) == 0 {
		return
	}
	snap := c.state.Clone()
	for _, ch := range c.subs {
		select {
		case ch <- snap:
		default:
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- snap:
			default:
			}
		}
	}
}
