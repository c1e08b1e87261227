// Package gas estimates trade gas against the node under a deadline.
package gas

import (
	"context"
	"fmt"
	"math/big"
	"sync"
	"time"

	ethereum "github.com/ethereum/go-ethereum"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"go.uber.org/zap"

	imetrics "github.com/ApolloDevsGroup/okse-swaps-controller/internal/metrics"
	"github.com/ApolloDevsGroup/okse-swaps-controller/internal/types"
	"github.com/ApolloDevsGroup/okse-swaps-controller/internal/units"
)

// RPC is the node surface the estimator needs.
type RPC interface {
	EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error)
	HeaderByNumber(ctx context.Context, number *big.Int) (*ethtypes.Header, error)
}

type Estimator struct {
	rpc         RPC
	timeout     time.Duration
	maxGasLimit uint64
	log         *zap.Logger
}

// NewEstimator: timeout bounds every single estimate, maxGasLimit stands in
// for a quote's missing maxGas.
func NewEstimator(rpc RPC, timeout time.Duration, maxGasLimit uint64, log *zap.Logger) *Estimator {
	return &Estimator{rpc: rpc, timeout: timeout, maxGasLimit: maxGasLimit, log: log}
}

// WithRefund is min(maxGas-refund, estimated). A zero maxGas means ceiling,
// a nil estimate means zero, and the difference never goes below zero.
func WithRefund(maxGas, refund uint64, estimated *uint64, ceiling uint64) uint64 {
	if maxGas == 0 {
		maxGas = ceiling
	}
	var net uint64
	if maxGas > refund {
		net = maxGas - refund
	}
	var est uint64
	if estimated != nil {
		est = *estimated
	}
	if net < est {
		return net
	}
	return est
}

func (e *Estimator) WithRefund(maxGas, refund uint64, estimated *uint64) uint64 {
	return WithRefund(maxGas, refund, estimated, e.maxGasLimit)
}

// Estimate races the node against the deadline. ok is false on timeout, RPC
// error or a nil tx; none of those are errors for the caller.
func (e *Estimator) Estimate(ctx context.Context, tx *types.TxParams) (gas uint64, ok bool) {
	if tx == nil {
		return 0, false
	}
	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()
	return e.race(ctx, func(ctx context.Context) (uint64, error) {
		limit, err := e.blockGasLimit(ctx)
		if err != nil {
			return 0, err
		}
		return e.rpc.EstimateGas(ctx, callMsg(tx, limit))
	})
}

// EstimateAll estimates every quote's trade concurrently and waits for all
// of them. The returned slice is a copy with GasEstimate and
// GasEstimateWithRefund filled in.
func (e *Estimator) EstimateAll(ctx context.Context, quotes []types.Quote) []types.Quote {
	limitCtx, cancel := context.WithTimeout(ctx, e.timeout)
	limit, err := e.blockGasLimit(limitCtx)
	cancel()
	if err != nil {
		e.log.Debug("latest block unavailable, estimating without cap", zap.Error(err))
		limit = 0
	}

	out := make([]types.Quote, len(quotes))
	copy(out, quotes)

	var wg sync.WaitGroup
	for i := range out {
		wg.Add(1)
		go func(q *types.Quote) {
			defer wg.Done()
			qctx, cancel := context.WithTimeout(ctx, e.timeout)
			defer cancel()
			tx := q.Trade
			g, ok := e.race(qctx, func(ctx context.Context) (uint64, error) {
				return e.rpc.EstimateGas(ctx, callMsg(&tx, limit))
			})
			q.GasEstimate = nil
			if ok {
				g := g
				q.GasEstimate = &g
			} else {
				e.log.Debug("no gas estimate", zap.String("aggregator", q.Aggregator))
			}
			q.GasEstimateWithRefund = e.WithRefund(q.MaxGas, q.EstimatedRefund, q.GasEstimate)
		}(&out[i])
	}
	wg.Wait()
	return out
}

func (e *Estimator) race(ctx context.Context, call func(context.Context) (uint64, error)) (uint64, bool) {
	type res struct {
		gas uint64
		err error
	}
	ch := make(chan res, 1)
	go func() {
		g, err := call(ctx)
		ch <- res{g, err}
	}()

	select {
	case r := <-ch:
		if r.err != nil {
			imetrics.GasEstimates.WithLabelValues("error").Inc()
			e.log.Debug("estimate gas failed", zap.Error(r.err))
			return 0, false
		}
		imetrics.GasEstimates.WithLabelValues("ok").Inc()
		return r.gas, true
	case <-ctx.Done():
		imetrics.GasEstimates.WithLabelValues("timeout").Inc()
		return 0, false
	}
}

func (e *Estimator) blockGasLimit(ctx context.Context) (uint64, error) {
	h, err := e.rpc.HeaderByNumber(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("latest header: %w", err)
	}
	if h == nil {
		return 0, fmt.Errorf("latest header: empty")
	}
	return h.GasLimit, nil
}

// callMsg drops the quoted gas so the node estimates from scratch, capped at
// the block gas limit when known.
func callMsg(tx *types.TxParams, blockGasLimit uint64) ethereum.CallMsg {
	to := tx.To
	return ethereum.CallMsg{
		From:  tx.From,
		To:    &to,
		Gas:   blockGasLimit,
		Value: units.BigInt(tx.Value.Decimal),
		Data:  tx.Data,
	}
}
