package gas

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"testing"
	"time"

	ethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ApolloDevsGroup/okse-swaps-controller/internal/types"
)

// MockRPC answers EstimateGas per destination address. Hang blocks until
// the call's context is done.
type MockRPC struct {
	mu        sync.Mutex
	Gas       map[common.Address]uint64
	Fail      map[common.Address]bool
	Hang      map[common.Address]bool
	HeaderErr error
	Msgs      []ethereum.CallMsg
}

func (m *MockRPC) EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error) {
	m.mu.Lock()
	m.Msgs = append(m.Msgs, msg)
	hang, fail, g := m.Hang[*msg.To], m.Fail[*msg.To], m.Gas[*msg.To]
	m.mu.Unlock()
	if hang {
		<-ctx.Done()
		return 0, ctx.Err()
	}
	if fail {
		return 0, errors.New("execution reverted")
	}
	return g, nil
}

func (m *MockRPC) HeaderByNumber(context.Context, *big.Int) (*ethtypes.Header, error) {
	if m.HeaderErr != nil {
		return nil, m.HeaderErr
	}
	return &ethtypes.Header{GasLimit: 30_000_000}, nil
}

var (
	toA = common.HexToAddress("0xa")
	toB = common.HexToAddress("0xb")
	toC = common.HexToAddress("0xc")
)

func u64(v uint64) *uint64 { return &v }

func TestWithRefund(t *testing.T) {
	assert.Equal(t, uint64(80000), WithRefund(100000, 20000, u64(90000), 2_500_000))
	assert.Equal(t, uint64(70000), WithRefund(100000, 20000, u64(70000), 2_500_000))
	// missing estimate counts as zero
	assert.Equal(t, uint64(0), WithRefund(100000, 20000, nil, 2_500_000))
	// missing maxGas falls back to the ceiling
	assert.Equal(t, uint64(900000), WithRefund(0, 0, u64(900000), 2_500_000))
	// refund larger than maxGas floors at zero
	assert.Equal(t, uint64(0), WithRefund(1000, 5000, u64(10), 2_500_000))
}

func TestEstimate(t *testing.T) {
	rpc := &MockRPC{Gas: map[common.Address]uint64{toA: 46000}}
	e := NewEstimator(rpc, time.Second, 2_500_000, zap.NewNop())

	g, ok := e.Estimate(context.Background(), &types.TxParams{To: toA, Value: types.NewQuantity(5)})
	require.True(t, ok)
	assert.Equal(t, uint64(46000), g)
	require.Len(t, rpc.Msgs, 1)
	assert.Equal(t, uint64(30_000_000), rpc.Msgs[0].Gas)
	assert.Equal(t, int64(5), rpc.Msgs[0].Value.Int64())

	_, ok = e.Estimate(context.Background(), nil)
	assert.False(t, ok)
}

func TestEstimateErrorIsNoEstimate(t *testing.T) {
	rpc := &MockRPC{Fail: map[common.Address]bool{toA: true}}
	e := NewEstimator(rpc, time.Second, 2_500_000, zap.NewNop())
	_, ok := e.Estimate(context.Background(), &types.TxParams{To: toA})
	assert.False(t, ok)

	rpc = &MockRPC{HeaderErr: errors.New("no header")}
	e = NewEstimator(rpc, time.Second, 2_500_000, zap.NewNop())
	_, ok = e.Estimate(context.Background(), &types.TxParams{To: toA})
	assert.False(t, ok)
}

func TestEstimateHonoursDeadline(t *testing.T) {
	rpc := &MockRPC{Hang: map[common.Address]bool{toA: true}}
	deadline := 50 * time.Millisecond
	e := NewEstimator(rpc, deadline, 2_500_000, zap.NewNop())

	start := time.Now()
	_, ok := e.Estimate(context.Background(), &types.TxParams{To: toA})
	took := time.Since(start)

	assert.False(t, ok)
	assert.GreaterOrEqual(t, took, deadline)
	assert.Less(t, took, deadline+500*time.Millisecond)
}

func TestEstimateAll(t *testing.T) {
	rpc := &MockRPC{
		Gas:  map[common.Address]uint64{toA: 90000},
		Fail: map[common.Address]bool{toB: true},
		Hang: map[common.Address]bool{toC: true},
	}
	deadline := 80 * time.Millisecond
	e := NewEstimator(rpc, deadline, 2_500_000, zap.NewNop())

	in := []types.Quote{
		{Aggregator: "a", Trade: types.TxParams{To: toA}, MaxGas: 100000, EstimatedRefund: 20000},
		{Aggregator: "b", Trade: types.TxParams{To: toB}, MaxGas: 100000},
		{Aggregator: "c", Trade: types.TxParams{To: toC}, MaxGas: 100000},
	}
	start := time.Now()
	out := e.EstimateAll(context.Background(), in)
	took := time.Since(start)

	require.Len(t, out, 3)
	require.NotNil(t, out[0].GasEstimate)
	assert.Equal(t, uint64(90000), *out[0].GasEstimate)
	assert.Equal(t, uint64(80000), out[0].GasEstimateWithRefund)
	assert.Nil(t, out[1].GasEstimate)
	assert.Equal(t, uint64(0), out[1].GasEstimateWithRefund)
	assert.Nil(t, out[2].GasEstimate)

	// the hanging estimate does not serialize behind the others
	assert.Less(t, took, 2*deadline+500*time.Millisecond)
	// input untouched
	assert.Nil(t, in[0].GasEstimate)
}

func TestEstimateAllWithoutHeader(t *testing.T) {
	rpc := &MockRPC{Gas: map[common.Address]uint64{toA: 50000}, HeaderErr: errors.New("down")}
	e := NewEstimator(rpc, time.Second, 2_500_000, zap.NewNop())

	out := e.EstimateAll(context.Background(), []types.Quote{{Aggregator: "a", Trade: types.TxParams{To: toA}}})
	require.NotNil(t, out[0].GasEstimate)
	assert.Equal(t, uint64(0), rpc.Msgs[0].Gas)
}
