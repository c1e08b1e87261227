// Package multicall batches read-only contract calls through Multicall
// aggregate(), so several views are read against the same block.
package multicall

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"

	ethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
)

const multicallABI = `[{
  "constant": false,
  "inputs": [{"components":[{"name":"target","type":"address"},{"name":"callData","type":"bytes"}],"name":"calls","type":"tuple[]"}],
  "name": "aggregate",
  "outputs": [{"name":"blockNumber","type":"uint256"},{"name":"returnData","type":"bytes[]"}],
  "payable": false,
  "stateMutability": "nonpayable",
  "type": "function"
}]`

// ErrNoAddress is returned when no multicall contract is configured.
var ErrNoAddress = errors.New("multicall address not configured")

// Caller is the part of ethclient.Client the batcher needs.
type Caller interface {
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
}

// IClient is what consumers depend on, so tests can swap in a fake batcher.
type IClient interface {
	Aggregate(ctx context.Context, calls []Call) (*Batch, error)
}

type Client struct {
	c    Caller
	addr common.Address
	abi  abi.ABI
}

func New(c Caller, multicallAddr common.Address) (*Client, error) {
	if multicallAddr == (common.Address{}) {
		return nil, ErrNoAddress
	}
	parsedABI, err := abi.JSON(strings.NewReader(multicallABI))
	if err != nil {
		return nil, fmt.Errorf("bad abi: %w", err)
	}
	return &Client{c: c, addr: multicallAddr, abi: parsedABI}, nil
}

type Call struct {
	Target   common.Address
	CallData []byte
}

type Result struct {
	Success bool
	Data    []byte
}

// Batch is the decoded aggregate() output.
type Batch struct {
	BlockNumber *big.Int
	Results     []Result
}

func (c *Client) Aggregate(ctx context.Context, calls []Call) (*Batch, error) {
	if len(calls) == 0 {
		return &Batch{BlockNumber: new(big.Int)}, nil
	}
	payload, err := c.abi.Pack("aggregate", calls)
	if err != nil {
		return nil, fmt.Errorf("pack aggregate: %w", err)
	}

	res, err := c.c.CallContract(ctx, ethereum.CallMsg{To: &c.addr, Data: payload}, nil)
	if err != nil {
		return nil, fmt.Errorf("call aggregate: %w", err)
	}

	var out struct {
		BlockNumber *big.Int
		ReturnData  [][]byte
	}
	if err := c.abi.UnpackIntoInterface(&out, "aggregate", res); err != nil {
		return nil, fmt.Errorf("unpack aggregate: %w", err)
	}
	if len(out.ReturnData) != len(calls) {
		return nil, fmt.Errorf("aggregate returned %d results for %d calls", len(out.ReturnData), len(calls))
	}

	b := &Batch{BlockNumber: out.BlockNumber, Results: make([]Result, len(calls))}
	for i, r := range out.ReturnData {
		b.Results[i] = Result{Success: len(r) > 0, Data: r}
	}
	return b, nil
}

// PackOutput encodes an aggregate() return value. Used by fakes in tests of
// consumers that need a realistic payload.
func PackOutput(block *big.Int, returnData [][]byte) ([]byte, error) {
	parsedABI, err := abi.JSON(strings.NewReader(multicallABI))
	if err != nil {
		return nil, err
	}
	return parsedABI.Methods["aggregate"].Outputs.Pack(block, returnData)
}
