// Package chain wraps the JSON-RPC node: ERC20 views, gas estimation,
// the latest header and the node's gas price suggestion.
package chain

import (
	"context"
	"fmt"
	"math/big"

	ethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"go.uber.org/zap"

	"github.com/ApolloDevsGroup/okse-swaps-controller/internal/multicall"
)

// Backend is the subset of ethclient.Client used here.
type Backend interface {
	Caller
	EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error)
	HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	BalanceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (*big.Int, error)
}

type Client struct {
	b   Backend
	mc  multicall.IClient
	log *zap.Logger
}

// New wires a backend. mc may be nil, then batched reads fall back to
// one eth_call per view.
func New(b Backend, mc multicall.IClient, log *zap.Logger) *Client {
	return &Client{b: b, mc: mc, log: log}
}

// Dial connects to rpcURL. An empty multicallAddr disables batching.
func Dial(ctx context.Context, rpcURL, multicallAddr string, log *zap.Logger) (*Client, func(), error) {
	ec, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, nil, fmt.Errorf("dial rpc: %w", err)
	}
	var mc multicall.IClient
	if multicallAddr != "" {
		m, err := multicall.New(ec, common.HexToAddress(multicallAddr))
		if err != nil {
			ec.Close()
			return nil, nil, fmt.Errorf("init multicall: %w", err)
		}
		mc = m
	}
	return New(ec, mc, log), ec.Close, nil
}

func (c *Client) EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error) {
	return c.b.EstimateGas(ctx, msg)
}

func (c *Client) HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error) {
	return c.b.HeaderByNumber(ctx, number)
}

func (c *Client) SuggestGasPrice(ctx context.Context) (*big.Int, error) {
	p, err := c.b.SuggestGasPrice(ctx)
	if err != nil {
		return nil, fmt.Errorf("suggest gas price: %w", err)
	}
	return p, nil
}

func (c *Client) Allowance(ctx context.Context, token, owner, spender common.Address) (*big.Int, error) {
	return Allowance(ctx, c.b, token, owner, spender)
}

// TokenDecimals reads the ERC20 decimals of token.
func (c *Client) TokenDecimals(ctx context.Context, token common.Address) (int, error) {
	return Decimals(ctx, c.b, token)
}

// BalanceAndAllowance reads owner's token balance and its allowance for
// spender. With multicall both come from the same block.
func (c *Client) BalanceAndAllowance(ctx context.Context, token, owner, spender common.Address) (*big.Int, *big.Int, error) {
	if c.mc == nil {
		bal, err := BalanceOf(ctx, c.b, token, owner)
		if err != nil {
			return nil, nil, err
		}
		allow, err := Allowance(ctx, c.b, token, owner, spender)
		if err != nil {
			return nil, nil, err
		}
		return bal, allow, nil
	}

	balData, err := PackBalanceOf(owner)
	if err != nil {
		return nil, nil, fmt.Errorf("pack balanceOf: %w", err)
	}
	allowData, err := PackAllowance(owner, spender)
	if err != nil {
		return nil, nil, fmt.Errorf("pack allowance: %w", err)
	}
	batch, err := c.mc.Aggregate(ctx, []multicall.Call{
		{Target: token, CallData: balData},
		{Target: token, CallData: allowData},
	})
	if err != nil {
		return nil, nil, err
	}
	if len(batch.Results) != 2 || !batch.Results[0].Success || !batch.Results[1].Success {
		return nil, nil, fmt.Errorf("multicall: token %s reverted", token.Hex())
	}
	bal, err := UnpackUint256("balanceOf", batch.Results[0].Data)
	if err != nil {
		return nil, nil, err
	}
	allow, err := UnpackUint256("allowance", batch.Results[1].Data)
	if err != nil {
		return nil, nil, err
	}
	c.log.Debug("balance and allowance",
		zap.String("token", token.Hex()),
		zap.String("balance", bal.String()),
		zap.String("allowance", allow.String()),
		zap.String("block", batch.BlockNumber.String()))
	return bal, allow, nil
}

// NativeBalance returns the account's native asset balance at the latest block.
func (c *Client) NativeBalance(ctx context.Context, account common.Address) (*big.Int, error) {
	bal, err := c.b.BalanceAt(ctx, account, nil)
	if err != nil {
		return nil, fmt.Errorf("balance at: %w", err)
	}
	return bal, nil
}
