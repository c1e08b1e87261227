package chain

import (
	"context"
	"fmt"
	"math/big"
	"strings"

	ethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
)

const erc20ABI = `[
  {"constant":true,"inputs":[{"name":"owner","type":"address"},{"name":"spender","type":"address"}],"name":"allowance","outputs":[{"name":"","type":"uint256"}],"stateMutability":"view","type":"function"},
  {"constant":true,"inputs":[{"name":"account","type":"address"}],"name":"balanceOf","outputs":[{"name":"","type":"uint256"}],"stateMutability":"view","type":"function"},
  {"inputs":[],"name":"decimals","outputs":[{"internalType":"uint8","name":"","type":"uint8"}],"stateMutability":"view","type":"function"}
]`

var erc20 abi.ABI

func init() {
	parsed, err := abi.JSON(strings.NewReader(erc20ABI))
	if err != nil {
		panic(fmt.Sprintf("bad erc20 abi: %v", err))
	}
	erc20 = parsed
}

// Caller performs eth_call.
type Caller interface {
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
}

func PackAllowance(owner, spender common.Address) ([]byte, error) {
	return erc20.Pack("allowance", owner, spender)
}

func PackBalanceOf(account common.Address) ([]byte, error) {
	return erc20.Pack("balanceOf", account)
}

// UnpackUint256 decodes the single uint256 output of method.
func UnpackUint256(method string, data []byte) (*big.Int, error) {
	outs, err := erc20.Unpack(method, data)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", method, err)
	}
	if len(outs) == 0 {
		return nil, fmt.Errorf("decode %s: empty output", method)
	}
	v, ok := outs[0].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("decode %s: unexpected type %T", method, outs[0])
	}
	return v, nil
}

// Allowance reads token.allowance(owner, spender).
func Allowance(ctx context.Context, c Caller, token, owner, spender common.Address) (*big.Int, error) {
	input, err := PackAllowance(owner, spender)
	if err != nil {
		return nil, fmt.Errorf("pack allowance: %w", err)
	}
	res, err := c.CallContract(ctx, ethereum.CallMsg{To: &token, Data: input}, nil)
	if err != nil {
		return nil, fmt.Errorf("call allowance: %w", err)
	}
	return UnpackUint256("allowance", res)
}

// BalanceOf reads token.balanceOf(account).
func BalanceOf(ctx context.Context, c Caller, token, account common.Address) (*big.Int, error) {
	input, err := PackBalanceOf(account)
	if err != nil {
		return nil, fmt.Errorf("pack balanceOf: %w", err)
	}
	res, err := c.CallContract(ctx, ethereum.CallMsg{To: &token, Data: input}, nil)
	if err != nil {
		return nil, fmt.Errorf("call balanceOf: %w", err)
	}
	return UnpackUint256("balanceOf", res)
}

// Decimals reads token.decimals().
func Decimals(ctx context.Context, c Caller, token common.Address) (int, error) {
	input, err := erc20.Pack("decimals")
	if err != nil {
		return 0, fmt.Errorf("pack decimals: %w", err)
	}
	res, err := c.CallContract(ctx, ethereum.CallMsg{To: &token, Data: input}, nil)
	if err != nil {
		return 0, fmt.Errorf("call decimals: %w", err)
	}
	outs, err := erc20.Methods["decimals"].Outputs.Unpack(res)
	if err != nil || len(outs) == 0 {
		if err == nil {
			err = fmt.Errorf("empty decimals output")
		}
		return 0, fmt.Errorf("decode decimals: %w", err)
	}

	switch v := outs[0].(type) {
	case uint8:
		return int(v), nil
	case *big.Int:
		return int(v.Int64()), nil
	default:
		return 0, fmt.Errorf("unexpected decimals type %T", v)
	}
}
