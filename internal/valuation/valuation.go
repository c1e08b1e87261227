// Package valuation prices every quote in native units and picks the best.
package valuation

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/ApolloDevsGroup/okse-swaps-controller/internal/types"
	"github.com/ApolloDevsGroup/okse-swaps-controller/internal/units"
)

var (
	maxGasMultiplier = decimal.RequireFromString("1.4")
	hundred          = decimal.NewFromInt(100)
	one              = decimal.NewFromInt(1)
)

type Input struct {
	// Quotes in backend order. Order decides ties.
	Quotes []types.Quote
	// GasPrice in wei.
	GasPrice decimal.Decimal
	// ApprovalGas is the gas of a pending approve() call, zero when none.
	ApprovalGas      decimal.Decimal
	DestinationToken types.Token
	// ConversionRate is the destination token price in the native asset.
	ConversionRate *decimal.Decimal
	MaxGasLimit    uint64
}

type Result struct {
	TopAggID string
	Values   map[string]types.QuoteValues
}

// Evaluate computes the value breakdown of every quote. TopAggID is the
// quote with the strictly greatest overall value; on equal values the one
// seen first wins. It is empty only for an empty input.
func Evaluate(in Input) (Result, error) {
	res := Result{Values: make(map[string]types.QuoteValues, len(in.Quotes))}
	var best decimal.Decimal

	rate := one
	if !types.IsNative(in.DestinationToken.Address) && in.ConversionRate != nil {
		rate = *in.ConversionRate
	}

	for _, q := range in.Quotes {
		v, err := value(q, in, rate)
		if err != nil {
			return Result{}, err
		}
		res.Values[q.Aggregator] = v
		if res.TopAggID == "" || v.OverallValueOfQuote.GreaterThan(best) {
			res.TopAggID = q.Aggregator
			best = v.OverallValueOfQuote
		}
	}
	return res, nil
}

func value(q types.Quote, in Input, rate decimal.Decimal) (types.QuoteValues, error) {
	fee := q.Fee
	if fee.IsNegative() || fee.GreaterThanOrEqual(hundred) {
		return types.QuoteValues{}, fmt.Errorf("quote %s: fee %s out of range", q.Aggregator, fee)
	}

	tradeGas := decimal.NewFromInt(int64(q.GasEstimateWithRefund))
	if q.GasEstimateWithRefund == 0 {
		avg := q.AverageGas
		if avg == 0 {
			avg = in.MaxGasLimit
		}
		tradeGas = decimal.NewFromInt(int64(avg))
	}

	base := q.AverageGas
	if q.GasEstimate != nil && *q.GasEstimate != 0 {
		base = *q.GasEstimate
	}
	tradeMaxGas := decimal.NewFromInt(int64(base)).Mul(maxGasMultiplier)
	if maxGas := decimal.NewFromInt(int64(q.MaxGas)); !tradeMaxGas.GreaterThan(maxGas) {
		tradeMaxGas = maxGas
	}

	totalGas := tradeGas.Add(in.ApprovalGas)
	maxTotalGas := tradeMaxGas.Add(in.ApprovalGas)

	tradeValue := q.Trade.Value.Decimal
	totalWei := totalGas.Mul(in.GasPrice).Add(tradeValue)
	maxTotalWei := maxTotalGas.Mul(in.GasPrice).Add(tradeValue)

	// for native sources trade.value carries the swapped amount itself
	weiFee, maxWeiFee := totalWei, maxTotalWei
	if types.IsNative(q.SourceToken) {
		weiFee = weiFee.Sub(q.SourceAmount.Decimal)
		maxWeiFee = maxWeiFee.Sub(q.SourceAmount.Decimal)
	}
	ethFee := units.CalcTokenAmount(weiFee, units.EthDecimals)
	maxEthFee := units.CalcTokenAmount(maxWeiFee, units.EthDecimals)

	destAmount := units.CalcTokenAmount(q.DestinationAmount.Decimal, in.DestinationToken.Decimals)
	keptShare := units.Percent(hundred.Sub(fee))
	beforeFee := units.Div(destAmount, keptShare)
	feeInTokens := beforeFee.Sub(destAmount)

	ethValueOfTokens := destAmount.Mul(rate)

	// gas is netted out only when the destination is the native asset
	overall := ethValueOfTokens
	if types.IsNative(q.DestinationToken) {
		overall = overall.Sub(ethFee)
	}

	return types.QuoteValues{
		Aggregator:          q.Aggregator,
		EthFee:              units.Fixed18(ethFee),
		MaxEthFee:           units.Fixed18(maxEthFee),
		EthValueOfTokens:    units.Fixed18(ethValueOfTokens),
		OverallValueOfQuote: units.Fixed18(overall),
		MetaMaskFeeInEth:    units.Fixed18(feeInTokens.Mul(rate)),
	}, nil
}
