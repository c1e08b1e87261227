// Package savings benchmarks the best quote against the median of all quotes.
package savings

import (
	"errors"
	"fmt"
	"sort"

	"github.com/shopspring/decimal"

	"github.com/ApolloDevsGroup/okse-swaps-controller/internal/types"
	"github.com/ApolloDevsGroup/okse-swaps-controller/internal/units"
)

var ErrEmptyPopulation = errors.New("savings: empty population")

// Median of values: the middle element for odd length, the mean of the two
// middle elements for even length.
func Median(values []decimal.Decimal) (decimal.Decimal, error) {
	if len(values) == 0 {
		return decimal.Zero, ErrEmptyPopulation
	}
	sorted := append([]decimal.Decimal(nil), values...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].LessThan(sorted[j]) })

	n := len(sorted)
	if n%2 == 1 {
		return sorted[n/2], nil
	}
	return units.Midpoint(sorted[n/2-1], sorted[n/2]), nil
}

// FeesAndValue is the part of a QuoteValues the median is taken over.
type FeesAndValue struct {
	EthFee           decimal.Decimal
	MetaMaskFeeInEth decimal.Decimal
	EthValueOfTokens decimal.Decimal
}

// MedianQuote returns the fees and value of the quote(s) with the median
// overall value. Every entry sharing the overall value at a middle position
// is averaged first, so duplicates of the median do not bias it.
func MedianQuote(values []types.QuoteValues) (FeesAndValue, error) {
	if len(values) == 0 {
		return FeesAndValue{}, ErrEmptyPopulation
	}
	sorted := append([]types.QuoteValues(nil), values...)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].OverallValueOfQuote.LessThan(sorted[j].OverallValueOfQuote)
	})

	n := len(sorted)
	if n%2 == 1 {
		return meanAt(sorted, sorted[n/2].OverallValueOfQuote), nil
	}
	lower := meanAt(sorted, sorted[n/2-1].OverallValueOfQuote)
	upper := meanAt(sorted, sorted[n/2].OverallValueOfQuote)
	return FeesAndValue{
		EthFee:           units.Midpoint(lower.EthFee, upper.EthFee),
		MetaMaskFeeInEth: units.Midpoint(lower.MetaMaskFeeInEth, upper.MetaMaskFeeInEth),
		EthValueOfTokens: units.Midpoint(lower.EthValueOfTokens, upper.EthValueOfTokens),
	}, nil
}

// meanAt averages the entries whose overall value equals overall.
func meanAt(values []types.QuoteValues, overall decimal.Decimal) FeesAndValue {
	var fees, mmFees, vals []decimal.Decimal
	for _, v := range values {
		if !v.OverallValueOfQuote.Equal(overall) {
			continue
		}
		fees = append(fees, v.EthFee)
		mmFees = append(mmFees, v.MetaMaskFeeInEth)
		vals = append(vals, v.EthValueOfTokens)
	}
	return FeesAndValue{
		EthFee:           units.Mean(fees...),
		MetaMaskFeeInEth: units.Mean(mmFees...),
		EthValueOfTokens: units.Mean(vals...),
	}
}

// Calculate compares the quote of bestAgg with the population median.
func Calculate(bestAgg string, values map[string]types.QuoteValues) (types.Savings, error) {
	if len(values) == 0 {
		return types.Savings{}, ErrEmptyPopulation
	}
	best, ok := values[bestAgg]
	if !ok {
		return types.Savings{}, fmt.Errorf("savings: no values for aggregator %q", bestAgg)
	}
	population := make([]types.QuoteValues, 0, len(values))
	for _, v := range values {
		population = append(population, v)
	}
	median, err := MedianQuote(population)
	if err != nil {
		return types.Savings{}, err
	}

	performance := best.EthValueOfTokens.Sub(median.EthValueOfTokens)
	fee := median.EthFee.Sub(best.EthFee)
	return types.Savings{
		Performance:       performance,
		Fee:               fee,
		Total:             performance.Add(fee).Sub(best.MetaMaskFeeInEth),
		MedianMetaMaskFee: median.MetaMaskFeeInEth,
	}, nil
}
