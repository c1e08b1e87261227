package types

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/shopspring/decimal"

	"github.com/ApolloDevsGroup/okse-swaps-controller/internal/units"
)

// NativeToken is the address the quote API uses for the chain's native asset.
var NativeToken = common.Address{}

// NativeTokenInfo describes the native asset in token lists.
var NativeTokenInfo = Token{
	Address:  NativeToken,
	Symbol:   "ETH",
	Name:     "Ether",
	Decimals: units.EthDecimals,
}

// IsNative reports whether addr denotes the native asset.
func IsNative(addr common.Address) bool { return addr == NativeToken }

// Quantity is an integer amount that decodes from a JSON number, a decimal
// string or a 0x hex string. It encodes as a decimal string.
type Quantity struct{ decimal.Decimal }

func NewQuantity(v int64) Quantity { return Quantity{decimal.NewFromInt(v)} }

func (q *Quantity) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		q.Decimal = decimal.Zero
		return nil
	}
	s := string(b)
	if b[0] == '"' {
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
	}
	d, err := units.ParseQuantity(s)
	if err != nil {
		return fmt.Errorf("decode quantity: %w", err)
	}
	q.Decimal = d
	return nil
}

func (q Quantity) MarshalJSON() ([]byte, error) {
	return json.Marshal(q.Decimal.String())
}

// TxParams is an unsigned transaction as returned by the quote API.
type TxParams struct {
	From  common.Address `json:"from"`
	To    common.Address `json:"to"`
	Data  hexutil.Bytes  `json:"data"`
	Value Quantity       `json:"value"`
	Gas   Quantity       `json:"gas"`
}

// Token is an entry of the tradeable token list.
type Token struct {
	Address    common.Address `json:"address"`
	Symbol     string         `json:"symbol"`
	Name       string         `json:"name,omitempty"`
	Decimals   int            `json:"decimals"`
	IconURL    string         `json:"iconUrl,omitempty"`
	Occurances int            `json:"occurances,omitempty"`
}

// FetchParams are the user inputs of one quote session.
type FetchParams struct {
	Slippage         decimal.Decimal `json:"slippage"`
	SourceToken      common.Address  `json:"sourceToken"`
	SourceAmount     decimal.Decimal `json:"sourceAmount"`
	DestinationToken common.Address  `json:"destinationToken"`
	WalletAddress    common.Address  `json:"walletAddress"`
	ExchangeList     []string        `json:"exchangeList,omitempty"`
}

// FetchParamsMetaData carries token descriptors needed to scale amounts.
type FetchParamsMetaData struct {
	SourceTokenInfo      Token  `json:"sourceTokenInfo"`
	DestinationTokenInfo Token  `json:"destinationTokenInfo"`
	AccountBalance       string `json:"accountBalance"`
	// DestinationTokenConversionRate is the price of one destination token
	// in the native asset. Nil means unknown.
	DestinationTokenConversionRate *decimal.Decimal `json:"destinationTokenConversionRate,omitempty"`
}

// Quote is one aggregator's proposed trade.
type Quote struct {
	Aggregator        string          `json:"aggregator"`
	AggType           string          `json:"aggType,omitempty"`
	Trade             TxParams        `json:"trade"`
	ApprovalNeeded    *TxParams       `json:"approvalNeeded"`
	SourceToken       common.Address  `json:"sourceToken"`
	DestinationToken  common.Address  `json:"destinationToken"`
	SourceAmount      Quantity        `json:"sourceAmount"`
	DestinationAmount Quantity        `json:"destinationAmount"`
	MaxGas            uint64          `json:"maxGas"`
	AverageGas        uint64          `json:"averageGas"`
	EstimatedRefund   uint64          `json:"estimatedRefund"`
	Fee               decimal.Decimal `json:"fee"`
	GasMultiplier     decimal.Decimal `json:"gasMultiplier"`
	FetchTime         int64           `json:"fetchTime"`
	Slippage          decimal.Decimal `json:"slippage"`
	Error             json.RawMessage `json:"error,omitempty"`

	// GasEstimate is nil when the node gave no estimate in time.
	GasEstimate           *uint64 `json:"gasEstimate"`
	GasEstimateWithRefund uint64  `json:"gasEstimateWithRefund"`
}

// HasError reports whether the API flagged the quote as failed.
func (q Quote) HasError() bool {
	e := bytes.TrimSpace(q.Error)
	return len(e) > 0 && !bytes.Equal(e, []byte("null"))
}

// QuoteValues is the per-aggregator value breakdown, all in native units.
type QuoteValues struct {
	Aggregator          string          `json:"aggregator"`
	EthFee              decimal.Decimal `json:"ethFee"`
	MaxEthFee           decimal.Decimal `json:"maxEthFee"`
	EthValueOfTokens    decimal.Decimal `json:"ethValueOfTokens"`
	OverallValueOfQuote decimal.Decimal `json:"overallValueOfQuote"`
	MetaMaskFeeInEth    decimal.Decimal `json:"metaMaskFeeInEth"`
}

// Savings of the best quote against the population median.
type Savings struct {
	Performance       decimal.Decimal `json:"performance"`
	Fee               decimal.Decimal `json:"fee"`
	Total             decimal.Decimal `json:"total"`
	MedianMetaMaskFee decimal.Decimal `json:"medianMetaMaskFee"`
}

// GasPrices is the gas price oracle response, values in gwei.
type GasPrices struct {
	SafeGasPrice    string `json:"SafeGasPrice"`
	ProposeGasPrice string `json:"ProposeGasPrice"`
	FastGasPrice    string `json:"FastGasPrice"`
}

// AggregatorMetadata is display data for one aggregator.
type AggregatorMetadata struct {
	Color string `json:"color"`
	Title string `json:"title"`
	Icon  string `json:"icon"`
}

// TopAsset is one entry of the top assets list.
type TopAsset struct {
	Address common.Address `json:"address"`
	Symbol  string         `json:"symbol"`
}

// State is the observable snapshot of the controller.
type State struct {
	Quotes              map[string]Quote       `json:"quotes"`
	QuoteValues         map[string]QuoteValues `json:"quoteValues"`
	FetchParams         *FetchParams           `json:"fetchParams"`
	FetchParamsMetaData *FetchParamsMetaData   `json:"fetchParamsMetaData"`
	CustomGasPrice      *decimal.Decimal       `json:"customGasPrice,omitempty"`
	TopAggID            string                 `json:"topAggId"`
	TopAggSavings       *Savings               `json:"topAggSavings"`
	ApprovalTransaction *TxParams              `json:"approvalTransaction"`
	QuotesLastFetched   time.Time              `json:"quotesLastFetched"`
	IsInPolling         bool                   `json:"isInPolling"`
	IsInFetch           bool                   `json:"isInFetch"`
	PollingCyclesLeft   int                    `json:"pollingCyclesLeft"`
	ErrorKey            SwapsError             `json:"errorKey,omitempty"`

	Tokens                  []Token               `json:"tokens"`
	TokensLastFetched       time.Time             `json:"tokensLastFetched"`
	BridgeTokens            []BridgeToken         `json:"bridgeTokens"`
	BridgeTokensLastFetched time.Time             `json:"bridgeTokensLastFetched"`
	BridgeNetworks          []BridgeNetwork       `json:"bridgeNetworks"`
	BridgeStatus            map[string]BridgeSwap `json:"bridgeStatus"`
}

// DefaultState is the empty snapshot for a poll limit.
func DefaultState(pollCountLimit int) State {
	return State{
		Quotes:            map[string]Quote{},
		QuoteValues:       map[string]QuoteValues{},
		PollingCyclesLeft: pollCountLimit,
		BridgeStatus:      map[string]BridgeSwap{},
	}
}

// Clone copies the maps and slices so the result can be handed out.
func (s State) Clone() State {
	out := s
	out.Quotes = make(map[string]Quote, len(s.Quotes))
	for k, v := range s.Quotes {
		out.Quotes[k] = v
	}
	out.QuoteValues = make(map[string]QuoteValues, len(s.QuoteValues))
	for k, v := range s.QuoteValues {
		out.QuoteValues[k] = v
	}
	out.BridgeStatus = make(map[string]BridgeSwap, len(s.BridgeStatus))
	for k, v := range s.BridgeStatus {
		out.BridgeStatus[k] = v
	}
	if s.Tokens != nil {
		out.Tokens = append([]Token(nil), s.Tokens...)
	}
	if s.BridgeTokens != nil {
		out.BridgeTokens = append([]BridgeToken(nil), s.BridgeTokens...)
	}
	if s.BridgeNetworks != nil {
		out.BridgeNetworks = append([]BridgeNetwork(nil), s.BridgeNetworks...)
	}
	return out
}
