package types

import "github.com/shopspring/decimal"

// Terminal bridge swap statuses.
const (
	BridgeStatusCompleted = "Completed"
	BridgeStatusCancelled = "Cancelled"
)

// BridgeToken is a token the cross-chain bridge can move.
type BridgeToken struct {
	Symbol             string          `json:"symbol"`
	Name               string          `json:"name"`
	Icon               string          `json:"icon"`
	MinAmount          decimal.Decimal `json:"minAmount"`
	MaxAmount          decimal.Decimal `json:"maxAmount"`
	Promotion          bool            `json:"promotion"`
	Enabled            bool            `json:"enabled"`
	BscContractAddress string          `json:"bscContractAddress"`
	BscContractDecimal *int            `json:"bscContractDecimal"`
	EthContractAddress string          `json:"ethContractAddress"`
	EthContractDecimal *int            `json:"ethContractDecimal"`
}

// Bridgeable reports whether the token is enabled and both chains give it a
// non-zero decimals value. Missing and zero decimals are treated alike.
func (t BridgeToken) Bridgeable() bool {
	return t.Enabled && hasDecimals(t.BscContractDecimal) && hasDecimals(t.EthContractDecimal)
}

func hasDecimals(d *int) bool { return d != nil && *d != 0 }

// BridgeNetwork is one network a bridge token can be sent over.
type BridgeNetwork struct {
	Name              string          `json:"name"`
	Coin              string          `json:"coin"`
	DepositEnabled    bool            `json:"depositEnabled"`
	WithdrawEnabled   bool            `json:"withdrawEnabled"`
	NetworkFee        decimal.Decimal `json:"networkFee"`
	RequiredConfirms  int             `json:"requiredConfirms"`
	TokenStandard     string          `json:"tokenStandard"`
	SupportLabel      bool            `json:"supportLabel"`
	DepositTimeoutSec int             `json:"depositTimeout"`
}

// BridgeSwapRequest is the payload that opens a cross-chain swap.
type BridgeSwapRequest struct {
	Amount         decimal.Decimal `json:"amount"`
	FromNetwork    string          `json:"fromNetwork"`
	Source         int             `json:"source"`
	Symbol         string          `json:"symbol"`
	ToAddress      string          `json:"toAddress"`
	ToAddressLabel string          `json:"toAddressLabel"`
	ToNetwork      string          `json:"toNetwork"`
	WalletAddress  string          `json:"walletAddress"`
	WalletNetwork  string          `json:"walletNetwork"`
}

// BridgeSwap is the remote record of a cross-chain swap.
type BridgeSwap struct {
	ID                      string          `json:"id"`
	Status                  string          `json:"status"`
	Symbol                  string          `json:"symbol"`
	Amount                  decimal.Decimal `json:"amount"`
	ActualFromAmount        decimal.Decimal `json:"actualFromAmount"`
	ActualToAmount          decimal.Decimal `json:"actualToAmount"`
	NetworkFee              decimal.Decimal `json:"networkFee"`
	SwapFee                 decimal.Decimal `json:"swapFee"`
	FromNetwork             string          `json:"fromNetwork"`
	ToNetwork               string          `json:"toNetwork"`
	WalletAddress           string          `json:"walletAddress"`
	WalletNetwork           string          `json:"walletNetwork"`
	ToAddress               string          `json:"toAddress"`
	DepositAddress          string          `json:"depositAddress"`
	DepositTxID             string          `json:"depositTxId"`
	DepositReceivedConfirms int             `json:"depositReceivedConfirms"`
	DepositRequiredConfirms int             `json:"depositRequiredConfirms"`
	SwapTxID                string          `json:"swapTxId"`
	CreateTime              string          `json:"createTime"`
	UpdateTime              string          `json:"updateTime"`
}

// Terminal reports whether the swap will not change status again.
func (s BridgeSwap) Terminal() bool {
	return s.Status == BridgeStatusCompleted || s.Status == BridgeStatusCancelled
}

// BridgeFindParams filters the swap history query.
type BridgeFindParams struct {
	WalletAddress string `json:"walletAddress"`
}
