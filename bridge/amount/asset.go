package amount

import (
	"errors"
	"strings"

	"github.com/shopspring/decimal"
)

// TokenDenomPrefix marks bank denoms that belong to contract tokens.
const TokenDenomPrefix = "cw20:"

var ErrInvalidAssetInfo = errors.New("asset info must be exactly one of native_token or token")

// NativeToken is a bank denomination of the local chain.
type NativeToken struct {
	Denom string `json:"denom" toml:"denom"`
}

// Token is a contract token identified by its address.
type Token struct {
	ContractAddr string `json:"contract_addr" toml:"contract_addr"`
}

// AssetInfo references a local asset. Exactly one field is set.
type AssetInfo struct {
	NativeToken *NativeToken `json:"native_token,omitempty" toml:"native_token,omitempty"`
	Token       *Token       `json:"token,omitempty" toml:"token,omitempty"`
}

func NewNative(denom string) AssetInfo {
	return AssetInfo{NativeToken: &NativeToken{Denom: denom}}
}

func NewToken(contractAddr string) AssetInfo {
	return AssetInfo{Token: &Token{ContractAddr: contractAddr}}
}

// AssetFromDenom maps a bank denom back to its asset reference.
func AssetFromDenom(denom string) AssetInfo {
	if addr, ok := strings.CutPrefix(denom, TokenDenomPrefix); ok {
		return NewToken(addr)
	}
	return NewNative(denom)
}

func (a AssetInfo) IsNative() bool {
	return a.NativeToken != nil
}

// String is the denom for native assets and the contract address for tokens.
// It is the key of the reverse mapping index.
func (a AssetInfo) String() string {
	switch {
	case a.NativeToken != nil:
		return a.NativeToken.Denom
	case a.Token != nil:
		return a.Token.ContractAddr
	default:
		return ""
	}
}

// BankDenom is the denom under which the asset is held in local balances.
func (a AssetInfo) BankDenom() string {
	if a.Token != nil {
		return TokenDenomPrefix + a.Token.ContractAddr
	}
	return a.String()
}

func (a AssetInfo) Equal(b AssetInfo) bool {
	return a.IsNative() == b.IsNative() && a.String() == b.String()
}

func (a AssetInfo) Validate() error {
	if (a.NativeToken == nil) == (a.Token == nil) {
		return ErrInvalidAssetInfo
	}
	if a.String() == "" {
		return ErrInvalidAssetInfo
	}
	return nil
}

// Asset is an amount of a given asset.
type Asset struct {
	Info   AssetInfo       `json:"info"`
	Amount decimal.Decimal `json:"amount"`
}

// Coin is a bank balance entry.
type Coin struct {
	Denom  string          `json:"denom"`
	Amount decimal.Decimal `json:"amount"`
}

func NewCoin(denom string, amount decimal.Decimal) Coin {
	return Coin{Denom: denom, Amount: amount}
}
