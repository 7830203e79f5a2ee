// Package bank keeps local balances of native coins and contract tokens in the
// bridge store.
package bank

import (
	"errors"
	"fmt"

	"github.com/Cogwheel-Validator/spectra-ics20-bridge/bridge/amount"
	"github.com/Cogwheel-Validator/spectra-ics20-bridge/bridge/store"
	"github.com/shopspring/decimal"
)

var (
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrNotMinter           = errors.New("sender is not the token minter")
	ErrUnknownToken        = errors.New("unknown token contract")
)

// TokenInfo is a registered contract token.
type TokenInfo struct {
	Contract string `json:"contract" toml:"contract"`
	Minter   string `json:"minter" toml:"minter"`
	Decimals uint8  `json:"decimals" toml:"decimals"`
}

type Bank struct {
	balances store.Map[decimal.Decimal]
	tokens   store.Map[TokenInfo]
}

func New() *Bank {
	return &Bank{
		balances: store.NewMap[decimal.Decimal]("bank_balance", 2),
		tokens:   store.NewMap[TokenInfo]("bank_token", 1),
	}
}

// RegisterToken records a contract token and who may mint it.
func (b *Bank) RegisterToken(kv store.KV, info TokenInfo) error {
	if info.Contract == "" {
		return errors.New("token contract address is empty")
	}
	return b.tokens.Save(kv, info, info.Contract)
}

// SetMinter hands minting rights of a registered token to minter.
func (b *Bank) SetMinter(kv store.KV, contract, minter string) error {
	info, err := b.Token(kv, contract)
	if err != nil {
		return err
	}
	info.Minter = minter
	return b.tokens.Save(kv, info, contract)
}

func (b *Bank) Token(kv store.KV, contract string) (TokenInfo, error) {
	info, ok, err := b.tokens.Load(kv, contract)
	if err != nil {
		return info, err
	}
	if !ok {
		return info, fmt.Errorf("%w: %s", ErrUnknownToken, contract)
	}
	return info, nil
}

// Balance returns the holding of addr in a bank denom. Contract tokens use the
// "cw20:<addr>" form.
func (b *Bank) Balance(kv store.KV, addr, denom string) (decimal.Decimal, error) {
	bal, ok, err := b.balances.Load(kv, addr, denom)
	if err != nil || !ok {
		return decimal.Zero, err
	}
	return bal, nil
}

// Credit adds funds without a source. Used for genesis allocations.
func (b *Bank) Credit(kv store.KV, addr, denom string, amt decimal.Decimal) error {
	if err := amount.Validate(amt); err != nil {
		return err
	}
	bal, err := b.Balance(kv, addr, denom)
	if err != nil {
		return err
	}
	return b.balances.Save(kv, bal.Add(amt), addr, denom)
}

func (b *Bank) debit(kv store.KV, addr, denom string, amt decimal.Decimal) error {
	bal, err := b.Balance(kv, addr, denom)
	if err != nil {
		return err
	}
	if bal.LessThan(amt) {
		return fmt.Errorf("%w: %s has %s%s, needs %s", ErrInsufficientBalance, addr, bal, denom, amt)
	}
	return b.balances.Save(kv, bal.Sub(amt), addr, denom)
}

// Send moves amt of denom from one address to another.
func (b *Bank) Send(kv store.KV, from, to, denom string, amt decimal.Decimal) error {
	if err := amount.Validate(amt); err != nil {
		return err
	}
	if amt.IsZero() {
		return nil
	}
	if err := b.debit(kv, from, denom, amt); err != nil {
		return err
	}
	return b.Credit(kv, to, denom, amt)
}

// Mint creates amt of a contract token for recipient. Only the minter may mint.
func (b *Bank) Mint(kv store.KV, sender, contract, recipient string, amt decimal.Decimal) error {
	info, err := b.Token(kv, contract)
	if err != nil {
		return err
	}
	if info.Minter != sender {
		return fmt.Errorf("%w: %s cannot mint %s", ErrNotMinter, sender, contract)
	}
	return b.Credit(kv, recipient, amount.NewToken(contract).BankDenom(), amt)
}

// Burn destroys amt of a contract token held by owner.
func (b *Bank) Burn(kv store.KV, owner, contract string, amt decimal.Decimal) error {
	if _, err := b.Token(kv, contract); err != nil {
		return err
	}
	if err := amount.Validate(amt); err != nil {
		return err
	}
	return b.debit(kv, owner, amount.NewToken(contract).BankDenom(), amt)
}

// Balances lists every denom held by addr.
func (b *Bank) Balances(kv store.KV, addr string) ([]amount.Coin, error) {
	entries, err := b.balances.Range(kv, []string{addr}, nil)
	if err != nil {
		return nil, err
	}
	out := make([]amount.Coin, 0, len(entries))
	for _, e := range entries {
		if e.Value.IsZero() {
			continue
		}
		out = append(out, amount.NewCoin(e.Key[1], e.Value))
	}
	return out, nil
}
