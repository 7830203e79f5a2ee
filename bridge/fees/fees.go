// Package fees computes the token and relayer fees taken from a transfer.
package fees

import (
	"context"
	"errors"
	"os"
	"time"

	"github.com/Cogwheel-Validator/spectra-ics20-bridge/bridge/amount"
	"github.com/Cogwheel-Validator/spectra-ics20-bridge/bridge/mapping"
	"github.com/Cogwheel-Validator/spectra-ics20-bridge/bridge/store"
	"github.com/btcsuite/btcutil/bech32"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// DefaultBridgePrefix is the address prefix of the relay chain. Senders on it
// are charged the relayer fee of the chain their asset came from.
const DefaultBridgePrefix = "oraib"

var log zerolog.Logger

func init() {
	out := zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}
	log = zerolog.New(out).With().Timestamp().Str("component", "fees").Logger()
}

// SetLogger replaces the package logger
func SetLogger(l zerolog.Logger) {
	log = l.With().Str("component", "fees").Logger()
}

// SwapSimulator quotes how much of askDenom an offer would return.
type SwapSimulator interface {
	SimulateSwap(ctx context.Context, offer amount.AssetInfo, offerAmount decimal.Decimal, askDenom string) (decimal.Decimal, error)
}

// TokenFee is a ratio charged on transfers of a remote denom.
type TokenFee struct {
	TokenDenom string       `json:"token_denom" toml:"token_denom"`
	Ratio      amount.Ratio `json:"ratio" toml:"ratio"`
}

// RelayerFee is a flat fee charged to senders of a given address prefix.
type RelayerFee struct {
	Prefix string          `json:"prefix" toml:"prefix"`
	Fee    decimal.Decimal `json:"fee" toml:"fee"`
}

// FeeData is the split of a transfer amount.
type FeeData struct {
	DeductedAmount decimal.Decimal `json:"deducted_amount"`
	TokenFee       decimal.Decimal `json:"token_fee"`
	RelayerFee     decimal.Decimal `json:"relayer_fee"`
}

// Request carries everything the fee computation needs about one transfer.
type Request struct {
	RemoteSender  string
	RemoteDenom   string
	Amount        decimal.Decimal
	Asset         amount.AssetInfo
	AssetDecimals uint8
	// FeeDenom is the reference unit relayer fees are quoted in.
	FeeDenom string
}

// Engine stores the fee tables and computes fee splits.
type Engine struct {
	simulator    SwapSimulator
	bridgePrefix string
	tokenFees    store.Map[amount.Ratio]
	relayerFees  store.Map[decimal.Decimal]
}

// NewEngine builds a fee engine. simulator may be nil, in which case relayer
// fees on assets other than the reference unit are waived.
func NewEngine(simulator SwapSimulator, bridgePrefix string) *Engine {
	if bridgePrefix == "" {
		bridgePrefix = DefaultBridgePrefix
	}
	return &Engine{
		simulator:    simulator,
		bridgePrefix: bridgePrefix,
		tokenFees:    store.NewMap[amount.Ratio]("token_fee", 1),
		relayerFees:  store.NewMap[decimal.Decimal]("relayer_fee", 1),
	}
}

// SetTokenFee stores the ratio charged on a remote denom.
func (e *Engine) SetTokenFee(kv store.KV, fee TokenFee) error {
	if fee.TokenDenom == "" {
		return errors.New("token fee requires a denom")
	}
	return e.tokenFees.Save(kv, fee.Ratio, fee.TokenDenom)
}

// TokenFee returns the ratio configured for denom and whether one exists.
func (e *Engine) TokenFee(kv store.KV, denom string) (amount.Ratio, bool, error) {
	return e.tokenFees.Load(kv, denom)
}

func (e *Engine) ListTokenFees(kv store.KV) ([]TokenFee, error) {
	entries, err := e.tokenFees.Range(kv, nil, nil)
	if err != nil {
		return nil, err
	}
	out := make([]TokenFee, 0, len(entries))
	for _, entry := range entries {
		out = append(out, TokenFee{TokenDenom: entry.Key[0], Ratio: entry.Value})
	}
	return out, nil
}

// SetRelayerFee stores the flat fee for a sender prefix.
func (e *Engine) SetRelayerFee(kv store.KV, fee RelayerFee) error {
	if fee.Prefix == "" {
		return errors.New("relayer fee requires a prefix")
	}
	if err := amount.Validate(fee.Fee); err != nil {
		return err
	}
	return e.relayerFees.Save(kv, fee.Fee, fee.Prefix)
}

// RelayerFee looks up the flat fee for a sender prefix.
func (e *Engine) RelayerFee(kv store.KV, prefix string) (decimal.Decimal, bool, error) {
	return e.relayerFees.Load(kv, prefix)
}

func (e *Engine) ListRelayerFees(kv store.KV) ([]RelayerFee, error) {
	entries, err := e.relayerFees.Range(kv, nil, nil)
	if err != nil {
		return nil, err
	}
	out := make([]RelayerFee, 0, len(entries))
	for _, entry := range entries {
		out = append(out, RelayerFee{Prefix: entry.Key[0], Fee: entry.Value})
	}
	return out, nil
}

// ProcessDeductFee splits req.Amount into the amount left for the receiver,
// the token fee and the relayer fee. The three always sum to req.Amount.
// A failing price quote never fails the call; the relayer fee drops to zero.
func (e *Engine) ProcessDeductFee(ctx context.Context, kv store.KV, req Request) (FeeData, error) {
	data := FeeData{
		DeductedAmount: req.Amount,
		TokenFee:       decimal.Zero,
		RelayerFee:     decimal.Zero,
	}

	ratio, ok, err := e.tokenFees.Load(kv, req.RemoteDenom)
	if err != nil {
		return data, err
	}
	if ok {
		data.TokenFee = amount.DeductFee(ratio, req.Amount)
		data.DeductedAmount = req.Amount.Sub(data.TokenFee)
	}

	if data.DeductedAmount.IsZero() {
		data.TokenFee = req.Amount
		return data, nil
	}

	prefix := e.SenderPrefix(req.RemoteSender, req.RemoteDenom)
	flat, ok, err := e.relayerFees.Load(kv, prefix)
	if err != nil {
		return data, err
	}
	if !ok || flat.IsZero() {
		return data, nil
	}

	relayerFee := e.convertRelayerFee(ctx, flat, req)
	if relayerFee.GreaterThanOrEqual(data.DeductedAmount) {
		data.RelayerFee = data.DeductedAmount
		data.DeductedAmount = decimal.Zero
		return data, nil
	}
	data.RelayerFee = relayerFee
	data.DeductedAmount = data.DeductedAmount.Sub(relayerFee)
	return data, nil
}

// SenderPrefix picks the relayer fee key for a sender. Bech32 senders use
// their human readable part, unless it is the relay chain prefix. Everything
// else falls back to the chain prefix embedded in the remote denom.
func (e *Engine) SenderPrefix(remoteSender, remoteDenom string) string {
	hrp, _, err := bech32.Decode(remoteSender)
	if err != nil || hrp == e.bridgePrefix {
		return mapping.EvmPrefixFromDenom(remoteDenom)
	}
	return hrp
}

// convertRelayerFee expresses a fee quoted in the reference unit in units of
// the transferred asset.
func (e *Engine) convertRelayerFee(ctx context.Context, fee decimal.Decimal, req Request) decimal.Decimal {
	if req.Asset.IsNative() && req.Asset.NativeToken.Denom == req.FeeDenom {
		return fee
	}
	if e.simulator == nil {
		log.Warn().Str("asset", req.Asset.String()).Msg("no swap simulator configured, waiving relayer fee")
		return decimal.Zero
	}

	oneToken := decimal.New(1, int32(req.AssetDecimals))
	price, err := e.simulator.SimulateSwap(ctx, req.Asset, oneToken, req.FeeDenom)
	if err != nil {
		log.Warn().Err(err).Str("asset", req.Asset.String()).Msg("relayer fee simulation failed, waiving fee")
		return decimal.Zero
	}
	if !price.IsPositive() {
		log.Warn().Str("asset", req.Asset.String()).Msg("no price for asset, waiving relayer fee")
		return decimal.Zero
	}

	q, _ := fee.Mul(oneToken).QuoRem(price, 0)
	return q
}
