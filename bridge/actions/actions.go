// Package actions describes the token movements and calls a bridge operation
// schedules for the host to execute after it returns.
package actions

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/Cogwheel-Validator/spectra-ics20-bridge/bridge/amount"
	"github.com/shopspring/decimal"
)

// Action is one scheduled message. The concrete types below are the only
// implementations.
type Action interface {
	Kind() string
}

// BankSend moves native coins held by the contract.
type BankSend struct {
	ToAddress string        `json:"to_address"`
	Amount    []amount.Coin `json:"amount"`
}

// TokenTransfer moves contract tokens held by the contract.
type TokenTransfer struct {
	Contract  string          `json:"contract"`
	Recipient string          `json:"recipient"`
	Amount    decimal.Decimal `json:"amount"`
}

// TokenMint creates new contract tokens. Only the token's minter may do so.
type TokenMint struct {
	Contract  string          `json:"contract"`
	Recipient string          `json:"recipient"`
	Amount    decimal.Decimal `json:"amount"`
}

// TokenBurn destroys contract tokens held by the contract.
type TokenBurn struct {
	Contract string          `json:"contract"`
	Amount   decimal.Decimal `json:"amount"`
}

// ContractCall executes msg on another contract, or on the bridge itself when
// Contract is its own address.
type ContractCall struct {
	Contract string          `json:"contract"`
	Msg      json.RawMessage `json:"msg"`
	Funds    []amount.Coin   `json:"funds,omitempty"`
}

// SendPacket emits raw ics20 packet data on a channel bound to the bridge.
type SendPacket struct {
	ChannelID string    `json:"channel_id"`
	Data      []byte    `json:"data"`
	Timeout   time.Time `json:"timeout"`
}

// Transfer is a plain ibc transfer of native coins owned by the contract.
type Transfer struct {
	ChannelID string      `json:"channel_id"`
	ToAddress string      `json:"to_address"`
	Amount    amount.Coin `json:"amount"`
	Timeout   time.Time   `json:"timeout"`
}

func (BankSend) Kind() string      { return "bank_send" }
func (TokenTransfer) Kind() string { return "token_transfer" }
func (TokenMint) Kind() string     { return "token_mint" }
func (TokenBurn) Kind() string     { return "token_burn" }
func (ContractCall) Kind() string  { return "contract_call" }
func (SendPacket) Kind() string    { return "send_packet" }
func (Transfer) Kind() string      { return "transfer" }

// ReplyOn selects when the contract is told about the outcome of a message.
type ReplyOn int

const (
	ReplyNever ReplyOn = iota
	ReplyOnError
	ReplyOnSuccess
	ReplyAlways
)

func (r ReplyOn) String() string {
	switch r {
	case ReplyOnError:
		return "error"
	case ReplyOnSuccess:
		return "success"
	case ReplyAlways:
		return "always"
	default:
		return "never"
	}
}

// ReplyKind tags a scheduled message so its failure handler knows what to
// compensate.
type ReplyKind int

const (
	ReplyNone ReplyKind = iota
	// ReplyNativeReceive guards the final payout of an inbound transfer.
	ReplyNativeReceive
	// ReplyRefund guards the refund of a failed outbound transfer.
	ReplyRefund
	// ReplyUniversalSwap guards forwarding to the universal swap entrypoint.
	ReplyUniversalSwap
	// ReplyFollowUp guards an outbound hop started from an ibc hooks call.
	ReplyFollowUp
)

func (k ReplyKind) String() string {
	switch k {
	case ReplyNativeReceive:
		return "native_receive"
	case ReplyRefund:
		return "refund"
	case ReplyUniversalSwap:
		return "universal_swap"
	case ReplyFollowUp:
		return "follow_up"
	default:
		return "none"
	}
}

// SubMsg is a scheduled action together with its reply policy.
type SubMsg struct {
	Action   Action
	ReplyOn  ReplyOn
	Reply    ReplyKind
	GasLimit *uint64
}

// Plain schedules an action whose failure aborts the whole call.
func Plain(a Action) SubMsg {
	return SubMsg{Action: a, ReplyOn: ReplyNever}
}

// OnError schedules an action whose failure is handed to the reply handler.
func OnError(a Action, kind ReplyKind) SubMsg {
	return SubMsg{Action: a, ReplyOn: ReplyOnError, Reply: kind}
}

// Reply reports the outcome of a sub message back to the contract.
type Reply struct {
	Kind ReplyKind
	// Err is empty on success.
	Err string
}

// MarshalJSON tags the action with its kind so outbox entries stay readable.
func (m SubMsg) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Type     string  `json:"type"`
		Action   Action  `json:"action"`
		ReplyOn  string  `json:"reply_on"`
		Reply    string  `json:"reply,omitempty"`
		GasLimit *uint64 `json:"gas_limit,omitempty"`
	}{
		Type:     m.Action.Kind(),
		Action:   m.Action,
		ReplyOn:  m.ReplyOn.String(),
		Reply:    m.Reply.String(),
		GasLimit: m.GasLimit,
	})
}

// SendAmount builds the direct transfer of amt of info to recipient.
func SendAmount(info amount.AssetInfo, amt decimal.Decimal, recipient string) Action {
	if info.IsNative() {
		return BankSend{ToAddress: recipient, Amount: []amount.Coin{amount.NewCoin(info.NativeToken.Denom, amt)}}
	}
	return TokenTransfer{Contract: info.Token.ContractAddr, Recipient: recipient, Amount: amt}
}

// BuildMint returns the mint for a mint/burn mapping, or nil when value moves
// by escrow instead.
func BuildMint(isMintBurn bool, info amount.AssetInfo, amt decimal.Decimal, receiver string) (Action, error) {
	if !isMintBurn {
		return nil, nil
	}
	if info.IsNative() {
		return nil, fmt.Errorf("cannot mint native token %s", info.NativeToken.Denom)
	}
	return TokenMint{Contract: info.Token.ContractAddr, Recipient: receiver, Amount: amt}, nil
}

// BuildBurn returns the burn for a mint/burn mapping, or nil when value moves
// by escrow instead.
func BuildBurn(isMintBurn bool, info amount.AssetInfo, amt decimal.Decimal) (Action, error) {
	if !isMintBurn {
		return nil, nil
	}
	if info.IsNative() {
		return nil, fmt.Errorf("cannot burn native token %s", info.NativeToken.Denom)
	}
	return TokenBurn{Contract: info.Token.ContractAddr, Amount: amt}, nil
}
