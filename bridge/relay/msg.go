package relay

import (
	"encoding/json"

	"github.com/Cogwheel-Validator/spectra-ics20-bridge/bridge/actions"
	"github.com/Cogwheel-Validator/spectra-ics20-bridge/bridge/amount"
	"github.com/Cogwheel-Validator/spectra-ics20-bridge/bridge/fees"
	"github.com/shopspring/decimal"
)

// InitMsg configures a fresh bridge.
type InitMsg struct {
	Admin                  string     `json:"admin" toml:"admin"`
	DefaultTimeout         uint64     `json:"default_timeout" toml:"default_timeout"`
	DefaultGasLimit        *uint64    `json:"default_gas_limit,omitempty" toml:"default_gas_limit,omitempty"`
	FeeDenom               string     `json:"fee_denom,omitempty" toml:"fee_denom,omitempty"`
	Allowlist              []AllowMsg `json:"allowlist,omitempty" toml:"allowlist,omitempty"`
	SwapRouterContract     string     `json:"swap_router_contract" toml:"swap_router_contract"`
	ConverterContract      string     `json:"converter_contract,omitempty" toml:"converter_contract,omitempty"`
	OsorEntrypointContract string     `json:"osor_entrypoint_contract,omitempty" toml:"osor_entrypoint_contract,omitempty"`
	TokenFeeReceiver       string     `json:"token_fee_receiver,omitempty" toml:"token_fee_receiver,omitempty"`
	RelayerFeeReceiver     string     `json:"relayer_fee_receiver,omitempty" toml:"relayer_fee_receiver,omitempty"`
}

// ExecuteMsg is the envelope of every user and self call. Exactly one field is set.
type ExecuteMsg struct {
	Receive                          *Cw20ReceiveMsg            `json:"receive,omitempty"`
	TransferToRemote                 *TransferBackMsg           `json:"transfer_to_remote,omitempty"`
	UpdateMappingPair                *UpdatePairMsg             `json:"update_mapping_pair,omitempty"`
	DeleteMappingPair                *DeletePairMsg             `json:"delete_mapping_pair,omitempty"`
	Allow                            *AllowMsg                  `json:"allow,omitempty"`
	UpdateConfig                     *UpdateConfigMsg           `json:"update_config,omitempty"`
	IncreaseChannelBalanceIbcReceive *ChannelBalanceMsg         `json:"increase_channel_balance_ibc_receive,omitempty"`
	ReduceChannelBalanceIbcReceive   *ChannelBalanceMsg         `json:"reduce_channel_balance_ibc_receive,omitempty"`
	OverrideChannelBalance           *OverrideChannelBalanceMsg `json:"override_channel_balance,omitempty"`
	IbcHooksReceive                  *IbcHooksReceiveMsg        `json:"ibc_hooks_receive,omitempty"`
}

func (m ExecuteMsg) variants() int {
	n := 0
	for _, set := range []bool{
		m.Receive != nil,
		m.TransferToRemote != nil,
		m.UpdateMappingPair != nil,
		m.DeleteMappingPair != nil,
		m.Allow != nil,
		m.UpdateConfig != nil,
		m.IncreaseChannelBalanceIbcReceive != nil,
		m.ReduceChannelBalanceIbcReceive != nil,
		m.OverrideChannelBalance != nil,
		m.IbcHooksReceive != nil,
	} {
		if set {
			n++
		}
	}
	return n
}

// Cw20ReceiveMsg is the hook a token contract calls after moving tokens to the bridge.
type Cw20ReceiveMsg struct {
	Sender string          `json:"sender"`
	Amount decimal.Decimal `json:"amount"`
	Msg    json.RawMessage `json:"msg"`
}

// TransferBackMsg sends tokens back to the chain they came from.
type TransferBackMsg struct {
	LocalChannelID string  `json:"local_channel_id"`
	RemoteAddress  string  `json:"remote_address"`
	RemoteDenom    string  `json:"remote_denom"`
	Timeout        *uint64 `json:"timeout,omitempty"`
	Memo           string  `json:"memo,omitempty"`
}

type UpdatePairMsg struct {
	LocalChannelID    string           `json:"local_channel_id" toml:"local_channel_id"`
	Denom             string           `json:"denom" toml:"denom"`
	AssetInfo         amount.AssetInfo `json:"asset_info" toml:"asset_info"`
	RemoteDecimals    uint8            `json:"remote_decimals" toml:"remote_decimals"`
	AssetInfoDecimals uint8            `json:"asset_info_decimals" toml:"asset_info_decimals"`
	IsMintBurn        *bool            `json:"is_mint_burn,omitempty" toml:"is_mint_burn,omitempty"`
}

type DeletePairMsg struct {
	LocalChannelID string `json:"local_channel_id"`
	Denom          string `json:"denom"`
}

// AllowMsg allows a token contract, optionally with a gas limit on its transfers.
type AllowMsg struct {
	Contract string  `json:"contract" toml:"contract"`
	GasLimit *uint64 `json:"gas_limit,omitempty" toml:"gas_limit,omitempty"`
}

// UpdateConfigMsg changes every field that is set.
type UpdateConfigMsg struct {
	Admin                  *string           `json:"admin,omitempty"`
	DefaultTimeout         *uint64           `json:"default_timeout,omitempty"`
	DefaultGasLimit        *uint64           `json:"default_gas_limit,omitempty"`
	FeeDenom               *string           `json:"fee_denom,omitempty"`
	SwapRouterContract     *string           `json:"swap_router_contract,omitempty"`
	TokenFeeReceiver       *string           `json:"token_fee_receiver,omitempty"`
	RelayerFeeReceiver     *string           `json:"relayer_fee_receiver,omitempty"`
	ConverterContract      *string           `json:"converter_contract,omitempty"`
	OsorEntrypointContract *string           `json:"osor_entrypoint_contract,omitempty"`
	TokenFee               []fees.TokenFee   `json:"token_fee,omitempty"`
	RelayerFee             []fees.RelayerFee `json:"relayer_fee,omitempty"`
}

// ChannelBalanceMsg is the payload of the self-only balance calls.
type ChannelBalanceMsg struct {
	DestChannelID string          `json:"dest_channel_id"`
	IbcDenom      string          `json:"ibc_denom"`
	Amount        decimal.Decimal `json:"amount"`
	LocalReceiver string          `json:"local_receiver"`
}

type OverrideChannelBalanceMsg struct {
	ChannelID   string           `json:"channel_id"`
	IbcDenom    string           `json:"ibc_denom"`
	Outstanding decimal.Decimal  `json:"outstanding"`
	TotalSent   *decimal.Decimal `json:"total_sent,omitempty"`
}

// IbcHooksReceiveMsg is delivered by the ibc hooks middleware with a compact
// byte encoded argument list.
type IbcHooksReceiveMsg struct {
	Func       string `json:"func"`
	OrigSender string `json:"orig_sender"`
	Args       []byte `json:"args"`
}

// Attribute is a key value pair emitted with a response.
type Attribute struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// Response is what every entrypoint hands back to the host: the messages to
// run after it returns, event attributes, optional data and, for packet
// receives, the acknowledgement.
type Response struct {
	Messages   []actions.SubMsg `json:"messages,omitempty"`
	Attributes []Attribute      `json:"attributes,omitempty"`
	Data       []byte           `json:"data,omitempty"`
	Ack        []byte           `json:"ack,omitempty"`
}

func (r *Response) Add(msgs ...actions.SubMsg) *Response {
	r.Messages = append(r.Messages, msgs...)
	return r
}

// AddAction schedules a message whose failure aborts the call. nil is skipped.
func (r *Response) AddAction(a actions.Action) *Response {
	if a == nil {
		return r
	}
	return r.Add(actions.Plain(a))
}

func (r *Response) Attr(key, value string) *Response {
	r.Attributes = append(r.Attributes, Attribute{Key: key, Value: value})
	return r
}

// Attribute returns the first value recorded under key.
func (r *Response) Attribute(key string) (string, bool) {
	for _, a := range r.Attributes {
		if a.Key == key {
			return a.Value, true
		}
	}
	return "", false
}

func selfCall(contract string, msg ExecuteMsg) (actions.Action, error) {
	raw, err := json.Marshal(msg)
	if err != nil {
		return nil, err
	}
	return actions.ContractCall{Contract: contract, Msg: raw}, nil
}
