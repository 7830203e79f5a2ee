package relay

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/Cogwheel-Validator/spectra-ics20-bridge/bridge/amount"
	"github.com/Cogwheel-Validator/spectra-ics20-bridge/bridge/mapping"
	"github.com/Cogwheel-Validator/spectra-ics20-bridge/bridge/models"
	"github.com/Cogwheel-Validator/spectra-ics20-bridge/bridge/store"
)

// Instantiate stores the initial configuration, admin and allow list.
func (c *Contract) Instantiate(_ context.Context, kv store.KV, _ models.Env, _ models.MessageInfo, msg InitMsg) (*Response, error) {
	if msg.Admin == "" {
		return nil, fmt.Errorf("%w: admin is required", ErrInvalidMessage)
	}
	cfg := Config{
		DefaultTimeout:         msg.DefaultTimeout,
		DefaultGasLimit:        msg.DefaultGasLimit,
		FeeDenom:               msg.FeeDenom,
		SwapRouterContract:     msg.SwapRouterContract,
		TokenFeeReceiver:       msg.TokenFeeReceiver,
		RelayerFeeReceiver:     msg.RelayerFeeReceiver,
		ConverterContract:      msg.ConverterContract,
		OsorEntrypointContract: msg.OsorEntrypointContract,
	}
	if cfg.FeeDenom == "" {
		cfg.FeeDenom = DefaultFeeDenom
	}
	if cfg.TokenFeeReceiver == "" {
		cfg.TokenFeeReceiver = msg.Admin
	}
	if cfg.RelayerFeeReceiver == "" {
		cfg.RelayerFeeReceiver = msg.Admin
	}
	if err := c.config.Save(kv, cfg); err != nil {
		return nil, err
	}
	if err := c.admin.Save(kv, msg.Admin); err != nil {
		return nil, err
	}
	for _, allowed := range msg.Allowlist {
		if err := c.allowList.Save(kv, AllowInfo{GasLimit: allowed.GasLimit}, allowed.Contract); err != nil {
			return nil, err
		}
	}
	res := &Response{}
	return res.Attr("action", "instantiate").Attr("admin", msg.Admin), nil
}

// Execute dispatches a user or self call.
func (c *Contract) Execute(ctx context.Context, kv store.KV, env models.Env, info models.MessageInfo, msg ExecuteMsg) (*Response, error) {
	if msg.variants() != 1 {
		return nil, ErrInvalidMessage
	}
	switch {
	case msg.Receive != nil:
		return c.executeReceive(ctx, kv, env, info, *msg.Receive)
	case msg.TransferToRemote != nil:
		coin, err := oneCoin(info)
		if err != nil {
			return nil, err
		}
		asset := amount.Asset{Info: amount.NewNative(coin.Denom), Amount: coin.Amount}
		return c.transferToRemote(ctx, kv, env, *msg.TransferToRemote, asset, info.Sender)
	case msg.UpdateMappingPair != nil:
		return c.updateMappingPair(kv, env, info, *msg.UpdateMappingPair)
	case msg.DeleteMappingPair != nil:
		return c.deleteMappingPair(kv, env, info, *msg.DeleteMappingPair)
	case msg.Allow != nil:
		return c.allow(kv, info, *msg.Allow)
	case msg.UpdateConfig != nil:
		return c.updateConfig(kv, info, *msg.UpdateConfig)
	case msg.IncreaseChannelBalanceIbcReceive != nil:
		return c.increaseChannelBalanceIbcReceive(kv, env, info, *msg.IncreaseChannelBalanceIbcReceive)
	case msg.ReduceChannelBalanceIbcReceive != nil:
		return c.reduceChannelBalanceIbcReceive(kv, env, info, *msg.ReduceChannelBalanceIbcReceive)
	case msg.OverrideChannelBalance != nil:
		return c.overrideChannelBalance(kv, info, *msg.OverrideChannelBalance)
	default:
		return c.ibcHooksReceive(ctx, kv, env, info, *msg.IbcHooksReceive)
	}
}

func oneCoin(info models.MessageInfo) (amount.Coin, error) {
	if len(info.Funds) == 0 {
		return amount.Coin{}, ErrNoFunds
	}
	if len(info.Funds) != 1 {
		return amount.Coin{}, ErrPayment
	}
	coin := info.Funds[0]
	if coin.Amount.IsZero() {
		return amount.Coin{}, ErrNoFunds
	}
	return coin, nil
}

// executeReceive handles tokens a token contract forwarded to the bridge. The
// calling contract is the token; the embedded sender is its previous owner.
func (c *Contract) executeReceive(ctx context.Context, kv store.KV, env models.Env, info models.MessageInfo, wrapper Cw20ReceiveMsg) (*Response, error) {
	if len(info.Funds) != 0 {
		return nil, ErrNonPayable
	}
	asset := amount.Asset{Info: amount.NewToken(info.Sender), Amount: wrapper.Amount}
	if _, err := c.gasLimitFor(kv, asset.Info); err != nil {
		return nil, err
	}
	var msg TransferBackMsg
	if err := json.Unmarshal(wrapper.Msg, &msg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidMessage, err)
	}
	return c.transferToRemote(ctx, kv, env, msg, asset, wrapper.Sender)
}

func (c *Contract) updateMappingPair(kv store.KV, env models.Env, info models.MessageInfo, msg UpdatePairMsg) (*Response, error) {
	if err := c.assertAdmin(kv, info.Sender); err != nil {
		return nil, err
	}
	ibcDenom := mapping.GetKey(models.PortID(env.Contract), msg.LocalChannelID, msg.Denom)
	md := mapping.MappingMetadata{
		AssetInfo:         msg.AssetInfo,
		RemoteDecimals:    msg.RemoteDecimals,
		AssetInfoDecimals: msg.AssetInfoDecimals,
		IsMintBurn:        msg.IsMintBurn != nil && *msg.IsMintBurn,
	}
	if err := c.mapper.Update(kv, ibcDenom, md); err != nil {
		return nil, err
	}
	res := &Response{}
	return res.Attr("action", "update_mapping_pair").
		Attr("denom", msg.Denom).
		Attr("new_asset_info", msg.AssetInfo.String()), nil
}

func (c *Contract) deleteMappingPair(kv store.KV, env models.Env, info models.MessageInfo, msg DeletePairMsg) (*Response, error) {
	if err := c.assertAdmin(kv, info.Sender); err != nil {
		return nil, err
	}
	ibcDenom := mapping.GetKey(models.PortID(env.Contract), msg.LocalChannelID, msg.Denom)
	if err := c.mapper.Delete(kv, ibcDenom); err != nil {
		return nil, err
	}
	res := &Response{}
	return res.Attr("action", "delete_mapping_pair").
		Attr("local_channel_id", msg.LocalChannelID).
		Attr("original_denom", msg.Denom), nil
}

// allow adds a token to the allow list or raises its gas limit. Limits can
// never be lowered, so tokens cannot be stuck by a governance change.
func (c *Contract) allow(kv store.KV, info models.MessageInfo, msg AllowMsg) (*Response, error) {
	if err := c.assertAdmin(kv, info.Sender); err != nil {
		return nil, err
	}
	old, ok, err := c.allowList.Load(kv, msg.Contract)
	if err != nil {
		return nil, err
	}
	if ok {
		switch {
		case old.GasLimit == nil && msg.GasLimit != nil:
			return nil, ErrCannotLowerGas
		case old.GasLimit != nil && msg.GasLimit != nil && *msg.GasLimit < *old.GasLimit:
			return nil, ErrCannotLowerGas
		}
	}
	if err := c.allowList.Save(kv, AllowInfo{GasLimit: msg.GasLimit}, msg.Contract); err != nil {
		return nil, err
	}
	gas := "None"
	if msg.GasLimit != nil {
		gas = strconv.FormatUint(*msg.GasLimit, 10)
	}
	res := &Response{}
	return res.Attr("action", "allow").Attr("contract", msg.Contract).Attr("gas_limit", gas), nil
}

func (c *Contract) updateConfig(kv store.KV, info models.MessageInfo, msg UpdateConfigMsg) (*Response, error) {
	if err := c.assertAdmin(kv, info.Sender); err != nil {
		return nil, err
	}
	for _, fee := range msg.TokenFee {
		if err := c.fees.SetTokenFee(kv, fee); err != nil {
			return nil, err
		}
	}
	for _, fee := range msg.RelayerFee {
		if err := c.fees.SetRelayerFee(kv, fee); err != nil {
			return nil, err
		}
	}

	cfg, err := c.loadConfig(kv)
	if err != nil {
		return nil, err
	}
	setString := func(dst *string, v *string) {
		if v != nil {
			*dst = *v
		}
	}
	if msg.DefaultTimeout != nil {
		cfg.DefaultTimeout = *msg.DefaultTimeout
	}
	if msg.DefaultGasLimit != nil {
		cfg.DefaultGasLimit = msg.DefaultGasLimit
	}
	setString(&cfg.FeeDenom, msg.FeeDenom)
	setString(&cfg.SwapRouterContract, msg.SwapRouterContract)
	setString(&cfg.TokenFeeReceiver, msg.TokenFeeReceiver)
	setString(&cfg.RelayerFeeReceiver, msg.RelayerFeeReceiver)
	setString(&cfg.ConverterContract, msg.ConverterContract)
	setString(&cfg.OsorEntrypointContract, msg.OsorEntrypointContract)
	if err := c.config.Save(kv, cfg); err != nil {
		return nil, err
	}
	if msg.Admin != nil {
		if err := c.admin.Save(kv, *msg.Admin); err != nil {
			return nil, err
		}
	}
	res := &Response{}
	return res.Attr("action", "update_config"), nil
}

// increaseChannelBalanceIbcReceive is scheduled by an inbound transfer as its
// own step so the balance update commits independently of the payouts after it.
func (c *Contract) increaseChannelBalanceIbcReceive(kv store.KV, env models.Env, info models.MessageInfo, msg ChannelBalanceMsg) (*Response, error) {
	if info.Sender != env.Contract {
		return nil, ErrSelfCallOnly
	}
	if err := c.ledger.Increase(kv, msg.DestChannelID, msg.IbcDenom, msg.Amount); err != nil {
		return nil, err
	}
	err := c.replyArgs.Save(kv, ReplyArgs{
		Channel:       msg.DestChannelID,
		Denom:         msg.IbcDenom,
		Amount:        msg.Amount,
		LocalReceiver: msg.LocalReceiver,
	})
	if err != nil {
		return nil, err
	}
	res := &Response{}
	return res.Attr("action", "increase_channel_balance_ibc_receive").
		Attr("channel_id", msg.DestChannelID).
		Attr("ibc_denom", msg.IbcDenom).
		Attr("amount", msg.Amount.String()), nil
}

// reduceChannelBalanceIbcReceive is scheduled ahead of an outbound hop. The
// hop's failure handler reads the scratch record to undo the reduction.
func (c *Contract) reduceChannelBalanceIbcReceive(kv store.KV, env models.Env, info models.MessageInfo, msg ChannelBalanceMsg) (*Response, error) {
	if info.Sender != env.Contract {
		return nil, ErrSelfCallOnly
	}
	if err := c.ledger.Reduce(kv, msg.DestChannelID, msg.IbcDenom, msg.Amount); err != nil {
		return nil, err
	}
	err := c.singleStepReplyArgs.Save(kv, ReplyArgs{
		Channel:       msg.DestChannelID,
		Denom:         msg.IbcDenom,
		Amount:        msg.Amount,
		LocalReceiver: msg.LocalReceiver,
	})
	if err != nil {
		return nil, err
	}
	res := &Response{}
	return res.Attr("action", "reduce_channel_balance_ibc_receive").
		Attr("channel_id", msg.DestChannelID).
		Attr("ibc_denom", msg.IbcDenom).
		Attr("amount", msg.Amount.String()), nil
}

func (c *Contract) overrideChannelBalance(kv store.KV, info models.MessageInfo, msg OverrideChannelBalanceMsg) (*Response, error) {
	if err := c.assertAdmin(kv, info.Sender); err != nil {
		return nil, err
	}
	if err := c.ledger.Override(kv, msg.ChannelID, msg.IbcDenom, msg.Outstanding, msg.TotalSent); err != nil {
		return nil, err
	}
	res := &Response{}
	return res.Attr("action", "override_channel_balance").
		Attr("channel_id", msg.ChannelID).
		Attr("ibc_denom", msg.IbcDenom).
		Attr("outstanding", msg.Outstanding.String()), nil
}
