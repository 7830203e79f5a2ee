package relay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/Cogwheel-Validator/spectra-ics20-bridge/bridge/actions"
	"github.com/Cogwheel-Validator/spectra-ics20-bridge/bridge/amount"
	"github.com/Cogwheel-Validator/spectra-ics20-bridge/bridge/fees"
	"github.com/Cogwheel-Validator/spectra-ics20-bridge/bridge/mapping"
	"github.com/Cogwheel-Validator/spectra-ics20-bridge/bridge/models"
	"github.com/Cogwheel-Validator/spectra-ics20-bridge/bridge/store"
	"github.com/shopspring/decimal"
)

// ChannelOpen enforces the ics20 version and unordered delivery.
func (c *Contract) ChannelOpen(_ context.Context, _ store.KV, _ models.Env, channel models.IbcChannel, counterpartyVersion string) error {
	return enforceOrderAndVersion(channel, counterpartyVersion)
}

// ChannelConnect records the channel. A channel is never updated once connected.
func (c *Contract) ChannelConnect(_ context.Context, kv store.KV, _ models.Env, channel models.IbcChannel, counterpartyVersion string) (*Response, error) {
	if err := enforceOrderAndVersion(channel, counterpartyVersion); err != nil {
		return nil, err
	}
	info := ChannelInfo{
		ID:                   channel.Endpoint.ChannelID,
		CounterpartyEndpoint: channel.CounterpartyEndpoint,
		ConnectionID:         channel.ConnectionID,
	}
	if err := c.channels.Save(kv, info, info.ID); err != nil {
		return nil, err
	}
	res := &Response{}
	return res.Attr("action", "channel_connect").Attr("channel_id", info.ID), nil
}

// ChannelClose always fails; channels are permanent.
func (c *Contract) ChannelClose(_ context.Context, _ store.KV, _ models.Env, channel models.IbcChannel) (*Response, error) {
	return nil, fmt.Errorf("%w: %s", ErrCannotCloseChannel, channel.Endpoint.ChannelID)
}

func enforceOrderAndVersion(channel models.IbcChannel, counterpartyVersion string) error {
	if channel.Version != models.Ics20Version {
		return fmt.Errorf("%w: %s", ErrInvalidIbcVersion, channel.Version)
	}
	if counterpartyVersion != "" && counterpartyVersion != models.Ics20Version {
		return fmt.Errorf("%w: %s", ErrInvalidIbcVersion, counterpartyVersion)
	}
	if channel.Order != models.OrderUnordered {
		return ErrOnlyUnorderedChannel
	}
	return nil
}

// HasChannel reports whether the channel was connected.
func (c *Contract) HasChannel(kv store.KV, channelID string) (bool, error) {
	return c.channels.Has(kv, channelID)
}

// PacketReceive never fails. Any error becomes an error acknowledgement and
// every write made while handling the packet is dropped.
func (c *Contract) PacketReceive(ctx context.Context, kv store.KV, env models.Env, packet models.IbcPacket) *Response {
	scratch := store.NewCacheKV(kv)
	res, err := c.doPacketReceive(ctx, scratch, env, packet)
	if err == nil {
		err = scratch.Write()
	}
	if err != nil {
		scratch.Discard()
		log.Debug().Err(err).Str("channel", packet.Dest.ChannelID).Uint64("sequence", packet.Sequence).Msg("packet rejected")
		res = &Response{Ack: models.AckFail(err.Error())}
		return res.Attr("action", "receive").Attr("success", "false").Attr("error", err.Error())
	}
	return res
}

func (c *Contract) doPacketReceive(ctx context.Context, kv store.KV, env models.Env, packet models.IbcPacket) (*Response, error) {
	msg, err := models.ParseIcs20Packet(packet.Data)
	if err != nil {
		return nil, err
	}
	base, native, err := mapping.ParseVoucherDenom(msg.Denom, packet.Src)
	if err != nil {
		return nil, err
	}
	if !native {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedDenom, msg.Denom)
	}
	return c.receiveNativeRemote(ctx, kv, env, base, packet, msg)
}

// receiveNativeRemote credits a token that originates on the counterparty.
// The balance increase is its own step; the payout to the receiver is guarded
// by a reply so its failure never turns into an error acknowledgement.
func (c *Contract) receiveNativeRemote(ctx context.Context, kv store.KV, env models.Env, denom string, packet models.IbcPacket, msg models.Ics20Packet) (*Response, error) {
	cfg, err := c.loadConfig(kv)
	if err != nil {
		return nil, err
	}
	ibcDenom := mapping.GetKey(packet.Dest.PortID, packet.Dest.ChannelID, denom)
	md, err := c.mapper.Resolve(kv, ibcDenom)
	if errors.Is(err, mapping.ErrMappingNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrNotOnMappingList, ibcDenom)
	}
	if err != nil {
		return nil, err
	}
	localAmount, err := amount.ConvertRemoteToLocal(msg.Amount, md.RemoteDecimals, md.AssetInfoDecimals)
	if err != nil {
		return nil, err
	}

	res := &Response{Ack: models.AckSuccess()}
	increase, err := selfCall(env.Contract, ExecuteMsg{IncreaseChannelBalanceIbcReceive: &ChannelBalanceMsg{
		DestChannelID: packet.Dest.ChannelID,
		IbcDenom:      ibcDenom,
		Amount:        msg.Amount,
		LocalReceiver: msg.Receiver,
	}})
	if err != nil {
		return nil, err
	}
	res.AddAction(increase)

	feeData, err := c.fees.ProcessDeductFee(ctx, kv, fees.Request{
		RemoteSender:  msg.Sender,
		RemoteDenom:   denom,
		Amount:        localAmount,
		Asset:         md.AssetInfo,
		AssetDecimals: md.AssetInfoDecimals,
		FeeDenom:      cfg.FeeDenom,
	})
	if err != nil {
		return nil, err
	}
	if err := c.addFeePayouts(res, cfg, md, feeData, true); err != nil {
		return nil, err
	}

	res.Attr("action", "receive_native").
		Attr("sender", msg.Sender).
		Attr("receiver", msg.Receiver).
		Attr("denom", denom).
		Attr("amount", msg.Amount.String()).
		Attr("token_fee", feeData.TokenFee.String()).
		Attr("relayer_fee", feeData.RelayerFee.String()).
		Attr("success", "true")

	if feeData.DeductedAmount.IsZero() {
		return res, nil
	}

	mint, err := actions.BuildMint(md.IsMintBurn, md.AssetInfo, feeData.DeductedAmount, env.Contract)
	if err != nil {
		return nil, err
	}
	res.AddAction(mint)

	followUp, err := c.followUp(kv, cfg, md.AssetInfo, feeData.DeductedAmount, msg.Receiver, msg.Memo)
	if err != nil {
		return nil, err
	}
	res.Add(followUp)
	return res, nil
}

// followUp delivers an inbound transfer. An empty memo is a direct send;
// otherwise the funds go to the universal swap entrypoint with the memo as
// routing instructions.
func (c *Contract) followUp(kv store.KV, cfg Config, info amount.AssetInfo, amt decimal.Decimal, receiver, memo string) (actions.SubMsg, error) {
	if memo == "" || cfg.OsorEntrypointContract == "" {
		sub := actions.OnError(actions.SendAmount(info, amt, receiver), actions.ReplyNativeReceive)
		gas, err := c.gasLimitFor(kv, info)
		if err != nil {
			// the payout still goes out, only without a gas limit
			log.Warn().Err(err).Stringer("asset", info).Msg("no gas limit for payout")
		} else {
			sub.GasLimit = gas
		}
		return sub, nil
	}
	raw, err := json.Marshal(map[string]any{
		"universal_swap": map[string]any{
			"memo":     memo,
			"receiver": receiver,
		},
	})
	if err != nil {
		return actions.SubMsg{}, err
	}
	call := actions.ContractCall{
		Contract: cfg.OsorEntrypointContract,
		Msg:      raw,
		Funds:    []amount.Coin{amount.NewCoin(info.BankDenom(), amt)},
	}
	return actions.OnError(call, actions.ReplyUniversalSwap), nil
}

// addFeePayouts pays the token and relayer fee receivers. Zero fees are
// skipped. Inbound mint/burn payouts are minted, everything else is paid from
// funds the contract holds.
func (c *Contract) addFeePayouts(res *Response, cfg Config, md mapping.MappingMetadata, data fees.FeeData, inbound bool) error {
	payouts := []struct {
		to  string
		amt decimal.Decimal
	}{
		{cfg.TokenFeeReceiver, data.TokenFee},
		{cfg.RelayerFeeReceiver, data.RelayerFee},
	}
	for _, p := range payouts {
		if p.amt.IsZero() || p.to == "" {
			continue
		}
		if inbound && md.IsMintBurn {
			mint, err := actions.BuildMint(true, md.AssetInfo, p.amt, p.to)
			if err != nil {
				return err
			}
			res.AddAction(mint)
			continue
		}
		res.AddAction(actions.SendAmount(md.AssetInfo, p.amt, p.to))
	}
	return nil
}

// PacketAck finalises an outbound packet. Success needs no work; an error
// acknowledgement is compensated like a timeout.
func (c *Contract) PacketAck(ctx context.Context, kv store.KV, env models.Env, packet models.IbcPacket, ackData []byte) (*Response, error) {
	ack, err := models.ParseAck(ackData)
	if err != nil {
		return nil, err
	}
	if !ack.Success() {
		return c.onPacketFailure(ctx, kv, env, packet, ack.Error)
	}
	msg, err := models.ParseIcs20Packet(packet.Data)
	if err != nil {
		return nil, err
	}
	res := &Response{}
	return res.Attr("action", "acknowledge").
		Attr("sender", msg.Sender).
		Attr("receiver", msg.Receiver).
		Attr("denom", msg.Denom).
		Attr("amount", msg.Amount.String()).
		Attr("success", "true"), nil
}

// PacketTimeout compensates an outbound packet that never arrived.
func (c *Contract) PacketTimeout(ctx context.Context, kv store.KV, env models.Env, packet models.IbcPacket) (*Response, error) {
	return c.onPacketFailure(ctx, kv, env, packet, "timeout")
}

// onPacketFailure restores the outstanding balance reduced at send time and
// refunds the sender. Denoms that are not mapped were never accounted for
// and are left alone.
func (c *Contract) onPacketFailure(_ context.Context, kv store.KV, env models.Env, packet models.IbcPacket, reason string) (*Response, error) {
	msg, err := models.ParseIcs20Packet(packet.Data)
	if err != nil {
		return nil, err
	}
	res := &Response{}
	res.Attr("action", "acknowledge").
		Attr("sender", msg.Sender).
		Attr("receiver", msg.Receiver).
		Attr("denom", msg.Denom).
		Attr("amount", msg.Amount.String()).
		Attr("success", "false").
		Attr("error", reason)

	md, ok, err := c.resolveOptional(kv, msg.Denom)
	if err != nil {
		return nil, err
	}
	if !ok {
		return res, nil
	}

	if err := c.ledger.UndoReduce(kv, packet.Src.ChannelID, msg.Denom, msg.Amount); err != nil {
		return nil, err
	}
	localAmount, err := amount.ConvertRemoteToLocal(msg.Amount, md.RemoteDecimals, md.AssetInfoDecimals)
	if err != nil {
		return nil, err
	}

	var refund actions.Action
	if md.IsMintBurn {
		refund, err = actions.BuildMint(true, md.AssetInfo, localAmount, msg.Sender)
		if err != nil {
			return nil, err
		}
	} else {
		refund = actions.SendAmount(md.AssetInfo, localAmount, msg.Sender)
	}
	sub := actions.OnError(refund, actions.ReplyRefund)
	if gas, err := c.gasLimitFor(kv, md.AssetInfo); err != nil {
		log.Warn().Err(err).Stringer("asset", md.AssetInfo).Msg("no gas limit for refund")
	} else {
		sub.GasLimit = gas
	}
	res.Add(sub)
	return res, nil
}

func (c *Contract) resolveOptional(kv store.KV, ibcDenom string) (mapping.MappingMetadata, bool, error) {
	md, err := c.mapper.Resolve(kv, ibcDenom)
	if errors.Is(err, mapping.ErrMappingNotFound) {
		return md, false, nil
	}
	return md, err == nil, err
}

// Reply handles the outcome of a guarded sub message. Failures are never
// propagated: the call is forced to succeed and the error is kept as an
// attribute, leaving the funds in custody for an administrator.
func (c *Contract) Reply(_ context.Context, kv store.KV, _ models.Env, reply actions.Reply) (*Response, error) {
	res := &Response{}
	if reply.Err == "" {
		switch reply.Kind {
		case actions.ReplyNativeReceive, actions.ReplyRefund, actions.ReplyUniversalSwap, actions.ReplyFollowUp:
			return res, nil
		default:
			return nil, &UnknownReplyError{Kind: reply.Kind}
		}
	}

	switch reply.Kind {
	case actions.ReplyNativeReceive:
		res.Attr("error_transferring_ibc_tokens_to_cw20", reply.Err)
	case actions.ReplyRefund:
		res.Attr("error_refunding_tokens", reply.Err)
	case actions.ReplyUniversalSwap:
		res.Attr("error_trying_to_call_entrypoint_for_universal_swap", reply.Err)
	case actions.ReplyFollowUp:
		args, ok, err := c.singleStepReplyArgs.Load(kv)
		if err != nil {
			return nil, err
		}
		if ok {
			if err := c.ledger.UndoReduce(kv, args.Channel, args.Denom, args.Amount); err != nil {
				return nil, err
			}
			if err := c.singleStepReplyArgs.Remove(kv); err != nil {
				return nil, err
			}
		}
		res.Attr("error_follow_up_msgs", reply.Err)
	default:
		return nil, &UnknownReplyError{Kind: reply.Kind}
	}

	log.Error().Str("reply", reply.Kind.String()).Str("error", reply.Err).Msg("scheduled message failed, funds kept by the bridge")
	res.Data = models.AckSuccess()
	return res, nil
}
