package relay_test

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/Cogwheel-Validator/spectra-ics20-bridge/bridge/actions"
	"github.com/Cogwheel-Validator/spectra-ics20-bridge/bridge/amount"
	"github.com/Cogwheel-Validator/spectra-ics20-bridge/bridge/fees"
	"github.com/Cogwheel-Validator/spectra-ics20-bridge/bridge/models"
	"github.com/Cogwheel-Validator/spectra-ics20-bridge/bridge/relay"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/zeebo/assert"
)

func inboundPacket(t *testing.T, denom string, amt int64, memo string) models.IbcPacket {
	t.Helper()
	data, err := models.NewIcs20Packet(decimal.NewFromInt(amt), denom, "cosmos1sender", "orai1receiver", memo).Marshal()
	assert.NoError(t, err)
	return models.IbcPacket{Data: data, Src: remoteEnd, Dest: localEnd, Sequence: 1}
}

func ackError(t *testing.T, res *relay.Response) string {
	t.Helper()
	ack, err := models.ParseAck(res.Ack)
	assert.NoError(t, err)
	return ack.Error
}

func TestChannelHandshake(t *testing.T) {
	f := setup(t)
	channel := models.IbcChannel{Endpoint: localEnd, CounterpartyEndpoint: remoteEnd, Order: models.OrderUnordered, Version: models.Ics20Version}
	assert.NoError(t, f.c.ChannelOpen(ctx, f.kv, env, channel, ""))

	bad := channel
	bad.Version = "ics20-2"
	assert.True(t, errors.Is(f.c.ChannelOpen(ctx, f.kv, env, bad, ""), relay.ErrInvalidIbcVersion))
	assert.True(t, errors.Is(f.c.ChannelOpen(ctx, f.kv, env, channel, "ics20-2"), relay.ErrInvalidIbcVersion))

	bad = channel
	bad.Order = models.OrderOrdered
	assert.True(t, errors.Is(f.c.ChannelOpen(ctx, f.kv, env, bad, ""), relay.ErrOnlyUnorderedChannel))
	_, err := f.c.ChannelConnect(ctx, f.kv, env, bad, models.Ics20Version)
	assert.True(t, errors.Is(err, relay.ErrOnlyUnorderedChannel))

	_, err = f.c.ChannelClose(ctx, f.kv, env, channel)
	assert.True(t, errors.Is(err, relay.ErrCannotCloseChannel))

	ok, err := f.c.HasChannel(f.kv, localChannel)
	assert.NoError(t, err)
	assert.True(t, ok)
}

func TestPacketReceive(t *testing.T) {
	f := setup(t)
	res := f.c.PacketReceive(ctx, f.kv, env, inboundPacket(t, "uatom", 1000, ""))
	assert.Equal(t, "", ackError(t, res))
	assert.DeepEqual(t, models.AckSuccess(), res.Ack)
	assert.Equal(t, 2, len(res.Messages))

	// the balance increase is a self call of its own
	call, ok := res.Messages[0].Action.(actions.ContractCall)
	assert.True(t, ok)
	assert.Equal(t, contractAddr, call.Contract)
	var msg relay.ExecuteMsg
	assert.NoError(t, json.Unmarshal(call.Msg, &msg))
	assert.NotNil(t, msg.IncreaseChannelBalanceIbcReceive)
	assert.Equal(t, atomKey, msg.IncreaseChannelBalanceIbcReceive.IbcDenom)
	assert.Equal(t, "1000", msg.IncreaseChannelBalanceIbcReceive.Amount.String())

	payout := res.Messages[1]
	assert.Equal(t, actions.ReplyOnError, payout.ReplyOn)
	assert.Equal(t, actions.ReplyNativeReceive, payout.Reply)
	transfer, ok := payout.Action.(actions.TokenTransfer)
	assert.True(t, ok)
	assert.Equal(t, "orai1receiver", transfer.Recipient)
	assert.Equal(t, "1000", transfer.Amount.String())

	// nothing is accounted before the self call runs
	assert.Equal(t, "0", f.outstanding(t, localChannel, atomKey))
	f.execute(t, contractAddr, msg)
	assert.Equal(t, "1000", f.outstanding(t, localChannel, atomKey))
}

func TestPayoutWithoutGasLimitIsLogged(t *testing.T) {
	var buf bytes.Buffer
	relay.SetLogger(zerolog.New(&buf))
	defer relay.SetLogger(zerolog.Nop())

	f := setup(t)
	osmo := amount.NewToken("cw20osmo")
	f.execute(t, admin, relay.ExecuteMsg{UpdateMappingPair: &relay.UpdatePairMsg{
		LocalChannelID:    localChannel,
		Denom:             "uosmo",
		AssetInfo:         osmo,
		RemoteDecimals:    6,
		AssetInfoDecimals: 6,
	}})

	res := f.c.PacketReceive(ctx, f.kv, env, inboundPacket(t, "uosmo", 1000, ""))
	assert.Equal(t, "", ackError(t, res))
	payout := res.Messages[len(res.Messages)-1]
	_, ok := payout.Action.(actions.TokenTransfer)
	assert.True(t, ok)
	assert.Nil(t, payout.GasLimit)

	logged := buf.String()
	assert.True(t, strings.Contains(logged, "no gas limit for payout"))
	assert.True(t, strings.Contains(logged, osmo.String()))
}

func TestPacketReceiveRejections(t *testing.T) {
	f := setup(t)

	res := f.c.PacketReceive(ctx, f.kv, env, inboundPacket(t, "uosmo", 10, ""))
	assert.NotEqual(t, "", ackError(t, res))
	assert.Equal(t, 0, len(res.Messages))
	success, _ := res.Attribute("success")
	assert.Equal(t, "false", success)

	// vouchers of our own tokens coming back are not handled here
	res = f.c.PacketReceive(ctx, f.kv, env, inboundPacket(t, "transfer/channel-7/uatom", 10, ""))
	assert.Equal(t, relay.ErrUnsupportedDenom.Error()+": transfer/channel-7/uatom", ackError(t, res))

	res = f.c.PacketReceive(ctx, f.kv, env, inboundPacket(t, "other/channel-7/uatom", 10, ""))
	assert.NotEqual(t, "", ackError(t, res))

	pkt := inboundPacket(t, "uatom", 10, "")
	pkt.Data = []byte("{not json")
	res = f.c.PacketReceive(ctx, f.kv, env, pkt)
	assert.NotEqual(t, "", ackError(t, res))
}

func TestPacketReceiveWithMemoGoesToEntrypoint(t *testing.T) {
	f := setup(t)
	entry := "osor"
	f.execute(t, admin, relay.ExecuteMsg{UpdateConfig: &relay.UpdateConfigMsg{OsorEntrypointContract: &entry}})

	res := f.c.PacketReceive(ctx, f.kv, env, inboundPacket(t, "uatom", 1000, "swap:orai"))
	assert.Equal(t, 2, len(res.Messages))
	assert.Equal(t, actions.ReplyUniversalSwap, res.Messages[1].Reply)
	call, ok := res.Messages[1].Action.(actions.ContractCall)
	assert.True(t, ok)
	assert.Equal(t, entry, call.Contract)
	assert.Equal(t, amount.NewToken(atomToken).BankDenom(), call.Funds[0].Denom)
	assert.Equal(t, "1000", call.Funds[0].Amount.String())
}

func TestPacketReceiveMintBurnWithFees(t *testing.T) {
	f := setup(t)
	yes := true
	f.execute(t, admin, relay.ExecuteMsg{UpdateMappingPair: &relay.UpdatePairMsg{
		LocalChannelID:    localChannel,
		Denom:             "uatom",
		AssetInfo:         amount.NewToken(atomToken),
		RemoteDecimals:    6,
		AssetInfoDecimals: 6,
		IsMintBurn:        &yes,
	}})
	assert.NoError(t, f.c.Fees().SetTokenFee(f.kv, fees.TokenFee{TokenDenom: "uatom", Ratio: amount.Ratio{Numerator: 1, Denominator: 10}}))

	res := f.c.PacketReceive(ctx, f.kv, env, inboundPacket(t, "uatom", 1000, ""))
	assert.Equal(t, 4, len(res.Messages))

	feeMint, ok := res.Messages[1].Action.(actions.TokenMint)
	assert.True(t, ok)
	assert.Equal(t, admin, feeMint.Recipient)
	assert.Equal(t, "100", feeMint.Amount.String())

	netMint, ok := res.Messages[2].Action.(actions.TokenMint)
	assert.True(t, ok)
	assert.Equal(t, contractAddr, netMint.Recipient)
	assert.Equal(t, "900", netMint.Amount.String())

	payout, ok := res.Messages[3].Action.(actions.TokenTransfer)
	assert.True(t, ok)
	assert.Equal(t, "900", payout.Amount.String())
}

func TestPacketReceiveFeeConsumesEverything(t *testing.T) {
	f := setup(t)
	assert.NoError(t, f.c.Fees().SetTokenFee(f.kv, fees.TokenFee{TokenDenom: "uatom", Ratio: amount.Ratio{Numerator: 1, Denominator: 1}}))

	res := f.c.PacketReceive(ctx, f.kv, env, inboundPacket(t, "uatom", 1000, ""))
	assert.Equal(t, "", ackError(t, res))
	assert.Equal(t, 2, len(res.Messages))
	fee, ok := res.Messages[1].Action.(actions.TokenTransfer)
	assert.True(t, ok)
	assert.Equal(t, admin, fee.Recipient)
	assert.Equal(t, "1000", fee.Amount.String())
}

func outboundPacket(t *testing.T, f *fixture, amt int64) models.IbcPacket {
	t.Helper()
	assert.NoError(t, f.c.Ledger().Increase(f.kv, localChannel, atomKey, decimal.NewFromInt(1000)))
	res := f.execute(t, atomToken, transferBack(t, amt))
	send, _ := sentPacket(t, res.Messages[len(res.Messages)-1])
	return models.IbcPacket{Data: send.Data, Src: localEnd, Dest: remoteEnd, Sequence: 3}
}

func TestPacketTimeoutRefunds(t *testing.T) {
	f := setup(t)
	pkt := outboundPacket(t, f, 400)
	assert.Equal(t, "600", f.outstanding(t, localChannel, atomKey))

	res, err := f.c.PacketTimeout(ctx, f.kv, env, pkt)
	assert.NoError(t, err)
	assert.Equal(t, "1000", f.outstanding(t, localChannel, atomKey))
	assert.Equal(t, 1, len(res.Messages))
	assert.Equal(t, actions.ReplyRefund, res.Messages[0].Reply)
	refund, ok := res.Messages[0].Action.(actions.TokenTransfer)
	assert.True(t, ok)
	assert.Equal(t, "alice", refund.Recipient)
	assert.Equal(t, "400", refund.Amount.String())
	reason, _ := res.Attribute("error")
	assert.Equal(t, "timeout", reason)
}

func TestPacketAck(t *testing.T) {
	f := setup(t)
	pkt := outboundPacket(t, f, 400)

	res, err := f.c.PacketAck(ctx, f.kv, env, pkt, models.AckSuccess())
	assert.NoError(t, err)
	assert.Equal(t, 0, len(res.Messages))
	assert.Equal(t, "600", f.outstanding(t, localChannel, atomKey))

	res, err = f.c.PacketAck(ctx, f.kv, env, pkt, models.AckFail("out of gas"))
	assert.NoError(t, err)
	assert.Equal(t, 1, len(res.Messages))
	assert.Equal(t, "1000", f.outstanding(t, localChannel, atomKey))

	_, err = f.c.PacketAck(ctx, f.kv, env, pkt, []byte("{}"))
	assert.Error(t, err)
}

func TestPacketFailureForUnmappedDenomIsNoop(t *testing.T) {
	f := setup(t)
	data, err := models.NewIcs20Packet(decimal.NewFromInt(5), "wasm.bridge/channel-0/unknown", "alice", "bob", "").Marshal()
	assert.NoError(t, err)

	res, err := f.c.PacketTimeout(ctx, f.kv, env, models.IbcPacket{Data: data, Src: localEnd, Dest: remoteEnd})
	assert.NoError(t, err)
	assert.Equal(t, 0, len(res.Messages))
	success, _ := res.Attribute("success")
	assert.Equal(t, "false", success)
}

func TestReplyForcesSuccess(t *testing.T) {
	f := setup(t)
	for kind, attr := range map[actions.ReplyKind]string{
		actions.ReplyNativeReceive: "error_transferring_ibc_tokens_to_cw20",
		actions.ReplyRefund:        "error_refunding_tokens",
		actions.ReplyUniversalSwap: "error_trying_to_call_entrypoint_for_universal_swap",
	} {
		res, err := f.c.Reply(ctx, f.kv, env, actions.Reply{Kind: kind, Err: "boom"})
		assert.NoError(t, err)
		assert.DeepEqual(t, models.AckSuccess(), res.Data)
		value, ok := res.Attribute(attr)
		assert.True(t, ok)
		assert.Equal(t, "boom", value)
	}

	res, err := f.c.Reply(ctx, f.kv, env, actions.Reply{Kind: actions.ReplyRefund})
	assert.NoError(t, err)
	assert.Nil(t, res.Data)

	_, err = f.c.Reply(ctx, f.kv, env, actions.Reply{Kind: actions.ReplyNone, Err: "boom"})
	assert.True(t, errors.Is(err, relay.ErrUnknownReply))
	var unknown *relay.UnknownReplyError
	assert.True(t, errors.As(err, &unknown))
}

func TestFollowUpReplyUndoesReduce(t *testing.T) {
	f := setup(t)
	assert.NoError(t, f.c.Ledger().Increase(f.kv, localChannel, atomKey, decimal.NewFromInt(1000)))
	f.execute(t, contractAddr, relay.ExecuteMsg{ReduceChannelBalanceIbcReceive: &relay.ChannelBalanceMsg{
		DestChannelID: localChannel,
		IbcDenom:      atomKey,
		Amount:        decimal.NewFromInt(300),
	}})
	assert.Equal(t, "700", f.outstanding(t, localChannel, atomKey))

	_, err := f.c.Reply(ctx, f.kv, env, actions.Reply{Kind: actions.ReplyFollowUp, Err: "channel closed"})
	assert.NoError(t, err)
	assert.Equal(t, "1000", f.outstanding(t, localChannel, atomKey))

	// the scratch record is consumed
	_, err = f.c.Reply(ctx, f.kv, env, actions.Reply{Kind: actions.ReplyFollowUp, Err: "channel closed"})
	assert.NoError(t, err)
	assert.Equal(t, "1000", f.outstanding(t, localChannel, atomKey))
}
