package relay_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/Cogwheel-Validator/spectra-ics20-bridge/bridge/actions"
	"github.com/Cogwheel-Validator/spectra-ics20-bridge/bridge/amount"
	"github.com/Cogwheel-Validator/spectra-ics20-bridge/bridge/fees"
	"github.com/Cogwheel-Validator/spectra-ics20-bridge/bridge/mapping"
	"github.com/Cogwheel-Validator/spectra-ics20-bridge/bridge/models"
	"github.com/Cogwheel-Validator/spectra-ics20-bridge/bridge/relay"
	"github.com/shopspring/decimal"
	"github.com/zeebo/assert"
)

const (
	cosmosReceiver = "cosmos14n3tx8s5ftzhlxvq0w5962v60vd82h30sythlz"
	evmReceiver    = "trontrx-mainnet0x3C5C6b570C1DA469E8B24A2E8Ed33c278bDA3222"
	usdtDenom      = "ibc/USDT"
)

var usdtKey = mapping.GetKey(models.PortID(contractAddr), localChannel, "uusdt")

func TestParseDestinationInfo(t *testing.T) {
	for _, tc := range []struct {
		in   string
		want relay.DestinationInfo
	}{
		{"", relay.DestinationInfo{}},
		{cosmosReceiver, relay.DestinationInfo{Receiver: cosmosReceiver}},
		{cosmosReceiver + ":foo", relay.DestinationInfo{Receiver: cosmosReceiver, Denom: "foo"}},
		{"foo/" + cosmosReceiver, relay.DestinationInfo{Receiver: cosmosReceiver, Channel: "foo"}},
		{"channel-15/" + cosmosReceiver + ":atom", relay.DestinationInfo{Receiver: cosmosReceiver, Channel: "channel-15", Denom: "atom"}},
	} {
		assert.Equal(t, tc.want, relay.ParseDestinationInfo(tc.in))
	}
}

func TestReceiverKinds(t *testing.T) {
	_, ok := relay.ParseDestinationInfo(cosmosReceiver).IsReceiverEvmBased()
	assert.False(t, ok)
	// a bare address carries no prefix to match mappings with
	_, ok = relay.ParseDestinationInfo("0x3C5C6b570C1DA469E8B24A2E8Ed33c278bDA3222").IsReceiverEvmBased()
	assert.False(t, ok)
	_, ok = relay.ParseDestinationInfo("foobar0x3C5C6b570C1DA469E8B24A2E8Ed33c278b").IsReceiverEvmBased()
	assert.False(t, ok)

	prefix, ok := relay.ParseDestinationInfo("channel-15/foobar0x3C5C6b570C1DA469E8B24A2E8Ed33c278bDA3222:usdt").IsReceiverEvmBased()
	assert.True(t, ok)
	assert.Equal(t, "foobar", prefix)

	assert.True(t, relay.ParseDestinationInfo("channel-15/"+cosmosReceiver+":usdt").IsReceiverCosmosBased())
	assert.False(t, relay.ParseDestinationInfo("channel-15/foo:usdt").IsReceiverCosmosBased())
}

func TestParseBridgeInfo(t *testing.T) {
	info, err := relay.ParseBridgeInfo("channel-1/orai1sender:oraib1receiver")
	assert.NoError(t, err)
	assert.Equal(t, relay.BridgeInfo{Channel: "channel-1", Sender: "orai1sender", Receiver: "oraib1receiver"}, info)

	_, err = relay.ParseBridgeInfo("orai1sender")
	assert.True(t, errors.Is(err, relay.ErrInvalidIbcHooksArgs))
}

func hookCall(t *testing.T, f *fixture, convert bool, destination, bridge string, coin amount.Coin) (*relay.Response, error) {
	t.Helper()
	args, err := relay.EncodeHookArgs(convert, destination, bridge)
	assert.NoError(t, err)
	return f.c.Execute(ctx, f.kv, env, models.MessageInfo{Sender: "hooks", Funds: []amount.Coin{coin}}, relay.ExecuteMsg{
		IbcHooksReceive: &relay.IbcHooksReceiveMsg{Func: relay.UniversalSwapFunc, OrigSender: "orai1orig", Args: args},
	})
}

func usdt(amt int64) amount.Coin {
	return amount.NewCoin(usdtDenom, decimal.NewFromInt(amt))
}

func setupUsdt(t *testing.T, f *fixture) {
	t.Helper()
	for _, denom := range []string{"uusdt", "trontrx-mainnet0xa614f803B6FD780986A42c78Ec9c7f77e6DeD13C"} {
		f.execute(t, admin, relay.ExecuteMsg{UpdateMappingPair: &relay.UpdatePairMsg{
			LocalChannelID:    localChannel,
			Denom:             denom,
			AssetInfo:         amount.NewNative(usdtDenom),
			RemoteDecimals:    6,
			AssetInfoDecimals: 6,
		}})
	}
	assert.NoError(t, f.c.Ledger().Increase(f.kv, localChannel, usdtKey, decimal.NewFromInt(1000)))
}

func TestHooksLocalDelivery(t *testing.T) {
	f := setup(t)
	res, err := hookCall(t, f, false, "orai1receiver", "", usdt(500))
	assert.NoError(t, err)
	assert.Equal(t, 1, len(res.Messages))
	send, ok := res.Messages[0].Action.(actions.BankSend)
	assert.True(t, ok)
	assert.Equal(t, "orai1receiver", send.ToAddress)
	assert.Equal(t, usdtDenom, send.Amount[0].Denom)
}

func TestHooksForwardToCosmos(t *testing.T) {
	f := setup(t)
	setupUsdt(t, f)

	res, err := hookCall(t, f, false, localChannel+"/"+cosmosReceiver+":uusdt", localChannel+"/orai1sender:", usdt(300))
	assert.NoError(t, err)
	assert.Equal(t, 2, len(res.Messages))

	call, ok := res.Messages[0].Action.(actions.ContractCall)
	assert.True(t, ok)
	var msg relay.ExecuteMsg
	assert.NoError(t, json.Unmarshal(call.Msg, &msg))
	assert.NotNil(t, msg.ReduceChannelBalanceIbcReceive)
	assert.Equal(t, usdtKey, msg.ReduceChannelBalanceIbcReceive.IbcDenom)

	assert.Equal(t, actions.ReplyFollowUp, res.Messages[1].Reply)
	_, pkt := sentPacket(t, res.Messages[1])
	assert.Equal(t, usdtKey, pkt.Denom)
	assert.Equal(t, "300", pkt.Amount.String())
	assert.Equal(t, "orai1sender", pkt.Sender)
	assert.Equal(t, cosmosReceiver, pkt.Receiver)

	f.execute(t, contractAddr, msg)
	assert.Equal(t, "700", f.outstanding(t, localChannel, usdtKey))
}

func TestHooksForwardSwallowedByFees(t *testing.T) {
	f := setup(t)
	setupUsdt(t, f)
	feeDenom, tokenFeeTo, relayerFeeTo := usdtDenom, "tokenfee", "relayer"
	f.execute(t, admin, relay.ExecuteMsg{UpdateConfig: &relay.UpdateConfigMsg{
		FeeDenom:           &feeDenom,
		TokenFeeReceiver:   &tokenFeeTo,
		RelayerFeeReceiver: &relayerFeeTo,
		TokenFee:           []fees.TokenFee{{TokenDenom: "uusdt", Ratio: amount.Ratio{Numerator: 1, Denominator: 10}}},
		RelayerFee:         []fees.RelayerFee{{Prefix: "cosmos", Fee: decimal.NewFromInt(500)}},
	}})

	res, err := hookCall(t, f, false, localChannel+"/"+cosmosReceiver+":uusdt", localChannel+"/orai1sender:", usdt(300))
	assert.NoError(t, err)
	// each receiver gets its own share, nothing is forwarded
	assert.Equal(t, 2, len(res.Messages))
	got := map[string]string{}
	for _, m := range res.Messages {
		send, ok := m.Action.(actions.BankSend)
		assert.True(t, ok)
		assert.Equal(t, usdtDenom, send.Amount[0].Denom)
		got[send.ToAddress] = send.Amount[0].Amount.String()
	}
	assert.Equal(t, map[string]string{"tokenfee": "30", "relayer": "270"}, got)
	assert.Equal(t, "1000", f.outstanding(t, localChannel, usdtKey))
}

func TestHooksForwardToEvm(t *testing.T) {
	f := setup(t)
	setupUsdt(t, f)

	res, err := hookCall(t, f, false, localChannel+"/"+evmReceiver+":usdt", localChannel+"/:oraib1relay", usdt(300))
	assert.NoError(t, err)
	_, pkt := sentPacket(t, res.Messages[len(res.Messages)-1])
	assert.Equal(t, mapping.GetKey(models.PortID(contractAddr), localChannel, "trontrx-mainnet0xa614f803B6FD780986A42c78Ec9c7f77e6DeD13C"), pkt.Denom)
	assert.Equal(t, "oraib1relay", pkt.Receiver)
	assert.Equal(t, evmReceiver, pkt.Memo)
	// no bridge sender falls back to the hook's original sender
	assert.Equal(t, "orai1orig", pkt.Sender)
}

func TestHooksUnmappedNativeUsesPlainTransfer(t *testing.T) {
	f := setup(t)
	res, err := hookCall(t, f, false, "channel-9/"+cosmosReceiver, "channel-9/orai1sender:", usdt(300))
	assert.NoError(t, err)
	assert.Equal(t, 1, len(res.Messages))
	transfer, ok := res.Messages[0].Action.(actions.Transfer)
	assert.True(t, ok)
	assert.Equal(t, "channel-9", transfer.ChannelID)
	assert.Equal(t, "300", transfer.Amount.Amount.String())
}

func TestHooksErrors(t *testing.T) {
	f := setup(t)

	_, err := hookCall(t, f, false, "", "", usdt(1))
	assert.True(t, errors.Is(err, relay.ErrMissingReceiver))

	_, err = hookCall(t, f, false, "channel-9/"+cosmosReceiver, "", usdt(1))
	assert.True(t, errors.Is(err, relay.ErrMissingBridgeInfo))

	_, err = hookCall(t, f, false, "channel-9/foo", "channel-9/a:b", usdt(1))
	assert.True(t, errors.Is(err, relay.ErrInvalidIbcHooksArgs))

	info := models.MessageInfo{Sender: "hooks", Funds: []amount.Coin{usdt(1)}}
	_, err = f.c.Execute(ctx, f.kv, env, info, relay.ExecuteMsg{IbcHooksReceive: &relay.IbcHooksReceiveMsg{Func: "swap"}})
	assert.True(t, errors.Is(err, relay.ErrInvalidIbcHooksMethod))

	_, err = f.c.Execute(ctx, f.kv, env, info, relay.ExecuteMsg{IbcHooksReceive: &relay.IbcHooksReceiveMsg{Func: relay.UniversalSwapFunc, Args: []byte{1, 10, 'a'}}})
	assert.True(t, errors.Is(err, relay.ErrInvalidIbcHooksArgs))

	_, err = f.c.Execute(ctx, f.kv, env, info, relay.ExecuteMsg{IbcHooksReceive: &relay.IbcHooksReceiveMsg{Func: relay.UniversalSwapFunc, Args: []byte{7}}})
	assert.True(t, errors.Is(err, relay.ErrInvalidIbcHooksMethod))

	_, err = f.c.Execute(ctx, f.kv, env, models.MessageInfo{Sender: "hooks"}, relay.ExecuteMsg{IbcHooksReceive: &relay.IbcHooksReceiveMsg{Func: relay.UniversalSwapFunc}})
	assert.True(t, errors.Is(err, relay.ErrNoFunds))
}

type fixedConverter struct {
	out amount.Asset
	err error
}

func (c fixedConverter) ConvertQuote(_ context.Context, _ amount.Asset) (amount.Asset, error) {
	return c.out, c.err
}

func TestHooksConvert(t *testing.T) {
	converted := amount.Asset{Info: amount.NewNative("uorai"), Amount: decimal.NewFromInt(250)}
	f := setupWith(t, fixedConverter{out: converted})
	conv := "converter"
	f.execute(t, admin, relay.ExecuteMsg{UpdateConfig: &relay.UpdateConfigMsg{ConverterContract: &conv}})

	res, err := hookCall(t, f, true, "orai1receiver", "", usdt(500))
	assert.NoError(t, err)
	assert.Equal(t, 2, len(res.Messages))
	call, ok := res.Messages[0].Action.(actions.ContractCall)
	assert.True(t, ok)
	assert.Equal(t, conv, call.Contract)
	assert.Equal(t, "500", call.Funds[0].Amount.String())

	send, ok := res.Messages[1].Action.(actions.BankSend)
	assert.True(t, ok)
	assert.Equal(t, "uorai", send.Amount[0].Denom)
	assert.Equal(t, "250", send.Amount[0].Amount.String())

	// a failing quote forwards the coin unchanged
	f = setupWith(t, fixedConverter{err: errors.New("unreachable")})
	f.execute(t, admin, relay.ExecuteMsg{UpdateConfig: &relay.UpdateConfigMsg{ConverterContract: &conv}})
	res, err = hookCall(t, f, true, "orai1receiver", "", usdt(500))
	assert.NoError(t, err)
	assert.Equal(t, 1, len(res.Messages))
}

func TestEncodeHookArgs(t *testing.T) {
	args, err := relay.EncodeHookArgs(true, "ab", "c")
	assert.NoError(t, err)
	assert.DeepEqual(t, []byte{0, 1, 2, 'a', 'b', 2, 1, 'c'}, args)

	long := make([]byte, 256)
	_, err = relay.EncodeHookArgs(false, string(long), "")
	assert.True(t, errors.Is(err, relay.ErrInvalidIbcHooksArgs))
}
