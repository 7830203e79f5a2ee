package relay_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/Cogwheel-Validator/spectra-ics20-bridge/bridge/actions"
	"github.com/Cogwheel-Validator/spectra-ics20-bridge/bridge/amount"
	"github.com/Cogwheel-Validator/spectra-ics20-bridge/bridge/fees"
	"github.com/Cogwheel-Validator/spectra-ics20-bridge/bridge/ledger"
	"github.com/Cogwheel-Validator/spectra-ics20-bridge/bridge/mapping"
	"github.com/Cogwheel-Validator/spectra-ics20-bridge/bridge/models"
	"github.com/Cogwheel-Validator/spectra-ics20-bridge/bridge/relay"
	"github.com/Cogwheel-Validator/spectra-ics20-bridge/bridge/store"
	"github.com/shopspring/decimal"
	"github.com/zeebo/assert"
)

const (
	contractAddr = "bridge"
	admin        = "admin"
	localChannel = "channel-0"
	atomToken    = "cw20atom"
)

var (
	ctx       = context.Background()
	env       = models.Env{Contract: contractAddr, BlockTime: time.Unix(1_700_000_000, 0).UTC()}
	remoteEnd = models.IbcEndpoint{PortID: "transfer", ChannelID: "channel-7"}
	localEnd  = models.IbcEndpoint{PortID: models.PortID(contractAddr), ChannelID: localChannel}
	atomKey   = mapping.GetKey(models.PortID(contractAddr), localChannel, "uatom")
)

type fixture struct {
	c  *relay.Contract
	kv store.KV
}

func setup(t *testing.T) *fixture {
	t.Helper()
	return setupWith(t, nil)
}

func setupWith(t *testing.T, converter relay.AssetConverter) *fixture {
	t.Helper()
	f := &fixture{
		c:  relay.New(fees.NewEngine(nil, ""), converter),
		kv: store.NewCacheKV(store.Wrap(ctx, store.NewMemDB())),
	}
	_, err := f.c.Instantiate(ctx, f.kv, env, models.MessageInfo{Sender: admin}, relay.InitMsg{
		Admin:          admin,
		DefaultTimeout: 300,
		Allowlist:      []relay.AllowMsg{{Contract: atomToken}},
	})
	assert.NoError(t, err)

	_, err = f.c.ChannelConnect(ctx, f.kv, env, models.IbcChannel{
		Endpoint:             localEnd,
		CounterpartyEndpoint: remoteEnd,
		Order:                models.OrderUnordered,
		Version:              models.Ics20Version,
		ConnectionID:         "connection-2",
	}, models.Ics20Version)
	assert.NoError(t, err)

	f.execute(t, admin, relay.ExecuteMsg{UpdateMappingPair: &relay.UpdatePairMsg{
		LocalChannelID:    localChannel,
		Denom:             "uatom",
		AssetInfo:         amount.NewToken(atomToken),
		RemoteDecimals:    6,
		AssetInfoDecimals: 6,
	}})
	return f
}

func (f *fixture) execute(t *testing.T, sender string, msg relay.ExecuteMsg, funds ...amount.Coin) *relay.Response {
	t.Helper()
	res, err := f.c.Execute(ctx, f.kv, env, models.MessageInfo{Sender: sender, Funds: funds}, msg)
	assert.NoError(t, err)
	return res
}

func (f *fixture) outstanding(t *testing.T, channel, denom string) string {
	t.Helper()
	state, _, err := f.c.Ledger().Get(f.kv, channel, denom)
	assert.NoError(t, err)
	return state.Outstanding.String()
}

func transferBack(t *testing.T, amt int64) relay.ExecuteMsg {
	t.Helper()
	inner, err := json.Marshal(relay.TransferBackMsg{
		LocalChannelID: localChannel,
		RemoteAddress:  "cosmos1remote",
		RemoteDenom:    "uatom",
	})
	assert.NoError(t, err)
	return relay.ExecuteMsg{Receive: &relay.Cw20ReceiveMsg{
		Sender: "alice",
		Amount: decimal.NewFromInt(amt),
		Msg:    inner,
	}}
}

func sentPacket(t *testing.T, sub actions.SubMsg) (actions.SendPacket, models.Ics20Packet) {
	t.Helper()
	send, ok := sub.Action.(actions.SendPacket)
	assert.True(t, ok)
	pkt, err := models.ParseIcs20Packet(send.Data)
	assert.NoError(t, err)
	return send, pkt
}

func TestInstantiateDefaults(t *testing.T) {
	f := setup(t)
	cfg, err := f.c.Config(f.kv)
	assert.NoError(t, err)
	assert.Equal(t, relay.DefaultFeeDenom, cfg.FeeDenom)
	assert.Equal(t, admin, cfg.TokenFeeReceiver)
	assert.Equal(t, admin, cfg.RelayerFeeReceiver)
	assert.Equal(t, uint64(300), cfg.DefaultTimeout)

	a, err := f.c.Admin(f.kv)
	assert.NoError(t, err)
	assert.Equal(t, admin, a.Admin)

	_, err = f.c.Instantiate(ctx, f.kv, env, models.MessageInfo{}, relay.InitMsg{})
	assert.True(t, errors.Is(err, relay.ErrInvalidMessage))
}

func TestAdminOnlyMessages(t *testing.T) {
	f := setup(t)
	info := models.MessageInfo{Sender: "mallory"}

	_, err := f.c.Execute(ctx, f.kv, env, info, relay.ExecuteMsg{UpdateMappingPair: &relay.UpdatePairMsg{
		LocalChannelID: localChannel,
		Denom:          "uosmo",
		AssetInfo:      amount.NewNative("uosmo"),
	}})
	assert.True(t, errors.Is(err, relay.ErrUnauthorized))

	_, err = f.c.Execute(ctx, f.kv, env, info, relay.ExecuteMsg{DeleteMappingPair: &relay.DeletePairMsg{LocalChannelID: localChannel, Denom: "uatom"}})
	assert.True(t, errors.Is(err, relay.ErrUnauthorized))

	_, err = f.c.Execute(ctx, f.kv, env, info, relay.ExecuteMsg{OverrideChannelBalance: &relay.OverrideChannelBalanceMsg{
		ChannelID:   localChannel,
		IbcDenom:    atomKey,
		Outstanding: decimal.NewFromInt(5),
	}})
	assert.True(t, errors.Is(err, relay.ErrUnauthorized))

	_, err = f.c.Execute(ctx, f.kv, env, info, relay.ExecuteMsg{UpdateConfig: &relay.UpdateConfigMsg{}})
	assert.True(t, errors.Is(err, relay.ErrUnauthorized))
}

func TestSelfCallOnly(t *testing.T) {
	f := setup(t)
	msg := &relay.ChannelBalanceMsg{DestChannelID: localChannel, IbcDenom: atomKey, Amount: decimal.NewFromInt(10)}

	_, err := f.c.Execute(ctx, f.kv, env, models.MessageInfo{Sender: admin}, relay.ExecuteMsg{IncreaseChannelBalanceIbcReceive: msg})
	assert.True(t, errors.Is(err, relay.ErrSelfCallOnly))
	_, err = f.c.Execute(ctx, f.kv, env, models.MessageInfo{Sender: "alice"}, relay.ExecuteMsg{ReduceChannelBalanceIbcReceive: msg})
	assert.True(t, errors.Is(err, relay.ErrSelfCallOnly))

	f.execute(t, contractAddr, relay.ExecuteMsg{IncreaseChannelBalanceIbcReceive: msg})
	assert.Equal(t, "10", f.outstanding(t, localChannel, atomKey))
}

func TestExecuteRejectsAmbiguousMessage(t *testing.T) {
	f := setup(t)
	_, err := f.c.Execute(ctx, f.kv, env, models.MessageInfo{Sender: admin}, relay.ExecuteMsg{})
	assert.True(t, errors.Is(err, relay.ErrInvalidMessage))

	_, err = f.c.Execute(ctx, f.kv, env, models.MessageInfo{Sender: admin}, relay.ExecuteMsg{
		Allow:             &relay.AllowMsg{Contract: "x"},
		DeleteMappingPair: &relay.DeletePairMsg{},
	})
	assert.True(t, errors.Is(err, relay.ErrInvalidMessage))
}

func TestAllowCannotLowerGas(t *testing.T) {
	f := setup(t)
	gas := func(v uint64) *uint64 { return &v }

	f.execute(t, admin, relay.ExecuteMsg{Allow: &relay.AllowMsg{Contract: "token", GasLimit: gas(5000)}})
	_, err := f.c.Execute(ctx, f.kv, env, models.MessageInfo{Sender: admin}, relay.ExecuteMsg{Allow: &relay.AllowMsg{Contract: "token", GasLimit: gas(4000)}})
	assert.True(t, errors.Is(err, relay.ErrCannotLowerGas))
	f.execute(t, admin, relay.ExecuteMsg{Allow: &relay.AllowMsg{Contract: "token", GasLimit: gas(6000)}})

	// unlimited can never become limited
	_, err = f.c.Execute(ctx, f.kv, env, models.MessageInfo{Sender: admin}, relay.ExecuteMsg{Allow: &relay.AllowMsg{Contract: atomToken, GasLimit: gas(1)}})
	assert.True(t, errors.Is(err, relay.ErrCannotLowerGas))

	allowed, err := f.c.Allowed(f.kv, "token")
	assert.NoError(t, err)
	assert.True(t, allowed.IsAllowed)
	assert.Equal(t, uint64(6000), *allowed.GasLimit)

	list, err := f.c.ListAllowed(f.kv, nil)
	assert.NoError(t, err)
	assert.Equal(t, 2, len(list.Allow))
	assert.Equal(t, atomToken, list.Allow[0].Contract)
}

func TestUpdateConfigOnlySetsGivenFields(t *testing.T) {
	f := setup(t)
	receiver := "feecollector"
	f.execute(t, admin, relay.ExecuteMsg{UpdateConfig: &relay.UpdateConfigMsg{
		TokenFeeReceiver: &receiver,
		TokenFee:         []fees.TokenFee{{TokenDenom: "uatom", Ratio: amount.Ratio{Numerator: 1, Denominator: 10}}},
		RelayerFee:       []fees.RelayerFee{{Prefix: "cosmos", Fee: decimal.NewFromInt(5)}},
	}})

	cfg, err := f.c.Config(f.kv)
	assert.NoError(t, err)
	assert.Equal(t, receiver, cfg.TokenFeeReceiver)
	assert.Equal(t, admin, cfg.RelayerFeeReceiver)
	assert.Equal(t, uint64(300), cfg.DefaultTimeout)
	assert.Equal(t, 1, len(cfg.TokenFees))
	assert.Equal(t, 1, len(cfg.RelayerFees))

	fee, err := f.c.GetTransferTokenFee(f.kv, "uatom")
	assert.NoError(t, err)
	assert.Equal(t, uint64(10), fee.Ratio.Denominator)

	newAdmin := "admin2"
	f.execute(t, admin, relay.ExecuteMsg{UpdateConfig: &relay.UpdateConfigMsg{Admin: &newAdmin}})
	_, err = f.c.Execute(ctx, f.kv, env, models.MessageInfo{Sender: admin}, relay.ExecuteMsg{UpdateConfig: &relay.UpdateConfigMsg{}})
	assert.True(t, errors.Is(err, relay.ErrUnauthorized))
}

func TestMappingPairLifecycle(t *testing.T) {
	f := setup(t)
	pair, err := f.c.PairMapping(f.kv, atomKey)
	assert.NoError(t, err)
	assert.Equal(t, atomToken, pair.PairMapping.AssetInfo.String())

	pairs, err := f.c.PairMappingsFromAssetInfo(f.kv, amount.NewToken(atomToken))
	assert.NoError(t, err)
	assert.Equal(t, 1, len(pairs))

	f.execute(t, admin, relay.ExecuteMsg{DeleteMappingPair: &relay.DeletePairMsg{LocalChannelID: localChannel, Denom: "uatom"}})
	_, err = f.c.PairMapping(f.kv, atomKey)
	assert.True(t, errors.Is(err, mapping.ErrMappingNotFound))

	pairs, err = f.c.PairMappingsFromAssetInfo(f.kv, amount.NewToken(atomToken))
	assert.NoError(t, err)
	assert.Equal(t, 0, len(pairs))
}

func TestTransferToRemote(t *testing.T) {
	f := setup(t)
	assert.NoError(t, f.c.Ledger().Increase(f.kv, localChannel, atomKey, decimal.NewFromInt(1000)))

	res := f.execute(t, atomToken, transferBack(t, 400))
	assert.Equal(t, 1, len(res.Messages))
	send, pkt := sentPacket(t, res.Messages[0])
	assert.Equal(t, actions.ReplyNever, res.Messages[0].ReplyOn)
	assert.Equal(t, localChannel, send.ChannelID)
	assert.Equal(t, env.BlockTime.Add(300*time.Second), send.Timeout)
	assert.Equal(t, atomKey, pkt.Denom)
	assert.Equal(t, "400", pkt.Amount.String())
	assert.Equal(t, "alice", pkt.Sender)
	assert.Equal(t, "cosmos1remote", pkt.Receiver)

	assert.Equal(t, "600", f.outstanding(t, localChannel, atomKey))
}

func TestTransferToRemoteInsufficientFunds(t *testing.T) {
	f := setup(t)
	assert.NoError(t, f.c.Ledger().Increase(f.kv, localChannel, atomKey, decimal.NewFromInt(100)))

	_, err := f.c.Execute(ctx, f.kv, env, models.MessageInfo{Sender: atomToken}, transferBack(t, 101))
	assert.True(t, errors.Is(err, ledger.ErrInsufficientFunds))
	assert.Equal(t, "100", f.outstanding(t, localChannel, atomKey))
}

func TestTransferToRemoteErrors(t *testing.T) {
	f := setup(t)

	// native coins that were never mapped
	_, err := f.c.Execute(ctx, f.kv, env, models.MessageInfo{
		Sender: "alice",
		Funds:  []amount.Coin{amount.NewCoin("uosmo", decimal.NewFromInt(5))},
	}, relay.ExecuteMsg{TransferToRemote: &relay.TransferBackMsg{LocalChannelID: localChannel, RemoteAddress: "x", RemoteDenom: "uosmo"}})
	assert.True(t, errors.Is(err, relay.ErrMappingPairNotFound))

	_, err = f.c.Execute(ctx, f.kv, env, models.MessageInfo{Sender: "alice"},
		relay.ExecuteMsg{TransferToRemote: &relay.TransferBackMsg{LocalChannelID: localChannel}})
	assert.True(t, errors.Is(err, relay.ErrNoFunds))

	// tokens that are not allowed
	_, err = f.c.Execute(ctx, f.kv, env, models.MessageInfo{Sender: "cw20other"}, transferBack(t, 5))
	assert.True(t, errors.Is(err, relay.ErrNotOnAllowList))

	_, err = f.c.Execute(ctx, f.kv, env, models.MessageInfo{
		Sender: atomToken,
		Funds:  []amount.Coin{amount.NewCoin("uosmo", decimal.NewFromInt(5))},
	}, transferBack(t, 5))
	assert.True(t, errors.Is(err, relay.ErrNonPayable))

	// mapping on a channel that never connected
	f.execute(t, admin, relay.ExecuteMsg{UpdateMappingPair: &relay.UpdatePairMsg{
		LocalChannelID:    "channel-5",
		Denom:             "uosmo",
		AssetInfo:         amount.NewNative("uosmo"),
		RemoteDecimals:    6,
		AssetInfoDecimals: 6,
	}})
	_, err = f.c.Execute(ctx, f.kv, env, models.MessageInfo{
		Sender: "alice",
		Funds:  []amount.Coin{amount.NewCoin("uosmo", decimal.NewFromInt(5))},
	}, relay.ExecuteMsg{TransferToRemote: &relay.TransferBackMsg{LocalChannelID: "channel-5", RemoteAddress: "x", RemoteDenom: "uosmo"}})
	assert.True(t, errors.Is(err, relay.ErrNoSuchChannel))
}

func TestTransferToRemoteWithTokenFee(t *testing.T) {
	f := setup(t)
	assert.NoError(t, f.c.Fees().SetTokenFee(f.kv, fees.TokenFee{TokenDenom: "uatom", Ratio: amount.Ratio{Numerator: 1, Denominator: 10}}))
	assert.NoError(t, f.c.Ledger().Increase(f.kv, localChannel, atomKey, decimal.NewFromInt(1000)))

	res := f.execute(t, atomToken, transferBack(t, 500))
	assert.Equal(t, 2, len(res.Messages))

	fee, ok := res.Messages[0].Action.(actions.TokenTransfer)
	assert.True(t, ok)
	assert.Equal(t, admin, fee.Recipient)
	assert.Equal(t, "50", fee.Amount.String())

	_, pkt := sentPacket(t, res.Messages[1])
	assert.Equal(t, "450", pkt.Amount.String())
	assert.Equal(t, "550", f.outstanding(t, localChannel, atomKey))
}

func TestMintBurnTransferBurnsBeforeSending(t *testing.T) {
	f := setup(t)
	yes := true
	f.execute(t, admin, relay.ExecuteMsg{UpdateMappingPair: &relay.UpdatePairMsg{
		LocalChannelID:    localChannel,
		Denom:             "uatom",
		AssetInfo:         amount.NewToken(atomToken),
		RemoteDecimals:    18,
		AssetInfoDecimals: 6,
		IsMintBurn:        &yes,
	}})
	assert.NoError(t, f.c.Ledger().Increase(f.kv, localChannel, atomKey, decimal.RequireFromString("1000000000000000000")))

	res := f.execute(t, atomToken, transferBack(t, 1_000_000))
	assert.Equal(t, 2, len(res.Messages))
	burn, ok := res.Messages[0].Action.(actions.TokenBurn)
	assert.True(t, ok)
	assert.Equal(t, "1000000", burn.Amount.String())

	_, pkt := sentPacket(t, res.Messages[1])
	assert.Equal(t, "1000000000000000000", pkt.Amount.String())
	assert.Equal(t, "0", f.outstanding(t, localChannel, atomKey))
}

func TestOverrideChannelBalance(t *testing.T) {
	f := setup(t)
	total := decimal.NewFromInt(70)
	f.execute(t, admin, relay.ExecuteMsg{OverrideChannelBalance: &relay.OverrideChannelBalanceMsg{
		ChannelID:   localChannel,
		IbcDenom:    atomKey,
		Outstanding: decimal.NewFromInt(42),
		TotalSent:   &total,
	}})

	res, err := f.c.ChannelWithKey(f.kv, localChannel, atomKey)
	assert.NoError(t, err)
	assert.Equal(t, "42", res.Balance.Outstanding.String())
	assert.Equal(t, "70", res.Balance.TotalSent.String())
}

func TestQueries(t *testing.T) {
	f := setup(t)
	assert.NoError(t, f.c.Ledger().Increase(f.kv, localChannel, atomKey, decimal.NewFromInt(9)))

	port, err := f.c.Query(ctx, f.kv, env, relay.QueryMsg{Port: &struct{}{}})
	assert.NoError(t, err)
	assert.Equal(t, "wasm.bridge", port.(relay.PortResponse).PortID)

	channels, err := f.c.ListChannels(f.kv)
	assert.NoError(t, err)
	assert.Equal(t, 1, len(channels.Channels))
	assert.Equal(t, remoteEnd, channels.Channels[0].CounterpartyEndpoint)

	ch, err := f.c.Channel(f.kv, localChannel)
	assert.NoError(t, err)
	assert.Equal(t, 1, len(ch.Balances))
	assert.Equal(t, atomKey, ch.Balances[0].Denom)

	_, err = f.c.Channel(f.kv, "channel-99")
	assert.True(t, errors.Is(err, relay.ErrNoSuchChannel))

	pairs, err := f.c.Query(ctx, f.kv, env, relay.QueryMsg{PairMappings: &relay.PageQuery{}})
	assert.NoError(t, err)
	assert.Equal(t, 1, len(pairs.(relay.PairMappingsResponse).Pairs))

	_, err = f.c.Query(ctx, f.kv, env, relay.QueryMsg{})
	assert.True(t, errors.Is(err, relay.ErrInvalidMessage))
}
