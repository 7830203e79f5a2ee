package relay

import (
	"context"
	"fmt"
	"time"

	"github.com/Cogwheel-Validator/spectra-ics20-bridge/bridge/actions"
	"github.com/Cogwheel-Validator/spectra-ics20-bridge/bridge/amount"
	"github.com/Cogwheel-Validator/spectra-ics20-bridge/bridge/fees"
	"github.com/Cogwheel-Validator/spectra-ics20-bridge/bridge/mapping"
	"github.com/Cogwheel-Validator/spectra-ics20-bridge/bridge/models"
	"github.com/Cogwheel-Validator/spectra-ics20-bridge/bridge/store"
)

// findPair returns the mapping of asset whose key was registered for
// remoteDenom on the given local channel.
func (c *Contract) findPair(kv store.KV, env models.Env, localChannel, remoteDenom string, asset amount.AssetInfo) (mapping.Pair, error) {
	pairs, err := c.mapper.ReverseLookup(kv, asset)
	if err != nil {
		return mapping.Pair{}, err
	}
	local := models.IbcEndpoint{PortID: models.PortID(env.Contract), ChannelID: localChannel}
	for _, p := range pairs {
		base, native, err := mapping.ParseVoucherDenom(p.Key, local)
		if err != nil || native {
			continue
		}
		if base == remoteDenom {
			return p, nil
		}
	}
	return mapping.Pair{}, fmt.Errorf("%w: %s on %s", ErrMappingPairNotFound, remoteDenom, localChannel)
}

func (c *Contract) packetTimeout(env models.Env, cfg Config, override *uint64) time.Time {
	secs := cfg.DefaultTimeout
	if override != nil {
		secs = *override
	}
	return env.BlockTime.Add(time.Duration(secs) * time.Second)
}

// transferToRemote sends a local asset back over the channel its mapping was
// registered on. The fee is paid out locally, the rest is converted to remote
// units and leaves in a single packet.
func (c *Contract) transferToRemote(ctx context.Context, kv store.KV, env models.Env, msg TransferBackMsg, asset amount.Asset, sender string) (*Response, error) {
	if asset.Amount.IsZero() {
		return nil, ErrNoFunds
	}
	cfg, err := c.loadConfig(kv)
	if err != nil {
		return nil, err
	}
	pair, err := c.findPair(kv, env, msg.LocalChannelID, msg.RemoteDenom, asset.Info)
	if err != nil {
		return nil, err
	}
	if ok, err := c.channels.Has(kv, msg.LocalChannelID); err != nil {
		return nil, err
	} else if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNoSuchChannel, msg.LocalChannelID)
	}
	md := pair.PairMapping

	feeData, err := c.fees.ProcessDeductFee(ctx, kv, fees.Request{
		RemoteSender:  msg.RemoteAddress,
		RemoteDenom:   msg.RemoteDenom,
		Amount:        asset.Amount,
		Asset:         asset.Info,
		AssetDecimals: md.AssetInfoDecimals,
		FeeDenom:      cfg.FeeDenom,
	})
	if err != nil {
		return nil, err
	}

	res := &Response{}
	if err := c.addFeePayouts(res, cfg, md, feeData, false); err != nil {
		return nil, err
	}
	res.Attr("action", "transfer").
		Attr("sender", sender).
		Attr("receiver", msg.RemoteAddress).
		Attr("denom", pair.Key).
		Attr("token_fee", feeData.TokenFee.String()).
		Attr("relayer_fee", feeData.RelayerFee.String())
	if feeData.DeductedAmount.IsZero() {
		return res.Attr("amount", "0"), nil
	}

	remoteAmount, err := amount.ConvertLocalToRemote(feeData.DeductedAmount, md.RemoteDecimals, md.AssetInfoDecimals)
	if err != nil {
		return nil, err
	}
	if err := c.ledger.Reduce(kv, msg.LocalChannelID, pair.Key, remoteAmount); err != nil {
		return nil, err
	}

	packet := models.NewIcs20Packet(remoteAmount, pair.Key, sender, msg.RemoteAddress, msg.Memo)
	if err := packet.Validate(); err != nil {
		return nil, err
	}
	data, err := packet.Marshal()
	if err != nil {
		return nil, err
	}

	burn, err := actions.BuildBurn(md.IsMintBurn, md.AssetInfo, feeData.DeductedAmount)
	if err != nil {
		return nil, err
	}
	res.AddAction(burn)
	res.AddAction(actions.SendPacket{
		ChannelID: msg.LocalChannelID,
		Data:      data,
		Timeout:   c.packetTimeout(env, cfg, msg.Timeout),
	})
	return res.Attr("amount", remoteAmount.String()), nil
}
