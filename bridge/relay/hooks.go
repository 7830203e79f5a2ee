package relay

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/Cogwheel-Validator/spectra-ics20-bridge/bridge/actions"
	"github.com/Cogwheel-Validator/spectra-ics20-bridge/bridge/amount"
	"github.com/Cogwheel-Validator/spectra-ics20-bridge/bridge/fees"
	"github.com/Cogwheel-Validator/spectra-ics20-bridge/bridge/mapping"
	"github.com/Cogwheel-Validator/spectra-ics20-bridge/bridge/models"
	"github.com/Cogwheel-Validator/spectra-ics20-bridge/bridge/store"
	"github.com/btcsuite/btcutil/bech32"
)

// UniversalSwapFunc is the only hook method the bridge serves.
const UniversalSwapFunc = "universal_swap"

// Hook argument tags.
const (
	hookConvertToken byte = iota
	hookDestination
	hookBridgeInfo
)

const evmAddressLen = 40

// DestinationInfo is the final hop of a hook call, written as
// "<channel>/<receiver>:<denom>". Channel and denom may be omitted.
type DestinationInfo struct {
	Receiver string `json:"receiver"`
	Channel  string `json:"destination_channel"`
	Denom    string `json:"destination_denom"`
}

func ParseDestinationInfo(s string) DestinationInfo {
	dest, denom, _ := strings.Cut(s, ":")
	channel, receiver, found := strings.Cut(dest, "/")
	if !found {
		channel, receiver = "", dest
	}
	return DestinationInfo{Receiver: receiver, Channel: channel, Denom: denom}
}

// IsReceiverEvmBased reports whether the receiver is "<prefix>0x<40 hex chars>"
// and returns the prefix. A bare 0x address has no prefix and does not count.
func (d DestinationInfo) IsReceiverEvmBased() (string, bool) {
	prefix, addr, found := strings.Cut(d.Receiver, "0x")
	if !found || prefix == "" || len(addr) != evmAddressLen {
		return "", false
	}
	return prefix, true
}

func (d DestinationInfo) IsReceiverCosmosBased() bool {
	hrp, _, err := bech32.Decode(d.Receiver)
	return err == nil && hrp != ""
}

// BridgeInfo names the hop through the relay chain, written as
// "<channel>/<sender>:<receiver>".
type BridgeInfo struct {
	Channel  string `json:"channel"`
	Sender   string `json:"sender"`
	Receiver string `json:"receiver"`
}

func ParseBridgeInfo(s string) (BridgeInfo, error) {
	channel, rest, found := strings.Cut(s, "/")
	if !found || channel == "" {
		return BridgeInfo{}, fmt.Errorf("%w: bridge info %q has no channel", ErrInvalidIbcHooksArgs, s)
	}
	sender, receiver, _ := strings.Cut(rest, ":")
	return BridgeInfo{Channel: channel, Sender: sender, Receiver: receiver}, nil
}

type hookArgs struct {
	convert     bool
	destination string
	bridgeInfo  string
}

// parseHookArgs decodes the tag list. Tag 0 has no payload, tags 1 and 2
// carry a length byte followed by that many bytes of utf8 text.
func parseHookArgs(args []byte) (hookArgs, error) {
	var out hookArgs
	for i := 0; i < len(args); {
		tag := args[i]
		i++
		switch tag {
		case hookConvertToken:
			out.convert = true
		case hookDestination, hookBridgeInfo:
			if i >= len(args) {
				return out, fmt.Errorf("%w: missing length for tag %d", ErrInvalidIbcHooksArgs, tag)
			}
			n := int(args[i])
			i++
			if i+n > len(args) {
				return out, fmt.Errorf("%w: tag %d wants %d bytes", ErrInvalidIbcHooksArgs, tag, n)
			}
			value := args[i : i+n]
			if !utf8.Valid(value) {
				return out, fmt.Errorf("%w: tag %d is not utf8", ErrInvalidIbcHooksArgs, tag)
			}
			if tag == hookDestination {
				out.destination = string(value)
			} else {
				out.bridgeInfo = string(value)
			}
			i += n
		default:
			return out, fmt.Errorf("%w: unknown tag %d", ErrInvalidIbcHooksMethod, tag)
		}
	}
	return out, nil
}

// EncodeHookArgs is the inverse of the argument decoding, used by clients
// building a hook call.
func EncodeHookArgs(convert bool, destination, bridgeInfo string) ([]byte, error) {
	var out []byte
	if convert {
		out = append(out, hookConvertToken)
	}
	for _, f := range []struct {
		tag   byte
		value string
	}{{hookDestination, destination}, {hookBridgeInfo, bridgeInfo}} {
		if f.value == "" {
			continue
		}
		if len(f.value) > 255 {
			return nil, fmt.Errorf("%w: tag %d longer than 255 bytes", ErrInvalidIbcHooksArgs, f.tag)
		}
		out = append(out, f.tag, byte(len(f.value)))
		out = append(out, f.value...)
	}
	return out, nil
}

// ibcHooksReceive forwards coins that arrived through the ibc hooks
// middleware, either to a local receiver or out over another channel.
func (c *Contract) ibcHooksReceive(ctx context.Context, kv store.KV, env models.Env, info models.MessageInfo, msg IbcHooksReceiveMsg) (*Response, error) {
	if msg.Func != UniversalSwapFunc {
		return nil, fmt.Errorf("%w: %s", ErrInvalidIbcHooksMethod, msg.Func)
	}
	coin, err := oneCoin(info)
	if err != nil {
		return nil, err
	}
	args, err := parseHookArgs(msg.Args)
	if err != nil {
		return nil, err
	}
	cfg, err := c.loadConfig(kv)
	if err != nil {
		return nil, err
	}

	res := &Response{}
	res.Attr("action", "receive_ibc_hooks")
	toSend := amount.Asset{Info: amount.AssetFromDenom(coin.Denom), Amount: coin.Amount}
	if args.convert {
		toSend, err = c.convert(ctx, res, cfg, toSend, coin)
		if err != nil {
			return nil, err
		}
	}

	dest := ParseDestinationInfo(args.destination)
	if dest.Receiver == "" {
		return nil, ErrMissingReceiver
	}
	if dest.Channel == "" {
		res.AddAction(actions.SendAmount(toSend.Info, toSend.Amount, dest.Receiver))
		return res.Attr("receiver", dest.Receiver).Attr("amount", toSend.Amount.String()), nil
	}

	if args.bridgeInfo == "" {
		return nil, ErrMissingBridgeInfo
	}
	bridge, err := ParseBridgeInfo(args.bridgeInfo)
	if err != nil {
		return nil, err
	}
	return c.forwardHop(ctx, kv, env, cfg, res, toSend, dest, bridge, msg.OrigSender)
}

// convert swaps the received coin through the converter contract. Without a
// converter, or when the quote fails, the coin is forwarded unchanged.
func (c *Contract) convert(ctx context.Context, res *Response, cfg Config, from amount.Asset, coin amount.Coin) (amount.Asset, error) {
	if c.converter == nil || cfg.ConverterContract == "" {
		log.Warn().Str("denom", coin.Denom).Msg("no converter configured, forwarding unconverted")
		return from, nil
	}
	quote, err := c.converter.ConvertQuote(ctx, from)
	if err != nil {
		log.Warn().Err(err).Str("denom", coin.Denom).Msg("converter quote failed, forwarding unconverted")
		return from, nil
	}
	raw, err := json.Marshal(map[string]any{"convert": map[string]any{}})
	if err != nil {
		return from, err
	}
	res.AddAction(actions.ContractCall{
		Contract: cfg.ConverterContract,
		Msg:      raw,
		Funds:    []amount.Coin{coin},
	})
	res.Attr("converted_to", quote.Info.String())
	return quote, nil
}

// forwardHop sends the funds out over the destination channel. The balance
// reduction is a self call so that a failed packet send can be undone by the
// follow up reply.
func (c *Contract) forwardHop(ctx context.Context, kv store.KV, env models.Env, cfg Config, res *Response, toSend amount.Asset, dest DestinationInfo, bridge BridgeInfo, origSender string) (*Response, error) {
	sender := bridge.Sender
	if sender == "" {
		sender = origSender
	}
	remoteAddress, memo := dest.Receiver, ""
	evmPrefix, isEvm := dest.IsReceiverEvmBased()
	switch {
	case dest.IsReceiverCosmosBased():
	case isEvm:
		if bridge.Receiver != "" {
			remoteAddress, memo = bridge.Receiver, dest.Receiver
		}
	default:
		return nil, fmt.Errorf("%w: receiver %s is neither bech32 nor evm", ErrInvalidIbcHooksArgs, dest.Receiver)
	}

	pair, found, err := c.findHopPair(kv, env, toSend.Info, dest, evmPrefix, isEvm)
	if err != nil {
		return nil, err
	}
	timeout := c.packetTimeout(env, cfg, nil)
	if !found {
		if !toSend.Info.IsNative() {
			return nil, fmt.Errorf("%w: %s on %s", ErrMappingPairNotFound, toSend.Info, dest.Channel)
		}
		res.AddAction(actions.Transfer{
			ChannelID: dest.Channel,
			ToAddress: dest.Receiver,
			Amount:    amount.NewCoin(toSend.Info.BankDenom(), toSend.Amount),
			Timeout:   timeout,
		})
		return res.Attr("receiver", dest.Receiver).Attr("amount", toSend.Amount.String()), nil
	}
	md := pair.PairMapping
	base, _, err := mapping.ParseVoucherDenom(pair.Key, models.IbcEndpoint{PortID: models.PortID(env.Contract), ChannelID: dest.Channel})
	if err != nil {
		return nil, err
	}

	feeData, err := c.fees.ProcessDeductFee(ctx, kv, fees.Request{
		RemoteSender:  remoteAddress,
		RemoteDenom:   base,
		Amount:        toSend.Amount,
		Asset:         toSend.Info,
		AssetDecimals: md.AssetInfoDecimals,
		FeeDenom:      cfg.FeeDenom,
	})
	if err != nil {
		return nil, err
	}
	res.Attr("token_fee", feeData.TokenFee.String()).Attr("relayer_fee", feeData.RelayerFee.String())
	if err := c.addFeePayouts(res, cfg, md, feeData, false); err != nil {
		return nil, err
	}
	// fees took everything, there is nothing left to forward
	if feeData.DeductedAmount.IsZero() {
		return res.Attr("destination", dest.Receiver), nil
	}

	remoteAmount, err := amount.ConvertLocalToRemote(feeData.DeductedAmount, md.RemoteDecimals, md.AssetInfoDecimals)
	if err != nil {
		return nil, err
	}
	reduce, err := selfCall(env.Contract, ExecuteMsg{ReduceChannelBalanceIbcReceive: &ChannelBalanceMsg{
		DestChannelID: dest.Channel,
		IbcDenom:      pair.Key,
		Amount:        remoteAmount,
		LocalReceiver: sender,
	}})
	if err != nil {
		return nil, err
	}
	res.AddAction(reduce)

	burn, err := actions.BuildBurn(md.IsMintBurn, md.AssetInfo, feeData.DeductedAmount)
	if err != nil {
		return nil, err
	}
	res.AddAction(burn)

	packet := models.NewIcs20Packet(remoteAmount, pair.Key, sender, remoteAddress, memo)
	data, err := packet.Marshal()
	if err != nil {
		return nil, err
	}
	res.Add(actions.OnError(actions.SendPacket{ChannelID: dest.Channel, Data: data, Timeout: timeout}, actions.ReplyFollowUp))
	return res.Attr("sender", sender).
		Attr("receiver", remoteAddress).
		Attr("amount", remoteAmount.String()), nil
}

// findHopPair picks the mapping of asset registered on the destination
// channel. An explicit destination denom must equal the remote base denom;
// evm receivers additionally need a base denom carrying their prefix.
func (c *Contract) findHopPair(kv store.KV, env models.Env, asset amount.AssetInfo, dest DestinationInfo, evmPrefix string, isEvm bool) (mapping.Pair, bool, error) {
	pairs, err := c.mapper.ReverseLookup(kv, asset)
	if err != nil {
		return mapping.Pair{}, false, err
	}
	local := models.IbcEndpoint{PortID: models.PortID(env.Contract), ChannelID: dest.Channel}
	for _, p := range pairs {
		base, native, err := mapping.ParseVoucherDenom(p.Key, local)
		if err != nil || native {
			continue
		}
		if isEvm && mapping.EvmPrefixFromDenom(base) != evmPrefix {
			continue
		}
		if dest.Denom != "" && !isEvm && base != dest.Denom {
			continue
		}
		return p, true, nil
	}
	return mapping.Pair{}, false, nil
}
