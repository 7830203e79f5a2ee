// Package host runs the bridge contract the way a chain would: one call at a
// time, every call atomic, scheduled messages executed in order afterwards
// with their failures routed to the contract's reply handler.
package host

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/Cogwheel-Validator/spectra-ics20-bridge/bridge/actions"
	"github.com/Cogwheel-Validator/spectra-ics20-bridge/bridge/amount"
	"github.com/Cogwheel-Validator/spectra-ics20-bridge/bridge/bank"
	"github.com/Cogwheel-Validator/spectra-ics20-bridge/bridge/models"
	"github.com/Cogwheel-Validator/spectra-ics20-bridge/bridge/relay"
	"github.com/Cogwheel-Validator/spectra-ics20-bridge/bridge/store"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var log zerolog.Logger

func init() {
	out := zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}
	log = zerolog.New(out).With().Timestamp().Str("component", "host").Logger()
}

// SetLogger replaces the package logger
func SetLogger(l zerolog.Logger) {
	log = l.With().Str("component", "host").Logger()
}

// ErrAlreadyInstantiated is returned when Instantiate runs on a store that
// already holds a bridge.
var ErrAlreadyInstantiated = errors.New("contract is already instantiated")

// ExternalHandler executes a call to a contract outside the bridge. The
// attached funds have already been moved to the callee when it runs.
type ExternalHandler func(ctx context.Context, kv store.KV, b *bank.Bank, call actions.ContractCall) error

// Option configures a Host.
type Option func(*Host)

// WithClock replaces time.Now as the source of block time.
func WithClock(clock func() time.Time) Option {
	return func(h *Host) { h.clock = clock }
}

// WithExternalContract executes calls to addr synchronously instead of
// queueing them in the outbox.
func WithExternalContract(addr string, handler ExternalHandler) Option {
	return func(h *Host) { h.external[addr] = handler }
}

// WithTracer replaces the global tracer.
func WithTracer(t trace.Tracer) Option {
	return func(h *Host) { h.tracer = t }
}

// Host serialises every entrypoint call of one bridge contract.
type Host struct {
	mu       sync.Mutex
	db       store.DB
	contract *relay.Contract
	bank     *bank.Bank
	address  string
	clock    func() time.Time
	external map[string]ExternalHandler
	tracer   trace.Tracer
	metrics  *metrics
	outbox   *Outbox
}

// New builds a Host that runs contract as address over db.
func New(db store.DB, contract *relay.Contract, address string, opts ...Option) (*Host, error) {
	if address == "" {
		return nil, errors.New("contract address is empty")
	}
	h := &Host{
		db:       db,
		contract: contract,
		bank:     bank.New(),
		address:  address,
		clock:    time.Now,
		external: make(map[string]ExternalHandler),
		tracer:   otel.Tracer("github.com/Cogwheel-Validator/spectra-ics20-bridge/bridge/host"),
		outbox:   newOutbox(),
	}
	for _, opt := range opts {
		opt(h)
	}
	m, err := newMetrics()
	if err != nil {
		return nil, fmt.Errorf("failed to create host metrics: %w", err)
	}
	h.metrics = m
	return h, nil
}

func (h *Host) Address() string          { return h.address }
func (h *Host) Contract() *relay.Contract { return h.contract }
func (h *Host) Bank() *bank.Bank          { return h.bank }

func (h *Host) env() models.Env {
	return models.Env{Contract: h.address, BlockTime: h.clock().UTC()}
}

type handler func(ctx context.Context, kv store.KV, env models.Env) (*relay.Response, error)

// run executes fn and everything it schedules as one unit. Nothing is
// written to the database unless the whole unit succeeds.
func (h *Host) run(ctx context.Context, name string, fn handler) (*relay.Response, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	ctx, span := h.tracer.Start(ctx, "bridge."+name)
	defer span.End()

	root := store.NewCacheKV(store.Wrap(ctx, h.db))
	env := h.env()
	res, err := fn(ctx, root, env)
	if err == nil {
		err = h.dispatch(ctx, root, env, res.Messages, res)
	}
	if err == nil {
		err = root.Write()
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		h.metrics.call(ctx, name, false)
		log.Debug().Err(err).Str("entrypoint", name).Msg("call rolled back")
		return nil, err
	}
	span.SetAttributes(attribute.Int("bridge.messages", len(res.Messages)))
	h.metrics.call(ctx, name, true)
	return res, nil
}

// dispatch runs scheduled messages in order, each under its own savepoint.
// Attributes and reply data of everything it runs are collected into out.
func (h *Host) dispatch(ctx context.Context, kv store.KV, env models.Env, msgs []actions.SubMsg, out *relay.Response) error {
	for _, sub := range msgs {
		savepoint := store.NewCacheKV(kv)
		err := h.execute(ctx, savepoint, env, sub.Action, out)
		if err == nil {
			if err := savepoint.Write(); err != nil {
				return err
			}
		} else {
			savepoint.Discard()
		}

		var reply *actions.Reply
		switch {
		case err != nil && (sub.ReplyOn == actions.ReplyOnError || sub.ReplyOn == actions.ReplyAlways):
			reply = &actions.Reply{Kind: sub.Reply, Err: err.Error()}
		case err != nil:
			return fmt.Errorf("%s failed: %w", sub.Action.Kind(), err)
		case sub.ReplyOn == actions.ReplyOnSuccess || sub.ReplyOn == actions.ReplyAlways:
			reply = &actions.Reply{Kind: sub.Reply}
		}
		if reply == nil {
			continue
		}

		res, err := h.contract.Reply(ctx, kv, env, *reply)
		if err != nil {
			return err
		}
		if reply.Err != "" {
			h.metrics.forcedSuccess(ctx, reply.Kind.String())
		}
		out.Attributes = append(out.Attributes, res.Attributes...)
		if res.Data != nil {
			out.Data = res.Data
			out.Ack = res.Data
		}
		if err := h.dispatch(ctx, kv, env, res.Messages, out); err != nil {
			return err
		}
	}
	return nil
}

func (h *Host) execute(ctx context.Context, kv store.KV, env models.Env, action actions.Action, out *relay.Response) error {
	switch a := action.(type) {
	case actions.BankSend:
		for _, coin := range a.Amount {
			if err := h.bank.Send(kv, h.address, a.ToAddress, coin.Denom, coin.Amount); err != nil {
				return err
			}
		}
		return nil
	case actions.TokenTransfer:
		if _, err := h.bank.Token(kv, a.Contract); err != nil {
			return err
		}
		return h.bank.Send(kv, h.address, a.Recipient, amount.NewToken(a.Contract).BankDenom(), a.Amount)
	case actions.TokenMint:
		return h.bank.Mint(kv, h.address, a.Contract, a.Recipient, a.Amount)
	case actions.TokenBurn:
		return h.bank.Burn(kv, h.address, a.Contract, a.Amount)
	case actions.ContractCall:
		return h.call(ctx, kv, env, a, out)
	case actions.SendPacket:
		return h.sendPacket(ctx, kv, env, a)
	case actions.Transfer:
		return h.transfer(ctx, kv, env, a)
	default:
		return fmt.Errorf("unsupported action %T", action)
	}
}

func (h *Host) call(ctx context.Context, kv store.KV, env models.Env, call actions.ContractCall, out *relay.Response) error {
	if call.Contract == h.address {
		var msg relay.ExecuteMsg
		if err := json.Unmarshal(call.Msg, &msg); err != nil {
			return fmt.Errorf("invalid self call: %w", err)
		}
		res, err := h.contract.Execute(ctx, kv, env, models.MessageInfo{Sender: h.address, Funds: call.Funds}, msg)
		if err != nil {
			return err
		}
		out.Attributes = append(out.Attributes, res.Attributes...)
		return h.dispatch(ctx, kv, env, res.Messages, out)
	}

	for _, coin := range call.Funds {
		if err := h.bank.Send(kv, h.address, call.Contract, coin.Denom, coin.Amount); err != nil {
			return err
		}
	}
	if handler, ok := h.external[call.Contract]; ok {
		return handler(ctx, kv, h.bank, call)
	}
	_, err := h.outbox.push(kv, OutboxEntry{Kind: OutboxContractCall, Call: &call, CreatedAt: env.BlockTime})
	if err == nil {
		h.metrics.outboxed(ctx, OutboxContractCall)
	}
	return err
}

func (h *Host) sendPacket(ctx context.Context, kv store.KV, env models.Env, send actions.SendPacket) error {
	ch, err := h.contract.Channel(kv, send.ChannelID)
	if err != nil {
		return err
	}
	_, err = h.outbox.pushPacket(kv, env, func(seq uint64) models.IbcPacket {
		return models.IbcPacket{
			Data:     send.Data,
			Src:      models.IbcEndpoint{PortID: models.PortID(h.address), ChannelID: send.ChannelID},
			Dest:     ch.Info.CounterpartyEndpoint,
			Sequence: seq,
			Timeout:  send.Timeout,
		}
	})
	if err == nil {
		h.metrics.outboxed(ctx, OutboxPacket)
	}
	return err
}

// transfer escrows native coins for a plain transfer module send on a
// channel the bridge does not own.
func (h *Host) transfer(ctx context.Context, kv store.KV, env models.Env, t actions.Transfer) error {
	if err := h.bank.Send(kv, h.address, EscrowAddress(t.ChannelID), t.Amount.Denom, t.Amount.Amount); err != nil {
		return err
	}
	_, err := h.outbox.push(kv, OutboxEntry{Kind: OutboxTransfer, Transfer: &t, CreatedAt: env.BlockTime})
	if err == nil {
		h.metrics.outboxed(ctx, OutboxTransfer)
	}
	return err
}

// EscrowAddress holds coins sent through the transfer module on a channel.
func EscrowAddress(channel string) string {
	return "transfer/" + channel + "/escrow"
}

// Instantiate configures the contract. It can run on an empty store only.
func (h *Host) Instantiate(ctx context.Context, sender string, msg relay.InitMsg) (*relay.Response, error) {
	return h.run(ctx, "instantiate", func(ctx context.Context, kv store.KV, env models.Env) (*relay.Response, error) {
		admin, err := h.contract.Admin(kv)
		if err != nil {
			return nil, err
		}
		if admin.Admin != "" {
			return nil, ErrAlreadyInstantiated
		}
		if sender == h.address {
			return nil, relay.ErrSelfCallOnly
		}
		return h.contract.Instantiate(ctx, kv, env, models.MessageInfo{Sender: sender}, msg)
	})
}

// Instantiated reports whether the store already holds a configured contract.
func (h *Host) Instantiated(ctx context.Context) (bool, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	admin, err := h.contract.Admin(store.Wrap(ctx, h.db))
	return admin.Admin != "", err
}

// Execute moves funds from sender to the contract and runs msg. Only
// scheduled messages may act as the contract itself.
func (h *Host) Execute(ctx context.Context, sender string, funds []amount.Coin, msg relay.ExecuteMsg) (*relay.Response, error) {
	return h.run(ctx, "execute", func(ctx context.Context, kv store.KV, env models.Env) (*relay.Response, error) {
		if sender == h.address {
			return nil, relay.ErrSelfCallOnly
		}
		for _, coin := range funds {
			if err := h.bank.Send(kv, sender, h.address, coin.Denom, coin.Amount); err != nil {
				return nil, err
			}
		}
		return h.contract.Execute(ctx, kv, env, models.MessageInfo{Sender: sender, Funds: funds}, msg)
	})
}

// SendToken is the token contract's Send: the tokens move to the bridge,
// which is then notified with the token contract as caller.
func (h *Host) SendToken(ctx context.Context, sender, token string, amt decimal.Decimal, msg json.RawMessage) (*relay.Response, error) {
	return h.run(ctx, "send_token", func(ctx context.Context, kv store.KV, env models.Env) (*relay.Response, error) {
		if sender == h.address || token == h.address {
			return nil, relay.ErrSelfCallOnly
		}
		if _, err := h.bank.Token(kv, token); err != nil {
			return nil, err
		}
		if err := h.bank.Send(kv, sender, h.address, amount.NewToken(token).BankDenom(), amt); err != nil {
			return nil, err
		}
		return h.contract.Execute(ctx, kv, env, models.MessageInfo{Sender: token}, relay.ExecuteMsg{
			Receive: &relay.Cw20ReceiveMsg{Sender: sender, Amount: amt, Msg: msg},
		})
	})
}

func (h *Host) ChannelOpen(ctx context.Context, channel models.IbcChannel, counterpartyVersion string) error {
	_, err := h.run(ctx, "channel_open", func(ctx context.Context, kv store.KV, env models.Env) (*relay.Response, error) {
		if err := h.contract.ChannelOpen(ctx, kv, env, channel, counterpartyVersion); err != nil {
			return nil, err
		}
		return &relay.Response{}, nil
	})
	return err
}

func (h *Host) ChannelConnect(ctx context.Context, channel models.IbcChannel, counterpartyVersion string) (*relay.Response, error) {
	return h.run(ctx, "channel_connect", func(ctx context.Context, kv store.KV, env models.Env) (*relay.Response, error) {
		return h.contract.ChannelConnect(ctx, kv, env, channel, counterpartyVersion)
	})
}

func (h *Host) ChannelClose(ctx context.Context, channel models.IbcChannel) (*relay.Response, error) {
	return h.run(ctx, "channel_close", func(ctx context.Context, kv store.KV, env models.Env) (*relay.Response, error) {
		return h.contract.ChannelClose(ctx, kv, env, channel)
	})
}

// PacketReceive always yields an acknowledgement. A failure anywhere in the
// call, scheduled messages included, rolls everything back into an error ack.
func (h *Host) PacketReceive(ctx context.Context, packet models.IbcPacket) *relay.Response {
	res, err := h.run(ctx, "packet_receive", func(ctx context.Context, kv store.KV, env models.Env) (*relay.Response, error) {
		return h.contract.PacketReceive(ctx, kv, env, packet), nil
	})
	if err != nil {
		res = &relay.Response{Ack: models.AckFail(err.Error())}
		res.Attr("action", "receive").Attr("success", "false").Attr("error", err.Error())
	}
	ack, perr := models.ParseAck(res.Ack)
	h.metrics.ack(ctx, "receive", perr == nil && ack.Success())
	return res
}

// PacketAck settles an outbound packet and drops it from the outbox.
func (h *Host) PacketAck(ctx context.Context, packet models.IbcPacket, ack []byte) (*relay.Response, error) {
	res, err := h.run(ctx, "packet_ack", func(ctx context.Context, kv store.KV, env models.Env) (*relay.Response, error) {
		sent, err := h.settle(kv, packet)
		if err != nil {
			return nil, err
		}
		return h.contract.PacketAck(ctx, kv, env, sent, ack)
	})
	if err == nil {
		parsed, _ := models.ParseAck(ack)
		h.metrics.ack(ctx, "ack", parsed.Success())
	}
	return res, err
}

// PacketTimeout refunds an outbound packet and drops it from the outbox.
func (h *Host) PacketTimeout(ctx context.Context, packet models.IbcPacket) (*relay.Response, error) {
	res, err := h.run(ctx, "packet_timeout", func(ctx context.Context, kv store.KV, env models.Env) (*relay.Response, error) {
		sent, err := h.settle(kv, packet)
		if err != nil {
			return nil, err
		}
		return h.contract.PacketTimeout(ctx, kv, env, sent)
	})
	if err == nil {
		h.metrics.ack(ctx, "timeout", false)
	}
	return res, err
}

// settle takes the outbox copy of packet. The contract only ever sees what
// the host sent, never the caller's version of it.
func (h *Host) settle(kv store.KV, packet models.IbcPacket) (models.IbcPacket, error) {
	sent, err := h.outbox.takePacket(kv, packet.Src.ChannelID, packet.Sequence)
	if err != nil {
		return models.IbcPacket{}, err
	}
	if !bytes.Equal(sent.Data, packet.Data) {
		return models.IbcPacket{}, fmt.Errorf("%w: %s/%d data does not match", ErrUnknownPacket, packet.Src.ChannelID, packet.Sequence)
	}
	return sent, nil
}

// Query reads through a throwaway cache so a query can never write.
func (h *Host) Query(ctx context.Context, msg relay.QueryMsg) (any, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	kv := store.NewCacheKV(store.Wrap(ctx, h.db))
	defer kv.Discard()
	return h.contract.Query(ctx, kv, h.env(), msg)
}

// Balance returns what addr holds of a bank denom.
func (h *Host) Balance(ctx context.Context, addr, denom string) (decimal.Decimal, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.bank.Balance(store.Wrap(ctx, h.db), addr, denom)
}

// Outbox lists packets, transfers and external calls waiting for delivery.
func (h *Host) Outbox(ctx context.Context) ([]OutboxEntry, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.outbox.list(store.Wrap(ctx, h.db))
}

// Deliver drops a transfer or contract call entry once it has been handed off.
// Packets leave the outbox through PacketAck and PacketTimeout.
func (h *Host) Deliver(ctx context.Context, seq uint64) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	kv := store.NewCacheKV(store.Wrap(ctx, h.db))
	if err := h.outbox.remove(kv, seq); err != nil {
		return err
	}
	return kv.Write()
}

// Genesis applies fn to the store in one unit, outside any entrypoint.
func (h *Host) Genesis(ctx context.Context, fn func(kv store.KV, b *bank.Bank) error) error {
	_, err := h.run(ctx, "genesis", func(_ context.Context, kv store.KV, _ models.Env) (*relay.Response, error) {
		if err := fn(kv, h.bank); err != nil {
			return nil, err
		}
		return &relay.Response{}, nil
	})
	return err
}
