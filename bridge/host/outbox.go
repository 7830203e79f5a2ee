package host

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/Cogwheel-Validator/spectra-ics20-bridge/bridge/actions"
	"github.com/Cogwheel-Validator/spectra-ics20-bridge/bridge/models"
	"github.com/Cogwheel-Validator/spectra-ics20-bridge/bridge/store"
)

const (
	OutboxPacket       = "packet"
	OutboxTransfer     = "transfer"
	OutboxContractCall = "contract_call"
)

var (
	ErrUnknownEntry = errors.New("unknown outbox entry")
	// ErrUnknownPacket is returned when an ack or timeout names a packet the
	// host has not sent, or one that was already settled.
	ErrUnknownPacket = errors.New("unknown or settled packet")
)

// OutboxEntry is something the host emitted for another chain or contract.
type OutboxEntry struct {
	Seq       uint64                `json:"seq"`
	Kind      string                `json:"kind"`
	Packet    *models.IbcPacket     `json:"packet,omitempty"`
	Transfer  *actions.Transfer     `json:"transfer,omitempty"`
	Call      *actions.ContractCall `json:"call,omitempty"`
	CreatedAt time.Time             `json:"created_at"`
}

// Outbox is persisted in the same store as the contract so an entry exists
// exactly when the call that produced it committed.
type Outbox struct {
	entries store.Map[OutboxEntry]
	// packets maps channel and packet sequence to the entry sequence.
	packets store.Map[uint64]
	seq     store.Item[uint64]
}

func newOutbox() *Outbox {
	return &Outbox{
		entries: store.NewMap[OutboxEntry]("outbox", 1),
		packets: store.NewMap[uint64]("outbox_packets", 2),
		seq:     store.NewItem[uint64]("outbox_seq"),
	}
}

func seqKey(seq uint64) string {
	return fmt.Sprintf("%020d", seq)
}

func (o *Outbox) next(kv store.KV) (uint64, error) {
	seq, _, err := o.seq.Load(kv)
	if err != nil {
		return 0, err
	}
	seq++
	return seq, o.seq.Save(kv, seq)
}

func (o *Outbox) push(kv store.KV, entry OutboxEntry) (uint64, error) {
	seq, err := o.next(kv)
	if err != nil {
		return 0, err
	}
	entry.Seq = seq
	return seq, o.entries.Save(kv, entry, seqKey(seq))
}

// pushPacket assigns the packet its sequence, which is also the entry's.
func (o *Outbox) pushPacket(kv store.KV, env models.Env, build func(seq uint64) models.IbcPacket) (uint64, error) {
	seq, err := o.next(kv)
	if err != nil {
		return 0, err
	}
	packet := build(seq)
	entry := OutboxEntry{Seq: seq, Kind: OutboxPacket, Packet: &packet, CreatedAt: env.BlockTime}
	if err := o.entries.Save(kv, entry, seqKey(seq)); err != nil {
		return 0, err
	}
	return seq, o.packets.Save(kv, seq, packet.Src.ChannelID, strconv.FormatUint(packet.Sequence, 10))
}

// takePacket removes an emitted packet from the outbox and returns it as it
// was sent. A packet can be settled once.
func (o *Outbox) takePacket(kv store.KV, channel string, sequence uint64) (models.IbcPacket, error) {
	sk := strconv.FormatUint(sequence, 10)
	seq, ok, err := o.packets.Load(kv, channel, sk)
	if err != nil {
		return models.IbcPacket{}, err
	}
	if !ok {
		return models.IbcPacket{}, fmt.Errorf("%w: %s/%d", ErrUnknownPacket, channel, sequence)
	}
	entry, ok, err := o.entries.Load(kv, seqKey(seq))
	if err != nil {
		return models.IbcPacket{}, err
	}
	if !ok || entry.Packet == nil {
		return models.IbcPacket{}, fmt.Errorf("%w: %s/%d", ErrUnknownPacket, channel, sequence)
	}
	if err := o.packets.Remove(kv, channel, sk); err != nil {
		return models.IbcPacket{}, err
	}
	return *entry.Packet, o.entries.Remove(kv, seqKey(seq))
}

func (o *Outbox) remove(kv store.KV, seq uint64) error {
	entry, ok, err := o.entries.Load(kv, seqKey(seq))
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: %d", ErrUnknownEntry, seq)
	}
	if entry.Kind == OutboxPacket {
		return fmt.Errorf("packet %d is settled by ack or timeout", seq)
	}
	return o.entries.Remove(kv, seqKey(seq))
}

func (o *Outbox) list(kv store.KV) ([]OutboxEntry, error) {
	entries, err := o.entries.Range(kv, nil, nil)
	if err != nil {
		return nil, err
	}
	out := make([]OutboxEntry, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.Value)
	}
	return out, nil
}
