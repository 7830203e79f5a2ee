package models

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/Cogwheel-Validator/spectra-ics20-bridge/bridge/amount"
	"github.com/shopspring/decimal"
)

const (
	// Ics20Version is the only channel version the bridge accepts.
	Ics20Version = "ics20-1"
	// OrderUnordered is the only channel ordering the bridge accepts.
	OrderUnordered = "ORDER_UNORDERED"
	OrderOrdered   = "ORDER_ORDERED"
)

// IbcEndpoint is one side of a channel.
type IbcEndpoint struct {
	PortID    string `json:"port_id" toml:"port_id"`
	ChannelID string `json:"channel_id" toml:"channel_id"`
}

// IbcChannel is the channel description handed over during the handshake.
type IbcChannel struct {
	Endpoint             IbcEndpoint `json:"endpoint"`
	CounterpartyEndpoint IbcEndpoint `json:"counterparty_endpoint"`
	Order                string      `json:"order"`
	Version              string      `json:"version"`
	ConnectionID         string      `json:"connection_id"`
}

// IbcPacket is a packet as delivered by the relayer.
type IbcPacket struct {
	Data     []byte      `json:"data"`
	Src      IbcEndpoint `json:"src"`
	Dest     IbcEndpoint `json:"dest"`
	Sequence uint64      `json:"sequence"`
	Timeout  time.Time   `json:"timeout"`
}

// Ics20Packet is the fungible token transfer payload.
type Ics20Packet struct {
	Amount   decimal.Decimal `json:"amount"`
	Denom    string          `json:"denom"`
	Receiver string          `json:"receiver"`
	Sender   string          `json:"sender"`
	Memo     string          `json:"memo,omitempty"`
}

func NewIcs20Packet(amt decimal.Decimal, denom, sender, receiver, memo string) Ics20Packet {
	return Ics20Packet{
		Amount:   amt,
		Denom:    denom,
		Sender:   sender,
		Receiver: receiver,
		Memo:     memo,
	}
}

// Validate rejects amounts that cannot be carried in a packet.
func (p Ics20Packet) Validate() error {
	return amount.Validate(p.Amount)
}

func (p Ics20Packet) Marshal() ([]byte, error) {
	return json.Marshal(p)
}

// ParseIcs20Packet decodes and validates packet data.
func ParseIcs20Packet(data []byte) (Ics20Packet, error) {
	var p Ics20Packet
	if err := json.Unmarshal(data, &p); err != nil {
		return p, fmt.Errorf("failed to parse ics20 packet: %w", err)
	}
	if p.Denom == "" {
		return p, errors.New("ics20 packet has empty denom")
	}
	if err := p.Validate(); err != nil {
		return p, err
	}
	return p, nil
}

// Ack is the generic ICS acknowledgement envelope.
type Ack struct {
	Result []byte `json:"result,omitempty"`
	Error  string `json:"error,omitempty"`
}

func (a Ack) Success() bool {
	return a.Error == "" && a.Result != nil
}

// AckSuccess is the serialized success acknowledgement.
func AckSuccess() []byte {
	b, _ := json.Marshal(Ack{Result: []byte("1")})
	return b
}

// AckFail serializes an error acknowledgement.
func AckFail(err string) []byte {
	b, _ := json.Marshal(Ack{Error: err})
	return b
}

func ParseAck(data []byte) (Ack, error) {
	var a Ack
	if err := json.Unmarshal(data, &a); err != nil {
		return a, fmt.Errorf("failed to parse acknowledgement: %w", err)
	}
	if a.Result == nil && a.Error == "" {
		return a, errors.New("acknowledgement has neither result nor error")
	}
	return a, nil
}
