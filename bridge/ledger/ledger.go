// Package ledger tracks, per (channel, ibc denom), how much value is bridged
// out and not yet returned, and how much was ever sent.
package ledger

import (
	"errors"
	"fmt"

	"github.com/Cogwheel-Validator/spectra-ics20-bridge/bridge/store"
	"github.com/shopspring/decimal"
)

var (
	// ErrInsufficientFunds is returned by Reduce when the record is missing or underfunded.
	ErrInsufficientFunds = errors.New("insufficient funds to redeem voucher on channel")
	// ErrUnderflow is returned when a compensating decrease would go negative.
	ErrUnderflow = errors.New("outstanding balance underflow")
)

// ChannelState is the balance record of one (channel, denom) pair.
// Outstanding never exceeds TotalSent unless overridden by an admin.
type ChannelState struct {
	Outstanding decimal.Decimal `json:"outstanding"`
	TotalSent   decimal.Decimal `json:"total_sent"`
}

// Balance is a ChannelState together with its denom.
type Balance struct {
	Denom string       `json:"denom"`
	State ChannelState `json:"state"`
}

// Ledger tracks the outstanding balance of every (channel, denom) pair.
type Ledger struct {
	states store.Map[ChannelState]
}

// New returns a Ledger over the channel_state namespace.
func New() *Ledger {
	return &Ledger{states: store.NewMap[ChannelState]("channel_state", 2)}
}

// Get returns the record and whether it exists.
func (l *Ledger) Get(kv store.KV, channel, denom string) (ChannelState, bool, error) {
	return l.states.Load(kv, channel, denom)
}

// Increase adds amount to both counters, creating the record if needed.
func (l *Ledger) Increase(kv store.KV, channel, denom string, amount decimal.Decimal) error {
	state, ok, err := l.Get(kv, channel, denom)
	if err != nil {
		return err
	}
	if !ok {
		state = ChannelState{Outstanding: decimal.Zero, TotalSent: decimal.Zero}
	}
	state.Outstanding = state.Outstanding.Add(amount)
	state.TotalSent = state.TotalSent.Add(amount)
	return l.states.Save(kv, state, channel, denom)
}

// Reduce removes amount from the outstanding balance. Storage is untouched on failure.
func (l *Ledger) Reduce(kv store.KV, channel, denom string, amount decimal.Decimal) error {
	state, ok, err := l.Get(kv, channel, denom)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: no channel state for %s on %s", ErrInsufficientFunds, denom, channel)
	}
	if state.Outstanding.LessThan(amount) {
		return fmt.Errorf("%w: %s outstanding on %s is %s, requested %s",
			ErrInsufficientFunds, denom, channel, state.Outstanding.String(), amount.String())
	}
	state.Outstanding = state.Outstanding.Sub(amount)
	return l.states.Save(kv, state, channel, denom)
}

// UndoReduce restores outstanding after a failed send, leaving TotalSent alone.
func (l *Ledger) UndoReduce(kv store.KV, channel, denom string, amount decimal.Decimal) error {
	state, ok, err := l.Get(kv, channel, denom)
	if err != nil {
		return err
	}
	if !ok {
		state = ChannelState{Outstanding: decimal.Zero, TotalSent: decimal.Zero}
	}
	state.Outstanding = state.Outstanding.Add(amount)
	return l.states.Save(kv, state, channel, denom)
}

// UndoIncrease reverses the outstanding part of an Increase. It is a
// compensating step only; callers must know the increase happened.
func (l *Ledger) UndoIncrease(kv store.KV, channel, denom string, amount decimal.Decimal) error {
	state, ok, err := l.Get(kv, channel, denom)
	if err != nil {
		return err
	}
	if !ok || state.Outstanding.LessThan(amount) {
		return fmt.Errorf("%w: cannot undo %s of %s on %s", ErrUnderflow, amount.String(), denom, channel)
	}
	state.Outstanding = state.Outstanding.Sub(amount)
	return l.states.Save(kv, state, channel, denom)
}

// Override sets the record directly. A nil totalSent keeps the stored value.
func (l *Ledger) Override(kv store.KV, channel, denom string, outstanding decimal.Decimal, totalSent *decimal.Decimal) error {
	state, ok, err := l.Get(kv, channel, denom)
	if err != nil {
		return err
	}
	if !ok {
		state.TotalSent = outstanding
	}
	state.Outstanding = outstanding
	if totalSent != nil {
		state.TotalSent = *totalSent
	}
	return l.states.Save(kv, state, channel, denom)
}

// ListChannel returns every denom record on a channel.
func (l *Ledger) ListChannel(kv store.KV, channel string) ([]Balance, error) {
	entries, err := l.states.Range(kv, []string{channel}, nil)
	if err != nil {
		return nil, err
	}
	out := make([]Balance, 0, len(entries))
	for _, e := range entries {
		out = append(out, Balance{Denom: e.Key[1], State: e.Value})
	}
	return out, nil
}
