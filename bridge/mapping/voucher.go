package mapping

import (
	"errors"
	"fmt"
	"strings"

	"github.com/Cogwheel-Validator/spectra-ics20-bridge/bridge/models"
)

var (
	ErrNoForeignTokens  = errors.New("only accepts tokens that originate on this chain")
	ErrFromOtherPort    = errors.New("voucher denom came from another port")
	ErrFromOtherChannel = errors.New("voucher denom came from another channel")
)

// FromOtherPortError names the port a spoofed voucher claims to come from.
type FromOtherPortError struct {
	Port string
}

func (e *FromOtherPortError) Error() string {
	return fmt.Sprintf("parsed port from denom (%s) doesn't match packet", e.Port)
}

func (e *FromOtherPortError) Is(target error) bool { return target == ErrFromOtherPort }

// FromOtherChannelError names the channel a spoofed voucher claims to come from.
type FromOtherChannelError struct {
	Channel string
}

func (e *FromOtherChannelError) Error() string {
	return fmt.Sprintf("parsed channel from denom (%s) doesn't match packet", e.Channel)
}

func (e *FromOtherChannelError) Is(target error) bool { return target == ErrFromOtherChannel }

// GetKey builds the ibc denom key "<port>/<channel>/<denom>".
func GetKey(port, channel, denom string) string {
	return port + "/" + channel + "/" + denom
}

// ParseVoucherDenom splits a packet denom. A single segment is a token native
// to the counterparty. Three segments must name the expected remote port and
// channel and yield the base denom. Anything else is rejected.
func ParseVoucherDenom(denom string, remote models.IbcEndpoint) (string, bool, error) {
	parts := strings.SplitN(denom, "/", 3)
	if len(parts) == 1 {
		return denom, true, nil
	}
	if len(parts) != 3 {
		return "", false, ErrNoForeignTokens
	}
	if parts[0] != remote.PortID {
		return "", false, &FromOtherPortError{Port: parts[0]}
	}
	if parts[1] != remote.ChannelID {
		return "", false, &FromOtherChannelError{Channel: parts[1]}
	}
	return parts[2], false, nil
}

// EvmPrefixFromDenom returns the part of denom before its "0x" marker, or ""
// when there is no marker.
func EvmPrefixFromDenom(denom string) string {
	prefix, _, found := strings.Cut(denom, "0x")
	if !found {
		return ""
	}
	return prefix
}
