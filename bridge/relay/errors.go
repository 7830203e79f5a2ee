package relay

import (
	"errors"
	"fmt"

	"github.com/Cogwheel-Validator/spectra-ics20-bridge/bridge/actions"
)

var (
	ErrUnauthorized          = errors.New("unauthorized")
	ErrSelfCallOnly          = errors.New("only the bridge contract may call this")
	ErrInvalidIbcVersion     = errors.New("invalid ibc channel version")
	ErrOnlyUnorderedChannel  = errors.New("only supports unordered channels")
	ErrCannotCloseChannel    = errors.New("cannot close channel")
	ErrNoSuchChannel         = errors.New("no such channel")
	ErrNotOnMappingList      = errors.New("denom is not on the mapping list")
	ErrMappingPairNotFound   = errors.New("mapping pair not found")
	ErrUnsupportedDenom      = errors.New("only tokens native to the counterparty can be received")
	ErrNotOnAllowList        = errors.New("token is not on the allow list")
	ErrCannotLowerGas        = errors.New("cannot lower the gas limit of an allowed contract")
	ErrNoFunds               = errors.New("no funds sent")
	ErrPayment               = errors.New("exactly one coin must be sent")
	ErrNonPayable            = errors.New("this message does not accept funds")
	ErrInvalidMessage        = errors.New("message must set exactly one variant")
	ErrInvalidIbcHooksMethod = errors.New("invalid ibc hooks method")
	ErrInvalidIbcHooksArgs   = errors.New("invalid ibc hooks arguments")
	ErrMissingReceiver       = errors.New("destination receiver is required")
	ErrMissingBridgeInfo     = errors.New("bridge info is required for remote destinations")
	ErrUnknownReply          = errors.New("unknown reply kind")
)

// UnknownReplyError reports a reply the contract never scheduled.
type UnknownReplyError struct {
	Kind actions.ReplyKind
}

func (e *UnknownReplyError) Error() string {
	return fmt.Sprintf("unknown reply kind %d", int(e.Kind))
}

func (e *UnknownReplyError) Is(target error) bool { return target == ErrUnknownReply }
