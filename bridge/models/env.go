package models

import (
	"time"

	"github.com/Cogwheel-Validator/spectra-ics20-bridge/bridge/amount"
)

// Env is the execution environment of one call.
type Env struct {
	Contract  string    `json:"contract"`
	BlockTime time.Time `json:"block_time"`
}

// MessageInfo carries the caller and the funds sent along with a call.
type MessageInfo struct {
	Sender string        `json:"sender"`
	Funds  []amount.Coin `json:"funds"`
}

// PortID is the port the bridge contract binds to.
func PortID(contractAddr string) string {
	return "wasm." + contractAddr
}
