package types

import "github.com/ethereum/go-ethereum/common"

// Receipt reports the outcome of an applied transaction. A failed receipt
// carries no events and implies no state changed.
type Receipt struct {
	TxHash    common.Hash    `json:"txHash"`
	Type      string         `json:"type"`
	From      common.Address `json:"from"`
	Height    uint64         `json:"height"`
	StateRoot common.Hash    `json:"stateRoot"`
	Success   bool           `json:"success"`
	ErrorKind string         `json:"errorKind,omitempty"`
	Error     string         `json:"error,omitempty"`
	Events    []Event        `json:"events,omitempty"`
	// Position is set when the transaction opened a position.
	Position *common.Hash `json:"position,omitempty"`
}
