package lending

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"p2plend/core/types"
)

const (
	EventTypePositionUpdated = "lending.position.updated"
	EventTypeParamsUpdated   = "lending.params.updated"
)

// Keys reported by position update events.
const (
	PositionFieldStatus            = "status"
	PositionFieldCollateralCurrent = "collateral_current"
)

// Keys reported by parameter update events.
const (
	ParamPositionThreshold = "position_threshold"
	ParamWranglerStatus    = "wrangler_status"
	ParamTokenSupport      = "token_support"
)

// PositionUpdated notifies the position's wrangler of a lifecycle change.
type PositionUpdated struct {
	Wrangler common.Address
	Position common.Hash
	Key      string
	Value    *uint256.Int
}

func (PositionUpdated) EventType() string { return EventTypePositionUpdated }

func (e PositionUpdated) Event() *types.Event {
	return &types.Event{Type: EventTypePositionUpdated, Attributes: map[string]string{
		"wrangler": e.Wrangler.Hex(),
		"position": e.Position.Hex(),
		"key":      e.Key,
		"value":    cloneAmount(e.Value).Dec(),
	}}
}

// ParamsUpdated reports an owner change to protocol parameters.
type ParamsUpdated struct {
	Key     string
	Address common.Address
	Value   uint64
}

func (ParamsUpdated) EventType() string { return EventTypeParamsUpdated }

func (e ParamsUpdated) Event() *types.Event {
	return &types.Event{Type: EventTypeParamsUpdated, Attributes: map[string]string{
		"key":     e.Key,
		"address": e.Address.Hex(),
		"value":   uint256.NewInt(e.Value).Dec(),
	}}
}

func statusEvent(pos *Position) PositionUpdated {
	return PositionUpdated{
		Wrangler: pos.Wrangler,
		Position: pos.Hash,
		Key:      PositionFieldStatus,
		Value:    uint256.NewInt(uint64(pos.Status)),
	}
}

func boolValue(v bool) uint64 {
	if v {
		return 1
	}
	return 0
}
