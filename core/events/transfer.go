package events

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"p2plend/core/types"
)

const (
	// TypeTransfer is emitted for token balance movements.
	TypeTransfer = "transfer.token"
	// TypeApproval is emitted when an allowance changes.
	TypeApproval = "approval.token"
)

type Transfer struct {
	Token  common.Address
	From   common.Address
	To     common.Address
	Amount *uint256.Int
}

func (Transfer) EventType() string { return TypeTransfer }

func (e Transfer) Event() *types.Event {
	attrs := map[string]string{
		"token":  e.Token.Hex(),
		"from":   e.From.Hex(),
		"to":     e.To.Hex(),
		"amount": formatAmount(e.Amount),
	}
	return &types.Event{Type: TypeTransfer, Attributes: attrs}
}

type Approval struct {
	Token   common.Address
	Owner   common.Address
	Spender common.Address
	Amount  *uint256.Int
}

func (Approval) EventType() string { return TypeApproval }

func (e Approval) Event() *types.Event {
	attrs := map[string]string{
		"token":   e.Token.Hex(),
		"owner":   e.Owner.Hex(),
		"spender": e.Spender.Hex(),
		"amount":  formatAmount(e.Amount),
	}
	return &types.Event{Type: TypeApproval, Attributes: attrs}
}
