package events

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"p2plend/core/types"
)

// TypeTokenSupply marks a mint. Mints only happen while genesis allocates
// balances.
const TypeTokenSupply = "token.supply"

// TokenSupply reports Amount minted to Account, leaving the token's total
// supply at Total.
type TokenSupply struct {
	Token   common.Address
	Symbol  string
	Account common.Address
	Amount  *uint256.Int
	Total   *uint256.Int
}

func (TokenSupply) EventType() string { return TypeTokenSupply }

func (e TokenSupply) Event() *types.Event {
	return &types.Event{Type: TypeTokenSupply, Attributes: map[string]string{
		"token":   e.Token.Hex(),
		"symbol":  e.Symbol,
		"account": e.Account.Hex(),
		"amount":  formatAmount(e.Amount),
		"total":   formatAmount(e.Total),
	}}
}
