package genesis

import (
	"fmt"

	"p2plend/native/lending"
	"p2plend/native/token"
)

// Apply writes the genesis state through the token ledger and the lending
// engine. The caller commits or discards the result.
func Apply(g *Genesis, tokens *token.Ledger, engine *lending.Engine) error {
	for _, tok := range g.Tokens {
		meta := token.Metadata{Symbol: tok.Symbol, Name: tok.Name, Decimals: tok.Decimals}
		if err := tokens.Register(tok.Address, meta); err != nil {
			return fmt.Errorf("register %s: %w", tok.Symbol, err)
		}
		for _, alloc := range tok.Alloc {
			if err := tokens.Mint(tok.Address, alloc.Account, alloc.Amount); err != nil {
				return fmt.Errorf("mint %s to %s: %w", tok.Symbol, alloc.Account.Hex(), err)
			}
		}
	}
	if err := engine.InitOwner(g.Owner); err != nil {
		return err
	}
	if g.PositionThreshold != 0 {
		if err := engine.SetPositionThreshold(g.Owner, g.PositionThreshold); err != nil {
			return err
		}
	}
	for _, w := range g.Wranglers {
		if err := engine.SetWranglerStatus(g.Owner, w, true); err != nil {
			return err
		}
	}
	for _, tok := range g.Tokens {
		if !tok.Supported {
			continue
		}
		if err := engine.SetTokenSupport(g.Owner, tok.Address, true); err != nil {
			return err
		}
	}
	return nil
}
