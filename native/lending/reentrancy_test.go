package lending

import (
	"errors"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"p2plend/native/token"
)

// hookedTokens behaves like the ledger but runs hook before every
// TransferFrom, standing in for a token that calls back into the protocol.
type hookedTokens struct {
	*token.Ledger
	hook func()
}

func (h *hookedTokens) TransferFrom(tok, spender, from, to common.Address, amount *uint256.Int) (bool, error) {
	if h.hook != nil {
		hook := h.hook
		h.hook = nil
		hook()
	}
	return h.Ledger.TransferFrom(tok, spender, from, to, amount)
}

func TestNestedTransitionRejectedWhileLocked(t *testing.T) {
	f := newFixture(t)
	req := f.lenderKernel(1000, 1)
	f.sign(req, f.alice)
	pos := f.fill(req)

	hooked := &hookedTokens{Ledger: f.tokens}
	f.engine.SetTokens(hooked)

	var nestedTopup, nestedClose error
	var heldDuring bool
	hooked.hook = func() {
		nestedTopup = f.engine.Topup(f.bob.Address(), pos.Hash, uint256.NewInt(1))
		nestedClose = f.engine.Close(f.bob.Address(), pos.Hash)
		heldDuring, _ = f.engine.positionLocked(pos.Hash)
	}
	if err := f.engine.Topup(f.bob.Address(), pos.Hash, uint256.NewInt(50)); err != nil {
		t.Fatalf("outer topup: %v", err)
	}
	if !errors.Is(nestedTopup, ErrPositionLocked) {
		t.Fatalf("expected nested topup to hit the lock, got %v", nestedTopup)
	}
	if !errors.Is(nestedClose, ErrPositionLocked) {
		t.Fatalf("expected nested close to hit the lock, got %v", nestedClose)
	}
	if KindOf(nestedClose) != KindPrecondition {
		t.Fatalf("unexpected kind %q", KindOf(nestedClose))
	}
	if !heldDuring {
		t.Fatalf("failed nested call released the outer lock")
	}
	if held, _ := f.engine.positionLocked(pos.Hash); held {
		t.Fatalf("lock must be released after the outer call")
	}

	stored, err := f.engine.Position(pos.Hash)
	if err != nil {
		t.Fatalf("position: %v", err)
	}
	if stored.CollateralCurrent.Uint64() != 550 || stored.Status != PositionStatusOpen {
		t.Fatalf("nested calls must not change the position, got collateral %s status %s",
			stored.CollateralCurrent.Dec(), stored.Status)
	}
	if got := f.balance(f.colToken, f.protocol); got != 550 {
		t.Fatalf("protocol custody %d, want 550", got)
	}
}

func TestNestedTransitionDuringOpen(t *testing.T) {
	f := newFixture(t)
	req := f.lenderKernel(1000, 1)
	f.sign(req, f.alice)
	terms, err := req.Terms()
	if err != nil {
		t.Fatalf("terms: %v", err)
	}
	terms.ExpiresAt += uint64(f.now)
	hash := f.engine.PositionHash(terms)

	hooked := &hookedTokens{Ledger: f.tokens}
	f.engine.SetTokens(hooked)
	var nested error
	var heldDuring bool
	hooked.hook = func() {
		heldDuring, _ = f.engine.positionLocked(hash)
		nested = f.engine.Topup(f.bob.Address(), hash, uint256.NewInt(1))
	}
	pos := f.fill(req)
	if pos.Hash != hash {
		t.Fatalf("precomputed hash %s, got %s", hash.Hex(), pos.Hash.Hex())
	}
	// The position is stored open before the first transfer, so only the
	// lock stops the borrower's nested topup.
	if !heldDuring {
		t.Fatalf("open must hold the position lock while transferring")
	}
	if !errors.Is(nested, ErrPositionLocked) {
		t.Fatalf("expected nested topup to hit the lock, got %v", nested)
	}
	stored, err := f.engine.Position(hash)
	if err != nil {
		t.Fatalf("position: %v", err)
	}
	if stored.CollateralCurrent.Uint64() != 500 {
		t.Fatalf("nested topup changed collateral to %s", stored.CollateralCurrent.Dec())
	}
	if held, _ := f.engine.positionLocked(hash); held {
		t.Fatalf("lock must be released after open")
	}
	if pos.Status != PositionStatusOpen {
		t.Fatalf("unexpected status %s", pos.Status)
	}
}

func TestUnlockWithoutLock(t *testing.T) {
	f := newFixture(t)
	if err := f.engine.unlockPosition(common.HexToHash("0x01")); !errors.Is(err, ErrPositionNotLocked) {
		t.Fatalf("expected not locked, got %v", err)
	}
}
