package lending

import (
	"errors"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

func TestFillKernelOpensPosition(t *testing.T) {
	f := newFixture(t)
	req := f.lenderKernel(1000, 1)
	f.sign(req, f.alice)

	pos := f.fill(req)

	if pos.Status != PositionStatusOpen {
		t.Fatalf("expected open position, got %s", pos.Status)
	}
	if pos.LoanAmountFilled.Uint64() != 1000 || pos.LoanAmountOwed.Uint64() != 1010 {
		t.Fatalf("unexpected amounts filled=%s owed=%s", pos.LoanAmountFilled.Dec(), pos.LoanAmountOwed.Dec())
	}
	if pos.KernelCreator != f.alice.Address() {
		t.Fatalf("unexpected kernel creator %s", pos.KernelCreator.Hex())
	}
	if pos.ExpiresAt != uint64(f.now)+SecondsPerDay || pos.CreatedAt != uint64(f.now) {
		t.Fatalf("unexpected timestamps created=%d expires=%d", pos.CreatedAt, pos.ExpiresAt)
	}
	if pos.Hash != f.engine.PositionHash(pos) {
		t.Fatalf("stored hash does not match position terms")
	}

	if borrow, _ := f.counts(f.bob.Address()); borrow != 1 {
		t.Fatalf("expected bob borrow count 1, got %d", borrow)
	}
	if _, lend := f.counts(f.alice.Address()); lend != 1 {
		t.Fatalf("expected alice lend count 1, got %d", lend)
	}

	if got := f.balance(f.colToken, f.protocol); got != 500 {
		t.Fatalf("expected 500 collateral in custody, got %d", got)
	}
	if got := f.balance(f.loanTok, f.bob.Address()); got != 1100 {
		t.Fatalf("expected bob to receive the loan, got %d", got)
	}
	if got := f.balance(f.loanTok, f.alice.Address()); got != 9000 {
		t.Fatalf("unexpected alice loan balance %d", got)
	}
	if got := f.balance(f.feeToken, f.wrangler.Address()); got != 5 {
		t.Fatalf("expected monitoring fee to reach wrangler, got %d", got)
	}

	kernel := req.Kernel()
	filled, err := f.engine.Filled(f.engine.KernelHash(&kernel))
	if err != nil {
		t.Fatalf("filled: %v", err)
	}
	if filled.Uint64() != 1000 {
		t.Fatalf("expected kernel filled 1000, got %s", filled.Dec())
	}
	nonce, err := f.engine.WranglerNonce(f.wrangler.Address(), f.alice.Address())
	if err != nil || nonce != 1 {
		t.Fatalf("expected wrangler nonce 1, got %d err=%v", nonce, err)
	}
	at, ok, err := f.engine.PositionAt(0)
	if err != nil || !ok || at != pos.Hash {
		t.Fatalf("expected global index 0 to hold position, ok=%v err=%v", ok, err)
	}

	updates := f.emitter.positionUpdates()
	if len(updates) != 1 || updates[0].Key != PositionFieldStatus || updates[0].Value.Uint64() != 1 {
		t.Fatalf("unexpected events %+v", updates)
	}
	if updates[0].Wrangler != f.wrangler.Address() || updates[0].Position != pos.Hash {
		t.Fatalf("unexpected event addressing %+v", updates[0])
	}
	locked, err := f.engine.positionLocked(pos.Hash)
	if err != nil || locked {
		t.Fatalf("expected lock released, locked=%v err=%v", locked, err)
	}
}

func TestCloseRepaysAndReturnsCollateral(t *testing.T) {
	f := newFixture(t)
	req := f.lenderKernel(1000, 1)
	f.sign(req, f.alice)
	pos := f.fill(req)
	f.emitter.events = nil

	if err := f.engine.Close(f.alice.Address(), pos.Hash); !errors.Is(err, ErrCallerNotBorrower) {
		t.Fatalf("expected borrower check, got %v", err)
	}
	f.now += 3600
	if err := f.engine.Close(f.bob.Address(), pos.Hash); err != nil {
		t.Fatalf("close: %v", err)
	}

	if got := f.balance(f.loanTok, f.alice.Address()); got != 10_010 {
		t.Fatalf("expected alice repaid 1010, got balance %d", got)
	}
	if got := f.balance(f.loanTok, f.bob.Address()); got != 90 {
		t.Fatalf("unexpected bob loan balance %d", got)
	}
	if got := f.balance(f.colToken, f.bob.Address()); got != 2000 {
		t.Fatalf("expected collateral returned, got %d", got)
	}
	if got := f.balance(f.colToken, f.protocol); got != 0 {
		t.Fatalf("expected empty custody, got %d", got)
	}

	stored, err := f.engine.Position(pos.Hash)
	if err != nil {
		t.Fatalf("closed position must stay retrievable: %v", err)
	}
	if stored.Status != PositionStatusClosed || stored.UpdatedAt != uint64(f.now) {
		t.Fatalf("unexpected stored position %+v", stored)
	}
	if borrow, lend := f.counts(f.bob.Address()); borrow != 0 || lend != 0 {
		t.Fatalf("expected bob counts cleared, got %d/%d", borrow, lend)
	}
	if _, lend := f.counts(f.alice.Address()); lend != 0 {
		t.Fatalf("expected alice lend count cleared, got %d", lend)
	}
	list, err := f.engine.BorrowPositions(f.bob.Address())
	if err != nil || len(list) != 0 {
		t.Fatalf("expected empty borrow list, got %v err=%v", list, err)
	}
	updates := f.emitter.positionUpdates()
	if len(updates) != 1 || updates[0].Value.Uint64() != uint64(PositionStatusClosed) {
		t.Fatalf("unexpected events %+v", updates)
	}

	if err := f.engine.Close(f.bob.Address(), pos.Hash); !errors.Is(err, ErrPositionNotOpen) {
		t.Fatalf("expected closed position to reject close, got %v", err)
	}
}

func TestCloseAfterExpiryRejected(t *testing.T) {
	f := newFixture(t)
	req := f.lenderKernel(1000, 1)
	f.sign(req, f.alice)
	pos := f.fill(req)

	f.now = int64(pos.ExpiresAt)
	if err := f.engine.Close(f.bob.Address(), pos.Hash); err != nil {
		t.Fatalf("close at expiry boundary: %v", err)
	}

	f2 := newFixture(t)
	req2 := f2.lenderKernel(1000, 1)
	f2.sign(req2, f2.alice)
	pos2 := f2.fill(req2)
	f2.now = int64(pos2.ExpiresAt) + 1
	if err := f2.engine.Close(f2.bob.Address(), pos2.Hash); !errors.Is(err, ErrPositionExpired) {
		t.Fatalf("expected expired close to fail, got %v", err)
	}
	if KindOf(ErrPositionExpired) != KindTemporal {
		t.Fatalf("unexpected kind %s", KindOf(ErrPositionExpired))
	}
}

func TestLiquidateExpiredPosition(t *testing.T) {
	f := newFixture(t)
	req := f.lenderKernel(1000, 1)
	f.sign(req, f.alice)
	pos := f.fill(req)

	if err := f.engine.Liquidate(f.wrangler.Address(), pos.Hash); !errors.Is(err, ErrPositionNotExpired) {
		t.Fatalf("expected not expired, got %v", err)
	}
	f.now = int64(pos.ExpiresAt) + 1
	if err := f.engine.Liquidate(f.bob.Address(), pos.Hash); !errors.Is(err, ErrCallerNotLenderWrangler) {
		t.Fatalf("expected caller check, got %v", err)
	}
	if err := f.engine.Liquidate(f.wrangler.Address(), pos.Hash); err != nil {
		t.Fatalf("liquidate: %v", err)
	}

	if got := f.balance(f.colToken, f.wrangler.Address()); got != 500 {
		t.Fatalf("expected wrangler to receive collateral, got %d", got)
	}
	stored, err := f.engine.Position(pos.Hash)
	if err != nil {
		t.Fatalf("position: %v", err)
	}
	if stored.Status != PositionStatusLiquidated {
		t.Fatalf("expected liquidated, got %s", stored.Status)
	}
	if borrow, _ := f.counts(f.bob.Address()); borrow != 0 {
		t.Fatalf("expected borrower index cleared")
	}

	err = f.engine.Liquidate(f.wrangler.Address(), pos.Hash)
	if KindOf(err) != KindPrecondition {
		t.Fatalf("expected precondition failure on second liquidate, got %v", err)
	}
	err = f.engine.Close(f.bob.Address(), pos.Hash)
	if KindOf(err) != KindPrecondition {
		t.Fatalf("expected precondition failure on close, got %v", err)
	}
}

func TestLenderMayLiquidate(t *testing.T) {
	f := newFixture(t)
	req := f.lenderKernel(1000, 1)
	f.sign(req, f.alice)
	pos := f.fill(req)
	f.now = int64(pos.ExpiresAt) + 10

	if err := f.engine.Liquidate(f.alice.Address(), pos.Hash); err != nil {
		t.Fatalf("liquidate: %v", err)
	}
	if got := f.balance(f.colToken, f.alice.Address()); got != 500 {
		t.Fatalf("expected lender to receive collateral, got %d", got)
	}
}

func TestTopupIncreasesCollateral(t *testing.T) {
	f := newFixture(t)
	req := f.lenderKernel(1000, 1)
	f.sign(req, f.alice)
	pos := f.fill(req)
	f.emitter.events = nil

	if err := f.engine.Topup(f.alice.Address(), pos.Hash, uint256.NewInt(10)); !errors.Is(err, ErrCallerNotBorrower) {
		t.Fatalf("expected borrower check, got %v", err)
	}
	if err := f.engine.Topup(f.bob.Address(), common.HexToHash("0xdead"), uint256.NewInt(1)); !errors.Is(err, ErrPositionNotFound) {
		t.Fatalf("expected missing position, got %v", err)
	}
	if err := f.engine.Topup(f.bob.Address(), pos.Hash, uint256.NewInt(200)); err != nil {
		t.Fatalf("topup: %v", err)
	}

	stored, err := f.engine.Position(pos.Hash)
	if err != nil {
		t.Fatalf("position: %v", err)
	}
	if stored.CollateralCurrent.Uint64() != 700 || stored.CollateralAmount.Uint64() != 500 {
		t.Fatalf("unexpected collateral pledged=%s current=%s", stored.CollateralAmount.Dec(), stored.CollateralCurrent.Dec())
	}
	if stored.Hash != pos.Hash {
		t.Fatalf("topup must not change the position hash")
	}
	updates := f.emitter.positionUpdates()
	if len(updates) != 1 || updates[0].Key != PositionFieldCollateralCurrent || updates[0].Value.Uint64() != 700 {
		t.Fatalf("unexpected events %+v", updates)
	}

	if err := f.engine.Close(f.bob.Address(), pos.Hash); err != nil {
		t.Fatalf("close: %v", err)
	}
	if got := f.balance(f.colToken, f.bob.Address()); got != 2000 {
		t.Fatalf("expected topped up collateral returned, got %d", got)
	}

	f.now = int64(pos.ExpiresAt) + 1
	if err := f.engine.Topup(f.bob.Address(), pos.Hash, uint256.NewInt(1)); !errors.Is(err, ErrPositionNotOpen) {
		t.Fatalf("expected terminal position to reject topup, got %v", err)
	}
}

func TestZeroTopupLeavesCollateral(t *testing.T) {
	f := newFixture(t)
	req := f.lenderKernel(1000, 1)
	f.sign(req, f.alice)
	pos := f.fill(req)
	f.emitter.events = nil
	before := f.balance(f.colToken, f.bob.Address())

	if err := f.engine.Topup(f.bob.Address(), pos.Hash, new(uint256.Int)); err != nil {
		t.Fatalf("zero topup: %v", err)
	}
	if err := f.engine.Topup(f.alice.Address(), pos.Hash, new(uint256.Int)); !errors.Is(err, ErrCallerNotBorrower) {
		t.Fatalf("expected borrower check on zero topup, got %v", err)
	}
	stored, err := f.engine.Position(pos.Hash)
	if err != nil {
		t.Fatalf("position: %v", err)
	}
	if stored.CollateralCurrent.Uint64() != 500 {
		t.Fatalf("collateral changed by zero topup: %s", stored.CollateralCurrent.Dec())
	}
	if got := f.balance(f.colToken, f.bob.Address()); got != before {
		t.Fatalf("borrower balance moved: %d -> %d", before, got)
	}
	updates := f.emitter.positionUpdates()
	if len(updates) != 1 || updates[0].Value.Uint64() != 500 {
		t.Fatalf("expected one collateral update at 500, got %+v", updates)
	}
}

func TestTopupAfterExpiryRejected(t *testing.T) {
	f := newFixture(t)
	req := f.lenderKernel(1000, 1)
	f.sign(req, f.alice)
	pos := f.fill(req)
	f.now = int64(pos.ExpiresAt) + 1
	if err := f.engine.Topup(f.bob.Address(), pos.Hash, uint256.NewInt(1)); !errors.Is(err, ErrPositionExpired) {
		t.Fatalf("expected expired topup rejection, got %v", err)
	}
}

func TestWranglerNonceReplayRejected(t *testing.T) {
	f := newFixture(t)
	first := f.lenderKernel(400, 1)
	f.sign(first, f.alice)
	second := f.lenderKernel(300, 1)
	f.sign(second, f.alice)

	_, err1 := f.engine.FillKernel(f.bob.Address(), first)
	_, err2 := f.engine.FillKernel(f.bob.Address(), second)
	if (err1 == nil) == (err2 == nil) {
		t.Fatalf("expected exactly one fill to succeed, got %v and %v", err1, err2)
	}
	if !errors.Is(err2, ErrNonceMismatch) {
		t.Fatalf("expected nonce mismatch, got %v", err2)
	}

	skipped := f.lenderKernel(100, 3)
	f.sign(skipped, f.alice)
	if _, err := f.engine.FillKernel(f.bob.Address(), skipped); !errors.Is(err, ErrNonceMismatch) {
		t.Fatalf("expected out of order nonce rejected, got %v", err)
	}
}

func TestFillKernelValidation(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(f *fixture, req *FillRequest)
		caller func(f *fixture) common.Address
		want   error
	}{
		{name: "missing lender", mutate: func(f *fixture, r *FillRequest) { r.Lender = common.Address{} }, want: ErrMissingParty},
		{name: "missing borrower", mutate: func(f *fixture, r *FillRequest) { r.Borrower = common.Address{} }, want: ErrMissingParty},
		{name: "missing wrangler", mutate: func(f *fixture, r *FillRequest) { r.Wrangler = common.Address{} }, want: ErrMissingWrangler},
		{name: "unsupported collateral", mutate: func(f *fixture, r *FillRequest) { r.CollateralToken = f.feeToken }, want: ErrUnsupportedToken},
		{name: "unsupported loan token", mutate: func(f *fixture, r *FillRequest) { r.LoanToken = makeAddress(0x77) }, want: ErrUnsupportedToken},
		{name: "zero collateral", mutate: func(f *fixture, r *FillRequest) { r.CollateralAmount = new(uint256.Int) }, want: ErrZeroAmount},
		{name: "zero offered", mutate: func(f *fixture, r *FillRequest) { r.LoanAmountOffered = new(uint256.Int) }, want: ErrZeroAmount},
		{name: "zero fill", mutate: func(f *fixture, r *FillRequest) { r.LoanAmountFilled = new(uint256.Int) }, want: ErrZeroAmount},
		{name: "kernel expired", mutate: func(f *fixture, r *FillRequest) { r.KernelExpiresAt = uint64(f.now) }, want: ErrKernelExpired},
		{name: "zero rate", mutate: func(f *fixture, r *FillRequest) { r.DailyInterestRate = new(uint256.Int) }, want: ErrZeroRate},
		{name: "fill exceeds offer", mutate: func(f *fixture, r *FillRequest) { r.LoanAmountFilled = uint256.NewInt(1001) }, want: ErrInsufficientVolume},
		{name: "approval expired", mutate: func(f *fixture, r *FillRequest) { r.ApprovalExpiresAt = uint64(f.now) }, want: ErrApprovalExpired},
		{name: "inactive wrangler", mutate: func(f *fixture, r *FillRequest) {
			if err := f.engine.SetWranglerStatus(f.owner, f.wrangler.Address(), false); err != nil {
				f.t.Fatalf("disable wrangler: %v", err)
			}
		}, want: ErrWranglerInactive},
		{name: "caller is creator", caller: func(f *fixture) common.Address { return f.alice.Address() }, want: ErrCallerNotFiller},
		{name: "caller is stranger", caller: func(f *fixture) common.Address { return makeAddress(0x99) }, want: ErrCallerNotFiller},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t)
			req := f.lenderKernel(1000, 1)
			if tc.mutate != nil {
				tc.mutate(f, req)
			}
			f.sign(req, f.alice)
			caller := f.bob.Address()
			if tc.caller != nil {
				caller = tc.caller(f)
			}
			if _, err := f.engine.FillKernel(caller, req); !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
		})
	}
}

func TestFillKernelSignatureChecks(t *testing.T) {
	f := newFixture(t)
	req := f.lenderKernel(1000, 1)
	f.sign(req, f.bob)
	if _, err := f.engine.FillKernel(f.bob.Address(), req); !errors.Is(err, ErrCreatorSignature) {
		t.Fatalf("expected creator signature failure, got %v", err)
	}

	req = f.lenderKernel(1000, 1)
	f.sign(req, f.alice)
	req.WranglerSignature = append([]byte(nil), req.CreatorSignature...)
	if _, err := f.engine.FillKernel(f.bob.Address(), req); !errors.Is(err, ErrWranglerSignature) {
		t.Fatalf("expected wrangler signature failure, got %v", err)
	}

	req = f.lenderKernel(1000, 2)
	f.sign(req, f.alice)
	req.Salt = common.HexToHash("0x01")
	if _, err := f.engine.FillKernel(f.bob.Address(), req); KindOf(err) != KindAuthorization {
		t.Fatalf("expected authorization failure for altered kernel, got %v", err)
	}
}

func TestBorrowerCreatedKernel(t *testing.T) {
	f := newFixture(t)
	req := f.lenderKernel(1000, 1)
	req.CreatorIsLender = false
	f.sign(req, f.bob)

	if _, err := f.engine.FillKernel(f.bob.Address(), req); !errors.Is(err, ErrCallerNotFiller) {
		t.Fatalf("expected creator to be rejected as filler, got %v", err)
	}
	pos, err := f.engine.FillKernel(f.alice.Address(), req)
	if err != nil {
		t.Fatalf("fill: %v", err)
	}
	if pos.KernelCreator != f.bob.Address() {
		t.Fatalf("expected bob as creator, got %s", pos.KernelCreator.Hex())
	}
	kernel := req.Kernel()
	if kernel.Lender != (common.Address{}) || kernel.Creator() != f.bob.Address() {
		t.Fatalf("borrower kernel must leave the lender blank")
	}
	nonce, err := f.engine.WranglerNonce(f.wrangler.Address(), f.bob.Address())
	if err != nil || nonce != 1 {
		t.Fatalf("expected nonce tracked per creator, got %d err=%v", nonce, err)
	}
}

func TestRelayerFeePaidByCreator(t *testing.T) {
	f := newFixture(t)
	relayer := makeAddress(0x5E)
	req := f.lenderKernel(1000, 1)
	req.Relayer = relayer
	req.Fees.Relayer = uint256.NewInt(7)
	f.sign(req, f.alice)
	f.fill(req)

	if got := f.balance(f.feeToken, relayer); got != 7 {
		t.Fatalf("expected relayer fee 7, got %d", got)
	}
	if got := f.balance(f.feeToken, f.alice.Address()); got != 1000-5-7 {
		t.Fatalf("unexpected creator fee balance %d", got)
	}
}

func TestFillFailsWhenTransferFails(t *testing.T) {
	f := newFixture(t)
	if err := f.tokens.Approve(f.colToken, f.bob.Address(), f.protocol, uint256.NewInt(10)); err != nil {
		t.Fatalf("approve: %v", err)
	}
	req := f.lenderKernel(1000, 1)
	f.sign(req, f.alice)
	_, err := f.engine.FillKernel(f.bob.Address(), req)
	if !errors.Is(err, ErrTransferFailed) || KindOf(err) != KindCollaborator {
		t.Fatalf("expected collaborator failure, got %v", err)
	}
}

func TestPositionThresholdEnforced(t *testing.T) {
	f := newFixture(t)
	if err := f.engine.SetPositionThreshold(f.bob.Address(), 1); !errors.Is(err, ErrNotOwner) {
		t.Fatalf("expected owner check, got %v", err)
	}
	if err := f.engine.SetPositionThreshold(f.owner, 1); err != nil {
		t.Fatalf("set threshold: %v", err)
	}
	first := f.lenderKernel(500, 1)
	f.sign(first, f.alice)
	f.fill(first)

	ok, err := f.engine.CanBorrow(f.bob.Address())
	if err != nil || ok {
		t.Fatalf("expected bob at capacity, ok=%v err=%v", ok, err)
	}
	second := f.lenderKernel(500, 2)
	f.sign(second, f.alice)
	_, err = f.engine.FillKernel(f.bob.Address(), second)
	if !errors.Is(err, ErrBorrowerAtCapacity) || KindOf(err) != KindCapacity {
		t.Fatalf("expected capacity failure, got %v", err)
	}
}
