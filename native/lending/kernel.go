package lending

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"p2plend/crypto"
)

// KernelHash derives the hash of k bound to this engine's protocol address.
func (e *Engine) KernelHash(k *Kernel) common.Hash {
	return KernelHash(e.cfg.Protocol, k)
}

// PositionHash derives the hash of p bound to this engine's protocol address.
func (e *Engine) PositionHash(p *Position) common.Hash {
	return PositionHash(e.cfg.Protocol, p)
}

func (e *Engine) amountAt(key []byte) (*uint256.Int, error) {
	amount := new(uint256.Int)
	if _, err := e.state.KVGet(key, amount); err != nil {
		return nil, err
	}
	return amount, nil
}

// Filled returns the volume filled against the kernel hash.
func (e *Engine) Filled(hash common.Hash) (*uint256.Int, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	return e.amountAt(filledKey(hash))
}

// Cancelled returns the volume cancelled against the kernel hash.
func (e *Engine) Cancelled(hash common.Hash) (*uint256.Int, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	return e.amountAt(cancelledKey(hash))
}

// FilledOrCancelled returns the total volume consumed from the kernel.
func (e *Engine) FilledOrCancelled(hash common.Hash) (*uint256.Int, error) {
	filled, err := e.Filled(hash)
	if err != nil {
		return nil, err
	}
	cancelled, err := e.Cancelled(hash)
	if err != nil {
		return nil, err
	}
	total, overflow := new(uint256.Int).AddOverflow(filled, cancelled)
	if overflow {
		return nil, fmt.Errorf("%w: kernel volume", ErrOverflow)
	}
	return total, nil
}

// Remaining returns how much of offered is still fillable for the kernel hash.
func (e *Engine) Remaining(hash common.Hash, offered *uint256.Int) (*uint256.Int, error) {
	used, err := e.FilledOrCancelled(hash)
	if err != nil {
		return nil, err
	}
	if offered == nil || used.Cmp(offered) >= 0 {
		return new(uint256.Int), nil
	}
	return new(uint256.Int).Sub(offered, used), nil
}

// WranglerNonce returns the last nonce the wrangler approved for the creator.
func (e *Engine) WranglerNonce(wrangler, creator common.Address) (uint64, error) {
	if err := e.ready(); err != nil {
		return 0, err
	}
	var nonce uint64
	if _, err := e.state.KVGet(wranglerNonceKey(wrangler, creator), &nonce); err != nil {
		return 0, err
	}
	return nonce, nil
}

func (e *Engine) requireRemaining(hash common.Hash, offered, amount *uint256.Int) error {
	remaining, err := e.Remaining(hash, offered)
	if err != nil {
		return err
	}
	if remaining.Lt(amount) {
		return fmt.Errorf("%w: remaining %s, requested %s", ErrInsufficientVolume, remaining.Dec(), amount.Dec())
	}
	return nil
}

// FillKernel accepts LoanAmountFilled of a signed kernel on behalf of caller,
// who must be the counterparty the creator left blank. Exactly one position
// is opened for the full fill amount.
func (e *Engine) FillKernel(caller common.Address, req *FillRequest) (*Position, error) {
	if err := e.readyForTransfers(); err != nil {
		return nil, err
	}
	if req == nil {
		return nil, ErrMissingParty
	}
	if req.Lender == (common.Address{}) || req.Borrower == (common.Address{}) {
		return nil, ErrMissingParty
	}
	creator := req.Creator()
	kernel := req.Kernel()
	if kernel.Wrangler == (common.Address{}) {
		return nil, ErrMissingWrangler
	}
	for _, token := range []common.Address{kernel.CollateralToken, kernel.LoanToken} {
		supported, err := e.IsSupportedToken(token)
		if err != nil {
			return nil, err
		}
		if !supported {
			return nil, fmt.Errorf("%w: %s", ErrUnsupportedToken, token.Hex())
		}
	}
	if isZero(req.CollateralAmount) || isZero(kernel.LoanAmountOffered) || isZero(req.LoanAmountFilled) {
		return nil, ErrZeroAmount
	}
	now := e.now()
	if kernel.ExpiresAt <= now {
		return nil, ErrKernelExpired
	}
	if isZero(kernel.DailyInterestRate) {
		return nil, ErrZeroRate
	}
	hash := e.KernelHash(&kernel)
	if !crypto.IsSignedBy(creator, hash, req.CreatorSignature) {
		return nil, ErrCreatorSignature
	}
	if caller != req.Filler() {
		return nil, ErrCallerNotFiller
	}
	if err := e.requireRemaining(hash, kernel.LoanAmountOffered, req.LoanAmountFilled); err != nil {
		return nil, err
	}
	filled, err := e.Filled(hash)
	if err != nil {
		return nil, err
	}
	// filled + fill stays within offered after requireRemaining.
	filled.Add(filled, req.LoanAmountFilled)
	if err := e.state.KVPut(filledKey(hash), filled); err != nil {
		return nil, err
	}

	pos, err := e.open(openParams{creator: creator, req: req})
	if err != nil {
		return nil, err
	}
	if kernel.Relayer != (common.Address{}) && !isZero(kernel.Fees.Relayer) {
		if err := e.pullFrom(e.cfg.ProtocolToken, creator, kernel.Relayer, kernel.Fees.Relayer); err != nil {
			return nil, err
		}
	}
	return pos, nil
}

// CancelKernel irrevocably withdraws CancelAmount of unfilled volume. Only
// the kernel creator may cancel, and the signature must recover to it.
func (e *Engine) CancelKernel(caller common.Address, req *CancelRequest) error {
	if err := e.ready(); err != nil {
		return err
	}
	if req == nil {
		return ErrZeroAmount
	}
	kernel := req.Kernel
	if (kernel.Lender == (common.Address{})) == (kernel.Borrower == (common.Address{})) {
		return ErrKernelParties
	}
	if caller != kernel.Creator() {
		return ErrCallerNotCreator
	}
	hash := e.KernelHash(&kernel)
	if !crypto.IsSignedBy(caller, hash, req.Signature) {
		return ErrCancelSignature
	}
	if isZero(kernel.LoanAmountOffered) || isZero(req.CancelAmount) {
		return ErrZeroAmount
	}
	if err := e.requireRemaining(hash, kernel.LoanAmountOffered, req.CancelAmount); err != nil {
		return err
	}
	cancelled, err := e.Cancelled(hash)
	if err != nil {
		return err
	}
	cancelled.Add(cancelled, req.CancelAmount)
	return e.state.KVPut(cancelledKey(hash), cancelled)
}
