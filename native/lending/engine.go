package lending

import (
	"fmt"
	"math"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"p2plend/core/events"
	"p2plend/crypto"
)

type engineState interface {
	KVGet(key []byte, out interface{}) (bool, error)
	KVPut(key []byte, value interface{}) error
	KVDelete(key []byte) error
}

// TokenService is the fungible token collaborator. Transfers report an
// unsuccessful result as false; a non-nil error signals a fault in the
// service itself. Both abort the calling operation.
type TokenService interface {
	Exists(token common.Address) (bool, error)
	BalanceOf(token, account common.Address) (*uint256.Int, error)
	Transfer(token, from, to common.Address, amount *uint256.Int) (bool, error)
	TransferFrom(token, spender, from, to common.Address, amount *uint256.Int) (bool, error)
}

// Engine implements the lending protocol state machine: kernel fills and
// cancellations, the position lifecycle and the per-account indices.
//
// The engine does not roll back on failure. Callers run each operation
// against a state they can discard, which is what the node does.
type Engine struct {
	state   engineState
	tokens  TokenService
	emitter events.Emitter
	cfg     Config
	nowFn   func() int64
}

// NewEngine creates a lending engine with a no-op emitter. Callers can override
// the emitter via SetEmitter.
func NewEngine(cfg Config) *Engine {
	return &Engine{
		cfg:     cfg,
		emitter: events.NoopEmitter{},
		nowFn:   func() int64 { return time.Now().Unix() },
	}
}

// SetState configures the state backend used by the engine.
func (e *Engine) SetState(state engineState) { e.state = state }

// SetTokens configures the token collaborator.
func (e *Engine) SetTokens(tokens TokenService) { e.tokens = tokens }

// SetNowFunc overrides the time source used by the engine. Primarily intended
// for tests to provide deterministic timestamps.
func (e *Engine) SetNowFunc(now func() int64) {
	if now == nil {
		e.nowFn = func() int64 { return time.Now().Unix() }
		return
	}
	e.nowFn = now
}

// SetEmitter configures the event emitter used by the engine. Passing nil resets
// the emitter to a no-op implementation.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		e.emitter = events.NoopEmitter{}
		return
	}
	e.emitter = emitter
}

// Config returns the engine configuration.
func (e *Engine) Config() Config { return e.cfg }

func (e *Engine) emit(evt events.Event) {
	if e == nil || e.emitter == nil {
		return
	}
	e.emitter.Emit(evt)
}

func (e *Engine) now() uint64 {
	var ts int64
	if e == nil || e.nowFn == nil {
		ts = time.Now().Unix()
	} else {
		ts = e.nowFn()
	}
	if ts < 0 {
		return 0
	}
	return uint64(ts)
}

func (e *Engine) ready() error {
	if e == nil || e.state == nil {
		return errNilState
	}
	return nil
}

func (e *Engine) readyForTransfers() error {
	if err := e.ready(); err != nil {
		return err
	}
	if e.tokens == nil {
		return errNilTokens
	}
	if e.cfg.Protocol == (common.Address{}) {
		return errProtocolAddressUnset
	}
	return nil
}

// Position returns the stored position for hash. Terminal positions remain
// retrievable.
func (e *Engine) Position(hash common.Hash) (*Position, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	pos := new(Position)
	ok, err := e.state.KVGet(positionKey(hash), pos)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrPositionNotFound
	}
	return pos, nil
}

// openPosition loads a position that must still be open. Status is checked
// before caller and timing so any transition on a terminal position fails
// with a precondition error.
func (e *Engine) openPosition(hash common.Hash) (*Position, error) {
	pos, err := e.Position(hash)
	if err != nil {
		return nil, err
	}
	if pos.Status != PositionStatusOpen {
		return nil, ErrPositionNotOpen
	}
	return pos, nil
}

func (e *Engine) storePosition(pos *Position) error {
	return e.state.KVPut(positionKey(pos.Hash), pos)
}

func (e *Engine) pullFrom(token, from, to common.Address, amount *uint256.Int) error {
	ok, err := e.tokens.TransferFrom(token, e.cfg.Protocol, from, to, cloneAmount(amount))
	if err != nil {
		return fmt.Errorf("%w: %w", ErrTransferFailed, err)
	}
	if !ok {
		return fmt.Errorf("%w: %s from %s", ErrTransferFailed, token.Hex(), from.Hex())
	}
	return nil
}

func (e *Engine) payOut(token, to common.Address, amount *uint256.Int) error {
	ok, err := e.tokens.Transfer(token, e.cfg.Protocol, to, cloneAmount(amount))
	if err != nil {
		return fmt.Errorf("%w: %w", ErrTransferFailed, err)
	}
	if !ok {
		return fmt.Errorf("%w: %s to %s", ErrTransferFailed, token.Hex(), to.Hex())
	}
	return nil
}

// openParams carries a validated fill into position creation.
type openParams struct {
	creator common.Address
	req     *FillRequest
}

// open materialises a position for a kernel fill. It is only reachable
// through FillKernel.
func (e *Engine) open(p openParams) (*Position, error) {
	pos, err := p.req.Terms()
	if err != nil {
		return nil, err
	}
	now := e.now()
	if pos.ExpiresAt > math.MaxUint64-now {
		return nil, fmt.Errorf("%w: position expiry", ErrOverflow)
	}
	if pos.Index, err = e.LastPositionIndex(); err != nil {
		return nil, err
	}
	pos.CreatedAt = now
	pos.UpdatedAt = now
	pos.ExpiresAt += now
	pos.Hash = PositionHash(e.cfg.Protocol, pos)

	err = e.withPositionLock(pos.Hash, func() error {
		active, err := e.IsWrangler(pos.Wrangler)
		if err != nil {
			return err
		}
		if !active {
			return ErrWranglerInactive
		}
		if p.req.ApprovalExpiresAt <= now {
			return ErrApprovalExpired
		}
		nonce, err := e.WranglerNonce(pos.Wrangler, p.creator)
		if err != nil {
			return err
		}
		if nonce == math.MaxUint64 || pos.Nonce != nonce+1 {
			return fmt.Errorf("%w: expected %d, got %d", ErrNonceMismatch, nonce+1, pos.Nonce)
		}
		if err := e.state.KVPut(wranglerNonceKey(pos.Wrangler, p.creator), pos.Nonce); err != nil {
			return err
		}
		if !crypto.IsSignedBy(pos.Wrangler, pos.Hash, p.req.WranglerSignature) {
			return ErrWranglerSignature
		}
		exists, err := e.state.KVGet(positionKey(pos.Hash), nil)
		if err != nil {
			return err
		}
		if exists {
			return ErrPositionExists
		}
		if _, err := e.appendGlobalIndex(pos.Hash); err != nil {
			return err
		}
		if err := e.storePosition(pos); err != nil {
			return err
		}
		if err := e.recordPosition(pos.Lender, pos.Borrower, pos.Hash); err != nil {
			return err
		}
		if err := e.pullFrom(pos.CollateralToken, pos.Borrower, e.cfg.Protocol, pos.CollateralCurrent); err != nil {
			return err
		}
		if err := e.pullFrom(pos.LoanToken, pos.Lender, pos.Borrower, pos.LoanAmountFilled); err != nil {
			return err
		}
		if err := e.pullFrom(e.cfg.ProtocolToken, pos.Lender, pos.Wrangler, pos.Fees.Monitoring); err != nil {
			return err
		}
		e.emit(statusEvent(pos))
		return nil
	})
	if err != nil {
		return nil, err
	}
	return pos, nil
}

// Topup adds collateral to an open, unexpired position. Only the borrower may
// top up. A zero increment is accepted and still emits the update.
func (e *Engine) Topup(caller common.Address, hash common.Hash, increment *uint256.Int) error {
	if err := e.readyForTransfers(); err != nil {
		return err
	}
	if increment == nil {
		increment = new(uint256.Int)
	}
	pos, err := e.openPosition(hash)
	if err != nil {
		return err
	}
	if caller != pos.Borrower {
		return ErrCallerNotBorrower
	}
	now := e.now()
	if pos.ExpiresAt < now {
		return ErrPositionExpired
	}
	return e.withPositionLock(hash, func() error {
		current, overflow := new(uint256.Int).AddOverflow(pos.CollateralCurrent, increment)
		if overflow {
			return fmt.Errorf("%w: collateral", ErrOverflow)
		}
		pos.CollateralCurrent = current
		pos.UpdatedAt = now
		if err := e.storePosition(pos); err != nil {
			return err
		}
		if err := e.pullFrom(pos.CollateralToken, pos.Borrower, e.cfg.Protocol, increment); err != nil {
			return err
		}
		e.emit(PositionUpdated{
			Wrangler: pos.Wrangler,
			Position: hash,
			Key:      PositionFieldCollateralCurrent,
			Value:    cloneAmount(current),
		})
		return nil
	})
}

// Liquidate seizes the collateral of an expired open position. The lender or
// the wrangler may liquidate; the caller receives the collateral.
func (e *Engine) Liquidate(caller common.Address, hash common.Hash) error {
	if err := e.readyForTransfers(); err != nil {
		return err
	}
	pos, err := e.openPosition(hash)
	if err != nil {
		return err
	}
	now := e.now()
	if pos.ExpiresAt >= now {
		return ErrPositionNotExpired
	}
	if caller != pos.Wrangler && caller != pos.Lender {
		return ErrCallerNotLenderWrangler
	}
	return e.withPositionLock(hash, func() error {
		pos.Status = PositionStatusLiquidated
		pos.UpdatedAt = now
		if err := e.storePosition(pos); err != nil {
			return err
		}
		if err := e.removePosition(pos); err != nil {
			return err
		}
		if err := e.payOut(pos.CollateralToken, caller, pos.CollateralCurrent); err != nil {
			return err
		}
		e.emit(statusEvent(pos))
		return nil
	})
}

// Close repays an open, unexpired position. The borrower pays the owed amount
// to the lender and receives the collateral back.
func (e *Engine) Close(caller common.Address, hash common.Hash) error {
	if err := e.readyForTransfers(); err != nil {
		return err
	}
	pos, err := e.openPosition(hash)
	if err != nil {
		return err
	}
	if caller != pos.Borrower {
		return ErrCallerNotBorrower
	}
	now := e.now()
	if pos.ExpiresAt < now {
		return ErrPositionExpired
	}
	return e.withPositionLock(hash, func() error {
		pos.Status = PositionStatusClosed
		pos.UpdatedAt = now
		if err := e.storePosition(pos); err != nil {
			return err
		}
		if err := e.removePosition(pos); err != nil {
			return err
		}
		if err := e.pullFrom(pos.LoanToken, pos.Borrower, pos.Lender, pos.LoanAmountOwed); err != nil {
			return err
		}
		if err := e.payOut(pos.CollateralToken, pos.Borrower, pos.CollateralCurrent); err != nil {
			return err
		}
		e.emit(statusEvent(pos))
		return nil
	})
}
