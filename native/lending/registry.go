package lending

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
)

// Each account keeps two dense 1-based arrays of open position hashes, one
// per side, paired with a reverse map from hash to slot. Removal swaps the
// last entry into the vacated slot so both stay dense.

func (e *Engine) sideCount(s side, account common.Address) (uint64, error) {
	var count uint64
	if _, err := e.state.KVGet(sideCountKey(s, account), &count); err != nil {
		return 0, err
	}
	return count, nil
}

func (e *Engine) putSideCount(s side, account common.Address, count uint64) error {
	if count == 0 {
		return e.state.KVDelete(sideCountKey(s, account))
	}
	return e.state.KVPut(sideCountKey(s, account), count)
}

func (e *Engine) sideSlot(s side, account common.Address, slot uint64) (common.Hash, error) {
	var hash common.Hash
	if _, err := e.state.KVGet(sideSlotKey(s, account, slot), &hash); err != nil {
		return common.Hash{}, err
	}
	return hash, nil
}

func (e *Engine) sideReverse(s side, account common.Address, hash common.Hash) (uint64, error) {
	var slot uint64
	if _, err := e.state.KVGet(sideReverseKey(s, account, hash), &slot); err != nil {
		return 0, err
	}
	return slot, nil
}

func (e *Engine) appendSide(s side, account common.Address, hash common.Hash) error {
	count, err := e.sideCount(s, account)
	if err != nil {
		return err
	}
	count++
	if err := e.state.KVPut(sideSlotKey(s, account, count), hash); err != nil {
		return err
	}
	if err := e.state.KVPut(sideReverseKey(s, account, hash), count); err != nil {
		return err
	}
	return e.putSideCount(s, account, count)
}

func (e *Engine) removeSide(s side, account common.Address, hash common.Hash) error {
	current, err := e.sideReverse(s, account, hash)
	if err != nil {
		return err
	}
	if current == 0 {
		return fmt.Errorf("lending: %s index of %s missing position %s", s, account.Hex(), hash.Hex())
	}
	last, err := e.sideCount(s, account)
	if err != nil {
		return err
	}
	if current != last {
		moved, err := e.sideSlot(s, account, last)
		if err != nil {
			return err
		}
		if err := e.state.KVPut(sideSlotKey(s, account, current), moved); err != nil {
			return err
		}
		if err := e.state.KVPut(sideReverseKey(s, account, moved), current); err != nil {
			return err
		}
	}
	if err := e.state.KVDelete(sideSlotKey(s, account, last)); err != nil {
		return err
	}
	if err := e.state.KVDelete(sideReverseKey(s, account, hash)); err != nil {
		return err
	}
	return e.putSideCount(s, account, last-1)
}

// recordPosition adds hash to the borrower's borrow side and the lender's lend
// side, rejecting either party at the open position threshold.
func (e *Engine) recordPosition(lender, borrower common.Address, hash common.Hash) error {
	canBorrow, err := e.CanBorrow(borrower)
	if err != nil {
		return err
	}
	if !canBorrow {
		return ErrBorrowerAtCapacity
	}
	canLend, err := e.CanLend(lender)
	if err != nil {
		return err
	}
	if !canLend {
		return ErrLenderAtCapacity
	}
	if err := e.appendSide(sideBorrow, borrower, hash); err != nil {
		return err
	}
	return e.appendSide(sideLend, lender, hash)
}

// removePosition drops the position from both parties' indices.
func (e *Engine) removePosition(pos *Position) error {
	if err := e.removeSide(sideBorrow, pos.Borrower, pos.Hash); err != nil {
		return err
	}
	return e.removeSide(sideLend, pos.Lender, pos.Hash)
}

func (e *Engine) appendGlobalIndex(hash common.Hash) (uint64, error) {
	last, err := e.LastPositionIndex()
	if err != nil {
		return 0, err
	}
	if err := e.state.KVPut(positionIndexKey(last), hash); err != nil {
		return 0, err
	}
	if err := e.state.KVPut(lastIndexKey, last+1); err != nil {
		return 0, err
	}
	return last, nil
}

// LastPositionIndex returns the number of positions ever created.
func (e *Engine) LastPositionIndex() (uint64, error) {
	if err := e.ready(); err != nil {
		return 0, err
	}
	var last uint64
	if _, err := e.state.KVGet(lastIndexKey, &last); err != nil {
		return 0, err
	}
	return last, nil
}

// PositionAt returns the hash of the i-th position ever created.
func (e *Engine) PositionAt(i uint64) (common.Hash, bool, error) {
	if err := e.ready(); err != nil {
		return common.Hash{}, false, err
	}
	var hash common.Hash
	ok, err := e.state.KVGet(positionIndexKey(i), &hash)
	return hash, ok, err
}

// PositionCounts returns how many open positions account holds as borrower and
// as lender.
func (e *Engine) PositionCounts(account common.Address) (borrow, lend uint64, err error) {
	if err := e.ready(); err != nil {
		return 0, 0, err
	}
	if borrow, err = e.sideCount(sideBorrow, account); err != nil {
		return 0, 0, err
	}
	if lend, err = e.sideCount(sideLend, account); err != nil {
		return 0, 0, err
	}
	return borrow, lend, nil
}

// BorrowPositions lists account's open borrow positions in slot order.
func (e *Engine) BorrowPositions(account common.Address) ([]common.Hash, error) {
	return e.sidePositions(sideBorrow, account)
}

// LendPositions lists account's open lend positions in slot order.
func (e *Engine) LendPositions(account common.Address) ([]common.Hash, error) {
	return e.sidePositions(sideLend, account)
}

func (e *Engine) sidePositions(s side, account common.Address) ([]common.Hash, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	count, err := e.sideCount(s, account)
	if err != nil {
		return nil, err
	}
	out := make([]common.Hash, 0, count)
	for slot := uint64(1); slot <= count; slot++ {
		hash, err := e.sideSlot(s, account, slot)
		if err != nil {
			return nil, err
		}
		out = append(out, hash)
	}
	return out, nil
}

// CanBorrow reports whether account is below the threshold on the borrow side.
func (e *Engine) CanBorrow(account common.Address) (bool, error) {
	return e.belowThreshold(sideBorrow, account)
}

// CanLend reports whether account is below the threshold on the lend side.
func (e *Engine) CanLend(account common.Address) (bool, error) {
	return e.belowThreshold(sideLend, account)
}

func (e *Engine) belowThreshold(s side, account common.Address) (bool, error) {
	threshold, err := e.PositionThreshold()
	if err != nil {
		return false, err
	}
	count, err := e.sideCount(s, account)
	if err != nil {
		return false, err
	}
	return count < threshold, nil
}
