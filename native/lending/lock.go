package lending

import "github.com/ethereum/go-ethereum/common"

// The per-position lock is kept in state so a nested transition triggered by
// a token callback observes it. It is cleared when released, leaving no trace
// in committed state.

func (e *Engine) positionLocked(hash common.Hash) (bool, error) {
	return e.state.KVGet(lockKey(hash), nil)
}

func (e *Engine) lockPosition(hash common.Hash) error {
	held, err := e.positionLocked(hash)
	if err != nil {
		return err
	}
	if held {
		return ErrPositionLocked
	}
	return e.state.KVPut(lockKey(hash), true)
}

func (e *Engine) unlockPosition(hash common.Hash) error {
	held, err := e.positionLocked(hash)
	if err != nil {
		return err
	}
	if !held {
		return ErrPositionNotLocked
	}
	return e.state.KVDelete(lockKey(hash))
}

// withPositionLock runs fn while holding the lock for hash. The lock is only
// released by the call that acquired it.
func (e *Engine) withPositionLock(hash common.Hash, fn func() error) (err error) {
	if err := e.lockPosition(hash); err != nil {
		return err
	}
	defer func() {
		if unlockErr := e.unlockPosition(hash); unlockErr != nil && err == nil {
			err = unlockErr
		}
	}()
	return fn()
}
