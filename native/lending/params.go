package lending

import (
	"github.com/ethereum/go-ethereum/common"
)

// Owner returns the protocol owner. The zero address means genesis has not
// run yet.
func (e *Engine) Owner() (common.Address, error) {
	if err := e.ready(); err != nil {
		return common.Address{}, err
	}
	var owner common.Address
	if _, err := e.state.KVGet(ownerKey, &owner); err != nil {
		return common.Address{}, err
	}
	return owner, nil
}

// InitOwner sets the protocol owner once, at genesis.
func (e *Engine) InitOwner(owner common.Address) error {
	current, err := e.Owner()
	if err != nil {
		return err
	}
	if current != (common.Address{}) {
		return ErrOwnerAlreadySet
	}
	if owner == (common.Address{}) {
		return ErrMissingParty
	}
	return e.state.KVPut(ownerKey, owner)
}

func (e *Engine) requireOwner(caller common.Address) error {
	owner, err := e.Owner()
	if err != nil {
		return err
	}
	if owner == (common.Address{}) || caller != owner {
		return ErrNotOwner
	}
	return nil
}

// PositionThreshold returns the per-side open position ceiling.
func (e *Engine) PositionThreshold() (uint64, error) {
	if err := e.ready(); err != nil {
		return 0, err
	}
	var threshold uint64
	ok, err := e.state.KVGet(thresholdKey, &threshold)
	if err != nil {
		return 0, err
	}
	if !ok {
		return DefaultPositionThreshold, nil
	}
	return threshold, nil
}

// IsWrangler reports whether addr may approve positions.
func (e *Engine) IsWrangler(addr common.Address) (bool, error) {
	if err := e.ready(); err != nil {
		return false, err
	}
	return e.state.KVGet(wranglerKey(addr), nil)
}

// IsSupportedToken reports whether token may be used as collateral or loan
// currency.
func (e *Engine) IsSupportedToken(token common.Address) (bool, error) {
	if err := e.ready(); err != nil {
		return false, err
	}
	return e.state.KVGet(tokenSupportKey(token), nil)
}

// SetPositionThreshold changes the per-side open position ceiling. Existing
// positions are unaffected.
func (e *Engine) SetPositionThreshold(caller common.Address, value uint64) error {
	if err := e.requireOwner(caller); err != nil {
		return err
	}
	if err := e.state.KVPut(thresholdKey, value); err != nil {
		return err
	}
	e.emit(ParamsUpdated{Key: ParamPositionThreshold, Value: value})
	return nil
}

// SetWranglerStatus adds or removes addr from the wrangler allow-list.
func (e *Engine) SetWranglerStatus(caller, addr common.Address, active bool) error {
	if err := e.requireOwner(caller); err != nil {
		return err
	}
	if addr == (common.Address{}) {
		return ErrMissingWrangler
	}
	if err := e.setFlag(wranglerKey(addr), active); err != nil {
		return err
	}
	e.emit(ParamsUpdated{Key: ParamWranglerStatus, Address: addr, Value: boolValue(active)})
	return nil
}

// SetTokenSupport adds or removes token from the supported currency list. The
// token must be registered with the token service.
func (e *Engine) SetTokenSupport(caller, token common.Address, active bool) error {
	if err := e.requireOwner(caller); err != nil {
		return err
	}
	if e.tokens == nil {
		return errNilTokens
	}
	exists, err := e.tokens.Exists(token)
	if err != nil {
		return err
	}
	if !exists {
		return ErrUnknownToken
	}
	if err := e.setFlag(tokenSupportKey(token), active); err != nil {
		return err
	}
	e.emit(ParamsUpdated{Key: ParamTokenSupport, Address: token, Value: boolValue(active)})
	return nil
}

func (e *Engine) setFlag(key []byte, on bool) error {
	if on {
		return e.state.KVPut(key, true)
	}
	return e.state.KVDelete(key)
}
