package token

import (
	"errors"
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"golang.org/x/text/unicode/norm"

	"p2plend/core/events"
)

const maxSymbolLength = 16

var (
	errNilState         = errors.New("token ledger: state not configured")
	ErrUnknownToken     = errors.New("token ledger: token not registered")
	ErrTokenRegistered  = errors.New("token ledger: token already registered")
	ErrInvalidMetadata  = errors.New("token ledger: invalid metadata")
	ErrZeroAddress      = errors.New("token ledger: zero address")
	ErrSupplyOverflow   = errors.New("token ledger: supply overflow")
	ErrMissingAmount    = errors.New("token ledger: amount required")
)

type ledgerState interface {
	KVGet(key []byte, out interface{}) (bool, error)
	KVGetList(key []byte, out interface{}) error
	KVPut(key []byte, value interface{}) error
	KVDelete(key []byte) error
}

// Ledger keeps ERC20-style balances and allowances for every registered
// token. Transfers report insufficient funds as an unsuccessful result rather
// than an error so callers can treat them like a token contract's boolean
// return value.
type Ledger struct {
	state   ledgerState
	emitter events.Emitter
}

// NewLedger creates a ledger with a no-op emitter.
func NewLedger() *Ledger {
	return &Ledger{emitter: events.NoopEmitter{}}
}

// SetState configures the state backend used by the ledger.
func (l *Ledger) SetState(state ledgerState) { l.state = state }

// SetEmitter configures the event emitter. Passing nil resets it to a no-op.
func (l *Ledger) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		l.emitter = events.NoopEmitter{}
		return
	}
	l.emitter = emitter
}

func (l *Ledger) emit(evt events.Event) {
	if l == nil || l.emitter == nil {
		return
	}
	l.emitter.Emit(evt)
}

func (l *Ledger) ready() error {
	if l == nil || l.state == nil {
		return errNilState
	}
	return nil
}

// NormalizeSymbol returns the canonical ticker form: NFKC folded, upper case,
// at most maxSymbolLength runes and free of spaces and control characters.
func NormalizeSymbol(symbol string) (string, error) {
	normalized := strings.ToUpper(norm.NFKC.String(strings.TrimSpace(symbol)))
	if normalized == "" {
		return "", fmt.Errorf("%w: symbol required", ErrInvalidMetadata)
	}
	if utf8.RuneCountInString(normalized) > maxSymbolLength {
		return "", fmt.Errorf("%w: symbol longer than %d characters", ErrInvalidMetadata, maxSymbolLength)
	}
	for _, r := range normalized {
		if unicode.IsSpace(r) || unicode.IsControl(r) {
			return "", fmt.Errorf("%w: symbol %q contains whitespace or control characters", ErrInvalidMetadata, normalized)
		}
	}
	return normalized, nil
}

// Register records token metadata. The token address must be unused.
func (l *Ledger) Register(token common.Address, meta Metadata) error {
	if err := l.ready(); err != nil {
		return err
	}
	if token == (common.Address{}) {
		return ErrZeroAddress
	}
	symbol, err := NormalizeSymbol(meta.Symbol)
	if err != nil {
		return err
	}
	meta.Symbol = symbol
	meta.Name = norm.NFKC.String(strings.TrimSpace(meta.Name))
	if meta.Name == "" {
		return fmt.Errorf("%w: name required", ErrInvalidMetadata)
	}
	exists, err := l.Exists(token)
	if err != nil {
		return err
	}
	if exists {
		return fmt.Errorf("%w: %s", ErrTokenRegistered, token.Hex())
	}
	meta.Supply = new(uint256.Int)
	if err := l.state.KVPut(metadataKey(token), &meta); err != nil {
		return err
	}
	var list []common.Address
	if err := l.state.KVGetList(tokenListKey, &list); err != nil {
		return err
	}
	list = append(list, token)
	return l.state.KVPut(tokenListKey, list)
}

// Exists reports whether token is registered.
func (l *Ledger) Exists(token common.Address) (bool, error) {
	if err := l.ready(); err != nil {
		return false, err
	}
	return l.state.KVGet(metadataKey(token), nil)
}

// Metadata returns the registered metadata for token.
func (l *Ledger) Metadata(token common.Address) (*Metadata, error) {
	if err := l.ready(); err != nil {
		return nil, err
	}
	meta := new(Metadata)
	ok, err := l.state.KVGet(metadataKey(token), meta)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownToken, token.Hex())
	}
	if meta.Supply == nil {
		meta.Supply = new(uint256.Int)
	}
	return meta, nil
}

// Tokens lists registered tokens in registration order. An empty ledger
// returns an empty, non-nil list.
func (l *Ledger) Tokens() ([]common.Address, error) {
	if err := l.ready(); err != nil {
		return nil, err
	}
	var list []common.Address
	if err := l.state.KVGetList(tokenListKey, &list); err != nil {
		return nil, err
	}
	return list, nil
}

// Mint credits amount of token to the recipient and grows the supply.
func (l *Ledger) Mint(token, to common.Address, amount *uint256.Int) error {
	meta, err := l.Metadata(token)
	if err != nil {
		return err
	}
	if to == (common.Address{}) {
		return ErrZeroAddress
	}
	if amount == nil || amount.IsZero() {
		return nil
	}
	supply, overflow := new(uint256.Int).AddOverflow(meta.Supply, amount)
	if overflow {
		return ErrSupplyOverflow
	}
	balance, err := l.BalanceOf(token, to)
	if err != nil {
		return err
	}
	// balance <= supply, so this cannot overflow once the supply did not.
	balance.Add(balance, amount)
	if err := l.putBalance(token, to, balance); err != nil {
		return err
	}
	meta.Supply = supply
	if err := l.state.KVPut(metadataKey(token), meta); err != nil {
		return err
	}
	l.emit(events.TokenSupply{
		Token:   token,
		Symbol:  meta.Symbol,
		Account: to,
		Amount:  new(uint256.Int).Set(amount),
		Total:   supply,
	})
	return nil
}

// BalanceOf returns the balance of account in token. Unknown accounts hold
// zero.
func (l *Ledger) BalanceOf(token, account common.Address) (*uint256.Int, error) {
	if err := l.ready(); err != nil {
		return nil, err
	}
	balance := new(uint256.Int)
	if _, err := l.state.KVGet(balanceKey(token, account), balance); err != nil {
		return nil, err
	}
	return balance, nil
}

func (l *Ledger) putBalance(token, account common.Address, balance *uint256.Int) error {
	if balance.IsZero() {
		return l.state.KVDelete(balanceKey(token, account))
	}
	return l.state.KVPut(balanceKey(token, account), balance)
}

// Allowance returns how much spender may move on behalf of owner.
func (l *Ledger) Allowance(token, owner, spender common.Address) (*uint256.Int, error) {
	if err := l.ready(); err != nil {
		return nil, err
	}
	allowance := new(uint256.Int)
	if _, err := l.state.KVGet(allowanceKey(token, owner, spender), allowance); err != nil {
		return nil, err
	}
	return allowance, nil
}

// Approve sets the allowance of spender over owner's balance.
func (l *Ledger) Approve(token, owner, spender common.Address, amount *uint256.Int) error {
	if _, err := l.Metadata(token); err != nil {
		return err
	}
	if spender == (common.Address{}) {
		return ErrZeroAddress
	}
	if amount == nil {
		return ErrMissingAmount
	}
	key := allowanceKey(token, owner, spender)
	var err error
	if amount.IsZero() {
		err = l.state.KVDelete(key)
	} else {
		err = l.state.KVPut(key, amount)
	}
	if err != nil {
		return err
	}
	l.emit(events.Approval{Token: token, Owner: owner, Spender: spender, Amount: new(uint256.Int).Set(amount)})
	return nil
}

// Transfer moves amount from the sender to the recipient. It returns false
// without error when the sender's balance is insufficient.
func (l *Ledger) Transfer(token, from, to common.Address, amount *uint256.Int) (bool, error) {
	if _, err := l.Metadata(token); err != nil {
		return false, err
	}
	return l.move(token, from, to, amount)
}

// TransferFrom moves amount from owner to recipient on behalf of spender,
// consuming allowance. It returns false without error when either the
// allowance or the owner's balance is insufficient.
func (l *Ledger) TransferFrom(token, spender, from, to common.Address, amount *uint256.Int) (bool, error) {
	if _, err := l.Metadata(token); err != nil {
		return false, err
	}
	if to == (common.Address{}) {
		return false, nil
	}
	if amount == nil || amount.IsZero() {
		return true, nil
	}
	allowance, err := l.Allowance(token, from, spender)
	if err != nil {
		return false, err
	}
	if allowance.Lt(amount) {
		return false, nil
	}
	balance, err := l.BalanceOf(token, from)
	if err != nil {
		return false, err
	}
	if balance.Lt(amount) {
		return false, nil
	}
	remaining := new(uint256.Int).Sub(allowance, amount)
	key := allowanceKey(token, from, spender)
	if remaining.IsZero() {
		err = l.state.KVDelete(key)
	} else {
		err = l.state.KVPut(key, remaining)
	}
	if err != nil {
		return false, err
	}
	return l.move(token, from, to, amount)
}

func (l *Ledger) move(token, from, to common.Address, amount *uint256.Int) (bool, error) {
	if to == (common.Address{}) {
		return false, nil
	}
	if amount == nil || amount.IsZero() {
		return true, nil
	}
	fromBalance, err := l.BalanceOf(token, from)
	if err != nil {
		return false, err
	}
	if fromBalance.Lt(amount) {
		return false, nil
	}
	fromBalance.Sub(fromBalance, amount)
	if err := l.putBalance(token, from, fromBalance); err != nil {
		return false, err
	}
	toBalance, err := l.BalanceOf(token, to)
	if err != nil {
		return false, err
	}
	// Balances are bounded by the token supply.
	toBalance.Add(toBalance, amount)
	if err := l.putBalance(token, to, toBalance); err != nil {
		return false, err
	}
	l.emit(events.Transfer{Token: token, From: from, To: to, Amount: new(uint256.Int).Set(amount)})
	return true, nil
}
