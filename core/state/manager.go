package state

import (
	"fmt"
	"reflect"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rlp"

	"p2plend/storage/trie"
)

// Manager exposes RLP-encoded key/value access to the ledger trie. Native
// modules address their records with plain byte keys; the manager hashes them
// before touching the trie.
type Manager struct {
	trie *trie.Trie
}

// NewManager creates a state manager operating on the provided trie.
func NewManager(tr *trie.Trie) *Manager {
	return &Manager{trie: tr}
}

var accountNoncePrefix = []byte("account/nonce/")

func kvKey(key []byte) []byte {
	return ethcrypto.Keccak256(key)
}

func accountNonceKey(addr common.Address) []byte {
	buf := make([]byte, len(accountNoncePrefix)+common.AddressLength)
	copy(buf, accountNoncePrefix)
	copy(buf[len(accountNoncePrefix):], addr.Bytes())
	return buf
}

// KVPut stores the provided value under the supplied key using RLP encoding.
// The key is automatically hashed with keccak256 to match the requirements of
// the underlying trie implementation.
func (m *Manager) KVPut(key []byte, value interface{}) error {
	if len(key) == 0 {
		return fmt.Errorf("kv: key must not be empty")
	}
	encoded, err := rlp.EncodeToBytes(value)
	if err != nil {
		return err
	}
	return m.trie.Update(kvKey(key), encoded)
}

// KVGet retrieves the value stored under the supplied key and decodes it into
// the provided destination. The boolean return value indicates whether the key
// existed in state.
func (m *Manager) KVGet(key []byte, out interface{}) (bool, error) {
	if len(key) == 0 {
		return false, fmt.Errorf("kv: key must not be empty")
	}
	data, err := m.trie.Get(kvKey(key))
	if err != nil {
		return false, err
	}
	if len(data) == 0 {
		return false, nil
	}
	if out == nil {
		return true, nil
	}
	if err := rlp.DecodeBytes(data, out); err != nil {
		return false, err
	}
	return true, nil
}

// KVDelete removes the value stored under key. Deleting a missing key is a
// no-op.
func (m *Manager) KVDelete(key []byte) error {
	if len(key) == 0 {
		return fmt.Errorf("kv: key must not be empty")
	}
	return m.trie.Delete(kvKey(key))
}

// KVGetList retrieves an RLP-encoded slice stored under the provided key and
// decodes it into the supplied destination slice pointer. When no value is
// present the destination is initialised with an empty slice to avoid nil
// surprises for callers.
func (m *Manager) KVGetList(key []byte, out interface{}) error {
	if len(key) == 0 {
		return fmt.Errorf("kv: key must not be empty")
	}
	data, err := m.trie.Get(kvKey(key))
	if err != nil {
		return err
	}
	if len(data) == 0 {
		val := reflect.ValueOf(out)
		if val.Kind() != reflect.Ptr || val.IsNil() {
			return fmt.Errorf("kv: destination must be a non-nil pointer")
		}
		elem := val.Elem()
		if elem.Kind() != reflect.Slice {
			return fmt.Errorf("kv: destination must point to a slice")
		}
		elem.Set(reflect.MakeSlice(elem.Type(), 0, 0))
		return nil
	}
	return rlp.DecodeBytes(data, out)
}

// AccountNonce returns the last transaction nonce accepted from addr. Fresh
// accounts report zero.
func (m *Manager) AccountNonce(addr common.Address) (uint64, error) {
	var nonce uint64
	if _, err := m.KVGet(accountNonceKey(addr), &nonce); err != nil {
		return 0, err
	}
	return nonce, nil
}

// SetAccountNonce records the last transaction nonce accepted from addr.
func (m *Manager) SetAccountNonce(addr common.Address, nonce uint64) error {
	return m.KVPut(accountNonceKey(addr), nonce)
}

// Root returns the in-memory root hash including uncommitted writes.
func (m *Manager) Root() common.Hash {
	return m.trie.Hash()
}
