package types

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rlp"

	"p2plend/crypto"
)

// TxType defines the purpose of a transaction.
type TxType byte

const (
	TxTypeFillKernel           TxType = 0x01 // Fill a signed kernel and open a position
	TxTypeCancelKernel         TxType = 0x02 // Cancel unfilled kernel volume
	TxTypeTopupPosition        TxType = 0x03 // Add collateral to an open position
	TxTypeLiquidatePosition    TxType = 0x04 // Seize collateral of an expired position
	TxTypeClosePosition        TxType = 0x05 // Repay and close a position
	TxTypeTokenApprove         TxType = 0x10
	TxTypeTokenTransfer        TxType = 0x11
	TxTypeSetWranglerStatus    TxType = 0x20 // Owner only
	TxTypeSetTokenSupport      TxType = 0x21 // Owner only
	TxTypeSetPositionThreshold TxType = 0x22 // Owner only
)

var txTypeNames = map[TxType]string{
	TxTypeFillKernel:           "fill_kernel",
	TxTypeCancelKernel:         "cancel_kernel",
	TxTypeTopupPosition:        "topup",
	TxTypeLiquidatePosition:    "liquidate",
	TxTypeClosePosition:        "close",
	TxTypeTokenApprove:         "token_approve",
	TxTypeTokenTransfer:        "token_transfer",
	TxTypeSetWranglerStatus:    "set_wrangler_status",
	TxTypeSetTokenSupport:      "set_token_support",
	TxTypeSetPositionThreshold: "set_position_threshold",
}

// String returns the stable operation name used in logs and metrics.
func (t TxType) String() string {
	if name, ok := txTypeNames[t]; ok {
		return name
	}
	return fmt.Sprintf("unknown_%#x", byte(t))
}

// ParseTxType resolves a stable operation name back to its type.
func ParseTxType(name string) (TxType, bool) {
	for t, n := range txTypeNames {
		if n == name {
			return t, true
		}
	}
	return 0, false
}

// Valid reports whether t names a known transaction type.
func (t TxType) Valid() bool {
	_, ok := txTypeNames[t]
	return ok
}

var (
	ErrMissingSignature = errors.New("transaction: missing signature")
	ErrInvalidSignature = errors.New("transaction: signature does not recover a signer")
	ErrMalformedPayload = errors.New("transaction: malformed payload")
)

// Transaction is the signed envelope for every state-changing call. Data holds
// the JSON encoded payload for the given Type.
type Transaction struct {
	Type      TxType          `json:"type"`
	Nonce     uint64          `json:"nonce"`
	Data      json.RawMessage `json:"data"`
	Signature hexutil.Bytes   `json:"signature"`

	from *common.Address
}

// Hash is keccak256 over the RLP encoding of type, nonce and payload.
func (tx *Transaction) Hash() (common.Hash, error) {
	encoded, err := rlp.EncodeToBytes([]interface{}{uint64(tx.Type), tx.Nonce, []byte(tx.Data)})
	if err != nil {
		return common.Hash{}, err
	}
	return ethcrypto.Keccak256Hash(encoded), nil
}

// Sign attaches a signature from key.
func (tx *Transaction) Sign(key *crypto.PrivateKey) error {
	hash, err := tx.Hash()
	if err != nil {
		return err
	}
	sig, err := crypto.Sign(hash, key)
	if err != nil {
		return err
	}
	tx.Signature = sig
	tx.from = nil
	return nil
}

// From recovers the sender address from the signature.
func (tx *Transaction) From() (common.Address, error) {
	if tx.from != nil {
		return *tx.from, nil
	}
	if len(tx.Signature) == 0 {
		return common.Address{}, ErrMissingSignature
	}
	hash, err := tx.Hash()
	if err != nil {
		return common.Address{}, err
	}
	signer, ok := crypto.RecoverSigner(hash, tx.Signature)
	if !ok {
		return common.Address{}, ErrInvalidSignature
	}
	tx.from = &signer
	return signer, nil
}

// NewTransaction encodes payload as JSON and returns an unsigned transaction.
func NewTransaction(txType TxType, nonce uint64, payload interface{}) (*Transaction, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return &Transaction{Type: txType, Nonce: nonce, Data: data}, nil
}

// DecodePayload unmarshals the payload into out, rejecting unknown fields.
func (tx *Transaction) DecodePayload(out interface{}) error {
	if len(tx.Data) == 0 {
		return fmt.Errorf("%w: empty payload for %s", ErrMalformedPayload, tx.Type)
	}
	dec := json.NewDecoder(bytes.NewReader(tx.Data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(out); err != nil {
		return fmt.Errorf("%w: decode %s: %v", ErrMalformedPayload, tx.Type, err)
	}
	return nil
}
