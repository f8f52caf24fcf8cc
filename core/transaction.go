package core

import (
	"p2plend/core/types"
	"p2plend/crypto"
)

// NewSignedTransaction encodes payload and signs the envelope with key.
func NewSignedTransaction(key *crypto.PrivateKey, txType types.TxType, nonce uint64, payload interface{}) (*types.Transaction, error) {
	tx, err := types.NewTransaction(txType, nonce, payload)
	if err != nil {
		return nil, err
	}
	if err := tx.Sign(key); err != nil {
		return nil, err
	}
	return tx, nil
}
