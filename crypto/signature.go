package crypto

import (
	"errors"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// SignatureLength is the size of an r || s || v signature.
const SignatureLength = 65

var errNilKey = errors.New("crypto: nil private key")

// RecoverSigner returns the address that produced sig over messageHash. The
// recovery id may be supplied either as 0/1 or 27/28; anything else, a
// signature that is not exactly 65 bytes, or a point that fails to recover
// yields false rather than an error.
func RecoverSigner(messageHash common.Hash, sig []byte) (common.Address, bool) {
	if len(sig) != SignatureLength {
		return common.Address{}, false
	}
	v := int(sig[64])
	if v < 27 {
		v += 27
	}
	if v != 27 && v != 28 {
		return common.Address{}, false
	}
	normalized := make([]byte, SignatureLength)
	copy(normalized, sig[:64])
	normalized[64] = byte(v - 27)
	pub, err := crypto.SigToPub(messageHash.Bytes(), normalized)
	if err != nil || pub == nil {
		return common.Address{}, false
	}
	return crypto.PubkeyToAddress(*pub), true
}

// PrefixedHash applies the conventional wallet message prefix to a 32-byte
// hash: keccak256("\x19Ethereum Signed Message:\n32" || hash).
func PrefixedHash(messageHash common.Hash) common.Hash {
	return common.BytesToHash(accounts.TextHash(messageHash.Bytes()))
}

// IsSignedBy reports whether claimed signed messageHash either directly or
// through a wallet that applied the conventional message prefix. Wallets are
// inconsistent about the prefix so both forms are accepted.
func IsSignedBy(claimed common.Address, messageHash common.Hash, sig []byte) bool {
	if claimed == (common.Address{}) {
		return false
	}
	if signer, ok := RecoverSigner(messageHash, sig); ok && signer == claimed {
		return true
	}
	signer, ok := RecoverSigner(PrefixedHash(messageHash), sig)
	return ok && signer == claimed
}

// Sign produces a raw 65-byte signature over hash with v in {27, 28}.
func Sign(hash common.Hash, key *PrivateKey) ([]byte, error) {
	if key == nil || key.PrivateKey == nil {
		return nil, errNilKey
	}
	sig, err := crypto.Sign(hash.Bytes(), key.PrivateKey)
	if err != nil {
		return nil, err
	}
	sig[64] += 27
	return sig, nil
}

// SignPrefixed signs hash the way personal_sign capable wallets do, i.e. over
// the prefixed digest.
func SignPrefixed(hash common.Hash, key *PrivateKey) ([]byte, error) {
	return Sign(PrefixedHash(hash), key)
}
