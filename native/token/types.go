package token

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// Metadata describes a registered fungible token.
type Metadata struct {
	Symbol   string
	Name     string
	Decimals uint8
	Supply   *uint256.Int
}

var (
	metadataPrefix  = []byte("token/meta/")
	balancePrefix   = []byte("token/balance/")
	allowancePrefix = []byte("token/allowance/")
	tokenListKey    = []byte("token/list")
)

func joinKey(prefix []byte, parts ...[]byte) []byte {
	size := len(prefix)
	for _, p := range parts {
		size += len(p)
	}
	buf := make([]byte, 0, size)
	buf = append(buf, prefix...)
	for _, p := range parts {
		buf = append(buf, p...)
	}
	return buf
}

func metadataKey(token common.Address) []byte {
	return joinKey(metadataPrefix, token.Bytes())
}

func balanceKey(token, account common.Address) []byte {
	return joinKey(balancePrefix, token.Bytes(), account.Bytes())
}

func allowanceKey(token, owner, spender common.Address) []byte {
	return joinKey(allowancePrefix, token.Bytes(), owner.Bytes(), spender.Bytes())
}
