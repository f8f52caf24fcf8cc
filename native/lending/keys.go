package lending

import (
	"encoding/binary"

	"github.com/ethereum/go-ethereum/common"
)

var (
	positionPrefix      = []byte("lending/position/")
	positionIndexPrefix = []byte("lending/index/")
	lastIndexKey        = []byte("lending/lastIndex")
	lockPrefix          = []byte("lending/lock/")
	filledPrefix        = []byte("lending/kernel/filled/")
	cancelledPrefix     = []byte("lending/kernel/cancelled/")
	wranglerNoncePrefix = []byte("lending/wrangler/nonce/")
	wranglerPrefix      = []byte("lending/params/wrangler/")
	tokenSupportPrefix  = []byte("lending/params/token/")
	ownerKey            = []byte("lending/params/owner")
	thresholdKey        = []byte("lending/params/threshold")
)

// side selects one of an account's two position arrays.
type side string

const (
	sideBorrow side = "borrow"
	sideLend   side = "lend"
)

func concatKey(prefix []byte, parts ...[]byte) []byte {
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

func u64Bytes(v uint64) []byte {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], v)
	return buf[:]
}

func positionKey(hash common.Hash) []byte {
	return concatKey(positionPrefix, hash.Bytes())
}

func positionIndexKey(i uint64) []byte {
	return concatKey(positionIndexPrefix, u64Bytes(i))
}

func lockKey(hash common.Hash) []byte {
	return concatKey(lockPrefix, hash.Bytes())
}

func filledKey(hash common.Hash) []byte {
	return concatKey(filledPrefix, hash.Bytes())
}

func cancelledKey(hash common.Hash) []byte {
	return concatKey(cancelledPrefix, hash.Bytes())
}

func wranglerNonceKey(wrangler, creator common.Address) []byte {
	return concatKey(wranglerNoncePrefix, wrangler.Bytes(), creator.Bytes())
}

func wranglerKey(addr common.Address) []byte {
	return concatKey(wranglerPrefix, addr.Bytes())
}

func tokenSupportKey(addr common.Address) []byte {
	return concatKey(tokenSupportPrefix, addr.Bytes())
}

func sideCountKey(s side, account common.Address) []byte {
	return concatKey([]byte("lending/"+string(s)+"/count/"), account.Bytes())
}

func sideSlotKey(s side, account common.Address, slot uint64) []byte {
	return concatKey([]byte("lending/"+string(s)+"/slot/"), account.Bytes(), u64Bytes(slot))
}

func sideReverseKey(s side, account common.Address, hash common.Hash) []byte {
	return concatKey([]byte("lending/"+string(s)+"/reverse/"), account.Bytes(), hash.Bytes())
}
