package lending

import (
	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"
)

// Hash layouts are keccak256 over 32-byte words; addresses are left padded and
// integers big-endian. The field order is what signers commit to and must not
// change.

type wordWriter struct {
	buf []byte
}

func newWordWriter(words int) *wordWriter {
	return &wordWriter{buf: make([]byte, 0, words*32)}
}

func (w *wordWriter) address(a common.Address) {
	w.buf = append(w.buf, common.LeftPadBytes(a.Bytes(), 32)...)
}

func (w *wordWriter) amount(v *uint256.Int) {
	var word [32]byte
	if v != nil {
		word = v.Bytes32()
	}
	w.buf = append(w.buf, word[:]...)
}

func (w *wordWriter) uint(v uint64) {
	w.amount(uint256.NewInt(v))
}

func (w *wordWriter) raw(h common.Hash) {
	w.buf = append(w.buf, h.Bytes()...)
}

func (w *wordWriter) sum() common.Hash {
	return ethcrypto.Keccak256Hash(w.buf)
}

// KernelHash derives the identity of a kernel bound to the given protocol
// address.
func KernelHash(protocol common.Address, k *Kernel) common.Hash {
	w := newWordWriter(16)
	w.address(protocol)
	w.address(k.Lender)
	w.address(k.Borrower)
	w.address(k.Relayer)
	w.address(k.Wrangler)
	w.address(k.CollateralToken)
	w.address(k.LoanToken)
	w.amount(k.LoanAmountOffered)
	w.amount(k.Fees.Relayer)
	w.amount(k.Fees.Monitoring)
	w.amount(k.Fees.Rollover)
	w.amount(k.Fees.Closure)
	w.raw(k.Salt)
	w.uint(k.ExpiresAt)
	w.amount(k.DailyInterestRate)
	w.uint(k.PositionDuration)
	return w.sum()
}

// PositionHash derives the identity of a position bound to the given protocol
// address. Only the terms fixed at creation participate; timestamps, status
// and current collateral do not.
func PositionHash(protocol common.Address, p *Position) common.Hash {
	w := newWordWriter(16)
	w.address(protocol)
	w.address(p.CollateralToken)
	w.address(p.LoanToken)
	w.amount(p.CollateralAmount)
	w.amount(p.LoanAmountFilled)
	w.amount(p.LoanAmountOwed)
	w.address(p.KernelCreator)
	w.address(p.Lender)
	w.address(p.Borrower)
	w.address(p.Relayer)
	w.address(p.Wrangler)
	w.amount(p.Fees.Relayer)
	w.amount(p.Fees.Monitoring)
	w.amount(p.Fees.Rollover)
	w.amount(p.Fees.Closure)
	w.uint(p.Nonce)
	return w.sum()
}
