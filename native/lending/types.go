package lending

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// PositionStatus enumerates the lifecycle states of a position. Open is the
// only non-terminal state.
type PositionStatus uint8

const (
	PositionStatusOpen       PositionStatus = 1
	PositionStatusClosed     PositionStatus = 2
	PositionStatusLiquidated PositionStatus = 3
)

func (s PositionStatus) String() string {
	switch s {
	case PositionStatusOpen:
		return "open"
	case PositionStatusClosed:
		return "closed"
	case PositionStatusLiquidated:
		return "liquidated"
	default:
		return "unknown"
	}
}

// Terminal reports whether no transition leaves s.
func (s PositionStatus) Terminal() bool {
	return s == PositionStatusClosed || s == PositionStatusLiquidated
}

// Fees groups the four fee amounts carried by kernels and positions. Relayer
// and monitoring fees are settled in the protocol token.
type Fees struct {
	Relayer    *uint256.Int
	Monitoring *uint256.Int
	Rollover   *uint256.Int
	Closure    *uint256.Int
}

// Clone returns a deep copy with nil amounts replaced by zero.
func (f Fees) Clone() Fees {
	return Fees{
		Relayer:    cloneAmount(f.Relayer),
		Monitoring: cloneAmount(f.Monitoring),
		Rollover:   cloneAmount(f.Rollover),
		Closure:    cloneAmount(f.Closure),
	}
}

// Kernel is a signed, one-sided loan offer. Exactly one of Lender and Borrower
// is set; that party is the kernel creator. Kernels are never stored, only the
// volume filled and cancelled against their hash.
type Kernel struct {
	Lender            common.Address
	Borrower          common.Address
	Relayer           common.Address
	Wrangler          common.Address
	CollateralToken   common.Address
	LoanToken         common.Address
	LoanAmountOffered *uint256.Int
	Fees              Fees
	Salt              common.Hash
	ExpiresAt         uint64
	DailyInterestRate *uint256.Int
	PositionDuration  uint64
}

// Creator returns the party that signed the kernel.
func (k *Kernel) Creator() common.Address {
	if k.Lender != (common.Address{}) {
		return k.Lender
	}
	return k.Borrower
}

// Position is an active loan created by filling a kernel.
type Position struct {
	Index             uint64
	KernelCreator     common.Address
	Lender            common.Address
	Borrower          common.Address
	Relayer           common.Address
	Wrangler          common.Address
	CreatedAt         uint64
	UpdatedAt         uint64
	ExpiresAt         uint64
	CollateralToken   common.Address
	LoanToken         common.Address
	CollateralAmount  *uint256.Int
	CollateralCurrent *uint256.Int
	LoanAmountFilled  *uint256.Int
	LoanAmountOwed    *uint256.Int
	Status            PositionStatus
	Nonce             uint64
	Fees              Fees
	Hash              common.Hash
}

// Clone returns a deep copy of the position.
func (p *Position) Clone() *Position {
	if p == nil {
		return nil
	}
	clone := *p
	clone.CollateralAmount = cloneAmount(p.CollateralAmount)
	clone.CollateralCurrent = cloneAmount(p.CollateralCurrent)
	clone.LoanAmountFilled = cloneAmount(p.LoanAmountFilled)
	clone.LoanAmountOwed = cloneAmount(p.LoanAmountOwed)
	clone.Fees = p.Fees.Clone()
	return &clone
}

// FillRequest carries everything needed to fill a kernel: the kernel fields
// with both counterparties named, the fill amount, and the wrangler's
// approval of the resulting position.
type FillRequest struct {
	Lender            common.Address
	Borrower          common.Address
	Relayer           common.Address
	Wrangler          common.Address
	CollateralToken   common.Address
	LoanToken         common.Address
	CollateralAmount  *uint256.Int
	LoanAmountOffered *uint256.Int
	LoanAmountFilled  *uint256.Int
	Fees              Fees
	Nonce             uint64
	DailyInterestRate *uint256.Int
	CreatorIsLender   bool
	KernelExpiresAt   uint64
	ApprovalExpiresAt uint64
	PositionDuration  uint64
	Salt              common.Hash
	CreatorSignature  []byte
	WranglerSignature []byte
}

// Creator returns the kernel creator named by the request.
func (r *FillRequest) Creator() common.Address {
	if r.CreatorIsLender {
		return r.Lender
	}
	return r.Borrower
}

// Filler returns the counterparty accepting the kernel.
func (r *FillRequest) Filler() common.Address {
	if r.CreatorIsLender {
		return r.Borrower
	}
	return r.Lender
}

// Kernel reconstructs the signed offer: the filler's slot is blank because
// the creator did not know the counterparty when signing.
func (r *FillRequest) Kernel() Kernel {
	k := Kernel{
		Borrower:          r.Borrower,
		Relayer:           r.Relayer,
		Wrangler:          r.Wrangler,
		CollateralToken:   r.CollateralToken,
		LoanToken:         r.LoanToken,
		LoanAmountOffered: cloneAmount(r.LoanAmountOffered),
		Fees:              r.Fees.Clone(),
		Salt:              r.Salt,
		ExpiresAt:         r.KernelExpiresAt,
		DailyInterestRate: cloneAmount(r.DailyInterestRate),
		PositionDuration:  r.PositionDuration,
	}
	if r.CreatorIsLender {
		k.Lender = r.Lender
		k.Borrower = common.Address{}
	}
	return k
}

// Terms returns the position fixed by this fill: everything the wrangler
// signs. ExpiresAt holds the duration until the position is opened.
func (r *FillRequest) Terms() (*Position, error) {
	owed, err := OwedValue(r.LoanAmountFilled, r.DailyInterestRate, r.PositionDuration)
	if err != nil {
		return nil, err
	}
	return &Position{
		KernelCreator:     r.Creator(),
		Lender:            r.Lender,
		Borrower:          r.Borrower,
		Relayer:           r.Relayer,
		Wrangler:          r.Wrangler,
		ExpiresAt:         r.PositionDuration,
		CollateralToken:   r.CollateralToken,
		LoanToken:         r.LoanToken,
		CollateralAmount:  cloneAmount(r.CollateralAmount),
		CollateralCurrent: cloneAmount(r.CollateralAmount),
		LoanAmountFilled:  cloneAmount(r.LoanAmountFilled),
		LoanAmountOwed:    owed,
		Status:            PositionStatusOpen,
		Nonce:             r.Nonce,
		Fees:              r.Fees.Clone(),
	}, nil
}

// CancelRequest withdraws unfilled volume from a kernel. The kernel fields
// must reproduce the signed offer exactly.
type CancelRequest struct {
	Kernel       Kernel
	CancelAmount *uint256.Int
	Signature    []byte
}

func cloneAmount(v *uint256.Int) *uint256.Int {
	if v == nil {
		return new(uint256.Int)
	}
	return new(uint256.Int).Set(v)
}

func isZero(v *uint256.Int) bool {
	return v == nil || v.IsZero()
}
