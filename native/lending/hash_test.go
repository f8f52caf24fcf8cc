package lending

import (
	"testing"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"
)

func sampleKernel() Kernel {
	return Kernel{
		Lender:            makeAddress(0x01),
		Relayer:           makeAddress(0x03),
		Wrangler:          makeAddress(0x04),
		CollateralToken:   makeAddress(0x05),
		LoanToken:         makeAddress(0x06),
		LoanAmountOffered: uint256.NewInt(1000),
		Fees: Fees{
			Relayer:    uint256.NewInt(1),
			Monitoring: uint256.NewInt(2),
			Rollover:   uint256.NewInt(3),
			Closure:    uint256.NewInt(4),
		},
		Salt:              common.HexToHash("0xabcdef"),
		ExpiresAt:         1_700_003_600,
		DailyInterestRate: uint256.NewInt(1e18),
		PositionDuration:  86_400,
	}
}

func samplePosition() Position {
	return Position{
		KernelCreator:    makeAddress(0x01),
		Lender:           makeAddress(0x01),
		Borrower:         makeAddress(0x02),
		Relayer:          makeAddress(0x03),
		Wrangler:         makeAddress(0x04),
		CollateralToken:  makeAddress(0x05),
		LoanToken:        makeAddress(0x06),
		CollateralAmount: uint256.NewInt(500),
		LoanAmountFilled: uint256.NewInt(1000),
		LoanAmountOwed:   uint256.NewInt(1010),
		Nonce:            1,
		Fees: Fees{
			Relayer:    uint256.NewInt(1),
			Monitoring: uint256.NewInt(2),
			Rollover:   uint256.NewInt(3),
			Closure:    uint256.NewInt(4),
		},
	}
}

func TestKernelHashLayout(t *testing.T) {
	protocol := makeAddress(0xAA)
	k := sampleKernel()

	word := func(v uint64) []byte {
		b := uint256.NewInt(v).Bytes32()
		return b[:]
	}
	pad := func(a common.Address) []byte { return common.LeftPadBytes(a.Bytes(), 32) }
	var buf []byte
	for _, part := range [][]byte{
		pad(protocol), pad(k.Lender), pad(common.Address{}), pad(k.Relayer), pad(k.Wrangler),
		pad(k.CollateralToken), pad(k.LoanToken),
		word(1000), word(1), word(2), word(3), word(4),
		k.Salt.Bytes(), word(k.ExpiresAt), word(1e18), word(86_400),
	} {
		buf = append(buf, part...)
	}
	if len(buf) != 16*32 {
		t.Fatalf("unexpected preimage length %d", len(buf))
	}
	if got, want := KernelHash(protocol, &k), ethcrypto.Keccak256Hash(buf); got != want {
		t.Fatalf("kernel hash %s, want %s", got.Hex(), want.Hex())
	}
}

func TestKernelHashFieldSensitivity(t *testing.T) {
	protocol := makeAddress(0xAA)
	base := sampleKernel()
	baseHash := KernelHash(protocol, &base)
	if again := sampleKernel(); KernelHash(protocol, &again) != baseHash {
		t.Fatalf("kernel hash not deterministic")
	}
	if KernelHash(makeAddress(0xAB), &base) == baseHash {
		t.Fatalf("kernel hash must bind the protocol address")
	}

	mutations := map[string]func(k *Kernel){
		"lender":         func(k *Kernel) { k.Lender = makeAddress(0x51) },
		"borrower":       func(k *Kernel) { k.Borrower = makeAddress(0x52) },
		"relayer":        func(k *Kernel) { k.Relayer = makeAddress(0x53) },
		"wrangler":       func(k *Kernel) { k.Wrangler = makeAddress(0x54) },
		"collateral":     func(k *Kernel) { k.CollateralToken = makeAddress(0x55) },
		"loan token":     func(k *Kernel) { k.LoanToken = makeAddress(0x56) },
		"offered":        func(k *Kernel) { k.LoanAmountOffered = uint256.NewInt(1001) },
		"relayer fee":    func(k *Kernel) { k.Fees.Relayer = uint256.NewInt(9) },
		"monitoring fee": func(k *Kernel) { k.Fees.Monitoring = uint256.NewInt(9) },
		"rollover fee":   func(k *Kernel) { k.Fees.Rollover = uint256.NewInt(9) },
		"closure fee":    func(k *Kernel) { k.Fees.Closure = uint256.NewInt(9) },
		"salt":           func(k *Kernel) { k.Salt = common.HexToHash("0x01") },
		"expiry":         func(k *Kernel) { k.ExpiresAt++ },
		"rate":           func(k *Kernel) { k.DailyInterestRate = uint256.NewInt(2e18) },
		"duration":       func(k *Kernel) { k.PositionDuration++ },
	}
	for name, mutate := range mutations {
		k := sampleKernel()
		mutate(&k)
		if KernelHash(protocol, &k) == baseHash {
			t.Fatalf("changing %s did not change the kernel hash", name)
		}
	}
}

func TestPositionHashFieldSensitivity(t *testing.T) {
	protocol := makeAddress(0xAA)
	base := samplePosition()
	baseHash := PositionHash(protocol, &base)

	mutable := samplePosition()
	mutable.Index = 42
	mutable.CreatedAt, mutable.UpdatedAt, mutable.ExpiresAt = 1, 2, 3
	mutable.Status = PositionStatusClosed
	mutable.CollateralCurrent = uint256.NewInt(9999)
	if PositionHash(protocol, &mutable) != baseHash {
		t.Fatalf("lifecycle fields must not affect the position hash")
	}

	mutations := map[string]func(p *Position){
		"collateral token": func(p *Position) { p.CollateralToken = makeAddress(0x61) },
		"loan token":       func(p *Position) { p.LoanToken = makeAddress(0x62) },
		"collateral":       func(p *Position) { p.CollateralAmount = uint256.NewInt(501) },
		"filled":           func(p *Position) { p.LoanAmountFilled = uint256.NewInt(1001) },
		"owed":             func(p *Position) { p.LoanAmountOwed = uint256.NewInt(1011) },
		"creator":          func(p *Position) { p.KernelCreator = makeAddress(0x63) },
		"lender":           func(p *Position) { p.Lender = makeAddress(0x64) },
		"borrower":         func(p *Position) { p.Borrower = makeAddress(0x65) },
		"relayer":          func(p *Position) { p.Relayer = makeAddress(0x66) },
		"wrangler":         func(p *Position) { p.Wrangler = makeAddress(0x67) },
		"relayer fee":      func(p *Position) { p.Fees.Relayer = uint256.NewInt(9) },
		"monitoring fee":   func(p *Position) { p.Fees.Monitoring = uint256.NewInt(9) },
		"rollover fee":     func(p *Position) { p.Fees.Rollover = uint256.NewInt(9) },
		"closure fee":      func(p *Position) { p.Fees.Closure = uint256.NewInt(9) },
		"nonce":            func(p *Position) { p.Nonce = 2 },
	}
	for name, mutate := range mutations {
		p := samplePosition()
		mutate(&p)
		if PositionHash(protocol, &p) == baseHash {
			t.Fatalf("changing %s did not change the position hash", name)
		}
	}
}
