package lending

import (
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/rlp"
	"github.com/holiman/uint256"

	"p2plend/core/events"
	"p2plend/crypto"
	"p2plend/native/token"
)

type mockEngineState struct {
	kv map[string][]byte
}

func newMockEngineState() *mockEngineState {
	return &mockEngineState{kv: make(map[string][]byte)}
}

func (m *mockEngineState) KVGet(key []byte, out interface{}) (bool, error) {
	data, ok := m.kv[string(key)]
	if !ok {
		return false, nil
	}
	if out == nil {
		return true, nil
	}
	return true, rlp.DecodeBytes(data, out)
}

// KVGetList decodes a missing key as the empty RLP list.
func (m *mockEngineState) KVGetList(key []byte, out interface{}) error {
	data, ok := m.kv[string(key)]
	if !ok {
		data = []byte{0xc0}
	}
	return rlp.DecodeBytes(data, out)
}

func (m *mockEngineState) KVPut(key []byte, value interface{}) error {
	encoded, err := rlp.EncodeToBytes(value)
	if err != nil {
		return err
	}
	m.kv[string(key)] = encoded
	return nil
}

func (m *mockEngineState) KVDelete(key []byte) error {
	delete(m.kv, string(key))
	return nil
}

type captureEmitter struct {
	events []events.Event
}

func (c *captureEmitter) Emit(evt events.Event) { c.events = append(c.events, evt) }

func (c *captureEmitter) positionUpdates() []PositionUpdated {
	var out []PositionUpdated
	for _, evt := range c.events {
		if upd, ok := evt.(PositionUpdated); ok {
			out = append(out, upd)
		}
	}
	return out
}

func makeAddress(b byte) common.Address {
	var addr common.Address
	addr[0] = 0x11
	addr[len(addr)-1] = b
	return addr
}

func mustKey(t *testing.T) *crypto.PrivateKey {
	t.Helper()
	key, err := crypto.GeneratePrivateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	return key
}

const (
	fixtureStart = int64(1_700_000_000)
	oneHour      = uint64(3600)
)

// onePercentDaily is a daily rate of one percent at the 10^20 scale.
var onePercentDaily = uint256.MustFromDecimal("1000000000000000000")

type fixture struct {
	t        *testing.T
	engine   *Engine
	state    *mockEngineState
	tokens   *token.Ledger
	emitter  *captureEmitter
	now      int64
	owner    common.Address
	protocol common.Address
	feeToken common.Address
	colToken common.Address
	loanTok  common.Address
	alice    *crypto.PrivateKey
	bob      *crypto.PrivateKey
	wrangler *crypto.PrivateKey
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		t:        t,
		state:    newMockEngineState(),
		emitter:  &captureEmitter{},
		now:      fixtureStart,
		owner:    makeAddress(0x01),
		protocol: makeAddress(0xAA),
		feeToken: makeAddress(0xF0),
		colToken: makeAddress(0xC0),
		loanTok:  makeAddress(0xD0),
		alice:    mustKey(t),
		bob:      mustKey(t),
		wrangler: mustKey(t),
	}
	f.tokens = token.NewLedger()
	f.tokens.SetState(f.state)
	for addr, symbol := range map[common.Address]string{f.feeToken: "LND", f.colToken: "COL", f.loanTok: "LOAN"} {
		if err := f.tokens.Register(addr, token.Metadata{Symbol: symbol, Name: symbol, Decimals: 18}); err != nil {
			t.Fatalf("register %s: %v", symbol, err)
		}
	}

	f.engine = NewEngine(Config{Protocol: f.protocol, ProtocolToken: f.feeToken})
	f.engine.SetState(f.state)
	f.engine.SetTokens(f.tokens)
	f.engine.SetEmitter(f.emitter)
	f.engine.SetNowFunc(func() int64 { return f.now })

	if err := f.engine.InitOwner(f.owner); err != nil {
		t.Fatalf("init owner: %v", err)
	}
	if err := f.engine.SetWranglerStatus(f.owner, f.wrangler.Address(), true); err != nil {
		t.Fatalf("wrangler status: %v", err)
	}
	for _, tok := range []common.Address{f.colToken, f.loanTok} {
		if err := f.engine.SetTokenSupport(f.owner, tok, true); err != nil {
			t.Fatalf("token support: %v", err)
		}
	}

	f.fund(f.loanTok, f.alice.Address(), 10_000)
	f.fund(f.feeToken, f.alice.Address(), 1_000)
	f.fund(f.colToken, f.bob.Address(), 2_000)
	f.fund(f.loanTok, f.bob.Address(), 100)
	f.approve(f.loanTok, f.alice.Address(), 10_000)
	f.approve(f.feeToken, f.alice.Address(), 1_000)
	f.approve(f.colToken, f.bob.Address(), 2_000)
	f.approve(f.loanTok, f.bob.Address(), 10_000)
	f.emitter.events = nil
	return f
}

func (f *fixture) fund(tok, to common.Address, amount uint64) {
	f.t.Helper()
	if err := f.tokens.Mint(tok, to, uint256.NewInt(amount)); err != nil {
		f.t.Fatalf("mint: %v", err)
	}
}

func (f *fixture) approve(tok, owner common.Address, amount uint64) {
	f.t.Helper()
	if err := f.tokens.Approve(tok, owner, f.protocol, uint256.NewInt(amount)); err != nil {
		f.t.Fatalf("approve: %v", err)
	}
}

func (f *fixture) balance(tok, account common.Address) uint64 {
	f.t.Helper()
	bal, err := f.tokens.BalanceOf(tok, account)
	if err != nil {
		f.t.Fatalf("balance: %v", err)
	}
	return bal.Uint64()
}

// lenderKernel returns Alice's one-day offer of 1000 loan tokens at one
// percent per day, expiring in an hour, filled by Bob with 500 collateral.
func (f *fixture) lenderKernel(fill uint64, nonce uint64) *FillRequest {
	return &FillRequest{
		Lender:            f.alice.Address(),
		Borrower:          f.bob.Address(),
		Wrangler:          f.wrangler.Address(),
		CollateralToken:   f.colToken,
		LoanToken:         f.loanTok,
		CollateralAmount:  uint256.NewInt(500),
		LoanAmountOffered: uint256.NewInt(1000),
		LoanAmountFilled:  uint256.NewInt(fill),
		Fees: Fees{
			Relayer:    new(uint256.Int),
			Monitoring: uint256.NewInt(5),
			Rollover:   new(uint256.Int),
			Closure:    new(uint256.Int),
		},
		Nonce:             nonce,
		DailyInterestRate: new(uint256.Int).Set(onePercentDaily),
		CreatorIsLender:   true,
		KernelExpiresAt:   uint64(f.now) + oneHour,
		ApprovalExpiresAt: uint64(f.now) + oneHour,
		PositionDuration:  SecondsPerDay,
		Salt:              common.HexToHash("0x5a17"),
	}
}

// sign attaches the creator's signature over the kernel and the wrangler's
// over the resulting position.
func (f *fixture) sign(req *FillRequest, creator *crypto.PrivateKey) {
	f.t.Helper()
	kernel := req.Kernel()
	sig, err := crypto.Sign(f.engine.KernelHash(&kernel), creator)
	if err != nil {
		f.t.Fatalf("sign kernel: %v", err)
	}
	req.CreatorSignature = sig
	terms, err := req.Terms()
	if err != nil {
		f.t.Fatalf("terms: %v", err)
	}
	wsig, err := crypto.SignPrefixed(f.engine.PositionHash(terms), f.wrangler)
	if err != nil {
		f.t.Fatalf("sign position: %v", err)
	}
	req.WranglerSignature = wsig
}

func (f *fixture) fill(req *FillRequest) *Position {
	f.t.Helper()
	pos, err := f.engine.FillKernel(req.Filler(), req)
	if err != nil {
		f.t.Fatalf("fill kernel: %v", err)
	}
	return pos
}

func (f *fixture) counts(addr common.Address) (uint64, uint64) {
	f.t.Helper()
	borrow, lend, err := f.engine.PositionCounts(addr)
	if err != nil {
		f.t.Fatalf("position counts: %v", err)
	}
	return borrow, lend
}
