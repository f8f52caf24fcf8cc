package core

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"p2plend/core/events"
	"p2plend/core/genesis"
	nodestate "p2plend/core/state"
	"p2plend/core/types"
	"p2plend/native/lending"
	"p2plend/native/token"
	"p2plend/observability"
	"p2plend/storage"
	"p2plend/storage/trie"
)

var (
	ErrNoGenesis        = errors.New("node: empty database and no genesis provided")
	ErrGenesisMismatch  = errors.New("node: genesis does not match the stored ledger")
	ErrUnknownTxType    = errors.New("node: unknown transaction type")
	ErrBadNonce         = errors.New("node: transaction nonce mismatch")
	ErrReceiptNotFound  = errors.New("node: receipt not found")
	ErrInsufficientFund = fmt.Errorf("%w: insufficient token balance", lending.ErrPrecondition)
)

var (
	headRootKey   = []byte("p2plend/head/root")
	headHeightKey = []byte("p2plend/head/height")
	receiptPrefix = []byte("p2plend/receipt/")

	// ledgerConfigKey lives in state so a restarted node binds hashes to the
	// same protocol address as genesis did.
	ledgerConfigKey = []byte("node/config")
)

const tracerName = "p2plend/core"

// EventSink receives the events of every committed operation.
type EventSink interface {
	Append(height uint64, evts []types.Event) error
}

// Sinks fans committed events out to several sinks. Every sink receives the
// batch even when an earlier one fails.
type Sinks []EventSink

func (s Sinks) Append(height uint64, evts []types.Event) error {
	var errs []error
	for _, sink := range s {
		if err := sink.Append(height, evts); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

type ledgerConfig struct {
	Protocol      common.Address
	ProtocolToken common.Address
}

// Node is the shared deterministic ledger. It executes one operation at a
// time against the state trie and either commits all of its effects or none.
type Node struct {
	mu sync.Mutex

	db      storage.Database
	trie    *trie.Trie
	state   *nodestate.Manager
	tokens  *token.Ledger
	lending *lending.Engine
	pending *events.Buffer
	hub     *events.Hub
	sink    EventSink
	logger  *slog.Logger
	metrics *observability.LedgerMetrics
	tracer  trace.Tracer
	height  uint64
}

// NewNode opens the ledger stored in db. An empty database is initialised from
// gen; a populated one must have been created from the same protocol address
// when gen is given.
func NewNode(db storage.Database, gen *genesis.Genesis) (*Node, error) {
	root, height, found, err := loadHead(db)
	if err != nil {
		return nil, err
	}
	stateTrie, err := trie.NewTrie(db, root)
	if err != nil {
		return nil, err
	}
	n := &Node{
		db:      db,
		trie:    stateTrie,
		state:   nodestate.NewManager(stateTrie),
		tokens:  token.NewLedger(),
		pending: &events.Buffer{},
		hub:     events.NewHub(),
		logger:  slog.Default(),
		metrics: observability.Ledger(),
		tracer:  otel.Tracer(tracerName),
		height:  height,
	}
	n.tokens.SetState(n.state)
	n.tokens.SetEmitter(n.pending)

	if !found {
		if gen == nil {
			return nil, ErrNoGenesis
		}
		if err := n.initGenesis(gen); err != nil {
			return nil, fmt.Errorf("apply genesis: %w", err)
		}
		return n, nil
	}

	var cfg ledgerConfig
	ok, err := n.state.KVGet(ledgerConfigKey, &cfg)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("node: ledger config missing at root %x", root)
	}
	if gen != nil && (gen.Protocol != cfg.Protocol || gen.ProtocolToken != cfg.ProtocolToken) {
		return nil, ErrGenesisMismatch
	}
	n.configureEngine(cfg)
	n.metrics.SetHeight(n.height)
	if open, err := n.countOpenPositions(); err == nil {
		n.metrics.SetOpenPositions(open)
	}
	return n, nil
}

func (n *Node) configureEngine(cfg ledgerConfig) {
	engine := lending.NewEngine(lending.Config{Protocol: cfg.Protocol, ProtocolToken: cfg.ProtocolToken})
	engine.SetState(n.state)
	engine.SetTokens(n.tokens)
	engine.SetEmitter(n.pending)
	n.lending = engine
}

func (n *Node) initGenesis(gen *genesis.Genesis) error {
	cfg := ledgerConfig{Protocol: gen.Protocol, ProtocolToken: gen.ProtocolToken}
	n.configureEngine(cfg)
	n.mu.Lock()
	defer n.mu.Unlock()
	_, err := n.apply("genesis", func() error {
		if err := n.state.KVPut(ledgerConfigKey, &cfg); err != nil {
			return err
		}
		return genesis.Apply(gen, n.tokens, n.lending)
	})
	return err
}

func loadHead(db storage.Database) ([]byte, uint64, bool, error) {
	root, err := db.Get(headRootKey)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, 0, false, nil
	}
	if err != nil {
		return nil, 0, false, err
	}
	raw, err := db.Get(headHeightKey)
	if err != nil {
		return nil, 0, false, fmt.Errorf("node: head height: %w", err)
	}
	if len(raw) != 8 {
		return nil, 0, false, fmt.Errorf("node: corrupt head height")
	}
	return root, binary.BigEndian.Uint64(raw), true, nil
}

func (n *Node) persistHead(root common.Hash, height uint64) error {
	if err := n.db.Put(headRootKey, root.Bytes()); err != nil {
		return err
	}
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], height)
	return n.db.Put(headHeightKey, buf[:])
}

// SetLogger replaces the node logger.
func (n *Node) SetLogger(logger *slog.Logger) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if logger == nil {
		logger = slog.Default()
	}
	n.logger = logger
}

// SetTracerProvider records operation spans with tp instead of the global
// provider.
func (n *Node) SetTracerProvider(tp trace.TracerProvider) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.tracer = tp.Tracer(tracerName)
}

// SetEventSink configures where committed events are journaled.
func (n *Node) SetEventSink(sink EventSink) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sink = sink
}

// SetNowFunc overrides the ledger clock. Primarily intended for tests.
func (n *Node) SetNowFunc(now func() int64) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.lending.SetNowFunc(now)
}

// Events returns the hub publishing committed events.
func (n *Node) Events() *events.Hub { return n.hub }

// commitResult describes a committed operation.
type commitResult struct {
	height uint64
	root   common.Hash
	events []types.Event
}

// apply runs fn as one atomic operation inside a "ledger.apply" span. Any
// error resets the trie to the last committed root and drops buffered events;
// success commits the trie, persists the head and then publishes the events.
// Callers hold n.mu.
func (n *Node) apply(op string, fn func() error) (*commitResult, error) {
	_, span := n.tracer.Start(context.Background(), "ledger.apply",
		trace.WithAttributes(attribute.String("ledger.op", op)))
	defer span.End()

	res, err := n.applyOp(op, fn)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, errorKind(err))
		return nil, err
	}
	span.SetAttributes(
		attribute.Int64("ledger.height", int64(res.height)),
		attribute.Int("ledger.events", len(res.events)),
	)
	return res, nil
}

func (n *Node) applyOp(op string, fn func() error) (*commitResult, error) {
	start := time.Now()
	n.pending.Discard()

	if err := fn(); err != nil {
		n.discard(op, err)
		n.metrics.ObserveOperation(op, errorKind(err), time.Since(start))
		return nil, err
	}
	next := n.height + 1
	if op == "genesis" {
		next = 0
	}
	parent := n.trie.Root()
	root, err := n.trie.Commit(next)
	if err != nil {
		n.discard(op, err)
		n.metrics.ObserveOperation(op, lending.KindInternal, time.Since(start))
		return nil, fmt.Errorf("node: commit: %w", err)
	}
	if err := n.persistHead(root, next); err != nil {
		n.revertCommit(op, parent, err)
		n.metrics.ObserveOperation(op, lending.KindInternal, time.Since(start))
		return nil, fmt.Errorf("node: persist head: %w", err)
	}
	n.height = next
	evts := n.pending.Drain()
	n.publish(next, evts)

	n.metrics.ObserveOperation(op, "", time.Since(start))
	n.metrics.SetHeight(next)
	n.logger.Info("operation committed",
		slog.String("op", op),
		slog.Uint64("height", next),
		slog.String("root", root.Hex()),
		slog.Int("events", len(evts)))
	return &commitResult{height: next, root: root, events: evts}, nil
}

func (n *Node) discard(op string, cause error) {
	n.pending.Discard()
	if err := n.trie.Rollback(); err != nil {
		n.logger.Error("rollback failed", slog.String("op", op), slog.Any("error", err))
	}
	n.logger.Warn("operation rejected",
		slog.String("op", op),
		slog.String("kind", errorKind(cause)),
		slog.Any("error", cause))
}

// revertCommit moves the trie back to parent after the head write failed.
// The committed nodes stay on disk unreferenced. Outside genesis the head is
// rewritten to parent in case only part of it landed.
func (n *Node) revertCommit(op string, parent common.Hash, cause error) {
	n.pending.Discard()
	if err := n.trie.Reset(parent); err != nil {
		n.logger.Error("reset to parent root failed", slog.String("op", op), slog.Any("error", err))
	}
	if op != "genesis" {
		if err := n.persistHead(parent, n.height); err != nil {
			n.logger.Error("restore head failed", slog.String("op", op), slog.Any("error", err))
		}
	}
	n.logger.Error("operation reverted",
		slog.String("op", op),
		slog.String("root", parent.Hex()),
		slog.Any("error", cause))
}

func (n *Node) publish(height uint64, evts []types.Event) {
	if len(evts) == 0 {
		return
	}
	if n.sink != nil {
		if err := n.sink.Append(height, evts); err != nil {
			n.logger.Error("event journal append failed", slog.Uint64("height", height), slog.Any("error", err))
		}
	}
	em := observability.Events()
	for _, evt := range evts {
		em.RecordPublished(evt.Type)
	}
	em.RecordDropped(n.hub.Publish(evts...))
}

// errorKind classifies failures for receipts, logs and metrics. Lending
// kinds win so a token fault surfacing through a transfer stays a
// collaborator failure.
func errorKind(err error) string {
	if err == nil {
		return ""
	}
	if kind := lending.KindOf(err); kind != lending.KindInternal {
		return kind
	}
	switch {
	case errors.Is(err, token.ErrUnknownToken),
		errors.Is(err, token.ErrZeroAddress),
		errors.Is(err, token.ErrMissingAmount),
		errors.Is(err, token.ErrInvalidMetadata),
		errors.Is(err, ErrUnknownTxType),
		errors.Is(err, types.ErrMalformedPayload):
		return lending.KindInvalidInput
	case errors.Is(err, types.ErrMissingSignature),
		errors.Is(err, types.ErrInvalidSignature):
		return lending.KindAuthorization
	case errors.Is(err, token.ErrSupplyOverflow):
		return lending.KindCapacity
	case errors.Is(err, ErrBadNonce):
		return lending.KindPrecondition
	default:
		return lending.KindInternal
	}
}

// ErrorKind exposes the failure classification used in receipts.
func ErrorKind(err error) string { return errorKind(err) }

// SubmitTransaction authenticates tx and applies it. Envelope problems (bad
// signature, unknown type, wrong nonce, malformed payload) are returned as
// errors and leave no trace. Protocol failures produce an unsuccessful
// receipt; like successes they are recorded, but they change no state and do
// not consume the nonce.
func (n *Node) SubmitTransaction(tx *types.Transaction) (*types.Receipt, error) {
	if tx == nil {
		return nil, fmt.Errorf("%w: nil transaction", lending.ErrInvalidInput)
	}
	if !tx.Type.Valid() {
		return nil, fmt.Errorf("%w: %#x", ErrUnknownTxType, byte(tx.Type))
	}
	from, err := tx.From()
	if err != nil {
		return nil, err
	}
	hash, err := tx.Hash()
	if err != nil {
		return nil, err
	}
	op, err := n.decode(from, tx)
	if err != nil {
		return nil, err
	}

	n.mu.Lock()
	defer n.mu.Unlock()

	current, err := n.state.AccountNonce(from)
	if err != nil {
		return nil, err
	}
	if tx.Nonce != current+1 {
		return nil, fmt.Errorf("%w: expected %d, got %d", ErrBadNonce, current+1, tx.Nonce)
	}

	receipt := &types.Receipt{TxHash: hash, Type: tx.Type.String(), From: from}
	res, err := n.apply(tx.Type.String(), func() error {
		if err := op.run(); err != nil {
			return err
		}
		return n.state.SetAccountNonce(from, tx.Nonce)
	})
	if err != nil {
		receipt.Height = n.height
		receipt.StateRoot = n.trie.Root()
		receipt.ErrorKind = errorKind(err)
		receipt.Error = err.Error()
	} else {
		receipt.Success = true
		receipt.Height = res.height
		receipt.StateRoot = res.root
		receipt.Events = res.events
		receipt.Position = op.position
		n.trackPositions(tx.Type)
	}
	if err := n.storeReceipt(receipt); err != nil {
		n.logger.Error("store receipt failed", slog.String("tx", hash.Hex()), slog.Any("error", err))
	}
	return receipt, nil
}

func (n *Node) trackPositions(txType types.TxType) {
	switch txType {
	case types.TxTypeFillKernel:
		n.metrics.PositionOpened()
	case types.TxTypeLiquidatePosition, types.TxTypeClosePosition:
		n.metrics.PositionTerminated()
	}
}

func (n *Node) storeReceipt(r *types.Receipt) error {
	raw, err := json.Marshal(r)
	if err != nil {
		return err
	}
	return n.db.Put(append(append([]byte{}, receiptPrefix...), r.TxHash.Bytes()...), raw)
}

// Receipt returns the stored receipt for a submitted transaction.
func (n *Node) Receipt(hash common.Hash) (*types.Receipt, error) {
	raw, err := n.db.Get(append(append([]byte{}, receiptPrefix...), hash.Bytes()...))
	if errors.Is(err, storage.ErrNotFound) {
		return nil, ErrReceiptNotFound
	}
	if err != nil {
		return nil, err
	}
	var r types.Receipt
	if err := json.Unmarshal(raw, &r); err != nil {
		return nil, err
	}
	return &r, nil
}

// operation is a decoded transaction ready to run inside apply.
type operation struct {
	run      func() error
	position *common.Hash
}

func (n *Node) decode(from common.Address, tx *types.Transaction) (*operation, error) {
	op := &operation{}
	switch tx.Type {
	case types.TxTypeFillKernel:
		var p FillKernelPayload
		if err := tx.DecodePayload(&p); err != nil {
			return nil, err
		}
		req, err := p.Request()
		if err != nil {
			return nil, err
		}
		op.run = func() error {
			pos, err := n.lending.FillKernel(from, req)
			if err != nil {
				return err
			}
			hash := pos.Hash
			op.position = &hash
			return nil
		}
	case types.TxTypeCancelKernel:
		var p CancelKernelPayload
		if err := tx.DecodePayload(&p); err != nil {
			return nil, err
		}
		req, err := p.Request()
		if err != nil {
			return nil, err
		}
		op.run = func() error { return n.lending.CancelKernel(from, req) }
	case types.TxTypeTopupPosition:
		var p TopupPayload
		if err := tx.DecodePayload(&p); err != nil {
			return nil, err
		}
		hash, err := ParseHashField("position", p.Position)
		if err != nil {
			return nil, err
		}
		amount, err := parseAmount("amount", p.Amount)
		if err != nil {
			return nil, err
		}
		op.run = func() error { return n.lending.Topup(from, hash, amount) }
	case types.TxTypeLiquidatePosition, types.TxTypeClosePosition:
		var p PositionPayload
		if err := tx.DecodePayload(&p); err != nil {
			return nil, err
		}
		hash, err := ParseHashField("position", p.Position)
		if err != nil {
			return nil, err
		}
		if tx.Type == types.TxTypeLiquidatePosition {
			op.run = func() error { return n.lending.Liquidate(from, hash) }
		} else {
			op.run = func() error { return n.lending.Close(from, hash) }
		}
	case types.TxTypeTokenApprove:
		var p TokenApprovePayload
		if err := tx.DecodePayload(&p); err != nil {
			return nil, err
		}
		tok, spender, amount, err := decodeTokenMove(p.Token, "spender", p.Spender, p.Amount)
		if err != nil {
			return nil, err
		}
		op.run = func() error { return n.tokens.Approve(tok, from, spender, amount) }
	case types.TxTypeTokenTransfer:
		var p TokenTransferPayload
		if err := tx.DecodePayload(&p); err != nil {
			return nil, err
		}
		tok, to, amount, err := decodeTokenMove(p.Token, "to", p.To, p.Amount)
		if err != nil {
			return nil, err
		}
		op.run = func() error {
			ok, err := n.tokens.Transfer(tok, from, to, amount)
			if err != nil {
				return err
			}
			if !ok {
				return ErrInsufficientFund
			}
			return nil
		}
	case types.TxTypeSetWranglerStatus:
		var p SetWranglerStatusPayload
		if err := tx.DecodePayload(&p); err != nil {
			return nil, err
		}
		wrangler, err := ParseAddressField("wrangler", p.Wrangler)
		if err != nil {
			return nil, err
		}
		op.run = func() error { return n.lending.SetWranglerStatus(from, wrangler, p.Active) }
	case types.TxTypeSetTokenSupport:
		var p SetTokenSupportPayload
		if err := tx.DecodePayload(&p); err != nil {
			return nil, err
		}
		tok, err := ParseAddressField("token", p.Token)
		if err != nil {
			return nil, err
		}
		op.run = func() error { return n.lending.SetTokenSupport(from, tok, p.Supported) }
	case types.TxTypeSetPositionThreshold:
		var p SetPositionThresholdPayload
		if err := tx.DecodePayload(&p); err != nil {
			return nil, err
		}
		op.run = func() error { return n.lending.SetPositionThreshold(from, p.Threshold) }
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownTxType, tx.Type)
	}
	return op, nil
}

func decodeTokenMove(tokenValue, counterpartyField, counterparty, amountValue string) (common.Address, common.Address, *uint256.Int, error) {
	tok, err := ParseAddressField("token", tokenValue)
	if err != nil {
		return common.Address{}, common.Address{}, nil, err
	}
	other, err := ParseAddressField(counterpartyField, counterparty)
	if err != nil {
		return common.Address{}, common.Address{}, nil, err
	}
	amount, err := parseAmount("amount", amountValue)
	if err != nil {
		return common.Address{}, common.Address{}, nil, err
	}
	return tok, other, amount, nil
}

func (n *Node) countOpenPositions() (uint64, error) {
	last, err := n.lending.LastPositionIndex()
	if err != nil {
		return 0, err
	}
	var open uint64
	for i := uint64(0); i < last; i++ {
		hash, ok, err := n.lending.PositionAt(i)
		if err != nil {
			return 0, err
		}
		if !ok {
			continue
		}
		pos, err := n.lending.Position(hash)
		if err != nil {
			return 0, err
		}
		if pos.Status == lending.PositionStatusOpen {
			open++
		}
	}
	return open, nil
}
