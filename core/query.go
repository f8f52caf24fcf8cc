package core

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"p2plend/native/lending"
)

// Status summarises the committed ledger head.
type Status struct {
	Height        uint64
	StateRoot     common.Hash
	Protocol      common.Address
	ProtocolToken common.Address
	Subscribers   int
}

// Params reports the protocol parameters.
type Params struct {
	Owner             common.Address
	Protocol          common.Address
	ProtocolToken     common.Address
	PositionThreshold uint64
	LastPositionIndex uint64
}

// KernelStatus reports the volume consumed from a kernel.
type KernelStatus struct {
	Hash      common.Hash
	Filled    *uint256.Int
	Cancelled *uint256.Int
	Remaining *uint256.Int
}

// Queries read committed state. They take the node lock because the trie is
// not safe for concurrent use.

func (n *Node) Status() Status {
	n.mu.Lock()
	defer n.mu.Unlock()
	cfg := n.lending.Config()
	return Status{
		Height:        n.height,
		StateRoot:     n.trie.Root(),
		Protocol:      cfg.Protocol,
		ProtocolToken: cfg.ProtocolToken,
		Subscribers:   n.hub.Subscribers(),
	}
}

func (n *Node) Params() (*Params, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	owner, err := n.lending.Owner()
	if err != nil {
		return nil, err
	}
	threshold, err := n.lending.PositionThreshold()
	if err != nil {
		return nil, err
	}
	last, err := n.lending.LastPositionIndex()
	if err != nil {
		return nil, err
	}
	cfg := n.lending.Config()
	return &Params{
		Owner:             owner,
		Protocol:          cfg.Protocol,
		ProtocolToken:     cfg.ProtocolToken,
		PositionThreshold: threshold,
		LastPositionIndex: last,
	}, nil
}

func (n *Node) IsWrangler(addr common.Address) (bool, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.lending.IsWrangler(addr)
}

func (n *Node) IsSupportedToken(tok common.Address) (bool, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.lending.IsSupportedToken(tok)
}

func (n *Node) Position(hash common.Hash) (*lending.Position, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.lending.Position(hash)
}

// PositionAt returns the hash of the i-th position ever opened.
func (n *Node) PositionAt(i uint64) (common.Hash, bool, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.lending.PositionAt(i)
}

func (n *Node) PositionCounts(account common.Address) (borrow, lend uint64, err error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.lending.PositionCounts(account)
}

// AccountPositions lists the open positions of account on both sides.
func (n *Node) AccountPositions(account common.Address) (borrow, lend []common.Hash, err error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if borrow, err = n.lending.BorrowPositions(account); err != nil {
		return nil, nil, err
	}
	if lend, err = n.lending.LendPositions(account); err != nil {
		return nil, nil, err
	}
	return borrow, lend, nil
}

// CanOpen reports whether account is below the threshold on each side.
func (n *Node) CanOpen(account common.Address) (canBorrow, canLend bool, err error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if canBorrow, err = n.lending.CanBorrow(account); err != nil {
		return false, false, err
	}
	if canLend, err = n.lending.CanLend(account); err != nil {
		return false, false, err
	}
	return canBorrow, canLend, nil
}

func (n *Node) KernelHash(k *lending.Kernel) common.Hash {
	return lending.KernelHash(n.protocol(), k)
}

func (n *Node) PositionHash(p *lending.Position) common.Hash {
	return lending.PositionHash(n.protocol(), p)
}

func (n *Node) protocol() common.Address {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.lending.Config().Protocol
}

// KernelStatus reports filled, cancelled and remaining volume of k.
func (n *Node) KernelStatus(k *lending.Kernel) (*KernelStatus, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	hash := n.lending.KernelHash(k)
	filled, err := n.lending.Filled(hash)
	if err != nil {
		return nil, err
	}
	cancelled, err := n.lending.Cancelled(hash)
	if err != nil {
		return nil, err
	}
	remaining, err := n.lending.Remaining(hash, k.LoanAmountOffered)
	if err != nil {
		return nil, err
	}
	return &KernelStatus{Hash: hash, Filled: filled, Cancelled: cancelled, Remaining: remaining}, nil
}

func (n *Node) WranglerNonce(wrangler, creator common.Address) (uint64, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.lending.WranglerNonce(wrangler, creator)
}

func (n *Node) AccountNonce(addr common.Address) (uint64, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.state.AccountNonce(addr)
}

func (n *Node) Balance(tok, account common.Address) (*uint256.Int, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if _, err := n.tokens.Metadata(tok); err != nil {
		return nil, err
	}
	return n.tokens.BalanceOf(tok, account)
}

func (n *Node) Allowance(tok, owner, spender common.Address) (*uint256.Int, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if _, err := n.tokens.Metadata(tok); err != nil {
		return nil, err
	}
	return n.tokens.Allowance(tok, owner, spender)
}

// Tokens lists registered tokens with their metadata in registration order.
func (n *Node) Tokens() ([]TokenInfo, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	list, err := n.tokens.Tokens()
	if err != nil {
		return nil, err
	}
	out := make([]TokenInfo, 0, len(list))
	for _, addr := range list {
		meta, err := n.tokens.Metadata(addr)
		if err != nil {
			return nil, err
		}
		supported, err := n.lending.IsSupportedToken(addr)
		if err != nil {
			return nil, err
		}
		out = append(out, TokenInfo{Address: addr, Symbol: meta.Symbol, Name: meta.Name, Decimals: meta.Decimals, Supply: meta.Supply, Supported: supported})
	}
	return out, nil
}

// TokenInfo describes a registered token.
type TokenInfo struct {
	Address   common.Address
	Symbol    string
	Name      string
	Decimals  uint8
	Supply    *uint256.Int
	Supported bool
}
