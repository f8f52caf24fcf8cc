package genesis

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"gopkg.in/yaml.v3"

	"p2plend/crypto"
	"p2plend/native/token"
)

// Spec is the operator-facing genesis description. Addresses accept hex or
// bech32 form and amounts are decimal strings.
type Spec struct {
	Protocol          string      `toml:"protocol" yaml:"protocol" json:"protocol"`
	Owner             string      `toml:"owner" yaml:"owner" json:"owner"`
	ProtocolToken     string      `toml:"protocol_token" yaml:"protocol_token" json:"protocolToken"`
	PositionThreshold uint64      `toml:"position_threshold" yaml:"position_threshold" json:"positionThreshold,omitempty"`
	Wranglers         []string    `toml:"wranglers" yaml:"wranglers" json:"wranglers,omitempty"`
	Tokens            []TokenSpec `toml:"tokens" yaml:"tokens" json:"tokens"`
}

// TokenSpec registers a token at genesis. Alloc maps account to amount.
type TokenSpec struct {
	Address   string            `toml:"address" yaml:"address" json:"address"`
	Symbol    string            `toml:"symbol" yaml:"symbol" json:"symbol"`
	Name      string            `toml:"name" yaml:"name" json:"name"`
	Decimals  uint8             `toml:"decimals" yaml:"decimals" json:"decimals"`
	Supported bool              `toml:"supported" yaml:"supported" json:"supported"`
	Alloc     map[string]string `toml:"alloc" yaml:"alloc" json:"alloc,omitempty"`
}

// Genesis is a validated Spec with every value decoded.
type Genesis struct {
	Protocol          common.Address
	Owner             common.Address
	ProtocolToken     common.Address
	PositionThreshold uint64
	Wranglers         []common.Address
	Tokens            []Token
}

// Token is a decoded TokenSpec. Allocations are sorted by account.
type Token struct {
	Address   common.Address
	Symbol    string
	Name      string
	Decimals  uint8
	Supported bool
	Alloc     []Allocation
}

type Allocation struct {
	Account common.Address
	Amount  *uint256.Int
}

// LoadSpec reads a genesis file. Files ending in .yaml or .yml are decoded
// as YAML using the TOML key names; anything else is JSON.
func LoadSpec(path string) (*Spec, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("genesis spec path must be provided")
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read genesis spec %q: %w", path, err)
	}
	var spec Spec
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		dec := yaml.NewDecoder(bytes.NewReader(raw))
		dec.KnownFields(true)
		err = dec.Decode(&spec)
	default:
		dec := json.NewDecoder(bytes.NewReader(raw))
		dec.DisallowUnknownFields()
		err = dec.Decode(&spec)
	}
	if err != nil {
		return nil, fmt.Errorf("decode genesis spec %q: %w", path, err)
	}
	if _, err := spec.Resolve(); err != nil {
		return nil, fmt.Errorf("invalid genesis spec %q: %w", path, err)
	}
	return &spec, nil
}

// Resolve validates the spec and decodes it.
func (s *Spec) Resolve() (*Genesis, error) {
	g := &Genesis{PositionThreshold: s.PositionThreshold}
	var err error
	if g.Protocol, err = parseRequired("protocol", s.Protocol); err != nil {
		return nil, err
	}
	if g.Owner, err = parseRequired("owner", s.Owner); err != nil {
		return nil, err
	}
	if g.ProtocolToken, err = parseRequired("protocol_token", s.ProtocolToken); err != nil {
		return nil, err
	}

	seenWranglers := make(map[common.Address]struct{}, len(s.Wranglers))
	for i, raw := range s.Wranglers {
		addr, err := parseRequired(fmt.Sprintf("wranglers[%d]", i), raw)
		if err != nil {
			return nil, err
		}
		if _, dup := seenWranglers[addr]; dup {
			return nil, fmt.Errorf("wranglers[%d]: duplicate address %s", i, addr.Hex())
		}
		seenWranglers[addr] = struct{}{}
		g.Wranglers = append(g.Wranglers, addr)
	}

	seenTokens := make(map[common.Address]struct{}, len(s.Tokens))
	seenSymbols := make(map[string]struct{}, len(s.Tokens))
	for i := range s.Tokens {
		tok, err := s.Tokens[i].resolve()
		if err != nil {
			return nil, fmt.Errorf("tokens[%d]: %w", i, err)
		}
		if tok.Address == g.Protocol {
			return nil, fmt.Errorf("tokens[%d]: token address collides with protocol", i)
		}
		if _, dup := seenTokens[tok.Address]; dup {
			return nil, fmt.Errorf("tokens[%d]: duplicate address %s", i, tok.Address.Hex())
		}
		if _, dup := seenSymbols[tok.Symbol]; dup {
			return nil, fmt.Errorf("tokens[%d]: duplicate symbol %q", i, tok.Symbol)
		}
		seenTokens[tok.Address] = struct{}{}
		seenSymbols[tok.Symbol] = struct{}{}
		g.Tokens = append(g.Tokens, *tok)
	}
	if _, ok := seenTokens[g.ProtocolToken]; !ok {
		return nil, fmt.Errorf("protocol_token %s is not among the genesis tokens", g.ProtocolToken.Hex())
	}
	return g, nil
}

func (t *TokenSpec) resolve() (*Token, error) {
	addr, err := parseRequired("address", t.Address)
	if err != nil {
		return nil, err
	}
	symbol, err := token.NormalizeSymbol(t.Symbol)
	if err != nil {
		return nil, err
	}
	tok := &Token{
		Address:   addr,
		Symbol:    symbol,
		Name:      strings.TrimSpace(t.Name),
		Decimals:  t.Decimals,
		Supported: t.Supported,
	}
	if tok.Name == "" {
		return nil, fmt.Errorf("name must be provided")
	}

	accounts := make([]string, 0, len(t.Alloc))
	for account := range t.Alloc {
		accounts = append(accounts, account)
	}
	sort.Strings(accounts)
	total := new(uint256.Int)
	seen := make(map[common.Address]struct{}, len(accounts))
	for _, account := range accounts {
		holder, err := parseRequired(fmt.Sprintf("alloc[%q]", account), account)
		if err != nil {
			return nil, err
		}
		if _, dup := seen[holder]; dup {
			return nil, fmt.Errorf("alloc[%q]: duplicate account", account)
		}
		seen[holder] = struct{}{}
		amount, err := ParseAmount(t.Alloc[account])
		if err != nil {
			return nil, fmt.Errorf("alloc[%q]: %w", account, err)
		}
		if _, overflow := total.AddOverflow(total, amount); overflow {
			return nil, fmt.Errorf("alloc[%q]: total supply overflows", account)
		}
		tok.Alloc = append(tok.Alloc, Allocation{Account: holder, Amount: amount})
	}
	return tok, nil
}

// ParseAmount decodes a non-negative base-10 integer that fits in 256 bits.
func ParseAmount(value string) (*uint256.Int, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return nil, fmt.Errorf("amount must be provided")
	}
	amount, err := uint256.FromDecimal(trimmed)
	if err != nil {
		return nil, fmt.Errorf("invalid amount %q: %w", value, err)
	}
	return amount, nil
}

func parseRequired(field, value string) (common.Address, error) {
	addr, err := crypto.ParseAddress(value)
	if err != nil {
		return common.Address{}, fmt.Errorf("%s: %w", field, err)
	}
	if addr == (common.Address{}) {
		return common.Address{}, fmt.Errorf("%s: zero address", field)
	}
	return addr, nil
}
