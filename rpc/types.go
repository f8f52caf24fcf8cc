package rpc

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"p2plend/core"
	"p2plend/native/lending"
)

// Amounts are rendered as base-10 strings so JSON clients never lose
// precision.

// PositionResult is the RPC view of a stored position.
type PositionResult struct {
	Hash              string `json:"hash"`
	Index             uint64 `json:"index"`
	Status            string `json:"status"`
	KernelCreator     string `json:"kernelCreator"`
	Lender            string `json:"lender"`
	Borrower          string `json:"borrower"`
	Relayer           string `json:"relayer"`
	Wrangler          string `json:"wrangler"`
	CreatedAt         uint64 `json:"createdAt"`
	UpdatedAt         uint64 `json:"updatedAt"`
	ExpiresAt         uint64 `json:"expiresAt"`
	CollateralToken   string `json:"collateralToken"`
	LoanToken         string `json:"loanToken"`
	CollateralAmount  string `json:"collateralAmount"`
	CollateralCurrent string `json:"collateralCurrent"`
	LoanAmountFilled  string `json:"loanAmountFilled"`
	LoanAmountOwed    string `json:"loanAmountOwed"`
	Nonce             uint64 `json:"nonce"`
	RelayerFee        string `json:"relayerFee"`
	MonitoringFee     string `json:"monitoringFee"`
	RolloverFee       string `json:"rolloverFee"`
	ClosureFee        string `json:"closureFee"`
}

func positionResult(p *lending.Position) PositionResult {
	return PositionResult{
		Hash:              p.Hash.Hex(),
		Index:             p.Index,
		Status:            p.Status.String(),
		KernelCreator:     p.KernelCreator.Hex(),
		Lender:            p.Lender.Hex(),
		Borrower:          p.Borrower.Hex(),
		Relayer:           p.Relayer.Hex(),
		Wrangler:          p.Wrangler.Hex(),
		CreatedAt:         p.CreatedAt,
		UpdatedAt:         p.UpdatedAt,
		ExpiresAt:         p.ExpiresAt,
		CollateralToken:   p.CollateralToken.Hex(),
		LoanToken:         p.LoanToken.Hex(),
		CollateralAmount:  formatAmount(p.CollateralAmount),
		CollateralCurrent: formatAmount(p.CollateralCurrent),
		LoanAmountFilled:  formatAmount(p.LoanAmountFilled),
		LoanAmountOwed:    formatAmount(p.LoanAmountOwed),
		Nonce:             p.Nonce,
		RelayerFee:        formatAmount(p.Fees.Relayer),
		MonitoringFee:     formatAmount(p.Fees.Monitoring),
		RolloverFee:       formatAmount(p.Fees.Rollover),
		ClosureFee:        formatAmount(p.Fees.Closure),
	}
}

type KernelStatusResult struct {
	Hash      string `json:"hash"`
	Filled    string `json:"filled"`
	Cancelled string `json:"cancelled"`
	Remaining string `json:"remaining"`
}

type PositionCountsResult struct {
	Borrow uint64 `json:"borrow"`
	Lend   uint64 `json:"lend"`
}

type PositionListResult struct {
	Borrow []string `json:"borrow"`
	Lend   []string `json:"lend"`
}

type CanOpenResult struct {
	CanBorrow bool `json:"canBorrow"`
	CanLend   bool `json:"canLend"`
}

type HashResult struct {
	Hash string `json:"hash"`
}

type NonceResult struct {
	Nonce uint64 `json:"nonce"`
}

type AmountResult struct {
	Amount string `json:"amount"`
}

type ParamsResult struct {
	Owner             string `json:"owner"`
	Protocol          string `json:"protocol"`
	ProtocolToken     string `json:"protocolToken"`
	PositionThreshold uint64 `json:"positionThreshold"`
	LastPositionIndex uint64 `json:"lastPositionIndex"`
}

type StatusResult struct {
	Height        uint64 `json:"height"`
	StateRoot     string `json:"stateRoot"`
	Protocol      string `json:"protocol"`
	ProtocolToken string `json:"protocolToken"`
	Subscribers   int    `json:"subscribers"`
}

type TokenResult struct {
	Address   string `json:"address"`
	Symbol    string `json:"symbol"`
	Name      string `json:"name"`
	Decimals  uint8  `json:"decimals"`
	Supply    string `json:"supply"`
	Supported bool   `json:"supported"`
}

func tokenResult(info core.TokenInfo) TokenResult {
	return TokenResult{
		Address:   info.Address.Hex(),
		Symbol:    info.Symbol,
		Name:      info.Name,
		Decimals:  info.Decimals,
		Supply:    formatAmount(info.Supply),
		Supported: info.Supported,
	}
}

func formatAmount(v *uint256.Int) string {
	if v == nil {
		return "0"
	}
	return v.Dec()
}

func hashStrings(hashes []common.Hash) []string {
	out := make([]string, len(hashes))
	for i, h := range hashes {
		out[i] = h.Hex()
	}
	return out
}
