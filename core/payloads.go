package core

import (
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/holiman/uint256"

	"p2plend/crypto"
	"p2plend/native/lending"
)

// Transaction payloads carry addresses as hex or bech32 strings and amounts
// as base-10 strings so JSON clients never lose precision.

// KernelFields describes a kernel as its creator signed it.
type KernelFields struct {
	Lender            string `json:"lender,omitempty"`
	Borrower          string `json:"borrower,omitempty"`
	Relayer           string `json:"relayer,omitempty"`
	Wrangler          string `json:"wrangler"`
	CollateralToken   string `json:"collateralToken"`
	LoanToken         string `json:"loanToken"`
	LoanAmountOffered string `json:"loanAmountOffered"`
	RelayerFee        string `json:"relayerFee,omitempty"`
	MonitoringFee     string `json:"monitoringFee,omitempty"`
	RolloverFee       string `json:"rolloverFee,omitempty"`
	ClosureFee        string `json:"closureFee,omitempty"`
	Salt              string `json:"salt"` // exactly 32 bytes of hex; empty is the zero salt
	ExpiresAt         uint64 `json:"expiresAt"`
	DailyInterestRate string `json:"dailyInterestRate"`
	PositionDuration  uint64 `json:"positionDuration"`
}

// Kernel decodes the fields.
func (k KernelFields) Kernel() (*lending.Kernel, error) {
	var (
		out lending.Kernel
		err error
	)
	if out.Lender, err = parseOptionalAddress("lender", k.Lender); err != nil {
		return nil, err
	}
	if out.Borrower, err = parseOptionalAddress("borrower", k.Borrower); err != nil {
		return nil, err
	}
	if out.Relayer, err = parseOptionalAddress("relayer", k.Relayer); err != nil {
		return nil, err
	}
	if out.Wrangler, err = parseOptionalAddress("wrangler", k.Wrangler); err != nil {
		return nil, err
	}
	if out.CollateralToken, err = parseOptionalAddress("collateralToken", k.CollateralToken); err != nil {
		return nil, err
	}
	if out.LoanToken, err = parseOptionalAddress("loanToken", k.LoanToken); err != nil {
		return nil, err
	}
	if out.LoanAmountOffered, err = parseAmount("loanAmountOffered", k.LoanAmountOffered); err != nil {
		return nil, err
	}
	if out.Fees, err = parseFees(k.RelayerFee, k.MonitoringFee, k.RolloverFee, k.ClosureFee); err != nil {
		return nil, err
	}
	if out.Salt, err = parseHash("salt", k.Salt); err != nil {
		return nil, err
	}
	if out.DailyInterestRate, err = parseAmount("dailyInterestRate", k.DailyInterestRate); err != nil {
		return nil, err
	}
	out.ExpiresAt = k.ExpiresAt
	out.PositionDuration = k.PositionDuration
	return &out, nil
}

// FillKernelPayload fills a kernel. Both Lender and Borrower are set; the
// slot of the party that did not create the kernel names the filler.
type FillKernelPayload struct {
	KernelFields
	CollateralAmount  string        `json:"collateralAmount"`
	LoanAmountFilled  string        `json:"loanAmountFilled"`
	Nonce             uint64        `json:"nonce"`
	CreatorIsLender   bool          `json:"creatorIsLender"`
	ApprovalExpiresAt uint64        `json:"approvalExpiresAt"`
	CreatorSignature  hexutil.Bytes `json:"creatorSignature"`
	WranglerSignature hexutil.Bytes `json:"wranglerSignature"`
}

// Request decodes the payload into an engine fill request.
func (p FillKernelPayload) Request() (*lending.FillRequest, error) {
	kernel, err := p.KernelFields.Kernel()
	if err != nil {
		return nil, err
	}
	req := &lending.FillRequest{
		Lender:            kernel.Lender,
		Borrower:          kernel.Borrower,
		Relayer:           kernel.Relayer,
		Wrangler:          kernel.Wrangler,
		CollateralToken:   kernel.CollateralToken,
		LoanToken:         kernel.LoanToken,
		LoanAmountOffered: kernel.LoanAmountOffered,
		Fees:              kernel.Fees,
		Nonce:             p.Nonce,
		DailyInterestRate: kernel.DailyInterestRate,
		CreatorIsLender:   p.CreatorIsLender,
		KernelExpiresAt:   kernel.ExpiresAt,
		ApprovalExpiresAt: p.ApprovalExpiresAt,
		PositionDuration:  kernel.PositionDuration,
		Salt:              kernel.Salt,
		CreatorSignature:  p.CreatorSignature,
		WranglerSignature: p.WranglerSignature,
	}
	if req.CollateralAmount, err = parseAmount("collateralAmount", p.CollateralAmount); err != nil {
		return nil, err
	}
	if req.LoanAmountFilled, err = parseAmount("loanAmountFilled", p.LoanAmountFilled); err != nil {
		return nil, err
	}
	return req, nil
}

// CancelKernelPayload withdraws unfilled kernel volume.
type CancelKernelPayload struct {
	KernelFields
	CancelAmount string        `json:"cancelAmount"`
	Signature    hexutil.Bytes `json:"signature"`
}

// Request decodes the payload into an engine cancel request.
func (p CancelKernelPayload) Request() (*lending.CancelRequest, error) {
	kernel, err := p.KernelFields.Kernel()
	if err != nil {
		return nil, err
	}
	amount, err := parseAmount("cancelAmount", p.CancelAmount)
	if err != nil {
		return nil, err
	}
	return &lending.CancelRequest{Kernel: *kernel, CancelAmount: amount, Signature: p.Signature}, nil
}

// PositionFields describes the creation terms of a position, the inputs of
// its hash.
type PositionFields struct {
	CollateralToken  string `json:"collateralToken"`
	LoanToken        string `json:"loanToken"`
	CollateralAmount string `json:"collateralAmount"`
	LoanAmountFilled string `json:"loanAmountFilled"`
	LoanAmountOwed   string `json:"loanAmountOwed"`
	KernelCreator    string `json:"kernelCreator"`
	Lender           string `json:"lender"`
	Borrower         string `json:"borrower"`
	Relayer          string `json:"relayer,omitempty"`
	Wrangler         string `json:"wrangler"`
	RelayerFee       string `json:"relayerFee,omitempty"`
	MonitoringFee    string `json:"monitoringFee,omitempty"`
	RolloverFee      string `json:"rolloverFee,omitempty"`
	ClosureFee       string `json:"closureFee,omitempty"`
	Nonce            uint64 `json:"nonce"`
}

// Position decodes the fields.
func (p PositionFields) Position() (*lending.Position, error) {
	var (
		out lending.Position
		err error
	)
	addrs := []struct {
		field string
		value string
		dst   *common.Address
	}{
		{"collateralToken", p.CollateralToken, &out.CollateralToken},
		{"loanToken", p.LoanToken, &out.LoanToken},
		{"kernelCreator", p.KernelCreator, &out.KernelCreator},
		{"lender", p.Lender, &out.Lender},
		{"borrower", p.Borrower, &out.Borrower},
		{"relayer", p.Relayer, &out.Relayer},
		{"wrangler", p.Wrangler, &out.Wrangler},
	}
	for _, a := range addrs {
		if *a.dst, err = parseOptionalAddress(a.field, a.value); err != nil {
			return nil, err
		}
	}
	if out.CollateralAmount, err = parseAmount("collateralAmount", p.CollateralAmount); err != nil {
		return nil, err
	}
	if out.LoanAmountFilled, err = parseAmount("loanAmountFilled", p.LoanAmountFilled); err != nil {
		return nil, err
	}
	if out.LoanAmountOwed, err = parseAmount("loanAmountOwed", p.LoanAmountOwed); err != nil {
		return nil, err
	}
	if out.Fees, err = parseFees(p.RelayerFee, p.MonitoringFee, p.RolloverFee, p.ClosureFee); err != nil {
		return nil, err
	}
	out.Nonce = p.Nonce
	return &out, nil
}

// PositionPayload names a position for liquidation or closure.
type PositionPayload struct {
	Position string `json:"position"`
}

// TopupPayload adds collateral to a position.
type TopupPayload struct {
	Position string `json:"position"`
	Amount   string `json:"amount"`
}

type TokenApprovePayload struct {
	Token   string `json:"token"`
	Spender string `json:"spender"`
	Amount  string `json:"amount"`
}

type TokenTransferPayload struct {
	Token  string `json:"token"`
	To     string `json:"to"`
	Amount string `json:"amount"`
}

type SetWranglerStatusPayload struct {
	Wrangler string `json:"wrangler"`
	Active   bool   `json:"active"`
}

type SetTokenSupportPayload struct {
	Token     string `json:"token"`
	Supported bool   `json:"supported"`
}

type SetPositionThresholdPayload struct {
	Threshold uint64 `json:"threshold"`
}

func parseOptionalAddress(field, value string) (common.Address, error) {
	if strings.TrimSpace(value) == "" {
		return common.Address{}, nil
	}
	addr, err := crypto.ParseAddress(value)
	if err != nil {
		return common.Address{}, fmt.Errorf("%w: %s: %v", lending.ErrInvalidInput, field, err)
	}
	return addr, nil
}

// ParseAddressField decodes a required address.
func ParseAddressField(field, value string) (common.Address, error) {
	if strings.TrimSpace(value) == "" {
		return common.Address{}, fmt.Errorf("%w: %s required", lending.ErrInvalidInput, field)
	}
	return parseOptionalAddress(field, value)
}

func parseAmount(field, value string) (*uint256.Int, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return new(uint256.Int), nil
	}
	amount, err := uint256.FromDecimal(trimmed)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: invalid amount %q", lending.ErrInvalidInput, field, value)
	}
	return amount, nil
}

// ParseAmountField decodes an optional base-10 amount; empty means zero.
func ParseAmountField(field, value string) (*uint256.Int, error) {
	return parseAmount(field, value)
}

func parseHash(field, value string) (common.Hash, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return common.Hash{}, nil
	}
	raw, err := hexutil.Decode(trimmed)
	if err != nil || len(raw) != common.HashLength {
		return common.Hash{}, fmt.Errorf("%w: %s: expected 32-byte hex value, got %q", lending.ErrInvalidInput, field, value)
	}
	return common.BytesToHash(raw), nil
}

// ParseHashField decodes a required 32-byte hex value.
func ParseHashField(field, value string) (common.Hash, error) {
	if strings.TrimSpace(value) == "" {
		return common.Hash{}, fmt.Errorf("%w: %s required", lending.ErrInvalidInput, field)
	}
	return parseHash(field, value)
}

func parseFees(relayer, monitoring, rollover, closure string) (lending.Fees, error) {
	var (
		fees lending.Fees
		err  error
	)
	if fees.Relayer, err = parseAmount("relayerFee", relayer); err != nil {
		return fees, err
	}
	if fees.Monitoring, err = parseAmount("monitoringFee", monitoring); err != nil {
		return fees, err
	}
	if fees.Rollover, err = parseAmount("rolloverFee", rollover); err != nil {
		return fees, err
	}
	if fees.Closure, err = parseAmount("closureFee", closure); err != nil {
		return fees, err
	}
	return fees, nil
}
