package rpc

import (
	"encoding/json"
	"errors"
	"net/http"

	"p2plend/core"
	"p2plend/core/types"
	"p2plend/native/lending"
	"p2plend/native/token"
)

const (
	defaultEventLimit = 100
	maxEventLimit     = 1000
)

type hashParams struct {
	Hash string `json:"hash"`
}

type positionParams struct {
	Position string `json:"position"`
}

type accountParams struct {
	Address string `json:"address"`
}

type wranglerNonceParams struct {
	Wrangler string `json:"wrangler"`
	Creator  string `json:"creator"`
}

type owedValueParams struct {
	LoanAmountFilled  string `json:"loanAmountFilled"`
	DailyInterestRate string `json:"dailyInterestRate"`
	PositionDuration  uint64 `json:"positionDuration"`
}

type eventsParams struct {
	FromHeight uint64 `json:"fromHeight"`
	Limit      int    `json:"limit,omitempty"`
}

func isNotFound(err error) bool {
	return errors.Is(err, lending.ErrPositionNotFound) ||
		errors.Is(err, core.ErrReceiptNotFound) ||
		errors.Is(err, token.ErrUnknownToken)
}

// handleSendTransaction applies a signed transaction and returns its receipt.
// Protocol failures still return a receipt with success=false; only envelope
// problems are reported as RPC errors.
func (s *Server) handleSendTransaction(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	if len(req.Params) == 0 {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "transaction parameter required", nil)
		return
	}
	var tx types.Transaction
	if err := json.Unmarshal(req.Params[0], &tx); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid transaction format", err.Error())
		return
	}
	receipt, err := s.node.SubmitTransaction(&tx)
	if err != nil {
		writeNodeError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, receipt)
}

func (s *Server) handleGetReceipt(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params hashParams
	if !decodeParams(w, req, &params) {
		return
	}
	hash, err := core.ParseHashField("hash", params.Hash)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	receipt, err := s.node.Receipt(hash)
	if err != nil {
		writeNodeError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, receipt)
}

func (s *Server) handleGetPosition(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params positionParams
	if !decodeParams(w, req, &params) {
		return
	}
	hash, err := core.ParseHashField("position", params.Position)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	pos, err := s.node.Position(hash)
	if err != nil {
		writeNodeError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, positionResult(pos))
}

func (s *Server) handlePositionCounts(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params accountParams
	if !decodeParams(w, req, &params) {
		return
	}
	addr, err := core.ParseAddressField("address", params.Address)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	borrow, lend, err := s.node.PositionCounts(addr)
	if err != nil {
		writeNodeError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, PositionCountsResult{Borrow: borrow, Lend: lend})
}

func (s *Server) handleListPositions(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params accountParams
	if !decodeParams(w, req, &params) {
		return
	}
	addr, err := core.ParseAddressField("address", params.Address)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	borrow, lend, err := s.node.AccountPositions(addr)
	if err != nil {
		writeNodeError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, PositionListResult{Borrow: hashStrings(borrow), Lend: hashStrings(lend)})
}

func (s *Server) handleKernelHash(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params core.KernelFields
	if !decodeParams(w, req, &params) {
		return
	}
	kernel, err := params.Kernel()
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	writeResult(w, req.ID, HashResult{Hash: s.node.KernelHash(kernel).Hex()})
}

func (s *Server) handlePositionHash(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params core.PositionFields
	if !decodeParams(w, req, &params) {
		return
	}
	pos, err := params.Position()
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	writeResult(w, req.ID, HashResult{Hash: s.node.PositionHash(pos).Hex()})
}

func (s *Server) handleOwedValue(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params owedValueParams
	if !decodeParams(w, req, &params) {
		return
	}
	filled, err := core.ParseAmountField("loanAmountFilled", params.LoanAmountFilled)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	rate, err := core.ParseAmountField("dailyInterestRate", params.DailyInterestRate)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	owed, err := lending.OwedValue(filled, rate, params.PositionDuration)
	if err != nil {
		writeNodeError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, AmountResult{Amount: owed.Dec()})
}

func (s *Server) handleKernelStatus(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params core.KernelFields
	if !decodeParams(w, req, &params) {
		return
	}
	kernel, err := params.Kernel()
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	status, err := s.node.KernelStatus(kernel)
	if err != nil {
		writeNodeError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, KernelStatusResult{
		Hash:      status.Hash.Hex(),
		Filled:    formatAmount(status.Filled),
		Cancelled: formatAmount(status.Cancelled),
		Remaining: formatAmount(status.Remaining),
	})
}

func (s *Server) handleCanOpen(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params accountParams
	if !decodeParams(w, req, &params) {
		return
	}
	addr, err := core.ParseAddressField("address", params.Address)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	canBorrow, canLend, err := s.node.CanOpen(addr)
	if err != nil {
		writeNodeError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, CanOpenResult{CanBorrow: canBorrow, CanLend: canLend})
}

func (s *Server) handleWranglerNonce(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params wranglerNonceParams
	if !decodeParams(w, req, &params) {
		return
	}
	wrangler, err := core.ParseAddressField("wrangler", params.Wrangler)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	creator, err := core.ParseAddressField("creator", params.Creator)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	nonce, err := s.node.WranglerNonce(wrangler, creator)
	if err != nil {
		writeNodeError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, NonceResult{Nonce: nonce})
}

func (s *Server) handleParams(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	params, err := s.node.Params()
	if err != nil {
		writeNodeError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, ParamsResult{
		Owner:             params.Owner.Hex(),
		Protocol:          params.Protocol.Hex(),
		ProtocolToken:     params.ProtocolToken.Hex(),
		PositionThreshold: params.PositionThreshold,
		LastPositionIndex: params.LastPositionIndex,
	})
}

func (s *Server) handleGetNonce(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params accountParams
	if !decodeParams(w, req, &params) {
		return
	}
	addr, err := core.ParseAddressField("address", params.Address)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	nonce, err := s.node.AccountNonce(addr)
	if err != nil {
		writeNodeError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, NonceResult{Nonce: nonce})
}

func (s *Server) handleGetEvents(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	if s.journal == nil {
		writeError(w, http.StatusServiceUnavailable, req.ID, codeUnavailable, "event journal disabled", nil)
		return
	}
	var params eventsParams
	if !decodeParams(w, req, &params) {
		return
	}
	limit := params.Limit
	if limit <= 0 {
		limit = defaultEventLimit
	}
	if limit > maxEventLimit {
		limit = maxEventLimit
	}
	records, err := s.journal.Range(params.FromHeight, limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, req.ID, codeServerError, "failed to read event journal", err.Error())
		return
	}
	writeResult(w, req.ID, records)
}

func (s *Server) handleNodeStatus(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	status := s.node.Status()
	writeResult(w, req.ID, StatusResult{
		Height:        status.Height,
		StateRoot:     status.StateRoot.Hex(),
		Protocol:      status.Protocol.Hex(),
		ProtocolToken: status.ProtocolToken.Hex(),
		Subscribers:   status.Subscribers,
	})
}
