package rpc

import (
	"net/http"

	"p2plend/core"
)

type tokenBalanceParams struct {
	Token   string `json:"token"`
	Address string `json:"address"`
}

type tokenAllowanceParams struct {
	Token   string `json:"token"`
	Owner   string `json:"owner"`
	Spender string `json:"spender"`
}

func (s *Server) handleTokenBalance(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params tokenBalanceParams
	if !decodeParams(w, req, &params) {
		return
	}
	tok, err := core.ParseAddressField("token", params.Token)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	addr, err := core.ParseAddressField("address", params.Address)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	balance, err := s.node.Balance(tok, addr)
	if err != nil {
		writeNodeError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, AmountResult{Amount: formatAmount(balance)})
}

func (s *Server) handleTokenAllowance(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params tokenAllowanceParams
	if !decodeParams(w, req, &params) {
		return
	}
	tok, err := core.ParseAddressField("token", params.Token)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	owner, err := core.ParseAddressField("owner", params.Owner)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	spender, err := core.ParseAddressField("spender", params.Spender)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	allowance, err := s.node.Allowance(tok, owner, spender)
	if err != nil {
		writeNodeError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, AmountResult{Amount: formatAmount(allowance)})
}

func (s *Server) handleTokenList(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	tokens, err := s.node.Tokens()
	if err != nil {
		writeNodeError(w, req.ID, err)
		return
	}
	out := make([]TokenResult, len(tokens))
	for i, info := range tokens {
		out[i] = tokenResult(info)
	}
	writeResult(w, req.ID, out)
}
