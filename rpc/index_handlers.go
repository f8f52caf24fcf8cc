package rpc

import (
	"encoding/json"
	"net/http"
	"strings"

	"p2plend/core"
	"p2plend/native/lending"
	"p2plend/storage/positionindex"
)

type wranglerPositionsParams struct {
	Wrangler string `json:"wrangler"`
	Status   string `json:"status,omitempty"`
	Limit    int    `json:"limit,omitempty"`
}

// IndexedPositionResult is a row of the position projection.
type IndexedPositionResult struct {
	Hash              string `json:"hash"`
	Wrangler          string `json:"wrangler"`
	Status            string `json:"status"`
	CollateralCurrent string `json:"collateralCurrent,omitempty"`
	FirstHeight       uint64 `json:"firstHeight"`
	LastHeight        uint64 `json:"lastHeight"`
}

// PositionHistoryEntry is one recorded update of a position.
type PositionHistoryEntry struct {
	Height     uint64            `json:"height"`
	Index      uint32            `json:"index"`
	Field      string            `json:"field"`
	Value      string            `json:"value"`
	Attributes map[string]string `json:"attributes,omitempty"`
}

func (s *Server) indexAvailable(w http.ResponseWriter, req *RPCRequest) bool {
	if s.index == nil {
		writeError(w, http.StatusServiceUnavailable, req.ID, codeUnavailable, "position indexer disabled", nil)
		return false
	}
	return true
}

func (s *Server) handleWranglerPositions(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	if !s.indexAvailable(w, req) {
		return
	}
	var params wranglerPositionsParams
	if !decodeParams(w, req, &params) {
		return
	}
	wrangler, err := core.ParseAddressField("wrangler", params.Wrangler)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	status := strings.ToLower(strings.TrimSpace(params.Status))
	switch status {
	case "", lending.PositionStatusOpen.String(), lending.PositionStatusClosed.String(), lending.PositionStatusLiquidated.String():
	default:
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "unknown status filter", params.Status)
		return
	}
	records, err := s.index.ByWrangler(wrangler.Hex(), status, params.Limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, req.ID, codeServerError, "failed to query position index", err.Error())
		return
	}
	out := make([]IndexedPositionResult, 0, len(records))
	for _, rec := range records {
		out = append(out, indexedPositionResult(rec))
	}
	writeResult(w, req.ID, out)
}

func (s *Server) handlePositionHistory(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	if !s.indexAvailable(w, req) {
		return
	}
	var params positionParams
	if !decodeParams(w, req, &params) {
		return
	}
	hash, err := core.ParseHashField("position", params.Position)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	records, err := s.index.History(hash.Hex())
	if err != nil {
		writeError(w, http.StatusInternalServerError, req.ID, codeServerError, "failed to query position index", err.Error())
		return
	}
	if len(records) == 0 {
		writeError(w, http.StatusNotFound, req.ID, codeNotFound, "position not indexed", hash.Hex())
		return
	}
	out := make([]PositionHistoryEntry, 0, len(records))
	for _, rec := range records {
		entry := PositionHistoryEntry{Height: rec.Height, Index: rec.Seq, Field: rec.Field, Value: rec.Value}
		if rec.Attributes != "" {
			_ = json.Unmarshal([]byte(rec.Attributes), &entry.Attributes)
		}
		out = append(out, entry)
	}
	writeResult(w, req.ID, out)
}

func indexedPositionResult(rec positionindex.PositionRecord) IndexedPositionResult {
	return IndexedPositionResult{
		Hash:              rec.Hash,
		Wrangler:          rec.Wrangler,
		Status:            rec.Status,
		CollateralCurrent: rec.CollateralCurrent,
		FirstHeight:       rec.FirstHeight,
		LastHeight:        rec.LastHeight,
	}
}
