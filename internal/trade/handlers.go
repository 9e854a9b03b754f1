package trade

import (
	"net/http"
	"strconv"

	"github.com/aspire/market-engine/internal/apperr"
	"github.com/aspire/market-engine/internal/httpio"
	"github.com/aspire/market-engine/internal/identity"
	"github.com/aspire/market-engine/internal/model"
)

// TradeRequest is the JSON body for POST /api/v1/trades.
type TradeRequest struct {
	Ticker   string `json:"ticker"`
	Action   string `json:"action"` // BUY or SELL
	Quantity int64  `json:"quantity"`
}

// TradeResponse is the JSON body returned for an executed trade.
type TradeResponse struct {
	Success bool               `json:"success"`
	Trade   *model.Transaction `json:"trade"`
}

// HandleTrade handles POST /api/v1/trades for the authenticated caller.
func (s *Service) HandleTrade(w http.ResponseWriter, r *http.Request) {
	id, ok := identity.FromContext(r.Context())
	if !ok {
		httpio.WriteStatus(w, http.StatusUnauthorized, "authentication required")
		return
	}

	var req TradeRequest
	if err := httpio.DecodeJSON(r, &req); err != nil {
		httpio.WriteError(w, s.log, err)
		return
	}

	txn, err := s.Execute(r.Context(), Request{
		UserID:   id.UserID,
		Ticker:   req.Ticker,
		Side:     model.Side(req.Action),
		Quantity: req.Quantity,
	})
	if err != nil {
		httpio.WriteError(w, s.log, err)
		return
	}
	httpio.WriteJSON(w, http.StatusOK, TradeResponse{Success: true, Trade: txn})
}

// HandlePortfolio handles GET /api/v1/portfolio.
func (s *Service) HandlePortfolio(w http.ResponseWriter, r *http.Request) {
	id, ok := identity.FromContext(r.Context())
	if !ok {
		httpio.WriteStatus(w, http.StatusUnauthorized, "authentication required")
		return
	}

	p, err := s.Portfolio(r.Context(), id.UserID)
	if err != nil {
		httpio.WriteError(w, s.log, err)
		return
	}
	httpio.WriteJSON(w, http.StatusOK, p)
}

// HandleTransactions handles GET /api/v1/trades?limit=N, newest first.
func (s *Service) HandleTransactions(w http.ResponseWriter, r *http.Request) {
	id, ok := identity.FromContext(r.Context())
	if !ok {
		httpio.WriteStatus(w, http.StatusUnauthorized, "authentication required")
		return
	}

	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 || n > 500 {
			httpio.WriteError(w, s.log, apperr.Validation("limit must be between 1 and 500"))
			return
		}
		limit = n
	}

	txns, err := s.Transactions(r.Context(), id.UserID, limit)
	if err != nil {
		httpio.WriteError(w, s.log, err)
		return
	}
	httpio.WriteJSON(w, http.StatusOK, txns)
}
