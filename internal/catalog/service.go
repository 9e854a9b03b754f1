// Package catalog serves the instrument listing and price history and
// lets administrators list instruments and provision accounts.
package catalog

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/aspire/market-engine/internal/apperr"
	"github.com/aspire/market-engine/internal/httpio"
	"github.com/aspire/market-engine/internal/model"
	"github.com/aspire/market-engine/internal/store"
	"github.com/aspire/market-engine/internal/symbol"
)

// HistoryWindow is how far back GET .../history looks.
const HistoryWindow = 24 * time.Hour

// LeaderboardSize is the number of accounts GET /leaderboard returns.
const LeaderboardSize = 10

// Service handles catalog reads and admin provisioning.
type Service struct {
	store store.Store
	log   *zap.Logger
	now   func() time.Time
}

// NewService creates a catalog service.
func NewService(st store.Store, log *zap.Logger) *Service {
	return &Service{store: st, log: log, now: time.Now}
}

// --- Request types ---

// CreateInstrumentRequest is the JSON body for POST /api/v1/admin/stocks.
type CreateInstrumentRequest struct {
	Ticker      string          `json:"ticker"`
	Name        string          `json:"name"`
	Sector      string          `json:"sector"`
	Description string          `json:"description"`
	Price       decimal.Decimal `json:"price"`
	Volatility  decimal.Decimal `json:"volatility"`
	IsActive    *bool           `json:"isActive"`
}

// UpdateInstrumentRequest is the JSON body for PUT /api/v1/admin/stocks/{ticker}.
// Omitted fields keep their current value.
type UpdateInstrumentRequest struct {
	Name        *string          `json:"name"`
	Description *string          `json:"description"`
	Volatility  *decimal.Decimal `json:"volatility"`
	IsActive    *bool            `json:"isActive"`
}

// LeaderboardEntry is one row of GET /api/v1/leaderboard.
type LeaderboardEntry struct {
	Rank    int             `json:"rank"`
	UserID  string          `json:"userId"`
	Balance decimal.Decimal `json:"balance"`
}

// CreateAccountRequest is the JSON body for POST /api/v1/admin/accounts.
type CreateAccountRequest struct {
	UserID  string          `json:"userId"`
	Balance decimal.Decimal `json:"balance"`
}

// --- Operations ---

// CreateInstrument validates and lists a new instrument.
func (s *Service) CreateInstrument(ctx context.Context, req CreateInstrumentRequest) (*model.Instrument, error) {
	ticker, err := symbol.NormalizeTicker(req.Ticker)
	if err != nil {
		return nil, apperr.Validation("%v", err)
	}
	name := strings.TrimSpace(req.Name)
	if len(name) < 4 || len(name) > 150 {
		return nil, apperr.Validation("name must be 4-150 characters")
	}
	sector, err := symbol.NormalizeSector(req.Sector)
	if err != nil {
		return nil, apperr.Validation("%v", err)
	}
	if len(sector) < 3 {
		return nil, apperr.Validation("sector must be at least 3 characters long")
	}
	desc := strings.TrimSpace(req.Description)
	if desc != "" && (len(desc) < 10 || len(desc) > 250) {
		return nil, apperr.Validation("description must be 10-250 characters")
	}
	if err := symbol.CheckRange("price", req.Price, symbol.MinPrice, symbol.MaxPrice); err != nil {
		return nil, apperr.Validation("%v", err)
	}
	if err := symbol.CheckRange("volatility", req.Volatility, symbol.MinVolatility, symbol.MaxVolatility); err != nil {
		return nil, apperr.Validation("%v", err)
	}

	if _, err := s.store.GetInstrument(ctx, ticker); err == nil {
		return nil, fmt.Errorf("%w: stock with ticker %s", apperr.ErrConflict, ticker)
	} else if !errors.Is(err, apperr.ErrNotFound) {
		return nil, err
	}

	active := true
	if req.IsActive != nil {
		active = *req.IsActive
	}
	inst := &model.Instrument{
		Ticker:      ticker,
		Name:        name,
		Sector:      sector,
		Description: desc,
		Price:       req.Price.Round(2),
		Change:      decimal.Zero,
		Volatility:  req.Volatility,
		Active:      active,
		CreatedAt:   s.now().UTC(),
	}
	if err := s.store.CreateInstrument(ctx, inst); err != nil {
		return nil, err
	}
	s.log.Info("instrument created",
		zap.String("ticker", inst.Ticker),
		zap.String("sector", inst.Sector),
		zap.String("price", inst.Price.String()),
	)
	return inst, nil
}

// CreateAccount provisions a user's starting balance.
func (s *Service) CreateAccount(ctx context.Context, req CreateAccountRequest) (*model.Account, error) {
	uid := strings.TrimSpace(req.UserID)
	if uid == "" || len(uid) > 64 {
		return nil, apperr.Validation("userId must be 1-64 characters")
	}
	if req.Balance.IsNegative() {
		return nil, apperr.Validation("balance cannot be negative")
	}

	if _, err := s.store.GetAccount(ctx, uid); err == nil {
		return nil, fmt.Errorf("%w: account for user %s", apperr.ErrConflict, uid)
	} else if !errors.Is(err, apperr.ErrNotFound) {
		return nil, err
	}

	acct := &model.Account{
		UserID:    uid,
		Balance:   req.Balance.Round(2),
		Active:    true,
		CreatedAt: s.now().UTC(),
	}
	if err := s.store.CreateAccount(ctx, acct); err != nil {
		return nil, err
	}
	s.log.Info("account provisioned", zap.String("user", uid), zap.String("balance", acct.Balance.String()))
	return acct, nil
}

// UpdateInstrument edits an instrument's listing under the row lock.
// Price is left to trades, news and the simulator.
func (s *Service) UpdateInstrument(ctx context.Context, rawTicker string, req UpdateInstrumentRequest) (*model.Instrument, error) {
	ticker, err := symbol.NormalizeTicker(rawTicker)
	if err != nil {
		return nil, apperr.Validation("%v", err)
	}
	if req.Name == nil && req.Description == nil && req.Volatility == nil && req.IsActive == nil {
		return nil, apperr.Validation("at least one of name, description, volatility, isActive is required")
	}

	var name, desc string
	if req.Name != nil {
		name = strings.TrimSpace(*req.Name)
		if len(name) < 4 || len(name) > 150 {
			return nil, apperr.Validation("name must be 4-150 characters")
		}
	}
	if req.Description != nil {
		desc = strings.TrimSpace(*req.Description)
		if desc != "" && (len(desc) < 10 || len(desc) > 250) {
			return nil, apperr.Validation("description must be 10-250 characters")
		}
	}
	if req.Volatility != nil {
		if err := symbol.CheckRange("volatility", *req.Volatility, symbol.MinVolatility, symbol.MaxVolatility); err != nil {
			return nil, apperr.Validation("%v", err)
		}
	}

	var updated *model.Instrument
	err = s.store.InTx(ctx, func(tx store.Tx) error {
		inst, err := tx.GetInstrument(ctx, ticker)
		if err != nil {
			return err
		}
		if req.Name != nil {
			inst.Name = name
		}
		if req.Description != nil {
			inst.Description = desc
		}
		if req.Volatility != nil {
			inst.Volatility = *req.Volatility
		}
		if req.IsActive != nil {
			inst.Active = *req.IsActive
		}
		if err := tx.UpdateListing(ctx, inst); err != nil {
			return err
		}
		updated = inst
		return nil
	})
	if err != nil {
		return nil, apperr.Commit(err)
	}
	s.log.Info("instrument updated",
		zap.String("ticker", updated.Ticker),
		zap.Bool("active", updated.Active),
		zap.String("volatility", updated.Volatility.String()),
	)
	return updated, nil
}

// DeactivateAccount stops a user from trading. Balance and holdings stay.
func (s *Service) DeactivateAccount(ctx context.Context, rawUserID string) error {
	uid := strings.TrimSpace(rawUserID)
	if uid == "" || len(uid) > 64 {
		return apperr.Validation("userId must be 1-64 characters")
	}
	err := s.store.InTx(ctx, func(tx store.Tx) error {
		if _, err := tx.GetAccount(ctx, uid); err != nil {
			return err
		}
		return tx.SetAccountActive(ctx, uid, false)
	})
	if err != nil {
		return apperr.Commit(err)
	}
	s.log.Info("account deactivated", zap.String("user", uid))
	return nil
}

// Leaderboard ranks active accounts by cash balance.
func (s *Service) Leaderboard(ctx context.Context) ([]LeaderboardEntry, error) {
	accts, err := s.store.TopAccounts(ctx, LeaderboardSize)
	if err != nil {
		return nil, err
	}
	out := make([]LeaderboardEntry, 0, len(accts))
	for i, a := range accts {
		out = append(out, LeaderboardEntry{Rank: i + 1, UserID: a.UserID, Balance: a.Balance})
	}
	return out, nil
}

// History returns the last HistoryWindow of price points for ticker.
func (s *Service) History(ctx context.Context, rawTicker string) ([]model.PricePoint, error) {
	ticker, err := symbol.NormalizeTicker(rawTicker)
	if err != nil {
		return nil, apperr.Validation("%v", err)
	}
	points, err := s.store.GetPriceHistory(ctx, ticker, s.now().UTC().Add(-HistoryWindow))
	if err != nil {
		return nil, err
	}
	if len(points) == 0 {
		return nil, fmt.Errorf("%w: no price history for ticker %s in the last 24 hours", apperr.ErrNotFound, ticker)
	}
	return points, nil
}

// --- HTTP Handlers ---

// HandleList handles GET /api/v1/stocks. ?active=false lists delisted instruments.
func (s *Service) HandleList(w http.ResponseWriter, r *http.Request) {
	active := r.URL.Query().Get("active") != "false"
	list, err := s.store.ListInstruments(r.Context(), active)
	if err != nil {
		httpio.WriteError(w, s.log, err)
		return
	}
	if list == nil {
		list = []model.Instrument{}
	}
	httpio.WriteJSON(w, http.StatusOK, list)
}

// HandleGet handles GET /api/v1/stocks/{ticker}.
func (s *Service) HandleGet(w http.ResponseWriter, r *http.Request) {
	ticker, err := symbol.NormalizeTicker(chi.URLParam(r, "ticker"))
	if err != nil {
		httpio.WriteError(w, s.log, apperr.Validation("%v", err))
		return
	}
	inst, err := s.store.GetInstrument(r.Context(), ticker)
	if err != nil {
		httpio.WriteError(w, s.log, err)
		return
	}
	httpio.WriteJSON(w, http.StatusOK, inst)
}

// HandleHistory handles GET /api/v1/stocks/{ticker}/history.
func (s *Service) HandleHistory(w http.ResponseWriter, r *http.Request) {
	points, err := s.History(r.Context(), chi.URLParam(r, "ticker"))
	if err != nil {
		httpio.WriteError(w, s.log, err)
		return
	}
	httpio.WriteJSON(w, http.StatusOK, points)
}

// HandleCreateInstrument handles POST /api/v1/admin/stocks.
func (s *Service) HandleCreateInstrument(w http.ResponseWriter, r *http.Request) {
	var req CreateInstrumentRequest
	if err := httpio.DecodeJSON(r, &req); err != nil {
		httpio.WriteError(w, s.log, err)
		return
	}
	inst, err := s.CreateInstrument(r.Context(), req)
	if err != nil {
		httpio.WriteError(w, s.log, err)
		return
	}
	httpio.WriteJSON(w, http.StatusCreated, inst)
}

// HandleCreateAccount handles POST /api/v1/admin/accounts.
func (s *Service) HandleCreateAccount(w http.ResponseWriter, r *http.Request) {
	var req CreateAccountRequest
	if err := httpio.DecodeJSON(r, &req); err != nil {
		httpio.WriteError(w, s.log, err)
		return
	}
	acct, err := s.CreateAccount(r.Context(), req)
	if err != nil {
		httpio.WriteError(w, s.log, err)
		return
	}
	httpio.WriteJSON(w, http.StatusCreated, acct)
}

// HandleUpdateInstrument handles PUT /api/v1/admin/stocks/{ticker}.
func (s *Service) HandleUpdateInstrument(w http.ResponseWriter, r *http.Request) {
	var req UpdateInstrumentRequest
	if err := httpio.DecodeJSON(r, &req); err != nil {
		httpio.WriteError(w, s.log, err)
		return
	}
	inst, err := s.UpdateInstrument(r.Context(), chi.URLParam(r, "ticker"), req)
	if err != nil {
		httpio.WriteError(w, s.log, err)
		return
	}
	httpio.WriteJSON(w, http.StatusOK, inst)
}

// HandleDeactivateAccount handles DELETE /api/v1/admin/accounts/{userId}.
func (s *Service) HandleDeactivateAccount(w http.ResponseWriter, r *http.Request) {
	if err := s.DeactivateAccount(r.Context(), chi.URLParam(r, "userId")); err != nil {
		httpio.WriteError(w, s.log, err)
		return
	}
	httpio.WriteJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"message": "User deactivated successfully",
	})
}

// HandleLeaderboard handles GET /api/v1/leaderboard.
func (s *Service) HandleLeaderboard(w http.ResponseWriter, r *http.Request) {
	board, err := s.Leaderboard(r.Context())
	if err != nil {
		httpio.WriteError(w, s.log, err)
		return
	}
	httpio.WriteJSON(w, http.StatusOK, board)
}
