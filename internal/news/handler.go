package news

import (
	"net/http"

	"github.com/shopspring/decimal"

	"github.com/aspire/market-engine/internal/apperr"
	"github.com/aspire/market-engine/internal/httpio"
	"github.com/aspire/market-engine/internal/model"
)

// EventRequest is the JSON body for POST /api/v1/admin/events.
type EventRequest struct {
	Headline string `json:"headline"`
	Summary  string `json:"summary"`
	Sector   string `json:"sector"`
	// SectorApplied is accepted as an alias of Sector.
	SectorApplied string           `json:"sector_applied"`
	Magnitude     *decimal.Decimal `json:"magnitude"`
	Duration      int              `json:"duration"`
	Sentiment     string           `json:"sentiment"`
}

// EventResponse is returned with 201 Created.
type EventResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Result
}

// HandleCreate handles POST /api/v1/admin/events.
func (p *Processor) HandleCreate(w http.ResponseWriter, r *http.Request) {
	var req EventRequest
	if err := httpio.DecodeJSON(r, &req); err != nil {
		httpio.WriteError(w, p.log, err)
		return
	}
	if req.Magnitude == nil {
		httpio.WriteError(w, p.log, apperr.Validation("magnitude is required"))
		return
	}
	sector := req.Sector
	if sector == "" {
		sector = req.SectorApplied
	}

	res, err := p.ApplyShock(r.Context(), Shock{
		Headline:  req.Headline,
		Summary:   req.Summary,
		Sector:    sector,
		Magnitude: *req.Magnitude,
		Duration:  req.Duration,
		Sentiment: model.Sentiment(req.Sentiment),
	})
	if err != nil {
		httpio.WriteError(w, p.log, err)
		return
	}
	httpio.WriteJSON(w, http.StatusCreated, EventResponse{
		Success: true,
		Message: "Event created and market changes applied",
		Result:  *res,
	})
}
