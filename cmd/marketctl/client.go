package main

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/shopspring/decimal"

	"github.com/aspire/market-engine/internal/identity"
	"github.com/aspire/market-engine/internal/model"
	"github.com/aspire/market-engine/internal/news"
)

// adminClient calls the market-engine admin API as an ADMIN user.
type adminClient struct {
	client *resty.Client
}

type apiError struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
}

func newAdminClient(baseURL, userID string, timeout time.Duration) *adminClient {
	c := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(timeout).
		SetHeader(identity.HeaderUserID, userID).
		SetHeader(identity.HeaderRole, model.RoleAdmin).
		SetRetryCount(2).
		SetRetryWaitTime(500 * time.Millisecond)
	return &adminClient{client: c}
}

// CreateEvent submits a news shock and returns the engine's response.
func (c *adminClient) CreateEvent(ctx context.Context, req news.EventRequest) (*news.EventResponse, error) {
	var out news.EventResponse
	var apiErr apiError
	resp, err := c.client.R().
		SetContext(ctx).
		SetBody(req).
		SetResult(&out).
		SetError(&apiErr).
		Post("/api/v1/admin/events")
	if err != nil {
		return nil, fmt.Errorf("post event: %w", err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("post event: %s: %s", resp.Status(), apiErr.Error)
	}
	return &out, nil
}

// Stocks lists the active instruments.
func (c *adminClient) Stocks(ctx context.Context) ([]model.Instrument, error) {
	var out []model.Instrument
	var apiErr apiError
	resp, err := c.client.R().
		SetContext(ctx).
		SetResult(&out).
		SetError(&apiErr).
		Get("/api/v1/stocks")
	if err != nil {
		return nil, fmt.Errorf("list stocks: %w", err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("list stocks: %s: %s", resp.Status(), apiErr.Error)
	}
	return out, nil
}

func sectorTotal(list []model.Instrument, sector string) decimal.Decimal {
	total := decimal.Zero
	for _, inst := range list {
		if inst.Sector == sector {
			total = total.Add(inst.Price)
		}
	}
	return total
}
