package catalog

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/aspire/market-engine/internal/apperr"
)

func listing(ticker, name, sector, price, vol, desc string) CreateInstrumentRequest {
	return CreateInstrumentRequest{
		Ticker:      ticker,
		Name:        name,
		Sector:      sector,
		Description: desc,
		Price:       decimal.RequireFromString(price),
		Volatility:  decimal.RequireFromString(vol),
	}
}

// DefaultListings is the starter market of Eastern Caribbean equities.
var DefaultListings = []CreateInstrumentRequest{
	listing("BON", "The Bank of Nevis Ltd", "BANKING", "3.00", "0.06", "Serving the people of Nevis with pride."),
	listing("BOSV", "Bank of St. Vincent and the Grenadines", "BANKING", "10.50", "0.08", "Leading financial institution in St. Vincent and the Grenadines."),
	listing("CWKN", "Cable & Wireless St. Kitts & Nevis", "TELECOM", "3.75", "0.12", "Telecommunications provider serving St. Kitts and Nevis."),
	listing("DES", "Dominica Electricity Services", "UTILITIES", "4.25", "0.04", "Electricity services provider in Dominica."),
	listing("ECFH", "Eastern Caribbean Financial Holdings", "BANKING", "12.50", "0.07", "Regional financial services holding company."),
	listing("GCBL", "Grenada Co-operative Bank Ltd", "BANKING", "9.25", "0.06", "Cooperative banking services in Grenada."),
	listing("GESL", "Grenada Electricity Services", "UTILITIES", "11.75", "0.04", "Electricity generation and distribution in Grenada."),
	listing("SKNB", "St. Kitts Nevis Anguilla National Bank", "BANKING", "3.00", "0.05", "The leading financial institution in the Federation."),
	listing("SLES", "St. Lucia Electricity Services", "UTILITIES", "24.00", "0.03", "Regional power company serving St. Lucia."),
	listing("SLH", "S.L. Horsford & Company Ltd.", "RETAIL", "2.00", "0.07", "Trading company in St. Kitts dealing in auto and building supplies."),
	listing("TDC", "St. Kitts Nevis Anguilla Trading & Dev Co.", "CONGLOMERATE", "1.30", "0.08", "Diverse holdings in retail, insurance and automotive."),
	listing("WIOC", "West Indies Oil Company", "ENERGY", "56.00", "0.15", "Regional petroleum products distributor."),
}

// Seed lists every entry that is not already present and returns how many
// were created. Existing tickers are left untouched.
func (s *Service) Seed(ctx context.Context, listings []CreateInstrumentRequest) (int, error) {
	created := 0
	for _, req := range listings {
		_, err := s.CreateInstrument(ctx, req)
		switch {
		case err == nil:
			created++
		case errors.Is(err, apperr.ErrConflict):
			s.log.Debug("listing already present", zap.String("ticker", req.Ticker))
		default:
			return created, err
		}
	}
	return created, nil
}
