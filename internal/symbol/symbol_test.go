package symbol

import (
	"errors"
	"testing"

	"github.com/shopspring/decimal"
)

func d(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}

func TestNormalizeTicker_Valid(t *testing.T) {
	tests := map[string]string{
		"demo":    "DEMO",
		" aapl ":  "AAPL",
		"brk.b":   "BRK.B",
		"ACME-1":  "ACME-1",
		"ab":      "AB",
		"tsla123": "TSLA123",
	}
	for in, want := range tests {
		got, err := NormalizeTicker(in)
		if err != nil {
			t.Errorf("unexpected error for %q: %v", in, err)
			continue
		}
		if got != want {
			t.Errorf("NormalizeTicker(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestNormalizeTicker_Invalid(t *testing.T) {
	tests := []string{
		"",
		"A",
		"   ",
		"HAS SPACE",
		"TOO-LONG-TICKER-SYMBOL-XYZW",
		"$USD",
		".DOT",
	}
	for _, in := range tests {
		_, err := NormalizeTicker(in)
		if !errors.Is(err, ErrInvalidTicker) {
			t.Errorf("expected ErrInvalidTicker for %q, got %v", in, err)
		}
	}
}

func TestNormalizeSector(t *testing.T) {
	s, err := NormalizeSector(" banking ")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if s != "BANKING" {
		t.Errorf("expected BANKING, got %s", s)
	}

	if _, err := NormalizeSector("  "); !errors.Is(err, ErrInvalidSector) {
		t.Errorf("expected ErrInvalidSector for blank sector, got %v", err)
	}
}

func TestNormalizeTickers_DedupesAndDropsBlanks(t *testing.T) {
	got := NormalizeTickers([]string{"aapl", "", "MSFT", "AAPL", " msft "})
	if len(got) != 2 || got[0] != "AAPL" || got[1] != "MSFT" {
		t.Errorf("unexpected result: %v", got)
	}
	if got := NormalizeTickers(nil); len(got) != 0 {
		t.Errorf("expected empty result, got %v", got)
	}
}

func TestCheckRange(t *testing.T) {
	if err := CheckRange("price", d(50), MinPrice, MaxPrice); err != nil {
		t.Errorf("expected 50 to be in range, got %v", err)
	}
	if err := CheckRange("price", d(200), MinPrice, MaxPrice); err != nil {
		t.Errorf("upper bound should be inclusive, got %v", err)
	}
	if err := CheckRange("price", d(0.001), MinPrice, MaxPrice); !errors.Is(err, ErrOutOfRange) {
		t.Errorf("expected ErrOutOfRange, got %v", err)
	}
	if err := CheckRange("volatility", d(1.5), MinVolatility, MaxVolatility); !errors.Is(err, ErrOutOfRange) {
		t.Errorf("expected ErrOutOfRange, got %v", err)
	}
}
