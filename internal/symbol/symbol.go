// Package symbol handles ticker and sector normalization and the field
// bounds enforced when instruments are created.
package symbol

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/shopspring/decimal"
)

// tickerRegex matches upper-case tickers such as DEMO, BRK.B or ACME-1.
var tickerRegex = regexp.MustCompile(`^[A-Z0-9][A-Z0-9.\-]{1,24}$`)

var (
	ErrInvalidTicker = errors.New("symbol: invalid ticker")
	ErrInvalidSector = errors.New("symbol: invalid sector")
	ErrOutOfRange    = errors.New("symbol: value out of range")
)

// Instrument creation bounds.
var (
	MinPrice      = decimal.RequireFromString("0.01")
	MaxPrice      = decimal.NewFromInt(200)
	MinVolatility = decimal.RequireFromString("0.01")
	MaxVolatility = decimal.NewFromInt(1)
)

// NormalizeTicker upper-cases and trims a ticker and validates its format.
func NormalizeTicker(raw string) (string, error) {
	t := strings.ToUpper(strings.TrimSpace(raw))
	if !tickerRegex.MatchString(t) {
		return "", fmt.Errorf("%w: %q (expected 2-25 characters of A-Z, 0-9, '.', '-')", ErrInvalidTicker, raw)
	}
	return t, nil
}

// NormalizeSector upper-cases and trims a sector name. An empty result is
// rejected.
func NormalizeSector(raw string) (string, error) {
	s := strings.ToUpper(strings.TrimSpace(raw))
	if s == "" {
		return "", fmt.Errorf("%w: sector is required", ErrInvalidSector)
	}
	if len(s) > 50 {
		return "", fmt.Errorf("%w: %q is longer than 50 characters", ErrInvalidSector, raw)
	}
	return s, nil
}

// NormalizeTickers normalizes a subscription list, dropping blanks and
// duplicates while keeping order.
func NormalizeTickers(raw []string) []string {
	out := make([]string, 0, len(raw))
	seen := make(map[string]bool, len(raw))
	for _, r := range raw {
		t := strings.ToUpper(strings.TrimSpace(r))
		if t == "" || seen[t] {
			continue
		}
		seen[t] = true
		out = append(out, t)
	}
	return out
}

// CheckRange returns ErrOutOfRange if v is outside [lo, hi].
func CheckRange(name string, v, lo, hi decimal.Decimal) error {
	if v.LessThan(lo) || v.GreaterThan(hi) {
		return fmt.Errorf("%w: %s must be between %s and %s, got %s", ErrOutOfRange, name, lo, hi, v)
	}
	return nil
}
