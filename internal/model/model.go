// Package model defines the core domain types shared across the market engine.
// All monetary values use shopspring/decimal, never float64.
package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Side is the direction of a trade.
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// Valid reports whether s is BUY or SELL.
func (s Side) Valid() bool {
	return s == SideBuy || s == SideSell
}

// Sentiment classifies a news event.
type Sentiment string

const (
	SentimentPositive Sentiment = "POSITIVE"
	SentimentNegative Sentiment = "NEGATIVE"
	SentimentNeutral  Sentiment = "NEUTRAL"
)

// Valid reports whether s is one of the known sentiments.
func (s Sentiment) Valid() bool {
	switch s {
	case SentimentPositive, SentimentNegative, SentimentNeutral:
		return true
	}
	return false
}

// Roles resolved by the identity layer.
const (
	RoleAdmin = "ADMIN"
	RoleGuest = "GUEST"
)

// Instrument is a synthetic stock whose price is driven by the simulator,
// trades (volume only) and sector news shocks.
type Instrument struct {
	Ticker      string          `json:"ticker" gorm:"primaryKey;size:25"`
	Name        string          `json:"name" gorm:"size:150;not null"`
	Sector      string          `json:"sector" gorm:"size:50;index;not null"`
	Description string          `json:"description,omitempty" gorm:"size:250"`
	Price       decimal.Decimal `json:"price" gorm:"type:text;not null"`
	Change      decimal.Decimal `json:"change" gorm:"type:text;not null"`
	Volume      int64           `json:"volume" gorm:"not null;default:0"`
	Volatility  decimal.Decimal `json:"volatility" gorm:"type:text;not null"`
	Active      bool            `json:"isActive" gorm:"column:is_active;not null"`
	LastTradeAt *time.Time      `json:"lastTradeDate" gorm:"column:last_trade_at"`
	CreatedAt   time.Time       `json:"createdAt"`
}

func (Instrument) TableName() string { return "instruments" }

// PricePoint is one append-only sample of an instrument's price.
type PricePoint struct {
	ID         int64           `json:"-" gorm:"primaryKey;autoIncrement"`
	Ticker     string          `json:"ticker" gorm:"size:25;index:idx_price_history_ticker_time,priority:1;not null"`
	Price      decimal.Decimal `json:"price" gorm:"type:text;not null"`
	RecordedAt time.Time       `json:"timestamp" gorm:"index:idx_price_history_ticker_time,priority:2;not null"`
}

func (PricePoint) TableName() string { return "price_history" }

// Account carries the virtual cash balance of one user.
type Account struct {
	UserID    string          `json:"userId" gorm:"primaryKey;size:64"`
	Balance   decimal.Decimal `json:"balance" gorm:"type:text;not null"`
	Active    bool            `json:"isActive" gorm:"column:is_active;not null"`
	CreatedAt time.Time       `json:"createdAt"`
}

func (Account) TableName() string { return "accounts" }

// Position is a user's holding in one ticker. Quantity is always > 0 while
// the row exists; a full sell deletes it.
type Position struct {
	UserID    string          `json:"userId" gorm:"primaryKey;size:64"`
	Ticker    string          `json:"ticker" gorm:"primaryKey;size:25"`
	Quantity  int64           `json:"quantity" gorm:"not null"`
	AvgCost   decimal.Decimal `json:"avgCost" gorm:"type:text;not null"`
	UpdatedAt time.Time       `json:"updatedAt"`
}

func (Position) TableName() string { return "positions" }

// Transaction is an immutable record of a trade execution.
// Once created, these are never modified or deleted.
type Transaction struct {
	ID         string          `json:"id" gorm:"primaryKey;size:36"`
	UserID     string          `json:"userId" gorm:"size:64;index;not null"`
	Ticker     string          `json:"ticker" gorm:"size:25;not null"`
	Side       Side            `json:"type" gorm:"size:4;not null"`
	Quantity   int64           `json:"quantity" gorm:"not null"`
	Price      decimal.Decimal `json:"price" gorm:"type:text;not null"`
	Total      decimal.Decimal `json:"total" gorm:"type:text;not null"`
	ExecutedAt time.Time       `json:"timestamp" gorm:"not null"`
}

func (Transaction) TableName() string { return "transactions" }

// NewsEvent is an administrator-submitted sector shock. Magnitude is applied
// once, when the event is created; Duration is descriptive only.
type NewsEvent struct {
	ID        string          `json:"id" gorm:"primaryKey;size:36"`
	Headline  string          `json:"headline" gorm:"not null"`
	Summary   string          `json:"summary" gorm:"not null"`
	Sector    string          `json:"sector" gorm:"size:50;not null"`
	Magnitude decimal.Decimal `json:"magnitude" gorm:"type:text;not null"`
	Duration  int             `json:"duration" gorm:"not null"`
	Sentiment Sentiment       `json:"sentiment" gorm:"size:8;not null"`
	CreatedAt time.Time       `json:"createdAt"`
}

func (NewsEvent) TableName() string { return "news_events" }

// PortfolioItem is a position marked to the instrument's current price.
type PortfolioItem struct {
	Position
	CurrentPrice  decimal.Decimal `json:"currentPrice"`
	MarketValue   decimal.Decimal `json:"marketValue"`
	CostBasis     decimal.Decimal `json:"costBasis"`
	UnrealizedPnL decimal.Decimal `json:"unrealizedPnl"`
}

// Portfolio aggregates a user's cash and holdings.
type Portfolio struct {
	UserID        string          `json:"userId"`
	Balance       decimal.Decimal `json:"balance"`
	Positions     []PortfolioItem `json:"positions"`
	HoldingsValue decimal.Decimal `json:"holdingsValue"`
	TotalValue    decimal.Decimal `json:"totalValue"`
	TotalPnL      decimal.Decimal `json:"totalPnl"`
}
