package models

import (
	"errors"
	"fmt"
	"time"
)

// Trade status constants
const (
	TradeStatusActive    = "ACTIVE"
	TradeStatusPaused    = "PAUSED"
	TradeStatusCompleted = "COMPLETED"
)

var (
	// ErrNotFound is returned by stores and services when a record does not exist.
	ErrNotFound = errors.New("not found")
	// ErrInvalidTransition is returned when a trade status change is not allowed.
	ErrInvalidTransition = errors.New("invalid status transition")
	// ErrInvalidInput is returned when a record fails validation on create.
	ErrInvalidInput = errors.New("invalid input")
)

// SimulatedTrade is a simulated periodic-buy position on one stock.
type SimulatedTrade struct {
	ID              string     `json:"id"`
	StockCode       string     `json:"stock_code"`
	StockName       string     `json:"stock_name"`
	InvestPer       int        `json:"invest_per"` // investment amount per participant
	Status          string     `json:"status"`
	StartDate       time.Time  `json:"start_date"`
	EndDate         *time.Time `json:"end_date,omitempty"`
	AveragePrice    *int       `json:"average_price,omitempty"`
	CurrentBuyCount int        `json:"current_buy_count"`
	TargetBuyCount  *int       `json:"target_buy_count,omitempty"`
	CurrentPrice    *int       `json:"current_price,omitempty"`
	FinalReturnRate *float64   `json:"final_return_rate,omitempty"`
	FinalPeriod     *int       `json:"final_period,omitempty"` // days held
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

// IsValidTradeStatus reports whether s is a known trade status.
func IsValidTradeStatus(s string) bool {
	switch s {
	case TradeStatusActive, TradeStatusPaused, TradeStatusCompleted:
		return true
	}
	return false
}

// CanTransition reports whether a trade may move from one status to another.
// COMPLETED is terminal.
func CanTransition(from, to string) bool {
	switch from {
	case TradeStatusActive:
		return to == TradeStatusPaused || to == TradeStatusCompleted
	case TradeStatusPaused:
		return to == TradeStatusActive || to == TradeStatusCompleted
	}
	return false
}

// TransitionTo moves the trade to the given status or returns ErrInvalidTransition.
func (t *SimulatedTrade) TransitionTo(status string) error {
	if !CanTransition(t.Status, status) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, t.Status, status)
	}
	t.Status = status
	return nil
}

// TradeView is a trade together with its resolved buy price.
type TradeView struct {
	*SimulatedTrade
	BuyPrice *int `json:"buy_price,omitempty"`
}
