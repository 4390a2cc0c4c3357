// Package models defines data structures for stocksync
package models

import (
	"errors"
	"time"
)

// ErrUpstreamUnauthorized is wrapped by upstream errors that reject the access token.
var ErrUpstreamUnauthorized = errors.New("upstream rejected access token")

// TrackedStock is a stock captured on a given day whose prices are kept
// current by the sync cycle. HighestPrice only ever rises and LowestPrice
// only ever falls once set.
type TrackedStock struct {
	ID           string    `json:"id"`
	Code         string    `json:"code"` // six-digit exchange code, e.g. "005930"
	Name         string    `json:"name"`
	Market       string    `json:"market,omitempty"` // KOSPI / KOSDAQ
	CapturePrice int       `json:"capture_price"`
	CaptureDate  time.Time `json:"capture_date"`
	CurrentPrice int       `json:"current_price"`
	HighestPrice *int      `json:"highest_price,omitempty"`
	LowestPrice  *int      `json:"lowest_price,omitempty"` // math.MaxInt32 means unknown
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// DailyPricePoint is one trading day returned by the upstream daily price API.
// It is never persisted.
type DailyPricePoint struct {
	Date       string  `json:"date"` // YYYYMMDD
	Open       int     `json:"open"`
	High       int     `json:"high"`
	Low        int     `json:"low"`
	Close      int     `json:"close"`
	Volume     int64   `json:"volume"`
	ChangeRate float64 `json:"change_rate"`
}

// UpstreamToken is a bearer token issued by the upstream API, held in memory only.
type UpstreamToken struct {
	Token     string    `json:"token"`
	ExpiresDT string    `json:"expires_dt"` // upstream expiry label, informational
	IssuedAt  time.Time `json:"issued_at"`
}

// DateOf truncates t to its calendar date in loc, returned as UTC midnight of
// that date. Capture and trade dates are stored in this form so equality
// comparisons are timezone independent.
func DateOf(t time.Time, loc *time.Location) time.Time {
	if loc == nil {
		loc = time.UTC
	}
	y, m, d := t.In(loc).Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// DaysBetween returns the whole number of calendar days from a to b, both dates
// as produced by DateOf.
func DaysBetween(a, b time.Time) int {
	return int(b.Sub(a).Hours() / 24)
}
