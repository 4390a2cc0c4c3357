// Package interfaces defines service contracts for stocksync
package interfaces

import (
	"context"

	"github.com/bobmcallan/stocksync/internal/models"
)

// UpstreamClient provides access to the brokerage daily price API
type UpstreamClient interface {
	// Authenticate performs a client-credentials grant and returns a fresh token
	Authenticate(ctx context.Context) (*models.UpstreamToken, error)

	// FetchDailyPrices returns at most maxCount daily rows for stockCode,
	// newest first, ending at queryDate (YYYYMMDD). A rejected token yields
	// an error wrapping models.ErrUpstreamUnauthorized.
	FetchDailyPrices(ctx context.Context, token, stockCode, queryDate string, maxCount int) ([]models.DailyPricePoint, error)
}

// TokenSource hands out a bearer token, reusing a cached one while it is valid
type TokenSource interface {
	Token(ctx context.Context) (*models.UpstreamToken, error)

	// Invalidate drops the cached token after the upstream rejected it
	Invalidate()
}
