package kiwoom

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/bobmcallan/stocksync/internal/common"
	"github.com/bobmcallan/stocksync/internal/interfaces"
	"github.com/bobmcallan/stocksync/internal/models"
)

// DefaultTokenMaxAge keeps a one hour margin before the upstream's 24h expiry.
const DefaultTokenMaxAge = 23 * time.Hour

// tokenIssuer is the part of the client the cache needs
type tokenIssuer interface {
	Authenticate(ctx context.Context) (*models.UpstreamToken, error)
}

// TokenCache holds the most recent access token and reuses it while its age
// is strictly below maxAge. It starts empty; a refresh replaces the cached
// token as a whole.
type TokenCache struct {
	issuer tokenIssuer
	logger *common.Logger
	maxAge time.Duration
	now    func() time.Time

	mu    sync.Mutex
	token *models.UpstreamToken
}

// NewTokenCache creates an empty cache backed by issuer
func NewTokenCache(issuer tokenIssuer, logger *common.Logger) *TokenCache {
	if logger == nil {
		logger = common.NewSilentLogger()
	}
	return &TokenCache{
		issuer: issuer,
		logger: logger,
		maxAge: DefaultTokenMaxAge,
		now:    time.Now,
	}
}

// Token returns the cached token or authenticates for a new one.
// Authentication failures are returned as-is; there is no retry here.
func (tc *TokenCache) Token(ctx context.Context) (*models.UpstreamToken, error) {
	tc.mu.Lock()
	defer tc.mu.Unlock()

	now := tc.now()
	if tc.token != nil && now.Sub(tc.token.IssuedAt) < tc.maxAge {
		tc.logger.Debug().Str("expires_dt", tc.token.ExpiresDT).Msg("Reusing cached Kiwoom token")
		t := *tc.token
		return &t, nil
	}

	issued, err := tc.issuer.Authenticate(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to obtain access token: %w", err)
	}

	fresh := *issued
	fresh.IssuedAt = now
	tc.token = &fresh

	t := fresh
	return &t, nil
}

// Invalidate drops the cached token so the next call re-authenticates
func (tc *TokenCache) Invalidate() {
	tc.mu.Lock()
	tc.token = nil
	tc.mu.Unlock()
}

// Compile-time check
var _ interfaces.TokenSource = (*TokenCache)(nil)
