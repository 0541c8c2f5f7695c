package service

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"social-connect/internal/graph"
	"social-connect/internal/types"
)

// RefreshAPI is the Graph surface the refresh path needs.
type RefreshAPI interface {
	RefreshLongLivedToken(ctx context.Context, token string) (*graph.TokenResponse, error)
}

// RefreshStore is the credential-store surface the refresh path needs.
// Satisfied by *repo.AccountRepo.
type RefreshStore interface {
	ListActiveByPlatform(ctx context.Context, platform types.Platform) ([]*types.SocialAccount, error)
	GetByID(ctx context.Context, id string) (*types.SocialAccount, error)
	UpdateToken(ctx context.Context, id, newToken string, expiresAt time.Time, tokenType string) error
}

// TokenCacheInvalidator drops cached tokens after a refresh so readers see
// the new one. Satisfied by *repo.TokenLookup.
type TokenCacheInvalidator interface {
	Invalidate(ctx context.Context, platform types.Platform, accountID string)
}

// RefreshService renews a single account's long-lived token.
type RefreshService struct {
	API   RefreshAPI
	Store RefreshStore
	Cache TokenCacheInvalidator
	Log   *zap.Logger
}

func NewRefreshService(api RefreshAPI, store RefreshStore, cache TokenCacheInvalidator, log *zap.Logger) *RefreshService {
	return &RefreshService{API: api, Store: store, Cache: cache, Log: log}
}

// RefreshAccount re-exchanges the account's current token and stores the new
// one with recomputed expiry metadata.
func (s *RefreshService) RefreshAccount(ctx context.Context, accountRowID string) (time.Time, error) {
	acct, err := s.Store.GetByID(ctx, accountRowID)
	if err != nil {
		return time.Time{}, err
	}
	if acct == nil || !acct.IsActive {
		// Disconnected between scheduling and execution; nothing to do.
		return time.Time{}, nil
	}

	tr, err := s.API.RefreshLongLivedToken(ctx, acct.AccessToken)
	if err != nil {
		return time.Time{}, fmt.Errorf("refresh account %s/%s: %w", acct.Platform, acct.AccountID, err)
	}

	expiresIn := tr.ExpiresIn
	if expiresIn == 0 {
		// Refreshed long-lived tokens are documented as 60 days.
		expiresIn = int64(60 * 24 * time.Hour / time.Second)
	}
	expiresAt := time.Now().Add(time.Duration(expiresIn) * time.Second)

	if err := s.Store.UpdateToken(ctx, acct.ID, tr.AccessToken, expiresAt, types.ClassifyToken(expiresIn)); err != nil {
		return time.Time{}, err
	}
	if s.Cache != nil {
		s.Cache.Invalidate(ctx, acct.Platform, acct.AccountID)
	}

	s.Log.Info("token refreshed",
		zap.String("platform", string(acct.Platform)),
		zap.String("account_id", acct.AccountID),
		zap.Time("expires_at", expiresAt))
	return expiresAt, nil
}

// AccountRefresher is what the scheduler does to each due account. In
// production this enqueues an asynq task; tests plug in a direct fake.
type AccountRefresher interface {
	RefreshAccount(ctx context.Context, acct *types.SocialAccount) error
}

// Scheduler walks active accounts once per tick and hands each soon-to-expire
// token to the refresher. A failing account is logged and skipped; the pass
// always finishes.
type Scheduler struct {
	Store     RefreshStore
	Refresher AccountRefresher
	Threshold time.Duration // refresh when less than this remains
	Log       *zap.Logger
}

func NewScheduler(store RefreshStore, refresher AccountRefresher, thresholdDays int, log *zap.Logger) *Scheduler {
	return &Scheduler{
		Store:     store,
		Refresher: refresher,
		Threshold: time.Duration(thresholdDays) * 24 * time.Hour,
		Log:       log,
	}
}

// PassStats summarizes one scheduler pass.
type PassStats struct {
	Scanned   int `json:"scanned"`
	Due       int `json:"due"`
	Refreshed int `json:"refreshed"`
	Failed    int `json:"failed"`
}

// RunPass scans active Instagram accounts. Instagram is the only platform in
// scope with a refresh endpoint; other platforms' rows are untouched.
func (s *Scheduler) RunPass(ctx context.Context) (PassStats, error) {
	var stats PassStats

	accounts, err := s.Store.ListActiveByPlatform(ctx, types.PlatformInstagram)
	if err != nil {
		return stats, fmt.Errorf("load accounts for refresh pass: %w", err)
	}
	stats.Scanned = len(accounts)

	for _, acct := range accounts {
		if acct.Settings.IsPlaceholder() {
			continue
		}
		expiresAt := acct.Settings.TokenExpiresAt()
		if expiresAt.IsZero() {
			s.Log.Warn("account has no stored token expiry, skipping",
				zap.String("account_id", acct.AccountID))
			continue
		}
		if time.Until(expiresAt) >= s.Threshold {
			continue
		}
		stats.Due++

		if err := s.Refresher.RefreshAccount(ctx, acct); err != nil {
			stats.Failed++
			s.Log.Error("refresh failed, will retry next pass",
				zap.String("platform", string(acct.Platform)),
				zap.String("account_id", acct.AccountID),
				zap.Time("expires_at", expiresAt),
				zap.Error(err))
			continue
		}
		stats.Refreshed++
	}

	s.Log.Info("refresh pass complete",
		zap.Int("scanned", stats.Scanned),
		zap.Int("due", stats.Due),
		zap.Int("refreshed", stats.Refreshed),
		zap.Int("failed", stats.Failed))
	return stats, nil
}
