package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"social-connect/internal/graph"
	"social-connect/internal/types"
)

type fakeRefreshStore struct {
	accounts []*types.SocialAccount
	listErr  error

	updatedID        string
	updatedToken     string
	updatedExpiresAt time.Time
	updatedTokenType string
}

func (s *fakeRefreshStore) ListActiveByPlatform(ctx context.Context, platform types.Platform) ([]*types.SocialAccount, error) {
	if s.listErr != nil {
		return nil, s.listErr
	}
	var out []*types.SocialAccount
	for _, a := range s.accounts {
		if a.Platform == platform && a.IsActive {
			out = append(out, a)
		}
	}
	return out, nil
}

func (s *fakeRefreshStore) GetByID(ctx context.Context, id string) (*types.SocialAccount, error) {
	for _, a := range s.accounts {
		if a.ID == id {
			return a, nil
		}
	}
	return nil, nil
}

func (s *fakeRefreshStore) UpdateToken(ctx context.Context, id, newToken string, expiresAt time.Time, tokenType string) error {
	s.updatedID = id
	s.updatedToken = newToken
	s.updatedExpiresAt = expiresAt
	s.updatedTokenType = tokenType
	return nil
}

type fakeRefreshAPI struct {
	calls int
	resp  *graph.TokenResponse
	err   error
}

func (f *fakeRefreshAPI) RefreshLongLivedToken(ctx context.Context, token string) (*graph.TokenResponse, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.resp, nil
}

// fakeRefresher records which accounts the scheduler handed over and can
// fail selected ones.
type fakeRefresher struct {
	refreshed []string
	failFor   map[string]error
}

func (f *fakeRefresher) RefreshAccount(ctx context.Context, acct *types.SocialAccount) error {
	f.refreshed = append(f.refreshed, acct.AccountID)
	if err, ok := f.failFor[acct.AccountID]; ok {
		return err
	}
	return nil
}

func igAccount(id, accountID string, expiresIn time.Duration) *types.SocialAccount {
	return &types.SocialAccount{
		ID:          id,
		Platform:    types.PlatformInstagram,
		AccountID:   accountID,
		AccessToken: "tok-" + accountID,
		IsActive:    true,
		Settings: types.Settings{
			types.SettingTokenExpiresAt: time.Now().Add(expiresIn).Format(time.RFC3339),
		},
	}
}

func TestSchedulerRefreshThreshold(t *testing.T) {
	store := &fakeRefreshStore{accounts: []*types.SocialAccount{
		igAccount("row-1", "IG_SOON", 9*24*time.Hour),
		igAccount("row-2", "IG_LATER", 11*24*time.Hour),
	}}
	refresher := &fakeRefresher{}
	sched := NewScheduler(store, refresher, 10, zap.NewNop())

	stats, err := sched.RunPass(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []string{"IG_SOON"}, refresher.refreshed)
	assert.Equal(t, 2, stats.Scanned)
	assert.Equal(t, 1, stats.Due)
	assert.Equal(t, 1, stats.Refreshed)
}

func TestSchedulerToleratesPartialFailure(t *testing.T) {
	store := &fakeRefreshStore{accounts: []*types.SocialAccount{
		igAccount("row-1", "IG_A", 24*time.Hour),
		igAccount("row-2", "IG_B", 24*time.Hour),
		igAccount("row-3", "IG_C", 24*time.Hour),
	}}
	refresher := &fakeRefresher{failFor: map[string]error{
		"IG_B": errors.New("graph api: status 400"),
	}}
	sched := NewScheduler(store, refresher, 10, zap.NewNop())

	stats, err := sched.RunPass(context.Background())
	require.NoError(t, err)

	// The middle failure must not stop the third account's refresh.
	assert.Equal(t, []string{"IG_A", "IG_B", "IG_C"}, refresher.refreshed)
	assert.Equal(t, 3, stats.Due)
	assert.Equal(t, 2, stats.Refreshed)
	assert.Equal(t, 1, stats.Failed)
}

func TestSchedulerSkipsPlaceholdersAndMissingExpiry(t *testing.T) {
	placeholder := igAccount("row-1", "IG_FAKE", 24*time.Hour)
	placeholder.Settings[types.SettingPlaceholder] = true

	noExpiry := &types.SocialAccount{
		ID: "row-2", Platform: types.PlatformInstagram, AccountID: "IG_NOEXP",
		IsActive: true, Settings: types.Settings{},
	}

	store := &fakeRefreshStore{accounts: []*types.SocialAccount{placeholder, noExpiry}}
	refresher := &fakeRefresher{}
	sched := NewScheduler(store, refresher, 10, zap.NewNop())

	stats, err := sched.RunPass(context.Background())
	require.NoError(t, err)
	assert.Empty(t, refresher.refreshed)
	assert.Equal(t, 0, stats.Due)
}

func TestRefreshAccountStoresNewToken(t *testing.T) {
	store := &fakeRefreshStore{accounts: []*types.SocialAccount{
		igAccount("row-1", "IG1", 5*24*time.Hour),
	}}
	api := &fakeRefreshAPI{resp: &graph.TokenResponse{AccessToken: "L2", ExpiresIn: 5184000}}
	svc := NewRefreshService(api, store, nil, zap.NewNop())

	expiresAt, err := svc.RefreshAccount(context.Background(), "row-1")
	require.NoError(t, err)

	assert.Equal(t, "row-1", store.updatedID)
	assert.Equal(t, "L2", store.updatedToken)
	assert.Equal(t, types.TokenTypeLongLived, store.updatedTokenType)
	assert.WithinDuration(t, time.Now().Add(60*24*time.Hour), expiresAt, time.Minute)
}

func TestRefreshAccountDefaultsMissingExpiresIn(t *testing.T) {
	store := &fakeRefreshStore{accounts: []*types.SocialAccount{
		igAccount("row-1", "IG1", 5*24*time.Hour),
	}}
	api := &fakeRefreshAPI{resp: &graph.TokenResponse{AccessToken: "L2"}}
	svc := NewRefreshService(api, store, nil, zap.NewNop())

	expiresAt, err := svc.RefreshAccount(context.Background(), "row-1")
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now().Add(60*24*time.Hour), expiresAt, time.Minute)
}

func TestRefreshAccountLeavesTokenOnFailure(t *testing.T) {
	store := &fakeRefreshStore{accounts: []*types.SocialAccount{
		igAccount("row-1", "IG1", 5*24*time.Hour),
	}}
	api := &fakeRefreshAPI{err: errors.New("rate limited")}
	svc := NewRefreshService(api, store, nil, zap.NewNop())

	_, err := svc.RefreshAccount(context.Background(), "row-1")
	require.Error(t, err)
	assert.Empty(t, store.updatedToken)
}

func TestRefreshAccountSkipsDeactivated(t *testing.T) {
	acct := igAccount("row-1", "IG1", 5*24*time.Hour)
	acct.IsActive = false
	store := &fakeRefreshStore{accounts: []*types.SocialAccount{acct}}
	api := &fakeRefreshAPI{resp: &graph.TokenResponse{AccessToken: "L2"}}
	svc := NewRefreshService(api, store, nil, zap.NewNop())

	expiresAt, err := svc.RefreshAccount(context.Background(), "row-1")
	require.NoError(t, err)
	assert.True(t, expiresAt.IsZero())
	assert.Equal(t, 0, api.calls)
}
