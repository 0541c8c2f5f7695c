package connect

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"social-connect/internal/repo"
	"social-connect/internal/types"
)

// ErrInvalidToken rejects manual token input before any network call.
var ErrInvalidToken = errors.New("access token is missing or too short")

// Manually pasted Graph tokens are long opaque strings; anything shorter is
// a paste error, not a token.
const minManualTokenLen = 50

// AccountStore is the persistence surface the connect flow needs. Satisfied
// by *repo.AccountRepo.
type AccountStore interface {
	Upsert(ctx context.Context, p repo.UpsertParams) (*types.SocialAccount, error)
}

// Service runs the full connect flow: exchange (code path), resolve, persist.
type Service struct {
	exchanger *Exchanger
	resolver  *Resolver
	api       GraphAPI
	accounts  AccountStore
	log       *zap.Logger

	// AllowForceSave gates the placeholder escape hatch; false in production.
	AllowForceSave bool
}

func NewService(api GraphAPI, accounts AccountStore, log *zap.Logger, allowForceSave bool) *Service {
	return &Service{
		exchanger:      NewExchanger(api),
		resolver:       NewResolver(api, log),
		api:            api,
		accounts:       accounts,
		log:            log,
		AllowForceSave: allowForceSave,
	}
}

// ConnectWithCode completes an OAuth callback: code → long-lived token →
// business account → stored credential.
func (s *Service) ConnectWithCode(ctx context.Context, code string, opts ResolveOptions) (*types.SocialAccount, error) {
	if code == "" {
		return nil, fmt.Errorf("%w: empty authorization code", ErrInvalidToken)
	}
	opts.ForceSave = opts.ForceSave && s.AllowForceSave

	token, err := s.exchanger.ExchangeAndUpgrade(ctx, code)
	if err != nil {
		return nil, err
	}

	info, err := s.resolver.ResolveBusinessAccount(ctx, token.AccessToken, opts)
	if err != nil {
		return nil, err
	}

	return s.persist(ctx, info, token.ExpiresAt, token.ExpiresIn, "oauth")
}

// ConnectWithToken handles the manual-token setup path. The token's expiry
// is backfilled via debug_token when the app credentials allow it.
func (s *Service) ConnectWithToken(ctx context.Context, accessToken string, opts ResolveOptions) (*types.SocialAccount, error) {
	if len(accessToken) < minManualTokenLen {
		return nil, ErrInvalidToken
	}
	opts.ForceSave = opts.ForceSave && s.AllowForceSave

	var (
		expiresAt time.Time
		expiresIn int64
	)
	if dbg, err := s.api.DebugToken(ctx, accessToken); err == nil && dbg.ExpiresAt > 0 {
		expiresAt = time.Unix(dbg.ExpiresAt, 0)
		expiresIn = int64(time.Until(expiresAt) / time.Second)
		if !dbg.IsValid {
			s.log.Warn("manual token reported invalid by debug_token; continuing with resolution")
		}
	} else {
		// No introspection available; assume the documented 60 days.
		expiresIn = int64(60 * 24 * time.Hour / time.Second)
		expiresAt = time.Now().Add(time.Duration(expiresIn) * time.Second)
	}

	info, err := s.resolver.ResolveBusinessAccount(ctx, accessToken, opts)
	if err != nil {
		return nil, err
	}

	return s.persist(ctx, info, expiresAt, expiresIn, "manual")
}

func (s *Service) persist(ctx context.Context, info *BusinessAccountInfo, expiresAt time.Time, expiresIn int64, source string) (*types.SocialAccount, error) {
	settings := types.Settings{
		types.SettingTokenExpiresAt: expiresAt.UTC().Format(time.RFC3339),
		types.SettingTokenType:      types.ClassifyToken(expiresIn),
		types.SettingTokenSource:    source,
	}
	if info.FollowersCount > 0 {
		settings[types.SettingFollowersCount] = info.FollowersCount
	}
	if info.MediaCount > 0 {
		settings[types.SettingMediaCount] = info.MediaCount
	}
	if info.Biography != "" {
		settings[types.SettingBiography] = info.Biography
	}
	if info.PageID != "" {
		settings[types.SettingPageID] = info.PageID
		settings[types.SettingPageName] = info.PageName
	}
	if info.Placeholder {
		settings[types.SettingPlaceholder] = true
	}

	acct, err := s.accounts.Upsert(ctx, repo.UpsertParams{
		Platform:    types.PlatformInstagram,
		AccountID:   info.AccountID,
		Username:    info.Username,
		AccessToken: info.AccessToken,
		Settings:    settings,
	})
	if err != nil {
		return nil, fmt.Errorf("persist credential: %w", err)
	}

	s.log.Info("account connected",
		zap.String("platform", string(acct.Platform)),
		zap.String("account_id", acct.AccountID),
		zap.String("username", acct.Username),
		zap.String("token_type", acct.Settings.TokenType()),
		zap.Bool("placeholder", acct.Settings.IsPlaceholder()))
	return acct, nil
}
