package repo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"social-connect/internal/types"
)

// AccountRepo persists social_account rows. Reconnect idempotency rides on
// the (platform, account_id) unique constraint and native upsert, not on
// application-level locking.
type AccountRepo struct {
	Pool *pgxpool.Pool
}

func NewAccountRepo(p *pgxpool.Pool) *AccountRepo { return &AccountRepo{Pool: p} }

// UpsertParams is everything a connect flow knows about an account at save
// time.
type UpsertParams struct {
	Platform     types.Platform
	AccountID    string
	Username     string
	AccessToken  string
	RefreshToken string
	Settings     types.Settings
}

const upsertAccountSQL = `
	INSERT INTO social_account
		(id, platform, account_id, username, access_token, refresh_token, is_active, settings, created_at, updated_at)
	VALUES ($1, $2, $3, $4, $5, $6, TRUE, $7, NOW(), NOW())
	ON CONFLICT (platform, account_id) DO UPDATE SET
		username      = EXCLUDED.username,
		access_token  = EXCLUDED.access_token,
		refresh_token = EXCLUDED.refresh_token,
		is_active     = TRUE,
		settings      = social_account.settings || EXCLUDED.settings,
		updated_at    = NOW()
	RETURNING id, platform, account_id, username, access_token, refresh_token, is_active, settings, created_at, updated_at;`

// Upsert inserts or revives the credential row for (platform, accountID).
// The settings bag is merged over whatever the row already holds, so
// reconnects keep metadata the new connect didn't re-learn.
func (r *AccountRepo) Upsert(ctx context.Context, p UpsertParams) (*types.SocialAccount, error) {
	settingsJSON, err := json.Marshal(p.Settings)
	if err != nil {
		return nil, fmt.Errorf("marshal settings: %w", err)
	}
	row := r.Pool.QueryRow(ctx, upsertAccountSQL,
		uuid.NewString(), p.Platform, p.AccountID, nullable(p.Username),
		p.AccessToken, nullable(p.RefreshToken), settingsJSON)
	acct, err := scanAccount(row)
	if err != nil {
		return nil, fmt.Errorf("upsert account %s/%s: %w", p.Platform, p.AccountID, err)
	}
	return acct, nil
}

// Deactivate soft-deletes: flips is_active, keeps token and settings.
// Deactivating an already-inactive or unknown row is a no-op.
func (r *AccountRepo) Deactivate(ctx context.Context, id string) error {
	const q = `
		UPDATE social_account
		SET is_active = FALSE, updated_at = NOW()
		WHERE id = $1;`
	if _, err := r.Pool.Exec(ctx, q, id); err != nil {
		return fmt.Errorf("deactivate account %s: %w", id, err)
	}
	return nil
}

const selectAccountSQL = `
	SELECT id, platform, account_id, username, access_token, refresh_token, is_active, settings, created_at, updated_at
	FROM social_account`

func (r *AccountRepo) GetByID(ctx context.Context, id string) (*types.SocialAccount, error) {
	row := r.Pool.QueryRow(ctx, selectAccountSQL+` WHERE id = $1 LIMIT 1;`, id)
	acct, err := scanAccount(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get account %s: %w", id, err)
	}
	return acct, nil
}

// GetByPlatformAccountID is the read path used by the refresh scheduler and
// by API consumers needing the current token.
func (r *AccountRepo) GetByPlatformAccountID(ctx context.Context, platform types.Platform, accountID string) (*types.SocialAccount, error) {
	row := r.Pool.QueryRow(ctx, selectAccountSQL+` WHERE platform = $1 AND account_id = $2 LIMIT 1;`, platform, accountID)
	acct, err := scanAccount(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get account %s/%s: %w", platform, accountID, err)
	}
	return acct, nil
}

func (r *AccountRepo) ListActiveByPlatform(ctx context.Context, platform types.Platform) ([]*types.SocialAccount, error) {
	rows, err := r.Pool.Query(ctx, selectAccountSQL+` WHERE platform = $1 AND is_active = TRUE ORDER BY created_at;`, platform)
	if err != nil {
		return nil, fmt.Errorf("list active accounts: %w", err)
	}
	defer rows.Close()

	var out []*types.SocialAccount
	for rows.Next() {
		acct, err := scanAccount(rows)
		if err != nil {
			return nil, fmt.Errorf("scan account row: %w", err)
		}
		out = append(out, acct)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows err: %w", err)
	}
	return out, nil
}

// UpdateToken stores a refreshed token and its new expiry metadata.
func (r *AccountRepo) UpdateToken(ctx context.Context, id, newToken string, expiresAt time.Time, tokenType string) error {
	const q = `
		UPDATE social_account
		SET access_token = $2,
			settings     = settings || jsonb_build_object('tokenExpiresAt', $3::text, 'tokenType', $4::text),
			updated_at   = NOW()
		WHERE id = $1;`
	if _, err := r.Pool.Exec(ctx, q, id, newToken, expiresAt.UTC().Format(time.RFC3339), tokenType); err != nil {
		return fmt.Errorf("update token for account %s: %w", id, err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAccount(row rowScanner) (*types.SocialAccount, error) {
	var (
		acct         types.SocialAccount
		username     *string
		refreshToken *string
		settingsJSON []byte
	)
	if err := row.Scan(&acct.ID, &acct.Platform, &acct.AccountID, &username,
		&acct.AccessToken, &refreshToken, &acct.IsActive, &settingsJSON,
		&acct.CreatedAt, &acct.UpdatedAt); err != nil {
		return nil, err
	}
	if username != nil {
		acct.Username = *username
	}
	if refreshToken != nil {
		acct.RefreshToken = *refreshToken
	}
	if len(settingsJSON) > 0 {
		if err := json.Unmarshal(settingsJSON, &acct.Settings); err != nil {
			return nil, fmt.Errorf("unmarshal settings: %w", err)
		}
	}
	if acct.Settings == nil {
		acct.Settings = types.Settings{}
	}
	return &acct, nil
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
