package types

import (
	"time"

	"github.com/spf13/cast"
)

type Platform string

const (
	PlatformInstagram Platform = "INSTAGRAM"
	PlatformTikTok    Platform = "TIKTOK"
	PlatformWhatsApp  Platform = "WHATSAPP"
)

func (p Platform) Valid() bool {
	switch p {
	case PlatformInstagram, PlatformTikTok, PlatformWhatsApp:
		return true
	}
	return false
}

const (
	TokenTypeLongLived  = "long_lived"
	TokenTypeShortLived = "short_lived"

	// Tokens valid for more than a day count as long-lived.
	longLivedCutoff = 24 * time.Hour
)

// ClassifyToken maps a token TTL (in seconds, as reported by the platform)
// to a stored token-type label.
func ClassifyToken(expiresInSeconds int64) string {
	if time.Duration(expiresInSeconds)*time.Second > longLivedCutoff {
		return TokenTypeLongLived
	}
	return TokenTypeShortLived
}

// Settings is the open-ended metadata bag persisted as JSONB alongside a
// credential: expiry bookkeeping plus whatever profile fields the platform
// returned at connect time.
type Settings map[string]any

const (
	SettingTokenExpiresAt = "tokenExpiresAt"
	SettingTokenType      = "tokenType"
	SettingTokenSource    = "tokenSource"
	SettingFollowersCount = "followersCount"
	SettingMediaCount     = "mediaCount"
	SettingBiography      = "biography"
	SettingPageID         = "pageId"
	SettingPageName       = "pageName"
	SettingPlaceholder    = "placeholder"
)

// TokenExpiresAt returns the stored expiry, or the zero time if absent or
// unparseable.
func (s Settings) TokenExpiresAt() time.Time {
	raw, ok := s[SettingTokenExpiresAt]
	if !ok {
		return time.Time{}
	}
	t, err := cast.ToTimeE(raw)
	if err != nil {
		return time.Time{}
	}
	return t
}

func (s Settings) TokenType() string {
	return cast.ToString(s[SettingTokenType])
}

func (s Settings) IsPlaceholder() bool {
	return cast.ToBool(s[SettingPlaceholder])
}

// SocialAccount is one connected platform credential. (platform, account_id)
// is unique; disconnect flips IsActive instead of deleting the row.
type SocialAccount struct {
	ID           string
	Platform     Platform
	AccountID    string
	Username     string
	AccessToken  string
	RefreshToken string
	IsActive     bool
	Settings     Settings
	CreatedAt    time.Time
	UpdatedAt    time.Time
}
