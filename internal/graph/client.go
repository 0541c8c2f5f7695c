package graph

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const DefaultBaseURL = "https://graph.facebook.com"

// Client talks to the Meta Graph API. One instance per app; tokens are
// passed per call since each connected account carries its own.
type Client struct {
	HTTP       *http.Client
	BaseURL    string
	AppID      string
	AppSecret  string
	APIVersion string // e.g. v21.0

	RedirectURI string // registered OAuth redirect, used in code exchange
}

func NewClient(appID, appSecret, redirectURI, apiVersion string) *Client {
	if apiVersion == "" {
		apiVersion = "v21.0"
	}
	return &Client{
		HTTP:        &http.Client{Timeout: 10 * time.Second},
		BaseURL:     DefaultBaseURL,
		AppID:       appID,
		AppSecret:   appSecret,
		APIVersion:  apiVersion,
		RedirectURI: redirectURI,
	}
}

// APIError is a non-2xx Graph response, carrying the upstream error envelope
// when one could be decoded.
type APIError struct {
	StatusCode int
	Message    string
	Type       string
	Code       int
}

func (e *APIError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("graph api: status %d: %s (type=%s, code=%d)", e.StatusCode, e.Message, e.Type, e.Code)
	}
	return fmt.Sprintf("graph api: status %d", e.StatusCode)
}

type TokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int64  `json:"expires_in"`
}

type UserInfo struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
}

type Page struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	AccessToken string `json:"access_token"`

	InstagramBusinessAccount *struct {
		ID string `json:"id"`
	} `json:"instagram_business_account"`
}

type BusinessProfile struct {
	ID                string `json:"id"`
	Username          string `json:"username"`
	Name              string `json:"name"`
	FollowersCount    int64  `json:"followers_count"`
	MediaCount        int64  `json:"media_count"`
	Biography         string `json:"biography"`
	ProfilePictureURL string `json:"profile_picture_url"`
}

type TokenDebugInfo struct {
	IsValid   bool     `json:"is_valid"`
	ExpiresAt int64    `json:"expires_at"`
	Scopes    []string `json:"scopes"`
}

// ExchangeCode trades an OAuth authorization code for a short-lived user
// token.
func (c *Client) ExchangeCode(ctx context.Context, code string) (*TokenResponse, error) {
	endpoint := fmt.Sprintf("%s/%s/oauth/access_token", c.BaseURL, c.APIVersion)
	form := url.Values{
		"client_id":     {c.AppID},
		"client_secret": {c.AppSecret},
		"grant_type":    {"authorization_code"},
		"redirect_uri":  {c.RedirectURI},
		"code":          {code},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	var tr TokenResponse
	if err := c.do(req, &tr); err != nil {
		return nil, fmt.Errorf("exchange code: %w", err)
	}
	return &tr, nil
}

// ExchangeLongLived upgrades a short-lived token to a long-lived one
// (~60 days).
func (c *Client) ExchangeLongLived(ctx context.Context, shortToken string) (*TokenResponse, error) {
	q := url.Values{
		"grant_type":        {"fb_exchange_token"},
		"client_id":         {c.AppID},
		"client_secret":     {c.AppSecret},
		"fb_exchange_token": {shortToken},
	}
	var tr TokenResponse
	if err := c.get(ctx, fmt.Sprintf("%s/%s/oauth/access_token?%s", c.BaseURL, c.APIVersion, q.Encode()), &tr); err != nil {
		return nil, fmt.Errorf("exchange long-lived: %w", err)
	}
	return &tr, nil
}

// RefreshLongLivedToken re-exchanges a still-valid long-lived token for a
// fresh one.
func (c *Client) RefreshLongLivedToken(ctx context.Context, token string) (*TokenResponse, error) {
	q := url.Values{
		"grant_type":        {"fb_exchange_token"},
		"client_id":         {c.AppID},
		"client_secret":     {c.AppSecret},
		"fb_exchange_token": {token},
	}
	var tr TokenResponse
	if err := c.get(ctx, fmt.Sprintf("%s/%s/oauth/access_token?%s", c.BaseURL, c.APIVersion, q.Encode()), &tr); err != nil {
		return nil, fmt.Errorf("refresh token: %w", err)
	}
	return &tr, nil
}

func (c *Client) GetMe(ctx context.Context, token string) (*UserInfo, error) {
	q := url.Values{
		"fields":       {"id,name,email"},
		"access_token": {token},
	}
	var u UserInfo
	if err := c.get(ctx, fmt.Sprintf("%s/%s/me?%s", c.BaseURL, c.APIVersion, q.Encode()), &u); err != nil {
		return nil, fmt.Errorf("get me: %w", err)
	}
	return &u, nil
}

// ListPages returns the pages reachable by the user token, each with its
// page-scoped token and linked IG business account stub when present.
func (c *Client) ListPages(ctx context.Context, token string) ([]Page, error) {
	q := url.Values{
		"fields":       {"id,name,access_token,instagram_business_account"},
		"access_token": {token},
	}
	var out struct {
		Data []Page `json:"data"`
	}
	if err := c.get(ctx, fmt.Sprintf("%s/%s/me/accounts?%s", c.BaseURL, c.APIVersion, q.Encode()), &out); err != nil {
		return nil, fmt.Errorf("list pages: %w", err)
	}
	return out.Data, nil
}

func (c *Client) GetBusinessProfile(ctx context.Context, businessAccountID, token string) (*BusinessProfile, error) {
	q := url.Values{
		"fields":       {"id,username,name,followers_count,media_count,biography,profile_picture_url"},
		"access_token": {token},
	}
	var p BusinessProfile
	if err := c.get(ctx, fmt.Sprintf("%s/%s/%s?%s", c.BaseURL, c.APIVersion, businessAccountID, q.Encode()), &p); err != nil {
		return nil, fmt.Errorf("get business profile %s: %w", businessAccountID, err)
	}
	return &p, nil
}

// DebugToken introspects a token's validity and expiry using the app token.
func (c *Client) DebugToken(ctx context.Context, inputToken string) (*TokenDebugInfo, error) {
	q := url.Values{
		"input_token":  {inputToken},
		"access_token": {c.AppID + "|" + c.AppSecret},
	}
	var out struct {
		Data TokenDebugInfo `json:"data"`
	}
	if err := c.get(ctx, fmt.Sprintf("%s/debug_token?%s", c.BaseURL, q.Encode()), &out); err != nil {
		return nil, fmt.Errorf("debug token: %w", err)
	}
	return &out.Data, nil
}

func (c *Client) get(ctx context.Context, rawURL string, result any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return err
	}
	return c.do(req, result)
}

func (c *Client) do(req *http.Request, result any) error {
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}

	if resp.StatusCode >= 300 {
		apiErr := &APIError{StatusCode: resp.StatusCode}
		var envelope struct {
			Error struct {
				Message string `json:"message"`
				Type    string `json:"type"`
				Code    int    `json:"code"`
			} `json:"error"`
		}
		if json.Unmarshal(body, &envelope) == nil {
			apiErr.Message = envelope.Error.Message
			apiErr.Type = envelope.Error.Type
			apiErr.Code = envelope.Error.Code
		}
		return apiErr
	}

	if result == nil {
		return nil
	}
	if err := json.Unmarshal(body, result); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
