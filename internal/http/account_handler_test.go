package httpserver

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"social-connect/internal/connect"
	"social-connect/internal/graph"
	"social-connect/internal/repo"
	"social-connect/internal/types"
)

type stubGraph struct {
	pages       []graph.Page
	profiles    map[string]*graph.BusinessProfile
	pagesErr    error
	exchangeErr error
}

func (s *stubGraph) ExchangeCode(ctx context.Context, code string) (*graph.TokenResponse, error) {
	if s.exchangeErr != nil {
		return nil, s.exchangeErr
	}
	return &graph.TokenResponse{AccessToken: "S1"}, nil
}

func (s *stubGraph) ExchangeLongLived(ctx context.Context, shortToken string) (*graph.TokenResponse, error) {
	return &graph.TokenResponse{AccessToken: "L1", ExpiresIn: 5184000}, nil
}

func (s *stubGraph) GetMe(ctx context.Context, token string) (*graph.UserInfo, error) {
	return &graph.UserInfo{ID: "USER1", Name: "User"}, nil
}

func (s *stubGraph) ListPages(ctx context.Context, token string) ([]graph.Page, error) {
	if s.pagesErr != nil {
		return nil, s.pagesErr
	}
	return s.pages, nil
}

func (s *stubGraph) GetBusinessProfile(ctx context.Context, id, token string) (*graph.BusinessProfile, error) {
	if p, ok := s.profiles[id]; ok {
		return p, nil
	}
	return nil, &graph.APIError{StatusCode: 400, Message: "Unsupported get request."}
}

func (s *stubGraph) DebugToken(ctx context.Context, inputToken string) (*graph.TokenDebugInfo, error) {
	return &graph.TokenDebugInfo{IsValid: true}, nil
}

type stubStore struct{}

func (stubStore) Upsert(ctx context.Context, p repo.UpsertParams) (*types.SocialAccount, error) {
	return &types.SocialAccount{
		ID:          "row-1",
		Platform:    p.Platform,
		AccountID:   p.AccountID,
		Username:    p.Username,
		AccessToken: p.AccessToken,
		IsActive:    true,
		Settings:    p.Settings,
	}, nil
}

// fakeAccounts keeps rows in memory with the table's soft-delete semantics.
type fakeAccounts struct {
	rows            map[string]*types.SocialAccount
	deactivateCalls []string
}

func (f *fakeAccounts) GetByID(ctx context.Context, id string) (*types.SocialAccount, error) {
	return f.rows[id], nil
}

func (f *fakeAccounts) Deactivate(ctx context.Context, id string) error {
	f.deactivateCalls = append(f.deactivateCalls, id)
	if row, ok := f.rows[id]; ok {
		row.IsActive = false
	}
	return nil
}

func (f *fakeAccounts) ListActiveByPlatform(ctx context.Context, platform types.Platform) ([]*types.SocialAccount, error) {
	var out []*types.SocialAccount
	for _, r := range f.rows {
		if r.Platform == platform && r.IsActive {
			out = append(out, r)
		}
	}
	return out, nil
}

type fakeTokenReader struct {
	token        string
	lookupErr    error
	invalidated  []string
	lookupCalled int
}

func (f *fakeTokenReader) Lookup(ctx context.Context, platform types.Platform, accountID string) (string, error) {
	f.lookupCalled++
	if f.lookupErr != nil {
		return "", f.lookupErr
	}
	return f.token, nil
}

func (f *fakeTokenReader) Invalidate(ctx context.Context, platform types.Platform, accountID string) {
	f.invalidated = append(f.invalidated, string(platform)+"/"+accountID)
}

func postConnect(t *testing.T, h *AccountHandler, body string) *httptest.ResponseRecorder {
	t.Helper()
	e := echo.New()
	req := httptest.NewRequest(http.MethodPost, "/api/accounts/instagram/connect", strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	require.NoError(t, h.ConnectInstagram(e.NewContext(req, rec)))
	return rec
}

func newTestHandler(api connect.GraphAPI, allowForceSave bool) *AccountHandler {
	svc := connect.NewService(api, stubStore{}, zap.NewNop(), allowForceSave)
	return NewAccountHandler(svc, nil, nil, nil, zap.NewNop())
}

func TestConnectRequiresCodeOrToken(t *testing.T) {
	h := newTestHandler(&stubGraph{}, false)
	rec := postConnect(t, h, `{}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "invalid_request")
}

func TestConnectRejectsShortManualToken(t *testing.T) {
	h := newTestHandler(&stubGraph{}, false)
	rec := postConnect(t, h, `{"access_token":"short"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "invalid_token")
}

func TestConnectNoBusinessAccountIs422(t *testing.T) {
	h := newTestHandler(&stubGraph{pages: []graph.Page{}}, false)
	rec := postConnect(t, h, `{"code":"abc123"}`)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Contains(t, rec.Body.String(), "no_business_account")
	assert.Contains(t, rec.Body.String(), "link a professional account")
}

func TestConnectForceSaveRejectedWhenDisabled(t *testing.T) {
	h := newTestHandler(&stubGraph{}, false)
	rec := postConnect(t, h, `{"code":"abc123","force_connect":true}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "not available in this environment")
}

func TestConnectSuccessRedactsToken(t *testing.T) {
	api := &stubGraph{
		pages: []graph.Page{{
			ID: "PAGE1", Name: "Shop",
			InstagramBusinessAccount: &struct {
				ID string `json:"id"`
			}{ID: "IG1"},
		}},
		profiles: map[string]*graph.BusinessProfile{
			"IG1": {ID: "IG1", Username: "shop_demo"},
		},
	}
	h := newTestHandler(api, false)
	rec := postConnect(t, h, `{"code":"abc123"}`)

	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, `"account_id":"IG1"`)
	assert.Contains(t, body, `"username":"shop_demo"`)
	assert.NotContains(t, body, "L1")
	assert.NotContains(t, body, "access_token")
}

func TestConnectUpstreamRejectionIs502(t *testing.T) {
	api := &stubGraph{exchangeErr: &graph.APIError{
		StatusCode: 400, Message: "Invalid verification code format.",
		Type: "OAuthException", Code: 100,
	}}
	h := newTestHandler(api, false)
	rec := postConnect(t, h, `{"code":"expired-code"}`)

	assert.Equal(t, http.StatusBadGateway, rec.Code)
	assert.Contains(t, rec.Body.String(), "platform_error")
	assert.Contains(t, rec.Body.String(), "Invalid verification code format.")
}

func TestDisconnectSoftDeletes(t *testing.T) {
	row := &types.SocialAccount{
		ID:          "row-1",
		Platform:    types.PlatformInstagram,
		AccountID:   "IG1",
		AccessToken: "L1",
		IsActive:    true,
		Settings:    types.Settings{types.SettingTokenType: types.TokenTypeLongLived},
	}
	accounts := &fakeAccounts{rows: map[string]*types.SocialAccount{"row-1": row}}
	lookup := &fakeTokenReader{}
	h := NewAccountHandler(nil, accounts, lookup, nil, zap.NewNop())

	disconnect := func() *httptest.ResponseRecorder {
		e := echo.New()
		req := httptest.NewRequest(http.MethodDelete, "/api/accounts/row-1", nil)
		rec := httptest.NewRecorder()
		c := e.NewContext(req, rec)
		c.SetParamNames("id")
		c.SetParamValues("row-1")
		require.NoError(t, h.Disconnect(c))
		return rec
	}

	rec := disconnect()
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, []string{"row-1"}, accounts.deactivateCalls)
	assert.Equal(t, []string{"INSTAGRAM/IG1"}, lookup.invalidated)

	// The row survives with its token and settings intact.
	require.Contains(t, accounts.rows, "row-1")
	assert.False(t, row.IsActive)
	assert.Equal(t, "L1", row.AccessToken)
	assert.Equal(t, types.TokenTypeLongLived, row.Settings.TokenType())

	// Disconnecting again is a no-op 204.
	rec = disconnect()
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, []string{"row-1", "row-1"}, accounts.deactivateCalls)
	assert.Equal(t, "L1", row.AccessToken)
}

func getToken(t *testing.T, h *AccountHandler, platform, accountID string) *httptest.ResponseRecorder {
	t.Helper()
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/api/accounts/"+platform+"/"+accountID+"/token", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetParamNames("platform", "account_id")
	c.SetParamValues(platform, accountID)
	require.NoError(t, h.GetToken(c))
	return rec
}

func TestGetTokenServesCurrentToken(t *testing.T) {
	lookup := &fakeTokenReader{token: "L1"}
	h := NewAccountHandler(nil, nil, lookup, nil, zap.NewNop())

	rec := getToken(t, h, "INSTAGRAM", "IG1")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"access_token":"L1"`)
	assert.Equal(t, 1, lookup.lookupCalled)
}

func TestGetTokenErrors(t *testing.T) {
	lookup := &fakeTokenReader{lookupErr: errors.New("no active account")}
	h := NewAccountHandler(nil, nil, lookup, nil, zap.NewNop())

	rec := getToken(t, h, "INSTAGRAM", "IG_GONE")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = getToken(t, h, "MYSPACE", "IG1")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	// Unknown platforms are rejected before any lookup.
	assert.Equal(t, 1, lookup.lookupCalled)
}

func TestConnectResolutionDeadEndIs422(t *testing.T) {
	// Upstream failures during resolution flatten into the terminal
	// "no business account" outcome rather than a retryable 502.
	api := &stubGraph{pagesErr: &graph.APIError{StatusCode: 403, Message: "permission denied", Type: "OAuthException", Code: 10}}
	h := newTestHandler(api, false)
	rec := postConnect(t, h, `{"code":"abc123"}`)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}
