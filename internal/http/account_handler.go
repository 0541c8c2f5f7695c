package httpserver

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"social-connect/internal/connect"
	"social-connect/internal/graph"
	"social-connect/internal/service"
	"social-connect/internal/types"
)

// AccountStore is the credential-table surface the handlers need. Satisfied
// by *repo.AccountRepo.
type AccountStore interface {
	GetByID(ctx context.Context, id string) (*types.SocialAccount, error)
	Deactivate(ctx context.Context, id string) error
	ListActiveByPlatform(ctx context.Context, platform types.Platform) ([]*types.SocialAccount, error)
}

// TokenReader serves cached tokens. Satisfied by *repo.TokenLookup.
type TokenReader interface {
	Lookup(ctx context.Context, platform types.Platform, accountID string) (string, error)
	Invalidate(ctx context.Context, platform types.Platform, accountID string)
}

type AccountHandler struct {
	connectSvc *connect.Service
	accounts   AccountStore
	lookup     TokenReader
	scheduler  *service.Scheduler
	log        *zap.Logger
}

func NewAccountHandler(
	connectSvc *connect.Service,
	accounts AccountStore,
	lookup TokenReader,
	scheduler *service.Scheduler,
	log *zap.Logger,
) *AccountHandler {
	return &AccountHandler{
		connectSvc: connectSvc,
		accounts:   accounts,
		lookup:     lookup,
		scheduler:  scheduler,
		log:        log,
	}
}

func (h *AccountHandler) Register(e *echo.Echo) {
	e.POST("/api/accounts/instagram/connect", h.ConnectInstagram)
	e.DELETE("/api/accounts/:id", h.Disconnect)
	e.GET("/api/accounts", h.List)
	e.GET("/api/accounts/:id", h.Get)
	e.GET("/api/accounts/:platform/:account_id/token", h.GetToken)
	e.POST("/api/admin/refresh-pass", h.RunRefreshPass)
}

type connectRequest struct {
	Code              string `json:"code"`
	AccessToken       string `json:"access_token"`
	BusinessAccountID string `json:"business_account_id"`
	PageID            string `json:"page_id"`
	ForceConnect      bool   `json:"force_connect"`
}

// accountView is the API shape of a stored account; the bearer token never
// leaves the service.
type accountView struct {
	ID        string         `json:"id"`
	Platform  types.Platform `json:"platform"`
	AccountID string         `json:"account_id"`
	Username  string         `json:"username,omitempty"`
	IsActive  bool           `json:"is_active"`
	Settings  types.Settings `json:"settings,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
}

func toView(a *types.SocialAccount) accountView {
	return accountView{
		ID:        a.ID,
		Platform:  a.Platform,
		AccountID: a.AccountID,
		Username:  a.Username,
		IsActive:  a.IsActive,
		Settings:  a.Settings,
		CreatedAt: a.CreatedAt,
		UpdatedAt: a.UpdatedAt,
	}
}

type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

func (h *AccountHandler) ConnectInstagram(c echo.Context) error {
	var req connectRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, errorResponse{Error: "invalid_request"})
	}
	if req.Code == "" && req.AccessToken == "" {
		return c.JSON(http.StatusBadRequest, errorResponse{
			Error:   "invalid_request",
			Message: "either code or access_token is required",
		})
	}

	opts := connect.ResolveOptions{
		BusinessAccountID: req.BusinessAccountID,
		PreferredPageID:   req.PageID,
		ForceSave:         req.ForceConnect,
	}
	if req.ForceConnect && !h.connectSvc.AllowForceSave {
		return c.JSON(http.StatusBadRequest, errorResponse{
			Error:   "invalid_request",
			Message: "force_connect is not available in this environment",
		})
	}

	ctx := c.Request().Context()
	var (
		acct *types.SocialAccount
		err  error
	)
	if req.Code != "" {
		acct, err = h.connectSvc.ConnectWithCode(ctx, req.Code, opts)
	} else {
		acct, err = h.connectSvc.ConnectWithToken(ctx, req.AccessToken, opts)
	}
	if err != nil {
		return h.connectError(c, err)
	}
	return c.JSON(http.StatusOK, toView(acct))
}

func (h *AccountHandler) connectError(c echo.Context, err error) error {
	var apiErr *graph.APIError
	switch {
	case errors.Is(err, connect.ErrInvalidToken):
		return c.JSON(http.StatusBadRequest, errorResponse{
			Error:   "invalid_token",
			Message: err.Error(),
		})
	case errors.Is(err, connect.ErrNoBusinessAccount):
		return c.JSON(http.StatusUnprocessableEntity, errorResponse{
			Error:   "no_business_account",
			Message: "no Instagram business account is linked to this login; link a professional account to one of your pages and reconnect",
		})
	case errors.As(err, &apiErr):
		h.log.Warn("upstream rejected connect attempt", zap.Error(err))
		return c.JSON(http.StatusBadGateway, errorResponse{
			Error:   "platform_error",
			Message: apiErr.Message,
		})
	default:
		h.log.Error("connect failed", zap.Error(err))
		return c.JSON(http.StatusInternalServerError, errorResponse{Error: "internal_error"})
	}
}

func (h *AccountHandler) Disconnect(c echo.Context) error {
	id := c.Param("id")
	acct, err := h.accounts.GetByID(c.Request().Context(), id)
	if err != nil {
		h.log.Error("load account for disconnect", zap.Error(err))
		return c.JSON(http.StatusInternalServerError, errorResponse{Error: "internal_error"})
	}
	if err := h.accounts.Deactivate(c.Request().Context(), id); err != nil {
		h.log.Error("deactivate account", zap.String("id", id), zap.Error(err))
		return c.JSON(http.StatusInternalServerError, errorResponse{Error: "internal_error"})
	}
	if acct != nil {
		h.lookup.Invalidate(c.Request().Context(), acct.Platform, acct.AccountID)
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *AccountHandler) List(c echo.Context) error {
	platform := types.Platform(c.QueryParam("platform"))
	if platform == "" {
		platform = types.PlatformInstagram
	}
	if !platform.Valid() {
		return c.JSON(http.StatusBadRequest, errorResponse{
			Error:   "invalid_request",
			Message: "unknown platform",
		})
	}
	accounts, err := h.accounts.ListActiveByPlatform(c.Request().Context(), platform)
	if err != nil {
		h.log.Error("list accounts", zap.Error(err))
		return c.JSON(http.StatusInternalServerError, errorResponse{Error: "internal_error"})
	}
	views := make([]accountView, 0, len(accounts))
	for _, a := range accounts {
		views = append(views, toView(a))
	}
	return c.JSON(http.StatusOK, views)
}

func (h *AccountHandler) Get(c echo.Context) error {
	acct, err := h.accounts.GetByID(c.Request().Context(), c.Param("id"))
	if err != nil {
		h.log.Error("get account", zap.Error(err))
		return c.JSON(http.StatusInternalServerError, errorResponse{Error: "internal_error"})
	}
	if acct == nil {
		return c.JSON(http.StatusNotFound, errorResponse{Error: "not_found"})
	}
	return c.JSON(http.StatusOK, toView(acct))
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
}

// GetToken hands the current bearer token to internal consumers (message
// senders, scrapers) through the redis read-through cache. This route is for
// service-to-service use and must not be exposed publicly.
func (h *AccountHandler) GetToken(c echo.Context) error {
	platform := types.Platform(c.Param("platform"))
	if !platform.Valid() {
		return c.JSON(http.StatusBadRequest, errorResponse{
			Error:   "invalid_request",
			Message: "unknown platform",
		})
	}
	token, err := h.lookup.Lookup(c.Request().Context(), platform, c.Param("account_id"))
	if err != nil {
		h.log.Warn("token lookup failed",
			zap.String("platform", string(platform)),
			zap.String("account_id", c.Param("account_id")),
			zap.Error(err))
		return c.JSON(http.StatusNotFound, errorResponse{Error: "not_found"})
	}
	return c.JSON(http.StatusOK, tokenResponse{AccessToken: token})
}

// RunRefreshPass triggers a scheduler pass outside the cron cadence, for an
// external cron or an operator.
func (h *AccountHandler) RunRefreshPass(c echo.Context) error {
	// Detached from the request context so a closed connection doesn't kill
	// the pass midway.
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	stats, err := h.scheduler.RunPass(ctx)
	if err != nil {
		h.log.Error("manual refresh pass", zap.Error(err))
		return c.JSON(http.StatusInternalServerError, errorResponse{Error: "internal_error"})
	}
	return c.JSON(http.StatusOK, stats)
}
