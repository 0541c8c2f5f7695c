package connect

import (
	"context"
	"fmt"
	"time"

	"social-connect/internal/graph"
)

// GraphAPI is the slice of the Graph client the connect flow needs. Satisfied
// by *graph.Client; faked in tests.
type GraphAPI interface {
	ExchangeCode(ctx context.Context, code string) (*graph.TokenResponse, error)
	ExchangeLongLived(ctx context.Context, shortToken string) (*graph.TokenResponse, error)
	GetMe(ctx context.Context, token string) (*graph.UserInfo, error)
	ListPages(ctx context.Context, token string) ([]graph.Page, error)
	GetBusinessProfile(ctx context.Context, businessAccountID, token string) (*graph.BusinessProfile, error)
	DebugToken(ctx context.Context, inputToken string) (*graph.TokenDebugInfo, error)
}

// LongLivedToken is the outcome of a successful code exchange.
type LongLivedToken struct {
	AccessToken string
	ExpiresIn   int64 // seconds
	ExpiresAt   time.Time
}

// Exchanger converts an OAuth authorization code into a long-lived bearer
// token. It performs no persistence and no retries; any upstream failure is
// terminal for the attempt.
type Exchanger struct {
	api GraphAPI
}

func NewExchanger(api GraphAPI) *Exchanger {
	return &Exchanger{api: api}
}

func (e *Exchanger) ExchangeAndUpgrade(ctx context.Context, code string) (*LongLivedToken, error) {
	short, err := e.api.ExchangeCode(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("short-lived exchange: %w", err)
	}

	long, err := e.api.ExchangeLongLived(ctx, short.AccessToken)
	if err != nil {
		return nil, fmt.Errorf("long-lived exchange: %w", err)
	}

	expiresIn := long.ExpiresIn
	if expiresIn == 0 {
		// Graph omits expires_in for some app configurations; long-lived
		// tokens are documented as 60 days.
		expiresIn = int64(60 * 24 * time.Hour / time.Second)
	}
	return &LongLivedToken{
		AccessToken: long.AccessToken,
		ExpiresIn:   expiresIn,
		ExpiresAt:   time.Now().Add(time.Duration(expiresIn) * time.Second),
	}, nil
}
