package connect

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"social-connect/internal/graph"
)

// ErrNoBusinessAccount means the token is fine but no business account is
// reachable from it. The user has to link one on the platform side; retrying
// won't help.
var ErrNoBusinessAccount = errors.New("no business account linked to the authenticated user")

// BusinessAccountInfo is a resolved platform business entity ready to be
// persisted as a credential row.
type BusinessAccountInfo struct {
	AccountID      string
	Username       string
	FollowersCount int64
	MediaCount     int64
	Biography      string

	// Page wrapper, when resolution went through the pages listing.
	PageID   string
	PageName string

	// AccessToken is the token the stored credential should carry: the
	// page-scoped token when one was issued, otherwise the user token.
	AccessToken string

	// Placeholder marks a force-save synthetic account built from the bare
	// user profile.
	Placeholder bool
}

// ResolveOptions steer the fallback chain.
type ResolveOptions struct {
	// BusinessAccountID short-circuits to a direct profile fetch.
	BusinessAccountID string
	// PreferredPageID selects a specific page from the listing.
	PreferredPageID string
	// ForceSave allows synthesizing a placeholder account from the user
	// profile when nothing resolves. Opt-in, non-production only; enforced
	// by the caller.
	ForceSave bool
}

// Resolver finds the business account a validated token should be attached
// to. Strategies run in order; the first that yields an account wins.
type Resolver struct {
	api GraphAPI
	log *zap.Logger
}

func NewResolver(api GraphAPI, log *zap.Logger) *Resolver {
	return &Resolver{api: api, log: log}
}

type strategy struct {
	name string
	run  func(ctx context.Context, token string, opts ResolveOptions) (*BusinessAccountInfo, error)
}

// ResolveBusinessAccount walks the strategy chain. A strategy returning
// (nil, nil) means "not applicable, try the next one"; an error from a
// strategy is logged and treated the same way, except that having no
// strategy succeed yields ErrNoBusinessAccount.
func (r *Resolver) ResolveBusinessAccount(ctx context.Context, token string, opts ResolveOptions) (*BusinessAccountInfo, error) {
	strategies := []strategy{
		{name: "direct_business_id", run: r.resolveDirect},
		{name: "pages_listing", run: r.resolveViaPages},
		{name: "force_save_placeholder", run: r.resolvePlaceholder},
	}

	for _, s := range strategies {
		info, err := s.run(ctx, token, opts)
		if err != nil {
			r.log.Warn("resolver strategy failed",
				zap.String("strategy", s.name),
				zap.Error(err))
			continue
		}
		if info != nil {
			r.log.Info("business account resolved",
				zap.String("strategy", s.name),
				zap.String("account_id", info.AccountID),
				zap.String("username", info.Username))
			return info, nil
		}
	}
	return nil, ErrNoBusinessAccount
}

// resolveDirect handles the direct business-account-ID setup path: the
// caller already knows the IG business account ID and the token is expected
// to read it without a page wrapper.
func (r *Resolver) resolveDirect(ctx context.Context, token string, opts ResolveOptions) (*BusinessAccountInfo, error) {
	if opts.BusinessAccountID == "" {
		return nil, nil
	}
	profile, err := r.api.GetBusinessProfile(ctx, opts.BusinessAccountID, token)
	if err != nil {
		return nil, fmt.Errorf("direct fetch %s: %w", opts.BusinessAccountID, err)
	}
	return profileToInfo(profile, token, "", ""), nil
}

func (r *Resolver) resolveViaPages(ctx context.Context, token string, opts ResolveOptions) (*BusinessAccountInfo, error) {
	pages, err := r.api.ListPages(ctx, token)
	if err != nil {
		return nil, fmt.Errorf("list pages: %w", err)
	}

	var selected *graph.Page
	for i := range pages {
		p := &pages[i]
		if opts.PreferredPageID != "" {
			if p.ID == opts.PreferredPageID {
				selected = p
				break
			}
			continue
		}
		// No preference: first page with a linked business account wins.
		if p.InstagramBusinessAccount != nil && p.InstagramBusinessAccount.ID != "" {
			selected = p
			break
		}
	}
	if selected == nil || selected.InstagramBusinessAccount == nil || selected.InstagramBusinessAccount.ID == "" {
		return nil, nil
	}

	// Prefer the page-scoped token; fall back to the user token if the
	// listing didn't include one.
	profileToken := selected.AccessToken
	if profileToken == "" {
		profileToken = token
	}

	profile, err := r.api.GetBusinessProfile(ctx, selected.InstagramBusinessAccount.ID, profileToken)
	if err != nil {
		if profileToken == token {
			return nil, fmt.Errorf("business profile via page %s: %w", selected.ID, err)
		}
		// Page token rejected; retry once with the user token.
		profile, err = r.api.GetBusinessProfile(ctx, selected.InstagramBusinessAccount.ID, token)
		if err != nil {
			return nil, fmt.Errorf("business profile via page %s: %w", selected.ID, err)
		}
		profileToken = token
	}

	return profileToInfo(profile, profileToken, selected.ID, selected.Name), nil
}

// resolvePlaceholder is the force-save escape hatch: a minimal account
// synthesized from the bare user profile so test setups can complete.
func (r *Resolver) resolvePlaceholder(ctx context.Context, token string, opts ResolveOptions) (*BusinessAccountInfo, error) {
	if !opts.ForceSave {
		return nil, nil
	}
	me, err := r.api.GetMe(ctx, token)
	if err != nil {
		return nil, fmt.Errorf("fetch user profile: %w", err)
	}
	return &BusinessAccountInfo{
		AccountID:   me.ID,
		Username:    me.Name,
		AccessToken: token,
		Placeholder: true,
	}, nil
}

func profileToInfo(p *graph.BusinessProfile, token, pageID, pageName string) *BusinessAccountInfo {
	username := p.Username
	if username == "" {
		username = p.Name
	}
	return &BusinessAccountInfo{
		AccountID:      p.ID,
		Username:       username,
		FollowersCount: p.FollowersCount,
		MediaCount:     p.MediaCount,
		Biography:      p.Biography,
		PageID:         pageID,
		PageName:       pageName,
		AccessToken:    token,
	}
}
