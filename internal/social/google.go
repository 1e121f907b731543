package social

import (
	"context"
	"fmt"

	"github.com/coreos/go-oidc/v3/oidc"
	"golang.org/x/oauth2"

	"github.com/rsolberg/authgate/internal/auth"
)

// Google signs users in via OpenID Connect discovery against Google's issuer.
// Unlike the plain-OAuth providers, identity comes from a verified ID token
// rather than a userinfo fetch.
type Google struct {
	cfg      *oauth2.Config
	verifier *oidc.IDTokenVerifier
}

// NewGoogle creates the Google provider. Discovery hits the issuer's
// well-known endpoint, so this needs the network at startup.
func NewGoogle(ctx context.Context, creds Credentials, redirectURL string) (*Google, error) {
	provider, err := oidc.NewProvider(ctx, "https://accounts.google.com")
	if err != nil {
		return nil, fmt.Errorf("oidc discovery: %w", err)
	}
	return newGoogleWithProvider(provider, creds, redirectURL), nil
}

func newGoogleWithProvider(provider *oidc.Provider, creds Credentials, redirectURL string) *Google {
	return &Google{
		cfg: &oauth2.Config{
			ClientID:     creds.ClientID,
			ClientSecret: creds.ClientSecret,
			Endpoint:     provider.Endpoint(),
			RedirectURL:  redirectURL,
			Scopes:       []string{oidc.ScopeOpenID, "profile", "email"},
		},
		verifier: provider.Verifier(&oidc.Config{ClientID: creds.ClientID}),
	}
}

func (g *Google) Name() string { return "google" }

func (g *Google) AuthCodeURL(state string) string {
	return g.cfg.AuthCodeURL(state)
}

func (g *Google) Exchange(ctx context.Context, code string) (auth.SocialProfile, error) {
	token, err := g.cfg.Exchange(ctx, code)
	if err != nil {
		return auth.SocialProfile{}, fmt.Errorf("google token exchange: %w", err)
	}

	rawIDToken, ok := token.Extra("id_token").(string)
	if !ok {
		return auth.SocialProfile{}, fmt.Errorf("google response missing id_token")
	}
	idToken, err := g.verifier.Verify(ctx, rawIDToken)
	if err != nil {
		return auth.SocialProfile{}, fmt.Errorf("verify id token: %w", err)
	}

	var claims struct {
		Name          string `json:"name"`
		Email         string `json:"email"`
		EmailVerified bool   `json:"email_verified"`
	}
	if err := idToken.Claims(&claims); err != nil {
		return auth.SocialProfile{}, fmt.Errorf("parse id token claims: %w", err)
	}

	email := claims.Email
	if !claims.EmailVerified {
		email = ""
	}

	return auth.SocialProfile{
		Provider:   g.Name(),
		ProviderID: idToken.Subject,
		Name:       claims.Name,
		Email:      email,
	}, nil
}
