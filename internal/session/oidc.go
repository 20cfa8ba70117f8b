package session

import (
	"context"
	"errors"
	"fmt"

	"github.com/coreos/go-oidc/v3/oidc"
	"golang.org/x/oauth2"
)

// OIDCConfig configures the authorization-code login.
type OIDCConfig struct {
	Domain       string
	ClientID     string
	ClientSecret string
	RedirectURI  string
}

// Claims is the part of the ID token the view needs.
type Claims struct {
	Subject string `json:"sub"`
	Email   string `json:"email"`
	Name    string `json:"name"`
}

// Authenticator runs the OIDC authorization-code flow.
type Authenticator struct {
	oauth    *oauth2.Config
	verifier *oidc.IDTokenVerifier
}

// NewAuthenticator discovers the provider at cfg.Domain.
func NewAuthenticator(ctx context.Context, cfg OIDCConfig) (*Authenticator, error) {
	provider, err := oidc.NewProvider(ctx, cfg.Domain)
	if err != nil {
		return nil, fmt.Errorf("session: oidc provider: %w", err)
	}

	return &Authenticator{
		oauth: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURI,
			Endpoint:     provider.Endpoint(),
			Scopes:       []string{oidc.ScopeOpenID, "profile", "email"},
		},
		verifier: provider.Verifier(&oidc.Config{ClientID: cfg.ClientID}),
	}, nil
}

// AuthCodeURL is where the browser is sent to sign in.
func (a *Authenticator) AuthCodeURL(state string) string {
	return a.oauth.AuthCodeURL(state)
}

// Exchange trades the authorization code for a verified ID token.
func (a *Authenticator) Exchange(ctx context.Context, code string) (*Claims, error) {
	if code == "" {
		return nil, errors.New("session: authorization code missing")
	}
	token, err := a.oauth.Exchange(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("session: token exchange: %w", err)
	}
	rawIDToken, ok := token.Extra("id_token").(string)
	if !ok {
		return nil, errors.New("session: id_token missing")
	}
	idToken, err := a.verifier.Verify(ctx, rawIDToken)
	if err != nil {
		return nil, fmt.Errorf("session: id_token invalid: %w", err)
	}
	var claims Claims
	if err := idToken.Claims(&claims); err != nil {
		return nil, fmt.Errorf("session: decode claims: %w", err)
	}
	if claims.Subject == "" {
		return nil, errors.New("session: id_token has no subject")
	}
	return &claims, nil
}
