package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/rsolberg/authgate/internal/idgen"
)

func randomNonce() string { return idgen.Hex(8) }

// ErrInvalidToken covers expired, malformed, or wrong-purpose action tokens.
var ErrInvalidToken = errors.New("invalid or expired token")

// Action token purposes. A token signed for one purpose is rejected by every
// other flow.
const (
	purposeVerifyEmail   = "verify-email"
	purposeResetPassword = "reset-password"
	purposeChangeEmail   = "change-email"
	purposeDeleteAccount = "delete-account"
	purposeOAuthState    = "oauth-state"
)

const (
	verifyTokenTTL = 24 * time.Hour
	resetTokenTTL  = time.Hour
)

type actionClaims struct {
	Purpose  string `json:"purpose"`
	Email    string `json:"email,omitempty"`
	Redirect string `json:"redirect,omitempty"`
	jwt.RegisteredClaims
}

// parsed view handed back to the flows
type tokenClaims struct {
	UserID  string
	Purpose string
	Email   string
}

// signActionToken issues an HMAC-signed, single-purpose token embedded in
// email links.
func (m *Manager) signActionToken(userID, purpose, email string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := actionClaims{
		Purpose: purpose,
		Email:   email,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			Issuer:    "authgate",
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(m.cfg.TokenSecret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

func (m *Manager) parseActionToken(raw, wantPurpose string) (*tokenClaims, error) {
	var claims actionClaims
	token, err := jwt.ParseWithClaims(raw, &claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return m.cfg.TokenSecret, nil
	}, jwt.WithIssuer("authgate"), jwt.WithExpirationRequired())
	if err != nil || !token.Valid {
		return nil, ErrInvalidToken
	}
	if claims.Purpose != wantPurpose || claims.Subject == "" {
		return nil, ErrInvalidToken
	}
	return &tokenClaims{
		UserID:  claims.Subject,
		Purpose: claims.Purpose,
		Email:   claims.Email,
	}, nil
}

// SignOAuthState issues the signed state parameter for an OAuth redirect. The
// token binds the provider name and the post-login redirect, expiring after
// ten minutes.
func (m *Manager) SignOAuthState(provider, redirect string) (string, error) {
	now := time.Now()
	claims := actionClaims{
		Purpose:  purposeOAuthState,
		Redirect: redirect,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   provider,
			ID:        randomNonce(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(10 * time.Minute)),
			Issuer:    "authgate",
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(m.cfg.TokenSecret)
	if err != nil {
		return "", fmt.Errorf("sign state: %w", err)
	}
	return signed, nil
}

// ParseOAuthState validates a callback's state parameter and returns the
// provider it was issued for plus the stored redirect.
func (m *Manager) ParseOAuthState(raw string) (provider, redirect string, err error) {
	var claims actionClaims
	token, err := jwt.ParseWithClaims(raw, &claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return m.cfg.TokenSecret, nil
	}, jwt.WithIssuer("authgate"), jwt.WithExpirationRequired())
	if err != nil || !token.Valid || claims.Purpose != purposeOAuthState || claims.Subject == "" {
		return "", "", ErrInvalidToken
	}
	return claims.Subject, claims.Redirect, nil
}
