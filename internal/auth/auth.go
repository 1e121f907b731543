// Package auth implements email/password and social authentication:
// users, sessions, verification flows, and lifecycle hooks.
//
// Session model:
// - Opaque bearer tokens, SHA256-hashed at rest
// - Delivered via an HTTP-only cookie, also accepted as a Bearer header
// - Email/password sign-in requires a verified email address
package auth

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/rsolberg/authgate/internal/idgen"
	"github.com/rsolberg/authgate/internal/logging"
)

// Errors
var (
	ErrInvalidCredentials = errors.New("invalid email or password")
	ErrEmailNotVerified   = errors.New("email address not verified")
	ErrEmailTaken         = errors.New("email address already registered")
	ErrUserNotFound       = errors.New("user not found")
	ErrSessionNotFound    = errors.New("session not found or expired")
	ErrUserBanned         = errors.New("account is suspended")
	ErrWeakPassword       = errors.New("password must be at least 8 characters")
)

// Role values
const (
	RoleUser  = "user"
	RoleAdmin = "admin"
)

// User is a registered account.
type User struct {
	ID             string    `json:"id"`
	Name           string    `json:"name"`
	Email          string    `json:"email"`
	EmailVerified  bool      `json:"emailVerified"`
	Role           string    `json:"role"`
	FavoriteNumber int       `json:"favoriteNumber"`
	Banned         bool      `json:"banned"`
	PasswordHash   string    `json:"-"` // Empty for social-only accounts
	CreatedAt      time.Time `json:"createdAt"`
	UpdatedAt      time.Time `json:"updatedAt"`
}

// Session is an authenticated session. Token carries the raw bearer token
// only on the struct returned at creation; stores persist the hash.
type Session struct {
	ID        string    `json:"id"`
	Token     string    `json:"-"`
	TokenHash string    `json:"-"`
	UserID    string    `json:"userId"`
	IP        string    `json:"ip,omitempty"`
	UserAgent string    `json:"userAgent,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// Account links a user to an external identity provider.
type Account struct {
	ID                string    `json:"id"`
	UserID            string    `json:"userId"`
	Provider          string    `json:"provider"`
	ProviderAccountID string    `json:"providerAccountId"`
	CreatedAt         time.Time `json:"createdAt"`
}

// Store persists users, sessions, and provider accounts.
type Store interface {
	CreateUser(ctx context.Context, u *User) error
	GetUserByID(ctx context.Context, id string) (*User, error)
	GetUserByEmail(ctx context.Context, email string) (*User, error)
	UpdateUser(ctx context.Context, u *User) error
	DeleteUser(ctx context.Context, id string) error
	ListUsers(ctx context.Context, after time.Time, afterID string, limit int) ([]*User, error)

	CreateSession(ctx context.Context, s *Session) error
	GetSessionByTokenHash(ctx context.Context, hash string) (*Session, error)
	DeleteSessionByTokenHash(ctx context.Context, hash string) error
	DeleteUserSessions(ctx context.Context, userID string) error
	CountActiveSessions(ctx context.Context) (int64, error)

	CreateAccount(ctx context.Context, a *Account) error
	GetAccount(ctx context.Context, provider, providerAccountID string) (*Account, error)
	GetAccountsByUser(ctx context.Context, userID string) ([]*Account, error)
}

// Notifier sends the transactional emails the auth flows require. All calls
// are fire-and-forget from the manager's perspective.
type Notifier interface {
	SendVerification(ctx context.Context, user *User, verifyURL string)
	SendPasswordReset(ctx context.Context, user *User, resetURL string)
	SendEmailChangeVerification(ctx context.Context, user *User, newEmail, verifyURL string)
	SendAccountDeletionVerification(ctx context.Context, user *User, confirmURL string)
}

// HookContext is handed to after-hooks once an operation completes. Read-only
// by convention; consumed once per operation.
type HookContext struct {
	// Path identifies the completed operation, e.g. "/sign-up/email".
	Path string
	// Body holds the submitted request fields, when the operation had a body.
	Body map[string]any
	// NewSession is set when the operation established a session.
	NewSession *Session
	// User is the affected user when known.
	User *User
}

// AfterHook runs after an auth operation completes. Errors and panics are
// logged, never propagated: a failing hook must not fail the operation.
type AfterHook func(ctx context.Context, hc *HookContext)

// Config carries the manager's tunables.
type Config struct {
	SessionTTL  time.Duration
	TokenSecret []byte
	BaseURL     string
	// AdminEmails get the admin role at account creation.
	AdminEmails []string
}

// Manager implements the authentication operations.
type Manager struct {
	store    Store
	notifier Notifier
	cfg      Config
	logger   *slog.Logger
	after    []AfterHook
}

// NewManager creates an auth manager. notifier may be nil (emails skipped).
func NewManager(store Store, notifier Notifier, cfg Config, logger *slog.Logger) *Manager {
	if cfg.SessionTTL <= 0 {
		cfg.SessionTTL = 7 * 24 * time.Hour
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{store: store, notifier: notifier, cfg: cfg, logger: logger}
}

// After registers a hook invoked after every completed operation.
// Registration order is invocation order. Not safe to call once the server is
// accepting requests.
func (m *Manager) After(hook AfterHook) {
	m.after = append(m.after, hook)
}

// runAfter invokes registered hooks. Hook panics are contained here.
func (m *Manager) runAfter(ctx context.Context, hc *HookContext) {
	for _, hook := range m.after {
		func() {
			defer func() {
				if r := recover(); r != nil {
					logging.L(ctx).Error("auth after-hook panicked", "path", hc.Path, "panic", r)
				}
			}()
			hook(ctx, hc)
		}()
	}
}

// SignUpInput is the payload for email/password sign-up.
type SignUpInput struct {
	Name           string `json:"name"`
	Email          string `json:"email"`
	Password       string `json:"password"`
	FavoriteNumber int    `json:"favoriteNumber"`
}

// SignUpEmail registers a new user. The account starts unverified: a
// verification email is dispatched and sign-in is refused until the link is
// followed. No session is created here.
func (m *Manager) SignUpEmail(ctx context.Context, in SignUpInput) (*User, error) {
	email := normalizeEmail(in.Email)
	if email == "" {
		return nil, fmt.Errorf("%w: empty email", ErrInvalidCredentials)
	}
	if len(in.Password) < 8 {
		return nil, ErrWeakPassword
	}

	if existing, err := m.store.GetUserByEmail(ctx, email); err == nil && existing != nil {
		return nil, ErrEmailTaken
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(in.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	now := time.Now()
	user := &User{
		ID:             idgen.WithPrefix("usr_"),
		Name:           strings.TrimSpace(in.Name),
		Email:          email,
		Role:           m.roleFor(email),
		FavoriteNumber: in.FavoriteNumber,
		PasswordHash:   string(hash),
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := m.store.CreateUser(ctx, user); err != nil {
		return nil, fmt.Errorf("create user: %w", err)
	}

	m.SendVerification(ctx, user)

	m.runAfter(ctx, &HookContext{
		Path: "/sign-up/email",
		Body: map[string]any{"name": user.Name, "email": user.Email},
		User: user,
	})
	return user, nil
}

// SendVerification dispatches (or re-dispatches) the email verification link.
func (m *Manager) SendVerification(ctx context.Context, user *User) {
	if m.notifier == nil {
		return
	}
	token, err := m.signActionToken(user.ID, purposeVerifyEmail, user.Email, verifyTokenTTL)
	if err != nil {
		logging.L(ctx).Error("sign verification token", "user", user.ID, "error", err)
		return
	}
	m.notifier.SendVerification(ctx, user, m.actionURL("/api/auth/verify-email", token))
}

// SignInEmail authenticates with email and password and opens a session.
func (m *Manager) SignInEmail(ctx context.Context, email, password, ip, userAgent string) (*Session, *User, error) {
	user, err := m.store.GetUserByEmail(ctx, normalizeEmail(email))
	if err != nil {
		// Burn a comparison so missing users cost the same as bad passwords.
		_ = bcrypt.CompareHashAndPassword([]byte("$2a$10$N9qo8uLOickgx2ZMRZoMyeIjZAgcfl7p92ldGxad68LJZdL17lhWy"), []byte(password))
		return nil, nil, ErrInvalidCredentials
	}
	if user.PasswordHash == "" {
		return nil, nil, ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return nil, nil, ErrInvalidCredentials
	}
	if user.Banned {
		return nil, nil, ErrUserBanned
	}
	if !user.EmailVerified {
		return nil, nil, ErrEmailNotVerified
	}

	session, err := m.createSession(ctx, user.ID, ip, userAgent)
	if err != nil {
		return nil, nil, err
	}

	m.runAfter(ctx, &HookContext{Path: "/sign-in/email", NewSession: session, User: user})
	return session, user, nil
}

// SignOut deletes the session for the given raw token. Unknown tokens are a
// no-op: sign-out is idempotent.
func (m *Manager) SignOut(ctx context.Context, token string) error {
	if token == "" {
		return nil
	}
	if err := m.store.DeleteSessionByTokenHash(ctx, hashToken(token)); err != nil && !errors.Is(err, ErrSessionNotFound) {
		return fmt.Errorf("delete session: %w", err)
	}
	m.runAfter(ctx, &HookContext{Path: "/sign-out"})
	return nil
}

// GetSession resolves the session and user from request headers (session
// cookie or Authorization bearer). Returns ErrSessionNotFound when absent,
// expired, or unknown.
func (m *Manager) GetSession(ctx context.Context, headers http.Header, cookieName string) (*Session, *User, error) {
	token := tokenFromHeaders(headers, cookieName)
	if token == "" {
		return nil, nil, ErrSessionNotFound
	}

	session, err := m.store.GetSessionByTokenHash(ctx, hashToken(token))
	if err != nil {
		return nil, nil, ErrSessionNotFound
	}
	if time.Now().After(session.ExpiresAt) {
		// Lazy expiry: delete and report missing.
		_ = m.store.DeleteSessionByTokenHash(ctx, session.TokenHash)
		return nil, nil, ErrSessionNotFound
	}

	user, err := m.store.GetUserByID(ctx, session.UserID)
	if err != nil {
		return nil, nil, ErrSessionNotFound
	}
	if user.Banned {
		return nil, nil, ErrUserBanned
	}
	return session, user, nil
}

// VerifyEmail consumes a verification token, marks the address verified, and
// opens a session (auto sign-in after verification).
func (m *Manager) VerifyEmail(ctx context.Context, token, ip, userAgent string) (*Session, *User, error) {
	claims, err := m.parseActionToken(token, purposeVerifyEmail)
	if err != nil {
		return nil, nil, err
	}
	user, err := m.store.GetUserByID(ctx, claims.UserID)
	if err != nil {
		return nil, nil, ErrUserNotFound
	}
	if !user.EmailVerified {
		user.EmailVerified = true
		user.UpdatedAt = time.Now()
		if err := m.store.UpdateUser(ctx, user); err != nil {
			return nil, nil, fmt.Errorf("update user: %w", err)
		}
	}

	session, err := m.createSession(ctx, user.ID, ip, userAgent)
	if err != nil {
		return nil, nil, err
	}

	m.runAfter(ctx, &HookContext{Path: "/verify-email", NewSession: session, User: user})
	return session, user, nil
}

// RequestPasswordReset sends a reset link when the address is registered.
// Always succeeds from the caller's perspective so the endpoint does not leak
// which addresses exist.
func (m *Manager) RequestPasswordReset(ctx context.Context, email string) {
	user, err := m.store.GetUserByEmail(ctx, normalizeEmail(email))
	if err != nil || m.notifier == nil {
		return
	}
	token, err := m.signActionToken(user.ID, purposeResetPassword, user.Email, resetTokenTTL)
	if err != nil {
		logging.L(ctx).Error("sign reset token", "user", user.ID, "error", err)
		return
	}
	m.notifier.SendPasswordReset(ctx, user, m.actionURL("/auth/reset-password", token))
	m.runAfter(ctx, &HookContext{Path: "/forget-password", User: user})
}

// ResetPassword consumes a reset token and replaces the password. All existing
// sessions for the user are revoked.
func (m *Manager) ResetPassword(ctx context.Context, token, newPassword string) error {
	if len(newPassword) < 8 {
		return ErrWeakPassword
	}
	claims, err := m.parseActionToken(token, purposeResetPassword)
	if err != nil {
		return err
	}
	user, err := m.store.GetUserByID(ctx, claims.UserID)
	if err != nil {
		return ErrUserNotFound
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(newPassword), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}
	user.PasswordHash = string(hash)
	user.UpdatedAt = time.Now()
	if err := m.store.UpdateUser(ctx, user); err != nil {
		return fmt.Errorf("update user: %w", err)
	}
	if err := m.store.DeleteUserSessions(ctx, user.ID); err != nil {
		logging.L(ctx).Warn("revoke sessions after password reset", "user", user.ID, "error", err)
	}

	m.runAfter(ctx, &HookContext{Path: "/reset-password", User: user})
	return nil
}

// RequestEmailChange sends a verification link to the new address. The change
// only takes effect when the link is confirmed.
func (m *Manager) RequestEmailChange(ctx context.Context, user *User, newEmail string) error {
	newEmail = normalizeEmail(newEmail)
	if newEmail == "" || newEmail == user.Email {
		return fmt.Errorf("%w: unusable new email", ErrInvalidCredentials)
	}
	if existing, err := m.store.GetUserByEmail(ctx, newEmail); err == nil && existing != nil {
		return ErrEmailTaken
	}
	if m.notifier == nil {
		return nil
	}
	token, err := m.signActionToken(user.ID, purposeChangeEmail, newEmail, verifyTokenTTL)
	if err != nil {
		return fmt.Errorf("sign change-email token: %w", err)
	}
	m.notifier.SendEmailChangeVerification(ctx, user, newEmail, m.actionURL("/api/auth/change-email/confirm", token))
	m.runAfter(ctx, &HookContext{Path: "/change-email", User: user})
	return nil
}

// ConfirmEmailChange consumes a change-email token and applies the new
// address. The address arrives pre-verified (the link was delivered to it).
func (m *Manager) ConfirmEmailChange(ctx context.Context, token string) (*User, error) {
	claims, err := m.parseActionToken(token, purposeChangeEmail)
	if err != nil {
		return nil, err
	}
	user, err := m.store.GetUserByID(ctx, claims.UserID)
	if err != nil {
		return nil, ErrUserNotFound
	}
	if existing, err := m.store.GetUserByEmail(ctx, claims.Email); err == nil && existing != nil && existing.ID != user.ID {
		return nil, ErrEmailTaken
	}

	user.Email = claims.Email
	user.EmailVerified = true
	user.UpdatedAt = time.Now()
	if err := m.store.UpdateUser(ctx, user); err != nil {
		return nil, fmt.Errorf("update user: %w", err)
	}

	m.runAfter(ctx, &HookContext{Path: "/change-email/confirm", User: user})
	return user, nil
}

// RequestAccountDeletion sends a deletion confirmation link to the user.
func (m *Manager) RequestAccountDeletion(ctx context.Context, user *User) error {
	if m.notifier == nil {
		return nil
	}
	token, err := m.signActionToken(user.ID, purposeDeleteAccount, user.Email, verifyTokenTTL)
	if err != nil {
		return fmt.Errorf("sign delete-account token: %w", err)
	}
	m.notifier.SendAccountDeletionVerification(ctx, user, m.actionURL("/api/auth/delete-user/confirm", token))
	m.runAfter(ctx, &HookContext{Path: "/delete-user", User: user})
	return nil
}

// ConfirmAccountDeletion consumes a deletion token and removes the user and
// all their sessions.
func (m *Manager) ConfirmAccountDeletion(ctx context.Context, token string) error {
	claims, err := m.parseActionToken(token, purposeDeleteAccount)
	if err != nil {
		return err
	}
	user, err := m.store.GetUserByID(ctx, claims.UserID)
	if err != nil {
		return ErrUserNotFound
	}
	if err := m.store.DeleteUserSessions(ctx, user.ID); err != nil {
		return fmt.Errorf("delete sessions: %w", err)
	}
	if err := m.store.DeleteUser(ctx, user.ID); err != nil {
		return fmt.Errorf("delete user: %w", err)
	}

	m.runAfter(ctx, &HookContext{Path: "/delete-user/confirm", User: user})
	return nil
}

// SocialProfile is the normalized identity returned by an OAuth provider.
type SocialProfile struct {
	Provider       string
	ProviderID     string
	Name           string
	Email          string
	FavoriteNumber int
}

// SignInSocial signs a user in via an external provider, creating the user on
// first sight. Provider emails are trusted as verified. Returns created=true
// when a new account was registered.
func (m *Manager) SignInSocial(ctx context.Context, profile SocialProfile, ip, userAgent string) (*Session, *User, bool, error) {
	if profile.Provider == "" || profile.ProviderID == "" {
		return nil, nil, false, fmt.Errorf("incomplete social profile")
	}

	var user *User
	created := false

	if account, err := m.store.GetAccount(ctx, profile.Provider, profile.ProviderID); err == nil {
		user, err = m.store.GetUserByID(ctx, account.UserID)
		if err != nil {
			return nil, nil, false, fmt.Errorf("account without user: %w", err)
		}
	} else {
		email := normalizeEmail(profile.Email)
		// Link to an existing account with the same verified email, else
		// register a fresh user.
		if email != "" {
			user, _ = m.store.GetUserByEmail(ctx, email)
		}
		if user == nil {
			now := time.Now()
			user = &User{
				ID:             idgen.WithPrefix("usr_"),
				Name:           profile.Name,
				Email:          email,
				EmailVerified:  email != "",
				Role:           m.roleFor(email),
				FavoriteNumber: profile.FavoriteNumber,
				CreatedAt:      now,
				UpdatedAt:      now,
			}
			if err := m.store.CreateUser(ctx, user); err != nil {
				return nil, nil, false, fmt.Errorf("create user: %w", err)
			}
			created = true
		}
		if err := m.store.CreateAccount(ctx, &Account{
			ID:                idgen.WithPrefix("acc_"),
			UserID:            user.ID,
			Provider:          profile.Provider,
			ProviderAccountID: profile.ProviderID,
			CreatedAt:         time.Now(),
		}); err != nil {
			return nil, nil, false, fmt.Errorf("create account: %w", err)
		}
	}

	if user.Banned {
		return nil, nil, false, ErrUserBanned
	}

	session, err := m.createSession(ctx, user.ID, ip, userAgent)
	if err != nil {
		return nil, nil, false, err
	}

	path := "/sign-in/" + profile.Provider
	if created {
		path = "/sign-up/" + profile.Provider
	}
	m.runAfter(ctx, &HookContext{Path: path, NewSession: session, User: user})
	return session, user, created, nil
}

func (m *Manager) createSession(ctx context.Context, userID, ip, userAgent string) (*Session, error) {
	token := "ses_" + idgen.Hex(32)
	now := time.Now()
	session := &Session{
		ID:        idgen.WithPrefix("ses_"),
		Token:     token,
		TokenHash: hashToken(token),
		UserID:    userID,
		IP:        ip,
		UserAgent: userAgent,
		CreatedAt: now,
		ExpiresAt: now.Add(m.cfg.SessionTTL),
	}
	if err := m.store.CreateSession(ctx, session); err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}
	return session, nil
}

func (m *Manager) roleFor(email string) string {
	for _, a := range m.cfg.AdminEmails {
		if strings.EqualFold(a, email) {
			return RoleAdmin
		}
	}
	return RoleUser
}

func (m *Manager) actionURL(path, token string) string {
	return m.cfg.BaseURL + path + "?token=" + token
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func hashToken(raw string) string {
	h := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(h[:])
}

func tokenFromHeaders(headers http.Header, cookieName string) string {
	// Prefer the session cookie
	if cookieHeader := headers.Get("Cookie"); cookieHeader != "" {
		req := http.Request{Header: http.Header{"Cookie": {cookieHeader}}}
		if c, err := req.Cookie(cookieName); err == nil && c.Value != "" {
			return c.Value
		}
	}
	// Fall back to Authorization: Bearer
	if authz := headers.Get("Authorization"); strings.HasPrefix(authz, "Bearer ") {
		return strings.TrimSpace(strings.TrimPrefix(authz, "Bearer "))
	}
	return ""
}
