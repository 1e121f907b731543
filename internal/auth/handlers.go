package auth

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/rsolberg/authgate/internal/logging"
	"github.com/rsolberg/authgate/internal/metrics"
	"github.com/rsolberg/authgate/internal/security"
)

// SocialProvider is implemented by the social package for each configured
// identity provider.
type SocialProvider interface {
	Name() string
	AuthCodeURL(state string) string
	Exchange(ctx context.Context, code string) (SocialProfile, error)
}

// Handler provides the HTTP surface of the auth manager.
type Handler struct {
	manager      *Manager
	providers    map[string]SocialProvider
	cookieName   string
	cookieSecure bool
}

// NewHandler creates an auth handler. providers may be nil when no social
// sign-in is configured.
func NewHandler(m *Manager, providers map[string]SocialProvider, cookieName string, cookieSecure bool) *Handler {
	return &Handler{
		manager:      m,
		providers:    providers,
		cookieName:   cookieName,
		cookieSecure: cookieSecure,
	}
}

// Register mounts all auth routes on the given group. The screening gate is
// expected to be installed as middleware on the same group.
func (h *Handler) Register(rg *gin.RouterGroup) {
	rg.POST("/sign-up/email", h.SignUpEmail)
	rg.POST("/sign-in/email", h.SignInEmail)
	rg.POST("/sign-out", h.SignOut)
	rg.GET("/get-session", h.GetSession)
	rg.POST("/forget-password", h.ForgetPassword)
	rg.POST("/reset-password", h.ResetPassword)
	rg.GET("/verify-email", h.VerifyEmail)
	rg.POST("/send-verification-email", h.SendVerificationEmail)
	rg.POST("/change-email", h.ChangeEmail)
	rg.GET("/change-email/confirm", h.ConfirmEmailChange)
	rg.POST("/delete-user", h.DeleteUser)
	rg.GET("/delete-user/confirm", h.ConfirmDeleteUser)
	rg.GET("/sign-in/social/:provider", h.SocialSignIn)
	rg.GET("/callback/:provider", h.SocialCallback)
}

// SignUpEmail handles POST /sign-up/email
func (h *Handler) SignUpEmail(c *gin.Context) {
	var in SignUpInput
	if err := c.ShouldBindJSON(&in); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": "Malformed sign-up body."})
		return
	}

	user, err := h.manager.SignUpEmail(c.Request.Context(), in)
	if err != nil {
		h.writeError(c, err)
		return
	}

	metrics.SignUpsTotal.WithLabelValues("email").Inc()
	c.JSON(http.StatusOK, gin.H{
		"user":    user,
		"message": "Verification email sent. Please confirm your address before signing in.",
	})
}

// SignInEmail handles POST /sign-in/email
func (h *Handler) SignInEmail(c *gin.Context) {
	var in struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := c.ShouldBindJSON(&in); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": "Malformed sign-in body."})
		return
	}

	session, user, err := h.manager.SignInEmail(c.Request.Context(), in.Email, in.Password, c.ClientIP(), c.Request.UserAgent())
	if err != nil {
		metrics.SignInsTotal.WithLabelValues("email", "failure").Inc()
		h.writeError(c, err)
		return
	}

	metrics.SignInsTotal.WithLabelValues("email", "success").Inc()
	h.setSessionCookie(c, session)
	c.JSON(http.StatusOK, gin.H{"user": user, "session": session})
}

// SignOut handles POST /sign-out
func (h *Handler) SignOut(c *gin.Context) {
	token := tokenFromHeaders(c.Request.Header, h.cookieName)
	if err := h.manager.SignOut(c.Request.Context(), token); err != nil {
		h.writeError(c, err)
		return
	}
	h.clearSessionCookie(c)
	c.JSON(http.StatusOK, gin.H{"success": true})
}

// GetSession handles GET /get-session
func (h *Handler) GetSession(c *gin.Context) {
	session, user, err := h.manager.GetSession(c.Request.Context(), c.Request.Header, h.cookieName)
	if err != nil {
		// Mirror the "no session" shape clients expect instead of a 401
		c.JSON(http.StatusOK, gin.H{"session": nil, "user": nil})
		return
	}
	c.JSON(http.StatusOK, gin.H{"session": session, "user": user})
}

// ForgetPassword handles POST /forget-password
func (h *Handler) ForgetPassword(c *gin.Context) {
	var in struct {
		Email string `json:"email"`
	}
	if err := c.ShouldBindJSON(&in); err != nil || in.Email == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": "Email is required."})
		return
	}

	h.manager.RequestPasswordReset(c.Request.Context(), in.Email)
	// Identical response whether or not the address exists
	c.JSON(http.StatusOK, gin.H{"message": "If that address is registered, a reset link is on its way."})
}

// ResetPassword handles POST /reset-password
func (h *Handler) ResetPassword(c *gin.Context) {
	var in struct {
		Token    string `json:"token"`
		Password string `json:"password"`
	}
	if err := c.ShouldBindJSON(&in); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": "Malformed reset body."})
		return
	}
	if in.Token == "" {
		in.Token = c.Query("token")
	}

	if err := h.manager.ResetPassword(c.Request.Context(), in.Token, in.Password); err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

// VerifyEmail handles GET /verify-email?token=...
func (h *Handler) VerifyEmail(c *gin.Context) {
	token := c.Query("token")
	if token == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": "Token is required."})
		return
	}

	session, user, err := h.manager.VerifyEmail(c.Request.Context(), token, c.ClientIP(), c.Request.UserAgent())
	if err != nil {
		h.writeError(c, err)
		return
	}

	h.setSessionCookie(c, session)
	c.JSON(http.StatusOK, gin.H{"user": user, "session": session})
}

// SendVerificationEmail handles POST /send-verification-email
func (h *Handler) SendVerificationEmail(c *gin.Context) {
	var in struct {
		Email string `json:"email"`
	}
	if err := c.ShouldBindJSON(&in); err != nil || in.Email == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": "Email is required."})
		return
	}

	if user, err := h.manager.store.GetUserByEmail(c.Request.Context(), normalizeEmail(in.Email)); err == nil && !user.EmailVerified {
		h.manager.SendVerification(c.Request.Context(), user)
	}
	c.JSON(http.StatusOK, gin.H{"message": "If that address is registered and unverified, a new link is on its way."})
}

// ChangeEmail handles POST /change-email (requires session)
func (h *Handler) ChangeEmail(c *gin.Context) {
	_, user, err := h.manager.GetSession(c.Request.Context(), c.Request.Header, h.cookieName)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized", "message": "Sign in to change your email."})
		return
	}

	var in struct {
		NewEmail string `json:"newEmail"`
	}
	if err := c.ShouldBindJSON(&in); err != nil || in.NewEmail == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": "newEmail is required."})
		return
	}

	if err := h.manager.RequestEmailChange(c.Request.Context(), user, in.NewEmail); err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Verification sent to the new address."})
}

// ConfirmEmailChange handles GET /change-email/confirm?token=...
func (h *Handler) ConfirmEmailChange(c *gin.Context) {
	user, err := h.manager.ConfirmEmailChange(c.Request.Context(), c.Query("token"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"user": user})
}

// DeleteUser handles POST /delete-user (requires session)
func (h *Handler) DeleteUser(c *gin.Context) {
	_, user, err := h.manager.GetSession(c.Request.Context(), c.Request.Header, h.cookieName)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized", "message": "Sign in to delete your account."})
		return
	}

	if err := h.manager.RequestAccountDeletion(c.Request.Context(), user); err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Confirmation email sent."})
}

// ConfirmDeleteUser handles GET /delete-user/confirm?token=...
func (h *Handler) ConfirmDeleteUser(c *gin.Context) {
	if err := h.manager.ConfirmAccountDeletion(c.Request.Context(), c.Query("token")); err != nil {
		h.writeError(c, err)
		return
	}
	h.clearSessionCookie(c)
	c.JSON(http.StatusOK, gin.H{"success": true})
}

// SocialSignIn handles GET /sign-in/social/:provider — redirects to the
// provider's consent screen with a signed state parameter.
func (h *Handler) SocialSignIn(c *gin.Context) {
	provider, ok := h.providers[c.Param("provider")]
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown_provider", "message": "Unsupported sign-in provider."})
		return
	}

	state, err := h.manager.SignOAuthState(provider.Name(), security.SafeRedirect(c.Query("callbackURL")))
	if err != nil {
		logging.L(c.Request.Context()).Error("sign oauth state", "provider", provider.Name(), "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": "Could not start sign-in."})
		return
	}

	c.Redirect(http.StatusFound, provider.AuthCodeURL(state))
}

// SocialCallback handles GET /callback/:provider
func (h *Handler) SocialCallback(c *gin.Context) {
	name := c.Param("provider")
	provider, ok := h.providers[name]
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown_provider", "message": "Unsupported sign-in provider."})
		return
	}

	stateProvider, redirect, err := h.manager.ParseOAuthState(c.Query("state"))
	if err != nil || stateProvider != name {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_state", "message": "Sign-in flow expired or tampered with. Try again."})
		return
	}

	code := c.Query("code")
	if code == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": "Missing authorization code."})
		return
	}

	profile, err := provider.Exchange(c.Request.Context(), code)
	if err != nil {
		logging.L(c.Request.Context()).Warn("oauth exchange failed", "provider", name, "error", err)
		c.JSON(http.StatusBadGateway, gin.H{"error": "provider_error", "message": "Provider sign-in failed."})
		return
	}

	session, _, created, err := h.manager.SignInSocial(c.Request.Context(), profile, c.ClientIP(), c.Request.UserAgent())
	if err != nil {
		metrics.SignInsTotal.WithLabelValues(name, "failure").Inc()
		h.writeError(c, err)
		return
	}

	if created {
		metrics.SignUpsTotal.WithLabelValues(name).Inc()
	}
	metrics.SignInsTotal.WithLabelValues(name, "success").Inc()
	h.setSessionCookie(c, session)

	if redirect == "" {
		redirect = "/"
	}
	c.Redirect(http.StatusFound, redirect)
}

func (h *Handler) setSessionCookie(c *gin.Context, session *Session) {
	maxAge := int(session.ExpiresAt.Sub(session.CreatedAt).Seconds())
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(h.cookieName, session.Token, maxAge, "/", "", h.cookieSecure, true)
}

func (h *Handler) clearSessionCookie(c *gin.Context) {
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(h.cookieName, "", -1, "/", "", h.cookieSecure, true)
}

// writeError maps manager errors to HTTP responses.
func (h *Handler) writeError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, ErrInvalidCredentials):
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid_credentials", "message": "Invalid email or password."})
	case errors.Is(err, ErrEmailNotVerified):
		c.JSON(http.StatusForbidden, gin.H{"error": "email_not_verified", "message": "Verify your email address before signing in."})
	case errors.Is(err, ErrUserBanned):
		c.JSON(http.StatusForbidden, gin.H{"error": "account_suspended", "message": "This account is suspended."})
	case errors.Is(err, ErrEmailTaken):
		c.JSON(http.StatusConflict, gin.H{"error": "email_taken", "message": "That email address is already registered."})
	case errors.Is(err, ErrWeakPassword):
		c.JSON(http.StatusBadRequest, gin.H{"error": "weak_password", "message": "Password must be at least 8 characters."})
	case errors.Is(err, ErrInvalidToken):
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_token", "message": "Link is invalid or has expired."})
	case errors.Is(err, ErrUserNotFound), errors.Is(err, ErrSessionNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "not_found", "message": "Resource not found."})
	default:
		logging.L(c.Request.Context()).Error("auth operation failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": "An unexpected error occurred."})
	}
}
