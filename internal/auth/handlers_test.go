package auth

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rsolberg/authgate/internal/logging"
)

const testCookie = "authgate_session"

type fakeProvider struct {
	name    string
	profile SocialProfile
	err     error
}

func (f *fakeProvider) Name() string { return f.name }
func (f *fakeProvider) AuthCodeURL(state string) string {
	return "https://provider.example/authorize?state=" + url.QueryEscape(state)
}
func (f *fakeProvider) Exchange(_ context.Context, _ string) (SocialProfile, error) {
	return f.profile, f.err
}

func newTestRouter(t *testing.T, providers map[string]SocialProvider) (*gin.Engine, *Manager, *spyNotifier) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	notifier := &spyNotifier{}
	m := NewManager(NewMemoryStore(), notifier, Config{
		SessionTTL:  time.Hour,
		TokenSecret: []byte("0123456789abcdef0123456789abcdef"),
		BaseURL:     "http://localhost:8080",
	}, logging.Discard())

	r := gin.New()
	NewHandler(m, providers, testCookie, false).Register(r.Group("/api/auth"))
	return r, m, notifier
}

func doJSON(r *gin.Engine, method, path, body string, header http.Header) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	for k, vs := range header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	return out
}

func TestHandlerSignUpFlow(t *testing.T) {
	r, _, notifier := newTestRouter(t, nil)

	w := doJSON(r, http.MethodPost, "/api/auth/sign-up/email",
		`{"name":"Ada","email":"ada@example.com","password":"hunter22","favoriteNumber":7}`, nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.Len(t, notifier.verifications, 1)

	// Duplicate is a conflict
	w = doJSON(r, http.MethodPost, "/api/auth/sign-up/email",
		`{"name":"Ada","email":"ada@example.com","password":"hunter22"}`, nil)
	assert.Equal(t, http.StatusConflict, w.Code)

	// Weak password is a 400
	w = doJSON(r, http.MethodPost, "/api/auth/sign-up/email",
		`{"name":"Bob","email":"bob@example.com","password":"short"}`, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	// Malformed JSON is a 400
	w = doJSON(r, http.MethodPost, "/api/auth/sign-up/email", `{"name":`, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHandlerSignInRequiresVerifiedEmail(t *testing.T) {
	r, _, notifier := newTestRouter(t, nil)

	w := doJSON(r, http.MethodPost, "/api/auth/sign-up/email",
		`{"name":"Ada","email":"ada@example.com","password":"hunter22"}`, nil)
	require.Equal(t, http.StatusOK, w.Code)

	w = doJSON(r, http.MethodPost, "/api/auth/sign-in/email",
		`{"email":"ada@example.com","password":"hunter22"}`, nil)
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Equal(t, "email_not_verified", decodeBody(t, w)["error"])

	// Follow the verification link, which auto signs in and sets the cookie
	token := tokenFromURL(t, notifier.verifications[0])
	w = doJSON(r, http.MethodGet, "/api/auth/verify-email?token="+url.QueryEscape(token), "", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var sessionCookie string
	for _, c := range w.Result().Cookies() {
		if c.Name == testCookie {
			sessionCookie = c.Value
			require.True(t, c.HttpOnly)
		}
	}
	require.NotEmpty(t, sessionCookie)

	// Cookie resolves the session
	h := http.Header{}
	h.Set("Cookie", testCookie+"="+sessionCookie)
	w = doJSON(r, http.MethodGet, "/api/auth/get-session", "", h)
	require.Equal(t, http.StatusOK, w.Code)
	body := decodeBody(t, w)
	require.NotNil(t, body["user"])
	assert.Equal(t, "ada@example.com", body["user"].(map[string]any)["email"])

	// Password sign-in now succeeds
	w = doJSON(r, http.MethodPost, "/api/auth/sign-in/email",
		`{"email":"ada@example.com","password":"hunter22"}`, nil)
	assert.Equal(t, http.StatusOK, w.Code)

	// Wrong password is a 401
	w = doJSON(r, http.MethodPost, "/api/auth/sign-in/email",
		`{"email":"ada@example.com","password":"wrong"}`, nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestHandlerGetSessionWithoutSession(t *testing.T) {
	r, _, _ := newTestRouter(t, nil)

	w := doJSON(r, http.MethodGet, "/api/auth/get-session", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	body := decodeBody(t, w)
	assert.Nil(t, body["session"])
	assert.Nil(t, body["user"])
}

func TestHandlerSignOutClearsCookie(t *testing.T) {
	r, m, notifier := newTestRouter(t, nil)
	ctx := context.Background()

	_, err := m.SignUpEmail(ctx, signUpInput())
	require.NoError(t, err)
	session, _, err := m.VerifyEmail(ctx, tokenFromURL(t, notifier.verifications[0]), "", "")
	require.NoError(t, err)

	h := http.Header{}
	h.Set("Cookie", testCookie+"="+session.Token)
	w := doJSON(r, http.MethodPost, "/api/auth/sign-out", "", h)
	require.Equal(t, http.StatusOK, w.Code)

	var cleared bool
	for _, c := range w.Result().Cookies() {
		if c.Name == testCookie && c.MaxAge < 0 {
			cleared = true
		}
	}
	assert.True(t, cleared, "session cookie should be expired")

	// Session is gone
	w = doJSON(r, http.MethodGet, "/api/auth/get-session", "", h)
	assert.Nil(t, decodeBody(t, w)["user"])
}

func TestHandlerForgetPasswordNeverLeaks(t *testing.T) {
	r, _, notifier := newTestRouter(t, nil)

	known := doJSON(r, http.MethodPost, "/api/auth/forget-password", `{"email":"ghost@example.com"}`, nil)
	require.Equal(t, http.StatusOK, known.Code)
	assert.Empty(t, notifier.resets)

	missing := doJSON(r, http.MethodPost, "/api/auth/forget-password", `{"email":""}`, nil)
	assert.Equal(t, http.StatusBadRequest, missing.Code)
}

func TestHandlerResetPassword(t *testing.T) {
	r, m, notifier := newTestRouter(t, nil)
	ctx := context.Background()

	_, err := m.SignUpEmail(ctx, signUpInput())
	require.NoError(t, err)
	_, user, err := m.VerifyEmail(ctx, tokenFromURL(t, notifier.verifications[0]), "", "")
	require.NoError(t, err)
	m.RequestPasswordReset(ctx, user.Email)
	require.Len(t, notifier.resets, 1)

	token := tokenFromURL(t, notifier.resets[0])
	w := doJSON(r, http.MethodPost, "/api/auth/reset-password",
		`{"token":"`+token+`","password":"n3w-password"}`, nil)
	require.Equal(t, http.StatusOK, w.Code)

	// Garbage token is a 400
	w = doJSON(r, http.MethodPost, "/api/auth/reset-password",
		`{"token":"garbage","password":"n3w-password"}`, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHandlerChangeEmailRequiresSession(t *testing.T) {
	r, _, _ := newTestRouter(t, nil)

	w := doJSON(r, http.MethodPost, "/api/auth/change-email", `{"newEmail":"new@example.com"}`, nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestHandlerSocialSignInRedirects(t *testing.T) {
	provider := &fakeProvider{name: "github"}
	r, _, _ := newTestRouter(t, map[string]SocialProvider{"github": provider})

	w := doJSON(r, http.MethodGet, "/api/auth/sign-in/social/github", "", nil)
	require.Equal(t, http.StatusFound, w.Code)
	loc := w.Header().Get("Location")
	assert.True(t, strings.HasPrefix(loc, "https://provider.example/authorize?state="))

	w = doJSON(r, http.MethodGet, "/api/auth/sign-in/social/myspace", "", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestHandlerSocialCallback(t *testing.T) {
	provider := &fakeProvider{
		name: "github",
		profile: SocialProfile{
			Provider:       "github",
			ProviderID:     "12345",
			Name:           "Ada",
			Email:          "ada@example.com",
			FavoriteNumber: 42,
		},
	}
	r, m, _ := newTestRouter(t, map[string]SocialProvider{"github": provider})

	state, err := m.SignOAuthState("github", "/dashboard")
	require.NoError(t, err)

	w := doJSON(r, http.MethodGet,
		"/api/auth/callback/github?code=abc&state="+url.QueryEscape(state), "", nil)
	require.Equal(t, http.StatusFound, w.Code)
	assert.Equal(t, "/dashboard", w.Header().Get("Location"))

	var hasCookie bool
	for _, c := range w.Result().Cookies() {
		if c.Name == testCookie && c.Value != "" {
			hasCookie = true
		}
	}
	assert.True(t, hasCookie)

	user, err := m.store.GetUserByEmail(context.Background(), "ada@example.com")
	require.NoError(t, err)
	assert.Equal(t, 42, user.FavoriteNumber)
	assert.True(t, user.EmailVerified)
}

func TestHandlerSocialCallbackRejectsBadState(t *testing.T) {
	provider := &fakeProvider{name: "github"}
	r, m, _ := newTestRouter(t, map[string]SocialProvider{"github": provider})

	// State signed for a different provider
	state, err := m.SignOAuthState("discord", "/")
	require.NoError(t, err)
	w := doJSON(r, http.MethodGet,
		"/api/auth/callback/github?code=abc&state="+url.QueryEscape(state), "", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	// Missing code
	good, err := m.SignOAuthState("github", "/")
	require.NoError(t, err)
	w = doJSON(r, http.MethodGet,
		"/api/auth/callback/github?state="+url.QueryEscape(good), "", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}
