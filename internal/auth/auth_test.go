package auth

import (
	"context"
	"net/http"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rsolberg/authgate/internal/logging"
)

// spyNotifier records dispatched emails and their embedded tokens.
type spyNotifier struct {
	verifications []string // verify URLs
	resets        []string
	emailChanges  []string
	deletions     []string
}

func (s *spyNotifier) SendVerification(_ context.Context, _ *User, verifyURL string) {
	s.verifications = append(s.verifications, verifyURL)
}
func (s *spyNotifier) SendPasswordReset(_ context.Context, _ *User, resetURL string) {
	s.resets = append(s.resets, resetURL)
}
func (s *spyNotifier) SendEmailChangeVerification(_ context.Context, _ *User, _ string, verifyURL string) {
	s.emailChanges = append(s.emailChanges, verifyURL)
}
func (s *spyNotifier) SendAccountDeletionVerification(_ context.Context, _ *User, confirmURL string) {
	s.deletions = append(s.deletions, confirmURL)
}

func tokenFromURL(t *testing.T, raw string) string {
	t.Helper()
	u, err := url.Parse(raw)
	require.NoError(t, err)
	token := u.Query().Get("token")
	require.NotEmpty(t, token)
	return token
}

func newTestManager(t *testing.T) (*Manager, *spyNotifier) {
	t.Helper()
	notifier := &spyNotifier{}
	m := NewManager(NewMemoryStore(), notifier, Config{
		SessionTTL:  time.Hour,
		TokenSecret: []byte("0123456789abcdef0123456789abcdef"),
		BaseURL:     "http://localhost:8080",
		AdminEmails: []string{"root@example.com"},
	}, logging.Discard())
	return m, notifier
}

func signUpInput() SignUpInput {
	return SignUpInput{Name: "Ada", Email: "ada@example.com", Password: "hunter22", FavoriteNumber: 7}
}

func TestSignUpSendsVerificationAndBlocksSignIn(t *testing.T) {
	m, notifier := newTestManager(t)
	ctx := context.Background()

	user, err := m.SignUpEmail(ctx, signUpInput())
	require.NoError(t, err)
	assert.False(t, user.EmailVerified)
	assert.Equal(t, RoleUser, user.Role)
	require.Len(t, notifier.verifications, 1)

	_, _, err = m.SignInEmail(ctx, "ada@example.com", "hunter22", "1.2.3.4", "test")
	assert.ErrorIs(t, err, ErrEmailNotVerified)
}

func TestVerifyEmailAutoSignsIn(t *testing.T) {
	m, notifier := newTestManager(t)
	ctx := context.Background()

	_, err := m.SignUpEmail(ctx, signUpInput())
	require.NoError(t, err)

	token := tokenFromURL(t, notifier.verifications[0])
	session, user, err := m.VerifyEmail(ctx, token, "1.2.3.4", "test")
	require.NoError(t, err)
	assert.True(t, user.EmailVerified)
	require.NotNil(t, session)
	assert.NotEmpty(t, session.Token)

	// Session token resolves via headers
	h := http.Header{}
	h.Set("Authorization", "Bearer "+session.Token)
	gotSession, gotUser, err := m.GetSession(ctx, h, "authgate_session")
	require.NoError(t, err)
	assert.Equal(t, user.ID, gotUser.ID)
	assert.Equal(t, session.ID, gotSession.ID)

	// And now password sign-in works too
	_, _, err = m.SignInEmail(ctx, "ada@example.com", "hunter22", "1.2.3.4", "test")
	assert.NoError(t, err)
}

func TestSignInRejectsWrongPassword(t *testing.T) {
	m, notifier := newTestManager(t)
	ctx := context.Background()

	_, err := m.SignUpEmail(ctx, signUpInput())
	require.NoError(t, err)
	_, _, err = m.VerifyEmail(ctx, tokenFromURL(t, notifier.verifications[0]), "", "")
	require.NoError(t, err)

	_, _, err = m.SignInEmail(ctx, "ada@example.com", "wrong-password", "", "")
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	_, _, err = m.SignInEmail(ctx, "nobody@example.com", "hunter22", "", "")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestSignUpRejectsDuplicateEmail(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()

	_, err := m.SignUpEmail(ctx, signUpInput())
	require.NoError(t, err)
	_, err = m.SignUpEmail(ctx, signUpInput())
	assert.ErrorIs(t, err, ErrEmailTaken)
}

func TestSignUpRejectsWeakPassword(t *testing.T) {
	m, _ := newTestManager(t)
	in := signUpInput()
	in.Password = "short"
	_, err := m.SignUpEmail(context.Background(), in)
	assert.ErrorIs(t, err, ErrWeakPassword)
}

func TestAdminEmailGetsAdminRole(t *testing.T) {
	m, _ := newTestManager(t)
	in := signUpInput()
	in.Email = "Root@Example.com"

	user, err := m.SignUpEmail(context.Background(), in)
	require.NoError(t, err)
	assert.Equal(t, RoleAdmin, user.Role)
}

func TestSessionCookiePreferredOverBearer(t *testing.T) {
	m, notifier := newTestManager(t)
	ctx := context.Background()

	_, err := m.SignUpEmail(ctx, signUpInput())
	require.NoError(t, err)
	session, _, err := m.VerifyEmail(ctx, tokenFromURL(t, notifier.verifications[0]), "", "")
	require.NoError(t, err)

	h := http.Header{}
	h.Set("Cookie", "authgate_session="+session.Token)
	h.Set("Authorization", "Bearer ses_bogus")
	_, user, err := m.GetSession(ctx, h, "authgate_session")
	require.NoError(t, err)
	assert.Equal(t, "ada@example.com", user.Email)
}

func TestGetSessionExpiry(t *testing.T) {
	m, notifier := newTestManager(t)
	m.cfg.SessionTTL = -time.Minute // sessions born expired
	ctx := context.Background()

	_, err := m.SignUpEmail(ctx, signUpInput())
	require.NoError(t, err)
	session, _, err := m.VerifyEmail(ctx, tokenFromURL(t, notifier.verifications[0]), "", "")
	require.NoError(t, err)

	h := http.Header{}
	h.Set("Authorization", "Bearer "+session.Token)
	_, _, err = m.GetSession(ctx, h, "authgate_session")
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestSignOutIsIdempotent(t *testing.T) {
	m, notifier := newTestManager(t)
	ctx := context.Background()

	_, err := m.SignUpEmail(ctx, signUpInput())
	require.NoError(t, err)
	session, _, err := m.VerifyEmail(ctx, tokenFromURL(t, notifier.verifications[0]), "", "")
	require.NoError(t, err)

	require.NoError(t, m.SignOut(ctx, session.Token))
	require.NoError(t, m.SignOut(ctx, session.Token))
	require.NoError(t, m.SignOut(ctx, ""))
}

func TestPasswordResetFlow(t *testing.T) {
	m, notifier := newTestManager(t)
	ctx := context.Background()

	_, err := m.SignUpEmail(ctx, signUpInput())
	require.NoError(t, err)
	session, _, err := m.VerifyEmail(ctx, tokenFromURL(t, notifier.verifications[0]), "", "")
	require.NoError(t, err)

	// Unknown address: silent no-op
	m.RequestPasswordReset(ctx, "ghost@example.com")
	assert.Empty(t, notifier.resets)

	m.RequestPasswordReset(ctx, "ada@example.com")
	require.Len(t, notifier.resets, 1)

	token := tokenFromURL(t, notifier.resets[0])
	require.NoError(t, m.ResetPassword(ctx, token, "n3w-password"))

	// Old sessions are revoked
	h := http.Header{}
	h.Set("Authorization", "Bearer "+session.Token)
	_, _, err = m.GetSession(ctx, h, "authgate_session")
	assert.ErrorIs(t, err, ErrSessionNotFound)

	// Old password refused, new accepted
	_, _, err = m.SignInEmail(ctx, "ada@example.com", "hunter22", "", "")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
	_, _, err = m.SignInEmail(ctx, "ada@example.com", "n3w-password", "", "")
	assert.NoError(t, err)
}

func TestResetTokenRejectedForOtherPurpose(t *testing.T) {
	m, notifier := newTestManager(t)
	ctx := context.Background()

	_, err := m.SignUpEmail(ctx, signUpInput())
	require.NoError(t, err)

	// A verification token must not reset a password
	verifyToken := tokenFromURL(t, notifier.verifications[0])
	err = m.ResetPassword(ctx, verifyToken, "n3w-password")
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestEmailChangeFlow(t *testing.T) {
	m, notifier := newTestManager(t)
	ctx := context.Background()

	_, err := m.SignUpEmail(ctx, signUpInput())
	require.NoError(t, err)
	_, user, err := m.VerifyEmail(ctx, tokenFromURL(t, notifier.verifications[0]), "", "")
	require.NoError(t, err)

	require.NoError(t, m.RequestEmailChange(ctx, user, "ada@newcorp.example"))
	require.Len(t, notifier.emailChanges, 1)

	updated, err := m.ConfirmEmailChange(ctx, tokenFromURL(t, notifier.emailChanges[0]))
	require.NoError(t, err)
	assert.Equal(t, "ada@newcorp.example", updated.Email)
	assert.True(t, updated.EmailVerified)
}

func TestAccountDeletionFlow(t *testing.T) {
	m, notifier := newTestManager(t)
	ctx := context.Background()

	_, err := m.SignUpEmail(ctx, signUpInput())
	require.NoError(t, err)
	session, user, err := m.VerifyEmail(ctx, tokenFromURL(t, notifier.verifications[0]), "", "")
	require.NoError(t, err)

	require.NoError(t, m.RequestAccountDeletion(ctx, user))
	require.Len(t, notifier.deletions, 1)

	require.NoError(t, m.ConfirmAccountDeletion(ctx, tokenFromURL(t, notifier.deletions[0])))

	_, err = m.store.GetUserByEmail(ctx, "ada@example.com")
	assert.ErrorIs(t, err, ErrUserNotFound)

	h := http.Header{}
	h.Set("Authorization", "Bearer "+session.Token)
	_, _, err = m.GetSession(ctx, h, "authgate_session")
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestSignInSocialCreatesAndLinks(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()

	profile := SocialProfile{
		Provider:       "github",
		ProviderID:     "12345",
		Name:           "Ada",
		Email:          "ada@example.com",
		FavoriteNumber: 42,
	}

	session, user, created, err := m.SignInSocial(ctx, profile, "1.2.3.4", "test")
	require.NoError(t, err)
	assert.True(t, created)
	assert.True(t, user.EmailVerified, "provider emails are trusted")
	assert.Equal(t, 42, user.FavoriteNumber)
	require.NotNil(t, session)

	// Second sign-in reuses the account
	_, again, created, err := m.SignInSocial(ctx, profile, "1.2.3.4", "test")
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, user.ID, again.ID)
}

func TestSignInSocialLinksExistingEmailUser(t *testing.T) {
	m, notifier := newTestManager(t)
	ctx := context.Background()

	_, err := m.SignUpEmail(ctx, signUpInput())
	require.NoError(t, err)
	_, user, err := m.VerifyEmail(ctx, tokenFromURL(t, notifier.verifications[0]), "", "")
	require.NoError(t, err)

	_, social, created, err := m.SignInSocial(ctx, SocialProfile{
		Provider:   "discord",
		ProviderID: "999",
		Name:       "Ada",
		Email:      "ADA@example.com",
	}, "", "")
	require.NoError(t, err)
	assert.False(t, created, "matching email links instead of duplicating")
	assert.Equal(t, user.ID, social.ID)
}

func TestAfterHooksRunInOrderAndContainPanics(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()

	var calls []string
	m.After(func(_ context.Context, hc *HookContext) {
		calls = append(calls, "first:"+hc.Path)
		panic("boom")
	})
	m.After(func(_ context.Context, hc *HookContext) {
		calls = append(calls, "second:"+hc.Path)
	})

	_, err := m.SignUpEmail(ctx, signUpInput())
	require.NoError(t, err, "hook panic must not fail the operation")

	require.Len(t, calls, 2)
	assert.True(t, strings.HasPrefix(calls[0], "first:/sign-up/email"))
	assert.True(t, strings.HasPrefix(calls[1], "second:/sign-up/email"))
}

func TestBannedUserRefusedEverywhere(t *testing.T) {
	m, notifier := newTestManager(t)
	ctx := context.Background()

	_, err := m.SignUpEmail(ctx, signUpInput())
	require.NoError(t, err)
	session, user, err := m.VerifyEmail(ctx, tokenFromURL(t, notifier.verifications[0]), "", "")
	require.NoError(t, err)

	user.Banned = true
	require.NoError(t, m.store.UpdateUser(ctx, user))

	_, _, err = m.SignInEmail(ctx, "ada@example.com", "hunter22", "", "")
	assert.ErrorIs(t, err, ErrUserBanned)

	h := http.Header{}
	h.Set("Authorization", "Bearer "+session.Token)
	_, _, err = m.GetSession(ctx, h, "authgate_session")
	assert.ErrorIs(t, err, ErrUserBanned)
}

func TestOAuthStateRoundTrip(t *testing.T) {
	m, _ := newTestManager(t)

	state, err := m.SignOAuthState("github", "/dashboard")
	require.NoError(t, err)

	provider, redirect, err := m.ParseOAuthState(state)
	require.NoError(t, err)
	assert.Equal(t, "github", provider)
	assert.Equal(t, "/dashboard", redirect)

	_, _, err = m.ParseOAuthState(state + "tampered")
	assert.ErrorIs(t, err, ErrInvalidToken)
}
