package social

import (
	"context"
	"fmt"

	"golang.org/x/oauth2"

	"github.com/rsolberg/authgate/internal/auth"
)

// GitHub signs users in with their GitHub identity. The public repository
// count is carried over as the profile's favorite number.
type GitHub struct {
	cfg     *oauth2.Config
	apiBase string
}

// NewGitHub creates the GitHub provider.
func NewGitHub(creds Credentials, redirectURL string) *GitHub {
	return &GitHub{
		cfg: &oauth2.Config{
			ClientID:     creds.ClientID,
			ClientSecret: creds.ClientSecret,
			Endpoint: oauth2.Endpoint{
				AuthURL:  "https://github.com/login/oauth/authorize",
				TokenURL: "https://github.com/login/oauth/access_token",
			},
			RedirectURL: redirectURL,
			Scopes:      []string{"read:user", "user:email"},
		},
		apiBase: "https://api.github.com",
	}
}

func (g *GitHub) Name() string { return "github" }

func (g *GitHub) AuthCodeURL(state string) string {
	return g.cfg.AuthCodeURL(state)
}

type githubUser struct {
	ID          int64  `json:"id"`
	Login       string `json:"login"`
	Name        string `json:"name"`
	Email       string `json:"email"`
	PublicRepos int    `json:"public_repos"`
}

type githubEmail struct {
	Email    string `json:"email"`
	Primary  bool   `json:"primary"`
	Verified bool   `json:"verified"`
}

// Exchange trades the authorization code for the user's profile. GitHub only
// exposes the email on /user when it is public, so a private primary address
// is looked up via /user/emails.
func (g *GitHub) Exchange(ctx context.Context, code string) (auth.SocialProfile, error) {
	token, err := g.cfg.Exchange(ctx, code)
	if err != nil {
		return auth.SocialProfile{}, fmt.Errorf("github token exchange: %w", err)
	}
	client := g.cfg.Client(ctx, token)

	var user githubUser
	if err := fetchJSON(ctx, client, g.apiBase+"/user", &user); err != nil {
		return auth.SocialProfile{}, err
	}

	email := user.Email
	if email == "" {
		var emails []githubEmail
		if err := fetchJSON(ctx, client, g.apiBase+"/user/emails", &emails); err == nil {
			for _, e := range emails {
				if e.Primary && e.Verified {
					email = e.Email
					break
				}
			}
		}
	}

	name := user.Name
	if name == "" {
		name = user.Login
	}

	return auth.SocialProfile{
		Provider:       g.Name(),
		ProviderID:     fmt.Sprintf("%d", user.ID),
		Name:           name,
		Email:          email,
		FavoriteNumber: user.PublicRepos,
	}, nil
}
