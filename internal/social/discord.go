package social

import (
	"context"
	"fmt"

	"golang.org/x/oauth2"

	"github.com/rsolberg/authgate/internal/auth"
)

// Discord signs users in with their Discord identity. The account's public
// flags bitfield is carried over as the profile's favorite number.
type Discord struct {
	cfg     *oauth2.Config
	apiBase string
}

// NewDiscord creates the Discord provider.
func NewDiscord(creds Credentials, redirectURL string) *Discord {
	return &Discord{
		cfg: &oauth2.Config{
			ClientID:     creds.ClientID,
			ClientSecret: creds.ClientSecret,
			Endpoint: oauth2.Endpoint{
				AuthURL:  "https://discord.com/oauth2/authorize",
				TokenURL: "https://discord.com/api/oauth2/token",
			},
			RedirectURL: redirectURL,
			Scopes:      []string{"identify", "email"},
		},
		apiBase: "https://discord.com/api",
	}
}

func (d *Discord) Name() string { return "discord" }

func (d *Discord) AuthCodeURL(state string) string {
	return d.cfg.AuthCodeURL(state)
}

type discordUser struct {
	ID          string `json:"id"`
	Username    string `json:"username"`
	GlobalName  string `json:"global_name"`
	Email       string `json:"email"`
	Verified    bool   `json:"verified"`
	PublicFlags int    `json:"public_flags"`
}

func (d *Discord) Exchange(ctx context.Context, code string) (auth.SocialProfile, error) {
	token, err := d.cfg.Exchange(ctx, code)
	if err != nil {
		return auth.SocialProfile{}, fmt.Errorf("discord token exchange: %w", err)
	}
	client := d.cfg.Client(ctx, token)

	var user discordUser
	if err := fetchJSON(ctx, client, d.apiBase+"/users/@me", &user); err != nil {
		return auth.SocialProfile{}, err
	}

	name := user.GlobalName
	if name == "" {
		name = user.Username
	}

	// Only a verified address may link accounts.
	email := user.Email
	if !user.Verified {
		email = ""
	}

	return auth.SocialProfile{
		Provider:       d.Name(),
		ProviderID:     user.ID,
		Name:           name,
		Email:          email,
		FavoriteNumber: user.PublicFlags,
	}, nil
}
