package server

import (
	"context"

	"github.com/rsolberg/authgate/internal/auth"
	"github.com/rsolberg/authgate/internal/config"
	"github.com/rsolberg/authgate/internal/social"
)

// socialProviders assembles the OAuth providers from config. Providers with
// missing credentials are skipped. Google performs OIDC discovery, so this
// needs a context.
func socialProviders(ctx context.Context, cfg *config.Config) (map[string]auth.SocialProvider, error) {
	return social.Providers(ctx, cfg.BaseURL,
		social.Credentials{ClientID: cfg.GitHubClientID, ClientSecret: cfg.GitHubClientSecret},
		social.Credentials{ClientID: cfg.DiscordClientID, ClientSecret: cfg.DiscordClientSecret},
		social.Credentials{ClientID: cfg.GoogleClientID, ClientSecret: cfg.GoogleClientSecret},
	)
}
