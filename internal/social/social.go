// Package social implements the OAuth identity providers accepted for
// sign-in. Each provider exchanges an authorization code for a normalized
// profile; session and account handling stays in the auth package.
package social

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/rsolberg/authgate/internal/auth"
)

// Credentials carries a provider's OAuth client pair.
type Credentials struct {
	ClientID     string
	ClientSecret string
}

// fetchJSON performs an authenticated GET against a provider API and decodes
// the JSON response into out.
func fetchJSON(ctx context.Context, client *http.Client, url string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("fetch %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("fetch %s: status %d: %s", url, resp.StatusCode, body)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// Providers builds the provider map the auth handler consumes. Providers with
// empty credentials are skipped.
func Providers(ctx context.Context, baseURL string, github, discord, google Credentials) (map[string]auth.SocialProvider, error) {
	out := make(map[string]auth.SocialProvider)

	if github.ClientID != "" {
		p := NewGitHub(github, baseURL+"/api/auth/callback/github")
		out[p.Name()] = p
	}
	if discord.ClientID != "" {
		p := NewDiscord(discord, baseURL+"/api/auth/callback/discord")
		out[p.Name()] = p
	}
	if google.ClientID != "" {
		p, err := NewGoogle(ctx, google, baseURL+"/api/auth/callback/google")
		if err != nil {
			return nil, fmt.Errorf("configure google provider: %w", err)
		}
		out[p.Name()] = p
	}
	return out, nil
}
