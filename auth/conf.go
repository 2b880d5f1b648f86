package auth

import (
	"errors"

	"golang.org/x/oauth2/clientcredentials"
)

// Conf represents the configuration needed for authentication.
// It includes the client ID, client secret, and the token URL.
type Conf struct {
	ClientID     string   `json:"client_id" koanf:"client_id"`
	ClientSecret string   `json:"client_secret" koanf:"client_secret"`
	AuthURL      string   `json:"auth_url" koanf:"auth_url"`
	Scopes       []string `json:"scopes" koanf:"scopes"`
}

// Validate checks that a token can be requested.
func (c Conf) Validate() error {
	if c.ClientID == "" || c.ClientSecret == "" || c.AuthURL == "" {
		return errors.New("auth: client_id, client_secret and auth_url are required")
	}
	return nil
}

func (c *Conf) toOauth2Config() clientcredentials.Config {
	return clientcredentials.Config{
		ClientID:     c.ClientID,
		ClientSecret: c.ClientSecret,
		TokenURL:     c.AuthURL,
		Scopes:       c.Scopes,
	}
}
