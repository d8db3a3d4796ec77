// Package crm implements the OAuth connect flow against the CRM
// marketplace: consent redirect, CSRF state, and the callback that hands
// the authorization code to the credential manager.
package crm

import (
	"golang.org/x/oauth2"

	"github.com/crmkit/taskbridge/internal/config"
)

// Scopes required for the pipeline/opportunity/task endpoints.
var Scopes = []string{
	"opportunities.readonly",
	"opportunities.write",
	"locations.readonly",
}

// OAuthConfig builds the oauth2 config for the CRM token endpoint.
// The CRM expects client_id/client_secret as form params, not basic auth.
func OAuthConfig(cfg config.CRMConfig, redirectURL string) *oauth2.Config {
	return &oauth2.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		RedirectURL:  redirectURL,
		Scopes:       Scopes,
		Endpoint: oauth2.Endpoint{
			AuthURL:   cfg.AuthURL,
			TokenURL:  cfg.BaseURL + "/oauth/token",
			AuthStyle: oauth2.AuthStyleInParams,
		},
	}
}
