package crm

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"net/http"

	"github.com/crmkit/taskbridge/internal/config"
)

// stateToken is used to protect against CSRF attacks
var stateToken string

func init() {
	b := make([]byte, 16)
	rand.Read(b)
	stateToken = hex.EncodeToString(b)
}

// GetStateToken returns the current CSRF state token for validation.
func GetStateToken() string {
	return stateToken
}

// redirectURLFor constructs the callback URL from the incoming request so
// the flow works behind a proxy or on a non-standard port.
func redirectURLFor(r *http.Request) string {
	scheme := "http"
	if r.TLS != nil || r.Header.Get("X-Forwarded-Proto") == "https" {
		scheme = "https"
	}
	return fmt.Sprintf("%s://%s/auth/crm/callback", scheme, r.Host)
}

// HandleLogin initiates the CRM OAuth flow by redirecting to the
// marketplace consent page.
func HandleLogin(cfg config.CRMConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		oauthCfg := OAuthConfig(cfg, redirectURLFor(r))
		http.Redirect(w, r, oauthCfg.AuthCodeURL(stateToken), http.StatusTemporaryRedirect)
	}
}
