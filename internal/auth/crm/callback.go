package crm

import (
	"fmt"
	"net/http"
	"time"

	"golang.org/x/oauth2"

	"github.com/crmkit/taskbridge/internal/auth/credential"
)

// HandleCallback processes the OAuth callback from the CRM marketplace,
// exchanging the authorization code for the first credential pair.
func HandleCallback(mgr *credential.Manager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		// Verify state token
		state := r.URL.Query().Get("state")
		if state != GetStateToken() {
			http.Error(w, "Invalid state token", http.StatusBadRequest)
			return
		}

		code := r.URL.Query().Get("code")
		if code == "" {
			http.Error(w, "Missing authorization code", http.StatusBadRequest)
			return
		}

		// The CRM validates that redirect_uri matches the one used on
		// the consent redirect.
		cred, err := mgr.ExchangeCode(r.Context(), code,
			oauth2.SetAuthURLParam("redirect_uri", redirectURLFor(r)))
		if err != nil {
			http.Error(w, fmt.Sprintf("Token exchange failed: %v", err), http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		fmt.Fprintf(w, `<!DOCTYPE html>
<html lang="en">
<head>
	<meta charset="UTF-8">
	<title>CRM Connected</title>
	<style>
		body { font-family: -apple-system, BlinkMacSystemFont, sans-serif; max-width: 600px; margin: 50px auto; padding: 20px; background: #1a1a2e; color: #eee; }
		.success { color: #4ade80; }
		code { background: #374151; padding: 2px 6px; border-radius: 4px; color: #fbbf24; }
	</style>
</head>
<body>
	<h1 class="success">✅ CRM Connected!</h1>
	<p>Task sync is now active.</p>
	<p><strong>Token expires:</strong> <code>%s</code></p>
</body>
</html>`, cred.ExpiresAt.Format(time.RFC3339))
	}
}
