package credential

import (
	"encoding/base64"
	"encoding/json"
	"testing"
	"time"
)

// makeJWT builds an unsigned JWT with the given claims payload.
func makeJWT(t *testing.T, claims map[string]interface{}) string {
	t.Helper()
	header := base64.RawURLEncoding.EncodeToString([]byte(`{"alg":"none","typ":"JWT"}`))
	payload, err := json.Marshal(claims)
	if err != nil {
		t.Fatalf("marshal claims: %v", err)
	}
	body := base64.RawURLEncoding.EncodeToString(payload)
	return header + "." + body + ".sig"
}

func TestParseJWT_ExtractsExp(t *testing.T) {
	exp := time.Now().Add(time.Hour).Unix()
	token := makeJWT(t, map[string]interface{}{"exp": exp, "locationId": "loc-1"})

	claims, err := ParseJWT(token)
	if err != nil {
		t.Fatalf("ParseJWT failed: %v", err)
	}
	if claims.Exp != exp {
		t.Errorf("expected exp %d, got %d", exp, claims.Exp)
	}
	if claims.LocationID != "loc-1" {
		t.Errorf("expected locationId 'loc-1', got '%s'", claims.LocationID)
	}
}

func TestParseJWT_RejectsMalformed(t *testing.T) {
	for _, token := range []string{"", "not-a-jwt", "a.b", "a.!!!.c"} {
		if _, err := ParseJWT(token); err == nil {
			t.Errorf("expected error for token %q", token)
		}
	}
}

func TestExpiryFromToken_DecodeFailureReadsAsExpired(t *testing.T) {
	expiry := ExpiryFromToken("garbage-token")
	if !expiry.IsZero() {
		t.Fatalf("expected zero time for undecodable token, got %v", expiry)
	}

	cred := &Credential{AccessToken: "garbage-token", ExpiresAt: expiry}
	if cred.Valid(time.Now()) {
		t.Fatal("undecodable token must never be treated as valid")
	}
}

func TestExpiryFromToken_UsesExpClaim(t *testing.T) {
	exp := time.Now().Add(2 * time.Hour).Truncate(time.Second)
	token := makeJWT(t, map[string]interface{}{"exp": exp.Unix()})

	expiry := ExpiryFromToken(token)
	if !expiry.Equal(exp) {
		t.Fatalf("expected expiry %v, got %v", exp, expiry)
	}
}

func TestCredentialValid_ExpiryMargin(t *testing.T) {
	now := time.Now()
	tests := []struct {
		name      string
		expiresAt time.Time
		valid     bool
	}{
		{name: "well before expiry", expiresAt: now.Add(time.Hour), valid: true},
		{name: "inside 5min margin", expiresAt: now.Add(4 * time.Minute), valid: false},
		{name: "exactly at margin", expiresAt: now.Add(ExpiryMargin), valid: false},
		{name: "already expired", expiresAt: now.Add(-time.Minute), valid: false},
		{name: "zero expiry", valid: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cred := &Credential{AccessToken: "tok", ExpiresAt: tt.expiresAt}
			if got := cred.Valid(now); got != tt.valid {
				t.Fatalf("expected %v, got %v", tt.valid, got)
			}
		})
	}
}
