package credential

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// JWTClaims represents the claims section of a CRM access token
type JWTClaims struct {
	Exp        int64  `json:"exp"`
	Iat        int64  `json:"iat"`
	LocationID string `json:"locationId"`
	UserID     string `json:"userId"`
}

// ParseJWT parses a JWT token string and extracts its claims
// Note: This does NOT verify the signature, only extracts the payload
func ParseJWT(token string) (*JWTClaims, error) {
	parts := strings.Split(token, ".")
	if len(parts) != 3 {
		return nil, fmt.Errorf("invalid JWT format: expected 3 parts, got %d", len(parts))
	}

	// Decode the payload (second part)
	payload := parts[1]
	// Add padding if needed
	switch len(payload) % 4 {
	case 2:
		payload += "=="
	case 3:
		payload += "="
	}

	data, err := base64.URLEncoding.DecodeString(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to decode JWT payload: %w", err)
	}

	var claims JWTClaims
	if err := json.Unmarshal(data, &claims); err != nil {
		return nil, fmt.Errorf("failed to parse JWT claims: %w", err)
	}
	return &claims, nil
}

// ExpiryFromToken predicts a token's expiry by decoding its embedded exp
// claim. Any decode failure returns the zero time, which reads as already
// expired: an undecodable token must never pass for a valid one.
func ExpiryFromToken(accessToken string) time.Time {
	claims, err := ParseJWT(accessToken)
	if err != nil || claims.Exp == 0 {
		return time.Time{}
	}
	return time.Unix(claims.Exp, 0)
}
