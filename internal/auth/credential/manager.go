// Package credential owns the single live OAuth token pair used against
// the CRM. All remote-calling components obtain tokens through Manager;
// nothing else mutates the stored credential.
package credential

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/crmkit/taskbridge/internal/db/models"
	"golang.org/x/oauth2"
	"golang.org/x/sync/singleflight"
	"gorm.io/gorm"
)

// ExpiryMargin is the safety window before expiry. A token inside the
// margin is never handed out; a refresh runs first.
const ExpiryMargin = 5 * time.Minute

// ErrAuthUnavailable means there is no credential and no way to mint one.
// Operations against the remote API cannot proceed until the integration
// is (re)connected via the authorization-code flow.
var ErrAuthUnavailable = errors.New("credential: integration not configured or expired")

// ErrRefreshFailed wraps a failed token-endpoint exchange. The prior
// credential is left untouched when this is returned.
var ErrRefreshFailed = errors.New("credential: refresh failed")

// Credential is an immutable snapshot of the live token pair.
type Credential struct {
	AccessToken  string
	RefreshToken string
	ExpiresAt    time.Time
}

// Valid reports whether the credential is safely outside the expiry margin.
func (c *Credential) Valid(now time.Time) bool {
	return c != nil && c.AccessToken != "" && c.ExpiresAt.After(now.Add(ExpiryMargin))
}

// Manager handles the credential lifecycle: load, refresh, one-time
// authorization-code exchange. Refreshes are single-flighted so that
// concurrent callers during an expiry window collapse to one round trip.
type Manager struct {
	db     *gorm.DB
	config *oauth2.Config

	mu      sync.RWMutex
	current *Credential

	group singleflight.Group
	now   func() time.Time
}

// NewManager creates a Manager and loads any persisted credential.
func NewManager(db *gorm.DB, config *oauth2.Config) *Manager {
	m := &Manager{
		db:     db,
		config: config,
		now:    time.Now,
	}
	m.load()
	return m
}

// load reads the persisted credential row, if any.
func (m *Manager) load() {
	var row models.Credential
	if err := m.db.First(&row, "id = ?", models.CredentialID).Error; err != nil {
		log.Printf("🔐 No stored CRM credential yet")
		return
	}

	expiresAt := row.ExpiresAt
	if expiresAt.IsZero() {
		// Older rows may predate expiry tracking; fall back to the
		// token's own exp claim.
		expiresAt = ExpiryFromToken(row.AccessToken)
	}

	m.mu.Lock()
	m.current = &Credential{
		AccessToken:  row.AccessToken,
		RefreshToken: row.RefreshToken,
		ExpiresAt:    expiresAt,
	}
	m.mu.Unlock()
	log.Printf("🔐 Loaded CRM credential (expires: %s)", expiresAt.Format(time.RFC3339))
}

// snapshot returns the current credential without copying the lock.
func (m *Manager) snapshot() *Credential {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

// GetValid returns a credential guaranteed not to be within ExpiryMargin
// of expiry, refreshing first if needed.
func (m *Manager) GetValid(ctx context.Context) (*Credential, error) {
	if cred := m.snapshot(); cred.Valid(m.now()) {
		return cred, nil
	}
	cred, err := m.Refresh(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrAuthUnavailable, err)
	}
	return cred, nil
}

// Refresh exchanges the stored refresh token for a new access/refresh
// pair. Concurrent callers share a single token-endpoint call. On failure
// the prior credential is left untouched; retry policy belongs to the
// caller.
func (m *Manager) Refresh(ctx context.Context) (*Credential, error) {
	v, err, _ := m.group.Do("refresh", func() (interface{}, error) {
		// A caller that queued behind an in-progress refresh may find
		// the work already done.
		if cred := m.snapshot(); cred.Valid(m.now()) {
			return cred, nil
		}
		return m.doRefresh(ctx)
	})
	if err != nil {
		return nil, err
	}
	return v.(*Credential), nil
}

func (m *Manager) doRefresh(ctx context.Context) (*Credential, error) {
	prior := m.snapshot()
	if prior == nil || prior.RefreshToken == "" {
		return nil, ErrAuthUnavailable
	}

	src := m.config.TokenSource(ctx, &oauth2.Token{RefreshToken: prior.RefreshToken})
	newToken, err := src.Token()
	if err != nil {
		log.Printf("❌ CRM token refresh failed: %v", err)
		return nil, fmt.Errorf("%w: %v", ErrRefreshFailed, err)
	}

	// The exchange response's reported lifetime is authoritative; the
	// token is not re-decoded here.
	cred := &Credential{
		AccessToken:  newToken.AccessToken,
		RefreshToken: newToken.RefreshToken,
		ExpiresAt:    newToken.Expiry,
	}
	if cred.RefreshToken == "" {
		cred.RefreshToken = prior.RefreshToken
	}
	if cred.ExpiresAt.IsZero() {
		cred.ExpiresAt = ExpiryFromToken(cred.AccessToken)
	}

	if err := m.persist(cred); err != nil {
		return nil, err
	}
	log.Printf("✅ Refreshed CRM token (expires: %s)", cred.ExpiresAt.Format(time.RFC3339))
	return cred, nil
}

// ForceRefresh refreshes even when the current token is outside the
// margin. The remote client uses it when the CRM rejects a token with
// 401 before its predicted expiry. Shares the refresh single-flight, so
// a forced refresh racing a lazy one still issues one call.
func (m *Manager) ForceRefresh(ctx context.Context) (*Credential, error) {
	v, err, _ := m.group.Do("refresh", func() (interface{}, error) {
		return m.doRefresh(ctx)
	})
	if err != nil {
		return nil, err
	}
	return v.(*Credential), nil
}

// ExchangeCode is the one-time bootstrap path: it trades an authorization
// code for the first credential pair, with the same atomic-replace
// semantics as Refresh.
func (m *Manager) ExchangeCode(ctx context.Context, code string, opts ...oauth2.AuthCodeOption) (*Credential, error) {
	token, err := m.config.Exchange(ctx, code, opts...)
	if err != nil {
		return nil, fmt.Errorf("credential: code exchange failed: %w", err)
	}

	cred := &Credential{
		AccessToken:  token.AccessToken,
		RefreshToken: token.RefreshToken,
		ExpiresAt:    token.Expiry,
	}
	if cred.ExpiresAt.IsZero() {
		cred.ExpiresAt = ExpiryFromToken(cred.AccessToken)
	}

	if err := m.persist(cred); err != nil {
		return nil, err
	}
	log.Printf("✅ CRM integration connected (expires: %s)", cred.ExpiresAt.Format(time.RFC3339))
	return cred, nil
}

// persist atomically replaces the process-wide credential and its
// durable row.
func (m *Manager) persist(cred *Credential) error {
	claims, _ := ParseJWT(cred.AccessToken)
	locationID := ""
	if claims != nil {
		locationID = claims.LocationID
	}

	row := models.Credential{
		ID:           models.CredentialID,
		AccessToken:  cred.AccessToken,
		RefreshToken: cred.RefreshToken,
		ExpiresAt:    cred.ExpiresAt,
		LocationID:   locationID,
	}
	if err := m.db.Save(&row).Error; err != nil {
		return fmt.Errorf("credential: persist failed: %w", err)
	}

	m.mu.Lock()
	m.current = cred
	m.mu.Unlock()
	return nil
}

// Connected reports whether a credential pair is stored at all,
// regardless of expiry.
func (m *Manager) Connected() bool {
	cred := m.snapshot()
	return cred != nil && cred.RefreshToken != ""
}
