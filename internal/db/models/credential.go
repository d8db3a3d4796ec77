package models

import "time"

// CredentialID is the fixed primary key of the single credential row.
// The integration holds exactly one live token pair for the whole process.
const CredentialID = "crm"

// Credential stores the OAuth access/refresh token pair for the CRM.
type Credential struct {
	ID           string `gorm:"primaryKey"`
	AccessToken  string
	RefreshToken string
	ExpiresAt    time.Time
	LocationID   string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}
