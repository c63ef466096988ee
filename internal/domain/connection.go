package domain

import "time"

// PlatformConnection is a credential record owned by the external credential
// store. The engine only reads it.
type PlatformConnection struct {
	Platform    Platform
	AccountID   string
	AccessToken string
	ExpiresAt   *time.Time
}

// Expired reports whether the token is past its expiry at now.
func (c PlatformConnection) Expired(now time.Time) bool {
	return c.ExpiresAt != nil && !c.ExpiresAt.After(now)
}
