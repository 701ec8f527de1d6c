package auth

import "time"

// Credential is the OAuth token record persisted on disk.
type Credential struct {
	// AccessToken authorizes API requests. Never empty once persisted.
	AccessToken string `json:"access_token"`
	// TokenType is usually "Bearer".
	TokenType string `json:"token_type,omitempty"`
	// RefreshToken allows non-interactive renewal when present.
	RefreshToken string `json:"refresh_token,omitempty"`
	// Scope echoes the granted scopes as reported by the server.
	Scope string `json:"scope,omitempty"`
	// ObtainedAt is the unix time the token was issued to this client.
	ObtainedAt int64 `json:"obtained_at"`
	// ExpiresIn is the token lifetime in seconds; zero means unknown.
	ExpiresIn int64 `json:"expires_in,omitempty"`
}

// ExpiresAt returns the wall-clock expiry, or the zero time when the server
// reported no lifetime.
func (c *Credential) ExpiresAt() time.Time {
	if c.ExpiresIn <= 0 {
		return time.Time{}
	}
	return time.Unix(c.ObtainedAt+c.ExpiresIn, 0)
}

// ValidFor reports whether the token remains usable for at least skew from
// now. Tokens without a known lifetime are treated as valid.
func (c *Credential) ValidFor(now time.Time, skew time.Duration) bool {
	expiry := c.ExpiresAt()
	if expiry.IsZero() {
		return true
	}
	return now.Add(skew).Before(expiry)
}
