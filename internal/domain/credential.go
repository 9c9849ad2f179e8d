package domain

import "time"

type Credential struct {
	Platform              string    `db:"platform"`
	AccessToken           string    `db:"access_token"`
	AccessTokenExpiresAt  time.Time `db:"access_token_expires_at"`
	RefreshToken          string    `db:"refresh_token"`
	RefreshTokenExpiresAt time.Time `db:"refresh_token_expires_at"`
	UpdatedAt             time.Time `db:"updated_at"`
}

// AccessValid reports whether the access token may be presented at now,
// keeping margin in reserve.
func (c *Credential) AccessValid(now time.Time, margin time.Duration) bool {
	if c.AccessToken == "" {
		return false
	}
	return c.AccessTokenExpiresAt.After(now.Add(margin))
}

// Renewable reports whether the refresh token can still mint a new access
// token. A zero refresh expiry means the platform did not say.
func (c *Credential) Renewable(now time.Time) bool {
	if c.RefreshToken == "" {
		return false
	}
	return c.RefreshTokenExpiresAt.IsZero() || c.RefreshTokenExpiresAt.After(now)
}

// TokenGrant is a token endpoint response. Both tokens are required.
type TokenGrant struct {
	AccessToken      string
	AccessExpiresIn  time.Duration
	RefreshToken     string
	RefreshExpiresIn time.Duration
}

// Apply returns the credential that replaces c once the grant is accepted.
func (g TokenGrant) Apply(c Credential, now time.Time) Credential {
	c.AccessToken = g.AccessToken
	c.AccessTokenExpiresAt = now.Add(g.AccessExpiresIn)
	c.RefreshToken = g.RefreshToken
	if g.RefreshExpiresIn > 0 {
		c.RefreshTokenExpiresAt = now.Add(g.RefreshExpiresIn)
	} else {
		c.RefreshTokenExpiresAt = time.Time{}
	}
	c.UpdatedAt = now
	return c
}
