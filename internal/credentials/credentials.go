package credentials

import (
	"context"
	"time"
)

// Kind distinguishes how a credential authenticates.
type Kind string

const (
	// KindSessionReference delegates to an already-authenticated CLI
	// tool (gh, vercel, railway) instead of holding a secret itself.
	KindSessionReference Kind = "session-reference"
	KindOpaqueToken      Kind = "opaque-token"
	KindOAuthPair        Kind = "oauth-pair"
)

// Credential is a usable authentication for one platform. The secret
// material must never reach a log sink; log Describe() instead.
type Credential struct {
	Platform     string    `json:"platform"`
	Kind         Kind      `json:"kind"`
	Token        string    `json:"token,omitempty"`
	RefreshToken string    `json:"refresh_token,omitempty"`
	// Tool names the external CLI for session-reference credentials.
	Tool       string    `json:"tool,omitempty"`
	AcquiredAt time.Time `json:"acquired_at"`
	ExpiresAt  time.Time `json:"expires_at,omitempty"`
}

// Expired reports whether the credential is past its expiry. A zero
// ExpiresAt never expires.
func (c Credential) Expired(now time.Time) bool {
	return !c.ExpiresAt.IsZero() && now.After(c.ExpiresAt)
}

// Describe returns a loggable description with no secret material.
func (c Credential) Describe() string {
	return string(c.Kind) + "/" + c.Platform
}

// Refresher attempts to renew an expired oauth-pair credential.
type Refresher func(ctx context.Context, cred Credential) (Credential, error)
