package domain

import "time"

// Client represents a registered client application.
//
// A freshly registered client holds a one-off RegToken and no secret; once
// its registration is verified the token is cleared, a secret hash is stored
// and Allowed flips to true. The two invariants hold at all times:
// SecretHash is non-nil iff Allowed, and RegToken is nil iff Allowed.
type Client struct {
	ID          string
	Name        string
	Description string
	Email       string
	WebURL      string
	RedirectURI string
	RegToken    *string
	SecretHash  *string
	Allowed     bool
	Active      bool
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// AuthorizationCode is the persisted side of an issued authorization code.
// It only exists to give the signed bearer artifact a unique, revocable
// identity and to track single use; the artifact itself is never stored.
type AuthorizationCode struct {
	ID        int64
	ClientID  string
	Used      bool
	CreatedAt time.Time
	UpdatedAt time.Time
}
