package oauth

import "time"

// PendingAuthorization parks a fully validated authorization request while
// the resource owner decides on the consent screen. It is stored under a
// random consent id with a short TTL and redeemed at most once.
type PendingAuthorization struct {
	ClientID    string    `json:"client_id"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	WebURL      string    `json:"web_url"`
	RedirectURI string    `json:"redirect_uri"`
	State       string    `json:"state"`
	Scope       string    `json:"scope,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}
