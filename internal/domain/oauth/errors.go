package oauth

import "errors"

var (
	// ErrConflict signals a uniqueness violation on a registry mutation.
	ErrConflict = errors.New("oauth: conflicts with an existing record")
	// ErrConsentNotFound indicates the pending authorization expired or was
	// already redeemed.
	ErrConsentNotFound = errors.New("oauth: pending authorization not found")
)
