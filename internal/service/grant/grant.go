// Package grant implements the authorization code grant: front-channel
// request validation, signed code issuance and back-channel token exchange.
package grant

import (
	"context"
	"fmt"

	"github.com/d2gex/ms1-auth-server/internal/domain/oauth"
)

// AuthorizeRequest carries the recognised query parameters of a
// front-channel authorization request. Unknown parameters are dropped at
// the HTTP boundary rather than attached dynamically.
type AuthorizeRequest struct {
	ClientID     string
	RedirectURI  string
	ResponseType string
	State        string
	Scope        string
}

// ValidatedRequest is a request that passed validation, enriched with the
// registry record. Name, description, web URL and the canonical redirect
// URI always come from storage, never from caller input.
type ValidatedRequest struct {
	ClientID    string
	Name        string
	Description string
	WebURL      string
	RedirectURI string
	State       string
	Scope       string
}

// RejectedRequest is the structured outcome of a failed validation. It is
// returned as a value, never raised, so callers can route on addressee and
// status uniformly.
type RejectedRequest struct {
	Addressee   oauth.Addressee
	HTTPCode    int
	ErrorCode   string
	Description string
	// RedirectURI carries the client's registered URI for client-addressed
	// rejections so the handler can redirect with the error parameters.
	RedirectURI string
	State       string
}

// CodeResponse is the success payload of the front channel.
type CodeResponse struct {
	Code  string `json:"code"`
	State string `json:"state"`
}

// TokenRequest carries the back-channel exchange parameters. GrandType is
// the literal wire field name.
type TokenRequest struct {
	GrandType    string `form:"grand_type" json:"grand_type"`
	Code         string `form:"code" json:"code"`
	ClientSecret string `form:"client_secret" json:"client_secret"`
}

// TokenResponse is the success payload of the back channel.
type TokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
}

// AuthorizationGrant validates authorization requests and issues grant
// artifacts. The authorization code grant is the only implementation today;
// the interface leaves room for other grant types.
type AuthorizationGrant interface {
	Validate(ctx context.Context, req AuthorizeRequest) (*ValidatedRequest, *RejectedRequest, error)
	Issue(ctx context.Context, v *ValidatedRequest) (*CodeResponse, error)
}

// failureKind enumerates every way a request can be rejected. Messages are
// resolved through the static tables below, never assembled dynamically.
type failureKind int

const (
	failureEmptyClientID failureKind = iota
	failureUnknownClient
	failureRedirectNotDecodable
	failureRedirectNotRegistered
	failureResponseType
	failureBlankState

	failureGrandType
	failureMissingCode
	failureMissingSecret
	failureMalformedCode
	failureForeignSignature
	failureMissingPayloadFields
	failureUnknownCode
	failureCodeAlreadyUsed
	failureCodeExpired
	failureSecretMismatch
	failureRedirectMismatch
)

var failureMessages = map[failureKind]string{
	failureEmptyClientID:         "The client application provided an invalid identifier",
	failureUnknownClient:         "This client application is not registered with us",
	failureRedirectNotDecodable:  "The client application's 'redirect_uri' argument is invalid",
	failureRedirectNotRegistered: "The client application's 'redirect_uri' is not registered with us",
	failureResponseType:          "'response_type' argument '%s' is not supported",
	failureBlankState:            "'state' argument '%s' is invalid. A non-empty checksum is necessary",

	failureGrandType:            "The client application did not provide the expected '" + oauth.GrandType + "' grand_type",
	failureMissingCode:          "The client application did not provide an authorisation code",
	failureMissingSecret:        "The client application did not provide a client_secret",
	failureMalformedCode:        "The provided authorisation code is a non-valid representation of a signed token",
	failureForeignSignature:     "The provided authorisation code has not been signed in this authorisation server",
	failureMissingPayloadFields: "The provided authorisation code did not provide all the required fields",
	failureUnknownCode:          "Either the client does not exist in our records or the code has not been issued by us",
	failureCodeAlreadyUsed:      "The client application has used this '" + oauth.GrandType + "' already",
	failureCodeExpired:          "The provided authorisation code has expired",
	failureSecretMismatch:       "The client application provided a client_id and client_secret that don't match",
	failureRedirectMismatch:     "The provided 'redirect_uri' does not match our records",
}

func failureMessage(kind failureKind, args ...any) string {
	msg := failureMessages[kind]
	if len(args) == 0 {
		return msg
	}
	return fmt.Sprintf(msg, args...)
}
