package oauth

// GrandType is the wire literal identifying the authorization code grant.
// The spelling is part of the public contract and must not be corrected.
const GrandType = "authorization_code"

// ExpirationLayout is the timestamp layout embedded in signed authorization
// codes, day first, UTC implied.
const ExpirationLayout = "02-01-2006 15:04:05"

// Addressee identifies who a rejected authorization request is meant for.
// Resource owner rejections render inline, client rejections redirect back
// to the client application.
type Addressee int

const (
	ResourceOwner Addressee = iota + 1
	ClientApplication
)

// Client-addressed error codes, as defined by the protocol.
const (
	ErrCodeInvalidRequest          = "invalid_request"
	ErrCodeAccessDenied            = "access_denied"
	ErrCodeUnsupportedResponseType = "unsupported_response_type"
	ErrCodeInvalidScope            = "invalid_scope"
	ErrCodeServerError             = "server_error"
)
