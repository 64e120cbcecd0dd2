package keys

import (
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"os"

	"github.com/go-jose/go-jose/v4"
	gojwt "github.com/go-jose/go-jose/v4/jwt"
	"github.com/google/uuid"
)

var (
	// ErrMalformedArtifact indicates the artifact is not a structurally
	// valid compact JWS.
	ErrMalformedArtifact = errors.New("keys: malformed signed artifact")
	// ErrBadSignature indicates the signature does not verify against the
	// server key.
	ErrBadSignature = errors.New("keys: signature verification failed")
)

// ConfigError reports unusable key material at startup.
type ConfigError struct {
	Path string
	Err  error
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("keys: %s: %v", e.Path, e.Err)
}

func (e *ConfigError) Unwrap() error { return e.Err }

// Manager holds the server signing keypair. It is loaded once at process
// startup and read-only afterwards, so it is safe for unsynchronized
// concurrent use from request handlers.
type Manager struct {
	key       *rsa.PrivateKey
	kid       string
	signer    jose.Signer
	jwtSigner jose.Signer
}

// Load reads an RSA private key in PEM form (PKCS#1 or PKCS#8) from path.
// Files that do not contain a usable private key, such as a public-only
// key, fail with a ConfigError.
func Load(path string) (*Manager, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, &ConfigError{Path: path, Err: err}
	}

	block, _ := pem.Decode(raw)
	if block == nil {
		return nil, &ConfigError{Path: path, Err: errors.New("no PEM block found")}
	}

	key, err := parsePrivateKey(block.Bytes)
	if err != nil {
		return nil, &ConfigError{Path: path, Err: err}
	}

	return New(key)
}

// New builds a Manager around an already loaded RSA private key.
func New(key *rsa.PrivateKey) (*Manager, error) {
	kid := uuid.NewString()
	signingKey := jose.SigningKey{Algorithm: jose.RS256, Key: key}

	signer, err := jose.NewSigner(signingKey, (&jose.SignerOptions{}).WithHeader("kid", kid))
	if err != nil {
		return nil, fmt.Errorf("new signer: %w", err)
	}
	jwtSigner, err := jose.NewSigner(signingKey, (&jose.SignerOptions{}).WithType("JWT").WithHeader("kid", kid))
	if err != nil {
		return nil, fmt.Errorf("new jwt signer: %w", err)
	}

	return &Manager{key: key, kid: kid, signer: signer, jwtSigner: jwtSigner}, nil
}

func parsePrivateKey(der []byte) (*rsa.PrivateKey, error) {
	if key, err := x509.ParsePKCS1PrivateKey(der); err == nil {
		return key, nil
	}
	parsed, err := x509.ParsePKCS8PrivateKey(der)
	if err != nil {
		return nil, errors.New("file does not contain a usable private key")
	}
	key, ok := parsed.(*rsa.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("unsupported private key type %T", parsed)
	}
	return key, nil
}

// Sign produces a compact JWS over payload. Deterministic given key,
// payload and algorithm.
func (m *Manager) Sign(payload []byte) (string, error) {
	obj, err := m.signer.Sign(payload)
	if err != nil {
		return "", fmt.Errorf("sign payload: %w", err)
	}
	artifact, err := obj.CompactSerialize()
	if err != nil {
		return "", fmt.Errorf("serialize artifact: %w", err)
	}
	return artifact, nil
}

// Verify checks artifact against the server key and returns the embedded
// payload. Structural problems surface as ErrMalformedArtifact, signature
// mismatches as ErrBadSignature.
func (m *Manager) Verify(artifact string) ([]byte, error) {
	obj, err := jose.ParseSigned(artifact, []jose.SignatureAlgorithm{jose.RS256})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedArtifact, err)
	}
	payload, err := obj.Verify(m.key.Public())
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadSignature, err)
	}
	return payload, nil
}

// SignClaims mints a compact signed JWT with the given claims.
func (m *Manager) SignClaims(claims any) (string, error) {
	token, err := gojwt.Signed(m.jwtSigner).Claims(claims).Serialize()
	if err != nil {
		return "", fmt.Errorf("serialize jwt: %w", err)
	}
	return token, nil
}

// VerifyClaims parses a signed JWT and unmarshals its claims into out.
func (m *Manager) VerifyClaims(token string, out any) error {
	parsed, err := gojwt.ParseSigned(token, []jose.SignatureAlgorithm{jose.RS256})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedArtifact, err)
	}
	if err := parsed.Claims(m.key.Public(), out); err != nil {
		return fmt.Errorf("%w: %v", ErrBadSignature, err)
	}
	return nil
}

// Public exposes the verification half of the keypair.
func (m *Manager) Public() *rsa.PublicKey {
	return &m.key.PublicKey
}

// JWKS returns the public key set external verifiers need.
func (m *Manager) JWKS() jose.JSONWebKeySet {
	jwk := jose.JSONWebKey{
		Key:       m.key.Public(),
		KeyID:     m.kid,
		Use:       "sig",
		Algorithm: string(jose.RS256),
	}
	return jose.JSONWebKeySet{Keys: []jose.JSONWebKey{jwk}}
}
