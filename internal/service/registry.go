// Package service holds the client registry operations sitting in front of
// the repositories.
package service

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/jackc/pgx/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/d2gex/ms1-auth-server/internal/domain"
	"github.com/d2gex/ms1-auth-server/internal/domain/oauth"
	"github.com/d2gex/ms1-auth-server/internal/repository"
	"github.com/d2gex/ms1-auth-server/internal/secret"
)

// OAuthError standardizes protocol-facing errors.
type OAuthError struct {
	Code        string
	Description string
	Status      int
}

func (e *OAuthError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Description)
}

func newOAuthError(code, desc string, status int) *OAuthError {
	return &OAuthError{Code: code, Description: desc, Status: status}
}

const (
	regTokenBytes     = 20
	clientSecretBytes = 16
)

// RegistrationInput carries the fields a client application registers with.
type RegistrationInput struct {
	Name        string
	Description string
	Email       string
	RedirectURI string
	WebURL      string
}

// RegistryService registers and verifies client applications.
type RegistryService struct {
	clients repository.ClientRepository
	node    *snowflake.Node
	logger  *zap.Logger
	tracer  trace.Tracer
}

// NewRegistryService wires dependencies.
func NewRegistryService(clients repository.ClientRepository, node *snowflake.Node, logger *zap.Logger) *RegistryService {
	return &RegistryService{
		clients: clients,
		node:    node,
		logger:  logger,
		tracer:  otel.Tracer("github.com/d2gex/ms1-auth-server/internal/service"),
	}
}

// Register persists a new client in the not-yet-allowed state and hands back
// the one-off registration token for the verification step.
func (s *RegistryService) Register(ctx context.Context, input RegistrationInput) (domain.Client, error) {
	ctx, span := s.startSpan(ctx, "RegistryService.Register")
	defer span.End()

	if !isHTTPSURL(input.WebURL) || !isHTTPSURL(input.RedirectURI) {
		return domain.Client{}, newOAuthError(oauth.ErrCodeInvalidRequest,
			"Either the 'redirect_uri' or 'web_url' is not a valid url. A valid url must start by 'https://'",
			http.StatusConflict)
	}

	email := strings.ToLower(strings.TrimSpace(input.Email))
	if _, err := s.clients.GetClientByEmail(ctx, email); err == nil {
		return domain.Client{}, newOAuthError(oauth.ErrCodeInvalidRequest,
			fmt.Sprintf("Email '%s' has already been registered", email),
			http.StatusConflict)
	} else if !errors.Is(err, pgx.ErrNoRows) {
		span.RecordError(err)
		return domain.Client{}, fmt.Errorf("look up email: %w", err)
	}

	regToken, err := secret.Generate(regTokenBytes)
	if err != nil {
		return domain.Client{}, fmt.Errorf("generate registration token: %w", err)
	}

	client, err := s.clients.CreateClient(ctx, domain.Client{
		ID:          s.node.Generate().Base58(),
		Name:        input.Name,
		Description: input.Description,
		Email:       email,
		WebURL:      input.WebURL,
		RedirectURI: input.RedirectURI,
		RegToken:    &regToken,
	})
	if err != nil {
		if errors.Is(err, oauth.ErrConflict) {
			return domain.Client{}, newOAuthError(oauth.ErrCodeInvalidRequest,
				"Another client is already registered with these details",
				http.StatusConflict)
		}
		span.RecordError(err)
		return domain.Client{}, fmt.Errorf("create client: %w", err)
	}

	s.audit("client.registered", "client_id", client.ID, "email", email)
	return client, nil
}

// Verify exchanges a pending registration token for client credentials. The
// plaintext secret is returned exactly once and only its hash is stored.
func (s *RegistryService) Verify(ctx context.Context, clientID, regToken string) (domain.Client, string, error) {
	ctx, span := s.startSpan(ctx, "RegistryService.Verify")
	defer span.End()

	plaintext, err := secret.Generate(clientSecretBytes)
	if err != nil {
		return domain.Client{}, "", fmt.Errorf("generate client secret: %w", err)
	}
	hash, err := secret.Hash(plaintext)
	if err != nil {
		return domain.Client{}, "", fmt.Errorf("hash client secret: %w", err)
	}

	client, err := s.clients.VerifyClient(ctx, clientID, regToken, hash)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Client{}, "", newOAuthError(oauth.ErrCodeInvalidRequest,
				fmt.Sprintf("Client '%s' may not yet have registered or token is invalid. Please register first", clientID),
				http.StatusConflict)
		}
		span.RecordError(err)
		return domain.Client{}, "", fmt.Errorf("verify client: %w", err)
	}

	s.audit("client.verified", "client_id", client.ID)
	return client, plaintext, nil
}

func isHTTPSURL(raw string) bool {
	parsed, err := url.Parse(raw)
	if err != nil {
		return false
	}
	return parsed.Scheme == "https" && parsed.Host != ""
}

func (s *RegistryService) startSpan(ctx context.Context, name string) (context.Context, trace.Span) {
	if s == nil || s.tracer == nil {
		return ctx, trace.SpanFromContext(ctx)
	}
	return s.tracer.Start(ctx, name)
}

func (s *RegistryService) audit(event string, attrs ...any) {
	logger := s.logger
	if logger == nil {
		logger = zap.L()
	}
	fields := make([]zap.Field, 0, len(attrs)/2+2)
	fields = append(fields, zap.String("event", event), zap.Time("timestamp", time.Now().UTC()))
	for i := 0; i+1 < len(attrs); i += 2 {
		key, ok := attrs[i].(string)
		if !ok {
			continue
		}
		fields = append(fields, zap.Any(key, attrs[i+1]))
	}
	logger.Info("audit", fields...)
}
