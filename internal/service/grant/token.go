package grant

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/d2gex/ms1-auth-server/internal/domain/oauth"
	"github.com/d2gex/ms1-auth-server/internal/keys"
	"github.com/d2gex/ms1-auth-server/internal/repository"
	"github.com/d2gex/ms1-auth-server/internal/secret"
)

// AccessTokenClaims are the claims minted on a successful exchange.
type AccessTokenClaims struct {
	ExpiresIn int64 `json:"expires_in"`
}

// TokenExchanger redeems signed authorization codes for access tokens. The
// checks run in three tiers: structural (400), integrity (403) and
// authentication (401), first failure wins and no later tier runs.
type TokenExchanger struct {
	clients  repository.ClientRepository
	codes    repository.CodeRepository
	keys     *keys.Manager
	tokenTTL time.Duration
	logger   *zap.Logger
	tracer   trace.Tracer
}

// NewTokenExchanger wires dependencies.
func NewTokenExchanger(clients repository.ClientRepository, codes repository.CodeRepository, km *keys.Manager, tokenTTL time.Duration, logger *zap.Logger) *TokenExchanger {
	if tokenTTL <= 0 {
		tokenTTL = time.Hour
	}
	return &TokenExchanger{
		clients:  clients,
		codes:    codes,
		keys:     km,
		tokenTTL: tokenTTL,
		logger:   logger,
		tracer:   otel.Tracer("github.com/d2gex/ms1-auth-server/internal/service/grant"),
	}
}

// Exchange validates the request tier by tier and, on success, consumes the
// code record and mints a signed access token. The code consumption is a
// conditional update on the used flag so two concurrent redemptions of the
// same code cannot both succeed.
func (s *TokenExchanger) Exchange(ctx context.Context, req TokenRequest) (*TokenResponse, *RejectedRequest, error) {
	ctx, span := s.startSpan(ctx, "TokenExchanger.Exchange")
	defer span.End()

	// Tier 1, structural.
	if req.GrandType != oauth.GrandType {
		return nil, rejectExchange(http.StatusBadRequest, failureGrandType), nil
	}
	if req.Code == "" {
		return nil, rejectExchange(http.StatusBadRequest, failureMissingCode), nil
	}
	if req.ClientSecret == "" {
		return nil, rejectExchange(http.StatusBadRequest, failureMissingSecret), nil
	}

	// Tier 2, integrity of the signed artifact.
	rawPayload, err := s.keys.Verify(req.Code)
	if err != nil {
		switch {
		case errors.Is(err, keys.ErrMalformedArtifact):
			return nil, rejectExchange(http.StatusBadRequest, failureMalformedCode), nil
		case errors.Is(err, keys.ErrBadSignature):
			return nil, rejectExchange(http.StatusForbidden, failureForeignSignature), nil
		default:
			span.RecordError(err)
			return nil, nil, fmt.Errorf("verify authorization code: %w", err)
		}
	}

	payload, ok := decodeCodePayload(rawPayload)
	if !ok {
		return nil, rejectExchange(http.StatusForbidden, failureMissingPayloadFields), nil
	}

	record, err := s.codes.GetCode(ctx, payload.CodeID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, rejectExchange(http.StatusForbidden, failureUnknownCode), nil
		}
		span.RecordError(err)
		return nil, nil, fmt.Errorf("look up authorization code: %w", err)
	}
	if record.ClientID != payload.ClientID {
		return nil, rejectExchange(http.StatusForbidden, failureUnknownCode), nil
	}
	if record.Used {
		return nil, rejectExchange(http.StatusForbidden, failureCodeAlreadyUsed), nil
	}

	expiration, err := time.ParseInLocation(oauth.ExpirationLayout, payload.ExpirationDate, time.UTC)
	if err != nil {
		return nil, rejectExchange(http.StatusForbidden, failureMissingPayloadFields), nil
	}
	if time.Now().UTC().After(expiration) {
		return nil, rejectExchange(http.StatusForbidden, failureCodeExpired), nil
	}

	// Tier 3, client authentication.
	client, err := s.clients.GetClientByID(ctx, payload.ClientID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, rejectExchange(http.StatusForbidden, failureUnknownCode), nil
		}
		span.RecordError(err)
		return nil, nil, fmt.Errorf("look up client: %w", err)
	}
	if client.SecretHash == nil {
		return nil, rejectExchange(http.StatusUnauthorized, failureSecretMismatch), nil
	}
	match, err := secret.Verify(req.ClientSecret, *client.SecretHash)
	if err != nil || !match {
		return nil, rejectExchange(http.StatusUnauthorized, failureSecretMismatch), nil
	}

	decodedURI, err := base64.URLEncoding.DecodeString(payload.RedirectURI)
	if err != nil || string(decodedURI) != client.RedirectURI {
		return nil, rejectExchange(http.StatusForbidden, failureRedirectMismatch), nil
	}

	// Consume the code exactly once. Losing the conditional update means a
	// concurrent exchange got here first.
	won, err := s.codes.ConsumeCode(ctx, record.ID, client.ID)
	if err != nil {
		span.RecordError(err)
		return nil, nil, fmt.Errorf("consume authorization code: %w", err)
	}
	if !won {
		return nil, rejectExchange(http.StatusForbidden, failureCodeAlreadyUsed), nil
	}

	token, err := s.keys.SignClaims(AccessTokenClaims{ExpiresIn: int64(s.tokenTTL.Seconds())})
	if err != nil {
		span.RecordError(err)
		return nil, nil, fmt.Errorf("sign access token: %w", err)
	}

	s.audit("code.redeemed", "client_id", client.ID, "code_id", record.ID)
	return &TokenResponse{AccessToken: token, TokenType: "Bearer"}, nil, nil
}

// decodeCodePayload requires the four payload keys to be present; an empty
// value still counts as present.
func decodeCodePayload(raw []byte) (codePayload, bool) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return codePayload{}, false
	}
	for _, key := range []string{"client_id", "redirect_uri", "expiration_date", "code_id"} {
		if _, ok := fields[key]; !ok {
			return codePayload{}, false
		}
	}
	var payload codePayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return codePayload{}, false
	}
	return payload, true
}

func rejectExchange(status int, kind failureKind) *RejectedRequest {
	code := oauth.ErrCodeAccessDenied
	if status == http.StatusBadRequest {
		code = oauth.ErrCodeInvalidRequest
	}
	return &RejectedRequest{
		Addressee:   oauth.ClientApplication,
		HTTPCode:    status,
		ErrorCode:   code,
		Description: failureMessage(kind),
	}
}

func (s *TokenExchanger) startSpan(ctx context.Context, name string) (context.Context, trace.Span) {
	if s == nil || s.tracer == nil {
		return ctx, trace.SpanFromContext(ctx)
	}
	return s.tracer.Start(ctx, name)
}

func (s *TokenExchanger) audit(event string, attrs ...any) {
	auditLog(s.logger, event, attrs...)
}
