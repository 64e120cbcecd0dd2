package grant

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/d2gex/ms1-auth-server/internal/domain"
	"github.com/d2gex/ms1-auth-server/internal/domain/oauth"
	"github.com/d2gex/ms1-auth-server/internal/keys"
	"github.com/d2gex/ms1-auth-server/internal/repository"
)

// codePayload is the JSON body of a signed authorization code. RedirectURI
// holds the base64url encoding of the registered URI.
type codePayload struct {
	ClientID       string `json:"client_id"`
	RedirectURI    string `json:"redirect_uri"`
	ExpirationDate string `json:"expiration_date"`
	CodeID         int64  `json:"code_id"`
}

// CodeIssuer validates front-channel authorization requests and issues
// signed single-use authorization codes.
type CodeIssuer struct {
	clients repository.ClientRepository
	codes   repository.CodeRepository
	keys    *keys.Manager
	codeTTL time.Duration
	logger  *zap.Logger
	tracer  trace.Tracer
}

var _ AuthorizationGrant = (*CodeIssuer)(nil)

// NewCodeIssuer wires dependencies.
func NewCodeIssuer(clients repository.ClientRepository, codes repository.CodeRepository, km *keys.Manager, codeTTL time.Duration, logger *zap.Logger) *CodeIssuer {
	if codeTTL <= 0 {
		codeTTL = time.Minute
	}
	return &CodeIssuer{
		clients: clients,
		codes:   codes,
		keys:    km,
		codeTTL: codeTTL,
		logger:  logger,
		tracer:  otel.Tracer("github.com/d2gex/ms1-auth-server/internal/service/grant"),
	}
}

// Validate runs the authorization request checks in order, stopping at the
// first failure. Resource owner rejections carry no protocol error code,
// client rejections carry one plus the registered redirect URI.
func (s *CodeIssuer) Validate(ctx context.Context, req AuthorizeRequest) (*ValidatedRequest, *RejectedRequest, error) {
	ctx, span := s.startSpan(ctx, "CodeIssuer.Validate")
	defer span.End()

	if req.ClientID == "" {
		return nil, rejectOwner(failureEmptyClientID), nil
	}

	client, err := s.clients.GetClientByID(ctx, req.ClientID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, rejectOwner(failureUnknownClient), nil
		}
		span.RecordError(err)
		return nil, nil, fmt.Errorf("look up client: %w", err)
	}

	if req.RedirectURI != "" {
		decoded, err := base64.URLEncoding.DecodeString(req.RedirectURI)
		if err != nil {
			return nil, rejectOwner(failureRedirectNotDecodable), nil
		}
		if string(decoded) != client.RedirectURI {
			return nil, rejectOwner(failureRedirectNotRegistered), nil
		}
	}

	if req.ResponseType != oauth.GrandType {
		return nil, rejectClient(client, req.State, oauth.ErrCodeUnsupportedResponseType,
			failureMessage(failureResponseType, req.ResponseType)), nil
	}

	if strings.TrimSpace(req.State) == "" {
		return nil, rejectClient(client, req.State, oauth.ErrCodeInvalidRequest,
			failureMessage(failureBlankState, req.State)), nil
	}

	return &ValidatedRequest{
		ClientID:    client.ID,
		Name:        client.Name,
		Description: client.Description,
		WebURL:      client.WebURL,
		RedirectURI: client.RedirectURI,
		State:       req.State,
		Scope:       req.Scope,
	}, nil, nil
}

// Issue persists a fresh code record and wraps its identity in a signed
// artifact carrying the expiration. Persistence failure aborts the call.
func (s *CodeIssuer) Issue(ctx context.Context, v *ValidatedRequest) (*CodeResponse, error) {
	ctx, span := s.startSpan(ctx, "CodeIssuer.Issue")
	defer span.End()

	record, err := s.codes.CreateCode(ctx, v.ClientID)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("persist authorization code: %w", err)
	}

	expiration := time.Now().UTC().Add(s.codeTTL).Format(oauth.ExpirationLayout)
	payload, err := json.Marshal(codePayload{
		ClientID:       v.ClientID,
		RedirectURI:    base64.URLEncoding.EncodeToString([]byte(v.RedirectURI)),
		ExpirationDate: expiration,
		CodeID:         record.ID,
	})
	if err != nil {
		return nil, fmt.Errorf("encode code payload: %w", err)
	}

	code, err := s.keys.Sign(payload)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("sign authorization code: %w", err)
	}

	s.audit("code.issued", "client_id", v.ClientID, "code_id", record.ID)
	return &CodeResponse{Code: code, State: v.State}, nil
}

func rejectOwner(kind failureKind) *RejectedRequest {
	return &RejectedRequest{
		Addressee:   oauth.ResourceOwner,
		HTTPCode:    http.StatusBadRequest,
		Description: failureMessage(kind),
	}
}

func rejectClient(client domain.Client, state, code, description string) *RejectedRequest {
	return &RejectedRequest{
		Addressee:   oauth.ClientApplication,
		HTTPCode:    http.StatusFound,
		ErrorCode:   code,
		Description: description,
		RedirectURI: client.RedirectURI,
		State:       state,
	}
}

func (s *CodeIssuer) startSpan(ctx context.Context, name string) (context.Context, trace.Span) {
	if s == nil || s.tracer == nil {
		return ctx, trace.SpanFromContext(ctx)
	}
	return s.tracer.Start(ctx, name)
}

func (s *CodeIssuer) audit(event string, attrs ...any) {
	auditLog(s.logger, event, attrs...)
}

func auditLog(logger *zap.Logger, event string, attrs ...any) {
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
