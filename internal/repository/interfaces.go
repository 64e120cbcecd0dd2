package repository

import (
	"context"
	"time"

	"github.com/d2gex/ms1-auth-server/internal/domain"
	"github.com/d2gex/ms1-auth-server/internal/domain/oauth"
)

// ClientRepository exposes persistence for registered client applications.
type ClientRepository interface {
	CreateClient(ctx context.Context, client domain.Client) (domain.Client, error)
	GetClientByID(ctx context.Context, clientID string) (domain.Client, error)
	GetClientByEmail(ctx context.Context, email string) (domain.Client, error)
	// VerifyClient flips allowed to true and stores the secret hash for a
	// client that matches the registration token and has not been verified
	// yet. Returns pgx.ErrNoRows semantics via a miss error when no pending
	// client matches.
	VerifyClient(ctx context.Context, clientID, regToken, secretHash string) (domain.Client, error)
}

// CodeRepository manages authorization code records.
type CodeRepository interface {
	CreateCode(ctx context.Context, clientID string) (domain.AuthorizationCode, error)
	GetCode(ctx context.Context, id int64) (domain.AuthorizationCode, error)
	// ConsumeCode marks the code used if and only if it belongs to clientID
	// and has not been used before. Reports whether this call won the
	// redemption.
	ConsumeCode(ctx context.Context, id int64, clientID string) (bool, error)
}

// PendingAuthorizationStore holds consent payloads between the authorize
// redirect and the resource owner's decision.
type PendingAuthorizationStore interface {
	Save(ctx context.Context, key string, pending oauth.PendingAuthorization, ttl time.Duration) error
	Get(ctx context.Context, key string) (*oauth.PendingAuthorization, error)
	// Take loads and deletes the payload atomically so a consent form can
	// only be submitted once.
	Take(ctx context.Context, key string) (*oauth.PendingAuthorization, error)
	Delete(ctx context.Context, key string) error
}
