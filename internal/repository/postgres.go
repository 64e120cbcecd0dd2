package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/d2gex/ms1-auth-server/internal/domain"
	"github.com/d2gex/ms1-auth-server/internal/domain/oauth"
)

// Compile-time interface assertions.
var (
	_ ClientRepository = (*PostgresClientRepo)(nil)
	_ CodeRepository   = (*PostgresCodeRepo)(nil)
)

const uniqueViolation = "23505"

// PostgresClientRepo implements ClientRepository on pgx.
type PostgresClientRepo struct {
	db *pgxpool.Pool
}

func NewPostgresClientRepo(pool *pgxpool.Pool) *PostgresClientRepo {
	return &PostgresClientRepo{db: pool}
}

const clientColumns = `id, name, description, email, web_url, redirect_uri, reg_token, secret_hash, allowed, active, created_at, updated_at`

const insertClientSQL = `INSERT INTO clients (id, name, description, email, web_url, redirect_uri, reg_token, allowed, active)
VALUES ($1, $2, $3, $4, $5, $6, $7, FALSE, TRUE)
RETURNING ` + clientColumns

func (r *PostgresClientRepo) CreateClient(ctx context.Context, client domain.Client) (domain.Client, error) {
	row := r.db.QueryRow(ctx, insertClientSQL,
		client.ID,
		client.Name,
		client.Description,
		client.Email,
		client.WebURL,
		client.RedirectURI,
		client.RegToken,
	)

	inserted, err := scanClient(row)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return domain.Client{}, oauth.ErrConflict
		}
		return domain.Client{}, fmt.Errorf("create client: %w", err)
	}
	return inserted, nil
}

func (r *PostgresClientRepo) GetClientByID(ctx context.Context, clientID string) (domain.Client, error) {
	const query = `SELECT ` + clientColumns + ` FROM clients WHERE id = $1`
	client, err := scanClient(r.db.QueryRow(ctx, query, clientID))
	if err != nil {
		return domain.Client{}, fmt.Errorf("get client: %w", err)
	}
	return client, nil
}

func (r *PostgresClientRepo) GetClientByEmail(ctx context.Context, email string) (domain.Client, error) {
	const query = `SELECT ` + clientColumns + ` FROM clients WHERE email = $1`
	client, err := scanClient(r.db.QueryRow(ctx, query, email))
	if err != nil {
		return domain.Client{}, fmt.Errorf("get client by email: %w", err)
	}
	return client, nil
}

const verifyClientSQL = `UPDATE clients
SET allowed = TRUE, secret_hash = $3, reg_token = NULL, updated_at = now()
WHERE id = $1 AND reg_token = $2 AND allowed = FALSE
RETURNING ` + clientColumns

func (r *PostgresClientRepo) VerifyClient(ctx context.Context, clientID, regToken, secretHash string) (domain.Client, error) {
	client, err := scanClient(r.db.QueryRow(ctx, verifyClientSQL, clientID, regToken, secretHash))
	if err != nil {
		return domain.Client{}, fmt.Errorf("verify client: %w", err)
	}
	return client, nil
}

func scanClient(row pgx.Row) (domain.Client, error) {
	var c domain.Client
	if err := row.Scan(
		&c.ID,
		&c.Name,
		&c.Description,
		&c.Email,
		&c.WebURL,
		&c.RedirectURI,
		&c.RegToken,
		&c.SecretHash,
		&c.Allowed,
		&c.Active,
		&c.CreatedAt,
		&c.UpdatedAt,
	); err != nil {
		return domain.Client{}, err
	}
	return c, nil
}

// PostgresCodeRepo implements CodeRepository on pgx.
type PostgresCodeRepo struct {
	db *pgxpool.Pool
}

func NewPostgresCodeRepo(pool *pgxpool.Pool) *PostgresCodeRepo {
	return &PostgresCodeRepo{db: pool}
}

const codeColumns = `id, client_id, used, created_at, updated_at`

const insertCodeSQL = `INSERT INTO authorization_codes (client_id, used)
VALUES ($1, FALSE)
RETURNING ` + codeColumns

func (r *PostgresCodeRepo) CreateCode(ctx context.Context, clientID string) (domain.AuthorizationCode, error) {
	code, err := scanCode(r.db.QueryRow(ctx, insertCodeSQL, clientID))
	if err != nil {
		return domain.AuthorizationCode{}, fmt.Errorf("create code: %w", err)
	}
	return code, nil
}

func (r *PostgresCodeRepo) GetCode(ctx context.Context, id int64) (domain.AuthorizationCode, error) {
	const query = `SELECT ` + codeColumns + ` FROM authorization_codes WHERE id = $1`
	code, err := scanCode(r.db.QueryRow(ctx, query, id))
	if err != nil {
		return domain.AuthorizationCode{}, fmt.Errorf("get code: %w", err)
	}
	return code, nil
}

const consumeCodeSQL = `UPDATE authorization_codes
SET used = TRUE, updated_at = now()
WHERE id = $1 AND client_id = $2 AND used = FALSE`

// ConsumeCode relies on the row-level lock taken by UPDATE so that exactly
// one of N concurrent redemptions of the same code observes used = FALSE.
func (r *PostgresCodeRepo) ConsumeCode(ctx context.Context, id int64, clientID string) (bool, error) {
	tag, err := r.db.Exec(ctx, consumeCodeSQL, id, clientID)
	if err != nil {
		return false, fmt.Errorf("consume code: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func scanCode(row pgx.Row) (domain.AuthorizationCode, error) {
	var c domain.AuthorizationCode
	if err := row.Scan(&c.ID, &c.ClientID, &c.Used, &c.CreatedAt, &c.UpdatedAt); err != nil {
		return domain.AuthorizationCode{}, err
	}
	return c, nil
}
