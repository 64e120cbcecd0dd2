package grant_test

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/d2gex/ms1-auth-server/internal/domain"
	"github.com/d2gex/ms1-auth-server/internal/keys"
	"github.com/d2gex/ms1-auth-server/internal/repository"
	"github.com/d2gex/ms1-auth-server/internal/secret"
	"github.com/d2gex/ms1-auth-server/internal/service/grant"
)

type harness struct {
	clients   *memoryClientRepo
	codes     *memoryCodeRepo
	manager   *keys.Manager
	issuer    *grant.CodeIssuer
	exchanger *grant.TokenExchanger
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	manager, err := keys.New(key)
	require.NoError(t, err)

	clients := newMemoryClientRepo()
	codes := newMemoryCodeRepo()
	logger := zap.NewNop()

	return &harness{
		clients:   clients,
		codes:     codes,
		manager:   manager,
		issuer:    grant.NewCodeIssuer(clients, codes, manager, time.Minute, logger),
		exchanger: grant.NewTokenExchanger(clients, codes, manager, time.Hour, logger),
	}
}

// addVerifiedClient stores a client with credentials and returns the
// plaintext secret.
func (h *harness) addVerifiedClient(t *testing.T, id string) (domain.Client, string) {
	t.Helper()
	plaintext, err := secret.Generate(16)
	require.NoError(t, err)
	hash, err := secret.Hash(plaintext)
	require.NoError(t, err)

	client := domain.Client{
		ID:          id,
		Name:        "Test App",
		Description: "An application under test",
		Email:       id + "@client.test",
		WebURL:      "https://" + id + ".client.test",
		RedirectURI: "https://" + id + ".client.test/callback",
		SecretHash:  &hash,
		Allowed:     true,
		Active:      true,
	}
	h.clients.put(client)
	return client, plaintext
}

type memoryClientRepo struct {
	mu      sync.Mutex
	clients map[string]domain.Client
}

var _ repository.ClientRepository = (*memoryClientRepo)(nil)

func newMemoryClientRepo() *memoryClientRepo {
	return &memoryClientRepo{clients: make(map[string]domain.Client)}
}

func (m *memoryClientRepo) put(client domain.Client) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.clients[client.ID] = client
}

func (m *memoryClientRepo) CreateClient(ctx context.Context, client domain.Client) (domain.Client, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.clients[client.ID] = client
	return client, nil
}

func (m *memoryClientRepo) GetClientByID(ctx context.Context, clientID string) (domain.Client, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	client, ok := m.clients[clientID]
	if !ok {
		return domain.Client{}, pgx.ErrNoRows
	}
	return client, nil
}

func (m *memoryClientRepo) GetClientByEmail(ctx context.Context, email string) (domain.Client, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, client := range m.clients {
		if client.Email == email {
			return client, nil
		}
	}
	return domain.Client{}, pgx.ErrNoRows
}

func (m *memoryClientRepo) VerifyClient(ctx context.Context, clientID, regToken, secretHash string) (domain.Client, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	client, ok := m.clients[clientID]
	if !ok || client.Allowed || client.RegToken == nil || *client.RegToken != regToken {
		return domain.Client{}, pgx.ErrNoRows
	}
	client.Allowed = true
	client.RegToken = nil
	client.SecretHash = &secretHash
	m.clients[clientID] = client
	return client, nil
}

type memoryCodeRepo struct {
	mu     sync.Mutex
	nextID int64
	codes  map[int64]domain.AuthorizationCode
}

var _ repository.CodeRepository = (*memoryCodeRepo)(nil)

func newMemoryCodeRepo() *memoryCodeRepo {
	return &memoryCodeRepo{codes: make(map[int64]domain.AuthorizationCode)}
}

func (m *memoryCodeRepo) CreateCode(ctx context.Context, clientID string) (domain.AuthorizationCode, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	code := domain.AuthorizationCode{ID: m.nextID, ClientID: clientID, CreatedAt: time.Now().UTC()}
	m.codes[code.ID] = code
	return code, nil
}

func (m *memoryCodeRepo) GetCode(ctx context.Context, id int64) (domain.AuthorizationCode, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	code, ok := m.codes[id]
	if !ok {
		return domain.AuthorizationCode{}, pgx.ErrNoRows
	}
	return code, nil
}

func (m *memoryCodeRepo) ConsumeCode(ctx context.Context, id int64, clientID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	code, ok := m.codes[id]
	if !ok || code.ClientID != clientID || code.Used {
		return false, nil
	}
	code.Used = true
	m.codes[id] = code
	return true, nil
}
