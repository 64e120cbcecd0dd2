package service_test

import (
	"context"
	"net/http"
	"sync"
	"testing"

	"github.com/bwmarrin/snowflake"
	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/d2gex/ms1-auth-server/internal/domain"
	"github.com/d2gex/ms1-auth-server/internal/secret"
	"github.com/d2gex/ms1-auth-server/internal/service"
)

func newRegistry(t *testing.T) (*service.RegistryService, *memoryClientRepo) {
	t.Helper()
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	repo := &memoryClientRepo{clients: make(map[string]domain.Client)}
	return service.NewRegistryService(repo, node, zap.NewNop()), repo
}

func validInput() service.RegistrationInput {
	return service.RegistrationInput{
		Name:        "Test App",
		Description: "An application under test",
		Email:       "owner@client.test",
		RedirectURI: "https://client.test/callback",
		WebURL:      "https://client.test",
	}
}

func TestRegisterCreatesPendingClient(t *testing.T) {
	registry, repo := newRegistry(t)

	client, err := registry.Register(context.Background(), validInput())
	require.NoError(t, err)
	require.NotEmpty(t, client.ID)
	require.NotNil(t, client.RegToken)
	require.NotEmpty(t, *client.RegToken)
	require.False(t, client.Allowed)
	require.Nil(t, client.SecretHash)

	stored, err := repo.GetClientByID(context.Background(), client.ID)
	require.NoError(t, err)
	require.Equal(t, "owner@client.test", stored.Email)
}

func TestRegisterRejectsNonHTTPSURLs(t *testing.T) {
	registry, _ := newRegistry(t)

	for _, mutate := range []func(*service.RegistrationInput){
		func(in *service.RegistrationInput) { in.WebURL = "http://client.test" },
		func(in *service.RegistrationInput) { in.RedirectURI = "ftp://client.test/callback" },
		func(in *service.RegistrationInput) { in.RedirectURI = "not a url" },
	} {
		input := validInput()
		mutate(&input)
		_, err := registry.Register(context.Background(), input)
		var oauthErr *service.OAuthError
		require.ErrorAs(t, err, &oauthErr)
		require.Equal(t, http.StatusConflict, oauthErr.Status)
		require.Contains(t, oauthErr.Description, "https://")
	}
}

func TestRegisterRejectsDuplicateEmail(t *testing.T) {
	registry, _ := newRegistry(t)

	_, err := registry.Register(context.Background(), validInput())
	require.NoError(t, err)

	_, err = registry.Register(context.Background(), validInput())
	var oauthErr *service.OAuthError
	require.ErrorAs(t, err, &oauthErr)
	require.Equal(t, http.StatusConflict, oauthErr.Status)
	require.Contains(t, oauthErr.Description, "already been registered")
}

func TestVerifyIssuesCredentialsOnce(t *testing.T) {
	registry, repo := newRegistry(t)

	client, err := registry.Register(context.Background(), validInput())
	require.NoError(t, err)
	regToken := *client.RegToken

	verified, plaintext, err := registry.Verify(context.Background(), client.ID, regToken)
	require.NoError(t, err)
	require.NotEmpty(t, plaintext)
	require.True(t, verified.Allowed)
	require.Nil(t, verified.RegToken)
	require.NotNil(t, verified.SecretHash)

	ok, err := secret.Verify(plaintext, *verified.SecretHash)
	require.NoError(t, err)
	require.True(t, ok)

	// The token is spent, a second attempt conflicts.
	_, _, err = registry.Verify(context.Background(), client.ID, regToken)
	var oauthErr *service.OAuthError
	require.ErrorAs(t, err, &oauthErr)
	require.Equal(t, http.StatusConflict, oauthErr.Status)

	stored, err := repo.GetClientByID(context.Background(), client.ID)
	require.NoError(t, err)
	require.True(t, stored.Allowed)
}

func TestVerifyUnknownClientOrToken(t *testing.T) {
	registry, _ := newRegistry(t)

	client, err := registry.Register(context.Background(), validInput())
	require.NoError(t, err)

	_, _, err = registry.Verify(context.Background(), client.ID, "wrong-token")
	var oauthErr *service.OAuthError
	require.ErrorAs(t, err, &oauthErr)
	require.Equal(t, http.StatusConflict, oauthErr.Status)
	require.Contains(t, oauthErr.Description, "may not yet have registered or token is invalid")

	_, _, err = registry.Verify(context.Background(), "ghost", "any-token")
	require.ErrorAs(t, err, &oauthErr)
	require.Equal(t, http.StatusConflict, oauthErr.Status)
}

type memoryClientRepo struct {
	mu      sync.Mutex
	clients map[string]domain.Client
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
