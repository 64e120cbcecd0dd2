package grant_test

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/d2gex/ms1-auth-server/internal/domain"
	"github.com/d2gex/ms1-auth-server/internal/domain/oauth"
	"github.com/d2gex/ms1-auth-server/internal/keys"
	"github.com/d2gex/ms1-auth-server/internal/service/grant"
)

// issueCode runs the full validate+issue path for a verified client.
func issueCode(t *testing.T, h *harness, client domain.Client) string {
	t.Helper()
	validated, rejected, err := h.issuer.Validate(context.Background(), grant.AuthorizeRequest{
		ClientID:     client.ID,
		ResponseType: oauth.GrandType,
		State:        "chk-1",
	})
	require.NoError(t, err)
	require.Nil(t, rejected)
	resp, err := h.issuer.Issue(context.Background(), validated)
	require.NoError(t, err)
	return resp.Code
}

// signPayload crafts a code artifact with full control over the payload.
func signPayload(t *testing.T, manager *keys.Manager, payload map[string]any) string {
	t.Helper()
	raw, err := json.Marshal(payload)
	require.NoError(t, err)
	artifact, err := manager.Sign(raw)
	require.NoError(t, err)
	return artifact
}

func TestExchangeStructuralRejections(t *testing.T) {
	h := newHarness(t)
	client, plaintext := h.addVerifiedClient(t, "app1")
	code := issueCode(t, h, client)

	cases := []struct {
		name     string
		req      grant.TokenRequest
		contains string
	}{
		{"wrong grand_type", grant.TokenRequest{GrandType: "codegrant", Code: code, ClientSecret: plaintext}, "grand_type"},
		{"missing code", grant.TokenRequest{GrandType: oauth.GrandType, ClientSecret: plaintext}, "authorisation code"},
		{"missing secret", grant.TokenRequest{GrandType: oauth.GrandType, Code: code}, "client_secret"},
		{"malformed code", grant.TokenRequest{GrandType: oauth.GrandType, Code: "not a token", ClientSecret: plaintext}, "non-valid representation"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			resp, rejected, err := h.exchanger.Exchange(context.Background(), tc.req)
			require.NoError(t, err)
			require.Nil(t, resp)
			require.NotNil(t, rejected)
			require.Equal(t, http.StatusBadRequest, rejected.HTTPCode)
			require.Contains(t, rejected.Description, tc.contains)
		})
	}
}

func TestExchangeForeignSignature(t *testing.T) {
	h := newHarness(t)
	_, plaintext := h.addVerifiedClient(t, "app1")

	foreign := newHarness(t)
	foreignClient, _ := foreign.addVerifiedClient(t, "app1")
	code := issueCode(t, foreign, foreignClient)

	resp, rejected, err := h.exchanger.Exchange(context.Background(), grant.TokenRequest{
		GrandType:    oauth.GrandType,
		Code:         code,
		ClientSecret: plaintext,
	})
	require.NoError(t, err)
	require.Nil(t, resp)
	require.NotNil(t, rejected)
	require.Equal(t, http.StatusForbidden, rejected.HTTPCode)
	require.Contains(t, rejected.Description, "has not been signed in this authorisation server")
}

func TestExchangeMissingPayloadFields(t *testing.T) {
	h := newHarness(t)
	client, plaintext := h.addVerifiedClient(t, "app1")

	// code_id is absent; empty values still count as present.
	code := signPayload(t, h.manager, map[string]any{
		"client_id":       client.ID,
		"redirect_uri":    base64.URLEncoding.EncodeToString([]byte(client.RedirectURI)),
		"expiration_date": time.Now().UTC().Add(time.Minute).Format(oauth.ExpirationLayout),
	})

	_, rejected, err := h.exchanger.Exchange(context.Background(), grant.TokenRequest{
		GrandType:    oauth.GrandType,
		Code:         code,
		ClientSecret: plaintext,
	})
	require.NoError(t, err)
	require.NotNil(t, rejected)
	require.Equal(t, http.StatusForbidden, rejected.HTTPCode)
	require.Contains(t, rejected.Description, "all the required fields")
}

func TestExchangeUnknownCodeRecord(t *testing.T) {
	h := newHarness(t)
	client, plaintext := h.addVerifiedClient(t, "app1")

	code := signPayload(t, h.manager, map[string]any{
		"client_id":       client.ID,
		"redirect_uri":    base64.URLEncoding.EncodeToString([]byte(client.RedirectURI)),
		"expiration_date": time.Now().UTC().Add(time.Minute).Format(oauth.ExpirationLayout),
		"code_id":         999,
	})

	_, rejected, err := h.exchanger.Exchange(context.Background(), grant.TokenRequest{
		GrandType:    oauth.GrandType,
		Code:         code,
		ClientSecret: plaintext,
	})
	require.NoError(t, err)
	require.NotNil(t, rejected)
	require.Equal(t, http.StatusForbidden, rejected.HTTPCode)
	require.Contains(t, rejected.Description, "has not been issued by us")
}

func TestExchangeCodeOwnedByAnotherClient(t *testing.T) {
	h := newHarness(t)
	owner, _ := h.addVerifiedClient(t, "owner")
	thief, thiefSecret := h.addVerifiedClient(t, "thief")
	issueCode(t, h, owner)

	// The record belongs to owner but the payload claims thief.
	code := signPayload(t, h.manager, map[string]any{
		"client_id":       thief.ID,
		"redirect_uri":    base64.URLEncoding.EncodeToString([]byte(thief.RedirectURI)),
		"expiration_date": time.Now().UTC().Add(time.Minute).Format(oauth.ExpirationLayout),
		"code_id":         1,
	})

	_, rejected, err := h.exchanger.Exchange(context.Background(), grant.TokenRequest{
		GrandType:    oauth.GrandType,
		Code:         code,
		ClientSecret: thiefSecret,
	})
	require.NoError(t, err)
	require.NotNil(t, rejected)
	require.Equal(t, http.StatusForbidden, rejected.HTTPCode)
}

func TestExchangeExpiredCode(t *testing.T) {
	h := newHarness(t)
	client, plaintext := h.addVerifiedClient(t, "app1")
	issueCode(t, h, client)

	code := signPayload(t, h.manager, map[string]any{
		"client_id":       client.ID,
		"redirect_uri":    base64.URLEncoding.EncodeToString([]byte(client.RedirectURI)),
		"expiration_date": time.Now().UTC().Add(-time.Minute).Format(oauth.ExpirationLayout),
		"code_id":         1,
	})

	_, rejected, err := h.exchanger.Exchange(context.Background(), grant.TokenRequest{
		GrandType:    oauth.GrandType,
		Code:         code,
		ClientSecret: plaintext,
	})
	require.NoError(t, err)
	require.NotNil(t, rejected)
	require.Equal(t, http.StatusForbidden, rejected.HTTPCode)
	require.Contains(t, rejected.Description, "expired")
}

func TestExchangeSecretMismatch(t *testing.T) {
	h := newHarness(t)
	client, _ := h.addVerifiedClient(t, "app1")
	code := issueCode(t, h, client)

	_, rejected, err := h.exchanger.Exchange(context.Background(), grant.TokenRequest{
		GrandType:    oauth.GrandType,
		Code:         code,
		ClientSecret: "not the secret",
	})
	require.NoError(t, err)
	require.NotNil(t, rejected)
	require.Equal(t, http.StatusUnauthorized, rejected.HTTPCode)
	require.Contains(t, rejected.Description, "client_id and client_secret that don't match")
}

func TestExchangeRedirectMismatch(t *testing.T) {
	h := newHarness(t)
	client, plaintext := h.addVerifiedClient(t, "app1")
	issueCode(t, h, client)

	code := signPayload(t, h.manager, map[string]any{
		"client_id":       client.ID,
		"redirect_uri":    base64.URLEncoding.EncodeToString([]byte("https://evil.test/callback")),
		"expiration_date": time.Now().UTC().Add(time.Minute).Format(oauth.ExpirationLayout),
		"code_id":         1,
	})

	_, rejected, err := h.exchanger.Exchange(context.Background(), grant.TokenRequest{
		GrandType:    oauth.GrandType,
		Code:         code,
		ClientSecret: plaintext,
	})
	require.NoError(t, err)
	require.NotNil(t, rejected)
	require.Equal(t, http.StatusForbidden, rejected.HTTPCode)
	require.Contains(t, rejected.Description, "does not match our records")
}

func TestExchangeSuccessMintsToken(t *testing.T) {
	h := newHarness(t)
	client, plaintext := h.addVerifiedClient(t, "app1")
	code := issueCode(t, h, client)

	resp, rejected, err := h.exchanger.Exchange(context.Background(), grant.TokenRequest{
		GrandType:    oauth.GrandType,
		Code:         code,
		ClientSecret: plaintext,
	})
	require.NoError(t, err)
	require.Nil(t, rejected)
	require.Equal(t, "Bearer", resp.TokenType)

	var claims grant.AccessTokenClaims
	require.NoError(t, h.manager.VerifyClaims(resp.AccessToken, &claims))
	require.Equal(t, int64(3600), claims.ExpiresIn)

	record, err := h.codes.GetCode(context.Background(), 1)
	require.NoError(t, err)
	require.True(t, record.Used)
}

func TestExchangeSecondRedemptionRejected(t *testing.T) {
	h := newHarness(t)
	client, plaintext := h.addVerifiedClient(t, "app1")
	code := issueCode(t, h, client)

	req := grant.TokenRequest{GrandType: oauth.GrandType, Code: code, ClientSecret: plaintext}

	_, rejected, err := h.exchanger.Exchange(context.Background(), req)
	require.NoError(t, err)
	require.Nil(t, rejected)

	_, rejected, err = h.exchanger.Exchange(context.Background(), req)
	require.NoError(t, err)
	require.NotNil(t, rejected)
	require.Equal(t, http.StatusForbidden, rejected.HTTPCode)
	require.Contains(t, rejected.Description, "already")
}

func TestExchangeConcurrentRedemptionsSingleWinner(t *testing.T) {
	h := newHarness(t)
	client, plaintext := h.addVerifiedClient(t, "app1")
	code := issueCode(t, h, client)

	req := grant.TokenRequest{GrandType: oauth.GrandType, Code: code, ClientSecret: plaintext}

	const attempts = 50
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
		rejects   int
		failures  []error
	)
	wg.Add(attempts)
	for i := 0; i < attempts; i++ {
		go func() {
			defer wg.Done()
			resp, rejected, err := h.exchanger.Exchange(context.Background(), req)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				failures = append(failures, err)
				return
			}
			if resp != nil {
				successes++
			}
			if rejected != nil {
				rejects++
			}
		}()
	}
	wg.Wait()

	require.Empty(t, failures)
	require.Equal(t, 1, successes)
	require.Equal(t, attempts-1, rejects)
}
