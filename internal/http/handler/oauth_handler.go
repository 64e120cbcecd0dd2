package handler

import (
	"errors"
	"net/http"
	"net/url"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/d2gex/ms1-auth-server/internal/domain/oauth"
	"github.com/d2gex/ms1-auth-server/internal/keys"
	"github.com/d2gex/ms1-auth-server/internal/repository"
	"github.com/d2gex/ms1-auth-server/internal/service/grant"
)

// OAuthHandler serves the authorization code grant endpoints.
type OAuthHandler struct {
	Issuer     grant.AuthorizationGrant
	Exchanger  *grant.TokenExchanger
	Pending    repository.PendingAuthorizationStore
	Keys       *keys.Manager
	ConsentTTL time.Duration
}

// NewOAuthHandler creates the handler set.
func NewOAuthHandler(issuer grant.AuthorizationGrant, exchanger *grant.TokenExchanger, pending repository.PendingAuthorizationStore, km *keys.Manager, consentTTL time.Duration) *OAuthHandler {
	if consentTTL <= 0 {
		consentTTL = 5 * time.Minute
	}
	return &OAuthHandler{
		Issuer:     issuer,
		Exchanger:  exchanger,
		Pending:    pending,
		Keys:       km,
		ConsentTTL: consentTTL,
	}
}

// Authorize validates the front-channel request and parks it for the
// resource owner's decision. Resource owner errors render as JSON, client
// errors redirect back to the client application.
func (h *OAuthHandler) Authorize(c *gin.Context) {
	req := grant.AuthorizeRequest{
		ClientID:     c.Query("client_id"),
		RedirectURI:  c.Query("redirect_uri"),
		ResponseType: c.Query("response_type"),
		State:        c.Query("state"),
		Scope:        c.Query("scope"),
	}

	validated, rejected, err := h.Issuer.Validate(c.Request.Context(), req)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": oauth.ErrCodeServerError, "error_description": "Authorization request could not be processed."})
		return
	}
	if rejected != nil {
		h.respondRejected(c, rejected)
		return
	}

	consentID := uuid.NewString()
	pending := oauth.PendingAuthorization{
		ClientID:    validated.ClientID,
		Name:        validated.Name,
		Description: validated.Description,
		WebURL:      validated.WebURL,
		RedirectURI: validated.RedirectURI,
		State:       validated.State,
		Scope:       validated.Scope,
		CreatedAt:   time.Now().UTC(),
	}
	if err := h.Pending.Save(c.Request.Context(), consentID, pending, h.ConsentTTL); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": oauth.ErrCodeServerError, "error_description": "Authorization request could not be stored."})
		return
	}

	c.Redirect(http.StatusFound, "/oauth/consent?cid="+url.QueryEscape(consentID))
}

// Consent describes the pending authorization so a UI can render the
// approval form. The payload stays parked until the owner decides.
func (h *OAuthHandler) Consent(c *gin.Context) {
	pending, err := h.Pending.Get(c.Request.Context(), c.Query("cid"))
	if err != nil {
		if errors.Is(err, oauth.ErrConsentNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": oauth.ErrCodeInvalidRequest, "error_description": "Unknown or expired authorization request."})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": oauth.ErrCodeServerError, "error_description": "Authorization request could not be loaded."})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"client_name": pending.Name,
		"description": pending.Description,
		"web_url":     pending.WebURL,
		"scope":       pending.Scope,
	})
}

// Approve redeems the pending authorization exactly once. An allow decision
// issues the signed code, anything else sends access_denied back to the
// client.
func (h *OAuthHandler) Approve(c *gin.Context) {
	var form struct {
		ConsentID string `form:"cid" binding:"required"`
		Decision  string `form:"decision" binding:"required"`
	}
	if err := c.ShouldBind(&form); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": oauth.ErrCodeInvalidRequest, "error_description": "Both 'cid' and 'decision' are required."})
		return
	}

	pending, err := h.Pending.Take(c.Request.Context(), form.ConsentID)
	if err != nil {
		if errors.Is(err, oauth.ErrConsentNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": oauth.ErrCodeInvalidRequest, "error_description": "Unknown or expired authorization request."})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": oauth.ErrCodeServerError, "error_description": "Authorization request could not be loaded."})
		return
	}

	if form.Decision != "allow" {
		redirectError(c, pending.RedirectURI, oauth.ErrCodeAccessDenied, "The resource owner denied the request", pending.State)
		return
	}

	resp, err := h.Issuer.Issue(c.Request.Context(), &grant.ValidatedRequest{
		ClientID:    pending.ClientID,
		Name:        pending.Name,
		Description: pending.Description,
		WebURL:      pending.WebURL,
		RedirectURI: pending.RedirectURI,
		State:       pending.State,
		Scope:       pending.Scope,
	})
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": oauth.ErrCodeServerError, "error_description": "Authorization code could not be issued."})
		return
	}

	target, err := url.Parse(pending.RedirectURI)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": oauth.ErrCodeServerError, "error_description": "Registered redirect URI is invalid."})
		return
	}
	query := target.Query()
	query.Set("code", resp.Code)
	query.Set("state", resp.State)
	target.RawQuery = query.Encode()
	c.Redirect(http.StatusFound, target.String())
}

// Token exchanges a signed authorization code for an access token.
func (h *OAuthHandler) Token(c *gin.Context) {
	var req grant.TokenRequest
	if err := c.ShouldBind(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":             oauth.ErrCodeInvalidRequest,
			"error_description": "Invalid token request.",
			"message":           envelopeMessage(http.StatusBadRequest, "Invalid token request."),
		})
		return
	}

	resp, rejected, err := h.Exchanger.Exchange(c.Request.Context(), req)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": oauth.ErrCodeServerError, "error_description": "Token exchange could not be processed."})
		return
	}
	if rejected != nil {
		c.JSON(rejected.HTTPCode, gin.H{
			"error":             rejected.ErrorCode,
			"error_description": rejected.Description,
			"message":           envelopeMessage(rejected.HTTPCode, rejected.Description),
		})
		return
	}

	c.Header("Cache-Control", "no-store")
	c.Header("Pragma", "no-cache")
	c.JSON(http.StatusOK, resp)
}

// JWKS exposes the server public key set.
func (h *OAuthHandler) JWKS(c *gin.Context) {
	c.JSON(http.StatusOK, h.Keys.JWKS())
}

func (h *OAuthHandler) respondRejected(c *gin.Context, rejected *grant.RejectedRequest) {
	if rejected.Addressee == oauth.ClientApplication && rejected.RedirectURI != "" {
		redirectError(c, rejected.RedirectURI, rejected.ErrorCode, rejected.Description, rejected.State)
		return
	}
	c.JSON(rejected.HTTPCode, gin.H{"error_description": rejected.Description})
}

func redirectError(c *gin.Context, redirectURI, code, description, state string) {
	target, err := url.Parse(redirectURI)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": oauth.ErrCodeServerError, "error_description": "Registered redirect URI is invalid."})
		return
	}
	query := target.Query()
	query.Set("error", code)
	query.Set("error_description", description)
	if state != "" {
		query.Set("state", state)
	}
	target.RawQuery = query.Encode()
	c.Redirect(http.StatusFound, target.String())
}
