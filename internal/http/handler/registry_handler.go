package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/d2gex/ms1-auth-server/internal/domain/oauth"
	"github.com/d2gex/ms1-auth-server/internal/service"
)

// RegistryHandler serves client registration and verification.
type RegistryHandler struct {
	Registry *service.RegistryService
}

func NewRegistryHandler(registry *service.RegistryService) *RegistryHandler {
	return &RegistryHandler{Registry: registry}
}

// Register creates a pending client and returns its one-off registration
// token.
func (h *RegistryHandler) Register(c *gin.Context) {
	var body struct {
		Name        string `json:"name" binding:"required"`
		Description string `json:"description" binding:"required"`
		Email       string `json:"email" binding:"required"`
		RedirectURI string `json:"redirect_uri" binding:"required"`
		WebURL      string `json:"web_url" binding:"required"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		respondEnvelope(c, http.StatusBadRequest, "A json object with name, description, email, redirect_uri and web_url is expected")
		return
	}

	client, err := h.Registry.Register(c.Request.Context(), service.RegistrationInput{
		Name:        body.Name,
		Description: body.Description,
		Email:       body.Email,
		RedirectURI: body.RedirectURI,
		WebURL:      body.WebURL,
	})
	if err != nil {
		respondRegistryError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"id": client.ID, "reg_token": client.RegToken})
}

// Verify upgrades a pending registration into usable credentials. The
// client secret in the response is shown exactly once.
func (h *RegistryHandler) Verify(c *gin.Context) {
	var body struct {
		ID       string `json:"id" binding:"required"`
		RegToken string `json:"reg_token" binding:"required"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		respondEnvelope(c, http.StatusBadRequest, "A json object with id and reg_token is expected")
		return
	}

	client, clientSecret, err := h.Registry.Verify(c.Request.Context(), body.ID, body.RegToken)
	if err != nil {
		respondRegistryError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"id": client.ID, "client_secret": clientSecret})
}

func respondRegistryError(c *gin.Context, err error) {
	var oauthErr *service.OAuthError
	if errors.As(err, &oauthErr) {
		respondEnvelope(c, oauthErr.Status, oauthErr.Description)
		return
	}
	if errors.Is(err, oauth.ErrConflict) {
		respondEnvelope(c, http.StatusConflict, "Another client is already registered with these details")
		return
	}
	respondEnvelope(c, http.StatusInternalServerError, "The request could not be processed")
}

func respondEnvelope(c *gin.Context, status int, description string) {
	c.JSON(status, gin.H{"message": envelopeMessage(status, description)})
}
