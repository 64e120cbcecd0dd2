// Package bootstrap seeds development fixtures on startup.
package bootstrap

import (
	"context"
	"errors"
	"strings"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/d2gex/ms1-auth-server/internal/config"
	"github.com/d2gex/ms1-auth-server/internal/service"
)

// EnsureSeedClient registers a dev/e2e client application if the seed env
// vars are set and the email is not registered yet. The registration token
// is logged so the verification step can be exercised by hand.
func EnsureSeedClient(lc fx.Lifecycle, cfg config.Config, registry *service.RegistryService, logger *zap.Logger) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			return ensureSeedClient(ctx, cfg, registry, logger)
		},
	})
}

func ensureSeedClient(ctx context.Context, cfg config.Config, registry *service.RegistryService, logger *zap.Logger) error {
	email := strings.ToLower(strings.TrimSpace(cfg.SeedClientEmail))
	if email == "" {
		return nil
	}

	client, err := registry.Register(ctx, service.RegistrationInput{
		Name:        cfg.SeedClientName,
		Description: "Seeded development client",
		Email:       email,
		RedirectURI: cfg.SeedClientRedirect,
		WebURL:      cfg.SeedClientWebURL,
	})
	if err != nil {
		var oauthErr *service.OAuthError
		if errors.As(err, &oauthErr) {
			// Already registered or invalid seed config, not fatal.
			logger.Warn("seed client skipped", zap.String("reason", oauthErr.Description))
			return nil
		}
		return err
	}

	regToken := ""
	if client.RegToken != nil {
		regToken = *client.RegToken
	}
	logger.Info("seed client registered",
		zap.String("client_id", client.ID),
		zap.String("reg_token", regToken),
	)
	return nil
}
