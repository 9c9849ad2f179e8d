package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"catalog_sync/internal/config"
	"catalog_sync/internal/domain"
)

// authorizer runs the one-time consent flow that yields a platform's first
// token pair.
type authorizer interface {
	AuthorizationURL(redirect string) string
	ExchangeCode(ctx context.Context, code string) (*domain.TokenGrant, error)
}

// tokenSaver stores a granted token pair. *credential.Store satisfies it.
type tokenSaver interface {
	Save(ctx context.Context, platform string, grant *domain.TokenGrant) (*domain.Credential, error)
}

func newAuthorizer(cfg config.PlatformsConfig, platform string, logger *slog.Logger) (authorizer, error) {
	var (
		auth       authorizer
		configured bool
	)
	switch platform {
	case domain.PlatformShopee:
		auth, configured = shopeeClient(cfg.Shopee, logger), cfg.Shopee.Configured()
	case domain.PlatformLazada:
		auth, configured = lazadaClient(cfg.Lazada, logger), cfg.Lazada.Configured()
	case domain.PlatformRedmart:
		auth, configured = redmartClient(cfg.Redmart, logger), cfg.Redmart.Configured()
	default:
		return nil, fmt.Errorf("%w: %s", domain.ErrUnknownPlatform, platform)
	}
	if !configured {
		return nil, fmt.Errorf("%s app credentials are not configured", platform)
	}
	return auth, nil
}

// authorize prints the consent URL when code is empty. Otherwise it exchanges
// the code and stores the resulting credential.
func authorize(
	ctx context.Context,
	out io.Writer,
	auth authorizer,
	tokens tokenSaver,
	platform, redirect, code string,
	logger *slog.Logger,
) error {
	if code == "" {
		if redirect == "" {
			return fmt.Errorf("a redirect url is required to authorize %s", platform)
		}
		_, err := fmt.Fprintf(out, "Open this URL, approve access, then rerun with -code set to the code from the redirect:\n%s\n",
			auth.AuthorizationURL(redirect))
		return err
	}

	grant, err := auth.ExchangeCode(ctx, code)
	if err != nil {
		return fmt.Errorf("exchange %s authorization code: %w", platform, err)
	}
	cred, err := tokens.Save(ctx, platform, grant)
	if err != nil {
		return fmt.Errorf("store %s credential: %w", platform, err)
	}

	logger.Info("platform authorized",
		"platform", platform,
		"access_expires_at", cred.AccessTokenExpiresAt,
		"refresh_expires_at", cred.RefreshTokenExpiresAt,
	)
	return nil
}
