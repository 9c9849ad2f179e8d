package main

import (
	"log/slog"
	"strconv"

	"catalog_sync/internal/config"
	"catalog_sync/internal/credential"
	"catalog_sync/internal/domain"
	"catalog_sync/internal/normalize"
	"catalog_sync/internal/service"
	"catalog_sync/internal/source/lazada"
	"catalog_sync/internal/source/redmart"
	"catalog_sync/internal/source/shopee"
	"catalog_sync/internal/source/transport"
)

// platform bundles what one marketplace contributes to the pipeline.
type platform struct {
	adapter    service.Adapter
	refresher  credential.Refresher
	normalizer *normalize.Normalizer
	seed       domain.Credential
}

func buildPlatforms(cfg config.PlatformsConfig, logger *slog.Logger) ([]platform, error) {
	var out []platform

	if c := cfg.Shopee; c.Enabled() {
		client := shopeeClient(c, logger)

		p, err := newPlatform(
			shopee.New(client, c.Client.PageSize, logger),
			client,
			strconv.FormatInt(c.ShopID, 10),
			c.SeedTokens,
		)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	} else {
		logger.Info("platform disabled", "platform", domain.PlatformShopee)
	}

	if c := cfg.Lazada; c.Enabled() {
		client := lazadaClient(c, logger)

		p, err := newPlatform(lazada.New(client, c.Client.PageSize, logger), client, "", c.SeedTokens)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	} else {
		logger.Info("platform disabled", "platform", domain.PlatformLazada)
	}

	if c := cfg.Redmart; c.Enabled() {
		client := redmartClient(c, logger)

		p, err := newPlatform(redmart.New(client, c.StoreID, c.Client.PageSize, logger), client, c.StoreID, c.SeedTokens)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	} else {
		logger.Info("platform disabled", "platform", domain.PlatformRedmart)
	}

	return out, nil
}

func shopeeClient(c config.ShopeeConfig, logger *slog.Logger) *shopee.Client {
	return shopee.NewClient(shopee.ClientConfig{
		PartnerID:  c.PartnerID,
		PartnerKey: c.PartnerKey,
		ShopID:     c.ShopID,
		BaseURL:    c.BaseURL,
		Transport:  transportConfig(c.Client),
	}, logger.With("platform", domain.PlatformShopee))
}

func lazadaClient(c config.LazadaConfig, logger *slog.Logger) *lazada.Client {
	return lazada.NewClient(lazada.ClientConfig{
		AppKey:    c.AppKey,
		AppSecret: c.AppSecret,
		APIURL:    c.APIURL,
		AuthURL:   c.AuthURL,
		Transport: transportConfig(c.Client),
	}, logger.With("platform", domain.PlatformLazada))
}

// Redmart runs on the Lazada gateway under its own app.
func redmartClient(c config.RedmartConfig, logger *slog.Logger) *lazada.Client {
	return lazada.NewClient(lazada.ClientConfig{
		AppKey:    c.AppKey,
		AppSecret: c.AppSecret,
		APIURL:    c.APIURL,
		AuthURL:   c.AuthURL,
		Transport: transportConfig(c.Client),
	}, logger.With("platform", domain.PlatformRedmart))
}

func newPlatform(adapter service.Adapter, refresher credential.Refresher, storeID string, seed config.SeedTokens) (platform, error) {
	n, err := normalize.New(adapter.Platform(), storeID)
	if err != nil {
		return platform{}, err
	}
	return platform{
		adapter:    adapter,
		refresher:  refresher,
		normalizer: n,
		seed: domain.Credential{
			Platform:              adapter.Platform(),
			AccessToken:           seed.AccessToken,
			AccessTokenExpiresAt:  seed.AccessTokenExpiresAt,
			RefreshToken:          seed.RefreshToken,
			RefreshTokenExpiresAt: seed.RefreshTokenExpiresAt,
		},
	}, nil
}

func transportConfig(c config.ClientConfig) transport.Config {
	return transport.Config{
		Timeout:           c.Timeout,
		RequestsPerSecond: c.RequestsPerSecond,
	}
}
