package redmart

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"

	"catalog_sync/internal/domain"
	"catalog_sync/internal/source/lazada"
	"catalog_sync/internal/source/transport"
)

const productsPath = "/rss/products/get"

// Source pages through a Redmart store's catalog. Redmart sits behind the
// Lazada gateway, so signing and token refresh go through lazada.Client.
// Pages are numbered from 1.
type Source struct {
	client   *lazada.Client
	storeID  string
	pageSize int
	logger   *slog.Logger
}

func New(client *lazada.Client, storeID string, pageSize int, logger *slog.Logger) *Source {
	if pageSize <= 0 {
		pageSize = 100
	}
	return &Source{
		client:   client,
		storeID:  storeID,
		pageSize: pageSize,
		logger:   logger.With("source", domain.PlatformRedmart),
	}
}

func (s *Source) Platform() string {
	return domain.PlatformRedmart
}

func (s *Source) FetchPage(ctx context.Context, accessToken, cursor string) (*domain.RawPage, error) {
	page := 1
	if cursor != "" {
		n, err := strconv.Atoi(cursor)
		if err != nil || n < 1 {
			return nil, domain.Fatal(fmt.Errorf("invalid cursor %q", cursor))
		}
		page = n
	}

	body, err := s.client.Get(ctx, productsPath, accessToken, map[string]string{
		"storeId":  s.storeID,
		"page":     strconv.Itoa(page),
		"pageSize": strconv.Itoa(s.pageSize),
	})
	if err != nil {
		return nil, fmt.Errorf("fetch page %d: %w", page, err)
	}

	var resp productsResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, transport.Malformed(err)
	}

	data := resp.Result.Data
	out := &domain.RawPage{
		Records:    make([]domain.RawRecord, len(data)),
		NextCursor: strconv.Itoa(page + 1),
		Done:       len(data) == 0 || page*s.pageSize >= resp.Result.Total,
	}
	for i, p := range data {
		out.Records[i] = domain.RawRecord{Platform: domain.PlatformRedmart, Payload: p}
	}

	s.logger.Debug("fetched page",
		"page", page,
		"products", len(data),
		"total", resp.Result.Total,
	)

	return out, nil
}
