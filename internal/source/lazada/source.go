package lazada

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"

	"catalog_sync/internal/domain"
	"catalog_sync/internal/source/transport"
)

const productsPath = "/products/get"

// Source pages through the seller's products with an offset cursor.
type Source struct {
	client   *Client
	pageSize int
	logger   *slog.Logger
}

func New(client *Client, pageSize int, logger *slog.Logger) *Source {
	if pageSize <= 0 {
		pageSize = 100
	}
	return &Source{
		client:   client,
		pageSize: pageSize,
		logger:   logger.With("source", domain.PlatformLazada),
	}
}

func (s *Source) Platform() string {
	return domain.PlatformLazada
}

// FetchPage returns the products starting at the offset held in cursor.
func (s *Source) FetchPage(ctx context.Context, accessToken, cursor string) (*domain.RawPage, error) {
	offset := 0
	if cursor != "" {
		n, err := strconv.Atoi(cursor)
		if err != nil || n < 0 {
			return nil, domain.Fatal(fmt.Errorf("invalid cursor %q", cursor))
		}
		offset = n
	}

	body, err := s.client.Get(ctx, productsPath, accessToken, map[string]string{
		"filter": "all",
		"offset": strconv.Itoa(offset),
		"limit":  strconv.Itoa(s.pageSize),
	})
	if err != nil {
		return nil, fmt.Errorf("fetch offset %d: %w", offset, err)
	}

	var resp productsResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, transport.Malformed(err)
	}

	products := resp.Data.Products
	next := offset + len(products)
	page := &domain.RawPage{
		Records:    make([]domain.RawRecord, len(products)),
		NextCursor: strconv.Itoa(next),
		Done:       len(products) == 0 || next >= resp.Data.TotalProducts,
	}
	for i, p := range products {
		page.Records[i] = domain.RawRecord{Platform: domain.PlatformLazada, Payload: p}
	}

	s.logger.Debug("fetched page",
		"offset", offset,
		"products", len(products),
		"total", resp.Data.TotalProducts,
	)

	return page, nil
}
