package shopee

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"
	"strings"

	"catalog_sync/internal/domain"
	"catalog_sync/internal/source/transport"
)

const (
	itemListPath     = "/api/v2/product/get_item_list"
	itemBaseInfoPath = "/api/v2/product/get_item_base_info"

	// maxDetailBatch is the item_id_list limit of get_item_base_info.
	maxDetailBatch = 50
)

// Source lists item ids page by page and hydrates them in a second call.
type Source struct {
	client   *Client
	pageSize int
	logger   *slog.Logger
}

func New(client *Client, pageSize int, logger *slog.Logger) *Source {
	if pageSize <= 0 || pageSize > 100 {
		pageSize = 50
	}
	return &Source{
		client:   client,
		pageSize: pageSize,
		logger:   logger.With("source", domain.PlatformShopee),
	}
}

func (s *Source) Platform() string {
	return domain.PlatformShopee
}

// FetchPage returns the ids of one listing page; the records come from
// FetchDetails.
func (s *Source) FetchPage(ctx context.Context, accessToken, cursor string) (*domain.RawPage, error) {
	offset := 0
	if cursor != "" {
		n, err := strconv.Atoi(cursor)
		if err != nil || n < 0 {
			return nil, domain.Fatal(fmt.Errorf("invalid cursor %q", cursor))
		}
		offset = n
	}

	body, err := s.client.Get(ctx, itemListPath, accessToken, url.Values{
		"offset":      {strconv.Itoa(offset)},
		"page_size":   {strconv.Itoa(s.pageSize)},
		"item_status": {"NORMAL"},
	})
	if err != nil {
		return nil, fmt.Errorf("fetch offset %d: %w", offset, err)
	}

	var resp itemListResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, transport.Malformed(err)
	}

	page := &domain.RawPage{
		IDs:        make([]string, len(resp.Response.Item)),
		NextCursor: strconv.Itoa(resp.Response.NextOffset),
		Done:       !resp.Response.HasNextPage,
	}
	for i, item := range resp.Response.Item {
		page.IDs[i] = strconv.FormatInt(item.ItemID, 10)
	}

	s.logger.Debug("fetched page",
		"offset", offset,
		"items", len(page.IDs),
		"total", resp.Response.TotalCount,
		"has_next_page", resp.Response.HasNextPage,
	)

	return page, nil
}

// FetchDetails hydrates ids in batches. A failed batch fails the whole call.
func (s *Source) FetchDetails(ctx context.Context, accessToken string, ids []string) ([]domain.RawRecord, error) {
	records := make([]domain.RawRecord, 0, len(ids))

	for start := 0; start < len(ids); start += maxDetailBatch {
		end := min(start+maxDetailBatch, len(ids))

		body, err := s.client.Get(ctx, itemBaseInfoPath, accessToken, url.Values{
			"item_id_list": {strings.Join(ids[start:end], ",")},
		})
		if err != nil {
			return nil, fmt.Errorf("fetch details %d-%d: %w", start, end, err)
		}

		var resp itemBaseInfoResponse
		if err := json.Unmarshal(body, &resp); err != nil {
			return nil, transport.Malformed(err)
		}

		for _, item := range resp.Response.ItemList {
			records = append(records, domain.RawRecord{Platform: domain.PlatformShopee, Payload: item})
		}
	}

	return records, nil
}
