package postgres

import (
	"context"
	"strconv"
	"strings"

	"github.com/jmoiron/sqlx"

	"catalog_sync/internal/domain"
)

const (
	productColumns = 9
	// upsertChunk keeps one statement under the 65535 bind parameter limit.
	upsertChunk = 1000
)

type ProductStore struct {
	db *sqlx.DB
}

func NewProductStore(db *sqlx.DB) *ProductStore {
	return &ProductStore{db: db}
}

// Upsert writes products keyed by (platform_name, platform_id), replacing
// existing rows with the latest values. The batch must not repeat a key.
func (s *ProductStore) Upsert(ctx context.Context, products []domain.Product) (int64, error) {
	var total int64
	for start := 0; start < len(products); start += upsertChunk {
		end := min(start+upsertChunk, len(products))
		n, err := s.upsertChunk(ctx, products[start:end])
		if err != nil {
			return total, err
		}
		total += n
	}
	return total, nil
}

func (s *ProductStore) upsertChunk(ctx context.Context, products []domain.Product) (int64, error) {
	if len(products) == 0 {
		return 0, nil
	}

	var sb strings.Builder
	sb.WriteString(`INSERT INTO products (
		platform_name, platform_id, product_name, price, stock, status, image_url, barcode, store_id
	) VALUES `)
	args := make([]interface{}, 0, len(products)*productColumns)

	for i, p := range products {
		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString("(")
		for c := 1; c <= productColumns; c++ {
			if c > 1 {
				sb.WriteString(", ")
			}
			sb.WriteString("$")
			sb.WriteString(strconv.Itoa(i*productColumns + c))
		}
		sb.WriteString(")")
		args = append(args,
			p.PlatformName,
			p.PlatformID,
			p.ProductName,
			p.Price,
			p.Stock,
			p.Status,
			p.ImageURL,
			p.Barcode,
			p.StoreID,
		)
	}
	sb.WriteString(`
		ON CONFLICT (platform_name, platform_id) DO UPDATE SET
			product_name = EXCLUDED.product_name,
			price = EXCLUDED.price,
			stock = EXCLUDED.stock,
			status = EXCLUDED.status,
			image_url = EXCLUDED.image_url,
			barcode = EXCLUDED.barcode,
			store_id = EXCLUDED.store_id,
			updated_at = now()`)

	res, err := GetExecutor(ctx, s.db).ExecContext(ctx, sb.String(), args...)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// QualityCounts are table-wide anomaly counts for one platform.
type QualityCounts struct {
	Total         int64 `db:"total"`
	NegativePrice int64 `db:"negative_price"`
	NegativeStock int64 `db:"negative_stock"`
	EmptyName     int64 `db:"empty_name"`
}

func (s *ProductStore) QualityCounts(ctx context.Context, platform string) (*QualityCounts, error) {
	query := `
		SELECT
			COUNT(*) AS total,
			COUNT(*) FILTER (WHERE price < 0) AS negative_price,
			COUNT(*) FILTER (WHERE stock < 0) AS negative_stock,
			COUNT(*) FILTER (WHERE btrim(product_name) = '') AS empty_name
		FROM products
		WHERE platform_name = $1`

	var counts QualityCounts
	if err := sqlx.GetContext(ctx, GetExecutor(ctx, s.db), &counts, query, platform); err != nil {
		return nil, err
	}
	return &counts, nil
}
