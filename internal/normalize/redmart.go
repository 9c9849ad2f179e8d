package normalize

import (
	"encoding/json"

	"catalog_sync/internal/domain"
)

var redmartStatuses = map[string]domain.ProductStatus{
	"active":   domain.StatusActive,
	"live":     domain.StatusActive,
	"inactive": domain.StatusInactive,
	"disabled": domain.StatusInactive,
	"pending":  domain.StatusPending,
	"deleted":  domain.StatusDeleted,
}

// Redmart records carry neither stock nor images.
type redmartProduct struct {
	RPC      scalar   `json:"rpc"`
	Title    *string  `json:"title"`
	Price    scalar   `json:"price"`
	Status   string   `json:"status"`
	Barcodes []string `json:"barcodes"`
}

func mapRedmart(payload json.RawMessage) (domain.Product, string, error) {
	var prod redmartProduct
	if err := json.Unmarshal(payload, &prod); err != nil {
		return domain.Product{}, "malformed payload", err
	}
	if !prod.RPC.set {
		return domain.Product{}, "missing rpc", nil
	}
	if prod.Title == nil {
		return domain.Product{}, "missing title", nil
	}

	price, err := prod.Price.decimal()
	if err != nil {
		return domain.Product{}, "invalid price", err
	}

	return domain.Product{
		PlatformID:  prod.RPC.id(),
		ProductName: *prod.Title,
		Price:       price,
		Status:      statusOf(redmartStatuses, prod.Status),
		Barcode:     firstBarcode(prod.Barcodes),
	}, "", nil
}

func firstBarcode(barcodes []string) *string {
	if len(barcodes) == 0 {
		return nil
	}
	return firstNonEmpty(barcodes[:1])
}
