package normalize

import (
	"encoding/json"

	"catalog_sync/internal/domain"
)

var lazadaStatuses = map[string]domain.ProductStatus{
	"active":     domain.StatusActive,
	"inactive":   domain.StatusInactive,
	"pending qc": domain.StatusPending,
	"suspended":  domain.StatusBanned,
	"rejected":   domain.StatusBanned,
	"deleted":    domain.StatusDeleted,
}

type lazadaProduct struct {
	ItemID     scalar `json:"item_id"`
	Status     string `json:"status"`
	Attributes struct {
		Name *string `json:"name"`
	} `json:"attributes"`
	Skus []struct {
		Quantity     scalar   `json:"quantity"`
		Price        scalar   `json:"price"`
		SpecialPrice scalar   `json:"special_price"`
		Images       []string `json:"Images"`
		Status       string   `json:"Status"`
		SellerSku    string   `json:"SellerSku"`
	} `json:"skus"`
}

func mapLazada(payload json.RawMessage) (domain.Product, string, error) {
	var prod lazadaProduct
	if err := json.Unmarshal(payload, &prod); err != nil {
		return domain.Product{}, "malformed payload", err
	}
	if !prod.ItemID.set {
		return domain.Product{}, "missing item_id", nil
	}
	if prod.Attributes.Name == nil {
		return domain.Product{}, "missing attributes.name", nil
	}

	status := prod.Status
	p := domain.Product{
		PlatformID:  prod.ItemID.id(),
		ProductName: *prod.Attributes.Name,
	}

	if len(prod.Skus) > 0 {
		sku := prod.Skus[0]
		if status == "" {
			status = sku.Status
		}

		price, err := sku.Price.decimal()
		if err != nil {
			return domain.Product{}, "invalid price", err
		}
		special, err := sku.SpecialPrice.decimal()
		if err != nil {
			return domain.Product{}, "invalid special_price", err
		}
		if special.Valid && !special.Decimal.IsZero() {
			price = special
		}
		p.Price = price

		stock, err := sku.Quantity.int64()
		if err != nil {
			return domain.Product{}, "invalid quantity", err
		}
		p.Stock = stock
		p.ImageURL = firstNonEmpty(sku.Images)
		p.Barcode = firstNonEmpty([]string{sku.SellerSku})
	}

	p.Status = statusOf(lazadaStatuses, status)
	return p, "", nil
}
