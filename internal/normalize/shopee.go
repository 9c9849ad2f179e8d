package normalize

import (
	"encoding/json"
	"strings"

	"catalog_sync/internal/domain"
)

var shopeeStatuses = map[string]domain.ProductStatus{
	"normal":        domain.StatusActive,
	"unlist":        domain.StatusInactive,
	"reviewing":     domain.StatusPending,
	"banned":        domain.StatusBanned,
	"seller_delete": domain.StatusDeleted,
	"shopee_delete": domain.StatusDeleted,
}

type shopeeItem struct {
	ItemID     scalar  `json:"item_id"`
	ItemName   *string `json:"item_name"`
	ItemStatus string  `json:"item_status"`
	GTINCode   string  `json:"gtin_code"`
	ItemSKU    string  `json:"item_sku"`
	PriceInfo  []struct {
		CurrentPrice  scalar `json:"current_price"`
		OriginalPrice scalar `json:"original_price"`
	} `json:"price_info"`
	StockInfoV2 *struct {
		SellerStock []struct {
			Stock scalar `json:"stock"`
		} `json:"seller_stock"`
		SummaryInfo *struct {
			TotalAvailableStock scalar `json:"total_available_stock"`
		} `json:"summary_info"`
	} `json:"stock_info_v2"`
	Image struct {
		ImageURLList []string `json:"image_url_list"`
	} `json:"image"`
}

func mapShopee(payload json.RawMessage) (domain.Product, string, error) {
	var item shopeeItem
	if err := json.Unmarshal(payload, &item); err != nil {
		return domain.Product{}, "malformed payload", err
	}
	if !item.ItemID.set {
		return domain.Product{}, "missing item_id", nil
	}
	if item.ItemName == nil {
		return domain.Product{}, "missing item_name", nil
	}

	p := domain.Product{
		PlatformID:  item.ItemID.id(),
		ProductName: *item.ItemName,
		Status:      statusOf(shopeeStatuses, item.ItemStatus),
		ImageURL:    firstNonEmpty(item.Image.ImageURLList),
		Barcode:     shopeeBarcode(item.GTINCode, item.ItemSKU),
	}

	if len(item.PriceInfo) > 0 {
		price, err := item.PriceInfo[0].CurrentPrice.decimal()
		if err != nil {
			return domain.Product{}, "invalid price", err
		}
		p.Price = price
	}

	if si := item.StockInfoV2; si != nil {
		stock := scalar{}
		if len(si.SellerStock) > 0 && si.SellerStock[0].Stock.set {
			stock = si.SellerStock[0].Stock
		} else if si.SummaryInfo != nil {
			stock = si.SummaryInfo.TotalAvailableStock
		}
		v, err := stock.int64()
		if err != nil {
			return domain.Product{}, "invalid stock", err
		}
		p.Stock = v
	}

	return p, "", nil
}

// shopeeBarcode prefers the GTIN. Shopee reports "00" for items without one,
// in which case the seller SKU stands in.
func shopeeBarcode(gtin, sku string) *string {
	if g := strings.TrimSpace(gtin); g != "00" {
		if b := firstNonEmpty([]string{g}); b != nil {
			return b
		}
	}
	return firstNonEmpty([]string{sku})
}
