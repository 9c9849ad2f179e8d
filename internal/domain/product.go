package domain

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

const (
	PlatformShopee  = "shopee"
	PlatformLazada  = "lazada"
	PlatformRedmart = "redmart"
)

// ProductStatus is the unified listing status across platforms.
type ProductStatus string

const (
	StatusActive   ProductStatus = "active"
	StatusInactive ProductStatus = "inactive"
	StatusPending  ProductStatus = "pending"
	StatusBanned   ProductStatus = "banned"
	StatusDeleted  ProductStatus = "deleted"
	StatusUnknown  ProductStatus = "unknown"
)

// Product is the unified product record. (PlatformName, PlatformID) is the dedup key.
type Product struct {
	PlatformID   string              `db:"platform_id" json:"platform_id"`
	PlatformName string              `db:"platform_name" json:"platform_name"`
	ProductName  string              `db:"product_name" json:"product_name"`
	Price        decimal.NullDecimal `db:"price" json:"price"`
	Stock        *int64              `db:"stock" json:"stock"`
	Status       ProductStatus       `db:"status" json:"status"`
	ImageURL     *string             `db:"image_url" json:"image_url"`
	Barcode      *string             `db:"barcode" json:"barcode"`
	StoreID      *string             `db:"store_id" json:"store_id"`
	UpdatedAt    time.Time           `db:"updated_at" json:"-"`
}

// Key returns the dedup key of the record.
func (p Product) Key() string {
	return p.PlatformName + "/" + p.PlatformID
}

// RawRecord is one platform-native record, still in its wire encoding.
type RawRecord struct {
	Platform string
	Payload  json.RawMessage
}

// RawPage is one page of a platform listing. Two-step platforms fill IDs
// instead of Records; the coordinator hydrates them.
type RawPage struct {
	Records    []RawRecord
	IDs        []string
	NextCursor string
	Done       bool
}
