// Package normalize maps platform-native product records onto the unified
// product schema.
package normalize

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"catalog_sync/internal/domain"
)

// DropError rejects a single record. The pull counts it and moves on.
type DropError struct {
	Platform string
	Reason   string
	Err      error
}

func (e *DropError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("drop %s record: %s: %v", e.Platform, e.Reason, e.Err)
	}
	return fmt.Sprintf("drop %s record: %s", e.Platform, e.Reason)
}

func (e *DropError) Unwrap() error {
	return e.Err
}

// AsDrop returns the DropError in err's chain, if any.
func AsDrop(err error) (*DropError, bool) {
	var de *DropError
	if errors.As(err, &de) {
		return de, true
	}
	return nil, false
}

type mapper func(payload json.RawMessage) (domain.Product, string, error)

// Normalizer is pure: the same payload always yields the same record.
type Normalizer struct {
	platform string
	storeID  *string
	mapRaw   mapper
}

// New returns the normalizer of platform. storeID is stamped on every record
// when non-empty.
func New(platform, storeID string) (*Normalizer, error) {
	n := &Normalizer{platform: platform}
	switch platform {
	case domain.PlatformShopee:
		n.mapRaw = mapShopee
	case domain.PlatformLazada:
		n.mapRaw = mapLazada
	case domain.PlatformRedmart:
		n.mapRaw = mapRedmart
	default:
		return nil, fmt.Errorf("%w: %s", domain.ErrUnknownPlatform, platform)
	}
	if storeID != "" {
		n.storeID = &storeID
	}
	return n, nil
}

func (n *Normalizer) Normalize(raw domain.RawRecord) (domain.Product, error) {
	if raw.Platform != "" && raw.Platform != n.platform {
		return domain.Product{}, &DropError{
			Platform: n.platform,
			Reason:   "platform mismatch",
			Err:      fmt.Errorf("record from %s", raw.Platform),
		}
	}

	p, reason, err := n.mapRaw(raw.Payload)
	if reason != "" || err != nil {
		if reason == "" {
			reason = "invalid record"
		}
		return domain.Product{}, &DropError{Platform: n.platform, Reason: reason, Err: err}
	}
	if field := nulField(p); field != "" {
		return domain.Product{}, &DropError{
			Platform: n.platform,
			Reason:   "invalid text",
			Err:      fmt.Errorf("%s contains a NUL byte", field),
		}
	}

	p.PlatformName = n.platform
	p.StoreID = n.storeID
	return p, nil
}

// nulField names the first text field holding a NUL byte, which Postgres TEXT
// cannot store.
func nulField(p domain.Product) string {
	fields := []struct {
		name  string
		value *string
	}{
		{"platform_id", &p.PlatformID},
		{"product_name", &p.ProductName},
		{"image_url", p.ImageURL},
		{"barcode", p.Barcode},
	}
	for _, f := range fields {
		if f.value != nil && strings.ContainsRune(*f.value, 0) {
			return f.name
		}
	}
	return ""
}

// scalar holds a JSON number or string verbatim. Empty strings and null
// leave it unset.
type scalar struct {
	raw string
	set bool
}

func (n *scalar) UnmarshalJSON(b []byte) error {
	s := string(b)
	if s == "null" {
		return nil
	}
	if strings.HasPrefix(s, `"`) {
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
	} else {
		var num json.Number
		if err := json.Unmarshal(b, &num); err != nil {
			return err
		}
	}
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	n.raw = s
	n.set = true
	return nil
}

func (n scalar) id() string {
	return n.raw
}

func (n scalar) decimal() (decimal.NullDecimal, error) {
	if !n.set {
		return decimal.NullDecimal{}, nil
	}
	d, err := decimal.NewFromString(n.raw)
	if err != nil {
		return decimal.NullDecimal{}, err
	}
	return decimal.NewNullDecimal(d), nil
}

func (n scalar) int64() (*int64, error) {
	if !n.set {
		return nil, nil
	}
	d, err := decimal.NewFromString(n.raw)
	if err != nil {
		return nil, err
	}
	if !d.IsInteger() {
		return nil, fmt.Errorf("not an integer: %s", n.raw)
	}
	v := d.IntPart()
	return &v, nil
}

func firstNonEmpty(values []string) *string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return &v
		}
	}
	return nil
}

func statusOf(vocabulary map[string]domain.ProductStatus, raw string) domain.ProductStatus {
	if s, ok := vocabulary[strings.ToLower(strings.TrimSpace(raw))]; ok {
		return s
	}
	return domain.StatusUnknown
}
