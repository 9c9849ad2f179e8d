package redmart

import (
	"bytes"
	"encoding/json"
)

// productsResponse is the /rss/products/get payload.
type productsResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Result  struct {
		Total int     `json:"total"`
		Data  records `json:"data"`
	} `json:"result"`
}

// records accepts the usual array as well as the lone object the gateway
// sends for a single product.
type records []json.RawMessage

func (r *records) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	switch {
	case bytes.Equal(b, []byte("null")):
		*r = nil
		return nil
	case len(b) > 0 && b[0] == '{':
		*r = records{json.RawMessage(bytes.Clone(b))}
		return nil
	}
	var list []json.RawMessage
	if err := json.Unmarshal(b, &list); err != nil {
		return err
	}
	*r = list
	return nil
}
