package lazada

import "encoding/json"

type envelope struct {
	Code      string `json:"code"`
	Type      string `json:"type"`
	Message   string `json:"message"`
	RequestID string `json:"request_id"`
}

type tokenResponse struct {
	envelope
	AccessToken      string `json:"access_token"`
	RefreshToken     string `json:"refresh_token"`
	ExpiresIn        int64  `json:"expires_in"`
	RefreshExpiresIn int64  `json:"refresh_expires_in"`
	Account          string `json:"account"`
	Country          string `json:"country"`
}

// productsResponse is the /products/get payload.
type productsResponse struct {
	envelope
	Data struct {
		TotalProducts int               `json:"total_products"`
		Products      []json.RawMessage `json:"products"`
	} `json:"data"`
}
