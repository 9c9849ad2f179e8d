package shopee

import "encoding/json"

type envelope struct {
	Error     string `json:"error"`
	Message   string `json:"message"`
	RequestID string `json:"request_id"`
}

type tokenResponse struct {
	envelope
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpireIn     int64  `json:"expire_in"`
}

type tokenRequest struct {
	ShopID       int64  `json:"shop_id"`
	PartnerID    int64  `json:"partner_id"`
	RefreshToken string `json:"refresh_token,omitempty"`
	Code         string `json:"code,omitempty"`
}

type itemListResponse struct {
	envelope
	Response struct {
		Item []struct {
			ItemID     int64  `json:"item_id"`
			ItemStatus string `json:"item_status"`
		} `json:"item"`
		TotalCount  int  `json:"total_count"`
		HasNextPage bool `json:"has_next_page"`
		NextOffset  int  `json:"next_offset"`
	} `json:"response"`
}

type itemBaseInfoResponse struct {
	envelope
	Response struct {
		ItemList []json.RawMessage `json:"item_list"`
	} `json:"response"`
}
