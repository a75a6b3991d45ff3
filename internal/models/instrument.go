package models

// Instrument is one tradable contract listed for an exchange.
type Instrument struct {
	ID         string `json:"instrument_id"`
	BaseAsset  string `json:"base_asset,omitempty"`
	QuoteAsset string `json:"quote_asset,omitempty"`
}

// Market is an exchange-side market description returned by a connector.
type Market struct {
	Symbol     string `json:"symbol"`
	BaseAsset  string `json:"base_asset"`
	QuoteAsset string `json:"quote_asset"`
	Status     string `json:"status,omitempty"`
	Contract   bool   `json:"contract"`
}
