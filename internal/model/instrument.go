package model

// Instrument maps a ticker to the broker's contract identifier. The
// gateway resolves these once per session and the store caches them so
// restarts do not re-query the whole universe.
type Instrument struct {
	Ticker   string `json:"ticker"`
	ConID    string `json:"conid"`
	Exchange string `json:"exchange,omitempty"`
	Name     string `json:"name,omitempty"`
}
