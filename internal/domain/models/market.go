package models

import "time"

// Tick is a last-trade / ticker update from a market stream.
type Tick struct {
	Symbol      string    `json:"symbol"`
	Price       float64   `json:"price"`
	Volume      float64   `json:"volume"`
	FundingRate float64   `json:"funding_rate,omitempty"`
	HasFunding  bool      `json:"-"`
	Timestamp   time.Time `json:"ts"`
}

// Candle represents an OHLCV bucket.
type Candle struct {
	Bucket time.Time `json:"bucket"`
	Symbol string    `json:"symbol"`
	Open   float64   `json:"open"`
	High   float64   `json:"high"`
	Low    float64   `json:"low"`
	Close  float64   `json:"close"`
	Volume float64   `json:"volume"`
}

// MarketSnapshot is the read-only view handed to an opportunity source for one scan.
type MarketSnapshot struct {
	Symbol      string
	Timeframe   string
	Price       float64
	Candles     []Candle // oldest first
	Reference   []Candle // reference symbol candles for relative-value strategies
	FundingRate float64
	HasFunding  bool
	At          time.Time
}

// Closes extracts close prices.
func Closes(cs []Candle) []float64 {
	out := make([]float64, len(cs))
	for i, c := range cs {
		out[i] = c.Close
	}
	return out
}

// Volumes extracts volumes.
func Volumes(cs []Candle) []float64 {
	out := make([]float64, len(cs))
	for i, c := range cs {
		out[i] = c.Volume
	}
	return out
}
