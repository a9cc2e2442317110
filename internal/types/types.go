package types

import "time"

// Quote is one instrument's price at a point in time.
type Quote struct {
	Symbol           string  `json:"symbol"`
	Name             string  `json:"name"`
	Price            float64 `json:"price"`
	PercentChange24h float64 `json:"percent_change_24h"`
}

// PriceUpdate is one batch of quotes from the feed, usually one per poll.
type PriceUpdate struct {
	Prices    []Quote   `json:"prices"`
	Timestamp time.Time `json:"timestamp"`
}

// PriceResult carries either an update or the error that prevented one, so a
// feed can report failures in-band without tearing down its stream.
type PriceResult struct {
	Update PriceUpdate
	Err    error
}
