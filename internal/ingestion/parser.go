package ingestion

import (
	"encoding/json"
	"fmt"
	"time"
)

// PriceUpdate is one feed observation off the wire.
type PriceUpdate struct {
	Asset     string
	Price     int64 // USD with 8 decimal places
	Sequence  int64
	Timestamp time.Time
}

// priceUpdateJSON is the wire format published on vault.prices.<asset>.
// Field names use snake_case to match upstream producers.
type priceUpdateJSON struct {
	Asset       string `json:"asset"`
	Price       int64  `json:"price"`
	Sequence    int64  `json:"sequence"`
	TimestampUs int64  `json:"timestamp_us"`
}

// ParsePriceUpdate validates and converts one feed message.
func ParsePriceUpdate(data []byte) (PriceUpdate, error) {
	var j priceUpdateJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return PriceUpdate{}, fmt.Errorf("parse price update: %w", err)
	}
	if j.Asset == "" {
		return PriceUpdate{}, fmt.Errorf("price update missing asset")
	}
	if j.Price <= 0 {
		return PriceUpdate{}, fmt.Errorf("price update for %s: non-positive price %d", j.Asset, j.Price)
	}
	if j.TimestampUs <= 0 {
		return PriceUpdate{}, fmt.Errorf("price update for %s: missing timestamp", j.Asset)
	}

	return PriceUpdate{
		Asset:     j.Asset,
		Price:     j.Price,
		Sequence:  j.Sequence,
		Timestamp: time.UnixMicro(j.TimestampUs),
	}, nil
}
