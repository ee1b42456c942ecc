package oracle

import (
	"errors"
	"sync"
	"time"
)

// PriceSource is the capability interface for an external price feed.
// Prices are USD with FeedDecimals decimal places (e.g. 2000 USD = 2000e8).
type PriceSource interface {
	// LatestPrice returns the most recent price observation for an asset
	// and the time it was produced.
	LatestPrice(asset string) (price int64, updatedAt time.Time, err error)
}

var (
	// ErrStalePrice means the feed's last update is older than the
	// configured timeout. The staleness check is the only oracle defense:
	// there is no fallback feed and no retry inside the engine.
	ErrStalePrice = errors.New("oracle: stale price")

	// ErrNoPrice means the feed has never published a price for the asset.
	ErrNoPrice = errors.New("oracle: no price for asset")

	// ErrInvalidPrice means the feed published a non-positive price.
	ErrInvalidPrice = errors.New("oracle: non-positive price")
)

// StaticSource is a fixed-price PriceSource for tests and local runs.
type StaticSource struct {
	mu        sync.RWMutex
	price     int64
	updatedAt time.Time
}

func NewStaticSource(price int64, updatedAt time.Time) *StaticSource {
	return &StaticSource{price: price, updatedAt: updatedAt}
}

func (s *StaticSource) LatestPrice(asset string) (int64, time.Time, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.price, s.updatedAt, nil
}

// SetPrice replaces the published price, keeping the timestamp.
func (s *StaticSource) SetPrice(price int64) {
	s.mu.Lock()
	s.price = price
	s.mu.Unlock()
}

// SetUpdatedAt replaces the observation time (to simulate staleness).
func (s *StaticSource) SetUpdatedAt(at time.Time) {
	s.mu.Lock()
	s.updatedAt = at
	s.mu.Unlock()
}
