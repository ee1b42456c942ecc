package oracle

import (
	"sync"
	"time"
)

// FeedStore is the in-process price source fed by the ingestion layer.
// It keeps only the latest observation per asset; older updates arriving
// out of order are discarded.
type FeedStore struct {
	mu     sync.RWMutex
	latest map[string]observation
}

type observation struct {
	price     int64
	updatedAt time.Time
	sequence  int64
}

func NewFeedStore() *FeedStore {
	return &FeedStore{
		latest: make(map[string]observation),
	}
}

// Publish records a price observation. Returns false if the observation is
// older than (or a replay of) the one already held, in which case it is
// dropped. Gaps in the feed sequence are tolerated; regressions are not.
func (fs *FeedStore) Publish(asset string, price int64, updatedAt time.Time, sequence int64) bool {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	cur, ok := fs.latest[asset]
	if ok && sequence <= cur.sequence {
		return false
	}

	fs.latest[asset] = observation{
		price:     price,
		updatedAt: updatedAt,
		sequence:  sequence,
	}
	return true
}

// LatestPrice implements PriceSource.
func (fs *FeedStore) LatestPrice(asset string) (int64, time.Time, error) {
	fs.mu.RLock()
	defer fs.mu.RUnlock()

	obs, ok := fs.latest[asset]
	if !ok {
		return 0, time.Time{}, ErrNoPrice
	}
	return obs.price, obs.updatedAt, nil
}

// Sequence returns the last accepted feed sequence for an asset (0 if none).
func (fs *FeedStore) Sequence(asset string) int64 {
	fs.mu.RLock()
	defer fs.mu.RUnlock()
	return fs.latest[asset].sequence
}
