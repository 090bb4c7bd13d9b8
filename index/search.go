package index

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lexandro/vecindex-mcp/errs"
	"github.com/lexandro/vecindex-mcp/store"
)

// DefaultSearchLimit is used when Search is called with a non-positive limit.
const DefaultSearchLimit = 10

// Result is one fresh search hit.
type Result struct {
	Path      string
	Score     float64
	Size      int64
	Type      string
	Checksum  string
	CreatedAt time.Time
	ExpiresAt time.Time
}

// Search embeds query and returns up to limit fresh hits in the store's
// similarity order. Stale entries are dropped regardless of rank. A purge
// pass may be started in the background.
func (e *Engine) Search(ctx context.Context, query string, limit int) ([]Result, error) {
	if strings.TrimSpace(query) == "" {
		return nil, errs.New(errs.KindValidation, "search", errors.New("query is empty"))
	}
	if limit <= 0 {
		limit = DefaultSearchLimit
	}

	if e.validate {
		info, err := e.store.CollectionInfo(ctx)
		if err != nil {
			return nil, err
		}
		if !info.Exists {
			return nil, errs.New(errs.KindValidation, "search",
				fmt.Errorf("collection %s does not exist, index some files first", info.Name))
		}
	}

	vector, err := e.embedder.Embed(ctx, query)
	if err != nil {
		return nil, err
	}

	candidates, err := e.store.Search(ctx, vector, limit*e.overfetch)
	if err != nil {
		return nil, err
	}

	now := e.clock()
	results := make([]Result, 0, limit)
	for _, c := range candidates {
		r, ok := e.fresh(c, now)
		if !ok {
			continue
		}
		results = append(results, r)
		if len(results) == limit {
			break
		}
	}

	e.triggerPurge()
	return results, nil
}

// fresh applies the freshness policy: a parseable creation time, an expiry
// not in the past and an age within the TTL. Entries without an explicit
// expiry expire at creation plus TTL.
func (e *Engine) fresh(c store.Candidate, now time.Time) (Result, bool) {
	created, ok := c.Time(store.KeyCreatedAt)
	if !ok {
		return Result{}, false
	}
	expires, ok := c.Time(store.KeyExpiresAt)
	if !ok {
		expires = created.Add(e.ttl)
	}
	if expires.Before(now) {
		return Result{}, false
	}
	if now.Sub(created) > e.ttl {
		return Result{}, false
	}

	size, _ := c.Int(store.KeySize)
	return Result{
		Path:      c.String(store.KeyFilePath),
		Score:     c.Score,
		Size:      size,
		Type:      c.String(store.KeyType),
		Checksum:  c.String(store.KeyChecksum),
		CreatedAt: created,
		ExpiresAt: expires,
	}, true
}

// triggerPurge starts a background purge unless one is running, one ran
// within the purge interval, or the engine is closing.
func (e *Engine) triggerPurge() {
	if !e.purgeEnabled {
		return
	}
	now := e.clock()

	e.purgeMu.Lock()
	if !e.lastPurge.IsZero() && now.Sub(e.lastPurge) < e.purgeInterval {
		e.purgeMu.Unlock()
		return
	}
	if !e.purging.CompareAndSwap(false, true) {
		e.purgeMu.Unlock()
		return
	}
	if !e.track() {
		e.purging.Store(false)
		e.purgeMu.Unlock()
		return
	}
	e.lastPurge = now
	e.purgeMu.Unlock()

	go func() {
		defer e.background.Done()
		defer e.purging.Store(false)
		e.purge(context.Background(), now)
	}()
}

// purge deletes expired vectors and their records. Errors are logged only.
func (e *Engine) purge(ctx context.Context, now time.Time) {
	if err := e.store.DeleteByFilter(ctx, store.Filter{ExpiresBefore: now}); err != nil {
		e.logger.Warn("purging expired vectors", "error", err)
	}

	removed := e.state.RemoveExpired(now)
	if len(removed) > 0 {
		e.saveState()
	}
	e.logger.Info("purge complete", "records", len(removed))
}

// TemporalStats describes the freshness of the recorded files.
type TemporalStats struct {
	TotalRecords int
	Fresh        int
	Expired      int
	AverageAge   time.Duration
	OldestRecord time.Time
	NewestRecord time.Time
	TTL          time.Duration

	PurgeEnabled bool
	PurgeRunning bool
	LastPurge    time.Time // zero until the first purge in this process
	NextPurge    time.Time // earliest time a search may trigger the next purge
}

// GetTemporalStats summarises record ages at the current clock.
func (e *Engine) GetTemporalStats() TemporalStats {
	now := e.clock()
	stats := TemporalStats{
		TTL:          e.ttl,
		PurgeEnabled: e.purgeEnabled,
		PurgeRunning: e.purging.Load(),
	}

	var totalAge time.Duration
	var aged int
	for _, rec := range e.state.Snapshot() {
		stats.TotalRecords++
		if rec.Expired(now) {
			stats.Expired++
		} else {
			stats.Fresh++
		}
		if rec.CreatedAt.IsZero() {
			continue
		}
		aged++
		totalAge += now.Sub(rec.CreatedAt)
		if stats.OldestRecord.IsZero() || rec.CreatedAt.Before(stats.OldestRecord) {
			stats.OldestRecord = rec.CreatedAt
		}
		if rec.CreatedAt.After(stats.NewestRecord) {
			stats.NewestRecord = rec.CreatedAt
		}
	}
	if aged > 0 {
		stats.AverageAge = totalAge / time.Duration(aged)
	}

	e.purgeMu.Lock()
	stats.LastPurge = e.lastPurge
	e.purgeMu.Unlock()
	if stats.LastPurge.IsZero() {
		stats.NextPurge = now
	} else {
		stats.NextPurge = stats.LastPurge.Add(e.purgeInterval)
	}
	return stats
}
