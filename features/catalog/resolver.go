package catalog

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"
)

type Stats struct {
	Lookups  int `json:"lookups"`   // cache missing lookups sent to the catalog
	Hits     int `json:"hits"`      // resolves served from cache
	NotFound int `json:"not_found"` // lookups that ended up as not found
}

// Resolver resolves version ids through the cache, falling back to the remote lookup.
// Cache missing lookups are paced: two of them are at least delay apart
// (from the end of one lookup to the start of the next). Cache hits are never delayed.
// Concurrent resolves of the same id share one lookup.
type Resolver struct {
	lookuper Lookuper
	cache    *Cache
	delay    time.Duration
	group    singleflight.Group

	mu         sync.Mutex // guards pacing (lastLookup) and stats
	lastLookup time.Time
	stats      Stats

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

// NewResolver creates a resolver. If cache is nil, a new one is created.
func NewResolver(lookuper Lookuper, cache *Cache, delay time.Duration) *Resolver {
	if cache == nil {
		cache = NewCache()
	}
	return &Resolver{
		lookuper: lookuper,
		cache:    cache,
		delay:    delay,
		now:      time.Now,
		sleep:    sleepContext,
	}
}

// WithClock replaces the time source and sleep function. Used by tests.
func (r *Resolver) WithClock(now func() time.Time, sleep func(ctx context.Context, d time.Duration) error) *Resolver {
	r.now = now
	r.sleep = sleep
	return r
}

// IsCached reports whether resolving versionId needs no remote lookup.
func (r *Resolver) IsCached(versionId int64) bool {
	return r.cache.Contains(versionId)
}

func (r *Resolver) Stats() Stats {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stats
}

// Resolve returns the catalog entry of versionId.
// Any lookup failure (network error, malformed response, missing fields) is logged
// and negative cached, and reported as ErrNotFound.
// Only context cancellation returns a different error, which is not cached.
func (r *Resolver) Resolve(ctx context.Context, versionId int64) (*ModelInfo, error) {
	if info, cached := r.cache.Get(versionId); cached {
		r.mu.Lock()
		r.stats.Hits++
		r.mu.Unlock()
		if info == nil {
			return nil, ErrNotFound
		}
		return info, nil
	}
	v, err, _ := r.group.Do(strconv.FormatInt(versionId, 10), func() (any, error) {
		// another resolve may have filled it between the check above and here.
		if info, cached := r.cache.Get(versionId); cached {
			return info, nil
		}
		info, err := r.lookup(ctx, versionId)
		if err != nil {
			if ctx.Err() != nil {
				return nil, err
			}
			log.Warnf("lookup of model version %d failed: %v", versionId, err)
			info = nil
		}
		r.cache.Put(versionId, info)
		return info, nil
	})
	if err != nil {
		return nil, err
	}
	info, _ := v.(*ModelInfo)
	if info == nil {
		return nil, ErrNotFound
	}
	return info, nil
}

func (r *Resolver) lookup(ctx context.Context, versionId int64) (info *ModelInfo, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.lastLookup.IsZero() && r.delay > 0 {
		if wait := r.delay - r.now().Sub(r.lastLookup); wait > 0 {
			log.Tracef("pacing catalog lookup of %d: wait %v", versionId, wait)
			if err := r.sleep(ctx, wait); err != nil {
				return nil, err
			}
		}
	}
	r.stats.Lookups++
	defer func() {
		r.lastLookup = r.now()
		if err != nil && ctx.Err() == nil {
			r.stats.NotFound++
		}
	}()
	info, err = r.lookuper.LookupModelVersion(ctx, versionId)
	if err != nil {
		return nil, err
	}
	if err := validate(info); err != nil {
		return nil, err
	}
	return info, nil
}

func validate(info *ModelInfo) error {
	if info == nil {
		return errors.New("empty catalog response")
	}
	if info.ModelName == "" || info.ResourceType == "" {
		return fmt.Errorf("catalog entry misses required fields (type=%q, modelName=%q)",
			info.ResourceType, info.ModelName)
	}
	return nil
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
