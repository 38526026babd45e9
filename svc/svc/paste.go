package svc

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
	"unicode/utf8"

	"github.com/pkg/errors"
	"golang.org/x/sync/singleflight"

	"pastry/cfg"
	"pastry/metrics"
	"pastry/pkg/domain"
	"pastry/svc/alloc"
	"pastry/svc/cache"
	"pastry/svc/db"
	"pastry/svc/highlight"
	"pastry/svc/util"
)

const (
	putRetries = 3

	// maxTitleLen counts runes, not bytes; titles are display strings.
	maxTitleLen = 32
)

// Paste orchestrates allocation, language resolution, storage and expiry.
// The store owns the paste table; the allocator and sweeper only mutate
// through it.
type Paste struct {
	db       *db.SQLite
	lru      *cache.LRU
	rdb      *db.Redis
	alloc    *alloc.Allocator
	resolver *highlight.Resolver
	cfg      *cfg.Cfg
	reads    singleflight.Group
	shutdown atomic.Bool
	opWg     sync.WaitGroup
}

func NewPaste(sqlDB *db.SQLite, lru *cache.LRU, rdb *db.Redis, resolver *highlight.Resolver, c *cfg.Cfg) *Paste {
	if sqlDB == nil || lru == nil || resolver == nil || c == nil {
		panic("paste service: nil dependency (sqlDB, lru, resolver, or cfg)")
	}
	p := &Paste{
		db:       sqlDB,
		lru:      lru,
		rdb:      rdb,
		resolver: resolver,
		cfg:      c,
	}
	p.alloc = alloc.New(sqlDB.Exists)
	return p
}

func (p *Paste) Shutdown() {
	p.shutdown.Store(true)
	p.opWg.Wait()
	util.Debug().Msg("paste service shutdown complete")
}

func (p *Paste) Resolver() *highlight.Resolver {
	return p.resolver
}

// Create validates, resolves the language, computes the expiry deadline and
// writes a single atomic record. Expiry registration is the expires_at column
// of that same insert, so a request aborted after the put still leaves a
// fully-formed paste behind.
func (p *Paste) Create(ctx context.Context, params domain.CreateParams) (*domain.Paste, error) {
	if p.shutdown.Load() {
		return nil, errors.New("service shutting down")
	}
	p.opWg.Add(1)
	defer p.opWg.Done()

	if params.Content == "" {
		return nil, domain.ErrContentRequired
	}
	if int64(len(params.Content)) > p.cfg.MaxPasteSize {
		return nil, domain.ErrPasteTooLarge
	}
	if utf8.RuneCountInString(params.Title) > maxTitleLen {
		return nil, domain.ErrTitleTooLong
	}
	if params.LongID && !p.cfg.LongIDAllowed {
		return nil, domain.ErrLongIDDisabled
	}
	visibility := params.Visibility
	if visibility == "" {
		visibility = domain.VisibilityUnlisted
	}
	if !visibility.Valid() {
		return nil, domain.ErrInvalidRequest
	}

	language, err := p.resolver.Resolve(params.Language)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	expiresAt, err := p.computeExpiry(now, params)
	if err != nil {
		return nil, err
	}

	paste := &domain.Paste{
		Title:      params.Title,
		Content:    params.Content,
		Language:   language,
		Visibility: visibility,
		CreatedAt:  now,
		ExpiresAt:  expiresAt,
	}
	// The allocator's exists probe and the insert are not under one lock;
	// the store's atomic duplicate check closes that race and a duplicate
	// put restarts the draw.
	for attempt := 0; attempt < putRetries; attempt++ {
		id, err := p.alloc.Allocate(ctx, params.LongID)
		if err != nil {
			return nil, err
		}
		paste.ID = id
		err = p.db.Put(ctx, paste)
		if err == nil {
			break
		}
		if errors.Is(err, domain.ErrDuplicateID) {
			util.Warn().Str("id", id).Msg("id collided at insert, redrawing")
			paste.ID = ""
			continue
		}
		return nil, errors.Wrap(err, "put paste")
	}
	if paste.ID == "" {
		return nil, domain.ErrAllocationExhausted
	}

	p.lru.Set(ctx, paste)
	if p.rdb != nil {
		if err := p.rdb.CachePaste(ctx, paste, cacheTTL(paste)); err != nil {
			util.Warn().Err(err).Str("id", paste.ID).Msg("failed to cache in Redis")
		}
	}
	metrics.PasteCreated.Inc()
	return paste, nil
}

// computeExpiry turns the request's expiry choice into a deadline: explicit
// never wins, an explicit duration is clamped to deployment bounds, and an
// absent choice falls back to the configured default (zero default = never).
func (p *Paste) computeExpiry(now time.Time, params domain.CreateParams) (*time.Time, error) {
	if params.NoExpiry {
		return nil, nil
	}
	var d time.Duration
	switch {
	case params.Expiry != nil:
		d = *params.Expiry
		if d < p.cfg.MinExpiry {
			return nil, domain.ErrInvalidDuration
		}
		if d > p.cfg.MaxExpiry {
			d = p.cfg.MaxExpiry
		}
	case p.cfg.DefaultExpiry > 0:
		d = p.cfg.DefaultExpiry
	default:
		return nil, nil
	}
	t := now.Add(d)
	return &t, nil
}

func (p *Paste) Get(ctx context.Context, id string) (*domain.Paste, error) {
	if paste := p.lru.Get(ctx, id); paste != nil {
		if paste.Expired(time.Now()) {
			p.purgeCaches(ctx, id)
			return nil, domain.ErrPasteNotFound
		}
		metrics.CacheHits.Inc()
		metrics.PasteRetrieved.Inc()
		return paste, nil
	}
	metrics.CacheMisses.Inc()
	if p.rdb != nil {
		if paste, err := p.rdb.GetPaste(ctx, id); err == nil && paste != nil {
			if paste.Expired(time.Now()) {
				p.purgeCaches(ctx, id)
				return nil, domain.ErrPasteNotFound
			}
			p.lru.Set(ctx, paste)
			metrics.PasteRetrieved.Inc()
			return paste, nil
		}
	}
	// Concurrent misses for the same hot id collapse into one store read.
	v, err, _ := p.reads.Do(id, func() (interface{}, error) {
		return p.db.Get(ctx, id)
	})
	if err != nil {
		if errors.Is(err, domain.ErrPasteNotFound) {
			return nil, domain.ErrPasteNotFound
		}
		return nil, errors.Wrap(err, "get paste")
	}
	paste := v.(*domain.Paste)
	p.lru.Set(ctx, paste)
	if p.rdb != nil {
		if err := p.rdb.CachePaste(ctx, paste, cacheTTL(paste)); err != nil {
			util.Warn().Err(err).Str("id", id).Msg("failed to cache in Redis")
		}
	}
	metrics.PasteRetrieved.Inc()
	return paste, nil
}

// Delete is the idempotent purge primitive; a missing id is not an error.
func (p *Paste) Delete(ctx context.Context, id string) error {
	if err := p.db.Delete(ctx, id); err != nil {
		return errors.Wrap(err, "delete from db")
	}
	p.purgeCaches(ctx, id)
	metrics.PasteDeleted.Inc()
	util.Info().Str("id", id).Msg("paste deleted")
	return nil
}

// ListPublic pages through public, non-expired pastes. The feature gate is
// enforced here so a disabled deployment never reaches the store.
func (p *Paste) ListPublic(ctx context.Context, cursorToken string, limit int) ([]domain.Summary, string, error) {
	if !p.cfg.PublicListEnabled {
		return nil, "", domain.ErrListDisabled
	}
	if limit <= 0 || limit > p.cfg.MaxListPageSize {
		limit = p.cfg.MaxListPageSize
	}
	cursor, err := db.DecodeCursor(cursorToken)
	if err != nil {
		return nil, "", err
	}
	summaries, next, err := p.db.ListPublic(ctx, cursor, limit)
	if err != nil {
		return nil, "", errors.Wrap(err, "list public")
	}
	metrics.PasteListed.Inc()
	nextToken := ""
	if next != nil {
		nextToken = next.Encode()
	}
	return summaries, nextToken, nil
}

func (p *Paste) purgeCaches(ctx context.Context, id string) {
	p.lru.Delete(id)
	if p.rdb != nil {
		if err := p.rdb.Delete(ctx, id); err != nil {
			util.Warn().Err(err).Str("id", id).Msg("failed to delete from redis")
		}
	}
}

func cacheTTL(p *domain.Paste) time.Duration {
	if p.ExpiresAt == nil {
		return 0
	}
	return time.Until(*p.ExpiresAt)
}

var (
	sweeperOnce    sync.Once
	sweeperRunning atomic.Bool
)

// StartSweeper launches the eager expiry sweep. The lazy checks in the store
// and caches keep visible behavior correct regardless of sweep timing; the
// sweep only bounds physical storage growth.
func StartSweeper(ctx context.Context, p *Paste, interval time.Duration) error {
	if sweeperRunning.Load() {
		return errors.New("sweeper already running")
	}
	sweeperOnce.Do(func() {
		sweeperRunning.Store(true)
		go runSweeper(ctx, p, interval)
	})
	return nil
}

func runSweeper(ctx context.Context, p *Paste, interval time.Duration) {
	defer sweeperRunning.Store(false)
	sweepRequestID := util.NewRequestID()
	ctx = util.SetRequestID(ctx, sweepRequestID)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	util.Info().
		Str("request_id", sweepRequestID).
		Dur("interval", interval).
		Msg("expiry sweeper started")
	for {
		select {
		case <-ctx.Done():
			util.Info().
				Str("request_id", sweepRequestID).
				Msg("expiry sweeper shutting down")
			return
		case <-ticker.C:
			p.sweepOnce(ctx)
		}
	}
}

func (p *Paste) sweepOnce(ctx context.Context) {
	deleted, failures, err := p.db.SweepExpired(ctx)
	metrics.SweepCycles.Inc()
	for _, id := range deleted {
		p.purgeCaches(ctx, id)
	}
	metrics.SweptPastes.Add(float64(len(deleted)))
	metrics.SweepFailures.Add(float64(failures))
	if err != nil {
		util.Error().
			Err(err).
			Int("deleted", len(deleted)).
			Int("failures", failures).
			Str("request_id", util.GetRequestID(ctx)).
			Msg("sweep failed")
		return
	}
	if len(deleted) > 0 || failures > 0 {
		util.Info().
			Int("deleted", len(deleted)).
			Int("failures", failures).
			Str("request_id", util.GetRequestID(ctx)).
			Msg("sweep completed")
	}
}
