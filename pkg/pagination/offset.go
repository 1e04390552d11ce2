package pagination

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/heartline/keyset/pkg/observability/logger"
	"github.com/heartline/keyset/pkg/observability/metrics"
	"github.com/heartline/keyset/pkg/observability/tracing"
)

// CountMode selects how the offset adapter computes totals.
type CountMode string

const (
	// CountExact runs a count query on every request.
	CountExact CountMode = "exact"
	// CountCached serves totals from a CountCache and refreshes them on miss.
	CountCached CountMode = "cached"
	// CountNone skips totals and detects the next page with one extra record.
	CountNone CountMode = "none"
)

// ParseCountMode parses a configured count mode; empty means exact.
func ParseCountMode(s string) (CountMode, error) {
	switch CountMode(strings.ToLower(strings.TrimSpace(s))) {
	case "", CountExact:
		return CountExact, nil
	case CountCached:
		return CountCached, nil
	case CountNone:
		return CountNone, nil
	default:
		return "", fmt.Errorf("invalid count mode: %s", s)
	}
}

// CountCache stores recent totals keyed by an opaque caller-chosen key.
type CountCache interface {
	GetCount(ctx context.Context, key string) (total int64, found bool, err error)
	SetCount(ctx context.Context, key string, total int64, ttl time.Duration) error
}

// OffsetStore is a store that can both list and count.
type OffsetStore[T any] interface {
	Finder[T]
	Counter
}

// OffsetRequest is a legacy page/limit request. CountKey identifies the
// filter for CountCached; without it totals are computed exactly.
type OffsetRequest struct {
	Filter   Predicate
	Page     int
	Limit    int
	CountKey string
	Select   []string
	Populate []string
}

// PageInfo is the pagination block of an offset response. Total is -1 when
// counting is disabled.
type PageInfo struct {
	Total      int64 `json:"total"`
	Page       int   `json:"page"`
	Limit      int   `json:"limit"`
	TotalPages int64 `json:"totalPages"`
	HasNext    bool  `json:"hasNext"`
	HasPrev    bool  `json:"hasPrev"`
}

// OffsetPage is one page of an offset listing.
type OffsetPage[T any] struct {
	Items      []T      `json:"items"`
	Pagination PageInfo `json:"pagination"`
}

// OffsetConfig configures an OffsetPaginator.
type OffsetConfig struct {
	Name     string
	Limits   Limits
	Mode     CountMode
	Cache    CountCache
	CacheTTL time.Duration
	Logger   logger.Logger
}

// OffsetPaginator serves page/limit listings for admin screens. Its cost
// grows with the page number, so it is not meant for deep pagination.
type OffsetPaginator[T any] struct {
	name   string
	limits Limits
	mode   CountMode
	cache  CountCache
	ttl    time.Duration
	log    logger.Logger
}

// NewOffsetPaginator builds an OffsetPaginator. CountCached without a cache
// is rejected.
func NewOffsetPaginator[T any](cfg OffsetConfig) (*OffsetPaginator[T], error) {
	mode, err := ParseCountMode(string(cfg.Mode))
	if err != nil {
		return nil, err
	}
	if mode == CountCached && cfg.Cache == nil {
		return nil, fmt.Errorf("count mode %q requires a count cache", CountCached)
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = time.Minute
	}
	if cfg.Logger == nil {
		cfg.Logger = logger.Nop()
	}
	if cfg.Name == "" {
		cfg.Name = "default"
	}
	return &OffsetPaginator[T]{
		name:   cfg.Name,
		limits: cfg.Limits.normalized(),
		mode:   mode,
		cache:  cfg.Cache,
		ttl:    cfg.CacheTTL,
		log:    cfg.Logger.With("collection", cfg.Name),
	}, nil
}

// Fetch returns one offset page. page < 1 is treated as 1 and the limit is
// clamped like keyset limits. A page whose offset does not fit in an int is
// past the end of any collection and comes back empty without a find.
func (p *OffsetPaginator[T]) Fetch(ctx context.Context, store OffsetStore[T], spec SortSpec[T], req OffsetRequest) (*OffsetPage[T], error) {
	if spec.IsZero() {
		return nil, ErrEmptySortSpec
	}
	page := req.Page
	if page < 1 {
		page = 1
	}
	limit := p.limits.Normalize(req.Limit)
	reachable := page-1 <= math.MaxInt/limit
	skip := 0
	if reachable {
		skip = (page - 1) * limit
	}

	q := Query{
		Filter:   req.Filter,
		Sort:     spec.Keys(),
		Limit:    limit,
		Skip:     skip,
		Select:   req.Select,
		Populate: req.Populate,
	}

	mode := p.mode
	if mode == CountCached && req.CountKey == "" {
		mode = CountExact
	}

	info := PageInfo{Page: page, Limit: limit, HasPrev: page > 1}
	var items []T
	var err error

	switch mode {
	case CountNone:
		info.Total = -1
		if !reachable {
			break
		}
		q.Limit = limit + 1
		items, err = p.find(ctx, store, q)
		if err != nil {
			return nil, err
		}
		if len(items) > limit {
			info.HasNext = true
			items = items[:limit]
		}
	default:
		total, err := p.total(ctx, store, req.Filter, req.CountKey, mode)
		if err != nil {
			return nil, err
		}
		if reachable && int64(skip) < total {
			items, err = p.find(ctx, store, q)
			if err != nil {
				return nil, err
			}
		}
		info.Total = total
		info.TotalPages = (total + int64(limit) - 1) / int64(limit)
		info.HasNext = int64(page) < info.TotalPages
	}

	if items == nil {
		items = []T{}
	}
	return &OffsetPage[T]{Items: items, Pagination: info}, nil
}

func (p *OffsetPaginator[T]) find(ctx context.Context, store Finder[T], q Query) ([]T, error) {
	start := time.Now()
	ctx, span := tracing.StartStoreSpan(ctx, tracing.SpanOperationFind, tracing.WithCollection(p.name))
	defer span.End()

	items, err := store.Find(ctx, q)
	metrics.RecordPageFetch(p.name, "offset", len(items), err, time.Since(start))
	if err != nil {
		tracing.RecordError(span, err)
		p.log.WithContext(ctx).Error("offset page fetch failed", "skip", q.Skip, "error", err)
		return nil, storeError("find", err)
	}
	if len(items) > q.Limit {
		items = items[:q.Limit]
	}
	return items, nil
}

func (p *OffsetPaginator[T]) total(ctx context.Context, store Counter, filter Predicate, key string, mode CountMode) (int64, error) {
	if mode == CountCached {
		total, found, err := p.cache.GetCount(ctx, key)
		switch {
		case err != nil:
			metrics.RecordCountCacheLookup("error")
			p.log.WithContext(ctx).Warn("count cache lookup failed, counting directly", "key", key, "error", err)
		case found:
			metrics.RecordCountCacheLookup("hit")
			return total, nil
		default:
			metrics.RecordCountCacheLookup("miss")
		}
	}

	ctx, span := tracing.StartStoreSpan(ctx, tracing.SpanOperationCount, tracing.WithCollection(p.name))
	defer span.End()
	total, err := store.Count(ctx, filter)
	if err != nil {
		tracing.RecordError(span, err)
		p.log.WithContext(ctx).Error("count failed", "error", err)
		return 0, storeError("count", err)
	}

	if mode == CountCached {
		if err := p.cache.SetCount(ctx, key, total, p.ttl); err != nil {
			p.log.WithContext(ctx).Warn("count cache store failed", "key", key, "error", err)
		}
	}
	return total, nil
}
