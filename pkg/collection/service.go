// Package collection turns a store and a sort catalog into the operations
// the HTTP API and the export command serve: keyset pages, offset pages and
// export jobs.
package collection

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"slices"
	"strings"
	"time"

	"github.com/heartline/keyset/pkg/export"
	"github.com/heartline/keyset/pkg/observability/logger"
	"github.com/heartline/keyset/pkg/pagination"
)

// ErrInvalidFilter is returned when a filter query parameter cannot be
// parsed for its field.
var ErrInvalidFilter = errors.New("invalid filter")

// Store is what a served collection needs from its backend.
type Store[T any] interface {
	pagination.Finder[T]
	pagination.Counter
	pagination.Streamer[T]
}

// ParseFunc converts a raw query parameter into a field value.
type ParseFunc func(raw string) (any, error)

// Definition describes one collection.
type Definition[T any] struct {
	Name    string
	Store   Store[T]
	Catalog *pagination.Catalog[T]
	// Key orders export scans; it must be immutable and increasing.
	Key pagination.SortField[T]
	ID  pagination.IDFunc[T]
	// Filters lists the fields callers may filter on by equality.
	Filters map[string]ParseFunc
	// Required names filter fields every request must pin, such as a
	// DynamoDB partition key.
	Required []string
}

// Settings are the engine knobs shared by every collection.
type Settings struct {
	Limits        pagination.Limits
	Codec         *pagination.Codec
	PrefetchCount int
	CountMode     pagination.CountMode
	CountCache    pagination.CountCache
	CountCacheTTL time.Duration
	Logger        logger.Logger
}

// ExportRequest configures an export run of one collection.
type ExportRequest struct {
	Filter           url.Values
	Sink             export.Sink
	Checkpoints      export.Checkpointer
	BatchSize        int
	ChunkSize        int
	RecordsPerSecond float64
}

// Runner runs an export.
type Runner interface {
	Name() string
	Run(ctx context.Context, opts export.RunOptions) (export.Summary, error)
}

// Endpoint is a collection with its record type erased, as routed by the
// HTTP server and the CLI.
type Endpoint interface {
	Name() string
	SortFields() []string
	FilterFields() []string
	Keyset(ctx context.Context, values url.Values) (any, error)
	Offset(ctx context.Context, values url.Values) (any, error)
	Export(req ExportRequest) (Runner, error)
}

// Service serves one collection.
type Service[T any] struct {
	def       Definition[T]
	settings  Settings
	executor  *pagination.Executor[T]
	scroller  *pagination.Orchestrator[T]
	paginator *pagination.OffsetPaginator[T]
	log       logger.Logger
}

var _ Endpoint = (*Service[map[string]any])(nil)

// NewService wires the executor, the prefetch orchestrator and the offset
// paginator for def.
func NewService[T any](def Definition[T], settings Settings) (*Service[T], error) {
	if def.Name == "" {
		return nil, errors.New("collection name is required")
	}
	if def.Store == nil {
		return nil, fmt.Errorf("collection %s: store cannot be nil", def.Name)
	}
	if def.Catalog == nil {
		return nil, fmt.Errorf("collection %s: sort catalog cannot be nil", def.Name)
	}
	if def.ID == nil {
		return nil, fmt.Errorf("collection %s: id function cannot be nil", def.Name)
	}
	if settings.Codec == nil {
		settings.Codec = pagination.NewCodec()
	}
	log := settings.Logger
	if log == nil {
		log = logger.Nop()
	}

	executor := pagination.NewExecutor[T](pagination.Options{
		Name:   def.Name,
		Limits: settings.Limits,
		Codec:  settings.Codec,
		Logger: log,
	})
	scroller, err := pagination.NewOrchestrator(executor, settings.PrefetchCount, def.ID)
	if err != nil {
		return nil, err
	}
	paginator, err := pagination.NewOffsetPaginator[T](pagination.OffsetConfig{
		Name:     def.Name,
		Limits:   settings.Limits,
		Mode:     settings.CountMode,
		Cache:    settings.CountCache,
		CacheTTL: settings.CountCacheTTL,
		Logger:   log,
	})
	if err != nil {
		return nil, fmt.Errorf("collection %s: %w", def.Name, err)
	}

	return &Service[T]{
		def:       def,
		settings:  settings,
		executor:  executor,
		scroller:  scroller,
		paginator: paginator,
		log:       log.With("collection", def.Name),
	}, nil
}

// Name returns the collection name.
func (s *Service[T]) Name() string {
	return s.def.Name
}

// SortFields lists the accepted sortBy values in name order.
func (s *Service[T]) SortFields() []string {
	names := s.def.Catalog.Names()
	slices.Sort(names)
	return names
}

// FilterFields lists the accepted filter parameters in name order.
func (s *Service[T]) FilterFields() []string {
	names := make([]string, 0, len(s.def.Filters))
	for n := range s.def.Filters {
		names = append(names, n)
	}
	slices.Sort(names)
	return names
}

// Filter builds the base filter from the query parameters naming
// filterable fields. Other parameters are ignored.
func (s *Service[T]) Filter(values url.Values) (pagination.Predicate, error) {
	var conds []pagination.Predicate
	for _, name := range s.FilterFields() {
		raw, ok := values[name]
		if !ok || len(raw) == 0 {
			continue
		}
		parse := s.def.Filters[name]
		if len(raw) == 1 {
			v, err := parse(raw[0])
			if err != nil {
				return nil, fmt.Errorf("%w: %s: %v", ErrInvalidFilter, name, err)
			}
			conds = append(conds, pagination.Eq(name, v))
			continue
		}
		vs := make([]any, len(raw))
		for i, r := range raw {
			v, err := parse(r)
			if err != nil {
				return nil, fmt.Errorf("%w: %s: %v", ErrInvalidFilter, name, err)
			}
			vs[i] = v
		}
		conds = append(conds, pagination.In(name, vs...))
	}
	for _, name := range s.def.Required {
		if len(values[name]) != 1 {
			return nil, fmt.Errorf("%w: exactly one %s value is required", ErrInvalidFilter, name)
		}
	}
	if len(conds) == 0 {
		return nil, nil
	}
	return pagination.AllOf(conds...), nil
}

// Keyset serves a keyset page, with prefetch hints when requested.
func (s *Service[T]) Keyset(ctx context.Context, values url.Values) (any, error) {
	req := pagination.ParseKeysetRequest(values, s.executor.Limits())
	return s.FetchPage(ctx, req, values)
}

// FetchPage is Keyset with an already parsed request.
func (s *Service[T]) FetchPage(ctx context.Context, req pagination.KeysetRequest, values url.Values) (*pagination.Page[T], error) {
	spec, err := s.def.Catalog.Resolve(req.SortBy, req.SortOrder)
	if err != nil {
		return nil, err
	}
	filter, err := s.Filter(values)
	if err != nil {
		return nil, err
	}
	pageReq := pagination.PageRequest{
		Filter:   filter,
		Cursor:   req.Cursor,
		Limit:    req.Limit,
		Select:   req.Select,
		Populate: req.Populate,
	}
	if req.Prefetch {
		return s.scroller.Fetch(ctx, s.def.Store, spec, pageReq)
	}
	return s.executor.FetchPage(ctx, s.def.Store, spec, pageReq)
}

// Offset serves a page/limit listing.
func (s *Service[T]) Offset(ctx context.Context, values url.Values) (any, error) {
	q := pagination.ParseOffsetQuery(values, s.executor.Limits())
	return s.FetchOffset(ctx, q, values)
}

// FetchOffset is Offset with an already parsed query.
func (s *Service[T]) FetchOffset(ctx context.Context, q pagination.OffsetQuery, values url.Values) (*pagination.OffsetPage[T], error) {
	spec, err := s.def.Catalog.Resolve(q.SortBy, q.SortOrder)
	if err != nil {
		return nil, err
	}
	filter, err := s.Filter(values)
	if err != nil {
		return nil, err
	}
	return s.paginator.Fetch(ctx, s.def.Store, spec, pagination.OffsetRequest{
		Filter:   filter,
		Page:     q.Page,
		Limit:    q.Limit,
		CountKey: s.countKey(values),
		Select:   splitParam(values["select"]),
		Populate: splitParam(values["populate"]),
	})
}

// countKey identifies the filter for cached totals: the collection name
// and the filter parameters in name order.
func (s *Service[T]) countKey(values url.Values) string {
	parts := []string{s.def.Name}
	for _, name := range s.FilterFields() {
		raw := slices.Clone(values[name])
		if len(raw) == 0 {
			continue
		}
		slices.Sort(raw)
		parts = append(parts, name+"="+strings.Join(raw, ","))
	}
	return strings.Join(parts, "|")
}

// Export builds an export job over the collection's stream key.
func (s *Service[T]) Export(req ExportRequest) (Runner, error) {
	filter, err := s.Filter(req.Filter)
	if err != nil {
		return nil, err
	}
	return export.NewJob(export.JobConfig[T]{
		Collection:       s.def.Name,
		Store:            s.def.Store,
		Key:              s.def.Key,
		Filter:           filter,
		ID:               s.def.ID,
		Sink:             req.Sink,
		Checkpoints:      req.Checkpoints,
		Codec:            s.settings.Codec,
		BatchSize:        req.BatchSize,
		ChunkSize:        req.ChunkSize,
		RecordsPerSecond: req.RecordsPerSecond,
		Logger:           s.log,
	})
}

func splitParam(raw []string) []string {
	var out []string
	for _, v := range raw {
		for _, part := range strings.Split(v, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}
