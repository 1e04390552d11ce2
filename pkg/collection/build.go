package collection

import (
	"fmt"

	"github.com/heartline/keyset/pkg/config"
	"github.com/heartline/keyset/pkg/observability/logger"
	"github.com/heartline/keyset/pkg/pagination"
	"github.com/heartline/keyset/pkg/store"
	"github.com/heartline/keyset/pkg/store/dynamodb"
	"github.com/heartline/keyset/pkg/store/mongodb"
	"github.com/heartline/keyset/pkg/store/mysql"
	"github.com/heartline/keyset/pkg/store/postgres"
)

// BackendsFor exposes the adapters opened by store.Open to the collections.
func BackendsFor(conns *store.Connections) Backends {
	b := Backends{DatabaseType: conns.DatabaseType}
	switch a := conns.Database.(type) {
	case *postgres.Adapter:
		b.Postgres = a
	case *mysql.Adapter:
		b.MySQL = a
	case *mongodb.Adapter:
		b.Mongo = a
	case *dynamodb.Adapter:
		b.Dynamo = a
	}
	if conns.Search != nil {
		b.Search = conns.Search
	}
	return b
}

// SettingsFor derives the engine settings from the pagination config. The
// redis cache, when connected, backs cached offset totals.
func SettingsFor(cfg config.PaginationConfig, b Backends, conns *store.Connections, log logger.Logger) (Settings, error) {
	mode, err := pagination.ParseCountMode(cfg.CountMode)
	if err != nil {
		return Settings{}, err
	}
	opts := b.CodecOptions()
	if cfg.CursorSigningKey != "" {
		opts = append(opts, pagination.WithSigningKey([]byte(cfg.CursorSigningKey)))
	}

	settings := Settings{
		Limits:        pagination.Limits{Default: cfg.DefaultLimit, Max: cfg.MaxLimit},
		Codec:         pagination.NewCodec(opts...),
		PrefetchCount: cfg.PrefetchCount,
		CountMode:     mode,
		CountCacheTTL: cfg.CountCacheTTL,
		Logger:        log,
	}
	if conns.Cache != nil {
		settings.CountCache = conns.Cache
	}
	if mode == pagination.CountCached && settings.CountCache == nil {
		return Settings{}, fmt.Errorf("pagination.count_mode %q needs cache.type redis", mode)
	}
	return settings, nil
}

// Build registers every configured collection against the opened adapters.
func Build(cfg *config.Config, conns *store.Connections, log logger.Logger) (*Registry, error) {
	b := BackendsFor(conns)
	settings, err := SettingsFor(cfg.Pagination, b, conns, log)
	if err != nil {
		return nil, err
	}

	breakers := NewBreakers(cfg.CircuitBreaker, log)
	registry := NewRegistry()
	for _, cc := range cfg.Collections {
		docs, err := b.DocumentStore(cc)
		if err != nil {
			return nil, err
		}
		docs = Guard(docs, breakers.For(backendName(cc, b)))
		def, err := DocumentDefinition(cc, docs)
		if err != nil {
			return nil, fmt.Errorf("collection %s: %w", cc.Name, err)
		}
		svc, err := NewService(def, settings)
		if err != nil {
			return nil, err
		}
		if err := registry.Register(svc); err != nil {
			return nil, err
		}
		log.Info("collection registered",
			"collection", cc.Name,
			"backend", backendName(cc, b),
			"sort_fields", svc.SortFields(),
		)
	}
	return registry, nil
}

func backendName(cc config.CollectionConfig, b Backends) string {
	if cc.Backend == "search" {
		return "search"
	}
	if b.DatabaseType == "" {
		return config.DatabaseTypeMemory
	}
	return b.DatabaseType
}
