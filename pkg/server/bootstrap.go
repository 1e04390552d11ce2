package server

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/heartline/keyset/pkg/collection"
	"github.com/heartline/keyset/pkg/config"
	"github.com/heartline/keyset/pkg/health"
	"github.com/heartline/keyset/pkg/observability/logger"
	"github.com/heartline/keyset/pkg/observability/metrics"
	"github.com/heartline/keyset/pkg/observability/tracing"
	"github.com/heartline/keyset/pkg/server/router"
	"github.com/heartline/keyset/pkg/server/router/factory"
	"github.com/heartline/keyset/pkg/store"
	"github.com/heartline/keyset/pkg/store/redis"
	"github.com/heartline/keyset/pkg/version"
)

const (
	defaultShutdownHookTimeout = 10 * time.Second
	tracerShutdownTimeout      = 10 * time.Second
)

// LifecycleHook is a named action run before the servers start or after
// they stop.
type LifecycleHook struct {
	Name string
	Fn   func(context.Context) error
}

func (h LifecycleHook) label() string {
	if name := strings.TrimSpace(h.Name); name != "" {
		return name
	}
	return "unnamed"
}

// RunHTTPServersOptions wires the servers. Only Config, Logger and
// Collections matter to most callers; routers and registries are built from
// config when nil.
type RunHTTPServersOptions struct {
	Config      *config.Config
	Logger      logger.Logger
	Collections *collection.Registry
	// Connections feeds readiness checks and the redis rate limiter.
	Connections *store.Connections

	PublicRouter     router.Router
	ManagementRouter router.Router
	HealthRegistry   *health.Registry
	MetricsRegistry  *metrics.Registry

	StartupHooks []LifecycleHook
	// ShutdownHooks run in reverse order once both servers have stopped.
	ShutdownHooks       []LifecycleHook
	ShutdownHookTimeout time.Duration
}

// HTTPServers is the pair returned by BuildHTTPServers. Management is nil
// when management.enabled is false.
type HTTPServers struct {
	Public     *PublicAPIServer
	Management *ManagementServer
}

func (s *HTTPServers) starters() []func(context.Context) error {
	out := []func(context.Context) error{s.Public.Start}
	if s.Management != nil {
		out = append(out, s.Management.Start)
	}
	return out
}

// BuildHTTPServers fills the defaults in opts and constructs the servers.
// Nothing listens until RunHTTPServers.
func BuildHTTPServers(opts *RunHTTPServersOptions) (*HTTPServers, error) {
	if opts.Collections == nil {
		return nil, errors.New("collections are required")
	}
	if opts.Config == nil {
		opts.Config = config.DefaultConfig()
	}
	if opts.Logger == nil {
		log, err := logger.NewZapLogger(logger.DefaultConfig())
		if err != nil {
			return nil, err
		}
		opts.Logger = log
	}
	cfg := opts.Config

	var err error
	if opts.PublicRouter, err = routerOrDefault(opts.PublicRouter, cfg.HTTP.Router); err != nil {
		return nil, fmt.Errorf("create public router: %w", err)
	}

	limiter, err := NewLimiter(cfg.RateLimit, opts.cache(), cfg.Cache.KeyPrefix, cfg.Cache.OperationTimeout, opts.Logger)
	if err != nil {
		return nil, fmt.Errorf("create rate limiter: %w", err)
	}
	public, err := NewPublicAPIServer(PublicOptions{
		HTTP:          cfg.HTTP,
		Observability: cfg.Observability,
		Limiter:       limiter,
	}, opts.PublicRouter, opts.Collections, opts.Logger)
	if err != nil {
		return nil, fmt.Errorf("create public server: %w", err)
	}
	servers := &HTTPServers{Public: public}
	if !cfg.Management.Enabled {
		return servers, nil
	}

	if opts.ManagementRouter, err = routerOrDefault(opts.ManagementRouter, cfg.HTTP.Router); err != nil {
		return nil, fmt.Errorf("create management router: %w", err)
	}
	if opts.HealthRegistry == nil {
		opts.HealthRegistry = NewHealthRegistry(opts.Connections, cfg.Cache.OperationTimeout)
	}
	if opts.MetricsRegistry == nil {
		opts.MetricsRegistry = metrics.NewRegistry()
	}
	servers.Management = NewManagementServer(
		cfg.Management,
		opts.ManagementRouter,
		opts.Logger,
		opts.HealthRegistry,
		opts.MetricsRegistry,
		version.Current(resolveServiceName(opts)),
	)
	return servers, nil
}

func routerOrDefault(r router.Router, kind string) (router.Router, error) {
	if r != nil {
		return r, nil
	}
	return factory.NewRouter(kind)
}

func (o *RunHTTPServersOptions) cache() *redis.Adapter {
	if o.Connections == nil {
		return nil
	}
	return o.Connections.Cache
}

// NewHealthRegistry registers a readiness check per opened adapter. The
// database is required; the search cluster, cache and object store only
// degrade readiness, since listings keep working without them.
func NewHealthRegistry(conns *store.Connections, timeout time.Duration) *health.Registry {
	registry := health.NewRegistry()
	registry.Register(health.NewPingChecker("process"))
	if conns == nil {
		return registry
	}
	for name, adapter := range conns.Checks() {
		checker := health.NewAdapterChecker(name, adapter, timeout)
		if !strings.HasPrefix(name, "database:") {
			checker.Optional()
		}
		registry.Register(checker)
	}
	return registry
}

// RunHTTPServers blocks until ctx is done or a server fails. A failing
// server cancels the other; shutdown hooks run after both have returned.
func RunHTTPServers(ctx context.Context, servers *HTTPServers, opts *RunHTTPServersOptions) error {
	switch {
	case servers == nil || servers.Public == nil:
		return errors.New("servers and public server are required")
	case opts.Logger == nil:
		return errors.New("logger is required")
	case opts.Config == nil:
		return errors.New("config is required")
	}

	info := version.Current(resolveServiceName(opts))
	opts.Logger.Info("starting keyset",
		"service", info.Service,
		"version", info.Version,
		"commit", info.Commit,
		"build_time", info.BuildTime,
		"environment", resolveEnvironment(opts),
	)

	tp, err := tracing.NewTracerProvider(ctx, tracerConfig(opts.Config.Observability, info, resolveEnvironment(opts)))
	if err != nil {
		return fmt.Errorf("initialize tracing provider: %w", err)
	}
	defer shutdownTracerProvider(tp, opts.Logger)

	if err := runStartupHooks(ctx, opts); err != nil {
		return err
	}
	defer func() {
		if err := runShutdownHooks(opts); err != nil {
			opts.Logger.Error("shutdown hooks completed with errors", "error", err)
		}
	}()

	g, gctx := errgroup.WithContext(ctx)
	for _, start := range servers.starters() {
		g.Go(func() error { return start(gctx) })
	}
	return g.Wait()
}

func tracerConfig(obs config.ObservabilityConfig, info version.Info, env string) tracing.TracerConfig {
	return tracing.TracerConfig{
		ServiceName:    info.Service,
		ServiceVersion: info.Version,
		Environment:    env,
		Endpoint:       obs.TracingEndpoint,
		Insecure:       obs.TracingInsecure,
		SampleRate:     obs.TracingSampleRate,
		Enabled:        obs.TracingEnabled,
	}
}

func shutdownTracerProvider(tp *tracing.TracerProvider, log logger.Logger) {
	if tp == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), tracerShutdownTimeout)
	defer cancel()
	if err := tp.Shutdown(ctx); err != nil {
		log.Error("failed to shutdown tracing provider", "error", err)
	}
}

func resolveServiceName(opts *RunHTTPServersOptions) string {
	if opts.Config == nil {
		return version.Unknown
	}
	return orUnknown(opts.Config.Service.Name)
}

func resolveEnvironment(opts *RunHTTPServersOptions) string {
	if opts.Config == nil {
		return version.Unknown
	}
	return orUnknown(opts.Config.Service.Environment)
}

func orUnknown(s string) string {
	if s = strings.TrimSpace(s); s != "" {
		return s
	}
	return version.Unknown
}

// runStartupHooks stops at the first failing hook.
func runStartupHooks(ctx context.Context, opts *RunHTTPServersOptions) error {
	for _, hook := range opts.StartupHooks {
		if hook.Fn == nil {
			continue
		}
		if err := hook.Fn(ctx); err != nil {
			opts.Logger.Error("startup hook failed", "hook", hook.label(), "error", err)
			return fmt.Errorf("startup hook %q failed: %w", hook.label(), err)
		}
		opts.Logger.Debug("startup hook done", "hook", hook.label())
	}
	return nil
}

// runShutdownHooks runs every hook, last registered first, each under its
// own timeout, and joins the failures.
func runShutdownHooks(opts *RunHTTPServersOptions) error {
	timeout := opts.ShutdownHookTimeout
	if timeout <= 0 {
		timeout = defaultShutdownHookTimeout
	}

	var errs []error
	for i := len(opts.ShutdownHooks) - 1; i >= 0; i-- {
		hook := opts.ShutdownHooks[i]
		if hook.Fn == nil {
			continue
		}
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		err := hook.Fn(ctx)
		cancel()
		if err != nil {
			opts.Logger.Error("shutdown hook failed", "hook", hook.label(), "error", err)
			errs = append(errs, fmt.Errorf("shutdown hook %q failed: %w", hook.label(), err))
			continue
		}
		opts.Logger.Debug("shutdown hook done", "hook", hook.label())
	}
	return errors.Join(errs...)
}

// RunHTTPServersWithSignals runs the servers until SIGINT or SIGTERM, or the
// given signals when any are passed.
func RunHTTPServersWithSignals(servers *HTTPServers, opts *RunHTTPServersOptions, signals ...os.Signal) error {
	if len(signals) == 0 {
		signals = []os.Signal{os.Interrupt, syscall.SIGTERM}
	}
	ctx, stop := signal.NotifyContext(context.Background(), signals...)
	defer stop()
	return RunHTTPServers(ctx, servers, opts)
}
