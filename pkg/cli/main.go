package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"

	"github.com/heartline/keyset/pkg/collection"
	"github.com/heartline/keyset/pkg/config"
	"github.com/heartline/keyset/pkg/configschema"
	"github.com/heartline/keyset/pkg/observability/logger"
	"github.com/heartline/keyset/pkg/server"
	"github.com/heartline/keyset/pkg/store"
	"github.com/heartline/keyset/pkg/version"
)

const (
	policiesAnnotationPrefix = "policies."
	defaultPolicyContext     = "run"

	fallbackServiceName = "keyset"
	healthcheckTimeout  = 10 * time.Second
)

// CommandPolicy tells a deployment platform when a command may run.
type CommandPolicy string

const (
	PolicyAlways   CommandPolicy = "always"
	PolicyRun      CommandPolicy = "run"
	PolicyManual   CommandPolicy = "manual"
	PolicyOnDemand CommandPolicy = "on_demand"
)

// OpenFunc opens the adapters named by the configuration.
type OpenFunc func(cfg *config.Config, log logger.Logger) (*store.Connections, error)

// Options configures the root command.
type Options struct {
	Name        string
	Description string
	ConfigPath  string
	EnvPrefix   string

	// Optional: replaces store.Open, mainly in tests.
	Open OpenFunc

	// Optional: additional custom commands
	CustomCommands []*cobra.Command
}

// NewCommand creates the keyset CLI with serve, export, healthcheck, config
// and version subcommands. serve is also the default action.
func NewCommand(opts Options) *cobra.Command {
	if opts.Name == "" {
		opts.Name = fallbackServiceName
	}
	if opts.EnvPrefix == "" {
		opts.EnvPrefix = config.DefaultEnvPrefix
	}
	if opts.Open == nil {
		opts.Open = store.Open
	}

	rootCmd := &cobra.Command{
		Use:           opts.Name,
		Short:         opts.Description,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	SetCommandPolicies(rootCmd, map[string]CommandPolicy{defaultPolicyContext: PolicyAlways})

	var cfgPath string
	var serviceNameOverride string
	flags := rootCmd.PersistentFlags()
	flags.StringVarP(&cfgPath, "config-file", "c", opts.ConfigPath, "config file path")
	flags.StringVar(&serviceNameOverride, "service-name", "", "service name override")
	flags.Int("port", 0, "public HTTP port")
	flags.String("log-level", "", "log level (debug, info, warn, error)")
	flags.String("log-format", "", "log format (json, text)")
	flags.String("database-type", "", "database type (memory, postgres, mysql, mongodb, dynamodb)")
	flags.String("database-url", "", "database connection URL")
	flags.String("count-mode", "", "offset total strategy (exact, cached, none)")
	flags.Int("batch-size", 0, "records fetched per stream batch")

	loadConfig := func(cmd *cobra.Command, logOutput io.Writer) (*config.Config, logger.Logger, error) {
		return LoadConfigAndLogger(cfgPath, opts.EnvPrefix, cmd.Flags(), logOutput, opts.Name, serviceNameOverride)
	}

	// version command
	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, args []string) {
			info := version.Current(opts.Name)
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Service:    %s\n", info.Service)
			fmt.Fprintf(out, "Version:    %s\n", info.Version)
			fmt.Fprintf(out, "Commit:     %s\n", info.Commit)
			fmt.Fprintf(out, "Build Time: %s\n", info.BuildTime)
			fmt.Fprintf(out, "Go:         %s\n", info.GoVersion)
		},
	}
	SetCommandPolicies(versionCmd, map[string]CommandPolicy{defaultPolicyContext: PolicyAlways})
	rootCmd.AddCommand(versionCmd)

	// serve command
	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the public and management HTTP servers",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := loadConfig(cmd, cmd.OutOrStdout())
			if err != nil {
				return err
			}
			return runServer(cfg, log, opts.Open)
		},
	}
	SetCommandPolicies(serveCmd, map[string]CommandPolicy{defaultPolicyContext: PolicyRun})
	rootCmd.AddCommand(serveCmd)
	rootCmd.RunE = serveCmd.RunE

	// export command
	exportCmd := newExportCommand(loadConfig, opts.Open)
	SetCommandPolicies(exportCmd, map[string]CommandPolicy{defaultPolicyContext: PolicyOnDemand})
	rootCmd.AddCommand(exportCmd)

	// healthcheck command
	healthCmd := &cobra.Command{
		Use:   "healthcheck",
		Short: "Check connectivity to dependencies (database, search, cache, object storage)",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := loadConfig(cmd, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			return checkDependencies(cmd.Context(), cmd.OutOrStdout(), cfg, log, opts.Open)
		},
	}
	SetCommandPolicies(healthCmd, map[string]CommandPolicy{defaultPolicyContext: PolicyAlways})
	rootCmd.AddCommand(healthCmd)

	// config command
	configCmd := &cobra.Command{
		Use:   "config",
		Short: "Configuration management commands",
	}
	SetCommandPolicies(configCmd, map[string]CommandPolicy{defaultPolicyContext: PolicyAlways})

	validateCmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			if cfgPath != "" {
				if err := lintConfigFile(cfgPath); err != nil {
					return err
				}
			}
			if _, _, err := loadConfig(cmd, io.Discard); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "✓ Configuration is valid")
			return nil
		},
	}
	SetCommandPolicies(validateCmd, map[string]CommandPolicy{defaultPolicyContext: PolicyAlways})
	configCmd.AddCommand(validateCmd)

	var showSecrets bool
	showCmd := &cobra.Command{
		Use:   "show",
		Short: "Show current configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := loadConfig(cmd, io.Discard)
			if err != nil {
				return err
			}
			if !showSecrets {
				cfg = cfg.Redacted()
			}
			formatted, err := formatSettings(cfg)
			if err != nil {
				return err
			}
			fmt.Fprint(cmd.OutOrStdout(), formatted)
			return nil
		},
	}
	showCmd.Flags().BoolVar(&showSecrets, "show-secrets", false, "show secret values")
	SetCommandPolicies(showCmd, map[string]CommandPolicy{defaultPolicyContext: PolicyAlways})
	configCmd.AddCommand(showCmd)

	schemaCmd := &cobra.Command{
		Use:   "schema",
		Short: "Print the JSON Schema of the configuration file",
		RunE: func(cmd *cobra.Command, args []string) error {
			schema, err := configschema.Build()
			if err != nil {
				return err
			}
			data, err := configschema.Marshal(schema)
			if err != nil {
				return fmt.Errorf("marshal schema: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(data))
			return nil
		},
	}
	SetCommandPolicies(schemaCmd, map[string]CommandPolicy{defaultPolicyContext: PolicyOnDemand})
	configCmd.AddCommand(schemaCmd)

	rootCmd.AddCommand(configCmd)

	// Add custom service-specific commands
	for _, customCmd := range opts.CustomCommands {
		ensureDefaultPolicy(customCmd)
		rootCmd.AddCommand(customCmd)
	}

	rootCmd.CompletionOptions.DisableDefaultCmd = false
	rootCmd.InitDefaultCompletionCmd()
	for _, subCmd := range rootCmd.Commands() {
		if subCmd != nil && subCmd.Name() == "completion" {
			SetCommandPolicies(subCmd, map[string]CommandPolicy{defaultPolicyContext: PolicyAlways})
			break
		}
	}

	return rootCmd
}

// runServer opens the adapters, registers the collections and serves until
// SIGINT or SIGTERM. The adapters are closed once the servers stopped.
func runServer(cfg *config.Config, log logger.Logger, open OpenFunc) error {
	conns, err := open(cfg, log)
	if err != nil {
		return err
	}
	closeConns := func(context.Context) error { return conns.Close() }

	registry, err := collection.Build(cfg, conns, log)
	if err != nil {
		_ = closeConns(context.Background())
		return err
	}

	opts := &server.RunHTTPServersOptions{
		Config:        cfg,
		Logger:        log,
		Collections:   registry,
		Connections:   conns,
		ShutdownHooks: []server.LifecycleHook{{Name: "close connections", Fn: closeConns}},
	}
	servers, err := server.BuildHTTPServers(opts)
	if err != nil {
		_ = closeConns(context.Background())
		return err
	}
	return server.RunHTTPServersWithSignals(servers, opts)
}

func checkDependencies(ctx context.Context, out io.Writer, cfg *config.Config, log logger.Logger, open OpenFunc) error {
	conns, err := open(cfg, log)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := conns.Close(); cerr != nil {
			log.Warn("failed to close connections", "error", cerr)
		}
	}()

	checks := conns.Checks()
	if len(checks) == 0 {
		fmt.Fprintln(out, "✓ No external dependencies configured")
		return nil
	}
	names := make([]string, 0, len(checks))
	for name := range checks {
		names = append(names, name)
	}
	sort.Strings(names)

	ctx, cancel := context.WithTimeout(ctx, healthcheckTimeout)
	defer cancel()
	failed := 0
	for _, name := range names {
		if err := checks[name].HealthCheck(ctx); err != nil {
			failed++
			fmt.Fprintf(out, "✗ %s: %v\n", name, err)
			continue
		}
		fmt.Fprintf(out, "✓ %s\n", name)
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d dependencies unhealthy", failed, len(names))
	}
	return nil
}

func lintConfigFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	schema, err := configschema.Build()
	if err != nil {
		return err
	}
	if err := configschema.Lint(schema, data); err != nil {
		return fmt.Errorf("config file %s does not match the schema: %w", path, err)
	}
	return nil
}

// SetCommandPolicies stores policies as a map[string]string on command annotations using the "policies." prefix.
func SetCommandPolicies(cmd *cobra.Command, policies map[string]CommandPolicy) {
	if cmd == nil {
		return
	}
	if cmd.Annotations == nil {
		cmd.Annotations = make(map[string]string)
	}
	for _, key := range policyAnnotationKeys(cmd.Annotations) {
		delete(cmd.Annotations, key)
	}
	for context, policy := range policies {
		trimmedContext := strings.TrimSpace(context)
		if trimmedContext == "" {
			continue
		}
		cmd.Annotations[policiesAnnotationPrefix+trimmedContext] = string(policy)
	}
}

// GetCommandPolicies returns command policies from annotations.
func GetCommandPolicies(cmd *cobra.Command) map[string]string {
	out := map[string]string{}
	if cmd == nil {
		return out
	}
	for key, value := range cmd.Annotations {
		if !strings.HasPrefix(key, policiesAnnotationPrefix) {
			continue
		}
		context := strings.TrimPrefix(key, policiesAnnotationPrefix)
		if strings.TrimSpace(context) == "" {
			continue
		}
		out[context] = value
	}
	return out
}

func ensureDefaultPolicy(cmd *cobra.Command) {
	if cmd == nil {
		return
	}
	if len(GetCommandPolicies(cmd)) == 0 {
		SetCommandPolicies(cmd, map[string]CommandPolicy{defaultPolicyContext: PolicyAlways})
	}
}

func policyAnnotationKeys(annotations map[string]string) []string {
	keys := make([]string, 0, len(annotations))
	for key := range annotations {
		if strings.HasPrefix(key, policiesAnnotationPrefix) {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)
	return keys
}

// LoadConfigAndLogger loads and validates the configuration, then builds
// the logger it describes. Logs go to logOutput, stdout when nil.
func LoadConfigAndLogger(
	cfgPath,
	envPrefix string,
	flags *pflag.FlagSet,
	logOutput io.Writer,
	defaultServiceName string,
	serviceNameOverride string,
) (*config.Config, logger.Logger, error) {
	cfg, err := config.NewViperLoader(cfgPath, envPrefix).WithFlags(flags).Load()
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}
	applyResolvedServiceName(cfg, defaultServiceName, serviceNameOverride)

	log, err := logger.NewZapLogger(logger.Config{
		Level:  logger.LogLevel(cfg.Observability.LogLevel),
		Format: logger.LogFormat(cfg.Observability.LogFormat),
		Output: logOutput,
		Fields: []any{"service", cfg.Service.Name},
	})
	if err != nil {
		return nil, nil, fmt.Errorf("create logger: %w", err)
	}

	logConfigIfDebug(log, cfg)
	return cfg, log, nil
}

func formatSettings(settings any) (string, error) {
	if settings == nil {
		return "{}\n", nil
	}
	data, err := yaml.Marshal(settings)
	if err != nil {
		return "", fmt.Errorf("marshal config: %w", err)
	}
	return string(data), nil
}

// Execute runs the command and exits with appropriate code.
func Execute(cmd *cobra.Command) {
	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func logConfigIfDebug(log logger.Logger, cfg *config.Config) {
	if log == nil || cfg == nil {
		return
	}

	if !strings.EqualFold(cfg.Observability.LogLevel, string(logger.DebugLevel)) {
		return
	}

	log.Debug("effective configuration", "config", fmt.Sprintf("%+v", *cfg.Redacted()))
}

func applyResolvedServiceName(cfg *config.Config, defaultServiceName, serviceNameOverride string) {
	if cfg == nil {
		return
	}
	cfg.Service.Name = resolveServiceNameValue(cfg.Service.Name, defaultServiceName, serviceNameOverride)
}

func resolveServiceNameValue(currentConfigName, defaultServiceName, serviceNameOverride string) string {
	if override := strings.TrimSpace(serviceNameOverride); override != "" {
		return override
	}
	if configured := strings.TrimSpace(currentConfigName); configured != "" {
		return configured
	}
	if fallback := strings.TrimSpace(defaultServiceName); fallback != "" {
		return fallback
	}
	return fallbackServiceName
}
