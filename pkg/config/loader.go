package config

import (
	"fmt"
	"reflect"
	"strings"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Loader defines the interface for loading configuration
type Loader interface {
	Load() (*Config, error)
	Validate(*Config) error
}

// ViperLoader implements Loader using Viper. Precedence is flags > env >
// file > defaults.
type ViperLoader struct {
	configFile string
	envPrefix  string
	flags      *pflag.FlagSet
}

// NewViperLoader creates a new ViperLoader
// configFile: path to configuration file (optional, can be empty)
// envPrefix: prefix for environment variables (defaults to KEYSET)
func NewViperLoader(configFile, envPrefix string) *ViperLoader {
	return &ViperLoader{
		configFile: configFile,
		envPrefix:  envPrefix,
	}
}

// WithFlags binds the command line flags listed in FlagKeys.
func (l *ViperLoader) WithFlags(flags *pflag.FlagSet) *ViperLoader {
	l.flags = flags
	return l
}

// ConfigFile returns the file passed to NewViperLoader.
func (l *ViperLoader) ConfigFile() string {
	return l.configFile
}

// FlagKeys maps command line flags to configuration keys.
var FlagKeys = map[string]string{
	"port":          "http.port",
	"log-level":     "observability.log_level",
	"log-format":    "observability.log_format",
	"database-type": "database.type",
	"database-url":  "database.url",
	"count-mode":    "pagination.count_mode",
	"batch-size":    "pagination.batch_size",
	"sink":          "export.sink",
	"chunk-size":    "export.chunk_size",
	"rate":          "export.records_per_second",
}

// envAliases are accepted in addition to the derived PREFIX_SECTION_KEY names.
var envAliases = map[string][]string{
	"database.url":            {"DB_URL"},
	"database.type":           {"DB_TYPE"},
	"cache.url":               {"REDIS_URL"},
	"observability.log_level": {"LOG_LEVEL"},
}

// Load reads defaults, the config file, environment and flags, then
// validates the result.
func (l *ViperLoader) Load() (*Config, error) {
	v := viper.New()

	defaults := DefaultConfig()
	l.setDefaults(v, defaults)

	if l.configFile != "" {
		v.SetConfigFile(l.configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", l.configFile, err)
		}
	}

	l.bindEnvVars(v)
	if err := l.bindFlags(v); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := l.Validate(&cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return &cfg, nil
}

// Validate delegates to Config.Validate.
func (l *ViperLoader) Validate(cfg *Config) error {
	return cfg.Validate()
}

// bindEnvVars binds every configuration key to PREFIX_KEY, with dots
// replaced by underscores, plus any alias.
func (l *ViperLoader) bindEnvVars(v *viper.Viper) {
	for _, key := range Keys() {
		envs := []string{key, l.prefixedEnv(strings.ToUpper(strings.ReplaceAll(key, ".", "_")))}
		for _, alias := range envAliases[key] {
			envs = append(envs, l.prefixedEnv(alias))
		}
		_ = v.BindEnv(envs...)
	}
}

func (l *ViperLoader) bindFlags(v *viper.Viper) error {
	if l.flags == nil {
		return nil
	}
	for name, key := range FlagKeys {
		flag := l.flags.Lookup(name)
		if flag == nil {
			continue
		}
		if err := v.BindPFlag(key, flag); err != nil {
			return fmt.Errorf("failed to bind flag --%s: %w", name, err)
		}
	}
	return nil
}

func (l *ViperLoader) prefixedEnv(suffix string) string {
	prefix := strings.TrimSpace(l.envPrefix)
	if prefix == "" {
		prefix = DefaultEnvPrefix
	}
	return fmt.Sprintf("%s_%s", strings.ToUpper(prefix), suffix)
}

// setDefaults registers every leaf of cfg as a viper default.
func (l *ViperLoader) setDefaults(v *viper.Viper, cfg *Config) {
	walk(reflect.ValueOf(cfg).Elem(), "", func(key string, value reflect.Value, _ reflect.StructField) {
		v.SetDefault(key, value.Interface())
	})
}

// Keys lists every configuration key in dotted form.
func Keys() []string {
	var keys []string
	walk(reflect.ValueOf(Config{}), "", func(key string, _ reflect.Value, _ reflect.StructField) {
		keys = append(keys, key)
	})
	return keys
}

// walk visits the leaves of a config struct, naming each by its
// mapstructure tags.
func walk(v reflect.Value, prefix string, visit func(key string, value reflect.Value, field reflect.StructField)) {
	t := v.Type()
	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		name := strings.Split(field.Tag.Get("mapstructure"), ",")[0]
		if name == "" {
			name = strings.ToLower(field.Name)
		}
		key := name
		if prefix != "" {
			key = prefix + "." + name
		}
		if field.Type.Kind() == reflect.Struct && field.Type.PkgPath() != "time" {
			walk(v.Field(i), key, visit)
			continue
		}
		visit(key, v.Field(i), field)
	}
}
