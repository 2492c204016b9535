package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/json"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

const (
	// EnvPrefix is the default prefix of environment variables.
	EnvPrefix = "SIGHT_"
	// Delimiter separates nested config keys.
	Delimiter = "."
	// EnvNesting separates nested keys in environment variable names.
	EnvNesting = "__"
)

// DefaultSearchPaths are tried in order when Load gets no explicit path.
var DefaultSearchPaths = []string{
	"sightcore.yaml",
	"sightcore.yml",
	"sightcore.json",
	"config/sightcore.yaml",
	"/etc/sightcore/sightcore.yaml",
}

// Loader layers defaults, a config file, the environment and explicit
// overrides, later layers winning key by key.
type Loader struct {
	k           *koanf.Koanf
	envPrefix   string
	searchPaths []string
	sources     []string
}

// LoaderOption configures a Loader.
type LoaderOption func(*Loader)

// WithEnvPrefix changes the environment variable prefix.
func WithEnvPrefix(prefix string) LoaderOption {
	return func(l *Loader) { l.envPrefix = prefix }
}

// WithSearchPaths replaces DefaultSearchPaths.
func WithSearchPaths(paths ...string) LoaderOption {
	return func(l *Loader) { l.searchPaths = paths }
}

// NewLoader creates a loader.
func NewLoader(opts ...LoaderOption) *Loader {
	l := &Loader{
		k:           koanf.New(Delimiter),
		envPrefix:   EnvPrefix,
		searchPaths: DefaultSearchPaths,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Load builds and validates the configuration. Precedence, lowest first:
// defaults, configPath (or the first existing search path), environment,
// overrides. Keys a layer does not mention keep their previous value.
func (l *Loader) Load(configPath string, overrides map[string]interface{}) (*Config, error) {
	l.k = koanf.New(Delimiter)
	l.sources = l.sources[:0]

	defaults := flatten(DefaultConfig())
	if err := l.k.Load(confmap.Provider(defaults, Delimiter), nil); err != nil {
		return nil, fmt.Errorf("load defaults: %w", err)
	}
	l.sources = append(l.sources, "defaults")

	path := configPath
	if path == "" {
		path = l.findFile()
	}
	if path != "" {
		if err := l.loadFile(path); err != nil {
			return nil, err
		}
		l.sources = append(l.sources, "file:"+path)
	}

	if err := l.k.Load(env.Provider(l.envPrefix, Delimiter, l.envKey), nil); err != nil {
		return nil, fmt.Errorf("load environment: %w", err)
	}
	if l.hasEnv() {
		l.sources = append(l.sources, "env:"+l.envPrefix)
	}

	if len(overrides) > 0 {
		if err := l.k.Load(confmap.Provider(overrides, Delimiter), nil); err != nil {
			return nil, fmt.Errorf("apply overrides: %w", err)
		}
		l.sources = append(l.sources, "overrides")
	}

	// A file or env layer may replace a whole subtree with a scalar or an
	// empty map; restore the defaults it dropped.
	for key, value := range defaults {
		if !l.k.Exists(key) {
			if err := l.k.Set(key, value); err != nil {
				return nil, fmt.Errorf("restore default %s: %w", key, err)
			}
		}
	}

	var cfg Config
	if err := l.k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: "mapstructure"}); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := ValidateWithDetails(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Sources lists the layers applied by the last Load, lowest first.
func (l *Loader) Sources() []string {
	out := make([]string, len(l.sources))
	copy(out, l.sources)
	return out
}

// Get returns the raw value of key after the last Load.
func (l *Loader) Get(key string) interface{} {
	return l.k.Get(key)
}

// Sprint renders every loaded key, one per line.
func (l *Loader) Sprint() string {
	return l.k.Sprint()
}

func (l *Loader) loadFile(path string) error {
	var parser koanf.Parser
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		parser = yaml.Parser()
	case ".json":
		parser = json.Parser()
	default:
		return fmt.Errorf("unsupported config file format %q: %s", ext, path)
	}

	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("config file not found: %s", path)
		}
		return fmt.Errorf("stat config file: %w", err)
	}
	if err := l.k.Load(file.Provider(path), parser); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}
	return nil
}

func (l *Loader) findFile() string {
	for _, path := range l.searchPaths {
		if st, err := os.Stat(path); err == nil && !st.IsDir() {
			return path
		}
	}
	return ""
}

func (l *Loader) hasEnv() bool {
	for _, kv := range os.Environ() {
		if strings.HasPrefix(kv, l.envPrefix) {
			return true
		}
	}
	return false
}

// envKey maps a variable name to a config key:
//
//	SIGHT_SERVER__PORT               -> server.port
//	SIGHT_SERVER__HTTP__READ_TIMEOUT -> server.http.read_timeout
func (l *Loader) envKey(name string) string {
	key := strings.ToLower(strings.TrimPrefix(name, l.envPrefix))
	return strings.ReplaceAll(key, strings.ToLower(EnvNesting), Delimiter)
}

var durationType = reflect.TypeOf(time.Duration(0))

// flatten turns a config struct into dot-separated keys named by the
// mapstructure tags. Nil pointers and maps are left out.
func flatten(v interface{}) map[string]interface{} {
	out := make(map[string]interface{})
	flattenValue(reflect.ValueOf(v), "", out)
	return out
}

func flattenValue(val reflect.Value, prefix string, out map[string]interface{}) {
	for val.Kind() == reflect.Ptr {
		if val.IsNil() {
			return
		}
		val = val.Elem()
	}
	typ := val.Type()
	for i := 0; i < typ.NumField(); i++ {
		field := typ.Field(i)
		tag := field.Tag.Get("mapstructure")
		if !field.IsExported() || tag == "" || tag == "-" {
			continue
		}
		key := tag
		if prefix != "" {
			key = prefix + Delimiter + tag
		}

		fv := val.Field(i)
		switch {
		case fv.Type() == durationType:
			out[key] = fv.Interface()
		case fv.Kind() == reflect.Struct:
			flattenValue(fv, key, out)
		case fv.Kind() == reflect.Ptr && fv.Elem().Kind() == reflect.Struct:
			flattenValue(fv, key, out)
		case (fv.Kind() == reflect.Map || fv.Kind() == reflect.Ptr) && fv.IsNil():
		default:
			out[key] = fv.Interface()
		}
	}
}
