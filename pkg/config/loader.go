package config

import (
	"context"
	"fmt"
	"os"
	"reflect"

	"github.com/go-playground/validator/v10"
	"github.com/go-viper/mapstructure/v2"
	"github.com/knadh/koanf/providers/env/v2"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"

	"github.com/ragon/ragon/pkg/logger"
)

// Loader layers defaults, an optional JSON or YAML file, mapped environment
// variables and explicit overrides, in that order of precedence.
type Loader struct {
	validator *validator.Validate
	environ   func() []string
}

type LoaderOption func(*Loader)

// WithEnviron replaces os.Environ as the environment source.
func WithEnviron(fn func() []string) LoaderOption {
	return func(l *Loader) {
		l.environ = fn
	}
}

func NewLoader(opts ...LoaderOption) *Loader {
	v := validator.New()
	if err := RegisterCustomValidators(v); err != nil {
		panic(fmt.Sprintf("config: register validators: %v", err))
	}
	l := &Loader{validator: v, environ: os.Environ}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Load builds a validated Config. An empty path skips the file layer.
// Overrides use dotted koanf paths, e.g. "server.port".
func (l *Loader) Load(ctx context.Context, path string, overrides map[string]any) (*Config, error) {
	log := logger.FromContext(ctx)
	k := koanf.New(".")

	if err := k.Load(structs.Provider(Default(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}
	if path != "" {
		if err := k.Load(file.Provider(path), parserFor(path)); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", path, err)
		}
		log.Debug("Loaded config file", "path", path)
	}
	if err := l.loadEnvironment(k); err != nil {
		return nil, err
	}
	for key, value := range overrides {
		if err := k.Set(key, value); err != nil {
			return nil, fmt.Errorf("failed to apply override %s: %w", key, err)
		}
		if IsSensitiveConfigPath(key) {
			log.Debug("Applied config override", "key", key, "value", redacted)
		} else {
			log.Debug("Applied config override", "key", key, "value", value)
		}
	}

	cfg, err := l.unmarshal(k)
	if err != nil {
		return nil, err
	}
	if err := l.Validate(cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

// loadEnvironment only honours variables declared through `env` tags.
func (l *Loader) loadEnvironment(k *koanf.Koanf) error {
	mapping := envToConfigPath()
	provider := env.Provider(".", env.Opt{
		EnvironFunc: l.environ,
		TransformFunc: func(key, value string) (string, any) {
			path, ok := mapping[key]
			if !ok || value == "" {
				return "", nil
			}
			return path, value
		},
	})
	if err := k.Load(provider, nil); err != nil {
		return fmt.Errorf("failed to load environment variables: %w", err)
	}
	return nil
}

func (l *Loader) unmarshal(k *koanf.Koanf) (*Config, error) {
	var cfg Config
	err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{
		Tag: "koanf",
		DecoderConfig: &mapstructure.DecoderConfig{
			WeaklyTypedInput: true,
			Result:           &cfg,
			TagName:          "koanf",
			DecodeHook: mapstructure.ComposeDecodeHookFunc(
				mapstructure.StringToTimeDurationHookFunc(),
				mapstructure.StringToSliceHookFunc(","),
				sensitiveStringDecodeHook,
			),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}
	return &cfg, nil
}

func (l *Loader) Validate(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("configuration cannot be nil")
	}
	if err := l.validator.Struct(cfg); err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}
	if cfg.Gateway.SSEPath == cfg.Gateway.MessagePath {
		return fmt.Errorf("gateway.sse_path and gateway.message_path must differ")
	}
	if cfg.Database.MinConns > cfg.Database.MaxConns {
		return fmt.Errorf("database.min_conns (%d) exceeds database.max_conns (%d)",
			cfg.Database.MinConns, cfg.Database.MaxConns)
	}
	return nil
}

func sensitiveStringDecodeHook(_ reflect.Type, to reflect.Type, data any) (any, error) {
	if to != reflect.TypeOf(SensitiveString("")) {
		return data, nil
	}
	switch v := data.(type) {
	case string:
		return SensitiveString(v), nil
	case []byte:
		return SensitiveString(v), nil
	default:
		return data, nil
	}
}
