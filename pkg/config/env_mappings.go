package config

import (
	"reflect"
	"strings"
	"sync"
)

// EnvMapping binds an environment variable to a koanf path.
type EnvMapping struct {
	EnvVar     string
	ConfigPath string
}

var (
	cachedMappings []EnvMapping
	mappingsOnce   sync.Once
)

// EnvMappings walks Config and collects every `env` tag.
func EnvMappings() []EnvMapping {
	mappingsOnce.Do(func() {
		cachedMappings = collectMappings(reflect.TypeOf(Config{}), "")
	})
	return cachedMappings
}

func collectMappings(t reflect.Type, prefix string) []EnvMapping {
	var out []EnvMapping
	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		if !field.IsExported() {
			continue
		}
		key := field.Tag.Get("koanf")
		if key == "" || key == "-" {
			continue
		}
		path := key
		if prefix != "" {
			path = prefix + "." + key
		}
		if envVar := field.Tag.Get("env"); envVar != "" && envVar != "-" {
			out = append(out, EnvMapping{EnvVar: envVar, ConfigPath: path})
		}
		if field.Type.Kind() == reflect.Struct && field.Type.PkgPath() != "time" {
			out = append(out, collectMappings(field.Type, path)...)
		}
	}
	return out
}

func envToConfigPath() map[string]string {
	mappings := EnvMappings()
	out := make(map[string]string, len(mappings))
	for _, m := range mappings {
		out[m.EnvVar] = m.ConfigPath
	}
	return out
}

// IsSensitiveConfigPath reports whether the value at path must never be logged.
func IsSensitiveConfigPath(path string) bool {
	return sensitiveField(reflect.TypeOf(Config{}), strings.Split(path, "."))
}

func sensitiveField(t reflect.Type, parts []string) bool {
	if len(parts) == 0 {
		return false
	}
	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		if field.Tag.Get("koanf") != parts[0] {
			continue
		}
		if len(parts) == 1 {
			return field.Type == reflect.TypeOf(SensitiveString("")) || field.Tag.Get("sensitive") == "true"
		}
		if field.Type.Kind() == reflect.Struct && field.Type.PkgPath() != "time" {
			return sensitiveField(field.Type, parts[1:])
		}
	}
	return false
}
