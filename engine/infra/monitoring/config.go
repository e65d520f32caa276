package monitoring

import (
	"fmt"
	"strings"
)

type Config struct {
	Enabled bool
	Path    string
}

func DefaultConfig() *Config {
	return &Config{
		Enabled: true,
		Path:    "/metrics",
	}
}

func (c *Config) Validate() error {
	if c.Path == "" {
		return fmt.Errorf("monitoring path cannot be empty")
	}
	if c.Path[0] != '/' {
		return fmt.Errorf("monitoring path must start with '/': got %s", c.Path)
	}
	if strings.ContainsAny(c.Path, "?#") {
		return fmt.Errorf("monitoring path cannot contain a query or fragment")
	}
	return nil
}
