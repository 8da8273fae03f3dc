package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/franciscozunigap/sofinance/internal/cache"
)

// ttlFile is the YAML shape of a cache TTL override file:
//
//	ttls:
//	  balance: 5m
//	  history: 10m
type ttlFile struct {
	TTLs map[string]string `yaml:"ttls"`
}

// CacheTTLs returns the cache TTL table, applying overrides from
// CacheTTLFile on top of the defaults when the file is configured.
func (c *Config) CacheTTLs() (cache.TTLTable, error) {
	ttls := cache.DefaultTTLs()
	if c.CacheTTLFile == "" {
		return ttls, nil
	}

	raw, err := os.ReadFile(c.CacheTTLFile)
	if err != nil {
		return nil, fmt.Errorf("read cache TTL file: %w", err)
	}

	var parsed ttlFile
	if err := yaml.Unmarshal(raw, &parsed); err != nil {
		return nil, fmt.Errorf("parse cache TTL file: %w", err)
	}

	for name, value := range parsed.TTLs {
		class := cache.Class(name)
		if _, ok := ttls[class]; !ok {
			return nil, fmt.Errorf("unknown cache class %q in TTL file", name)
		}
		d, err := time.ParseDuration(value)
		if err != nil {
			return nil, fmt.Errorf("invalid TTL for class %q: %w", name, err)
		}
		if d <= 0 {
			return nil, fmt.Errorf("TTL for class %q must be positive", name)
		}
		ttls[class] = d
	}

	return ttls, nil
}
