// Package config is the configuration file of the xtab command.
package config

import (
	"os"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/pkg/errors"

	"github.com/dianpeng/xtab/cache"
	"github.com/dianpeng/xtab/engine"
	"github.com/dianpeng/xtab/logger"
)

type Cache struct {
	Enabled    bool `toml:"enabled"`
	MaxEntries int  `toml:"max-entries"`
}

type MV struct {
	// Path of the bbolt file holding the views, no view is used when empty
	Path   string        `toml:"path"`
	MaxAge time.Duration `toml:"max-age"`
}

type Config struct {
	Engine  engine.Config `toml:"engine"`
	Cache   Cache         `toml:"cache"`
	MV      MV            `toml:"mv"`
	Logging logger.Config `toml:"logging"`
}

// NewConfig returns an instance of Config with defaults.
func NewConfig() *Config {
	return &Config{
		Engine: engine.NewConfig(),
		Cache: Cache{
			Enabled:    true,
			MaxEntries: cache.DefaultMaxEntries,
		},
		Logging: logger.NewConfig(),
	}
}

// Parse decodes the text over the defaults
func Parse(text string) (*Config, error) {
	c := NewConfig()
	md, err := toml.Decode(text, c)
	if err != nil {
		return nil, err
	}
	if un := md.Undecoded(); len(un) > 0 {
		return nil, errors.Errorf("unknown configuration key %q", un[0].String())
	}
	return c, c.Validate()
}

func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "unable to read config %s", path)
	}
	c, err := Parse(string(b))
	if err != nil {
		return nil, errors.Wrapf(err, "config %s", path)
	}
	return c, nil
}

func (self *Config) Validate() error {
	e := self.Engine
	if e.DesignMaxRows < 0 || e.LiveMaxRows < 0 || e.RuntimeMaxRows < 0 {
		return errors.New("engine: max rows cannot be negative")
	}
	if e.PushdownTimeout < 0 {
		return errors.New("engine: pushdown-timeout cannot be negative")
	}
	if self.Cache.MaxEntries < 0 {
		return errors.New("cache: max-entries cannot be negative")
	}
	if self.MV.MaxAge < 0 {
		return errors.New("mv: max-age cannot be negative")
	}
	switch self.Logging.Format {
	case "console", "json":
	default:
		return errors.Errorf("logging: unknown format %q", self.Logging.Format)
	}
	return nil
}
