package engine

import (
	"time"

	"github.com/dianpeng/xtab/query"
	"github.com/dianpeng/xtab/stage"
)

const (
	DefaultDesignMaxRows   = 1000
	DefaultLiveMaxRows     = 10000
	DefaultPushdownTimeout = 30 * time.Second
)

// Config is the engine section of the configuration file
type Config struct {
	// Row limits applied to a node without its own, 0 is unlimited
	DesignMaxRows  int `toml:"design-max-rows"`
	LiveMaxRows    int `toml:"live-max-rows"`
	RuntimeMaxRows int `toml:"runtime-max-rows"`

	PushdownTimeout time.Duration `toml:"pushdown-timeout"`
	Lookahead       int           `toml:"coerce-lookahead"`
	Script          string        `toml:"script"`

	// Recover degrades failed design and live executions to metadata results
	Recover bool `toml:"recover"`
	// MVRequired makes a missing or stale materialized view fatal
	MVRequired bool `toml:"mv-required"`
}

func NewConfig() Config {
	return Config{
		DesignMaxRows:   DefaultDesignMaxRows,
		LiveMaxRows:     DefaultLiveMaxRows,
		PushdownTimeout: DefaultPushdownTimeout,
		Lookahead:       stage.DefaultLookahead,
		Script:          "native",
		Recover:         true,
	}
}

// MaxRows is the default row limit of a mode
func (self Config) MaxRows(mode int) int {
	switch mode {
	case query.ModeDesign:
		return self.DesignMaxRows
	case query.ModeLive:
		return self.LiveMaxRows
	default:
		return self.RuntimeMaxRows
	}
}
