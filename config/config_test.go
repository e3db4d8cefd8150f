package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"

	"github.com/dianpeng/xtab/cache"
	"github.com/dianpeng/xtab/engine"
)

func TestDefaults(t *testing.T) {
	assert := assert.New(t)
	c := NewConfig()
	assert.NoError(c.Validate())
	assert.Equal(engine.DefaultDesignMaxRows, c.Engine.DesignMaxRows)
	assert.True(c.Engine.Recover)
	assert.Equal(cache.DefaultMaxEntries, c.Cache.MaxEntries)
	assert.Equal("console", c.Logging.Format)
}

func TestParse(t *testing.T) {
	assert := assert.New(t)
	c, err := Parse(`
[engine]
design-max-rows = 50
pushdown-timeout = "5s"
script = "awk"
mv-required = true

[cache]
enabled = false

[mv]
path = "views.db"
max-age = "1h"

[logging]
format = "json"
level = "debug"
`)
	require.NoError(t, err)
	assert.Equal(50, c.Engine.DesignMaxRows)
	assert.Equal(engine.DefaultLiveMaxRows, c.Engine.LiveMaxRows)
	assert.Equal(5*time.Second, c.Engine.PushdownTimeout)
	assert.Equal("awk", c.Engine.Script)
	assert.True(c.Engine.MVRequired)
	assert.False(c.Cache.Enabled)
	assert.Equal("views.db", c.MV.Path)
	assert.Equal(time.Hour, c.MV.MaxAge)
	assert.Equal("json", c.Logging.Format)
	assert.Equal(zapcore.DebugLevel, c.Logging.Level)
}

func TestParseErrors(t *testing.T) {
	assert := assert.New(t)
	{
		_, err := Parse("[engine]\nno-such-key = 1\n")
		assert.Error(err)
	}
	{
		_, err := Parse("[engine]\nlive-max-rows = -1\n")
		assert.Error(err)
	}
	{
		_, err := Parse("[logging]\nformat = \"xml\"\n")
		assert.Error(err)
	}
	{
		_, err := Parse("[engine\n")
		assert.Error(err)
	}
}

func TestLoad(t *testing.T) {
	assert := assert.New(t)
	path := filepath.Join(t.TempDir(), "xtab.toml")
	require.NoError(t, os.WriteFile(path, []byte("[cache]\nmax-entries = 8\n"), 0644))
	c, err := Load(path)
	require.NoError(t, err)
	assert.Equal(8, c.Cache.MaxEntries)

	_, err = Load(filepath.Join(t.TempDir(), "missing.toml"))
	assert.Error(err)
}
