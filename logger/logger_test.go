package logger

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func TestNew(t *testing.T) {
	assert := assert.New(t)
	{
		buf := &bytes.Buffer{}
		log := New(buf, NewConfig())
		log.Debug("hidden")
		log.Info("shown", zap.String("stage", "summary"))
		assert.NotContains(buf.String(), "hidden")
		assert.Contains(buf.String(), "shown")
		assert.Contains(buf.String(), "summary")
	}
	{
		buf := &bytes.Buffer{}
		log := New(buf, Config{Format: "json", Level: zapcore.DebugLevel})
		log.Debug("query", zap.Int("rows", 3))
		out := map[string]interface{}{}
		assert.NoError(json.Unmarshal(buf.Bytes(), &out))
		assert.Equal("query", out["msg"])
		assert.Equal(float64(3), out["rows"])
	}
}
