package render

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dianpeng/xtab/table"
)

func TestWrite(t *testing.T) {
	assert := assert.New(t)
	mem := table.NewMemory(
		table.Schema{{Name: "region", Type: table.TypeString}, {Name: "total", Type: table.TypeFloat}},
		[]table.Row{{"East", 30.0}, {"West", nil}, {"North-North-East", 1.5}},
	)
	opts := NewOptions()
	opts.Plain = true
	opts.MaxWidth = 10

	b := &strings.Builder{}
	n, err := Write(context.Background(), b, mem.Reader(), opts)
	require.NoError(t, err)
	assert.Equal(3, n)
	assert.Equal(strings.Join([]string{
		"region      total",
		"----------  -----",
		"East        30",
		"West        null",
		"North-Nor~  1.5",
		"(3 rows)",
		"",
	}, "\n"), b.String())
}

func TestParseColor(t *testing.T) {
	assert := assert.New(t)
	{
		c, err := ParseColor("Yellow")
		assert.NoError(err)
		assert.Equal(ColorYellow, c)
	}
	{
		_, err := ParseColor("purple")
		assert.Error(err)
	}
}
