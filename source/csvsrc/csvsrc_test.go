package csvsrc

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/dianpeng/xtab/table"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func write(t *testing.T, content string) string {
	p := filepath.Join(t.TempDir(), "data.csv")
	require.NoError(t, os.WriteFile(p, []byte(content), 0644))
	return p
}

func TestScan(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	{
		src := New("csv", write(t, "region,amount\neast,10\nwest\n\"a,b\",3.5\n"))
		s, err := src.Scan(ctx, nil, nil)
		require.NoError(t, err)
		m, err := table.Materialize(ctx, s)
		require.NoError(t, err)
		assert.Equal([]string{"region", "amount"}, m.Schema().Names())
		assert.Equal([]table.Row{
			{"east", "10"},
			{"west", nil},
			{"a,b", "3.5"},
		}, m.Rows())
		assert.Equal(3, s.RowCount())
	}
	{
		src := New("tsv", write(t, "a\tb\n1\t2\n")).WithComma('\t')
		s, err := src.Scan(ctx, nil, nil)
		require.NoError(t, err)
		m, err := table.Materialize(ctx, s)
		require.NoError(t, err)
		assert.Equal([]table.Row{{"1", "2"}}, m.Rows())
	}
	{
		_, err := New("empty", write(t, "")).Scan(ctx, nil, nil)
		assert.Error(err)
		_, err = New("missing", "/does/not/exist.csv").Scan(ctx, nil, nil)
		assert.Error(err)
		_, err = New("csv", "x").Pushdown(ctx, nil, nil, 0)
		assert.Error(err)
	}
	{
		cctx, cancel := context.WithCancel(ctx)
		s, err := New("csv", write(t, "a\n1\n2\n")).Scan(cctx, nil, nil)
		require.NoError(t, err)
		cancel()
		_, err = s.Next()
		assert.ErrorIs(err, context.Canceled)
		s.Close()
	}
}
