package mv

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dianpeng/xtab/query"
	"github.com/dianpeng/xtab/table"
)

func openRegistry(t *testing.T) *BoltRegistry {
	r, err := OpenBolt(filepath.Join(t.TempDir(), "views.db"), 0)
	require.NoError(t, err)
	t.Cleanup(func() { r.Close() })
	return r
}

func salesView(built time.Time) *View {
	day := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	return &View{
		Ref: Ref{
			Name:       "sales_by_region",
			Identity:   "scan sales",
			Built:      built,
			Combinable: true,
		},
		Rows: table.NewMemory(
			table.Schema{
				{Name: "region", Type: table.TypeString},
				{Name: "month", Type: table.TypeTime},
				{Name: "sum(amount)", Type: table.TypeFloat},
				{Name: "count(amount)", Type: table.TypeInt},
			},
			[]table.Row{
				{"east", day, 30.0, int64(2)},
				{"west", day, 12.5, int64(1)},
				{nil, day, nil, int64(0)},
			},
		),
	}
}

func TestBoltRegistry(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	r := openRegistry(t)
	now := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, r.Put(salesView(now)))
	{
		ref, err := r.Find("scan sales", "")
		require.NoError(t, err)
		assert.Equal("sales_by_region", ref.Name)
		assert.True(r.IsCombinable(ref))
		assert.True(now.Equal(ref.Built))

		s, err := r.Rows(ctx, ref)
		require.NoError(t, err)
		m, err := table.Materialize(ctx, s)
		require.NoError(t, err)
		assert.Equal(salesView(now).Rows.Rows(), m.Rows())
		assert.Equal(salesView(now).Rows.Schema(), m.Schema())
	}
	{
		// public views are visible to every principal
		ref, err := r.Find("scan sales", "alice")
		require.NoError(t, err)
		assert.Equal("sales_by_region", ref.Name)
	}
	{
		_, err := r.Find("scan other", "")
		var mvErr *query.MVUnavailableError
		assert.True(errors.As(err, &mvErr))
	}
	{
		ref, err := r.Find("scan sales", "")
		require.NoError(t, err)
		_, err = r.Detail(ctx, ref)
		var mvErr *query.MVUnavailableError
		assert.True(errors.As(err, &mvErr))
	}
	assert.Error(r.Put(&View{}))
	assert.Error(r.Put(&View{Ref: Ref{Name: "x"}}))
	assert.False(r.IsCombinable(nil))
}

func TestBoltRegistryStale(t *testing.T) {
	assert := assert.New(t)
	r := openRegistry(t)
	now := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	r.now = func() time.Time { return now }
	r.MaxAge = time.Hour

	require.NoError(t, r.Put(salesView(now.Add(-2*time.Hour))))
	_, err := r.Find("scan sales", "")
	var mvErr *query.MVUnavailableError
	require.True(t, errors.As(err, &mvErr))
	assert.Contains(mvErr.Reason, "2h0m0s")

	v := salesView(now.Add(-time.Minute))
	v.Detail = table.NewMemory(table.Schema{{Name: "region"}}, []table.Row{{"east"}, {"east"}})
	require.NoError(t, r.Put(v))
	ref, err := r.Find("scan sales", "")
	require.NoError(t, err)
	s, err := r.Detail(context.Background(), ref)
	require.NoError(t, err)
	m, err := table.Materialize(context.Background(), s)
	require.NoError(t, err)
	assert.Equal(2, m.Len())

	// a cancelled context never reads
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = r.Rows(ctx, ref)
	assert.Error(err)
}

func TestIdentity(t *testing.T) {
	assert := assert.New(t)
	scan := &query.Scan{
		NodeInfo: query.NodeInfo{
			Columns: query.MustColumnSet(query.Physical("region"), query.Alias("area", "region"), query.Physical("amount")),
		},
		Source: "sales",
	}
	assert.Equal("scan sales", Identity(scan, nil))

	scan.Aggregate = &query.AggregateSpec{
		Groups:     []*query.GroupRef{{Column: "area"}},
		Aggregates: []*query.AggregateRef{{Column: "amount", Formula: query.F(query.FormulaSum)}},
	}
	scan.Pre = query.ConditionList{"amount > 1"}
	id := Identity(scan, nil)
	assert.Equal("scan sales where amount > 1 group region aggregate sum(amount)=sum(amount)", id)

	// presentation is not part of the identity
	scan.Sort = query.SortSpec{{Column: "region"}}
	scan.MaxRows = 3
	assert.Equal(id, Identity(scan, nil))

	// variables of the conditions and secondary columns tell views apart
	scan.Pre = query.ConditionList{"amount > $min"}
	assert.Equal("scan sales where amount > $min with $min=d:1 group region aggregate sum(amount)=sum(amount)",
		Identity(scan, map[string]interface{}{"min": 1}))
	assert.NotEqual(Identity(scan, map[string]interface{}{"min": 1}), Identity(scan, map[string]interface{}{"min": 2}))

	scan.Aggregate.Aggregates = []*query.AggregateRef{
		{Column: "amount", Secondary: "weight", Formula: query.F(query.FormulaWeightedAvg), Name: "w"},
	}
	weighted := Identity(scan, nil)
	assert.Contains(weighted, "w=weightedavg(amount,weight)")
	scan.Aggregate.Aggregates[0].Secondary = "qty"
	assert.NotEqual(weighted, Identity(scan, nil))
}
