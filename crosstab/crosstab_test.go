package crosstab

import (
	"context"
	"testing"
	"time"

	"github.com/dianpeng/xtab/query"
	"github.com/dianpeng/xtab/summary"
	"github.com/dianpeng/xtab/table"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func stream(cols []string, rows ...table.Row) table.Stream {
	s := table.Schema{}
	for _, c := range cols {
		s = append(s, table.Column{Name: c})
	}
	return table.NewMemory(s, rows).Reader()
}

func sales() table.Stream {
	return stream([]string{"region", "city", "amount"},
		table.Row{"East", "Boston", int64(10)},
		table.Row{"West", "Seattle", int64(7)},
		table.Row{"East", "NYC", int64(20)},
		table.Row{"West", "LA", int64(3)},
		table.Row{"East", "Boston", int64(5)},
		table.Row{"North", "Fargo", int64(1)},
	)
}

func quarters() table.Stream {
	return stream([]string{"region", "q", "amount"},
		table.Row{"East", "Q1", int64(10)},
		table.Row{"East", "Q2", int64(5)},
		table.Row{"West", "Q1", int64(3)},
	)
}

func sum(col string) *query.AggregateRef {
	return &query.AggregateRef{Column: col, Formula: query.F(query.FormulaSum), Name: "total"}
}

func groups(cols ...string) []*query.GroupRef {
	out := []*query.GroupRef{}
	for _, c := range cols {
		out = append(out, &query.GroupRef{Column: c})
	}
	return out
}

func build(t *testing.T, in table.Stream, spec *query.AggregateSpec, opts Options) *Table {
	spec.Crosstab = true
	tab, err := Build(context.Background(), in, spec, opts)
	require.NoError(t, err)
	return tab
}

func rows(t *testing.T, tab *Table) []table.Row {
	r, _, err := tab.Rows()
	require.NoError(t, err)
	return r
}

func TestPercentByColumn(t *testing.T) {
	assert := assert.New(t)
	in := stream([]string{"region", "k", "amount"},
		table.Row{"East", "Total", int64(10)},
		table.Row{"East", "Total", int64(20)},
		table.Row{"West", "Total", int64(5)},
	)
	a := sum("amount")
	a.Percentage = query.PercentGroup
	spec := &query.AggregateSpec{
		Groups:     groups("region", "k"),
		Aggregates: []*query.AggregateRef{a},
		Cross:      query.CrosstabOptions{PercentDirection: query.PercentByColumn},
	}
	tab := build(t, in, spec, Options{})

	assert.InDelta(85.714, tab.Cell([]interface{}{"East"}, "Total", 0), 0.001)
	assert.InDelta(14.286, tab.Cell([]interface{}{"West"}, "Total", 0), 0.001)

	r := rows(t, tab)
	assert.Len(r, 2)
	assert.Equal("East", r[0][0])
	assert.Equal("West", r[1][0])
	assert.Equal([]string{"region", "Total"}, tab.Schema().Names())
}

func TestPercentByRow(t *testing.T) {
	assert := assert.New(t)
	a := sum("amount")
	a.Percentage = query.PercentGroup
	spec := &query.AggregateSpec{
		Groups:     groups("region", "q"),
		Aggregates: []*query.AggregateRef{a},
		Cross:      query.CrosstabOptions{PercentDirection: query.PercentByRow},
	}
	tab := build(t, quarters(), spec, Options{})
	assert.InDelta(66.667, tab.Cell([]interface{}{"East"}, "Q1", 0), 0.001)
	assert.InDelta(33.333, tab.Cell([]interface{}{"East"}, "Q2", 0), 0.001)
	assert.InDelta(100.0, tab.Cell([]interface{}{"West"}, "Q1", 0), 0.001)
	assert.Nil(tab.Cell([]interface{}{"West"}, "Q2", 0))
}

func TestGrandTotalMatchesSummary(t *testing.T) {
	assert := assert.New(t)
	spec := &query.AggregateSpec{
		Groups:     groups("region", "city"),
		Aggregates: []*query.AggregateRef{sum("amount")},
	}
	flat, err := summary.Summarize(context.Background(), sales(), spec.Clone(), summary.Options{})
	require.NoError(t, err)

	tab := build(t, sales(), spec, Options{})
	assert.Equal(flat.GrandTotal(0), tab.GrandTotal(0))
	assert.Equal(int64(46), tab.GrandTotal(0))

	assert.Equal(int64(35), tab.RowTotal([]interface{}{"East"}, 0))
	assert.Equal(int64(15), tab.ColumnTotal("Boston", 0))
	assert.Equal(int64(15), tab.Cell([]interface{}{"East"}, "Boston", 0))
	assert.Nil(tab.Cell([]interface{}{"West"}, "Boston", 0))
	assert.Equal([]interface{}{"Boston", "Seattle", "NYC", "LA", "Fargo"}, tab.Columns())
	assert.False(tab.Expensive)
}

func TestFlatten(t *testing.T) {
	assert := assert.New(t)
	{
		spec := &query.AggregateSpec{
			Groups:     groups("region", "q"),
			Aggregates: []*query.AggregateRef{sum("amount")},
			Cross:      query.CrosstabOptions{RowGrandTotal: true, ColGrandTotal: true},
		}
		tab := build(t, quarters(), spec, Options{})
		assert.Equal([]string{"region", "Q1", "Q2", "Total"}, tab.Schema().Names())

		r, kinds, err := tab.Rows()
		require.NoError(t, err)
		assert.Equal([]table.Row{
			{"East", int64(10), int64(5), int64(15)},
			{"West", int64(3), nil, int64(3)},
			{GrandTotalLabel, int64(13), int64(5), int64(18)},
		}, r)
		assert.Equal([]int{RowGroup, RowGroup, RowGrandTotal}, kinds)

		mem, err := tab.Memory()
		require.NoError(t, err)
		assert.Equal(3, mem.Len())
	}
	{
		// several measures get suffixed column names
		n := &query.AggregateRef{Column: "amount", Formula: query.F(query.FormulaCount), Name: "n"}
		spec := &query.AggregateSpec{
			Groups:     groups("region", "q"),
			Aggregates: []*query.AggregateRef{sum("amount"), n},
			Cross:      query.CrosstabOptions{ColGrandTotal: true},
		}
		tab := build(t, quarters(), spec, Options{})
		assert.Equal([]string{"region", "Q1_total", "Q1_n", "Q2_total", "Q2_n", "Total_total", "Total_n"}, tab.Schema().Names())
		r := rows(t, tab)
		assert.Equal(table.Row{"East", int64(10), int64(1), int64(5), int64(1), int64(15), int64(2)}, r[0])
	}
	{
		// no row key: a single row of column totals
		spec := &query.AggregateSpec{
			Groups:     groups("q"),
			Aggregates: []*query.AggregateRef{sum("amount")},
		}
		tab := build(t, quarters(), spec, Options{})
		assert.Equal([]table.Row{{int64(13), int64(5)}}, rows(t, tab))
	}
	{
		// subtotal rows per outer row key
		in := stream([]string{"region", "city", "q", "amount"},
			table.Row{"East", "Boston", "Q1", int64(1)},
			table.Row{"East", "NYC", "Q1", int64(2)},
			table.Row{"West", "LA", "Q2", int64(4)},
		)
		g := groups("region", "city", "q")
		g[0].Subtotal = true
		spec := &query.AggregateSpec{
			Groups:     g,
			Aggregates: []*query.AggregateRef{sum("amount")},
		}
		tab := build(t, in, spec, Options{})
		r, kinds, err := tab.Rows()
		require.NoError(t, err)
		assert.Equal([]int{RowGroup, RowGroup, RowSubtotal, RowGroup, RowSubtotal}, kinds)
		assert.Equal(table.Row{"East", TotalLabel, int64(3), nil}, r[2])
		assert.Equal(table.Row{"West", TotalLabel, nil, int64(4)}, r[4])
	}
}

func TestRanking(t *testing.T) {
	assert := assert.New(t)
	{
		// column axis, by column totals
		g := groups("region", "city")
		g[1].Ranking = &query.RankingCondition{Measure: 0, N: 2, Top: true, Others: true}
		spec := &query.AggregateSpec{Groups: g, Aggregates: []*query.AggregateRef{sum("amount")}}
		tab := build(t, sales(), spec, Options{})

		assert.Equal([]interface{}{"Boston", "NYC", query.DefaultOthersLabel}, tab.Columns())
		assert.Equal(int64(10), tab.Cell([]interface{}{"West"}, query.DefaultOthersLabel, 0))
		assert.Nil(tab.Cell([]interface{}{"East"}, query.DefaultOthersLabel, 0))
		assert.Equal(int64(11), tab.ColumnTotal(query.DefaultOthersLabel, 0))
		assert.Equal(int64(46), tab.GrandTotal(0))
		o, ok := tab.OthersColumn()
		assert.True(ok)
		assert.Equal(query.DefaultOthersLabel, o)
	}
	{
		// row axis, N=0 leaves only the Others bucket
		g := groups("region", "city")
		g[0].Ranking = &query.RankingCondition{Measure: 0, N: 0, Top: true, Others: true}
		spec := &query.AggregateSpec{Groups: g, Aggregates: []*query.AggregateRef{sum("amount")}}
		tab := build(t, sales(), spec, Options{})
		r := rows(t, tab)
		require.Len(t, r, 1)
		assert.Equal(query.DefaultOthersLabel, r[0][0])
		assert.Equal(int64(46), tab.RowTotal([]interface{}{query.DefaultOthersLabel}, 0))
	}
	{
		// N larger than the number of groups keeps every group as is
		g := groups("region", "city")
		g[0].Ranking = &query.RankingCondition{Measure: 0, N: 10, Top: true, Others: true}
		spec := &query.AggregateSpec{Groups: g, Aggregates: []*query.AggregateRef{sum("amount")}}
		tab := build(t, sales(), spec, Options{})
		r := rows(t, tab)
		assert.Len(r, 3)
		assert.Equal([]interface{}{"East", "West", "North"}, []interface{}{r[0][0], r[1][0], r[2][0]})
	}
	{
		// bottom 1 without Others drops the rest
		g := groups("region", "city")
		g[0].Ranking = &query.RankingCondition{Measure: 0, N: 1, Top: false}
		spec := &query.AggregateSpec{Groups: g, Aggregates: []*query.AggregateRef{sum("amount")}}
		tab := build(t, sales(), spec, Options{})
		r := rows(t, tab)
		require.Len(t, r, 1)
		assert.Equal("North", r[0][0])
		assert.Nil(tab.RowTotal([]interface{}{"East"}, 0))
	}
	{
		// an outer row key can't be ranked
		g := groups("region", "city", "amount")
		g[0].Ranking = &query.RankingCondition{Measure: 0, N: 1, Top: true}
		spec := &query.AggregateSpec{Groups: g, Aggregates: []*query.AggregateRef{sum("amount")}, Crosstab: true}
		_, err := Build(context.Background(), sales(), spec, Options{})
		assert.ErrorContains(err, `"region" is an outer one`)
		assert.ErrorContains(query.ValidateAggregate("crosstab", spec, nil), `"region" is an outer one`)
		assert.Equal([]string{"region"}, spec.OuterRankings())

		spec.Crosstab = false
		assert.Empty(spec.OuterRankings())
	}
}

func TestTimeSeries(t *testing.T) {
	assert := assert.New(t)
	day := func(y int, m time.Month, d int) time.Time { return time.Date(y, m, d, 0, 0, 0, 0, time.UTC) }
	in := stream([]string{"region", "d", "amount"},
		table.Row{"East", day(2024, 3, 10), int64(3)},
		table.Row{"East", day(2024, 1, 5), int64(1)},
		table.Row{"West", day(2024, 1, 20), int64(2)},
	)
	spec := &query.AggregateSpec{
		Groups:     groups("region", "d"),
		Aggregates: []*query.AggregateRef{sum("amount")},
		Cross:      query.CrosstabOptions{TimeSeries: true},
	}
	tab := build(t, in, spec, Options{Levels: map[string]query.DateLevel{"d": query.LevelMonth}})

	assert.Equal([]interface{}{day(2024, 1, 1), day(2024, 2, 1), day(2024, 3, 1)}, tab.Columns())
	assert.Equal([]string{"region", "2024-01", "2024-02", "2024-03"}, tab.Schema().Names())
	assert.Nil(tab.Cell([]interface{}{"East"}, day(2024, 2, 1), 0))
	assert.Equal(int64(1), tab.Cell([]interface{}{"East"}, day(2024, 1, 31), 0))
	assert.Equal(table.Row{"East", int64(1), nil, int64(3)}, rows(t, tab)[0])
}

func TestDrilledTotals(t *testing.T) {
	assert := assert.New(t)
	spec := func() *query.AggregateSpec {
		return &query.AggregateSpec{
			Groups:     groups("region", "q"),
			Aggregates: []*query.AggregateRef{sum("amount")},
			Cross:      query.CrosstabOptions{RowGrandTotal: true, ColGrandTotal: true, Drilled: true},
		}
	}
	{
		tab := build(t, quarters(), spec(), Options{Mode: query.ModeLive})
		assert.Equal([]string{"region", "Q1", "Q2"}, tab.Schema().Names())
		assert.Len(rows(t, tab), 2)
		assert.Equal(int64(18), tab.GrandTotal(0))
	}
	{
		tab := build(t, quarters(), spec(), Options{Mode: query.ModeDesign})
		assert.Equal([]string{"region", "Q1", "Q2", "Total"}, tab.Schema().Names())
		r := rows(t, tab)
		assert.Len(r, 3)
		assert.Equal(table.Row{"East", int64(10), int64(5), nil}, r[0])
		assert.Equal(table.Row{GrandTotalLabel, nil, nil, nil}, r[2])
		assert.Nil(tab.GrandTotal(0))
	}
}

func TestCalcColumns(t *testing.T) {
	assert := assert.New(t)
	spec := &query.AggregateSpec{
		Groups:     groups("region", "q"),
		Aggregates: []*query.AggregateRef{sum("amount")},
		Cross: query.CrosstabOptions{
			ColGrandTotal: true,
			CalcColumns: []query.CalcColumn{
				{Name: "run", Kind: query.CalcRunningTotal},
				{Name: "pct", Kind: query.CalcPercentOfPrevious},
				{Name: "rank", Kind: query.CalcRank},
				{Name: "double", Kind: query.CalcExpression, Expr: "total * 2"},
			},
		},
	}
	tab := build(t, quarters(), spec, Options{})
	assert.Equal([]string{
		"region",
		"Q1_total", "Q1_run", "Q1_pct", "Q1_rank", "Q1_double",
		"Q2_total", "Q2_run", "Q2_pct", "Q2_rank", "Q2_double",
		"Total_total", "Total_double",
	}, tab.Schema().Names())

	r := rows(t, tab)
	assert.Equal(table.Row{
		"East",
		int64(10), int64(10), nil, int64(1), int64(20),
		int64(5), int64(15), 50.0, int64(2), int64(10),
		int64(15), int64(30),
	}, r[0])
	assert.Equal(table.Row{
		"West",
		int64(3), int64(3), nil, int64(1), int64(6),
		nil, int64(3), nil, nil, nil,
		int64(3), int64(6),
	}, r[1])
}

func TestNonAssociativeTotals(t *testing.T) {
	assert := assert.New(t)
	first := &query.AggregateRef{Column: "amount", Formula: query.F(query.FormulaFirst), Name: "first"}
	spec := &query.AggregateSpec{
		Groups:     groups("region", "q"),
		Aggregates: []*query.AggregateRef{first},
	}
	tab := build(t, quarters(), spec, Options{})
	assert.True(tab.Expensive)
	assert.Equal(int64(10), tab.GrandTotal(0))
	assert.Equal(int64(10), tab.ColumnTotal("Q1", 0))
	assert.Equal(int64(10), tab.RowTotal([]interface{}{"East"}, 0))
}

func TestErrors(t *testing.T) {
	assert := assert.New(t)
	{
		spec := &query.AggregateSpec{
			Groups:     groups("region", "nope"),
			Aggregates: []*query.AggregateRef{sum("amount")},
			Crosstab:   true,
		}
		_, err := Build(context.Background(), quarters(), spec, Options{})
		cnf := &query.ColumnNotFoundError{}
		assert.ErrorAs(err, &cnf)
		assert.Equal("nope", cnf.Column)
	}
	{
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		spec := &query.AggregateSpec{
			Groups:     groups("region", "q"),
			Aggregates: []*query.AggregateRef{sum("amount")},
			Crosstab:   true,
		}
		_, err := Build(ctx, quarters(), spec, Options{})
		assert.True(query.IsCancelled(err))
	}
}
