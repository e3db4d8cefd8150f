package summary

import (
	"context"
	"testing"
	"time"

	"github.com/dianpeng/xtab/query"
	"github.com/dianpeng/xtab/sql"
	"github.com/dianpeng/xtab/table"
	"github.com/pkg/errors"
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

func regions() table.Stream {
	return stream([]string{"region", "amount"},
		table.Row{"West", int64(5)},
		table.Row{"East", int64(10)},
		table.Row{"East", int64(20)},
	)
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

func sum(col string) *query.AggregateRef {
	return &query.AggregateRef{Column: col, Formula: query.F(query.FormulaSum), Name: "total"}
}

func summarize(t *testing.T, in table.Stream, spec *query.AggregateSpec) *Table {
	tab, err := Summarize(context.Background(), in, spec, Options{})
	require.NoError(t, err)
	return tab
}

func rows(tab *Table) []table.Row {
	r, _ := tab.Rows()
	return r
}

func TestRegionScenario(t *testing.T) {
	assert := assert.New(t)
	input := func() table.Stream {
		return stream([]string{"region", "amount"},
			table.Row{"East", int64(10)},
			table.Row{"East", int64(20)},
			table.Row{"West", int64(5)},
		)
	}
	{
		spec := &query.AggregateSpec{
			Groups:     []*query.GroupRef{{Column: "region"}},
			Aggregates: []*query.AggregateRef{sum("amount")},
		}
		tab := summarize(t, input(), spec)
		assert.Equal([]table.Row{{"East", int64(30)}, {"West", int64(5)}}, rows(tab))
		assert.Equal(table.Schema{{Name: "region"}, {Name: "total", Type: table.TypeFloat}}, tab.Schema())
	}
	{
		// first seen order
		spec := &query.AggregateSpec{
			Groups:     []*query.GroupRef{{Column: "region"}},
			Aggregates: []*query.AggregateRef{sum("amount")},
		}
		assert.Equal([]table.Row{{"West", int64(5)}, {"East", int64(30)}}, rows(summarize(t, regions(), spec)))
	}
	{
		spec := &query.AggregateSpec{
			Groups:     []*query.GroupRef{{Column: "region", Order: query.SortOrder{Dir: query.SortAsc}}},
			Aggregates: []*query.AggregateRef{sum("amount")},
		}
		assert.Equal([]table.Row{{"East", int64(30)}, {"West", int64(5)}}, rows(summarize(t, regions(), spec)))
	}
	{
		spec := &query.AggregateSpec{
			Groups:     []*query.GroupRef{{Column: "region", Order: query.SortOrder{Dir: query.SortDesc}}},
			Aggregates: []*query.AggregateRef{sum("amount")},
		}
		assert.Equal([]table.Row{{"West", int64(5)}, {"East", int64(30)}}, rows(summarize(t, input(), spec)))
	}
}

func TestSubtotals(t *testing.T) {
	assert := assert.New(t)

	spec := &query.AggregateSpec{
		Groups: []*query.GroupRef{
			{Column: "region", Order: query.SortOrder{Dir: query.SortAsc}, Subtotal: true},
			{Column: "city", Order: query.SortOrder{Dir: query.SortAsc}},
		},
		Aggregates: []*query.AggregateRef{
			sum("amount"),
			{Column: "amount", Formula: query.F(query.FormulaCount), Name: "n"},
		},
		GrandTotal: true,
	}
	tab := summarize(t, sales(), spec)
	r, kinds := tab.Rows()
	assert.Equal([]table.Row{
		{"East", "Boston", int64(15), int64(2)},
		{"East", "NYC", int64(20), int64(1)},
		{"East", SubtotalLabel, int64(35), int64(3)},
		{"North", "Fargo", int64(1), int64(1)},
		{"North", SubtotalLabel, int64(1), int64(1)},
		{"West", "LA", int64(3), int64(1)},
		{"West", "Seattle", int64(7), int64(1)},
		{"West", SubtotalLabel, int64(10), int64(2)},
		{GrandTotalLabel, nil, int64(46), int64(6)},
	}, r)
	assert.Equal([]int{RowGroup, RowGroup, RowSubtotal, RowGroup, RowSubtotal, RowGroup, RowGroup, RowSubtotal, RowGrandTotal}, kinds)
	assert.Equal(5, tab.Groups())
	assert.Equal(int64(46), tab.GrandTotal(0))
	assert.False(tab.Expensive)
}

func TestNonAssociativeTotals(t *testing.T) {
	assert := assert.New(t)

	spec := &query.AggregateSpec{
		Groups: []*query.GroupRef{{Column: "region", Subtotal: true}, {Column: "city"}},
		Aggregates: []*query.AggregateRef{
			{Column: "amount", Formula: query.F(query.FormulaLast), Name: "last"},
		},
		GrandTotal: true,
	}
	tab := summarize(t, sales(), spec)
	assert.True(tab.Expensive)

	r := rows(tab)
	assert.Equal(table.Row{"East", SubtotalLabel, int64(5)}, r[2])
	assert.Equal(table.Row{GrandTotalLabel, nil, int64(1)}, r[len(r)-1])
}

func TestRanking(t *testing.T) {
	assert := assert.New(t)
	spec := func(n int, others, ties bool) *query.AggregateSpec {
		return &query.AggregateSpec{
			Groups: []*query.GroupRef{{
				Column:  "region",
				Ranking: &query.RankingCondition{Measure: 0, N: n, Top: true, Others: others, KeepTies: ties},
			}},
			Aggregates: []*query.AggregateRef{sum("amount")},
			GrandTotal: true,
		}
	}
	rank := func(s *query.AggregateSpec) []table.Row {
		tab := summarize(t, sales(), s)
		require.NoError(t, tab.Rank())
		return rows(tab)
	}

	assert.Equal([]table.Row{
		{"East", int64(35)},
		{query.DefaultOthersLabel, int64(11)},
		{GrandTotalLabel, int64(46)},
	}, rank(spec(1, true, false)))

	assert.Equal([]table.Row{
		{"East", int64(35)},
		{GrandTotalLabel, int64(46)},
	}, rank(spec(1, false, false)))

	// N = 0 leaves only the others bucket
	assert.Equal([]table.Row{
		{query.DefaultOthersLabel, int64(46)},
		{GrandTotalLabel, int64(46)},
	}, rank(spec(0, true, false)))

	// N >= count keeps every group as is
	all := rows(summarize(t, sales(), spec(0, false, false)))
	assert.Equal(all, rank(spec(3, true, false)))
	assert.Equal(all, rank(spec(10, true, false)))

	{
		s := spec(1, false, false)
		s.Groups[0].Ranking.Top = false
		assert.Equal([]table.Row{{"North", int64(1)}, {GrandTotalLabel, int64(46)}}, rank(s))
	}
}

func TestRankingTiesAndInnerLevel(t *testing.T) {
	assert := assert.New(t)
	in := func() table.Stream {
		return stream([]string{"k", "v"},
			table.Row{"a", int64(5)},
			table.Row{"b", int64(9)},
			table.Row{"c", int64(5)},
			table.Row{"d", int64(1)},
		)
	}
	spec := func(ties bool) *query.AggregateSpec {
		return &query.AggregateSpec{
			Groups:     []*query.GroupRef{{Column: "k", Ranking: &query.RankingCondition{N: 2, Top: true, KeepTies: ties}}},
			Aggregates: []*query.AggregateRef{sum("v")},
		}
	}
	{
		tab := summarize(t, in(), spec(true))
		require.NoError(t, tab.Rank())
		assert.Equal([]table.Row{{"a", int64(5)}, {"b", int64(9)}, {"c", int64(5)}}, rows(tab))
	}
	{
		tab := summarize(t, in(), spec(false))
		require.NoError(t, tab.Rank())
		assert.Equal([]table.Row{{"a", int64(5)}, {"b", int64(9)}}, rows(tab))
	}
	{
		// top city per region, totals still cover every city
		spec := &query.AggregateSpec{
			Groups: []*query.GroupRef{
				{Column: "region", Subtotal: true},
				{Column: "city", Ranking: &query.RankingCondition{N: 1, Top: true, Others: true}},
			},
			Aggregates: []*query.AggregateRef{sum("amount")},
		}
		tab := summarize(t, sales(), spec)
		require.NoError(t, tab.Rank())
		assert.Equal([]table.Row{
			{"East", "NYC", int64(20)},
			{"East", query.DefaultOthersLabel, int64(15)},
			{"East", SubtotalLabel, int64(35)},
			{"West", "Seattle", int64(7)},
			{"West", query.DefaultOthersLabel, int64(3)},
			{"West", SubtotalLabel, int64(10)},
			{"North", "Fargo", int64(1)},
			{"North", SubtotalLabel, int64(1)},
		}, rows(tab))
	}
}

func TestPercentages(t *testing.T) {
	assert := assert.New(t)

	spec := &query.AggregateSpec{
		Groups: []*query.GroupRef{{Column: "region"}, {Column: "city"}},
		Aggregates: []*query.AggregateRef{
			{Column: "amount", Formula: query.F(query.FormulaSum), Name: "pct", Percentage: query.PercentGrandTotal},
			{Column: "amount", Formula: query.F(query.FormulaSum), Name: "share", Percentage: query.PercentGroup},
		},
	}
	tab := summarize(t, sales(), spec)
	total := 0.0
	for _, r := range rows(tab) {
		total += r[2].(float64)
	}
	assert.InDelta(100.0, total, 1e-9)

	r := rows(tab)
	// Boston is 15 out of East's 35
	assert.Equal("Boston", r[0][1])
	assert.InDelta(15.0/35*100, r[0][3], 1e-9)
	assert.InDelta(15.0/46*100, r[0][2], 1e-9)
	assert.Equal(table.TypeFloat, tab.Schema()[2].Type)

	{
		// a single level falls back to the grand total
		spec := &query.AggregateSpec{
			Groups: []*query.GroupRef{{Column: "region"}},
			Aggregates: []*query.AggregateRef{
				{Column: "amount", Formula: query.F(query.FormulaSum), Name: "share", Percentage: query.PercentGroup},
			},
		}
		r := rows(summarize(t, regions(), spec))
		assert.InDelta(5.0/35*100, r[0][1], 1e-9)
		assert.InDelta(30.0/35*100, r[1][1], 1e-9)
	}
}

func TestNamedGroups(t *testing.T) {
	assert := assert.New(t)
	spec := &query.AggregateSpec{
		Groups: []*query.GroupRef{{
			Column: "city",
			Order: query.SortOrder{
				Named: []query.NamedGroup{
					{Label: "West Coast", Values: []interface{}{"Seattle", "LA"}},
					{Label: "New England", Values: []interface{}{"Boston"}},
				},
			},
		}},
		Aggregates: []*query.AggregateRef{sum("amount")},
	}
	{
		assert.Equal([]table.Row{
			{"West Coast", int64(10)},
			{"New England", int64(15)},
			{"NYC", int64(20)},
			{"Fargo", int64(1)},
		}, rows(summarize(t, sales(), spec)))
	}
	{
		spec.Groups[0].Order.Others = true
		spec.Groups[0].Order.OthersLabel = "Rest"
		assert.Equal([]table.Row{
			{"West Coast", int64(10)},
			{"New England", int64(15)},
			{"Rest", int64(21)},
		}, rows(summarize(t, sales(), spec)))
	}
}

func TestDateInterval(t *testing.T) {
	assert := assert.New(t)
	d := func(y, m int) time.Time { return time.Date(y, time.Month(m), 1, 0, 0, 0, 0, time.UTC) }

	in := stream([]string{"month", "amount"},
		table.Row{"2024-03-01", int64(1)},
		table.Row{"2023-11-20", int64(2)},
		table.Row{"2024-01-15", int64(4)},
		table.Row{d(2023, 2), int64(8)},
	)
	spec := &query.AggregateSpec{
		Groups:     []*query.GroupRef{{Column: "month", Order: query.SortOrder{Dir: query.SortAsc, Interval: query.LevelMonth}}},
		Aggregates: []*query.AggregateRef{sum("amount")},
	}
	r := rows(summarize(t, in, spec))
	assert.Equal([]interface{}{d(2023, 2), "2023-11-20", "2024-01-15", "2024-03-01"},
		[]interface{}{r[0][0], r[1][0], r[2][0], r[3][0]})
}

func TestIdempotent(t *testing.T) {
	assert := assert.New(t)

	spec := &query.AggregateSpec{
		Groups:     []*query.GroupRef{{Column: "region"}, {Column: "city"}},
		Aggregates: []*query.AggregateRef{sum("amount")},
	}
	first := summarize(t, sales(), spec)

	again := &query.AggregateSpec{
		Groups:     []*query.GroupRef{{Column: "region"}, {Column: "city"}},
		Aggregates: []*query.AggregateRef{{Column: "total", Formula: query.F(query.FormulaNone), Name: "total"}},
	}
	second := summarize(t, first.Memory().Reader(), again)
	assert.Equal(rows(first), rows(second))
}

func TestCalcSortFilter(t *testing.T) {
	assert := assert.New(t)

	spec := &query.AggregateSpec{
		Groups: []*query.GroupRef{{Column: "region"}},
		Aggregates: []*query.AggregateRef{
			sum("amount"),
			{Column: "amount", Formula: query.F(query.FormulaCount), Name: "n"},
			{Formula: query.Calc("total / n"), Name: "mean"},
		},
		GrandTotal: true,
	}
	tab := summarize(t, sales(), spec)
	assert.NoError(tab.Sort(query.SortSpec{{Column: "mean", Dir: query.SortDesc}}))
	assert.Equal([]table.Row{
		{"East", int64(35), int64(3), 35.0 / 3},
		{"West", int64(10), int64(2), 5.0},
		{"North", int64(1), int64(1), 1.0},
		{GrandTotalLabel, int64(46), int64(6), 46.0 / 6},
	}, rows(tab))

	e, err := sql.ParseExpr("n >= $min")
	require.NoError(t, err)
	tab.opts.Vars = map[string]interface{}{"min": 2}
	assert.NoError(tab.Filter(e))
	r := rows(tab)
	assert.Len(r, 3)
	assert.Equal("West", r[1][0])

	{
		e, _ := sql.ParseExpr("nope > 1")
		var cnf *query.ColumnNotFoundError
		assert.True(errors.As(tab.Filter(e), &cnf))
		assert.Equal("post_filter", cnf.Stage)
	}
	{
		err := tab.Sort(query.SortSpec{{Column: "nope"}})
		var cnf *query.ColumnNotFoundError
		assert.True(errors.As(err, &cnf))
	}
}

func TestErrors(t *testing.T) {
	assert := assert.New(t)
	{
		spec := &query.AggregateSpec{
			Groups:     []*query.GroupRef{{Column: "zone"}},
			Aggregates: []*query.AggregateRef{sum("amount")},
		}
		_, err := Summarize(context.Background(), sales(), spec, Options{})
		var cnf *query.ColumnNotFoundError
		assert.True(errors.As(err, &cnf))
		assert.Equal("zone", cnf.Column)
	}
	{
		spec := &query.AggregateSpec{
			Aggregates: []*query.AggregateRef{{Column: "amount", Formula: query.F(query.FormulaWeightedAvg), Secondary: "weight"}},
		}
		_, err := Summarize(context.Background(), sales(), spec, Options{})
		var arity *query.FormulaArityError
		assert.True(errors.As(err, &arity))
	}
	{
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		spec := &query.AggregateSpec{Aggregates: []*query.AggregateRef{sum("amount")}}
		_, err := Summarize(ctx, sales(), spec, Options{})
		assert.Equal(query.ErrCancelled, err)
	}
}

func TestNoGroups(t *testing.T) {
	assert := assert.New(t)

	spec := &query.AggregateSpec{
		Aggregates: []*query.AggregateRef{
			sum("amount"),
			{Column: "amount", Formula: query.F(query.FormulaStdDevP), Name: "sd"},
		},
	}
	tab := summarize(t, sales(), spec)
	r := rows(tab)
	require.Len(t, r, 1)
	assert.Equal(int64(46), r[0][0])
	assert.Equal(1, tab.Groups())

	n := 0
	for {
		row, err := tab.Next()
		assert.NoError(err)
		if row == nil {
			break
		}
		n++
	}
	assert.Equal(1, n)
	assert.Equal(1, tab.RowCount())
}
