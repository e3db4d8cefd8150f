package plan

import (
	"testing"

	"github.com/dianpeng/xtab/query"
	"github.com/dianpeng/xtab/source"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sqlCaps() source.Capabilities {
	return source.Capabilities{
		Where:      true,
		GroupBy:    true,
		OrderBy:    true,
		Distinct:   true,
		DateLevels: true,
		Formulas:   source.SQLFormulas(),
	}
}

func salesQuery(spec *query.AggregateSpec, pre ...string) *query.LogicalQuery {
	cols := query.MustColumnSet(
		query.Physical("region"),
		query.Physical("product"),
		query.Physical("amount"),
		query.Physical("sold_at"),
		query.Alias("area", "region"),
		query.DateRange("month", "sold_at", query.LevelMonth),
		query.Expression("double", "amount * 2"),
	)
	return &query.LogicalQuery{
		Name: "sales",
		Root: &query.Scan{
			NodeInfo: query.NodeInfo{
				Name:      "sales",
				Columns:   cols,
				Aggregate: spec,
				Pre:       pre,
			},
			Source: "db",
		},
	}
}

func sumBy(groups ...string) *query.AggregateSpec {
	spec := &query.AggregateSpec{
		Aggregates: []*query.AggregateRef{
			{Column: "amount", Formula: query.F(query.FormulaSum)},
		},
	}
	for _, g := range groups {
		spec.Groups = append(spec.Groups, &query.GroupRef{Column: g})
	}
	return spec
}

func TestClassifyPushdown(t *testing.T) {
	assert := assert.New(t)
	{
		q := salesQuery(sumBy("area", "month"), "amount > 10")
		before := q.Identity()
		d := Classify(q, sqlCaps())
		require.True(t, d.Pushdown(), d.String())
		assert.Equal(before, q.Identity())

		s := d.Query.Root.(*query.Scan)
		require.NotNil(t, s.Pushed)
		assert.Equal([]query.PushedGroup{
			{Name: "area", Column: "region"},
			{Name: "month", Column: "sold_at", Level: query.LevelMonth},
		}, s.Pushed.Groups)
		assert.Equal(query.ConditionList{"(amount > 10)"}, s.Pushed.Conditions)
		assert.Equal([]string{"area", "month", "sum(amount)"}, s.Columns.Names())
		assert.Empty(s.Pre)

		a := s.Aggregate.Aggregates[0]
		assert.Equal(query.FormulaSum, a.Formula.Kind)
		assert.Equal("sum(amount)", a.Column)
		assert.Equal("sum(amount)", a.OutName())
	}
	{
		spec := &query.AggregateSpec{
			Groups: []*query.GroupRef{{Column: "region"}},
			Aggregates: []*query.AggregateRef{
				{Column: "amount", Formula: query.F(query.FormulaAvg)},
			},
		}
		d := Classify(salesQuery(spec), sqlCaps())
		require.True(t, d.Pushdown(), d.String())
		s := d.Query.Root.(*query.Scan)
		assert.Equal(2, len(s.Pushed.Aggregates))
		assert.Equal(AuxCount("avg(amount)"), s.Pushed.Aggregates[1].Name)
		assert.False(s.Columns.Get(AuxCount("avg(amount)")).Visible)
		assert.Equal(query.FormulaWeightedAvg, s.Aggregate.Aggregates[0].Formula.Kind)
		assert.Equal(AuxCount("avg(amount)"), s.Aggregate.Aggregates[0].Secondary)
	}
	{
		// plain scan with a pushable filter
		q := salesQuery(nil, "region = 'east'")
		d := Classify(q, sqlCaps())
		require.True(t, d.Pushdown(), d.String())
		s := d.Query.Root.(*query.Scan)
		assert.Empty(s.Pushed.Groups)
		assert.Equal(query.ConditionList{`(region == "east")`}, s.Pushed.Conditions)
		assert.Equal(q.Root.Info().Columns.Names(), s.Columns.Names())
	}
}

func TestClassifyLocal(t *testing.T) {
	assert := assert.New(t)

	local := func(q *query.LogicalQuery, caps source.Capabilities) Decision {
		d := Classify(q, caps)
		assert.False(d.Pushdown())
		assert.NotEmpty(d.Reasons)
		assert.Equal(q, d.Query)
		return d
	}

	{
		spec := sumBy("region")
		spec.Aggregates[0].Formula = query.F(query.FormulaFirst)
		local(salesQuery(spec), sqlCaps())
	}
	{
		spec := sumBy("region")
		spec.GrandTotal = true
		local(salesQuery(spec), sqlCaps())
	}
	{
		spec := sumBy("region", "product")
		spec.Groups[0].Subtotal = true
		local(salesQuery(spec), sqlCaps())
	}
	{
		spec := sumBy("region")
		spec.Aggregates[0].Percentage = query.PercentGroup
		local(salesQuery(spec), sqlCaps())
	}
	{
		// expression group
		local(salesQuery(sumBy("double")), sqlCaps())
	}
	{
		spec := sumBy("region")
		spec.Aggregates[0].Column = "double"
		local(salesQuery(spec), sqlCaps())
	}
	{
		// condition over a derived column
		local(salesQuery(sumBy("region"), "double > 3"), sqlCaps())
	}
	{
		caps := sqlCaps()
		caps.DateLevels = false
		local(salesQuery(sumBy("month")), caps)
	}
	{
		caps := sqlCaps()
		caps.GroupBy = false
		local(salesQuery(sumBy("region")), caps)
	}
	{
		spec := &query.AggregateSpec{
			Groups: []*query.GroupRef{{Column: "region"}},
			Aggregates: []*query.AggregateRef{
				{Column: "amount", Formula: query.F(query.FormulaAvg)},
			},
		}
		spec.Groups[0].Ranking = &query.RankingCondition{N: 2, Top: true}
		local(salesQuery(spec), sqlCaps())
	}
	{
		// aggregate on aggregate with a non combinable formula
		spec := sumBy("region")
		spec.Aggregates[0].Formula = query.F(query.FormulaDistinctCount)
		spec.GrandTotal = true
		caps := sqlCaps()
		caps.AOA = true
		d := local(salesQuery(spec), caps)
		assert.Contains(d.String(), "cannot be combined")
	}
	{
		q := &query.LogicalQuery{
			Root: &query.Mirror{Child: salesQuery(sumBy("region")).Root},
		}
		local(q, sqlCaps())
	}
	{
		local(salesQuery(nil), sqlCaps())
	}
}

func TestClassifyAOA(t *testing.T) {
	assert := assert.New(t)
	caps := sqlCaps()
	caps.AOA = true

	spec := sumBy("region", "product")
	spec.GrandTotal = true
	spec.Groups[0].Subtotal = true
	d := Classify(salesQuery(spec), caps)
	require.True(t, d.Pushdown(), d.String())
	s := d.Query.Root.(*query.Scan)
	assert.True(s.Aggregate.GrandTotal)
	assert.True(s.Aggregate.Groups[0].Subtotal)
}

func TestClassifyCalc(t *testing.T) {
	assert := assert.New(t)
	spec := &query.AggregateSpec{
		Groups: []*query.GroupRef{{Column: "region"}},
		Aggregates: []*query.AggregateRef{
			{Column: "amount", Formula: query.F(query.FormulaSum), Name: "total"},
			{Column: "amount", Formula: query.F(query.FormulaCount), Name: "cnt"},
			{Formula: query.Calc("total / cnt"), Name: "mean"},
		},
	}
	{
		d := Classify(salesQuery(spec), sqlCaps())
		require.True(t, d.Pushdown(), d.String())
		s := d.Query.Root.(*query.Scan)
		assert.Equal(2, len(s.Pushed.Aggregates))
		assert.Equal(query.FormulaCalc, s.Aggregate.Aggregates[2].Formula.Kind)
	}
	{
		spec := spec.Clone()
		spec.Aggregates[1].Formula = query.F(query.FormulaMedian)
		d := Classify(salesQuery(spec), sqlCaps())
		assert.False(d.Pushdown())
		assert.Contains(d.String(), `references "cnt"`)
	}
}

// Adding a non terminal ranking never turns a local decision into a pushdown
// and turns a pushdown without AOA into a local one.
func TestClassifyMonotonic(t *testing.T) {
	assert := assert.New(t)

	specs := []*query.AggregateSpec{
		sumBy("region", "product"),
		sumBy("area", "month"),
		sumBy("double", "product"),
	}
	for _, spec := range specs {
		before := Classify(salesQuery(spec), sqlCaps())

		ranked := spec.Clone()
		ranked.Groups[0].Ranking = &query.RankingCondition{N: 1, Top: true}
		after := Classify(salesQuery(ranked), sqlCaps())

		assert.False(after.Pushdown())
		if !before.Pushdown() {
			assert.GreaterOrEqual(len(after.Reasons), len(before.Reasons))
		}
	}
}

func TestSplitConditions(t *testing.T) {
	assert := assert.New(t)
	cols := salesQuery(nil).Root.Info().Columns
	{
		pushed, residual, err := SplitConditions(query.ConditionList{
			"area = 'east' AND double > 3",
			"amount > $min",
		}, cols, sqlCaps())
		assert.NoError(err)
		assert.Equal(query.ConditionList{`(region == "east")`, "(amount > $min)"}, pushed)
		assert.Equal(query.ConditionList{"(double > 3)"}, residual)
	}
	{
		pushed, residual, err := SplitConditions(query.ConditionList{"amount > 1"}, cols, source.Capabilities{})
		assert.NoError(err)
		assert.Empty(pushed)
		assert.Equal(query.ConditionList{"(amount > 1)"}, residual)
	}
	{
		_, _, err := SplitConditions(query.ConditionList{"amount >"}, cols, sqlCaps())
		assert.Error(err)
	}
}

func TestCombineSpec(t *testing.T) {
	assert := assert.New(t)
	spec := &query.AggregateSpec{
		Groups: []*query.GroupRef{{Column: "region"}},
		Aggregates: []*query.AggregateRef{
			{Column: "amount", Formula: query.F(query.FormulaCount)},
			{Column: "amount", Formula: query.F(query.FormulaMax), Name: "top"},
			{Column: "amount", Formula: query.F(query.FormulaMedian)},
		},
	}
	out := CombineSpec(spec)
	assert.Equal(query.FormulaSum, out.Aggregates[0].Formula.Kind)
	assert.Equal("count(amount)", out.Aggregates[0].Column)
	assert.Equal("count(amount)", out.Aggregates[0].OutName())
	assert.Equal(query.FormulaMax, out.Aggregates[1].Formula.Kind)
	assert.Equal("top", out.Aggregates[1].Column)
	assert.Equal(query.FormulaNone, out.Aggregates[2].Formula.Kind)

	// input untouched
	assert.Equal(query.FormulaCount, spec.Aggregates[0].Formula.Kind)
	assert.Equal("amount", spec.Aggregates[0].Column)

	assert.True(Combinable(query.F(query.FormulaAvg)))
	assert.False(Combinable(query.F(query.FormulaDistinctCount)))
}
