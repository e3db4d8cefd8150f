package plan

import (
	"github.com/dianpeng/xtab/query"
	"github.com/dianpeng/xtab/table"
)

// Combinable tells whether partial results of the formula can be aggregated
// again into an exact result
func Combinable(f query.Formula) bool {
	switch f.Kind {
	case query.FormulaSum, query.FormulaCount, query.FormulaMin, query.FormulaMax, query.FormulaAvg:
		return true
	}
	return false
}

// AuxCount is the name of the auxiliary count pushed along an average, the
// average is recombined as a weighted average over it.
func AuxCount(name string) string {
	return name + "__count"
}

// CombineFormula is the formula applied locally over the partial result of f.
// Non combinable formulas keep the partial value, which is exact as long as
// every group arrives as a single row.
func CombineFormula(f query.Formula) query.Formula {
	switch f.Kind {
	case query.FormulaSum, query.FormulaCount, query.FormulaDistinctCount:
		return query.F(query.FormulaSum)
	case query.FormulaMin, query.FormulaMax:
		return f
	case query.FormulaAvg:
		return query.F(query.FormulaWeightedAvg)
	case query.FormulaCalc:
		return f
	}
	return query.F(query.FormulaNone)
}

// CombineSpec derives the aggregate on aggregate spec run over a grouped
// partial result, the output of a pushed down scan or of a materialized view.
// The partial result has one column per group, named after the group column,
// and one column per aggregate named after the aggregate output name.
func CombineSpec(spec *query.AggregateSpec) *query.AggregateSpec {
	out := spec.Clone()
	for _, a := range out.Aggregates {
		if a.Formula.Kind == query.FormulaCalc {
			continue
		}
		name := a.OutName()
		if a.Formula.Kind == query.FormulaAvg {
			a.Secondary = AuxCount(name)
		} else {
			a.Secondary = ""
		}
		a.Formula = CombineFormula(a.Formula)
		a.Column = name
		a.Name = name
	}
	return out
}

// PushedAggregates lists the aggregates a source computes for spec. physical maps a
// column of the node to the physical column of the source.
func PushedAggregates(spec *query.AggregateSpec, physical func(string) string) []query.PushedAggregate {
	out := []query.PushedAggregate{}
	for _, a := range spec.Aggregates {
		if a.Formula.Kind == query.FormulaCalc {
			continue
		}
		p := query.PushedAggregate{
			Name:    a.OutName(),
			Column:  physical(a.Column),
			Formula: a.Formula,
		}
		if a.Secondary != "" {
			p.Secondary = physical(a.Secondary)
		}
		out = append(out, p)
		if a.Formula.Kind == query.FormulaAvg {
			out = append(out, query.PushedAggregate{
				Name:    AuxCount(a.OutName()),
				Column:  physical(a.Column),
				Formula: query.F(query.FormulaCount),
			})
		}
	}
	return out
}

// Combined returns a clone of the scan reading a grouped partial result of
// its aggregate spec instead of the base table: one column per group named
// after the group column, one per aggregate named after its output name plus
// the hidden auxiliary counts, and the combine spec on top. Pre conditions
// and distinct are assumed applied by whoever produced the partial result.
func Combined(scan *query.Scan) *query.Scan {
	out := query.CloneNode(scan).(*query.Scan)
	spec := scan.Aggregate

	cols := &query.ColumnSet{}
	for _, g := range spec.Groups {
		c := query.Physical(g.Column)
		if orig := scan.Columns.Get(g.Column); orig != nil {
			c.Type = orig.Type
			c.Visible = orig.Visible
			c.Format = orig.Format
			c.Level = orig.Level
		}
		cols.Add(c)
	}
	for _, a := range spec.Aggregates {
		if a.Formula.Kind == query.FormulaCalc {
			continue
		}
		c := query.Physical(a.OutName())
		c.Type = table.TypeFloat
		if !a.Formula.Numeric() {
			c.Type = table.TypeUnknown
		}
		cols.Add(c)
		if a.Formula.Kind == query.FormulaAvg {
			aux := query.Physical(AuxCount(a.OutName()))
			aux.Type = table.TypeInt
			aux.Visible = false
			cols.Add(aux)
		}
	}
	out.Columns = cols
	out.Aggregate = CombineSpec(spec)
	out.Pre = nil
	out.Distinct = false
	return out
}
