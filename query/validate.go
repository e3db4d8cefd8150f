package query

import (
	"fmt"

	"github.com/dianpeng/xtab/sql"
	"go.uber.org/multierr"
)

// CalcRefs returns the sibling aggregate names referenced by a calculated
// aggregate.
func CalcRefs(a *AggregateRef) ([]string, error) {
	e, err := sql.ParseExpr(a.Formula.Expr)
	if err != nil {
		return nil, FormulaArity(a.OutName(), "invalid expression: %s", err)
	}
	return sql.Refs(e), nil
}

// CalcOrder returns the aggregate indices in evaluation order: every base
// aggregate in declaration order followed by the calculated aggregates sorted
// so that a calc is evaluated after the calcs it references. Unresolved and
// cyclic references are reported as FormulaArityError.
func CalcOrder(spec *AggregateSpec) ([]int, error) {
	order := []int{}
	calcs := map[string]int{}
	names := map[string]bool{}

	for i, a := range spec.Aggregates {
		names[a.OutName()] = true
		if a.Formula.Kind == FormulaCalc {
			calcs[a.OutName()] = i
		} else {
			order = append(order, i)
		}
	}

	const (
		white = iota
		grey
		black
	)
	color := map[int]int{}

	var visit func(int) error
	visit = func(i int) error {
		a := spec.Aggregates[i]
		switch color[i] {
		case grey:
			return FormulaArity(a.OutName(), "cyclic reference")
		case black:
			return nil
		}
		color[i] = grey
		refs, err := CalcRefs(a)
		if err != nil {
			return err
		}
		for _, r := range refs {
			if !names[r] {
				return FormulaArity(a.OutName(), "reference %q is not an aggregate of the same group", r)
			}
			if r == a.OutName() {
				return FormulaArity(a.OutName(), "cyclic reference")
			}
			if j, ok := calcs[r]; ok {
				if err := visit(j); err != nil {
					return err
				}
			}
		}
		color[i] = black
		order = append(order, i)
		return nil
	}

	for i, a := range spec.Aggregates {
		if a.Formula.Kind != FormulaCalc {
			continue
		}
		if err := visit(i); err != nil {
			return nil, err
		}
	}
	return order, nil
}

// ValidateAggregate checks an AggregateSpec against the columns available to
// it. A nil column set skips the column checks.
func ValidateAggregate(stage string, spec *AggregateSpec, cols *ColumnSet) error {
	if spec.Empty() {
		return nil
	}
	var err error
	has := func(n string) bool {
		return cols == nil || cols.Len() == 0 || cols.Has(n)
	}

	if spec.Crosstab && len(spec.Groups) == 0 {
		err = multierr.Append(err, fmt.Errorf("stage(%s): crosstab requires a column key", stage))
	}

	for _, n := range spec.OuterRankings() {
		err = multierr.Append(err, fmt.Errorf("stage(%s): crosstab ranks the innermost row key only, %q is an outer one", stage, n))
	}

	out := map[string]bool{}
	for _, g := range spec.Groups {
		if !has(g.Column) {
			err = multierr.Append(err, ColumnNotFound(stage, g.Column))
		}
		if out[g.OutName()] {
			err = multierr.Append(err, fmt.Errorf("stage(%s): output column %q is defined more than once", stage, g.OutName()))
		}
		out[g.OutName()] = true
		if r := g.Ranking; r != nil {
			if r.Measure < 0 || r.Measure >= len(spec.Aggregates) {
				err = multierr.Append(err, fmt.Errorf("stage(%s): ranking of %q uses unknown measure #%d", stage, g.OutName(), r.Measure))
			}
			if r.N < 0 {
				err = multierr.Append(err, fmt.Errorf("stage(%s): ranking of %q has a negative count", stage, g.OutName()))
			}
		}
	}

	for _, a := range spec.Aggregates {
		name := a.OutName()
		if out[name] {
			err = multierr.Append(err, fmt.Errorf("stage(%s): output column %q is defined more than once", stage, name))
		}
		out[name] = true

		if a.Formula.Kind == FormulaCalc {
			continue
		}
		if !has(a.Column) {
			err = multierr.Append(err, ColumnNotFound(stage, a.Column))
		}
		if a.Formula.TwoColumn() {
			if a.Secondary == "" {
				err = multierr.Append(err, FormulaArity(name, "formula %s requires a secondary column", a.Formula.Kind))
			} else if !has(a.Secondary) {
				err = multierr.Append(err, FormulaArity(name, "secondary column %q does not exist", a.Secondary))
			}
		}
		if a.Formula.Kind == FormulaPercentile && (a.Formula.Param < 0 || a.Formula.Param > 100) {
			err = multierr.Append(err, FormulaArity(name, "percentile rank %g is out of range", a.Formula.Param))
		}
	}

	if _, cerr := CalcOrder(spec); cerr != nil {
		err = multierr.Append(err, cerr)
	}
	return err
}

// Validate checks the whole tree and reports every problem found.
func (self *LogicalQuery) Validate() error {
	if self.Root == nil {
		return fmt.Errorf("query %q has no root", self.Name)
	}
	var err error
	names := map[string]bool{}

	Walk(self.Root, func(n Node) bool {
		info := n.Info()
		stage := Kind(n)
		if info.Name != "" {
			stage = info.Name
			if names[info.Name] {
				err = multierr.Append(err, fmt.Errorf("node name %q is used more than once", info.Name))
			}
			names[info.Name] = true
		}

		for _, c := range info.Columns.Columns() {
			switch c.Kind {
			case ColumnExpression:
				if _, perr := sql.ParseExpr(c.Expr); perr != nil {
					err = multierr.Append(err, &ExpressionError{Expr: c.Expr, Column: c.Name, Table: info.Name, Err: perr})
				}
			case ColumnAlias, ColumnDateRange:
				if c.Base == "" {
					err = multierr.Append(err, fmt.Errorf("stage(%s): column %q has no base column", stage, c.Name))
				}
			}
		}
		for _, cl := range []ConditionList{info.Pre, info.Post} {
			for _, c := range cl {
				if _, perr := sql.ParseExpr(c); perr != nil {
					err = multierr.Append(err, &ExpressionError{Expr: c, Table: info.Name, Err: perr})
				}
			}
		}

		err = multierr.Append(err, ValidateAggregate(stage, info.Aggregate, info.Columns))

		switch x := n.(type) {
		case *Scan:
			if x.Source == "" {
				err = multierr.Append(err, fmt.Errorf("stage(%s): scan has no source", stage))
			}
		case *Join:
			if x.Left == nil || x.Right == nil {
				err = multierr.Append(err, fmt.Errorf("stage(%s): join requires two inputs", stage))
			}
			if len(x.Keys) == 0 {
				err = multierr.Append(err, fmt.Errorf("stage(%s): join has no key", stage))
			}
		case *Concatenate:
			if len(x.Inputs) == 0 {
				err = multierr.Append(err, fmt.Errorf("stage(%s): concatenate has no input", stage))
			}
		case *Mirror:
			if x.Child == nil {
				err = multierr.Append(err, fmt.Errorf("stage(%s): mirror has no input", stage))
			}
		case *Rotate:
			if x.Child == nil {
				err = multierr.Append(err, fmt.Errorf("stage(%s): rotate has no input", stage))
			}
		case *CrosstabBound:
			if x.Child == nil {
				err = multierr.Append(err, fmt.Errorf("stage(%s): crosstab bound has no input", stage))
			}
		}
		return true
	})
	return err
}
