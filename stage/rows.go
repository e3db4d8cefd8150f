package stage

import (
	"context"
	"sort"

	"github.com/dianpeng/xtab/query"
	"github.com/dianpeng/xtab/sql"
	"github.com/dianpeng/xtab/table"
)

/* ----------------------------------------------------------------------------
 * Filter
 * ---------------------------------------------------------------------------*/

// Filter keeps the rows for which the condition holds. Variables are bound
// before the first row is read.
type Filter struct {
	Stage string // NamePreFilter or NamePostFilter
	Cond  string
	Vars  map[string]interface{}
}

func (self *Filter) Name() string {
	if self.Stage == "" {
		return NamePreFilter
	}
	return self.Stage
}

func (self *Filter) Apply(_ context.Context, in table.Stream) (table.Stream, error) {
	e, err := sql.ParseExpr(self.Cond)
	if err != nil {
		return nil, &query.ExpressionError{Expr: self.Cond, Err: err}
	}
	schema := in.Schema()
	if err := need(self.Name(), schema, sql.Refs(e)...); err != nil {
		return nil, err
	}
	e, err = sql.BindVariables(e, self.Vars)
	if err != nil {
		return nil, &query.ExpressionError{Expr: self.Cond, Err: err}
	}

	env := &sql.RowEnv{Schema: schema}
	keep := func(r table.Row) (table.Row, error) {
		env.Row = r
		v, err := sql.Eval(e, env)
		if err != nil {
			return nil, &query.ExpressionError{Expr: self.Cond, Err: err}
		}
		if !sql.Truthy(v) {
			return nil, nil
		}
		return r, nil
	}
	return mapped(schema, in, keep), nil
}

/* ----------------------------------------------------------------------------
 * Distinct
 * ---------------------------------------------------------------------------*/

// Distinct drops rows equal to a row already produced
type Distinct struct{}

func (self *Distinct) Name() string { return NameDistinct }

func (self *Distinct) Apply(_ context.Context, in table.Stream) (table.Stream, error) {
	seen := map[string]struct{}{}
	dedup := func(r table.Row) (table.Row, error) {
		k := table.RowKey(r)
		if _, ok := seen[k]; ok {
			return nil, nil
		}
		seen[k] = struct{}{}
		return r, nil
	}
	return mapped(in.Schema(), in, dedup), nil
}

/* ----------------------------------------------------------------------------
 * Sort
 * ---------------------------------------------------------------------------*/

// Sort materializes its input and orders it by the sort keys. The sort is
// stable, rows equal on every key keep their input order.
type Sort struct {
	Stage string
	Spec  query.SortSpec
}

func (self *Sort) Name() string {
	if self.Stage == "" {
		return NameSort
	}
	return self.Stage
}

func (self *Sort) Apply(ctx context.Context, in table.Stream) (table.Stream, error) {
	schema := in.Schema()
	idx := make([]int, len(self.Spec))
	for i, s := range self.Spec {
		idx[i] = schema.Index(s.Column)
		if idx[i] < 0 {
			in.Close()
			return nil, query.ColumnNotFound(self.Name(), s.Column)
		}
	}
	mem, err := table.Materialize(ctx, in)
	if err != nil {
		return nil, query.Cancelled(err)
	}
	rows := append([]table.Row{}, mem.Rows()...)
	sort.SliceStable(rows, func(i, j int) bool {
		return SortLess(self.Spec, idx, rows[i], rows[j])
	})
	return table.NewMemory(schema, rows).Reader(), nil
}

// SortLess compares two rows by the sort keys, idx are the key positions
func SortLess(spec query.SortSpec, idx []int, a, b table.Row) bool {
	for i, s := range spec {
		c := table.Compare(a[idx[i]], b[idx[i]])
		if s.Dir == query.SortDesc {
			c = -c
		}
		if c != 0 {
			return c < 0
		}
	}
	return false
}

/* ----------------------------------------------------------------------------
 * MaxRows
 * ---------------------------------------------------------------------------*/

// MaxRows stops the stream after N rows, N <= 0 means unlimited
type MaxRows struct {
	N int
}

func (self *MaxRows) Name() string { return NameMaxRows }

func (self *MaxRows) Apply(_ context.Context, in table.Stream) (table.Stream, error) {
	if self.N <= 0 {
		return in, nil
	}
	s := mapped(in.Schema(), in, func(r table.Row) (table.Row, error) { return r, nil })
	s.limit = self.N
	return s, nil
}

/* ----------------------------------------------------------------------------
 * Project
 * ---------------------------------------------------------------------------*/

// Project keeps the listed columns in the listed order
type Project struct {
	Columns []string
}

func (self *Project) Name() string { return NameProject }

func (self *Project) Apply(_ context.Context, in table.Stream) (table.Stream, error) {
	src := in.Schema()
	if err := need(NameProject, src, self.Columns...); err != nil {
		return nil, err
	}
	schema := table.Schema{}
	idx := []int{}
	for _, c := range self.Columns {
		i := src.Index(c)
		idx = append(idx, i)
		schema = append(schema, src[i])
	}
	pick := func(r table.Row) (table.Row, error) {
		out := make(table.Row, len(idx))
		for i, x := range idx {
			out[i] = r[x]
		}
		return out, nil
	}
	return mapped(schema, in, pick), nil
}

/* ----------------------------------------------------------------------------
 * Mirror
 * ---------------------------------------------------------------------------*/

// Mirror renames columns of its input, old name to new name
type Mirror struct {
	Renames map[string]string
}

func (self *Mirror) Name() string { return NameMirror }

func (self *Mirror) Apply(_ context.Context, in table.Stream) (table.Stream, error) {
	schema := in.Schema().Clone()
	for from := range self.Renames {
		if !schema.Has(from) {
			return nil, query.ColumnNotFound(NameMirror, from)
		}
	}
	for i := range schema {
		if to, ok := self.Renames[schema[i].Name]; ok {
			schema[i].Name = to
		}
	}
	seen := map[string]bool{}
	for _, c := range schema {
		if seen[c.Name] {
			return nil, errorf(NameMirror, "duplicated column %q after rename", c.Name)
		}
		seen[c.Name] = true
	}
	same := func(r table.Row) (table.Row, error) { return r, nil }
	return mapped(schema, in, same), nil
}
