package stage

import (
	"context"
	"math"

	"github.com/dianpeng/xtab/query"
	"github.com/dianpeng/xtab/sql"
	"github.com/dianpeng/xtab/table"
)

/* ----------------------------------------------------------------------------
 * Coerce
 * ---------------------------------------------------------------------------*/

// DefaultLookahead is the number of rows the coerce stage buffers to observe
// the runtime type of every column
const DefaultLookahead = 1000

// Coerce reconciles declared column types with the observed values. The type
// of the first non empty sample of a column wins over the declared one, an
// int column widens to float when a later sample is fractional, a column
// without any sample in the lookahead keeps its declared type. Every cell is
// then converted, a cell that can't be converted becomes nil. A fractional
// cell of an int column past the lookahead keeps its float value.
type Coerce struct {
	Columns   *query.ColumnSet
	Lookahead int
}

func (self *Coerce) Name() string { return NameCoerce }

func (self *Coerce) Apply(ctx context.Context, in table.Stream) (table.Stream, error) {
	n := self.Lookahead
	if n <= 0 {
		n = DefaultLookahead
	}
	schema := in.Schema().Clone()
	observed := make([]int, len(schema))

	head := []table.Row{}
	for len(head) < n {
		if len(head)%table.BatchSize == 0 {
			if err := ctx.Err(); err != nil {
				return nil, query.Cancelled(err)
			}
		}
		r, err := in.Next()
		if err != nil {
			return nil, err
		}
		if r == nil {
			break
		}
		for i, v := range r {
			if table.IsEmpty(v) {
				continue
			}
			switch observed[i] {
			case table.TypeUnknown:
				observed[i] = table.Infer(v)
			case table.TypeInt:
				if table.Infer(v) == table.TypeFloat {
					observed[i] = table.TypeFloat
				}
			}
		}
		head = append(head, r)
	}

	for i := range schema {
		declared := table.TypeUnknown
		if self.Columns != nil {
			if c := self.Columns.Get(schema[i].Name); c != nil {
				declared = c.Type
			}
		}
		switch {
		case observed[i] != table.TypeUnknown:
			schema[i].Type = observed[i]
		case declared != table.TypeUnknown:
			schema[i].Type = declared
		}
	}

	convert := func(r table.Row) (table.Row, error) {
		out := make(table.Row, len(r))
		for i, v := range r {
			if schema[i].Type == table.TypeInt {
				if f, ok := fractional(v); ok {
					out[i] = f
					continue
				}
			}
			x, err := table.Coerce(v, schema[i].Type)
			if err != nil {
				x = nil
			}
			out[i] = x
		}
		return out, nil
	}
	return mapped(schema, &prefixed{head: head, in: in}, convert), nil
}

func fractional(v interface{}) (float64, bool) {
	if table.Infer(v) != table.TypeFloat {
		return 0, false
	}
	x, err := table.Coerce(v, table.TypeFloat)
	if err != nil {
		return 0, false
	}
	f := x.(float64)
	return f, f != math.Trunc(f)
}

// prefixed replays buffered rows before the rest of the stream
type prefixed struct {
	head []table.Row
	in   table.Stream
}

func (self *prefixed) Schema() table.Schema { return self.in.Schema() }

func (self *prefixed) Next() (table.Row, error) {
	if len(self.head) > 0 {
		r := self.head[0]
		self.head = self.head[1:]
		return r, nil
	}
	return self.in.Next()
}

func (self *prefixed) RowCount() int { return self.in.RowCount() }
func (self *prefixed) Close() error  { return self.in.Close() }

/* ----------------------------------------------------------------------------
 * Derive
 * ---------------------------------------------------------------------------*/

// Derive computes the expression, alias and date range columns of a column
// set, in declaration order, so a derived column may use the columns derived
// before it. A derived column replaces a base column of the same name. It
// runs on coerced base values, an expression column with a declared type is
// converted to it.
type Derive struct {
	Columns *query.ColumnSet
	Vars    map[string]interface{}
}

func (self *Derive) Name() string { return NameDerive }

type derivation struct {
	out  int // index in the output schema
	col  *query.ColumnRef
	base int
	expr sql.Expr
}

func (self *Derive) Apply(_ context.Context, in table.Stream) (table.Stream, error) {
	schema := in.Schema().Clone()
	width := len(schema)
	steps := []derivation{}

	for _, c := range self.Columns.Columns() {
		if !c.Derived() {
			continue
		}
		d := derivation{col: c, base: -1}

		switch c.Kind {
		case query.ColumnExpression:
			e, err := sql.ParseExpr(c.Expr)
			if err != nil {
				return nil, &query.ExpressionError{Expr: c.Expr, Column: c.Name, Err: err}
			}
			if err := need(NameDerive, schema, sql.Refs(e)...); err != nil {
				return nil, err
			}
			e, err = sql.BindVariables(e, self.Vars)
			if err != nil {
				return nil, &query.ExpressionError{Expr: c.Expr, Column: c.Name, Err: err}
			}
			d.expr = e
		case query.ColumnAlias, query.ColumnDateRange:
			if err := need(NameDerive, schema, c.Base); err != nil {
				return nil, err
			}
			d.base = schema.Index(c.Base)
		}

		ty := c.Type
		switch {
		case c.Kind == query.ColumnAlias && ty == table.TypeUnknown:
			ty = schema[d.base].Type
		case c.Kind == query.ColumnDateRange:
			ty = table.TypeTime
		}

		if idx := schema.Index(c.Name); idx >= 0 {
			d.out = idx
			schema[idx].Type = ty
		} else {
			d.out = len(schema)
			schema = append(schema, table.Column{Name: c.Name, Type: ty})
		}
		steps = append(steps, d)
	}
	if len(steps) == 0 {
		return in, nil
	}

	env := &sql.RowEnv{Schema: schema, Vars: self.Vars}
	derive := func(r table.Row) (table.Row, error) {
		out := make(table.Row, len(schema))
		copy(out, r[:width])
		env.Row = out
		for _, d := range steps {
			switch d.col.Kind {
			case query.ColumnExpression:
				v, err := sql.Eval(d.expr, env)
				if err != nil {
					return nil, &query.ExpressionError{Expr: d.col.Expr, Column: d.col.Name, Err: err}
				}
				v = table.Normalize(v)
				if d.col.Type != table.TypeUnknown {
					if v, err = table.Coerce(v, d.col.Type); err != nil {
						v = nil
					}
				}
				out[d.out] = v
			case query.ColumnAlias:
				out[d.out] = out[d.base]
			case query.ColumnDateRange:
				if t, ok := query.AsTime(out[d.base]); ok {
					out[d.out] = d.col.Level.Bucket(t)
				} else {
					out[d.out] = nil
				}
			}
		}
		return out, nil
	}
	return mapped(schema, in, derive), nil
}

// DateLevels returns the date level of every column of a set carrying one,
// date range columns and the date buckets of a pushed down result
func DateLevels(cols *query.ColumnSet) map[string]query.DateLevel {
	out := map[string]query.DateLevel{}
	if cols == nil {
		return out
	}
	for _, c := range cols.Columns() {
		if c.Level != query.LevelNone {
			out[c.Name] = c.Level
		}
	}
	return out
}
