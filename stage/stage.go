// Package stage implements the tabular transforms composed by the engine.
//
// A Stage takes a stream and returns a new one. Row filters, projections and
// renames are lazy and stream one row at a time. Sort, Distinct style
// deduplication of a materialized result, Rotate and the build side of Join
// read their whole input first; they check the context between batches of
// table.BatchSize rows and drop partial results on cancellation.
//
// Stages never assume more than one forward pass over their input.
package stage

import (
	"context"
	"fmt"

	"github.com/pkg/errors"

	"github.com/dianpeng/xtab/query"
	"github.com/dianpeng/xtab/table"
)

// Canonical stage names, used by errors and Explain
const (
	NameCoerce     = "coerce"
	NameDerive     = "derive"
	NamePreFilter  = "pre_filter"
	NameDistinct   = "distinct"
	NameSort       = "sort"
	NameSummary    = "summary"
	NameCrosstab   = "crosstab"
	NamePostSort   = "post_sort"
	NamePostFilter = "post_filter"
	NameRanking    = "ranking"
	NameProject    = "project"
	NameMaxRows    = "max_rows"
	NameFormat     = "format"
	NameMirror     = "mirror"
	NameJoin       = "join"
	NameConcat     = "concatenate"
	NameRotate     = "rotate"
)

type Stage interface {
	Name() string
	Apply(context.Context, table.Stream) (table.Stream, error)
}

// Chain is an ordered list of stages applied one after another
type Chain []Stage

func (self Chain) Apply(ctx context.Context, in table.Stream) (table.Stream, error) {
	cur := in
	for _, s := range self {
		out, err := s.Apply(ctx, cur)
		if err != nil {
			cur.Close()
			return nil, err
		}
		cur = out
	}
	return cur, nil
}

// Names lists the stage names in order, composite stages list their parts
func (self Chain) Names() []string {
	out := []string{}
	for _, s := range self {
		if x, ok := s.(interface{ Names() []string }); ok {
			out = append(out, x.Names()...)
		} else {
			out = append(out, s.Name())
		}
	}
	return out
}

func errorf(stage string, format string, args ...interface{}) error {
	return errors.Errorf("stage(%s): %s", stage, fmt.Sprintf(format, args...))
}

// need checks that every column exists in the schema
func need(stage string, schema table.Schema, cols ...string) error {
	for _, c := range cols {
		if !schema.Has(c) {
			return query.ColumnNotFound(stage, c)
		}
	}
	return nil
}

/* ----------------------------------------------------------------------------
 * Lazy row stream
 * ---------------------------------------------------------------------------*/

// mapper transforms one input row, returning a nil row drops it
type mapper func(table.Row) (table.Row, error)

type mapStream struct {
	schema table.Schema
	in     table.Stream
	fn     mapper
	limit  int // < 0 for no limit
	count  table.Counter
}

func mapped(schema table.Schema, in table.Stream, fn mapper) *mapStream {
	return &mapStream{
		schema: schema,
		in:     in,
		fn:     fn,
		limit:  -1,
	}
}

func (self *mapStream) Schema() table.Schema { return self.schema }

func (self *mapStream) Next() (table.Row, error) {
	for {
		if self.limit >= 0 && self.count.Produced() >= self.limit {
			self.count.Finish()
			return nil, nil
		}
		r, err := self.in.Next()
		if err != nil {
			return nil, err
		}
		if r == nil {
			self.count.Finish()
			return nil, nil
		}
		out, err := self.fn(r)
		if err != nil {
			return nil, err
		}
		if out != nil {
			self.count.Inc()
			return out, nil
		}
	}
}

func (self *mapStream) RowCount() int { return self.count.RowCount() }
func (self *mapStream) Close() error  { return self.in.Close() }
