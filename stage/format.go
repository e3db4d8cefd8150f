package stage

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/dianpeng/xtab/query"
	"github.com/dianpeng/xtab/table"
)

// Format renders cells for presentation. The format of a column is one of
//
//	percent      a 0..100 value shown as "12.5%"
//	comma        thousands separators
//	bytes        byte sizes, 1.2 MB
//	si           SI prefixes
//	date:LAYOUT  time layout of the time package
//	%...         a printf verb
//
// Columns carrying a date level (date ranges and their pushed down buckets)
// without a format are shown with the label of their level. Formatted columns become strings, nil cells stay nil.
type Format struct {
	Columns *query.ColumnSet
}

func (self *Format) Name() string { return NameFormat }

type formatter func(interface{}) (interface{}, error)

func (self *Format) Apply(_ context.Context, in table.Stream) (table.Stream, error) {
	if self.Columns == nil {
		return in, nil
	}
	schema := in.Schema().Clone()
	fns := make([]formatter, len(schema))
	active := false
	for i, c := range schema {
		ref := self.Columns.Get(c.Name)
		if ref == nil {
			continue
		}
		fn, err := newFormatter(ref)
		if err != nil {
			return nil, err
		}
		if fn != nil {
			fns[i] = fn
			schema[i].Type = table.TypeString
			active = true
		}
	}
	if !active {
		return in, nil
	}
	apply := func(r table.Row) (table.Row, error) {
		out := make(table.Row, len(r))
		for i, v := range r {
			if fns[i] == nil || v == nil {
				out[i] = v
				continue
			}
			x, err := fns[i](v)
			if err != nil {
				return nil, errorf(NameFormat, "column %q: %s", schema[i].Name, err)
			}
			out[i] = x
		}
		return out, nil
	}
	return mapped(schema, in, apply), nil
}

func newFormatter(c *query.ColumnRef) (formatter, error) {
	f := c.Format
	switch {
	case f == "" && c.Level != query.LevelNone:
		lvl := c.Level
		return func(v interface{}) (interface{}, error) {
			t, ok := query.AsTime(v)
			if !ok {
				return table.String(v), nil
			}
			return lvl.Display(t), nil
		}, nil
	case f == "":
		return nil, nil
	case f == "percent":
		return numeric(func(x float64) string { return fmt.Sprintf("%.1f%%", x) }), nil
	case f == "comma":
		return func(v interface{}) (interface{}, error) {
			if i, ok := v.(int64); ok {
				return humanize.Comma(i), nil
			}
			x, ok := table.ToFloat(v)
			if !ok {
				return table.String(v), nil
			}
			return humanize.Commaf(x), nil
		}, nil
	case f == "bytes":
		return numeric(func(x float64) string {
			if x < 0 {
				return "-" + humanize.Bytes(uint64(-x))
			}
			return humanize.Bytes(uint64(x))
		}), nil
	case f == "si":
		return numeric(func(x float64) string { return humanize.SI(x, "") }), nil
	case strings.HasPrefix(f, "date:"):
		layout := strings.TrimPrefix(f, "date:")
		return func(v interface{}) (interface{}, error) {
			t, ok := v.(time.Time)
			if !ok {
				return table.String(v), nil
			}
			return t.Format(layout), nil
		}, nil
	case strings.HasPrefix(f, "%"):
		return func(v interface{}) (interface{}, error) {
			return fmt.Sprintf(f, v), nil
		}, nil
	default:
		return nil, errorf(NameFormat, "column %q has unknown format %q", c.Name, f)
	}
}

func numeric(fn func(float64) string) formatter {
	return func(v interface{}) (interface{}, error) {
		x, ok := table.ToFloat(v)
		if !ok {
			return table.String(v), nil
		}
		return fn(x), nil
	}
}
