package stage

import (
	"context"
	"fmt"

	"go.uber.org/multierr"

	"github.com/dianpeng/xtab/query"
	"github.com/dianpeng/xtab/table"
)

/* ----------------------------------------------------------------------------
 * Join
 * ---------------------------------------------------------------------------*/

// Join is a hash join. The right input is the build side and is read fully,
// the left input is streamed. Rows with a nil key cell never match. Right
// columns whose name is already used on the left are prefixed with the right
// node name.
type Join struct {
	Kind      int
	Keys      []query.JoinKey
	RightName string
}

func (self *Join) Name() string { return NameJoin }

type joinStream struct {
	schema  table.Schema
	kind    int
	left    table.Stream
	lkeys   []int
	right   []table.Row
	index   map[string][]int
	matched []bool
	lwidth  int
	rwidth  int
	pending []table.Row
	tail    int // next right row checked for the unmatched pass, -1 before
	count   table.Counter
}

func (self *Join) Apply(ctx context.Context, left, right table.Stream) (table.Stream, error) {
	ls, rs := left.Schema(), right.Schema()
	lkeys, rkeys := []int{}, []int{}
	for _, k := range self.Keys {
		li, ri := ls.Index(k.Left), rs.Index(k.Right)
		if li < 0 {
			return nil, query.ColumnNotFound(NameJoin, k.Left)
		}
		if ri < 0 {
			return nil, query.ColumnNotFound(NameJoin, k.Right)
		}
		lkeys = append(lkeys, li)
		rkeys = append(rkeys, ri)
	}
	if len(lkeys) == 0 {
		return nil, errorf(NameJoin, "join requires at least one key")
	}

	mem, err := table.Materialize(ctx, right)
	if err != nil {
		return nil, query.Cancelled(err)
	}

	prefix := self.RightName
	if prefix == "" {
		prefix = "right"
	}
	schema := ls.Clone()
	for _, c := range rs {
		if schema.Has(c.Name) {
			c.Name = prefix + "." + c.Name
		}
		schema = append(schema, c)
	}

	j := &joinStream{
		schema:  schema,
		kind:    self.Kind,
		left:    left,
		lkeys:   lkeys,
		right:   mem.Rows(),
		index:   map[string][]int{},
		matched: make([]bool, mem.Len()),
		lwidth:  len(ls),
		rwidth:  len(rs),
		tail:    -1,
	}
	for i, r := range j.right {
		if k, ok := joinKey(r, rkeys); ok {
			j.index[k] = append(j.index[k], i)
		}
	}
	return j, nil
}

func joinKey(r table.Row, idx []int) (string, bool) {
	cells := make([]interface{}, len(idx))
	for i, x := range idx {
		if r[x] == nil {
			return "", false
		}
		cells[i] = r[x]
	}
	return table.RowKey(cells), true
}

func (self *joinStream) combine(l, r table.Row) table.Row {
	out := make(table.Row, 0, self.lwidth+self.rwidth)
	if l == nil {
		out = append(out, make(table.Row, self.lwidth)...)
	} else {
		out = append(out, l...)
	}
	if r == nil {
		out = append(out, make(table.Row, self.rwidth)...)
	} else {
		out = append(out, r...)
	}
	return out
}

func (self *joinStream) Schema() table.Schema { return self.schema }

func (self *joinStream) Next() (table.Row, error) {
	for len(self.pending) == 0 {
		if self.tail >= 0 {
			return self.unmatched()
		}
		l, err := self.left.Next()
		if err != nil {
			return nil, err
		}
		if l == nil {
			self.tail = 0
			continue
		}
		var hits []int
		if k, ok := joinKey(l, self.lkeys); ok {
			hits = self.index[k]
		}
		for _, h := range hits {
			self.matched[h] = true
			self.pending = append(self.pending, self.combine(l, self.right[h]))
		}
		if len(hits) == 0 && (self.kind == query.JoinLeft || self.kind == query.JoinFull) {
			self.pending = append(self.pending, self.combine(l, nil))
		}
	}
	r := self.pending[0]
	self.pending = self.pending[1:]
	self.count.Inc()
	return r, nil
}

// unmatched emits the right rows no left row joined, for right and full joins
func (self *joinStream) unmatched() (table.Row, error) {
	if self.kind == query.JoinRight || self.kind == query.JoinFull {
		for self.tail < len(self.right) {
			i := self.tail
			self.tail++
			if !self.matched[i] {
				self.count.Inc()
				return self.combine(nil, self.right[i]), nil
			}
		}
	}
	self.count.Finish()
	return nil, nil
}

func (self *joinStream) RowCount() int { return self.count.RowCount() }
func (self *joinStream) Close() error  { return self.left.Close() }

/* ----------------------------------------------------------------------------
 * Concatenate
 * ---------------------------------------------------------------------------*/

// Concat appends its inputs one after another. Columns are matched by name
// against the first input. Duplicated rows are removed unless All is set.
type Concat struct {
	All bool
}

func (self *Concat) Name() string { return NameConcat }

type concatStream struct {
	schema table.Schema
	inputs []table.Stream
	remap  [][]int
	cur    int
	seen   map[string]struct{}
	count  table.Counter
}

func (self *Concat) Apply(_ context.Context, inputs []table.Stream) (table.Stream, error) {
	if len(inputs) == 0 {
		return nil, errorf(NameConcat, "no input")
	}
	schema := inputs[0].Schema().Clone()
	remap := [][]int{}
	for _, in := range inputs {
		s := in.Schema()
		idx := []int{}
		for _, c := range schema {
			i := s.Index(c.Name)
			if i < 0 {
				return nil, query.ColumnNotFound(NameConcat, c.Name)
			}
			idx = append(idx, i)
		}
		remap = append(remap, idx)
	}
	for i := range schema {
		for k, in := range inputs[1:] {
			if in.Schema()[remap[k+1][i]].Type != schema[i].Type {
				schema[i].Type = table.TypeUnknown
			}
		}
	}
	c := &concatStream{schema: schema, inputs: inputs, remap: remap}
	if !self.All {
		c.seen = map[string]struct{}{}
	}
	return c, nil
}

func (self *concatStream) Schema() table.Schema { return self.schema }

func (self *concatStream) Next() (table.Row, error) {
	for self.cur < len(self.inputs) {
		r, err := self.inputs[self.cur].Next()
		if err != nil {
			return nil, err
		}
		if r == nil {
			self.cur++
			continue
		}
		out := make(table.Row, len(self.schema))
		for i, x := range self.remap[self.cur] {
			out[i] = r[x]
		}
		if self.seen != nil {
			k := table.RowKey(out)
			if _, ok := self.seen[k]; ok {
				continue
			}
			self.seen[k] = struct{}{}
		}
		self.count.Inc()
		return out, nil
	}
	self.count.Finish()
	return nil, nil
}

func (self *concatStream) RowCount() int { return self.count.RowCount() }

func (self *concatStream) Close() error {
	var err error
	for _, in := range self.inputs {
		err = multierr.Append(err, in.Close())
	}
	return err
}

/* ----------------------------------------------------------------------------
 * Rotate
 * ---------------------------------------------------------------------------*/

// Rotate transposes its input: the first input column becomes the header and
// every other input column becomes one output row whose first cell is its
// name.
type Rotate struct{}

func (self *Rotate) Name() string { return NameRotate }

func (self *Rotate) Apply(ctx context.Context, in table.Stream) (table.Stream, error) {
	src := in.Schema()
	if len(src) == 0 {
		in.Close()
		return nil, errorf(NameRotate, "input has no column")
	}
	mem, err := table.Materialize(ctx, in)
	if err != nil {
		return nil, query.Cancelled(err)
	}

	schema := table.Schema{{Name: src[0].Name, Type: table.TypeString}}
	used := map[string]int{src[0].Name: 1}
	for _, r := range mem.Rows() {
		name := table.String(r[0])
		if n := used[name]; n > 0 {
			used[name] = n + 1
			name = fmt.Sprintf("%s_%d", name, n+1)
		}
		used[name]++
		schema = append(schema, table.Column{Name: name})
	}

	rows := []table.Row{}
	for j := 1; j < len(src); j++ {
		out := table.Row{src[j].Name}
		for _, r := range mem.Rows() {
			out = append(out, r[j])
		}
		rows = append(rows, out)
	}
	return table.NewMemory(schema, rows).Reader(), nil
}
