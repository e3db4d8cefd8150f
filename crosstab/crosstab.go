// Package crosstab implements the pivot engine.
//
// The last GroupRef of the AggregateSpec is the column key, the others are row keys.
// One pass over the input builds a tree of row prefix nodes, like the summary
// engine does, and an ordered set of column values. Every row node owns one
// cell per column value it has seen plus a total cell spanning all columns. The
// root row node holds the column totals and the grand total.
//
// Leaf cells are fed by the rows. Every other cell is the leaf cells merged for
// associative formulas, First/Last/None totals are fed from the raw rows and
// the table is flagged Expensive.
package crosstab

import (
	"context"
	"fmt"
	"time"

	"github.com/google/btree"

	"github.com/dianpeng/xtab/agg"
	"github.com/dianpeng/xtab/query"
	"github.com/dianpeng/xtab/script"
	"github.com/dianpeng/xtab/table"
)

const (
	RowGroup = iota
	RowSubtotal
	RowGrandTotal
)

const (
	TotalLabel      = "Total"
	GrandTotalLabel = "Grand Total"
)

type Options struct {
	// Script evaluates calculated aggregates and expression calc columns
	Script script.Engine
	Mode   int
	// Levels gives the date level of date range group columns, it enables
	// time series continuity for those keys
	Levels map[string]query.DateLevel
}

type cell struct {
	states []agg.Reducer
	values []interface{}
}

type rowNode struct {
	level    int
	keys     []interface{}
	key      string
	ordinal  int
	parent   *rowNode
	children []*rowNode
	cells    map[string]*cell
	total    *cell
	others   bool
	dropped  bool
	visible  bool
}

type column struct {
	key     string
	value   interface{}
	ordinal int
	others  bool
}

type Table struct {
	spec      *query.AggregateSpec
	opts      Options
	order     []int
	assoc     []bool
	inSchema  table.Schema
	group     []int
	value     []int
	secondary []int
	named     []map[string]string
	dateLevel []query.DateLevel // per group, LevelNone for non date keys

	root  *rowNode
	depth int // number of row keys
	rows  []map[string]*rowNode
	nodes int

	cols     map[string]*column
	colOrder *btree.BTreeG[*column]
	ncols    int

	Expensive bool

	schema table.Schema
	out    []table.Row
	kinds  []int
	built  bool
	cursor int
}

// Build pivots the input stream. The stream is consumed and closed.
func Build(ctx context.Context, in table.Stream, spec *query.AggregateSpec, opts Options) (*Table, error) {
	if opts.Script == nil {
		opts.Script = script.NewNative()
	}
	t := &Table{
		spec:     spec,
		opts:     opts,
		inSchema: in.Schema(),
		cols:     map[string]*column{},
	}
	if err := t.bind(); err != nil {
		in.Close()
		return nil, err
	}
	if err := table.Drain(ctx, in, t.add); err != nil {
		return nil, query.Cancelled(err)
	}
	if spec.Cross.TimeSeries {
		t.fill()
	}
	if err := t.finalize(); err != nil {
		return nil, err
	}
	if err := t.rank(); err != nil {
		return nil, err
	}
	return t, nil
}

func (self *Table) bind() error {
	if len(self.spec.Groups) == 0 {
		return query.ColumnNotFound("crosstab", "<column key>")
	}
	order, err := query.CalcOrder(self.spec)
	if err != nil {
		return err
	}
	self.order = order
	self.depth = len(self.spec.Groups) - 1
	for i := 0; i < self.depth-1; i++ {
		if g := self.spec.Groups[i]; g.Ranking != nil {
			return fmt.Errorf("stage(crosstab): crosstab ranks the innermost row key only, %q is an outer one", g.OutName())
		}
	}

	for _, g := range self.spec.Groups {
		idx := self.inSchema.Index(g.Column)
		if idx < 0 {
			return query.ColumnNotFound("crosstab", g.Column)
		}
		self.group = append(self.group, idx)

		var m map[string]string
		if len(g.Order.Named) > 0 {
			m = map[string]string{}
			for _, ng := range g.Order.Named {
				for _, v := range ng.Values {
					m[table.String(v)] = ng.Label
				}
			}
		}
		self.named = append(self.named, m)

		lvl := self.opts.Levels[g.Column]
		if lvl == query.LevelNone {
			lvl = g.Order.Interval
		}
		self.dateLevel = append(self.dateLevel, lvl)
	}

	for _, a := range self.spec.Aggregates {
		vi, si := -1, -1
		if a.Formula.Kind != query.FormulaCalc {
			vi = self.inSchema.Index(a.Column)
			if vi < 0 {
				return query.ColumnNotFound("crosstab", a.Column)
			}
			if a.Formula.TwoColumn() {
				if a.Secondary == "" {
					return query.FormulaArity(a.OutName(), "formula %s requires a secondary column", a.Formula.Kind)
				}
				si = self.inSchema.Index(a.Secondary)
				if si < 0 {
					return query.FormulaArity(a.OutName(), "secondary column %q does not exist", a.Secondary)
				}
			}
		}
		self.value = append(self.value, vi)
		self.secondary = append(self.secondary, si)
		self.assoc = append(self.assoc, a.Formula.Associative())
		if !a.Formula.Associative() {
			self.Expensive = true
		}
	}

	self.rows = make([]map[string]*rowNode, self.depth+1)
	for i := range self.rows {
		self.rows[i] = map[string]*rowNode{}
	}
	self.root = self.newRow(0, make([]interface{}, self.depth), "", nil)
	self.rows[0][""] = self.root
	self.colOrder = btree.NewG[*column](8, self.colLess)
	return nil
}

func (self *Table) newRow(level int, keys []interface{}, key string, parent *rowNode) *rowNode {
	n := &rowNode{
		level:   level,
		keys:    keys,
		key:     key,
		ordinal: self.nodes,
		parent:  parent,
		cells:   map[string]*cell{},
		total:   self.newCell(),
	}
	self.nodes++
	if parent != nil {
		parent.children = append(parent.children, n)
	}
	return n
}

func (self *Table) newCell() *cell {
	c := &cell{states: make([]agg.Reducer, len(self.spec.Aggregates))}
	for i, a := range self.spec.Aggregates {
		if a.Formula.Kind != query.FormulaCalc {
			c.states[i] = agg.MustNew(a.Formula)
		}
	}
	return c
}

func (self *rowNode) cell(t *Table, col string) *cell {
	c, ok := self.cells[col]
	if !ok {
		c = t.newCell()
		self.cells[col] = c
	}
	return c
}

// keyValue applies named groups and date buckets to the key of group i
func (self *Table) keyValue(i int, v interface{}) interface{} {
	if m := self.named[i]; m != nil {
		if l, ok := m[table.String(v)]; ok {
			return l
		}
		if o := self.spec.Groups[i].Order; o.Others {
			return o.OthersName()
		}
		return v
	}
	if lvl := self.dateLevel[i]; lvl != query.LevelNone {
		if t, ok := query.AsTime(v); ok {
			return lvl.Bucket(t)
		}
	}
	return v
}

func (self *Table) column(v interface{}) *column {
	k := table.Key(v)
	c, ok := self.cols[k]
	if !ok {
		c = &column{key: k, value: v, ordinal: self.ncols}
		self.ncols++
		self.cols[k] = c
		self.colOrder.ReplaceOrInsert(c)
	}
	return c
}

func (self *Table) colLess(a, b *column) bool {
	if a.others != b.others {
		return b.others
	}
	g := self.spec.Groups[self.depth]
	if self.spec.Cross.TimeSeries && g.Order.Dir == query.SortOriginal && len(g.Order.Named) == 0 {
		ta, oka := a.value.(time.Time)
		tb, okb := b.value.(time.Time)
		if oka && okb && !ta.Equal(tb) {
			return ta.Before(tb)
		}
	}
	return g.Order.Less(a.value, b.value, a.ordinal, b.ordinal)
}

// Columns returns the column key values in display order
func (self *Table) Columns() []interface{} {
	out := []interface{}{}
	for _, c := range self.columns() {
		out = append(out, c.value)
	}
	return out
}

func (self *Table) columns() []*column {
	out := make([]*column, 0, self.colOrder.Len())
	self.colOrder.Ascend(func(c *column) bool {
		out = append(out, c)
		return true
	})
	return out
}

func (self *Table) add(r table.Row) error {
	keys := make([]interface{}, len(self.group))
	for i, idx := range self.group {
		keys[i] = self.keyValue(i, r[idx])
	}
	col := self.column(keys[self.depth]).key

	cur := self.root
	self.feedRow(cur, col, r, self.depth == 0)
	key := ""
	for l := 1; l <= self.depth; l++ {
		key = key + "\x00" + table.Key(keys[l-1])
		next, ok := self.rows[l][key]
		if !ok {
			k := make([]interface{}, self.depth)
			copy(k, keys[:l])
			next = self.newRow(l, k, key, cur)
			self.rows[l][key] = next
		}
		cur = next
		self.feedRow(cur, col, r, l == self.depth)
	}
	return nil
}

func (self *Table) feedRow(n *rowNode, col string, r table.Row, leaf bool) {
	self.feed(n.cell(self, col), r, leaf)
	self.feed(n.total, r, false)
}

// feed adds the row to a cell, non leaf cells only take the non associative
// aggregates
func (self *Table) feed(c *cell, r table.Row, leaf bool) {
	for i, s := range c.states {
		if s == nil || (!leaf && self.assoc[i]) {
			continue
		}
		var w interface{}
		if si := self.secondary[i]; si >= 0 {
			w = r[si]
		}
		s.Add(r[self.value[i]], w)
	}
}

func (self *Table) merge(dst, src *cell, all bool) {
	for i, s := range src.states {
		if s != nil && (all || self.assoc[i]) {
			dst.states[i].Merge(s)
		}
	}
}

func (self *Table) finalize() error {
	for _, n := range self.rows[self.depth] {
		for _, c := range n.cells {
			self.merge(n.total, c, false)
		}
	}
	for l := self.depth - 1; l >= 0; l-- {
		for _, n := range self.rows[l] {
			for _, ch := range n.children {
				for k, c := range ch.cells {
					self.merge(n.cell(self, k), c, false)
				}
				self.merge(n.total, ch.total, false)
			}
		}
	}
	for _, lvl := range self.rows {
		for _, n := range lvl {
			if err := self.computeRow(n); err != nil {
				return err
			}
		}
	}
	self.built = false
	return nil
}

func (self *Table) computeRow(n *rowNode) error {
	for _, c := range n.cells {
		if err := self.compute(c); err != nil {
			return err
		}
	}
	return self.compute(n.total)
}

func (self *Table) compute(c *cell) error {
	c.values = make([]interface{}, len(self.spec.Aggregates))
	inputs := map[string]interface{}{}
	for _, i := range self.order {
		a := self.spec.Aggregates[i]
		if a.Formula.Kind == query.FormulaCalc {
			v, err := self.opts.Script.Eval(a.Formula.Expr, inputs)
			if err != nil {
				return &query.ExpressionError{Expr: a.Formula.Expr, Column: a.OutName(), Err: err}
			}
			c.values[i] = table.Normalize(v)
		} else {
			c.values[i] = c.states[i].Result()
		}
		inputs[a.OutName()] = c.values[i]
	}
	return nil
}

// lookup finds the row node of a row key prefix
func (self *Table) lookup(keys []interface{}) *rowNode {
	if len(keys) > self.depth {
		return nil
	}
	key := ""
	for i, k := range keys {
		key = key + "\x00" + table.Key(self.keyValue(i, k))
	}
	n, ok := self.rows[len(keys)][key]
	if !ok {
		n = self.rows[len(keys)][key+"\x01others"]
	}
	if n == nil || n.dropped {
		return nil
	}
	return n
}

func (self *Table) lookupColumn(v interface{}) *column {
	k := table.Key(self.keyValue(self.depth, v))
	if c, ok := self.cols[k]; ok {
		return c
	}
	return self.cols[k+"\x01others"]
}
