// Package summary implements flat grouping.
//
// The input is grouped by every GroupRef of the AggregateSpec in one pass. Groups are
// kept as a tree of prefix nodes: the root is the grand total, a node at level
// l is one distinct value of the first l group keys and the leaves, at level
// len(groups), are the emitted groups. Leaves own the incremental reducers fed
// by the rows. Totals of inner nodes are the leaf states merged upward for
// associative formulas. Non associative formulas (first, last, none) can't be
// merged meaningfully, inner nodes get their own reducers fed from the raw rows
// and the table is flagged Expensive.
//
// After accumulation the table supports the operations that need the grouped
// result: Sort (the hierarchical ordering of groups), Filter (post conditions),
// and Rank (top N per outer prefix with an Others bucket).
package summary

import (
	"context"

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
	SubtotalLabel   = "Total"
	GrandTotalLabel = "Grand Total"
)

type Options struct {
	// Script evaluates calculated aggregates, the native engine when nil
	Script script.Engine
	Vars   map[string]interface{}
}

type node struct {
	level    int
	keys     []interface{} // len(groups) keys, nil past level
	key      string
	ordinal  int
	parent   *node
	children []*node
	states   []agg.Reducer // nil for calc aggregates
	values   []interface{}
	others   bool
	dropped  bool
	visible  bool // has at least one emitted leaf below
}

type input struct {
	group     []int
	value     []int
	secondary []int
}

type Table struct {
	spec      *query.AggregateSpec
	opts      Options
	order     []int // CalcOrder
	assoc     []bool
	inSchema  table.Schema
	in        input
	root      *node
	levels    []map[string]*node
	nodes     int
	named     []map[string]string // per group, value -> label
	sort      query.SortSpec
	Expensive bool

	schema table.Schema
	rows   []table.Row
	kinds  []int
	built  bool
	cursor int
}

// Summarize groups the input stream. The stream is consumed and closed.
func Summarize(ctx context.Context, in table.Stream, spec *query.AggregateSpec, opts Options) (*Table, error) {
	if opts.Script == nil {
		opts.Script = script.NewNative()
	}
	t := &Table{
		spec:     spec,
		opts:     opts,
		inSchema: in.Schema(),
	}
	if err := t.bind(); err != nil {
		in.Close()
		return nil, err
	}

	err := table.Drain(ctx, in, t.add)
	if err != nil {
		return nil, query.Cancelled(err)
	}
	if err := t.finalize(); err != nil {
		return nil, err
	}
	return t, nil
}

// bind resolves the group and aggregate columns against the input schema
func (self *Table) bind() error {
	order, err := query.CalcOrder(self.spec)
	if err != nil {
		return err
	}
	self.order = order

	for _, g := range self.spec.Groups {
		idx := self.inSchema.Index(g.Column)
		if idx < 0 {
			return query.ColumnNotFound("summary", g.Column)
		}
		self.in.group = append(self.in.group, idx)

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
	}

	for _, a := range self.spec.Aggregates {
		vi, si := -1, -1
		if a.Formula.Kind != query.FormulaCalc {
			vi = self.inSchema.Index(a.Column)
			if vi < 0 {
				return query.ColumnNotFound("summary", a.Column)
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
		self.in.value = append(self.in.value, vi)
		self.in.secondary = append(self.in.secondary, si)
		self.assoc = append(self.assoc, a.Formula.Associative())
		if !a.Formula.Associative() && len(self.spec.Groups) > 0 {
			self.Expensive = true
		}
	}

	self.levels = make([]map[string]*node, len(self.spec.Groups)+1)
	for i := range self.levels {
		self.levels[i] = map[string]*node{}
	}
	self.root = self.newNode(0, make([]interface{}, len(self.spec.Groups)), "", nil)
	self.levels[0][""] = self.root
	return nil
}

func (self *Table) depth() int { return len(self.spec.Groups) }

func (self *Table) newNode(level int, keys []interface{}, key string, parent *node) *node {
	n := &node{
		level:   level,
		keys:    keys,
		key:     key,
		ordinal: self.nodes,
		parent:  parent,
		states:  self.newStates(),
	}
	self.nodes++
	if parent != nil {
		parent.children = append(parent.children, n)
	}
	return n
}

func (self *Table) newStates() []agg.Reducer {
	out := make([]agg.Reducer, len(self.spec.Aggregates))
	for i, a := range self.spec.Aggregates {
		if a.Formula.Kind != query.FormulaCalc {
			out[i] = agg.MustNew(a.Formula)
		}
	}
	return out
}

// label applies the named group table of a level
func (self *Table) label(level int, v interface{}) interface{} {
	m := self.named[level]
	if m == nil {
		return v
	}
	if l, ok := m[table.String(v)]; ok {
		return l
	}
	if o := self.spec.Groups[level].Order; o.Others {
		return o.OthersName()
	}
	return v
}

func (self *Table) add(r table.Row) error {
	n := self.depth()
	keys := make([]interface{}, n)
	for i, idx := range self.in.group {
		keys[i] = self.label(i, r[idx])
	}

	cur := self.root
	self.feed(cur, r, n == 0)
	key := ""
	for l := 1; l <= n; l++ {
		key = key + "\x00" + table.Key(keys[l-1])
		next, ok := self.levels[l][key]
		if !ok {
			k := make([]interface{}, n)
			copy(k, keys[:l])
			next = self.newNode(l, k, key, cur)
			self.levels[l][key] = next
		}
		cur = next
		self.feed(cur, r, l == n)
	}
	return nil
}

// feed adds the row to the reducers of a node. Leaves get every aggregate,
// inner nodes only the non associative ones.
func (self *Table) feed(n *node, r table.Row, leaf bool) {
	for i, s := range n.states {
		if s == nil || (!leaf && self.assoc[i]) {
			continue
		}
		var w interface{}
		if si := self.in.secondary[i]; si >= 0 {
			w = r[si]
		}
		s.Add(r[self.in.value[i]], w)
	}
}

// finalize merges leaf states into the inner nodes and computes every value
func (self *Table) finalize() error {
	if self.depth() == 0 {
		return self.compute(self.root)
	}
	for l := self.depth() - 1; l >= 0; l-- {
		for _, n := range self.levels[l] {
			for _, c := range n.children {
				for i, s := range c.states {
					if s != nil && self.assoc[i] {
						n.states[i].Merge(s)
					}
				}
			}
		}
	}
	return self.computeAll()
}

func (self *Table) computeAll() error {
	for _, lvl := range self.levels {
		for _, n := range lvl {
			if err := self.compute(n); err != nil {
				return err
			}
		}
	}
	self.built = false
	return nil
}

// compute evaluates the reducers and the calculated aggregates of a node
func (self *Table) compute(n *node) error {
	n.values = make([]interface{}, len(self.spec.Aggregates))
	inputs := map[string]interface{}{}
	for _, i := range self.order {
		a := self.spec.Aggregates[i]
		if a.Formula.Kind == query.FormulaCalc {
			v, err := self.opts.Script.Eval(a.Formula.Expr, inputs)
			if err != nil {
				return &query.ExpressionError{Expr: a.Formula.Expr, Column: a.OutName(), Err: err}
			}
			n.values[i] = table.Normalize(v)
		} else {
			n.values[i] = n.states[i].Result()
		}
		inputs[a.OutName()] = n.values[i]
	}
	return nil
}

// Groups returns the number of emitted groups
func (self *Table) Groups() int {
	if self.depth() == 0 {
		return 1
	}
	c := 0
	for _, n := range self.levels[self.depth()] {
		if !n.dropped {
			c++
		}
	}
	return c
}

// GrandTotal returns the value of an aggregate over every input row
func (self *Table) GrandTotal(measure int) interface{} {
	return self.root.values[measure]
}

func percent(v, total interface{}) interface{} {
	x, ok := table.ToFloat(v)
	if v == nil || !ok {
		return nil
	}
	t, ok := table.ToFloat(total)
	if total == nil || !ok || t == 0 {
		return nil
	}
	return x / t * 100
}

// output returns the aggregate cells of a node with percentages applied
func (self *Table) output(n *node) []interface{} {
	out := make([]interface{}, len(n.values))
	for i, a := range self.spec.Aggregates {
		switch a.Percentage {
		case query.PercentGroup:
			p := n.parent
			if p == nil {
				p = n
			}
			out[i] = percent(n.values[i], p.values[i])
		case query.PercentGrandTotal:
			out[i] = percent(n.values[i], self.root.values[i])
		default:
			out[i] = n.values[i]
		}
	}
	return out
}
