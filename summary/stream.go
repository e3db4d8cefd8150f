package summary

import (
	"github.com/dianpeng/xtab/query"
	"github.com/dianpeng/xtab/sql"
	"github.com/dianpeng/xtab/table"
)

func (self *Table) aggregateType(i int) int {
	a := self.spec.Aggregates[i]
	if a.Percentage != query.PercentNone {
		return table.TypeFloat
	}
	in := table.TypeUnknown
	if idx := self.in.value[i]; idx >= 0 {
		in = self.inSchema[idx].Type
	}
	switch a.Formula.Kind {
	case query.FormulaCount, query.FormulaDistinctCount:
		return table.TypeInt
	case query.FormulaSum:
		if in == table.TypeInt {
			return table.TypeInt
		}
		return table.TypeFloat
	case query.FormulaCalc:
		return table.TypeUnknown
	}
	if a.Formula.Numeric() {
		return table.TypeFloat
	}
	return in
}

func (self *Table) Schema() table.Schema {
	if self.schema != nil {
		return self.schema
	}
	s := table.Schema{}
	for i, g := range self.spec.Groups {
		ty := self.inSchema[self.in.group[i]].Type
		if ty != table.TypeString && self.labeled(i) {
			ty = table.TypeUnknown
		}
		s = append(s, table.Column{Name: g.OutName(), Type: ty})
	}
	for i, a := range self.spec.Aggregates {
		s = append(s, table.Column{Name: a.OutName(), Type: self.aggregateType(i)})
	}
	self.schema = s
	return s
}

// labeled tells whether synthesized labels are mixed into the key column of
// group i: named groups, ranking Others, subtotal and grand total labels.
func (self *Table) labeled(i int) bool {
	g := self.spec.Groups[i]
	switch {
	case self.named[i] != nil:
		return true
	case g.Ranking != nil && g.Ranking.Others:
		return true
	case i > 0 && self.spec.Groups[i-1].Subtotal:
		return true
	case i == 0 && self.spec.GrandTotal:
		return true
	}
	return false
}

// Filter keeps the groups for which expr holds. The expression sees the
// output row of a group. Subtotal and grand total rows are kept while at least
// one group below them is.
func (self *Table) Filter(expr sql.Expr) error {
	schema := self.Schema()
	for _, r := range sql.Refs(expr) {
		if !schema.Has(r) {
			return query.ColumnNotFound("post_filter", r)
		}
	}
	bound, err := sql.BindVariables(expr, self.opts.Vars)
	if err != nil {
		return err
	}
	env := &sql.RowEnv{Schema: schema}
	for _, n := range self.levels[self.depth()] {
		if n.dropped {
			continue
		}
		env.Row = self.row(n, n.keys)
		v, err := sql.Eval(bound, env)
		if err != nil {
			return &query.ExpressionError{Expr: sql.PrintExpr(expr), Err: err}
		}
		if !sql.Truthy(v) {
			n.dropped = true
		}
	}
	self.built = false
	return nil
}

func (self *Table) row(n *node, keys []interface{}) table.Row {
	r := make(table.Row, 0, len(keys)+len(n.values))
	r = append(r, keys...)
	r = append(r, self.output(n)...)
	return r
}

// markVisible flags the nodes with at least one emitted leaf below
func (self *Table) markVisible(n *node) bool {
	if n.dropped {
		n.visible = false
		return false
	}
	if n.level == self.depth() {
		n.visible = true
		return true
	}
	v := false
	for _, c := range n.children {
		if self.markVisible(c) {
			v = true
		}
	}
	n.visible = v
	return v
}

func (self *Table) build() {
	if self.built {
		return
	}
	self.rows = nil
	self.kinds = nil
	self.cursor = 0

	if self.depth() == 0 {
		self.emit(self.row(self.root, nil), RowGroup)
		self.built = true
		return
	}
	self.markVisible(self.root)
	self.walk(self.root)

	if self.spec.GrandTotal && self.root.visible {
		keys := make([]interface{}, self.depth())
		keys[0] = GrandTotalLabel
		self.emit(self.row(self.root, keys), RowGrandTotal)
	}
	self.built = true
}

func (self *Table) walk(n *node) {
	if n.level == self.depth() {
		self.emit(self.row(n, n.keys), RowGroup)
		return
	}
	for _, c := range self.sorted(n.children) {
		self.walk(c)
		// subtotal after each distinct value of level c.level-1, the deepest
		// level is the group itself
		if c.level < self.depth() && self.spec.Groups[c.level-1].Subtotal {
			keys := make([]interface{}, self.depth())
			copy(keys, c.keys[:c.level])
			keys[c.level] = SubtotalLabel
			self.emit(self.row(c, keys), RowSubtotal)
		}
	}
}

func (self *Table) emit(r table.Row, kind int) {
	self.rows = append(self.rows, r)
	self.kinds = append(self.kinds, kind)
}

// Rows returns the output rows, the kinds tell group rows from the synthesized
// subtotal and grand total rows.
func (self *Table) Rows() ([]table.Row, []int) {
	self.build()
	return self.rows, self.kinds
}

func (self *Table) Memory() *table.Memory {
	rows, _ := self.Rows()
	return table.NewMemory(self.Schema(), append([]table.Row{}, rows...))
}

func (self *Table) Next() (table.Row, error) {
	self.build()
	if self.cursor >= len(self.rows) {
		return nil, nil
	}
	r := self.rows[self.cursor]
	self.cursor++
	return r, nil
}

func (self *Table) RowCount() int {
	if !self.built {
		return -1
	}
	if self.cursor < len(self.rows) {
		return -(self.cursor + 1)
	}
	return len(self.rows)
}

func (self *Table) Close() error { return nil }
