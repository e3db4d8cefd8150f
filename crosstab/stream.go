package crosstab

import (
	"sort"
	"time"

	"github.com/dianpeng/xtab/query"
	"github.com/dianpeng/xtab/sql"
	"github.com/dianpeng/xtab/table"
)

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

func (self *rowNode) at(c *column) *cell {
	if c == nil {
		return self.total
	}
	return self.cells[c.key]
}

func (self *cell) value(m int) interface{} {
	if self == nil {
		return nil
	}
	return self.values[m]
}

// drilled views hide their grand totals, design mode still shows them empty
func (self *Table) totalsShown() bool {
	return !self.spec.Cross.Drilled || self.opts.Mode == query.ModeDesign
}

func (self *Table) totalsBlank() bool {
	return self.spec.Cross.Drilled && self.opts.Mode == query.ModeDesign
}

func (self *Table) isTotal(n *rowNode, c *column) bool {
	return c == nil || (n == self.root && self.depth > 0)
}

func (self *Table) leafCount() int {
	c := 0
	for _, n := range self.rows[self.depth] {
		if !n.dropped {
			c++
		}
	}
	return c
}

// output is the value of measure m in the cell (n, c) with percentages
// applied. A nil column designates the row total.
func (self *Table) output(n *rowNode, c *column, m int) interface{} {
	if self.totalsBlank() && self.isTotal(n, c) {
		return nil
	}
	v := n.at(c).value(m)
	a := self.spec.Aggregates[m]
	grand := self.root.total.value(m)

	switch a.Percentage {
	case query.PercentGrandTotal:
		return percent(v, grand)
	case query.PercentGroup:
		if self.spec.Cross.PercentDirection == query.PercentByRow {
			if self.colOrder.Len() <= 1 {
				return percent(v, grand)
			}
			return percent(v, n.total.value(m))
		}
		if self.leafCount() <= 1 {
			return percent(v, grand)
		}
		p := n.parent
		if p == nil {
			p = n
		}
		return percent(v, p.at(c).value(m))
	}
	return v
}

/* ----------------------------------------------------------------------------
 * Calc columns
 * ---------------------------------------------------------------------------*/

func accumulate(acc, v interface{}) interface{} {
	if v == nil {
		return acc
	}
	if acc == nil {
		return v
	}
	x, err := sql.Arith(sql.TkAdd, acc, v)
	if err != nil {
		return acc
	}
	return x
}

// calcValues computes the calc columns of a row along the column axis, one
// slice per column in display order, the last slice is the total column
func (self *Table) calcValues(n *rowNode, cols []*column) ([][]interface{}, error) {
	calcs := self.spec.Cross.CalcColumns
	out := make([][]interface{}, len(cols)+1)
	for i := range out {
		out[i] = make([]interface{}, len(calcs))
	}

	for k, cc := range calcs {
		switch cc.Kind {
		case query.CalcRunningTotal:
			var acc interface{}
			for i, c := range cols {
				acc = accumulate(acc, n.at(c).value(cc.Measure))
				out[i][k] = acc
			}

		case query.CalcPercentOfPrevious:
			var prev interface{}
			for i, c := range cols {
				v := n.at(c).value(cc.Measure)
				if i > 0 {
					out[i][k] = percent(v, prev)
				}
				prev = v
			}

		case query.CalcRank:
			for i, c := range cols {
				v := n.at(c).value(cc.Measure)
				if v == nil {
					continue
				}
				r := int64(1)
				for _, o := range cols {
					if x := n.at(o).value(cc.Measure); x != nil && table.Compare(x, v) > 0 {
						r++
					}
				}
				out[i][k] = r
			}

		case query.CalcExpression:
			for i := 0; i <= len(cols); i++ {
				var c *column
				if i < len(cols) {
					c = cols[i]
				}
				x := n.at(c)
				if x == nil {
					continue
				}
				inputs := map[string]interface{}{}
				for m, a := range self.spec.Aggregates {
					inputs[a.OutName()] = x.values[m]
				}
				v, err := self.opts.Script.Eval(cc.Expr, inputs)
				if err != nil {
					return nil, &query.ExpressionError{Expr: cc.Expr, Column: cc.Name, Err: err}
				}
				out[i][k] = table.Normalize(v)
			}
		}
	}
	return out, nil
}

/* ----------------------------------------------------------------------------
 * Flattening
 * ---------------------------------------------------------------------------*/

func (self *Table) label(c *column) string {
	if c.others {
		return table.String(c.value)
	}
	if lvl := self.dateLevel[self.depth]; lvl != query.LevelNone {
		if t, ok := c.value.(time.Time); ok {
			return lvl.Display(t)
		}
	}
	if c.value == nil {
		return "null"
	}
	return table.String(c.value)
}

func (self *Table) measureName(prefix string, m int) string {
	if len(self.spec.Aggregates) == 1 && len(self.spec.Cross.CalcColumns) == 0 {
		return prefix
	}
	return prefix + "_" + self.spec.Aggregates[m].OutName()
}

func (self *Table) measureType(m int) int {
	a := self.spec.Aggregates[m]
	if a.Percentage != query.PercentNone {
		return table.TypeFloat
	}
	switch a.Formula.Kind {
	case query.FormulaCount, query.FormulaDistinctCount:
		return table.TypeInt
	case query.FormulaCalc, query.FormulaSum:
		return table.TypeUnknown
	}
	if a.Formula.Numeric() {
		return table.TypeFloat
	}
	if idx := self.value[m]; idx >= 0 {
		return self.inSchema[idx].Type
	}
	return table.TypeUnknown
}

func calcType(cc query.CalcColumn) int {
	switch cc.Kind {
	case query.CalcRank:
		return table.TypeInt
	case query.CalcPercentOfPrevious:
		return table.TypeFloat
	}
	return table.TypeUnknown
}

func (self *Table) showColTotal() bool {
	return self.spec.Cross.ColGrandTotal && self.totalsShown()
}

func (self *Table) showRowTotal() bool {
	return self.spec.Cross.RowGrandTotal && self.depth > 0 && self.totalsShown()
}

// Schema is the flattened layout: row keys, one column per column value and
// measure, then the row total columns.
func (self *Table) Schema() table.Schema {
	if self.schema != nil {
		return self.schema
	}
	s := table.Schema{}
	for i := 0; i < self.depth; i++ {
		g := self.spec.Groups[i]
		ty := self.inSchema[self.group[i]].Type
		if ty != table.TypeString {
			ty = table.TypeUnknown
		}
		s = append(s, table.Column{Name: g.OutName(), Type: ty})
	}
	for _, c := range self.columns() {
		l := self.label(c)
		for m := range self.spec.Aggregates {
			s = append(s, table.Column{Name: self.measureName(l, m), Type: self.measureType(m)})
		}
		for _, cc := range self.spec.Cross.CalcColumns {
			s = append(s, table.Column{Name: l + "_" + cc.Name, Type: calcType(cc)})
		}
	}
	if self.showColTotal() {
		for m := range self.spec.Aggregates {
			s = append(s, table.Column{Name: self.measureName(TotalLabel, m), Type: self.measureType(m)})
		}
		for _, cc := range self.spec.Cross.CalcColumns {
			if cc.Kind == query.CalcExpression {
				s = append(s, table.Column{Name: TotalLabel + "_" + cc.Name, Type: table.TypeUnknown})
			}
		}
	}
	self.schema = s
	return s
}

func (self *Table) row(n *rowNode, keys []interface{}, cols []*column) (table.Row, error) {
	calc, err := self.calcValues(n, cols)
	if err != nil {
		return nil, err
	}
	r := table.Row{}
	r = append(r, keys...)
	for i, c := range cols {
		for m := range self.spec.Aggregates {
			r = append(r, self.output(n, c, m))
		}
		r = append(r, calc[i]...)
	}
	if self.showColTotal() {
		for m := range self.spec.Aggregates {
			r = append(r, self.output(n, nil, m))
		}
		for k, cc := range self.spec.Cross.CalcColumns {
			if cc.Kind != query.CalcExpression {
				continue
			}
			if self.totalsBlank() {
				r = append(r, nil)
			} else {
				r = append(r, calc[len(cols)][k])
			}
		}
	}
	return r, nil
}

func (self *Table) rowLess(a, b *rowNode) bool {
	if a.others != b.others {
		return b.others
	}
	l := a.level - 1
	o := self.spec.Groups[l].Order
	if l == self.depth-1 && self.spec.Cross.TimeSeries && o.Dir == query.SortOriginal && len(o.Named) == 0 {
		ta, oka := a.keys[l].(time.Time)
		tb, okb := b.keys[l].(time.Time)
		if oka && okb && !ta.Equal(tb) {
			return ta.Before(tb)
		}
	}
	return o.Less(a.keys[l], b.keys[l], a.ordinal, b.ordinal)
}

func (self *Table) markVisible(n *rowNode) bool {
	if n.dropped {
		n.visible = false
		return false
	}
	if n.level == self.depth {
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

func (self *Table) sorted(children []*rowNode) []*rowNode {
	out := []*rowNode{}
	for _, c := range children {
		if c.visible {
			out = append(out, c)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return self.rowLess(out[i], out[j])
	})
	return out
}

func (self *Table) build() error {
	if self.built {
		return nil
	}
	self.out = nil
	self.kinds = nil
	self.cursor = 0
	cols := self.columns()

	if self.depth == 0 {
		r, err := self.row(self.root, nil, cols)
		if err != nil {
			return err
		}
		self.emit(r, RowGroup)
		self.built = true
		return nil
	}

	self.markVisible(self.root)
	if err := self.walk(self.root, cols); err != nil {
		return err
	}
	if self.showRowTotal() && self.root.visible {
		keys := make([]interface{}, self.depth)
		keys[0] = GrandTotalLabel
		r, err := self.row(self.root, keys, cols)
		if err != nil {
			return err
		}
		self.emit(r, RowGrandTotal)
	}
	self.built = true
	return nil
}

func (self *Table) walk(n *rowNode, cols []*column) error {
	if n.level == self.depth {
		r, err := self.row(n, n.keys, cols)
		if err != nil {
			return err
		}
		self.emit(r, RowGroup)
		return nil
	}
	for _, c := range self.sorted(n.children) {
		if err := self.walk(c, cols); err != nil {
			return err
		}
		if c.level < self.depth && self.spec.Groups[c.level-1].Subtotal {
			keys := make([]interface{}, self.depth)
			copy(keys, c.keys[:c.level])
			keys[c.level] = TotalLabel
			r, err := self.row(c, keys, cols)
			if err != nil {
				return err
			}
			self.emit(r, RowSubtotal)
		}
	}
	return nil
}

func (self *Table) emit(r table.Row, kind int) {
	self.out = append(self.out, r)
	self.kinds = append(self.kinds, kind)
}

// Rows returns the flattened rows with their kinds
func (self *Table) Rows() ([]table.Row, []int, error) {
	if err := self.build(); err != nil {
		return nil, nil, err
	}
	return self.out, self.kinds, nil
}

func (self *Table) Memory() (*table.Memory, error) {
	rows, _, err := self.Rows()
	if err != nil {
		return nil, err
	}
	return table.NewMemory(self.Schema(), append([]table.Row{}, rows...)), nil
}

func (self *Table) Next() (table.Row, error) {
	if err := self.build(); err != nil {
		return nil, err
	}
	if self.cursor >= len(self.out) {
		return nil, nil
	}
	r := self.out[self.cursor]
	self.cursor++
	return r, nil
}

func (self *Table) RowCount() int {
	if !self.built {
		return -1
	}
	if self.cursor < len(self.out) {
		return -(self.cursor + 1)
	}
	return len(self.out)
}

func (self *Table) Close() error { return nil }

/* ----------------------------------------------------------------------------
 * Accessors
 * ---------------------------------------------------------------------------*/

// Cell returns measure m of a row path and column value. The row path may be
// a prefix of the row keys, which gives the subtotal cell of that prefix.
func (self *Table) Cell(row []interface{}, col interface{}, m int) interface{} {
	n := self.lookup(row)
	c := self.lookupColumn(col)
	if n == nil || c == nil {
		return nil
	}
	return self.output(n, c, m)
}

func (self *Table) RowTotal(row []interface{}, m int) interface{} {
	n := self.lookup(row)
	if n == nil {
		return nil
	}
	return self.output(n, nil, m)
}

func (self *Table) ColumnTotal(col interface{}, m int) interface{} {
	c := self.lookupColumn(col)
	if c == nil {
		return nil
	}
	return self.output(self.root, c, m)
}

func (self *Table) GrandTotal(m int) interface{} {
	return self.output(self.root, nil, m)
}

// OthersColumn returns the column holding the merged dropped column values, if any
func (self *Table) OthersColumn() (interface{}, bool) {
	for _, c := range self.cols {
		if c.others {
			return c.value, true
		}
	}
	return nil, false
}
