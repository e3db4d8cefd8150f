package crosstab

import (
	"sort"
	"time"

	"github.com/dianpeng/xtab/query"
	"github.com/dianpeng/xtab/table"
)

/* ----------------------------------------------------------------------------
 * Time series continuity
 * ---------------------------------------------------------------------------*/

func span(lvl query.DateLevel, values []interface{}) []time.Time {
	var lo, hi time.Time
	found := false
	for _, v := range values {
		t, ok := v.(time.Time)
		if !ok {
			continue
		}
		if !found || t.Before(lo) {
			lo = t
		}
		if !found || t.After(hi) {
			hi = t
		}
		found = true
	}
	if !found {
		return nil
	}
	out := []time.Time{}
	for t := lvl.Bucket(lo); !t.After(hi); t = lvl.Next(t) {
		out = append(out, t)
	}
	return out
}

// fill adds the date buckets missing between the observed min and max of the
// column key and of the innermost row key. Filled cells are empty.
func (self *Table) fill() {
	if lvl := self.dateLevel[self.depth]; lvl != query.LevelNone {
		seen := []interface{}{}
		for _, c := range self.cols {
			seen = append(seen, c.value)
		}
		for _, t := range span(lvl, seen) {
			self.column(t)
		}
	}

	if self.depth == 0 {
		return
	}
	l := self.depth - 1
	lvl := self.dateLevel[l]
	if lvl == query.LevelNone {
		return
	}
	seen := []interface{}{}
	for _, n := range self.rows[self.depth] {
		seen = append(seen, n.keys[l])
	}
	buckets := span(lvl, seen)
	for _, p := range self.levelRows(l) {
		for _, t := range buckets {
			key := p.key + "\x00" + table.Key(t)
			if _, ok := self.rows[self.depth][key]; ok {
				continue
			}
			k := make([]interface{}, self.depth)
			copy(k, p.keys[:l])
			k[l] = t
			self.rows[self.depth][key] = self.newRow(self.depth, k, key, p)
		}
	}
}

func (self *Table) levelRows(l int) []*rowNode {
	out := make([]*rowNode, 0, len(self.rows[l]))
	for _, n := range self.rows[l] {
		out = append(out, n)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ordinal < out[j].ordinal })
	return out
}

/* ----------------------------------------------------------------------------
 * Ranking
 * ---------------------------------------------------------------------------*/

// rank applies the ranking condition of the innermost key of each axis. The
// column axis ranks column values by their column total, the row axis ranks
// the innermost row key per parent path by the row total. Totals are left as
// they are.
func (self *Table) rank() error {
	if r := self.spec.Groups[self.depth].Ranking; r != nil {
		if err := self.rankColumns(self.spec.Groups[self.depth]); err != nil {
			return err
		}
	}
	if self.depth > 0 {
		g := self.spec.Groups[self.depth-1]
		if g.Ranking != nil {
			for _, p := range self.levelRows(self.depth - 1) {
				if err := self.rankRows(p, g); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

func rankLess(a, b interface{}, top bool) bool {
	if a == nil || b == nil {
		return a != nil && b == nil
	}
	c := table.Compare(a, b)
	if top {
		return c > 0
	}
	return c < 0
}

// cut returns how many of the sorted candidates are kept
func cut(r *query.RankingCondition, n int, value func(int) interface{}) int {
	keep := r.N
	if r.KeepTies && keep > 0 {
		last := value(keep - 1)
		for keep < n && table.Equal(value(keep), last) {
			keep++
		}
	}
	return keep
}

func (self *Table) rankColumns(g *query.GroupRef) error {
	r := g.Ranking
	cand := self.columns()
	if r.N >= len(cand) {
		return nil
	}
	total := func(c *column) interface{} {
		if x, ok := self.root.cells[c.key]; ok {
			return x.values[r.Measure]
		}
		return nil
	}
	sort.SliceStable(cand, func(i, j int) bool {
		return rankLess(total(cand[i]), total(cand[j]), r.Top)
	})
	keep := cut(r, len(cand), func(i int) interface{} { return total(cand[i]) })
	drop := cand[keep:]
	if len(drop) == 0 {
		return nil
	}

	var others *column
	if r.Others {
		label := g.Order.OthersName()
		others = &column{key: table.Key(label) + "\x01others", value: label, ordinal: self.ncols, others: true}
		self.ncols++
	}
	for _, c := range drop {
		self.colOrder.Delete(c)
		delete(self.cols, c.key)
	}
	if others == nil {
		self.dropCells(drop)
		return nil
	}

	self.cols[others.key] = others
	self.colOrder.ReplaceOrInsert(others)
	for _, lvl := range self.rows {
		for _, n := range lvl {
			o := self.newCell()
			for _, c := range drop {
				if x, ok := n.cells[c.key]; ok {
					self.merge(o, x, true)
				}
			}
			n.cells[others.key] = o
			if err := self.compute(o); err != nil {
				return err
			}
		}
	}
	self.dropCells(drop)
	return nil
}

func (self *Table) dropCells(drop []*column) {
	for _, lvl := range self.rows {
		for _, n := range lvl {
			for _, c := range drop {
				delete(n.cells, c.key)
			}
		}
	}
	self.built = false
}

func (self *Table) rankRows(p *rowNode, g *query.GroupRef) error {
	r := g.Ranking
	cand := []*rowNode{}
	for _, c := range p.children {
		if !c.dropped && !c.others {
			cand = append(cand, c)
		}
	}
	if r.N >= len(cand) {
		return nil
	}
	sort.SliceStable(cand, func(i, j int) bool {
		return rankLess(cand[i].total.values[r.Measure], cand[j].total.values[r.Measure], r.Top)
	})
	keep := cut(r, len(cand), func(i int) interface{} { return cand[i].total.values[r.Measure] })
	drop := cand[keep:]
	if len(drop) == 0 {
		return nil
	}
	for _, c := range drop {
		c.dropped = true
	}
	self.built = false
	if !r.Others {
		return nil
	}

	label := g.Order.OthersName()
	l := self.depth - 1
	keys := make([]interface{}, self.depth)
	copy(keys, p.keys[:l])
	keys[l] = label
	key := p.key + "\x00" + table.Key(label) + "\x01others"

	o := self.newRow(self.depth, keys, key, p)
	o.others = true
	self.rows[self.depth][key] = o
	for _, d := range drop {
		for k, c := range d.cells {
			self.merge(o.cell(self, k), c, true)
		}
		self.merge(o.total, d.total, true)
	}
	return self.computeRow(o)
}
