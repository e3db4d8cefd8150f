package summary

import (
	"sort"

	"github.com/dianpeng/xtab/query"
	"github.com/dianpeng/xtab/table"
)

// Sort orders the groups by output columns. Sorting is hierarchical, siblings
// are reordered inside their parent and subtotal rows stay after the groups
// they total. A key naming a group column orders that group level, a key naming
// an aggregate orders every level by the aggregate value of the prefix. Group
// order is the tie breaker.
func (self *Table) Sort(spec query.SortSpec) error {
	for _, s := range spec {
		if self.groupIndex(s.Column) < 0 && self.measureIndex(s.Column) < 0 {
			return query.ColumnNotFound("sort", s.Column)
		}
	}
	self.sort = spec
	self.built = false
	return nil
}

func (self *Table) groupIndex(name string) int {
	for i, g := range self.spec.Groups {
		if g.OutName() == name {
			return i
		}
	}
	return -1
}

func (self *Table) measureIndex(name string) int {
	i, _ := self.spec.Aggregate(name)
	return i
}

// less orders two siblings whose level l-1 keys, ie keys[l-1], differ
func (self *Table) less(a, b *node) bool {
	if a.others != b.others {
		return b.others
	}
	l := a.level - 1
	out := func(n *node) []interface{} { return self.output(n) }

	for _, s := range self.sort {
		c := 0
		if g := self.groupIndex(s.Column); g >= 0 {
			if g != l {
				continue
			}
			c = self.compareKey(l, a.keys[l], b.keys[l])
		} else if m := self.measureIndex(s.Column); m >= 0 {
			c = table.Compare(out(a)[m], out(b)[m])
		}
		if s.Dir == query.SortDesc {
			c = -c
		}
		if c != 0 {
			return c < 0
		}
	}
	return self.groupLess(l, a, b)
}

func (self *Table) groupLess(l int, a, b *node) bool {
	return self.spec.Groups[l].Order.Less(a.keys[l], b.keys[l], a.ordinal, b.ordinal)
}

func (self *Table) compareKey(l int, a, b interface{}) int {
	return self.spec.Groups[l].Order.CompareKey(a, b)
}

func (self *Table) sorted(children []*node) []*node {
	out := []*node{}
	for _, c := range children {
		if !c.dropped && c.visible {
			out = append(out, c)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return self.less(out[i], out[j])
	})
	return out
}
