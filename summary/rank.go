package summary

import (
	"sort"

	"github.com/dianpeng/xtab/query"
	"github.com/dianpeng/xtab/table"
)

// Rank applies the ranking condition of every group level, outer levels first.
//
// For a level l, the siblings below each prefix of the first l keys are ranked
// by the measure value of their own prefix and the best N are kept. With
// KeepTies, groups equal to the N-th are kept as well. Dropped siblings either
// disappear or, when Others is set, are merged into a single Others group that
// sorts last. Totals are not affected, they always cover every input row.
func (self *Table) Rank() error {
	changed := false
	for l, g := range self.spec.Groups {
		if g.Ranking == nil {
			continue
		}
		self.markVisible(self.root)
		for _, p := range self.levelNodes(l) {
			if p.dropped {
				continue
			}
			ok, err := self.rankChildren(p, g)
			if err != nil {
				return err
			}
			changed = changed || ok
		}
	}
	if changed {
		self.built = false
	}
	return nil
}

// levelNodes returns the nodes of a level in creation order
func (self *Table) levelNodes(l int) []*node {
	out := make([]*node, 0, len(self.levels[l]))
	for _, n := range self.levels[l] {
		out = append(out, n)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ordinal < out[j].ordinal })
	return out
}

func (self *Table) rankChildren(p *node, g *query.GroupRef) (bool, error) {
	r := g.Ranking
	cand := []*node{}
	for _, c := range p.children {
		if !c.dropped && c.visible && !c.others {
			cand = append(cand, c)
		}
	}
	if r.N >= len(cand) {
		return false, nil
	}

	sort.SliceStable(cand, func(i, j int) bool {
		return rankLess(cand[i].values[r.Measure], cand[j].values[r.Measure], r.Top)
	})

	keep := r.N
	if r.KeepTies && keep > 0 {
		last := cand[keep-1].values[r.Measure]
		for keep < len(cand) && table.Equal(cand[keep].values[r.Measure], last) {
			keep++
		}
	}
	drop := cand[keep:]
	if len(drop) == 0 {
		return false, nil
	}

	for _, c := range drop {
		markDropped(c)
	}
	if r.Others {
		if err := self.others(p, drop, g.Order.OthersName()); err != nil {
			return false, err
		}
	}
	return true, nil
}

// rankLess puts the better value first, nil always ranks last
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

func markDropped(n *node) {
	n.dropped = true
	for _, c := range n.children {
		markDropped(c)
	}
}

// others builds the Others chain below p: one node per remaining level, each
// carrying the merged states of the dropped nodes of that level.
func (self *Table) others(p *node, drop []*node, label string) error {
	parent := p
	level := drop
	for l := p.level + 1; l <= self.depth(); l++ {
		keys := make([]interface{}, self.depth())
		copy(keys, p.keys[:p.level])
		keys[p.level] = label

		key := parent.key + "\x00" + table.Key(label) + "\x01others"
		o := self.newNode(l, keys, key, parent)
		o.others = true
		o.visible = true
		self.levels[l][key] = o

		next := []*node{}
		for _, d := range level {
			for i, s := range d.states {
				if s != nil {
					o.states[i].Merge(s)
				}
			}
			next = append(next, d.children...)
		}
		if err := self.compute(o); err != nil {
			return err
		}
		parent = o
		level = next
	}
	return nil
}
