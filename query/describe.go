package query

import (
	"bytes"
	"fmt"
	"sort"
	"strings"

	"github.com/dianpeng/xtab/table"
)

// Describe renders the node tree into a deterministic, indented text form.
// Two queries with the same description compute the same result.
func Describe(n Node) string {
	buf := &bytes.Buffer{}
	describe(n, 0, buf)
	return buf.String()
}

func indent(lvl int, buf *bytes.Buffer) {
	buf.WriteString(strings.Repeat("  ", lvl))
}

func describe(n Node, lvl int, buf *bytes.Buffer) {
	if n == nil {
		return
	}
	info := n.Info()
	indent(lvl, buf)
	fmt.Fprintf(buf, "%s %s", Kind(n), info.Name)

	switch x := n.(type) {
	case *Scan:
		fmt.Fprintf(buf, " source=%s", x.Source)
	case *Mirror:
		keys := make([]string, 0, len(x.Renames))
		for k := range x.Renames {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Fprintf(buf, " %s->%s", k, x.Renames[k])
		}
	case *Join:
		fmt.Fprintf(buf, " %s", JoinName(x.Kind))
		for _, k := range x.Keys {
			fmt.Fprintf(buf, " %s=%s", k.Left, k.Right)
		}
	case *Concatenate:
		if x.All {
			buf.WriteString(" all")
		}
	}
	buf.WriteString("\n")

	describeInfo(info, lvl+1, buf)
	if x, ok := n.(*Scan); ok && x.Pushed != nil {
		describePushed(x.Pushed, lvl+1, buf)
	}
	for _, c := range n.Children() {
		describe(c, lvl+1, buf)
	}
}

// describeColumn is the column with everything changing its output: type,
// visibility and presentation format
func describeColumn(c *ColumnRef) string {
	s := c.String()
	if c.Type != table.TypeUnknown {
		s += " :" + table.TypeName(c.Type)
	}
	if !c.Visible {
		s += " hidden"
	}
	if c.Format != "" {
		s += fmt.Sprintf(" format(%s)", c.Format)
	}
	return s
}

func describeInfo(info *NodeInfo, lvl int, buf *bytes.Buffer) {
	line := func(f string, args ...interface{}) {
		indent(lvl, buf)
		fmt.Fprintf(buf, f, args...)
		buf.WriteString("\n")
	}

	if info.Columns.Len() > 0 {
		cols := []string{}
		for _, c := range info.Columns.Columns() {
			cols = append(cols, describeColumn(c))
		}
		line("columns: %s", strings.Join(cols, ", "))
	}
	if len(info.Pre) > 0 {
		line("where: %s", info.Pre.Expr())
	}
	if info.Distinct {
		line("distinct")
	}
	if a := info.Aggregate; !a.Empty() {
		kind := "summary"
		if a.Crosstab {
			kind = "crosstab"
		}
		groups := []string{}
		for _, g := range a.Groups {
			s := g.Column
			if g.Name != "" && g.Name != g.Column {
				s += " as " + g.Name
			}
			if g.Ranking != nil {
				dir := "bottom"
				if g.Ranking.Top {
					dir = "top"
				}
				s += fmt.Sprintf(" %s %d by #%d", dir, g.Ranking.N, g.Ranking.Measure)
				if g.Ranking.KeepTies {
					s += " ties"
				}
				if g.Ranking.Others {
					s += " others"
				}
			}
			if o := g.Order; o.Dir != SortOriginal || o.Interval != LevelNone || len(o.Named) > 0 {
				s += fmt.Sprintf(" order(%d,%s", o.Dir, o.Interval)
				for _, ng := range o.Named {
					s += fmt.Sprintf(",%s=%v", ng.Label, ng.Values)
				}
				if o.Others {
					s += ",others=" + o.OthersName()
				}
				s += ")"
			}
			if g.Subtotal {
				s += " subtotal"
			}
			groups = append(groups, s)
		}
		aggs := []string{}
		for _, x := range a.Aggregates {
			s := fmt.Sprintf("%s(%s", x.Formula, x.Column)
			if x.Secondary != "" {
				s += "," + x.Secondary
			}
			s += ")"
			if x.Percentage != PercentNone {
				s += " %" + PercentName(x.Percentage)
			}
			aggs = append(aggs, s+" as "+x.OutName())
		}
		line("%s: group(%s) aggregate(%s)", kind, strings.Join(groups, ", "), strings.Join(aggs, ", "))
		if a.GrandTotal {
			line("grand total")
		}
		if a.Crosstab {
			line("crosstab options: %+v", a.Cross)
		}
	}
	if len(info.Sort) > 0 {
		keys := []string{}
		for _, s := range info.Sort {
			d := "asc"
			if s.Dir == SortDesc {
				d = "desc"
			}
			keys = append(keys, s.Column+" "+d)
		}
		line("order by: %s", strings.Join(keys, ", "))
	}
	if len(info.Post) > 0 {
		line("having: %s", info.Post.Expr())
	}
	if info.MaxRows > 0 {
		line("max rows: %d", info.MaxRows)
	}
}

func describePushed(p *PushdownSpec, lvl int, buf *bytes.Buffer) {
	parts := []string{}
	for _, g := range p.Groups {
		if g.Level != LevelNone {
			parts = append(parts, fmt.Sprintf("%s=%s(%s)", g.Name, g.Level, g.Column))
		} else {
			parts = append(parts, g.Name)
		}
	}
	aggs := []string{}
	for _, a := range p.Aggregates {
		col := a.Column
		if a.Secondary != "" {
			col += "," + a.Secondary
		}
		aggs = append(aggs, fmt.Sprintf("%s=%s(%s)", a.Name, a.Formula, col))
	}
	indent(lvl, buf)
	fmt.Fprintf(buf, "pushed: group(%s) aggregate(%s)", strings.Join(parts, ", "), strings.Join(aggs, ", "))
	if len(p.Conditions) > 0 {
		fmt.Fprintf(buf, " where %s", p.Conditions.Expr())
	}
	if p.Distinct {
		buf.WriteString(" distinct")
	}
	buf.WriteString("\n")
}
