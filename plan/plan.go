package plan

import (
	"fmt"
	"strings"

	"github.com/dianpeng/xtab/query"
	"github.com/dianpeng/xtab/source"
)

const (
	DecisionPushdown = iota
	DecisionLocal
)

func DecisionName(k int) string {
	switch k {
	case DecisionPushdown:
		return "pushdown"
	case DecisionLocal:
		return "local"
	default:
		return "unknown"
	}
}

// Decision is the outcome of a classification. For a pushdown, Query is the
// rewritten clone, otherwise it is the input query and Reasons tells why.
type Decision struct {
	Kind    int
	Reasons []string
	Query   *query.LogicalQuery
}

func (self *Decision) Pushdown() bool { return self.Kind == DecisionPushdown }

func (self *Decision) String() string {
	if len(self.Reasons) == 0 {
		return DecisionName(self.Kind)
	}
	return fmt.Sprintf("%s: %s", DecisionName(self.Kind), strings.Join(self.Reasons, "; "))
}

type analyzer struct {
	scan    *query.Scan
	caps    source.Capabilities
	cols    *query.ColumnSet
	spec    *query.AggregateSpec
	reasons []string

	groups []query.PushedGroup
	conds  query.ConditionList
}

func (self *analyzer) reject(format string, args ...interface{}) {
	self.reasons = append(self.reasons, fmt.Sprintf(format, args...))
}

// Classify decides whether the query can be delegated to the source of its
// root Scan. It never modifies q.
func Classify(q *query.LogicalQuery, caps source.Capabilities) Decision {
	local := Decision{Kind: DecisionLocal, Query: q}

	scan, ok := q.Root.(*query.Scan)
	if !ok {
		local.Reasons = []string{fmt.Sprintf("root is a %s node, composed locally", query.Kind(q.Root))}
		return local
	}
	a := &analyzer{
		scan: scan,
		caps: caps,
		cols: scan.Columns,
		spec: scan.Aggregate,
	}

	if a.spec == nil || a.spec.Empty() {
		if len(scan.Pre) == 0 && !scan.Distinct {
			local.Reasons = []string{"nothing to push down"}
			return local
		}
		a.conditions()
		a.distinct()
		if len(a.reasons) > 0 {
			local.Reasons = a.reasons
			return local
		}
		return Decision{Kind: DecisionPushdown, Query: a.rewriteScan(q)}
	}

	a.formulas()
	a.totals()
	a.combinable()
	a.conditions()
	a.distinct()
	a.grouping()
	if len(a.reasons) > 0 {
		local.Reasons = a.reasons
		return local
	}
	return Decision{Kind: DecisionPushdown, Query: a.rewrite(q)}
}

/* ----------------------------------------------------------------------------
 * Rules
 * ---------------------------------------------------------------------------*/

// eligible tells whether the source can compute the aggregate itself
func (self *analyzer) eligible(a *query.AggregateRef) bool {
	switch a.Formula.Kind {
	case query.FormulaNone, query.FormulaFirst, query.FormulaLast, query.FormulaCalc:
		return false
	}
	if !self.caps.Supports(a.Formula.Kind) {
		return false
	}
	if _, ok := self.physical(a.Column); !ok {
		return false
	}
	if a.Secondary != "" {
		if _, ok := self.physical(a.Secondary); !ok {
			return false
		}
	}
	return true
}

func (self *analyzer) formulas() {
	for _, a := range self.spec.Aggregates {
		switch a.Formula.Kind {
		case query.FormulaNone, query.FormulaFirst, query.FormulaLast:
			self.reject("aggregate %q uses %s which depends on the row order", a.OutName(), a.Formula.Kind)
			continue
		case query.FormulaCalc:
			self.calc(a)
			continue
		}
		if !self.caps.Supports(a.Formula.Kind) {
			self.reject("source cannot compute %s for aggregate %q", a.Formula.Kind, a.OutName())
			continue
		}
		if _, ok := self.physical(a.Column); !ok {
			self.reject("aggregate %q uses column %q which is not a physical column", a.OutName(), a.Column)
		}
		if a.Secondary != "" {
			if _, ok := self.physical(a.Secondary); !ok {
				self.reject("aggregate %q uses column %q which is not a physical column", a.OutName(), a.Secondary)
			}
		}
	}
	if self.hasAvg() && self.spec.HasRanking() {
		self.reject("average combined with a ranking is computed locally")
	}
}

// calc checks that a calculated aggregate only references pushable aggregates
func (self *analyzer) calc(a *query.AggregateRef) {
	refs, err := query.CalcRefs(a)
	if err != nil {
		self.reject("calculated aggregate %q: %s", a.OutName(), err)
		return
	}
	for _, r := range refs {
		_, base := self.spec.Aggregate(r)
		if base == nil {
			self.reject("calculated aggregate %q references unknown aggregate %q", a.OutName(), r)
			continue
		}
		if base.Formula.Kind == query.FormulaCalc {
			continue
		}
		if !self.eligible(base) {
			self.reject("calculated aggregate %q references %q which is computed locally", a.OutName(), r)
		}
	}
}

func (self *analyzer) hasAvg() bool {
	for _, a := range self.spec.Aggregates {
		if a.Formula.Kind == query.FormulaAvg {
			return true
		}
	}
	return false
}

// nonTerminalRanking reports the ranked groups that rank by a total of
// several pushed rows
func (self *analyzer) nonTerminalRanking() []string {
	out := []string{}
	n := len(self.spec.Groups)
	for i, g := range self.spec.Groups {
		if g.Ranking == nil {
			continue
		}
		if self.spec.Crosstab {
			// the column key ranks by column totals
			if i == n-1 || i < n-2 {
				out = append(out, g.OutName())
			}
		} else if i < n-1 {
			out = append(out, g.OutName())
		}
	}
	return out
}

func (self *analyzer) totals() {
	if self.caps.AOA {
		return
	}
	for _, a := range self.spec.Aggregates {
		if a.Percentage == query.PercentGroup {
			self.reject("group percentage of %q needs aggregate on aggregate", a.OutName())
		}
	}
	for _, g := range self.spec.Groups {
		if g.Subtotal {
			self.reject("subtotal of %q needs aggregate on aggregate", g.OutName())
		}
	}
	if self.spec.GrandTotal {
		self.reject("grand total needs aggregate on aggregate")
	}
	if self.spec.Crosstab && (self.spec.Cross.RowGrandTotal || self.spec.Cross.ColGrandTotal) {
		self.reject("crosstab totals need aggregate on aggregate")
	}
	for _, g := range self.nonTerminalRanking() {
		self.reject("ranking of non terminal group %q needs aggregate on aggregate", g)
	}
}

// reaggregates tells whether some output aggregates several pushed rows
func (self *analyzer) reaggregates() bool {
	s := self.spec
	if s.GrandTotal || s.HasSubtotal() || len(self.nonTerminalRanking()) > 0 {
		return true
	}
	if s.Crosstab && (s.Cross.RowGrandTotal || s.Cross.ColGrandTotal) {
		return true
	}
	for _, a := range s.Aggregates {
		if a.Percentage != query.PercentNone {
			return true
		}
	}
	for _, g := range s.Groups {
		if len(g.Order.Named) > 0 || (g.Ranking != nil && g.Ranking.Others) {
			return true
		}
	}
	return false
}

func (self *analyzer) combinable() {
	if !self.reaggregates() {
		return
	}
	for _, a := range self.spec.Aggregates {
		if a.Formula.Kind == query.FormulaCalc {
			continue
		}
		if !Combinable(a.Formula) {
			self.reject("aggregate %q uses %s which cannot be combined into totals", a.OutName(), a.Formula.Kind)
		}
	}
}

func (self *analyzer) conditions() {
	if len(self.scan.Pre) == 0 {
		return
	}
	if !self.caps.Where {
		self.reject("source cannot filter")
		return
	}
	pushed, residual, err := SplitConditions(self.scan.Pre, self.cols, self.caps)
	if err != nil {
		self.reject("%s", err)
		return
	}
	for _, r := range residual {
		self.reject("condition %s cannot be expressed by the source", r)
	}
	self.conds = pushed
}

func (self *analyzer) distinct() {
	if !self.scan.Distinct {
		return
	}
	if !self.caps.Distinct {
		self.reject("source cannot compute distinct")
		return
	}
	for _, c := range self.cols.Columns() {
		if c.Derived() {
			self.reject("distinct over derived column %q is computed locally", c.Name)
		}
	}
}

func (self *analyzer) grouping() {
	if len(self.spec.Groups) > 0 && !self.caps.GroupBy {
		self.reject("source cannot group")
		return
	}
	for _, g := range self.spec.Groups {
		c := self.cols.Resolve(g.Column)
		if c == nil {
			self.reject("group column %q is not defined", g.Column)
			continue
		}
		switch c.Kind {
		case query.ColumnPhysical:
			self.groups = append(self.groups, query.PushedGroup{Name: g.Column, Column: c.Name})
		case query.ColumnDateRange:
			if !self.caps.DateLevels {
				self.reject("source cannot bucket dates for group %q", g.Column)
				continue
			}
			base, ok := self.physical(c.Base)
			if !ok {
				self.reject("date range group %q is not based on a physical column", g.Column)
				continue
			}
			self.groups = append(self.groups, query.PushedGroup{Name: g.Column, Column: base, Level: c.Level})
		default:
			self.reject("expression group %q is computed locally", g.Column)
		}
	}
}

func (self *analyzer) physical(name string) (string, bool) {
	c := self.cols.Resolve(name)
	if c == nil || c.Kind != query.ColumnPhysical {
		return "", false
	}
	return c.Name, true
}

/* ----------------------------------------------------------------------------
 * Rewrite
 * ---------------------------------------------------------------------------*/

func (self *analyzer) rewriteScan(q *query.LogicalQuery) *query.LogicalQuery {
	out := q.Clone()
	s := out.Root.(*query.Scan)
	s.Pushed = &query.PushdownSpec{
		Conditions: self.conds,
		Distinct:   self.scan.Distinct,
	}
	s.Pre = nil
	s.Distinct = false
	return out
}

func (self *analyzer) rewrite(q *query.LogicalQuery) *query.LogicalQuery {
	phys := func(n string) string {
		p, _ := self.physical(n)
		return p
	}
	s := Combined(self.scan)
	s.Pushed = &query.PushdownSpec{
		Groups:     self.groups,
		Aggregates: PushedAggregates(self.spec, phys),
		Conditions: self.conds,
		Distinct:   self.scan.Distinct,
	}
	out := q.Clone()
	out.Root = s
	return out
}
