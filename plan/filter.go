package plan

import (
	"github.com/dianpeng/xtab/query"
	"github.com/dianpeng/xtab/source"
	"github.com/dianpeng/xtab/sql"
)

// ----------------------------------------------------------------------------
//
// Early filter splits the pre conditions of a scan into the part the source
// can evaluate and the residual part the engine evaluates. Each condition is
// first split on its top level AND, then every conjunct is classified with a
// small data flow over its expression tree, walked in post order. A node is
// in one of 3 states
//
//  1) static, it evaluates to the same value for every row, ie a constant or
//     a variable, which is bound before the condition runs
//
//  2) known, it only needs physical columns of the scanned table and operators
//     the source can express
//
//  3) unknown, it needs a derived column or an operator the source can't
//     express
//
// The meet of the children of a node is unknown as soon as one child is
// unknown, static only when every child is static and known otherwise. A call
// to a function the source can't evaluate is unknown whatever its arguments.
//
// A static or known conjunct is pushed with its column references rewritten
// to the physical column names, every other conjunct stays local.
//
// ----------------------------------------------------------------------------

const (
	efStatic = iota
	efKnown
	efUnknown
)

type earlyFilter struct {
	cols *query.ColumnSet
}

func meet(states ...int) int {
	out := efStatic
	for _, s := range states {
		if s == efUnknown {
			return efUnknown
		}
		if s == efKnown {
			out = efKnown
		}
	}
	return out
}

// physical returns the physical column a reference resolves to
func (self *earlyFilter) physical(name string) (string, bool) {
	c := self.cols.Resolve(name)
	if c == nil || c.Kind != query.ColumnPhysical {
		return "", false
	}
	return c.Name, true
}

func (self *earlyFilter) state(e sql.Expr) int {
	switch x := e.(type) {
	case *sql.Const, *sql.Var:
		return efStatic
	case *sql.Ref:
		if _, ok := self.physical(x.Id); ok {
			return efKnown
		}
		return efUnknown
	case *sql.Call:
		if ok, _ := sql.Portable(x); !ok {
			return efUnknown
		}
		states := []int{efStatic}
		for _, p := range x.Parameters {
			states = append(states, self.state(p))
		}
		return meet(states...)
	case *sql.Unary:
		return self.state(x.Operand)
	case *sql.Binary:
		return meet(self.state(x.L), self.state(x.R))
	case *sql.Ternary:
		return efUnknown
	case *sql.Case:
		states := []int{}
		for _, w := range x.When {
			states = append(states, self.state(w.Cond), self.state(w.Value))
		}
		if x.Else != nil {
			states = append(states, self.state(x.Else))
		}
		return meet(states...)
	default:
		return efUnknown
	}
}

// SplitConditions returns the conjuncts of conds the source can evaluate,
// rewritten to physical column names, and the residual conjuncts.
func SplitConditions(conds query.ConditionList, cols *query.ColumnSet, caps source.Capabilities) (query.ConditionList, query.ConditionList, error) {
	pushed, residual := query.ConditionList{}, query.ConditionList{}
	ef := &earlyFilter{cols: cols}

	for _, c := range conds {
		e, err := sql.ParseExpr(c)
		if err != nil {
			return nil, nil, &query.ExpressionError{Expr: c, Err: err}
		}
		for _, conj := range sql.Conjuncts(e) {
			if !caps.Where || ef.state(conj) == efUnknown {
				residual = append(residual, sql.PrintExpr(conj))
				continue
			}
			renamed := sql.RenameRefs(conj, func(n string) string {
				p, _ := ef.physical(n)
				return p
			})
			pushed = append(pushed, sql.PrintExpr(renamed))
		}
	}
	return pushed, residual, nil
}
