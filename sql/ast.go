package sql

import (
	"bytes"
	"fmt"
	"strings"
)

const (
	ConstNull = iota
	ConstBool
	ConstStr
	ConstInt
	ConstReal
)

const (
	ExprConst = iota
	ExprRef
	ExprVar
	ExprCall
	ExprUnary
	ExprBinary
	ExprTernary
	ExprCase
)

type CodeInfo struct {
	Start   int
	End     int
	Snippet string
}

/** -------------------------------------------------------------------------
 ** Expression
 ** -----------------------------------------------------------------------*/
type Const struct {
	Ty       int
	Bool     bool
	String   string
	Real     float64
	Int      int64
	CodeInfo CodeInfo
}

// Ref names a column, or an aggregate when the expression is a calculated
// field evaluated over sibling aggregates.
type Ref struct {
	Id       string
	CodeInfo CodeInfo
}

// Var is a $name placeholder resolved by the variable table.
type Var struct {
	Id       string
	CodeInfo CodeInfo
}

type Call struct {
	Name       string // lower case
	Parameters []Expr
	CodeInfo   CodeInfo
}

type Unary struct {
	Op       []int
	Operand  Expr
	CodeInfo CodeInfo
}

type Binary struct {
	Op       int
	L        Expr
	R        Expr
	CodeInfo CodeInfo
}

type Ternary struct {
	Cond     Expr
	B0       Expr
	B1       Expr
	CodeInfo CodeInfo
}

type CaseWhen struct {
	Cond  Expr
	Value Expr
}

type Case struct {
	When     []CaseWhen
	Else     Expr // can be nil
	CodeInfo CodeInfo
}

type Expr interface {
	Type() int
	CInfo() CodeInfo
}

func (self *Const) Type() int       { return ExprConst }
func (self *Const) CInfo() CodeInfo { return self.CodeInfo }

func (self *Ref) Type() int       { return ExprRef }
func (self *Ref) CInfo() CodeInfo { return self.CodeInfo }

func (self *Var) Type() int       { return ExprVar }
func (self *Var) CInfo() CodeInfo { return self.CodeInfo }

func (self *Call) Type() int       { return ExprCall }
func (self *Call) CInfo() CodeInfo { return self.CodeInfo }

func (self *Unary) Type() int       { return ExprUnary }
func (self *Unary) CInfo() CodeInfo { return self.CodeInfo }

func (self *Binary) Type() int       { return ExprBinary }
func (self *Binary) CInfo() CodeInfo { return self.CodeInfo }

func (self *Ternary) Type() int       { return ExprTernary }
func (self *Ternary) CInfo() CodeInfo { return self.CodeInfo }

func (self *Case) Type() int       { return ExprCase }
func (self *Case) CInfo() CodeInfo { return self.CodeInfo }

/* ----------------------------------------------------------------------------
 * Visitor
 * ---------------------------------------------------------------------------*/

// ExprVisitor's accept function returns whether the walker should descend into
// the children of the visited node, only meaningful for pre-order walking.
type ExprVisitor interface {
	AcceptConst(*Const) (bool, error)
	AcceptRef(*Ref) (bool, error)
	AcceptVar(*Var) (bool, error)
	AcceptCall(*Call) (bool, error)
	AcceptUnary(*Unary) (bool, error)
	AcceptBinary(*Binary) (bool, error)
	AcceptTernary(*Ternary) (bool, error)
	AcceptCase(*Case) (bool, error)
}

func children(expr Expr) []Expr {
	switch expr.Type() {
	case ExprCall:
		return expr.(*Call).Parameters
	case ExprUnary:
		return []Expr{expr.(*Unary).Operand}
	case ExprBinary:
		b := expr.(*Binary)
		return []Expr{b.L, b.R}
	case ExprTernary:
		t := expr.(*Ternary)
		return []Expr{t.Cond, t.B0, t.B1}
	case ExprCase:
		c := expr.(*Case)
		out := []Expr{}
		for _, w := range c.When {
			out = append(out, w.Cond, w.Value)
		}
		if c.Else != nil {
			out = append(out, c.Else)
		}
		return out
	default:
		return nil
	}
}

func accept(visitor ExprVisitor, expr Expr) (bool, error) {
	switch expr.Type() {
	case ExprConst:
		return visitor.AcceptConst(expr.(*Const))
	case ExprRef:
		return visitor.AcceptRef(expr.(*Ref))
	case ExprVar:
		return visitor.AcceptVar(expr.(*Var))
	case ExprCall:
		return visitor.AcceptCall(expr.(*Call))
	case ExprUnary:
		return visitor.AcceptUnary(expr.(*Unary))
	case ExprBinary:
		return visitor.AcceptBinary(expr.(*Binary))
	case ExprTernary:
		return visitor.AcceptTernary(expr.(*Ternary))
	case ExprCase:
		return visitor.AcceptCase(expr.(*Case))
	default:
		return false, nil
	}
}

func VisitExprPreOrder(
	visitor ExprVisitor,
	expr Expr,
) error {
	goon, err := accept(visitor, expr)
	if err != nil {
		return err
	}
	if !goon {
		return nil
	}
	for _, x := range children(expr) {
		if err := VisitExprPreOrder(visitor, x); err != nil {
			return err
		}
	}
	return nil
}

func VisitExprPostOrder(
	visitor ExprVisitor,
	expr Expr,
) error {
	for _, x := range children(expr) {
		if err := VisitExprPostOrder(visitor, x); err != nil {
			return err
		}
	}
	_, err := accept(visitor, expr)
	return err
}

// ExprVisitorBase descends into everything and does nothing, embed it to only
// override the interesting accept function.
type ExprVisitorBase struct{}

func (ExprVisitorBase) AcceptConst(*Const) (bool, error)     { return true, nil }
func (ExprVisitorBase) AcceptRef(*Ref) (bool, error)         { return true, nil }
func (ExprVisitorBase) AcceptVar(*Var) (bool, error)         { return true, nil }
func (ExprVisitorBase) AcceptCall(*Call) (bool, error)       { return true, nil }
func (ExprVisitorBase) AcceptUnary(*Unary) (bool, error)     { return true, nil }
func (ExprVisitorBase) AcceptBinary(*Binary) (bool, error)   { return true, nil }
func (ExprVisitorBase) AcceptTernary(*Ternary) (bool, error) { return true, nil }
func (ExprVisitorBase) AcceptCase(*Case) (bool, error)       { return true, nil }

/* ----------------------------------------------------------------------------
 * Clone
 * ---------------------------------------------------------------------------*/

func cloneExprList(in []Expr) []Expr {
	if in == nil {
		return nil
	}
	out := make([]Expr, 0, len(in))
	for _, x := range in {
		out = append(out, cloneExpr(x))
	}
	return out
}

func cloneExpr(
	in Expr,
) Expr {
	if in == nil {
		return nil
	}
	switch in.Type() {
	case ExprConst:
		value := *in.(*Const)
		return &value
	case ExprRef:
		value := *in.(*Ref)
		return &value
	case ExprVar:
		value := *in.(*Var)
		return &value
	case ExprCall:
		c := in.(*Call)
		return &Call{
			Name:       c.Name,
			Parameters: cloneExprList(c.Parameters),
			CodeInfo:   c.CodeInfo,
		}
	case ExprUnary:
		u := in.(*Unary)
		return &Unary{
			Op:       append([]int{}, u.Op...),
			Operand:  cloneExpr(u.Operand),
			CodeInfo: u.CodeInfo,
		}
	case ExprBinary:
		b := in.(*Binary)
		return &Binary{
			Op:       b.Op,
			L:        cloneExpr(b.L),
			R:        cloneExpr(b.R),
			CodeInfo: b.CodeInfo,
		}
	case ExprTernary:
		t := in.(*Ternary)
		return &Ternary{
			Cond:     cloneExpr(t.Cond),
			B0:       cloneExpr(t.B0),
			B1:       cloneExpr(t.B1),
			CodeInfo: t.CodeInfo,
		}
	case ExprCase:
		c := in.(*Case)
		out := &Case{
			Else:     cloneExpr(c.Else),
			CodeInfo: c.CodeInfo,
		}
		for _, w := range c.When {
			out.When = append(out.When, CaseWhen{
				Cond:  cloneExpr(w.Cond),
				Value: cloneExpr(w.Value),
			})
		}
		return out
	default:
		return nil
	}
}

func CloneExpr(in Expr) Expr {
	return cloneExpr(in)
}

/* ----------------------------------------------------------------------------
 * Printing
 * ---------------------------------------------------------------------------*/

// Stringify the AST. The output can be parsed back into the same expression,
// binary nodes are always parenthesized.

func printIdent(id string, buf *bytes.Buffer) {
	plain := len(id) > 0
	for i, r := range id {
		if !(r == '_' || (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') ||
			(i > 0 && r >= '0' && r <= '9')) {
			plain = false
			break
		}
	}
	if _, isKeyword := keywords[toLowerASCII(id)]; isKeyword {
		plain = false
	}
	if plain {
		buf.WriteString(id)
	} else {
		buf.WriteString("`")
		buf.WriteString(id)
		buf.WriteString("`")
	}
}

func doPrintExprConst(c *Const, buf *bytes.Buffer) {
	switch c.Ty {
	case ConstBool:
		buf.WriteString(fmt.Sprintf("%t", c.Bool))
	case ConstStr:
		buf.WriteString(fmt.Sprintf("%q", c.String))
	case ConstInt:
		buf.WriteString(fmt.Sprintf("%d", c.Int))
	case ConstReal:
		buf.WriteString(fmt.Sprintf("%f", c.Real))
	default:
		buf.WriteString("null")
	}
}

func OpString(op int) string {
	switch op {
	case TkAdd:
		return "+"
	case TkSub:
		return "-"
	case TkMul:
		return "*"
	case TkDiv:
		return "/"
	case TkMod:
		return "%"
	case TkLt:
		return "<"
	case TkLe:
		return "<="
	case TkGt:
		return ">"
	case TkGe:
		return ">="
	case TkEq:
		return "=="
	case TkNe:
		return "!="
	case TkAnd:
		return "and"
	case TkOr:
		return "or"
	case TkNot:
		return "!"
	case TkLike:
		return "like"
	default:
		return "?"
	}
}

func doPrintExpr(expr Expr, buf *bytes.Buffer) {
	switch expr.Type() {
	case ExprConst:
		doPrintExprConst(expr.(*Const), buf)

	case ExprRef:
		printIdent(expr.(*Ref).Id, buf)

	case ExprVar:
		buf.WriteString("$")
		buf.WriteString(expr.(*Var).Id)

	case ExprCall:
		c := expr.(*Call)
		buf.WriteString(c.Name)
		buf.WriteString("(")
		for idx, p := range c.Parameters {
			if idx > 0 {
				buf.WriteString(", ")
			}
			doPrintExpr(p, buf)
		}
		buf.WriteString(")")

	case ExprUnary:
		u := expr.(*Unary)
		for _, o := range u.Op {
			buf.WriteString(OpString(o))
		}
		doPrintExpr(u.Operand, buf)

	case ExprBinary:
		b := expr.(*Binary)
		buf.WriteString("(")
		doPrintExpr(b.L, buf)
		buf.WriteString(" ")
		buf.WriteString(OpString(b.Op))
		buf.WriteString(" ")
		doPrintExpr(b.R, buf)
		buf.WriteString(")")

	case ExprTernary:
		t := expr.(*Ternary)
		buf.WriteString("(")
		doPrintExpr(t.Cond, buf)
		buf.WriteString(" ? ")
		doPrintExpr(t.B0, buf)
		buf.WriteString(" : ")
		doPrintExpr(t.B1, buf)
		buf.WriteString(")")

	case ExprCase:
		c := expr.(*Case)
		buf.WriteString("case")
		for _, w := range c.When {
			buf.WriteString(" when ")
			doPrintExpr(w.Cond, buf)
			buf.WriteString(" then ")
			doPrintExpr(w.Value, buf)
		}
		if c.Else != nil {
			buf.WriteString(" else ")
			doPrintExpr(c.Else, buf)
		}
		buf.WriteString(" end")
	}
}

func PrintExpr(expr Expr) string {
	buf := &bytes.Buffer{}
	doPrintExpr(expr, buf)
	return buf.String()
}

/* ----------------------------------------------------------------------------
 * Analysis helpers
 * ---------------------------------------------------------------------------*/

type refCollector struct {
	ExprVisitorBase
	seen map[string]bool
	refs []string
	vars []string
	isVar bool
}

func (self *refCollector) add(id string, list *[]string) {
	key := id
	if self.isVar {
		key = "$" + id
	}
	if !self.seen[key] {
		self.seen[key] = true
		*list = append(*list, id)
	}
}

func (self *refCollector) AcceptRef(r *Ref) (bool, error) {
	self.isVar = false
	self.add(r.Id, &self.refs)
	return true, nil
}

func (self *refCollector) AcceptVar(v *Var) (bool, error) {
	self.isVar = true
	self.add(v.Id, &self.vars)
	return true, nil
}

func collect(expr Expr) *refCollector {
	c := &refCollector{seen: make(map[string]bool)}
	VisitExprPreOrder(c, expr)
	return c
}

// Refs returns the column names referenced by the expression, in order of
// first appearance.
func Refs(expr Expr) []string {
	return collect(expr).refs
}

// Vars returns the variable names referenced by the expression.
func Vars(expr Expr) []string {
	return collect(expr).vars
}

// BindVariables returns a copy of the expression with every variable replaced
// by its constant value looked up from vars.
func BindVariables(expr Expr, vars map[string]interface{}) (Expr, error) {
	var err error
	out := rewrite(cloneExpr(expr), func(e Expr) Expr {
		v, ok := e.(*Var)
		if !ok {
			return e
		}
		value, found := vars[v.Id]
		if !found {
			if err == nil {
				err = fmt.Errorf("variable $%s is not defined", v.Id)
			}
			return e
		}
		c, cerr := ConstOf(value)
		if cerr != nil && err == nil {
			err = fmt.Errorf("variable $%s: %s", v.Id, cerr)
		}
		c.CodeInfo = v.CodeInfo
		return c
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// RenameRefs returns a copy with column references renamed through fn.
func RenameRefs(expr Expr, fn func(string) string) Expr {
	return rewrite(cloneExpr(expr), func(e Expr) Expr {
		if r, ok := e.(*Ref); ok {
			r.Id = fn(r.Id)
		}
		return e
	})
}

// rewrite replaces nodes bottom up in place
func rewrite(expr Expr, fn func(Expr) Expr) Expr {
	if expr == nil {
		return nil
	}
	switch expr.Type() {
	case ExprCall:
		c := expr.(*Call)
		for i, p := range c.Parameters {
			c.Parameters[i] = rewrite(p, fn)
		}
	case ExprUnary:
		u := expr.(*Unary)
		u.Operand = rewrite(u.Operand, fn)
	case ExprBinary:
		b := expr.(*Binary)
		b.L = rewrite(b.L, fn)
		b.R = rewrite(b.R, fn)
	case ExprTernary:
		t := expr.(*Ternary)
		t.Cond = rewrite(t.Cond, fn)
		t.B0 = rewrite(t.B0, fn)
		t.B1 = rewrite(t.B1, fn)
	case ExprCase:
		c := expr.(*Case)
		for i := range c.When {
			c.When[i].Cond = rewrite(c.When[i].Cond, fn)
			c.When[i].Value = rewrite(c.When[i].Value, fn)
		}
		c.Else = rewrite(c.Else, fn)
	}
	return fn(expr)
}

// portable functions are the ones every SQL dialect we render to understands
var portableCall = map[string]bool{
	"isnull":   true,
	"lower":    true,
	"upper":    true,
	"abs":      true,
	"coalesce": true,
	"round":    true,
	"length":   true,
}

type portabilityChecker struct {
	ExprVisitorBase
	why string
}

func (self *portabilityChecker) AcceptCall(c *Call) (bool, error) {
	if !portableCall[c.Name] {
		self.why = fmt.Sprintf("function %s() cannot be expressed by the source", c.Name)
		return false, errStop
	}
	return true, nil
}

func (self *portabilityChecker) AcceptTernary(*Ternary) (bool, error) {
	self.why = "ternary operator cannot be expressed by the source"
	return false, errStop
}

var errStop = fmt.Errorf("stop")

// Portable tells whether the expression only uses operators and functions a
// SQL source can evaluate. When not, a human readable reason is returned.
func Portable(expr Expr) (bool, string) {
	c := &portabilityChecker{}
	VisitExprPreOrder(c, expr)
	return c.why == "", c.why
}

// Conjuncts splits an expression on top level AND
func Conjuncts(expr Expr) []Expr {
	if b, ok := expr.(*Binary); ok && b.Op == TkAnd {
		return append(Conjuncts(b.L), Conjuncts(b.R)...)
	}
	return []Expr{expr}
}

// QuoteIdent renders a column name so that it lexes back as the same Ref.
func QuoteIdent(id string) string {
	buf := &bytes.Buffer{}
	printIdent(id, buf)
	return buf.String()
}

func lowerName(n string) string {
	return strings.ToLower(n)
}
