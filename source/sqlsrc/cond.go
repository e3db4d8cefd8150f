package sqlsrc

import (
	"bytes"
	"fmt"
	"strings"

	sq "github.com/Masterminds/squirrel"
	"github.com/dianpeng/xtab/query"
	"github.com/dianpeng/xtab/sql"
	"github.com/dianpeng/xtab/table"
)

// condWriter renders a condition expression as a SQL fragment, constants and
// variables become placeholder arguments.
type condWriter struct {
	dialect Dialect
	vars    map[string]interface{}
	buf     bytes.Buffer
	args    []interface{}
}

var binaryOps = map[int]string{
	sql.TkAdd:  "+",
	sql.TkSub:  "-",
	sql.TkMul:  "*",
	sql.TkDiv:  "/",
	sql.TkMod:  "%",
	sql.TkLt:   "<",
	sql.TkLe:   "<=",
	sql.TkGt:   ">",
	sql.TkGe:   ">=",
	sql.TkEq:   "=",
	sql.TkNe:   "<>",
	sql.TkAnd:  "AND",
	sql.TkOr:   "OR",
	sql.TkLike: "LIKE",
}

func (self *condWriter) arg(v interface{}) {
	self.buf.WriteString("?")
	self.args = append(self.args, v)
}

func (self *condWriter) write(e sql.Expr) error {
	switch x := e.(type) {
	case *sql.Const:
		switch x.Ty {
		case sql.ConstBool:
			self.arg(x.Bool)
		case sql.ConstStr:
			self.arg(x.String)
		case sql.ConstInt:
			self.arg(x.Int)
		case sql.ConstReal:
			self.arg(x.Real)
		default:
			self.buf.WriteString("NULL")
		}

	case *sql.Ref:
		self.buf.WriteString(self.dialect.Quote(x.Id))

	case *sql.Var:
		v, ok := self.vars[x.Id]
		if !ok {
			return fmt.Errorf("variable $%s is not defined", x.Id)
		}
		v = table.Normalize(v)
		if v == nil {
			self.buf.WriteString("NULL")
		} else {
			self.arg(v)
		}

	case *sql.Call:
		if x.Name == "isnull" {
			if len(x.Parameters) != 1 {
				return fmt.Errorf("isnull() takes 1 argument")
			}
			self.buf.WriteString("(")
			if err := self.write(x.Parameters[0]); err != nil {
				return err
			}
			self.buf.WriteString(" IS NULL)")
			return nil
		}
		if ok, why := sql.Portable(x); !ok {
			return fmt.Errorf("%s", why)
		}
		self.buf.WriteString(strings.ToUpper(x.Name))
		self.buf.WriteString("(")
		for i, p := range x.Parameters {
			if i > 0 {
				self.buf.WriteString(", ")
			}
			if err := self.write(p); err != nil {
				return err
			}
		}
		self.buf.WriteString(")")

	case *sql.Unary:
		// the first operator is the outermost one
		for _, op := range x.Op {
			switch op {
			case sql.TkNot:
				self.buf.WriteString("(NOT ")
			case sql.TkSub:
				self.buf.WriteString("(-")
			default:
				self.buf.WriteString("(")
			}
		}
		if err := self.write(x.Operand); err != nil {
			return err
		}
		self.buf.WriteString(strings.Repeat(")", len(x.Op)))

	case *sql.Binary:
		op, ok := binaryOps[x.Op]
		if !ok {
			return fmt.Errorf("operator %s cannot be expressed in sql", sql.OpString(x.Op))
		}
		self.buf.WriteString("(")
		if err := self.write(x.L); err != nil {
			return err
		}
		self.buf.WriteString(" ")
		self.buf.WriteString(op)
		self.buf.WriteString(" ")
		if err := self.write(x.R); err != nil {
			return err
		}
		self.buf.WriteString(")")

	case *sql.Case:
		self.buf.WriteString("(CASE")
		for _, w := range x.When {
			self.buf.WriteString(" WHEN ")
			if err := self.write(w.Cond); err != nil {
				return err
			}
			self.buf.WriteString(" THEN ")
			if err := self.write(w.Value); err != nil {
				return err
			}
		}
		if x.Else != nil {
			self.buf.WriteString(" ELSE ")
			if err := self.write(x.Else); err != nil {
				return err
			}
		}
		self.buf.WriteString(" END)")

	default:
		return fmt.Errorf("expression %s cannot be expressed in sql", sql.PrintExpr(e))
	}
	return nil
}

// Where translates a condition list into a squirrel predicate
func Where(d Dialect, conds query.ConditionList, vars map[string]interface{}) (sq.Sqlizer, error) {
	out := sq.And{}
	for _, c := range conds {
		e, err := sql.ParseExpr(c)
		if err != nil {
			return nil, &query.ExpressionError{Expr: c, Err: err}
		}
		w := &condWriter{dialect: d, vars: vars}
		if err := w.write(e); err != nil {
			return nil, &query.ExpressionError{Expr: c, Err: err}
		}
		out = append(out, sq.Expr(w.buf.String(), w.args...))
	}
	return out, nil
}
