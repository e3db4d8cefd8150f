package sql

// parser of the expression language used by conditions, expression columns
// and calculated fields. The grammar in EBNF:
//
// expr := ternary
//
// ternary := binary ('?' binary ':' binary)?
//
// binary := unary (binary-op unary)*
// binary-op :=
//   OR | AND |
//   [NOT] IN '(' expr (',' expr)* ')' |
//   [NOT] BETWEEN binary AND binary |
//   [NOT] LIKE binary |
//   IS [NOT] NULL |
//   '=' | '==' | '!=' | '<>' | '<' | '<=' | '>' | '>=' |
//   '+' | '-' | '*' | '/' | '%'
//
// unary := (NOT | '!') binary | ('+' | '-')* atomic
//
// atomic :=
//   const |
//   ID |
//   VAR |
//   ID '(' call-arg-list? ')' |
//   CASE (WHEN expr THEN expr)+ (ELSE expr)? END |
//   '(' expr ')'
//
// const := INT | REAL | TRUE | FALSE | NULL | STR
//
// IN and BETWEEN are desugared into OR/AND chains, IS NULL into isnull()

import (
	"fmt"
)

type Parser struct {
	L *Lexer
}

func newParser(xx string) *Parser {
	return &Parser{
		L: newLexer(xx),
	}
}

func (self *Parser) posStart() int {
	return self.L.Cursor
}

func (self *Parser) posEnd() int {
	return self.L.Cursor
}

func (self *Parser) snippet(start, end int) string {
	if start >= end {
		start = end
	}
	if end > len(self.L.Source) {
		end = len(self.L.Source)
	}
	return self.L.Source[start:end]
}

func (self *Parser) err(msg string) error {
	if self.L.Token == TkError {
		return fmt.Errorf("%s", self.L.Lexeme.Text)
	}
	return fmt.Errorf("%s: %s", self.L.dinfo(), msg)
}

func (self *Parser) expect(tk int, what string) error {
	if self.L.Token == tk {
		self.L.Next()
		return nil
	}
	return self.err(fmt.Sprintf("expect %s", what))
}

func (self *Parser) currentCodeInfo(start int) CodeInfo {
	return CodeInfo{
		Start:   start,
		End:     self.posEnd(),
		Snippet: self.snippet(start, self.posEnd()),
	}
}

// ParseExpr parses a standalone expression, the whole input must be consumed.
func ParseExpr(src string) (Expr, error) {
	p := newParser(src)
	p.L.Next()
	e, err := p.parseExpr()
	if err != nil {
		return nil, err
	}
	if p.L.Token != TkEof {
		return nil, p.err("dangling code after the expression")
	}
	return e, nil
}

func (self *Parser) parseExpr() (Expr, error) {
	return self.parseTernary()
}

func (self *Parser) parseTernary() (Expr, error) {
	start := self.posStart()

	cond, err := self.parseBinary()
	if err != nil {
		return nil, err
	}

	if self.L.Token != TkQuestion {
		return cond, nil
	}
	self.L.Next()

	l, err := self.parseBinary()
	if err != nil {
		return nil, err
	}
	if err := self.expect(TkColon, "':' of ternary operator"); err != nil {
		return nil, err
	}
	r, err := self.parseBinary()
	if err != nil {
		return nil, err
	}

	return &Ternary{
		Cond:     cond,
		B0:       l,
		B1:       r,
		CodeInfo: self.currentCodeInfo(start),
	}, nil
}

const maxOpPrec = 7
const invalidOpPrec = -1

func (self *Parser) binPrec(tk int) int {
	switch tk {
	case TkOr:
		return 0
	case TkAnd:
		return 1
	case TkIn, TkBetween, TkLike, TkNot, TkIs:
		return 2
	case TkEq, TkNe:
		return 3
	case TkLt, TkLe, TkGt, TkGe:
		return 4
	case TkAdd, TkSub:
		return 5
	case TkMul, TkDiv, TkMod:
		return 6
	default:
		return invalidOpPrec
	}
}

// Binary parsing, precedence climbing
func (self *Parser) doParseBin(prec int) (Expr, error) {
	start := self.posStart()

	l, err := self.parseUnary()
	if err != nil {
		return nil, err
	}
	if prec == maxOpPrec {
		return l, nil
	}

	return self.doParseBinRest(l, prec, start)
}

func (self *Parser) parseBinary() (Expr, error) {
	return self.doParseBin(0)
}

func (self *Parser) doParseBinBetweenRHS(
	prec int,
) (Expr, Expr, error) {
	lowerBound, err := self.doParseBin(prec)
	if err != nil {
		return nil, nil, err
	}

	if self.L.Token != TkAnd {
		return nil, nil, self.err("expect AND for BETWEEN operator")
	}
	self.L.Next()

	upperBound, err := self.doParseBin(prec)
	if err != nil {
		return nil, nil, err
	}

	return lowerBound, upperBound, nil
}

func (self *Parser) doParseBinInRHS() ([]Expr, error) {
	if self.L.Token != TkLPar {
		return nil, self.err("expect '(' for IN operator's rhs")
	}
	self.L.Next()

	out := []Expr{}

	for self.L.Token != TkRPar {
		v, err := self.parseExpr()
		if err != nil {
			return nil, err
		}
		out = append(out, v)

		if self.L.Token == TkComma {
			self.L.Next()
		} else if self.L.Token != TkRPar {
			return nil, self.err("expect a ',' or ')' after element in IN's rhs")
		}
	}

	self.L.Next()
	if len(out) == 0 {
		return nil, self.err("IN operator's RHS is an empty set, which is not allowed")
	}
	return out, nil
}

func (self *Parser) not(e Expr, start int) Expr {
	return &Unary{
		Op:       []int{TkNot},
		Operand:  e,
		CodeInfo: self.currentCodeInfo(start),
	}
}

func (self *Parser) doParseBinRest(lhs Expr,
	prec int,
	start int,
) (Expr, error) {

	for {
		tk := self.L.Token
		nextPrec := self.binPrec(tk)

		if nextPrec == invalidOpPrec || nextPrec < prec {
			break
		}

		ntk := self.L.Next() // eat the operator token

		if tk == TkNot {
			switch ntk {
			case TkIn:
				tk = tkNotIn
			case TkBetween:
				tk = tkNotBetween
			case TkLike:
				tk = tkNotLike
			default:
				return nil, self.err(
					"NOT operator shows up, but expect a suffix operator, " +
						"example like NOT IN, NOT BETWEEN, NOT LIKE",
				)
			}
			self.L.Next()
		}

		var newNode Expr
		switch tk {
		case TkIs:
			negate := false
			if self.L.Token == TkNot {
				negate = true
				self.L.Next()
			}
			if err := self.expect(TkNull, "NULL after IS"); err != nil {
				return nil, err
			}
			newNode = &Call{
				Name:       "isnull",
				Parameters: []Expr{lhs},
				CodeInfo:   self.currentCodeInfo(start),
			}
			if negate {
				newNode = self.not(newNode, start)
			}

		case TkBetween, tkNotBetween:
			lower, upper, err := self.doParseBinBetweenRHS(nextPrec + 1)
			if err != nil {
				return nil, err
			}
			between := &Binary{
				Op: TkAnd,
				L: &Binary{
					Op:       TkGe,
					L:        lhs,
					R:        lower,
					CodeInfo: self.currentCodeInfo(start),
				},
				R: &Binary{
					Op:       TkLe,
					L:        cloneExpr(lhs),
					R:        upper,
					CodeInfo: self.currentCodeInfo(start),
				},
				CodeInfo: self.currentCodeInfo(start),
			}
			if tk == TkBetween {
				newNode = between
			} else {
				newNode = self.not(between, start)
			}

		case TkIn, tkNotIn:
			v, err := self.doParseBinInRHS()
			if err != nil {
				return nil, err
			}
			var out Expr
			for idx, vv := range v {
				l := lhs
				if idx > 0 {
					l = cloneExpr(lhs)
				}
				eq := &Binary{
					Op:       TkEq,
					L:        l,
					R:        vv,
					CodeInfo: self.currentCodeInfo(start),
				}
				if out == nil {
					out = eq
				} else {
					out = &Binary{
						Op:       TkOr,
						L:        out,
						R:        eq,
						CodeInfo: self.currentCodeInfo(start),
					}
				}
			}
			if tk == tkNotIn {
				newNode = self.not(out, start)
			} else {
				newNode = out
			}

		case TkLike, tkNotLike:
			v, err := self.doParseBin(nextPrec + 1)
			if err != nil {
				return nil, err
			}
			newNode = &Binary{
				Op:       TkLike,
				L:        lhs,
				R:        v,
				CodeInfo: self.currentCodeInfo(start),
			}
			if tk == tkNotLike {
				newNode = self.not(newNode, start)
			}

		default:
			v, err := self.doParseBin(nextPrec + 1)
			if err != nil {
				return nil, err
			}
			newNode = &Binary{
				Op:       tk,
				L:        lhs,
				R:        v,
				CodeInfo: self.currentCodeInfo(start),
			}
		}

		lhs = newNode
	}

	return lhs, nil
}

// NOT binds looser than comparison, ie NOT a = 1 is NOT (a = 1)
const notOperandPrec = 3

func (self *Parser) parseUnary() (Expr, error) {
	opList := []int{}

	start := self.posStart()

	if self.L.Token == TkNot {
		self.L.Next()
		operand, err := self.doParseBin(notOperandPrec)
		if err != nil {
			return nil, err
		}
		return self.not(operand, start), nil
	}

	for {
		cur := self.L.Token
		if cur == TkAdd || cur == TkSub {
			if cur == TkSub {
				opList = append(opList, cur)
			}
			self.L.Next()
		} else {
			break
		}
	}

	expr, err := self.parseAtomic()
	if err != nil {
		return nil, err
	}

	if len(opList) == 0 {
		return expr, nil
	}

	// fold negative literal, so -1 prints back as -1
	if len(opList) == 1 && opList[0] == TkSub {
		if c, ok := expr.(*Const); ok {
			switch c.Ty {
			case ConstInt:
				c.Int = -c.Int
				return c, nil
			case ConstReal:
				c.Real = -c.Real
				return c, nil
			}
		}
	}

	return &Unary{
		Op:       opList,
		Operand:  expr,
		CodeInfo: self.currentCodeInfo(start),
	}, nil
}

func (self *Parser) parseCall(name string, start int) (Expr, error) {
	self.L.Next() // '('

	params := []Expr{}
	for self.L.Token != TkRPar {
		if self.L.Token == TkMul && lowerName(name) == "count" {
			// count(*) counts rows, modeled as a constant argument
			self.L.Next()
			params = append(params, &Const{Ty: ConstInt, Int: 1})
		} else {
			e, err := self.parseExpr()
			if err != nil {
				return nil, err
			}
			params = append(params, e)
		}

		if self.L.Token == TkComma {
			self.L.Next()
		} else if self.L.Token != TkRPar {
			return nil, self.err("expect ',' or ')' in function call")
		}
	}
	self.L.Next()

	return &Call{
		Name:       lowerName(name),
		Parameters: params,
		CodeInfo:   self.currentCodeInfo(start),
	}, nil
}

func (self *Parser) parseCase(start int) (Expr, error) {
	self.L.Next()

	c := &Case{}
	for self.L.Token == TkWhen {
		self.L.Next()
		cond, err := self.parseExpr()
		if err != nil {
			return nil, err
		}
		if err := self.expect(TkThen, "THEN after WHEN condition"); err != nil {
			return nil, err
		}
		value, err := self.parseExpr()
		if err != nil {
			return nil, err
		}
		c.When = append(c.When, CaseWhen{Cond: cond, Value: value})
	}

	if len(c.When) == 0 {
		return nil, self.err("CASE requires at least one WHEN branch")
	}

	if self.L.Token == TkElse {
		self.L.Next()
		e, err := self.parseExpr()
		if err != nil {
			return nil, err
		}
		c.Else = e
	}

	if err := self.expect(TkEnd, "END to close CASE"); err != nil {
		return nil, err
	}

	c.CodeInfo = self.currentCodeInfo(start)
	return c, nil
}

func (self *Parser) parseAtomic() (Expr, error) {
	start := self.posStart()

	switch self.L.Token {
	case TkTrue, TkFalse:
		v := self.L.Token == TkTrue
		self.L.Next()
		return &Const{Ty: ConstBool, Bool: v, CodeInfo: self.currentCodeInfo(start)}, nil

	case TkNull:
		self.L.Next()
		return &Const{Ty: ConstNull, CodeInfo: self.currentCodeInfo(start)}, nil

	case TkStr:
		v := self.L.Lexeme.Text
		self.L.Next()
		return &Const{Ty: ConstStr, String: v, CodeInfo: self.currentCodeInfo(start)}, nil

	case TkInt:
		v := self.L.Lexeme.Int
		self.L.Next()
		return &Const{Ty: ConstInt, Int: v, CodeInfo: self.currentCodeInfo(start)}, nil

	case TkReal:
		v := self.L.Lexeme.Real
		self.L.Next()
		return &Const{Ty: ConstReal, Real: v, CodeInfo: self.currentCodeInfo(start)}, nil

	case TkVar:
		id := self.L.Lexeme.Text
		self.L.Next()
		return &Var{Id: id, CodeInfo: self.currentCodeInfo(start)}, nil

	case TkId:
		id := self.L.Lexeme.Text
		if self.L.Next() == TkLPar {
			return self.parseCall(id, start)
		}
		return &Ref{Id: id, CodeInfo: self.currentCodeInfo(start)}, nil

	case TkCase:
		return self.parseCase(start)

	case TkLPar:
		self.L.Next()
		e, err := self.parseExpr()
		if err != nil {
			return nil, err
		}
		if err := self.expect(TkRPar, "')'"); err != nil {
			return nil, err
		}
		return e, nil

	default:
		return nil, self.err("unexpected token for expression")
	}
}
