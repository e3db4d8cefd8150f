package sql

import (
	"fmt"
	"math"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/dianpeng/xtab/table"
)

// Env resolves column references and variables during evaluation
type Env interface {
	Ref(name string) (interface{}, error)
	Var(name string) (interface{}, error)
}

// MapEnv resolves references by name, used for calculated fields where the
// inputs are sibling aggregate values.
type MapEnv map[string]interface{}

func (self MapEnv) Ref(name string) (interface{}, error) {
	v, ok := self[name]
	if !ok {
		return nil, fmt.Errorf("%q is not defined", name)
	}
	return v, nil
}

func (self MapEnv) Var(name string) (interface{}, error) {
	return nil, fmt.Errorf("variable $%s is not bound", name)
}

// RowEnv resolves references against one row of a stream
type RowEnv struct {
	Schema table.Schema
	Row    table.Row
	Vars   map[string]interface{}
}

func (self *RowEnv) Ref(name string) (interface{}, error) {
	idx := self.Schema.Index(name)
	if idx < 0 {
		return nil, fmt.Errorf("column %q does not exist", name)
	}
	return self.Row[idx], nil
}

func (self *RowEnv) Var(name string) (interface{}, error) {
	v, ok := self.Vars[name]
	if !ok {
		return nil, fmt.Errorf("variable $%s is not defined", name)
	}
	return table.Normalize(v), nil
}

func Truthy(v interface{}) bool {
	switch x := v.(type) {
	case nil:
		return false
	case bool:
		return x
	case int64:
		return x != 0
	case float64:
		return x != 0
	case string:
		return x != ""
	case time.Time:
		return !x.IsZero()
	default:
		return true
	}
}

// ConstOf turns a go value into a literal, the returned constant is never nil.
func ConstOf(v interface{}) (*Const, error) {
	switch x := table.Normalize(v).(type) {
	case nil:
		return &Const{Ty: ConstNull}, nil
	case bool:
		return &Const{Ty: ConstBool, Bool: x}, nil
	case string:
		return &Const{Ty: ConstStr, String: x}, nil
	case int64:
		return &Const{Ty: ConstInt, Int: x}, nil
	case float64:
		return &Const{Ty: ConstReal, Real: x}, nil
	case time.Time:
		return &Const{Ty: ConstStr, String: x.Format(time.RFC3339)}, nil
	default:
		return &Const{Ty: ConstNull}, fmt.Errorf("unsupported value %v", v)
	}
}

func constValue(c *Const) interface{} {
	switch c.Ty {
	case ConstBool:
		return c.Bool
	case ConstStr:
		return c.String
	case ConstInt:
		return c.Int
	case ConstReal:
		return c.Real
	default:
		return nil
	}
}

// Eval evaluates the expression against env.
func Eval(expr Expr, env Env) (interface{}, error) {
	switch expr.Type() {
	case ExprConst:
		return constValue(expr.(*Const)), nil

	case ExprRef:
		return env.Ref(expr.(*Ref).Id)

	case ExprVar:
		return env.Var(expr.(*Var).Id)

	case ExprCall:
		return evalCall(expr.(*Call), env)

	case ExprUnary:
		u := expr.(*Unary)
		v, err := Eval(u.Operand, env)
		if err != nil {
			return nil, err
		}
		for i := len(u.Op) - 1; i >= 0; i-- {
			if v, err = evalUnary(u.Op[i], v); err != nil {
				return nil, err
			}
		}
		return v, nil

	case ExprBinary:
		return evalBinary(expr.(*Binary), env)

	case ExprTernary:
		t := expr.(*Ternary)
		c, err := Eval(t.Cond, env)
		if err != nil {
			return nil, err
		}
		if Truthy(c) {
			return Eval(t.B0, env)
		}
		return Eval(t.B1, env)

	case ExprCase:
		c := expr.(*Case)
		for _, w := range c.When {
			cond, err := Eval(w.Cond, env)
			if err != nil {
				return nil, err
			}
			if Truthy(cond) {
				return Eval(w.Value, env)
			}
		}
		if c.Else != nil {
			return Eval(c.Else, env)
		}
		return nil, nil

	default:
		return nil, fmt.Errorf("unknown expression")
	}
}

func evalUnary(op int, v interface{}) (interface{}, error) {
	if op == TkNot {
		if v == nil {
			return nil, nil
		}
		return !Truthy(v), nil
	}

	switch x := v.(type) {
	case nil:
		return nil, nil
	case int64:
		return -x, nil
	case float64:
		return -x, nil
	default:
		f, ok := table.ToFloat(v)
		if !ok {
			return nil, fmt.Errorf("operator '-' cannot be applied to %q", table.String(v))
		}
		return -f, nil
	}
}

func evalBinary(b *Binary, env Env) (interface{}, error) {
	l, err := Eval(b.L, env)
	if err != nil {
		return nil, err
	}

	switch b.Op {
	case TkAnd:
		if !Truthy(l) {
			return false, nil
		}
		r, err := Eval(b.R, env)
		if err != nil {
			return nil, err
		}
		return Truthy(r), nil

	case TkOr:
		if Truthy(l) {
			return true, nil
		}
		r, err := Eval(b.R, env)
		if err != nil {
			return nil, err
		}
		return Truthy(r), nil
	}

	r, err := Eval(b.R, env)
	if err != nil {
		return nil, err
	}

	switch b.Op {
	case TkAdd, TkSub, TkMul, TkDiv, TkMod:
		return Arith(b.Op, l, r)
	case TkLike:
		if l == nil || r == nil {
			return false, nil
		}
		re, err := likeRegex(table.String(r))
		if err != nil {
			return nil, err
		}
		return re.MatchString(table.String(l)), nil
	default:
		return compareOp(b.Op, l, r), nil
	}
}

// Arith applies an arithmetic operator. int op int stays int except division,
// division or modulo by zero yields nil.
func Arith(op int, l, r interface{}) (interface{}, error) {
	if l == nil || r == nil {
		return nil, nil
	}

	ls, lstr := l.(string)
	rs, rstr := r.(string)
	if op == TkAdd && (lstr || rstr) {
		_, lnum := table.ToFloat(l)
		_, rnum := table.ToFloat(r)
		if !(lnum && rnum) {
			if !lstr {
				ls = table.String(l)
			}
			if !rstr {
				rs = table.String(r)
			}
			return ls + rs, nil
		}
	}

	li, lint := l.(int64)
	ri, rint := r.(int64)
	if lint && rint {
		switch op {
		case TkAdd:
			return li + ri, nil
		case TkSub:
			return li - ri, nil
		case TkMul:
			return li * ri, nil
		case TkMod:
			if ri == 0 {
				return nil, nil
			}
			return li % ri, nil
		}
	}

	lf, ok1 := table.ToFloat(l)
	rf, ok2 := table.ToFloat(r)
	if !ok1 || !ok2 {
		return nil, fmt.Errorf("operator '%s' cannot be applied to %q and %q",
			OpString(op), table.String(l), table.String(r))
	}

	switch op {
	case TkAdd:
		return lf + rf, nil
	case TkSub:
		return lf - rf, nil
	case TkMul:
		return lf * rf, nil
	case TkDiv:
		if rf == 0 {
			return nil, nil
		}
		return lf / rf, nil
	default:
		if rf == 0 {
			return nil, nil
		}
		return math.Mod(lf, rf), nil
	}
}

// align string operands with the kind of the other side before comparing
func align(l, r interface{}) (interface{}, interface{}) {
	ls, lstr := l.(string)
	rs, rstr := r.(string)
	if lstr == rstr {
		return l, r
	}
	if lstr {
		if v, err := table.Coerce(ls, table.TypeOf(r)); err == nil {
			return v, r
		}
	} else {
		if v, err := table.Coerce(rs, table.TypeOf(l)); err == nil {
			return l, v
		}
	}
	return l, r
}

func compareOp(op int, l, r interface{}) bool {
	if l == nil || r == nil {
		switch op {
		case TkEq:
			return l == nil && r == nil
		case TkNe:
			return !(l == nil && r == nil)
		default:
			return false
		}
	}

	l, r = align(l, r)
	c := table.Compare(l, r)
	switch op {
	case TkEq:
		return c == 0
	case TkNe:
		return c != 0
	case TkLt:
		return c < 0
	case TkLe:
		return c <= 0
	case TkGt:
		return c > 0
	default:
		return c >= 0
	}
}

var likeCache sync.Map

func likeRegex(pattern string) (*regexp.Regexp, error) {
	if v, ok := likeCache.Load(pattern); ok {
		return v.(*regexp.Regexp), nil
	}
	re, err := regexp.Compile(LikeToRegex(pattern))
	if err != nil {
		return nil, fmt.Errorf("invalid LIKE pattern %q: %s", pattern, err)
	}
	likeCache.Store(pattern, re)
	return re, nil
}

/* ----------------------------------------------------------------------------
 * Builtin functions
 * ---------------------------------------------------------------------------*/

type builtin struct {
	min, max int // max < 0 means variadic
	fn       func([]interface{}) (interface{}, error)
}

var builtins map[string]builtin

func init() {
	builtins = map[string]builtin{
		"isnull":   {1, 1, func(a []interface{}) (interface{}, error) { return a[0] == nil, nil }},
		"coalesce": {1, -1, fnCoalesce},
		"nullif":   {2, 2, fnNullIf},
		"if":       {3, 3, func(a []interface{}) (interface{}, error) { return pick(Truthy(a[0]), a[1], a[2]), nil }},
		"abs":      {1, 1, fnAbs},
		"floor":    {1, 1, numeric(math.Floor)},
		"ceil":     {1, 1, numeric(math.Ceil)},
		"sqrt":     {1, 1, numeric(math.Sqrt)},
		"round":    {1, 2, fnRound},
		"pow":      {2, 2, fnPow},
		"lower":    {1, 1, text(strings.ToLower)},
		"upper":    {1, 1, text(strings.ToUpper)},
		"trim":     {1, 1, text(strings.TrimSpace)},
		"length":   {1, 1, fnLength},
		"substr":   {2, 3, fnSubstr},
		"concat":   {1, -1, fnConcat},
		"contains": {2, 2, fnContains},
		"year":     {1, 1, datePart(func(t time.Time) int64 { return int64(t.Year()) })},
		"quarter":  {1, 1, datePart(func(t time.Time) int64 { return int64((t.Month()-1)/3 + 1) })},
		"month":    {1, 1, datePart(func(t time.Time) int64 { return int64(t.Month()) })},
		"day":      {1, 1, datePart(func(t time.Time) int64 { return int64(t.Day()) })},
		"weekday":  {1, 1, datePart(func(t time.Time) int64 { return int64(t.Weekday()) })},
		"hour":     {1, 1, datePart(func(t time.Time) int64 { return int64(t.Hour()) })},
		"minute":   {1, 1, datePart(func(t time.Time) int64 { return int64(t.Minute()) })},
		"date":     {1, 1, convert(table.TypeTime)},
		"int":      {1, 1, convert(table.TypeInt)},
		"float":    {1, 1, convert(table.TypeFloat)},
		"str":      {1, 1, convert(table.TypeString)},
		"greatest": {1, -1, extreme(1)},
		"least":    {1, -1, extreme(-1)},
	}
}

// IsBuiltin tells whether name is a function known to Eval
func IsBuiltin(name string) bool {
	_, ok := builtins[name]
	return ok
}

func evalCall(c *Call, env Env) (interface{}, error) {
	b, ok := builtins[c.Name]
	if !ok {
		return nil, fmt.Errorf("function %s() is not defined", c.Name)
	}
	n := len(c.Parameters)
	if n < b.min || (b.max >= 0 && n > b.max) {
		return nil, fmt.Errorf("function %s() called with %d arguments", c.Name, n)
	}

	// if() only evaluates the branch it picks
	if c.Name == "if" {
		cond, err := Eval(c.Parameters[0], env)
		if err != nil {
			return nil, err
		}
		return Eval(pick(Truthy(cond), c.Parameters[1], c.Parameters[2]).(Expr), env)
	}

	args := make([]interface{}, 0, n)
	for _, p := range c.Parameters {
		v, err := Eval(p, env)
		if err != nil {
			return nil, err
		}
		args = append(args, v)
	}
	return b.fn(args)
}

func pick(c bool, a, b interface{}) interface{} {
	if c {
		return a
	}
	return b
}

func fnCoalesce(a []interface{}) (interface{}, error) {
	for _, v := range a {
		if v != nil {
			return v, nil
		}
	}
	return nil, nil
}

func fnNullIf(a []interface{}) (interface{}, error) {
	if compareOp(TkEq, a[0], a[1]) {
		return nil, nil
	}
	return a[0], nil
}

func numeric(fn func(float64) float64) func([]interface{}) (interface{}, error) {
	return func(a []interface{}) (interface{}, error) {
		if a[0] == nil {
			return nil, nil
		}
		f, ok := table.ToFloat(a[0])
		if !ok {
			return nil, fmt.Errorf("expect a number, got %q", table.String(a[0]))
		}
		return fn(f), nil
	}
}

func fnAbs(a []interface{}) (interface{}, error) {
	if i, ok := a[0].(int64); ok {
		if i < 0 {
			return -i, nil
		}
		return i, nil
	}
	return numeric(math.Abs)(a)
}

func fnRound(a []interface{}) (interface{}, error) {
	if a[0] == nil {
		return nil, nil
	}
	f, ok := table.ToFloat(a[0])
	if !ok {
		return nil, fmt.Errorf("round() expects a number, got %q", table.String(a[0]))
	}
	digits := 0.0
	if len(a) == 2 {
		if d, ok := table.ToFloat(a[1]); ok {
			digits = d
		}
	}
	p := math.Pow(10, digits)
	return math.Round(f*p) / p, nil
}

func fnPow(a []interface{}) (interface{}, error) {
	if a[0] == nil || a[1] == nil {
		return nil, nil
	}
	x, ok1 := table.ToFloat(a[0])
	y, ok2 := table.ToFloat(a[1])
	if !ok1 || !ok2 {
		return nil, fmt.Errorf("pow() expects numbers")
	}
	return math.Pow(x, y), nil
}

func text(fn func(string) string) func([]interface{}) (interface{}, error) {
	return func(a []interface{}) (interface{}, error) {
		if a[0] == nil {
			return nil, nil
		}
		return fn(table.String(a[0])), nil
	}
}

func fnLength(a []interface{}) (interface{}, error) {
	if a[0] == nil {
		return nil, nil
	}
	return int64(len([]rune(table.String(a[0])))), nil
}

// substr(s, start[, length]), start is 1 based like SQL
func fnSubstr(a []interface{}) (interface{}, error) {
	if a[0] == nil {
		return nil, nil
	}
	r := []rune(table.String(a[0]))
	start, _ := table.ToFloat(a[1])
	s := int(start) - 1
	if s < 0 {
		s = 0
	}
	if s > len(r) {
		s = len(r)
	}
	e := len(r)
	if len(a) == 3 {
		l, _ := table.ToFloat(a[2])
		if s+int(l) < e {
			e = s + int(l)
		}
	}
	if e < s {
		e = s
	}
	return string(r[s:e]), nil
}

func fnConcat(a []interface{}) (interface{}, error) {
	b := strings.Builder{}
	for _, v := range a {
		b.WriteString(table.String(v))
	}
	return b.String(), nil
}

func fnContains(a []interface{}) (interface{}, error) {
	if a[0] == nil || a[1] == nil {
		return false, nil
	}
	return strings.Contains(table.String(a[0]), table.String(a[1])), nil
}

func datePart(fn func(time.Time) int64) func([]interface{}) (interface{}, error) {
	return func(a []interface{}) (interface{}, error) {
		if a[0] == nil {
			return nil, nil
		}
		v, err := table.Coerce(a[0], table.TypeTime)
		if err != nil {
			return nil, fmt.Errorf("expect a date, got %q", table.String(a[0]))
		}
		return fn(v.(time.Time)), nil
	}
}

func convert(t int) func([]interface{}) (interface{}, error) {
	return func(a []interface{}) (interface{}, error) {
		return table.Coerce(a[0], t)
	}
}

func extreme(sign int) func([]interface{}) (interface{}, error) {
	return func(a []interface{}) (interface{}, error) {
		var out interface{}
		for _, v := range a {
			if v == nil {
				continue
			}
			if out == nil || table.Compare(v, out)*sign > 0 {
				out = v
			}
		}
		return out, nil
	}
}
