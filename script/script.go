// Package script evaluates calculated field and calc column expressions.
//
// An Engine is given the expression text and the named inputs, which are the
// sibling aggregate results of the group being computed, and returns a scalar.
// Two engines exist, Native which evaluates the expression language of package
// sql and Awk which runs the expression as an AWK program through goawk.
package script

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/benhoyt/goawk/interp"
	"github.com/benhoyt/goawk/parser"
	"github.com/dianpeng/xtab/sql"
	"github.com/dianpeng/xtab/table"
)

type Engine interface {
	Eval(expr string, inputs map[string]interface{}) (interface{}, error)
}

func New(name string) (Engine, error) {
	switch strings.ToLower(name) {
	case "", "native":
		return NewNative(), nil
	case "awk", "goawk":
		return NewAwk(), nil
	default:
		return nil, fmt.Errorf("unknown script engine %q", name)
	}
}

/* ----------------------------------------------------------------------------
 * native
 * ---------------------------------------------------------------------------*/

// Native caches parsed expressions, the same calc expression is evaluated once
// per group.
type Native struct {
	sync.Mutex
	parsed map[string]sql.Expr
}

func NewNative() *Native {
	return &Native{
		parsed: make(map[string]sql.Expr),
	}
}

func (self *Native) compile(expr string) (sql.Expr, error) {
	self.Lock()
	defer self.Unlock()
	if e, ok := self.parsed[expr]; ok {
		return e, nil
	}
	e, err := sql.ParseExpr(expr)
	if err != nil {
		return nil, err
	}
	self.parsed[expr] = e
	return e, nil
}

func (self *Native) Eval(expr string, inputs map[string]interface{}) (interface{}, error) {
	e, err := self.compile(expr)
	if err != nil {
		return nil, err
	}
	return sql.Eval(e, sql.MapEnv(inputs))
}

/* ----------------------------------------------------------------------------
 * awk
 * ---------------------------------------------------------------------------*/

// Awk runs the expression as the body of a BEGIN block. Inputs are assigned as
// AWK variables, so only inputs named like AWK identifiers are visible to the
// expression. Nil inputs are passed as the empty string.
//
//   BEGIN { print (total / cnt) }
type Awk struct {
	sync.Mutex
	programs map[string]*parser.Program
}

func NewAwk() *Awk {
	return &Awk{
		programs: make(map[string]*parser.Program),
	}
}

var awkIdent = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

func (self *Awk) compile(expr string) (*parser.Program, error) {
	self.Lock()
	defer self.Unlock()
	if p, ok := self.programs[expr]; ok {
		return p, nil
	}
	src := fmt.Sprintf("BEGIN { print (%s) }", expr)
	p, err := parser.ParseProgram([]byte(src), nil)
	if err != nil {
		return nil, err
	}
	self.programs[expr] = p
	return p, nil
}

func (self *Awk) Eval(expr string, inputs map[string]interface{}) (interface{}, error) {
	prog, err := self.compile(expr)
	if err != nil {
		return nil, err
	}

	names := make([]string, 0, len(inputs))
	for k := range inputs {
		if awkIdent.MatchString(k) {
			names = append(names, k)
		}
	}
	sort.Strings(names)

	vars := []string{"OFMT", "%.17g"}
	for _, k := range names {
		vars = append(vars, k, table.String(inputs[k]))
	}

	buf := strings.Builder{}
	vm, err := interp.New(prog)
	if err != nil {
		return nil, err
	}
	_, err = vm.Execute(&interp.Config{
		Stdin:        strings.NewReader(""),
		Output:       &buf,
		Vars:         vars,
		NoExec:       true,
		NoFileWrites: true,
		NoFileReads:  true,
	})
	if err != nil {
		return nil, err
	}
	return awkValue(strings.TrimSuffix(buf.String(), "\n")), nil
}

func awkValue(s string) interface{} {
	if s == "" {
		return nil
	}
	if i, err := strconv.ParseInt(s, 10, 64); err == nil {
		return i
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return f
	}
	return s
}
