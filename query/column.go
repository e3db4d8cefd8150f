package query

import (
	"fmt"
	"strings"

	"github.com/dianpeng/xtab/table"
)

const (
	ColumnPhysical = iota
	ColumnExpression
	ColumnAlias
	ColumnDateRange
)

var columnKindNames = []string{"physical", "expression", "alias", "daterange"}

func ColumnKindName(k int) string {
	if k < 0 || k >= len(columnKindNames) {
		return "unknown"
	}
	return columnKindNames[k]
}

// ColumnRef is one column definition of a node's ColumnSet.
//
// A physical column is read from the base stream as is. An expression column is
// computed per row from Expr, an alias copies Base under a new name and a date
// range column buckets Base by Level. Type is the declared data type, which is
// only advisory: the coerce stage reconciles it with observed values.
type ColumnRef struct {
	Name    string
	Kind    int
	Expr    string
	Base    string
	Level   DateLevel
	Type    int
	Visible bool
	Format  string // presentation format, see stage.Format
}

func Physical(name string) *ColumnRef {
	return &ColumnRef{Name: name, Kind: ColumnPhysical, Visible: true}
}

func Expression(name, expr string) *ColumnRef {
	return &ColumnRef{Name: name, Kind: ColumnExpression, Expr: expr, Visible: true}
}

func Alias(name, base string) *ColumnRef {
	return &ColumnRef{Name: name, Kind: ColumnAlias, Base: base, Visible: true}
}

func DateRange(name, base string, level DateLevel) *ColumnRef {
	return &ColumnRef{Name: name, Kind: ColumnDateRange, Base: base, Level: level, Visible: true, Type: table.TypeTime}
}

func (self *ColumnRef) Derived() bool {
	return self.Kind != ColumnPhysical
}

func (self *ColumnRef) Clone() *ColumnRef {
	c := *self
	return &c
}

func (self *ColumnRef) String() string {
	switch self.Kind {
	case ColumnExpression:
		return fmt.Sprintf("%s = %s", self.Name, self.Expr)
	case ColumnAlias:
		return fmt.Sprintf("%s = %s", self.Name, self.Base)
	case ColumnDateRange:
		return fmt.Sprintf("%s = %s(%s)", self.Name, self.Level, self.Base)
	default:
		return self.Name
	}
}

// ColumnSet is an ordered list of columns with unique names.
type ColumnSet struct {
	list []*ColumnRef
	idx  map[string]int
}

func NewColumnSet(cols ...*ColumnRef) (*ColumnSet, error) {
	s := &ColumnSet{}
	for _, c := range cols {
		if err := s.Add(c); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// MustColumnSet is NewColumnSet for static definitions, it panics on duplicates
func MustColumnSet(cols ...*ColumnRef) *ColumnSet {
	s, err := NewColumnSet(cols...)
	if err != nil {
		panic(err)
	}
	return s
}

func (self *ColumnSet) Add(c *ColumnRef) error {
	if self.idx == nil {
		self.idx = make(map[string]int)
	}
	if c.Name == "" {
		return fmt.Errorf("column name cannot be empty")
	}
	if _, ok := self.idx[c.Name]; ok {
		return fmt.Errorf("column %q is defined more than once", c.Name)
	}
	self.idx[c.Name] = len(self.list)
	self.list = append(self.list, c)
	return nil
}

func (self *ColumnSet) Len() int {
	if self == nil {
		return 0
	}
	return len(self.list)
}

func (self *ColumnSet) Columns() []*ColumnRef {
	if self == nil {
		return nil
	}
	return self.list
}

func (self *ColumnSet) Get(name string) *ColumnRef {
	if self == nil {
		return nil
	}
	i, ok := self.idx[name]
	if !ok {
		return nil
	}
	return self.list[i]
}

func (self *ColumnSet) Has(name string) bool {
	return self.Get(name) != nil
}

func (self *ColumnSet) Names() []string {
	out := []string{}
	for _, c := range self.Columns() {
		out = append(out, c.Name)
	}
	return out
}

// Visible returns the names of the columns marked visible in order
func (self *ColumnSet) Visible() []string {
	out := []string{}
	for _, c := range self.Columns() {
		if c.Visible {
			out = append(out, c.Name)
		}
	}
	return out
}

// Resolve follows alias chains down to the column that actually produces the
// value. Expression and date range columns resolve to themselves.
func (self *ColumnSet) Resolve(name string) *ColumnRef {
	seen := map[string]bool{}
	c := self.Get(name)
	for c != nil && c.Kind == ColumnAlias && !seen[c.Name] {
		seen[c.Name] = true
		next := self.Get(c.Base)
		if next == nil {
			return c
		}
		c = next
	}
	return c
}

func (self *ColumnSet) Clone() *ColumnSet {
	out := &ColumnSet{}
	for _, c := range self.Columns() {
		out.Add(c.Clone())
	}
	return out
}

func (self *ColumnSet) String() string {
	parts := []string{}
	for _, c := range self.Columns() {
		parts = append(parts, c.String())
	}
	return strings.Join(parts, ", ")
}
