package query

import (
	"fmt"
)

// Node is one node of a LogicalQuery tree. The set of node kinds is closed,
// callers dispatch with a type switch over
//
//   *Scan, *Mirror, *Join, *Concatenate, *Rotate, *CrosstabBound
type Node interface {
	Info() *NodeInfo
	Children() []Node
	node()
}

// NodeInfo is the part shared by every node kind: its output column set and
// the optional aggregation, conditions, sorting and row limit applied on top of
// the node's base stream.
type NodeInfo struct {
	Name      string
	Columns   *ColumnSet
	Aggregate *AggregateSpec
	Pre       ConditionList // applied before aggregation, may only use base columns
	Post      ConditionList // applied after aggregation
	Sort      SortSpec
	MaxRows   int // 0 means the mode default
	Distinct  bool
}

func (self *NodeInfo) Info() *NodeInfo { return self }

func (self *NodeInfo) clone() NodeInfo {
	c := *self
	c.Columns = self.Columns.Clone()
	c.Aggregate = self.Aggregate.Clone()
	c.Pre = append(ConditionList{}, self.Pre...)
	c.Post = append(ConditionList{}, self.Post...)
	c.Sort = append(SortSpec{}, self.Sort...)
	return c
}

// PushedGroup is a group the source computes, Column is the physical base
// column and Level its date bucket when the group is a date range.
type PushedGroup struct {
	Name   string
	Column string
	Level  DateLevel
}

// PushedAggregate is an aggregate the source computes into column Name.
type PushedAggregate struct {
	Name      string
	Column    string
	Secondary string
	Formula   Formula
}

// PushdownSpec is what a Scan asks its source to evaluate. When a Scan carries
// one, the Scan columns describe the pushed result instead of the base table.
type PushdownSpec struct {
	Groups     []PushedGroup
	Aggregates []PushedAggregate
	Conditions ConditionList
	Distinct   bool
}

func (self *PushdownSpec) Clone() *PushdownSpec {
	if self == nil {
		return nil
	}
	return &PushdownSpec{
		Groups:     append([]PushedGroup{}, self.Groups...),
		Aggregates: append([]PushedAggregate{}, self.Aggregates...),
		Conditions: append(ConditionList{}, self.Conditions...),
		Distinct:   self.Distinct,
	}
}

type Scan struct {
	NodeInfo
	Source string
	Pushed *PushdownSpec
}

// Mirror exposes its child under new column names, Renames maps child column
// name to the mirrored name.
type Mirror struct {
	NodeInfo
	Child   Node
	Renames map[string]string
}

const (
	JoinInner = iota
	JoinLeft
	JoinRight
	JoinFull
)

var joinNames = []string{"inner", "left", "right", "full"}

func JoinName(k int) string {
	if k < 0 || k >= len(joinNames) {
		return "unknown"
	}
	return joinNames[k]
}

func ParseJoinKind(n string) (int, error) {
	if n == "" {
		return JoinInner, nil
	}
	for i, x := range joinNames {
		if x == n {
			return i, nil
		}
	}
	return JoinInner, fmt.Errorf("unknown join kind %q", n)
}

type JoinKey struct {
	Left  string
	Right string
}

type Join struct {
	NodeInfo
	Left  Node
	Right Node
	Kind  int
	Keys  []JoinKey
}

// Concatenate unions its children by position. All keeps duplicate rows.
type Concatenate struct {
	NodeInfo
	Inputs []Node
	All    bool
}

// Rotate transposes its child, the first child column becomes the header.
type Rotate struct {
	NodeInfo
	Child Node
}

// CrosstabBound is a node built on top of a crosstab child, it sees the
// flattened crosstab output as its base table.
type CrosstabBound struct {
	NodeInfo
	Child Node
}

func (self *Scan) node()          {}
func (self *Mirror) node()        {}
func (self *Join) node()          {}
func (self *Concatenate) node()   {}
func (self *Rotate) node()        {}
func (self *CrosstabBound) node() {}

func (self *Scan) Children() []Node          { return nil }
func (self *Mirror) Children() []Node        { return []Node{self.Child} }
func (self *Join) Children() []Node          { return []Node{self.Left, self.Right} }
func (self *Concatenate) Children() []Node   { return self.Inputs }
func (self *Rotate) Children() []Node        { return []Node{self.Child} }
func (self *CrosstabBound) Children() []Node { return []Node{self.Child} }

// Kind returns the display name of the node kind
func Kind(n Node) string {
	switch n.(type) {
	case *Scan:
		return "scan"
	case *Mirror:
		return "mirror"
	case *Join:
		return "join"
	case *Concatenate:
		return "concatenate"
	case *Rotate:
		return "rotate"
	case *CrosstabBound:
		return "crosstab_bound"
	default:
		return "unknown"
	}
}

func CloneNode(n Node) Node {
	if n == nil {
		return nil
	}
	switch x := n.(type) {
	case *Scan:
		return &Scan{
			NodeInfo: x.NodeInfo.clone(),
			Source:   x.Source,
			Pushed:   x.Pushed.Clone(),
		}
	case *Mirror:
		r := make(map[string]string, len(x.Renames))
		for k, v := range x.Renames {
			r[k] = v
		}
		return &Mirror{
			NodeInfo: x.NodeInfo.clone(),
			Child:    CloneNode(x.Child),
			Renames:  r,
		}
	case *Join:
		return &Join{
			NodeInfo: x.NodeInfo.clone(),
			Left:     CloneNode(x.Left),
			Right:    CloneNode(x.Right),
			Kind:     x.Kind,
			Keys:     append([]JoinKey{}, x.Keys...),
		}
	case *Concatenate:
		c := &Concatenate{
			NodeInfo: x.NodeInfo.clone(),
			All:      x.All,
		}
		for _, child := range x.Inputs {
			c.Inputs = append(c.Inputs, CloneNode(child))
		}
		return c
	case *Rotate:
		return &Rotate{
			NodeInfo: x.NodeInfo.clone(),
			Child:    CloneNode(x.Child),
		}
	case *CrosstabBound:
		return &CrosstabBound{
			NodeInfo: x.NodeInfo.clone(),
			Child:    CloneNode(x.Child),
		}
	default:
		panic(fmt.Sprintf("unknown node %T", n))
	}
}

// Walk visits the tree in pre order, fn returning false skips the children
func Walk(n Node, fn func(Node) bool) {
	if n == nil || !fn(n) {
		return
	}
	for _, c := range n.Children() {
		Walk(c, fn)
	}
}

// LogicalQuery is one execution request. It is owned by a single execution,
// callers must Clone before reusing a query concurrently.
type LogicalQuery struct {
	Name string
	Root Node
}

func (self *LogicalQuery) Clone() *LogicalQuery {
	return &LogicalQuery{
		Name: self.Name,
		Root: CloneNode(self.Root),
	}
}

// Identity is the stable text identity of the query. It is used as the cache
// key and the materialized view lookup key.
func (self *LogicalQuery) Identity() string {
	return Describe(self.Root)
}
