package query

import (
	"fmt"
	"strings"
)

const (
	PercentNone = iota
	PercentGroup
	PercentGrandTotal
)

var percentNames = []string{"none", "group", "grandtotal"}

func PercentName(p int) string {
	if p < 0 || p >= len(percentNames) {
		return "none"
	}
	return percentNames[p]
}

func ParsePercent(n string) (int, error) {
	switch strings.ToLower(n) {
	case "", "none":
		return PercentNone, nil
	case "group":
		return PercentGroup, nil
	case "grandtotal", "grand_total", "total":
		return PercentGrandTotal, nil
	default:
		return PercentNone, fmt.Errorf("unknown percentage mode %q", n)
	}
}

// AggregateRef is one measure of an AggregateSpec
type AggregateRef struct {
	Column     string // input column, ignored by calc formulas
	Secondary  string // second input of two column formulas
	Formula    Formula
	Name       string // output column, defaults to formula(column)
	Caption    string
	Percentage int
}

func (self *AggregateRef) OutName() string {
	if self.Name != "" {
		return self.Name
	}
	if self.Formula.Kind == FormulaCalc {
		return self.Formula.Expr
	}
	if self.Formula.TwoColumn() {
		return fmt.Sprintf("%s(%s,%s)", self.Formula.Kind, self.Column, self.Secondary)
	}
	return fmt.Sprintf("%s(%s)", self.Formula.Kind, self.Column)
}

func (self *AggregateRef) Clone() *AggregateRef {
	c := *self
	return &c
}

const (
	SortOriginal = iota // order of first appearance
	SortAsc
	SortDesc
)

func ParseSortDir(n string) (int, error) {
	switch strings.ToLower(n) {
	case "", "original", "none":
		return SortOriginal, nil
	case "asc", "ascending":
		return SortAsc, nil
	case "desc", "descending":
		return SortDesc, nil
	default:
		return SortOriginal, fmt.Errorf("unknown sort direction %q", n)
	}
}

// NamedGroup relabels a set of values into one group
type NamedGroup struct {
	Label  string
	Values []interface{}
}

const DefaultOthersLabel = "Others"

// SortOrder is the ordering of one group key.
//
// Interval makes a date key sort by its bucket, chronologically. Named groups
// switch the key into manual mode: each listed value is relabeled and ranks in
// list order, unlisted values go to the others bucket when Others is set and
// keep their value otherwise. The others bucket always sorts last.
type SortOrder struct {
	Dir         int
	Interval    DateLevel
	Named       []NamedGroup
	Others      bool
	OthersLabel string
}

func (self *SortOrder) OthersName() string {
	if self.OthersLabel != "" {
		return self.OthersLabel
	}
	return DefaultOthersLabel
}

// RankingCondition keeps the top or bottom N groups of one group level by a
// measure, per distinct prefix of the outer group keys.
type RankingCondition struct {
	Measure  int // index into AggregateSpec.Aggregates
	N        int
	Top      bool
	KeepTies bool
	Others   bool // merge the dropped groups into an others group
}

type GroupRef struct {
	Column   string
	Name     string // output column, defaults to Column
	Order    SortOrder
	Ranking  *RankingCondition
	Subtotal bool // emit a subtotal row after each distinct value of this level
}

func (self *GroupRef) OutName() string {
	if self.Name != "" {
		return self.Name
	}
	return self.Column
}

func (self *GroupRef) Clone() *GroupRef {
	c := *self
	c.Order.Named = append([]NamedGroup{}, self.Order.Named...)
	if self.Ranking != nil {
		r := *self.Ranking
		c.Ranking = &r
	}
	return &c
}

const (
	PercentByColumn = iota // share of the cell inside its column
	PercentByRow           // share of the cell inside its row
)

const (
	CalcRunningTotal = iota
	CalcPercentOfPrevious
	CalcRank
	CalcExpression
)

func ParseCalcKind(n string) (int, error) {
	switch strings.ToLower(n) {
	case "runningtotal", "running_total":
		return CalcRunningTotal, nil
	case "percentofprevious", "percent_of_previous":
		return CalcPercentOfPrevious, nil
	case "rank":
		return CalcRank, nil
	case "expression", "expr":
		return CalcExpression, nil
	default:
		return 0, fmt.Errorf("unknown calc column %q", n)
	}
}

// CalcColumn is a derived crosstab measure computed from sibling cells of the
// same row path once every base aggregate is final.
type CalcColumn struct {
	Name    string
	Kind    int
	Measure int    // index of the base measure for running total/percent/rank
	Expr    string // expression over measure names for CalcExpression
}

type CrosstabOptions struct {
	PercentDirection int
	RowGrandTotal    bool // emit the grand total row
	ColGrandTotal    bool // emit the total column(s)
	TimeSeries       bool // fill missing date buckets
	Drilled          bool // user expanded hierarchy, grand totals are suppressed
	CalcColumns      []CalcColumn
}

// AggregateSpec describes grouping and aggregation of one node. A flat summary
// groups by every GroupRef, a crosstab uses the last GroupRef as column key and
// the others as row keys.
type AggregateSpec struct {
	Groups     []*GroupRef
	Aggregates []*AggregateRef
	Crosstab   bool
	GrandTotal bool // flat summary grand total row
	Cross      CrosstabOptions
}

func (self *AggregateSpec) Empty() bool {
	return self == nil || (len(self.Groups) == 0 && len(self.Aggregates) == 0)
}

func (self *AggregateSpec) Clone() *AggregateSpec {
	if self == nil {
		return nil
	}
	c := &AggregateSpec{
		Crosstab:   self.Crosstab,
		GrandTotal: self.GrandTotal,
		Cross:      self.Cross,
	}
	c.Cross.CalcColumns = append([]CalcColumn{}, self.Cross.CalcColumns...)
	for _, g := range self.Groups {
		c.Groups = append(c.Groups, g.Clone())
	}
	for _, a := range self.Aggregates {
		c.Aggregates = append(c.Aggregates, a.Clone())
	}
	return c
}

// Aggregate looks up an aggregate by its output name
func (self *AggregateSpec) Aggregate(name string) (int, *AggregateRef) {
	for i, a := range self.Aggregates {
		if a.OutName() == name {
			return i, a
		}
	}
	return -1, nil
}

func (self *AggregateSpec) HasRanking() bool {
	for _, g := range self.Groups {
		if g.Ranking != nil {
			return true
		}
	}
	return false
}

// OuterRankings lists the crosstab row keys ranked while not innermost, a
// crosstab ranks the column key and the innermost row key only
func (self *AggregateSpec) OuterRankings() []string {
	out := []string{}
	if self.Empty() || !self.Crosstab {
		return out
	}
	for i := 0; i < len(self.Groups)-2; i++ {
		if self.Groups[i].Ranking != nil {
			out = append(out, self.Groups[i].OutName())
		}
	}
	return out
}

func (self *AggregateSpec) HasSubtotal() bool {
	for _, g := range self.Groups {
		if g.Subtotal {
			return true
		}
	}
	return false
}

// OutputNames lists group columns then aggregate columns
func (self *AggregateSpec) OutputNames() []string {
	out := []string{}
	for _, g := range self.Groups {
		out = append(out, g.OutName())
	}
	for _, a := range self.Aggregates {
		out = append(out, a.OutName())
	}
	return out
}

type SortRef struct {
	Column string
	Dir    int // SortAsc or SortDesc
}

type SortSpec []SortRef

// ConditionList is a list of predicates combined with AND
type ConditionList []string

func (self ConditionList) Expr() string {
	if len(self) == 0 {
		return ""
	}
	if len(self) == 1 {
		return self[0]
	}
	parts := make([]string, 0, len(self))
	for _, c := range self {
		parts = append(parts, "("+c+")")
	}
	return strings.Join(parts, " and ")
}
