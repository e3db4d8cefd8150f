package query

import (
	"fmt"
	"strconv"
	"strings"
)

type FormulaKind int

const (
	FormulaNone FormulaKind = iota // no aggregation, keeps the first non-null value
	FormulaSum
	FormulaCount
	FormulaDistinctCount
	FormulaAvg
	FormulaMin
	FormulaMax
	FormulaFirst
	FormulaLast
	FormulaMedian
	FormulaPercentile
	FormulaVariance
	FormulaVarianceP
	FormulaStdDev
	FormulaStdDevP
	FormulaCorrelation
	FormulaCovariance
	FormulaWeightedAvg
	FormulaCalc
)

var formulaNames = []string{
	"none",
	"sum",
	"count",
	"distinctcount",
	"avg",
	"min",
	"max",
	"first",
	"last",
	"median",
	"percentile",
	"variance",
	"variancep",
	"stddev",
	"stddevp",
	"correlation",
	"covariance",
	"weightedavg",
	"calc",
}

func (self FormulaKind) String() string {
	if self < 0 || int(self) >= len(formulaNames) {
		return "unknown"
	}
	return formulaNames[self]
}

func ParseFormulaKind(n string) (FormulaKind, error) {
	n = strings.ToLower(strings.TrimSpace(n))
	switch n {
	case "":
		return FormulaNone, nil
	case "average", "mean":
		return FormulaAvg, nil
	case "distinct_count", "countdistinct":
		return FormulaDistinctCount, nil
	case "weighted_avg":
		return FormulaWeightedAvg, nil
	}
	for i, x := range formulaNames {
		if x == n {
			return FormulaKind(i), nil
		}
	}
	return FormulaNone, fmt.Errorf("unknown formula %q", n)
}

// Formula is the tagged union of aggregate formulas. Param is the percentile
// rank (0..100) of FormulaPercentile, Expr is the expression of FormulaCalc
// which references sibling aggregates by name.
type Formula struct {
	Kind  FormulaKind
	Param float64
	Expr  string
}

func F(k FormulaKind) Formula {
	return Formula{Kind: k}
}

func Percentile(p float64) Formula {
	return Formula{Kind: FormulaPercentile, Param: p}
}

func Calc(expr string) Formula {
	return Formula{Kind: FormulaCalc, Expr: expr}
}

// ParseFormula accepts the textual form used by query definitions:
// sum, percentile(90), calc(a / b)
func ParseFormula(s string) (Formula, error) {
	s = strings.TrimSpace(s)
	name, arg := s, ""
	if i := strings.Index(s, "("); i > 0 && strings.HasSuffix(s, ")") {
		name, arg = strings.TrimSpace(s[:i]), strings.TrimSpace(s[i+1:len(s)-1])
	}
	k, err := ParseFormulaKind(name)
	if err != nil {
		return Formula{}, err
	}
	f := Formula{Kind: k}
	switch k {
	case FormulaPercentile:
		p, err := strconv.ParseFloat(arg, 64)
		if err != nil || p < 0 || p > 100 {
			return Formula{}, fmt.Errorf("percentile requires a rank between 0 and 100, got %q", arg)
		}
		f.Param = p
	case FormulaCalc:
		if arg == "" {
			return Formula{}, fmt.Errorf("calc requires an expression")
		}
		f.Expr = arg
	default:
		if arg != "" {
			return Formula{}, fmt.Errorf("formula %s does not take a parameter", k)
		}
	}
	return f, nil
}

func (self Formula) String() string {
	switch self.Kind {
	case FormulaPercentile:
		return fmt.Sprintf("percentile(%g)", self.Param)
	case FormulaCalc:
		return fmt.Sprintf("calc(%s)", self.Expr)
	default:
		return self.Kind.String()
	}
}

// TwoColumn formulas need a secondary column
func (self Formula) TwoColumn() bool {
	switch self.Kind {
	case FormulaCorrelation, FormulaCovariance, FormulaWeightedAvg:
		return true
	default:
		return false
	}
}

// Composite formulas are derived from child aggregates (count, sum, sum of
// squares) once all rows are seen.
func (self Formula) Composite() bool {
	switch self.Kind {
	case FormulaVariance, FormulaVarianceP, FormulaStdDev, FormulaStdDevP:
		return true
	default:
		return false
	}
}

// Associative formulas can be re-applied over partial states, so totals are
// merged from child cells instead of recomputed from raw rows.
func (self Formula) Associative() bool {
	switch self.Kind {
	case FormulaNone, FormulaFirst, FormulaLast:
		return false
	default:
		return true
	}
}

// Numeric tells whether the result of the formula is a number regardless of
// the input type.
func (self Formula) Numeric() bool {
	switch self.Kind {
	case FormulaNone, FormulaFirst, FormulaLast, FormulaMin, FormulaMax:
		return false
	default:
		return true
	}
}
