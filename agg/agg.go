// Package agg implements the incremental reducers behind aggregate formulas.
//
// Every formula is computed by a Reducer fed one row at a time. Reducers of the
// same formula can be merged, this is how totals are derived from child cells
// and how dropped groups are folded into an Others bucket. Composite formulas
// (the variance family) are built from child reducers, count, sum and sum of
// squares, which are accumulated in the row pass and combined when the result
// is asked for.
package agg

import (
	"fmt"
	"math"
	"sort"

	"github.com/dianpeng/xtab/query"
	"github.com/dianpeng/xtab/table"
)

type Reducer interface {
	// Add feeds one row. w is the secondary column value of two column
	// formulas, nil otherwise.
	Add(v, w interface{})

	// Merge folds the state of another reducer of the same formula.
	Merge(o Reducer)

	Result() interface{}
}

// New returns a fresh reducer for the formula. Calculated formulas have no
// reducer, they are evaluated from sibling results by the caller.
func New(f query.Formula) (Reducer, error) {
	switch f.Kind {
	case query.FormulaNone, query.FormulaFirst:
		return &first{}, nil
	case query.FormulaLast:
		return &last{}, nil
	case query.FormulaSum:
		return &sum{}, nil
	case query.FormulaCount:
		return &count{}, nil
	case query.FormulaDistinctCount:
		return &distinct{set: map[string]struct{}{}}, nil
	case query.FormulaAvg:
		return &avg{}, nil
	case query.FormulaMin:
		return &extreme{sign: -1}, nil
	case query.FormulaMax:
		return &extreme{sign: 1}, nil
	case query.FormulaMedian:
		return &quantile{p: 50}, nil
	case query.FormulaPercentile:
		return &quantile{p: f.Param}, nil
	case query.FormulaVariance, query.FormulaVarianceP, query.FormulaStdDev, query.FormulaStdDevP:
		return newComposite(f.Kind), nil
	case query.FormulaCorrelation, query.FormulaCovariance:
		return &moments{kind: f.Kind}, nil
	case query.FormulaWeightedAvg:
		return &weighted{}, nil
	default:
		return nil, fmt.Errorf("formula %s has no reducer", f)
	}
}

// MustNew is New for formulas known to have a reducer
func MustNew(f query.Formula) Reducer {
	r, err := New(f)
	if err != nil {
		panic(err)
	}
	return r
}

func num(v interface{}) (float64, bool) {
	if v == nil {
		return 0, false
	}
	return table.ToFloat(v)
}

/* ----------------------------------------------------------------------------
 * first / last / none
 * ---------------------------------------------------------------------------*/

type first struct {
	v   interface{}
	set bool
}

func (self *first) Add(v, _ interface{}) {
	if !self.set && v != nil {
		self.v, self.set = v, true
	}
}

func (self *first) Merge(o Reducer) {
	x := o.(*first)
	if !self.set && x.set {
		self.v, self.set = x.v, true
	}
}

func (self *first) Result() interface{} { return self.v }

type last struct {
	v interface{}
}

func (self *last) Add(v, _ interface{}) {
	if v != nil {
		self.v = v
	}
}

func (self *last) Merge(o Reducer) {
	if x := o.(*last); x.v != nil {
		self.v = x.v
	}
}

func (self *last) Result() interface{} { return self.v }

/* ----------------------------------------------------------------------------
 * sum / count / avg
 * ---------------------------------------------------------------------------*/

// sum stays integral as long as every input is an integer
type sum struct {
	i     int64
	f     float64
	float bool
	n     int
}

func (self *sum) Add(v, _ interface{}) {
	switch x := v.(type) {
	case nil:
		return
	case int64:
		self.i += x
	default:
		f, ok := num(v)
		if !ok {
			return
		}
		self.f += f
		self.float = true
	}
	self.n++
}

func (self *sum) Merge(o Reducer) {
	x := o.(*sum)
	self.i += x.i
	self.f += x.f
	self.float = self.float || x.float
	self.n += x.n
}

func (self *sum) Result() interface{} {
	if self.n == 0 {
		return nil
	}
	if self.float {
		return self.f + float64(self.i)
	}
	return self.i
}

func (self *sum) total() float64 {
	return self.f + float64(self.i)
}

type count struct {
	n int64
}

func (self *count) Add(v, _ interface{}) {
	if v != nil {
		self.n++
	}
}

func (self *count) Merge(o Reducer)     { self.n += o.(*count).n }
func (self *count) Result() interface{} { return self.n }

type avg struct {
	s float64
	n int64
}

func (self *avg) Add(v, _ interface{}) {
	if f, ok := num(v); ok {
		self.s += f
		self.n++
	}
}

func (self *avg) Merge(o Reducer) {
	x := o.(*avg)
	self.s += x.s
	self.n += x.n
}

func (self *avg) Result() interface{} {
	if self.n == 0 {
		return nil
	}
	return self.s / float64(self.n)
}

type distinct struct {
	set map[string]struct{}
}

func (self *distinct) Add(v, _ interface{}) {
	if v != nil {
		self.set[table.Key(v)] = struct{}{}
	}
}

func (self *distinct) Merge(o Reducer) {
	for k := range o.(*distinct).set {
		self.set[k] = struct{}{}
	}
}

func (self *distinct) Result() interface{} { return int64(len(self.set)) }

/* ----------------------------------------------------------------------------
 * min / max
 * ---------------------------------------------------------------------------*/

type extreme struct {
	sign int
	v    interface{}
}

func (self *extreme) Add(v, _ interface{}) {
	if v == nil {
		return
	}
	if self.v == nil || table.Compare(v, self.v)*self.sign > 0 {
		self.v = v
	}
}

func (self *extreme) Merge(o Reducer)     { self.Add(o.(*extreme).v, nil) }
func (self *extreme) Result() interface{} { return self.v }

/* ----------------------------------------------------------------------------
 * median / percentile
 * ---------------------------------------------------------------------------*/

// quantile buffers the group values, linear interpolation between closest
// ranks.
type quantile struct {
	p      float64
	values []float64
}

func (self *quantile) Add(v, _ interface{}) {
	if f, ok := num(v); ok {
		self.values = append(self.values, f)
	}
}

func (self *quantile) Merge(o Reducer) {
	self.values = append(self.values, o.(*quantile).values...)
}

func (self *quantile) Result() interface{} {
	n := len(self.values)
	if n == 0 {
		return nil
	}
	sort.Float64s(self.values)
	pos := self.p / 100 * float64(n-1)
	lo := int(math.Floor(pos))
	hi := int(math.Ceil(pos))
	if lo == hi {
		return self.values[lo]
	}
	frac := pos - float64(lo)
	return self.values[lo] + (self.values[hi]-self.values[lo])*frac
}

/* ----------------------------------------------------------------------------
 * composite: variance family
 * ---------------------------------------------------------------------------*/

type composite struct {
	kind  query.FormulaKind
	count *count
	sum   *sum
	sumsq *sum
}

func newComposite(k query.FormulaKind) *composite {
	return &composite{
		kind:  k,
		count: &count{},
		sum:   &sum{},
		sumsq: &sum{},
	}
}

func (self *composite) Add(v, _ interface{}) {
	f, ok := num(v)
	if !ok {
		return
	}
	self.count.Add(f, nil)
	self.sum.Add(f, nil)
	self.sumsq.Add(f*f, nil)
}

func (self *composite) Merge(o Reducer) {
	x := o.(*composite)
	self.count.Merge(x.count)
	self.sum.Merge(x.sum)
	self.sumsq.Merge(x.sumsq)
}

func (self *composite) Result() interface{} {
	n := float64(self.count.n)
	sample := self.kind == query.FormulaVariance || self.kind == query.FormulaStdDev
	if n == 0 || (sample && n < 2) {
		return nil
	}
	mean := self.sum.total() / n

	// E[x^2] - E[x]^2 may go slightly negative through rounding
	v := self.sumsq.total()/n - mean*mean
	if v < 0 {
		v = 0
	}
	if sample {
		v = v * n / (n - 1)
	}
	if self.kind == query.FormulaStdDev || self.kind == query.FormulaStdDevP {
		return math.Sqrt(v)
	}
	return v
}

/* ----------------------------------------------------------------------------
 * two column formulas
 * ---------------------------------------------------------------------------*/

// moments computes sample covariance and pearson correlation
type moments struct {
	kind query.FormulaKind

	n, sx, sy, sxx, syy, sxy float64
}

func (self *moments) Add(v, w interface{}) {
	x, ok := num(v)
	if !ok {
		return
	}
	y, ok := num(w)
	if !ok {
		return
	}
	self.n++
	self.sx += x
	self.sy += y
	self.sxx += x * x
	self.syy += y * y
	self.sxy += x * y
}

func (self *moments) Merge(o Reducer) {
	x := o.(*moments)
	self.n += x.n
	self.sx += x.sx
	self.sy += x.sy
	self.sxx += x.sxx
	self.syy += x.syy
	self.sxy += x.sxy
}

func (self *moments) Result() interface{} {
	if self.n < 2 {
		return nil
	}
	cov := (self.sxy - self.sx*self.sy/self.n) / (self.n - 1)
	if self.kind == query.FormulaCovariance {
		return cov
	}
	vx := (self.sxx - self.sx*self.sx/self.n) / (self.n - 1)
	vy := (self.syy - self.sy*self.sy/self.n) / (self.n - 1)
	if vx <= 0 || vy <= 0 {
		return nil
	}
	return cov / math.Sqrt(vx*vy)
}

// weighted is sum(v*w) / sum(w), it is also the combine formula of avg over
// pre aggregated rows where w is the group count.
type weighted struct {
	sv, sw float64
}

func (self *weighted) Add(v, w interface{}) {
	x, ok := num(v)
	if !ok {
		return
	}
	y, ok := num(w)
	if !ok {
		return
	}
	self.sv += x * y
	self.sw += y
}

func (self *weighted) Merge(o Reducer) {
	x := o.(*weighted)
	self.sv += x.sv
	self.sw += x.sw
}

func (self *weighted) Result() interface{} {
	if self.sw == 0 {
		return nil
	}
	return self.sv / self.sw
}
