package agg

import (
	"math"
	"testing"

	"github.com/dianpeng/xtab/query"
	"github.com/stretchr/testify/assert"
)

func reduce(f query.Formula, values ...interface{}) interface{} {
	r := MustNew(f)
	for _, v := range values {
		r.Add(v, nil)
	}
	return r.Result()
}

func reducePairs(f query.Formula, pairs ...[2]interface{}) interface{} {
	r := MustNew(f)
	for _, p := range pairs {
		r.Add(p[0], p[1])
	}
	return r.Result()
}

func TestSimple(t *testing.T) {
	assert := assert.New(t)

	assert.Equal(int64(35), reduce(query.F(query.FormulaSum), int64(10), int64(20), nil, int64(5)))
	assert.Equal(35.5, reduce(query.F(query.FormulaSum), int64(10), 20.5, int64(5)))
	assert.Nil(reduce(query.F(query.FormulaSum)))
	assert.Nil(reduce(query.F(query.FormulaSum), nil, nil))

	assert.Equal(int64(3), reduce(query.F(query.FormulaCount), "a", nil, "b", "a"))
	assert.Equal(int64(0), reduce(query.F(query.FormulaCount)))
	assert.Equal(int64(2), reduce(query.F(query.FormulaDistinctCount), "a", nil, "b", "a"))
	assert.Equal(int64(1), reduce(query.F(query.FormulaDistinctCount), int64(1), 1.0))

	assert.Equal(12.5, reduce(query.F(query.FormulaAvg), int64(10), int64(15), nil))
	assert.Nil(reduce(query.F(query.FormulaAvg)))

	assert.Equal(int64(-2), reduce(query.F(query.FormulaMin), int64(3), nil, int64(-2), 7.5))
	assert.Equal(7.5, reduce(query.F(query.FormulaMax), int64(3), nil, int64(-2), 7.5))
	assert.Equal("b", reduce(query.F(query.FormulaMax), "a", "b"))

	assert.Equal("x", reduce(query.F(query.FormulaFirst), nil, "x", "y"))
	assert.Equal("y", reduce(query.F(query.FormulaLast), "x", "y", nil))
	assert.Equal("x", reduce(query.F(query.FormulaNone), nil, "x", "y"))
}

func TestQuantile(t *testing.T) {
	assert := assert.New(t)

	assert.Equal(3.0, reduce(query.F(query.FormulaMedian), int64(5), int64(1), int64(3)))
	assert.Equal(2.5, reduce(query.F(query.FormulaMedian), int64(4), int64(1), int64(3), int64(2)))
	assert.Equal(1.0, reduce(query.Percentile(0), int64(4), int64(1), int64(3)))
	assert.Equal(4.0, reduce(query.Percentile(100), int64(4), int64(1), int64(3)))
	assert.InDelta(3.7, reduce(query.Percentile(90), int64(1), int64(2), int64(3), int64(4)), 1e-9)
	assert.Nil(reduce(query.F(query.FormulaMedian)))
}

func TestComposite(t *testing.T) {
	assert := assert.New(t)
	values := []interface{}{int64(2), int64(4), int64(4), int64(4), int64(5), int64(5), int64(7), int64(9)}

	assert.InDelta(4.0, reduce(query.F(query.FormulaVarianceP), values...), 1e-9)
	assert.InDelta(2.0, reduce(query.F(query.FormulaStdDevP), values...), 1e-9)
	assert.InDelta(32.0/7, reduce(query.F(query.FormulaVariance), values...), 1e-9)
	assert.InDelta(math.Sqrt(32.0/7), reduce(query.F(query.FormulaStdDev), values...), 1e-9)

	// a single value has no sample variance but a zero population variance
	assert.Nil(reduce(query.F(query.FormulaVariance), int64(3)))
	assert.Equal(0.0, reduce(query.F(query.FormulaVarianceP), int64(3)))

	// rounding residue never yields a negative variance
	v := reduce(query.F(query.FormulaVarianceP), 0.1, 0.1, 0.1).(float64)
	assert.True(v >= 0)
}

func TestTwoColumn(t *testing.T) {
	assert := assert.New(t)
	pairs := [][2]interface{}{{1.0, 2.0}, {2.0, 4.0}, {3.0, 6.0}}

	assert.InDelta(1.0, reducePairs(query.F(query.FormulaCorrelation), pairs...), 1e-9)
	assert.InDelta(2.0, reducePairs(query.F(query.FormulaCovariance), pairs...), 1e-9)
	assert.Nil(reducePairs(query.F(query.FormulaCorrelation), [2]interface{}{1.0, 1.0}))

	assert.InDelta(25.0, reducePairs(query.F(query.FormulaWeightedAvg),
		[2]interface{}{10.0, int64(1)}, [2]interface{}{30.0, int64(3)}), 1e-9)
	assert.Nil(reducePairs(query.F(query.FormulaWeightedAvg), [2]interface{}{10.0, nil}))
}

func TestMerge(t *testing.T) {
	assert := assert.New(t)

	for _, f := range []query.Formula{
		query.F(query.FormulaSum),
		query.F(query.FormulaCount),
		query.F(query.FormulaDistinctCount),
		query.F(query.FormulaAvg),
		query.F(query.FormulaMin),
		query.F(query.FormulaMax),
		query.F(query.FormulaMedian),
		query.F(query.FormulaVariance),
		query.F(query.FormulaStdDevP),
	} {
		values := []interface{}{int64(3), int64(8), int64(1), int64(8), int64(4)}
		whole := reduce(f, values...)

		a, b := MustNew(f), MustNew(f)
		for _, v := range values[:2] {
			a.Add(v, nil)
		}
		for _, v := range values[2:] {
			b.Add(v, nil)
		}
		a.Merge(b)
		assert.InDelta(whole, a.Result(), 1e-9, f.String())
	}

	{
		a, b := MustNew(query.F(query.FormulaFirst)), MustNew(query.F(query.FormulaFirst))
		b.Add("b", nil)
		a.Merge(b)
		assert.Equal("b", a.Result())
	}

	_, err := New(query.Calc("a + b"))
	assert.Error(err)
}
