package sql

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func doTestExpr(lhs, rhs string, assert *assert.Assertions) {
	v, err := ParseExpr(rhs)
	if !assert.NoError(err, rhs) {
		return
	}
	assert.Equal(lhs, PrintExpr(v), rhs)

	// printed form parses back into the same tree
	again, err := ParseExpr(lhs)
	if assert.NoError(err, lhs) {
		assert.Equal(lhs, PrintExpr(again))
	}
}

func TestExprPrecedence(t *testing.T) {
	assert := assert.New(t)

	doTestExpr("(a + (b * 2))", "a + b * 2", assert)
	doTestExpr("((a - b) - c)", "a - b - c", assert)
	doTestExpr("(a or (b and c))", "a or b and c", assert)
	doTestExpr("((a + 1) > (b * 2))", "a+1 > b*2", assert)
	doTestExpr("(a == 1)", "a = 1", assert)
	doTestExpr("(a != 1)", "a <> 1", assert)
	doTestExpr("!(a == 1)", "not a = 1", assert)
	doTestExpr("(!a and b)", "not a and b", assert)
	doTestExpr("-1", "-1", assert)
	doTestExpr("-a", "-a", assert)
	doTestExpr("(a * -2.500000)", "a * -2.5", assert)
}

func TestExprSugar(t *testing.T) {
	assert := assert.New(t)

	doTestExpr("((x == 1) or (x == 2))", "x in (1, 2)", assert)
	doTestExpr("!((x == 1) or (x == 2))", "x not in (1, 2)", assert)
	doTestExpr("((x >= 1) and (x <= 3))", "x between 1 and 3", assert)
	doTestExpr("(((x >= 1) and (x <= 3)) and y)", "x between 1 and 3 and y", assert)
	doTestExpr("!((x >= 1) and (x <= 3))", "x not between 1 and 3", assert)
	doTestExpr("isnull(x)", "x is null", assert)
	doTestExpr("!isnull(x)", "x IS NOT NULL", assert)
	doTestExpr("(x like \"a%\")", "x like 'a%'", assert)
	doTestExpr("!(x like \"a%\")", "x not like 'a%'", assert)
}

func TestExprAtomic(t *testing.T) {
	assert := assert.New(t)

	doTestExpr("`Order Date`", "`Order Date`", assert)
	doTestExpr("(amount > $min)", "amount > $min", assert)
	doTestExpr("round(avg_x, 2)", "ROUND(avg_x, 2)", assert)
	doTestExpr("count(1)", "count(*)", assert)
	doTestExpr("(a ? 1 : 2)", "a ? 1 : 2", assert)
	doTestExpr("case when (a > 1) then \"x\" else \"y\" end", "case when a > 1 then 'x' else 'y' end", assert)
	doTestExpr("case when a then 1 end", "CASE WHEN a THEN 1 END", assert)
	doTestExpr("((\"a\" == true) and isnull(null))", "'a' = true and null is null", assert)
}

func TestExprError(t *testing.T) {
	assert := assert.New(t)

	for _, src := range []string{
		"",
		"a +",
		"(a",
		"a b",
		"x in ()",
		"x between 1",
		"x not 1",
		"case end",
		"case when a then 1",
		"a ? 1",
		"x is 1",
		"f(a b)",
	} {
		_, err := ParseExpr(src)
		assert.Error(err, src)
	}
}

func TestRefsAndVars(t *testing.T) {
	assert := assert.New(t)

	e, err := ParseExpr("a + b > $x and a < $y or isnull(`c d`)")
	assert.NoError(err)
	assert.Equal([]string{"a", "b", "c d"}, Refs(e))
	assert.Equal([]string{"x", "y"}, Vars(e))

	{
		bound, err := BindVariables(e, map[string]interface{}{"x": 1, "y": "z"})
		assert.NoError(err)
		assert.Empty(Vars(bound))
		assert.Equal("((((a + b) > 1) and (a < \"z\")) or isnull(`c d`))", PrintExpr(bound))

		// the input is left untouched
		assert.Equal([]string{"x", "y"}, Vars(e))
	}
	{
		_, err := BindVariables(e, map[string]interface{}{"x": 1})
		assert.Error(err)
	}
	{
		renamed := RenameRefs(e, func(n string) string { return "t." + n })
		assert.Equal([]string{"t.a", "t.b", "t.c d"}, Refs(renamed))
	}
}

func TestPortableAndConjuncts(t *testing.T) {
	assert := assert.New(t)

	{
		e, _ := ParseExpr("lower(a) = 'x' and b is not null")
		ok, _ := Portable(e)
		assert.True(ok)
		assert.Len(Conjuncts(e), 2)
	}
	{
		e, _ := ParseExpr("year(d) = 2024")
		ok, why := Portable(e)
		assert.False(ok)
		assert.Contains(why, "year")
	}
	{
		e, _ := ParseExpr("a ? 1 : 0")
		ok, _ := Portable(e)
		assert.False(ok)
	}
}
