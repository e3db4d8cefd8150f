package sql

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestOp(t *testing.T) {
	assert := assert.New(t)
	{
		l := newLexer("+-*/%():?,")
		assert.True(l.Next() == TkAdd)
		assert.True(l.Next() == TkSub)
		assert.True(l.Next() == TkMul)
		assert.True(l.Next() == TkDiv)
		assert.True(l.Next() == TkMod)
		assert.True(l.Next() == TkLPar)
		assert.True(l.Next() == TkRPar)
		assert.True(l.Next() == TkColon)
		assert.True(l.Next() == TkQuestion)
		assert.True(l.Next() == TkComma)
		assert.True(l.Next() == TkEof)
	}
	{
		l := newLexer("< <= > >= = == != <> ! && ||")
		assert.True(l.Next() == TkLt)
		assert.True(l.Next() == TkLe)
		assert.True(l.Next() == TkGt)
		assert.True(l.Next() == TkGe)
		assert.True(l.Next() == TkEq)
		assert.True(l.Next() == TkEq)
		assert.True(l.Next() == TkNe)
		assert.True(l.Next() == TkNe)
		assert.True(l.Next() == TkNot)
		assert.True(l.Next() == TkAnd)
		assert.True(l.Next() == TkOr)
		assert.True(l.Next() == TkEof)
	}
	{
		l := newLexer("&")
		assert.True(l.Next() == TkError)
		// sticky error
		assert.True(l.Next() == TkError)
	}
}

func TestKeyword(t *testing.T) {
	assert := assert.New(t)
	{
		l := newLexer("AND or Not IN between LIKE is case WHEN then else END true FALSE null")
		assert.True(l.Next() == TkAnd)
		assert.True(l.Next() == TkOr)
		assert.True(l.Next() == TkNot)
		assert.True(l.Next() == TkIn)
		assert.True(l.Next() == TkBetween)
		assert.True(l.Next() == TkLike)
		assert.True(l.Next() == TkIs)
		assert.True(l.Next() == TkCase)
		assert.True(l.Next() == TkWhen)
		assert.True(l.Next() == TkThen)
		assert.True(l.Next() == TkElse)
		assert.True(l.Next() == TkEnd)
		assert.True(l.Next() == TkTrue)
		assert.True(l.Next() == TkFalse)
		assert.True(l.Next() == TkNull)
		assert.True(l.Next() == TkEof)
	}
	{
		// keyword prefix is still an identifier
		l := newLexer("andx nullable")
		assert.True(l.Next() == TkId)
		assert.Equal("andx", l.Lexeme.Text)
		assert.True(l.Next() == TkId)
		assert.Equal("nullable", l.Lexeme.Text)
	}
}

func TestId(t *testing.T) {
	assert := assert.New(t)
	{
		l := newLexer("Region _a1 `Order Date` $max")
		assert.True(l.Next() == TkId)
		assert.Equal("Region", l.Lexeme.Text)
		assert.True(l.Next() == TkId)
		assert.Equal("_a1", l.Lexeme.Text)
		assert.True(l.Next() == TkId)
		assert.Equal("Order Date", l.Lexeme.Text)
		assert.True(l.Next() == TkVar)
		assert.Equal("max", l.Lexeme.Text)
		assert.True(l.Next() == TkEof)
	}
	{
		l := newLexer("`abc")
		assert.True(l.Next() == TkError)
	}
	{
		l := newLexer("$ 1")
		assert.True(l.Next() == TkError)
	}
}

func TestLiteral(t *testing.T) {
	assert := assert.New(t)
	{
		l := newLexer("12 1.5 2e3 1e-2 'a\\'b' \"x\\ty\"")
		assert.True(l.Next() == TkInt)
		assert.Equal(int64(12), l.Lexeme.Int)
		assert.True(l.Next() == TkReal)
		assert.Equal(1.5, l.Lexeme.Real)
		assert.True(l.Next() == TkReal)
		assert.Equal(2000.0, l.Lexeme.Real)
		assert.True(l.Next() == TkReal)
		assert.Equal(0.01, l.Lexeme.Real)
		assert.True(l.Next() == TkStr)
		assert.Equal("a'b", l.Lexeme.Text)
		assert.True(l.Next() == TkStr)
		assert.Equal("x\ty", l.Lexeme.Text)
		assert.True(l.Next() == TkEof)
	}
	{
		l := newLexer("'abc")
		assert.True(l.Next() == TkError)
	}
}
