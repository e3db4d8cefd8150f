package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestVariable(t *testing.T) {
	assert := assert.New(t)
	assert.Equal(int64(10), variable("10"))
	assert.Equal(int64(0), variable("0"))
	assert.Equal(1.5, variable("1.5"))
	assert.Equal(0.5, variable("0.5"))
	assert.Equal("010", variable("010"))
	assert.Equal("007.5", variable("007.5"))
	assert.Equal(true, variable("true"))
	assert.Equal("East", variable("East"))
}

func TestPair(t *testing.T) {
	assert := assert.New(t)
	{
		k, v, err := pair("sales=data/sales.csv")
		assert.NoError(err)
		assert.Equal("sales", k)
		assert.Equal("data/sales.csv", v)
	}
	{
		k, v, err := pair("q=a=b")
		assert.NoError(err)
		assert.Equal("q", k)
		assert.Equal("a=b", v)
	}
	{
		_, _, err := pair("=x")
		assert.Error(err)
	}
	{
		_, _, err := pair("nothing")
		assert.Error(err)
	}
}
