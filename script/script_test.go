package script

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNative(t *testing.T) {
	assert := assert.New(t)
	e, err := New("native")
	assert.NoError(err)

	in := map[string]interface{}{"total": int64(30), "cnt": int64(4), "label": "East"}
	{
		v, err := e.Eval("total / cnt", in)
		assert.NoError(err)
		assert.Equal(7.5, v)
	}
	{
		v, err := e.Eval("total / cnt", map[string]interface{}{"total": int64(8), "cnt": int64(2)})
		assert.NoError(err)
		assert.Equal(4.0, v)
	}
	{
		v, err := e.Eval("upper(label) + '!'", in)
		assert.NoError(err)
		assert.Equal("EAST!", v)
	}
	{
		_, err := e.Eval("total +", in)
		assert.Error(err)
	}
	{
		_, err := e.Eval("nothing * 2", in)
		assert.Error(err)
	}
}

func TestAwk(t *testing.T) {
	assert := assert.New(t)
	e, err := New("awk")
	assert.NoError(err)

	in := map[string]interface{}{"total": int64(30), "cnt": int64(4), "bad name": 1}
	{
		v, err := e.Eval("total / cnt", in)
		assert.NoError(err)
		assert.Equal(7.5, v)
	}
	{
		v, err := e.Eval("total * 2", in)
		assert.NoError(err)
		assert.Equal(int64(60), v)
	}
	{
		v, err := e.Eval(`total > 10 ? "big" : "small"`, in)
		assert.NoError(err)
		assert.Equal("big", v)
	}
	{
		_, err := e.Eval("total / (", in)
		assert.Error(err)
	}

	_, err = New("lua")
	assert.Error(err)
}
