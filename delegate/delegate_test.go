package delegate

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDelegateUnsetGetReturnsNothing(t *testing.T) {
	var d Delegate[func(string)]

	assert.False(t, d.IsSet())

	fn, ok := d.Get()
	assert.False(t, ok)
	assert.Nil(t, fn)
}

func TestDelegateSetAndCall(t *testing.T) {
	var d Delegate[func(int) int]

	d.Set(func(x int) int { return x * 2 })
	assert.True(t, d.IsSet())

	fn, ok := d.Get()
	assert.True(t, ok)
	assert.Equal(t, 8, fn(4))
}

func TestDelegateSetReplacesPrevious(t *testing.T) {
	var d Delegate[func() string]

	d.Set(func() string { return "first" })
	d.Set(func() string { return "second" })

	fn, _ := d.Get()
	assert.Equal(t, "second", fn())
}
