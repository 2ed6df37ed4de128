package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/roach88/knot/internal/ir"
)

func TestChain_AppliesInOrder(t *testing.T) {
	c := chain[Change]{
		func(v Change) Change { return add{N: v.(add).N * 10} },
		func(v Change) Change { return add{N: v.(add).N + 1} },
	}

	assert.Equal(t, add{N: 21}, c.apply(add{N: 2}))
}

func TestChain_NilIsIdentity(t *testing.T) {
	var c chain[Change]
	assert.Equal(t, add{N: 2}, c.apply(add{N: 2}))
}

func TestWatch_FiltersByTag(t *testing.T) {
	var seen []ir.Tag
	w := watch[Change]("add", func(c Change) { seen = append(seen, c.Tag()) })

	assert.Equal(t, add{N: 1}, w(add{N: 1}))
	assert.Equal(t, load{}, w(load{}))
	assert.Nil(t, w(nil))

	assert.Equal(t, []ir.Tag{"add"}, seen)
}

func TestWatch_AnyTag(t *testing.T) {
	count := 0
	w := watch[Change](ir.AnyTag, func(Change) { count++ })

	w(add{})
	w(load{})
	w(nil)

	assert.Equal(t, 2, count)
}
