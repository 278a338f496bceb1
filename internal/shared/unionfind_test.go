package shared

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestUnionFind_ConnectedIffUnioned(t *testing.T) {
	uf := NewUnionFind(5)

	assert.False(t, uf.Connected(0, 1))

	uf.Union(0, 1)
	uf.Union(1, 2)

	assert.True(t, uf.Connected(0, 2))
	assert.False(t, uf.Connected(0, 3))
	assert.False(t, uf.Connected(3, 4))
}

func TestUnionFind_Groups(t *testing.T) {
	uf := NewUnionFind(6)
	uf.Union(0, 1)
	uf.Union(2, 3)
	uf.Union(3, 4)

	groups := uf.Groups()
	assert.Len(t, groups, 3) // {0,1} {2,3,4} {5}

	sizes := map[int]int{}
	for _, g := range groups {
		sizes[len(g)]++
	}
	assert.Equal(t, 1, sizes[1])
	assert.Equal(t, 1, sizes[2])
	assert.Equal(t, 1, sizes[3])
}

func TestUnionFind_SelfConnected(t *testing.T) {
	uf := NewUnionFind(3)
	assert.True(t, uf.Connected(1, 1))
}
