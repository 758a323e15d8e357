package sqlgraph

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGraphSort(t *testing.T) {
	t.Run("parents first", func(t *testing.T) {
		g := NewGraph[string]()
		g.Add("line_item")
		g.Add("order")
		g.Add("cookie")
		g.Add("user")
		g.Depend("line_item", "order")
		g.Depend("line_item", "cookie")
		g.Depend("order", "user")
		order, cyclic := g.Sort()
		require.Empty(t, cyclic)
		assert.Equal(t, []string{"cookie", "user", "order", "line_item"}, order)
	})
	t.Run("stable without edges", func(t *testing.T) {
		g := NewGraph[int]()
		for _, n := range []int{5, 3, 9, 1} {
			g.Add(n)
		}
		g.Add(3)
		assert.Equal(t, 4, g.Len())
		order, cyclic := g.Sort()
		assert.Empty(t, cyclic)
		assert.Equal(t, []int{5, 3, 9, 1}, order)
	})
	t.Run("duplicate edges", func(t *testing.T) {
		g := NewGraph[string]()
		g.Depend("b", "a")
		g.Depend("b", "a")
		assert.True(t, g.Has("a"))
		order, _ := g.Sort()
		assert.Equal(t, []string{"a", "b"}, order)
	})
	t.Run("cycle", func(t *testing.T) {
		g := NewGraph[string]()
		g.Add("root")
		g.Depend("x", "y")
		g.Depend("y", "x")
		g.Depend("z", "x")
		order, cyclic := g.Sort()
		assert.Equal(t, []string{"root"}, order)
		assert.Equal(t, []string{"x", "y", "z"}, cyclic)
	})
	t.Run("self reference", func(t *testing.T) {
		g := NewGraph[string]()
		g.Depend("a", "a")
		_, cyclic := g.Sort()
		assert.Equal(t, []string{"a"}, cyclic)
	})
}
