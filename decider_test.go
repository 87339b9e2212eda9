package occurrent

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type cart struct {
	items map[string]int
}

type addItem struct {
	Item string
}

type removeItem struct {
	Item string
}

func cartDecider() Decider[cart, interface{}, interface{}] {
	return Decider[cart, interface{}, interface{}]{
		Initial: func() cart { return cart{items: map[string]int{}} },
		Evolve: func(c cart, e interface{}) cart {
			next := cart{items: make(map[string]int, len(c.items))}
			for k, v := range c.items {
				next.items[k] = v
			}
			switch e := e.(type) {
			case itemAdded:
				next.items[e.Item]++
			case itemRemoved:
				next.items[e.Item]--
			}
			return next
		},
		Decide: func(c cart, cmd interface{}) ([]interface{}, error) {
			switch cmd := cmd.(type) {
			case addItem:
				return []interface{}{itemAdded{Item: cmd.Item}}, nil
			case removeItem:
				if c.items[cmd.Item] <= 0 {
					return nil, NewDomainError("item_not_in_cart", cmd.Item)
				}
				return []interface{}{itemRemoved{Item: cmd.Item}}, nil
			}
			return nil, nil
		},
	}
}

func TestFold(t *testing.T) {
	sum := Fold(0, []int{1, 2, 3, 4}, func(acc, n int) int { return acc + n })
	assert.Equal(t, 10, sum)

	assert.Equal(t, "x", Fold("x", nil, func(acc string, s string) string { return acc + s }))

	order := Fold("", []string{"a", "b", "c"}, func(acc, s string) string { return acc + s })
	assert.Equal(t, "abc", order)
}

func TestDecider_Run(t *testing.T) {
	d := cartDecider()
	history := []interface{}{itemAdded{Item: "wolf"}, itemAdded{Item: "wolf"}, itemRemoved{Item: "wolf"}}

	t.Run("decides against folded state", func(t *testing.T) {
		events, err := d.Run(history, removeItem{Item: "wolf"})
		require.NoError(t, err)
		assert.Equal(t, []interface{}{itemRemoved{Item: "wolf"}}, events)
	})

	t.Run("rule violations are domain errors", func(t *testing.T) {
		_, err := d.Run(history, removeItem{Item: "cat"})
		assert.ErrorIs(t, err, ErrDomainRuleViolation)
	})

	t.Run("is deterministic", func(t *testing.T) {
		first, err1 := d.Run(history, addItem{Item: "cat"})
		second, err2 := d.Run(history, addItem{Item: "cat"})

		assert.Equal(t, first, second)
		assert.Equal(t, err1, err2)
	})

	t.Run("does not modify its input", func(t *testing.T) {
		before := append([]interface{}(nil), history...)
		_, _ = d.Run(history, addItem{Item: "cat"})
		assert.Equal(t, before, history)
	})

	t.Run("state of empty history is initial", func(t *testing.T) {
		assert.Empty(t, d.State(nil).items)
		assert.Equal(t, 1, d.State(history).items["wolf"])
	})
}

func TestDecider_Func(t *testing.T) {
	var decide DecideFunc[interface{}, interface{}] = cartDecider().Func()

	events, err := decide(nil, addItem{Item: "wolf"})
	require.NoError(t, err)
	assert.Equal(t, []interface{}{itemAdded{Item: "wolf"}}, events)
}
