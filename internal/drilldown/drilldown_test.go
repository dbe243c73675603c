package drilldown

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSplitPath(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want []string
	}{
		{"two segments", "Subventions: Culture", []string{"Subventions", "Culture"}},
		{"three segments", "A: B: C", []string{"A", "B", "C"}},
		{"no separator", "Dotations", []string{"Dotations"}},
		{"untrimmed", "  A  :  X  ", []string{"A", "X"}},
		{"empty segment dropped", "A::B", []string{"A", "B"}},
		{"trailing separator", "A:", []string{"A"}},
		{"empty", "", nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, SplitPath(tt.in))
		})
	}
}

func TestJoinPath(t *testing.T) {
	assert.Equal(t, "A: B: C", JoinPath([]string{"A", "B", "C"}))
	assert.Equal(t, "", JoinPath(nil))
}

func TestGroupByPrefix(t *testing.T) {
	t.Run("groups when several prefixes exist", func(t *testing.T) {
		items := []Item{
			{Name: "A: X", Value: 10},
			{Name: "A: Y", Value: 5},
			{Name: "B: Z", Value: 20},
		}
		got := GroupByPrefix(items)
		assert.Equal(t, []Item{{Name: "B", Value: 20}, {Name: "A", Value: 15}}, got)
	})

	t.Run("single prefix stays verbatim", func(t *testing.T) {
		items := []Item{
			{Name: "A: X", Value: 10},
			{Name: "A: Y", Value: 5},
		}
		assert.Equal(t, items, GroupByPrefix(items))
	})

	t.Run("no prefixes stays verbatim", func(t *testing.T) {
		items := []Item{
			{Name: "X", Value: 1},
			{Name: "Y", Value: 2},
		}
		assert.Equal(t, items, GroupByPrefix(items))
	})

	t.Run("flat items follow the groups in encounter order", func(t *testing.T) {
		items := []Item{
			{Name: "Divers", Value: 99},
			{Name: "A: X", Value: 10},
			{Name: "B: Y", Value: 20},
			{Name: "Reste", Value: 1},
		}
		got := GroupByPrefix(items)
		assert.Equal(t, []Item{
			{Name: "B", Value: 20},
			{Name: "A", Value: 10},
			{Name: "Divers", Value: 99},
			{Name: "Reste", Value: 1},
		}, got)
	})

	t.Run("equal group values keep encounter order", func(t *testing.T) {
		items := []Item{
			{Name: "A: X", Value: 10},
			{Name: "B: Y", Value: 10},
			{Name: "C: Z", Value: 10},
		}
		got := GroupByPrefix(items)
		assert.Equal(t, []Item{
			{Name: "A", Value: 10},
			{Name: "B", Value: 10},
			{Name: "C", Value: 10},
		}, got)
	})

	t.Run("does not mutate the input", func(t *testing.T) {
		items := []Item{
			{Name: "A: X", Value: 1},
			{Name: "B: Y", Value: 2},
		}
		GroupByPrefix(items)
		assert.Equal(t, "A: X", items[0].Name)
	})
}

func TestChildrenOf(t *testing.T) {
	items := []Item{
		{Name: "A: X", Value: 10},
		{Name: "A: Y", Value: 5},
		{Name: "B: Z", Value: 20},
		{Name: "A: B: C", Value: 7},
	}

	t.Run("one level down", func(t *testing.T) {
		got := ChildrenOf(items, []string{"A"})
		assert.Equal(t, []Item{
			{Name: "X", Value: 10},
			{Name: "B: C", Value: 7},
			{Name: "Y", Value: 5},
		}, got)
	})

	t.Run("two levels down", func(t *testing.T) {
		got := ChildrenOf(items, []string{"A", "B"})
		assert.Equal(t, []Item{{Name: "C", Value: 7}}, got)
	})

	t.Run("leaf path yields nothing", func(t *testing.T) {
		assert.Empty(t, ChildrenOf(items, []string{"B", "Z"}))
	})

	t.Run("unknown path yields nothing", func(t *testing.T) {
		assert.Empty(t, ChildrenOf(items, []string{"Q"}))
	})

	t.Run("empty path copies the input", func(t *testing.T) {
		got := ChildrenOf(items, nil)
		assert.Equal(t, items, got)
		got[0].Name = "mutated"
		assert.Equal(t, "A: X", items[0].Name)
	})
}

func TestHasChildren(t *testing.T) {
	items := []Item{
		{Name: "A: X", Value: 10},
		{Name: "A: B: C", Value: 7},
		{Name: "D", Value: 3},
	}

	assert.True(t, HasChildren(items, nil, Item{Name: "A"}))
	assert.True(t, HasChildren(items, []string{"A"}, Item{Name: "B"}))
	assert.False(t, HasChildren(items, []string{"A"}, Item{Name: "X"}))
	assert.False(t, HasChildren(items, nil, Item{Name: "D"}))
	assert.False(t, HasChildren(items, nil, Item{Name: "Q"}))
}

func TestAggregateOutliers(t *testing.T) {
	t.Run("under the limit stays verbatim", func(t *testing.T) {
		items := []Item{{Name: "A", Value: 3}, {Name: "B", Value: 2}}
		got := AggregateOutliers(items, 15)
		assert.Equal(t, items, got)
		got[0].Name = "mutated"
		assert.Equal(t, "A", items[0].Name)
	})

	t.Run("exactly at the limit stays verbatim", func(t *testing.T) {
		items := make([]Item, 15)
		for i := range items {
			items[i] = Item{Name: "n", Value: float64(15 - i)}
		}
		assert.Len(t, AggregateOutliers(items, 15), 15)
	})

	t.Run("folds the tail into Autres", func(t *testing.T) {
		items := make([]Item, 25)
		var total float64
		for i := range items {
			items[i] = Item{Name: "n", Value: float64(25 - i)}
			total += items[i].Value
		}

		got := AggregateOutliers(items, 20)
		assert.Len(t, got, 20)
		assert.Equal(t, items[:19], got[:19])

		last := got[19]
		assert.Equal(t, "Autres (6)", last.Name)

		var sum float64
		for _, it := range got {
			sum += it.Value
		}
		assert.Equal(t, total, sum)
	})

	t.Run("non-positive limit uses the default", func(t *testing.T) {
		items := make([]Item, 40)
		for i := range items {
			items[i] = Item{Name: "n", Value: 1}
		}
		got := AggregateOutliers(items, 0)
		assert.Len(t, got, DefaultOutlierCap)
		assert.Equal(t, "Autres (26)", got[len(got)-1].Name)
	})

	t.Run("empty input", func(t *testing.T) {
		assert.Empty(t, AggregateOutliers(nil, 15))
	})
}
