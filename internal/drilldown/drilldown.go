// Package drilldown implements progressive narrowing over flat lists of
// labeled amounts. Hierarchy is encoded in item names with a colon
// convention ("Secteur: Sous-poste"); the navigator turns that into an
// explicit segment path, a breadcrumb trail, and per-level item views.
package drilldown

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

var (
	// ErrNoItems signals an Enter with nothing to show. The navigation is
	// left unchanged so the caller can surface a disabled or empty state.
	ErrNoItems = errors.New("no items")

	// ErrNoChildren signals a drill into a leaf item.
	ErrNoChildren = errors.New("no children")

	// ErrIndexOutOfRange signals a breadcrumb index outside the trail.
	ErrIndexOutOfRange = errors.New("breadcrumb index out of range")
)

// Item is one labeled amount. Values are non-negative euros as exported by
// the data pipeline; duplicate names are never merged except through
// explicit grouping.
type Item struct {
	Name  string  `json:"name"`
	Value float64 `json:"value"`
}

// Category tags the flow direction of a navigation.
type Category string

const (
	CategoryRevenue Category = "revenue"
	CategoryExpense Category = "expense"
)

// DefaultOutlierCap bounds how many rows a view shows before the tail is
// folded into a single "Autres (N)" row.
const DefaultOutlierCap = 15

// SplitPath splits a colon-delimited name into trimmed segments.
// "Subventions: Culture: Théâtres" becomes ["Subventions" "Culture"
// "Théâtres"]; empty segments are dropped.
func SplitPath(name string) []string {
	var segs []string
	for _, p := range strings.Split(name, ":") {
		if s := strings.TrimSpace(p); s != "" {
			segs = append(segs, s)
		}
	}
	return segs
}

// JoinPath renders segments back into the display convention.
func JoinPath(segs []string) string {
	return strings.Join(segs, ": ")
}

// SortByValueDesc sorts in place, largest value first. Ties keep their
// encounter order.
func SortByValueDesc(items []Item) {
	sort.SliceStable(items, func(i, j int) bool {
		return items[i].Value > items[j].Value
	})
}

// GroupByPrefix collapses items that share a first path segment into
// synthetic group rows, each carrying the sum of its members. Grouping only
// happens when more than one distinct prefix is present; otherwise a copy
// of the input is returned untouched. Group rows come first, sorted
// descending by value, followed by items without a sub-level in their
// encounter order.
func GroupByPrefix(items []Item) []Item {
	sums := make(map[string]float64)
	var order []string
	var flat []Item

	for _, it := range items {
		segs := SplitPath(it.Name)
		if len(segs) > 1 {
			if _, seen := sums[segs[0]]; !seen {
				order = append(order, segs[0])
			}
			sums[segs[0]] += it.Value
		} else {
			flat = append(flat, it)
		}
	}

	if len(sums) <= 1 {
		out := make([]Item, len(items))
		copy(out, items)
		return out
	}

	out := make([]Item, 0, len(order)+len(flat))
	for _, prefix := range order {
		out = append(out, Item{Name: prefix, Value: sums[prefix]})
	}
	SortByValueDesc(out)
	return append(out, flat...)
}

// ChildrenOf returns the items nested strictly under path, renamed relative
// to it and sorted descending by value. An empty path returns a plain copy;
// an empty result means path is a leaf.
func ChildrenOf(items []Item, path []string) []Item {
	if len(path) == 0 {
		out := make([]Item, len(items))
		copy(out, items)
		return out
	}

	var children []Item
	for _, it := range items {
		segs := SplitPath(it.Name)
		if len(segs) <= len(path) || !hasPathPrefix(segs, path) {
			continue
		}
		children = append(children, Item{
			Name:  JoinPath(segs[len(path):]),
			Value: it.Value,
		})
	}
	SortByValueDesc(children)
	return children
}

// HasChildren reports whether drilling into item from path would find
// anything, without materializing the child list.
func HasChildren(items []Item, path []string, item Item) bool {
	target := childPath(path, item.Name)
	for _, it := range items {
		segs := SplitPath(it.Name)
		if len(segs) > len(target) && hasPathPrefix(segs, target) {
			return true
		}
	}
	return false
}

// AggregateOutliers keeps the top limit-1 rows of a descending-sorted list
// and folds the remainder into one "Autres (N)" row carrying their exact
// sum, so the output total always equals the input total. Lists at or under
// the limit come back as a plain copy. A non-positive limit falls back to
// DefaultOutlierCap.
func AggregateOutliers(items []Item, limit int) []Item {
	if limit <= 0 {
		limit = DefaultOutlierCap
	}
	if len(items) <= limit {
		out := make([]Item, len(items))
		copy(out, items)
		return out
	}

	out := make([]Item, 0, limit)
	out = append(out, items[:limit-1]...)

	var rest float64
	for _, it := range items[limit-1:] {
		rest += it.Value
	}
	return append(out, Item{
		Name:  fmt.Sprintf("Autres (%d)", len(items)-limit+1),
		Value: rest,
	})
}

func hasPathPrefix(segs, prefix []string) bool {
	for i, p := range prefix {
		if segs[i] != p {
			return false
		}
	}
	return true
}

func childPath(base []string, name string) []string {
	segs := SplitPath(name)
	path := make([]string, 0, len(base)+len(segs))
	path = append(path, base...)
	return append(path, segs...)
}
