package drilldown

// Level is one step of a navigation: the items displayed at that depth and
// the segment path that produced them.
type Level struct {
	Title    string   `json:"title"`
	Category Category `json:"category"`
	Items    []Item   `json:"items"`
	Path     []string `json:"path,omitempty"`
}

// Prefix renders the accumulated path for display, "" at the root.
func (l Level) Prefix() string {
	return JoinPath(l.Path)
}

// Breadcrumb identifies one entry of the navigation trail.
type Breadcrumb struct {
	Index int    `json:"index"`
	Title string `json:"title"`
}

// Navigator holds one drill-down navigation over a flat item list. Deeper
// levels always filter against the original list passed to Enter, so going
// back and drilling elsewhere needs no re-fetch. The zero value is an
// inactive navigator ready for Enter. Not safe for concurrent use.
type Navigator struct {
	levels   []Level
	current  int
	original []Item
}

// Enter starts a fresh navigation rooted at the given node, discarding any
// existing one. When the items carry more than one distinct name prefix the
// root level shows them grouped by prefix; otherwise they are shown as-is.
// An empty item list returns ErrNoItems and changes nothing.
func (n *Navigator) Enter(title string, cat Category, items []Item) error {
	if len(items) == 0 {
		return ErrNoItems
	}

	original := make([]Item, len(items))
	copy(original, items)

	n.original = original
	n.levels = []Level{{
		Title:    title,
		Category: cat,
		Items:    GroupByPrefix(original),
	}}
	n.current = 0
	return nil
}

// DrillInto descends into one item of the current level. Leaf items return
// ErrNoChildren and leave the trail unchanged; an inactive navigator
// returns ErrNoItems.
func (n *Navigator) DrillInto(item Item) error {
	if len(n.levels) == 0 {
		return ErrNoItems
	}

	cur := n.levels[n.current]
	target := childPath(cur.Path, item.Name)
	children := ChildrenOf(n.original, target)
	if len(children) == 0 {
		return ErrNoChildren
	}

	n.levels = append(n.levels, Level{
		Title:    item.Name,
		Category: cur.Category,
		Items:    children,
		Path:     target,
	})
	n.current++
	return nil
}

// GoToBreadcrumb truncates the trail back to the given level. Indices
// outside the trail return ErrIndexOutOfRange and change nothing.
func (n *Navigator) GoToBreadcrumb(i int) error {
	if i < 0 || i >= len(n.levels) {
		return ErrIndexOutOfRange
	}
	n.levels = n.levels[:i+1]
	n.current = i
	return nil
}

// Close discards the navigation entirely.
func (n *Navigator) Close() {
	n.levels = nil
	n.original = nil
	n.current = 0
}

// Active reports whether a navigation has been entered.
func (n *Navigator) Active() bool {
	return len(n.levels) > 0
}

// Current returns the level being displayed.
func (n *Navigator) Current() (Level, bool) {
	if len(n.levels) == 0 {
		return Level{}, false
	}
	return n.levels[n.current], true
}

// CurrentIndex returns the index of the displayed level.
func (n *Navigator) CurrentIndex() int {
	return n.current
}

// Depth returns the number of levels in the trail.
func (n *Navigator) Depth() int {
	return len(n.levels)
}

// Breadcrumbs returns the trail from the root down to the current level.
func (n *Navigator) Breadcrumbs() []Breadcrumb {
	crumbs := make([]Breadcrumb, len(n.levels))
	for i, lvl := range n.levels {
		crumbs[i] = Breadcrumb{Index: i, Title: lvl.Title}
	}
	return crumbs
}

// HasChildren reports whether item can be drilled into from the current
// level, so callers can decide click-through without attempting the drill.
func (n *Navigator) HasChildren(item Item) bool {
	if len(n.levels) == 0 {
		return false
	}
	return HasChildren(n.original, n.levels[n.current].Path, item)
}
