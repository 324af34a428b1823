// Package pagination turns a current page and a page count into the set of
// page links a listing should render.
//
// A plan is at most three ranges: one anchored at page 1, one around the
// current page and one anchored at the last page. Ranges that touch or
// overlap are merged; a gap between two ranges is rendered as an ellipsis.
//
//	New(1, 13, 2)  → [1 2 3] … [13]
//	New(6, 13, 2)  → [1] … [4 5 6 7 8] … [13]
//	New(5, 9, 2)   → [1 2 3 4 5 6 7 8 9]
package pagination

// DefaultRadius is how many pages are shown on each side of the current page.
const DefaultRadius = 2

// Range is an inclusive run of page numbers.
type Range struct {
	First int `json:"first"`
	Last  int `json:"last"`
}

// Plan is the rendering plan for one listing.
type Plan struct {
	Current int     `json:"current"`
	Total   int     `json:"total"`
	Ranges  []Range `json:"ranges"`
}

// Item is one element of the flattened plan: a page link or an ellipsis.
type Item struct {
	Page     int  `json:"page,omitempty"`
	Current  bool `json:"current,omitempty"`
	Ellipsis bool `json:"ellipsis,omitempty"`
}

// New builds the plan. total <= 1 yields an empty plan. current is clamped
// into [1, total]; a negative radius is treated as zero.
func New(current, total, radius int) Plan {
	if total <= 1 {
		return Plan{Current: 1, Total: max(total, 0)}
	}
	if radius < 0 {
		radius = 0
	}
	current = min(max(current, 1), total)

	lead := Range{First: 1, Last: 1}
	if current-radius <= 1+radius {
		lead.Last = min(current+radius, total)
	}

	inner := Range{
		First: max(current-radius, 1),
		Last:  min(current+radius, total),
	}

	trail := Range{First: total, Last: total}
	if current+radius >= total-radius {
		trail.First = max(current-radius, 1)
	}

	return Plan{
		Current: current,
		Total:   total,
		Ranges:  merge([]Range{lead, inner, trail}),
	}
}

// merge expects ranges sorted by First, which New guarantees.
func merge(in []Range) []Range {
	out := make([]Range, 0, len(in))
	for _, r := range in {
		if n := len(out); n > 0 && r.First <= out[n-1].Last+1 {
			out[n-1].Last = max(out[n-1].Last, r.Last)
			continue
		}
		out = append(out, r)
	}
	return out
}

// Empty reports whether no pagination controls should be rendered.
func (p Plan) Empty() bool {
	return len(p.Ranges) == 0
}

// Items flattens the plan into page links with ellipsis markers between
// non-contiguous ranges.
func (p Plan) Items() []Item {
	var items []Item
	for i, r := range p.Ranges {
		if i > 0 {
			items = append(items, Item{Ellipsis: true})
		}
		for page := r.First; page <= r.Last; page++ {
			items = append(items, Item{Page: page, Current: page == p.Current})
		}
	}
	return items
}
