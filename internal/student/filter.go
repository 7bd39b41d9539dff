package student

import "strings"

// Any is the sentinel meaning "no restriction" for year and status filters.
const Any = "all"

// Filter narrows a list of records. Empty fields and "all" match everything.
type Filter struct {
	Year   string `form:"year" json:"year"`
	Status string `form:"status" json:"status"`
	Search string `form:"search" json:"search"`
}

// Match reports whether r satisfies every criterion.
func (f Filter) Match(r Record) bool {
	if f.Year != "" && f.Year != Any && r.Year != f.Year {
		return false
	}
	if f.Status != "" && f.Status != Any && string(r.Status) != f.Status {
		return false
	}
	if q := strings.ToLower(strings.TrimSpace(f.Search)); q != "" {
		return strings.Contains(strings.ToLower(r.Name), q) ||
			strings.Contains(strings.ToLower(r.RollNumber), q) ||
			strings.Contains(strings.ToLower(r.Email), q)
	}
	return true
}

// Apply returns the matching records in their original order.
func (f Filter) Apply(in []Record) []Record {
	out := make([]Record, 0, len(in))
	for _, r := range in {
		if f.Match(r) {
			out = append(out, r)
		}
	}
	return out
}

// Counts summarizes records by approval state.
type Counts struct {
	Total    int `json:"total"`
	Approved int `json:"approved"`
	Pending  int `json:"pending"`
	Rejected int `json:"rejected"`
}

// Tally counts records by status.
func Tally(in []Record) Counts {
	c := Counts{Total: len(in)}
	for _, r := range in {
		switch r.Status {
		case StatusApproved:
			c.Approved++
		case StatusPending:
			c.Pending++
		case StatusRejected:
			c.Rejected++
		}
	}
	return c
}
