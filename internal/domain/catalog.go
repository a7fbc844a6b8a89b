package domain

import "sort"

// Catalog is the read-only structure produced by a template import.
// Roles and activities are referenced from assignments by id only.
type Catalog struct {
	TemplateID  string       `json:"template_id"`
	Roles       []Role       `json:"roles"`
	Activities  []Activity   `json:"activities"`
	Recommended []Assignment `json:"recommended"`
}

// Index is an id-keyed view over a catalog.
type Index struct {
	roles      map[string]Role
	activities map[string]Activity
}

func (c Catalog) Index() Index {
	idx := Index{
		roles:      make(map[string]Role, len(c.Roles)),
		activities: make(map[string]Activity, len(c.Activities)),
	}
	for _, r := range c.Roles {
		idx.roles[r.ID] = r
	}
	for _, a := range c.Activities {
		idx.activities[a.ID] = a
	}
	return idx
}

// KnowsRoles reports whether the catalog declares any roles. A catalog without
// roles accepts every role reference.
func (i Index) KnowsRoles() bool {
	return len(i.roles) > 0
}

func (i Index) Role(id string) (Role, bool) {
	r, ok := i.roles[id]
	return r, ok
}

func (i Index) Activity(id string) (Activity, bool) {
	a, ok := i.activities[id]
	return a, ok
}

// Ordered returns the catalog activities sorted by position, ties broken by id.
func (c Catalog) Ordered() []Activity {
	out := make([]Activity, len(c.Activities))
	copy(out, c.Activities)
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Order != out[j].Order {
			return out[i].Order < out[j].Order
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// InScope returns the ordered activities selected by the scope.
// An empty filter selects everything; when both filters are set an activity
// must match its domain and its id.
func (c Catalog) InScope(scope Scope) []Activity {
	domains := toSet(scope.Domains)
	ids := toSet(scope.Activities)
	var out []Activity
	for _, a := range c.Ordered() {
		if _, ok := domains[a.Domain]; len(domains) > 0 && !ok {
			continue
		}
		if _, ok := ids[a.ID]; len(ids) > 0 && !ok {
			continue
		}
		out = append(out, a)
	}
	return out
}

// Domains lists domain labels in first-appearance order.
func (c Catalog) Domains() []string {
	seen := map[string]struct{}{}
	var out []string
	for _, a := range c.Ordered() {
		if _, ok := seen[a.Domain]; ok {
			continue
		}
		seen[a.Domain] = struct{}{}
		out = append(out, a.Domain)
	}
	return out
}

// RecommendedFor returns the template default rows for one activity.
func (c Catalog) RecommendedFor(activityID string) []Assignment {
	var out []Assignment
	for _, a := range c.Recommended {
		if a.ActivityID == activityID {
			out = append(out, a)
		}
	}
	return out
}

func toSet(items []string) map[string]struct{} {
	set := make(map[string]struct{}, len(items))
	for _, it := range items {
		set[it] = struct{}{}
	}
	return set
}
