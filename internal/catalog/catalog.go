// Package catalog turns template sources into a validated domain.Catalog.
//
// Import never fails on partial data: rows that cannot be used are dropped and
// reported as warnings on the Result. Only unreadable input returns an error.
package catalog

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"unicode"

	"github.com/go-playground/validator/v10"

	"raciline/internal/domain"
)

// Warning codes attached to import results.
const (
	WarnInvalidRole        = "invalid_role"
	WarnInvalidActivity    = "invalid_activity"
	WarnDuplicateRole      = "duplicate_role"
	WarnDuplicateActivity  = "duplicate_activity"
	WarnUnresolvedRole     = "unresolved_role"
	WarnUnresolvedActivity = "unresolved_activity"
	WarnInvalidValue       = "invalid_raci_value"
	WarnMissingColumn      = "missing_column"
	WarnDuplicateOrder     = "duplicate_order"
	WarnEmpty              = "empty_template"
)

type Result struct {
	Name     string                 `json:"name"`
	Catalog  domain.Catalog         `json:"catalog"`
	Warnings []domain.ImportWarning `json:"warnings"`
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Slug lowercases s and joins alphanumeric runs with dashes.
func Slug(s string) string {
	var b strings.Builder
	dash := false
	for _, r := range strings.ToLower(strings.TrimSpace(s)) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			if dash && b.Len() > 0 {
				b.WriteByte('-')
			}
			b.WriteRune(r)
			dash = false
			continue
		}
		dash = true
	}
	return b.String()
}

// ActivityID derives a stable activity id from its domain and name.
func ActivityID(domainName, name string) string {
	return Slug(domainName) + "." + Slug(name)
}

// builder accumulates a catalog while enforcing unique ids.
type builder struct {
	res        Result
	roles      map[string]struct{}
	roleByName map[string]string
	activities map[string]struct{}
	recKeys    map[string]struct{}
}

func newBuilder(name string) *builder {
	return &builder{
		res: Result{
			Name: name,
			Catalog: domain.Catalog{
				Roles:       []domain.Role{},
				Activities:  []domain.Activity{},
				Recommended: []domain.Assignment{},
			},
			Warnings: []domain.ImportWarning{},
		},
		roles:      map[string]struct{}{},
		roleByName: map[string]string{},
		activities: map[string]struct{}{},
		recKeys:    map[string]struct{}{},
	}
}

func (b *builder) warn(code, ref, format string, args ...any) {
	b.res.Warnings = append(b.res.Warnings, domain.ImportWarning{Code: code, Ref: ref, Message: fmt.Sprintf(format, args...)})
}

func describe(err error) string {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) {
		fields := make([]string, 0, len(verrs))
		for _, fe := range verrs {
			fields = append(fields, strings.ToLower(fe.Field())+" "+fe.Tag())
		}
		return strings.Join(fields, ", ")
	}
	return err.Error()
}

func (b *builder) addRole(r domain.Role) (domain.Role, bool) {
	r.Name = strings.TrimSpace(r.Name)
	r.ID = strings.TrimSpace(r.ID)
	if r.ID == "" {
		r.ID = Slug(r.Name)
	}
	if err := validate.Struct(r); err != nil {
		b.warn(WarnInvalidRole, r.Name, "role skipped: %s", describe(err))
		return r, false
	}
	if _, ok := b.roles[r.ID]; ok {
		b.warn(WarnDuplicateRole, r.ID, "duplicate role %s ignored", r.ID)
		return r, false
	}
	b.roles[r.ID] = struct{}{}
	b.roleByName[strings.ToLower(r.Name)] = r.ID
	b.res.Catalog.Roles = append(b.res.Catalog.Roles, r)
	return r, true
}

func (b *builder) addActivity(a domain.Activity) (domain.Activity, bool) {
	a.Domain = strings.TrimSpace(a.Domain)
	a.Name = strings.TrimSpace(a.Name)
	a.ID = strings.TrimSpace(a.ID)
	if a.ID == "" && a.Domain != "" && a.Name != "" {
		a.ID = ActivityID(a.Domain, a.Name)
	}
	if err := validate.Struct(a); err != nil {
		b.warn(WarnInvalidActivity, a.Name, "activity skipped: %s", describe(err))
		return a, false
	}
	if _, ok := b.activities[a.ID]; ok {
		b.warn(WarnDuplicateActivity, a.ID, "duplicate activity %s ignored", a.ID)
		return a, false
	}
	b.activities[a.ID] = struct{}{}
	b.res.Catalog.Activities = append(b.res.Catalog.Activities, a)
	return a, true
}

// resolveRole accepts a role id or a case-insensitive role name.
func (b *builder) resolveRole(ref string) (string, bool) {
	ref = strings.TrimSpace(ref)
	if _, ok := b.roles[ref]; ok {
		return ref, true
	}
	id, ok := b.roleByName[strings.ToLower(ref)]
	return id, ok
}

func (b *builder) addRecommended(activityID, roleRef, value string) {
	roleID, ok := b.resolveRole(roleRef)
	if !ok {
		b.warn(WarnUnresolvedRole, roleRef, "recommended assignment for %s references unknown role %q", activityID, roleRef)
		return
	}
	if _, ok := b.activities[activityID]; !ok {
		b.warn(WarnUnresolvedActivity, activityID, "recommended assignment references unknown activity %q", activityID)
		return
	}
	v, ok := domain.ParseRACIValue(value)
	if !ok {
		b.warn(WarnInvalidValue, activityID+"/"+roleID, "invalid RACI value %q", value)
		return
	}
	key := activityID + "|" + roleID + "|" + string(v)
	if _, dup := b.recKeys[key]; dup {
		return
	}
	b.recKeys[key] = struct{}{}
	b.res.Catalog.Recommended = append(b.res.Catalog.Recommended, domain.Assignment{
		ActivityID: activityID,
		RoleID:     roleID,
		Value:      v,
		Confidence: domain.ConfidenceRecommended,
	})
}

// assignPositions renumbers activities 1..n. Explicit orders are honoured; an
// activity without one stays right after the entry that precedes it in the
// source. Ties keep source order.
func (b *builder) assignPositions() {
	acts := b.res.Catalog.Activities
	keys := make([]int, len(acts))
	taken := map[int]string{}
	prev := 0
	for i, a := range acts {
		if a.Order != 0 {
			if other, dup := taken[a.Order]; dup {
				b.warn(WarnDuplicateOrder, a.ID, "activity %s shares order %d with %s; source order kept", a.ID, a.Order, other)
			} else {
				taken[a.Order] = a.ID
			}
			prev = a.Order
		}
		keys[i] = prev
	}
	idx := make([]int, len(acts))
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(i, j int) bool { return keys[idx[i]] < keys[idx[j]] })
	for pos, i := range idx {
		acts[i].Order = pos + 1
	}
}

func (b *builder) result() Result {
	if len(b.res.Catalog.Activities) == 0 {
		b.warn(WarnEmpty, "", "template has no usable activities")
	}
	b.assignPositions()
	return b.res
}
