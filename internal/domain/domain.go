package domain

import "strings"

// RACIValue is one of the four ownership letters.
type RACIValue string

const (
	Responsible RACIValue = "R"
	Accountable RACIValue = "A"
	Consulted   RACIValue = "C"
	Informed    RACIValue = "I"
)

// ParseRACIValue normalizes user input ("r", " A ") to a RACIValue.
func ParseRACIValue(in string) (RACIValue, bool) {
	v := RACIValue(strings.ToUpper(strings.TrimSpace(in)))
	return v, v.Valid()
}

func (v RACIValue) Valid() bool {
	switch v {
	case Responsible, Accountable, Consulted, Informed:
		return true
	}
	return false
}

type Confidence string

const (
	ConfidenceRecommended Confidence = "recommended"
	ConfidenceLow         Confidence = "low"
	ConfidenceMedium      Confidence = "med"
	ConfidenceHigh        Confidence = "high"
)

// ParseConfidence accepts the stored values plus the "medium" and "confirmed" aliases.
// An empty string maps to high, the facilitator default.
func ParseConfidence(in string) (Confidence, bool) {
	switch strings.ToLower(strings.TrimSpace(in)) {
	case "":
		return ConfidenceHigh, true
	case "recommended":
		return ConfidenceRecommended, true
	case "low":
		return ConfidenceLow, true
	case "med", "medium", "confirmed":
		return ConfidenceMedium, true
	case "high":
		return ConfidenceHigh, true
	}
	return "", false
}

type DecisionStatus string

const (
	DecisionDone     DecisionStatus = "done"
	DecisionDisputed DecisionStatus = "disputed"
	DecisionDeferred DecisionStatus = "deferred"
	DecisionFollowup DecisionStatus = "followup"
)

func (s DecisionStatus) Valid() bool {
	switch s {
	case DecisionDone, DecisionDisputed, DecisionDeferred, DecisionFollowup:
		return true
	}
	return false
}

// NeedsFollowup reports whether the decision is still open for discussion.
func (s DecisionStatus) NeedsFollowup() bool {
	return s == DecisionDisputed || s == DecisionFollowup
}

type WorkshopStatus string

const (
	WorkshopDraft      WorkshopStatus = "draft"
	WorkshopInProgress WorkshopStatus = "in_progress"
	WorkshopFinal      WorkshopStatus = "final"
)

type Severity string

const (
	SeverityDanger  Severity = "danger"
	SeverityWarning Severity = "warning"
)

// Rank orders severities for display; lower ranks sort first.
func (s Severity) Rank() int {
	if s == SeverityDanger {
		return 0
	}
	return 1
}

type Issue string

const (
	IssueMissingAccountable     Issue = "missing_accountable"
	IssueMultipleAccountable    Issue = "multiple_accountable"
	IssueMissingResponsible     Issue = "missing_responsible"
	IssueOwnershipMissing       Issue = "ownership_missing"
	IssueLowConfidence          Issue = "low_confidence"
	IssueNeedsFollowup          Issue = "needs_followup"
	IssueAccountableResponsible Issue = "accountable_is_also_responsible"
	IssueTooManyResponsible     Issue = "too_many_responsible"
	IssueRoleOverload           Issue = "role_overload"
	IssueConflictingAccountable Issue = "conflicting_accountable"
)

type Role struct {
	ID     string `json:"id" yaml:"id" validate:"required"`
	Name   string `json:"name" yaml:"name" validate:"required"`
	Source string `json:"source,omitempty" yaml:"source,omitempty"`
}

type Activity struct {
	ID          string `json:"id" yaml:"id" validate:"required"`
	Domain      string `json:"domain" yaml:"domain" validate:"required"`
	Group       string `json:"group,omitempty" yaml:"group,omitempty"`
	Name        string `json:"name" yaml:"name" validate:"required"`
	Description string `json:"description,omitempty" yaml:"description,omitempty"`
	Order       int    `json:"order" yaml:"order"`
}

type Assignment struct {
	ActivityID string     `json:"activity_id" yaml:"activity_id"`
	RoleID     string     `json:"role_id" yaml:"role_id"`
	Value      RACIValue  `json:"value" yaml:"value" enum:"R,A,C,I"`
	Confidence Confidence `json:"confidence" yaml:"confidence,omitempty" enum:"recommended,low,med,high"`
	Notes      string     `json:"notes,omitempty" yaml:"notes,omitempty"`
}

// Recommended reports whether the row is a template default rather than a facilitator decision.
func (a Assignment) Recommended() bool {
	return a.Confidence == ConfidenceRecommended
}

type Decision struct {
	ActivityID string         `json:"activity_id"`
	Status     DecisionStatus `json:"status" enum:"done,disputed,deferred,followup"`
	Rationale  string         `json:"rationale,omitempty"`
	UpdatedAt  string         `json:"updated_at,omitempty" format:"date-time"`
}

type Action struct {
	ID         string `json:"id"`
	ActivityID string `json:"activity_id,omitempty"`
	Owner      string `json:"owner,omitempty"`
	Due        string `json:"due,omitempty"`
	Notes      string `json:"notes,omitempty"`
	Status     string `json:"status" enum:"open,done"`
	CreatedAt  string `json:"created_at" format:"date-time"`
}

// Scope selects the domains and individual activities a workshop addresses.
type Scope struct {
	Domains    []string `json:"domains"`
	Activities []string `json:"activities"`
}

func (s Scope) Empty() bool {
	return len(s.Domains) == 0 && len(s.Activities) == 0
}

type Workshop struct {
	ID           string            `json:"id"`
	TemplateID   string            `json:"template_id"`
	Name         string            `json:"name"`
	Organization string            `json:"organization,omitempty"`
	Facilitator  string            `json:"facilitator,omitempty"`
	Sponsor      string            `json:"sponsor,omitempty"`
	Goal         string            `json:"goal,omitempty"`
	Date         string            `json:"date,omitempty"`
	Scope        Scope             `json:"scope"`
	RoleMappings map[string]string `json:"role_mappings"`
	Assignments  []Assignment      `json:"assignments"`
	Decisions    []Decision        `json:"decisions"`
	Actions      []Action          `json:"actions"`
	Status       WorkshopStatus    `json:"status" enum:"draft,in_progress,final"`
	CreatedAt    string            `json:"created_at" format:"date-time"`
	UpdatedAt    string            `json:"updated_at" format:"date-time"`
}

// Decision returns the decision recorded for an activity, if any.
func (w Workshop) Decision(activityID string) *Decision {
	for i := range w.Decisions {
		if w.Decisions[i].ActivityID == activityID {
			d := w.Decisions[i]
			return &d
		}
	}
	return nil
}

// MappedRoles counts role mappings with a non-empty person.
func (w Workshop) MappedRoles() int {
	n := 0
	for _, person := range w.RoleMappings {
		if strings.TrimSpace(person) != "" {
			n++
		}
	}
	return n
}

type Template struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Source    string          `json:"source,omitempty"`
	Catalog   Catalog         `json:"catalog"`
	Warnings  []ImportWarning `json:"warnings,omitempty"`
	CreatedAt string          `json:"created_at" format:"date-time"`
}

// ImportWarning describes a template row that was skipped or repaired during import.
type ImportWarning struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Ref     string `json:"ref,omitempty"`
}

type Finding struct {
	ActivityID     string   `json:"activity_id,omitempty"`
	Activity       string   `json:"activity,omitempty"`
	Domain         string   `json:"domain,omitempty"`
	RoleID         string   `json:"role_id,omitempty"`
	Count          int      `json:"count,omitempty"`
	Issue          Issue    `json:"issue"`
	Severity       Severity `json:"severity" enum:"danger,warning"`
	Message        string   `json:"message"`
	Recommendation string   `json:"recommendation,omitempty"`
}

type ConflictEntry struct {
	WorkshopID   string   `json:"workshop_id"`
	WorkshopName string   `json:"workshop_name"`
	Accountable  []string `json:"accountable"`
}

type ConflictFinding struct {
	ActivityID string          `json:"activity_id"`
	Activity   string          `json:"activity,omitempty"`
	Issue      Issue           `json:"issue"`
	Severity   Severity        `json:"severity"`
	Workshops  []ConflictEntry `json:"workshops"`
}

type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts" format:"date-time"`
	Type       string `json:"type"`
	WorkshopID string `json:"workshop_id,omitempty"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id,omitempty"`
	ActorID    string `json:"actor_id"`
	Payload    string `json:"payload_json"`
}

type APIKey struct {
	ID        string `json:"id"`
	ActorID   string `json:"actor_id"`
	Name      string `json:"name,omitempty"`
	KeyHash   string `json:"key_hash"`
	CreatedAt string `json:"created_at" format:"date-time"`
}
