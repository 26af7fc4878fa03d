package models

// FixCategory classifies a validation or engine error for the healing engine.
// Each category maps to exactly one deterministic repair rule; CategoryOther
// has no rule and is always reported as remaining.
type FixCategory string

const (
	CategoryReadOnlyField     FixCategory = "readonly-field"
	CategoryMissingParameter  FixCategory = "missing-parameter"
	CategoryInvalidType       FixCategory = "invalid-type"
	CategoryInvalidConnection FixCategory = "invalid-connection"
	CategoryInvalidPosition   FixCategory = "invalid-position"
	CategoryDuplicateName     FixCategory = "duplicate-name"
	CategoryInvalidPath       FixCategory = "invalid-path"
	CategoryMissingID         FixCategory = "missing-id"
	CategoryCredential        FixCategory = "credential"
	CategoryOther             FixCategory = "other"
)

// HealingResult is the outcome of one healing attempt. Healed is always a new
// artifact value; the input artifact is never modified.
type HealingResult struct {
	AppliedFixes    []string          `json:"applied_fixes"`
	Healed          *Artifact         `json:"healed"`
	Remaining       []ValidationIssue `json:"remaining"`
	Recommendations []string          `json:"recommendations"`
}

// Fixed reports whether the attempt left no remaining errors.
func (r *HealingResult) Fixed() bool {
	return len(r.Remaining) == 0
}
