package integrity

import "fmt"

// Decision is the outcome of planning a deletion.
type Decision int

const (
	// DirectDeleteAllowed means the entity has no dependents.
	DirectDeleteAllowed Decision = iota

	// RequiresMigration means dependents must move to a replacement first.
	RequiresMigration
)

func (d Decision) String() string {
	switch d {
	case DirectDeleteAllowed:
		return "direct-delete"
	case RequiresMigration:
		return "requires-migration"
	}
	return fmt.Sprintf("Decision(%d)", int(d))
}

// PlanDeletion decides how an entity with count dependents may be deleted.
func PlanDeletion(count int) Decision {
	if count > 0 {
		return RequiresMigration
	}
	return DirectDeleteAllowed
}

// Plan is the in-memory state of one operator-confirmed deletion.
type Plan struct {
	EntityType     string
	EntityID       string
	DependentCount int
	ReplacementID  string
	Decision       Decision
}

// NewPlan builds a plan for an entity with count dependents.
func NewPlan(entityType, entityID string, count int) Plan {
	return Plan{
		EntityType:     entityType,
		EntityID:       entityID,
		DependentCount: count,
		Decision:       PlanDeletion(count),
	}
}

// WithReplacement returns the plan with a replacement chosen.
// The replacement must be non-empty and differ from the entity being deleted.
// Existence in the entity collection is checked by the Service.
func (p Plan) WithReplacement(replacementID string) (Plan, error) {
	if replacementID == "" {
		return p, fmt.Errorf("%w: empty id", ErrInvalidReplacement)
	}
	if replacementID == p.EntityID {
		return p, fmt.Errorf("%w: %s cannot replace itself", ErrInvalidReplacement, replacementID)
	}
	p.ReplacementID = replacementID
	return p, nil
}

// Ready reports whether the plan can proceed to deletion: either no
// dependents, or a replacement has been chosen.
func (p Plan) Ready() bool {
	return p.Decision == DirectDeleteAllowed || p.ReplacementID != ""
}
