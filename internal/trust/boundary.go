package trust

// TrustBoundary is a named policy gate. Entities pass a boundary when their
// base score meets RequiredScore; boundaries that disallow inheritance also
// reject any entity with a non-empty inheritance chain.
//
// ExemptEntities is the explicit escape hatch for inherited-trust boundaries:
// an entity named here passes the inheritance prohibition (but still has to
// meet the score requirement). Exemptions are declared per boundary, never
// inferred from entity ids.
type TrustBoundary struct {
	BoundaryID       string   `json:"boundary_id" yaml:"boundary_id"`
	RequiredScore    float64  `json:"required_score" yaml:"required_score"`
	AllowInheritance bool     `json:"allow_inheritance" yaml:"allow_inheritance"`
	Description      string   `json:"description,omitempty" yaml:"description,omitempty"`
	ExemptEntities   []string `json:"exempt_entities,omitempty" yaml:"exempt_entities,omitempty"`
}

// Validate checks the boundary invariants.
func (b *TrustBoundary) Validate() error {
	if b.BoundaryID == "" {
		return NewInvalidAttributeError("", "boundary id is empty")
	}
	if !ScoreInRange(b.RequiredScore) {
		return NewInvalidAttributeError("",
			"boundary required score outside [0.0, 1.0]")
	}
	return nil
}

// Exempts reports whether entityID is on the boundary's exemption list.
func (b *TrustBoundary) Exempts(entityID string) bool {
	for _, id := range b.ExemptEntities {
		if id == entityID {
			return true
		}
	}
	return false
}
