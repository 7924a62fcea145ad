package trust

import (
	"fmt"
	"time"
)

// VerificationStatus describes how an entity's current attribute values
// were established.
type VerificationStatus string

const (
	// StatusUnset means the attribute has never been through registration.
	StatusUnset VerificationStatus = ""

	// StatusRegistered means the entity was registered directly by a caller.
	StatusRegistered VerificationStatus = "registered"

	// StatusPropagated means the current scores were derived from an
	// ancestor via a propagation transaction.
	StatusPropagated VerificationStatus = "propagated"

	// StatusUnverified means the attribute was synthesized (for example as
	// a default during relationship registration) and has not been verified.
	StatusUnverified VerificationStatus = "unverified"
)

// PromotionEvent records one tier change for an entity.
type PromotionEvent struct {
	FromTier string    `json:"from_tier"`
	ToTier   string    `json:"to_tier"`
	At       time.Time `json:"at"`
	Reason   string    `json:"reason,omitempty"`
}

// TrustAttribute is the scored record associated with one entity.
//
// InheritanceChain holds ancestor entity ids. Insertion order is preserved
// but not semantically significant once the integration layer has
// synchronized the entity: after synchronization the chain is always the
// complete transitive ancestor set.
//
// TrustAttribute is a plain value; callers that share instances across
// goroutines must go through the propagation manager's lock table.
type TrustAttribute struct {
	EntityID           string             `json:"entity_id"`
	BaseScore          float64            `json:"base_score"`
	ContextScores      map[string]float64 `json:"context_scores,omitempty"`
	InheritanceChain   []string           `json:"inheritance_chain,omitempty"`
	VerificationStatus VerificationStatus `json:"verification_status,omitempty"`
	LastUpdated        time.Time          `json:"last_updated"`
	Tier               string             `json:"tier,omitempty"`
	PromotionHistory   []PromotionEvent   `json:"promotion_history,omitempty"`
}

// NewAttribute creates an attribute with an empty chain and the given
// scores. The caller is expected to validate scores via Validate before
// storing the result.
func NewAttribute(entityID string, baseScore float64, contextScores map[string]float64) *TrustAttribute {
	attr := &TrustAttribute{
		EntityID:      entityID,
		BaseScore:     baseScore,
		ContextScores: make(map[string]float64, len(contextScores)),
		LastUpdated:   time.Now(),
	}
	for k, v := range contextScores {
		attr.ContextScores[k] = v
	}
	return attr
}

// ScoreInRange reports whether a score satisfies the [0.0, 1.0] invariant.
func ScoreInRange(score float64) bool {
	return score >= 0.0 && score <= 1.0
}

// Validate checks the attribute invariants:
//   - base score and every context score in [0.0, 1.0]
//   - a propagated attribute must carry a non-empty inheritance chain
//     (an entity cannot claim a propagated lineage with no ancestors)
//   - LastUpdated never in the future
//
// The lineage check applies only to StatusPropagated: registered and
// synthesized (unverified) entities legitimately start with empty chains.
func (a *TrustAttribute) Validate() error {
	if a == nil {
		return NewInvalidAttributeError("", "attribute is nil")
	}
	if a.EntityID == "" {
		return NewInvalidAttributeError("", "entity id is empty")
	}
	if !ScoreInRange(a.BaseScore) {
		return NewInvalidAttributeError(a.EntityID,
			fmt.Sprintf("base score %v outside [0.0, 1.0]", a.BaseScore))
	}
	for name, score := range a.ContextScores {
		if !ScoreInRange(score) {
			return NewInvalidAttributeError(a.EntityID,
				fmt.Sprintf("context score %q = %v outside [0.0, 1.0]", name, score))
		}
	}
	if a.VerificationStatus == StatusPropagated && len(a.InheritanceChain) == 0 {
		return NewInvalidAttributeError(a.EntityID,
			"propagated status requires a non-empty inheritance chain")
	}
	if !a.LastUpdated.IsZero() && a.LastUpdated.After(time.Now().Add(time.Second)) {
		return NewInvalidAttributeError(a.EntityID, "last_updated is in the future")
	}
	return nil
}

// Clone returns a deep copy. Stores hand out clones so callers can never
// mutate shared state without going through the lock table.
func (a *TrustAttribute) Clone() *TrustAttribute {
	if a == nil {
		return nil
	}
	out := *a
	if a.ContextScores != nil {
		out.ContextScores = make(map[string]float64, len(a.ContextScores))
		for k, v := range a.ContextScores {
			out.ContextScores[k] = v
		}
	}
	if a.InheritanceChain != nil {
		out.InheritanceChain = append([]string(nil), a.InheritanceChain...)
	}
	if a.PromotionHistory != nil {
		out.PromotionHistory = append([]PromotionEvent(nil), a.PromotionHistory...)
	}
	return &out
}

// HasAncestor reports whether id appears in the inheritance chain.
func (a *TrustAttribute) HasAncestor(id string) bool {
	for _, ancestor := range a.InheritanceChain {
		if ancestor == id {
			return true
		}
	}
	return false
}

// AddAncestor appends id to the chain if it is not already present.
// Returns true if the chain changed.
func (a *TrustAttribute) AddAncestor(id string) bool {
	if a.HasAncestor(id) {
		return false
	}
	a.InheritanceChain = append(a.InheritanceChain, id)
	return true
}

// RemoveAncestor deletes id from the chain. Returns true if it was present.
func (a *TrustAttribute) RemoveAncestor(id string) bool {
	for i, ancestor := range a.InheritanceChain {
		if ancestor == id {
			a.InheritanceChain = append(a.InheritanceChain[:i], a.InheritanceChain[i+1:]...)
			return true
		}
	}
	return false
}

// Promote records a tier change and appends it to the promotion history.
func (a *TrustAttribute) Promote(tier, reason string) {
	a.PromotionHistory = append(a.PromotionHistory, PromotionEvent{
		FromTier: a.Tier,
		ToTier:   tier,
		At:       time.Now(),
		Reason:   reason,
	})
	a.Tier = tier
	a.LastUpdated = time.Now()
}
