package integration

import (
	"fmt"
	"sort"
	"strings"

	"github.com/veriton/trustgraph/internal/trust"
)

// BoundaryResult is the structured outcome of enforcing one boundary
// against one entity.
type BoundaryResult struct {
	BoundaryID       string   `json:"boundary_id"`
	EntityID         string   `json:"entity_id"`
	Enforced         bool     `json:"enforced"`
	Reason           string   `json:"reason"`
	RequiredScore    float64  `json:"required_score"`
	EntityScore      float64  `json:"entity_score"`
	InheritanceChain []string `json:"inheritance_chain,omitempty"`
	Exempt           bool     `json:"exempt,omitempty"`
}

// BoundaryReport aggregates enforcement of every registered boundary
// against one entity. Verified is true only if every boundary enforced.
type BoundaryReport struct {
	EntityID       string           `json:"entity_id"`
	Verified       bool             `json:"verified"`
	Results        []BoundaryResult `json:"results"`
	FailureReasons string           `json:"failure_reasons,omitempty"`
}

// RegisterBoundary records a boundary with the propagation manager.
func (in *Integrator) RegisterBoundary(b *trust.TrustBoundary) error {
	return in.manager.RegisterBoundary(b)
}

// EnforceTrustBoundary checks entityID against one boundary. The entity is
// synchronized first so the chain reflects the current graph.
//
// Enforcement passes when the entity's base score meets the boundary's
// required score. A boundary that disallows inheritance additionally fails
// any entity with a non-empty inheritance chain regardless of score, unless
// the boundary's exemption list names the entity explicitly. There are no
// implicit exemptions.
func (in *Integrator) EnforceTrustBoundary(boundaryID, entityID string) (*BoundaryResult, error) {
	if err := in.SynchronizeAttributes(entityID); err != nil {
		return nil, err
	}
	boundary, err := in.manager.GetBoundary(boundaryID)
	if err != nil {
		return nil, err
	}
	attrs, ok := in.manager.GetEntity(entityID)
	if !ok {
		return nil, trust.NewEntityNotFoundError(entityID)
	}

	result := &BoundaryResult{
		BoundaryID:       boundaryID,
		EntityID:         entityID,
		RequiredScore:    boundary.RequiredScore,
		EntityScore:      attrs.BaseScore,
		InheritanceChain: attrs.InheritanceChain,
	}

	result.Enforced = attrs.BaseScore >= boundary.RequiredScore
	if result.Enforced {
		result.Reason = "score requirement met"
	} else {
		result.Reason = fmt.Sprintf("base score %.2f below required %.2f",
			attrs.BaseScore, boundary.RequiredScore)
	}

	if !boundary.AllowInheritance && len(attrs.InheritanceChain) > 0 {
		if boundary.Exempts(entityID) {
			result.Exempt = true
		} else {
			// Overrides the score check: inherited trust is prohibited at
			// this boundary no matter how high the score.
			result.Enforced = false
			result.Reason = "boundary prohibits inherited trust and entity has ancestors"
		}
	}

	in.logger.Debug("boundary enforced",
		"boundary_id", boundaryID,
		"entity_id", entityID,
		"enforced", result.Enforced,
		"reason", result.Reason)
	return result, nil
}

// VerifyAllBoundaries runs EnforceTrustBoundary for every registered
// boundary (in boundary-id order) and aggregates the results. Failure
// reasons are concatenated for the report.
func (in *Integrator) VerifyAllBoundaries(entityID string) (*BoundaryReport, error) {
	if err := in.SynchronizeAttributes(entityID); err != nil {
		return nil, err
	}

	boundaries := in.manager.AllBoundaries()
	sort.Slice(boundaries, func(i, j int) bool {
		return boundaries[i].BoundaryID < boundaries[j].BoundaryID
	})

	report := &BoundaryReport{EntityID: entityID, Verified: true}
	var failures []string
	for _, b := range boundaries {
		result, err := in.EnforceTrustBoundary(b.BoundaryID, entityID)
		if err != nil {
			return nil, err
		}
		report.Results = append(report.Results, *result)
		if !result.Enforced {
			report.Verified = false
			failures = append(failures, fmt.Sprintf("%s: %s", b.BoundaryID, result.Reason))
		}
	}
	report.FailureReasons = strings.Join(failures, "; ")
	return report, nil
}
