package integration

import (
	"fmt"
	"log/slog"
	"sort"

	"github.com/veriton/trustgraph/internal/inheritance"
	"github.com/veriton/trustgraph/internal/propagation"
	"github.com/veriton/trustgraph/internal/trust"
)

// Default base scores synthesized when a relationship references an entity
// neither caller has registered. A missing parent gets the higher default:
// something already trusted it enough to inherit from it.
const (
	defaultParentScore = 0.8
	defaultChildScore  = 0.7
	defaultEntityScore = 0.5
)

// maxVerifyHops bounds the hop-by-hop ancestry walk in
// VerifyPropagationAndInheritance.
const maxVerifyHops = 100

// Integrator orchestrates the propagation manager and inheritance handler.
//
// Thread-safety: safe for concurrent use; all shared state lives in the two
// stores, each with its own locking discipline. The integrator holds no
// locks of its own across store calls, so a slow handler operation never
// blocks manager-only callers.
type Integrator struct {
	manager *propagation.Manager
	handler *inheritance.Handler
	logger  *slog.Logger
}

// New creates an integrator over the given stores.
func New(manager *propagation.Manager, handler *inheritance.Handler, logger *slog.Logger) *Integrator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Integrator{manager: manager, handler: handler, logger: logger}
}

// Manager returns the underlying propagation manager.
func (in *Integrator) Manager() *propagation.Manager { return in.manager }

// Handler returns the underlying inheritance handler.
func (in *Integrator) Handler() *inheritance.Handler { return in.handler }

// RegisterEntity writes attrs into both stores and verifies each retained
// the value on read-back. A read-back miss is a SYNC_FAILURE.
func (in *Integrator) RegisterEntity(id string, attrs *trust.TrustAttribute) error {
	if attrs == nil {
		return trust.NewInvalidAttributeError(id, "attribute is nil")
	}
	stored := attrs.Clone()
	stored.EntityID = id

	if err := in.manager.PutEntity(stored); err != nil {
		return err
	}
	if err := in.handler.SetEntityAttributes(id, stored); err != nil {
		return err
	}
	if _, ok := in.manager.GetEntity(id); !ok {
		in.logger.Error("manager store dropped entity on read-back", "entity_id", id)
		return trust.NewSyncFailureError(id, "manager store did not retain entity")
	}
	if _, ok := in.handler.GetEntityAttributes(id); !ok {
		in.logger.Error("handler store dropped entity on read-back", "entity_id", id)
		return trust.NewSyncFailureError(id, "handler store did not retain entity")
	}
	return nil
}

// RegisterInheritanceRelationship adds the directed edge parent -> child
// and propagates trust along it:
//
//  1. self-inheritance is rejected
//  2. the edge is rejected if parent is already a descendant of child
//     (adding it would close a cycle)
//  3. entities missing from the manager are synthesized with default
//     attributes, keeping the operation total rather than partial
//  4. the edge is registered with the handler
//  5. trust is propagated parent -> child; on failure the edge just added
//     is unregistered (compensating rollback) and the operation aborts
//  6. the child's complete inheritance chain is rebuilt and written back
//  7. the child's attributes are synchronized across both stores
//  8. every descendant of the child is rebuilt and synchronized, so
//     downstream entities see the new ancestor
func (in *Integrator) RegisterInheritanceRelationship(parent, child string) error {
	if parent == "" || child == "" {
		return trust.NewInvalidAttributeError("", "parent and child ids are required")
	}
	if parent == child {
		return trust.NewCycleError(parent, child)
	}

	// parent is a descendant of child exactly when child is reachable from
	// parent over existing parent edges.
	if in.handler.Ancestors(parent)[child] {
		return trust.NewCycleError(parent, child)
	}

	if _, ok := in.manager.GetEntity(parent); !ok {
		if err := in.synthesizeEntity(parent, defaultParentScore); err != nil {
			return err
		}
	}
	if _, ok := in.manager.GetEntity(child); !ok {
		if err := in.synthesizeEntity(child, defaultChildScore); err != nil {
			return err
		}
	}

	if err := in.handler.RegisterInheritanceRelationship(parent, child); err != nil {
		return err
	}

	childAttrs, _ := in.manager.GetEntity(child)
	if err := in.manager.PropagateTrust(parent, child, childAttrs); err != nil {
		// Compensating rollback: the edge went in but propagation failed,
		// so take the edge back out before reporting.
		if uerr := in.handler.UnregisterInheritanceRelationship(parent, child); uerr != nil {
			in.logger.Error("compensating edge removal failed",
				"parent", parent, "child", child, "error", uerr)
		}
		return err
	}

	if err := in.SynchronizeAttributes(child); err != nil {
		return err
	}
	return in.synchronizeDescendants(child)
}

// UnregisterInheritanceRelationship removes the edge parent -> child,
// drops parent from the child's chain (with recalculation) when present,
// then rebuilds the child's complete chain and every descendant's.
func (in *Integrator) UnregisterInheritanceRelationship(parent, child string) error {
	if err := in.handler.UnregisterInheritanceRelationship(parent, child); err != nil {
		return err
	}
	if attrs, ok := in.manager.GetEntity(child); ok && attrs.HasAncestor(parent) {
		if err := in.manager.RemoveAncestor(child, parent); err != nil {
			return err
		}
	}
	if err := in.SynchronizeAttributes(child); err != nil {
		return err
	}
	return in.synchronizeDescendants(child)
}

// DeleteEntity removes the entity from both stores and resynchronizes its
// former descendants so their chains drop the deleted id.
func (in *Integrator) DeleteEntity(id string) error {
	descendants := in.handler.Descendants(id)
	if err := in.manager.DeleteEntity(id); err != nil {
		return err
	}
	in.handler.DeleteEntity(id)
	for _, desc := range sortedKeys(descendants) {
		if err := in.SynchronizeAttributes(desc); err != nil {
			return err
		}
	}
	return nil
}

// BuildCompleteChain computes the complete (transitively closed) ancestor
// set of id by breadth-first traversal over parent edges. A visited set
// keeps the walk finite even if the adjacency graph is temporarily
// inconsistent. The result is sorted per BFS level so chain rebuilds are
// deterministic.
func (in *Integrator) BuildCompleteChain(id string) []string {
	visited := make(map[string]bool)
	var chain []string

	level := in.handler.GetParents(id)
	sort.Strings(level)
	for len(level) > 0 {
		var next []string
		for _, current := range level {
			if visited[current] || current == id {
				continue
			}
			visited[current] = true
			chain = append(chain, current)
			next = append(next, in.handler.GetParents(current)...)
		}
		sort.Strings(next)
		level = next
	}
	return chain
}

// SynchronizeAttributes reconciles the two stores for one entity:
//
//   - absent from both: a default attribute is created and written to both
//   - present in exactly one: copied forward to the other
//   - present in both: the manager's scores, verification status, and tier
//     are preserved (synchronization never silently changes a score)
//
// In every case the inheritance chain is REPLACED with the freshly computed
// complete closure. A propagated status with an empty closure downgrades to
// unverified: the lineage that justified it no longer exists in the graph.
func (in *Integrator) SynchronizeAttributes(id string) error {
	mgrAttr, inManager := in.manager.GetEntity(id)
	hdlAttr, inHandler := in.handler.GetEntityAttributes(id)

	var merged *trust.TrustAttribute
	switch {
	case inManager:
		merged = mgrAttr
	case inHandler:
		merged = hdlAttr
	default:
		merged = trust.NewAttribute(id, defaultEntityScore, nil)
		merged.VerificationStatus = trust.StatusUnverified
	}

	merged.InheritanceChain = in.BuildCompleteChain(id)
	if merged.VerificationStatus == trust.StatusPropagated && len(merged.InheritanceChain) == 0 {
		merged.VerificationStatus = trust.StatusUnverified
	}

	if err := in.manager.PutEntity(merged); err != nil {
		return trust.NewSyncFailureError(id, fmt.Sprintf("manager store rejected write: %v", err))
	}
	if err := in.handler.SetEntityAttributes(id, merged); err != nil {
		return trust.NewSyncFailureError(id, fmt.Sprintf("handler store rejected write: %v", err))
	}
	return nil
}

// VerifyPropagationAndInheritance confirms that parentID's trust actually
// reaches childID:
//
//   - both entities are synchronized first
//   - parentID must appear in the child's inheritance chain
//   - a direct parent delegates numeric verification to the manager
//   - an indirect ancestor is confirmed by walking the adjacency graph
//     hop-by-hop from the child toward the parent (bounded, with repeat
//     detection), so the chain is genuinely connected rather than an
//     artifact of closure construction
//   - finally both stores' copies of the chain are re-checked
func (in *Integrator) VerifyPropagationAndInheritance(parentID, childID string) (bool, error) {
	if err := in.SynchronizeAttributes(parentID); err != nil {
		return false, err
	}
	if err := in.SynchronizeAttributes(childID); err != nil {
		return false, err
	}

	childAttrs, ok := in.manager.GetEntity(childID)
	if !ok {
		return false, trust.NewEntityNotFoundError(childID)
	}
	if !childAttrs.HasAncestor(parentID) {
		return false, nil
	}

	if in.handler.HasRelationship(parentID, childID) {
		return in.manager.VerifyPropagation(parentID, childID)
	}

	connected, err := in.walkToAncestor(childID, parentID)
	if err != nil || !connected {
		return false, err
	}

	// Re-check both stores' copies; the walk above only consulted the graph.
	if mgrAttrs, ok := in.manager.GetEntity(childID); !ok || !mgrAttrs.HasAncestor(parentID) {
		return false, nil
	}
	if hdlAttrs, ok := in.handler.GetEntityAttributes(childID); !ok || !hdlAttrs.HasAncestor(parentID) {
		return false, nil
	}
	return true, nil
}

// walkToAncestor walks parent edges depth-first from childID looking for
// parentID, visiting at most maxVerifyHops entities. An entity re-entered
// while still on the current walk path means the supposedly acyclic graph
// has a cycle; that is reported as an error rather than a plain false.
// (Reaching an entity twice via different paths is fine - diamonds are
// legal - so only the on-path set triggers the cycle report.)
func (in *Integrator) walkToAncestor(childID, parentID string) (bool, error) {
	visited := make(map[string]bool)
	onPath := make(map[string]bool)
	hops := 0

	var walk func(id string) (bool, error)
	walk = func(id string) (bool, error) {
		parents := in.handler.GetParents(id)
		sort.Strings(parents)
		for _, current := range parents {
			if current == parentID {
				return true, nil
			}
			if onPath[current] {
				in.logger.Error("cycle detected during ancestry walk",
					"child", childID, "parent", parentID, "at", current)
				return false, trust.NewCycleError(parentID, current)
			}
			if visited[current] || hops >= maxVerifyHops {
				continue
			}
			visited[current] = true
			hops++

			onPath[current] = true
			found, err := walk(current)
			onPath[current] = false
			if err != nil || found {
				return found, err
			}
		}
		return false, nil
	}

	onPath[childID] = true
	return walk(childID)
}

// synthesizeEntity registers a default attribute in both stores for an
// entity a relationship referenced before anyone registered it.
func (in *Integrator) synthesizeEntity(id string, baseScore float64) error {
	attr := trust.NewAttribute(id, baseScore, nil)
	attr.VerificationStatus = trust.StatusUnverified
	return in.RegisterEntity(id, attr)
}

// synchronizeDescendants rebuilds and synchronizes every descendant of id,
// in sorted order for determinism.
func (in *Integrator) synchronizeDescendants(id string) error {
	for _, desc := range sortedKeys(in.handler.Descendants(id)) {
		if err := in.SynchronizeAttributes(desc); err != nil {
			return err
		}
	}
	return nil
}

func sortedKeys(set map[string]bool) []string {
	out := make([]string, 0, len(set))
	for id := range set {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}
