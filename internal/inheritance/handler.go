// Package inheritance implements the inheritance handler: the directed
// parent/child adjacency graph and a local mirror of entity attributes for
// fast lookups.
//
// The handler owns the graph topology only. It never computes scores and it
// is never assumed consistent with the propagation manager's attribute
// store - the two are reconciled exclusively through the integration
// layer's synchronization pass.
package inheritance

import (
	"log/slog"
	"sync"

	"github.com/veriton/trustgraph/internal/trust"
)

// Handler stores the directed inheritance graph as two adjacency maps
// (parents-of and children-of) plus an attribute mirror.
//
// Thread-safety: all methods are safe for concurrent use via one RWMutex.
// The graph is small relative to entity churn, so a single mutex suffices;
// per-entity locking lives in the propagation manager.
type Handler struct {
	mu       sync.RWMutex
	parents  map[string]map[string]bool // child -> set of parents
	children map[string]map[string]bool // parent -> set of children
	attrs    map[string]*trust.TrustAttribute
	logger   *slog.Logger
}

// NewHandler creates an empty handler.
func NewHandler(logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		parents:  make(map[string]map[string]bool),
		children: make(map[string]map[string]bool),
		attrs:    make(map[string]*trust.TrustAttribute),
		logger:   logger,
	}
}

// GetParents returns the direct parents of id. Order is not significant.
func (h *Handler) GetParents(id string) []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return setToSlice(h.parents[id])
}

// GetChildren returns the direct children of id. Order is not significant.
func (h *Handler) GetChildren(id string) []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return setToSlice(h.children[id])
}

// RegisterInheritanceRelationship adds the directed edge parent -> child.
// Self-edges are rejected. Adding an existing edge is idempotent.
//
// The handler does NOT run cycle detection - that is the integration
// layer's job, performed over existing edges before this call.
func (h *Handler) RegisterInheritanceRelationship(parent, child string) error {
	if parent == "" || child == "" {
		return trust.NewInvalidAttributeError("", "parent and child ids are required")
	}
	if parent == child {
		return trust.NewCycleError(parent, child)
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.parents[child] == nil {
		h.parents[child] = make(map[string]bool)
	}
	if h.children[parent] == nil {
		h.children[parent] = make(map[string]bool)
	}
	h.parents[child][parent] = true
	h.children[parent][child] = true
	h.logger.Debug("inheritance edge added", "parent", parent, "child", child)
	return nil
}

// UnregisterInheritanceRelationship removes the edge parent -> child.
// Fails if the edge does not exist.
func (h *Handler) UnregisterInheritanceRelationship(parent, child string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.parents[child][parent] {
		return trust.NewEntityNotFoundError(parent)
	}
	delete(h.parents[child], parent)
	delete(h.children[parent], child)
	return nil
}

// HasRelationship reports whether the edge parent -> child exists.
func (h *Handler) HasRelationship(parent, child string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.parents[child][parent]
}

// SetEntityAttributes stores a copy of attrs in the handler's mirror.
func (h *Handler) SetEntityAttributes(id string, attrs *trust.TrustAttribute) error {
	if attrs == nil {
		return trust.NewInvalidAttributeError(id, "attribute is nil")
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	stored := attrs.Clone()
	stored.EntityID = id
	h.attrs[id] = stored
	return nil
}

// GetEntityAttributes returns a copy of the mirrored attribute, or false
// if the handler has never seen the entity.
func (h *Handler) GetEntityAttributes(id string) (*trust.TrustAttribute, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	attr, ok := h.attrs[id]
	if !ok {
		return nil, false
	}
	return attr.Clone(), true
}

// DeleteEntity removes the entity's mirror copy and all its edges.
func (h *Handler) DeleteEntity(id string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.attrs, id)
	for parent := range h.parents[id] {
		delete(h.children[parent], id)
	}
	for child := range h.children[id] {
		delete(h.parents[child], id)
	}
	delete(h.parents, id)
	delete(h.children, id)
	h.logger.Debug("entity removed from inheritance graph", "entity_id", id)
}

// VerifyInheritanceChain checks the mirrored chain of id against the
// adjacency graph: every chain member must be reachable from id through
// parent edges, and no id may appear twice.
func (h *Handler) VerifyInheritanceChain(id string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()

	attr, ok := h.attrs[id]
	if !ok {
		return false
	}

	seen := make(map[string]bool, len(attr.InheritanceChain))
	for _, ancestor := range attr.InheritanceChain {
		if seen[ancestor] {
			return false
		}
		seen[ancestor] = true
	}

	reachable := h.ancestorsLocked(id)
	for ancestor := range seen {
		if !reachable[ancestor] {
			return false
		}
	}
	return true
}

// Ancestors returns the full transitive ancestor set of id via BFS over
// parent edges. A visited set keeps the walk finite even if the graph is
// temporarily inconsistent.
func (h *Handler) Ancestors(id string) map[string]bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.ancestorsLocked(id)
}

func (h *Handler) ancestorsLocked(id string) map[string]bool {
	visited := make(map[string]bool)
	queue := setToSlice(h.parents[id])
	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]
		if visited[current] {
			continue
		}
		visited[current] = true
		for parent := range h.parents[current] {
			if !visited[parent] {
				queue = append(queue, parent)
			}
		}
	}
	return visited
}

// Descendants returns the full transitive descendant set of id via BFS
// over child edges, mirroring Ancestors.
func (h *Handler) Descendants(id string) map[string]bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	visited := make(map[string]bool)
	queue := setToSlice(h.children[id])
	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]
		if visited[current] {
			continue
		}
		visited[current] = true
		for child := range h.children[current] {
			if !visited[child] {
				queue = append(queue, child)
			}
		}
	}
	return visited
}

func setToSlice(set map[string]bool) []string {
	out := make([]string, 0, len(set))
	for id := range set {
		out = append(out, id)
	}
	return out
}
