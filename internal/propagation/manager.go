package propagation

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/sasha-s/go-deadlock"

	"github.com/veriton/trustgraph/internal/lockset"
	"github.com/veriton/trustgraph/internal/trust"
)

// Manager owns the entity attribute store, the transaction table, the
// boundary registry, and the transaction log.
//
// Thread-safety model:
//   - the registry mutex guards the maps themselves (and the log slice)
//   - per-entity locks from the lock table serialize logical operations on
//     entity state; every method that mutates an entity holds its lock
//   - multi-entity operations acquire entity locks in sorted id order
//
// INVARIANTS:
//   - every stored attribute has scores in [0.0, 1.0]
//   - the transaction log is append-only
//   - transaction status moves only along the Status state machine
type Manager struct {
	mu           deadlock.RWMutex
	entities     map[string]*trust.TrustAttribute
	transactions map[string]*Transaction
	boundaries   map[string]*trust.TrustBoundary
	log          []LogEntry

	locks  *lockset.Table
	txGen  TxIDGenerator
	sink   LogSink
	logger *slog.Logger
}

// Option configures a Manager.
type Option func(*Manager)

// WithLockTimeout bounds per-entity lock acquisition.
// Default: lockset.DefaultTimeout (5s).
func WithLockTimeout(timeout time.Duration) Option {
	return func(m *Manager) {
		m.locks = lockset.NewTable(timeout)
	}
}

// WithTxIDGenerator overrides the transaction id generator.
// Tests use NewFixedGenerator for deterministic ids.
func WithTxIDGenerator(gen TxIDGenerator) Option {
	return func(m *Manager) {
		m.txGen = gen
	}
}

// WithLogSink attaches a write-behind sink for the transaction log.
func WithLogSink(sink LogSink) Option {
	return func(m *Manager) {
		m.sink = sink
	}
}

// WithLogger sets the structured logger. Default: slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(m *Manager) {
		m.logger = logger
	}
}

// NewManager creates an empty manager.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		entities:     make(map[string]*trust.TrustAttribute),
		transactions: make(map[string]*Transaction),
		boundaries:   make(map[string]*trust.TrustBoundary),
		locks:        lockset.NewTable(lockset.DefaultTimeout),
		txGen:        UUIDv7Generator{},
		logger:       slog.Default(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Locks exposes the lock table for callers (the integration layer) that
// need to serialize their own multi-entity sequences on the same ids.
func (m *Manager) Locks() *lockset.Table {
	return m.locks
}

// =============================================================================
// Entity store
// =============================================================================

// RegisterEntity creates a new attribute with verification status
// "registered" and an empty inheritance chain. Fails with ENTITY_EXISTS if
// the id is taken and INVALID_ATTRIBUTE if any score is out of range; the
// store is left unchanged on failure.
func (m *Manager) RegisterEntity(id string, baseScore float64, contextScores map[string]float64) error {
	attr := trust.NewAttribute(id, baseScore, contextScores)
	attr.VerificationStatus = trust.StatusRegistered
	if err := attr.Validate(); err != nil {
		return err
	}

	release, err := m.locks.AcquireAll(id)
	if err != nil {
		return err
	}
	defer release()

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.entities[id]; exists {
		return trust.NewEntityExistsError(id)
	}
	m.entities[id] = attr
	m.logger.Debug("entity registered", "entity_id", id, "base_score", baseScore)
	return nil
}

// UpdateEntity overwrites the base score and/or context scores of an
// existing entity. A nil baseScore or contextScores leaves that field
// untouched. Out-of-range scores fail without mutating the store.
func (m *Manager) UpdateEntity(id string, baseScore *float64, contextScores map[string]float64) error {
	if baseScore != nil && !trust.ScoreInRange(*baseScore) {
		return trust.NewInvalidAttributeError(id,
			fmt.Sprintf("base score %v outside [0.0, 1.0]", *baseScore))
	}
	for name, score := range contextScores {
		if !trust.ScoreInRange(score) {
			return trust.NewInvalidAttributeError(id,
				fmt.Sprintf("context score %q = %v outside [0.0, 1.0]", name, score))
		}
	}

	release, err := m.locks.AcquireAll(id)
	if err != nil {
		return err
	}
	defer release()

	m.mu.Lock()
	defer m.mu.Unlock()
	attr, ok := m.entities[id]
	if !ok {
		return trust.NewEntityNotFoundError(id)
	}
	if baseScore != nil {
		attr.BaseScore = *baseScore
	}
	if contextScores != nil {
		if attr.ContextScores == nil {
			attr.ContextScores = make(map[string]float64, len(contextScores))
		}
		for name, score := range contextScores {
			attr.ContextScores[name] = score
		}
	}
	attr.LastUpdated = time.Now()
	return nil
}

// DeleteEntity removes an entity, purges its id from every other entity's
// inheritance chain, and recalculates each purged entity. No stale dangling
// references survive a delete.
func (m *Manager) DeleteEntity(id string) error {
	release, err := m.locks.AcquireAll(id)
	if err != nil {
		return err
	}
	defer release()

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.entities[id]; !ok {
		return trust.NewEntityNotFoundError(id)
	}
	delete(m.entities, id)
	for otherID, other := range m.entities {
		if other.RemoveAncestor(id) {
			m.recalculateLocked(otherID)
		}
	}
	m.logger.Debug("entity deleted", "entity_id", id)
	return nil
}

// GetEntity returns a copy of the entity's attribute, or false if absent.
func (m *Manager) GetEntity(id string) (*trust.TrustAttribute, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	attr, ok := m.entities[id]
	if !ok {
		return nil, false
	}
	return attr.Clone(), true
}

// PutEntity upserts an attribute after validating its scores. Used by the
// integration layer's synchronization pass; it takes the entity lock like
// any other write.
func (m *Manager) PutEntity(attr *trust.TrustAttribute) error {
	if attr == nil {
		return trust.NewInvalidAttributeError("", "attribute is nil")
	}
	if err := attr.Validate(); err != nil {
		return err
	}

	release, err := m.locks.AcquireAll(attr.EntityID)
	if err != nil {
		return err
	}
	defer release()

	m.mu.Lock()
	defer m.mu.Unlock()
	m.entities[attr.EntityID] = attr.Clone()
	return nil
}

// RemoveAncestor drops ancestorID from the entity's inheritance chain and
// recalculates its scores. A no-op (without error) if the ancestor was not
// in the chain. Used by the integration layer when an edge is unregistered.
func (m *Manager) RemoveAncestor(entityID, ancestorID string) error {
	release, err := m.locks.AcquireAll(entityID)
	if err != nil {
		return err
	}
	defer release()

	m.mu.Lock()
	defer m.mu.Unlock()
	attr, ok := m.entities[entityID]
	if !ok {
		return trust.NewEntityNotFoundError(entityID)
	}
	if attr.RemoveAncestor(ancestorID) {
		m.recalculateLocked(entityID)
	}
	return nil
}

// EntityIDs returns the ids of all registered entities.
func (m *Manager) EntityIDs() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ids := make([]string, 0, len(m.entities))
	for id := range m.entities {
		ids = append(ids, id)
	}
	return ids
}

// =============================================================================
// Direct propagation
// =============================================================================

// PropagateTrust performs direct, non-transactional propagation from
// sourceID into targetAttrs and stores the result for targetID.
//
// The target's chain gains sourceID (if absent) followed by every ancestor
// of the source not already present, in the source's chain order. Scores
// are NOT averaged here - callers that need score blending use the
// transactional path, which runs the propagation rules.
//
// Locks {sourceID, targetID} in sorted id order.
func (m *Manager) PropagateTrust(sourceID, targetID string, targetAttrs *trust.TrustAttribute) error {
	if sourceID == "" || targetID == "" {
		return trust.NewInvalidAttributeError("", "source and target ids are required")
	}
	if targetAttrs == nil {
		return trust.NewInvalidAttributeError(targetID, "target attributes are required")
	}

	release, err := m.locks.AcquireAll(sourceID, targetID)
	if err != nil {
		return err
	}
	defer release()

	m.mu.Lock()
	defer m.mu.Unlock()
	source, ok := m.entities[sourceID]
	if !ok {
		return trust.NewEntityNotFoundError(sourceID)
	}

	updated := targetAttrs.Clone()
	updated.EntityID = targetID
	updated.AddAncestor(sourceID)
	for _, ancestor := range source.InheritanceChain {
		updated.AddAncestor(ancestor)
	}
	updated.LastUpdated = time.Now()
	m.entities[targetID] = updated

	m.logger.Debug("trust propagated",
		"source_id", sourceID,
		"target_id", targetID,
		"chain_len", len(updated.InheritanceChain))
	return nil
}

// =============================================================================
// Transactional propagation
// =============================================================================

// BeginPropagation validates the transaction shape (both ids present,
// attributes present and internally valid) and records it as pending.
// No entity is mutated; the pending transaction holds no locks.
func (m *Manager) BeginPropagation(sourceID, targetID string, attrs *trust.TrustAttribute) (string, error) {
	if sourceID == "" || targetID == "" {
		return "", trust.NewInvalidAttributeError("", "source and target ids are required")
	}
	if attrs == nil {
		return "", trust.NewInvalidAttributeError(targetID, "target attributes are required")
	}
	if err := attrs.Validate(); err != nil {
		return "", err
	}

	tx := &Transaction{
		ID:         m.txGen.Generate(),
		SourceID:   sourceID,
		TargetID:   targetID,
		Attributes: attrs.Clone(),
		Status:     StatusPending,
		Timestamp:  time.Now(),
	}

	m.mu.Lock()
	m.transactions[tx.ID] = tx
	m.appendLogLocked(tx.ID, LogCreated,
		fmt.Sprintf("propagation %s -> %s", sourceID, targetID))
	m.mu.Unlock()

	return tx.ID, nil
}

// ExecutePropagation runs a pending transaction: it locks the source and
// target (sorted order), applies the propagation rules to derive the new
// target attributes, writes them, verifies the result, and records the
// final status. Returns the verification result.
//
// A failed execution leaves the target at whatever the propagation rules
// wrote - callers must explicitly roll back to undo it.
func (m *Manager) ExecutePropagation(txID string) (bool, error) {
	m.mu.Lock()
	tx, ok := m.transactions[txID]
	if !ok {
		m.mu.Unlock()
		return false, trust.NewTransactionNotFoundError(txID)
	}
	if !tx.Status.CanTransitionTo(StatusExecuting) {
		status := string(tx.Status)
		m.mu.Unlock()
		return false, trust.NewInvalidTransactionStateError(txID, status, "execute")
	}
	tx.Status = StatusExecuting
	sourceID, targetID := tx.SourceID, tx.TargetID
	m.mu.Unlock()

	release, err := m.locks.AcquireAll(sourceID, targetID)
	if err != nil {
		m.finishTransaction(tx, StatusFailed, "lock acquisition timed out")
		return false, err
	}
	defer release()

	m.mu.Lock()
	source, ok := m.entities[sourceID]
	if !ok {
		m.appendLogLocked(txID, LogFailed, "source entity not registered")
		tx.Status = StatusFailed
		m.mu.Unlock()
		return false, trust.NewEntityNotFoundError(sourceID)
	}

	updated := applyPropagationRules(source, tx.Attributes)
	updated.EntityID = targetID
	m.entities[targetID] = updated

	verified := m.verifyPropagationLocked(sourceID, targetID)
	tx.VerificationResult = verified
	if verified {
		tx.Status = StatusCompleted
		m.appendLogLocked(txID, LogCompleted, "propagation verified")
	} else {
		tx.Status = StatusFailed
		m.appendLogLocked(txID, LogFailed, "propagation verification failed")
	}
	m.mu.Unlock()

	return verified, nil
}

// RollbackPropagation undoes a transaction. Permitted from failed,
// executing, and pending status; rolling back a never-executed (pending)
// transaction is a documented no-op that still transitions to rolled_back,
// keeping rollback idempotent for callers that always pair begin with
// rollback on error paths.
func (m *Manager) RollbackPropagation(txID string) error {
	m.mu.Lock()
	tx, ok := m.transactions[txID]
	if !ok {
		m.mu.Unlock()
		return trust.NewTransactionNotFoundError(txID)
	}
	if !tx.Status.CanTransitionTo(StatusRollingBack) {
		status := string(tx.Status)
		m.mu.Unlock()
		return trust.NewInvalidTransactionStateError(txID, status, "rollback")
	}
	tx.Status = StatusRollingBack
	sourceID, targetID := tx.SourceID, tx.TargetID
	m.mu.Unlock()

	release, err := m.locks.AcquireAll(sourceID, targetID)
	if err != nil {
		m.finishTransaction(tx, StatusRollbackFailed,
			"lock acquisition timed out during rollback")
		return err
	}
	defer release()

	m.mu.Lock()
	defer m.mu.Unlock()
	if target, ok := m.entities[targetID]; ok && target.RemoveAncestor(sourceID) {
		m.recalculateLocked(targetID)
	}
	tx.Status = StatusRolledBack
	m.appendLogLocked(txID, LogRolledBack, "propagation rolled back")
	return nil
}

// GetTransactionStatus returns the current status of a transaction.
func (m *Manager) GetTransactionStatus(txID string) (Status, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	tx, ok := m.transactions[txID]
	if !ok {
		return "", trust.NewTransactionNotFoundError(txID)
	}
	return tx.Status, nil
}

// GetTransaction returns a copy of the full transaction record.
func (m *Manager) GetTransaction(txID string) (*Transaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	tx, ok := m.transactions[txID]
	if !ok {
		return nil, trust.NewTransactionNotFoundError(txID)
	}
	return tx.Clone(), nil
}

// VerifyPropagation is the public, lock-guarded wrapper over the internal
// verification predicate: sourceID must appear in the target's inheritance
// chain and the target's base score must be positive.
func (m *Manager) VerifyPropagation(sourceID, targetID string) (bool, error) {
	release, err := m.locks.AcquireAll(sourceID, targetID)
	if err != nil {
		return false, err
	}
	defer release()

	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.verifyPropagationLocked(sourceID, targetID), nil
}

// =============================================================================
// Boundary registry
// =============================================================================

// RegisterBoundary records a boundary. Boundaries change far less often
// than entities, so the registry mutex alone guards them - there is no
// per-boundary lock.
func (m *Manager) RegisterBoundary(b *trust.TrustBoundary) error {
	if b == nil {
		return trust.NewInvalidAttributeError("", "boundary is nil")
	}
	if err := b.Validate(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.boundaries[b.BoundaryID] = b
	return nil
}

// GetBoundary looks up a boundary by id.
func (m *Manager) GetBoundary(boundaryID string) (*trust.TrustBoundary, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	b, ok := m.boundaries[boundaryID]
	if !ok {
		return nil, trust.NewBoundaryNotFoundError(boundaryID)
	}
	return b, nil
}

// AllBoundaries returns every registered boundary.
func (m *Manager) AllBoundaries() []*trust.TrustBoundary {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*trust.TrustBoundary, 0, len(m.boundaries))
	for _, b := range m.boundaries {
		out = append(out, b)
	}
	return out
}

// TransactionLog returns a copy of the append-only audit trail, in append
// order.
func (m *Manager) TransactionLog() []LogEntry {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]LogEntry(nil), m.log...)
}

// =============================================================================
// Internal helpers
// =============================================================================

// applyPropagationRules derives the new target attributes:
//   - base score: min(1.0, (target + source) / 2)
//   - each context score present in the source is blended the same way;
//     contexts absent in the target are copied as-is
//   - verification status becomes propagated
//   - the source id is added to the chain if absent
func applyPropagationRules(source, target *trust.TrustAttribute) *trust.TrustAttribute {
	updated := target.Clone()
	updated.BaseScore = blend(target.BaseScore, source.BaseScore)
	for name, sourceScore := range source.ContextScores {
		if targetScore, ok := updated.ContextScores[name]; ok {
			updated.ContextScores[name] = blend(targetScore, sourceScore)
		} else {
			if updated.ContextScores == nil {
				updated.ContextScores = make(map[string]float64)
			}
			updated.ContextScores[name] = sourceScore
		}
	}
	updated.VerificationStatus = trust.StatusPropagated
	updated.AddAncestor(source.EntityID)
	updated.LastUpdated = time.Now()
	return updated
}

func blend(a, b float64) float64 {
	avg := (a + b) / 2
	if avg > 1.0 {
		return 1.0
	}
	return avg
}

// verifyPropagationLocked checks that sourceID is in the target's chain and
// the target's base score is positive. Caller holds the registry mutex.
func (m *Manager) verifyPropagationLocked(sourceID, targetID string) bool {
	target, ok := m.entities[targetID]
	if !ok {
		return false
	}
	return target.HasAncestor(sourceID) && target.BaseScore > 0
}

// recalculateLocked re-derives an entity's scores from its current
// ancestors, used after an ancestor leaves the chain (rollback, delete,
// edge removal). With no remaining ancestors the scores are left as-is and
// a previously propagated status drops to unverified, since the lineage
// that justified it is gone. Caller holds the registry mutex.
func (m *Manager) recalculateLocked(id string) {
	attr, ok := m.entities[id]
	if !ok {
		return
	}
	var sum float64
	var count int
	for _, ancestorID := range attr.InheritanceChain {
		if ancestor, ok := m.entities[ancestorID]; ok {
			sum += ancestor.BaseScore
			count++
		}
	}
	if count > 0 {
		attr.BaseScore = blend(attr.BaseScore, sum/float64(count))
	} else if attr.VerificationStatus == trust.StatusPropagated {
		attr.VerificationStatus = trust.StatusUnverified
	}
	attr.LastUpdated = time.Now()
}

// appendLogLocked appends one audit entry and forwards it to the sink, if
// any. Caller holds the registry mutex.
func (m *Manager) appendLogLocked(txID string, event LogEvent, message string) {
	entry := LogEntry{
		TransactionID: txID,
		Event:         event,
		Timestamp:     time.Now(),
		Message:       message,
	}
	m.log = append(m.log, entry)
	if m.sink != nil {
		if err := m.sink.Append(entry); err != nil {
			m.logger.Warn("transaction log sink append failed",
				"transaction_id", txID, "error", err)
		}
	}
}

// finishTransaction records a terminal status outside the normal execute
// path (lock timeouts).
func (m *Manager) finishTransaction(tx *Transaction, status Status, message string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	tx.Status = status
	event := LogFailed
	if status == StatusRollbackFailed {
		event = LogRollbackFailed
	}
	m.appendLogLocked(tx.ID, event, message)
}
