package propagation

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/veriton/trustgraph/internal/trust"
)

func newTestManager(t *testing.T, opts ...Option) *Manager {
	t.Helper()
	base := []Option{
		WithTxIDGenerator(NewFixedGenerator("tx-1", "tx-2", "tx-3", "tx-4", "tx-5")),
	}
	return NewManager(append(base, opts...)...)
}

// =============================================================================
// Entity store
// =============================================================================

func TestRegisterEntity(t *testing.T) {
	m := newTestManager(t)

	require.NoError(t, m.RegisterEntity("agent-1", 0.8, map[string]float64{"deploy": 0.9}))

	attr, ok := m.GetEntity("agent-1")
	require.True(t, ok)
	assert.Equal(t, 0.8, attr.BaseScore)
	assert.Equal(t, trust.StatusRegistered, attr.VerificationStatus)
	assert.Empty(t, attr.InheritanceChain)
}

func TestRegisterEntity_DuplicateFails(t *testing.T) {
	m := newTestManager(t)
	require.NoError(t, m.RegisterEntity("agent-1", 0.8, nil))

	err := m.RegisterEntity("agent-1", 0.5, nil)
	require.Error(t, err)
	assert.Equal(t, trust.ErrCodeEntityExists, trust.CodeOf(err))

	// Original untouched.
	attr, _ := m.GetEntity("agent-1")
	assert.Equal(t, 0.8, attr.BaseScore)
}

func TestRegisterEntity_OutOfRangeLeavesStoreUnchanged(t *testing.T) {
	m := newTestManager(t)

	tests := []struct {
		name    string
		base    float64
		context map[string]float64
	}{
		{"base too high", 1.2, nil},
		{"base negative", -0.3, nil},
		{"context too high", 0.5, map[string]float64{"deploy": 2.0}},
		{"context negative", 0.5, map[string]float64{"deploy": -1.0}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := m.RegisterEntity("agent-x", tt.base, tt.context)
			require.Error(t, err)
			assert.Equal(t, trust.ErrCodeInvalidAttribute, trust.CodeOf(err))
			_, ok := m.GetEntity("agent-x")
			assert.False(t, ok, "failed registration must not create the entity")
		})
	}
}

func TestUpdateEntity(t *testing.T) {
	m := newTestManager(t)
	require.NoError(t, m.RegisterEntity("agent-1", 0.8, map[string]float64{"deploy": 0.9}))

	newScore := 0.6
	require.NoError(t, m.UpdateEntity("agent-1", &newScore, map[string]float64{"audit": 0.4}))

	attr, _ := m.GetEntity("agent-1")
	assert.Equal(t, 0.6, attr.BaseScore)
	assert.Equal(t, 0.9, attr.ContextScores["deploy"], "untouched context survives")
	assert.Equal(t, 0.4, attr.ContextScores["audit"])
}

func TestUpdateEntity_Failures(t *testing.T) {
	m := newTestManager(t)
	require.NoError(t, m.RegisterEntity("agent-1", 0.8, nil))

	badScore := 1.5
	err := m.UpdateEntity("agent-1", &badScore, nil)
	assert.Equal(t, trust.ErrCodeInvalidAttribute, trust.CodeOf(err))
	attr, _ := m.GetEntity("agent-1")
	assert.Equal(t, 0.8, attr.BaseScore, "failed update must not mutate")

	goodScore := 0.5
	err = m.UpdateEntity("missing", &goodScore, nil)
	assert.Equal(t, trust.ErrCodeEntityNotFound, trust.CodeOf(err))
}

func TestDeleteEntity_PurgesChains(t *testing.T) {
	m := newTestManager(t)
	require.NoError(t, m.RegisterEntity("root", 0.9, nil))
	require.NoError(t, m.RegisterEntity("leaf", 0.5, nil))

	leaf, _ := m.GetEntity("leaf")
	require.NoError(t, m.PropagateTrust("root", "leaf", leaf))
	leaf, _ = m.GetEntity("leaf")
	require.Contains(t, leaf.InheritanceChain, "root")

	require.NoError(t, m.DeleteEntity("root"))

	_, ok := m.GetEntity("root")
	assert.False(t, ok)
	leaf, _ = m.GetEntity("leaf")
	assert.NotContains(t, leaf.InheritanceChain, "root", "no dangling references survive a delete")
}

func TestDeleteEntity_Missing(t *testing.T) {
	m := newTestManager(t)
	err := m.DeleteEntity("ghost")
	assert.Equal(t, trust.ErrCodeEntityNotFound, trust.CodeOf(err))
}

// =============================================================================
// Direct propagation
// =============================================================================

func TestPropagateTrust_ChainUnion(t *testing.T) {
	m := newTestManager(t)
	require.NoError(t, m.RegisterEntity("root", 0.9, nil))
	require.NoError(t, m.RegisterEntity("mid", 0.7, nil))
	require.NoError(t, m.RegisterEntity("leaf", 0.5, nil))

	mid, _ := m.GetEntity("mid")
	require.NoError(t, m.PropagateTrust("root", "mid", mid))

	leaf, _ := m.GetEntity("leaf")
	require.NoError(t, m.PropagateTrust("mid", "leaf", leaf))

	leaf, _ = m.GetEntity("leaf")
	assert.Equal(t, []string{"mid", "root"}, leaf.InheritanceChain,
		"target gains the source and every ancestor of the source, in chain order")
	assert.Equal(t, 0.5, leaf.BaseScore, "direct propagation never averages scores")
}

func TestPropagateTrust_Validation(t *testing.T) {
	m := newTestManager(t)
	require.NoError(t, m.RegisterEntity("a", 0.8, nil))
	attrs := trust.NewAttribute("b", 0.5, nil)

	assert.Error(t, m.PropagateTrust("", "b", attrs))
	assert.Error(t, m.PropagateTrust("a", "", attrs))
	assert.Error(t, m.PropagateTrust("a", "b", nil))

	err := m.PropagateTrust("unregistered", "b", attrs)
	assert.Equal(t, trust.ErrCodeEntityNotFound, trust.CodeOf(err))
}

// =============================================================================
// Transactional propagation
// =============================================================================

func TestExecutePropagation_AveragesScores(t *testing.T) {
	m := newTestManager(t)
	require.NoError(t, m.RegisterEntity("a", 0.8, map[string]float64{"deploy": 1.0, "audit": 0.6}))
	require.NoError(t, m.RegisterEntity("b", 0.6, map[string]float64{"deploy": 0.5}))

	b, _ := m.GetEntity("b")
	txID, err := m.BeginPropagation("a", "b", b)
	require.NoError(t, err)
	assert.Equal(t, "tx-1", txID)

	status, err := m.GetTransactionStatus(txID)
	require.NoError(t, err)
	assert.Equal(t, StatusPending, status)

	verified, err := m.ExecutePropagation(txID)
	require.NoError(t, err)
	assert.True(t, verified)

	updated, _ := m.GetEntity("b")
	assert.InDelta(t, 0.7, updated.BaseScore, 1e-9)
	assert.InDelta(t, 0.75, updated.ContextScores["deploy"], 1e-9, "present in both: averaged")
	assert.InDelta(t, 0.6, updated.ContextScores["audit"], 1e-9, "absent in target: copied as-is")
	assert.Equal(t, trust.StatusPropagated, updated.VerificationStatus)
	assert.Contains(t, updated.InheritanceChain, "a")

	status, _ = m.GetTransactionStatus(txID)
	assert.Equal(t, StatusCompleted, status)

	tx, err := m.GetTransaction(txID)
	require.NoError(t, err)
	assert.True(t, tx.VerificationResult)
}

func TestExecutePropagation_ScoreCappedAtOne(t *testing.T) {
	m := newTestManager(t)
	require.NoError(t, m.RegisterEntity("a", 1.0, nil))
	require.NoError(t, m.RegisterEntity("b", 1.0, nil))

	b, _ := m.GetEntity("b")
	txID, err := m.BeginPropagation("a", "b", b)
	require.NoError(t, err)

	_, err = m.ExecutePropagation(txID)
	require.NoError(t, err)

	updated, _ := m.GetEntity("b")
	assert.LessOrEqual(t, updated.BaseScore, 1.0)
}

func TestBeginPropagation_ValidationFailures(t *testing.T) {
	m := newTestManager(t)
	attrs := trust.NewAttribute("b", 0.5, nil)

	_, err := m.BeginPropagation("", "b", attrs)
	assert.Error(t, err)
	_, err = m.BeginPropagation("a", "", attrs)
	assert.Error(t, err)
	_, err = m.BeginPropagation("a", "b", nil)
	assert.Error(t, err)

	bad := trust.NewAttribute("b", 1.7, nil)
	_, err = m.BeginPropagation("a", "b", bad)
	assert.Equal(t, trust.ErrCodeInvalidAttribute, trust.CodeOf(err))

	assert.Empty(t, m.TransactionLog(), "failed begin must not log a transaction")
}

func TestExecutePropagation_InvalidStates(t *testing.T) {
	m := newTestManager(t)
	require.NoError(t, m.RegisterEntity("a", 0.8, nil))
	require.NoError(t, m.RegisterEntity("b", 0.6, nil))

	_, err := m.ExecutePropagation("no-such-tx")
	assert.Equal(t, trust.ErrCodeTransactionNotFound, trust.CodeOf(err))

	b, _ := m.GetEntity("b")
	txID, err := m.BeginPropagation("a", "b", b)
	require.NoError(t, err)
	_, err = m.ExecutePropagation(txID)
	require.NoError(t, err)

	// Executing a completed transaction is forbidden.
	_, err = m.ExecutePropagation(txID)
	assert.Equal(t, trust.ErrCodeInvalidTransactionState, trust.CodeOf(err))
}

func TestExecutePropagation_MissingSourceFails(t *testing.T) {
	m := newTestManager(t)
	attrs := trust.NewAttribute("b", 0.6, nil)

	txID, err := m.BeginPropagation("ghost", "b", attrs)
	require.NoError(t, err, "begin only validates shape, not registration")

	verified, err := m.ExecutePropagation(txID)
	assert.False(t, verified)
	assert.Equal(t, trust.ErrCodeEntityNotFound, trust.CodeOf(err))

	status, _ := m.GetTransactionStatus(txID)
	assert.Equal(t, StatusFailed, status)
}

func TestRollbackPropagation_PendingIsNoOpSuccess(t *testing.T) {
	m := newTestManager(t)
	require.NoError(t, m.RegisterEntity("a", 0.8, nil))
	require.NoError(t, m.RegisterEntity("b", 0.6, nil))

	b, _ := m.GetEntity("b")
	txID, err := m.BeginPropagation("a", "b", b)
	require.NoError(t, err)

	require.NoError(t, m.RollbackPropagation(txID))

	status, _ := m.GetTransactionStatus(txID)
	assert.Equal(t, StatusRolledBack, status)

	// Target untouched: never executed, nothing to undo.
	after, _ := m.GetEntity("b")
	assert.Equal(t, 0.6, after.BaseScore)
	assert.Empty(t, after.InheritanceChain)
	assert.Equal(t, trust.StatusRegistered, after.VerificationStatus)
}

func TestRollbackPropagation_AfterExecute(t *testing.T) {
	m := newTestManager(t)
	require.NoError(t, m.RegisterEntity("a", 0.8, nil))
	require.NoError(t, m.RegisterEntity("b", 0.6, nil))

	b, _ := m.GetEntity("b")
	txID, err := m.BeginPropagation("a", "b", b)
	require.NoError(t, err)
	verified, err := m.ExecutePropagation(txID)
	require.NoError(t, err)
	require.True(t, verified)

	// Completed transactions cannot roll back.
	err = m.RollbackPropagation(txID)
	assert.Equal(t, trust.ErrCodeInvalidTransactionState, trust.CodeOf(err))
}

func TestRollbackPropagation_FailedTransaction(t *testing.T) {
	m := newTestManager(t)
	require.NoError(t, m.RegisterEntity("b", 0.6, nil))
	attrs, _ := m.GetEntity("b")

	txID, err := m.BeginPropagation("ghost", "b", attrs)
	require.NoError(t, err)
	_, err = m.ExecutePropagation(txID)
	require.Error(t, err)

	require.NoError(t, m.RollbackPropagation(txID))
	status, _ := m.GetTransactionStatus(txID)
	assert.Equal(t, StatusRolledBack, status)

	// Terminal: no second rollback.
	err = m.RollbackPropagation(txID)
	assert.Equal(t, trust.ErrCodeInvalidTransactionState, trust.CodeOf(err))
}

func TestRollbackPropagation_RemovesSourceAndRecalculates(t *testing.T) {
	m := newTestManager(t)
	require.NoError(t, m.RegisterEntity("a", 0.8, nil))
	require.NoError(t, m.RegisterEntity("b", 0.6, nil))

	b, _ := m.GetEntity("b")
	txID, err := m.BeginPropagation("a", "b", b)
	require.NoError(t, err)
	_, err = m.ExecutePropagation(txID)
	require.NoError(t, err)

	// The completed tx is terminal, so exercise the chain surgery through a
	// second transaction for the same pair and roll that one back.
	updated, _ := m.GetEntity("b")
	require.Contains(t, updated.InheritanceChain, "a")

	b2, _ := m.GetEntity("b")
	tx2, err := m.BeginPropagation("a", "b", b2)
	require.NoError(t, err)
	require.NoError(t, m.RollbackPropagation(tx2))

	after, _ := m.GetEntity("b")
	assert.NotContains(t, after.InheritanceChain, "a",
		"rollback removes the source from the chain when present")
	assert.Equal(t, trust.StatusUnverified, after.VerificationStatus,
		"propagated status downgrades once the lineage is gone")
}

// =============================================================================
// Verification and lock behavior
// =============================================================================

func TestVerifyPropagation(t *testing.T) {
	m := newTestManager(t)
	require.NoError(t, m.RegisterEntity("a", 0.8, nil))
	require.NoError(t, m.RegisterEntity("b", 0.6, nil))

	ok, err := m.VerifyPropagation("a", "b")
	require.NoError(t, err)
	assert.False(t, ok, "no propagation yet")

	b, _ := m.GetEntity("b")
	require.NoError(t, m.PropagateTrust("a", "b", b))

	ok, err = m.VerifyPropagation("a", "b")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestVerifyPropagation_ZeroScoreFails(t *testing.T) {
	m := newTestManager(t)
	require.NoError(t, m.RegisterEntity("a", 0.8, nil))
	require.NoError(t, m.RegisterEntity("b", 0.0, nil))

	b, _ := m.GetEntity("b")
	require.NoError(t, m.PropagateTrust("a", "b", b))

	ok, err := m.VerifyPropagation("a", "b")
	require.NoError(t, err)
	assert.False(t, ok, "verification requires a positive base score")
}

func TestLockTimeout_AbortsOperation(t *testing.T) {
	m := newTestManager(t, WithLockTimeout(50*time.Millisecond))
	require.NoError(t, m.RegisterEntity("a", 0.8, nil))
	require.NoError(t, m.RegisterEntity("b", 0.6, nil))

	// Hold "a" directly so the manager's {a, b} acquisition times out.
	require.NoError(t, m.Locks().Acquire("a"))
	defer m.Locks().Release("a")

	b, _ := m.GetEntity("b")
	err := m.PropagateTrust("a", "b", b)
	require.Error(t, err)
	assert.True(t, trust.IsLockTimeout(err))

	// "b" must not be leaked: a fresh single-entity op succeeds.
	newScore := 0.5
	assert.NoError(t, m.UpdateEntity("b", &newScore, nil))
}

// =============================================================================
// Boundary registry and transaction log
// =============================================================================

func TestBoundaryRegistry(t *testing.T) {
	m := newTestManager(t)

	_, err := m.GetBoundary("prod")
	assert.Equal(t, trust.ErrCodeBoundaryNotFound, trust.CodeOf(err))

	require.NoError(t, m.RegisterBoundary(&trust.TrustBoundary{
		BoundaryID: "prod", RequiredScore: 0.75,
	}))
	require.NoError(t, m.RegisterBoundary(&trust.TrustBoundary{
		BoundaryID: "staging", RequiredScore: 0.5, AllowInheritance: true,
	}))

	b, err := m.GetBoundary("prod")
	require.NoError(t, err)
	assert.Equal(t, 0.75, b.RequiredScore)
	assert.Len(t, m.AllBoundaries(), 2)

	err = m.RegisterBoundary(&trust.TrustBoundary{BoundaryID: "bad", RequiredScore: 2.0})
	assert.Error(t, err)
}

func TestTransactionLog_RecordsTransitions(t *testing.T) {
	m := newTestManager(t)
	require.NoError(t, m.RegisterEntity("a", 0.8, nil))
	require.NoError(t, m.RegisterEntity("b", 0.6, nil))

	b, _ := m.GetEntity("b")
	txID, err := m.BeginPropagation("a", "b", b)
	require.NoError(t, err)
	_, err = m.ExecutePropagation(txID)
	require.NoError(t, err)

	b2, _ := m.GetEntity("b")
	tx2, err := m.BeginPropagation("a", "b", b2)
	require.NoError(t, err)
	require.NoError(t, m.RollbackPropagation(tx2))

	log := m.TransactionLog()
	require.Len(t, log, 4)
	assert.Equal(t, LogCreated, log[0].Event)
	assert.Equal(t, LogCompleted, log[1].Event)
	assert.Equal(t, LogCreated, log[2].Event)
	assert.Equal(t, LogRolledBack, log[3].Event)
	for _, entry := range log {
		assert.False(t, entry.Timestamp.IsZero())
	}
}

type capturingSink struct {
	entries []LogEntry
}

func (s *capturingSink) Append(entry LogEntry) error {
	s.entries = append(s.entries, entry)
	return nil
}

func TestLogSink_ReceivesEntries(t *testing.T) {
	sink := &capturingSink{}
	m := newTestManager(t, WithLogSink(sink))
	require.NoError(t, m.RegisterEntity("a", 0.8, nil))
	require.NoError(t, m.RegisterEntity("b", 0.6, nil))

	b, _ := m.GetEntity("b")
	txID, err := m.BeginPropagation("a", "b", b)
	require.NoError(t, err)
	_, err = m.ExecutePropagation(txID)
	require.NoError(t, err)

	require.Len(t, sink.entries, 2)
	assert.Equal(t, sink.entries, m.TransactionLog())
}

// =============================================================================
// Concurrency
// =============================================================================

func TestPropagateTrust_ConcurrentOverlappingPairs(t *testing.T) {
	m := NewManager()
	require.NoError(t, m.RegisterEntity("a", 0.8, nil))
	require.NoError(t, m.RegisterEntity("b", 0.6, nil))
	require.NoError(t, m.RegisterEntity("c", 0.4, nil))

	done := make(chan error, 100)
	for i := 0; i < 50; i++ {
		go func() {
			attrs, _ := m.GetEntity("b")
			done <- m.PropagateTrust("a", "b", attrs)
		}()
		go func() {
			attrs, _ := m.GetEntity("c")
			done <- m.PropagateTrust("b", "c", attrs)
		}()
	}
	for i := 0; i < 100; i++ {
		select {
		case err := <-done:
			assert.NoError(t, err)
		case <-time.After(10 * time.Second):
			t.Fatal("overlapping propagations deadlocked")
		}
	}
}
