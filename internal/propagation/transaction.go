package propagation

import (
	"time"

	"github.com/veriton/trustgraph/internal/trust"
)

// Status is the transaction state machine:
//
//	pending → executing → {completed | failed}
//	{failed | executing | pending} → rolling_back → {rolled_back | rollback_failed}
//
// completed, rolled_back, and rollback_failed are terminal.
type Status string

const (
	StatusPending        Status = "pending"
	StatusExecuting      Status = "executing"
	StatusCompleted      Status = "completed"
	StatusFailed         Status = "failed"
	StatusRollingBack    Status = "rolling_back"
	StatusRolledBack     Status = "rolled_back"
	StatusRollbackFailed Status = "rollback_failed"
)

// transitions enumerates the permitted moves. Absence means forbidden.
var transitions = map[Status][]Status{
	StatusPending:     {StatusExecuting, StatusRollingBack},
	StatusExecuting:   {StatusCompleted, StatusFailed, StatusRollingBack},
	StatusFailed:      {StatusRollingBack},
	StatusRollingBack: {StatusRolledBack, StatusRollbackFailed},
}

// CanTransitionTo reports whether the state machine permits moving from s
// to next.
func (s Status) CanTransitionTo(next Status) bool {
	for _, allowed := range transitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Terminal reports whether no further transitions are possible.
func (s Status) Terminal() bool {
	return len(transitions[s]) == 0
}

// Transaction describes one two-phase propagation from SourceID to TargetID.
//
// Attributes is the target attribute snapshot supplied at Begin time; Execute
// derives the new target attributes from it and the source's current state.
// VerificationResult is meaningful only once Status has left executing.
type Transaction struct {
	ID                 string                `json:"transaction_id"`
	SourceID           string                `json:"source_id"`
	TargetID           string                `json:"target_id"`
	Attributes         *trust.TrustAttribute `json:"attributes"`
	Status             Status                `json:"status"`
	Timestamp          time.Time             `json:"timestamp"`
	VerificationResult bool                  `json:"verification_result"`
}

// Clone returns a deep copy for handing out to callers.
func (t *Transaction) Clone() *Transaction {
	if t == nil {
		return nil
	}
	out := *t
	out.Attributes = t.Attributes.Clone()
	return &out
}
