// Package propagation implements the propagation manager: the entity
// attribute store, direct trust propagation, the two-phase transactional
// propagation protocol, the boundary registry, and the transaction log.
//
// CONCURRENCY MODEL:
//
// Shared state lives in maps guarded by one registry mutex; logical
// operations on entity state additionally take per-entity locks from the
// lock table (package lockset). Multi-entity operations always acquire
// entity locks in ascending sorted id order and release in descending
// order - see the lockset package doc for the full contract.
//
// Transactions hold no locks between Begin and Execute: Begin only
// validates and records the pending transaction, so a transaction can be
// started, described, and inspected without blocking any entity. Only
// Execute and Rollback take entity locks, and both are short, bounded
// critical sections with no mid-flight cancellation.
package propagation
