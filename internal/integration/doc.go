// Package integration orchestrates the propagation manager and the
// inheritance handler. It is the only place the two stores meet: entity
// and relationship registration go through it, cycle detection runs here
// before any edge mutation, complete ancestor chains are rebuilt here, and
// the mandatory synchronization pass after every structural change keeps
// the stores reconciled.
//
// The two stores have no shared commit protocol. The integrator never
// assumes atomicity across them; it compensates (edge removal after a
// failed propagation) and reconciles (SynchronizeAttributes) instead.
package integration
