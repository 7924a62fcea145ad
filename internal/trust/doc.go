// Package trust defines the value types shared by the propagation engine:
// trust attributes, boundaries, and the structured error taxonomy.
//
// Types in this package carry no behavior beyond validation and copying.
// All mutation and locking lives in the propagation, inheritance, and
// integration packages.
package trust
