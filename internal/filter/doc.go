// Package filter defines the relational filter expression tree used to
// address entity sets in the data store.
//
// An expression is built from equality, membership, null and
// existential predicates and compiles to a parameterized SQL WHERE
// clause. The same tree has a stable JSON encoding so a filter can be
// shipped to the device control plane as the body of an update
// notification.
//
// The Expr interface is sealed: only types in this package implement
// it, which keeps the compiler's type switch exhaustive.
package filter
