// Package store is the transactional data-access layer for the fleet
// entities: applications, devices, releases, services, images and
// service installs.
//
// All reads and writes go through a Tx obtained from
// Store.RunInTransaction. Mutations dispatch registered hooks before
// and after execution within the same transaction, so a hook failure
// rolls back the primary mutation along with every cascading write.
// Callbacks registered with Tx.OnCommit run only after a successful
// commit, outside the transaction boundary.
//
// Entity sets are addressed with filter expressions from
// internal/filter; the store compiles them to parameterized SQL against
// the SQLite backend.
package store
