// Package entitymeta provides a generic object-to-row persistence layer for
// the portal's business entities.
//
// Each entity kind is described by a static Declaration: a translation table
// between object property names and storage-level keys, the identifier
// property, a default table name and discriminator value, and the set of
// properties that must be re-parsed as dates on read. Declarations are
// registered once at process start and never mutated.
//
// A Provider implements the storage contract (point lookups, insert-only
// creates, overwrite updates, deletes and named fixed queries) against a
// concrete backend. The PostgreSQL provider is the production backend; a
// SQLite provider exists for local development. Fixed queries are resolved
// through a per-backend registry so an entity package can declare its query
// shapes once and have them built for whichever backend is active.
package entitymeta
