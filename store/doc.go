// Package store provides a backend-agnostic document-database facade with
// document mirroring.
//
// Prism models data as schemaless documents (field maps) at slash-delimited
// paths, where an even number of segments addresses a document and an odd
// number a collection ("users" is a collection, "users/u1" a document). The
// concrete backend is a [driver.Conn] supplied at construction; the mem,
// dynamo, and gcpfirestore packages ship drivers, and swapping backends
// changes nothing above the driver boundary.
//
// # Key Features
//
//   - CRUD with backend-assigned ids and merge-style updates
//   - Immutable chainable query builder with cursors
//   - Atomic transactions with a reads-before-writes discipline
//   - Lazy, reference-counted live feeds over documents and queries
//   - Mirroring: replicate a document to alternate paths, transactionally
//     or best-effort in parallel
//   - Sentinel field transforms (increment, server timestamp, delete
//     field, array union/remove) applied atomically by the backend
//
// # Usage
//
//	conn := mem.New()
//	s := store.New(conn, store.DefaultConfig())
//
//	doc, err := s.Create(ctx, "users", store.Document{"name": "ada"})
//	...
//	err = s.Update(ctx, "users/"+doc["id"].(string), store.Document{
//	    "visits": store.Increment(1),
//	})
//
// # Errors
//
// Failed operations are logged with their op, path, and payload, and the
// cause is wrapped, never retyped: errors.Is and errors.As see the original
// error. The package-level sentinels are:
//
//   - [ErrNotFound] - update target, mirror primary, or cursor document absent
//   - [ErrInvalidPath] - malformed document or collection path
//   - [ErrReadAfterWrite] - transactional read after the first staged write
//   - [ErrConflict] - transaction lost to concurrent modification
//   - [ErrUnsupported] - sentinel or operator outside the backend's
//     capability
//   - [PartialError] - some paths of a Mirror or MultiUpdate failed
package store
