// Package speciesmedia provides the catalog and media-generation core for an
// admin-managed gallery of extinct species.
//
// The package owns three concerns:
//
//   - CRUD over species records, grouped into importable lists, with CSV
//     import/export.
//   - The media generation lifecycle: a concurrency-limited orchestrator that
//     drives an external generative provider to completion, persists the
//     resulting asset into object storage, and records it as an immutable
//     numbered version.
//   - Reconciliation sweeps that repair species whose generation status has
//     gone stale.
//
// Storage backends, the relational repository, and the generative provider
// are pluggable through interfaces; see the repo, storage, and provider
// subpackages for implementations.
package speciesmedia
