// Package core loads tabular data packages into a relational store.
//
// It holds the loading logic independent of any transport, so the CLI, the
// HTTP server and tests all drive the same [Service].
//
// # Flow
//
// For each resource of a package, in declaration order:
//
//  1. The resource schema becomes a [schema.TableDefinition]. Schema
//     problems fail the resource before the store is touched.
//  2. [Materialize] creates the table, or checks that an existing table can
//     take the rows. An incompatible table is never altered.
//  3. The [Importer] streams the CSV file in batches of
//     [config.LoadConfig.BatchSize] rows, so memory stays bounded by the
//     batch, not the file.
//
// Resource failures are recorded in the [LoadReport] and the run moves on to
// the next resource. Only an unreachable store stops a run.
//
// # Row level problems
//
// A value that cannot be read as its declared type is stored as null and
// reported as a [RowCoercionWarning]. A record with the wrong number of
// fields is skipped. When the store rejects a batch the rows are retried one
// by one, so a single bad row only costs itself.
//
// # Background loads
//
// [Loads] runs packages in the background for the HTTP server, bounded by a
// [LoadLimiter], and keeps their progress and reports for a while after they
// finish.
//
// # Error Handling
//
// Errors map to short user messages with a support code through [MapError].
package core
