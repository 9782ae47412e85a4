// Package migration coordinates applying migrations from several independent
// sources to a single database.
//
// Features:
// - Parses timestamped migration identifiers (`{yyyyMMddHHmmssFFF}_{Name}`)
// - Merges pending migrations of all sources into one plan ordered by creation
// time, with ties broken by source priority
// - Applies the plan in batches, one Update call per contiguous run of a source
// - Records skipped migrations in the history table without running them
package migration
