// Package storage persists templates, the projects and tasks generated from
// them, and a log of generation runs.
//
// Two drivers are available:
//   - "file": a JSON snapshot written atomically (temp file + rename) through
//     an afero filesystem, plus an append-only runs journal
//   - "sqlite": a SQLite database (modernc.org/sqlite, no cgo)
//
// CommitGeneration is all-or-nothing and guarded by an optimistic
// check-and-set on the template's last-generated marker, so two triggers
// racing on the same template persist at most one generation.
package storage
