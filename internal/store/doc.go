// Package store implements the merge store: the per-parent, deduplicated,
// ordered item list every source feeds into.
//
// Merge rules:
//   - Identity is the item ID, never delivery order
//   - First writer wins: a duplicate never replaces the stored copy
//   - Snapshots are ordered CreatedAt descending, ID ascending on ties
//
// Applying any permutation of the same events yields the same snapshot.
package store
