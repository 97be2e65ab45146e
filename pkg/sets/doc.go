// Package sets provides generic set data structures used to track
// column and row identity sets without duplicate entries.
//
// Two implementations are kept, both satisfying Set[T]:
//
//   - hashSet (via NewHashSet/Of): unordered, backs Of's dedup helper
//   - linkedSet (via NewLinkedSet): insertion-ordered, used where
//     iteration order must match first-seen order
package sets
