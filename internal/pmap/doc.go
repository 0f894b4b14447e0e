// Package pmap provides persistent (immutable, structurally shared) hash maps and sets.
//
// Map is a hash array mapped trie with path copying: every update returns a new
// Map that shares all untouched subtrees with its predecessor. The trie is kept
// in canonical form (a subtree never holds a single entry), so two maps with the
// same content built through different histories have the same shape. Diff
// exploits this by skipping pointer-identical subtrees, which keeps the cost of
// comparing two snapshots proportional to the size of their difference.
//
// Values of Map and Set are safe to share between goroutines without locking.
package pmap
