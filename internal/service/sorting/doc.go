// Package sorting produces the single total call order for a bucket by
// merging the external priority-score feed with a deterministic fallback
// order, and persists it as sort_order on the staged population.
package sorting
