// Package aggregate merges per-category specialist output into one ordered
// evidence sequence.
package aggregate

import (
	"deepresearch/internal/types"
)

// Aggregate concatenates per-category records in category declaration order.
// Categories outside the known set are ignored. The result depends only on
// the input, never on branch completion order, and the input is not modified.
func Aggregate(results map[types.Category][]types.Record) types.Evidence {
	total := 0
	for _, recs := range results {
		total += len(recs)
	}

	out := make(types.Evidence, 0, total)
	for _, c := range types.AllCategories() {
		out = append(out, results[c]...)
	}
	return out
}

// AggregateNested flattens per-item record sequences before aggregating.
func AggregateNested(results map[types.Category][][]types.Record) types.Evidence {
	flat := make(map[types.Category][]types.Record, len(results))
	for c, groups := range results {
		flat[c] = Flatten(groups)
	}
	return Aggregate(flat)
}

// Flatten joins nested record sequences, preserving order.
func Flatten(groups [][]types.Record) []types.Record {
	var out []types.Record
	for _, g := range groups {
		out = append(out, g...)
	}
	return out
}
