// Package bundler implements the prompt bundler: it groups a flat list
// of homogeneous language operations by (kind, dimension) and splits each
// group into batches bounded by maxBatchSize.
package bundler

import "time"

// Kind identifies the language operation being bundled.
type Kind string

const (
	KindExpandWhat Kind = "expand-what"
	KindExpandHow  Kind = "expand-how"
	KindCombine    Kind = "combine"
)

// Operation is one unit of language work to be bundled.
type Operation struct {
	ID        string
	Kind      Kind
	Dimension string // relevant to expand-* kinds; ignored for combine
	Payload   any
}

// Batch is a group of operations sharing (Kind, Dimension), capped at
// maxBatchSize.
type Batch struct {
	Kind       Kind
	Dimension  string
	Operations []Operation
}

// Metadata describes the bundling run.
type Metadata struct {
	TotalOperations int
	TotalBatches    int
	BundledAt       time.Time
}

// Result is the result of grouping and batching a flat operation list.
type Result struct {
	Batches  []Batch
	Metadata Metadata

	byID map[string]Operation
}

// Lookup returns the operation with the given id, and whether it was found.
// Callers use this to resolve per-operation results after submitting
// batches.
func (b *Result) Lookup(id string) (Operation, bool) {
	op, ok := b.byID[id]
	return op, ok
}

type groupKey struct {
	kind Kind
	dim  string
}

// Bundle groups ops by (kind, dimension), preserving operation order within
// each group, and splits each group into batches of at most maxBatchSize.
func Bundle(ops []Operation, maxBatchSize int) *Result {
	if maxBatchSize <= 0 {
		maxBatchSize = 1
	}

	var order []groupKey
	groups := make(map[groupKey][]Operation)
	byID := make(map[string]Operation, len(ops))

	for _, op := range ops {
		byID[op.ID] = op
		key := groupKey{kind: op.Kind, dim: op.Dimension}
		if _, seen := groups[key]; !seen {
			order = append(order, key)
		}
		groups[key] = append(groups[key], op)
	}

	var batches []Batch
	for _, key := range order {
		opsInGroup := groups[key]
		for start := 0; start < len(opsInGroup); start += maxBatchSize {
			end := start + maxBatchSize
			if end > len(opsInGroup) {
				end = len(opsInGroup)
			}
			chunk := make([]Operation, end-start)
			copy(chunk, opsInGroup[start:end])
			batches = append(batches, Batch{Kind: key.kind, Dimension: key.dim, Operations: chunk})
		}
	}

	return &Result{
		Batches: batches,
		Metadata: Metadata{
			TotalOperations: len(ops),
			TotalBatches:    len(batches),
			BundledAt:       time.Now(),
		},
		byID: byID,
	}
}
