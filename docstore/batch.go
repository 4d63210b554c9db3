package docstore

import (
	"context"
	"fmt"
)

// MaxBatchItems is the physical transport's cap on operations per
// transactional batch. Logical batches larger than this are split into
// ordered physical chunks by RunBatch.
const MaxBatchItems = 100

// BatchResult reports how a logical batch was executed.
type BatchResult struct {
	Chunks    int // physical chunks the logical batch was split into
	Committed int // chunks that committed before the first failure
}

// BatchError is returned when a physical chunk of a logical batch fails.
// Chunks committed before the failure stay committed; there is no
// compensation path, so the caller is left to retry the whole operation.
type BatchError struct {
	Result BatchResult
	Err    error
}

func (e *BatchError) Error() string {
	return fmt.Sprintf("batch failed after %d/%d committed chunks: %v", e.Result.Committed, e.Result.Chunks, e.Err)
}

func (e *BatchError) Unwrap() error { return e.Err }

// Split divides ops into ordered chunks of at most max operations each.
func Split(ops []Operation, max int) [][]Operation {
	if max <= 0 {
		max = MaxBatchItems
	}
	var chunks [][]Operation
	for len(ops) > max {
		chunks = append(chunks, ops[:max])
		ops = ops[max:]
	}
	if len(ops) > 0 {
		chunks = append(chunks, ops)
	}
	return chunks
}

// RunBatch executes a logical batch against one container, splitting it
// into capped physical chunks and running them in order. On failure the
// returned BatchError reports exactly which chunks committed.
func RunBatch(ctx context.Context, c Container, ops []Operation) (BatchResult, error) {
	chunks := Split(ops, MaxBatchItems)
	res := BatchResult{Chunks: len(chunks)}
	for _, chunk := range chunks {
		if err := c.Execute(ctx, chunk); err != nil {
			return res, &BatchError{Result: res, Err: err}
		}
		res.Committed++
	}
	return res, nil
}
