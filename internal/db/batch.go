package db

import (
	"runtime"

	"golang.org/x/sync/errgroup"
)

// BatchEntry is one vector in a batch upsert.
type BatchEntry struct {
	ID       string         `json:"id"`
	Vector   []float32      `json:"vector"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// BatchItemError reports why a single entry failed.
type BatchItemError struct {
	ID    string `json:"id"`
	Error string `json:"error"`
}

// BatchResult enumerates the outcome of every entry in a batch. A failing
// entry never aborts the remainder.
type BatchResult struct {
	Succeeded []string         `json:"succeeded"`
	Failed    []BatchItemError `json:"failed,omitempty"`
}

// UpsertBatch applies entries as individual upserts with bounded
// parallelism across ids. Per-id atomicity holds exactly as for Upsert; two
// batch entries sharing an id land in submission-independent order.
func (c *Collection) UpsertBatch(entries []BatchEntry) *BatchResult {
	outcomes := make([]error, len(entries))

	var g errgroup.Group
	g.SetLimit(runtime.GOMAXPROCS(0))
	for i, entry := range entries {
		i, entry := i, entry
		g.Go(func() error {
			outcomes[i] = c.Upsert(entry.ID, entry.Vector, entry.Metadata)
			return nil
		})
	}
	// Workers report through outcomes; the group never carries an error.
	_ = g.Wait()

	result := &BatchResult{}
	for i, entry := range entries {
		if outcomes[i] != nil {
			result.Failed = append(result.Failed, BatchItemError{ID: entry.ID, Error: outcomes[i].Error()})
		} else {
			result.Succeeded = append(result.Succeeded, entry.ID)
		}
	}
	return result
}
