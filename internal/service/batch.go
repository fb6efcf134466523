package service

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"adsync/internal/repository"
)

// BatchOutcome aggregates write accounting across chunks. The store cannot
// distinguish an insert from a conflict overwrite, so every written row is
// reported as inserted and Updated stays 0.
type BatchOutcome struct {
	Inserted int `json:"inserted"`
	Updated  int `json:"updated"`
	Failed   int `json:"failed"`
}

func (o BatchOutcome) Processed() int {
	return o.Inserted + o.Updated + o.Failed
}

func (o *BatchOutcome) Add(other BatchOutcome) {
	o.Inserted += other.Inserted
	o.Updated += other.Updated
	o.Failed += other.Failed
}

// RowBatchError wraps a store-level chunk rejection. It is isolated to the
// chunk: the rows are counted failed and processing continues.
type RowBatchError struct {
	Collection string
	Rows       int
	Err        error
}

func (e *RowBatchError) Error() string {
	return fmt.Sprintf("upsert chunk of %d rows into %s failed: %v", e.Rows, e.Collection, e.Err)
}

func (e *RowBatchError) Unwrap() error {
	return e.Err
}

const (
	defaultChunkSize = 1000
	maxChunkSize     = 2000
)

// BatchUpserter writes record collections in bounded chunks so single store
// calls stay under payload/row limits.
type BatchUpserter struct {
	Store     repository.BatchStore
	Logger    *zap.Logger
	ChunkSize int
}

func (e *BatchUpserter) chunkSize() int {
	if e == nil || e.ChunkSize <= 0 {
		return defaultChunkSize
	}
	if e.ChunkSize > maxChunkSize {
		return maxChunkSize
	}
	return e.ChunkSize
}

// UpsertChunked applies rows to their collection via conflict-key upsert,
// one chunk per store call. A failed chunk marks its whole row count failed
// and never aborts the remaining chunks. Empty input is a no-op. Callers
// must pre-deduplicate by conflict key within one call; two rows sharing a
// key in the same call have undefined ordering.
func UpsertChunked[T any](ctx context.Context, e *BatchUpserter, collection string, rows []T, conflictColumns []string) BatchOutcome {
	var out BatchOutcome
	if e == nil || e.Store == nil || len(rows) == 0 {
		return out
	}
	size := e.chunkSize()
	for start := 0; start < len(rows); start += size {
		end := start + size
		if end > len(rows) {
			end = len(rows)
		}
		chunk := rows[start:end]
		written, err := e.Store.UpsertRows(ctx, chunk, conflictColumns)
		if err != nil {
			out.Failed += len(chunk)
			if e.Logger != nil {
				e.Logger.Warn("chunk upsert failed",
					zap.String("collection", collection),
					zap.Error(&RowBatchError{Collection: collection, Rows: len(chunk), Err: err}))
			}
			continue
		}
		if written <= 0 {
			written = int64(len(chunk))
		}
		out.Inserted += int(written)
	}
	return out
}
