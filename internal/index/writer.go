// Package index turns an aggregated coverage view into documents in the
// store, following the purge-then-write protocol for the working revision.
package index

import (
	"context"
	"log/slog"

	"github.com/coverquery/coverquery/internal/coverage"
	"github.com/coverquery/coverquery/internal/revision"
	"github.com/coverquery/coverquery/internal/store"
)

// DefaultBatchSize is the number of documents per bulk request.
const DefaultBatchSize = 1000

// Writer writes aggregated coverage into the document store.
type Writer struct {
	store     *store.Client
	batchSize int
	logger    *slog.Logger
}

// NewWriter creates a Writer. The logger may be nil.
func NewWriter(client *store.Client, logger *slog.Logger) *Writer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Writer{store: client, batchSize: DefaultBatchSize, logger: logger}
}

// RunMeta describes the run being indexed.
type RunMeta struct {
	Revision      string
	RunLabel      string
	TestFramework string
}

// EnsureIndex creates the index if it does not exist yet.
func (w *Writer) EnsureIndex(ctx context.Context) error {
	exists, err := w.store.IndexExists(ctx)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}
	w.logger.Info("creating coverage index", "index", w.store.Index())
	return w.store.CreateIndex(ctx)
}

// PurgeRevision removes all documents for one revision.
func (w *Writer) PurgeRevision(ctx context.Context, rev string) error {
	w.logger.Info("purging revision", "revision", rev)
	return w.store.DeleteByRevision(ctx, rev)
}

// WriteAggregation converts the aggregation into documents and bulk-writes
// them in batches. Returns the number of documents written.
func (w *Writer) WriteAggregation(ctx context.Context, agg *coverage.Aggregation, meta RunMeta) (int, error) {
	entries := agg.Entries()
	batch := make([]store.Document, 0, w.batchSize)
	written := 0

	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		if err := w.store.Bulk(ctx, batch); err != nil {
			return err
		}
		written += len(batch)
		batch = batch[:0]
		return nil
	}

	for _, e := range entries {
		batch = append(batch, store.Document{
			Filename:      e.Filename,
			Line:          e.Line,
			Revision:      meta.Revision,
			RunLabel:      meta.RunLabel,
			TestFramework: meta.TestFramework,
			Tests:         e.Tests,
		})
		if len(batch) >= w.batchSize {
			if err := flush(); err != nil {
				return written, err
			}
		}
	}
	if err := flush(); err != nil {
		return written, err
	}

	w.logger.Info("aggregation indexed",
		"documents", written, "revision", meta.Revision, "run_label", meta.RunLabel)
	return written, nil
}

// Index runs the full protocol: ensure the index exists, purge the working
// revision when rewriting it, then write the aggregation.
//
// The purge only happens for the working revision and only when the
// aggregation is non-empty: a run that observed no coverage must not wipe
// the previous working-tree view. Concrete revisions are append-only and
// never purged; the deterministic document IDs make rewrites idempotent.
func (w *Writer) Index(ctx context.Context, agg *coverage.Aggregation, meta RunMeta) (int, error) {
	if err := w.EnsureIndex(ctx); err != nil {
		return 0, err
	}
	if agg.Empty() {
		w.logger.Warn("no coverage observed, leaving index untouched",
			"revision", meta.Revision)
		return 0, nil
	}
	if meta.Revision == revision.Working {
		if err := w.PurgeRevision(ctx, meta.Revision); err != nil {
			return 0, err
		}
	}
	return w.WriteAggregation(ctx, agg, meta)
}
