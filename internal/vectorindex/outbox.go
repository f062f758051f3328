package vectorindex

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/otel/metric"

	"github.com/aris-project/aris/internal/telemetry"
)

// outboxEntry represents a single row from the vector_outbox table.
type outboxEntry struct {
	ID         int64
	DocumentID uuid.UUID
	TopicID    uuid.UUID
	Operation  string
	Attempts   int
}

// documentForIndex holds the fields needed to build a Qdrant point,
// populated by the outbox worker directly from Postgres.
type documentForIndex struct {
	ID        uuid.UUID
	TopicID   uuid.UUID
	Slug      string
	Status    string
	Tags      []string
	Embedding []float32
}

// OutboxWorker polls the vector_outbox table and syncs changes to Qdrant.
// Adapted from akashi's search.OutboxWorker: same poll/lock/drain lifecycle,
// retargeted to the documents table.
type OutboxWorker struct {
	pool         *pgxpool.Pool
	index        *Index
	logger       *slog.Logger
	pollInterval time.Duration
	batchSize    int

	started    atomic.Bool
	cancelLoop context.CancelFunc
	done       chan struct{}
	once       sync.Once
	drainOnce  sync.Once
	drainCh    chan context.Context
}

// NewOutboxWorker creates a new outbox worker.
func NewOutboxWorker(pool *pgxpool.Pool, index *Index, logger *slog.Logger, pollInterval time.Duration, batchSize int) *OutboxWorker {
	return &OutboxWorker{
		pool:         pool,
		index:        index,
		logger:       logger,
		pollInterval: pollInterval,
		batchSize:    batchSize,
		done:         make(chan struct{}),
		drainCh:      make(chan context.Context, 1),
	}
}

// Start begins the background poll loop. Safe to call only once;
// subsequent calls are no-ops and log a warning.
func (w *OutboxWorker) Start(ctx context.Context) {
	if !w.started.CompareAndSwap(false, true) {
		w.logger.Warn("vector outbox: Start called more than once, ignoring")
		return
	}
	w.registerMetrics()
	loopCtx, cancel := context.WithCancel(ctx)
	w.cancelLoop = cancel
	go w.pollLoop(loopCtx)
}

// Drain signals the poll loop to stop, processes remaining entries, and
// blocks until done or ctx expires. Safe to call multiple times; only the
// first call triggers the drain.
func (w *OutboxWorker) Drain(ctx context.Context) {
	w.drainOnce.Do(func() {
		sendCtx, sendCancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
		select {
		case w.drainCh <- ctx:
		case <-sendCtx.Done():
			w.logger.Warn("vector outbox: drain context channel busy, final poll will use fallback timeout")
		}
		sendCancel()
		if w.cancelLoop != nil {
			w.cancelLoop()
		}
	})
	select {
	case <-w.done:
	case <-ctx.Done():
		w.logger.Warn("vector outbox: drain timed out")
	}
}

func (w *OutboxWorker) pollLoop(ctx context.Context) {
	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			var drainCtx context.Context
			select {
			case drainCtx = <-w.drainCh:
			default:
			}
			if drainCtx != nil {
				w.processBatch(drainCtx)
			} else {
				fallbackCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				w.processBatch(fallbackCtx)
				cancel()
			}
			w.once.Do(func() { close(w.done) })
			return
		case <-ticker.C:
			batchCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
			w.processBatch(batchCtx)
			cancel()
		}
	}
}

// maxOutboxAttempts bounds retries before an entry is left for ops to
// investigate (it stops being retried but is not deleted).
const maxOutboxAttempts = 10

func (w *OutboxWorker) processBatch(ctx context.Context) {
	if w.pool == nil || w.index == nil {
		w.logger.Warn("vector outbox: skipping batch, pool or index is nil")
		return
	}

	tx, err := w.pool.Begin(ctx)
	if err != nil {
		w.logger.Error("vector outbox: begin tx", "error", err)
		return
	}
	defer func() { _ = tx.Rollback(ctx) }()

	rows, err := tx.Query(ctx,
		`SELECT id, document_id, topic_id, operation, attempts
		 FROM vector_outbox
		 WHERE (locked_until IS NULL OR locked_until < now())
		   AND attempts < $1
		 ORDER BY created_at ASC
		 LIMIT $2
		 FOR UPDATE SKIP LOCKED`,
		maxOutboxAttempts, w.batchSize,
	)
	if err != nil {
		w.logger.Error("vector outbox: select pending", "error", err)
		return
	}

	entries, err := scanOutboxEntries(rows)
	if err != nil {
		w.logger.Error("vector outbox: scan entries", "error", err)
		return
	}
	if len(entries) == 0 {
		return
	}

	entryIDs := make([]int64, len(entries))
	for i, e := range entries {
		entryIDs[i] = e.ID
	}
	if _, err := tx.Exec(ctx,
		`UPDATE vector_outbox SET locked_until = now() + interval '60 seconds' WHERE id = ANY($1)`,
		entryIDs,
	); err != nil {
		w.logger.Error("vector outbox: lock entries", "error", err)
		return
	}

	if err := tx.Commit(ctx); err != nil {
		w.logger.Error("vector outbox: commit lock", "error", err)
		return
	}

	var upserts, deletes []outboxEntry
	for _, e := range entries {
		switch e.Operation {
		case "upsert":
			upserts = append(upserts, e)
		case "delete":
			deletes = append(deletes, e)
		}
	}

	if len(upserts) > 0 {
		w.processUpserts(ctx, upserts)
	}
	if len(deletes) > 0 {
		w.processDeletes(ctx, deletes)
	}
}

func (w *OutboxWorker) processUpserts(ctx context.Context, entries []outboxEntry) {
	ids := make([]uuid.UUID, len(entries))
	for i, e := range entries {
		ids[i] = e.DocumentID
	}

	docs, err := w.fetchDocumentsForIndex(ctx, ids)
	if err != nil {
		w.logger.Error("vector outbox: fetch documents", "error", err, "count", len(ids))
		w.failEntries(ctx, entries, err.Error())
		return
	}

	readyEntries, readyDocs, pendingEntries := partitionUpsertEntries(entries, docs)

	if len(readyEntries) > 0 {
		points := make([]Point, 0, len(readyDocs))
		for _, d := range readyDocs {
			points = append(points, Point{
				ID:        d.ID,
				TopicID:   d.TopicID,
				Slug:      d.Slug,
				Status:    d.Status,
				Tags:      d.Tags,
				Embedding: d.Embedding,
			})
		}

		if err := w.index.Upsert(ctx, points); err != nil {
			w.logger.Error("vector outbox: qdrant upsert", "error", err, "count", len(points))
			w.failEntries(ctx, readyEntries, err.Error())
		} else {
			w.succeedEntries(ctx, readyEntries)
			w.logger.Info("vector outbox: upserted", "count", len(points))
		}
	}

	if len(pendingEntries) > 0 {
		var toDefer, toFail []outboxEntry
		for _, e := range pendingEntries {
			if e.Attempts >= maxOutboxAttempts-1 {
				toFail = append(toFail, e)
			} else {
				toDefer = append(toDefer, e)
			}
		}
		if len(toFail) > 0 {
			w.failEntries(ctx, toFail, "document not ready after max defer cycles (missing embedding or not found)")
		}
		if len(toDefer) > 0 {
			w.deferPendingEntries(ctx, toDefer, "document not ready for indexing (missing embedding or not found)")
		}
	}
}

func (w *OutboxWorker) processDeletes(ctx context.Context, entries []outboxEntry) {
	ids := make([]uuid.UUID, len(entries))
	for i, e := range entries {
		ids[i] = e.DocumentID
	}

	if err := w.index.DeleteByIDs(ctx, ids); err != nil {
		w.logger.Error("vector outbox: qdrant delete", "error", err, "count", len(ids))
		w.failEntries(ctx, entries, err.Error())
		return
	}

	w.succeedEntries(ctx, entries)
	w.logger.Info("vector outbox: deleted", "count", len(ids))
}

func (w *OutboxWorker) succeedEntries(ctx context.Context, entries []outboxEntry) {
	ids := make([]int64, len(entries))
	for i, e := range entries {
		ids[i] = e.ID
	}
	if _, err := w.pool.Exec(ctx, `DELETE FROM vector_outbox WHERE id = ANY($1)`, ids); err != nil {
		w.logger.Error("vector outbox: delete completed entries", "error", err)
	}
}

func (w *OutboxWorker) deferPendingEntries(ctx context.Context, entries []outboxEntry, errMsg string) {
	ids := make([]int64, len(entries))
	for i, e := range entries {
		ids[i] = e.ID
	}
	if _, err := w.pool.Exec(ctx,
		`UPDATE vector_outbox
		 SET attempts = attempts + 1,
		     last_error = $1,
		     locked_until = now() + interval '30 minutes'
		 WHERE id = ANY($2)`,
		errMsg, ids,
	); err != nil {
		w.logger.Error("vector outbox: defer pending entries", "error", err)
	}
}

func (w *OutboxWorker) failEntries(ctx context.Context, entries []outboxEntry, errMsg string) {
	ids := make([]int64, len(entries))
	for i, e := range entries {
		ids[i] = e.ID
	}
	// Exponential backoff, capped at 5 minutes, to avoid tight retry loops
	// during a Qdrant outage.
	if _, err := w.pool.Exec(ctx,
		`UPDATE vector_outbox
		 SET attempts = attempts + 1,
		     last_error = $1,
		     locked_until = now() + LEAST(POWER(2, attempts + 1), 300) * interval '1 second'
		 WHERE id = ANY($2)`,
		errMsg, ids,
	); err != nil {
		w.logger.Error("vector outbox: update failed entries", "error", err)
	}

	for _, e := range entries {
		if e.Attempts+1 >= maxOutboxAttempts {
			w.logger.Warn("vector outbox: dead-letter entry",
				"outbox_id", e.ID, "document_id", e.DocumentID, "operation", e.Operation, "attempts", e.Attempts+1)
		}
	}
}

func (w *OutboxWorker) fetchDocumentsForIndex(ctx context.Context, ids []uuid.UUID) ([]documentForIndex, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	rows, err := w.pool.Query(ctx,
		`SELECT id, topic_id, slug, status, tags, embedding
		 FROM documents
		 WHERE id = ANY($1) AND embedding IS NOT NULL`,
		ids,
	)
	if err != nil {
		return nil, fmt.Errorf("vector outbox: query documents: %w", err)
	}
	defer rows.Close()

	var results []documentForIndex
	for rows.Next() {
		var d documentForIndex
		if err := rows.Scan(&d.ID, &d.TopicID, &d.Slug, &d.Status, &d.Tags, &d.Embedding); err != nil {
			return nil, fmt.Errorf("vector outbox: scan document: %w", err)
		}
		results = append(results, d)
	}
	return results, rows.Err()
}

// registerMetrics registers an observable OTEL gauge for outbox depth.
func (w *OutboxWorker) registerMetrics() {
	meter := telemetry.Meter("aris/outbox")

	_, _ = meter.Int64ObservableGauge("aris.outbox.depth",
		metric.WithDescription("Estimated pending entries in the vector outbox (via pg_class.reltuples)"),
		metric.WithInt64Callback(func(ctx context.Context, o metric.Int64Observer) error {
			var estimate float64
			err := w.pool.QueryRow(ctx,
				`SELECT reltuples FROM pg_class WHERE relname = 'vector_outbox'`,
			).Scan(&estimate)
			if err != nil {
				return nil
			}
			if estimate < 0 {
				estimate = 0
			}
			o.Observe(int64(estimate))
			return nil
		}),
	)
}

func scanOutboxEntries(rows pgx.Rows) ([]outboxEntry, error) {
	defer rows.Close()
	var entries []outboxEntry
	for rows.Next() {
		var e outboxEntry
		if err := rows.Scan(&e.ID, &e.DocumentID, &e.TopicID, &e.Operation, &e.Attempts); err != nil {
			return nil, fmt.Errorf("vector outbox: scan entry: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// partitionUpsertEntries splits outbox entries by whether the backing
// document row is ready for indexing (present and has an embedding).
func partitionUpsertEntries(entries []outboxEntry, docs []documentForIndex) ([]outboxEntry, []documentForIndex, []outboxEntry) {
	byID := make(map[uuid.UUID]documentForIndex, len(docs))
	for _, d := range docs {
		byID[d.ID] = d
	}

	readyEntries := make([]outboxEntry, 0, len(entries))
	readyDocs := make([]documentForIndex, 0, len(entries))
	pendingEntries := make([]outboxEntry, 0)
	for _, e := range entries {
		d, ok := byID[e.DocumentID]
		if !ok {
			pendingEntries = append(pendingEntries, e)
			continue
		}
		readyEntries = append(readyEntries, e)
		readyDocs = append(readyDocs, d)
	}
	return readyEntries, readyDocs, pendingEntries
}
