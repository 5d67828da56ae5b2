package postgres

import (
	"context"
	"strings"

	"github.com/pgvector/pgvector-go"
	"github.com/pkg/errors"

	"github.com/lembraai/lembra/store"
)

// CreateConsolidatedMemory writes a summary and back-links its sources in
// one transaction. A source item that is already covered by any summary
// rejects the whole write, which keeps source sets disjoint.
func (d *DB) CreateConsolidatedMemory(ctx context.Context, create *store.ConsolidatedMemory, embedding []float32) (*store.ConsolidatedMemory, error) {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, errors.Wrap(err, "failed to begin transaction")
	}
	defer func() { _ = tx.Rollback() }()

	args := []any{create.OwnerID}
	in := make([]string, len(create.SourceItemIDs))
	for i, id := range create.SourceItemIDs {
		args = append(args, id)
		in[i] = placeholder(len(args))
	}
	// Lock the source rows, then reject if any is already covered.
	takenRows, err := tx.QueryContext(ctx, `
		SELECT id FROM memory_item
		WHERE owner_id = $1 AND id IN (`+strings.Join(in, ", ")+`) AND consolidated_id IS NOT NULL
		FOR UPDATE`, args...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to check source items")
	}
	var taken []int64
	for takenRows.Next() {
		var id int64
		if err := takenRows.Scan(&id); err != nil {
			takenRows.Close()
			return nil, errors.Wrap(err, "failed to scan source item id")
		}
		taken = append(taken, id)
	}
	takenRows.Close()
	if err := takenRows.Err(); err != nil {
		return nil, errors.Wrap(err, "failed to iterate source items")
	}
	if len(taken) > 0 {
		return nil, errors.Errorf("source items already consolidated: %v", taken)
	}

	err = tx.QueryRowContext(ctx, `
		INSERT INTO consolidated_memory (uid, owner_id, topic, period_start, period_end, source_count, source_item_ids, summary, avg_intensity, avg_tension, avg_depth, created_ts, embedding)
		VALUES (`+placeholders(13)+`)
		RETURNING id`,
		create.UID, create.OwnerID, create.Topic, create.PeriodStart, create.PeriodEnd,
		create.SourceCount, joinIDs(create.SourceItemIDs), create.Summary,
		create.AvgIntensity, create.AvgTension, create.AvgDepth, create.CreatedTs,
		pgvector.NewVector(embedding),
	).Scan(&create.ID)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create consolidated memory")
	}

	linkArgs := []any{create.ID, create.OwnerID}
	linkIn := make([]string, len(create.SourceItemIDs))
	for i, id := range create.SourceItemIDs {
		linkArgs = append(linkArgs, id)
		linkIn[i] = placeholder(len(linkArgs))
	}
	if _, err := tx.ExecContext(ctx, `
		UPDATE memory_item SET consolidated_id = $1
		WHERE owner_id = $2 AND id IN (`+strings.Join(linkIn, ", ")+`)`, linkArgs...,
	); err != nil {
		return nil, errors.Wrap(err, "failed to back-link source items")
	}

	if err := tx.Commit(); err != nil {
		return nil, errors.Wrap(err, "failed to commit consolidated memory")
	}
	return create, nil
}

func (d *DB) ListConsolidatedMemories(ctx context.Context, find *store.FindConsolidatedMemory) ([]*store.ConsolidatedMemory, error) {
	where, args := []string{"TRUE"}, []any{}
	if v := find.ID; v != nil {
		where, args = append(where, "id = "+placeholder(len(args)+1)), append(args, *v)
	}
	if v := find.OwnerID; v != nil {
		where, args = append(where, "owner_id = "+placeholder(len(args)+1)), append(args, *v)
	}
	if v := find.Topic; v != nil {
		where, args = append(where, "topic = "+placeholder(len(args)+1)), append(args, *v)
	}

	query := `
		SELECT id, uid, owner_id, topic, period_start, period_end, source_count, source_item_ids, summary, avg_intensity, avg_tension, avg_depth, created_ts
		FROM consolidated_memory
		WHERE ` + strings.Join(where, " AND ") + `
		ORDER BY created_ts DESC`
	if find.Limit > 0 {
		args = append(args, find.Limit)
		query += " LIMIT " + placeholder(len(args))
	}

	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list consolidated memories")
	}
	defer rows.Close()

	var list []*store.ConsolidatedMemory
	for rows.Next() {
		var cm store.ConsolidatedMemory
		var sourceIDs string
		if err := rows.Scan(
			&cm.ID, &cm.UID, &cm.OwnerID, &cm.Topic, &cm.PeriodStart, &cm.PeriodEnd,
			&cm.SourceCount, &sourceIDs, &cm.Summary,
			&cm.AvgIntensity, &cm.AvgTension, &cm.AvgDepth, &cm.CreatedTs,
		); err != nil {
			return nil, errors.Wrap(err, "failed to scan consolidated memory")
		}
		cm.SourceItemIDs = splitIDs(sourceIDs)
		list = append(list, &cm)
	}
	return list, errors.Wrap(rows.Err(), "failed to iterate consolidated memories")
}

// VectorSearchConsolidated ranks summaries by cosine similarity using the
// pgvector distance operator, owner-scoped in SQL.
func (d *DB) VectorSearchConsolidated(ctx context.Context, opts *store.VectorSearchOptions) ([]*store.ConsolidatedMemoryWithScore, error) {
	rows, err := d.db.QueryContext(ctx, `
		SELECT id, uid, owner_id, topic, period_start, period_end, source_count, source_item_ids, summary, avg_intensity, avg_tension, avg_depth, created_ts,
			1 - (embedding <=> $1) AS score
		FROM consolidated_memory
		WHERE owner_id = $2
		ORDER BY score DESC
		LIMIT $3`,
		pgvector.NewVector(opts.Vector), opts.OwnerID, opts.Limit,
	)
	if err != nil {
		return nil, errors.Wrap(err, "failed to vector search consolidated memories")
	}
	defer rows.Close()

	var results []*store.ConsolidatedMemoryWithScore
	for rows.Next() {
		var cm store.ConsolidatedMemory
		var sourceIDs string
		var score float32
		if err := rows.Scan(
			&cm.ID, &cm.UID, &cm.OwnerID, &cm.Topic, &cm.PeriodStart, &cm.PeriodEnd,
			&cm.SourceCount, &sourceIDs, &cm.Summary,
			&cm.AvgIntensity, &cm.AvgTension, &cm.AvgDepth, &cm.CreatedTs,
			&score,
		); err != nil {
			return nil, errors.Wrap(err, "failed to scan consolidated search result")
		}
		cm.SourceItemIDs = splitIDs(sourceIDs)
		results = append(results, &store.ConsolidatedMemoryWithScore{Memory: &cm, Score: score})
	}
	return results, errors.Wrap(rows.Err(), "failed to iterate consolidated search results")
}
