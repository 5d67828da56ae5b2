package sqlite

import (
	"context"
	"sort"
	"strings"

	"github.com/pkg/errors"

	"github.com/lembraai/lembra/store"
)

func (d *DB) CreateConsolidatedMemory(ctx context.Context, create *store.ConsolidatedMemory, embedding []float32) (*store.ConsolidatedMemory, error) {
	blob, err := embeddingToBlob(embedding)
	if err != nil {
		return nil, err
	}
	sourceIDs, err := joinIDs(create.SourceItemIDs)
	if err != nil {
		return nil, err
	}

	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, errors.Wrap(err, "failed to begin transaction")
	}
	defer func() { _ = tx.Rollback() }()

	args := []any{create.OwnerID}
	in := make([]string, len(create.SourceItemIDs))
	for i, id := range create.SourceItemIDs {
		args = append(args, id)
		in[i] = "?"
	}
	var taken int
	err = tx.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM memory_item
		WHERE owner_id = ? AND id IN (`+strings.Join(in, ", ")+`) AND consolidated_id IS NOT NULL`, args...,
	).Scan(&taken)
	if err != nil {
		return nil, errors.Wrap(err, "failed to check source items")
	}
	if taken > 0 {
		return nil, errors.Errorf("%d source items already consolidated", taken)
	}

	res, err := tx.ExecContext(ctx, `
		INSERT INTO consolidated_memory (uid, owner_id, topic, period_start, period_end, source_count, source_item_ids, summary, avg_intensity, avg_tension, avg_depth, created_ts, embedding)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		create.UID, create.OwnerID, create.Topic, create.PeriodStart, create.PeriodEnd,
		create.SourceCount, sourceIDs, create.Summary,
		create.AvgIntensity, create.AvgTension, create.AvgDepth, create.CreatedTs, blob)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create consolidated memory")
	}
	if create.ID, err = res.LastInsertId(); err != nil {
		return nil, errors.Wrap(err, "failed to read consolidated memory id")
	}

	linkArgs := []any{create.ID, create.OwnerID}
	for _, id := range create.SourceItemIDs {
		linkArgs = append(linkArgs, id)
	}
	if _, err := tx.ExecContext(ctx, `
		UPDATE memory_item SET consolidated_id = ?
		WHERE owner_id = ? AND id IN (`+strings.Join(in, ", ")+`)`, linkArgs...,
	); err != nil {
		return nil, errors.Wrap(err, "failed to back-link source items")
	}

	if err := tx.Commit(); err != nil {
		return nil, errors.Wrap(err, "failed to commit consolidated memory")
	}
	return create, nil
}

func (d *DB) ListConsolidatedMemories(ctx context.Context, find *store.FindConsolidatedMemory) ([]*store.ConsolidatedMemory, error) {
	where, args := []string{"1 = 1"}, []any{}
	if v := find.ID; v != nil {
		where, args = append(where, "id = ?"), append(args, *v)
	}
	if v := find.OwnerID; v != nil {
		where, args = append(where, "owner_id = ?"), append(args, *v)
	}
	if v := find.Topic; v != nil {
		where, args = append(where, "topic = ?"), append(args, *v)
	}

	query := `
		SELECT id, uid, owner_id, topic, period_start, period_end, source_count, source_item_ids, summary, avg_intensity, avg_tension, avg_depth, created_ts
		FROM consolidated_memory
		WHERE ` + strings.Join(where, " AND ") + `
		ORDER BY created_ts DESC`
	if find.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, find.Limit)
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

// VectorSearchConsolidated ranks summary embeddings by cosine similarity
// in the application layer, same as item search.
func (d *DB) VectorSearchConsolidated(ctx context.Context, opts *store.VectorSearchOptions) ([]*store.ConsolidatedMemoryWithScore, error) {
	rows, err := d.db.QueryContext(ctx, `
		SELECT id, uid, owner_id, topic, period_start, period_end, source_count, source_item_ids, summary, avg_intensity, avg_tension, avg_depth, created_ts, embedding
		FROM consolidated_memory
		WHERE owner_id = ?`, opts.OwnerID)
	if err != nil {
		return nil, errors.Wrap(err, "consolidated vector search failed")
	}
	defer rows.Close()

	var results []*store.ConsolidatedMemoryWithScore
	for rows.Next() {
		var cm store.ConsolidatedMemory
		var sourceIDs string
		var blob []byte
		if err := rows.Scan(
			&cm.ID, &cm.UID, &cm.OwnerID, &cm.Topic, &cm.PeriodStart, &cm.PeriodEnd,
			&cm.SourceCount, &sourceIDs, &cm.Summary,
			&cm.AvgIntensity, &cm.AvgTension, &cm.AvgDepth, &cm.CreatedTs, &blob,
		); err != nil {
			return nil, errors.Wrap(err, "failed to scan consolidated search result")
		}
		vec, err := blobToEmbedding(blob)
		if err != nil {
			return nil, err
		}
		cm.SourceItemIDs = splitIDs(sourceIDs)
		results = append(results, &store.ConsolidatedMemoryWithScore{
			Memory: &cm,
			Score:  cosineSimilarity(opts.Vector, vec),
		})
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "failed to iterate consolidated search results")
	}

	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Score > results[j].Score
	})
	if len(results) > opts.Limit {
		results = results[:opts.Limit]
	}
	return results, nil
}
