package sqlite

import (
	"context"
	"database/sql"
	"sort"
	"strings"

	"github.com/pkg/errors"

	"github.com/lembraai/lembra/store"
)

const memoryItemColumns = `id, uid, owner_id, user_input, agent_response, created_ts, day_bucket, week_bucket, month_bucket, recency_tier, intensity, tension, depth, has_tension, topics, entities, consolidated_id`

func (d *DB) CreateMemoryItem(ctx context.Context, create *store.MemoryItem, embedding []float32) (*store.MemoryItem, error) {
	blob, err := embeddingToBlob(embedding)
	if err != nil {
		return nil, err
	}

	res, err := d.db.ExecContext(ctx, `
		INSERT INTO memory_item (uid, owner_id, user_input, agent_response, created_ts, day_bucket, week_bucket, month_bucket, recency_tier, intensity, tension, depth, has_tension, topics, entities, embedding)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		create.UID, create.OwnerID, create.UserInput, create.AgentResponse,
		create.CreatedTs, create.DayBucket, create.WeekBucket, create.MonthBucket,
		string(create.RecencyTier), create.Intensity, create.Tension, create.Depth,
		create.HasTension, joinList(create.Topics), joinList(create.Entities), blob)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create memory item")
	}
	if create.ID, err = res.LastInsertId(); err != nil {
		return nil, errors.Wrap(err, "failed to read memory item id")
	}
	return create, nil
}

func (d *DB) ListMemoryItems(ctx context.Context, find *store.FindMemoryItem) ([]*store.MemoryItem, error) {
	where, args := []string{"1 = 1"}, []any{}
	if v := find.ID; v != nil {
		where, args = append(where, "id = ?"), append(args, *v)
	}
	if v := find.UID; v != nil {
		where, args = append(where, "uid = ?"), append(args, *v)
	}
	if v := find.OwnerID; v != nil {
		where, args = append(where, "owner_id = ?"), append(args, *v)
	}
	if v := find.CreatedAfter; v != nil {
		where, args = append(where, "created_ts >= ?"), append(args, *v)
	}
	if v := find.CreatedBefore; v != nil {
		where, args = append(where, "created_ts < ?"), append(args, *v)
	}
	if v := find.Topic; v != nil {
		where, args = append(where, "(',' || topics || ',') LIKE ?"), append(args, "%,"+*v+",%")
	}

	order := "DESC"
	if find.Ascending {
		order = "ASC"
	}
	query := `SELECT ` + memoryItemColumns + ` FROM memory_item WHERE ` +
		strings.Join(where, " AND ") + ` ORDER BY created_ts ` + order + `, id ` + order
	if find.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, find.Limit)
	}
	if find.Offset > 0 {
		query += " OFFSET ?"
		args = append(args, find.Offset)
	}

	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list memory items")
	}
	defer rows.Close()

	var list []*store.MemoryItem
	for rows.Next() {
		item, _, err := scanMemoryItem(rows, false)
		if err != nil {
			return nil, err
		}
		list = append(list, item)
	}
	return list, errors.Wrap(rows.Err(), "failed to iterate memory items")
}

// VectorSearch loads the owner's embeddings and ranks them by cosine
// similarity in the application layer. Acceptable for single-owner row
// counts; postgres handles anything larger.
func (d *DB) VectorSearch(ctx context.Context, opts *store.VectorSearchOptions) ([]*store.MemoryItemWithScore, error) {
	where, args := []string{"owner_id = ?"}, []any{opts.OwnerID}
	if opts.CreatedAfter > 0 {
		where, args = append(where, "created_ts >= ?"), append(args, opts.CreatedAfter)
	}

	rows, err := d.db.QueryContext(ctx, `
		SELECT `+memoryItemColumns+`, embedding
		FROM memory_item
		WHERE `+strings.Join(where, " AND "), args...)
	if err != nil {
		return nil, errors.Wrap(err, "vector search failed")
	}
	defer rows.Close()

	var results []*store.MemoryItemWithScore
	for rows.Next() {
		item, blob, err := scanMemoryItem(rows, true)
		if err != nil {
			return nil, err
		}
		vec, err := blobToEmbedding(blob)
		if err != nil {
			return nil, err
		}
		results = append(results, &store.MemoryItemWithScore{
			Item:  item,
			Score: cosineSimilarity(opts.Vector, vec),
		})
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "failed to iterate vector results")
	}

	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Score > results[j].Score
	})
	if len(results) > opts.Limit {
		results = results[:opts.Limit]
	}
	return results, nil
}

func (d *DB) KeywordSearch(ctx context.Context, opts *store.KeywordSearchOptions) ([]*store.MemoryItemWithScore, error) {
	// LIKE is case-insensitive for ASCII in SQLite, which is close enough
	// for the degraded fallback path.
	pattern := "%" + opts.Query + "%"
	rows, err := d.db.QueryContext(ctx, `
		SELECT `+memoryItemColumns+`
		FROM memory_item
		WHERE owner_id = ? AND (user_input LIKE ? OR agent_response LIKE ?)
		ORDER BY created_ts DESC
		LIMIT ?`,
		opts.OwnerID, pattern, pattern, opts.Limit)
	if err != nil {
		return nil, errors.Wrap(err, "keyword search failed")
	}
	defer rows.Close()

	var results []*store.MemoryItemWithScore
	for rows.Next() {
		item, _, err := scanMemoryItem(rows, false)
		if err != nil {
			return nil, err
		}
		results = append(results, &store.MemoryItemWithScore{Item: item, Score: store.KeywordFallbackScore})
	}
	return results, errors.Wrap(rows.Err(), "failed to iterate keyword results")
}

func (d *DB) LinkConsolidated(ctx context.Context, ownerID string, itemIDs []int64, consolidatedID int64) error {
	if len(itemIDs) == 0 {
		return nil
	}
	args := []any{consolidatedID, ownerID}
	in := make([]string, len(itemIDs))
	for i, id := range itemIDs {
		args = append(args, id)
		in[i] = "?"
	}
	_, err := d.db.ExecContext(ctx, `
		UPDATE memory_item SET consolidated_id = ?
		WHERE owner_id = ? AND id IN (`+strings.Join(in, ", ")+`)`, args...)
	return errors.Wrap(err, "failed to link consolidated sources")
}

func (d *DB) CountMemoryItems(ctx context.Context, ownerID string) (int, error) {
	var count int
	err := d.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM memory_item WHERE owner_id = ?`, ownerID,
	).Scan(&count)
	return count, errors.Wrap(err, "failed to count memory items")
}

func (d *DB) ListActiveOwnerIDs(ctx context.Context, cutoffTs int64) ([]string, error) {
	rows, err := d.db.QueryContext(ctx,
		`SELECT DISTINCT owner_id FROM memory_item WHERE created_ts >= ?`, cutoffTs)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list active owners")
	}
	defer rows.Close()

	var owners []string
	for rows.Next() {
		var owner string
		if err := rows.Scan(&owner); err != nil {
			return nil, errors.Wrap(err, "failed to scan owner id")
		}
		owners = append(owners, owner)
	}
	return owners, errors.Wrap(rows.Err(), "failed to iterate owners")
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMemoryItem(rows rowScanner, withEmbedding bool) (*store.MemoryItem, []byte, error) {
	var item store.MemoryItem
	var tier, topics, entities string
	var consolidatedID sql.NullInt64
	var blob []byte

	dest := []any{
		&item.ID, &item.UID, &item.OwnerID, &item.UserInput, &item.AgentResponse,
		&item.CreatedTs, &item.DayBucket, &item.WeekBucket, &item.MonthBucket,
		&tier, &item.Intensity, &item.Tension, &item.Depth, &item.HasTension,
		&topics, &entities, &consolidatedID,
	}
	if withEmbedding {
		dest = append(dest, &blob)
	}
	if err := rows.Scan(dest...); err != nil {
		return nil, nil, errors.Wrap(err, "failed to scan memory item")
	}

	item.RecencyTier = store.RecencyTier(tier)
	item.Topics = splitList(topics)
	item.Entities = splitList(entities)
	if consolidatedID.Valid {
		item.ConsolidatedID = &consolidatedID.Int64
	}
	return &item, blob, nil
}
