package postgres

import (
	"context"
	"database/sql"
	"strings"

	"github.com/pgvector/pgvector-go"
	"github.com/pkg/errors"

	"github.com/lembraai/lembra/store"
)

const memoryItemColumns = `id, uid, owner_id, user_input, agent_response, created_ts, day_bucket, week_bucket, month_bucket, recency_tier, intensity, tension, depth, has_tension, topics, entities, consolidated_id`

func (d *DB) CreateMemoryItem(ctx context.Context, create *store.MemoryItem, embedding []float32) (*store.MemoryItem, error) {
	err := d.db.QueryRowContext(ctx, `
		INSERT INTO memory_item (uid, owner_id, user_input, agent_response, created_ts, day_bucket, week_bucket, month_bucket, recency_tier, intensity, tension, depth, has_tension, topics, entities, embedding)
		VALUES (`+placeholders(16)+`)
		RETURNING id`,
		create.UID, create.OwnerID, create.UserInput, create.AgentResponse,
		create.CreatedTs, create.DayBucket, create.WeekBucket, create.MonthBucket,
		string(create.RecencyTier), create.Intensity, create.Tension, create.Depth,
		create.HasTension, joinList(create.Topics), joinList(create.Entities),
		pgvector.NewVector(embedding),
	).Scan(&create.ID)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create memory item")
	}
	return create, nil
}

func (d *DB) ListMemoryItems(ctx context.Context, find *store.FindMemoryItem) ([]*store.MemoryItem, error) {
	where, args := []string{"TRUE"}, []any{}
	if v := find.ID; v != nil {
		where, args = append(where, "id = "+placeholder(len(args)+1)), append(args, *v)
	}
	if v := find.UID; v != nil {
		where, args = append(where, "uid = "+placeholder(len(args)+1)), append(args, *v)
	}
	if v := find.OwnerID; v != nil {
		where, args = append(where, "owner_id = "+placeholder(len(args)+1)), append(args, *v)
	}
	if v := find.CreatedAfter; v != nil {
		where, args = append(where, "created_ts >= "+placeholder(len(args)+1)), append(args, *v)
	}
	if v := find.CreatedBefore; v != nil {
		where, args = append(where, "created_ts < "+placeholder(len(args)+1)), append(args, *v)
	}
	if v := find.Topic; v != nil {
		// Topics are a flat comma list; wrap both sides for containment.
		where, args = append(where, "(',' || topics || ',') LIKE "+placeholder(len(args)+1)), append(args, "%,"+*v+",%")
	}

	order := "DESC"
	if find.Ascending {
		order = "ASC"
	}
	query := `SELECT ` + memoryItemColumns + ` FROM memory_item WHERE ` +
		strings.Join(where, " AND ") + ` ORDER BY created_ts ` + order + `, id ` + order
	if find.Limit > 0 {
		args = append(args, find.Limit)
		query += " LIMIT " + placeholder(len(args))
	}
	if find.Offset > 0 {
		args = append(args, find.Offset)
		query += " OFFSET " + placeholder(len(args))
	}

	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list memory items")
	}
	defer rows.Close()

	var list []*store.MemoryItem
	for rows.Next() {
		item, err := scanMemoryItem(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, item)
	}
	return list, errors.Wrap(rows.Err(), "failed to iterate memory items")
}

// VectorSearch runs cosine similarity search. The owner filter is part of
// the SQL predicate so foreign rows never leave the database.
func (d *DB) VectorSearch(ctx context.Context, opts *store.VectorSearchOptions) ([]*store.MemoryItemWithScore, error) {
	where := "owner_id = $2"
	args := []any{pgvector.NewVector(opts.Vector), opts.OwnerID}
	if opts.CreatedAfter > 0 {
		args = append(args, opts.CreatedAfter)
		where += " AND created_ts >= " + placeholder(len(args))
	}
	args = append(args, opts.Limit)

	rows, err := d.db.QueryContext(ctx, `
		SELECT `+memoryItemColumns+`, 1 - (embedding <=> $1) AS score
		FROM memory_item
		WHERE `+where+`
		ORDER BY embedding <=> $1
		LIMIT `+placeholder(len(args)), args...)
	if err != nil {
		return nil, errors.Wrap(err, "vector search failed")
	}
	defer rows.Close()

	var results []*store.MemoryItemWithScore
	for rows.Next() {
		var r rowWithScore
		item, err := scanMemoryItemWithScore(rows, &r)
		if err != nil {
			return nil, err
		}
		results = append(results, &store.MemoryItemWithScore{Item: item, Score: r.score})
	}
	return results, errors.Wrap(rows.Err(), "failed to iterate vector results")
}

// KeywordSearch is the relational fallback used when embeddings are
// unavailable. Matches are recency-ordered and carry a flat nominal score
// so downstream boosting still applies.
func (d *DB) KeywordSearch(ctx context.Context, opts *store.KeywordSearchOptions) ([]*store.MemoryItemWithScore, error) {
	pattern := "%" + opts.Query + "%"
	rows, err := d.db.QueryContext(ctx, `
		SELECT `+memoryItemColumns+`
		FROM memory_item
		WHERE owner_id = $1 AND (user_input ILIKE $2 OR agent_response ILIKE $2)
		ORDER BY created_ts DESC
		LIMIT $3`,
		opts.OwnerID, pattern, opts.Limit)
	if err != nil {
		return nil, errors.Wrap(err, "keyword search failed")
	}
	defer rows.Close()

	var results []*store.MemoryItemWithScore
	for rows.Next() {
		item, err := scanMemoryItem(rows)
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
		in[i] = placeholder(len(args))
	}
	_, err := d.db.ExecContext(ctx, `
		UPDATE memory_item SET consolidated_id = $1
		WHERE owner_id = $2 AND id IN (`+strings.Join(in, ", ")+`)`, args...)
	return errors.Wrap(err, "failed to link consolidated sources")
}

func (d *DB) CountMemoryItems(ctx context.Context, ownerID string) (int, error) {
	var count int
	err := d.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM memory_item WHERE owner_id = $1`, ownerID,
	).Scan(&count)
	return count, errors.Wrap(err, "failed to count memory items")
}

func (d *DB) ListActiveOwnerIDs(ctx context.Context, cutoffTs int64) ([]string, error) {
	rows, err := d.db.QueryContext(ctx,
		`SELECT DISTINCT owner_id FROM memory_item WHERE created_ts >= $1`, cutoffTs)
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

type rowWithScore struct {
	score float32
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMemoryItem(rows rowScanner) (*store.MemoryItem, error) {
	item, _, err := scanMemoryItemInto(rows, false)
	return item, err
}

func scanMemoryItemWithScore(rows rowScanner, r *rowWithScore) (*store.MemoryItem, error) {
	item, score, err := scanMemoryItemInto(rows, true)
	r.score = score
	return item, err
}

func scanMemoryItemInto(rows rowScanner, withScore bool) (*store.MemoryItem, float32, error) {
	var item store.MemoryItem
	var tier, topics, entities string
	var consolidatedID sql.NullInt64
	var score float32

	dest := []any{
		&item.ID, &item.UID, &item.OwnerID, &item.UserInput, &item.AgentResponse,
		&item.CreatedTs, &item.DayBucket, &item.WeekBucket, &item.MonthBucket,
		&tier, &item.Intensity, &item.Tension, &item.Depth, &item.HasTension,
		&topics, &entities, &consolidatedID,
	}
	if withScore {
		dest = append(dest, &score)
	}
	if err := rows.Scan(dest...); err != nil {
		return nil, 0, errors.Wrap(err, "failed to scan memory item")
	}

	item.RecencyTier = store.RecencyTier(tier)
	item.Topics = splitList(topics)
	item.Entities = splitList(entities)
	if consolidatedID.Valid {
		item.ConsolidatedID = &consolidatedID.Int64
	}
	return &item, score, nil
}
