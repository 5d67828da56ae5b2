package sqlite

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/lembraai/lembra/store"
)

// UpsertFact mirrors the postgres versioning semantics. The store facade
// serializes writers per key, and SQLite itself serializes writes, so no
// row locking is needed here.
func (d *DB) UpsertFact(ctx context.Context, upsert *store.UpsertFact) (*store.Fact, error) {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, errors.Wrap(err, "failed to begin transaction")
	}
	defer func() { _ = tx.Rollback() }()

	now := time.Now().Unix()

	var cur store.Fact
	err = tx.QueryRowContext(ctx, `
		SELECT id, value, confidence, version, created_ts
		FROM fact
		WHERE owner_id = ? AND category = ? AND fact_type = ? AND attribute = ? AND is_current = 1`,
		upsert.OwnerID, upsert.Category, upsert.FactType, upsert.Attribute,
	).Scan(&cur.ID, &cur.Value, &cur.Confidence, &cur.Version, &cur.CreatedTs)
	if err != nil && err != sql.ErrNoRows {
		return nil, errors.Wrap(err, "failed to read current fact")
	}

	result := store.Fact{
		OwnerID:      upsert.OwnerID,
		Category:     upsert.Category,
		FactType:     upsert.FactType,
		Attribute:    upsert.Attribute,
		Value:        upsert.Value,
		Confidence:   upsert.Confidence,
		Method:       upsert.Method,
		SourceTurnID: upsert.SourceTurnID,
		Current:      true,
		UpdatedTs:    now,
	}

	switch {
	case err == sql.ErrNoRows:
		result.Version = 1
		result.CreatedTs = now
		res, err := tx.ExecContext(ctx, `
			INSERT INTO fact (owner_id, category, fact_type, attribute, value, confidence, method, source_turn_id, version, is_current, created_ts, updated_ts)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, 1, 1, ?, ?)`,
			upsert.OwnerID, upsert.Category, upsert.FactType, upsert.Attribute,
			upsert.Value, upsert.Confidence, string(upsert.Method), upsert.SourceTurnID, now, now)
		if err != nil {
			return nil, errors.Wrap(err, "failed to insert fact")
		}
		if result.ID, err = res.LastInsertId(); err != nil {
			return nil, errors.Wrap(err, "failed to read fact id")
		}

	case strings.EqualFold(strings.TrimSpace(cur.Value), strings.TrimSpace(upsert.Value)):
		result.ID = cur.ID
		result.Value = cur.Value // stored casing wins
		result.Version = cur.Version
		result.CreatedTs = cur.CreatedTs
		if upsert.Confidence < cur.Confidence {
			result.Confidence = cur.Confidence
		}
		if _, err := tx.ExecContext(ctx, `
			UPDATE fact SET confidence = ?, updated_ts = ?, source_turn_id = ? WHERE id = ?`,
			result.Confidence, now, upsert.SourceTurnID, cur.ID); err != nil {
			return nil, errors.Wrap(err, "failed to refresh fact")
		}

	default:
		result.Version = cur.Version + 1
		result.CreatedTs = now
		res, err := tx.ExecContext(ctx, `
			INSERT INTO fact (owner_id, category, fact_type, attribute, value, confidence, method, source_turn_id, version, is_current, created_ts, updated_ts)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, 1, ?, ?)`,
			upsert.OwnerID, upsert.Category, upsert.FactType, upsert.Attribute,
			upsert.Value, upsert.Confidence, string(upsert.Method), upsert.SourceTurnID, result.Version, now, now)
		if err != nil {
			return nil, errors.Wrap(err, "failed to insert fact version")
		}
		if result.ID, err = res.LastInsertId(); err != nil {
			return nil, errors.Wrap(err, "failed to read fact id")
		}
		if _, err := tx.ExecContext(ctx, `
			UPDATE fact SET is_current = 0, superseded_by = ?, updated_ts = ? WHERE id = ?`,
			result.ID, now, cur.ID); err != nil {
			return nil, errors.Wrap(err, "failed to supersede fact")
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, errors.Wrap(err, "failed to commit fact upsert")
	}
	return &result, nil
}

func (d *DB) ListFacts(ctx context.Context, find *store.FindFact) ([]*store.Fact, error) {
	where, args := []string{"1 = 1"}, []any{}
	if v := find.ID; v != nil {
		where, args = append(where, "id = ?"), append(args, *v)
	}
	if v := find.OwnerID; v != nil {
		where, args = append(where, "owner_id = ?"), append(args, *v)
	}
	if v := find.Category; v != nil {
		where, args = append(where, "category = ?"), append(args, *v)
	}
	if v := find.FactType; v != nil {
		where, args = append(where, "fact_type = ?"), append(args, *v)
	}
	if v := find.Attribute; v != nil {
		where, args = append(where, "attribute = ?"), append(args, *v)
	}
	if v := find.Version; v != nil {
		where, args = append(where, "version = ?"), append(args, *v)
	}
	if find.CurrentOnly {
		where = append(where, "is_current = 1")
	}

	query := `
		SELECT id, owner_id, category, fact_type, attribute, value, confidence, method, source_turn_id, version, is_current, superseded_by, created_ts, updated_ts
		FROM fact
		WHERE ` + strings.Join(where, " AND ") + `
		ORDER BY category, fact_type, attribute, version DESC`
	if find.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, find.Limit)
	}

	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list facts")
	}
	defer rows.Close()

	var list []*store.Fact
	for rows.Next() {
		var fact store.Fact
		var method string
		var supersededBy sql.NullInt64
		if err := rows.Scan(
			&fact.ID, &fact.OwnerID, &fact.Category, &fact.FactType, &fact.Attribute,
			&fact.Value, &fact.Confidence, &method, &fact.SourceTurnID,
			&fact.Version, &fact.Current, &supersededBy, &fact.CreatedTs, &fact.UpdatedTs,
		); err != nil {
			return nil, errors.Wrap(err, "failed to scan fact")
		}
		fact.Method = store.ExtractionMethod(method)
		if supersededBy.Valid {
			fact.SupersededBy = &supersededBy.Int64
		}
		list = append(list, &fact)
	}
	return list, errors.Wrap(rows.Err(), "failed to iterate facts")
}
