package postgres

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/lembraai/lembra/store"
)

// UpsertFact applies versioning semantics inside one transaction: if no
// current row exists for the key a version-1 row is inserted; if the
// current row holds the same value its timestamp is refreshed and its
// confidence raised when the new observation is stronger; otherwise a new
// version is inserted and the old row is flipped to superseded.
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
		WHERE owner_id = $1 AND category = $2 AND fact_type = $3 AND attribute = $4 AND is_current
		FOR UPDATE`,
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
		if err := tx.QueryRowContext(ctx, `
			INSERT INTO fact (owner_id, category, fact_type, attribute, value, confidence, method, source_turn_id, version, is_current, created_ts, updated_ts)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, 1, TRUE, $9, $9)
			RETURNING id`,
			upsert.OwnerID, upsert.Category, upsert.FactType, upsert.Attribute,
			upsert.Value, upsert.Confidence, string(upsert.Method), upsert.SourceTurnID, now,
		).Scan(&result.ID); err != nil {
			return nil, errors.Wrap(err, "failed to insert fact")
		}

	case strings.EqualFold(strings.TrimSpace(cur.Value), strings.TrimSpace(upsert.Value)):
		// Same value re-observed. Confidence only ever moves up, and the
		// stored casing wins over the new observation's.
		result.ID = cur.ID
		result.Value = cur.Value
		result.Version = cur.Version
		result.CreatedTs = cur.CreatedTs
		if upsert.Confidence < cur.Confidence {
			result.Confidence = cur.Confidence
		}
		if _, err := tx.ExecContext(ctx, `
			UPDATE fact SET confidence = $1, updated_ts = $2, source_turn_id = $3 WHERE id = $4`,
			result.Confidence, now, upsert.SourceTurnID, cur.ID,
		); err != nil {
			return nil, errors.Wrap(err, "failed to refresh fact")
		}

	default:
		result.Version = cur.Version + 1
		result.CreatedTs = now
		if err := tx.QueryRowContext(ctx, `
			INSERT INTO fact (owner_id, category, fact_type, attribute, value, confidence, method, source_turn_id, version, is_current, created_ts, updated_ts)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, FALSE, $10, $10)
			RETURNING id`,
			upsert.OwnerID, upsert.Category, upsert.FactType, upsert.Attribute,
			upsert.Value, upsert.Confidence, string(upsert.Method), upsert.SourceTurnID, result.Version, now,
		).Scan(&result.ID); err != nil {
			return nil, errors.Wrap(err, "failed to insert fact version")
		}
		// Flip the old row first so the partial unique index never sees
		// two current rows for the same key.
		if _, err := tx.ExecContext(ctx, `
			UPDATE fact SET is_current = FALSE, superseded_by = $1, updated_ts = $2 WHERE id = $3`,
			result.ID, now, cur.ID,
		); err != nil {
			return nil, errors.Wrap(err, "failed to supersede fact")
		}
		if _, err := tx.ExecContext(ctx, `
			UPDATE fact SET is_current = TRUE WHERE id = $1`, result.ID,
		); err != nil {
			return nil, errors.Wrap(err, "failed to promote fact version")
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, errors.Wrap(err, "failed to commit fact upsert")
	}
	return &result, nil
}

func (d *DB) ListFacts(ctx context.Context, find *store.FindFact) ([]*store.Fact, error) {
	where, args := []string{"TRUE"}, []any{}
	if v := find.ID; v != nil {
		where, args = append(where, "id = "+placeholder(len(args)+1)), append(args, *v)
	}
	if v := find.OwnerID; v != nil {
		where, args = append(where, "owner_id = "+placeholder(len(args)+1)), append(args, *v)
	}
	if v := find.Category; v != nil {
		where, args = append(where, "category = "+placeholder(len(args)+1)), append(args, *v)
	}
	if v := find.FactType; v != nil {
		where, args = append(where, "fact_type = "+placeholder(len(args)+1)), append(args, *v)
	}
	if v := find.Attribute; v != nil {
		where, args = append(where, "attribute = "+placeholder(len(args)+1)), append(args, *v)
	}
	if v := find.Version; v != nil {
		where, args = append(where, "version = "+placeholder(len(args)+1)), append(args, *v)
	}
	if find.CurrentOnly {
		where = append(where, "is_current")
	}

	query := `
		SELECT id, owner_id, category, fact_type, attribute, value, confidence, method, source_turn_id, version, is_current, superseded_by, created_ts, updated_ts
		FROM fact
		WHERE ` + strings.Join(where, " AND ") + `
		ORDER BY category, fact_type, attribute, version DESC`
	if find.Limit > 0 {
		args = append(args, find.Limit)
		query += " LIMIT " + placeholder(len(args))
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
