package postgres

import (
	"context"
	"strings"

	"github.com/pkg/errors"

	"github.com/lembraai/lembra/store"
)

func (d *DB) ListPatterns(ctx context.Context, find *store.FindPattern) ([]*store.Pattern, error) {
	where, args := []string{"TRUE"}, []any{}
	if v := find.OwnerID; v != nil {
		where, args = append(where, "owner_id = "+placeholder(len(args)+1)), append(args, *v)
	}
	if find.MinConfidence > 0 {
		where, args = append(where, "confidence >= "+placeholder(len(args)+1)), append(args, find.MinConfidence)
	}

	query := `
		SELECT id, owner_id, name, description, frequency, confidence, updated_ts
		FROM pattern
		WHERE ` + strings.Join(where, " AND ") + `
		ORDER BY confidence DESC, frequency DESC`
	if find.Limit > 0 {
		args = append(args, find.Limit)
		query += " LIMIT " + placeholder(len(args))
	}

	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list patterns")
	}
	defer rows.Close()

	var list []*store.Pattern
	for rows.Next() {
		var p store.Pattern
		if err := rows.Scan(&p.ID, &p.OwnerID, &p.Name, &p.Description, &p.Frequency, &p.Confidence, &p.UpdatedTs); err != nil {
			return nil, errors.Wrap(err, "failed to scan pattern")
		}
		list = append(list, &p)
	}
	return list, errors.Wrap(rows.Err(), "failed to iterate patterns")
}
