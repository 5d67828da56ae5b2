// Package postgres implements the store driver on PostgreSQL with the
// pgvector extension. This is the production backend.
package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	// Import the PostgreSQL driver.
	_ "github.com/lib/pq"
	"github.com/pkg/errors"

	"github.com/lembraai/lembra/internal/profile"
	"github.com/lembraai/lembra/store"
)

type DB struct {
	db      *sql.DB
	profile *profile.Profile
}

// NewDB opens a PostgreSQL database using the profile DSN.
func NewDB(profile *profile.Profile) (store.Driver, error) {
	if profile.DSN == "" {
		return nil, errors.New("dsn required")
	}

	db, err := sql.Open("postgres", profile.DSN)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open db with dsn: %s", profile.DSN)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)

	driver := DB{db: db, profile: profile}

	return &driver, nil
}

func (d *DB) Close() error {
	return d.db.Close()
}

// Migrate creates the schema. Statements are idempotent; the embedding
// column dimension is fixed by the profile at first migration.
func (d *DB) Migrate(ctx context.Context) error {
	dims := d.profile.EmbeddingDimensions

	stmts := []string{
		`CREATE EXTENSION IF NOT EXISTS vector`,
		`CREATE TABLE IF NOT EXISTS fact (
			id BIGSERIAL PRIMARY KEY,
			owner_id TEXT NOT NULL,
			category TEXT NOT NULL,
			fact_type TEXT NOT NULL,
			attribute TEXT NOT NULL,
			value TEXT NOT NULL,
			confidence REAL NOT NULL,
			method TEXT NOT NULL,
			source_turn_id BIGINT NOT NULL DEFAULT 0,
			version INT NOT NULL DEFAULT 1,
			is_current BOOLEAN NOT NULL DEFAULT TRUE,
			superseded_by BIGINT,
			created_ts BIGINT NOT NULL,
			updated_ts BIGINT NOT NULL
		)`,
		// The single-current-row invariant, enforced at the storage layer.
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_fact_current_key
			ON fact (owner_id, category, fact_type, attribute) WHERE is_current`,
		`CREATE INDEX IF NOT EXISTS idx_fact_owner ON fact (owner_id)`,
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS memory_item (
			id BIGSERIAL PRIMARY KEY,
			uid TEXT NOT NULL UNIQUE,
			owner_id TEXT NOT NULL,
			user_input TEXT NOT NULL,
			agent_response TEXT NOT NULL,
			created_ts BIGINT NOT NULL,
			day_bucket TEXT NOT NULL,
			week_bucket TEXT NOT NULL,
			month_bucket TEXT NOT NULL,
			recency_tier TEXT NOT NULL,
			intensity REAL NOT NULL DEFAULT 0,
			tension REAL NOT NULL DEFAULT 0,
			depth REAL NOT NULL DEFAULT 0,
			has_tension BOOLEAN NOT NULL DEFAULT FALSE,
			topics TEXT NOT NULL DEFAULT '',
			entities TEXT NOT NULL DEFAULT '',
			consolidated_id BIGINT,
			embedding vector(%d) NOT NULL
		)`, dims),
		`CREATE INDEX IF NOT EXISTS idx_memory_item_owner_created
			ON memory_item (owner_id, created_ts DESC)`,
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS consolidated_memory (
			id BIGSERIAL PRIMARY KEY,
			uid TEXT NOT NULL UNIQUE,
			owner_id TEXT NOT NULL,
			topic TEXT NOT NULL,
			period_start BIGINT NOT NULL,
			period_end BIGINT NOT NULL,
			source_count INT NOT NULL,
			source_item_ids TEXT NOT NULL,
			summary TEXT NOT NULL,
			avg_intensity REAL NOT NULL DEFAULT 0,
			avg_tension REAL NOT NULL DEFAULT 0,
			avg_depth REAL NOT NULL DEFAULT 0,
			created_ts BIGINT NOT NULL,
			embedding vector(%d) NOT NULL
		)`, dims),
		`CREATE INDEX IF NOT EXISTS idx_consolidated_owner_topic
			ON consolidated_memory (owner_id, topic)`,
		`CREATE TABLE IF NOT EXISTS pattern (
			id BIGSERIAL PRIMARY KEY,
			owner_id TEXT NOT NULL,
			name TEXT NOT NULL,
			description TEXT NOT NULL DEFAULT '',
			frequency INT NOT NULL DEFAULT 0,
			confidence REAL NOT NULL DEFAULT 0,
			updated_ts BIGINT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_pattern_owner ON pattern (owner_id)`,
	}

	for _, stmt := range stmts {
		if _, err := d.db.ExecContext(ctx, stmt); err != nil {
			return errors.Wrapf(err, "migration failed: %s", firstLine(stmt))
		}
	}
	return nil
}

// EraseOwner hard-deletes everything stored for one owner.
func (d *DB) EraseOwner(ctx context.Context, ownerID string) error {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "failed to begin erase transaction")
	}
	defer func() { _ = tx.Rollback() }()

	for _, table := range []string{"fact", "memory_item", "consolidated_memory", "pattern"} {
		if _, err := tx.ExecContext(ctx, `DELETE FROM `+table+` WHERE owner_id = $1`, ownerID); err != nil {
			return errors.Wrapf(err, "failed to erase owner from %s", table)
		}
	}

	return errors.Wrap(tx.Commit(), "failed to commit erase")
}

func placeholder(n int) string {
	return fmt.Sprintf("$%d", n)
}

func placeholders(n int) string {
	list := make([]string, n)
	for i := range list {
		list[i] = placeholder(i + 1)
	}
	return strings.Join(list, ", ")
}

func firstLine(s string) string {
	if idx := strings.IndexByte(s, '\n'); idx >= 0 {
		return strings.TrimSpace(s[:idx])
	}
	return s
}

// joinList serializes a string set into the flat storage form.
func joinList(list []string) string {
	return strings.Join(list, ",")
}

func splitList(s string) []string {
	if s == "" {
		return nil
	}
	return strings.Split(s, ",")
}

func joinIDs(ids []int64) string {
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = fmt.Sprintf("%d", id)
	}
	return strings.Join(parts, ",")
}

func splitIDs(s string) []int64 {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	ids := make([]int64, 0, len(parts))
	for _, p := range parts {
		var id int64
		if _, err := fmt.Sscanf(p, "%d", &id); err == nil {
			ids = append(ids, id)
		}
	}
	return ids
}
