// Package sqlite implements the store driver on SQLite.
//
// SQLite is supported on a best-effort basis for development, testing and
// single-user deployments. Vector search is computed in the application
// layer over JSON-encoded embeddings; this is fine for the row counts a
// single owner accumulates, and it keeps the driver dependency-free of
// native extensions. Anything needing real ANN indexes runs on postgres.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"math"
	"strings"

	"github.com/pkg/errors"

	// Import the SQLite driver.
	_ "modernc.org/sqlite"

	"github.com/lembraai/lembra/internal/profile"
	"github.com/lembraai/lembra/store"
)

type DB struct {
	db      *sql.DB
	profile *profile.Profile
}

// NewDB opens the SQLite database named by the profile DSN.
func NewDB(profile *profile.Profile) (store.Driver, error) {
	if profile.DSN == "" {
		return nil, errors.New("dsn required")
	}

	// WAL journal mode plus a generous busy timeout prevents the locking
	// issues that otherwise plague SQLite under concurrent readers. Each
	// pragma must be prefixed with `_pragma=` for modernc.org/sqlite.
	sqliteDB, err := sql.Open("sqlite", profile.DSN+"?_pragma=foreign_keys(0)&_pragma=busy_timeout(10000)&_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open db with dsn: %s", profile.DSN)
	}

	// A single connection is optimal for SQLite with WAL.
	sqliteDB.SetMaxOpenConns(1)
	sqliteDB.SetMaxIdleConns(1)
	sqliteDB.SetConnMaxLifetime(0)
	sqliteDB.SetConnMaxIdleTime(0)

	driver := DB{db: sqliteDB, profile: profile}

	return &driver, nil
}

func (d *DB) Close() error {
	return d.db.Close()
}

func (d *DB) Migrate(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS fact (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			owner_id TEXT NOT NULL,
			category TEXT NOT NULL,
			fact_type TEXT NOT NULL,
			attribute TEXT NOT NULL,
			value TEXT NOT NULL,
			confidence REAL NOT NULL,
			method TEXT NOT NULL,
			source_turn_id INTEGER NOT NULL DEFAULT 0,
			version INTEGER NOT NULL DEFAULT 1,
			is_current INTEGER NOT NULL DEFAULT 1,
			superseded_by INTEGER,
			created_ts INTEGER NOT NULL,
			updated_ts INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_fact_owner_key ON fact (owner_id, category, fact_type, attribute)`,
		`CREATE TABLE IF NOT EXISTS memory_item (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			uid TEXT NOT NULL UNIQUE,
			owner_id TEXT NOT NULL,
			user_input TEXT NOT NULL,
			agent_response TEXT NOT NULL,
			created_ts INTEGER NOT NULL,
			day_bucket TEXT NOT NULL,
			week_bucket TEXT NOT NULL,
			month_bucket TEXT NOT NULL,
			recency_tier TEXT NOT NULL,
			intensity REAL NOT NULL DEFAULT 0,
			tension REAL NOT NULL DEFAULT 0,
			depth REAL NOT NULL DEFAULT 0,
			has_tension INTEGER NOT NULL DEFAULT 0,
			topics TEXT NOT NULL DEFAULT '',
			entities TEXT NOT NULL DEFAULT '',
			consolidated_id INTEGER,
			embedding BLOB NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_memory_item_owner_created ON memory_item (owner_id, created_ts DESC)`,
		`CREATE TABLE IF NOT EXISTS consolidated_memory (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			uid TEXT NOT NULL UNIQUE,
			owner_id TEXT NOT NULL,
			topic TEXT NOT NULL,
			period_start INTEGER NOT NULL,
			period_end INTEGER NOT NULL,
			source_count INTEGER NOT NULL,
			source_item_ids TEXT NOT NULL,
			summary TEXT NOT NULL,
			avg_intensity REAL NOT NULL DEFAULT 0,
			avg_tension REAL NOT NULL DEFAULT 0,
			avg_depth REAL NOT NULL DEFAULT 0,
			created_ts INTEGER NOT NULL,
			embedding BLOB NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_consolidated_owner_topic ON consolidated_memory (owner_id, topic)`,
		`CREATE TABLE IF NOT EXISTS pattern (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			owner_id TEXT NOT NULL,
			name TEXT NOT NULL,
			description TEXT NOT NULL DEFAULT '',
			frequency INTEGER NOT NULL DEFAULT 0,
			confidence REAL NOT NULL DEFAULT 0,
			updated_ts INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_pattern_owner ON pattern (owner_id)`,
	}

	for _, stmt := range stmts {
		if _, err := d.db.ExecContext(ctx, stmt); err != nil {
			return errors.Wrap(err, "migration failed")
		}
	}
	return nil
}

func (d *DB) EraseOwner(ctx context.Context, ownerID string) error {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "failed to begin erase transaction")
	}
	defer func() { _ = tx.Rollback() }()

	for _, table := range []string{"fact", "memory_item", "consolidated_memory", "pattern"} {
		if _, err := tx.ExecContext(ctx, `DELETE FROM `+table+` WHERE owner_id = ?`, ownerID); err != nil {
			return errors.Wrapf(err, "failed to erase owner from %s", table)
		}
	}

	return errors.Wrap(tx.Commit(), "failed to commit erase")
}

// embeddingToBlob serializes a vector as a JSON blob.
func embeddingToBlob(vec []float32) ([]byte, error) {
	blob, err := json.Marshal(vec)
	return blob, errors.Wrap(err, "failed to encode embedding")
}

func blobToEmbedding(blob []byte) ([]float32, error) {
	var vec []float32
	err := json.Unmarshal(blob, &vec)
	return vec, errors.Wrap(err, "failed to decode embedding")
}

// cosineSimilarity computes cosine similarity between two vectors of the
// same dimension. Mismatched or zero vectors score 0.
func cosineSimilarity(a, b []float32) float32 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return float32(dot / (math.Sqrt(normA) * math.Sqrt(normB)))
}

func joinList(list []string) string {
	return strings.Join(list, ",")
}

func splitList(s string) []string {
	if s == "" {
		return nil
	}
	return strings.Split(s, ",")
}

func joinIDs(ids []int64) (string, error) {
	blob, err := json.Marshal(ids)
	return string(blob), errors.Wrap(err, "failed to encode source ids")
}

func splitIDs(s string) []int64 {
	if s == "" {
		return nil
	}
	var ids []int64
	if err := json.Unmarshal([]byte(s), &ids); err != nil {
		return nil
	}
	return ids
}
