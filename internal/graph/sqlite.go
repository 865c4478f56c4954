package graph

import (
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"

	"github.com/vthunder/cmemory/internal/cmerrors"
	"github.com/vthunder/cmemory/internal/logging"
	"github.com/vthunder/cmemory/internal/types"
)

const subsystem = "graph"

// SQLiteStore is the persistent GraphStore adapter. Schema and connection
// setup (WAL journal, busy timeout, foreign keys on) follow the teacher's
// own SQLite wiring: one connection string, one CREATE TABLE IF NOT EXISTS
// block, no migration ladder — this store only ever needed a single table,
// so a schema_version table would be ceremony without a second version to
// grow into.
type SQLiteStore struct {
	db *sql.DB
}

// Open opens (creating if absent) a SQLite-backed GraphStore at path.
func Open(path string) (*SQLiteStore, error) {
	dsn := fmt.Sprintf("file:%s?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on", path)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, cmerrors.New("graph.Open", "", cmerrors.Unavailable, err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, cmerrors.New("graph.Open", "", cmerrors.Unavailable, err)
	}
	s := &SQLiteStore{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, cmerrors.New("graph.Open", "", cmerrors.Internal, err)
	}
	return s, nil
}

func (s *SQLiteStore) migrate() error {
	_, err := s.db.Exec(`
CREATE TABLE IF NOT EXISTS relationships (
	source_id TEXT NOT NULL,
	target_id TEXT NOT NULL,
	kind      TEXT NOT NULL,
	weight    REAL NOT NULL DEFAULT 0,
	origin    TEXT NOT NULL DEFAULT 'explicit',
	UNIQUE(source_id, target_id, kind)
);
CREATE INDEX IF NOT EXISTS idx_relationships_source ON relationships(source_id);
CREATE INDEX IF NOT EXISTS idx_relationships_target ON relationships(target_id);
`)
	return err
}

func (s *SQLiteStore) Upsert(rel types.Relationship) error {
	if rel.SourceID == rel.TargetID {
		return cmerrors.New("graph.Upsert", rel.SourceID, cmerrors.Invalid, fmt.Errorf("self-loop"))
	}
	_, err := s.db.Exec(`
INSERT INTO relationships (source_id, target_id, kind, weight, origin)
VALUES (?, ?, ?, ?, ?)
ON CONFLICT(source_id, target_id, kind) DO UPDATE SET weight = excluded.weight, origin = excluded.origin
`, rel.SourceID, rel.TargetID, rel.Kind, rel.Weight, string(rel.Origin))
	if err != nil {
		return cmerrors.New("graph.Upsert", rel.SourceID, cmerrors.Internal, err)
	}
	return nil
}

func (s *SQLiteStore) Neighbours(id string, direction types.NeighbourDirection, kinds []string) ([]types.Relationship, error) {
	var query string
	args := []any{id}
	switch direction {
	case types.DirectionOut:
		query = `SELECT source_id, target_id, kind, weight, origin FROM relationships WHERE source_id = ?`
	case types.DirectionIn:
		query = `SELECT source_id, target_id, kind, weight, origin FROM relationships WHERE target_id = ?`
	default:
		query = `SELECT source_id, target_id, kind, weight, origin FROM relationships WHERE (source_id = ? OR target_id = ?)`
		args = []any{id, id}
	}
	if len(kinds) > 0 {
		placeholders := ""
		for i, k := range kinds {
			if i > 0 {
				placeholders += ","
			}
			placeholders += "?"
			args = append(args, k)
		}
		query += fmt.Sprintf(" AND kind IN (%s)", placeholders)
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, cmerrors.New("graph.Neighbours", id, cmerrors.Internal, err)
	}
	defer rows.Close()

	var out []types.Relationship
	for rows.Next() {
		var rel types.Relationship
		var origin string
		if err := rows.Scan(&rel.SourceID, &rel.TargetID, &rel.Kind, &rel.Weight, &origin); err != nil {
			return nil, cmerrors.New("graph.Neighbours", id, cmerrors.Internal, err)
		}
		rel.Origin = types.RelationshipOrigin(origin)
		out = append(out, rel)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) Remove(source, target, kind string) error {
	_, err := s.db.Exec(`DELETE FROM relationships WHERE source_id = ? AND target_id = ? AND kind = ?`, source, target, kind)
	if err != nil {
		return cmerrors.New("graph.Remove", source, cmerrors.Internal, err)
	}
	return nil
}

func (s *SQLiteStore) Close() error { return s.db.Close() }

// OpenOrFallback probes path and returns a SQLiteStore on success, or a
// MemoryStore with a logged degraded-mode warning on failure — the
// selection SPEC_FULL.md's GraphStore section requires the core make once
// at construction, not on every call.
func OpenOrFallback(path string) Store {
	s, err := Open(path)
	if err != nil {
		logging.Warn(subsystem, "backend unavailable (%v), falling back to in-memory graph store", err)
		return NewMemoryStore()
	}
	return s
}
