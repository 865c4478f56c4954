package vector

import (
	"database/sql"
	"fmt"
	"math"
	"strings"

	sqlite_vec "github.com/asg017/sqlite-vec-go-bindings/cgo"
	_ "github.com/mattn/go-sqlite3"

	"github.com/vthunder/cmemory/internal/cmerrors"
	"github.com/vthunder/cmemory/internal/logging"
	"github.com/vthunder/cmemory/internal/types"
)

const subsystem = "vector"

func init() {
	sqlite_vec.Auto()
}

// SQLiteStore is the persistent VectorStore adapter: a sqlite-vec vec0
// virtual table holding normalized embeddings, queried by L2 distance,
// converted back to cosine similarity since vectors are unit-normalized
// before insertion (L2² = 2 - 2·cosine for unit vectors, so
// cosine = 1 - L2²/2), grounded on the teacher's ensureVecTable/
// cosineDistToL2 pair.
type SQLiteStore struct {
	db  *sql.DB
	dim int
}

// OpenSQLite opens (creating if absent) a sqlite-vec backed VectorStore at
// path with fixed dimension dim.
func OpenSQLite(path string, dim int) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", fmt.Sprintf("file:%s?_journal_mode=WAL&_busy_timeout=5000", path))
	if err != nil {
		return nil, cmerrors.New("vector.OpenSQLite", "", cmerrors.Unavailable, err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, cmerrors.New("vector.OpenSQLite", "", cmerrors.Unavailable, err)
	}
	s := &SQLiteStore{db: db, dim: dim}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, cmerrors.New("vector.OpenSQLite", "", cmerrors.Internal, err)
	}
	return s, nil
}

func (s *SQLiteStore) migrate() error {
	_, err := s.db.Exec(`
CREATE TABLE IF NOT EXISTS vector_meta (
	block_id         TEXT PRIMARY KEY,
	title            TEXT,
	tags             TEXT,
	information_type TEXT,
	content_hash     TEXT
);
`)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(fmt.Sprintf(
		`CREATE VIRTUAL TABLE IF NOT EXISTS vector_index USING vec0(embedding float[%d], +block_id TEXT)`,
		s.dim,
	))
	if err != nil {
		logging.Warn(subsystem, "sqlite-vec extension unavailable (%v); vector queries will fail until reopened with the fallback store", err)
		return err
	}
	return nil
}

func normalize(v []float64) []float32 {
	var norm float64
	for _, x := range v {
		norm += x * x
	}
	norm = math.Sqrt(norm)
	out := make([]float32, len(v))
	if norm == 0 {
		return out
	}
	for i, x := range v {
		out[i] = float32(x / norm)
	}
	return out
}

func (s *SQLiteStore) Upsert(blockID string, embedding []float64, metadata types.VectorMetadata) error {
	tx, err := s.db.Begin()
	if err != nil {
		return cmerrors.New("vector.Upsert", blockID, cmerrors.Internal, err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM vector_index WHERE block_id = ?`, blockID); err != nil {
		return cmerrors.New("vector.Upsert", blockID, cmerrors.Internal, err)
	}
	serialized, err := sqlite_vec.SerializeFloat32(normalize(embedding))
	if err != nil {
		return cmerrors.New("vector.Upsert", blockID, cmerrors.Internal, err)
	}
	if _, err := tx.Exec(`INSERT INTO vector_index(embedding, block_id) VALUES (?, ?)`, serialized, blockID); err != nil {
		return cmerrors.New("vector.Upsert", blockID, cmerrors.Internal, err)
	}

	tagsJoined := joinTags(metadata.Tags)
	if _, err := tx.Exec(`
INSERT INTO vector_meta (block_id, title, tags, information_type, content_hash)
VALUES (?, ?, ?, ?, ?)
ON CONFLICT(block_id) DO UPDATE SET title=excluded.title, tags=excluded.tags,
	information_type=excluded.information_type, content_hash=excluded.content_hash
`, blockID, metadata.Title, tagsJoined, string(metadata.InformationType), metadata.ContentHash); err != nil {
		return cmerrors.New("vector.Upsert", blockID, cmerrors.Internal, err)
	}

	if err := tx.Commit(); err != nil {
		return cmerrors.New("vector.Upsert", blockID, cmerrors.Internal, err)
	}
	return nil
}

func (s *SQLiteStore) Delete(blockID string) error {
	if _, err := s.db.Exec(`DELETE FROM vector_index WHERE block_id = ?`, blockID); err != nil {
		return cmerrors.New("vector.Delete", blockID, cmerrors.Internal, err)
	}
	if _, err := s.db.Exec(`DELETE FROM vector_meta WHERE block_id = ?`, blockID); err != nil {
		return cmerrors.New("vector.Delete", blockID, cmerrors.Internal, err)
	}
	return nil
}

func (s *SQLiteStore) Query(embedding []float64, k int) ([]Hit, error) {
	serialized, err := sqlite_vec.SerializeFloat32(normalize(embedding))
	if err != nil {
		return nil, cmerrors.New("vector.Query", "", cmerrors.Internal, err)
	}
	rows, err := s.db.Query(`
SELECT vi.block_id, vi.distance, vm.title, vm.tags, vm.information_type, vm.content_hash
FROM vector_index vi
LEFT JOIN vector_meta vm ON vm.block_id = vi.block_id
WHERE vi.embedding MATCH ? AND k = ?
ORDER BY vi.distance
`, serialized, k)
	if err != nil {
		return nil, cmerrors.New("vector.Query", "", cmerrors.Internal, err)
	}
	defer rows.Close()

	var out []Hit
	for rows.Next() {
		var blockID, title, tags, infoType, contentHash sql.NullString
		var dist float64
		if err := rows.Scan(&blockID, &dist, &title, &tags, &infoType, &contentHash); err != nil {
			return nil, cmerrors.New("vector.Query", "", cmerrors.Internal, err)
		}
		out = append(out, Hit{
			BlockID:    blockID.String,
			Similarity: 1 - dist*dist/2,
			Metadata: types.VectorMetadata{
				Title:           title.String,
				Tags:            splitTags(tags.String),
				InformationType: types.InformationType(infoType.String),
				ContentHash:     contentHash.String,
			},
		})
	}
	return out, rows.Err()
}

func (s *SQLiteStore) Reset() error {
	if _, err := s.db.Exec(`DELETE FROM vector_index`); err != nil {
		return cmerrors.New("vector.Reset", "", cmerrors.Internal, err)
	}
	if _, err := s.db.Exec(`DELETE FROM vector_meta`); err != nil {
		return cmerrors.New("vector.Reset", "", cmerrors.Internal, err)
	}
	return nil
}

func (s *SQLiteStore) Close() error { return s.db.Close() }

func joinTags(tags []string) string {
	return strings.Join(tags, ",")
}

func splitTags(s string) []string {
	if s == "" {
		return nil
	}
	return strings.Split(s, ",")
}

// OpenOrFallback probes path/dim and returns a SQLiteStore on success, or a
// MemoryStore with a logged degraded-mode warning on failure.
func OpenOrFallback(path string, dim int) Store {
	s, err := OpenSQLite(path, dim)
	if err != nil {
		logging.Warn(subsystem, "backend unavailable (%v), falling back to in-memory vector store", err)
		return NewMemoryStore()
	}
	return s
}
