// Package block implements the authoritative, file-based KnowledgeBlock
// store: one frontmatter+body file per block under a root directory, with
// atomic writes, content hashing, and archive/restore via rename.
package block

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/vthunder/cmemory/internal/cmerrors"
	"github.com/vthunder/cmemory/internal/logging"
	"github.com/vthunder/cmemory/internal/types"
)

const subsystem = "block"

// Store persists KnowledgeBlocks as individual files under Dir, with
// archived blocks relocated under Dir/ArchiveSubdir. All mutating methods
// are safe for concurrent use; callers wanting read-modify-write atomicity
// across multiple calls (as MemoryCore does) still need their own per-id
// lock — see internal/core.
type Store struct {
	Dir           string
	ArchiveSubdir string

	mu         sync.Mutex
	dayCounter map[string]int
}

// New constructs a Store rooted at dir, creating dir and its archive
// subdirectory if they don't exist.
func New(dir, archiveSubdir string) (*Store, error) {
	if archiveSubdir == "" {
		archiveSubdir = "archive"
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, cmerrors.New("block.New", "", cmerrors.Internal, err)
	}
	if err := os.MkdirAll(filepath.Join(dir, archiveSubdir), 0o755); err != nil {
		return nil, cmerrors.New("block.New", "", cmerrors.Internal, err)
	}
	return &Store{Dir: dir, ArchiveSubdir: archiveSubdir, dayCounter: map[string]int{}}, nil
}

func (s *Store) path(id string) string {
	return filepath.Join(s.Dir, id+".md")
}

func (s *Store) archivePath(id string) string {
	return filepath.Join(s.Dir, s.ArchiveSubdir, id+".md")
}

func contentHash(b *types.KnowledgeBlock) string {
	h := sha256.New()
	h.Write([]byte(b.Body))
	h.Write([]byte("\x00"))
	h.Write([]byte(b.Title))
	h.Write([]byte("\x00"))
	tags := append([]string(nil), b.Tags...)
	sort.Strings(tags)
	h.Write([]byte(strings.Join(tags, ",")))
	return hex.EncodeToString(h.Sum(nil))
}

// NextID generates an id of the form KB-<YYYYMMDD>-<NNN> where NNN is a
// monotonic, zero-padded, per-day counter. The first id of a day continues
// from the highest KB-<YYYYMMDD>-<NNN> file already present (active or
// archived). Once the counter's three digits are exhausted in a single day,
// an 8-character uuid prefix takes the place of NNN rather than silently
// colliding.
func (s *Store) NextID(now time.Time) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	day := now.UTC().Format("20060102")
	if _, ok := s.dayCounter[day]; !ok {
		prefix := "KB-" + day + "-"
		for _, dir := range []string{s.Dir, filepath.Join(s.Dir, s.ArchiveSubdir)} {
			entries, _ := os.ReadDir(dir)
			for _, e := range entries {
				seq := strings.TrimSuffix(strings.TrimPrefix(e.Name(), prefix), ".md")
				if n, err := strconv.Atoi(seq); err == nil && strings.HasPrefix(e.Name(), prefix) && n > s.dayCounter[day] {
					s.dayCounter[day] = n
				}
			}
		}
	}
	s.dayCounter[day]++
	n := s.dayCounter[day]
	if n > 999 {
		return fmt.Sprintf("KB-%s-%s", day, uuid.NewString()[:8])
	}
	return fmt.Sprintf("KB-%s-%03d", day, n)
}

// Write atomically persists b: recomputes ContentHash, sets UpdatedAt, and
// writes via a temp file + rename so a crash never leaves a half-written
// block file behind.
func (s *Store) Write(b *types.KnowledgeBlock) error {
	if b.ID == "" {
		return cmerrors.New("block.Write", "", cmerrors.Invalid, fmt.Errorf("empty id"))
	}
	now := time.Now().UTC()
	if b.CreatedAt.IsZero() {
		b.CreatedAt = now
	}
	b.UpdatedAt = now
	b.ContentHash = contentHash(b)

	raw, err := encodeBlock(b)
	if err != nil {
		return cmerrors.New("block.Write", b.ID, cmerrors.Internal, err)
	}
	if err := s.atomicWrite(s.path(b.ID), raw); err != nil {
		return cmerrors.New("block.Write", b.ID, cmerrors.Internal, err)
	}
	return nil
}

func (s *Store) atomicWrite(path, content string) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	if _, err := tmp.WriteString(content); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	return os.Rename(tmpName, path)
}

// Read loads and parses the block with the given id. It does not
// distinguish archived from non-archived — callers that care check
// Archived, or use List which only enumerates non-archived ids.
func (s *Store) Read(id string) (*types.KnowledgeBlock, error) {
	path := s.path(id)
	if _, err := os.Stat(path); err != nil {
		path = s.archivePath(id)
		if _, err2 := os.Stat(path); err2 != nil {
			return nil, cmerrors.New("block.Read", id, cmerrors.NotFound, err)
		}
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, cmerrors.New("block.Read", id, cmerrors.Internal, err)
	}
	b, err := decodeBlock(string(data))
	if err != nil {
		return nil, cmerrors.New("block.Read", id, cmerrors.Corruption, err)
	}
	if b.ContentHash != "" && b.ContentHash != contentHash(b) {
		return nil, cmerrors.New("block.Read", id, cmerrors.Corruption, fmt.Errorf("content_hash mismatch"))
	}
	return b, nil
}

var idFilePattern = regexp.MustCompile(`^(.+)\.md$`)

// List enumerates non-archived block ids in deterministic (lexicographic,
// hence also chronological for KB-YYYYMMDD-NNN ids) order.
func (s *Store) List() ([]string, error) {
	entries, err := os.ReadDir(s.Dir)
	if err != nil {
		return nil, cmerrors.New("block.List", "", cmerrors.Internal, err)
	}
	seen := map[string]bool{}
	var ids []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		m := idFilePattern.FindStringSubmatch(e.Name())
		if m == nil {
			continue
		}
		if !seen[m[1]] {
			seen[m[1]] = true
			ids = append(ids, m[1])
		}
	}
	sort.Strings(ids)
	return ids, nil
}

// MoveToArchive renames id's file into the archive subdirectory and sets
// Archived = true in its frontmatter before the move, so the archived copy
// is self-describing.
func (s *Store) MoveToArchive(id string) error {
	b, err := s.Read(id)
	if err != nil {
		return err
	}
	if b.Archived {
		return nil
	}
	b.Archived = true
	raw, err := encodeBlock(b)
	if err != nil {
		return cmerrors.New("block.MoveToArchive", id, cmerrors.Internal, err)
	}
	src := s.path(id)
	if err := s.atomicWrite(src, raw); err != nil {
		return cmerrors.New("block.MoveToArchive", id, cmerrors.Internal, err)
	}
	if err := os.Rename(src, s.archivePath(id)); err != nil {
		return cmerrors.New("block.MoveToArchive", id, cmerrors.Internal, err)
	}
	logging.Info(subsystem, "archived %s", id)
	return nil
}

// RestoreFromArchive reverses MoveToArchive.
func (s *Store) RestoreFromArchive(id string) error {
	b, err := s.Read(id)
	if err != nil {
		return err
	}
	if !b.Archived {
		return nil
	}
	b.Archived = false
	raw, err := encodeBlock(b)
	if err != nil {
		return cmerrors.New("block.RestoreFromArchive", id, cmerrors.Internal, err)
	}
	src := s.archivePath(id)
	if err := s.atomicWrite(src, raw); err != nil {
		return cmerrors.New("block.RestoreFromArchive", id, cmerrors.Internal, err)
	}
	if err := os.Rename(src, s.path(id)); err != nil {
		return cmerrors.New("block.RestoreFromArchive", id, cmerrors.Internal, err)
	}
	logging.Info(subsystem, "restored %s", id)
	return nil
}

// RecordAccess increments AccessCount and sets LastAccess, rewriting only
// the frontmatter (the body is untouched, and ContentHash is recomputed over
// the unchanged body/title/tags so it still matches).
func (s *Store) RecordAccess(id string) error {
	b, err := s.Read(id)
	if err != nil {
		if cmerrors.Is(err, cmerrors.NotFound) {
			return err
		}
		return cmerrors.New("block.RecordAccess", id, cmerrors.NotFound, err)
	}
	b.AccessCount++
	b.LastAccess = time.Now().UTC()
	b.ContentHash = contentHash(b)
	raw, err := encodeBlock(b)
	if err != nil {
		return cmerrors.New("block.RecordAccess", id, cmerrors.Internal, err)
	}
	path := s.path(id)
	if b.Archived {
		path = s.archivePath(id)
	}
	if err := s.atomicWrite(path, raw); err != nil {
		return cmerrors.New("block.RecordAccess", id, cmerrors.Internal, err)
	}
	return nil
}
