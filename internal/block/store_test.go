package block

import (
	"os"
	"testing"
	"time"

	"github.com/vthunder/cmemory/internal/cmerrors"
	"github.com/vthunder/cmemory/internal/types"
)

func setupStore(t *testing.T) *Store {
	t.Helper()
	dir, err := os.MkdirTemp("", "cmemory-block-*")
	if err != nil {
		t.Fatalf("MkdirTemp: %v", err)
	}
	t.Cleanup(func() { os.RemoveAll(dir) })
	s, err := New(dir, "archive")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return s
}

func TestWriteReadRoundTrip(t *testing.T) {
	s := setupStore(t)
	b := &types.KnowledgeBlock{
		ID:    "KB-20260101-001",
		Title: "NMN precursor of NAD",
		Body:  "NMN is a precursor in the NAD salvage pathway.",
		Tags:  []string{"longevity", "nad"},
	}
	if err := s.Write(b); err != nil {
		t.Fatalf("Write: %v", err)
	}

	got, err := s.Read(b.ID)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if got.Title != b.Title || got.Body != b.Body {
		t.Fatalf("round trip mismatch: got %+v", got)
	}
	if got.ContentHash == "" {
		t.Fatalf("expected content hash to be set")
	}
}

func TestRecordAccessIncrements(t *testing.T) {
	s := setupStore(t)
	b := &types.KnowledgeBlock{ID: "KB-20260101-002", Title: "t", Body: "b"}
	if err := s.Write(b); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := s.RecordAccess(b.ID); err != nil {
		t.Fatalf("RecordAccess: %v", err)
	}
	got, err := s.Read(b.ID)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if got.AccessCount != 1 {
		t.Fatalf("expected access count 1, got %d", got.AccessCount)
	}
	if got.LastAccess.Before(b.CreatedAt) {
		t.Fatalf("last_access should not be before created_at")
	}
}

func TestArchiveRestore(t *testing.T) {
	s := setupStore(t)
	b := &types.KnowledgeBlock{ID: "KB-20260101-003", Title: "t", Body: "b"}
	if err := s.Write(b); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := s.MoveToArchive(b.ID); err != nil {
		t.Fatalf("MoveToArchive: %v", err)
	}
	ids, err := s.List()
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	for _, id := range ids {
		if id == b.ID {
			t.Fatalf("archived block %s should not be listed", b.ID)
		}
	}
	got, err := s.Read(b.ID)
	if err != nil {
		t.Fatalf("Read archived: %v", err)
	}
	if !got.Archived {
		t.Fatalf("expected archived = true")
	}
	if err := s.RestoreFromArchive(b.ID); err != nil {
		t.Fatalf("RestoreFromArchive: %v", err)
	}
	got, err = s.Read(b.ID)
	if err != nil {
		t.Fatalf("Read restored: %v", err)
	}
	if got.Archived {
		t.Fatalf("expected archived = false after restore")
	}
}

func TestReadMissingIsNotFound(t *testing.T) {
	s := setupStore(t)
	_, err := s.Read("KB-20260101-999")
	if !cmerrors.Is(err, cmerrors.NotFound) {
		t.Fatalf("expected NotFound, got %v", err)
	}
}

func TestNextIDMonotonicPerDay(t *testing.T) {
	s := setupStore(t)
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	first := s.NextID(now)
	second := s.NextID(now)
	if first == second {
		t.Fatalf("expected distinct ids, got %s twice", first)
	}
	if first != "KB-20260101-001" || second != "KB-20260101-002" {
		t.Fatalf("unexpected id format: %s, %s", first, second)
	}
}
