// Package decay implements DecayManager: policy-driven archival based on
// access recency and frequency, with restoration back to active status.
package decay

import (
	"context"
	"time"

	"github.com/vthunder/cmemory/internal/block"
	"github.com/vthunder/cmemory/internal/embedding"
	"github.com/vthunder/cmemory/internal/logging"
	"github.com/vthunder/cmemory/internal/types"
	"github.com/vthunder/cmemory/internal/vector"
)

const subsystem = "decay"

// Params configures a single Evaluate invocation.
type Params struct {
	Policy            types.DecayPolicy
	TimeThresholdDays int
	UsageThreshold    float64
}

// Manager holds the collaborators DecayManager needs.
type Manager struct {
	Blocks   *block.Store
	Vectors  vector.Store
	Embedder embedding.Embedder
}

func New(blocks *block.Store, vectors vector.Store, embedder embedding.Embedder) *Manager {
	return &Manager{Blocks: blocks, Vectors: vectors, Embedder: embedder}
}

// Evaluate applies the given policy to every non-archived block and
// archives those that qualify, returning their ids.
func (m *Manager) Evaluate(ctx context.Context, p Params) ([]string, error) {
	ids, err := m.Blocks.List()
	if err != nil {
		return nil, err
	}

	blocks := make([]*types.KnowledgeBlock, 0, len(ids))
	var totalAccess int64
	for _, id := range ids {
		b, err := m.Blocks.Read(id)
		if err != nil {
			continue
		}
		blocks = append(blocks, b)
		totalAccess += b.AccessCount
	}

	now := time.Now().UTC()
	var archived []string
	for _, b := range blocks {
		if m.shouldArchive(b, p, now, totalAccess) {
			if err := m.archive(b.ID); err != nil {
				logging.Warn(subsystem, "failed to archive %s: %v", b.ID, err)
				continue
			}
			archived = append(archived, b.ID)
		}
	}
	return archived, nil
}

func (m *Manager) shouldArchive(b *types.KnowledgeBlock, p Params, now time.Time, totalAccess int64) bool {
	threshold := p.TimeThresholdDays
	if threshold <= 0 {
		threshold = 180
	}
	usageThreshold := p.UsageThreshold
	if usageThreshold <= 0 {
		usageThreshold = 0.01
	}

	timeTriggered := false
	if p.Policy == types.PolicyTime || p.Policy == types.PolicyBoth {
		cutoff := now.AddDate(0, 0, -threshold)
		if b.LastAccess.Before(cutoff) {
			timeTriggered = true
		}
	}
	if timeTriggered {
		return true
	}

	if p.Policy == types.PolicyUsage || p.Policy == types.PolicyBoth {
		denom := totalAccess
		if denom < 1 {
			denom = 1
		}
		ratio := float64(b.AccessCount) / float64(denom)
		if ratio < usageThreshold {
			return true
		}
	}
	return false
}

// archive performs the archival procedure: delete the vector entry first,
// then atomically relocate the file. Relationships are left untouched —
// they become implicitly hidden because the endpoint is archived.
func (m *Manager) archive(id string) error {
	if err := m.Vectors.Delete(id); err != nil {
		logging.Warn(subsystem, "vector delete failed for %s during archive: %v", id, err)
	}
	if err := m.Blocks.MoveToArchive(id); err != nil {
		return err
	}
	return nil
}

// RestoreFile relocates id's file back from the archive and returns the
// reloaded block — the fast, local half of Restore. Split out so a caller
// can run the embedding call that follows without holding a lock across it.
func (m *Manager) RestoreFile(id string) (*types.KnowledgeBlock, error) {
	if err := m.Blocks.RestoreFromArchive(id); err != nil {
		return nil, err
	}
	return m.Blocks.Read(id)
}

// Restore reverses archival: relocates the file back, then re-encodes the
// block so it regains a vector entry. Exposed for standalone callers;
// MemoryCore.RestoreArchived calls RestoreFile and the embedding step
// separately so the embedding call doesn't run under its per-id lock.
func (m *Manager) Restore(ctx context.Context, id string) error {
	b, err := m.RestoreFile(id)
	if err != nil {
		return err
	}
	emb, err := m.Embedder.Embed(ctx, b.Body)
	if err != nil {
		return err
	}
	return m.Vectors.Upsert(id, emb, types.VectorMetadata{
		Title:           b.Title,
		Tags:            b.Tags,
		InformationType: b.InformationType,
		ContentHash:     b.ContentHash,
	})
}
