package block

import (
	"fmt"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/vthunder/cmemory/internal/types"
)

const frontmatterDelim = "---"

// frontmatter is the typed projection of a block's recognized keys, plus a
// catch-all for everything else. It mirrors the block file format's
// required keys (id, title, created) and optional keys.
type frontmatter struct {
	ID              string         `yaml:"id"`
	Title           string         `yaml:"title"`
	Tags            []string       `yaml:"tags,omitempty"`
	Created         string         `yaml:"created"`
	Updated         string         `yaml:"updated,omitempty"`
	ContentHash     string         `yaml:"content_hash,omitempty"`
	AccessCount     int64          `yaml:"access_count,omitempty"`
	LastAccess      string         `yaml:"last_access,omitempty"`
	InformationType string         `yaml:"information_type,omitempty"`
	Archived        bool           `yaml:"archived,omitempty"`
	Extra           map[string]any `yaml:",inline"`
}

// splitFrontmatter separates the leading "---\n...\n---\n" block from the
// free-text body. The frontmatter itself is line-scanned rather than parsed
// as part of a single YAML document, since the body below it is arbitrary
// text, not YAML.
func splitFrontmatter(raw string) (fm string, body string, err error) {
	lines := strings.Split(raw, "\n")
	if len(lines) == 0 || strings.TrimSpace(lines[0]) != frontmatterDelim {
		return "", "", fmt.Errorf("missing frontmatter delimiter")
	}
	for i := 1; i < len(lines); i++ {
		if strings.TrimSpace(lines[i]) == frontmatterDelim {
			fm = strings.Join(lines[1:i], "\n")
			body = strings.Join(lines[i+1:], "\n")
			body = strings.TrimPrefix(body, "\n")
			return fm, body, nil
		}
	}
	return "", "", fmt.Errorf("unterminated frontmatter block")
}

func parseTimestamp(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	return time.Parse(time.RFC3339, s)
}

// decodeBlock parses a full block file into a KnowledgeBlock. Unknown
// frontmatter keys land in Extra, round-tripping verbatim.
func decodeBlock(raw string) (*types.KnowledgeBlock, error) {
	fmText, body, err := splitFrontmatter(raw)
	if err != nil {
		return nil, err
	}

	var fm frontmatter
	if err := yaml.Unmarshal([]byte(fmText), &fm); err != nil {
		return nil, fmt.Errorf("parse frontmatter: %w", err)
	}

	if fm.ID == "" {
		return nil, fmt.Errorf("missing required frontmatter key: id")
	}
	if fm.Created == "" {
		return nil, fmt.Errorf("missing required frontmatter key: created")
	}

	created, err := parseTimestamp(fm.Created)
	if err != nil {
		return nil, fmt.Errorf("parse created: %w", err)
	}
	updated := created
	if fm.Updated != "" {
		updated, err = parseTimestamp(fm.Updated)
		if err != nil {
			return nil, fmt.Errorf("parse updated: %w", err)
		}
	}
	lastAccess := created
	if fm.LastAccess != "" {
		lastAccess, err = parseTimestamp(fm.LastAccess)
		if err != nil {
			return nil, fmt.Errorf("parse last_access: %w", err)
		}
	}

	infoType := types.Static
	if fm.InformationType != "" {
		infoType = types.InformationType(fm.InformationType)
	}

	b := &types.KnowledgeBlock{
		ID:              fm.ID,
		Title:           fm.Title,
		Body:            body,
		Tags:            fm.Tags,
		CreatedAt:       created,
		UpdatedAt:       updated,
		ContentHash:     fm.ContentHash,
		AccessCount:     fm.AccessCount,
		LastAccess:      lastAccess,
		InformationType: infoType,
		Archived:        fm.Archived,
		Extra:           fm.Extra,
	}
	return b, nil
}

// encodeBlock renders a KnowledgeBlock back to the on-disk file format.
func encodeBlock(b *types.KnowledgeBlock) (string, error) {
	fm := frontmatter{
		ID:              b.ID,
		Title:           b.Title,
		Tags:            b.Tags,
		Created:         b.CreatedAt.UTC().Format(time.RFC3339Nano),
		ContentHash:     b.ContentHash,
		AccessCount:     b.AccessCount,
		InformationType: string(b.InformationType),
		Archived:        b.Archived,
		Extra:           b.Extra,
	}
	if !b.UpdatedAt.IsZero() {
		fm.Updated = b.UpdatedAt.UTC().Format(time.RFC3339Nano)
	}
	if !b.LastAccess.IsZero() {
		fm.LastAccess = b.LastAccess.UTC().Format(time.RFC3339Nano)
	}

	fmBytes, err := yaml.Marshal(fm)
	if err != nil {
		return "", fmt.Errorf("encode frontmatter: %w", err)
	}

	var out strings.Builder
	out.WriteString(frontmatterDelim)
	out.WriteString("\n")
	out.Write(fmBytes)
	out.WriteString(frontmatterDelim)
	out.WriteString("\n\n")
	out.WriteString(b.Body)
	return out.String(), nil
}
