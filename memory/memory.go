package memory

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// Source indicates how a memory came to exist.
type Source string

const (
	// SourceAuto marks memories created by the extraction pipeline.
	SourceAuto Source = "auto"

	// SourceManual marks memories a user pinned by hand. Manual memories
	// are never deleted or merged away by housekeeping.
	SourceManual Source = "manual"
)

const (
	// DefaultImportance is assigned when a classifier omits or mangles
	// the importance field.
	DefaultImportance = 0.5

	// ProtectedImportance is the importance at or above which a memory
	// is exempt from automated deletion.
	ProtectedImportance = 0.7

	// ProtectedAccessWindow is how recently a memory must have been
	// surfaced to count as "in use" and therefore protected.
	ProtectedAccessWindow = 3 * 30 * 24 * time.Hour
)

// Memory is the durable unit: one retrievable fact about a character or
// the user they talk to.
type Memory struct {
	ID          string
	CharacterID string

	// Provenance references, passed through but never interpreted here.
	ChatID          string
	PersonaID       string
	SourceMessageID string

	Content  string
	Summary  string
	Keywords []string

	// Importance is a durability score in [0,1]; higher survives longer.
	Importance float64

	Source Source

	// Embedding is set once vector generation succeeds; nil until then.
	Embedding []float32

	CreatedAt      time.Time
	LastAccessedAt *time.Time

	Tags []string
}

// New creates an auto-sourced memory from an accepted candidate.
func New(characterID string, c *Candidate) *Memory {
	return &Memory{
		ID:          uuid.New().String(),
		CharacterID: characterID,
		Content:     c.Content,
		Summary:     c.Summary,
		Keywords:    append([]string(nil), c.Keywords...),
		Importance:  c.ImportanceOrDefault(),
		Source:      SourceAuto,
		CreatedAt:   time.Now().UTC(),
	}
}

// NewManual creates a user-pinned memory. Manual memories start at
// protected importance so they also rank well in eviction scoring.
func NewManual(characterID, content, summary string, keywords []string) *Memory {
	return &Memory{
		ID:          uuid.New().String(),
		CharacterID: characterID,
		Content:     content,
		Summary:     summary,
		Keywords:    append([]string(nil), keywords...),
		Importance:  ProtectedImportance,
		Source:      SourceManual,
		CreatedAt:   time.Now().UTC(),
	}
}

// ClampImportance forces v into [0,1].
func ClampImportance(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// Protected reports whether housekeeping may never delete or merge away
// this memory: manual origin, high importance, or recent access.
func (m *Memory) Protected(now time.Time) bool {
	if m.Source == SourceManual {
		return true
	}
	if m.Importance >= ProtectedImportance {
		return true
	}
	if m.LastAccessedAt != nil && now.Sub(*m.LastAccessedAt) < ProtectedAccessWindow {
		return true
	}
	return false
}

// Touch records that the memory was surfaced to a consumer.
func (m *Memory) Touch(now time.Time) {
	t := now.UTC()
	m.LastAccessedAt = &t
}

// EmbeddingText returns the text surface used for embedding and
// duplicate comparison: summary first, then the full content.
func (m *Memory) EmbeddingText() string {
	return EmbeddingText(m.Summary, m.Content)
}

// EmbeddingText joins a summary and content the way every component
// embeds memories, so candidate and stored vectors are comparable.
func EmbeddingText(summary, content string) string {
	summary = strings.TrimSpace(summary)
	content = strings.TrimSpace(content)
	switch {
	case summary == "":
		return content
	case content == "":
		return summary
	default:
		return summary + "\n" + content
	}
}
