package domain

import "time"

// Metadata keys written by the save path.
const (
	MetaCreatedAt = "createdAt"
	MetaSource    = "source"
)

// DefaultSource is recorded when the caller does not name one.
const DefaultSource = "Unknown"

// DefaultTopK is the recall size when the caller passes zero or less.
const DefaultTopK = 3

// MemoryRecord is a stored memory as fetched back by ID.
type MemoryRecord struct {
	ID       string         `json:"id"`
	Text     string         `json:"text"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// RetrievedMatch is one recalled memory. Text is empty when the match
// metadata had no value under the configured text field.
type RetrievedMatch struct {
	ID       string         `json:"id"`
	Score    float64        `json:"score"`
	Text     string         `json:"text,omitempty"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// SaveRequest is the input of a save. An empty CustomID gets a generated ID.
type SaveRequest struct {
	Text     string         `json:"text"`
	Source   string         `json:"source,omitempty"`
	CustomID string         `json:"customId,omitempty"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// SaveResult reports a save. Kind is KindNone when Success is true.
type SaveResult struct {
	Success  bool      `json:"success"`
	Message  string    `json:"message"`
	RecordID string    `json:"recordId,omitempty"`
	Kind     ErrorKind `json:"kind"`
}

// RecallResult holds the matches of a recall, best first, and a warning
// when the recall degraded or found nothing.
type RecallResult struct {
	Matches []RetrievedMatch `json:"matches"`
	Warning string           `json:"warning,omitempty"`
	Kind    ErrorKind        `json:"kind"`
}

// Degraded reports whether the recall failed for a reason other than an
// empty result set.
func (r RecallResult) Degraded() bool {
	return r.Kind != KindNone && r.Kind != KindNoResults
}

type IndexStats struct {
	Dimension        int            `json:"dimension"`
	TotalRecordCount int            `json:"totalRecordCount"`
	IndexFullness    float64        `json:"indexFullness"`
	Namespaces       map[string]int `json:"namespaces,omitempty"`
	EmbedModel       string         `json:"embedModel,omitempty"`
	Region           string         `json:"region,omitempty"`
}

// CachedMemory is the display-only copy of a saved memory.
type CachedMemory struct {
	ID        string    `json:"id"`
	Text      string    `json:"text"`
	Source    string    `json:"source"`
	Namespace string    `json:"namespace,omitempty"`
	SavedAt   time.Time `json:"saved_at"`
}

// Document is a unit of bulk import: a file or a pasted blob.
type Document struct {
	ID      string
	Path    string
	ModTime time.Time
}

type Chunk struct {
	ID        string
	DocID     string
	StartLine int
	EndLine   int
	Tokens    []string
	Text      string
}

type PackedContext struct {
	Query        string    `json:"query"`
	BudgetTokens int       `json:"budget_tokens"`
	UsedTokens   int       `json:"used_tokens"`
	Snippets     []Snippet `json:"snippets"`
	Warning      string    `json:"warning,omitempty"`
}

type Snippet struct {
	ID     string  `json:"id"`
	Source string  `json:"source,omitempty"`
	Score  float64 `json:"score"`
	Text   string  `json:"text"`
}

// HealthReport is the outcome of an index connectivity check.
type HealthReport struct {
	Healthy     bool   `json:"healthy"`
	Message     string `json:"message"`
	RecordCount int    `json:"recordCount"`
}
