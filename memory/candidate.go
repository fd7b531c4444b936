package memory

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Candidate is the transient output of one classification call. It is
// never persisted; a candidate only becomes a Memory once it is marked
// significant and survives the duplicate check.
type Candidate struct {
	Significant bool     `json:"significant"`
	Content     string   `json:"content"`
	Summary     string   `json:"summary"`
	Keywords    []string `json:"keywords"`

	// Importance is a pointer so an omitted field is distinguishable
	// from an explicit zero. Classifiers routinely drop it.
	Importance *float64 `json:"importance"`
}

// UnmarshalJSON decodes a candidate with a lenient importance field.
// Classifiers emit numbers, quoted numbers, or labels like "high"; only
// a usable number is kept. Anything else leaves Importance nil so the
// fact survives with the default instead of being discarded.
func (c *Candidate) UnmarshalJSON(data []byte) error {
	var raw struct {
		Significant bool            `json:"significant"`
		Content     string          `json:"content"`
		Summary     string          `json:"summary"`
		Keywords    []string        `json:"keywords"`
		Importance  json.RawMessage `json:"importance"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	c.Significant = raw.Significant
	c.Content = raw.Content
	c.Summary = raw.Summary
	c.Keywords = raw.Keywords
	c.Importance = parseImportance(raw.Importance)
	return nil
}

func parseImportance(raw json.RawMessage) *float64 {
	// Unmarshalling JSON null into a float64 is a silent no-op, which
	// would read as an explicit zero; treat it as absent instead.
	if trimmed := strings.TrimSpace(string(raw)); trimmed == "" || trimmed == "null" {
		return nil
	}
	var v float64
	if err := json.Unmarshal(raw, &v); err == nil {
		return &v
	}
	// Tolerate a quoted number ("0.8"); any other string is dropped.
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		if f, err := strconv.ParseFloat(strings.TrimSpace(s), 64); err == nil {
			return &f
		}
	}
	return nil
}

// ImportanceOrDefault returns the clamped importance, or
// DefaultImportance when the classifier left it out.
func (c *Candidate) ImportanceOrDefault() float64 {
	if c.Importance == nil {
		return DefaultImportance
	}
	return ClampImportance(*c.Importance)
}

// ParseCandidate parses a single classification response. Models wrap
// JSON in fenced code blocks often enough that stripping fences first is
// table stakes; anything unparseable after that is a parse error the
// caller maps to "not significant".
func ParseCandidate(raw string) (*Candidate, error) {
	cleaned := StripCodeFence(raw)
	var c Candidate
	if err := json.Unmarshal([]byte(cleaned), &c); err != nil {
		return nil, fmt.Errorf("parse candidate: %w", err)
	}
	return &c, nil
}

// ParseCandidates parses a batched classification response: a JSON array
// with one candidate per input exchange, in order.
func ParseCandidates(raw string) ([]*Candidate, error) {
	cleaned := StripCodeFence(raw)
	var cs []*Candidate
	if err := json.Unmarshal([]byte(cleaned), &cs); err != nil {
		return nil, fmt.Errorf("parse candidate list: %w", err)
	}
	return cs, nil
}

// StripCodeFence removes a wrapping ``` or ```json fence if present.
// The inner text is returned unchanged otherwise.
func StripCodeFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	// Drop a language tag on the opening fence line.
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		first := strings.TrimSpace(s[:i])
		if first == "json" || first == "" {
			s = s[i+1:]
		}
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}
