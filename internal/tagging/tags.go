package tagging

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Tag is one AI-assigned topic label with its confidence.
type Tag struct {
	Tag        string  `json:"tag"`
	Confidence float64 `json:"confidence"`
}

// TagSet is the persisted form of a bill's tags.
type TagSet struct {
	Tags []Tag `json:"tags"`
}

// ParseTagSet decodes and validates stored or freshly generated tag JSON.
// The completion provider is not trusted to produce well-formed output, so
// anything that fails to decode, is empty, or carries an out-of-range
// confidence is rejected here rather than at display time.
func ParseTagSet(raw string) (TagSet, error) {
	// Models occasionally wrap the JSON in a markdown fence; strip it.
	raw = strings.TrimSpace(raw)
	raw = strings.TrimPrefix(raw, "```json")
	raw = strings.TrimPrefix(raw, "```")
	raw = strings.TrimSuffix(raw, "```")

	var ts TagSet
	if err := json.Unmarshal([]byte(raw), &ts); err != nil {
		return TagSet{}, fmt.Errorf("decoding tags: %w", err)
	}
	if len(ts.Tags) == 0 {
		return TagSet{}, fmt.Errorf("no tags in response")
	}
	for _, t := range ts.Tags {
		if t.Tag == "" {
			return TagSet{}, fmt.Errorf("empty tag name")
		}
		if t.Confidence < 0 || t.Confidence > 1 {
			return TagSet{}, fmt.Errorf("confidence %v out of range for tag %q", t.Confidence, t.Tag)
		}
	}
	return ts, nil
}

// Encode returns the canonical JSON persisted on the bill row.
func (ts TagSet) Encode() (string, error) {
	b, err := json.Marshal(ts)
	if err != nil {
		return "", fmt.Errorf("encoding tags: %w", err)
	}
	return string(b), nil
}

// Names flattens the set into a comma-joined list of tag names, the
// presentation form used by the bill list.
func (ts TagSet) Names() string {
	names := make([]string, len(ts.Tags))
	for i, t := range ts.Tags {
		names[i] = t.Tag
	}
	return strings.Join(names, ", ")
}
