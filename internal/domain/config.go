package domain

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"
)

// ProjectConfig is an immutable snapshot of the remote configuration.
//
// A ProjectConfig with a nil Document is the "no config yet" sentinel.
// Every refresh produces a new instance; existing instances are never mutated.
type ProjectConfig struct {
	// Timestamp is when the config was fetched or last confirmed fresh
	Timestamp time.Time

	// ETag is the opaque version token of the origin, may be empty
	ETag string

	// Document is the parsed flag document
	Document Document

	// Raw holds the bytes Document was parsed from
	Raw json.RawMessage
}

// NewProjectConfig validates and parses raw into a new snapshot.
// An empty or null document is rejected with ErrEmptyDocument.
func NewProjectConfig(timestamp time.Time, raw []byte, etag string) (*ProjectConfig, error) {
	trimmed := bytes.TrimSpace(raw)
	if isEmptyDocument(trimmed) {
		return nil, NewValidationErrorWithCause("document has no content", ErrEmptyDocument)
	}

	if err := ValidateDocument(trimmed); err != nil {
		return nil, err
	}

	var doc Document
	if err := json.Unmarshal(trimmed, &doc); err != nil {
		return nil, NewValidationErrorWithCause("failed to decode document", err)
	}

	for key, def := range doc {
		if err := def.Validate(); err != nil {
			return nil, fmt.Errorf("flag %q: %w", key, err)
		}
	}

	rawCopy := make(json.RawMessage, len(trimmed))
	copy(rawCopy, trimmed)

	return &ProjectConfig{
		Timestamp: timestamp,
		ETag:      etag,
		Document:  doc,
		Raw:       rawCopy,
	}, nil
}

func isEmptyDocument(trimmed []byte) bool {
	return len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null"))
}

// IsEmpty reports whether the snapshot carries no document.
func (p *ProjectConfig) IsEmpty() bool {
	return p == nil || p.Document == nil
}

// Keys returns the sorted flag keys, or nil for an empty snapshot.
func (p *ProjectConfig) Keys() []string {
	if p.IsEmpty() {
		return nil
	}
	return p.Document.Keys()
}

// IsOlderThan reports whether the snapshot was taken before t.
// A nil snapshot is older than everything.
func (p *ProjectConfig) IsOlderThan(t time.Time) bool {
	if p == nil {
		return true
	}
	return p.Timestamp.Before(t)
}

// cacheEntry is the persisted (timestamp, etag, raw document) triple.
type cacheEntry struct {
	Timestamp int64           `json:"timestamp"`
	ETag      string          `json:"etag"`
	Config    json.RawMessage `json:"config,omitempty"`
}

// MarshalJSON encodes the snapshot as its cache entry triple.
func (p ProjectConfig) MarshalJSON() ([]byte, error) {
	return json.Marshal(cacheEntry{
		Timestamp: p.Timestamp.UnixMilli(),
		ETag:      p.ETag,
		Config:    p.Raw,
	})
}

// UnmarshalJSON restores a snapshot from its cache entry triple.
func (p *ProjectConfig) UnmarshalJSON(data []byte) error {
	var entry cacheEntry
	if err := json.Unmarshal(data, &entry); err != nil {
		return err
	}

	// entries written for an empty snapshot restore as the sentinel
	if isEmptyDocument(bytes.TrimSpace(entry.Config)) {
		*p = ProjectConfig{Timestamp: time.UnixMilli(entry.Timestamp), ETag: entry.ETag}
		return nil
	}

	restored, err := NewProjectConfig(time.UnixMilli(entry.Timestamp), entry.Config, entry.ETag)
	if err != nil {
		return err
	}

	*p = *restored
	return nil
}
