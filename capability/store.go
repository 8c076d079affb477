package capability

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// metaFileName is the required per-capability metadata file.
const metaFileName = "meta.json"

// crateDirName is the fixed subdirectory of root holding one directory per
// capability.
const crateDirName = "crates"

// metaDoc mirrors the on-disk meta.json schema from the capability ABI
// (spec §6): id and summary and binary are required; the rest are optional.
type metaDoc struct {
	ID               string    `json:"id"`
	Summary          string    `json:"summary"`
	Binary           string    `json:"binary"`
	Status           Status    `json:"status,omitempty"`
	ReplacedBy       string    `json:"replaced_by,omitempty"`
	DeprecatedReason string    `json:"deprecated_reason,omitempty"`
	Embedding        []float64 `json:"embedding,omitempty"`
}

// Load enumerates every capability under <root>/crates and materializes them
// into an ordered slice, in directory-listing order. A missing crates/
// directory is not an error — it yields an empty catalog. A crate directory
// without meta.json is silently skipped. A meta.json that fails to parse is
// fatal for the whole load (catalog integrity is an all-or-nothing startup
// concern, per spec §7 kind 1).
func Load(root string) (*Catalog, error) {
	cratesDir := filepath.Join(root, crateDirName)
	entries, err := os.ReadDir(cratesDir)
	if os.IsNotExist(err) {
		return NewCatalog(root, nil)
	}
	if err != nil {
		return nil, fmt.Errorf("capability: reading %s: %w", cratesDir, err)
	}

	var items []*Capability
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		dir := filepath.Join(cratesDir, entry.Name())
		metaPath := filepath.Join(dir, metaFileName)
		data, err := os.ReadFile(metaPath) //nolint:gosec
		if os.IsNotExist(err) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("capability: reading %s: %w", metaPath, err)
		}
		var doc metaDoc
		if err := json.Unmarshal(data, &doc); err != nil {
			return nil, fmt.Errorf("capability: parsing %s: %w", metaPath, err)
		}
		if doc.ID == "" {
			return nil, fmt.Errorf("capability: %s: missing required field %q", metaPath, "id")
		}
		if doc.Summary == "" {
			return nil, fmt.Errorf("capability: %s: missing required field %q", metaPath, "summary")
		}
		if doc.Binary == "" {
			return nil, fmt.Errorf("capability: %s: missing required field %q", metaPath, "binary")
		}
		items = append(items, &Capability{
			ID:               doc.ID,
			Summary:          doc.Summary,
			Binary:           doc.Binary,
			Embedding:        doc.Embedding,
			Status:           doc.Status,
			ReplacedBy:       doc.ReplacedBy,
			DeprecatedReason: doc.DeprecatedReason,
			dir:              dir,
		})
	}
	return NewCatalog(root, items)
}

// BinaryPath returns the absolute path to a capability's compiled artifact.
func (c *Catalog) BinaryPath(cap *Capability) string {
	return filepath.Join(cap.dir, cap.Binary)
}

// writeMeta atomically persists cap's current in-memory fields to its
// meta.json, via write-temp-then-rename so a concurrent reader never
// observes a partially-written file (spec §4.1: "Lifecycle writes must be
// atomic from the reader's perspective").
func writeMeta(cap *Capability) error {
	doc := metaDoc{
		ID:               cap.ID,
		Summary:          cap.Summary,
		Binary:           cap.Binary,
		Status:           cap.Status,
		ReplacedBy:       cap.ReplacedBy,
		DeprecatedReason: cap.DeprecatedReason,
		Embedding:        cap.Embedding,
	}
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("capability: marshaling meta for %s: %w", cap.ID, err)
	}

	final := filepath.Join(cap.dir, metaFileName)
	tmp, err := os.CreateTemp(cap.dir, metaFileName+".tmp-*")
	if err != nil {
		return fmt.Errorf("capability: creating temp meta for %s: %w", cap.ID, err)
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
		return fmt.Errorf("capability: writing temp meta for %s: %w", cap.ID, err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("capability: closing temp meta for %s: %w", cap.ID, err)
	}
	if err := os.Rename(tmpPath, final); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("capability: renaming temp meta for %s: %w", cap.ID, err)
	}
	return nil
}

// MarkLegacy transitions id to Legacy and records replacedBy, persisting the
// change to meta.json before updating the in-memory record (invariant I6: no
// return to Active; invariant I5: replacedBy must point at a live entry).
func (c *Catalog) MarkLegacy(id, replacedBy string) error {
	cap, ok := c.byID[id]
	if !ok {
		return fmt.Errorf("capability: mark legacy: unknown id %q", id)
	}
	if _, ok := c.byID[replacedBy]; !ok {
		return fmt.Errorf("capability: mark legacy: replacement id %q not in catalog", replacedBy)
	}
	prevStatus, prevReplacedBy := cap.Status, cap.ReplacedBy
	cap.Status = StatusLegacy
	cap.ReplacedBy = replacedBy
	if err := writeMeta(cap); err != nil {
		cap.Status, cap.ReplacedBy = prevStatus, prevReplacedBy
		return err
	}
	return nil
}

// MarkDeprecated transitions id to Deprecated, recording a free-text reason.
// Calling it twice is idempotent: the second call simply rewrites the same
// status and reason.
func (c *Catalog) MarkDeprecated(id, reason string) error {
	cap, ok := c.byID[id]
	if !ok {
		return fmt.Errorf("capability: mark deprecated: unknown id %q", id)
	}
	prevStatus, prevReason := cap.Status, cap.DeprecatedReason
	cap.Status = StatusDeprecated
	cap.DeprecatedReason = reason
	if err := writeMeta(cap); err != nil {
		cap.Status, cap.DeprecatedReason = prevStatus, prevReason
		return err
	}
	return nil
}

// UpdateMeta rewrites a capability's summary and ensures its status is
// Active — used by the synthesis pipeline when promoting a freshly built
// capability (spec §4.1).
func (c *Catalog) UpdateMeta(id, summary string) error {
	cap, ok := c.byID[id]
	if !ok {
		return fmt.Errorf("capability: update meta: unknown id %q", id)
	}
	prevSummary, prevStatus := cap.Summary, cap.Status
	cap.Summary = summary
	cap.Status = StatusActive
	if err := writeMeta(cap); err != nil {
		cap.Summary, cap.Status = prevSummary, prevStatus
		return err
	}
	return nil
}

// SetEmbedding caches an embedding vector for id, both in memory and on disk,
// so the router doesn't re-embed the same summary on every process restart.
func (c *Catalog) SetEmbedding(id string, vec []float64) error {
	cap, ok := c.byID[id]
	if !ok {
		return fmt.Errorf("capability: set embedding: unknown id %q", id)
	}
	prev := cap.Embedding
	cap.Embedding = vec
	if err := writeMeta(cap); err != nil {
		cap.Embedding = prev
		return err
	}
	return nil
}

// PromoteSuccessor confirms a Legacy capability's recorded successor as the
// definitive Active replacement. Used by the admin API for manual
// supersession outside the synth pipeline, which already marks its own new
// capability Active via UpdateMeta. It never resurrects id itself — id
// stays Legacy — and it refuses a successor that has itself left Active, so
// invariant I6 (no return to Active) still holds for the successor.
func (c *Catalog) PromoteSuccessor(id string) (*Capability, error) {
	cap, ok := c.byID[id]
	if !ok {
		return nil, fmt.Errorf("capability: promote: unknown id %q", id)
	}
	if cap.Status != StatusLegacy {
		return nil, fmt.Errorf("capability: promote: %q is not legacy (status %q)", id, cap.Status)
	}
	if cap.ReplacedBy == "" {
		return nil, fmt.Errorf("capability: promote: %q has no recorded successor", id)
	}
	successor, ok := c.byID[cap.ReplacedBy]
	if !ok {
		return nil, fmt.Errorf("capability: promote: successor %q not in catalog", cap.ReplacedBy)
	}
	if successor.IsActive() {
		return successor, nil
	}
	return nil, fmt.Errorf("capability: promote: successor %q has left Active (status %q) and cannot be promoted", cap.ReplacedBy, successor.Status)
}

// RegisterNew adds a freshly-scaffolded-and-built capability directory (one
// already containing a valid meta.json) to the in-memory catalog without a
// full reload. Used by the synthesis pipeline for the common case where only
// one new entry was added; Load remains the source of truth for a full
// rebuild after any external change.
func (c *Catalog) RegisterNew(dir string) (*Capability, error) {
	metaPath := filepath.Join(dir, metaFileName)
	data, err := os.ReadFile(metaPath) //nolint:gosec
	if err != nil {
		return nil, fmt.Errorf("capability: registering new capability: %w", err)
	}
	var doc metaDoc
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("capability: registering new capability: %w", err)
	}
	cap := &Capability{
		ID:               doc.ID,
		Summary:          doc.Summary,
		Binary:           doc.Binary,
		Embedding:        doc.Embedding,
		Status:           doc.Status,
		ReplacedBy:       doc.ReplacedBy,
		DeprecatedReason: doc.DeprecatedReason,
		dir:              dir,
	}
	if err := c.add(cap); err != nil {
		return nil, err
	}
	return cap, nil
}
