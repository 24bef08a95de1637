package registry

import (
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/glorpus-work/modkit/internal/logger"
	"github.com/glorpus-work/modkit/pkg/errors"
	"github.com/glorpus-work/modkit/pkg/integrity"
)

// Registry is the in-memory view of resource records and the blocklist,
// optionally backed by a Store. All methods are safe for concurrent use;
// a Block or Unblock is visible to every reader once it returns.
type Registry struct {
	mu        sync.RWMutex
	resources map[string]*ResourceMetadata // by content id
	blocked   map[string]string            // content id to reason
	store     *Store
}

// New creates a registry. When store is non-nil its records are loaded and
// every change is written through. Records with an unsupported schema
// version are skipped.
func New(store *Store) (*Registry, error) {
	r := &Registry{
		resources: make(map[string]*ResourceMetadata),
		blocked:   make(map[string]string),
		store:     store,
	}
	if store == nil {
		return r, nil
	}

	records, err := store.LoadResources()
	if err != nil {
		return nil, err
	}
	for _, m := range records {
		if err := m.CheckSchema(); err != nil {
			logger.Warn("Skipping registry record", logger.Fields{"content_id": m.ContentID, "error": err.Error()})
			continue
		}
		r.resources[m.ContentID] = m
	}
	blocks, err := store.LoadBlocks()
	if err != nil {
		return nil, err
	}
	r.blocked = blocks
	return r, nil
}

// Lookup returns a copy of the record for contentID.
func (r *Registry) Lookup(contentID string) (*ResourceMetadata, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.resources[contentID]
	if !ok {
		return nil, false
	}
	return m.clone(), true
}

// ByMetadataHash returns the record with the given metadata hash.
func (r *Registry) ByMetadataHash(hash string) (*ResourceMetadata, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, m := range r.resources {
		if m.MetadataHash() == hash {
			return m.clone(), true
		}
	}
	return nil, false
}

// All returns copies of every record ordered by content id.
func (r *Registry) All() []*ResourceMetadata {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*ResourceMetadata, 0, len(r.resources))
	for _, m := range r.resources {
		out = append(out, m.clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ContentID < out[j].ContentID })
	return out
}

// Snapshot returns the records keyed by metadata hash.
func (r *Registry) Snapshot() map[string]ResourceMetadata {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]ResourceMetadata, len(r.resources))
	for _, m := range r.resources {
		out[m.MetadataHash()] = *m.clone()
	}
	return out
}

// Declaration is what a plan states about a resource before it is fetched.
type Declaration struct {
	URL      string
	FileName string
	Handler  map[string]string
}

// Declare registers a resource before it is fetched. An existing record
// keeps its URL and file name; a different declared name is remembered in
// KnownNames and new handler keys are added.
func (r *Registry) Declare(contentID string, d Declaration) (*ResourceMetadata, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	m := &ResourceMetadata{ContentID: contentID, SchemaVersion: SchemaVersion}
	if existing, ok := r.resources[contentID]; ok {
		m = existing.clone()
	}
	if m.FirstSeen.IsZero() {
		m.FirstSeen = time.Now().UTC()
	}
	if m.URL == "" {
		m.URL = d.URL
	}
	if m.FileName == "" {
		m.FileName = d.FileName
	}
	if d.FileName != "" {
		if m.KnownNames == nil {
			m.KnownNames = make(map[string]NameStatus)
		}
		if _, ok := m.KnownNames[d.FileName]; !ok {
			m.KnownNames[d.FileName] = NameUnknown
		}
	}
	for k, v := range d.Handler {
		if m.HandlerMetadata == nil {
			m.HandlerMetadata = make(map[string]string)
		}
		if _, ok := m.HandlerMetadata[k]; !ok {
			m.HandlerMetadata[k] = v
		}
	}
	if err := r.persistLocked(m); err != nil {
		return nil, err
	}
	r.resources[contentID] = m
	return m.clone(), nil
}

// MarkName records what is known about one of a resource's file names.
func (r *Registry) MarkName(contentID, name string, status NameStatus) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.resources[contentID]
	if !ok {
		return errors.Wrapf(errors.ErrResourceNotFound, "%s", contentID)
	}
	updated := m.clone()
	if updated.KnownNames == nil {
		updated.KnownNames = make(map[string]NameStatus)
	}
	updated.KnownNames[name] = status
	if err := r.persistLocked(updated); err != nil {
		return err
	}
	r.resources[contentID] = updated
	return nil
}

// RecordDigest stores the digest observed for contentID and adjusts trust.
// A digest matching the stored one promotes the record; a different digest
// replaces it and resets trust to TrustObserved.
func (r *Registry) RecordDigest(contentID string, d integrity.Digest) (*ResourceMetadata, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	m, ok := r.resources[contentID]
	if !ok {
		return nil, errors.Wrapf(errors.ErrResourceNotFound, "%s", contentID)
	}
	updated := m.clone()
	now := time.Now().UTC()

	switch {
	case updated.Digest.SHA256 == "":
		updated.Digest = d
		updated.Trust = TrustObserved
		updated.Confirmations = 1
		updated.FetchedAt = now
	case strings.EqualFold(updated.Digest.SHA256, d.SHA256):
		if len(updated.Digest.Pieces) == 0 {
			updated.Digest = d
		}
		updated.Confirmations++
		updated.Trust = promote(updated.Confirmations)
		updated.VerifiedAt = now
	default:
		logger.Warn("Resource digest changed", logger.Fields{
			"content_id": contentID,
			"previous":   updated.Digest.SHA256,
			"current":    d.SHA256,
		})
		updated.Digest = d
		updated.Trust = TrustObserved
		updated.Confirmations = 1
		updated.FetchedAt = now
		updated.VerifiedAt = time.Time{}
	}

	if err := r.persistLocked(updated); err != nil {
		return nil, err
	}
	r.resources[contentID] = updated
	return updated.clone(), nil
}

// ResetTrust drops contentID back to TrustUnverified, for example after a
// failed re-verification.
func (r *Registry) ResetTrust(contentID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.resources[contentID]
	if !ok {
		return errors.Wrapf(errors.ErrResourceNotFound, "%s", contentID)
	}
	updated := m.clone()
	updated.Trust = TrustUnverified
	updated.Confirmations = 0
	if err := r.persistLocked(updated); err != nil {
		return err
	}
	r.resources[contentID] = updated
	return nil
}

// Remove deletes the record for contentID.
func (r *Registry) Remove(contentID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.store != nil {
		if err := r.store.DeleteResource(contentID); err != nil {
			return err
		}
	}
	delete(r.resources, contentID)
	return nil
}

// Block rejects contentID from now on.
func (r *Registry) Block(contentID, reason string) error {
	if strings.TrimSpace(reason) == "" {
		reason = "blocked"
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.store != nil {
		if err := r.store.SaveBlock(contentID, reason); err != nil {
			return err
		}
	}
	r.blocked[contentID] = reason
	logger.Info("Blocked resource", logger.Fields{"content_id": contentID, "reason": reason})
	return nil
}

// Unblock lifts a block. Unknown ids are ignored.
func (r *Registry) Unblock(contentID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.store != nil {
		if err := r.store.DeleteBlock(contentID); err != nil {
			return err
		}
	}
	delete(r.blocked, contentID)
	return nil
}

// IsBlocked reports whether contentID is blocked and why.
func (r *Registry) IsBlocked(contentID string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	reason, ok := r.blocked[contentID]
	return reason, ok
}

// CheckBlocked returns an error wrapping ErrResourceBlocked when contentID
// is blocked.
func (r *Registry) CheckBlocked(contentID string) error {
	if reason, ok := r.IsBlocked(contentID); ok {
		return errors.Wrapf(errors.ErrResourceBlocked, "%s: %s", contentID, reason)
	}
	return nil
}

// Blocked returns a copy of the blocklist.
func (r *Registry) Blocked() map[string]string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]string, len(r.blocked))
	for k, v := range r.blocked {
		out[k] = v
	}
	return out
}

func (r *Registry) persistLocked(m *ResourceMetadata) error {
	if r.store == nil {
		return nil
	}
	return r.store.SaveResource(m)
}

func promote(confirmations int) TrustLevel {
	switch {
	case confirmations >= confirmationsForConfirmed:
		return TrustConfirmed
	case confirmations >= 2:
		return TrustVerified
	case confirmations == 1:
		return TrustObserved
	default:
		return TrustUnverified
	}
}
