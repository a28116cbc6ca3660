package buildctx

import (
	"maps"
	"slices"
	"sync"
)

// Artifacts is the read-only view of a Store handed to steps.
type Artifacts interface {
	Artifact(key string) (any, bool)
	Metadata(key string) (any, bool)
	ArtifactKeys() []string
}

// Store is the artifact and metadata store of one run. Keys are only ever
// added or overwritten, never removed. Only the runner writes to it, and
// only between steps; the mutex serializes writes for the universal build
// path where sub-runs merge into a parent store.
type Store struct {
	mu        sync.RWMutex
	artifacts map[string]any
	metadata  map[string]any
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{
		artifacts: make(map[string]any),
		metadata:  make(map[string]any),
	}
}

// Artifact returns the value recorded for key.
func (s *Store) Artifact(key string) (any, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.artifacts[key]
	return v, ok
}

// Metadata returns the metadata value recorded for key.
func (s *Store) Metadata(key string) (any, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.metadata[key]
	return v, ok
}

// ArtifactKeys returns the recorded artifact keys, sorted.
func (s *Store) ArtifactKeys() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Sorted(maps.Keys(s.artifacts))
}

// Snapshot returns copies of both maps.
func (s *Store) Snapshot() (artifacts, metadata map[string]any) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return maps.Clone(s.artifacts), maps.Clone(s.metadata)
}

// Merge records the outputs of a successful step.
func (s *Store) Merge(artifacts, metadata map[string]any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	maps.Copy(s.artifacts, artifacts)
	maps.Copy(s.metadata, metadata)
}

// ArchKey is the key under which a per-architecture sub-build's artifact is
// merged into a universal store.
func ArchKey(key string, arch Arch) string {
	return key + "@" + string(arch)
}

// MergeArch merges every artifact of sub into s under ArchKey. Metadata keys
// are suffixed the same way.
func (s *Store) MergeArch(sub *Store, arch Arch) {
	artifacts, metadata := sub.Snapshot()
	suffixed := make(map[string]any, len(artifacts))
	for k, v := range artifacts {
		suffixed[ArchKey(k, arch)] = v
	}
	meta := make(map[string]any, len(metadata))
	for k, v := range metadata {
		meta[ArchKey(k, arch)] = v
	}
	s.Merge(suffixed, meta)
}

// BuildContext pairs the immutable parameters of a run with its store.
type BuildContext struct {
	Params Params
	Store  *Store
}

// New creates a BuildContext with an empty store.
func New(params Params) *BuildContext {
	return &BuildContext{Params: params, Store: NewStore()}
}
