package http

import (
	"errors"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// ErrArtifactNotFound is returned for names that were never stored or have
// expired.
var ErrArtifactNotFound = errors.New("artifact not found")

// Artifact is a generated workbook held for download.
type Artifact struct {
	Name      string
	BatchID   string
	Data      []byte
	CreatedAt time.Time
}

// ArtifactStore keeps recent workbooks in memory, bounded by count and age.
type ArtifactStore struct {
	mu    sync.Mutex
	cache *expirable.LRU[string, Artifact]
	now   func() time.Time
}

// NewArtifactStore creates a store holding at most maxEntries artifacts for
// ttl each.
func NewArtifactStore(maxEntries int, ttl time.Duration) (*ArtifactStore, error) {
	if maxEntries < 1 {
		return nil, errors.New("artifact store needs at least one entry")
	}
	if ttl <= 0 {
		return nil, errors.New("artifact ttl must be positive")
	}
	return &ArtifactStore{
		cache: expirable.NewLRU[string, Artifact](maxEntries, nil, ttl),
		now:   time.Now,
	}, nil
}

// Put stores data under name and returns the name it was stored under. A
// name already held by another batch gets a short batch-id suffix.
func (s *ArtifactStore) Put(batchID, name string, data []byte) string {
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.cache.Peek(name); ok && existing.BatchID != batchID {
		ext := filepath.Ext(name)
		name = strings.TrimSuffix(name, ext) + "_" + shortID(batchID) + ext
	}
	s.cache.Add(name, Artifact{
		Name:      name,
		BatchID:   batchID,
		Data:      data,
		CreatedAt: s.now().UTC(),
	})
	return name
}

// Get returns the artifact stored under name.
func (s *ArtifactStore) Get(name string) (Artifact, error) {
	a, ok := s.cache.Get(name)
	if !ok {
		return Artifact{}, ErrArtifactNotFound
	}
	return a, nil
}

// Len reports how many unexpired artifacts are held.
func (s *ArtifactStore) Len() int {
	return s.cache.Len()
}

func shortID(id string) string {
	id = strings.ReplaceAll(id, "-", "")
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
