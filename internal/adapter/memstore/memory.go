package memstore

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"chromamcp/internal/adapter/embedding"
	"chromamcp/internal/domain"
	"chromamcp/internal/port"
)

// Change describes one collection touched by a write. Snapshot is nil when
// the collection was removed. RenamedFrom names the previous key of a
// renamed collection.
type Change struct {
	Name        string
	Snapshot    *domain.CollectionSnapshot
	RenamedFrom string
}

// Observer is told about every write while the store's write lock is still
// held. All changes of one operation arrive in a single call. When it fails
// the operation is rolled back in memory and its error returned.
type Observer func(changes []Change) error

// MemoryStore keeps every collection in process memory behind a single
// readers/writer lock.
type MemoryStore struct {
	mu          sync.RWMutex
	collections map[string]*collection
	order       []string
	embedder    port.Embedder
	observer    Observer
	generation  uint64
	now         func() time.Time
}

type collection struct {
	name     string
	metadata domain.Metadata
	docs     map[string]*domain.Document
	order    []string
}

type Option func(*MemoryStore)

// WithClock overrides the time source used for document timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *MemoryStore) { s.now = now }
}

// WithObserver installs a hook that runs after each write.
func WithObserver(o Observer) Option {
	return func(s *MemoryStore) { s.observer = o }
}

func NewMemoryStore(embedder port.Embedder, opts ...Option) *MemoryStore {
	if embedder == nil {
		embedder = embedding.NewLengthEmbedder()
	}
	s := &MemoryStore{
		collections: make(map[string]*collection),
		embedder:    embedder,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func newCollection(name string, metadata domain.Metadata) *collection {
	return &collection{
		name:     name,
		metadata: metadata,
		docs:     make(map[string]*domain.Document),
	}
}

// SetObserver replaces the write hook.
func (s *MemoryStore) SetObserver(o Observer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.observer = o
}

// Restore loads snapshots without notifying the observer. Existing
// collections with the same names are replaced.
func (s *MemoryStore) Restore(snaps []domain.CollectionSnapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, snap := range snaps {
		c := newCollection(snap.Name, snap.Metadata)
		for i := range snap.Documents {
			doc := snap.Documents[i]
			if doc.Metadata == nil {
				doc.Metadata = domain.Metadata{}
			}
			if _, dup := c.docs[doc.ID]; !dup {
				c.order = append(c.order, doc.ID)
			}
			c.docs[doc.ID] = &doc
		}
		if _, exists := s.collections[snap.Name]; !exists {
			s.order = append(s.order, snap.Name)
		}
		s.collections[snap.Name] = c
	}
	s.generation++
}

func (s *MemoryStore) ListCollections(limit, offset int) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if offset < 0 {
		offset = 0
	}
	if offset >= len(s.order) {
		return []string{}
	}
	names := s.order[offset:]
	if limit > 0 && limit < len(names) {
		names = names[:limit]
	}
	return append([]string(nil), names...)
}

func (s *MemoryStore) CreateCollection(name string, metadata domain.Metadata) error {
	if name == "" {
		return fmt.Errorf("collection name must not be empty")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	u := s.saveLocked(name)
	s.putLocked(newCollection(name, metadata))
	return s.commitLocked(u, Change{Name: name})
}

func (s *MemoryStore) DeleteCollection(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.collections[name]; !ok {
		return nil
	}
	u := s.saveLocked(name)
	delete(s.collections, name)
	s.order = removeString(s.order, name)
	return s.commitLocked(u, Change{Name: name})
}

func (s *MemoryStore) GetCollection(name string) (port.Collection, error) {
	if name == "" {
		return nil, fmt.Errorf("collection name must not be empty")
	}

	s.mu.RLock()
	_, ok := s.collections[name]
	s.mu.RUnlock()

	if !ok {
		s.mu.Lock()
		// Another writer may have created it between the two locks.
		if _, ok := s.collections[name]; !ok {
			u := s.saveLocked(name)
			s.putLocked(newCollection(name, nil))
			if err := s.commitLocked(u, Change{Name: name}); err != nil {
				s.mu.Unlock()
				return nil, err
			}
		}
		s.mu.Unlock()
	}

	return &Collection{name: name, store: s}, nil
}

func (s *MemoryStore) RenameCollection(oldName, newName string) error {
	if newName == "" {
		return fmt.Errorf("collection name must not be empty")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.collections[oldName]; !ok {
		return fmt.Errorf("%w: %s", port.ErrCollectionNotFound, oldName)
	}
	if oldName == newName {
		return nil
	}
	if _, exists := s.collections[newName]; exists {
		return fmt.Errorf("%w: %s", port.ErrCollectionExists, newName)
	}

	u := s.saveLocked(oldName, newName)
	s.renameLocked(oldName, newName)
	return s.commitLocked(u, Change{Name: oldName}, Change{Name: newName, RenamedFrom: oldName})
}

// renameLocked rekeys an existing collection onto a free name. The caller
// checks both names and commits.
func (s *MemoryStore) renameLocked(oldName, newName string) {
	c := s.collections[oldName]
	delete(s.collections, oldName)
	c.name = newName
	s.collections[newName] = c
	for i, n := range s.order {
		if n == oldName {
			s.order[i] = newName
			break
		}
	}
}

func (s *MemoryStore) Generation() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.generation
}

// putLocked inserts or replaces c, keeping the listing position of a
// replaced collection.
func (s *MemoryStore) putLocked(c *collection) {
	if _, exists := s.collections[c.name]; !exists {
		s.order = append(s.order, c.name)
	}
	s.collections[c.name] = c
}

// undo holds what a write is about to change, so a failed commit can put it
// back. A nil entry in colls means the collection did not exist.
type undo struct {
	order []string
	colls map[string]*collection
}

// saveLocked records the listing and the named collections before a write.
// Without an observer no commit can fail, so nothing is recorded.
func (s *MemoryStore) saveLocked(names ...string) *undo {
	if s.observer == nil {
		return nil
	}
	u := &undo{
		order: append([]string(nil), s.order...),
		colls: make(map[string]*collection, len(names)),
	}
	for _, name := range names {
		if c, ok := s.collections[name]; ok {
			u.colls[name] = c.clone()
		} else {
			u.colls[name] = nil
		}
	}
	return u
}

func (s *MemoryStore) rollbackLocked(u *undo) {
	s.order = u.order
	for name, c := range u.colls {
		if c == nil {
			delete(s.collections, name)
		} else {
			s.collections[name] = c
		}
	}
}

// commitLocked bumps the generation and forwards the changes to the
// observer, restoring u when the observer fails.
func (s *MemoryStore) commitLocked(u *undo, changes ...Change) error {
	s.generation++
	if s.observer == nil {
		return nil
	}
	for i := range changes {
		if c, ok := s.collections[changes[i].Name]; ok {
			cs := c.snapshot()
			changes[i].Snapshot = &cs
		}
	}
	if err := s.observer(changes); err != nil {
		if u != nil {
			s.rollbackLocked(u)
		}
		return fmt.Errorf("failed to persist collection %s: %w", changes[len(changes)-1].Name, err)
	}
	return nil
}

// clone copies the document index. Documents themselves are never mutated
// in place, so the pointers can be shared.
func (c *collection) clone() *collection {
	docs := make(map[string]*domain.Document, len(c.docs))
	for id, d := range c.docs {
		docs[id] = d
	}
	return &collection{
		name:     c.name,
		metadata: c.metadata,
		docs:     docs,
		order:    append([]string(nil), c.order...),
	}
}

func (c *collection) snapshot() domain.CollectionSnapshot {
	docs := make([]domain.Document, 0, len(c.order))
	for _, id := range c.order {
		docs = append(docs, *c.docs[id])
	}
	return domain.CollectionSnapshot{
		Name:      c.name,
		Metadata:  c.metadata,
		Documents: docs,
	}
}

// Collection is a name-keyed handle onto a MemoryStore collection.
type Collection struct {
	name  string
	store *MemoryStore
}

func (h *Collection) Name() string {
	return h.name
}

func (h *Collection) Add(req port.AddRequest) error {
	s := h.store
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.collections[h.name]
	if !ok {
		return nil
	}

	u := s.saveLocked(h.name)
	now := s.now()
	for i, content := range req.Contents {
		id := fmt.Sprintf("doc_%d", i)
		if i < len(req.IDs) {
			id = req.IDs[i]
		}

		metadata := domain.Metadata{}
		if i < len(req.Metadatas) && req.Metadatas[i] != nil {
			metadata = req.Metadatas[i]
		}

		var vec []float32
		if i < len(req.Embeddings) && req.Embeddings[i] != nil {
			vec = req.Embeddings[i]
		} else {
			vec = s.embedder.Embed(content)
		}

		doc := &domain.Document{
			ID:        id,
			Content:   content,
			Metadata:  metadata,
			Embedding: vec,
			CreatedAt: now,
			UpdatedAt: now,
		}
		if existing, ok := c.docs[id]; ok {
			doc.CreatedAt = existing.CreatedAt
		} else {
			c.order = append(c.order, id)
		}
		c.docs[id] = doc
	}

	return s.commitLocked(u, Change{Name: h.name})
}

func (h *Collection) Query(req port.QueryRequest) (domain.QueryResult, error) {
	s := h.store
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.collections[h.name]
	if !ok || len(c.order) == 0 || len(req.QueryTexts) == 0 {
		return domain.EmptyQueryResult(), nil
	}

	// Only the first query text is evaluated. Where filters are not applied.
	query := s.embedder.Embed(req.QueryTexts[0])

	type scored struct {
		doc *domain.Document
		sim float64
	}
	scores := make([]scored, 0, len(c.order))
	for _, id := range c.order {
		doc := c.docs[id]
		scores = append(scores, scored{doc: doc, sim: embedding.CosineSimilarity(query, doc.Embedding)})
	}

	// Stable so that equal similarities keep insertion order.
	sort.SliceStable(scores, func(i, j int) bool {
		return scores[i].sim > scores[j].sim
	})

	k := req.NResults
	if k < 0 {
		k = 0
	}
	if k > len(scores) {
		k = len(scores)
	}

	ids := make([]string, k)
	docs := make([]string, k)
	metas := make([]domain.Metadata, k)
	dists := make([]float64, k)
	vecs := make([][]float32, k)
	for i := 0; i < k; i++ {
		d := scores[i].doc
		ids[i] = d.ID
		docs[i] = d.Content
		metas[i] = d.Metadata
		dists[i] = 1 - scores[i].sim
		vecs[i] = d.Embedding
	}

	return domain.QueryResult{
		IDs:        [][]string{ids},
		Documents:  [][]string{docs},
		Metadatas:  [][]domain.Metadata{metas},
		Distances:  [][]float64{dists},
		Embeddings: [][][]float32{vecs},
	}, nil
}

// Get returns documents in insertion order. Id and where filters, include and
// offset are accepted but not applied; only limit trims the output.
func (h *Collection) Get(req port.GetRequest) (domain.GetResult, error) {
	limit := -1
	if req.Limit != nil {
		limit = *req.Limit
	}
	return h.flat(limit), nil
}

func (h *Collection) Peek(limit int) (domain.GetResult, error) {
	return h.flat(limit), nil
}

// flat lists documents in insertion order; a negative limit means all.
func (h *Collection) flat(limit int) domain.GetResult {
	s := h.store
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.collections[h.name]
	if !ok {
		return domain.EmptyGetResult()
	}

	ids := c.order
	if limit >= 0 && limit < len(ids) {
		ids = ids[:limit]
	}

	out := domain.GetResult{
		IDs:       make([]string, 0, len(ids)),
		Documents: make([]string, 0, len(ids)),
		Metadatas: make([]domain.Metadata, 0, len(ids)),
	}
	for _, id := range ids {
		d := c.docs[id]
		out.IDs = append(out.IDs, d.ID)
		out.Documents = append(out.Documents, d.Content)
		out.Metadatas = append(out.Metadatas, d.Metadata)
	}
	return out
}

func (h *Collection) Update(req port.UpdateRequest) error {
	s := h.store
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.collections[h.name]
	if !ok {
		return nil
	}

	u := s.saveLocked(h.name)
	now := s.now()
	for i, id := range req.IDs {
		doc, ok := c.docs[id]
		if !ok {
			continue
		}
		updated := *doc
		if req.Metadatas != nil && i < len(req.Metadatas) {
			updated.Metadata = req.Metadatas[i]
			if updated.Metadata == nil {
				updated.Metadata = domain.Metadata{}
			}
		}
		if req.Contents != nil && i < len(req.Contents) {
			updated.Content = req.Contents[i]
			updated.Embedding = s.embedder.Embed(updated.Content)
		}
		// Applied last so an explicit embedding wins over the recompute.
		if req.Embeddings != nil && i < len(req.Embeddings) {
			updated.Embedding = req.Embeddings[i]
		}
		updated.UpdatedAt = now
		c.docs[id] = &updated
	}

	return s.commitLocked(u, Change{Name: h.name})
}

func (h *Collection) Delete(ids []string) error {
	s := h.store
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.collections[h.name]
	if !ok {
		return nil
	}

	u := s.saveLocked(h.name)
	removed := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		if _, ok := c.docs[id]; ok {
			delete(c.docs, id)
			removed[id] = struct{}{}
		}
	}
	if len(removed) == 0 {
		return nil
	}

	kept := c.order[:0]
	for _, id := range c.order {
		if _, gone := removed[id]; !gone {
			kept = append(kept, id)
		}
	}
	c.order = kept

	return s.commitLocked(u, Change{Name: h.name})
}

func (h *Collection) Count() (int, error) {
	s := h.store
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.collections[h.name]
	if !ok {
		return 0, nil
	}
	return len(c.docs), nil
}

// Modify replaces the metadata when given and renames the collection when
// newName differs. The handle keeps addressing the new name afterwards.
func (h *Collection) Modify(newName *string, newMetadata domain.Metadata) error {
	s := h.store
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.collections[h.name]
	if !ok {
		return fmt.Errorf("%w: %s", port.ErrCollectionNotFound, h.name)
	}

	rename := newName != nil && *newName != "" && *newName != h.name
	if rename {
		if _, exists := s.collections[*newName]; exists {
			return fmt.Errorf("%w: %s", port.ErrCollectionExists, *newName)
		}
	}
	if newMetadata == nil && !rename {
		return nil
	}

	if !rename {
		u := s.saveLocked(h.name)
		c.metadata = newMetadata
		return s.commitLocked(u, Change{Name: h.name})
	}

	u := s.saveLocked(h.name, *newName)
	if newMetadata != nil {
		c.metadata = newMetadata
	}
	s.renameLocked(h.name, *newName)
	if err := s.commitLocked(u, Change{Name: h.name}, Change{Name: *newName, RenamedFrom: h.name}); err != nil {
		return err
	}
	h.name = *newName
	return nil
}

func removeString(list []string, s string) []string {
	for i, v := range list {
		if v == s {
			return append(list[:i], list[i+1:]...)
		}
	}
	return list
}
