package store

import (
	"encoding/json"
	"fmt"
	"sort"

	"go.etcd.io/bbolt"

	"chromamcp/internal/adapter/memstore"
	"chromamcp/internal/domain"
	"chromamcp/internal/port"
)

// CurrentSchemaVersion is bumped on breaking changes to the stored format.
const CurrentSchemaVersion = 1

var (
	bucketCollections = []byte("collections")
	bucketMeta        = []byte("meta")
	keySchemaVersion  = []byte("schema_version")
)

// BoltStore is a MemoryStore whose every write is mirrored into a bbolt file.
// Reads are served from memory; the file is only read when opening.
type BoltStore struct {
	*memstore.MemoryStore
	db *bbolt.DB
}

var _ port.Store = (*BoltStore)(nil)

// storedCollection keeps the listing position next to the snapshot, since
// bbolt iterates keys in byte order.
type storedCollection struct {
	Seq      uint64                    `json:"seq"`
	Snapshot domain.CollectionSnapshot `json:"snapshot"`
}

func NewBoltStore(path string, embedder port.Embedder, opts ...memstore.Option) (*BoltStore, error) {
	db, err := bbolt.Open(path, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open bolt db: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		for _, b := range [][]byte{bucketCollections, bucketMeta} {
			if _, err := tx.CreateBucketIfNotExists(b); err != nil {
				return fmt.Errorf("failed to create bucket %s: %w", b, err)
			}
		}
		return checkSchema(tx.Bucket(bucketMeta))
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	s := &BoltStore{
		MemoryStore: memstore.NewMemoryStore(embedder, opts...),
		db:          db,
	}

	snaps, err := s.load()
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to load collections: %w", err)
	}
	s.Restore(snaps)
	s.SetObserver(s.persist)

	return s, nil
}

// checkSchema stamps a fresh file and refuses files written by a newer build.
func checkSchema(meta *bbolt.Bucket) error {
	data := meta.Get(keySchemaVersion)
	if data == nil {
		v, _ := json.Marshal(CurrentSchemaVersion)
		return meta.Put(keySchemaVersion, v)
	}
	var version int
	if err := json.Unmarshal(data, &version); err != nil {
		return fmt.Errorf("corrupt schema version: %w", err)
	}
	if version > CurrentSchemaVersion {
		return fmt.Errorf("database created by newer version (v%d > v%d)", version, CurrentSchemaVersion)
	}
	return nil
}

func (s *BoltStore) Close() error {
	return s.db.Close()
}

func (s *BoltStore) load() ([]domain.CollectionSnapshot, error) {
	var stored []storedCollection
	err := s.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketCollections).ForEach(func(k, v []byte) error {
			var sc storedCollection
			if err := json.Unmarshal(v, &sc); err != nil {
				return fmt.Errorf("collection %s: %w", k, err)
			}
			sc.Snapshot.Name = string(k)
			stored = append(stored, sc)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(stored, func(i, j int) bool { return stored[i].Seq < stored[j].Seq })

	snaps := make([]domain.CollectionSnapshot, len(stored))
	for i, sc := range stored {
		snaps[i] = sc.Snapshot
	}
	return snaps, nil
}

// persist runs under the MemoryStore write lock, so writes reach the file in
// the order they were applied in memory. The changes of one operation share
// a transaction: either all of them are written or none.
func (s *BoltStore) persist(changes []memstore.Change) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketCollections)

		// A renamed collection keeps its listing position.
		seqs := make(map[string]uint64)
		for _, ch := range changes {
			if ch.Snapshot != nil {
				continue
			}
			if prev, ok := storedSeq(b, ch.Name); ok {
				seqs[ch.Name] = prev
			}
			if err := b.Delete([]byte(ch.Name)); err != nil {
				return err
			}
		}

		for _, ch := range changes {
			if ch.Snapshot == nil {
				continue
			}
			sc := storedCollection{Snapshot: *ch.Snapshot}
			if prev, ok := storedSeq(b, ch.Name); ok {
				sc.Seq = prev
			} else if prev, ok := seqs[ch.RenamedFrom]; ok && ch.RenamedFrom != "" {
				sc.Seq = prev
			} else {
				seq, err := b.NextSequence()
				if err != nil {
					return err
				}
				sc.Seq = seq
			}

			data, err := json.Marshal(sc)
			if err != nil {
				return err
			}
			if err := b.Put([]byte(ch.Name), data); err != nil {
				return err
			}
		}
		return nil
	})
}

func storedSeq(b *bbolt.Bucket, name string) (uint64, bool) {
	existing := b.Get([]byte(name))
	if existing == nil {
		return 0, false
	}
	var prev storedCollection
	if err := json.Unmarshal(existing, &prev); err != nil || prev.Seq == 0 {
		return 0, false
	}
	return prev.Seq, true
}
