package port

import (
	"errors"

	"chromamcp/internal/domain"
)

var (
	ErrCollectionNotFound = errors.New("collection not found")
	ErrCollectionExists   = errors.New("collection already exists")
)

// Store owns every collection of the process. Implementations must make each
// operation atomic with respect to the others.
type Store interface {
	// ListCollections returns collection names in a stable order. A limit of
	// zero or less means no limit.
	ListCollections(limit, offset int) []string

	// CreateCollection inserts an empty collection, replacing any collection
	// with the same name.
	CreateCollection(name string, metadata domain.Metadata) error

	// DeleteCollection removes the collection if present.
	DeleteCollection(name string) error

	// GetCollection returns a handle for name, creating the collection empty
	// when it does not exist.
	GetCollection(name string) (Collection, error)

	// RenameCollection rekeys a collection atomically.
	RenameCollection(oldName, newName string) error

	// Generation changes whenever any collection is written.
	Generation() uint64
}

// Collection is a handle keyed by name. Every call re-resolves the collection
// against its store, so a handle stays valid across deletes and renames and
// simply observes an absent collection as empty.
type Collection interface {
	Name() string
	Add(req AddRequest) error
	Query(req QueryRequest) (domain.QueryResult, error)
	Get(req GetRequest) (domain.GetResult, error)
	Update(req UpdateRequest) error
	Delete(ids []string) error
	Count() (int, error)
	Peek(limit int) (domain.GetResult, error)
	Modify(newName *string, newMetadata domain.Metadata) error
}

// AddRequest inserts or overwrites documents. Embeddings and Metadatas are
// optional and indexed like Contents.
type AddRequest struct {
	Contents   []string
	Embeddings [][]float32
	Metadatas  []domain.Metadata
	IDs        []string
}

type QueryRequest struct {
	QueryTexts    []string
	NResults      int
	WhereMetadata domain.Metadata
	WhereDocument domain.Metadata
	Include       []string
}

type GetRequest struct {
	IDs           []string
	WhereMetadata domain.Metadata
	WhereDocument domain.Metadata
	Include       []string
	Limit         *int
	Offset        *int
}

// UpdateRequest changes existing documents; ids that do not exist are skipped.
type UpdateRequest struct {
	IDs        []string
	Embeddings [][]float32
	Metadatas  []domain.Metadata
	Contents   []string
}
