package tool

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"

	"chromamcp/internal/adapter/cache"
	"chromamcp/internal/domain"
	"chromamcp/internal/port"
)

const defaultNResults = 5

// Deps are the collaborators of the chroma_* tools. Cache and Classifier are
// optional; without a classifier the smart add tool is not registered.
type Deps struct {
	Store      port.Store
	Cache      *cache.QueryCache
	Classifier port.Classifier
	Logger     *slog.Logger
}

// Chroma implements the collection and document tools over a port.Store.
type Chroma struct {
	store      port.Store
	cache      *cache.QueryCache
	classifier port.Classifier
	logger     *slog.Logger
}

func NewChroma(d Deps) *Chroma {
	logger := d.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Chroma{
		store:      d.Store,
		cache:      d.Cache,
		classifier: d.Classifier,
		logger:     logger,
	}
}

// RegisterAll builds every chroma_* tool over d and registers it with r.
func RegisterAll(r *Registry, d Deps) error {
	c := NewChroma(d)
	for _, t := range c.Tools() {
		if err := r.Register(t); err != nil {
			return err
		}
	}
	return nil
}

func (c *Chroma) Tools() []Tool {
	tools := []Tool{
		newTyped(listCollectionsDef, c.listCollections),
		newTyped(createCollectionDef, c.createCollection),
		newTyped(deleteCollectionDef, c.deleteCollection),
		newTyped(peekCollectionDef, c.peekCollection),
		newTyped(collectionInfoDef, c.collectionInfo),
		newTyped(collectionCountDef, c.collectionCount),
		newTyped(modifyCollectionDef, c.modifyCollection),
		newTyped(addDocumentsDef, c.addDocuments),
		newTyped(queryDocumentsDef, c.queryDocuments),
		newTyped(getDocumentsDef, c.getDocuments),
		newTyped(updateDocumentsDef, c.updateDocuments),
		newTyped(deleteDocumentsDef, c.deleteDocuments),
	}
	if c.classifier != nil {
		tools = append(tools, newTyped(smartAddDef, c.smartAdd))
	}
	return tools
}

func collectionNameArg() mcp.ToolOption {
	return mcp.WithString("collection_name",
		mcp.Required(),
		mcp.Description("Name of the collection"),
	)
}

var hnswOptions = []mcp.ToolOption{
	mcp.WithNumber("ef_search", mcp.Description("Accepted for compatibility; ignored")),
	mcp.WithNumber("num_threads", mcp.Description("Accepted for compatibility; ignored")),
	mcp.WithNumber("batch_size", mcp.Description("Accepted for compatibility; ignored")),
	mcp.WithNumber("sync_threshold", mcp.Description("Accepted for compatibility; ignored")),
	mcp.WithNumber("resize_factor", mcp.Description("Accepted for compatibility; ignored")),
}

func withOptions(base []mcp.ToolOption, extra ...mcp.ToolOption) []mcp.ToolOption {
	out := make([]mcp.ToolOption, 0, len(base)+len(extra))
	out = append(out, base...)
	return append(out, extra...)
}

// hnswArgs are accepted by create and modify but have no effect on the
// brute-force index.
type hnswArgs struct {
	EfSearch      *int     `json:"ef_search"`
	NumThreads    *int     `json:"num_threads"`
	BatchSize     *int     `json:"batch_size"`
	SyncThreshold *int     `json:"sync_threshold"`
	ResizeFactor  *float64 `json:"resize_factor"`
}

func (h hnswArgs) set() bool {
	return h.EfSearch != nil || h.NumThreads != nil || h.BatchSize != nil ||
		h.SyncThreshold != nil || h.ResizeFactor != nil
}

var listCollectionsDef = mcp.NewTool("chroma_list_collections",
	mcp.WithDescription("List all collection names, optionally paginated."),
	mcp.WithNumber("limit", mcp.Description("Maximum number of names to return")),
	mcp.WithNumber("offset", mcp.Description("Number of names to skip")),
)

type listCollectionsArgs struct {
	Limit  *int `json:"limit"`
	Offset *int `json:"offset"`
}

func (c *Chroma) listCollections(_ context.Context, a listCollectionsArgs) (any, error) {
	limit, offset := 0, 0
	if a.Limit != nil {
		if *a.Limit < 0 {
			return nil, invalidArgf("The 'limit' argument must not be negative.")
		}
		limit = *a.Limit
		if limit == 0 {
			return []string{}, nil
		}
	}
	if a.Offset != nil {
		if *a.Offset < 0 {
			return nil, invalidArgf("The 'offset' argument must not be negative.")
		}
		offset = *a.Offset
	}
	return c.store.ListCollections(limit, offset), nil
}

var createCollectionDef = mcp.NewTool("chroma_create_collection", withOptions([]mcp.ToolOption{
	mcp.WithDescription("Create a collection, replacing any collection with the same name."),
	collectionNameArg(),
	mcp.WithObject("metadata", mcp.Description("Collection metadata")),
	mcp.WithString("embedding_function_name", mcp.Description("Accepted for compatibility; ignored")),
	mcp.WithString("space", mcp.Description("Accepted for compatibility; ignored")),
	mcp.WithNumber("ef_construction", mcp.Description("Accepted for compatibility; ignored")),
	mcp.WithNumber("max_neighbors", mcp.Description("Accepted for compatibility; ignored")),
}, hnswOptions...)...)

type createCollectionArgs struct {
	CollectionName        string          `json:"collection_name"`
	Metadata              domain.Metadata `json:"metadata"`
	EmbeddingFunctionName *string         `json:"embedding_function_name"`
	Space                 *string         `json:"space"`
	EfConstruction        *int            `json:"ef_construction"`
	MaxNeighbors          *int            `json:"max_neighbors"`
	hnswArgs
}

func (c *Chroma) createCollection(_ context.Context, a createCollectionArgs) (any, error) {
	if err := requireName(a.CollectionName); err != nil {
		return nil, err
	}
	if err := c.store.CreateCollection(a.CollectionName, a.Metadata); err != nil {
		return nil, err
	}
	c.logger.Info("collection created", "collection", a.CollectionName)
	return fmt.Sprintf("Created collection: %s", a.CollectionName), nil
}

var deleteCollectionDef = mcp.NewTool("chroma_delete_collection",
	mcp.WithDescription("Delete a collection and all of its documents."),
	collectionNameArg(),
)

type collectionArgs struct {
	CollectionName string `json:"collection_name"`
}

func (c *Chroma) deleteCollection(_ context.Context, a collectionArgs) (any, error) {
	if err := requireName(a.CollectionName); err != nil {
		return nil, err
	}
	if err := c.store.DeleteCollection(a.CollectionName); err != nil {
		return nil, err
	}
	c.logger.Info("collection deleted", "collection", a.CollectionName)
	return fmt.Sprintf("Successfully deleted collection %s", a.CollectionName), nil
}

var peekCollectionDef = mcp.NewTool("chroma_peek_collection",
	mcp.WithDescription("Return the first documents of a collection."),
	collectionNameArg(),
	mcp.WithNumber("limit", mcp.Required(), mcp.Description("Number of documents to return")),
)

type peekCollectionArgs struct {
	CollectionName string `json:"collection_name"`
	Limit          int    `json:"limit"`
}

func (c *Chroma) peekCollection(_ context.Context, a peekCollectionArgs) (any, error) {
	if a.Limit < 0 {
		return nil, invalidArgf("The 'limit' argument must not be negative.")
	}
	coll, err := c.collection(a.CollectionName)
	if err != nil {
		return nil, err
	}
	return coll.Peek(a.Limit)
}

var collectionInfoDef = mcp.NewTool("chroma_get_collection_info",
	mcp.WithDescription("Return a collection's name, document count and up to three sample documents."),
	collectionNameArg(),
)

type collectionInfo struct {
	Name            string           `json:"name"`
	Count           int              `json:"count"`
	SampleDocuments domain.GetResult `json:"sample_documents"`
}

func (c *Chroma) collectionInfo(_ context.Context, a collectionArgs) (any, error) {
	coll, err := c.collection(a.CollectionName)
	if err != nil {
		return nil, err
	}
	count, err := coll.Count()
	if err != nil {
		return nil, err
	}
	sample, err := coll.Peek(3)
	if err != nil {
		return nil, err
	}
	return collectionInfo{Name: a.CollectionName, Count: count, SampleDocuments: sample}, nil
}

var collectionCountDef = mcp.NewTool("chroma_get_collection_count",
	mcp.WithDescription("Return the number of documents in a collection."),
	collectionNameArg(),
)

func (c *Chroma) collectionCount(_ context.Context, a collectionArgs) (any, error) {
	coll, err := c.collection(a.CollectionName)
	if err != nil {
		return nil, err
	}
	return coll.Count()
}

var modifyCollectionDef = mcp.NewTool("chroma_modify_collection", withOptions([]mcp.ToolOption{
	mcp.WithDescription("Replace a collection's metadata and/or rename it."),
	collectionNameArg(),
	mcp.WithString("new_name", mcp.Description("New collection name; fails if it is taken")),
	mcp.WithObject("new_metadata", mcp.Description("Metadata replacing the current one")),
}, hnswOptions...)...)

type modifyCollectionArgs struct {
	CollectionName string          `json:"collection_name"`
	NewName        *string         `json:"new_name"`
	NewMetadata    domain.Metadata `json:"new_metadata"`
	hnswArgs
}

func (c *Chroma) modifyCollection(_ context.Context, a modifyCollectionArgs) (any, error) {
	if a.NewName != nil && *a.NewName == "" {
		return nil, invalidArgf("The 'new_name' argument must not be empty.")
	}
	coll, err := c.collection(a.CollectionName)
	if err != nil {
		return nil, err
	}
	if err := coll.Modify(a.NewName, a.NewMetadata); err != nil {
		return nil, err
	}

	var aspects []string
	if a.NewName != nil && *a.NewName != a.CollectionName {
		aspects = append(aspects, "name")
	}
	if a.NewMetadata != nil {
		aspects = append(aspects, "metadata")
	}
	if a.hnswArgs.set() {
		aspects = append(aspects, "hnsw")
	}
	if len(aspects) == 0 {
		return fmt.Sprintf("Collection %s left unchanged: nothing to modify", a.CollectionName), nil
	}
	return fmt.Sprintf("Successfully modified collection %s: updated %s",
		a.CollectionName, strings.Join(aspects, " and ")), nil
}

var addDocumentsDef = mcp.NewTool("chroma_add_documents",
	mcp.WithDescription("Add documents to a collection. Ids default to their position; existing ids are overwritten."),
	collectionNameArg(),
	mcp.WithArray("documents", mcp.Required(), mcp.Description("Document texts"), mcp.WithStringItems()),
	mcp.WithArray("metadatas", mcp.Description("One metadata object per document"), mcp.Items(map[string]any{"type": "object"})),
	mcp.WithArray("ids", mcp.Description("One id per document"), mcp.WithStringItems()),
)

type addDocumentsArgs struct {
	CollectionName string            `json:"collection_name"`
	Documents      []string          `json:"documents"`
	Metadatas      []domain.Metadata `json:"metadatas"`
	IDs            []string          `json:"ids"`
}

func (c *Chroma) addDocuments(_ context.Context, a addDocumentsArgs) (any, error) {
	if len(a.Documents) == 0 {
		return nil, invalidArgf("The 'documents' list cannot be empty.")
	}
	if a.Metadatas != nil && len(a.Metadatas) != len(a.Documents) {
		return nil, invalidArgf("Length of 'metadatas' list must match length of 'documents' list.")
	}
	ids, err := documentIDs(a.IDs, len(a.Documents), strconv.Itoa)
	if err != nil {
		return nil, err
	}

	coll, err := c.collection(a.CollectionName)
	if err != nil {
		return nil, err
	}
	if err := coll.Add(port.AddRequest{Contents: a.Documents, Metadatas: a.Metadatas, IDs: ids}); err != nil {
		return nil, err
	}
	c.logger.Debug("documents added", "collection", a.CollectionName, "count", len(a.Documents))
	return fmt.Sprintf("Successfully added %d documents to collection %s", len(a.Documents), a.CollectionName), nil
}

// documentIDs validates caller ids or synthesizes them with gen.
func documentIDs(ids []string, n int, gen func(int) string) ([]string, error) {
	if len(ids) == 0 {
		out := make([]string, n)
		for i := range out {
			out[i] = gen(i)
		}
		return out, nil
	}
	if len(ids) != n {
		return nil, invalidArgf("Length of 'ids' list must match length of 'documents' list.")
	}
	for _, id := range ids {
		if id == "" {
			return nil, invalidArgf("The 'ids' list must not contain empty ids.")
		}
	}
	return ids, nil
}

var queryDocumentsDef = mcp.NewTool("chroma_query_documents",
	mcp.WithDescription("Find the documents nearest to a query text. Only the first query text is evaluated."),
	collectionNameArg(),
	mcp.WithArray("query_texts", mcp.Required(), mcp.Description("Query texts"), mcp.WithStringItems()),
	mcp.WithNumber("n_results", mcp.Description("Number of results"), mcp.DefaultNumber(defaultNResults)),
	mcp.WithObject("where_filter", mcp.Description("Metadata filter; accepted but not applied")),
	mcp.WithObject("where_document", mcp.Description("Document filter; accepted but not applied")),
	mcp.WithArray("include", mcp.Description("Fields to include"), mcp.WithStringItems()),
)

type queryDocumentsArgs struct {
	CollectionName string          `json:"collection_name"`
	QueryTexts     []string        `json:"query_texts"`
	NResults       *int            `json:"n_results"`
	WhereFilter    domain.Metadata `json:"where_filter"`
	WhereDocument  domain.Metadata `json:"where_document"`
	Include        []string        `json:"include"`
}

func (c *Chroma) queryDocuments(_ context.Context, a queryDocumentsArgs) (any, error) {
	if len(a.QueryTexts) == 0 {
		return nil, invalidArgf("The 'query_texts' list cannot be empty.")
	}
	n := defaultNResults
	if a.NResults != nil {
		if *a.NResults < 0 {
			return nil, invalidArgf("The 'n_results' argument must not be negative.")
		}
		n = *a.NResults
	}
	include := a.Include
	if include == nil {
		include = []string{"documents", "metadatas", "distances"}
	}

	coll, err := c.collection(a.CollectionName)
	if err != nil {
		return nil, err
	}

	// Filters are not applied, so they do not need to be part of the key.
	var gen uint64
	if c.cache != nil {
		gen = c.store.Generation()
		if res, ok := c.cache.Get(coll.Name(), a.QueryTexts[0], n, gen); ok {
			return res, nil
		}
	}

	res, err := coll.Query(port.QueryRequest{
		QueryTexts:    a.QueryTexts,
		NResults:      n,
		WhereMetadata: a.WhereFilter,
		WhereDocument: a.WhereDocument,
		Include:       include,
	})
	if err != nil {
		return nil, err
	}

	if c.cache != nil {
		c.cache.Put(coll.Name(), a.QueryTexts[0], n, gen, res)
	}
	return res, nil
}

var getDocumentsDef = mcp.NewTool("chroma_get_documents",
	mcp.WithDescription("Return documents of a collection in insertion order. Id and where filters are accepted but not applied."),
	collectionNameArg(),
	mcp.WithArray("ids", mcp.Description("Document ids; accepted but not applied"), mcp.WithStringItems()),
	mcp.WithObject("where_filter", mcp.Description("Metadata filter; accepted but not applied")),
	mcp.WithObject("where_document", mcp.Description("Document filter; accepted but not applied")),
	mcp.WithArray("include", mcp.Description("Fields to include"), mcp.WithStringItems()),
	mcp.WithNumber("limit", mcp.Description("Maximum number of documents")),
	mcp.WithNumber("offset", mcp.Description("Accepted but not applied")),
)

type getDocumentsArgs struct {
	CollectionName string          `json:"collection_name"`
	IDs            []string        `json:"ids"`
	WhereFilter    domain.Metadata `json:"where_filter"`
	WhereDocument  domain.Metadata `json:"where_document"`
	Include        []string        `json:"include"`
	Limit          *int            `json:"limit"`
	Offset         *int            `json:"offset"`
}

func (c *Chroma) getDocuments(_ context.Context, a getDocumentsArgs) (any, error) {
	if a.Limit != nil && *a.Limit < 0 {
		return nil, invalidArgf("The 'limit' argument must not be negative.")
	}
	include := a.Include
	if include == nil {
		include = []string{"documents", "metadatas"}
	}
	coll, err := c.collection(a.CollectionName)
	if err != nil {
		return nil, err
	}
	return coll.Get(port.GetRequest{
		IDs:           a.IDs,
		WhereMetadata: a.WhereFilter,
		WhereDocument: a.WhereDocument,
		Include:       include,
		Limit:         a.Limit,
		Offset:        a.Offset,
	})
}

var updateDocumentsDef = mcp.NewTool("chroma_update_documents",
	mcp.WithDescription("Update existing documents. Unknown ids are skipped; new content recomputes the embedding unless one is given."),
	collectionNameArg(),
	mcp.WithArray("ids", mcp.Required(), mcp.Description("Ids of the documents to update"), mcp.WithStringItems()),
	mcp.WithArray("embeddings", mcp.Description("Replacement embeddings"),
		mcp.Items(map[string]any{"type": "array", "items": map[string]any{"type": "number"}})),
	mcp.WithArray("metadatas", mcp.Description("Replacement metadata objects"), mcp.Items(map[string]any{"type": "object"})),
	mcp.WithArray("documents", mcp.Description("Replacement document texts"), mcp.WithStringItems()),
)

type updateDocumentsArgs struct {
	CollectionName string            `json:"collection_name"`
	IDs            []string          `json:"ids"`
	Embeddings     [][]float32       `json:"embeddings"`
	Metadatas      []domain.Metadata `json:"metadatas"`
	Documents      []string          `json:"documents"`
}

func (c *Chroma) updateDocuments(_ context.Context, a updateDocumentsArgs) (any, error) {
	if len(a.IDs) == 0 {
		return nil, invalidArgf("The 'ids' list cannot be empty.")
	}
	if a.Embeddings == nil && a.Metadatas == nil && a.Documents == nil {
		return nil, invalidArgf("At least one of 'embeddings', 'metadatas', or 'documents' must be provided for update.")
	}
	for _, p := range []struct {
		name    string
		present bool
		n       int
	}{
		{"embeddings", a.Embeddings != nil, len(a.Embeddings)},
		{"metadatas", a.Metadatas != nil, len(a.Metadatas)},
		{"documents", a.Documents != nil, len(a.Documents)},
	} {
		if p.present && p.n != len(a.IDs) {
			return nil, invalidArgf("Length of '%s' list must match length of 'ids' list.", p.name)
		}
	}

	coll, err := c.collection(a.CollectionName)
	if err != nil {
		return nil, err
	}
	err = coll.Update(port.UpdateRequest{
		IDs:        a.IDs,
		Embeddings: a.Embeddings,
		Metadatas:  a.Metadatas,
		Contents:   a.Documents,
	})
	if err != nil {
		return nil, err
	}
	return fmt.Sprintf("Successfully updated %d documents in collection '%s'", len(a.IDs), a.CollectionName), nil
}

var deleteDocumentsDef = mcp.NewTool("chroma_delete_documents",
	mcp.WithDescription("Delete documents by id. Unknown ids are ignored."),
	collectionNameArg(),
	mcp.WithArray("ids", mcp.Required(), mcp.Description("Ids of the documents to delete"), mcp.WithStringItems()),
)

type deleteDocumentsArgs struct {
	CollectionName string   `json:"collection_name"`
	IDs            []string `json:"ids"`
}

func (c *Chroma) deleteDocuments(_ context.Context, a deleteDocumentsArgs) (any, error) {
	if len(a.IDs) == 0 {
		return nil, invalidArgf("The 'ids' list cannot be empty.")
	}
	coll, err := c.collection(a.CollectionName)
	if err != nil {
		return nil, err
	}
	if err := coll.Delete(a.IDs); err != nil {
		return nil, err
	}
	return fmt.Sprintf("Successfully deleted %d documents from collection '%s'", len(a.IDs), a.CollectionName), nil
}

// collection resolves name with ensure semantics.
func (c *Chroma) collection(name string) (port.Collection, error) {
	if err := requireName(name); err != nil {
		return nil, err
	}
	return c.store.GetCollection(name)
}

func requireName(name string) error {
	if name == "" {
		return invalidArgf("The 'collection_name' argument must not be empty.")
	}
	return nil
}
