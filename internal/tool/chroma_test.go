package tool

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chromamcp/internal/adapter/analyzer"
	"chromamcp/internal/adapter/cache"
	"chromamcp/internal/adapter/memstore"
	"chromamcp/internal/domain"
)

type fixture struct {
	reg   *Registry
	store *memstore.MemoryStore
	cache *cache.QueryCache
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		reg:   NewRegistry(),
		store: memstore.NewMemoryStore(nil),
		cache: cache.NewQueryCache(10, time.Minute),
	}
	require.NoError(t, RegisterAll(f.reg, Deps{
		Store:      f.store,
		Cache:      f.cache,
		Classifier: analyzer.NewKeywordClassifier(nil),
	}))
	return f
}

func (f *fixture) call(t *testing.T, name string, args any) (any, error) {
	t.Helper()
	tl, ok := f.reg.Lookup(name)
	require.True(t, ok, "tool %s not registered", name)
	raw, err := json.Marshal(args)
	require.NoError(t, err)
	return tl.Invoke(context.Background(), raw)
}

func (f *fixture) mustCall(t *testing.T, name string, args any) any {
	t.Helper()
	out, err := f.call(t, name, args)
	require.NoError(t, err)
	return out
}

type args = map[string]any

func TestRegistry_ListsAllToolsAlphabetically(t *testing.T) {
	f := newFixture(t)

	var names []string
	for _, d := range f.reg.Descriptors() {
		names = append(names, d.Name)
	}
	assert.Equal(t, []string{
		"chroma_add_documents",
		"chroma_create_collection",
		"chroma_delete_collection",
		"chroma_delete_documents",
		"chroma_get_collection_count",
		"chroma_get_collection_info",
		"chroma_get_documents",
		"chroma_list_collections",
		"chroma_modify_collection",
		"chroma_peek_collection",
		"chroma_query_documents",
		"chroma_smart_add_documents",
		"chroma_update_documents",
	}, names)
	assert.Equal(t, 13, f.reg.Len())
}

func TestRegistry_RejectsDuplicates(t *testing.T) {
	r := NewRegistry()
	c := NewChroma(Deps{Store: memstore.NewMemoryStore(nil)})
	tools := c.Tools()
	require.Len(t, tools, 12, "smart add needs a classifier")

	require.NoError(t, r.Register(tools[0]))
	assert.Error(t, r.Register(tools[0]))
}

func TestDescriptor_JSONShape(t *testing.T) {
	f := newFixture(t)
	tl, ok := f.reg.Lookup("chroma_add_documents")
	require.True(t, ok)

	data, err := json.Marshal(tl.Definition())
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, "chroma_add_documents", decoded["name"])
	assert.NotEmpty(t, decoded["description"])

	schema, ok := decoded["inputSchema"].(map[string]any)
	require.True(t, ok, "inputSchema must be an object: %s", data)
	assert.Equal(t, "object", schema["type"])
	assert.ElementsMatch(t, []any{"collection_name", "documents"}, schema["required"])
}

func TestInvoke_MissingRequiredArgument(t *testing.T) {
	f := newFixture(t)

	_, err := f.call(t, "chroma_add_documents", args{"documents": []string{"x"}})
	require.Error(t, err)
	assert.True(t, IsInvalidArgument(err))
	assert.Contains(t, err.Error(), "collection_name")
}

func TestInvoke_NonObjectArguments(t *testing.T) {
	f := newFixture(t)

	tl, _ := f.reg.Lookup("chroma_list_collections")
	_, err := tl.Invoke(context.Background(), json.RawMessage(`[1,2]`))
	assert.True(t, IsInvalidArgument(err))

	out, err := tl.Invoke(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, []string{}, out)
}

func TestInvoke_WrongArgumentType(t *testing.T) {
	f := newFixture(t)

	_, err := f.call(t, "chroma_add_documents", args{"collection_name": "c", "documents": "not a list"})
	require.Error(t, err)
	assert.True(t, IsInvalidArgument(err))
}

func TestInvoke_WholeNumberFloats(t *testing.T) {
	f := newFixture(t)
	f.mustCall(t, "chroma_create_collection", args{"collection_name": "c"})
	f.mustCall(t, "chroma_create_collection", args{"collection_name": "d"})
	f.mustCall(t, "chroma_add_documents", args{"collection_name": "c", "documents": []string{"one", "two"}})

	invoke := func(name, raw string) (any, error) {
		tl, ok := f.reg.Lookup(name)
		require.True(t, ok)
		return tl.Invoke(context.Background(), json.RawMessage(raw))
	}

	out, err := invoke("chroma_list_collections", `{"limit":1.0,"offset":1e0}`)
	require.NoError(t, err)
	assert.Equal(t, []string{"d"}, out)

	out, err = invoke("chroma_query_documents", `{"collection_name":"c","query_texts":["one"],"n_results":1.0}`)
	require.NoError(t, err)
	assert.Len(t, out.(domain.QueryResult).IDs[0], 1)

	_, err = invoke("chroma_peek_collection", `{"collection_name":"c","limit":2.0}`)
	require.NoError(t, err)

	_, err = invoke("chroma_query_documents", `{"collection_name":"c","query_texts":["one"],"n_results":2.5}`)
	require.Error(t, err)
	assert.True(t, IsInvalidArgument(err))
}

func TestAddThenQuery_SelfIsNearest(t *testing.T) {
	f := newFixture(t)

	assert.Equal(t, "Created collection: c", f.mustCall(t, "chroma_create_collection", args{"collection_name": "c"}))
	assert.Equal(t, "Successfully added 2 documents to collection c", f.mustCall(t, "chroma_add_documents", args{
		"collection_name": "c",
		"documents":       []string{"hello world", "goodbye world"},
		"ids":             []string{"a", "b"},
	}))

	out := f.mustCall(t, "chroma_query_documents", args{
		"collection_name": "c",
		"query_texts":     []string{"hello world"},
		"n_results":       1,
	})
	res, ok := out.(domain.QueryResult)
	require.True(t, ok)
	assert.Equal(t, [][]string{{"a"}}, res.IDs)
}

func TestAddDocuments_SynthesizesPositionalIDs(t *testing.T) {
	f := newFixture(t)

	f.mustCall(t, "chroma_add_documents", args{"collection_name": "c", "documents": []string{"x", "y"}})

	out := f.mustCall(t, "chroma_get_documents", args{"collection_name": "c"})
	assert.Equal(t, []string{"0", "1"}, out.(domain.GetResult).IDs)
}

func TestAddDocuments_Errors(t *testing.T) {
	f := newFixture(t)

	_, err := f.call(t, "chroma_add_documents", args{"collection_name": "c", "documents": []string{}})
	require.Error(t, err)
	assert.True(t, IsInvalidArgument(err))
	assert.Equal(t, "The 'documents' list cannot be empty.", err.Error())

	_, err = f.call(t, "chroma_add_documents", args{"collection_name": "c", "documents": []string{"x"}, "ids": []string{"a", "b"}})
	assert.True(t, IsInvalidArgument(err))
}

func TestQueryDocuments_Errors(t *testing.T) {
	f := newFixture(t)

	_, err := f.call(t, "chroma_query_documents", args{"collection_name": "c", "query_texts": []string{}})
	require.Error(t, err)
	assert.Equal(t, "The 'query_texts' list cannot be empty.", err.Error())

	_, err = f.call(t, "chroma_query_documents", args{"collection_name": "c", "query_texts": []string{"q"}, "n_results": -1})
	assert.True(t, IsInvalidArgument(err))
}

func TestQueryDocuments_EmptyCollectionKeepsNesting(t *testing.T) {
	f := newFixture(t)

	out := f.mustCall(t, "chroma_query_documents", args{"collection_name": "empty", "query_texts": []string{"q"}})
	data, err := json.Marshal(out)
	require.NoError(t, err)
	assert.JSONEq(t, `{"ids":[[]],"documents":[[]],"metadatas":[[]],"distances":[[]],"embeddings":[[]]}`, string(data))
}

func TestQueryDocuments_UsesCacheUntilWrite(t *testing.T) {
	f := newFixture(t)
	f.mustCall(t, "chroma_add_documents", args{"collection_name": "c", "documents": []string{"alpha beta"}, "ids": []string{"a"}})

	q := args{"collection_name": "c", "query_texts": []string{"alpha"}}
	f.mustCall(t, "chroma_query_documents", q)
	f.mustCall(t, "chroma_query_documents", q)
	assert.Equal(t, uint64(1), f.cache.Stats().Hits)

	f.mustCall(t, "chroma_add_documents", args{"collection_name": "c", "documents": []string{"gamma"}, "ids": []string{"g"}})
	out := f.mustCall(t, "chroma_query_documents", q)
	assert.Len(t, out.(domain.QueryResult).IDs[0], 2, "a write must invalidate cached results")
	assert.Equal(t, uint64(1), f.cache.Stats().Hits)
}

func TestUpdateDocuments_Errors(t *testing.T) {
	f := newFixture(t)

	tests := []struct {
		name string
		args args
		want string
	}{
		{"empty ids", args{"collection_name": "c", "ids": []string{}, "documents": []string{}},
			"The 'ids' list cannot be empty."},
		{"no payload", args{"collection_name": "c", "ids": []string{"a"}},
			"At least one of 'embeddings', 'metadatas', or 'documents' must be provided for update."},
		{"documents mismatch", args{"collection_name": "c", "ids": []string{"a"}, "documents": []string{"x", "y"}},
			"Length of 'documents' list must match length of 'ids' list."},
		{"metadatas mismatch", args{"collection_name": "c", "ids": []string{"a", "b"}, "metadatas": []any{map[string]any{}}},
			"Length of 'metadatas' list must match length of 'ids' list."},
		{"embeddings mismatch", args{"collection_name": "c", "ids": []string{"a"}, "embeddings": [][]float32{}},
			"Length of 'embeddings' list must match length of 'ids' list."},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.call(t, "chroma_update_documents", tt.args)
			require.Error(t, err)
			assert.True(t, IsInvalidArgument(err))
			assert.Equal(t, tt.want, err.Error())
		})
	}
}

func TestUpdateAndDeleteDocuments(t *testing.T) {
	f := newFixture(t)
	f.mustCall(t, "chroma_add_documents", args{"collection_name": "c", "documents": []string{"one", "two"}, "ids": []string{"a", "b"}})

	assert.Equal(t, "Successfully updated 1 documents in collection 'c'", f.mustCall(t, "chroma_update_documents", args{
		"collection_name": "c",
		"ids":             []string{"a"},
		"documents":       []string{"uno"},
		"metadatas":       []any{map[string]any{"lang": "es"}},
	}))

	got := f.mustCall(t, "chroma_get_documents", args{"collection_name": "c"}).(domain.GetResult)
	assert.Equal(t, []string{"uno", "two"}, got.Documents)
	assert.Equal(t, "es", got.Metadatas[0]["lang"])

	assert.Equal(t, "Successfully deleted 1 documents from collection 'c'", f.mustCall(t, "chroma_delete_documents", args{
		"collection_name": "c", "ids": []string{"b"},
	}))
	assert.Equal(t, 1, f.mustCall(t, "chroma_get_collection_count", args{"collection_name": "c"}))

	_, err := f.call(t, "chroma_delete_documents", args{"collection_name": "c", "ids": []string{}})
	assert.Equal(t, "The 'ids' list cannot be empty.", err.Error())
}

func TestCollectionLifecycle(t *testing.T) {
	f := newFixture(t)

	f.mustCall(t, "chroma_create_collection", args{"collection_name": "a"})
	f.mustCall(t, "chroma_create_collection", args{"collection_name": "b", "metadata": map[string]any{"k": "v"}})
	assert.Equal(t, []string{"a", "b"}, f.mustCall(t, "chroma_list_collections", args{}))
	assert.Equal(t, []string{"b"}, f.mustCall(t, "chroma_list_collections", args{"limit": 1, "offset": 1}))

	assert.Equal(t, "Successfully deleted collection a", f.mustCall(t, "chroma_delete_collection", args{"collection_name": "a"}))
	f.mustCall(t, "chroma_delete_collection", args{"collection_name": "a"})
	assert.Equal(t, []string{"b"}, f.mustCall(t, "chroma_list_collections", nil))
}

func TestCollectionInfoAndPeek(t *testing.T) {
	f := newFixture(t)
	f.mustCall(t, "chroma_add_documents", args{"collection_name": "c", "documents": []string{"1", "2", "3", "4"}})

	info := f.mustCall(t, "chroma_get_collection_info", args{"collection_name": "c"})
	data, err := json.Marshal(info)
	require.NoError(t, err)

	var decoded struct {
		Name            string `json:"name"`
		Count           int    `json:"count"`
		SampleDocuments struct {
			IDs []string `json:"ids"`
		} `json:"sample_documents"`
	}
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, "c", decoded.Name)
	assert.Equal(t, 4, decoded.Count)
	assert.Equal(t, []string{"0", "1", "2"}, decoded.SampleDocuments.IDs)

	peek := f.mustCall(t, "chroma_peek_collection", args{"collection_name": "c", "limit": 2}).(domain.GetResult)
	assert.Equal(t, []string{"0", "1"}, peek.IDs)

	_, err = f.call(t, "chroma_peek_collection", args{"collection_name": "c"})
	assert.True(t, IsInvalidArgument(err), "limit is required")
}

func TestGetCollectionCount_EnsuresCollection(t *testing.T) {
	f := newFixture(t)

	assert.Equal(t, 0, f.mustCall(t, "chroma_get_collection_count", args{"collection_name": "fresh"}))
	assert.Equal(t, []string{"fresh"}, f.mustCall(t, "chroma_list_collections", nil))
}

func TestModifyCollection(t *testing.T) {
	f := newFixture(t)
	f.mustCall(t, "chroma_create_collection", args{"collection_name": "old"})
	f.mustCall(t, "chroma_create_collection", args{"collection_name": "taken"})

	out := f.mustCall(t, "chroma_modify_collection", args{
		"collection_name": "old",
		"new_name":        "new",
		"new_metadata":    map[string]any{"v": 2},
	})
	assert.Equal(t, "Successfully modified collection old: updated name and metadata", out)
	assert.Equal(t, []string{"new", "taken"}, f.mustCall(t, "chroma_list_collections", nil))

	_, err := f.call(t, "chroma_modify_collection", args{"collection_name": "new", "new_name": "taken"})
	require.Error(t, err)
	assert.False(t, IsInvalidArgument(err))

	out = f.mustCall(t, "chroma_modify_collection", args{"collection_name": "new", "ef_search": 10})
	assert.Equal(t, "Successfully modified collection new: updated hnsw", out)

	out = f.mustCall(t, "chroma_modify_collection", args{"collection_name": "new", "new_name": "new"})
	assert.Equal(t, "Collection new left unchanged: nothing to modify", out)

	out = f.mustCall(t, "chroma_modify_collection", args{
		"collection_name": "new",
		"new_name":        "new",
		"new_metadata":    map[string]any{"v": 3},
	})
	assert.Equal(t, "Successfully modified collection new: updated metadata", out)
}

const devopsDoc = "Docker and Kubernetes make deployment simple. Build a container image in the pipeline, " +
	"push it, and roll out the deployment with automation across every cloud cluster."

func TestSmartAdd_ClassifiesAndStores(t *testing.T) {
	f := newFixture(t)

	out := f.mustCall(t, "chroma_smart_add_documents", args{
		"documents": []string{devopsDoc, "too short"},
		"metadatas": []any{map[string]any{"source": "wiki", "category": "overridden"}},
	})
	resp, ok := out.(domain.SmartAddResponse)
	require.True(t, ok)
	require.Len(t, resp.Results, 2)

	first := resp.Results[0]
	assert.True(t, first.Success)
	assert.Equal(t, "doc_0", first.DocumentID)
	assert.True(t, strings.HasPrefix(first.CollectionName, "devops_"))
	require.NotNil(t, first.Classification)

	second := resp.Results[1]
	assert.False(t, second.Success)
	assert.Equal(t, "Classification validation failed", second.Error)
	assert.Equal(t, UnclassifiedCollection, second.CollectionName)

	assert.Equal(t, "Successfully processed 1 out of 2 documents. Auto-classification: true", resp.Summary)

	got := f.mustCall(t, "chroma_get_documents", args{"collection_name": first.CollectionName}).(domain.GetResult)
	require.Len(t, got.Metadatas, 1)
	assert.Equal(t, "wiki", got.Metadatas[0]["source"])
	assert.Equal(t, "devops", got.Metadatas[0]["category"], "classifier metadata wins over caller metadata")
}

func TestSmartAdd_ForceCollectionSkipsValidation(t *testing.T) {
	f := newFixture(t)

	out := f.mustCall(t, "chroma_smart_add_documents", args{
		"documents":        []string{"short"},
		"ids":              []string{"s1"},
		"force_collection": "inbox",
	})
	resp := out.(domain.SmartAddResponse)
	require.Len(t, resp.Results, 1)
	assert.True(t, resp.Results[0].Success)
	assert.Nil(t, resp.Results[0].Classification)
	assert.Equal(t, "inbox", resp.Results[0].CollectionName)

	assert.Equal(t, 1, f.mustCall(t, "chroma_get_collection_count", args{"collection_name": "inbox"}))
}

func TestSmartAdd_AutoClassifyDisabled(t *testing.T) {
	f := newFixture(t)

	out := f.mustCall(t, "chroma_smart_add_documents", args{
		"documents":     []string{"anything"},
		"auto_classify": false,
	})
	resp := out.(domain.SmartAddResponse)
	assert.True(t, resp.Results[0].Success)
	assert.Equal(t, UnclassifiedCollection, resp.Results[0].CollectionName)
	assert.Equal(t, "Successfully processed 1 out of 1 documents. Auto-classification: false", resp.Summary)
}

func TestSmartAdd_EmptyDocuments(t *testing.T) {
	f := newFixture(t)

	_, err := f.call(t, "chroma_smart_add_documents", args{"documents": []string{}})
	require.Error(t, err)
	assert.True(t, IsInvalidArgument(err))
}
