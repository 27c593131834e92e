package domain

import "time"

// Metadata is an arbitrary JSON object attached to documents and collections.
type Metadata = map[string]any

type Document struct {
	ID        string    `json:"id"`
	Content   string    `json:"content"`
	Metadata  Metadata  `json:"metadata"`
	Embedding []float32 `json:"embedding"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// CollectionSnapshot is a point-in-time copy of a collection, documents in
// insertion order.
type CollectionSnapshot struct {
	Name      string     `json:"name"`
	Metadata  Metadata   `json:"metadata,omitempty"`
	Documents []Document `json:"documents"`
}

// QueryResult is nested once per query text; only one query text is ever
// evaluated so every outer slice has length 1.
type QueryResult struct {
	IDs        [][]string    `json:"ids"`
	Documents  [][]string    `json:"documents"`
	Metadatas  [][]Metadata  `json:"metadatas"`
	Distances  [][]float64   `json:"distances"`
	Embeddings [][][]float32 `json:"embeddings"`
}

// EmptyQueryResult returns a result with the outer nesting preserved.
func EmptyQueryResult() QueryResult {
	return QueryResult{
		IDs:        [][]string{{}},
		Documents:  [][]string{{}},
		Metadatas:  [][]Metadata{{}},
		Distances:  [][]float64{{}},
		Embeddings: [][][]float32{{}},
	}
}

// GetResult is the flat shape returned by get and peek.
type GetResult struct {
	IDs       []string   `json:"ids"`
	Documents []string   `json:"documents"`
	Metadatas []Metadata `json:"metadatas"`
}

func EmptyGetResult() GetResult {
	return GetResult{
		IDs:       []string{},
		Documents: []string{},
		Metadatas: []Metadata{},
	}
}

type Classification struct {
	SuggestedCollection string   `json:"suggested_collection"`
	Metadata            Metadata `json:"metadata"`
	Confidence          float64  `json:"confidence_score"`
	Reasoning           string   `json:"reasoning"`
	ValidationPassed    bool     `json:"validation_passed"`
}

// SmartAddResult reports what happened to one document of a smart add.
type SmartAddResult struct {
	DocumentID     string          `json:"document_id"`
	CollectionName string          `json:"collection_name"`
	Classification *Classification `json:"classification,omitempty"`
	Success        bool            `json:"success"`
	Error          string          `json:"error,omitempty"`
}

type SmartAddResponse struct {
	Results []SmartAddResult `json:"results"`
	Summary string           `json:"summary"`
}

// IngestFile is one file read by the ingest command.
type IngestFile struct {
	Path    string
	RelPath string
	Content string
	ModTime time.Time
}
