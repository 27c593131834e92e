package port

// Embedder generates vector embeddings for text.
type Embedder interface {
	// Embed maps text onto a fixed-length vector. It must be deterministic.
	Embed(text string) []float32

	// Dimension returns the embedding vector dimension.
	Dimension() int

	// ModelName returns the name of the embedding model.
	ModelName() string
}
