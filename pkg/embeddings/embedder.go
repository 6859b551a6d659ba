// Package embeddings turns text into vectors. The server uses it in two
// places: the vectorizer workers embed stored patent abstracts, and the
// scope summarizer embeds ad-hoc queries for semantic expansion.
package embeddings

// Embedder converts one text into its vector representation. Implementations
// are safe for concurrent use.
type Embedder interface {
	Embed(text string) ([]float32, error)
}
