package types

// ResultSource names the retrieval path that produced a result
type ResultSource string

const (
	SourceVector  ResultSource = "vector"
	SourceKeyword ResultSource = "keyword"
	SourceConcept ResultSource = "concept"
)

// SearchResult pairs a document with its relevance
type SearchResult struct {
	Document Document

	// Similarity is higher for more relevant documents. Keyword and concept
	// matches carry 1.0.
	Similarity float64
	Source     ResultSource
}

// Validate checks if the search result is valid
func (sr *SearchResult) Validate() error {
	if sr.Document.ID == "" {
		return ErrMissingID
	}

	if sr.Similarity < -1 || sr.Similarity > 1.000001 {
		return ErrInvalidSimilarity
	}

	return nil
}
