// Package memory implements the semantic memory of past sales plays and client
// profiles. Each successful run writes to it and every new run reads from it.
package memory

import "context"

// Collection names.
const (
	CollectionPlays   = "sales_plays"
	CollectionClients = "client_profiles"
)

// DefaultResults is the number of matches returned by the similarity helpers.
const DefaultResults = 5

// Document is one stored record.
type Document struct {
	ID       string            `json:"id,omitempty"`
	Text     string            `json:"text"`
	Metadata map[string]string `json:"metadata"`
}

// Match is a Document ranked against a query. Similarity is in [0,1], higher is closer.
type Match struct {
	Document
	Similarity float64 `json:"similarity"`
}

// Store is the semantic memory contract.
type Store interface {
	// Query returns up to k matches ordered by descending similarity.
	// An empty collection yields an empty slice, not an error.
	Query(ctx context.Context, collection, text string, k int) ([]Match, error)
	// Add appends documents to a collection and returns how many were written.
	Add(ctx context.Context, collection string, docs []Document) (int, error)
	// Count returns the number of documents in a collection.
	Count(ctx context.Context, collection string) (int, error)
	Close() error
}
