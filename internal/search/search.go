// Package search finds cards on a board. Meilisearch serves queries when it is
// configured and healthy; the primary store's own text search is the fallback.
package search

import (
	"context"

	"corkboard/internal/store"
)

// Result is a single search hit returned to the caller.
type Result struct {
	ID       string `json:"id"`
	BoardID  string `json:"boardId"`
	ColumnID string `json:"columnId"`
	Title    string `json:"title"`
	Snippet  string `json:"snippet"`
	Archived bool   `json:"archived"`
}

// Query describes a search request. BoardID is required.
type Query struct {
	Text            string
	BoardID         string
	IncludeArchived bool
	Limit           int
	Offset          int
}

// Response is the envelope returned by the search endpoint.
type Response struct {
	Results []Result `json:"results"`
	Total   int      `json:"total"`
	Query   string   `json:"query"`
}

// Searcher can execute a full-text search.
type Searcher interface {
	Search(ctx context.Context, q Query) ([]Result, int, error)
	Healthy() bool
}

// CardRecord is the data we index for a card.
type CardRecord = store.CardSearchRecord

// RecordFor builds the index record of card.
func RecordFor(card store.Card) CardRecord {
	return CardRecord{
		ID:          card.ID,
		BoardID:     card.BoardID,
		ColumnID:    card.ColumnID,
		Title:       card.Title,
		Description: card.Description,
		Archived:    card.Archived,
	}
}
