package search

import (
	"context"
	"strings"
	"unicode/utf8"

	"corkboard/internal/store"
)

const snippetRunes = 160

// StoreSearcher searches through the primary store: Postgres full-text search
// for the Postgres store, substring matching for the memory store.
type StoreSearcher struct {
	Store store.Store
}

// Healthy always returns true; if the store is down, the whole app is down.
func (s StoreSearcher) Healthy() bool {
	return true
}

func (s StoreSearcher) Search(ctx context.Context, q Query) ([]Result, int, error) {
	if strings.TrimSpace(q.Text) == "" {
		return nil, 0, nil
	}
	limit := q.Limit
	if limit <= 0 {
		limit = 20
	}
	offset := max(q.Offset, 0)

	var cards []store.Card
	err := s.Store.View(ctx, func(tx store.Tx) error {
		var err error
		cards, err = tx.SearchCards(ctx, q.BoardID, q.Text, limit+offset)
		return err
	})
	if err != nil {
		return nil, 0, err
	}

	results := make([]Result, 0, len(cards))
	for _, card := range cards {
		if card.Archived && !q.IncludeArchived {
			continue
		}
		results = append(results, Result{
			ID:       card.ID,
			BoardID:  card.BoardID,
			ColumnID: card.ColumnID,
			Title:    card.Title,
			Snippet:  snippet(card.Description),
			Archived: card.Archived,
		})
	}
	total := len(results)
	if offset >= len(results) {
		return []Result{}, total, nil
	}
	return results[offset:], total, nil
}

func snippet(text string) string {
	text = strings.Join(strings.Fields(text), " ")
	if utf8.RuneCountInString(text) <= snippetRunes {
		return text
	}
	runes := []rune(text)
	return string(runes[:snippetRunes]) + "…"
}
