package search

import (
	"context"

	"github.com/rs/zerolog"

	"corkboard/internal/logging"
	"corkboard/internal/store"
)

// Service is the facade that tries Meilisearch first and falls back to the
// store's own search.
type Service struct {
	meili    *Meili
	fallback Searcher
	logger   zerolog.Logger
}

// NewService creates a search service. meili may be nil if Meilisearch is not configured.
func NewService(meili *Meili, fallback Searcher) *Service {
	return &Service{meili: meili, fallback: fallback, logger: logging.WithComponent("search")}
}

// Search tries Meilisearch if healthy, otherwise falls back to the store.
func (s *Service) Search(ctx context.Context, q Query) Response {
	if s.meili != nil && s.meili.Healthy() {
		results, total, err := s.meili.Search(ctx, q)
		if err == nil {
			return Response{Results: nonNil(results), Total: total, Query: q.Text}
		}
		s.logger.Warn().Err(err).Msg("meilisearch error, falling back to store search")
	}

	results, total, err := s.fallback.Search(ctx, q)
	if err != nil {
		s.logger.Error().Err(err).Str("board_id", q.BoardID).Msg("store search failed")
		return Response{Results: []Result{}, Total: 0, Query: q.Text}
	}
	return Response{Results: nonNil(results), Total: total, Query: q.Text}
}

// IndexCard indexes a card (fire-and-forget to Meilisearch).
func (s *Service) IndexCard(card store.Card) {
	if s.meili == nil || !s.meili.Healthy() {
		return
	}
	record := RecordFor(card)
	go func() {
		if err := s.meili.IndexCard(record); err != nil {
			s.logger.Warn().Err(err).Str("card_id", record.ID).Msg("index card")
		}
	}()
}

// DeleteCards removes cards from the search index (fire-and-forget).
func (s *Service) DeleteCards(ids ...string) {
	if s.meili == nil || !s.meili.Healthy() || len(ids) == 0 {
		return
	}
	go func() {
		for _, id := range ids {
			if err := s.meili.DeleteCard(id); err != nil {
				s.logger.Warn().Err(err).Str("card_id", id).Msg("delete card from index")
			}
		}
	}()
}

// ReindexFromStore pushes every card in the store to Meilisearch.
func (s *Service) ReindexFromStore(ctx context.Context, st store.Store) {
	if s.meili == nil || !s.meili.Healthy() {
		return
	}
	var records []CardRecord
	if err := st.View(ctx, func(tx store.Tx) error {
		var err error
		records, err = tx.ListCardSearchRecords(ctx)
		return err
	}); err != nil {
		s.logger.Error().Err(err).Msg("reindex load failed")
		return
	}
	if err := s.meili.IndexCards(records); err != nil {
		s.logger.Error().Err(err).Msg("reindex cards")
		return
	}
	s.logger.Info().Int("cards", len(records)).Msg("search index rebuilt")
}

// Close stops the Meilisearch health monitor, if any.
func (s *Service) Close() {
	if s.meili != nil {
		s.meili.Close()
	}
}

func nonNil(r []Result) []Result {
	if r == nil {
		return []Result{}
	}
	return r
}
