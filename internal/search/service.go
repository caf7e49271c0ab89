package search

import (
	"log"
)

// Service is the facade that tries Meilisearch first and falls back to the
// Postgres searcher.
type Service struct {
	meili *Meili
	pg    *PgSearch
}

// NewService creates a search service. meili may be nil if Meilisearch is
// not configured.
func NewService(meili *Meili, pg *PgSearch) *Service {
	return &Service{meili: meili, pg: pg}
}

// Search tries Meilisearch if healthy, otherwise falls back to Postgres.
func (s *Service) Search(q Query) Response {
	if s.meili != nil && s.meili.Healthy() {
		results, total, err := s.meili.Search(q)
		if err == nil {
			return Response{Results: nonNil(results), Total: total, Query: q.Text}
		}
		log.Printf("search: meilisearch error, falling back to postgres: %v", err)
	}

	results, total, err := s.pg.Search(q)
	if err != nil {
		log.Printf("search: postgres fallback error: %v", err)
		return Response{Results: []Result{}, Total: 0, Query: q.Text}
	}
	return Response{Results: nonNil(results), Total: total, Query: q.Text}
}

// IndexObjective pushes an objective into the index (fire-and-forget).
func (s *Service) IndexObjective(record ObjectiveRecord) {
	if s.meili == nil || !s.meili.Healthy() {
		return
	}
	go func() {
		if err := s.meili.IndexObjective(record); err != nil {
			log.Printf("search: index objective %s: %v", record.ID, err)
		}
	}()
}

// DeleteObjective removes an objective from the index (fire-and-forget).
func (s *Service) DeleteObjective(id string) {
	if s.meili == nil || !s.meili.Healthy() {
		return
	}
	go func() {
		if err := s.meili.DeleteObjective(id); err != nil {
			log.Printf("search: delete objective %s: %v", id, err)
		}
	}()
}

// ReindexAll bulk-pushes objectives into Meilisearch. Called during
// bootstrap when the index is empty.
func (s *Service) ReindexAll(records []ObjectiveRecord) {
	if s.meili == nil || !s.meili.Healthy() {
		return
	}
	if !s.meili.IsEmpty() {
		return
	}
	if err := s.meili.IndexObjectives(records); err != nil {
		log.Printf("search: reindex all: %v", err)
		return
	}
	log.Printf("search: reindexed %d objectives", len(records))
}

func nonNil(results []Result) []Result {
	if results == nil {
		return []Result{}
	}
	return results
}
