package trace

import (
	"context"
	"log"
	"time"

	"matterops/api/internal/util"
)

type eventStore interface {
	Insert(ctx context.Context, event Event) error
	Search(ctx context.Context, query string, matterID int64, limit int) ([]Event, error)
}

type searchIndex interface {
	Healthy() bool
	IndexEvent(event Event) error
	Search(query string, matterID int64, limit int) ([]Event, error)
}

// Service is the facade: events always land in Postgres, and are indexed
// into Meilisearch fire-and-forget when it is healthy. Search prefers
// Meilisearch and falls back to Postgres.
type Service struct {
	index searchIndex
	store eventStore
}

// NewService creates a trace service. index may be nil if Meilisearch is not
// configured.
func NewService(index *Meili, store *PG) *Service {
	s := &Service{store: store}
	if index != nil {
		s.index = index
	}
	return s
}

// Record writes an event. Tracing never fails the pipeline that emits it;
// errors are logged and swallowed.
func (s *Service) Record(ctx context.Context, event Event) {
	if event.ID == "" {
		event.ID = util.NewID("trc")
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now().UTC()
	}

	if err := s.store.Insert(ctx, event); err != nil {
		log.Printf("trace: insert event %s: %v", event.ID, err)
		return
	}

	if s.index == nil || !s.index.Healthy() {
		return
	}
	go func() {
		if err := s.index.IndexEvent(event); err != nil {
			log.Printf("trace: index event %s: %v", event.ID, err)
		}
	}()
}

// Search tries Meilisearch if healthy, otherwise falls back to Postgres.
func (s *Service) Search(ctx context.Context, query string, matterID int64, limit int) []Event {
	if s.index != nil && s.index.Healthy() {
		events, err := s.index.Search(query, matterID, limit)
		if err == nil {
			return events
		}
		log.Printf("trace: meilisearch error, falling back to postgres: %v", err)
	}

	events, err := s.store.Search(ctx, query, matterID, limit)
	if err != nil {
		log.Printf("trace: postgres search error: %v", err)
		return []Event{}
	}
	return events
}
