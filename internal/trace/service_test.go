package trace

import (
	"context"
	"errors"
	"testing"
	"time"
)

type fakeEventStore struct {
	inserted []Event
	searchFn func(ctx context.Context, query string, matterID int64, limit int) ([]Event, error)
}

func (f *fakeEventStore) Insert(_ context.Context, event Event) error {
	f.inserted = append(f.inserted, event)
	return nil
}

func (f *fakeEventStore) Search(ctx context.Context, query string, matterID int64, limit int) ([]Event, error) {
	if f.searchFn != nil {
		return f.searchFn(ctx, query, matterID, limit)
	}
	return nil, nil
}

type fakeIndex struct {
	healthy  bool
	searchFn func(query string, matterID int64, limit int) ([]Event, error)
}

func (f *fakeIndex) Healthy() bool                { return f.healthy }
func (f *fakeIndex) IndexEvent(Event) error       { return nil }
func (f *fakeIndex) Search(query string, matterID int64, limit int) ([]Event, error) {
	if f.searchFn != nil {
		return f.searchFn(query, matterID, limit)
	}
	return nil, nil
}

func TestRecordFillsIDAndTimestamp(t *testing.T) {
	store := &fakeEventStore{}
	service := &Service{store: store}

	service.Record(context.Background(), Event{MatterID: 42, Kind: KindTaskCreated, Message: "task 3 created"})

	if len(store.inserted) != 1 {
		t.Fatalf("expected 1 insert, got %d", len(store.inserted))
	}
	got := store.inserted[0]
	if got.ID == "" {
		t.Error("expected generated id")
	}
	if got.CreatedAt.IsZero() {
		t.Error("expected timestamp")
	}
}

func TestSearchFallsBackToPostgres(t *testing.T) {
	want := []Event{{ID: "trc_1", Kind: KindTaskCreated, CreatedAt: time.Now()}}
	store := &fakeEventStore{
		searchFn: func(context.Context, string, int64, int) ([]Event, error) {
			return want, nil
		},
	}

	// Unhealthy index: skip straight to Postgres.
	service := &Service{index: &fakeIndex{healthy: false}, store: store}
	got := service.Search(context.Background(), "task", 42, 10)
	if len(got) != 1 || got[0].ID != "trc_1" {
		t.Fatalf("unhealthy index: got %+v", got)
	}

	// Healthy index that errors: fall back.
	service = &Service{
		index: &fakeIndex{healthy: true, searchFn: func(string, int64, int) ([]Event, error) {
			return nil, errors.New("boom")
		}},
		store: store,
	}
	got = service.Search(context.Background(), "task", 42, 10)
	if len(got) != 1 || got[0].ID != "trc_1" {
		t.Fatalf("failing index: got %+v", got)
	}
}

func TestSearchPrefersIndex(t *testing.T) {
	service := &Service{
		index: &fakeIndex{healthy: true, searchFn: func(string, int64, int) ([]Event, error) {
			return []Event{{ID: "from-meili"}}, nil
		}},
		store: &fakeEventStore{
			searchFn: func(context.Context, string, int64, int) ([]Event, error) {
				t.Fatal("postgres should not be queried when the index answers")
				return nil, nil
			},
		},
	}

	got := service.Search(context.Background(), "", 0, 0)
	if len(got) != 1 || got[0].ID != "from-meili" {
		t.Fatalf("got %+v", got)
	}
}
