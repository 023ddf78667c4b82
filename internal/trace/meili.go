package trace

import (
	"encoding/json"
	"fmt"
	"log"
	"sync/atomic"
	"time"

	meili "github.com/meilisearch/meilisearch-go"
)

const idxTraces = "matterops_traces"

// Meili indexes trace events in Meilisearch.
type Meili struct {
	client  meili.ServiceManager
	healthy atomic.Bool
	done    chan struct{}
}

// NewMeili creates a Meilisearch client and configures the trace index. The
// caller proceeds without indexing if the instance is unreachable; the
// background health loop picks it up when it comes back.
func NewMeili(url, apiKey string) *Meili {
	client := meili.New(url, meili.WithAPIKey(apiKey))

	m := &Meili{
		client: client,
		done:   make(chan struct{}),
	}

	if _, err := client.Health(); err != nil {
		log.Printf("trace: meilisearch unavailable at %s: %v", url, err)
		m.healthy.Store(false)
	} else {
		m.healthy.Store(true)
		m.configureIndex()
	}

	go m.healthLoop()
	return m
}

func (m *Meili) configureIndex() {
	if _, err := m.client.CreateIndex(&meili.IndexConfig{
		Uid:        idxTraces,
		PrimaryKey: "id",
	}); err != nil {
		log.Printf("trace: create index %s (may already exist): %v", idxTraces, err)
	}

	index := m.client.Index(idxTraces)
	filterable := []interface{}{"matterId", "kind"}
	if _, err := index.UpdateFilterableAttributes(&filterable); err != nil {
		log.Printf("trace: update filterable attrs: %v", err)
	}
	searchable := []string{"message", "kind"}
	if _, err := index.UpdateSearchableAttributes(&searchable); err != nil {
		log.Printf("trace: update searchable attrs: %v", err)
	}
	sortable := []string{"createdAt"}
	if _, err := index.UpdateSortableAttributes(&sortable); err != nil {
		log.Printf("trace: update sortable attrs: %v", err)
	}
}

func (m *Meili) healthLoop() {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-m.done:
			return
		case <-ticker.C:
			_, err := m.client.Health()
			wasHealthy := m.healthy.Load()
			m.healthy.Store(err == nil)
			if err == nil && !wasHealthy {
				log.Println("trace: meilisearch recovered, reconfiguring index")
				m.configureIndex()
			}
		}
	}
}

// Healthy reports whether Meilisearch is reachable.
func (m *Meili) Healthy() bool {
	return m.healthy.Load()
}

// Close stops the background health monitor.
func (m *Meili) Close() {
	close(m.done)
}

type traceDoc struct {
	ID        string         `json:"id"`
	MatterID  int64          `json:"matterId"`
	Kind      string         `json:"kind"`
	Message   string         `json:"message"`
	Payload   map[string]any `json:"payload,omitempty"`
	CreatedAt int64          `json:"createdAt"`
}

// IndexEvent pushes one event into the trace index.
func (m *Meili) IndexEvent(event Event) error {
	doc := traceDoc{
		ID:        event.ID,
		MatterID:  event.MatterID,
		Kind:      event.Kind,
		Message:   event.Message,
		Payload:   event.Payload,
		CreatedAt: event.CreatedAt.Unix(),
	}
	if _, err := m.client.Index(idxTraces).AddDocuments([]traceDoc{doc}, nil); err != nil {
		return fmt.Errorf("index trace event %s: %w", event.ID, err)
	}
	return nil
}

// Search queries the trace index, filtered by matter when matterID is set.
func (m *Meili) Search(query string, matterID int64, limit int) ([]Event, error) {
	if !m.healthy.Load() {
		return nil, fmt.Errorf("meilisearch unhealthy")
	}
	if limit <= 0 {
		limit = 50
	}

	request := &meili.SearchRequest{
		Limit: int64(limit),
		Sort:  []string{"createdAt:desc"},
	}
	if matterID != 0 {
		request.Filter = fmt.Sprintf("matterId = %d", matterID)
	}

	resp, err := m.client.Index(idxTraces).Search(query, request)
	if err != nil {
		m.healthy.Store(false)
		return nil, fmt.Errorf("meilisearch search: %w", err)
	}

	events := make([]Event, 0, len(resp.Hits))
	for _, hit := range resp.Hits {
		events = append(events, hitToEvent(hit))
	}
	return events, nil
}

func hitToEvent(hit meili.Hit) Event {
	var doc traceDoc
	encoded, err := json.Marshal(hit)
	if err == nil {
		_ = json.Unmarshal(encoded, &doc)
	}
	return Event{
		ID:        doc.ID,
		MatterID:  doc.MatterID,
		Kind:      doc.Kind,
		Message:   doc.Message,
		Payload:   doc.Payload,
		CreatedAt: time.Unix(doc.CreatedAt, 0).UTC(),
	}
}
