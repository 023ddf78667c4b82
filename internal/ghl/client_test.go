package ghl

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestSearchContactByEmail(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/contacts/lookup" || r.URL.Query().Get("email") != "jane@example.com" {
			t.Errorf("unexpected request: %s", r.URL.String())
		}
		if r.Header.Get("Version") == "" {
			t.Error("missing API version header")
		}
		_, _ = w.Write([]byte(`{"contacts":[{"id":"abc","email":"jane@example.com","firstName":"Jane"}]}`))
	}))
	defer server.Close()

	client := New(server.URL, "t")
	contacts, err := client.SearchContactByEmail(context.Background(), "jane@example.com")
	if err != nil {
		t.Fatalf("SearchContactByEmail: %v", err)
	}
	if len(contacts) != 1 || contacts[0].ID != "abc" {
		t.Fatalf("unexpected contacts: %+v", contacts)
	}
}

func TestUpdateContactErrorPropagates(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"message":"invalid phone"}`))
	}))
	defer server.Close()

	client := New(server.URL, "t")
	phone := "not-a-phone"
	if err := client.UpdateContact(context.Background(), "abc", ContactUpdate{Phone: &phone}); err == nil {
		t.Fatal("expected error for 400 response")
	}
}
