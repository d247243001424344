package reconcile

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
)

// fakeGmail serves the two Gmail endpoints the source uses.
type fakeGmail struct {
	mu       sync.Mutex
	messages map[string]map[string]any
	pages    [][]string
	queries  []string
	limits   []string
}

func newFakeGmail(t *testing.T, g *fakeGmail) *GmailSource {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("GET /gmail/v1/users/{user}/messages/{id}", func(w http.ResponseWriter, r *http.Request) {
		if r.PathValue("user") != "me" || r.URL.Query().Get("format") != "full" {
			http.Error(w, "bad request", http.StatusBadRequest)
			return
		}
		g.mu.Lock()
		msg, ok := g.messages[r.PathValue("id")]
		g.mu.Unlock()
		if !ok {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`{"error":{"code":404,"message":"Requested entity was not found."}}`))
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(msg)
	})
	mux.HandleFunc("GET /gmail/v1/users/{user}/messages", func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		g.mu.Lock()
		g.queries = append(g.queries, q.Get("q"))
		g.limits = append(g.limits, q.Get("maxResults"))
		page := 0
		if tok := q.Get("pageToken"); tok != "" {
			page = int(tok[len(tok)-1] - '0')
		}
		ids := g.pages[page]
		next := ""
		if page+1 < len(g.pages) {
			next = "page" + string(rune('0'+page+1))
		}
		g.mu.Unlock()

		var msgs []map[string]string
		for _, id := range ids {
			msgs = append(msgs, map[string]string{"id": id, "threadId": "t-" + id})
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{"messages": msgs, "nextPageToken": next})
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	src, err := NewGmailSource(context.Background(), GmailConfig{HTTPClient: srv.Client(), BaseURL: srv.URL + "/"})
	if err != nil {
		t.Fatalf("NewGmailSource: %v", err)
	}
	return src
}

func TestGmailSource_Fetch(t *testing.T) {
	t.Parallel()
	g := &fakeGmail{messages: map[string]map[string]any{
		"m1": {
			"id": "m1",
			"payload": map[string]any{
				"mimeType": "multipart/alternative",
				"headers": []map[string]string{
					{"name": "Subject", "value": "Interview invitation"},
					{"name": "From", "value": "Stripe Recruiting <talent@stripe.example>"},
				},
				"parts": []map[string]any{
					{"mimeType": "text/plain", "body": map[string]any{"data": enc("We'd like to schedule an interview.")}},
				},
			},
		},
	}}
	src := newFakeGmail(t, g)

	e, err := src.Fetch(context.Background(), "m1")
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	want := Email{
		ID:      "m1",
		From:    "Stripe Recruiting <talent@stripe.example>",
		Subject: "Interview invitation",
		Body:    "We'd like to schedule an interview.",
	}
	if e != want {
		t.Errorf("Fetch = %+v, want %+v", e, want)
	}

	if _, err := src.Fetch(context.Background(), "missing"); err == nil || !strings.Contains(err.Error(), "missing") {
		t.Errorf("Fetch(missing) err = %v, want error naming the id", err)
	}
}

func TestGmailSource_SearchPaginates(t *testing.T) {
	t.Parallel()
	g := &fakeGmail{pages: [][]string{{"a", "b"}, {"c"}}}
	src := newFakeGmail(t, g)

	ids, err := src.Search(context.Background(), "subject:application", 10)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if strings.Join(ids, ",") != "a,b,c" {
		t.Errorf("ids = %v", ids)
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if strings.Join(g.queries, "|") != "subject:application|subject:application" {
		t.Errorf("queries = %v", g.queries)
	}
	if strings.Join(g.limits, ",") != "10,8" {
		t.Errorf("maxResults = %v", g.limits)
	}
}

func TestGmailSource_SearchStopsAtLimit(t *testing.T) {
	t.Parallel()
	g := &fakeGmail{pages: [][]string{{"a", "b"}, {"c", "d"}}}
	src := newFakeGmail(t, g)

	ids, err := src.Search(context.Background(), "", 3)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if strings.Join(ids, ",") != "a,b,c" {
		t.Errorf("ids = %v", ids)
	}
}

func TestNewGmailSource_NoCredentials(t *testing.T) {
	t.Parallel()
	if _, err := NewGmailSource(context.Background(), GmailConfig{}); !errors.Is(err, ErrNoCredentials) {
		t.Errorf("err = %v, want ErrNoCredentials", err)
	}
}
