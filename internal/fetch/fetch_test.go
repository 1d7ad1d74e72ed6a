package fetch

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/TobiSchelling/MarketPulse/internal/database"
)

func openTestDB(t *testing.T) *database.DB {
	t.Helper()
	db, err := database.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("failed to open test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestFetchMissingContent(t *testing.T) {
	paragraph := strings.Repeat("Central bank raises rates to curb inflation across the region. ", 10)
	good := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, "<html><head><title>Rates</title></head><body><article><h1>Rates</h1><p>%s</p><p>%s</p></article></body></html>", paragraph, paragraph)
	}))
	defer good.Close()

	var badHits int
	bad := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		badHits++
		http.NotFound(w, r)
	}))
	defer bad.Close()

	db := openTestDB(t)
	pid := "2026-10-18"
	ids := map[string]string{}
	for _, u := range []string{good.URL + "/rates", bad.URL + "/a", bad.URL + "/b"} {
		id, err := db.InsertEvent(u, "Event "+u, nil, nil, nil, nil, &pid)
		if err != nil {
			t.Fatalf("InsertEvent: %v", err)
		}
		ids[u] = id
	}

	f := NewContentFetcher(db, 0)
	r := f.FetchMissingContent(context.Background(), &pid)

	if r.Fetched != 1 {
		t.Errorf("expected 1 fetched, got %d", r.Fetched)
	}
	if r.Failed != 1 || r.Skipped != 1 {
		t.Errorf("expected 1 failed and 1 skipped, got %+v", r)
	}
	if badHits != 1 {
		t.Errorf("expected failing domain to be hit once, got %d", badHits)
	}

	e, err := db.GetEventByID(ids[good.URL+"/rates"])
	if err != nil || e == nil {
		t.Fatalf("GetEventByID: %v", err)
	}
	if e.Content == nil || !strings.Contains(*e.Content, "Central bank raises rates") {
		t.Errorf("expected extracted content, got %v", e.Content)
	}

	remaining, err := db.GetEventsNeedingFetch(&pid)
	if err != nil {
		t.Fatalf("GetEventsNeedingFetch: %v", err)
	}
	if len(remaining) != 0 {
		t.Errorf("expected no events left to fetch, got %d", len(remaining))
	}
}

func TestFetchCapsStoredContent(t *testing.T) {
	long := strings.Repeat("Zölle auf Stahl steigen erneut. ", 400)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, "<html><body><article><h1>Zölle</h1><p>%s</p></article></body></html>", long)
	}))
	defer srv.Close()

	db := openTestDB(t)
	pid := "2026-10-18"
	id, err := db.InsertEvent(srv.URL+"/tariffs", "Tariffs", nil, nil, nil, nil, &pid)
	if err != nil {
		t.Fatalf("InsertEvent: %v", err)
	}

	r := NewContentFetcher(db, 0).FetchMissingContent(context.Background(), &pid)
	if r.Fetched != 1 {
		t.Fatalf("expected 1 fetched, got %+v", r)
	}
	e, _ := db.GetEventByID(id)
	if e == nil || e.Content == nil {
		t.Fatal("expected stored content")
	}
	if n := utf8.RuneCountInString(*e.Content); n != MaxContentRunes {
		t.Errorf("expected content capped at %d runes, got %d", MaxContentRunes, n)
	}
	if !utf8.ValidString(*e.Content) {
		t.Error("expected valid UTF-8 after capping")
	}
}

func TestTruncate(t *testing.T) {
	tests := []struct {
		in   string
		n    int
		want string
	}{
		{"short", 10, "short"},
		{"exactly10!", 10, "exactly10!"},
		{"abcdefghijkl", 10, "abcdefg..."},
		{"äöüäöüäöüäöü", 8, "äöüäö..."},
		{"日本語のニュース記事", 6, "日本語..."},
		{"abcdef", 2, ".."},
		{"abc", 0, ""},
	}
	for _, tt := range tests {
		got := Truncate(tt.in, tt.n)
		if got != tt.want {
			t.Errorf("Truncate(%q, %d) = %q, want %q", tt.in, tt.n, got, tt.want)
		}
		if !utf8.ValidString(got) {
			t.Errorf("Truncate(%q, %d) split a character: %q", tt.in, tt.n, got)
		}
		if again := Truncate(got, tt.n); again != got {
			t.Errorf("Truncate not idempotent for %q: %q then %q", tt.in, got, again)
		}
	}
}
