package collect

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/TobiSchelling/MarketPulse/internal/config"
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

func rssServer(t *testing.T) *httptest.Server {
	t.Helper()
	pub := time.Now().UTC().Format(time.RFC1123Z)
	old := time.Now().AddDate(0, 0, -30).UTC().Format(time.RFC1123Z)
	body := fmt.Sprintf(`<?xml version="1.0"?>
<rss version="2.0"><channel><title>Wire</title>
<item><title>Port strike halts exports</title><link>https://example.com/strike</link>
<description>&lt;p&gt;Dockworkers walk out.&lt;/p&gt;</description><pubDate>%s</pubDate></item>
<item><title>Old news</title><link>https://example.com/old</link><pubDate>%s</pubDate></item>
<item><title></title><link>https://example.com/untitled</link></item>
</channel></rss>`, pub, old)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/rss+xml")
		fmt.Fprint(w, body)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestParseAllFiltersAndTags(t *testing.T) {
	srv := rssServer(t)
	fp := NewFeedParser([]FeedConfig{{URL: srv.URL, Name: "Wire", Category: "economic"}})

	entries := fp.ParseAll(time.Now().AddDate(0, 0, -7))
	if len(entries) != 1 {
		t.Fatalf("expected 1 entry within window, got %d", len(entries))
	}
	e := entries[0]
	if e.Category != "economic" {
		t.Errorf("expected category 'economic', got %q", e.Category)
	}
	if e.Source != "Wire" {
		t.Errorf("expected source 'Wire', got %q", e.Source)
	}
	if e.Content != "Dockworkers walk out." {
		t.Errorf("unexpected content %q", e.Content)
	}
	if _, err := time.Parse(time.RFC3339, e.PublishedAt); err != nil {
		t.Errorf("expected RFC3339 publish time, got %q", e.PublishedAt)
	}
}

func TestCollectStoresEventsOnce(t *testing.T) {
	srv := rssServer(t)
	db := openTestDB(t)
	cfg := &config.Config{}
	cfg.Sources.Feeds = []config.Feed{{URL: srv.URL, Name: "Wire", Category: "economic"}}

	period, _ := database.PeriodEnding("2026-10-18", 7)
	c := NewCollector(cfg, db, period)
	r := c.Collect()
	if r.NewEvents != 1 || r.Duplicates != 0 {
		t.Fatalf("expected 1 new event, got %+v", r)
	}

	r = c.Collect()
	if r.NewEvents != 0 || r.Duplicates != 1 {
		t.Errorf("expected duplicate on second collect, got %+v", r)
	}

	events, err := db.GetEventsForPeriod("2026-10-18")
	if err != nil {
		t.Fatalf("GetEventsForPeriod: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("expected 1 stored event, got %d", len(events))
	}
	if events[0].Category == nil || *events[0].Category != "economic" {
		t.Errorf("expected stored category 'economic', got %v", events[0].Category)
	}
}

func TestCollectWindowFollowsPeriodLength(t *testing.T) {
	srv := rssServer(t)
	cfg := &config.Config{}
	cfg.Sources.Feeds = []config.Feed{{URL: srv.URL, Name: "Wire", Category: "economic"}}

	today := database.GetToday()
	short, _ := database.PeriodEnding(today, 1)
	long, _ := database.PeriodEnding(today, 31)

	if r := NewCollector(cfg, openTestDB(t), short).Collect(); r.NewEvents != 1 {
		t.Errorf("expected only the fresh item in a one-day period, got %+v", r)
	}

	db := openTestDB(t)
	if r := NewCollector(cfg, db, long).Collect(); r.NewEvents != 2 {
		t.Errorf("expected the month-old item in a 31-day period, got %+v", r)
	}
	events, _ := db.GetEventsForPeriod(long.ID())
	if len(events) != 2 {
		t.Errorf("expected events stored under %s, got %d", long.ID(), len(events))
	}
}

func TestNewsAPISearch(t *testing.T) {
	var gotKey, gotQuery, gotFrom string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotKey = r.Header.Get("X-Api-Key")
		gotQuery = r.URL.Query().Get("q")
		gotFrom = r.URL.Query().Get("from")
		fmt.Fprint(w, `{"status":"ok","articles":[
			{"url":"https://example.com/a","title":"Sanctions widen","publishedAt":"2026-10-17T08:00:00Z","description":"desc","source":{"name":"Wire"}},
			{"url":"https://removed.com","title":"[Removed]"}
		]}`)
	}))
	defer srv.Close()

	c := &NewsAPIClient{apiKey: "k", baseURL: srv.URL, client: srv.Client()}
	until := time.Date(2026, 10, 18, 9, 0, 0, 0, time.UTC)
	entries := c.Search("sanctions", "geopolitical", until.AddDate(0, 0, -3), until, 500)

	if gotKey != "k" || gotQuery != "sanctions" {
		t.Errorf("unexpected request key=%q q=%q", gotKey, gotQuery)
	}
	if gotFrom != "2026-10-15T09:00:00Z" {
		t.Errorf("expected window start 2026-10-15T09:00:00Z, got %q", gotFrom)
	}
	if len(entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(entries))
	}
	e := entries[0]
	if e.Category != "geopolitical" || e.Content != "desc" || e.PublishedAt != "2026-10-17T08:00:00Z" {
		t.Errorf("unexpected entry %+v", e)
	}
}

func TestNewsAPIUnconfigured(t *testing.T) {
	c := &NewsAPIClient{}
	if c.IsConfigured() {
		t.Error("expected unconfigured client")
	}
	if got := c.Search("x", "economic", time.Now().AddDate(0, 0, -1), time.Now(), 10); got != nil {
		t.Errorf("expected nil entries, got %v", got)
	}
}

func TestExtractSourceName(t *testing.T) {
	tests := map[string]string{
		"https://feeds.reuters.com/reuters/businessNews": "Reuters",
		"https://www.sec.gov/cgi-bin/browse-edgar":       "Sec",
	}
	for in, want := range tests {
		if got := extractSourceName(in); got != want {
			t.Errorf("extractSourceName(%q) = %q, want %q", in, got, want)
		}
	}
}
