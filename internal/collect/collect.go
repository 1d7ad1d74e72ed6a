package collect

import (
	"log"
	"time"

	"github.com/TobiSchelling/MarketPulse/internal/config"
	"github.com/TobiSchelling/MarketPulse/internal/database"
)

// Result holds the results of a collection run.
type Result struct {
	TotalFound int
	NewEvents  int
	Duplicates int
	Sources    map[string]int
}

// Collector gathers events from RSS feeds and NewsAPI.
type Collector struct {
	db           *database.DB
	feedParser   *FeedParser
	newsClient   *NewsAPIClient
	newsQuery    string
	newsCategory string
	period       database.Period
	now          func() time.Time
}

// NewCollector creates a collector that stores events into period, taking
// everything published within period.Days() days of the run.
func NewCollector(cfg *config.Config, db *database.DB, period database.Period) *Collector {
	c := &Collector{
		db:     db,
		period: period,
		now:    time.Now,
	}

	if len(cfg.Sources.Feeds) > 0 {
		feeds := make([]FeedConfig, len(cfg.Sources.Feeds))
		for i, f := range cfg.Sources.Feeds {
			feeds[i] = FeedConfig{URL: f.URL, Name: f.Name, Category: f.Category}
		}
		c.feedParser = NewFeedParser(feeds)
	}

	apiCfg := cfg.Sources.APIs.NewsAPI
	if apiCfg.Enabled {
		c.newsClient = NewNewsAPIClient(apiCfg.APIKeyEnv)
		c.newsQuery = apiCfg.Query
		c.newsCategory = apiCfg.Category
	}

	return c
}

// Collect collects events from all configured sources into the period.
func (c *Collector) Collect() *Result {
	r := &Result{Sources: make(map[string]int)}
	periodID := c.period.ID()
	now := c.now()
	since := c.period.Since(now)

	if c.feedParser != nil {
		log.Println("Collecting from RSS feeds...")
		entries := c.feedParser.ParseAll(since)
		r.TotalFound += len(entries)
		for _, entry := range entries {
			c.store(r, entry, periodID)
		}
	}

	if c.newsClient != nil && c.newsClient.IsConfigured() && c.newsQuery != "" {
		log.Println("Collecting from NewsAPI...")
		entries := c.newsClient.Search(c.newsQuery, c.newsCategory, since, now, 100)
		r.TotalFound += len(entries)
		for _, entry := range entries {
			c.store(r, entry, periodID)
		}
	}

	log.Printf("Collection complete: %d found, %d new, %d duplicates", r.TotalFound, r.NewEvents, r.Duplicates)
	return r
}

func (c *Collector) store(r *Result, entry FeedEntry, periodID string) {
	pid := periodID
	id, err := c.db.InsertEvent(entry.URL, entry.Title,
		optional(entry.Source), optional(entry.Category), optional(entry.PublishedAt),
		optional(entry.Content), &pid)
	if err != nil {
		log.Printf("Failed to store event %s: %v", entry.URL, err)
		return
	}
	if id == "" {
		r.Duplicates++
		return
	}
	r.NewEvents++
	r.Sources[entry.Source]++
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
