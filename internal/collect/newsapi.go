package collect

import (
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"
)

const newsAPIBaseURL = "https://newsapi.org/v2/everything"

// NewsAPIClient fetches event candidates from NewsAPI.
type NewsAPIClient struct {
	apiKey  string
	baseURL string
	client  *http.Client
}

// NewNewsAPIClient creates a new NewsAPI client.
func NewNewsAPIClient(apiKeyEnv string) *NewsAPIClient {
	return &NewsAPIClient{
		apiKey:  os.Getenv(apiKeyEnv),
		baseURL: newsAPIBaseURL,
		client:  &http.Client{Timeout: 30 * time.Second},
	}
}

// IsConfigured returns whether the API key is available.
func (c *NewsAPIClient) IsConfigured() bool {
	return c.apiKey != ""
}

// Search returns articles published between since and until matching query,
// tagged with category.
func (c *NewsAPIClient) Search(query, category string, since, until time.Time, pageSize int) []FeedEntry {
	if c.apiKey == "" {
		log.Println("NewsAPI not configured, skipping search")
		return nil
	}

	fromDate := since.UTC().Format(time.RFC3339)
	toDate := until.UTC().Format(time.RFC3339)

	if pageSize > 100 {
		pageSize = 100
	}

	params := url.Values{
		"q":        {query},
		"from":     {fromDate},
		"to":       {toDate},
		"language": {"en"},
		"pageSize": {fmt.Sprintf("%d", pageSize)},
		"sortBy":   {"publishedAt"},
	}

	req, err := http.NewRequest("GET", c.baseURL+"?"+params.Encode(), nil)
	if err != nil {
		log.Printf("NewsAPI request error: %v", err)
		return nil
	}
	req.Header.Set("X-Api-Key", c.apiKey)

	resp, err := c.client.Do(req)
	if err != nil {
		log.Printf("NewsAPI error: %v", err)
		return nil
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		log.Printf("NewsAPI HTTP error: %d", resp.StatusCode)
		return nil
	}

	var result struct {
		Status   string `json:"status"`
		Articles []struct {
			URL         string `json:"url"`
			Title       string `json:"title"`
			PublishedAt string `json:"publishedAt"`
			Content     string `json:"content"`
			Description string `json:"description"`
			Source      struct {
				Name string `json:"name"`
			} `json:"source"`
		} `json:"articles"`
	}

	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		log.Printf("NewsAPI decode error: %v", err)
		return nil
	}

	if result.Status != "ok" {
		log.Printf("NewsAPI status: %s", result.Status)
		return nil
	}

	var entries []FeedEntry
	for _, a := range result.Articles {
		if a.URL == "" || a.Title == "" {
			continue
		}
		if a.Title == "[Removed]" || a.URL == "https://removed.com" {
			continue
		}

		var publishedAt string
		if a.PublishedAt != "" {
			t, err := time.Parse(time.RFC3339, a.PublishedAt)
			if err == nil {
				publishedAt = t.UTC().Format(time.RFC3339)
			}
		}

		content := a.Content
		if content == "" {
			content = a.Description
		}
		content = strings.TrimSpace(content)

		source := "NewsAPI"
		if a.Source.Name != "" {
			source = a.Source.Name
		}

		entries = append(entries, FeedEntry{
			URL:         a.URL,
			Title:       strings.TrimSpace(a.Title),
			PublishedAt: publishedAt,
			Content:     content,
			Source:      source,
			Category:    category,
		})
	}

	log.Printf("Fetched %d articles from NewsAPI for query: %s", len(entries), query)
	return entries
}
