package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strings"
	"time"
	"unicode/utf8"

	readability "github.com/go-shiori/go-readability"

	"github.com/TobiSchelling/MarketPulse/internal/database"
)

// MaxContentRunes caps the event text kept from a page. The analyzer sends
// no more than this to the producer, so storing more is wasted.
const MaxContentRunes = 4000

// minContentRunes is the shortest extraction worth keeping; anything less
// is usually a cookie banner or paywall stub.
const minContentRunes = 100

const maxBodyBytes = 5 << 20

// Result holds the results of a content fetch run.
type Result struct {
	Fetched int
	Failed  int
	// Skipped counts events not requested because their domain had already
	// failed during this run.
	Skipped int
}

// ContentFetcher fills in event text via HTTP and readability extraction.
type ContentFetcher struct {
	db     *database.DB
	client *http.Client
}

// NewContentFetcher creates a new content fetcher.
func NewContentFetcher(db *database.DB, timeout time.Duration) *ContentFetcher {
	if timeout == 0 {
		timeout = 15 * time.Second
	}
	return &ContentFetcher{
		db: db,
		client: &http.Client{
			Timeout: timeout,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				if len(via) >= 10 {
					return http.ErrUseLastResponse
				}
				return nil
			},
		},
	}
}

// errUnreachable marks a failure of the site rather than of the page, after
// which the rest of the domain's events are not requested.
var errUnreachable = errors.New("site unreachable")

// FetchMissingContent fetches content for events collected without any.
// Every event it looks at is marked attempted, whether or not text was found,
// so the next run does not request it again.
func (f *ContentFetcher) FetchMissingContent(ctx context.Context, periodID *string) *Result {
	events, err := f.db.GetEventsNeedingFetch(periodID)
	if err != nil {
		log.Printf("Error getting events needing fetch: %v", err)
		return &Result{}
	}

	if len(events) == 0 {
		log.Println("No events need content fetching")
		return &Result{}
	}

	result := &Result{}
	downDomains := make(map[string]struct{})

	for _, event := range events {
		if ctx.Err() != nil {
			log.Printf("Content fetch interrupted: %v", ctx.Err())
			break
		}

		domain := domainOf(event.URL)
		if _, down := downDomains[domain]; down {
			f.db.MarkEventFetchAttempted(event.ID)
			result.Skipped++
			continue
		}

		content, err := f.fetchContent(ctx, event.URL)
		switch {
		case err != nil:
			f.db.MarkEventFetchAttempted(event.ID)
			result.Failed++
			if errors.Is(err, errUnreachable) && domain != "" {
				downDomains[domain] = struct{}{}
				log.Printf("Fetch failed for %s (%v), skipping remaining from %s", event.URL, err, domain)
			} else {
				log.Printf("Fetch failed for %s: %v", event.URL, err)
			}
		case content == "":
			f.db.MarkEventFetchAttempted(event.ID)
			result.Failed++
			log.Printf("No extractable content from: %s", event.URL)
		default:
			if err := f.db.UpdateEventContent(event.ID, &content); err != nil {
				log.Printf("Error storing content for %s: %v", event.ID, err)
				result.Failed++
				continue
			}
			result.Fetched++
			log.Printf("Fetched content for: %s", event.Title)
		}
	}

	log.Printf("Content fetch complete: %d fetched, %d failed, %d skipped",
		result.Fetched, result.Failed, result.Skipped)
	return result
}

func (f *ContentFetcher) fetchContent(ctx context.Context, pageURL string) (string, error) {
	u, err := url.Parse(pageURL)
	if err != nil {
		return "", fmt.Errorf("parsing url: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("User-Agent", "MarketPulse/1.0 (event monitor)")

	resp, err := f.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %v", errUnreachable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return "", fmt.Errorf("%w: %s", errUnreachable, resp.Status)
	}

	article, err := readability.FromReader(io.LimitReader(resp.Body, maxBodyBytes), u)
	if err != nil {
		return "", fmt.Errorf("extracting text: %w", err)
	}

	text := strings.TrimSpace(article.TextContent)
	if utf8.RuneCountInString(text) < minContentRunes {
		return "", nil
	}
	return Truncate(text, MaxContentRunes), nil
}

// Truncate shortens s to at most n runes, ending a shortened string with
// "...". It never splits a multi-byte character and is idempotent.
func Truncate(s string, n int) string {
	if n <= 0 {
		return ""
	}
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	const ellipsis = "..."
	keep := n - len(ellipsis)
	if keep <= 0 {
		return ellipsis[:n]
	}
	count := 0
	for i := range s {
		if count == keep {
			return s[:i] + ellipsis
		}
		count++
	}
	return s
}

func domainOf(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	return strings.ToLower(u.Host)
}
