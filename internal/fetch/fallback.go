package fetch

import (
	"context"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/rotisserie/eris"
	"golang.org/x/time/rate"
)

// maxFallbackBody bounds how much of a page the fallback reads.
const maxFallbackBody = 512 * 1024

const fallbackUserAgent = "Mozilla/5.0 (compatible; ProspectorBot/1.0)"

// Fallback fetches pages directly over net/http when the hosted scraping
// service is unavailable. It self-paces with a token bucket so degraded
// runs do not hammer target sites.
type Fallback struct {
	client  *http.Client
	limiter *rate.Limiter
}

// NewFallback creates a fallback scraper pacing itself to rps requests
// per second.
func NewFallback(rps float64) *Fallback {
	if rps <= 0 {
		rps = 2
	}
	return &Fallback{
		client: &http.Client{
			Timeout: 15 * time.Second,
			Transport: &http.Transport{
				DialContext: (&net.Dialer{
					Timeout: 10 * time.Second,
				}).DialContext,
				TLSHandshakeTimeout: 10 * time.Second,
			},
		},
		limiter: rate.NewLimiter(rate.Limit(rps), 1),
	}
}

// Scrape fetches targetURL and reduces it to plaintext.
func (f *Fallback) Scrape(ctx context.Context, targetURL string) (title, content string, err error) {
	if err := f.limiter.Wait(ctx); err != nil {
		return "", "", eris.Wrap(err, "fallback: wait for pacing")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, targetURL, nil)
	if err != nil {
		return "", "", eris.Wrap(err, "fallback: create request")
	}
	req.Header.Set("User-Agent", fallbackUserAgent)

	resp, err := f.client.Do(req)
	if err != nil {
		return "", "", eris.Wrap(err, "fallback: fetch")
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode >= 400 {
		return "", "", eris.Errorf("fallback: status %d for %s", resp.StatusCode, targetURL)
	}

	doc, err := goquery.NewDocumentFromReader(io.LimitReader(resp.Body, maxFallbackBody))
	if err != nil {
		return "", "", eris.Wrap(err, "fallback: parse html")
	}

	title = strings.TrimSpace(doc.Find("title").First().Text())

	doc.Find("script, style, nav, footer, noscript").Remove()
	content = collapseWhitespace(doc.Find("body").Text())
	if content == "" {
		content = collapseWhitespace(doc.Text())
	}
	if len(content) < 50 {
		return "", "", eris.Errorf("fallback: empty page %s", targetURL)
	}
	return title, content, nil
}

func collapseWhitespace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
