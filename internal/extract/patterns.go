package extract

import (
	"regexp"
	"strings"

	"github.com/prospect-labs/prospector-cli/internal/model"
)

var (
	emailRe = regexp.MustCompile(`(?i)\b[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}\b`)

	phoneRes = []*regexp.Regexp{
		regexp.MustCompile(`\b\d{3}[-.]?\d{3}[-.]?\d{4}\b`),
		regexp.MustCompile(`\(\d{3}\)\s*\d{3}[-.]?\d{4}`),
		regexp.MustCompile(`\+1[-.]?\d{3}[-.]?\d{3}[-.]?\d{4}`),
	}

	nameRes = []*regexp.Regexp{
		regexp.MustCompile(`(?:CEO|CTO|CFO|Director|Manager|President|VP|Vice President)[\s:]+([A-Z][a-z]+ [A-Z][a-z]+)`),
		regexp.MustCompile(`Contact[\s:]+([A-Z][a-z]+ [A-Z][a-z]+)`),
		regexp.MustCompile(`([A-Z][a-z]+ [A-Z][a-z]+)[\s,]+(?:CEO|CTO|CFO|Director|Manager|President)`),
	}
)

// extractPatterns pulls contacts out of content with regular expressions
// alone. Fast, free, and good enough when the page is plain.
func extractPatterns(content string) model.ContactRecord {
	rec := model.ContactRecord{
		Method: model.ExtractionPattern,
	}

	rec.Emails = dedupe(emailRe.FindAllString(content, -1))

	var phones []string
	for _, re := range phoneRes {
		phones = append(phones, re.FindAllString(content, -1)...)
	}
	rec.PhoneNumbers = dedupe(phones)

	var names []string
	for _, re := range nameRes {
		for _, m := range re.FindAllStringSubmatch(content, -1) {
			if len(m) > 1 && m[1] != "" {
				names = append(names, m[1])
			}
		}
	}
	rec.Names = dedupe(names)

	return rec
}

// dedupe removes duplicates preserving first-seen order. Emails compare
// case-insensitively.
func dedupe(items []string) []string {
	if len(items) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(items))
	out := make([]string, 0, len(items))
	for _, item := range items {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}
		key := strings.ToLower(item)
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, item)
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

// confidence scores an extraction the way the preview surfaces it: more
// independent signals, higher score, capped at 1.
func confidence(rec model.ContactRecord, contentLen int) float64 {
	var score float64

	if n := len(rec.Emails); n > 0 {
		score += minF(float64(n)*0.2, 0.6)
		domains := make(map[string]struct{})
		for _, e := range rec.Emails {
			if _, domain, ok := strings.Cut(e, "@"); ok {
				domains[strings.ToLower(domain)] = struct{}{}
			}
		}
		if len(domains) == 1 {
			score += 0.2
		}
	}
	if n := len(rec.PhoneNumbers); n > 0 {
		score += minF(float64(n)*0.15, 0.4)
	}
	if n := len(rec.Names); n > 0 {
		score += minF(float64(n)*0.1, 0.3)
	}
	if n := len(rec.JobTitles); n > 0 {
		score += minF(float64(n)*0.1, 0.2)
	}
	if contentLen > 1000 {
		score += 0.1
	}
	return minF(score, 1.0)
}

func minF(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}
