// Package extract turns scraped page content into contact records,
// combining regex patterns with a model pass.
package extract

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/prospect-labs/prospector-cli/internal/cost"
	"github.com/prospect-labs/prospector-cli/internal/model"
	"github.com/prospect-labs/prospector-cli/pkg/anthropic"
)

// previewContentCap bounds how much page content a preview extraction
// sends to the model.
const previewContentCap = 2000

const defaultModel = "claude-haiku-4-5-20251001"

const systemPrompt = `You are an expert at extracting contact information from web content.
Respond with a single JSON object and nothing else, using exactly these keys:
{"emails": [], "phones": [], "names": [], "job_titles": [], "companies": [], "social_profiles": {}}
social_profiles maps a platform name to a profile URL. Omit nothing you find; invent nothing you don't.`

// Mode selects the extraction depth.
type Mode int

const (
	// ModePreview caps content and bills at the preview rate.
	ModePreview Mode = iota
	// ModeFull sends full content during enrichment.
	ModeFull
)

// Extractor produces contact records from page content. With no model
// client it degrades to pattern-only extraction.
type Extractor struct {
	client    anthropic.Client
	model     string
	maxTokens int64
	ledger    *cost.Ledger
	rates     cost.Rates

	nowFunc func() time.Time
}

// Option configures an Extractor.
type Option func(*Extractor)

// WithModel overrides the default extraction model.
func WithModel(model string) Option {
	return func(e *Extractor) { e.model = model }
}

// WithMaxTokens overrides the response token budget.
func WithMaxTokens(n int64) Option {
	return func(e *Extractor) { e.maxTokens = n }
}

// NewExtractor creates an extractor. client may be nil for pattern-only
// operation.
func NewExtractor(client anthropic.Client, ledger *cost.Ledger, rates cost.Rates, opts ...Option) *Extractor {
	e := &Extractor{
		client:    client,
		model:     defaultModel,
		maxTokens: 1024,
		ledger:    ledger,
		rates:     rates,
		nowFunc:   time.Now,
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

// Extract pulls contacts from one page's content. Extraction is
// best-effort: a failed model pass falls back to pattern results, and
// the worst case is an empty record, never an error.
func (e *Extractor) Extract(ctx context.Context, content, pageURL, correlationID string, mode Mode) model.ContactRecord {
	service, rate := "extract_full", e.rates.ExtractFullPerPage
	if mode == ModePreview {
		service, rate = "extract_preview", e.rates.ExtractPreviewPerPage
		if len(content) > previewContentCap {
			content = content[:previewContentCap]
		}
	}

	rec := extractPatterns(content)

	if e.client != nil && strings.TrimSpace(content) != "" {
		modelRec, err := e.extractModel(ctx, content, pageURL)
		if err != nil {
			zap.L().Warn("model extraction failed, keeping pattern results",
				zap.String("url", pageURL),
				zap.Error(err),
			)
		} else {
			e.ledger.Track(service, 1, rate, correlationID)
			rec = mergeRecords(rec, modelRec)
		}
	}

	rec.Confidence = confidence(rec, len(content))
	rec.ExtractedAt = e.nowFunc()
	return rec
}

// modelResponse is the JSON shape the model is instructed to return.
type modelResponse struct {
	Emails         []string          `json:"emails"`
	Phones         []string          `json:"phones"`
	Names          []string          `json:"names"`
	JobTitles      []string          `json:"job_titles"`
	Companies      []string          `json:"companies"`
	SocialProfiles map[string]string `json:"social_profiles"`
}

func (e *Extractor) extractModel(ctx context.Context, content, pageURL string) (model.ContactRecord, error) {
	temp := 0.1
	resp, err := e.client.CreateMessage(ctx, anthropic.MessageRequest{
		Model:     e.model,
		MaxTokens: e.maxTokens,
		System: []anthropic.SystemBlock{{
			Text:         systemPrompt,
			CacheControl: &anthropic.CacheControl{TTL: "5m"},
		}},
		Messages: []anthropic.Message{{
			Role:    "user",
			Content: "Source URL: " + pageURL + "\n\nPage content:\n" + content,
		}},
		Temperature: &temp,
	})
	if err != nil {
		return model.ContactRecord{}, err
	}
	resp.Usage.LogCost(e.model, "extract")

	parsed, err := parseModelResponse(resp.Text())
	if err != nil {
		return model.ContactRecord{}, err
	}
	return model.ContactRecord{
		Emails:         dedupe(parsed.Emails),
		PhoneNumbers:   dedupe(parsed.Phones),
		Names:          dedupe(parsed.Names),
		JobTitles:      dedupe(parsed.JobTitles),
		Companies:      dedupe(parsed.Companies),
		SocialProfiles: parsed.SocialProfiles,
		Method:         model.ExtractionModel,
	}, nil
}

// parseModelResponse tolerates code fences and prose around the JSON.
func parseModelResponse(text string) (modelResponse, error) {
	var out modelResponse

	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start < 0 || end <= start {
		return out, json.Unmarshal([]byte(text), &out)
	}
	err := json.Unmarshal([]byte(text[start:end+1]), &out)
	return out, err
}

// mergeRecords unions a pattern record with a model record. The result
// is hybrid when both contributed.
func mergeRecords(pattern, modelRec model.ContactRecord) model.ContactRecord {
	merged := model.ContactRecord{
		Emails:         dedupe(append(append([]string{}, pattern.Emails...), modelRec.Emails...)),
		PhoneNumbers:   dedupe(append(append([]string{}, pattern.PhoneNumbers...), modelRec.PhoneNumbers...)),
		Names:          dedupe(append(append([]string{}, pattern.Names...), modelRec.Names...)),
		JobTitles:      dedupe(append(append([]string{}, pattern.JobTitles...), modelRec.JobTitles...)),
		Companies:      dedupe(append(append([]string{}, pattern.Companies...), modelRec.Companies...)),
		SocialProfiles: modelRec.SocialProfiles,
	}

	switch {
	case pattern.Empty():
		merged.Method = model.ExtractionModel
	case modelRec.Empty():
		merged.Method = model.ExtractionPattern
	default:
		merged.Method = model.ExtractionHybrid
	}
	return merged
}
