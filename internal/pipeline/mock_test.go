package pipeline

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/prospect-labs/prospector-cli/internal/cache"
	"github.com/prospect-labs/prospector-cli/internal/cost"
	"github.com/prospect-labs/prospector-cli/internal/extract"
	"github.com/prospect-labs/prospector-cli/internal/fetch"
	"github.com/prospect-labs/prospector-cli/internal/model"
	"github.com/prospect-labs/prospector-cli/internal/search"
	"github.com/prospect-labs/prospector-cli/internal/store"
)

var _ store.Store = (*memStore)(nil)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

// memStore is an in-memory store.Store with failure injection.
type memStore struct {
	mu          sync.Mutex
	queries     map[string]model.SearchQuery
	results     map[string][]model.StoredResult
	contacts    map[string]map[string]model.ContactRecord
	costEntries []model.CostEntry
	cached      map[string][]byte
	nextID      int

	getQueryErr       error
	updateQueryErr    error
	replaceResultsErr error
	appendCostErr     error
}

func newMemStore() *memStore {
	return &memStore{
		queries:  make(map[string]model.SearchQuery),
		results:  make(map[string][]model.StoredResult),
		contacts: make(map[string]map[string]model.ContactRecord),
		cached:   make(map[string][]byte),
	}
}

func (m *memStore) CreateQuery(_ context.Context, q *model.SearchQuery) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if q.ID == "" {
		m.nextID++
		q.ID = fmt.Sprintf("q-%d", m.nextID)
	}
	if q.Status == "" {
		q.Status = model.StatusPreview
	}
	if q.CreatedAt.IsZero() {
		q.CreatedAt = time.Now().UTC()
	}
	m.queries[q.ID] = *q
	return nil
}

func (m *memStore) GetQuery(_ context.Context, id string) (*model.SearchQuery, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.getQueryErr != nil {
		return nil, m.getQueryErr
	}
	q, ok := m.queries[id]
	if !ok {
		return nil, eris.Wrapf(store.ErrNotFound, "query %s", id)
	}
	return &q, nil
}

func (m *memStore) UpdateQuery(_ context.Context, q *model.SearchQuery) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.updateQueryErr != nil {
		return m.updateQueryErr
	}
	if _, ok := m.queries[q.ID]; !ok {
		return eris.Wrapf(store.ErrNotFound, "query %s", q.ID)
	}
	q.UpdatedAt = time.Now().UTC()
	m.queries[q.ID] = *q
	return nil
}

func (m *memStore) UpdateQueryStatus(_ context.Context, id string, status model.SearchStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	q, ok := m.queries[id]
	if !ok {
		return eris.Wrapf(store.ErrNotFound, "query %s", id)
	}
	q.Status = status
	q.UpdatedAt = time.Now().UTC()
	m.queries[id] = q
	return nil
}

func (m *memStore) ListQueries(_ context.Context, filter store.QueryFilter) ([]model.SearchQuery, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.SearchQuery
	for _, q := range m.queries {
		if filter.Status != "" && q.Status != filter.Status {
			continue
		}
		out = append(out, q)
	}
	return out, nil
}

func (m *memStore) ReplaceResults(_ context.Context, queryID string, results []model.StoredResult) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.replaceResultsErr != nil {
		return m.replaceResultsErr
	}
	stored := make([]model.StoredResult, len(results))
	for i, r := range results {
		if r.ID == "" {
			m.nextID++
			r.ID = fmt.Sprintf("r-%d", m.nextID)
		}
		r.QueryID = queryID
		stored[i] = r
	}
	m.results[queryID] = stored
	return nil
}

func (m *memStore) ListResults(_ context.Context, queryID string) ([]model.StoredResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]model.StoredResult(nil), m.results[queryID]...), nil
}

func (m *memStore) UpsertContact(_ context.Context, queryID, resultID string, record model.ContactRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.contacts[queryID] == nil {
		m.contacts[queryID] = make(map[string]model.ContactRecord)
	}
	m.contacts[queryID][resultID] = record
	return nil
}

func (m *memStore) ListContacts(_ context.Context, queryID string) (map[string]model.ContactRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]model.ContactRecord, len(m.contacts[queryID]))
	for k, v := range m.contacts[queryID] {
		out[k] = v
	}
	return out, nil
}

func (m *memStore) AppendCostEntry(_ context.Context, entry model.CostEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.appendCostErr != nil {
		return m.appendCostErr
	}
	m.costEntries = append(m.costEntries, entry)
	return nil
}

func (m *memStore) ListCostEntries(_ context.Context, correlationID string) ([]model.CostEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.CostEntry
	for _, e := range m.costEntries {
		if e.CorrelationID == correlationID {
			out = append(out, e)
		}
	}
	return out, nil
}

func (m *memStore) Get(_ context.Context, ns cache.Namespace, key string) ([]byte, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	payload, ok := m.cached[string(ns)+":"+key]
	return payload, ok, nil
}

func (m *memStore) Set(_ context.Context, ns cache.Namespace, key string, payload []byte, _ time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cached[string(ns)+":"+key] = payload
	return nil
}

func (m *memStore) Delete(_ context.Context, ns cache.Namespace, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.cached, string(ns)+":"+key)
	return nil
}

func (m *memStore) DeleteExpired(context.Context) (int, error) { return 0, nil }
func (m *memStore) Migrate(context.Context) error              { return nil }
func (m *memStore) Close() error                               { return nil }

// fakeSearcher returns a fixed ranking and bills one page per engine.
type fakeSearcher struct {
	mu     sync.Mutex
	ranked []model.RankedResult
	raw    map[string][]model.RawPayload
	pages  int
	err    error
	ledger *cost.Ledger
	calls  int
}

func (f *fakeSearcher) Search(_ context.Context, req model.SearchRequest, correlationID string) (*search.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	if f.ledger != nil {
		f.ledger.Track("google_search", 1, 0.005, correlationID)
	}
	pages := f.pages
	if pages == 0 {
		pages = req.Filters.MaxPages
	}
	return &search.Result{
		Ranked:         append([]model.RankedResult(nil), f.ranked...),
		PagesProcessed: pages,
		Engines:        map[model.ProviderID]search.EngineOutcome{model.ProviderGoogle: {Results: len(f.ranked), Pages: pages}},
		Raw:            f.raw,
	}, nil
}

// fakeFetcher scrapes every URL successfully unless listed in failURLs.
type fakeFetcher struct {
	mu       sync.Mutex
	failURLs map[string]bool
	ledger   *cost.Ledger
	fetched  [][]string
}

func (f *fakeFetcher) FetchBatch(_ context.Context, urls []string, correlationID string) []model.ScrapeOutcome {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fetched = append(f.fetched, append([]string(nil), urls...))
	outcomes := make([]model.ScrapeOutcome, len(urls))
	for i, u := range urls {
		if f.failURLs[u] {
			outcomes[i] = model.ScrapeOutcome{URL: u, Error: "scrape failed"}
			continue
		}
		if f.ledger != nil {
			f.ledger.Track("scrape", 1, 0.002, correlationID)
		}
		outcomes[i] = model.ScrapeOutcome{URL: u, Success: true, Content: "content of " + u, Cost: 0.002}
	}
	return outcomes
}

func (f *fakeFetcher) Status() fetch.Status {
	return fetch.Status{}
}

func (f *fakeFetcher) fetchedURLs() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var all []string
	for _, batch := range f.fetched {
		all = append(all, batch...)
	}
	return all
}

// fakeExtractor returns one email per page and bills per mode.
type fakeExtractor struct {
	mu    sync.Mutex
	empty bool
	calls []extract.Mode
}

func (f *fakeExtractor) Extract(_ context.Context, _, pageURL, _ string, mode extract.Mode) model.ContactRecord {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, mode)
	if f.empty {
		return model.ContactRecord{Method: model.ExtractionPattern}
	}
	return model.ContactRecord{
		Emails:     []string{"contact@" + hostOf(pageURL)},
		Names:      []string{"Sam Jones"},
		Confidence: 0.5,
		Method:     model.ExtractionHybrid,
	}
}

func hostOf(rawURL string) string {
	u := rawURL
	for _, prefix := range []string{"https://", "http://"} {
		if len(u) > len(prefix) && u[:len(prefix)] == prefix {
			u = u[len(prefix):]
		}
	}
	for i := range u {
		if u[i] == '/' {
			return u[:i]
		}
	}
	return u
}

type fakeDispatcher struct {
	mu       sync.Mutex
	enqueued []string
	err      error
}

func (f *fakeDispatcher) EnqueueEnrichment(_ context.Context, queryID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.enqueued = append(f.enqueued, queryID)
	return nil
}

func rankedFixture(urls ...string) []model.RankedResult {
	out := make([]model.RankedResult, len(urls))
	for i, u := range urls {
		out[i] = model.RankedResult{
			URL:           u,
			Title:         "Result " + u,
			Rank:          i + 1,
			SourceEngines: []model.ProviderID{model.ProviderGoogle},
		}
	}
	return out
}
