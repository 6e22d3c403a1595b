package store

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/prospect-labs/prospector-cli/internal/cache"
	"github.com/prospect-labs/prospector-cli/internal/model"
)

// ErrNotFound reports a lookup for a query that does not exist. Callers
// match it with errors.Is to distinguish missing rows from backend faults.
var ErrNotFound = eris.New("store: not found")

// QueryFilter specifies criteria for listing search queries.
type QueryFilter struct {
	Status model.SearchStatus `json:"status,omitempty"`
	Limit  int                `json:"limit,omitempty"`
	Offset int                `json:"offset,omitempty"`
}

// Store defines the persistence interface for the search pipeline. Both
// backends also satisfy cache.Cache, so a Store can serve as the durable
// backend for cached result payloads.
type Store interface {
	// Queries
	CreateQuery(ctx context.Context, q *model.SearchQuery) error
	GetQuery(ctx context.Context, queryID string) (*model.SearchQuery, error)
	UpdateQuery(ctx context.Context, q *model.SearchQuery) error
	UpdateQueryStatus(ctx context.Context, queryID string, status model.SearchStatus) error
	ListQueries(ctx context.Context, filter QueryFilter) ([]model.SearchQuery, error)

	// Results
	ReplaceResults(ctx context.Context, queryID string, results []model.StoredResult) error
	ListResults(ctx context.Context, queryID string) ([]model.StoredResult, error)

	// Contacts, keyed by (query, result)
	UpsertContact(ctx context.Context, queryID, resultID string, record model.ContactRecord) error
	ListContacts(ctx context.Context, queryID string) (map[string]model.ContactRecord, error)

	// Cost ledger
	AppendCostEntry(ctx context.Context, entry model.CostEntry) error
	ListCostEntries(ctx context.Context, correlationID string) ([]model.CostEntry, error)

	// Result cache
	cache.Cache
	DeleteExpired(ctx context.Context) (int, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}
