package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/prospect-labs/prospector-cli/internal/cache"
	"github.com/prospect-labs/prospector-cli/internal/db"
	"github.com/prospect-labs/prospector-cli/internal/model"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// preparedStatements lists queries to prepare on each new connection for
// faster execution of the most frequently used store operations.
var preparedStatements = map[string]string{
	"insert_query":        `INSERT INTO search_queries (id, request, status, total_cost, cost_breakdown, pages_processed, total_results, provider_raw, processing_time, error, created_at, updated_at) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
	"update_query_status": `UPDATE search_queries SET status = $1, updated_at = $2 WHERE id = $3`,
	"get_query":           `SELECT id, request, status, total_cost, cost_breakdown, pages_processed, total_results, provider_raw, processing_time, error, created_at, updated_at FROM search_queries WHERE id = $1`,
	"list_results":        `SELECT id, query_id, rank, result, scrape FROM search_results WHERE query_id = $1 ORDER BY rank ASC`,
	"upsert_contact":      `INSERT INTO contacts (id, query_id, result_id, record, updated_at) VALUES ($1, $2, $3, $4, $5) ON CONFLICT (query_id, result_id) DO UPDATE SET record = EXCLUDED.record, updated_at = EXCLUDED.updated_at`,
	"append_cost_entry":   `INSERT INTO cost_entries (id, service, requests, unit_cost, total_cost, correlation_id, recorded_at) VALUES ($1, $2, $3, $4, $5, $6, $7)`,
	"cache_get":           `SELECT payload FROM result_cache WHERE ns = $1 AND key_hash = $2 AND expires_at > now()`,
	"cache_set":           `INSERT INTO result_cache (ns, key_hash, payload, cached_at, expires_at) VALUES ($1, $2, $3, $4, $5) ON CONFLICT (ns, key_hash) DO UPDATE SET payload = EXCLUDED.payload, cached_at = EXCLUDED.cached_at, expires_at = EXCLUDED.expires_at`,
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	// Apply pool sizing from config with sensible defaults.
	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	// Prepare frequently-used statements on each new connection.
	pgxCfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		for name, sql := range preparedStatements {
			if _, err := conn.Prepare(ctx, name, sql); err != nil {
				return eris.Wrapf(err, "postgres: prepare %s", name)
			}
		}
		return nil
	}

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

// Pool returns the underlying database pool for use by subsystems
// that need direct query access.
func (s *PostgresStore) Pool() db.Pool {
	return s.pool
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS search_queries (
	id              TEXT PRIMARY KEY,
	request         JSONB NOT NULL,
	status          TEXT NOT NULL DEFAULT 'preview',
	total_cost      DOUBLE PRECISION NOT NULL DEFAULT 0,
	cost_breakdown  JSONB,
	pages_processed INTEGER NOT NULL DEFAULT 0,
	total_results   INTEGER NOT NULL DEFAULT 0,
	provider_raw    JSONB,
	processing_time DOUBLE PRECISION NOT NULL DEFAULT 0,
	error           TEXT NOT NULL DEFAULT '',
	created_at      TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at      TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS search_results (
	id       TEXT PRIMARY KEY,
	query_id TEXT NOT NULL REFERENCES search_queries(id),
	rank     INTEGER NOT NULL,
	result   JSONB NOT NULL,
	scrape   JSONB
);

CREATE TABLE IF NOT EXISTS contacts (
	id         TEXT PRIMARY KEY,
	query_id   TEXT NOT NULL REFERENCES search_queries(id),
	result_id  TEXT NOT NULL,
	record     JSONB NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	UNIQUE (query_id, result_id)
);

CREATE TABLE IF NOT EXISTS cost_entries (
	id             TEXT PRIMARY KEY,
	service        TEXT NOT NULL,
	requests       INTEGER NOT NULL,
	unit_cost      DOUBLE PRECISION NOT NULL,
	total_cost     DOUBLE PRECISION NOT NULL,
	correlation_id TEXT NOT NULL DEFAULT '',
	recorded_at    TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS result_cache (
	ns         TEXT NOT NULL,
	key_hash   TEXT NOT NULL,
	payload    BYTEA NOT NULL,
	cached_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
	expires_at TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (ns, key_hash)
);

CREATE INDEX IF NOT EXISTS idx_search_queries_status ON search_queries(status);
CREATE INDEX IF NOT EXISTS idx_search_results_query_id ON search_results(query_id);
CREATE INDEX IF NOT EXISTS idx_contacts_query_id ON contacts(query_id);
CREATE INDEX IF NOT EXISTS idx_cost_entries_correlation ON cost_entries(correlation_id);
CREATE INDEX IF NOT EXISTS idx_result_cache_expires_at ON result_cache(expires_at);
`

func (s *PostgresStore) Ping(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, "SELECT 1")
	return eris.Wrap(err, "postgres: ping")
}

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

func (s *PostgresStore) CreateQuery(ctx context.Context, q *model.SearchQuery) error {
	if q.ID == "" {
		q.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	if q.CreatedAt.IsZero() {
		q.CreatedAt = now
	}
	q.UpdatedAt = now
	if q.Status == "" {
		q.Status = model.StatusPreview
	}

	requestJSON, breakdownJSON, rawJSON, err := marshalQueryFields(q)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal query")
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO search_queries (id, request, status, total_cost, cost_breakdown, pages_processed, total_results, provider_raw, processing_time, error, created_at, updated_at) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		q.ID, requestJSON, string(q.Status), q.TotalCost, breakdownJSON, q.PagesProcessed, q.TotalResults, rawJSON, q.ProcessingTime, q.Error, q.CreatedAt, q.UpdatedAt,
	)
	if err != nil {
		return eris.Wrap(err, "postgres: insert query")
	}
	return nil
}

func (s *PostgresStore) GetQuery(ctx context.Context, queryID string) (*model.SearchQuery, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT id, request, status, total_cost, cost_breakdown, pages_processed, total_results, provider_raw, processing_time, error, created_at, updated_at FROM search_queries WHERE id = $1`,
		queryID,
	)
	q, err := scanQuery(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "postgres: get query %s", queryID)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get query %s", queryID)
	}
	return q, nil
}

func (s *PostgresStore) UpdateQuery(ctx context.Context, q *model.SearchQuery) error {
	q.UpdatedAt = time.Now().UTC()

	requestJSON, breakdownJSON, rawJSON, err := marshalQueryFields(q)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal query")
	}

	tag, err := s.pool.Exec(ctx,
		`UPDATE search_queries SET request = $1, status = $2, total_cost = $3, cost_breakdown = $4, pages_processed = $5, total_results = $6, provider_raw = $7, processing_time = $8, error = $9, updated_at = $10 WHERE id = $11`,
		requestJSON, string(q.Status), q.TotalCost, breakdownJSON, q.PagesProcessed, q.TotalResults, rawJSON, q.ProcessingTime, q.Error, q.UpdatedAt, q.ID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: update query %s", q.ID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("query not found: %s", q.ID)
	}
	return nil
}

func (s *PostgresStore) UpdateQueryStatus(ctx context.Context, queryID string, status model.SearchStatus) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE search_queries SET status = $1, updated_at = $2 WHERE id = $3`,
		string(status), time.Now().UTC(), queryID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: update query status %s", queryID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("query not found: %s", queryID)
	}
	return nil
}

func (s *PostgresStore) ListQueries(ctx context.Context, filter QueryFilter) ([]model.SearchQuery, error) {
	query := `SELECT id, request, status, total_cost, cost_breakdown, pages_processed, total_results, provider_raw, processing_time, error, created_at, updated_at FROM search_queries WHERE true`
	args := []any{}
	argIdx := 1

	if filter.Status != "" {
		query += fmt.Sprintf(` AND status = $%d`, argIdx)
		args = append(args, string(filter.Status))
		argIdx++
	}
	query += ` ORDER BY created_at DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += fmt.Sprintf(` LIMIT $%d`, argIdx)
	args = append(args, limit)
	argIdx++

	if filter.Offset > 0 {
		query += fmt.Sprintf(` OFFSET $%d`, argIdx)
		args = append(args, filter.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list queries")
	}
	defer rows.Close()

	var queries []model.SearchQuery
	for rows.Next() {
		q, err := scanQuery(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan query")
		}
		queries = append(queries, *q)
	}
	return queries, eris.Wrap(rows.Err(), "postgres: list queries")
}

// ReplaceResults swaps a query's result set atomically from the caller's
// point of view: old rows are deleted and the new set is COPYed in.
func (s *PostgresStore) ReplaceResults(ctx context.Context, queryID string, results []model.StoredResult) error {
	if _, err := s.pool.Exec(ctx, `DELETE FROM search_results WHERE query_id = $1`, queryID); err != nil {
		return eris.Wrapf(err, "postgres: delete results %s", queryID)
	}

	rows := make([][]any, 0, len(results))
	for _, r := range results {
		id := r.ID
		if id == "" {
			id = uuid.New().String()
		}
		resultJSON, err := json.Marshal(r.Result)
		if err != nil {
			return eris.Wrap(err, "postgres: marshal result")
		}
		var scrapeJSON []byte
		if r.Scrape != nil {
			scrapeJSON, err = json.Marshal(r.Scrape)
			if err != nil {
				return eris.Wrap(err, "postgres: marshal scrape")
			}
		}
		rows = append(rows, []any{id, queryID, r.Result.Rank, resultJSON, scrapeJSON})
	}

	_, err := db.CopyFrom(ctx, s.pool, "search_results", []string{"id", "query_id", "rank", "result", "scrape"}, rows)
	return err
}

func (s *PostgresStore) ListResults(ctx context.Context, queryID string) ([]model.StoredResult, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, query_id, rank, result, scrape FROM search_results WHERE query_id = $1 ORDER BY rank ASC`,
		queryID,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: list results %s", queryID)
	}
	defer rows.Close()

	var results []model.StoredResult
	for rows.Next() {
		var r model.StoredResult
		var rank int
		var resultJSON []byte
		var scrapeJSON *[]byte

		if err := rows.Scan(&r.ID, &r.QueryID, &rank, &resultJSON, &scrapeJSON); err != nil {
			return nil, eris.Wrap(err, "postgres: scan result")
		}
		if err := json.Unmarshal(resultJSON, &r.Result); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal result")
		}
		if scrapeJSON != nil {
			r.Scrape = &model.ScrapeOutcome{}
			if err := json.Unmarshal(*scrapeJSON, r.Scrape); err != nil {
				return nil, eris.Wrap(err, "postgres: unmarshal scrape")
			}
		}
		results = append(results, r)
	}
	return results, eris.Wrapf(rows.Err(), "postgres: list results %s", queryID)
}

func (s *PostgresStore) UpsertContact(ctx context.Context, queryID, resultID string, record model.ContactRecord) error {
	recordJSON, err := json.Marshal(record)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal contact")
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO contacts (id, query_id, result_id, record, updated_at) VALUES ($1, $2, $3, $4, $5) ON CONFLICT (query_id, result_id) DO UPDATE SET record = EXCLUDED.record, updated_at = EXCLUDED.updated_at`,
		uuid.New().String(), queryID, resultID, recordJSON, time.Now().UTC(),
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: upsert contact %s/%s", queryID, resultID)
	}
	return nil
}

func (s *PostgresStore) ListContacts(ctx context.Context, queryID string) (map[string]model.ContactRecord, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT result_id, record FROM contacts WHERE query_id = $1`,
		queryID,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: list contacts %s", queryID)
	}
	defer rows.Close()

	contacts := make(map[string]model.ContactRecord)
	for rows.Next() {
		var resultID string
		var recordJSON []byte
		if err := rows.Scan(&resultID, &recordJSON); err != nil {
			return nil, eris.Wrap(err, "postgres: scan contact")
		}
		var record model.ContactRecord
		if err := json.Unmarshal(recordJSON, &record); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal contact")
		}
		contacts[resultID] = record
	}
	return contacts, eris.Wrapf(rows.Err(), "postgres: list contacts %s", queryID)
}

func (s *PostgresStore) AppendCostEntry(ctx context.Context, entry model.CostEntry) error {
	if entry.ID == "" {
		entry.ID = uuid.New().String()
	}
	if entry.RecordedAt.IsZero() {
		entry.RecordedAt = time.Now().UTC()
	}

	_, err := s.pool.Exec(ctx,
		`INSERT INTO cost_entries (id, service, requests, unit_cost, total_cost, correlation_id, recorded_at) VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		entry.ID, entry.Service, entry.Requests, entry.UnitCost, entry.TotalCost, entry.CorrelationID, entry.RecordedAt,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: append cost entry %s", entry.Service)
	}
	return nil
}

func (s *PostgresStore) ListCostEntries(ctx context.Context, correlationID string) ([]model.CostEntry, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, service, requests, unit_cost, total_cost, correlation_id, recorded_at FROM cost_entries WHERE correlation_id = $1 ORDER BY recorded_at ASC`,
		correlationID,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: list cost entries %s", correlationID)
	}
	defer rows.Close()

	var entries []model.CostEntry
	for rows.Next() {
		var e model.CostEntry
		if err := rows.Scan(&e.ID, &e.Service, &e.Requests, &e.UnitCost, &e.TotalCost, &e.CorrelationID, &e.RecordedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan cost entry")
		}
		entries = append(entries, e)
	}
	return entries, eris.Wrapf(rows.Err(), "postgres: list cost entries %s", correlationID)
}

func (s *PostgresStore) Get(ctx context.Context, ns cache.Namespace, key string) ([]byte, bool, error) {
	var payload []byte
	err := s.pool.QueryRow(ctx,
		`SELECT payload FROM result_cache WHERE ns = $1 AND key_hash = $2 AND expires_at > now()`,
		string(ns), key,
	).Scan(&payload)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, eris.Wrap(err, "postgres: cache get")
	}
	return payload, true, nil
}

func (s *PostgresStore) Set(ctx context.Context, ns cache.Namespace, key string, payload []byte, ttl time.Duration) error {
	now := time.Now().UTC()
	_, err := s.pool.Exec(ctx,
		`INSERT INTO result_cache (ns, key_hash, payload, cached_at, expires_at) VALUES ($1, $2, $3, $4, $5) ON CONFLICT (ns, key_hash) DO UPDATE SET payload = EXCLUDED.payload, cached_at = EXCLUDED.cached_at, expires_at = EXCLUDED.expires_at`,
		string(ns), key, payload, now, now.Add(ttl),
	)
	return eris.Wrap(err, "postgres: cache set")
}

func (s *PostgresStore) Delete(ctx context.Context, ns cache.Namespace, key string) error {
	_, err := s.pool.Exec(ctx,
		`DELETE FROM result_cache WHERE ns = $1 AND key_hash = $2`,
		string(ns), key,
	)
	return eris.Wrap(err, "postgres: cache delete")
}

func (s *PostgresStore) DeleteExpired(ctx context.Context) (int, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM result_cache WHERE expires_at <= now()`)
	if err != nil {
		return 0, eris.Wrap(err, "postgres: delete expired cache")
	}
	return int(tag.RowsAffected()), nil
}

// rowScanner is satisfied by both pgx.Row and pgx.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func marshalQueryFields(q *model.SearchQuery) (request, breakdown, raw []byte, err error) {
	request, err = json.Marshal(q.Request)
	if err != nil {
		return nil, nil, nil, err
	}
	if q.CostBreakdown != nil {
		breakdown, err = json.Marshal(q.CostBreakdown)
		if err != nil {
			return nil, nil, nil, err
		}
	}
	if q.ProviderRaw != nil {
		raw, err = json.Marshal(q.ProviderRaw)
		if err != nil {
			return nil, nil, nil, err
		}
	}
	return request, breakdown, raw, nil
}

func scanQuery(row rowScanner) (*model.SearchQuery, error) {
	var q model.SearchQuery
	var requestJSON []byte
	var breakdownJSON, rawJSON *[]byte

	err := row.Scan(&q.ID, &requestJSON, &q.Status, &q.TotalCost, &breakdownJSON, &q.PagesProcessed, &q.TotalResults, &rawJSON, &q.ProcessingTime, &q.Error, &q.CreatedAt, &q.UpdatedAt)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal(requestJSON, &q.Request); err != nil {
		return nil, eris.Wrap(err, "unmarshal request")
	}
	if breakdownJSON != nil {
		if err := json.Unmarshal(*breakdownJSON, &q.CostBreakdown); err != nil {
			return nil, eris.Wrap(err, "unmarshal cost breakdown")
		}
	}
	if rawJSON != nil {
		if err := json.Unmarshal(*rawJSON, &q.ProviderRaw); err != nil {
			return nil, eris.Wrap(err, "unmarshal provider raw")
		}
	}
	return &q, nil
}
