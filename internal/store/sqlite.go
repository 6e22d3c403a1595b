package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/prospect-labs/prospector-cli/internal/cache"
	"github.com/prospect-labs/prospector-cli/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS search_queries (
	id              TEXT PRIMARY KEY,
	request         TEXT NOT NULL,
	status          TEXT NOT NULL DEFAULT 'preview',
	total_cost      REAL NOT NULL DEFAULT 0,
	cost_breakdown  TEXT,
	pages_processed INTEGER NOT NULL DEFAULT 0,
	total_results   INTEGER NOT NULL DEFAULT 0,
	provider_raw    TEXT,
	processing_time REAL NOT NULL DEFAULT 0,
	error           TEXT NOT NULL DEFAULT '',
	created_at      DATETIME NOT NULL DEFAULT (datetime('now')),
	updated_at      DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS search_results (
	id       TEXT PRIMARY KEY,
	query_id TEXT NOT NULL REFERENCES search_queries(id),
	rank     INTEGER NOT NULL,
	result   TEXT NOT NULL,
	scrape   TEXT
);

CREATE TABLE IF NOT EXISTS contacts (
	id         TEXT PRIMARY KEY,
	query_id   TEXT NOT NULL REFERENCES search_queries(id),
	result_id  TEXT NOT NULL,
	record     TEXT NOT NULL,
	updated_at DATETIME NOT NULL DEFAULT (datetime('now')),
	UNIQUE (query_id, result_id)
);

CREATE TABLE IF NOT EXISTS cost_entries (
	id             TEXT PRIMARY KEY,
	service        TEXT NOT NULL,
	requests       INTEGER NOT NULL,
	unit_cost      REAL NOT NULL,
	total_cost     REAL NOT NULL,
	correlation_id TEXT NOT NULL DEFAULT '',
	recorded_at    DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS result_cache (
	ns         TEXT NOT NULL,
	key_hash   TEXT NOT NULL,
	payload    BLOB NOT NULL,
	cached_at  DATETIME NOT NULL DEFAULT (datetime('now')),
	expires_at DATETIME NOT NULL,
	PRIMARY KEY (ns, key_hash)
);

CREATE INDEX IF NOT EXISTS idx_search_queries_status ON search_queries(status);
CREATE INDEX IF NOT EXISTS idx_search_results_query_id ON search_results(query_id);
CREATE INDEX IF NOT EXISTS idx_contacts_query_id ON contacts(query_id);
CREATE INDEX IF NOT EXISTS idx_cost_entries_correlation ON cost_entries(correlation_id);
CREATE INDEX IF NOT EXISTS idx_result_cache_expires_at ON result_cache(expires_at);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) CreateQuery(ctx context.Context, q *model.SearchQuery) error {
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
		return eris.Wrap(err, "sqlite: marshal query")
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO search_queries (id, request, status, total_cost, cost_breakdown, pages_processed, total_results, provider_raw, processing_time, error, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		q.ID, string(requestJSON), string(q.Status), q.TotalCost, nullableText(breakdownJSON), q.PagesProcessed, q.TotalResults, nullableText(rawJSON), q.ProcessingTime, q.Error, q.CreatedAt, q.UpdatedAt,
	)
	return eris.Wrap(err, "sqlite: insert query")
}

func (s *SQLiteStore) GetQuery(ctx context.Context, queryID string) (*model.SearchQuery, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, request, status, total_cost, cost_breakdown, pages_processed, total_results, provider_raw, processing_time, error, created_at, updated_at FROM search_queries WHERE id = ?`,
		queryID,
	)
	q, err := scanQuerySQLite(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "sqlite: get query %s", queryID)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get query %s", queryID)
	}
	return q, nil
}

func (s *SQLiteStore) UpdateQuery(ctx context.Context, q *model.SearchQuery) error {
	q.UpdatedAt = time.Now().UTC()

	requestJSON, breakdownJSON, rawJSON, err := marshalQueryFields(q)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal query")
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE search_queries SET request = ?, status = ?, total_cost = ?, cost_breakdown = ?, pages_processed = ?, total_results = ?, provider_raw = ?, processing_time = ?, error = ?, updated_at = ? WHERE id = ?`,
		string(requestJSON), string(q.Status), q.TotalCost, nullableText(breakdownJSON), q.PagesProcessed, q.TotalResults, nullableText(rawJSON), q.ProcessingTime, q.Error, q.UpdatedAt, q.ID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update query %s", q.ID)
	}
	return checkRowsAffected(res, "query", q.ID)
}

func (s *SQLiteStore) UpdateQueryStatus(ctx context.Context, queryID string, status model.SearchStatus) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE search_queries SET status = ?, updated_at = ? WHERE id = ?`,
		string(status), time.Now().UTC(), queryID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update query status %s", queryID)
	}
	return checkRowsAffected(res, "query", queryID)
}

func (s *SQLiteStore) ListQueries(ctx context.Context, filter QueryFilter) ([]model.SearchQuery, error) {
	query := `SELECT id, request, status, total_cost, cost_breakdown, pages_processed, total_results, provider_raw, processing_time, error, created_at, updated_at FROM search_queries WHERE true`
	args := []any{}

	if filter.Status != "" {
		query += ` AND status = ?`
		args = append(args, string(filter.Status))
	}
	query += ` ORDER BY created_at DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += ` LIMIT ?`
	args = append(args, limit)

	if filter.Offset > 0 {
		query += ` OFFSET ?`
		args = append(args, filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list queries")
	}
	defer rows.Close()

	var queries []model.SearchQuery
	for rows.Next() {
		q, err := scanQuerySQLite(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan query")
		}
		queries = append(queries, *q)
	}
	return queries, eris.Wrap(rows.Err(), "sqlite: list queries")
}

func (s *SQLiteStore) ReplaceResults(ctx context.Context, queryID string, results []model.StoredResult) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin tx")
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM search_results WHERE query_id = ?`, queryID); err != nil {
		return eris.Wrapf(err, "sqlite: delete results %s", queryID)
	}

	for _, r := range results {
		id := r.ID
		if id == "" {
			id = uuid.New().String()
		}
		resultJSON, err := json.Marshal(r.Result)
		if err != nil {
			return eris.Wrap(err, "sqlite: marshal result")
		}
		var scrapeJSON any
		if r.Scrape != nil {
			b, err := json.Marshal(r.Scrape)
			if err != nil {
				return eris.Wrap(err, "sqlite: marshal scrape")
			}
			scrapeJSON = string(b)
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO search_results (id, query_id, rank, result, scrape) VALUES (?, ?, ?, ?, ?)`,
			id, queryID, r.Result.Rank, string(resultJSON), scrapeJSON,
		); err != nil {
			return eris.Wrap(err, "sqlite: insert result")
		}
	}

	return eris.Wrap(tx.Commit(), "sqlite: commit results")
}

func (s *SQLiteStore) ListResults(ctx context.Context, queryID string) ([]model.StoredResult, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, query_id, rank, result, scrape FROM search_results WHERE query_id = ? ORDER BY rank ASC`,
		queryID,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: list results %s", queryID)
	}
	defer rows.Close()

	var results []model.StoredResult
	for rows.Next() {
		var r model.StoredResult
		var rank int
		var resultJSON string
		var scrapeJSON sql.NullString

		if err := rows.Scan(&r.ID, &r.QueryID, &rank, &resultJSON, &scrapeJSON); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan result")
		}
		if err := json.Unmarshal([]byte(resultJSON), &r.Result); err != nil {
			return nil, eris.Wrap(err, "sqlite: unmarshal result")
		}
		if scrapeJSON.Valid {
			r.Scrape = &model.ScrapeOutcome{}
			if err := json.Unmarshal([]byte(scrapeJSON.String), r.Scrape); err != nil {
				return nil, eris.Wrap(err, "sqlite: unmarshal scrape")
			}
		}
		results = append(results, r)
	}
	return results, eris.Wrapf(rows.Err(), "sqlite: list results %s", queryID)
}

func (s *SQLiteStore) UpsertContact(ctx context.Context, queryID, resultID string, record model.ContactRecord) error {
	recordJSON, err := json.Marshal(record)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal contact")
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO contacts (id, query_id, result_id, record, updated_at) VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT (query_id, result_id) DO UPDATE SET record = excluded.record, updated_at = excluded.updated_at`,
		uuid.New().String(), queryID, resultID, string(recordJSON), time.Now().UTC(),
	)
	return eris.Wrapf(err, "sqlite: upsert contact %s/%s", queryID, resultID)
}

func (s *SQLiteStore) ListContacts(ctx context.Context, queryID string) (map[string]model.ContactRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT result_id, record FROM contacts WHERE query_id = ?`,
		queryID,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: list contacts %s", queryID)
	}
	defer rows.Close()

	contacts := make(map[string]model.ContactRecord)
	for rows.Next() {
		var resultID, recordJSON string
		if err := rows.Scan(&resultID, &recordJSON); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan contact")
		}
		var record model.ContactRecord
		if err := json.Unmarshal([]byte(recordJSON), &record); err != nil {
			return nil, eris.Wrap(err, "sqlite: unmarshal contact")
		}
		contacts[resultID] = record
	}
	return contacts, eris.Wrapf(rows.Err(), "sqlite: list contacts %s", queryID)
}

func (s *SQLiteStore) AppendCostEntry(ctx context.Context, entry model.CostEntry) error {
	if entry.ID == "" {
		entry.ID = uuid.New().String()
	}
	if entry.RecordedAt.IsZero() {
		entry.RecordedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO cost_entries (id, service, requests, unit_cost, total_cost, correlation_id, recorded_at) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		entry.ID, entry.Service, entry.Requests, entry.UnitCost, entry.TotalCost, entry.CorrelationID, entry.RecordedAt,
	)
	return eris.Wrapf(err, "sqlite: append cost entry %s", entry.Service)
}

func (s *SQLiteStore) ListCostEntries(ctx context.Context, correlationID string) ([]model.CostEntry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, service, requests, unit_cost, total_cost, correlation_id, recorded_at FROM cost_entries WHERE correlation_id = ? ORDER BY recorded_at ASC`,
		correlationID,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: list cost entries %s", correlationID)
	}
	defer rows.Close()

	var entries []model.CostEntry
	for rows.Next() {
		var e model.CostEntry
		if err := rows.Scan(&e.ID, &e.Service, &e.Requests, &e.UnitCost, &e.TotalCost, &e.CorrelationID, &e.RecordedAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan cost entry")
		}
		entries = append(entries, e)
	}
	return entries, eris.Wrapf(rows.Err(), "sqlite: list cost entries %s", correlationID)
}

func (s *SQLiteStore) Get(ctx context.Context, ns cache.Namespace, key string) ([]byte, bool, error) {
	var payload []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT payload FROM result_cache WHERE ns = ? AND key_hash = ? AND expires_at > ?`,
		string(ns), key, time.Now().UTC(),
	).Scan(&payload)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, eris.Wrap(err, "sqlite: cache get")
	}
	return payload, true, nil
}

func (s *SQLiteStore) Set(ctx context.Context, ns cache.Namespace, key string, payload []byte, ttl time.Duration) error {
	now := time.Now().UTC()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO result_cache (ns, key_hash, payload, cached_at, expires_at) VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT (ns, key_hash) DO UPDATE SET payload = excluded.payload, cached_at = excluded.cached_at, expires_at = excluded.expires_at`,
		string(ns), key, payload, now, now.Add(ttl),
	)
	return eris.Wrap(err, "sqlite: cache set")
}

func (s *SQLiteStore) Delete(ctx context.Context, ns cache.Namespace, key string) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM result_cache WHERE ns = ? AND key_hash = ?`,
		string(ns), key,
	)
	return eris.Wrap(err, "sqlite: cache delete")
}

func (s *SQLiteStore) DeleteExpired(ctx context.Context) (int, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM result_cache WHERE expires_at <= ?`, time.Now().UTC(),
	)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: delete expired cache")
	}
	n, err := res.RowsAffected()
	return int(n), eris.Wrap(err, "sqlite: rows affected")
}

// helpers

func checkRowsAffected(res sql.Result, entity, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "rows affected")
	}
	if n == 0 {
		return eris.Errorf("%s not found: %s", entity, id)
	}
	return nil
}

// nullableText lets a nil JSON blob land as SQL NULL instead of "".
func nullableText(b []byte) any {
	if b == nil {
		return nil
	}
	return string(b)
}

func scanQuerySQLite(row rowScanner) (*model.SearchQuery, error) {
	var q model.SearchQuery
	var requestJSON string
	var breakdownJSON, rawJSON sql.NullString

	err := row.Scan(&q.ID, &requestJSON, &q.Status, &q.TotalCost, &breakdownJSON, &q.PagesProcessed, &q.TotalResults, &rawJSON, &q.ProcessingTime, &q.Error, &q.CreatedAt, &q.UpdatedAt)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(requestJSON), &q.Request); err != nil {
		return nil, eris.Wrap(err, "unmarshal request")
	}
	if breakdownJSON.Valid {
		if err := json.Unmarshal([]byte(breakdownJSON.String), &q.CostBreakdown); err != nil {
			return nil, eris.Wrap(err, "unmarshal cost breakdown")
		}
	}
	if rawJSON.Valid {
		if err := json.Unmarshal([]byte(rawJSON.String), &q.ProviderRaw); err != nil {
			return nil, eris.Wrap(err, "unmarshal provider raw")
		}
	}
	return &q, nil
}
