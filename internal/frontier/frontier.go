package frontier

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"sync"

	_ "github.com/mattn/go-sqlite3"
)

/*
Frontier Responsibilities
- Maintain BFS ordering
- Deduplicate URLs
- Track crawl depth
- Prevent infinite traversal
- Knows nothing about:
	- fetching
	- extraction
	- WARC recording
	- storage

It is a data structure + policy module, not a pipeline executor.
*/

const schema = `
CREATE TABLE IF NOT EXISTS url_strings (
	id  INTEGER PRIMARY KEY,
	url TEXT NOT NULL UNIQUE
);
CREATE TABLE IF NOT EXISTS urls (
	url_key         TEXT PRIMARY KEY,
	url_id          INTEGER NOT NULL REFERENCES url_strings(id),
	parent_url_id   INTEGER REFERENCES url_strings(id),
	root_url_id     INTEGER REFERENCES url_strings(id),
	status          TEXT NOT NULL,
	try_count       INTEGER NOT NULL DEFAULT 0,
	level           INTEGER NOT NULL,
	inline          INTEGER NOT NULL DEFAULT 0,
	link_type       TEXT NOT NULL,
	post_data       BLOB,
	referer         TEXT,
	status_code     INTEGER,
	filename        TEXT,
	insertion_order INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS visits (
	url_key        TEXT NOT NULL,
	payload_digest TEXT NOT NULL,
	warc_record_id TEXT NOT NULL,
	PRIMARY KEY (payload_digest)
);
CREATE INDEX IF NOT EXISTS idx_urls_status_level ON urls(status, level, insertion_order);
`

// Frontier is the durable mapping from url_key to URL record described by
// spec.md section 3: add_many, check_out, update, release, plus the
// observability query count_by_status.
type Frontier interface {
	AddMany(ctx context.Context, tokens []CrawlToken) error
	CheckOut(ctx context.Context) (CrawlToken, bool, error)
	Update(ctx context.Context, urlKey string, fields UpdateFields) error
	Release(ctx context.Context) error
	CountByStatus(ctx context.Context) (map[Status]int, error)
	RecordVisit(ctx context.Context, urlKey, payloadDigest, warcRecordID string) (string, bool, error)
	Close() error
}

// SQLiteFrontier persists frontier rows in a single SQLite file. The DB is
// opened with a single connection: the frontier has exactly one writer (the
// scheduler's dispatch loop), so there is no concurrent-writer contention to
// arbitrate and SQLite's own locking would otherwise just serialize it anyway.
type SQLiteFrontier struct {
	db *sql.DB

	mu           sync.Mutex
	insertionSeq int64
}

// Open creates or attaches to the frontier database at path and ensures the
// schema exists.
func Open(path string) (*SQLiteFrontier, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, &FrontierError{Cause: ErrCauseOpenFailure, Err: err}
	}
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, &FrontierError{Cause: ErrCauseSchemaFailed, Err: err}
	}

	f := &SQLiteFrontier{db: db}
	if err := f.loadInsertionSeq(); err != nil {
		db.Close()
		return nil, err
	}
	return f, nil
}

func (f *SQLiteFrontier) loadInsertionSeq() error {
	var max sql.NullInt64
	row := f.db.QueryRow("SELECT MAX(insertion_order) FROM urls")
	if err := row.Scan(&max); err != nil {
		return &FrontierError{Cause: ErrCauseQueryFailure, Err: err}
	}
	f.insertionSeq = max.Int64
	return nil
}

func (f *SQLiteFrontier) Close() error {
	return f.db.Close()
}

// internURL returns the id of url in url_strings, inserting it if absent.
func internURL(tx *sql.Tx, u url.URL) (int64, error) {
	raw := u.String()
	if _, err := tx.Exec(`INSERT OR IGNORE INTO url_strings (url) VALUES (?)`, raw); err != nil {
		return 0, err
	}
	var id int64
	if err := tx.QueryRow(`SELECT id FROM url_strings WHERE url = ?`, raw).Scan(&id); err != nil {
		return 0, err
	}
	return id, nil
}

// AddMany inserts tokens, skipping any whose url_key already exists. Callers
// must have set URLKey on each token (the scheduler derives it via
// urlutil.Normalize before admission).
func (f *SQLiteFrontier) AddMany(ctx context.Context, tokens []CrawlToken) error {
	if len(tokens) == 0 {
		return nil
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	tx, err := f.db.BeginTx(ctx, nil)
	if err != nil {
		return &FrontierError{Cause: ErrCauseQueryFailure, Err: err, Retryable: true}
	}
	defer tx.Rollback()

	for _, tok := range tokens {
		if tok.urlKey == "" {
			return &FrontierError{Cause: ErrCauseQueryFailure, Err: fmt.Errorf("token for %s has no url_key", tok.url.String())}
		}

		urlID, err := internURL(tx, tok.url)
		if err != nil {
			return &FrontierError{Cause: ErrCauseQueryFailure, Err: err, Retryable: true}
		}

		var parentID, rootID sql.NullInt64
		if tok.parent != nil {
			id, err := internURL(tx, *tok.parent)
			if err != nil {
				return &FrontierError{Cause: ErrCauseQueryFailure, Err: err, Retryable: true}
			}
			parentID = sql.NullInt64{Int64: id, Valid: true}
		}
		if tok.root != nil {
			id, err := internURL(tx, *tok.root)
			if err != nil {
				return &FrontierError{Cause: ErrCauseQueryFailure, Err: err, Retryable: true}
			}
			rootID = sql.NullInt64{Int64: id, Valid: true}
		}

		f.insertionSeq++
		_, err = tx.Exec(`
			INSERT INTO urls (
				url_key, url_id, parent_url_id, root_url_id, status, try_count,
				level, inline, link_type, post_data, referer, insertion_order
			) VALUES (?, ?, ?, ?, ?, 0, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(url_key) DO NOTHING
		`, tok.urlKey, urlID, parentID, rootID, string(StatusTODO),
			tok.depth, boolToInt(tok.inline), tok.linkType, tok.postData, tok.referer, f.insertionSeq)
		if err != nil {
			return &FrontierError{Cause: ErrCauseQueryFailure, Err: err, Retryable: true}
		}
	}

	if err := tx.Commit(); err != nil {
		return &FrontierError{Cause: ErrCauseQueryFailure, Err: err, Retryable: true}
	}
	return nil
}

// CheckOut returns one TODO record with the lowest (level, insertion_order),
// atomically marking it IN_PROGRESS. ok is false when no TODO row remains.
func (f *SQLiteFrontier) CheckOut(ctx context.Context) (CrawlToken, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	tx, err := f.db.BeginTx(ctx, nil)
	if err != nil {
		return CrawlToken{}, false, &FrontierError{Cause: ErrCauseQueryFailure, Err: err, Retryable: true}
	}
	defer tx.Rollback()

	var (
		urlKey                      string
		rawURL                      string
		parentURL, rootURL          sql.NullString
		level, tryCount             int
		inlineInt                   int
		linkType                    string
		postData                    []byte
		referer                     sql.NullString
	)
	row := tx.QueryRow(`
		SELECT u.url_key, s.url, p.url, r.url, u.level, u.inline, u.link_type,
		       u.post_data, u.referer, u.try_count
		FROM urls u
		JOIN url_strings s ON u.url_id = s.id
		LEFT JOIN url_strings p ON u.parent_url_id = p.id
		LEFT JOIN url_strings r ON u.root_url_id = r.id
		WHERE u.status = ?
		ORDER BY u.level, u.insertion_order
		LIMIT 1
	`, string(StatusTODO))

	err = row.Scan(&urlKey, &rawURL, &parentURL, &rootURL, &level, &inlineInt, &linkType, &postData, &referer, &tryCount)
	if err == sql.ErrNoRows {
		return CrawlToken{}, false, nil
	}
	if err != nil {
		return CrawlToken{}, false, &FrontierError{Cause: ErrCauseQueryFailure, Err: err, Retryable: true}
	}

	res, err := tx.Exec(`UPDATE urls SET status = ? WHERE url_key = ? AND status = ?`,
		string(StatusInProgress), urlKey, string(StatusTODO))
	if err != nil {
		return CrawlToken{}, false, &FrontierError{Cause: ErrCauseQueryFailure, Err: err, Retryable: true}
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return CrawlToken{}, false, &FrontierError{Cause: ErrCauseQueryFailure, Err: err, Retryable: true}
	}
	if affected != 1 {
		return CrawlToken{}, false, &FrontierError{Cause: ErrCauseCheckoutRace, Retryable: true}
	}

	if err := tx.Commit(); err != nil {
		return CrawlToken{}, false, &FrontierError{Cause: ErrCauseQueryFailure, Err: err, Retryable: true}
	}

	parsed, err := url.Parse(rawURL)
	if err != nil {
		return CrawlToken{}, false, &FrontierError{Cause: ErrCauseQueryFailure, Err: err}
	}

	tok := CrawlToken{
		urlKey:   urlKey,
		url:      *parsed,
		depth:    level,
		inline:   inlineInt != 0,
		linkType: linkType,
		postData: postData,
		tryCount: tryCount,
		status:   StatusInProgress,
	}
	if referer.Valid {
		tok.referer = referer.String
	}
	if parentURL.Valid {
		p, err := url.Parse(parentURL.String)
		if err == nil {
			tok.parent = p
		}
	}
	if rootURL.Valid {
		r, err := url.Parse(rootURL.String)
		if err == nil {
			tok.root = r
		}
	}
	return tok, true, nil
}

// Update applies a partial update to a frontier row after a fetch attempt.
func (f *SQLiteFrontier) Update(ctx context.Context, urlKey string, fields UpdateFields) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	setClauses := ""
	args := []any{}
	add := func(clause string, v any) {
		if setClauses != "" {
			setClauses += ", "
		}
		setClauses += clause
		args = append(args, v)
	}
	if fields.Status != nil {
		add("status = ?", string(*fields.Status))
	}
	if fields.TryCount != nil {
		add("try_count = ?", *fields.TryCount)
	}
	if fields.StatusCode != nil {
		add("status_code = ?", *fields.StatusCode)
	}
	if fields.Filename != nil {
		add("filename = ?", *fields.Filename)
	}
	if setClauses == "" {
		return nil
	}
	args = append(args, urlKey)

	_, err := f.db.ExecContext(ctx, fmt.Sprintf(`UPDATE urls SET %s WHERE url_key = ?`, setClauses), args...)
	if err != nil {
		return &FrontierError{Cause: ErrCauseQueryFailure, Err: err, Retryable: true}
	}
	return nil
}

// Release flips every IN_PROGRESS row back to TODO. Called once at startup,
// before the first CheckOut, to recover from a prior abnormal shutdown.
func (f *SQLiteFrontier) Release(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	_, err := f.db.ExecContext(ctx, `UPDATE urls SET status = ? WHERE status = ?`,
		string(StatusTODO), string(StatusInProgress))
	if err != nil {
		return &FrontierError{Cause: ErrCauseQueryFailure, Err: err, Retryable: true}
	}
	return nil
}

// CountByStatus reports how many rows sit in each lifecycle state, used by
// the engine's termination check and the stats display.
func (f *SQLiteFrontier) CountByStatus(ctx context.Context) (map[Status]int, error) {
	rows, err := f.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM urls GROUP BY status`)
	if err != nil {
		return nil, &FrontierError{Cause: ErrCauseQueryFailure, Err: err, Retryable: true}
	}
	defer rows.Close()

	counts := make(map[Status]int)
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, &FrontierError{Cause: ErrCauseQueryFailure, Err: err}
		}
		counts[Status(status)] = count
	}
	return counts, rows.Err()
}

// RecordVisit maps a payload_digest to the WARC record that first held that
// content, so a repeat fetch of the same bytes - from the same URL or a
// different one - can emit a revisit record instead of duplicating them.
// url_key is stored alongside for provenance only; it is never part of the
// dedup key, since two distinct URLs serving identical bytes is exactly the
// case spec.md §4.I calls out a revisit for. ok is false (and the returned id
// is the existing record's) when this digest was already recorded.
func (f *SQLiteFrontier) RecordVisit(ctx context.Context, urlKey, payloadDigest, warcRecordID string) (string, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var existing string
	row := f.db.QueryRowContext(ctx, `SELECT warc_record_id FROM visits WHERE payload_digest = ?`, payloadDigest)
	err := row.Scan(&existing)
	if err == nil {
		return existing, false, nil
	}
	if err != sql.ErrNoRows {
		return "", false, &FrontierError{Cause: ErrCauseQueryFailure, Err: err, Retryable: true}
	}

	_, err = f.db.ExecContext(ctx, `INSERT INTO visits (url_key, payload_digest, warc_record_id) VALUES (?, ?, ?)`,
		urlKey, payloadDigest, warcRecordID)
	if err != nil {
		return "", false, &FrontierError{Cause: ErrCauseQueryFailure, Err: err, Retryable: true}
	}
	return warcRecordID, true, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
