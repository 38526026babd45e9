package db

import (
	"context"
	"database/sql"
	"sync/atomic"
	"time"

	sqlite3 "github.com/mattn/go-sqlite3"
	"github.com/pkg/errors"

	"pastry/pkg/domain"
)

var ErrCircuitOpen = errors.New("database circuit breaker open")

const (
	circuitClosed   = 0
	circuitOpen     = 1
	circuitHalfOpen = 2
	maxFailures     = 5
	cooldownSeconds = 30
)

const (
	defaultMaxOpenConns = 100
	defaultMaxIdleConns = 10
	defaultQueryTimeout = 5 * time.Second

	snippetLen      = 160
	sweepBatchSize  = 500
	maxSweepBatches = 1000
)

// SQLite is the sole writer of the paste table. Per-key linearizability comes
// from SQLite's transactional statement execution; the unique primary key
// closes the allocate/insert race at write time.
type SQLite struct {
	db            *sql.DB
	failures      int32
	circuitState  int32
	circuitOpened int64
	queryTimeout  time.Duration
}

func (s *SQLite) DB() *sql.DB {
	return s.db
}

func NewSQLite(path string) (*SQLite, error) {
	return NewSQLiteWithConfig(path, defaultMaxOpenConns, defaultMaxIdleConns, defaultQueryTimeout)
}

func NewSQLiteWithConfig(path string, maxOpenConns, maxIdleConns int, queryTimeout time.Duration) (*SQLite, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, errors.Wrap(err, "failed to open db")
	}
	db.SetMaxOpenConns(maxOpenConns)
	db.SetMaxIdleConns(maxIdleConns)
	db.SetConnMaxLifetime(1 * time.Hour)
	db.SetConnMaxIdleTime(10 * time.Minute)
	if err := db.Ping(); err != nil {
		return nil, errors.Wrap(err, "failed to ping db")
	}
	s := &SQLite{
		db:           db,
		queryTimeout: queryTimeout,
	}
	if err := s.migrate(); err != nil {
		return nil, errors.Wrap(err, "migration failed")
	}
	return s, nil
}

func (s *SQLite) checkCircuit() error {
	state := atomic.LoadInt32(&s.circuitState)
	switch state {
	case circuitClosed:
		return nil
	case circuitOpen:
		opened := atomic.LoadInt64(&s.circuitOpened)
		if time.Now().Unix()-opened >= cooldownSeconds {
			if atomic.CompareAndSwapInt32(&s.circuitState, circuitOpen, circuitHalfOpen) {
				return nil
			}
		}
		return ErrCircuitOpen
	case circuitHalfOpen:
		return nil
	default:
		return nil
	}
}

func (s *SQLite) recordError(err error) {
	if err == nil {
		atomic.StoreInt32(&s.failures, 0)
		atomic.StoreInt32(&s.circuitState, circuitClosed)
		return
	}
	if errors.Is(err, sql.ErrNoRows) ||
		errors.Is(err, domain.ErrDuplicateID) ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded) {
		return
	}
	failures := atomic.AddInt32(&s.failures, 1)
	if atomic.LoadInt32(&s.circuitState) == circuitHalfOpen {
		atomic.StoreInt32(&s.circuitState, circuitOpen)
		atomic.StoreInt64(&s.circuitOpened, time.Now().Unix())
		atomic.StoreInt32(&s.failures, 0)
		return
	}
	if failures >= maxFailures && atomic.LoadInt32(&s.circuitState) == circuitClosed {
		atomic.StoreInt32(&s.circuitState, circuitOpen)
		atomic.StoreInt64(&s.circuitOpened, time.Now().Unix())
	}
}

func (s *SQLite) migrate() error {
	_, err := s.db.Exec("PRAGMA journal_mode=WAL")
	if err != nil {
		return errors.Wrap(err, "enable WAL mode")
	}
	_, err = s.db.Exec("PRAGMA busy_timeout = 5000")
	if err != nil {
		return errors.Wrap(err, "set busy timeout")
	}
	_, err = s.db.Exec("PRAGMA synchronous=FULL")
	if err != nil {
		return errors.Wrap(err, "set synchronous mode")
	}
	query := `
	CREATE TABLE IF NOT EXISTS pastes (
		id TEXT PRIMARY KEY,
		title TEXT NOT NULL DEFAULT '',
		content TEXT NOT NULL,
		language TEXT NOT NULL,
		visibility TEXT NOT NULL DEFAULT 'unlisted',
		created_at DATETIME NOT NULL,
		expires_at DATETIME
	);
	CREATE INDEX IF NOT EXISTS idx_pastes_expires_at ON pastes(expires_at) WHERE expires_at IS NOT NULL;
	CREATE INDEX IF NOT EXISTS idx_pastes_public_created ON pastes(visibility, created_at DESC, id DESC);
	`
	_, err = s.db.Exec(query)
	return err
}

// Put inserts atomically; a primary-key violation maps to ErrDuplicateID so
// the caller can retry allocation instead of overwriting. Timestamps are
// stored in UTC: the driver binds time.Time as text with the value's own
// offset and SQLite compares DATETIME text lexicographically, so mixed
// offsets would corrupt every created_at/expires_at comparison.
func (s *SQLite) Put(ctx context.Context, p *domain.Paste) error {
	if err := s.checkCircuit(); err != nil {
		return err
	}
	queryCtx, cancel := context.WithTimeout(ctx, s.queryTimeout)
	defer cancel()
	q := `
	INSERT INTO pastes (id, title, content, language, visibility, created_at, expires_at)
	VALUES (?, ?, ?, ?, ?, ?, ?)
	`
	_, err := s.db.ExecContext(queryCtx, q,
		p.ID, p.Title, p.Content, p.Language, string(p.Visibility), p.CreatedAt.UTC(), nullTime(p.ExpiresAt),
	)
	if isDuplicateErr(err) {
		return domain.ErrDuplicateID
	}
	s.recordError(err)
	return errors.Wrap(err, "db put")
}

// Get treats a past-expiry row as absent (lazy expiry); callers cannot
// distinguish expired from never-existed.
func (s *SQLite) Get(ctx context.Context, id string) (*domain.Paste, error) {
	if err := s.checkCircuit(); err != nil {
		return nil, err
	}
	queryCtx, cancel := context.WithTimeout(ctx, s.queryTimeout)
	defer cancel()
	q := `
	SELECT id, title, content, language, visibility, created_at, expires_at
	FROM pastes WHERE id = ? AND (expires_at IS NULL OR expires_at > ?)
	`
	var p domain.Paste
	var vis string
	var expires sql.NullTime
	err := s.db.QueryRowContext(queryCtx, q, id, time.Now().UTC()).Scan(
		&p.ID, &p.Title, &p.Content, &p.Language, &vis, &p.CreatedAt, &expires,
	)
	if err == sql.ErrNoRows {
		return nil, domain.ErrPasteNotFound
	}
	s.recordError(err)
	if err != nil {
		return nil, errors.Wrap(err, "db get")
	}
	p.Visibility = domain.Visibility(vis)
	if expires.Valid {
		t := expires.Time
		p.ExpiresAt = &t
	}
	return &p, nil
}

// Delete is idempotent; deleting a missing id is not an error.
func (s *SQLite) Delete(ctx context.Context, id string) error {
	if err := s.checkCircuit(); err != nil {
		return err
	}
	queryCtx, cancel := context.WithTimeout(ctx, s.queryTimeout)
	defer cancel()
	q := `DELETE FROM pastes WHERE id = ?`
	_, err := s.db.ExecContext(queryCtx, q, id)
	s.recordError(err)
	return errors.Wrap(err, "delete paste")
}

// ListPublic returns public, non-expired pastes ordered by created_at
// descending with id as tiebreak, using keyset pagination. limit must
// already be clamped by the caller.
func (s *SQLite) ListPublic(ctx context.Context, cursor *Cursor, limit int) ([]domain.Summary, *Cursor, error) {
	if err := s.checkCircuit(); err != nil {
		return nil, nil, err
	}
	queryCtx, cancel := context.WithTimeout(ctx, s.queryTimeout)
	defer cancel()

	q := `
	SELECT id, title, substr(content, 1, ?), language, created_at
	FROM pastes
	WHERE visibility = ? AND (expires_at IS NULL OR expires_at > ?)
	`
	args := []interface{}{snippetLen, string(domain.VisibilityPublic), time.Now().UTC()}
	if cursor != nil {
		q += ` AND (created_at < ? OR (created_at = ? AND id < ?))`
		cursorAt := cursor.CreatedAt.UTC()
		args = append(args, cursorAt, cursorAt, cursor.ID)
	}
	q += ` ORDER BY created_at DESC, id DESC LIMIT ?`
	args = append(args, limit+1)

	rows, err := s.db.QueryContext(queryCtx, q, args...)
	s.recordError(err)
	if err != nil {
		return nil, nil, errors.Wrap(err, "db list")
	}
	defer rows.Close()

	var out []domain.Summary
	for rows.Next() {
		var sum domain.Summary
		if err := rows.Scan(&sum.ID, &sum.Title, &sum.Snippet, &sum.Language, &sum.CreatedAt); err != nil {
			return nil, nil, errors.Wrap(err, "scan summary")
		}
		out = append(out, sum)
	}
	if err := rows.Err(); err != nil {
		s.recordError(err)
		return nil, nil, errors.Wrap(err, "list rows")
	}
	var next *Cursor
	if len(out) > limit {
		out = out[:limit]
		last := out[limit-1]
		next = &Cursor{CreatedAt: last.CreatedAt, ID: last.ID}
	}
	return out, next, nil
}

// SweepExpired physically removes past-expiry rows in batches. A failing
// delete is counted and skipped; the rest of the batch continues. Returns the
// ids actually removed so callers can purge cache layers.
func (s *SQLite) SweepExpired(ctx context.Context) ([]string, int, error) {
	if err := s.checkCircuit(); err != nil {
		return nil, 0, err
	}
	var deleted []string
	failures := 0
	for batch := 0; batch < maxSweepBatches; batch++ {
		select {
		case <-ctx.Done():
			return deleted, failures, ctx.Err()
		default:
		}
		ids, err := s.expiredBatch(ctx)
		if err != nil {
			return deleted, failures, errors.Wrap(err, "sweep scan")
		}
		if len(ids) == 0 {
			return deleted, failures, nil
		}
		for _, id := range ids {
			if err := s.Delete(ctx, id); err != nil {
				failures++
				continue
			}
			deleted = append(deleted, id)
		}
		if len(ids) < sweepBatchSize {
			return deleted, failures, nil
		}
	}
	return deleted, failures, errors.New("sweep hit batch limit, more records may exist")
}

func (s *SQLite) expiredBatch(ctx context.Context) ([]string, error) {
	queryCtx, cancel := context.WithTimeout(ctx, s.queryTimeout)
	defer cancel()
	rows, err := s.db.QueryContext(queryCtx, `
		SELECT id FROM pastes
		WHERE expires_at IS NOT NULL AND expires_at < ?
		LIMIT ?
	`, time.Now().UTC(), sweepBatchSize)
	s.recordError(err)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (s *SQLite) Exists(ctx context.Context, id string) (bool, error) {
	if err := s.checkCircuit(); err != nil {
		return false, err
	}
	queryCtx, cancel := context.WithTimeout(ctx, s.queryTimeout)
	defer cancel()
	var exists int
	q := `SELECT 1 FROM pastes WHERE id = ? LIMIT 1`
	err := s.db.QueryRowContext(queryCtx, q, id).Scan(&exists)
	if err == sql.ErrNoRows {
		return false, nil
	}
	s.recordError(err)
	if err != nil {
		return false, errors.Wrap(err, "exists check failed")
	}
	return exists == 1, nil
}

func (s *SQLite) Close() error {
	return s.db.Close()
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}

func isDuplicateErr(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey ||
			sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique
	}
	return false
}
