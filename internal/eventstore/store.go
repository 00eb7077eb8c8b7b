package eventstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/loqalabs/loqa-narrator/internal/config"
	_ "modernc.org/sqlite"
)

// ErrNotFound is returned by Get for unknown request ids.
var ErrNotFound = errors.New("narration not found")

// Record is one narration attempt, successful or not.
type Record struct {
	RequestID          string        `json:"request_id"`
	Text               string        `json:"text"`
	Voice              string        `json:"voice,omitempty"`
	Language           string        `json:"language,omitempty"`
	Backend            string        `json:"backend,omitempty"`
	AudioLengthSeconds float64       `json:"audio_length_seconds"`
	CaptionCount       int           `json:"caption_count"`
	Captions           []byte        `json:"-"`
	Error              string        `json:"error,omitempty"`
	Elapsed            time.Duration `json:"elapsed_ns"`
	CreatedAt          time.Time     `json:"created_at"`
}

// Store wraps a SQLite-backed narration history.
type Store struct {
	db    *sql.DB
	cfg   config.EventStoreConfig
	log   *slog.Logger
	clock func() time.Time
}

// Open initializes the store according to config. Ephemeral mode keeps
// nothing and never touches disk.
func Open(ctx context.Context, cfg config.EventStoreConfig, log *slog.Logger) (*Store, error) {
	log = log.With(slog.String("component", "eventstore"))
	if cfg.RetentionMode == "ephemeral" {
		return &Store{cfg: cfg, log: log, clock: time.Now}, nil
	}

	dir := filepath.Dir(cfg.Path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create data dir: %w", err)
		}
	}

	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)", cfg.Path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	s := &Store{db: db, cfg: cfg, log: log, clock: time.Now}

	if err := s.initSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}

	if cfg.VacuumOnStart {
		if err := s.vacuum(ctx); err != nil {
			log.Warn("event store vacuum failed", slog.String("error", err.Error()))
		}
	}

	if err := s.Prune(ctx); err != nil {
		log.Warn("event store prune on start failed", slog.String("error", err.Error()))
	}

	return s, nil
}

func (s *Store) initSchema(ctx context.Context) error {
	if s.db == nil {
		return nil
	}
	// created_at holds unix nanoseconds so retention compares numerically.
	ddl := `
CREATE TABLE IF NOT EXISTS narrations (
    request_id TEXT PRIMARY KEY,
    text TEXT NOT NULL,
    voice TEXT,
    language TEXT,
    backend TEXT,
    audio_length_seconds REAL,
    caption_count INTEGER,
    captions BLOB,
    error TEXT,
    elapsed_ns INTEGER,
    created_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_narrations_created ON narrations(created_at);
`
	_, err := s.db.ExecContext(ctx, ddl)
	return err
}

func (s *Store) vacuum(ctx context.Context) error {
	if s.db == nil {
		return nil
	}
	_, err := s.db.ExecContext(ctx, "VACUUM")
	return err
}

// Close releases underlying resources.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *Store) disabled() bool {
	return s == nil || s.cfg.RetentionMode == "ephemeral" || s.db == nil
}

// Append writes a narration record. A record with an existing request id
// replaces the stored one.
func (s *Store) Append(ctx context.Context, rec Record) error {
	if s.disabled() {
		return nil
	}
	if rec.RequestID == "" {
		return errors.New("record request id empty")
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = s.clock().UTC()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO narrations(request_id, text, voice, language, backend, audio_length_seconds, caption_count, captions, error, elapsed_ns, created_at)
		 VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(request_id) DO UPDATE SET
		   text=excluded.text, voice=excluded.voice, language=excluded.language,
		   backend=excluded.backend, audio_length_seconds=excluded.audio_length_seconds,
		   caption_count=excluded.caption_count, captions=excluded.captions,
		   error=excluded.error, elapsed_ns=excluded.elapsed_ns, created_at=excluded.created_at`,
		rec.RequestID, rec.Text, rec.Voice, rec.Language, rec.Backend, rec.AudioLengthSeconds,
		rec.CaptionCount, rec.Captions, rec.Error, int64(rec.Elapsed), rec.CreatedAt.UnixNano())
	return err
}

const selectColumns = `SELECT request_id, text, voice, language, backend, audio_length_seconds, caption_count, captions, error, elapsed_ns, created_at FROM narrations`

// List returns up to limit records, newest first.
func (s *Store) List(ctx context.Context, limit int) ([]Record, error) {
	if s.disabled() {
		return nil, nil
	}
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, selectColumns+` ORDER BY created_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// Get returns the record for requestID.
func (s *Store) Get(ctx context.Context, requestID string) (Record, error) {
	if s.disabled() {
		return Record{}, ErrNotFound
	}
	row := s.db.QueryRowContext(ctx, selectColumns+` WHERE request_id = ?`, requestID)
	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Record{}, ErrNotFound
	}
	return rec, err
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(row scanner) (Record, error) {
	var (
		rec     Record
		voice   sql.NullString
		lang    sql.NullString
		backend sql.NullString
		errText sql.NullString
		seconds sql.NullFloat64
		count   sql.NullInt64
		elapsed sql.NullInt64
		created int64
	)
	if err := row.Scan(&rec.RequestID, &rec.Text, &voice, &lang, &backend, &seconds, &count, &rec.Captions, &errText, &elapsed, &created); err != nil {
		return Record{}, err
	}
	rec.Voice = voice.String
	rec.Language = lang.String
	rec.Backend = backend.String
	rec.Error = errText.String
	rec.AudioLengthSeconds = seconds.Float64
	rec.CaptionCount = int(count.Int64)
	rec.Elapsed = time.Duration(elapsed.Int64)
	rec.CreatedAt = time.Unix(0, created).UTC()
	return rec, nil
}

// Prune applies configured retention (called on startup and can be scheduled).
func (s *Store) Prune(ctx context.Context) (err error) {
	if s.disabled() {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	if s.cfg.RetentionDays > 0 {
		cutoff := s.clock().Add(-time.Duration(s.cfg.RetentionDays) * 24 * time.Hour)
		if _, err = tx.ExecContext(ctx, `DELETE FROM narrations WHERE created_at < ?`, cutoff.UnixNano()); err != nil {
			return err
		}
	}
	if s.cfg.MaxRecords > 0 {
		_, err = tx.ExecContext(ctx, `DELETE FROM narrations WHERE request_id IN (
			SELECT request_id FROM narrations ORDER BY created_at DESC LIMIT -1 OFFSET ?
		)`, s.cfg.MaxRecords)
		if err != nil {
			return err
		}
	}
	err = tx.Commit()
	return err
}
