package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/ashureev/wotd-bot/internal/domain"
	"github.com/ashureev/wotd-bot/internal/shared"
	_ "modernc.org/sqlite"
)

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type rowScanner interface {
	Scan(dest ...any) error
}

// SQLiteStore implements Repository using SQLite.
type SQLiteStore struct {
	db    *sql.DB
	q     querier
	inTx  bool
	retry shared.RetryPolicy
}

// NewSQLite creates a new SQLite-backed repository.
func NewSQLite(dbPath string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	// WAL for concurrent readers; immediate transactions so writers queue on
	// busy_timeout instead of failing on lock upgrade.
	dsn := "file:" + dbPath +
		"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_txlock=immediate"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(8)
	db.SetMaxIdleConns(4)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	store := &SQLiteStore{db: db, q: db, retry: shared.DefaultRetryPolicy}
	if err := store.initSchema(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("initialize schema: %w", err)
	}

	return store, nil
}

func (s *SQLiteStore) initSchema() error {
	query := `
	CREATE TABLE IF NOT EXISTS subscribers (
		subscriber_id TEXT PRIMARY KEY,
		chat_type TEXT NOT NULL DEFAULT '',
		title TEXT NOT NULL DEFAULT '',
		send_time TEXT NOT NULL DEFAULT '09:00',
		utc_offset INTEGER NOT NULL DEFAULT 180,
		retention_days INTEGER NOT NULL DEFAULT 1,
		is_paused INTEGER NOT NULL DEFAULT 0,
		active_word_id INTEGER,
		active_word_send_count INTEGER NOT NULL DEFAULT 0,
		last_sent_date TEXT,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS words (
		word_id INTEGER PRIMARY KEY AUTOINCREMENT,
		subscriber_id TEXT NOT NULL,
		text TEXT NOT NULL,
		created_at INTEGER NOT NULL,
		UNIQUE (subscriber_id, text)
	);
	CREATE INDEX IF NOT EXISTS idx_words_subscriber ON words(subscriber_id);

	CREATE TABLE IF NOT EXISTS history (
		subscriber_id TEXT NOT NULL,
		word_id INTEGER NOT NULL,
		created_at INTEGER NOT NULL,
		PRIMARY KEY (subscriber_id, word_id)
	);
	`
	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// Atomic runs fn inside a transaction, retrying the whole unit on lock
// contention. Nested calls reuse the enclosing transaction.
func (s *SQLiteStore) Atomic(ctx context.Context, fn func(tx Repository) error) error {
	if s.inTx {
		return fn(s)
	}

	return shared.RetryOnConflict(ctx, s.retry, func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin transaction: %w", err)
		}

		if err := fn(&SQLiteStore{db: s.db, q: tx, inTx: true, retry: s.retry}); err != nil {
			if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
				slog.Warn("Failed to roll back transaction", "error", rbErr)
			}
			return err
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit transaction: %w", err)
		}
		return nil
	})
}

// exec runs a write statement, retrying on lock contention outside transactions.
func (s *SQLiteStore) exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	if s.inTx {
		return s.q.ExecContext(ctx, query, args...)
	}

	var res sql.Result
	err := shared.RetryOnConflict(ctx, s.retry, func() error {
		var err error
		res, err = s.q.ExecContext(ctx, query, args...)
		return err
	})
	return res, err
}

// Ping verifies database connectivity.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if s.inTx {
		return nil
	}
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close database: %w", err)
	}
	return nil
}

const subscriberColumns = `subscriber_id, chat_type, title, send_time, utc_offset, retention_days,
	is_paused, active_word_id, active_word_send_count, last_sent_date, created_at, updated_at`

func scanSubscriber(row rowScanner) (*domain.Subscriber, error) {
	var sub domain.Subscriber
	var sendTime string
	var offset int
	var activeWordID sql.NullInt64
	var lastSent sql.NullString
	var createdAt, updatedAt int64

	if err := row.Scan(
		&sub.ID, &sub.ChatType, &sub.Title, &sendTime, &offset, &sub.RetentionDays,
		&sub.IsPaused, &activeWordID, &sub.ActiveWordSendCount, &lastSent, &createdAt, &updatedAt,
	); err != nil {
		return nil, err
	}

	clock, err := domain.ParseClock(sendTime)
	if err != nil {
		return nil, fmt.Errorf("subscriber %s: %w", sub.ID, err)
	}
	sub.SendTime = clock
	sub.UTCOffset = domain.Offset(offset)
	if activeWordID.Valid {
		id := activeWordID.Int64
		sub.ActiveWordID = &id
	}
	sub.LastSentDate = lastSent.String
	sub.CreatedAt = time.Unix(createdAt, 0)
	sub.UpdatedAt = time.Unix(updatedAt, 0)

	return &sub, nil
}

// ListSubscribers returns every subscriber ordered by id.
func (s *SQLiteStore) ListSubscribers(ctx context.Context) ([]*domain.Subscriber, error) {
	rows, err := s.q.QueryContext(ctx, `SELECT `+subscriberColumns+` FROM subscribers ORDER BY subscriber_id`)
	if err != nil {
		return nil, fmt.Errorf("query subscribers: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			slog.Warn("failed to close subscriber rows", "error", closeErr)
		}
	}()

	var subs []*domain.Subscriber
	for rows.Next() {
		sub, err := scanSubscriber(rows)
		if err != nil {
			return nil, fmt.Errorf("scan subscriber row: %w", err)
		}
		subs = append(subs, sub)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate subscribers: %w", err)
	}

	return subs, nil
}

// GetSubscriber retrieves a subscriber by id.
func (s *SQLiteStore) GetSubscriber(ctx context.Context, id string) (*domain.Subscriber, error) {
	row := s.q.QueryRowContext(ctx, `SELECT `+subscriberColumns+` FROM subscribers WHERE subscriber_id = ?`, id)

	sub, err := scanSubscriber(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan subscriber row: %w", err)
	}
	return sub, nil
}

// EnsureSubscriber inserts sub if no record with its id exists.
func (s *SQLiteStore) EnsureSubscriber(ctx context.Context, sub *domain.Subscriber) (*domain.Subscriber, error) {
	now := time.Now().Unix()
	_, err := s.exec(ctx, `
		INSERT INTO subscribers (subscriber_id, chat_type, title, send_time, utc_offset, retention_days,
			is_paused, active_word_send_count, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, 0, 0, ?, ?)
		ON CONFLICT(subscriber_id) DO NOTHING`,
		sub.ID, sub.ChatType, sub.Title, sub.SendTime.String(), sub.UTCOffset.Minutes(), sub.RetentionDays,
		now, now,
	)
	if err != nil {
		return nil, fmt.Errorf("insert subscriber: %w", err)
	}

	stored, err := s.GetSubscriber(ctx, sub.ID)
	if err != nil {
		return nil, err
	}
	if stored == nil {
		return nil, fmt.Errorf("subscriber %s vanished after insert", sub.ID)
	}
	return stored, nil
}

// UpsertSubscriber creates or updates a subscriber record.
func (s *SQLiteStore) UpsertSubscriber(ctx context.Context, sub *domain.Subscriber) error {
	query := `
	INSERT INTO subscribers (` + subscriberColumns + `)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(subscriber_id) DO UPDATE SET
		chat_type = excluded.chat_type,
		title = excluded.title,
		send_time = excluded.send_time,
		utc_offset = excluded.utc_offset,
		retention_days = excluded.retention_days,
		is_paused = excluded.is_paused,
		active_word_id = excluded.active_word_id,
		active_word_send_count = excluded.active_word_send_count,
		last_sent_date = excluded.last_sent_date,
		updated_at = excluded.updated_at`

	now := time.Now()
	createdAt := sub.CreatedAt
	if createdAt.IsZero() {
		createdAt = now
	}

	var activeWordID any
	if sub.ActiveWordID != nil {
		activeWordID = *sub.ActiveWordID
	}
	var lastSent any
	if sub.LastSentDate != "" {
		lastSent = sub.LastSentDate
	}

	_, err := s.exec(ctx, query,
		sub.ID, sub.ChatType, sub.Title, sub.SendTime.String(), sub.UTCOffset.Minutes(), sub.RetentionDays,
		sub.IsPaused, activeWordID, sub.ActiveWordSendCount, lastSent,
		createdAt.Unix(), now.Unix(),
	)
	if err != nil {
		return fmt.Errorf("upsert subscriber: %w", err)
	}
	return nil
}

func scanWord(row rowScanner) (*domain.Word, error) {
	var w domain.Word
	var createdAt int64
	if err := row.Scan(&w.ID, &w.SubscriberID, &w.Text, &createdAt); err != nil {
		return nil, err
	}
	w.CreatedAt = time.Unix(createdAt, 0)
	return &w, nil
}

// ListWords returns the subscriber's pool in insertion order.
func (s *SQLiteStore) ListWords(ctx context.Context, subscriberID string) ([]*domain.Word, error) {
	rows, err := s.q.QueryContext(ctx, `
		SELECT word_id, subscriber_id, text, created_at
		FROM words WHERE subscriber_id = ? ORDER BY word_id`, subscriberID)
	if err != nil {
		return nil, fmt.Errorf("query words: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			slog.Warn("failed to close word rows", "error", closeErr)
		}
	}()

	var words []*domain.Word
	for rows.Next() {
		w, err := scanWord(rows)
		if err != nil {
			return nil, fmt.Errorf("scan word row: %w", err)
		}
		words = append(words, w)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate words: %w", err)
	}
	return words, nil
}

// GetWord retrieves one word of the subscriber's pool.
func (s *SQLiteStore) GetWord(ctx context.Context, subscriberID string, wordID int64) (*domain.Word, error) {
	row := s.q.QueryRowContext(ctx, `
		SELECT word_id, subscriber_id, text, created_at
		FROM words WHERE subscriber_id = ? AND word_id = ?`, subscriberID, wordID)

	w, err := scanWord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan word row: %w", err)
	}
	return w, nil
}

// FindWord looks a word up by its exact text.
func (s *SQLiteStore) FindWord(ctx context.Context, subscriberID, text string) (*domain.Word, error) {
	row := s.q.QueryRowContext(ctx, `
		SELECT word_id, subscriber_id, text, created_at
		FROM words WHERE subscriber_id = ? AND text = ?`, subscriberID, text)

	w, err := scanWord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan word row: %w", err)
	}
	return w, nil
}

// WordExists reports whether wordID is still in the subscriber's pool.
func (s *SQLiteStore) WordExists(ctx context.Context, subscriberID string, wordID int64) (bool, error) {
	var exists bool
	err := s.q.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM words WHERE subscriber_id = ? AND word_id = ?)`,
		subscriberID, wordID,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check word exists: %w", err)
	}
	return exists, nil
}

// AddWord appends text to the subscriber's pool.
func (s *SQLiteStore) AddWord(ctx context.Context, subscriberID, text string) (*domain.Word, error) {
	now := time.Now()
	res, err := s.exec(ctx,
		`INSERT INTO words (subscriber_id, text, created_at) VALUES (?, ?, ?)`,
		subscriberID, text, now.Unix(),
	)
	if err != nil {
		if shared.IsUniqueViolation(err) {
			return nil, ErrDuplicateWord
		}
		return nil, fmt.Errorf("insert word: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("get word id: %w", err)
	}

	return &domain.Word{
		ID:           id,
		SubscriberID: subscriberID,
		Text:         text,
		CreatedAt:    time.Unix(now.Unix(), 0),
	}, nil
}

// DeleteWord removes a word and cascades to history and the active word reference.
func (s *SQLiteStore) DeleteWord(ctx context.Context, subscriberID string, wordID int64) (bool, error) {
	var removed bool
	err := s.Atomic(ctx, func(tx Repository) error {
		t := tx.(*SQLiteStore)

		res, err := t.q.ExecContext(ctx, `DELETE FROM words WHERE subscriber_id = ? AND word_id = ?`, subscriberID, wordID)
		if err != nil {
			return fmt.Errorf("delete word: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("get rows affected: %w", err)
		}
		removed = n > 0

		if _, err := t.q.ExecContext(ctx, `DELETE FROM history WHERE subscriber_id = ? AND word_id = ?`, subscriberID, wordID); err != nil {
			return fmt.Errorf("delete word history: %w", err)
		}

		if _, err := t.q.ExecContext(ctx, `
			UPDATE subscribers SET active_word_id = NULL, active_word_send_count = 0, updated_at = ?
			WHERE subscriber_id = ? AND active_word_id = ?`,
			time.Now().Unix(), subscriberID, wordID,
		); err != nil {
			return fmt.Errorf("clear active word: %w", err)
		}
		return nil
	})
	if err != nil {
		return false, err
	}
	return removed, nil
}

// GetHistory returns the ids of words shown since the last reset.
func (s *SQLiteStore) GetHistory(ctx context.Context, subscriberID string) (map[int64]struct{}, error) {
	rows, err := s.q.QueryContext(ctx, `SELECT word_id FROM history WHERE subscriber_id = ?`, subscriberID)
	if err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			slog.Warn("failed to close history rows", "error", closeErr)
		}
	}()

	history := make(map[int64]struct{})
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan history row: %w", err)
		}
		history[id] = struct{}{}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate history: %w", err)
	}
	return history, nil
}

// AddHistory records wordID as shown; duplicates are ignored.
func (s *SQLiteStore) AddHistory(ctx context.Context, subscriberID string, wordID int64) error {
	_, err := s.exec(ctx, `
		INSERT INTO history (subscriber_id, word_id, created_at) VALUES (?, ?, ?)
		ON CONFLICT(subscriber_id, word_id) DO NOTHING`,
		subscriberID, wordID, time.Now().Unix(),
	)
	if err != nil {
		return fmt.Errorf("insert history: %w", err)
	}
	return nil
}

// ClearHistory wipes the subscriber's history.
func (s *SQLiteStore) ClearHistory(ctx context.Context, subscriberID string) error {
	if _, err := s.exec(ctx, `DELETE FROM history WHERE subscriber_id = ?`, subscriberID); err != nil {
		return fmt.Errorf("clear history: %w", err)
	}
	return nil
}
