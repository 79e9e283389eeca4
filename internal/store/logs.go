// ABOUTME: Reading log type and store methods for daily reading activity
// ABOUTME: Distinct log dates feed the streak calculation in internal/stats

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// ErrLogNotFound is returned when a reading log doesn't exist.
var ErrLogNotFound = errors.New("reading log not found")

// ErrDuplicateLog is returned when a book already has a log for the given day.
var ErrDuplicateLog = errors.New("reading already logged for this date")

// ReadingLog records that a user read a book on a given day.
type ReadingLog struct {
	ID     string
	BookID string
	UserID string
	Date   time.Time
}

// ReadingLogStore defines the interface for reading log persistence.
type ReadingLogStore interface {
	CreateReadingLog(ctx context.Context, log *ReadingLog) error
	ListLogsForBook(ctx context.Context, bookID string) ([]*ReadingLog, error)
	ListLogDates(ctx context.Context, userID string) ([]time.Time, error)
	DeleteReadingLog(ctx context.Context, id string) error
	CountReadingLogs(ctx context.Context) (int, error)
}

// Ensure SQLiteStore implements ReadingLogStore.
var _ ReadingLogStore = (*SQLiteStore)(nil)

// CreateReadingLog records a reading day for a book. Logging the same book
// twice on one day returns ErrDuplicateLog.
func (s *SQLiteStore) CreateReadingLog(ctx context.Context, log *ReadingLog) error {
	// Check-then-insert: the schema predates a unique constraint on
	// (book_id, date), so duplicates are filtered here.
	var exists int
	err := s.db.QueryRowContext(ctx,
		`SELECT 1 FROM reading_log WHERE book_id = ? AND date = ?`,
		log.BookID, log.Date.Format(dateLayout)).Scan(&exists)
	if err == nil {
		return ErrDuplicateLog
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("checking for duplicate log: %w", err)
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO reading_log (id, book_id, user_id, date) VALUES (?, ?, ?, ?)`,
		log.ID, log.BookID, nullString(log.UserID), log.Date.Format(dateLayout))
	if err != nil {
		return fmt.Errorf("inserting reading log: %w", err)
	}

	s.logger.Debug("created reading log", "id", log.ID, "book_id", log.BookID, "date", log.Date.Format(dateLayout))
	return nil
}

// ListLogsForBook returns a book's reading logs in chronological order.
func (s *SQLiteStore) ListLogsForBook(ctx context.Context, bookID string) ([]*ReadingLog, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, book_id, user_id, date FROM reading_log WHERE book_id = ? ORDER BY date ASC`,
		bookID)
	if err != nil {
		return nil, fmt.Errorf("querying reading logs: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var logs []*ReadingLog
	for rows.Next() {
		var log ReadingLog
		var userID, dateStr string
		if err := rows.Scan(&log.ID, &log.BookID, &userID, &dateStr); err != nil {
			return nil, fmt.Errorf("scanning reading log: %w", err)
		}
		log.UserID = userID
		log.Date, err = time.Parse(dateLayout, dateStr)
		if err != nil {
			return nil, fmt.Errorf("parsing log date: %w", err)
		}
		logs = append(logs, &log)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating reading log rows: %w", err)
	}
	return logs, nil
}

// ListLogDates returns the distinct dates on which a user logged reading,
// most recent first.
func (s *SQLiteStore) ListLogDates(ctx context.Context, userID string) ([]time.Time, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT DISTINCT date FROM reading_log WHERE user_id = ? ORDER BY date DESC`,
		userID)
	if err != nil {
		return nil, fmt.Errorf("querying log dates: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var dates []time.Time
	for rows.Next() {
		var dateStr string
		if err := rows.Scan(&dateStr); err != nil {
			return nil, fmt.Errorf("scanning log date: %w", err)
		}
		d, err := time.Parse(dateLayout, dateStr)
		if err != nil {
			return nil, fmt.Errorf("parsing log date: %w", err)
		}
		dates = append(dates, d)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating log dates: %w", err)
	}
	return dates, nil
}

// DeleteReadingLog removes a single reading log entry.
func (s *SQLiteStore) DeleteReadingLog(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM reading_log WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("deleting reading log: %w", err)
	}
	return requireRow(result, ErrLogNotFound)
}

// CountReadingLogs returns the total number of reading log entries.
func (s *SQLiteStore) CountReadingLogs(ctx context.Context) (int, error) {
	var count int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM reading_log").Scan(&count); err != nil {
		return 0, fmt.Errorf("counting reading logs: %w", err)
	}
	return count, nil
}
