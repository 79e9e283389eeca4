// ABOUTME: Book type and store methods for the per-user library
// ABOUTME: Covers CRUD, status transitions and the shared public library view

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// ErrBookNotFound is returned when a book doesn't exist.
var ErrBookNotFound = errors.New("book not found")

// ErrDuplicateISBN is returned when a user already has a book with the same ISBN.
var ErrDuplicateISBN = errors.New("book with this ISBN already exists")

// Book represents a tracked book. UID is the short public identifier used in
// URLs; ID is the internal primary key.
type Book struct {
	ID         string
	UID        string
	UserID     string
	Title      string
	Author     string
	ISBN       string
	StartDate  *time.Time
	FinishDate *time.Time
	CoverURL   string
	WantToRead bool
	// LibraryOnly marks books owned but not intended to be read.
	LibraryOnly bool

	Description   string
	PublishedDate string
	PageCount     int
	Categories    string
	Publisher     string
	Language      string
	AverageRating float64
	RatingCount   int
	// Review holds the owner's markdown review text.
	Review string
}

// BookStore defines the interface for book persistence.
type BookStore interface {
	CreateBook(ctx context.Context, book *Book) error
	GetBookByUID(ctx context.Context, uid string) (*Book, error)
	ListBooksByUser(ctx context.Context, userID string) ([]*Book, error)
	ListCurrentlyReading(ctx context.Context, userID string) ([]*Book, error)
	ListFinishedInMonth(ctx context.Context, userID string, year int, month time.Month) ([]*Book, error)
	UpdateBook(ctx context.Context, book *Book) error
	DeleteBook(ctx context.Context, id string) error
	CountBooks(ctx context.Context) (int, error)
}

// Ensure SQLiteStore implements BookStore.
var _ BookStore = (*SQLiteStore)(nil)

const bookColumns = `id, uid, user_id, title, author, isbn, start_date, finish_date, cover_url,
		want_to_read, library_only, description, published_date, page_count, categories,
		publisher, language, average_rating, rating_count, review`

// CreateBook creates a new book for a user. A non-empty ISBN must be unique
// within that user's library.
func (s *SQLiteStore) CreateBook(ctx context.Context, book *Book) error {
	if book.ISBN != "" {
		var existing int
		err := s.db.QueryRowContext(ctx,
			`SELECT 1 FROM book WHERE user_id = ? AND isbn = ? LIMIT 1`,
			book.UserID, book.ISBN).Scan(&existing)
		if err == nil {
			return ErrDuplicateISBN
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("checking for duplicate isbn: %w", err)
		}
	}

	query := `
		INSERT INTO book (` + bookColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := s.db.ExecContext(ctx, query,
		book.ID,
		book.UID,
		nullString(book.UserID),
		book.Title,
		book.Author,
		book.ISBN,
		nullDate(book.StartDate),
		nullDate(book.FinishDate),
		nullString(book.CoverURL),
		book.WantToRead,
		book.LibraryOnly,
		nullString(book.Description),
		nullString(book.PublishedDate),
		book.PageCount,
		nullString(book.Categories),
		nullString(book.Publisher),
		nullString(book.Language),
		book.AverageRating,
		book.RatingCount,
		nullString(book.Review),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return ErrDuplicateISBN
		}
		return fmt.Errorf("inserting book: %w", err)
	}

	s.logger.Debug("created book", "id", book.ID, "uid", book.UID, "title", book.Title)
	return nil
}

func scanBook(scan func(dest ...any) error) (*Book, error) {
	var book Book
	var userID, startDate, finishDate, coverURL sql.NullString
	var description, publishedDate, categories, publisher, language, review sql.NullString
	var pageCount, ratingCount sql.NullInt64
	var averageRating sql.NullFloat64

	err := scan(
		&book.ID,
		&book.UID,
		&userID,
		&book.Title,
		&book.Author,
		&book.ISBN,
		&startDate,
		&finishDate,
		&coverURL,
		&book.WantToRead,
		&book.LibraryOnly,
		&description,
		&publishedDate,
		&pageCount,
		&categories,
		&publisher,
		&language,
		&averageRating,
		&ratingCount,
		&review,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrBookNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scanning book: %w", err)
	}

	book.UserID = userID.String
	book.CoverURL = coverURL.String
	book.Description = description.String
	book.PublishedDate = publishedDate.String
	book.Categories = categories.String
	book.Publisher = publisher.String
	book.Language = language.String
	book.Review = review.String
	book.PageCount = int(pageCount.Int64)
	book.RatingCount = int(ratingCount.Int64)
	book.AverageRating = averageRating.Float64

	if book.StartDate, err = parseNullDate(startDate); err != nil {
		return nil, err
	}
	if book.FinishDate, err = parseNullDate(finishDate); err != nil {
		return nil, err
	}

	return &book, nil
}

// GetBookByUID retrieves a book by its public UID.
func (s *SQLiteStore) GetBookByUID(ctx context.Context, uid string) (*Book, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+bookColumns+` FROM book WHERE uid = ?`, uid)
	return scanBook(row.Scan)
}

func (s *SQLiteStore) queryBooks(ctx context.Context, query string, args ...any) ([]*Book, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying books: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var books []*Book
	for rows.Next() {
		book, err := scanBook(rows.Scan)
		if err != nil {
			return nil, err
		}
		books = append(books, book)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating book rows: %w", err)
	}
	return books, nil
}

// ListBooksByUser returns all books owned by a user, newest first by rowid.
func (s *SQLiteStore) ListBooksByUser(ctx context.Context, userID string) ([]*Book, error) {
	return s.queryBooks(ctx,
		`SELECT `+bookColumns+` FROM book WHERE user_id = ? ORDER BY rowid DESC`, userID)
}

// ListCurrentlyReading returns books the user has started but not finished.
func (s *SQLiteStore) ListCurrentlyReading(ctx context.Context, userID string) ([]*Book, error) {
	return s.queryBooks(ctx, `
		SELECT `+bookColumns+` FROM book
		WHERE user_id = ?
		  AND start_date IS NOT NULL AND finish_date IS NULL
		  AND want_to_read = 0 AND library_only = 0
		ORDER BY start_date DESC`, userID)
}

// ListFinishedInMonth returns books finished in the given month, used for the
// month-in-review summary.
func (s *SQLiteStore) ListFinishedInMonth(ctx context.Context, userID string, year int, month time.Month) ([]*Book, error) {
	first := time.Date(year, month, 1, 0, 0, 0, 0, time.UTC)
	next := first.AddDate(0, 1, 0)
	return s.queryBooks(ctx, `
		SELECT `+bookColumns+` FROM book
		WHERE user_id = ? AND finish_date >= ? AND finish_date < ?
		ORDER BY finish_date ASC`,
		userID, first.Format(dateLayout), next.Format(dateLayout))
}

// UpdateBook updates every mutable field of a book.
func (s *SQLiteStore) UpdateBook(ctx context.Context, book *Book) error {
	query := `
		UPDATE book
		SET title = ?, author = ?, isbn = ?, start_date = ?, finish_date = ?, cover_url = ?,
		    want_to_read = ?, library_only = ?, description = ?, published_date = ?,
		    page_count = ?, categories = ?, publisher = ?, language = ?,
		    average_rating = ?, rating_count = ?, review = ?
		WHERE id = ?
	`

	result, err := s.db.ExecContext(ctx, query,
		book.Title,
		book.Author,
		book.ISBN,
		nullDate(book.StartDate),
		nullDate(book.FinishDate),
		nullString(book.CoverURL),
		book.WantToRead,
		book.LibraryOnly,
		nullString(book.Description),
		nullString(book.PublishedDate),
		book.PageCount,
		nullString(book.Categories),
		nullString(book.Publisher),
		nullString(book.Language),
		book.AverageRating,
		book.RatingCount,
		nullString(book.Review),
		book.ID,
	)
	if err != nil {
		return fmt.Errorf("updating book: %w", err)
	}

	if err := requireRow(result, ErrBookNotFound); err != nil {
		return err
	}
	s.logger.Debug("updated book", "id", book.ID)
	return nil
}

// DeleteBook removes a book and its reading logs.
func (s *SQLiteStore) DeleteBook(ctx context.Context, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning delete transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM reading_log WHERE book_id = ?`, id); err != nil {
		return fmt.Errorf("deleting reading logs: %w", err)
	}

	result, err := tx.ExecContext(ctx, `DELETE FROM book WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("deleting book: %w", err)
	}
	if err := requireRow(result, ErrBookNotFound); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing delete: %w", err)
	}

	s.logger.Debug("deleted book", "id", id)
	return nil
}

// CountBooks returns the total number of books across all users.
func (s *SQLiteStore) CountBooks(ctx context.Context) (int, error) {
	var count int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM book").Scan(&count); err != nil {
		return 0, fmt.Errorf("counting books: %w", err)
	}
	return count, nil
}
