// ABOUTME: Book and reading-log endpoints: CRUD, status transitions, dashboard
// ABOUTME: Reviews are stored as markdown and rendered to HTML on read

package webapp

import (
	"bytes"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/yuin/goldmark"

	"github.com/bibliotheca-app/bibliotheca/internal/store"
)

const dateLayout = "2006-01-02"

type bookRequest struct {
	Title         string  `json:"title"`
	Author        string  `json:"author"`
	ISBN          string  `json:"isbn"`
	CoverURL      string  `json:"cover_url"`
	WantToRead    *bool   `json:"want_to_read"`
	LibraryOnly   *bool   `json:"library_only"`
	Description   string  `json:"description"`
	PublishedDate string  `json:"published_date"`
	PageCount     int     `json:"page_count"`
	Categories    string  `json:"categories"`
	Publisher     string  `json:"publisher"`
	Language      string  `json:"language"`
	AverageRating float64 `json:"average_rating"`
	RatingCount   int     `json:"rating_count"`
	Review        string  `json:"review"`
}

// handleBookCreate adds a book to the caller's library.
func (a *App) handleBookCreate(w http.ResponseWriter, r *http.Request) {
	var req bookRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Title == "" || req.Author == "" {
		writeError(w, http.StatusBadRequest, "title and author are required")
		return
	}

	user := currentUser(r)
	book := &store.Book{
		ID:            newID(),
		UID:           shortUID(),
		UserID:        user.ID,
		Title:         req.Title,
		Author:        req.Author,
		ISBN:          req.ISBN,
		CoverURL:      req.CoverURL,
		Description:   req.Description,
		PublishedDate: req.PublishedDate,
		PageCount:     req.PageCount,
		Categories:    req.Categories,
		Publisher:     req.Publisher,
		Language:      req.Language,
		AverageRating: req.AverageRating,
		RatingCount:   req.RatingCount,
		Review:        req.Review,
	}
	if req.WantToRead != nil {
		book.WantToRead = *req.WantToRead
	}
	if req.LibraryOnly != nil {
		book.LibraryOnly = *req.LibraryOnly
	}

	if err := a.store.CreateBook(r.Context(), book); err != nil {
		if errors.Is(err, store.ErrDuplicateISBN) {
			writeError(w, http.StatusConflict, "book with this ISBN already exists")
			return
		}
		a.logger.Error("creating book", "error", err)
		writeError(w, http.StatusInternalServerError, "create failed")
		return
	}

	writeJSON(w, http.StatusCreated, a.bookResponse(book))
}

// handleBooksList returns the caller's library.
func (a *App) handleBooksList(w http.ResponseWriter, r *http.Request) {
	books, err := a.store.ListBooksByUser(r.Context(), currentUser(r).ID)
	if err != nil {
		a.logger.Error("listing books", "error", err)
		writeError(w, http.StatusInternalServerError, "list failed")
		return
	}

	resp := make([]map[string]any, 0, len(books))
	for _, b := range books {
		resp = append(resp, a.bookResponse(b))
	}
	writeJSON(w, http.StatusOK, map[string]any{"books": resp})
}

// ownedBook loads the book in the URL and checks the caller owns it. A book
// belonging to someone else reads as not-found rather than forbidden.
func (a *App) ownedBook(w http.ResponseWriter, r *http.Request) *store.Book {
	book, err := a.store.GetBookByUID(r.Context(), r.PathValue("uid"))
	if err != nil {
		if errors.Is(err, store.ErrBookNotFound) {
			writeError(w, http.StatusNotFound, "book not found")
		} else {
			a.logger.Error("loading book", "error", err)
			writeError(w, http.StatusInternalServerError, "lookup failed")
		}
		return nil
	}
	if book.UserID != currentUser(r).ID {
		writeError(w, http.StatusNotFound, "book not found")
		return nil
	}
	return book
}

func (a *App) handleBookGet(w http.ResponseWriter, r *http.Request) {
	book := a.ownedBook(w, r)
	if book == nil {
		return
	}
	writeJSON(w, http.StatusOK, a.bookResponse(book))
}

func (a *App) handleBookUpdate(w http.ResponseWriter, r *http.Request) {
	book := a.ownedBook(w, r)
	if book == nil {
		return
	}

	var req bookRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if req.Title != "" {
		book.Title = req.Title
	}
	if req.Author != "" {
		book.Author = req.Author
	}
	if req.ISBN != "" {
		book.ISBN = req.ISBN
	}
	if req.CoverURL != "" {
		book.CoverURL = req.CoverURL
	}
	if req.Description != "" {
		book.Description = req.Description
	}
	if req.PublishedDate != "" {
		book.PublishedDate = req.PublishedDate
	}
	if req.PageCount != 0 {
		book.PageCount = req.PageCount
	}
	if req.Categories != "" {
		book.Categories = req.Categories
	}
	if req.Publisher != "" {
		book.Publisher = req.Publisher
	}
	if req.Language != "" {
		book.Language = req.Language
	}
	if req.AverageRating != 0 {
		book.AverageRating = req.AverageRating
	}
	if req.RatingCount != 0 {
		book.RatingCount = req.RatingCount
	}
	if req.Review != "" {
		book.Review = req.Review
	}
	if req.WantToRead != nil {
		book.WantToRead = *req.WantToRead
	}
	if req.LibraryOnly != nil {
		book.LibraryOnly = *req.LibraryOnly
	}

	if err := a.store.UpdateBook(r.Context(), book); err != nil {
		a.logger.Error("updating book", "book_id", book.ID, "error", err)
		writeError(w, http.StatusInternalServerError, "update failed")
		return
	}
	writeJSON(w, http.StatusOK, a.bookResponse(book))
}

func (a *App) handleBookDelete(w http.ResponseWriter, r *http.Request) {
	book := a.ownedBook(w, r)
	if book == nil {
		return
	}
	if err := a.store.DeleteBook(r.Context(), book.ID); err != nil {
		a.logger.Error("deleting book", "book_id", book.ID, "error", err)
		writeError(w, http.StatusInternalServerError, "delete failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

// handleBookStart marks a book as currently reading.
func (a *App) handleBookStart(w http.ResponseWriter, r *http.Request) {
	book := a.ownedBook(w, r)
	if book == nil {
		return
	}

	now := a.now()
	book.StartDate = &now
	book.FinishDate = nil
	book.WantToRead = false
	a.persistStatus(w, r, book)
}

// handleBookFinish marks a book finished, stamping a start date too if the
// reader never recorded one.
func (a *App) handleBookFinish(w http.ResponseWriter, r *http.Request) {
	book := a.ownedBook(w, r)
	if book == nil {
		return
	}

	now := a.now()
	if book.StartDate == nil {
		book.StartDate = &now
	}
	book.FinishDate = &now
	book.WantToRead = false
	a.persistStatus(w, r, book)
}

// handleBookWant moves a book back to the want-to-read shelf.
func (a *App) handleBookWant(w http.ResponseWriter, r *http.Request) {
	book := a.ownedBook(w, r)
	if book == nil {
		return
	}

	book.StartDate = nil
	book.FinishDate = nil
	book.WantToRead = true
	a.persistStatus(w, r, book)
}

func (a *App) persistStatus(w http.ResponseWriter, r *http.Request, book *store.Book) {
	if err := a.store.UpdateBook(r.Context(), book); err != nil {
		a.logger.Error("updating book status", "book_id", book.ID, "error", err)
		writeError(w, http.StatusInternalServerError, "update failed")
		return
	}
	writeJSON(w, http.StatusOK, a.bookResponse(book))
}

type logRequest struct {
	Date string `json:"date"` // YYYY-MM-DD, defaults to today
}

// handleLogCreate records a reading day for a book.
func (a *App) handleLogCreate(w http.ResponseWriter, r *http.Request) {
	book := a.ownedBook(w, r)
	if book == nil {
		return
	}

	var req logRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	date := a.now()
	if req.Date != "" {
		parsed, err := time.Parse(dateLayout, req.Date)
		if err != nil {
			writeError(w, http.StatusBadRequest, "date must be YYYY-MM-DD")
			return
		}
		date = parsed
	}

	log := &store.ReadingLog{
		ID:     newID(),
		BookID: book.ID,
		UserID: currentUser(r).ID,
		Date:   date,
	}
	if err := a.store.CreateReadingLog(r.Context(), log); err != nil {
		if errors.Is(err, store.ErrDuplicateLog) {
			writeError(w, http.StatusConflict, "reading already logged for this date")
			return
		}
		a.logger.Error("creating reading log", "book_id", book.ID, "error", err)
		writeError(w, http.StatusInternalServerError, "log failed")
		return
	}

	writeJSON(w, http.StatusCreated, map[string]any{
		"id":      log.ID,
		"book_id": log.BookID,
		"date":    log.Date.Format(dateLayout),
	})
}

func (a *App) handleLogsList(w http.ResponseWriter, r *http.Request) {
	book := a.ownedBook(w, r)
	if book == nil {
		return
	}

	logs, err := a.store.ListLogsForBook(r.Context(), book.ID)
	if err != nil {
		a.logger.Error("listing reading logs", "book_id", book.ID, "error", err)
		writeError(w, http.StatusInternalServerError, "list failed")
		return
	}

	resp := make([]map[string]any, 0, len(logs))
	for _, l := range logs {
		resp = append(resp, map[string]any{"id": l.ID, "date": l.Date.Format(dateLayout)})
	}
	writeJSON(w, http.StatusOK, map[string]any{"logs": resp})
}

// handleDashboard returns the streak and shelf summary.
func (a *App) handleDashboard(w http.ResponseWriter, r *http.Request) {
	summary, err := a.stats.UserSummary(r.Context(), currentUser(r).ID)
	if err != nil {
		a.logger.Error("building dashboard", "error", err)
		writeError(w, http.StatusInternalServerError, "dashboard failed")
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

// bookResponse shapes a book for API output, rendering the markdown review.
func (a *App) bookResponse(b *store.Book) map[string]any {
	resp := map[string]any{
		"uid":          b.UID,
		"title":        b.Title,
		"author":       b.Author,
		"isbn":         b.ISBN,
		"cover_url":    b.CoverURL,
		"want_to_read": b.WantToRead,
		"library_only": b.LibraryOnly,
	}
	if b.StartDate != nil {
		resp["start_date"] = b.StartDate.Format(dateLayout)
	}
	if b.FinishDate != nil {
		resp["finish_date"] = b.FinishDate.Format(dateLayout)
	}
	if b.Description != "" {
		resp["description"] = b.Description
	}
	if b.PublishedDate != "" {
		resp["published_date"] = b.PublishedDate
	}
	if b.PageCount != 0 {
		resp["page_count"] = b.PageCount
	}
	if b.Categories != "" {
		resp["categories"] = b.Categories
	}
	if b.Publisher != "" {
		resp["publisher"] = b.Publisher
	}
	if b.Language != "" {
		resp["language"] = b.Language
	}
	if b.AverageRating != 0 {
		resp["average_rating"] = b.AverageRating
	}
	if b.RatingCount != 0 {
		resp["rating_count"] = b.RatingCount
	}
	if b.Review != "" {
		resp["review"] = b.Review
		var html bytes.Buffer
		if err := goldmark.Convert([]byte(b.Review), &html); err != nil {
			a.logger.Warn("rendering review markdown", "book_id", b.ID, "error", err)
		} else {
			resp["review_html"] = html.String()
		}
	}
	return resp
}

// shortUID returns the short public identifier used in book URLs.
func shortUID() string {
	return uuid.New().String()[:8]
}
