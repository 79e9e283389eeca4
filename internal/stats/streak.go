// ABOUTME: Reading streak and dashboard statistics
// ABOUTME: Pure date arithmetic over distinct reading-log dates

package stats

import (
	"context"
	"log/slog"
	"time"

	"github.com/bibliotheca-app/bibliotheca/internal/store"
)

// Streak counts consecutive days with at least one reading log, ending today.
// dates must be distinct calendar days in descending order, as returned by
// the store. A missing entry for today means the streak is zero; yesterday's
// reading does not carry over.
func Streak(dates []time.Time, today time.Time) int {
	today = truncateDay(today)

	streak := 0
	expected := today
	for _, d := range dates {
		if !truncateDay(d).Equal(expected) {
			break
		}
		streak++
		expected = expected.AddDate(0, 0, -1)
	}
	return streak
}

func truncateDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// Summary is the per-user dashboard payload.
type Summary struct {
	Streak            int           `json:"streak"`
	CurrentlyReading  []*store.Book `json:"currently_reading"`
	FinishedThisMonth []*store.Book `json:"finished_this_month"`
}

// Reader is the slice of the store the stats service needs.
type Reader interface {
	ListLogDates(ctx context.Context, userID string) ([]time.Time, error)
	ListCurrentlyReading(ctx context.Context, userID string) ([]*store.Book, error)
	ListFinishedInMonth(ctx context.Context, userID string, year int, month time.Month) ([]*store.Book, error)
}

// Service computes reading statistics for users.
type Service struct {
	store  Reader
	logger *slog.Logger
	now    func() time.Time
}

// NewService creates a stats service over a store handle.
func NewService(s Reader) *Service {
	return &Service{
		store:  s,
		logger: slog.Default().With("component", "stats"),
		now:    time.Now,
	}
}

// WithClock overrides the time source. Intended for tests.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// UserStreak returns the user's current reading streak in days.
func (s *Service) UserStreak(ctx context.Context, userID string) (int, error) {
	dates, err := s.store.ListLogDates(ctx, userID)
	if err != nil {
		return 0, err
	}
	return Streak(dates, s.now()), nil
}

// UserSummary assembles the dashboard payload for a user. Partial failures
// degrade to empty sections rather than failing the whole dashboard.
func (s *Service) UserSummary(ctx context.Context, userID string) (*Summary, error) {
	streak, err := s.UserStreak(ctx, userID)
	if err != nil {
		return nil, err
	}

	now := s.now()
	summary := &Summary{Streak: streak}

	if reading, err := s.store.ListCurrentlyReading(ctx, userID); err != nil {
		s.logger.Warn("listing currently reading failed", "user_id", userID, "error", err)
	} else {
		summary.CurrentlyReading = reading
	}

	if finished, err := s.store.ListFinishedInMonth(ctx, userID, now.Year(), now.Month()); err != nil {
		s.logger.Warn("listing finished books failed", "user_id", userID, "error", err)
	} else {
		summary.FinishedThisMonth = finished
	}

	return summary, nil
}
