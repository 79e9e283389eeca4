// ABOUTME: Streak arithmetic tests over distinct descending log dates
// ABOUTME: Pins the ends-today rule and gap handling

package stats

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bibliotheca-app/bibliotheca/internal/store"
)

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func TestStreak(t *testing.T) {
	today := day(2025, 6, 10)

	tests := []struct {
		name  string
		dates []time.Time
		want  int
	}{
		{"no logs", nil, 0},
		{"logged today only", []time.Time{day(2025, 6, 10)}, 1},
		{"three consecutive days ending today", []time.Time{
			day(2025, 6, 10), day(2025, 6, 9), day(2025, 6, 8),
		}, 3},
		{"streak broken by gap", []time.Time{
			day(2025, 6, 10), day(2025, 6, 9), day(2025, 6, 7),
		}, 2},
		{"no log today means zero", []time.Time{
			day(2025, 6, 9), day(2025, 6, 8),
		}, 0},
		{"single old log", []time.Time{day(2025, 5, 1)}, 0},
		{"month boundary", []time.Time{
			day(2025, 6, 10), day(2025, 6, 9), day(2025, 6, 8), day(2025, 6, 7),
			day(2025, 6, 6), day(2025, 6, 5), day(2025, 6, 4), day(2025, 6, 3),
			day(2025, 6, 2), day(2025, 6, 1), day(2025, 5, 31), day(2025, 5, 30),
		}, 12},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Streak(tt.dates, today))
		})
	}
}

func TestStreakIgnoresTimeOfDay(t *testing.T) {
	today := time.Date(2025, 6, 10, 23, 45, 0, 0, time.UTC)
	dates := []time.Time{day(2025, 6, 10), day(2025, 6, 9)}
	assert.Equal(t, 2, Streak(dates, today))
}

type fakeReader struct {
	dates    []time.Time
	reading  []*store.Book
	finished []*store.Book
}

func (f *fakeReader) ListLogDates(context.Context, string) ([]time.Time, error) {
	return f.dates, nil
}

func (f *fakeReader) ListCurrentlyReading(context.Context, string) ([]*store.Book, error) {
	return f.reading, nil
}

func (f *fakeReader) ListFinishedInMonth(context.Context, string, int, time.Month) ([]*store.Book, error) {
	return f.finished, nil
}

func TestUserSummary(t *testing.T) {
	reader := &fakeReader{
		dates:    []time.Time{day(2025, 6, 10), day(2025, 6, 9)},
		reading:  []*store.Book{{ID: "b1", Title: "Dune"}},
		finished: []*store.Book{{ID: "b2", Title: "Hyperion"}},
	}
	svc := NewService(reader).WithClock(func() time.Time { return day(2025, 6, 10) })

	summary, err := svc.UserSummary(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, 2, summary.Streak)
	require.Len(t, summary.CurrentlyReading, 1)
	assert.Equal(t, "Dune", summary.CurrentlyReading[0].Title)
	require.Len(t, summary.FinishedThisMonth, 1)
}
