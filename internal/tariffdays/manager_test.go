package tariffdays

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/linkybridge/linkybridge/internal/tariff"
)

// memStore is an in-memory DayStore.
type memStore struct {
	days map[string]string
}

func newMemStore() *memStore {
	return &memStore{days: make(map[string]string)}
}

func (s *memStore) key(kind string, date time.Time) string {
	return kind + "/" + date.Format("2006-01-02")
}

func (s *memStore) DayStatus(kind string, date time.Time) (string, error) {
	return s.days[s.key(kind, date)], nil
}

func (s *memStore) SetDayStatus(kind string, date time.Time, status string) error {
	s.days[s.key(kind, date)] = status
	return nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// statusServer serves a fixed day status code and counts requests.
func statusServer(t *testing.T, code string, calls *int) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		*calls++
		assert.NotEmpty(t, r.URL.Query().Get("dateRelevant"))
		fmt.Fprintf(w, `{"couleurJourJ": %q}`, code)
	}))
	t.Cleanup(srv.Close)
	return srv
}

// weekday inside the winter sobriety window.
var sobrietyDay = time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC) // a Monday

func TestFlexStatusWeekendIsNormalWithoutLookup(t *testing.T) {
	calls := 0
	srv := statusServer(t, "ZENF_PM", &calls)
	m := New(newMemStore(), srv.Client(), srv.URL, testLogger())

	saturday := time.Date(2024, 1, 13, 0, 0, 0, 0, time.UTC)
	status, ok := m.FlexStatus(context.Background(), saturday)
	require.True(t, ok)
	assert.Equal(t, tariff.StatusNormal, status)
	assert.Zero(t, calls)
}

func TestFlexStatusOutsideSobrietyPeriodIsNormal(t *testing.T) {
	calls := 0
	srv := statusServer(t, "ZENF_PM", &calls)
	m := New(newMemStore(), srv.Client(), srv.URL, testLogger())

	summer := time.Date(2024, 7, 10, 0, 0, 0, 0, time.UTC) // a Wednesday
	status, ok := m.FlexStatus(context.Background(), summer)
	require.True(t, ok)
	assert.Equal(t, tariff.StatusNormal, status)
	assert.Zero(t, calls)
}

func TestFlexStatusFetchesOncePerDay(t *testing.T) {
	calls := 0
	srv := statusServer(t, "ZENF_PM", &calls)
	store := newMemStore()
	m := New(store, srv.Client(), srv.URL, testLogger())

	// Half-hour slots of the same day resolve one remote call.
	for hour := 0; hour < 4; hour++ {
		status, ok := m.FlexStatus(context.Background(), sobrietyDay.Add(time.Duration(hour)*time.Hour))
		require.True(t, ok)
		assert.Equal(t, tariff.StatusSobriete, status)
	}
	assert.Equal(t, 1, calls)

	// The resolved status was persisted for the next run.
	cached, err := store.DayStatus(KindFlex, sobrietyDay)
	require.NoError(t, err)
	assert.Equal(t, tariff.StatusSobriete, cached)
}

func TestFlexStatusServedFromCache(t *testing.T) {
	calls := 0
	srv := statusServer(t, "ZENF_BONIF", &calls)
	store := newMemStore()
	require.NoError(t, store.SetDayStatus(KindFlex, sobrietyDay, tariff.StatusBonus))
	m := New(store, srv.Client(), srv.URL, testLogger())

	status, ok := m.FlexStatus(context.Background(), sobrietyDay)
	require.True(t, ok)
	assert.Equal(t, tariff.StatusBonus, status)
	assert.Zero(t, calls)
}

func TestFlexStatusUnknownCacheEntryIsRetried(t *testing.T) {
	calls := 0
	srv := statusServer(t, "RAS", &calls)
	store := newMemStore()
	require.NoError(t, store.SetDayStatus(KindFlex, sobrietyDay, tariff.StatusUnknown))
	m := New(store, srv.Client(), srv.URL, testLogger())

	status, ok := m.FlexStatus(context.Background(), sobrietyDay)
	require.True(t, ok)
	assert.Equal(t, tariff.StatusNormal, status)
	assert.Equal(t, 1, calls)
}

func TestFlexStatusUnrecognizedCodeIsUnknown(t *testing.T) {
	calls := 0
	srv := statusServer(t, "SOMETHING_NEW", &calls)
	store := newMemStore()
	m := New(store, srv.Client(), srv.URL, testLogger())

	status, ok := m.FlexStatus(context.Background(), sobrietyDay)
	require.True(t, ok)
	assert.Equal(t, tariff.StatusUnknown, status)

	// Unknown is stored, but never treated as final.
	cached, err := store.DayStatus(KindFlex, sobrietyDay)
	require.NoError(t, err)
	assert.Equal(t, tariff.StatusUnknown, cached)
}

func TestFlexStatusRemoteFailureIsNotCached(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	t.Cleanup(srv.Close)
	store := newMemStore()
	m := New(store, srv.Client(), srv.URL, testLogger())

	_, ok := m.FlexStatus(context.Background(), sobrietyDay)
	assert.False(t, ok)

	cached, err := store.DayStatus(KindFlex, sobrietyDay)
	require.NoError(t, err)
	assert.Empty(t, cached)
}

func TestColor(t *testing.T) {
	store := newMemStore()
	m := New(store, nil, "", testLogger())
	date := time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC)

	_, ok := m.Color(context.Background(), date)
	assert.False(t, ok)

	require.NoError(t, m.SetColor(date.Add(10*time.Hour), "WHITE")) // normalized to the day
	color, ok := m.Color(context.Background(), date)
	require.True(t, ok)
	assert.Equal(t, "WHITE", color)
}

func TestInSobrietyPeriod(t *testing.T) {
	tests := []struct {
		date string
		want bool
	}{
		{"2024-01-01", true},
		{"2024-04-15", true},
		{"2024-04-16", false},
		{"2024-07-01", false},
		{"2024-10-14", false},
		{"2024-10-15", true},
		{"2024-12-31", true},
	}
	for _, tt := range tests {
		d, err := time.Parse("2006-01-02", tt.date)
		require.NoError(t, err)
		assert.Equal(t, tt.want, InSobrietyPeriod(d), tt.date)
	}
}
