package tariffdays

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/linkybridge/linkybridge/internal/tariff"
)

// DefaultStatusURL is the EDF endpoint resolving a flex day's status.
const DefaultStatusURL = "https://particulier.edf.fr/services/rest/opm/getOPMStatut"

// Day-status kinds kept in the store.
const (
	KindTempo = "tempo"
	KindFlex  = "flex"
)

// remote status codes to local statuses; anything else maps to Unknown.
var statusCodes = map[string]string{
	"RAS":        tariff.StatusNormal,
	"ZENF_PM":    tariff.StatusSobriete,
	"ZENF_BONIF": tariff.StatusBonus,
}

// DayStore is the persistent day-status cache, keyed by kind and calendar
// date.
type DayStore interface {
	DayStatus(kind string, date time.Time) (string, error)
	SetDayStatus(kind string, date time.Time, status string) error
}

// Manager resolves day statuses for the dynamic tariffs: tempo colors from
// the store only (populated by the gateway sync), flex statuses read-through
// cached with a remote API fallback. It implements tariff.DayStatusSource.
type Manager struct {
	store    DayStore
	client   *http.Client
	url      string
	log      *slog.Logger
	lastDate string // memoizes the last resolved flex day across a stream walk
	lastStat string
}

// New builds a Manager. An empty statusURL selects the default endpoint.
func New(store DayStore, client *http.Client, statusURL string, log *slog.Logger) *Manager {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	if statusURL == "" {
		statusURL = DefaultStatusURL
	}
	return &Manager{store: store, client: client, url: statusURL, log: log}
}

// Color returns the tempo color of a commercial day. Colors are only ever
// written by the upstream sync, so a miss means the day cannot be priced.
func (m *Manager) Color(_ context.Context, date time.Time) (string, bool) {
	status, err := m.store.DayStatus(KindTempo, day(date))
	if err != nil {
		m.log.Error("reading tempo color", "date", date.Format("2006-01-02"), "error", err)
		return "", false
	}
	if status == "" {
		return "", false
	}
	return status, true
}

// SetColor caches a tempo color, normalized to day granularity.
func (m *Manager) SetColor(date time.Time, color string) error {
	return m.store.SetDayStatus(KindTempo, day(date), color)
}

// FlexStatus returns the flex status of a calendar day. Weekends and days
// outside the sobriety calendar are Normal without any lookup. Otherwise the
// store is consulted first and the remote API only on a miss; a resolved
// status is upserted so the next call is served locally. Remote failures
// return ("", false) and are never cached.
func (m *Manager) FlexStatus(ctx context.Context, date time.Time) (string, bool) {
	d := day(date)
	key := d.Format("2006-01-02")

	if IsWeekend(d) || !InSobrietyPeriod(d) {
		return tariff.StatusNormal, true
	}

	if key == m.lastDate && m.lastStat != "" {
		return m.lastStat, true
	}

	cached, err := m.store.DayStatus(KindFlex, d)
	if err != nil {
		m.log.Error("reading flex status", "date", key, "error", err)
	}
	if cached != "" && cached != tariff.StatusUnknown {
		m.lastDate, m.lastStat = key, cached
		return cached, true
	}

	status, err := m.fetch(ctx, d)
	if err != nil {
		m.log.Error("flex status lookup failed", "date", key, "error", err)
		return "", false
	}

	if err := m.store.SetDayStatus(KindFlex, d, status); err != nil {
		// Treated as not cached; the next lookup retries.
		m.log.Error("caching flex status", "date", key, "error", err)
	} else {
		m.log.Info("flex status resolved", "date", key, "status", status)
	}
	m.lastDate, m.lastStat = key, status
	return status, true
}

type statusResponse struct {
	Code string `json:"couleurJourJ"`
}

func (m *Manager) fetch(ctx context.Context, date time.Time) (string, error) {
	url := fmt.Sprintf("%s?dateRelevant=%s", m.url, date.Format("2006-01-02"))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", fmt.Errorf("creating request: %w", err)
	}

	resp, err := m.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("request error: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("HTTP error: status %d, response: %s", resp.StatusCode, string(body))
	}

	var parsed statusResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", fmt.Errorf("parsing response: %w", err)
	}

	status, ok := statusCodes[parsed.Code]
	if !ok {
		m.log.Warn("unrecognized day status code", "date", date.Format("2006-01-02"), "code", parsed.Code)
		return tariff.StatusUnknown, nil
	}
	return status, nil
}

// IsWeekend reports whether the date falls on Saturday or Sunday.
func IsWeekend(date time.Time) bool {
	wd := date.Weekday()
	return wd == time.Saturday || wd == time.Sunday
}

// InSobrietyPeriod reports whether the date falls in one of the two seasonal
// flex windows: Jan 1 - Apr 15 and Oct 15 - Dec 31.
func InSobrietyPeriod(date time.Time) bool {
	d := day(date)
	year := d.Year()
	winterEnd := time.Date(year, time.April, 15, 0, 0, 0, 0, d.Location())
	autumnStart := time.Date(year, time.October, 15, 0, 0, 0, 0, d.Location())
	return !d.After(winterEnd) || !d.Before(autumnStart)
}

func day(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}
