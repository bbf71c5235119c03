package store

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/linkybridge/linkybridge/pkg/models"
	_ "modernc.org/sqlite"
)

const (
	dateFormat = "2006-01-02"
	timeFormat = "2006-01-02 15:04:05"
)

// Store wraps the sqlite cache shared by all usage points. It holds the
// readings pulled from the metering gateway, the day-status cache used by
// the dynamic tariffs, and a small settings table.
type Store struct {
	conn *sql.DB
}

// New opens the database and initializes the schema.
func New(dbPath string) (*Store, error) {
	conn, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	s := &Store{conn: conn}
	if err := s.initSchema(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("initializing schema: %w", err)
	}

	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.conn.Close()
}

func (s *Store) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS daily_readings (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		usage_point_id TEXT NOT NULL,
		date TEXT NOT NULL,
		value REAL NOT NULL,
		direction TEXT NOT NULL DEFAULT 'consumption',
		UNIQUE(usage_point_id, date, direction)
	);
	CREATE TABLE IF NOT EXISTS detail_readings (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		usage_point_id TEXT NOT NULL,
		date TEXT NOT NULL,
		value REAL NOT NULL,
		interval INTEGER NOT NULL DEFAULT 0,
		measure_type TEXT,
		direction TEXT NOT NULL DEFAULT 'consumption',
		UNIQUE(usage_point_id, date, direction)
	);
	CREATE TABLE IF NOT EXISTS day_status (
		kind TEXT NOT NULL,
		date TEXT NOT NULL,
		status TEXT NOT NULL,
		PRIMARY KEY(kind, date)
	);
	CREATE TABLE IF NOT EXISTS settings (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_daily_point_date ON daily_readings(usage_point_id, direction, date);
	CREATE INDEX IF NOT EXISTS idx_detail_point_date ON detail_readings(usage_point_id, direction, date);
	`

	_, err := s.conn.Exec(schema)
	return err
}

// InsertDaily inserts a daily reading, ignoring duplicates.
func (s *Store) InsertDaily(pointID string, r models.Reading) error {
	query := `
	INSERT OR IGNORE INTO daily_readings (usage_point_id, date, value, direction)
	VALUES (?, ?, ?, ?)
	`
	direction := r.Direction
	if direction == "" {
		direction = models.DirectionConsumption
	}
	if _, err := s.conn.Exec(query, pointID, r.Date.Format(timeFormat), r.Value, direction); err != nil {
		return fmt.Errorf("inserting daily reading: %w", err)
	}
	return nil
}

// InsertDetail inserts a detail reading, ignoring duplicates.
func (s *Store) InsertDetail(pointID string, r models.Reading) error {
	query := `
	INSERT OR IGNORE INTO detail_readings (usage_point_id, date, value, interval, measure_type, direction)
	VALUES (?, ?, ?, ?, ?, ?)
	`
	direction := r.Direction
	if direction == "" {
		direction = models.DirectionConsumption
	}
	if _, err := s.conn.Exec(query, pointID, r.Date.Format(timeFormat), r.Value, r.Interval, r.MeasureType, direction); err != nil {
		return fmt.Errorf("inserting detail reading: %w", err)
	}
	return nil
}

// DailyRange returns daily readings in [begin, end], ascending by date.
func (s *Store) DailyRange(pointID string, begin, end time.Time, direction string) ([]models.Reading, error) {
	query := `
	SELECT id, date, value, direction
	FROM daily_readings
	WHERE usage_point_id = ? AND direction = ? AND date >= ? AND date <= ?
	ORDER BY date ASC
	`

	rows, err := s.conn.Query(query, pointID, direction, begin.Format(timeFormat), end.Format(timeFormat))
	if err != nil {
		return nil, fmt.Errorf("querying daily readings: %w", err)
	}
	defer rows.Close()

	var results []models.Reading
	for rows.Next() {
		var r models.Reading
		var dateStr string
		if err := rows.Scan(&r.ID, &dateStr, &r.Value, &r.Direction); err != nil {
			return nil, fmt.Errorf("scanning row: %w", err)
		}
		r.Date, err = time.Parse(timeFormat, dateStr)
		if err != nil {
			return nil, fmt.Errorf("parsing date: %w", err)
		}
		results = append(results, r)
	}

	return results, rows.Err()
}

// DetailRange returns detail readings in [begin, end], ascending by date.
func (s *Store) DetailRange(pointID string, begin, end time.Time, direction string) ([]models.Reading, error) {
	query := `
	SELECT id, date, value, interval, measure_type, direction
	FROM detail_readings
	WHERE usage_point_id = ? AND direction = ? AND date >= ? AND date <= ?
	ORDER BY date ASC
	`

	rows, err := s.conn.Query(query, pointID, direction, begin.Format(timeFormat), end.Format(timeFormat))
	if err != nil {
		return nil, fmt.Errorf("querying detail readings: %w", err)
	}
	defer rows.Close()

	var results []models.Reading
	for rows.Next() {
		var r models.Reading
		var dateStr string
		var measureType sql.NullString
		if err := rows.Scan(&r.ID, &dateStr, &r.Value, &r.Interval, &measureType, &r.Direction); err != nil {
			return nil, fmt.Errorf("scanning row: %w", err)
		}
		r.Date, err = time.Parse(timeFormat, dateStr)
		if err != nil {
			return nil, fmt.Errorf("parsing date: %w", err)
		}
		r.MeasureType = measureType.String
		results = append(results, r)
	}

	return results, rows.Err()
}

// DailyDateRange returns the first and last daily reading dates for a usage
// point, or nil when the cache holds no data.
func (s *Store) DailyDateRange(pointID, direction string) (*models.DateRange, error) {
	return s.dateRange("daily_readings", pointID, direction)
}

// DetailDateRange returns the first and last detail reading dates for a
// usage point, or nil when the cache holds no data.
func (s *Store) DetailDateRange(pointID, direction string) (*models.DateRange, error) {
	return s.dateRange("detail_readings", pointID, direction)
}

func (s *Store) dateRange(table, pointID, direction string) (*models.DateRange, error) {
	query := fmt.Sprintf(`
	SELECT MIN(date), MAX(date)
	FROM %s
	WHERE usage_point_id = ? AND direction = ?
	`, table)

	var minStr, maxStr sql.NullString
	if err := s.conn.QueryRow(query, pointID, direction).Scan(&minStr, &maxStr); err != nil {
		return nil, fmt.Errorf("querying date range: %w", err)
	}
	if !minStr.Valid || !maxStr.Valid {
		return nil, nil
	}

	begin, err := time.Parse(timeFormat, minStr.String)
	if err != nil {
		return nil, fmt.Errorf("parsing begin date: %w", err)
	}
	end, err := time.Parse(timeFormat, maxStr.String)
	if err != nil {
		return nil, fmt.Errorf("parsing end date: %w", err)
	}
	return &models.DateRange{Begin: begin, End: end}, nil
}

// CountDaily returns the number of cached daily readings for a usage point.
func (s *Store) CountDaily(pointID, direction string) (int, error) {
	return s.count("daily_readings", pointID, direction)
}

// CountDetail returns the number of cached detail readings for a usage point.
func (s *Store) CountDetail(pointID, direction string) (int, error) {
	return s.count("detail_readings", pointID, direction)
}

func (s *Store) count(table, pointID, direction string) (int, error) {
	query := fmt.Sprintf(`SELECT COUNT(*) FROM %s WHERE usage_point_id = ? AND direction = ?`, table)
	var n int
	if err := s.conn.QueryRow(query, pointID, direction).Scan(&n); err != nil {
		return 0, fmt.Errorf("counting readings: %w", err)
	}
	return n, nil
}

// DayStatus returns the cached status for a calendar day, or "" when the
// day has never been resolved. The time of day is discarded so distinct
// timestamps on the same day share one entry.
func (s *Store) DayStatus(kind string, date time.Time) (string, error) {
	query := `SELECT status FROM day_status WHERE kind = ? AND date = ?`
	var status string
	err := s.conn.QueryRow(query, kind, date.Format(dateFormat)).Scan(&status)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("querying day status: %w", err)
	}
	return status, nil
}

// SetDayStatus upserts the status for a calendar day. The write is a single
// atomic statement so concurrent resolutions of the same date cannot race
// into a duplicate-key failure.
func (s *Store) SetDayStatus(kind string, date time.Time, status string) error {
	query := `
	INSERT INTO day_status (kind, date, status) VALUES (?, ?, ?)
	ON CONFLICT(kind, date) DO UPDATE SET status = excluded.status
	`
	if _, err := s.conn.Exec(query, kind, date.Format(dateFormat), status); err != nil {
		return fmt.Errorf("upserting day status: %w", err)
	}
	return nil
}

// DayStatuses returns every cached day status of one kind, ascending by date.
func (s *Store) DayStatuses(kind string) ([]models.DayStatus, error) {
	query := `SELECT date, status FROM day_status WHERE kind = ? ORDER BY date ASC`
	rows, err := s.conn.Query(query, kind)
	if err != nil {
		return nil, fmt.Errorf("querying day statuses: %w", err)
	}
	defer rows.Close()

	var results []models.DayStatus
	for rows.Next() {
		var d models.DayStatus
		var dateStr string
		if err := rows.Scan(&dateStr, &d.Status); err != nil {
			return nil, fmt.Errorf("scanning row: %w", err)
		}
		d.Date, err = time.Parse(dateFormat, dateStr)
		if err != nil {
			return nil, fmt.Errorf("parsing date: %w", err)
		}
		results = append(results, d)
	}

	return results, rows.Err()
}

// Setting returns a settings value, or "" when unset.
func (s *Store) Setting(key string) (string, error) {
	query := `SELECT value FROM settings WHERE key = ?`
	var value string
	err := s.conn.QueryRow(query, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("querying setting: %w", err)
	}
	return value, nil
}

// SetSetting upserts a settings value.
func (s *Store) SetSetting(key, value string) error {
	query := `
	INSERT INTO settings (key, value) VALUES (?, ?)
	ON CONFLICT(key) DO UPDATE SET value = excluded.value
	`
	if _, err := s.conn.Exec(query, key, value); err != nil {
		return fmt.Errorf("upserting setting: %w", err)
	}
	return nil
}
