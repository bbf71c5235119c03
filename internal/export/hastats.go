package export

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/linkybridge/linkybridge/internal/config"
	"github.com/linkybridge/linkybridge/internal/tariff"
	"github.com/linkybridge/linkybridge/pkg/models"
)

// statisticsSource identifies series imported by this program.
const statisticsSource = "linkybridge"

// purgeSettingKey is the one-shot flag requesting a recorder purge before
// the next import. It is cleared once acted on.
const purgeSettingKey = "home_assistant_ws.purge"

// statisticsAPI is the recorder surface of the Home Assistant client.
type statisticsAPI interface {
	ListStatisticIDs(prefix string) ([]string, error)
	ClearStatistics(ids []string) error
	StatisticsCount(ids []string, begin, end time.Time) (int, error)
	ImportStatistics(meta StatMetadata, stats []StatPoint) error
}

// statsStore is the slice of the cache the importer reads.
type statsStore interface {
	DetailRange(pointID string, begin, end time.Time, direction string) ([]models.Reading, error)
	DetailDateRange(pointID, direction string) (*models.DateRange, error)
	Setting(key string) (string, error)
	SetSetting(key, value string) error
}

// HAStats imports cached detail readings into the Home Assistant recorder
// as cumulative hourly statistics, one kWh and one cost series per tariff
// bucket.
type HAStats struct {
	client    statisticsAPI
	store     statsStore
	batchSize int
	purge     bool
	maxDate   time.Time
	now       func() time.Time
	log       *slog.Logger
}

// NewHAStats builds the importer. The purge flag from config is honored
// once and then reset in the settings store. A malformed max_date is
// logged and ignored.
func NewHAStats(client statisticsAPI, store statsStore, cfg config.HAWSConfig, log *slog.Logger) *HAStats {
	var maxDate time.Time
	if cfg.MaxDate != "" {
		parsed, err := time.Parse("2006-01-02", cfg.MaxDate)
		if err != nil {
			log.Error("ignoring malformed max_date", "value", cfg.MaxDate, "error", err)
		} else {
			maxDate = parsed
		}
	}
	return &HAStats{
		client:    client,
		store:     store,
		batchSize: cfg.GetBatchSize(),
		purge:     cfg.Purge,
		maxDate:   maxDate,
		now:       time.Now,
		log:       log,
	}
}

// series accumulates one statistic id's points in stream order. State sums
// readings landing in the same hour; Sum carries the series running total.
type series struct {
	name    string
	points  []StatPoint
	sum     float64
	lastKey string
}

func (s *series) add(start time.Time, v float64) {
	key := start.Format(time.RFC3339)
	s.sum += v
	if key == s.lastKey && len(s.points) > 0 {
		p := &s.points[len(s.points)-1]
		p.State += v
		p.Sum = s.sum
		return
	}
	s.lastKey = key
	s.points = append(s.points, StatPoint{Start: key, State: v, Sum: s.sum})
}

// Import pushes one usage point's detail readings for one direction.
// classifier may be nil for production, which is priced flat at the
// production rate. When the recorder already holds every hourly point the
// import would produce, the import is skipped entirely, unless a purge is
// pending.
func (h *HAStats) Import(ctx context.Context, point config.UsagePointConfig, classifier *tariff.Classifier, direction string) error {
	rng, err := h.store.DetailDateRange(point.ID, direction)
	if err != nil {
		return fmt.Errorf("reading detail date range: %w", err)
	}
	if rng == nil {
		h.log.Info("no detail data to import", "usage_point", point.ID, "direction", direction)
		return nil
	}

	begin := rng.Begin
	if !h.maxDate.IsZero() && begin.Before(h.maxDate) {
		h.log.Info("limiting import to max_date",
			"usage_point", point.ID, "max_date", h.maxDate.Format("2006-01-02"))
		begin = h.maxDate
	}

	readings, err := h.store.DetailRange(point.ID, begin, rng.End, direction)
	if err != nil {
		return fmt.Errorf("reading detail range: %w", err)
	}

	kwh, cost := h.buildSeries(ctx, point, classifier, direction, readings)

	ids := make([]string, 0, len(kwh))
	built := 0
	for id, s := range kwh {
		ids = append(ids, id)
		built += len(s.points)
	}

	stored, err := h.store.Setting(purgeSettingKey)
	if err != nil {
		return fmt.Errorf("reading purge flag: %w", err)
	}
	purge := h.purge || stored == "true"

	// Drift detection: the recorder holding exactly the hourly points this
	// import would build means it is in sync and re-importing is a no-op.
	// A pending purge always overrides the skip, since the purge empties
	// the recorder and the series must be rebuilt.
	recorded, err := h.client.StatisticsCount(ids, hourStart(begin), h.now())
	if err != nil {
		return fmt.Errorf("counting recorder statistics: %w", err)
	}
	if !purge && recorded == built {
		h.log.Info("recorder in sync, skipping import",
			"usage_point", point.ID, "direction", direction, "points", built)
		return nil
	}

	if purge {
		if err := h.runPurge(point.ID); err != nil {
			return err
		}
	} else {
		h.log.Info("recorder drift detected",
			"usage_point", point.ID, "direction", direction, "expected", built, "recorder", recorded)
	}

	for id, s := range kwh {
		if err := h.importSeries(id, s, "kWh"); err != nil {
			return err
		}
	}
	for id, s := range cost {
		if err := h.importSeries(id, s, "EURO"); err != nil {
			return err
		}
	}
	return nil
}

// buildSeries classifies every reading and folds it into per-bucket kWh and
// cost series keyed by statistic id.
func (h *HAStats) buildSeries(ctx context.Context, point config.UsagePointConfig, classifier *tariff.Classifier, direction string, readings []models.Reading) (kwh, cost map[string]*series) {
	kwh = make(map[string]*series)
	cost = make(map[string]*series)

	costSuffix := "_cost"
	if direction == models.DirectionProduction {
		costSuffix = "_revenue"
	}

	lastDay := time.Time{}
	for _, r := range readings {
		wh := r.SlotWh()

		var bucket string
		var price float64
		if classifier == nil {
			bucket = direction
			price = point.PriceProduction
		} else {
			var err error
			bucket, price, err = classifier.Classify(ctx, r.Date, r.MeasureType)
			if err != nil {
				h.log.Error("import classification failed, reading skipped from cost",
					"usage_point", point.ID, "date", r.Date.Format("2006-01-02 15:04"), "error", err)
				bucket = "base"
				price = 0
			}
			bucket = bucket + "_" + direction
		}

		euro := wh / 1000 * price

		// The monthly standing charge lands on the first slot of each day.
		if classifier != nil && point.MonthlyCharge > 0 {
			day := time.Date(r.Date.Year(), r.Date.Month(), r.Date.Day(), 0, 0, 0, 0, r.Date.Location())
			if !day.Equal(lastDay) {
				euro += point.MonthlyCharge / float64(daysInMonth(r.Date))
				lastDay = day
			}
		}

		id := fmt.Sprintf("%s:%s_%s", statisticsSource, point.ID, bucket)
		name := fmt.Sprintf("LinkyBridge - %s %s", point.ID, bucket)
		hour := hourStart(r.Date)

		ks, ok := kwh[id]
		if !ok {
			ks = &series{name: name}
			kwh[id] = ks
		}
		ks.add(hour, wh/1000)

		cs, ok := cost[id+costSuffix]
		if !ok {
			cs = &series{name: name + " Cost"}
			cost[id+costSuffix] = cs
		}
		cs.add(hour, euro)
	}

	return kwh, cost
}

// runPurge clears previously imported series, then resets the one-shot
// flag so the next run imports normally.
func (h *HAStats) runPurge(pointID string) error {
	h.log.Info("purging previously imported statistics", "usage_point", pointID)
	ids, err := h.client.ListStatisticIDs(fmt.Sprintf("%s:%s", statisticsSource, pointID))
	if err != nil {
		return fmt.Errorf("listing statistic ids: %w", err)
	}
	if len(ids) > 0 {
		if err := h.client.ClearStatistics(ids); err != nil {
			return fmt.Errorf("clearing statistics: %w", err)
		}
	}

	h.purge = false
	if err := h.store.SetSetting(purgeSettingKey, "false"); err != nil {
		return fmt.Errorf("resetting purge flag: %w", err)
	}
	return nil
}

func (h *HAStats) importSeries(id string, s *series, unit string) error {
	meta := StatMetadata{
		HasMean:           false,
		HasSum:            true,
		Name:              s.name,
		Source:            statisticsSource,
		StatisticID:       id,
		UnitOfMeasurement: unit,
	}

	chunks := chunkPoints(s.points, h.batchSize)
	for i, chunk := range chunks {
		h.log.Info("importing statistics chunk",
			"statistic_id", id,
			"from", chunk[0].Start,
			"to", chunk[len(chunk)-1].Start,
			"chunk", fmt.Sprintf("%d/%d", i+1, len(chunks)))
		if err := h.client.ImportStatistics(meta, chunk); err != nil {
			return fmt.Errorf("importing chunk %d of %s: %w", i+1, id, err)
		}
	}
	return nil
}

func chunkPoints(points []StatPoint, size int) [][]StatPoint {
	var chunks [][]StatPoint
	for len(points) > size {
		chunks = append(chunks, points[:size])
		points = points[size:]
	}
	if len(points) > 0 {
		chunks = append(chunks, points)
	}
	return chunks
}

func hourStart(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), 0, 0, 0, t.Location())
}

func daysInMonth(t time.Time) int {
	return time.Date(t.Year(), t.Month()+1, 0, 0, 0, 0, 0, t.Location()).Day()
}
