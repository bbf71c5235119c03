package export

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"strconv"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/linkybridge/linkybridge/internal/config"
	"github.com/linkybridge/linkybridge/internal/tariff"
	"github.com/linkybridge/linkybridge/pkg/models"
)

// pointWriter is the write surface of the InfluxDB client.
type pointWriter interface {
	WritePoint(ctx context.Context, point ...*write.Point) error
}

// pointCounter counts the points already stored for a usage point and
// measurement in a date range.
type pointCounter interface {
	Count(ctx context.Context, measurement, pointID string, begin, end time.Time) (int, error)
}

// influxStore is the slice of the cache the adapter reads.
type influxStore interface {
	DailyRange(pointID string, begin, end time.Time, direction string) ([]models.Reading, error)
	DetailRange(pointID string, begin, end time.Time, direction string) ([]models.Reading, error)
	DailyDateRange(pointID, direction string) (*models.DateRange, error)
	DetailDateRange(pointID, direction string) (*models.DateRange, error)
	CountDaily(pointID, direction string) (int, error)
	CountDetail(pointID, direction string) (int, error)
	DayStatuses(kind string) ([]models.DayStatus, error)
}

// Influx writes one tagged point per cached reading, skipping ranges whose
// stored point count already matches the cache.
type Influx struct {
	writer  pointWriter
	counter pointCounter
	store   influxStore
	log     *slog.Logger
}

// NewInflux builds the adapter over a real InfluxDB v2 client.
func NewInflux(cfg config.InfluxConfig, store influxStore, log *slog.Logger) *Influx {
	client := influxdb2.NewClient(cfg.URL, cfg.Token)
	return &Influx{
		writer:  client.WriteAPIBlocking(cfg.Org, cfg.Bucket),
		counter: &fluxCounter{query: client.QueryAPI(cfg.Org), bucket: cfg.Bucket},
		store:   store,
		log:     log,
	}
}

// ExportDaily writes the daily readings of one usage point and direction.
func (i *Influx) ExportDaily(ctx context.Context, point config.UsagePointConfig, direction string) error {
	rng, err := i.store.DailyDateRange(point.ID, direction)
	if err != nil {
		return fmt.Errorf("reading daily date range: %w", err)
	}
	if rng == nil {
		i.log.Info("no daily data", "usage_point", point.ID, "direction", direction)
		return nil
	}

	cached, err := i.store.CountDaily(point.ID, direction)
	if err != nil {
		return fmt.Errorf("counting cached readings: %w", err)
	}
	stored, err := i.counter.Count(ctx, direction, point.ID, rng.Begin, rng.End.Add(24*time.Hour))
	if err != nil {
		return fmt.Errorf("counting stored points: %w", err)
	}
	if stored == cached {
		i.log.Info("influxdb in sync, skipping daily export",
			"usage_point", point.ID, "direction", direction, "count", cached)
		return nil
	}
	i.log.Info("influxdb drift detected",
		"usage_point", point.ID, "direction", direction, "cache", cached, "influxdb", stored)

	price := point.PriceBase
	if direction == models.DirectionProduction {
		price = point.PriceProduction
	}

	readings, err := i.store.DailyRange(point.ID, rng.Begin, rng.End, direction)
	if err != nil {
		return fmt.Errorf("reading daily range: %w", err)
	}

	for _, r := range readings {
		wh := r.Value
		kwh := wh / 1000
		p := influxdb2.NewPoint(direction,
			map[string]string{
				"usage_point_id": point.ID,
				"year":           r.Date.Format("2006"),
				"month":          r.Date.Format("01"),
			},
			map[string]interface{}{
				"Wh":    wh,
				"kWh":   round5(kwh),
				"price": round5(kwh * price),
			},
			r.Date)
		if err := i.writer.WritePoint(ctx, p); err != nil {
			return fmt.Errorf("writing daily point: %w", err)
		}
	}

	i.log.Info("daily export done", "usage_point", point.ID, "points", len(readings))
	return nil
}

// ExportDetail writes the detail readings of one usage point and direction.
// classifier may be nil for production, priced flat at the production rate.
func (i *Influx) ExportDetail(ctx context.Context, point config.UsagePointConfig, classifier *tariff.Classifier, direction string) error {
	measurement := direction + "_detail"

	rng, err := i.store.DetailDateRange(point.ID, direction)
	if err != nil {
		return fmt.Errorf("reading detail date range: %w", err)
	}
	if rng == nil {
		i.log.Info("no detail data", "usage_point", point.ID, "direction", direction)
		return nil
	}

	cached, err := i.store.CountDetail(point.ID, direction)
	if err != nil {
		return fmt.Errorf("counting cached readings: %w", err)
	}
	stored, err := i.counter.Count(ctx, measurement, point.ID, rng.Begin, rng.End.Add(24*time.Hour))
	if err != nil {
		return fmt.Errorf("counting stored points: %w", err)
	}
	if stored == cached {
		i.log.Info("influxdb in sync, skipping detail export",
			"usage_point", point.ID, "direction", direction, "count", cached)
		return nil
	}
	i.log.Info("influxdb drift detected",
		"usage_point", point.ID, "direction", direction, "cache", cached, "influxdb", stored)

	readings, err := i.store.DetailRange(point.ID, rng.Begin, rng.End, direction)
	if err != nil {
		return fmt.Errorf("reading detail range: %w", err)
	}

	for _, r := range readings {
		wh := r.SlotWh()
		kwh := wh / 1000

		bucket := "base"
		var price float64
		if classifier == nil {
			price = point.PriceProduction
		} else {
			var cerr error
			bucket, price, cerr = classifier.Classify(ctx, r.Date, r.MeasureType)
			if cerr != nil {
				i.log.Error("classification failed, writing point without price",
					"usage_point", point.ID, "date", r.Date.Format("2006-01-02 15:04"), "error", cerr)
				bucket = "base"
				price = 0
			}
		}

		interval := r.Interval
		if interval == 0 {
			interval = 1
		}

		p := influxdb2.NewPoint(measurement,
			map[string]string{
				"usage_point_id": point.ID,
				"year":           r.Date.Format("2006"),
				"month":          r.Date.Format("01"),
				"measure_type":   bucket,
				"interval":       strconv.Itoa(interval),
			},
			map[string]interface{}{
				"W":     r.Value,
				"kW":    round5(r.Value / 1000),
				"Wh":    wh,
				"kWh":   round5(kwh),
				"price": round5(kwh * price),
			},
			r.Date)
		if err := i.writer.WritePoint(ctx, p); err != nil {
			return fmt.Errorf("writing detail point: %w", err)
		}
	}

	i.log.Info("detail export done", "usage_point", point.ID, "points", len(readings))
	return nil
}

// ExportTempo writes the cached tempo color calendar, one point per
// resolved day.
func (i *Influx) ExportTempo(ctx context.Context, point config.UsagePointConfig) error {
	days, err := i.store.DayStatuses("tempo")
	if err != nil {
		return fmt.Errorf("reading tempo days: %w", err)
	}
	if len(days) == 0 {
		i.log.Info("no tempo data", "usage_point", point.ID)
		return nil
	}

	for _, d := range days {
		p := influxdb2.NewPoint("tempo",
			map[string]string{
				"usage_point_id": point.ID,
			},
			map[string]interface{}{
				"color": d.Status,
			},
			d.Date)
		if err := i.writer.WritePoint(ctx, p); err != nil {
			return fmt.Errorf("writing tempo point: %w", err)
		}
	}

	i.log.Info("tempo export done", "usage_point", point.ID, "points", len(days))
	return nil
}

// fluxCounter counts points via a Flux aggregation; the per-series counts
// sum to the range total.
type fluxCounter struct {
	query  api.QueryAPI
	bucket string
}

func (c *fluxCounter) Count(ctx context.Context, measurement, pointID string, begin, end time.Time) (int, error) {
	flux := fmt.Sprintf(`
from(bucket: %q)
  |> range(start: %s, stop: %s)
  |> filter(fn: (r) => r._measurement == %q and r.usage_point_id == %q and r._field == "Wh")
  |> count()
`, c.bucket, begin.Format(time.RFC3339), end.Format(time.RFC3339), measurement, pointID)

	result, err := c.query.Query(ctx, flux)
	if err != nil {
		return 0, fmt.Errorf("querying point count: %w", err)
	}
	defer result.Close()

	total := 0
	for result.Next() {
		if v, ok := result.Record().Value().(int64); ok {
			total += int(v)
		}
	}
	if result.Err() != nil {
		return 0, fmt.Errorf("reading count result: %w", result.Err())
	}
	return total, nil
}

func round5(v float64) float64 {
	return math.Round(v*1e5) / 1e5
}
