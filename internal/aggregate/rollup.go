package aggregate

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/linkybridge/linkybridge/pkg/models"
)

// Reader is the slice of the cache the rollup drivers consume.
type Reader interface {
	DailyRange(pointID string, begin, end time.Time, direction string) ([]models.Reading, error)
	DetailRange(pointID string, begin, end time.Time, direction string) ([]models.Reading, error)
	DailyDateRange(pointID, direction string) (*models.DateRange, error)
	DetailDateRange(pointID, direction string) (*models.DateRange, error)
}

// Publisher receives one flattened window under a topic prefix.
type Publisher interface {
	PublishMultiple(prefix string, data map[string]string) error
}

// Rollup walks the full cached date range of a usage point in calendar
// windows and hands each aggregated window to a publisher. It holds no
// aggregation logic of its own.
type Rollup struct {
	reader    Reader
	publisher Publisher
	daily     *Engine // flat-rate pass over daily readings
	detail    *Engine // plan-aware pass over detail readings
	pointID   string
	direction string
	log       *slog.Logger
}

// NewRollup builds a rollup driver for one usage point and direction.
// Either engine may be nil to skip that data kind.
func NewRollup(reader Reader, publisher Publisher, daily, detail *Engine, pointID, direction string, log *slog.Logger) *Rollup {
	return &Rollup{
		reader:    reader,
		publisher: publisher,
		daily:     daily,
		detail:    detail,
		pointID:   pointID,
		direction: direction,
		log:       log,
	}
}

// Annual aggregates calendar-year-aligned windows from the newest year back
// to the dataset's first reading, clamping the oldest window's begin.
func (r *Rollup) Annual(ctx context.Context) error {
	r.log.Info("generating annual windows", "usage_point", r.pointID, "direction", r.direction)
	return r.eachKind(ctx, func(ctx context.Context, kind string, eng *Engine, rng models.DateRange) error {
		first := dayStart(rng.Begin)
		end := dayEnd(rng.End)
		year := end.Year()

		for {
			begin := time.Date(year, time.January, 1, 0, 0, 0, 0, end.Location())
			last := !begin.After(first)
			if begin.Before(first) {
				begin = first
			}

			prefix := r.topicPrefix(kind, fmt.Sprintf("annual/%d", year))
			if err := r.window(ctx, kind, eng, begin, end, prefix); err != nil {
				return err
			}

			if last {
				return nil
			}
			year--
			end = time.Date(year, time.December, 31, 23, 59, 59, 0, end.Location())
		}
	})
}

// Linear aggregates trailing one-year windows walking back from the
// dataset's last reading, clamping the oldest window's begin.
func (r *Rollup) Linear(ctx context.Context) error {
	r.log.Info("generating linear windows", "usage_point", r.pointID, "direction", r.direction)
	return r.eachKind(ctx, func(ctx context.Context, kind string, eng *Engine, rng models.DateRange) error {
		first := dayStart(rng.Begin)
		end := dayEnd(rng.End)
		begin := end.AddDate(-1, 0, 0)

		for idx := 0; ; idx++ {
			if begin.Before(first) {
				begin = first
			}
			key := "year"
			if idx > 0 {
				key = fmt.Sprintf("year-%d", idx)
			}

			prefix := r.topicPrefix(kind, "linear/"+key)
			if err := r.window(ctx, kind, eng, begin, end, prefix); err != nil {
				return err
			}

			if !begin.After(first) {
				return nil
			}
			end = end.AddDate(-1, 0, 0)
			begin = begin.AddDate(-1, 0, 0)
		}
	})
}

// topicPrefix scopes a window under the usage point and direction; detail
// windows get their own segment so they never collide with daily ones.
func (r *Rollup) topicPrefix(kind, window string) string {
	if kind == "detail" {
		return fmt.Sprintf("%s/%s/detail/%s", r.pointID, r.direction, window)
	}
	return fmt.Sprintf("%s/%s/%s", r.pointID, r.direction, window)
}

type kindFunc func(ctx context.Context, kind string, eng *Engine, rng models.DateRange) error

// eachKind runs a traversal for the daily and detail data kinds, whichever
// are configured. A kind with no cached data is skipped quietly.
func (r *Rollup) eachKind(ctx context.Context, fn kindFunc) error {
	if r.daily != nil {
		rng, err := r.reader.DailyDateRange(r.pointID, r.direction)
		if err != nil {
			return fmt.Errorf("reading daily date range: %w", err)
		}
		if rng == nil {
			r.log.Info("no daily data", "usage_point", r.pointID)
		} else if err := fn(ctx, "daily", r.daily, *rng); err != nil {
			return err
		}
	}

	if r.detail != nil {
		rng, err := r.reader.DetailDateRange(r.pointID, r.direction)
		if err != nil {
			return fmt.Errorf("reading detail date range: %w", err)
		}
		if rng == nil {
			r.log.Info("no detail data", "usage_point", r.pointID)
		} else if err := fn(ctx, "detail", r.detail, *rng); err != nil {
			return err
		}
	}

	return nil
}

func (r *Rollup) window(ctx context.Context, kind string, eng *Engine, begin, end time.Time, prefix string) error {
	r.log.Info("aggregating window",
		"prefix", prefix,
		"kind", kind,
		"begin", begin.Format(dateFormat),
		"end", end.Format(dateFormat))

	var (
		readings []models.Reading
		err      error
	)
	if kind == "daily" {
		readings, err = r.reader.DailyRange(r.pointID, begin, end, r.direction)
	} else {
		readings, err = r.reader.DetailRange(r.pointID, begin, end, r.direction)
	}
	if err != nil {
		return fmt.Errorf("reading %s range: %w", kind, err)
	}

	res := eng.Aggregate(ctx, readings, begin, end)
	if err := r.publisher.PublishMultiple(prefix, res.Mapping()); err != nil {
		return fmt.Errorf("publishing window %s: %w", prefix, err)
	}
	return nil
}

func dayStart(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}

func dayEnd(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 23, 59, 59, 0, t.Location())
}
