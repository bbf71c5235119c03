package tariff

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
)

// tempoCutoverHour is the daily boundary of a tempo commercial day. A slot
// at or after 06:00 belongs to its own calendar date, earlier slots to the
// previous one.
const tempoCutoverHour = 6

// ErrNoColor is returned when a tempo day has no resolved color. The
// reading's energy still counts, its cost does not.
var ErrNoColor = errors.New("no tariff day color for date")

// DayStatusSource resolves the categorical day status a dynamic tariff
// needs: the tempo color of a commercial day, or the flex status of a
// calendar day.
type DayStatusSource interface {
	Color(ctx context.Context, date time.Time) (string, bool)
	FlexStatus(ctx context.Context, date time.Time) (string, bool)
}

// Classifier assigns each reading timestamp to a pricing bucket and the
// matching per-kWh price.
type Classifier struct {
	plan    Plan
	prices  Prices
	cutover time.Time // zero means flex rules always apply
	days    DayStatusSource
	log     *slog.Logger
}

// NewClassifier builds a classifier for one usage point. A malformed
// tariffChangeDate is logged and treated as unset, so the flex cutover is
// simply ignored.
func NewClassifier(plan Plan, prices Prices, tariffChangeDate string, days DayStatusSource, log *slog.Logger) *Classifier {
	var cutover time.Time
	if tariffChangeDate != "" {
		t, err := time.Parse("2006-01-02", tariffChangeDate)
		if err != nil {
			log.Error("invalid tariff_change_date, ignoring cutover", "value", tariffChangeDate, "error", err)
		} else {
			cutover = t
		}
	}
	return &Classifier{plan: plan, prices: prices, cutover: cutover, days: days, log: log}
}

// Classify returns the tariff bucket and per-kWh price for a timestamp.
// peakState is the reading's HC/HP tag; anything other than "HC" counts as
// peak. Only tempo classification can fail (missing day color); every other
// branch degrades to a fallback bucket.
func (c *Classifier) Classify(ctx context.Context, ts time.Time, peakState string) (string, float64, error) {
	peak := PeakHP
	if strings.EqualFold(peakState, PeakHC) {
		peak = PeakHC
	}

	switch c.plan {
	case PlanBase:
		return "base", c.prices.Base, nil

	case PlanPeakOffPeak:
		if peak == PeakHC {
			return "hc", c.prices.HC, nil
		}
		return "hp", c.prices.HP, nil

	case PlanTempo:
		day := CommercialDay(ts)
		color, ok := c.days.Color(ctx, day)
		if !ok {
			return "", 0, fmt.Errorf("%w: %s", ErrNoColor, day.Format("2006-01-02"))
		}
		bucket := strings.ToLower(color + peak)
		price, ok := c.prices.tempo(color, peak)
		if !ok {
			c.log.Error("no tempo price configured", "bucket", bucket)
			return bucket, 0, nil
		}
		return bucket, price, nil

	case PlanFlex:
		return c.classifyFlex(ctx, ts, peak)

	default:
		c.log.Error("unknown plan, pricing at zero", "plan", c.plan)
		return "base", 0, nil
	}
}

func (c *Classifier) classifyFlex(ctx context.Context, ts time.Time, peak string) (string, float64, error) {
	// Before the subscription switched over, everything was billed at the
	// base rate under the normal peak bucket.
	if !c.cutover.IsZero() && ts.Before(c.cutover) {
		return "normal_hp", c.prices.Base, nil
	}

	status, ok := c.days.FlexStatus(ctx, ts)
	if !ok || status == StatusUnknown {
		if !ok {
			c.log.Warn("flex day status unresolved, using normal rates", "date", ts.Format("2006-01-02"))
		}
		bucket := "normal_" + strings.ToLower(peak)
		price, _ := c.prices.flex(StatusNormal, peak)
		return bucket, price, nil
	}

	bucket := strings.ToLower(status) + "_" + strings.ToLower(peak)
	price, ok := c.prices.flex(status, peak)
	if !ok {
		c.log.Error("no flex price configured", "bucket", bucket)
		return bucket, 0, nil
	}
	return bucket, price, nil
}

// CommercialDay maps a timestamp to the tempo tariff day it belongs to.
// Tariff days start at 06:00, not midnight.
func CommercialDay(ts time.Time) time.Time {
	day := time.Date(ts.Year(), ts.Month(), ts.Day(), 0, 0, 0, 0, ts.Location())
	if ts.Hour() < tempoCutoverHour {
		day = day.AddDate(0, 0, -1)
	}
	return day
}
