package aggregate

import (
	"context"
	"log/slog"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/linkybridge/linkybridge/internal/tariff"
	"github.com/linkybridge/linkybridge/pkg/models"
)

const dateFormat = "2006-01-02"

// key addresses one accumulator cell: a calendar window and the tariff
// bucket priced within it.
type key struct {
	window string
	bucket string
}

// sums is one accumulator cell. Cells only ever grow.
type sums struct {
	wh   float64
	euro float64
}

// span tracks the first and last reading timestamp seen in a window.
type span struct {
	first time.Time
	last  time.Time
}

// Engine walks an ordered reading stream once and accumulates four views of
// it: the whole-window total, per-month totals for the first calendar year
// seen, the first seven readings as a week view, and a live current-month
// total. Detail streams additionally split by tariff bucket.
type Engine struct {
	classifier *tariff.Classifier
	detail     bool // normalize slot values and classify with peak tags
	log        *slog.Logger
	now        func() time.Time
}

// New builds an engine. detail selects the sub-daily reading kind, whose
// stored values are rates that need interval normalization.
func New(classifier *tariff.Classifier, detail bool, log *slog.Logger) *Engine {
	return &Engine{classifier: classifier, detail: detail, log: log, now: time.Now}
}

// Result is the outcome of one aggregation pass, ready to flatten for
// export. It is discarded after use; repeated passes never share state.
type Result struct {
	Begin time.Time // requested window, not data-derived
	End   time.Time

	spans     map[string]*span
	cells     map[key]*sums
	weekDates map[string]time.Time // weekday name -> reading date
}

// Aggregate consumes readings ordered ascending by timestamp within
// [begin, end]. A reading whose classification fails contributes energy
// under the base bucket with zero cost and is logged; it never aborts the
// pass.
func (e *Engine) Aggregate(ctx context.Context, readings []models.Reading, begin, end time.Time) *Result {
	res := &Result{
		Begin:     begin,
		End:       end,
		spans:     make(map[string]*span),
		cells:     make(map[key]*sums),
		weekDates: make(map[string]time.Time),
	}

	now := e.now()
	firstYear := 0

	for idx, r := range readings {
		wh := r.Value
		if e.detail {
			wh = r.SlotWh()
		}

		bucket, price, err := e.classifier.Classify(ctx, r.Date, r.MeasureType)
		cost := wh / 1000 * price
		if err != nil {
			e.log.Error("classification failed, energy kept without cost",
				"date", r.Date.Format(dateFormat), "error", err)
			bucket = "base"
			cost = 0
		}

		res.add("thisYear", bucket, r.Date, wh, cost)

		// Month breakdown covers one calendar year per pass; callers slice
		// by year to get more.
		if firstYear == 0 {
			firstYear = r.Date.Year()
		}
		if r.Date.Year() == firstYear {
			res.add("months/"+r.Date.Format("01"), bucket, r.Date, wh, cost)
		}

		// The week view is the first seven readings of the stream, each
		// bucketed by its own date.
		if idx < 7 {
			res.touch("thisWeek", r.Date)
			weekday := r.Date.Weekday().String()
			res.add("thisWeek/"+weekday, bucket, r.Date, wh, cost)
			res.weekDates[weekday] = r.Date
		}

		if r.Date.Month() == now.Month() && r.Date.Year() == now.Year() {
			res.add("thisMonth", bucket, r.Date, wh, cost)
		}
	}

	return res
}

func (r *Result) touch(window string, date time.Time) {
	sp, ok := r.spans[window]
	if !ok {
		sp = &span{first: date}
		r.spans[window] = sp
	}
	sp.last = date
}

func (r *Result) add(window, bucket string, date time.Time, wh, euro float64) {
	r.touch(window, date)
	k := key{window: window, bucket: bucket}
	cell, ok := r.cells[k]
	if !ok {
		cell = &sums{}
		r.cells[k] = cell
	}
	cell.wh += wh
	cell.euro += euro
}

// Total returns the accumulated energy and cost for a window/bucket pair.
func (r *Result) Total(window, bucket string) (wh, euro float64, ok bool) {
	cell, ok := r.cells[key{window: window, bucket: bucket}]
	if !ok {
		return 0, 0, false
	}
	return cell.wh, cell.euro, true
}

// Span returns the first and last reading timestamps seen in a window.
func (r *Result) Span(window string) (first, last time.Time, ok bool) {
	sp, ok := r.spans[window]
	if !ok {
		return time.Time{}, time.Time{}, false
	}
	return sp.first, sp.last, true
}

// Mapping flattens the result into path-like keys ready for export:
// thisYear/base/kWh, months/07/hp/euro, thisWeek/Monday/base/Wh and the
// begin/end date markers of every window. An empty pass emits only the
// requested-window markers.
func (r *Result) Mapping() map[string]string {
	out := map[string]string{
		"dateBegin": r.Begin.Format(dateFormat),
		"dateEnd":   r.End.Format(dateFormat),
	}

	for window, sp := range r.spans {
		// Per-weekday windows carry a single date marker instead.
		if strings.HasPrefix(window, "thisWeek/") {
			continue
		}
		out[window+"/dateBegin"] = sp.first.Format(dateFormat)
		out[window+"/dateEnd"] = sp.last.Format(dateFormat)
	}

	for weekday, date := range r.weekDates {
		out["thisWeek/"+weekday+"/date"] = date.Format(dateFormat)
	}

	for k, cell := range r.cells {
		prefix := k.window + "/" + k.bucket
		out[prefix+"/Wh"] = formatNumber(cell.wh)
		out[prefix+"/kWh"] = formatNumber(round2(cell.wh / 1000))
		out[prefix+"/euro"] = formatNumber(round2(cell.euro))
	}

	return out
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

func formatNumber(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
