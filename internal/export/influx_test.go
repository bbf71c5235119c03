package export

import (
	"context"
	"testing"
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/linkybridge/linkybridge/internal/config"
	"github.com/linkybridge/linkybridge/pkg/models"
)

type fakePointWriter struct {
	points []*write.Point
}

func (f *fakePointWriter) WritePoint(_ context.Context, points ...*write.Point) error {
	f.points = append(f.points, points...)
	return nil
}

type fakePointCounter struct {
	count        int
	measurements []string
}

func (f *fakePointCounter) Count(_ context.Context, measurement, _ string, _, _ time.Time) (int, error) {
	f.measurements = append(f.measurements, measurement)
	return f.count, nil
}

func newTestInflux(store *fakeCache, counter *fakePointCounter) (*Influx, *fakePointWriter) {
	writer := &fakePointWriter{}
	return &Influx{writer: writer, counter: counter, store: store, log: testLogger()}, writer
}

func fieldValue(t *testing.T, p *write.Point, key string) interface{} {
	t.Helper()
	for _, f := range p.FieldList() {
		if f.Key == key {
			return f.Value
		}
	}
	t.Fatalf("field %q not found", key)
	return nil
}

func tagValue(t *testing.T, p *write.Point, key string) string {
	t.Helper()
	for _, tag := range p.TagList() {
		if tag.Key == key {
			return tag.Value
		}
	}
	t.Fatalf("tag %q not found", key)
	return ""
}

func TestExportDailySkipsWhenInSync(t *testing.T) {
	store := newFakeCache()
	store.daily = []models.Reading{
		{Date: time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC), Value: 1000},
	}
	influx, writer := newTestInflux(store, &fakePointCounter{count: 1})

	err := influx.ExportDaily(context.Background(), config.UsagePointConfig{ID: "pdl1"}, models.DirectionConsumption)
	require.NoError(t, err)
	assert.Empty(t, writer.points)
}

func TestExportDailyWritesPoints(t *testing.T) {
	store := newFakeCache()
	store.daily = []models.Reading{
		{Date: time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC), Value: 1000},
		{Date: time.Date(2024, 4, 2, 0, 0, 0, 0, time.UTC), Value: 2500},
	}
	counter := &fakePointCounter{count: 0}
	influx, writer := newTestInflux(store, counter)

	point := config.UsagePointConfig{ID: "pdl1", PriceBase: 0.2}
	err := influx.ExportDaily(context.Background(), point, models.DirectionConsumption)
	require.NoError(t, err)

	assert.Equal(t, []string{"consumption"}, counter.measurements)
	require.Len(t, writer.points, 2)

	p := writer.points[0]
	assert.Equal(t, "consumption", p.Name())
	assert.Equal(t, "pdl1", tagValue(t, p, "usage_point_id"))
	assert.Equal(t, "2024", tagValue(t, p, "year"))
	assert.Equal(t, "03", tagValue(t, p, "month"))
	assert.Equal(t, 1000.0, fieldValue(t, p, "Wh"))
	assert.Equal(t, 1.0, fieldValue(t, p, "kWh"))
	assert.InDelta(t, 0.2, fieldValue(t, p, "price").(float64), 1e-9)

	assert.Equal(t, "04", tagValue(t, writer.points[1], "month"))
}

func TestExportDailyProductionRate(t *testing.T) {
	store := newFakeCache()
	store.daily = []models.Reading{
		{Date: time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC), Value: 2000, Direction: models.DirectionProduction},
	}
	influx, writer := newTestInflux(store, &fakePointCounter{count: 0})

	point := config.UsagePointConfig{ID: "pdl1", PriceBase: 0.2, PriceProduction: 0.1}
	err := influx.ExportDaily(context.Background(), point, models.DirectionProduction)
	require.NoError(t, err)

	require.Len(t, writer.points, 1)
	assert.Equal(t, "production", writer.points[0].Name())
	assert.InDelta(t, 0.2, fieldValue(t, writer.points[0], "price").(float64), 1e-9)
}

func TestExportDetailWritesClassifiedPoints(t *testing.T) {
	store := newFakeCache()
	store.detail = []models.Reading{
		{Date: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC), Value: 500, Interval: 30, MeasureType: "HP"},
	}
	counter := &fakePointCounter{count: 0}
	influx, writer := newTestInflux(store, counter)

	point := config.UsagePointConfig{ID: "pdl1"}
	err := influx.ExportDetail(context.Background(), point, flatClassifier(0.2), models.DirectionConsumption)
	require.NoError(t, err)

	assert.Equal(t, []string{"consumption_detail"}, counter.measurements)
	require.Len(t, writer.points, 1)

	p := writer.points[0]
	assert.Equal(t, "consumption_detail", p.Name())
	assert.Equal(t, "base", tagValue(t, p, "measure_type"))
	assert.Equal(t, "30", tagValue(t, p, "interval"))
	assert.Equal(t, 500.0, fieldValue(t, p, "W"))
	assert.Equal(t, 0.5, fieldValue(t, p, "kW"))
	assert.Equal(t, 250.0, fieldValue(t, p, "Wh"))
	assert.Equal(t, 0.25, fieldValue(t, p, "kWh"))
	assert.InDelta(t, 0.05, fieldValue(t, p, "price").(float64), 1e-9)
}

func TestExportTempoWritesColorCalendar(t *testing.T) {
	store := newFakeCache()
	store.dayStatuses = []models.DayStatus{
		{Date: time.Date(2024, 1, 10, 0, 0, 0, 0, time.UTC), Status: "BLUE"},
		{Date: time.Date(2024, 1, 11, 0, 0, 0, 0, time.UTC), Status: "RED"},
	}
	influx, writer := newTestInflux(store, &fakePointCounter{})

	err := influx.ExportTempo(context.Background(), config.UsagePointConfig{ID: "pdl1"})
	require.NoError(t, err)

	require.Len(t, writer.points, 2)
	p := writer.points[0]
	assert.Equal(t, "tempo", p.Name())
	assert.Equal(t, "pdl1", tagValue(t, p, "usage_point_id"))
	assert.Equal(t, "BLUE", fieldValue(t, p, "color"))
	assert.Equal(t, "RED", fieldValue(t, writer.points[1], "color"))
}

func TestExportTempoEmptyCalendarWritesNothing(t *testing.T) {
	store := newFakeCache()
	influx, writer := newTestInflux(store, &fakePointCounter{})

	err := influx.ExportTempo(context.Background(), config.UsagePointConfig{ID: "pdl1"})
	require.NoError(t, err)
	assert.Empty(t, writer.points)
}

func TestExportDetailProductionHasFlatRate(t *testing.T) {
	store := newFakeCache()
	store.detail = []models.Reading{
		{Date: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC), Value: 1000, Interval: 60, Direction: models.DirectionProduction},
	}
	influx, writer := newTestInflux(store, &fakePointCounter{count: 0})

	point := config.UsagePointConfig{ID: "pdl1", PriceProduction: 0.1}
	err := influx.ExportDetail(context.Background(), point, nil, models.DirectionProduction)
	require.NoError(t, err)

	require.Len(t, writer.points, 1)
	p := writer.points[0]
	assert.Equal(t, "production_detail", p.Name())
	assert.Equal(t, "base", tagValue(t, p, "measure_type"))
	assert.InDelta(t, 0.1, fieldValue(t, p, "price").(float64), 1e-9)
}
