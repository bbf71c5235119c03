package models

import "time"

// Direction of a measurement relative to the grid.
const (
	DirectionConsumption = "consumption"
	DirectionProduction  = "production"
)

// Reading is a single cached meter value. Daily readings carry a full day's
// watt-hours directly; detail readings carry a rate-like value for one
// sub-daily slot that must be normalized to obtain watt-hours.
type Reading struct {
	ID          int       `json:"id"`
	Date        time.Time `json:"date"`
	Value       float64   `json:"value"`
	Interval    int       `json:"interval"`     // slot length in minutes, 0 for daily readings
	MeasureType string    `json:"measure_type"` // "HC"/"HP" tag captured with detail readings
	Direction   string    `json:"direction"`    // consumption or production
}

// SlotWh converts a detail reading's stored rate into true watt-hours for
// its slot (value / (60/interval)). An interval of 0 counts as 1 to avoid
// dividing by zero. Daily readings already store watt-hours and must not go
// through this conversion.
func (r Reading) SlotWh() float64 {
	interval := r.Interval
	if interval == 0 {
		interval = 1
	}
	return r.Value / (60 / float64(interval))
}

// DateRange is the first and last reading date known for a usage point.
type DateRange struct {
	Begin time.Time `json:"begin"`
	End   time.Time `json:"end"`
}

// DayStatus is one resolved tariff-day cache entry.
type DayStatus struct {
	Date   time.Time `json:"date"`
	Status string    `json:"status"`
}
