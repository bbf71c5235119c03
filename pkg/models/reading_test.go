package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSlotWh(t *testing.T) {
	tests := []struct {
		name     string
		value    float64
		interval int
		want     float64
	}{
		{"half hour slot", 500, 30, 250},
		{"hour slot", 600, 60, 600},
		{"ten minute slot", 600, 10, 100},
		{"zero interval counts as one minute", 120, 0, 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := Reading{Value: tt.value, Interval: tt.interval}
			assert.Equal(t, tt.want, r.SlotWh())
		})
	}
}
