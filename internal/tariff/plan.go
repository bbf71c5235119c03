package tariff

import (
	"fmt"
	"strings"

	"github.com/linkybridge/linkybridge/internal/config"
)

// Plan identifies the pricing plan active on a usage point.
type Plan int

const (
	PlanBase Plan = iota
	PlanPeakOffPeak
	PlanTempo
	PlanFlex
)

func (p Plan) String() string {
	switch p {
	case PlanPeakOffPeak:
		return "HC/HP"
	case PlanTempo:
		return "TEMPO"
	case PlanFlex:
		return "FLEX"
	default:
		return "BASE"
	}
}

// ParsePlan maps the configured plan string to a Plan.
func ParsePlan(s string) (Plan, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "", "BASE":
		return PlanBase, nil
	case "HC/HP", "HCHP":
		return PlanPeakOffPeak, nil
	case "TEMPO":
		return PlanTempo, nil
	case "FLEX":
		return PlanFlex, nil
	default:
		return PlanBase, fmt.Errorf("unknown plan %q", s)
	}
}

// Peak states used in bucket names and price lookups.
const (
	PeakHC = "HC"
	PeakHP = "HP"
)

// Dynamic-tariff day statuses. Unknown is also what an unrecognized remote
// code maps to; it is never cached as final and is always retried.
const (
	StatusNormal   = "Normal"
	StatusSobriete = "Sobriete"
	StatusBonus    = "Bonus"
	StatusUnknown  = "Unknown"
)

// Prices is the per-kWh price table for every bucket a plan can produce.
// All fields are always present; unused ones stay zero.
type Prices struct {
	Base float64
	HC   float64
	HP   float64

	Tempo map[string]float64 // "blue_hc" ... "red_hp"
	Flex  map[string]float64 // "normal_hc" ... "bonus_hp"

	Production float64
}

// PricesFromUsagePoint builds the price table from a usage point's config.
func PricesFromUsagePoint(u config.UsagePointConfig) Prices {
	return Prices{
		Base: u.PriceBase,
		HC:   u.PriceHC,
		HP:   u.PriceHP,
		Tempo: map[string]float64{
			"blue_hc":  u.PriceTempoBlueHC,
			"blue_hp":  u.PriceTempoBlueHP,
			"white_hc": u.PriceTempoWhiteHC,
			"white_hp": u.PriceTempoWhiteHP,
			"red_hc":   u.PriceTempoRedHC,
			"red_hp":   u.PriceTempoRedHP,
		},
		Flex: map[string]float64{
			"normal_hc":   u.PriceFlexNormalHC,
			"normal_hp":   u.PriceFlexNormalHP,
			"sobriete_hc": u.PriceFlexSobrieteHC,
			"sobriete_hp": u.PriceFlexSobrieteHP,
			"bonus_hc":    u.PriceFlexBonusHC,
			"bonus_hp":    u.PriceFlexBonusHP,
		},
		Production: u.PriceProduction,
	}
}

func (p Prices) tempo(color, peak string) (float64, bool) {
	v, ok := p.Tempo[strings.ToLower(color)+"_"+strings.ToLower(peak)]
	return v, ok
}

func (p Prices) flex(status, peak string) (float64, bool) {
	v, ok := p.Flex[strings.ToLower(status)+"_"+strings.ToLower(peak)]
	return v, ok
}
