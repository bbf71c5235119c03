package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/linkybridge/linkybridge/internal/aggregate"
	"github.com/linkybridge/linkybridge/internal/config"
	"github.com/linkybridge/linkybridge/internal/export"
	"github.com/linkybridge/linkybridge/internal/store"
	"github.com/linkybridge/linkybridge/internal/tariff"
	"github.com/linkybridge/linkybridge/internal/tariffdays"
	"github.com/linkybridge/linkybridge/pkg/models"
)

var exportPoint string

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export cached readings to the configured sinks",
	Long: `Reads cached meter data from the database, aggregates it per calendar
window and tariff bucket, and pushes the results to every enabled sink
(MQTT, Home Assistant WebSocket, InfluxDB).`,
	RunE: runExport,
}

func init() {
	exportCmd.Flags().StringVar(&exportPoint, "usage-point", "", "Only export this usage point (default: all configured points)")
	rootCmd.AddCommand(exportCmd)
}

// sinks groups the enabled export targets for one run.
type sinks struct {
	mqtt   *export.MQTT
	haStat *export.HAStats
	influx *export.Influx
}

func runExport(cmd *cobra.Command, args []string) error {
	started := time.Now()
	fmt.Printf("=== Export started at %s ===\n", started.Format("2006-01-02 15:04:05 MST"))

	log := newLogger()
	ctx := cmd.Context()

	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if len(cfg.UsagePoints) == 0 {
		return fmt.Errorf("no usage points configured")
	}

	st, err := openStore()
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer st.Close()

	var snk sinks
	if cfg.MQTT.Enabled {
		pub, err := export.NewMQTT(cfg.MQTT, log)
		if err != nil {
			return fmt.Errorf("connecting to MQTT broker: %w", err)
		}
		defer pub.Close()
		snk.mqtt = pub
	}
	if cfg.HomeAssistantWS.Enabled {
		client := export.NewHAClient(cfg.HomeAssistantWS, log)
		defer client.Close()
		snk.haStat = export.NewHAStats(client, st, cfg.HomeAssistantWS, log)
	}
	if cfg.InfluxDB.Enabled {
		snk.influx = export.NewInflux(cfg.InfluxDB, st, log)
	}
	if snk.mqtt == nil && snk.haStat == nil && snk.influx == nil {
		return fmt.Errorf("no export sink enabled in config")
	}

	days := tariffdays.New(st, nil, cfg.TariffDayURL, log)

	exported := 0
	for _, up := range cfg.UsagePoints {
		if exportPoint != "" && up.ID != exportPoint {
			continue
		}
		fmt.Printf("Exporting usage point %s (%s readings cached)...\n",
			up.ID, humanize.Comma(int64(cachedReadings(st, up.ID))))
		exportUsagePoint(ctx, st, snk, days, up, log)
		exported++
	}
	if exported == 0 {
		return fmt.Errorf("usage point %q not found in config", exportPoint)
	}

	fmt.Printf("\n=== Export finished in %s ===\n", time.Since(started).Round(time.Millisecond))
	return nil
}

// exportUsagePoint runs every enabled sink for one usage point. A failing
// sink is logged and the remaining sinks still run.
func exportUsagePoint(ctx context.Context, st *store.Store, snk sinks, days *tariffdays.Manager, up config.UsagePointConfig, log *slog.Logger) {
	plan, err := tariff.ParsePlan(up.GetPlan())
	if err != nil {
		log.Error("skipping usage point", "usage_point", up.ID, "error", err)
		return
	}
	classifier := tariff.NewClassifier(plan, tariff.PricesFromUsagePoint(up), up.TariffChangeDate, days, log)

	// Production has a single rate, so it classifies as a flat plan.
	production := tariff.NewClassifier(tariff.PlanBase, tariff.Prices{Base: up.PriceProduction}, "", days, log)

	// Daily readings carry no peak tag, so they always price flat.
	flat := tariff.NewClassifier(tariff.PlanBase, tariff.Prices{Base: up.PriceBase}, "", days, log)

	if snk.mqtt != nil {
		if up.Consumption || up.ConsumptionDetail {
			publishRollups(ctx, st, snk.mqtt, flat, classifier, up, models.DirectionConsumption, up.Consumption, up.ConsumptionDetail, log)
		}
		if up.Production || up.ProductionDetail {
			publishRollups(ctx, st, snk.mqtt, production, production, up, models.DirectionProduction, up.Production, up.ProductionDetail, log)
		}
	}

	if snk.haStat != nil {
		if up.ConsumptionDetail {
			if err := snk.haStat.Import(ctx, up, classifier, models.DirectionConsumption); err != nil {
				log.Error("home assistant consumption import failed", "usage_point", up.ID, "error", err)
			}
		}
		if up.ProductionDetail {
			if err := snk.haStat.Import(ctx, up, nil, models.DirectionProduction); err != nil {
				log.Error("home assistant production import failed", "usage_point", up.ID, "error", err)
			}
		}
	}

	if snk.influx != nil {
		exportInflux(ctx, snk.influx, classifier, up, log)
	}
}

// publishRollups runs the annual and linear rollups for one direction.
func publishRollups(ctx context.Context, st *store.Store, pub *export.MQTT, flat, plan *tariff.Classifier, up config.UsagePointConfig, direction string, daily, detail bool, log *slog.Logger) {
	var dailyEng, detailEng *aggregate.Engine
	if daily {
		dailyEng = aggregate.New(flat, false, log)
	}
	if detail {
		detailEng = aggregate.New(plan, true, log)
	}

	rollup := aggregate.NewRollup(st, pub, dailyEng, detailEng, up.ID, direction, log)
	if err := rollup.Annual(ctx); err != nil {
		log.Error("annual rollup failed", "usage_point", up.ID, "direction", direction, "error", err)
	}
	if err := rollup.Linear(ctx); err != nil {
		log.Error("linear rollup failed", "usage_point", up.ID, "direction", direction, "error", err)
	}
}

// exportInflux writes daily and detail points for both directions, plus
// the tempo color calendar.
func exportInflux(ctx context.Context, influx *export.Influx, classifier *tariff.Classifier, up config.UsagePointConfig, log *slog.Logger) {
	if up.Consumption {
		if err := influx.ExportDaily(ctx, up, models.DirectionConsumption); err != nil {
			log.Error("influxdb daily export failed", "usage_point", up.ID, "direction", models.DirectionConsumption, "error", err)
		}
	}
	if up.ConsumptionDetail {
		if err := influx.ExportDetail(ctx, up, classifier, models.DirectionConsumption); err != nil {
			log.Error("influxdb detail export failed", "usage_point", up.ID, "direction", models.DirectionConsumption, "error", err)
		}
	}
	if up.Production {
		if err := influx.ExportDaily(ctx, up, models.DirectionProduction); err != nil {
			log.Error("influxdb daily export failed", "usage_point", up.ID, "direction", models.DirectionProduction, "error", err)
		}
	}
	if up.ProductionDetail {
		if err := influx.ExportDetail(ctx, up, nil, models.DirectionProduction); err != nil {
			log.Error("influxdb detail export failed", "usage_point", up.ID, "direction", models.DirectionProduction, "error", err)
		}
	}
	if err := influx.ExportTempo(ctx, up); err != nil {
		log.Error("influxdb tempo export failed", "usage_point", up.ID, "error", err)
	}
}

// cachedReadings sums the daily and detail rows cached for a usage point.
func cachedReadings(st *store.Store, pointID string) int {
	total := 0
	for _, direction := range []string{models.DirectionConsumption, models.DirectionProduction} {
		if n, err := st.CountDaily(pointID, direction); err == nil {
			total += n
		}
		if n, err := st.CountDetail(pointID, direction); err == nil {
			total += n
		}
	}
	return total
}
