package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadSaveRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	cfg := &Config{
		MQTT: MQTTConfig{Enabled: true, Broker: "localhost:1883", Retain: true},
		HomeAssistantWS: HAWSConfig{
			Enabled: true, URL: "homeassistant.local:8123", Token: "tok", BatchSize: 500,
			MaxDate: "2023-01-01",
		},
		UsagePoints: []UsagePointConfig{{
			ID:                "12345678901234",
			Plan:              "TEMPO",
			Consumption:       true,
			ConsumptionDetail: true,
			PriceTempoRedHP:   0.7562,
		}},
	}
	require.NoError(t, Save(path, cfg))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, cfg, loaded)
}

func TestLoadMissingFileIsEmptyConfig(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	assert.Equal(t, &Config{}, cfg)
}

func TestLoadInvalidYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("usage_points: {not a list"), 0644))
	_, err := Load(path)
	require.Error(t, err)
}

func TestDefaults(t *testing.T) {
	m := &MQTTConfig{}
	assert.Equal(t, "linkybridge", m.GetTopicPrefix())
	m.TopicPrefix = "custom"
	assert.Equal(t, "custom", m.GetTopicPrefix())

	h := &HAWSConfig{}
	assert.Equal(t, 1000, h.GetBatchSize())
	assert.Equal(t, 3, h.GetMaxRetries())
	h.BatchSize = 50
	h.MaxRetries = 7
	assert.Equal(t, 50, h.GetBatchSize())
	assert.Equal(t, 7, h.GetMaxRetries())

	u := &UsagePointConfig{}
	assert.Equal(t, "BASE", u.GetPlan())
	u.Plan = "FLEX"
	assert.Equal(t, "FLEX", u.GetPlan())
}
