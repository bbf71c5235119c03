package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Config holds the application configuration
type Config struct {
	MQTT            MQTTConfig         `yaml:"mqtt,omitempty"`
	HomeAssistantWS HAWSConfig         `yaml:"home_assistant_ws,omitempty"`
	InfluxDB        InfluxConfig       `yaml:"influxdb,omitempty"`
	TariffDayURL    string             `yaml:"tariff_day_url,omitempty"` // remote day-status endpoint override
	UsagePoints     []UsagePointConfig `yaml:"usage_points"`
}

// MQTTConfig holds MQTT broker configuration
type MQTTConfig struct {
	Enabled     bool   `yaml:"enabled"`
	Broker      string `yaml:"broker"` // host:port
	Username    string `yaml:"username,omitempty"`
	Password    string `yaml:"password,omitempty"`
	TopicPrefix string `yaml:"topic_prefix,omitempty"`
	Retain      bool   `yaml:"retain,omitempty"`
}

// HAWSConfig holds Home Assistant WebSocket API configuration
type HAWSConfig struct {
	Enabled    bool   `yaml:"enabled"`
	URL        string `yaml:"url"`   // host:port, no scheme
	Token      string `yaml:"token"` // Long-lived access token
	SSL        bool   `yaml:"ssl,omitempty"`
	BatchSize  int    `yaml:"batch_size,omitempty"`
	Purge      bool   `yaml:"purge,omitempty"`
	MaxRetries int    `yaml:"max_retries,omitempty"`
	MaxDate    string `yaml:"max_date,omitempty"` // YYYY-MM-DD, readings before it are not imported
}

// InfluxConfig holds InfluxDB v2 configuration
type InfluxConfig struct {
	Enabled bool   `yaml:"enabled"`
	URL     string `yaml:"url"`
	Token   string `yaml:"token"`
	Org     string `yaml:"org"`
	Bucket  string `yaml:"bucket"`
}

// UsagePointConfig holds per-delivery-point settings: the active pricing
// plan, the price tables, and which data kinds to export.
type UsagePointConfig struct {
	ID                string  `yaml:"usage_point_id"`
	Plan              string  `yaml:"plan,omitempty"`               // BASE, HC/HP, TEMPO or FLEX
	TariffChangeDate  string  `yaml:"tariff_change_date,omitempty"` // YYYY-MM-DD, FLEX behaves as BASE before it
	Consumption       bool    `yaml:"consumption"`
	ConsumptionDetail bool    `yaml:"consumption_detail"`
	Production        bool    `yaml:"production,omitempty"`
	ProductionDetail  bool    `yaml:"production_detail,omitempty"`
	MonthlyCharge     float64 `yaml:"monthly_charge,omitempty"` // standing charge spread over each month

	PriceBase float64 `yaml:"consumption_price_base,omitempty"`
	PriceHC   float64 `yaml:"consumption_price_hc,omitempty"`
	PriceHP   float64 `yaml:"consumption_price_hp,omitempty"`

	PriceTempoBlueHC  float64 `yaml:"consumption_price_tempo_blue_hc,omitempty"`
	PriceTempoBlueHP  float64 `yaml:"consumption_price_tempo_blue_hp,omitempty"`
	PriceTempoWhiteHC float64 `yaml:"consumption_price_tempo_white_hc,omitempty"`
	PriceTempoWhiteHP float64 `yaml:"consumption_price_tempo_white_hp,omitempty"`
	PriceTempoRedHC   float64 `yaml:"consumption_price_tempo_red_hc,omitempty"`
	PriceTempoRedHP   float64 `yaml:"consumption_price_tempo_red_hp,omitempty"`

	PriceFlexNormalHC   float64 `yaml:"consumption_price_flex_normal_hc,omitempty"`
	PriceFlexNormalHP   float64 `yaml:"consumption_price_flex_normal_hp,omitempty"`
	PriceFlexSobrieteHC float64 `yaml:"consumption_price_flex_sobriete_hc,omitempty"`
	PriceFlexSobrieteHP float64 `yaml:"consumption_price_flex_sobriete_hp,omitempty"`
	PriceFlexBonusHC    float64 `yaml:"consumption_price_flex_bonus_hc,omitempty"`
	PriceFlexBonusHP    float64 `yaml:"consumption_price_flex_bonus_hp,omitempty"`

	PriceProduction float64 `yaml:"production_price,omitempty"`
}

// Load reads the config file
func Load(configPath string) (*Config, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		if os.IsNotExist(err) {
			// Return empty config if file doesn't exist
			return &Config{}, nil
		}
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	return &cfg, nil
}

// Save writes the config to file
func Save(configPath string, cfg *Config) error {
	// Ensure directory exists
	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}

	if err := os.WriteFile(configPath, data, 0600); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}

	return nil
}

// DefaultConfigPath returns the default config file path (local directory)
func DefaultConfigPath() string {
	return "config.yaml"
}

// GetTopicPrefix returns the MQTT topic prefix with a default of "linkybridge"
func (c *MQTTConfig) GetTopicPrefix() string {
	if c.TopicPrefix == "" {
		return "linkybridge"
	}
	return c.TopicPrefix
}

// GetBatchSize returns the statistics import batch size with a default of 1000
func (c *HAWSConfig) GetBatchSize() int {
	if c.BatchSize <= 0 {
		return 1000
	}
	return c.BatchSize
}

// GetMaxRetries returns the reconnect attempt cap with a default of 3
func (c *HAWSConfig) GetMaxRetries() int {
	if c.MaxRetries <= 0 {
		return 3
	}
	return c.MaxRetries
}

// GetPlan returns the usage point's pricing plan with a default of BASE
func (u *UsagePointConfig) GetPlan() string {
	if u.Plan == "" {
		return "BASE"
	}
	return u.Plan
}
