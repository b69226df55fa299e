package risk

import (
	"fmt"
	"os"
	"strings"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

type ProviderConfig struct {
	Name            string          `yaml:"name"`
	Enabled         bool            `yaml:"enabled"`
	APIKey          string          `yaml:"api_key"`
	APISecret       string          `yaml:"api_secret,omitempty"`
	AuthType        string          `yaml:"auth_type"`
	AuthHeader      string          `yaml:"auth_header"`
	BaseURL         string          `yaml:"base_url"`
	Endpoints       EndpointsConfig `yaml:"endpoints"`
	RequestConfig   RequestConfig   `yaml:"request_config,omitempty"`
	ResponseMapping ResponseMapping `yaml:"response_mapping"`
	Thresholds      Thresholds      `yaml:"thresholds"`
}

type EndpointsConfig struct {
	Assess string `yaml:"assess"`
}

type RequestConfig struct {
	// FieldMapping renames case fields in the outgoing body, e.g. country -> nationality.
	FieldMapping map[string]string `yaml:"field_mapping,omitempty"`
}

type ResponseMapping struct {
	ScoreField     string `yaml:"score_field"`
	LevelField     string `yaml:"level_field,omitempty"`
	ReferenceField string `yaml:"reference_field,omitempty"`
}

// Thresholds are the lower score bounds of each tier. Scores below Medium are low risk.
type Thresholds struct {
	Medium   string `yaml:"medium"`
	High     string `yaml:"high"`
	Critical string `yaml:"critical"`
}

type Config struct {
	Providers []ProviderConfig `yaml:"providers"`
}

func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return LoadConfigFromBytes(data)
}

func LoadConfigFromBytes(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func expandEnvVar(value string) string {
	if strings.HasPrefix(value, "${") && strings.HasSuffix(value, "}") {
		if envValue := os.Getenv(value[2 : len(value)-1]); envValue != "" {
			return envValue
		}
	}
	return value
}

func validateProviderConfig(cfg ProviderConfig) error {
	if cfg.Name == "" {
		return fmt.Errorf("provider name is required")
	}
	if cfg.APIKey == "" {
		return fmt.Errorf("api_key is required")
	}
	if cfg.BaseURL == "" {
		return fmt.Errorf("base_url is required")
	}
	if cfg.Endpoints.Assess == "" {
		return fmt.Errorf("endpoints.assess is required")
	}
	if cfg.ResponseMapping.ScoreField == "" && cfg.ResponseMapping.LevelField == "" {
		return fmt.Errorf("response_mapping needs score_field or level_field")
	}
	if cfg.ResponseMapping.ScoreField != "" {
		if _, err := cfg.Thresholds.parse(); err != nil {
			return err
		}
	}
	return nil
}

type tiers struct {
	medium, high, critical decimal.Decimal
}

func (t Thresholds) parse() (tiers, error) {
	var (
		out tiers
		err error
	)
	if out.medium, err = decimal.NewFromString(t.Medium); err != nil {
		return tiers{}, fmt.Errorf("thresholds.medium: %w", err)
	}
	if out.high, err = decimal.NewFromString(t.High); err != nil {
		return tiers{}, fmt.Errorf("thresholds.high: %w", err)
	}
	if out.critical, err = decimal.NewFromString(t.Critical); err != nil {
		return tiers{}, fmt.Errorf("thresholds.critical: %w", err)
	}
	if !out.medium.LessThan(out.high) || !out.high.LessThan(out.critical) {
		return tiers{}, fmt.Errorf("thresholds must increase from medium to critical")
	}
	return out, nil
}
