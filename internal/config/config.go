// Package config handles configuration management with validation.
//
// Two documents are involved: the application config (YAML, with env
// expansion) covering venue credentials and system settings, and the
// per-engine symbols document (JSON) holding grid parameters. Unknown
// keys in either are ignored; missing keys take defaults.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"regexp"
	"strings"

	apperrors "gridbot/pkg/errors"

	"gopkg.in/yaml.v3"
)

// Defaults applied to missing keys.
const (
	DefaultMaxDrawdown      = 0.5
	DefaultMaxPositions     = 50
	DefaultFeePct           = 0.0004
	DefaultLeverage         = 20
	DefaultLimitMultiplier  = 5.0
	DefaultThresholdMult    = 20.0
	DefaultScoreThreshold   = 15.0
	DefaultCooldownHours    = 24
	DefaultRejectionHours   = 12
	DefaultMaxRotationsWeek = 2
	DefaultUpdateMinutes    = 15
	DefaultScanDays         = 30
	DefaultScanBatchSize    = 15
	DefaultScanTopN         = 10
)

// AppConfig is the application-level YAML document.
type AppConfig struct {
	Exchange  ExchangeConfig  `yaml:"exchange"`
	System    SystemConfig    `yaml:"system"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
	Scanner   ScannerConfig   `yaml:"scanner"`
	Rotator   RotatorConfig   `yaml:"rotator"`
	Store     StoreConfig     `yaml:"store"`
}

// ExchangeConfig contains venue credentials and endpoints.
type ExchangeConfig struct {
	Name         string  `yaml:"name"`
	APIKey       string  `yaml:"api_key"`
	SecretKey    string  `yaml:"secret_key"`
	BaseURL      string  `yaml:"base_url"`
	StreamURL    string  `yaml:"stream_url"`
	QuoteAsset   string  `yaml:"quote_asset"`
	FeeRate      float64 `yaml:"fee_rate"`
	TimeoutSec   int     `yaml:"timeout_sec"`
	ProxyTimeout int     `yaml:"proxy_timeout_sec"`
}

// SystemConfig contains system settings.
type SystemConfig struct {
	LogLevel          string `yaml:"log_level"`
	HeartbeatInterval int    `yaml:"heartbeat_interval_sec"`
	CancelOnExit      bool   `yaml:"cancel_on_exit"`
}

// TelemetryConfig contains telemetry settings.
type TelemetryConfig struct {
	MetricsPort   int  `yaml:"metrics_port"`
	EnableMetrics bool `yaml:"enable_metrics"`
}

// ScannerConfig tunes the symbol scanner.
type ScannerConfig struct {
	Days           int      `yaml:"days"`
	MinAmplitude   float64  `yaml:"min_amplitude"`
	MaxAmplitude   float64  `yaml:"max_amplitude"`
	MaxTotalChange float64  `yaml:"max_total_change"`
	MinVolume24h   float64  `yaml:"min_volume_24h"`
	BatchSize      int      `yaml:"batch_size"`
	TopN           int      `yaml:"top_n"`
	Blocklist      []string `yaml:"blocklist"`
}

// RotatorConfig tunes the rotation gates.
type RotatorConfig struct {
	ScoreThreshold       float64 `yaml:"score_threshold"`
	MinCooldownHours     int     `yaml:"min_cooldown_hours"`
	MaxRotationsPerWeek  int     `yaml:"max_rotations_per_week"`
	RejectionCooldownHrs int     `yaml:"rejection_cooldown_hours"`
	UpdateIntervalMin    int     `yaml:"update_interval_min"`
}

// StoreConfig locates the state database.
type StoreConfig struct {
	Path string `yaml:"path"`
}

// SymbolConfig is one symbol's entry in the JSON engine document.
type SymbolConfig struct {
	CCXTSymbol          string  `json:"ccxt_symbol"`
	Enabled             bool    `json:"enabled"`
	TakeProfitSpacing   float64 `json:"take_profit_spacing"`
	GridSpacing         float64 `json:"grid_spacing"`
	InitialQuantity     float64 `json:"initial_quantity"`
	Leverage            int     `json:"leverage"`
	LimitMultiplier     float64 `json:"limit_multiplier"`
	ThresholdMultiplier float64 `json:"threshold_multiplier"`
}

// GlobalConfig is the engine document's global section.
type GlobalConfig struct {
	MaxDrawdown  float64 `json:"max_drawdown"`
	MaxPositions int     `json:"max_positions"`
	FeePct       float64 `json:"fee_pct"`
}

// EngineConfig is the persisted JSON engine document.
type EngineConfig struct {
	Symbols map[string]SymbolConfig `json:"symbols"`
	Global  GlobalConfig            `json:"global"`
}

var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

func expandEnvVars(content string) string {
	return envVarPattern.ReplaceAllStringFunc(content, func(match string) string {
		name := strings.TrimSuffix(strings.TrimPrefix(match, "${"), "}")
		if v, ok := os.LookupEnv(name); ok {
			return v
		}
		return match
	})
}

// LoadAppConfig loads the YAML application config with env expansion.
func LoadAppConfig(filename string) (*AppConfig, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	expanded := expandEnvVars(string(data))

	var cfg AppConfig
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return &cfg, nil
}

func (c *AppConfig) applyDefaults() {
	if c.System.LogLevel == "" {
		c.System.LogLevel = "INFO"
	}
	if c.System.HeartbeatInterval <= 0 {
		c.System.HeartbeatInterval = 30
	}
	if c.Exchange.QuoteAsset == "" {
		c.Exchange.QuoteAsset = "USDC"
	}
	if c.Exchange.TimeoutSec <= 0 {
		c.Exchange.TimeoutSec = 10
	}
	if c.Exchange.ProxyTimeout <= 0 {
		c.Exchange.ProxyTimeout = 60
	}
	if c.Scanner.Days <= 0 {
		c.Scanner.Days = DefaultScanDays
	}
	if c.Scanner.BatchSize <= 0 {
		c.Scanner.BatchSize = DefaultScanBatchSize
	}
	if c.Scanner.TopN <= 0 {
		c.Scanner.TopN = DefaultScanTopN
	}
	if c.Rotator.ScoreThreshold <= 0 {
		c.Rotator.ScoreThreshold = DefaultScoreThreshold
	}
	if c.Rotator.MinCooldownHours <= 0 {
		c.Rotator.MinCooldownHours = DefaultCooldownHours
	}
	if c.Rotator.MaxRotationsPerWeek <= 0 {
		c.Rotator.MaxRotationsPerWeek = DefaultMaxRotationsWeek
	}
	if c.Rotator.RejectionCooldownHrs <= 0 {
		c.Rotator.RejectionCooldownHrs = DefaultRejectionHours
	}
	if c.Rotator.UpdateIntervalMin <= 0 {
		c.Rotator.UpdateIntervalMin = DefaultUpdateMinutes
	}
	if c.Store.Path == "" {
		c.Store.Path = "gridbot.db"
	}
}

// Validate checks the application config.
func (c *AppConfig) Validate() error {
	var errs []string

	switch strings.ToUpper(c.System.LogLevel) {
	case "DEBUG", "INFO", "WARN", "ERROR", "FATAL":
	default:
		errs = append(errs, fmt.Sprintf("invalid log_level %q", c.System.LogLevel))
	}
	if c.Exchange.FeeRate < 0 || c.Exchange.FeeRate > 1 {
		errs = append(errs, "exchange.fee_rate must be in [0,1]")
	}
	if c.Scanner.MinAmplitude < 0 || (c.Scanner.MaxAmplitude > 0 && c.Scanner.MaxAmplitude < c.Scanner.MinAmplitude) {
		errs = append(errs, "scanner amplitude bounds are inconsistent")
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w: %s", apperrors.ErrConfigurationInvalid, strings.Join(errs, "; "))
	}
	return nil
}

// LoadEngineConfig loads the JSON engine document. Unknown keys are
// ignored; missing keys take defaults.
func LoadEngineConfig(filename string) (*EngineConfig, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read engine config: %w", err)
	}

	var cfg EngineConfig
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse engine config: %w", err)
	}

	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// ApplyDefaults fills missing engine-document keys.
func (c *EngineConfig) ApplyDefaults() {
	if c.Global.MaxDrawdown <= 0 {
		c.Global.MaxDrawdown = DefaultMaxDrawdown
	}
	if c.Global.MaxPositions <= 0 {
		c.Global.MaxPositions = DefaultMaxPositions
	}
	if c.Global.FeePct <= 0 {
		c.Global.FeePct = DefaultFeePct
	}
	for sym, sc := range c.Symbols {
		if sc.Leverage <= 0 {
			sc.Leverage = DefaultLeverage
		}
		if sc.LimitMultiplier <= 0 {
			sc.LimitMultiplier = DefaultLimitMultiplier
		}
		if sc.ThresholdMultiplier <= 0 {
			sc.ThresholdMultiplier = DefaultThresholdMult
		}
		c.Symbols[sym] = sc
	}
}

// Validate checks every enabled symbol's grid parameters.
func (c *EngineConfig) Validate() error {
	for sym, sc := range c.Symbols {
		if !sc.Enabled {
			continue
		}
		if sc.InitialQuantity <= 0 {
			return fmt.Errorf("%w: symbol %s: initial_quantity must be > 0", apperrors.ErrConfigurationInvalid, sym)
		}
		if sc.TakeProfitSpacing <= 0 {
			return fmt.Errorf("%w: symbol %s: take_profit_spacing must be > 0", apperrors.ErrConfigurationInvalid, sym)
		}
		if sc.GridSpacing <= 0 {
			return fmt.Errorf("%w: symbol %s: grid_spacing must be > 0", apperrors.ErrConfigurationInvalid, sym)
		}
		if sc.Leverage < 1 {
			return fmt.Errorf("%w: symbol %s: leverage must be >= 1", apperrors.ErrConfigurationInvalid, sym)
		}
	}
	return nil
}

// Save writes the engine document, round-tripping known fields only.
func (c *EngineConfig) Save(filename string) error {
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal engine config: %w", err)
	}
	return os.WriteFile(filename, data, 0o644)
}

// EnabledSymbols returns the symbols with enabled grids, sorted order
// is not guaranteed.
func (c *EngineConfig) EnabledSymbols() []string {
	var out []string
	for sym, sc := range c.Symbols {
		if sc.Enabled {
			out = append(out, sym)
		}
	}
	return out
}
