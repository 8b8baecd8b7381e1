package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	exchange "github.com/somboon29/MT5-Bot/pkg/exchanges/common"
)

// Trading holds the strategy and risk parameters. Field names double as the
// keys of the optional YAML overlay.
type Trading struct {
	Symbol           string             `yaml:"symbol"`
	Timeframe        exchange.Timeframe `yaml:"timeframe"`
	BarCount         int                `yaml:"bar_count"`
	LotSize          float64            `yaml:"lot_size"`
	MagicNumber      int64              `yaml:"magic_number"`
	OrderComment     string             `yaml:"order_comment"`
	RiskPercent      float64            `yaml:"risk_percent"`
	StopLossPoints   float64            `yaml:"stop_loss_points"`
	TakeProfitPoints float64            `yaml:"take_profit_points"`
	CutLossPercent   float64            `yaml:"cut_loss_threshold_percent"`
	Deviation        int                `yaml:"deviation"`
	SMAShort         int                `yaml:"sma_short"`
	SMALong          int                `yaml:"sma_long"`
}

// Schedule holds the loop cadence.
type Schedule struct {
	CycleInterval time.Duration `yaml:"cycle_interval"`
	RetryInterval time.Duration `yaml:"retry_interval"`
	ErrorBackoff  time.Duration `yaml:"error_backoff"`
}

// Config holds environment-driven settings for the bot. It is built once at
// startup and passed by value; nothing mutates it afterwards.
type Config struct {
	Trading  Trading  `yaml:"trading"`
	Schedule Schedule `yaml:"schedule"`

	// Logging
	LogFile  string
	LogLevel string

	// Status server; empty disables it
	StatusAddr string

	// Execution
	DryRun               bool
	DryRunDBPath         string
	DryRunInitialBalance float64
	DryRunSeed           int64

	// Terminal bridge (live mode)
	BridgeURL       string
	BridgeToken     string
	BridgeRateLimit float64 // requests per second
	BridgeTimeout   time.Duration
}

// Load reads environment variables (optionally via .env) into Config and
// applies the YAML overlay named by CONFIG_FILE, if any.
func Load() (Config, error) {
	// Ignore error so the bot still starts when .env is missing.
	_ = godotenv.Load()

	cfg := Config{
		Trading: Trading{
			Symbol:           getEnv("SYMBOL", "XAUUSDm"),
			Timeframe:        exchange.Timeframe(strings.ToUpper(getEnv("TIMEFRAME", string(exchange.M15)))),
			BarCount:         getEnvInt("BAR_COUNT", 200),
			LotSize:          getEnvFloat("LOT_SIZE", 0.01),
			MagicNumber:      int64(getEnvInt("MAGIC_NUMBER", 123456)),
			OrderComment:     getEnv("ORDER_COMMENT", "sma-cross"),
			RiskPercent:      getEnvFloat("RISK_PERCENT", 5),
			StopLossPoints:   getEnvFloat("STOP_LOSS_POINTS", 300),
			TakeProfitPoints: getEnvFloat("TAKE_PROFIT_POINTS", 600),
			CutLossPercent:   getEnvFloat("CUT_LOSS_THRESHOLD_PERCENT", 20),
			Deviation:        getEnvInt("DEVIATION", 20),
			SMAShort:         getEnvInt("SMA_SHORT", 20),
			SMALong:          getEnvInt("SMA_LONG", 50),
		},
		Schedule: Schedule{
			CycleInterval: getEnvDuration("CYCLE_INTERVAL", 5*time.Minute),
			RetryInterval: getEnvDuration("RETRY_INTERVAL", time.Minute),
			ErrorBackoff:  getEnvDuration("ERROR_BACKOFF", time.Minute),
		},
		LogFile:              getEnv("LOG_FILE", "log.txt"),
		LogLevel:             getEnv("LOG_LEVEL", "info"),
		StatusAddr:           os.Getenv("STATUS_ADDR"),
		DryRun:               getEnv("DRY_RUN", "true") == "true",
		DryRunDBPath:         getEnv("DRY_RUN_DB_PATH", "./data/paper.db"),
		DryRunInitialBalance: getEnvFloat("DRY_RUN_INITIAL_BALANCE", 10000),
		DryRunSeed:           int64(getEnvInt("DRY_RUN_SEED", 0)),
		BridgeURL:            getEnv("BRIDGE_URL", "http://127.0.0.1:5005"),
		BridgeToken:          os.Getenv("BRIDGE_TOKEN"),
		BridgeRateLimit:      getEnvFloat("BRIDGE_RATE_LIMIT", 5),
		BridgeTimeout:        getEnvDuration("BRIDGE_TIMEOUT", 10*time.Second),
	}

	if path := os.Getenv("CONFIG_FILE"); path != "" {
		if err := cfg.ApplyFile(path); err != nil {
			return Config{}, err
		}
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// FetchCount is the number of bars requested per cycle. The long window is
// added on top of BarCount so averaging warm-up never eats into the lookback.
func (t Trading) FetchCount() int {
	return t.BarCount + t.SMALong
}

// ApplyFile overlays the trading and schedule sections found in a YAML file.
// Keys missing from the file keep their current values.
func (c *Config) ApplyFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	c.Trading.Timeframe = exchange.Timeframe(strings.ToUpper(string(c.Trading.Timeframe)))
	return nil
}

// Validate rejects settings the engine cannot run with.
func (c Config) Validate() error {
	t := c.Trading
	var errs []error
	if strings.TrimSpace(t.Symbol) == "" {
		errs = append(errs, errors.New("symbol is empty"))
	}
	if _, err := t.Timeframe.Duration(); err != nil {
		errs = append(errs, err)
	}
	if t.StopLossPoints <= 0 || t.TakeProfitPoints <= 0 {
		errs = append(errs, errors.New("stop-loss and take-profit distances must be positive"))
	}
	if t.RiskPercent < 0 || t.RiskPercent > 100 {
		errs = append(errs, fmt.Errorf("risk percent %.2f out of range", t.RiskPercent))
	}
	if t.RiskPercent == 0 && t.LotSize <= 0 {
		errs = append(errs, errors.New("lot size must be positive when risk sizing is disabled"))
	}
	if t.CutLossPercent <= 0 {
		errs = append(errs, errors.New("cut-loss threshold must be positive"))
	}
	if t.SMAShort <= 0 || t.SMALong <= 0 || t.SMAShort >= t.SMALong {
		errs = append(errs, fmt.Errorf("invalid sma windows %d/%d", t.SMAShort, t.SMALong))
	}
	if t.BarCount <= 0 {
		errs = append(errs, errors.New("bar count must be positive"))
	}
	if t.Deviation < 0 {
		errs = append(errs, errors.New("deviation must not be negative"))
	}
	s := c.Schedule
	if s.CycleInterval <= 0 || s.RetryInterval <= 0 || s.ErrorBackoff <= 0 {
		errs = append(errs, errors.New("schedule intervals must be positive"))
	}
	if !c.DryRun && c.BridgeURL == "" {
		errs = append(errs, errors.New("BRIDGE_URL is required when DRY_RUN=false"))
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func getEnvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

// getEnvDuration accepts Go durations ("90s") or a bare number of seconds.
func getEnvDuration(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	if d, err := time.ParseDuration(v); err == nil {
		return d
	}
	if secs, err := strconv.Atoi(v); err == nil {
		return time.Duration(secs) * time.Second
	}
	return def
}
