package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"SwarmTrader/pkg/util"

	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Environment string `yaml:"environment" default:"development" validate:"required"`
	Log         struct {
		Level      string `yaml:"level" default:"info" validate:"oneof=debug info warn error"`
		Format     string `yaml:"format" default:"json" validate:"oneof=json console"`
		Output     string `yaml:"output" default:"stdout"`
		TimeFormat string `yaml:"time_format"`
		Collect    bool   `yaml:"collect"`
	} `yaml:"log"`
	Server struct {
		Host            string        `yaml:"host" default:"0.0.0.0"`
		Port            int           `yaml:"port" default:"8080" validate:"min=1,max=65535"`
		ReadTimeout     time.Duration `yaml:"read_timeout" default:"10s"`
		WriteTimeout    time.Duration `yaml:"write_timeout" default:"10s"`
		ShutdownTimeout time.Duration `yaml:"shutdown_timeout" default:"15s"`
		CORS            bool          `yaml:"cors" default:"true"`
	} `yaml:"server"`
	Swarm    Swarm    `yaml:"swarm"`
	Breaker  Breaker  `yaml:"breaker"`
	Universe Universe `yaml:"universe"`
	Feed     Feed     `yaml:"feed"`
	Kafka    struct {
		Enabled      bool     `yaml:"enabled"`
		Brokers      []string `yaml:"brokers"`
		SummaryTopic string   `yaml:"summary_topic" default:"swarm.cycles"`
		EventsTopic  string   `yaml:"events_topic" default:"swarm.positions"`
		TicksTopic   string   `yaml:"ticks_topic" default:"swarm.ticks"`
		LogsTopic    string   `yaml:"logs_topic" default:"swarm.logs"`
		RequiredAcks int      `yaml:"required_acks" default:"1"`
		Compression  string   `yaml:"compression" default:"snappy"`
		Producer     struct {
			MaxAttempts  int           `yaml:"max_attempts" default:"3"`
			Linger       time.Duration `yaml:"linger" default:"50ms"`
			BatchBytes   int           `yaml:"batch_bytes" default:"1048576"`
			BatchSize    int           `yaml:"batch_size" default:"100"`
			WriteTimeout time.Duration `yaml:"write_timeout" default:"5s"`
			Async        bool          `yaml:"async"`
		} `yaml:"producer"`
		Consumer struct {
			GroupID    string        `yaml:"group_id" default:"swarm-trader"`
			Workers    int           `yaml:"workers" default:"4"`
			RetryMax   int           `yaml:"retry_max" default:"3"`
			BackoffMin time.Duration `yaml:"backoff_min" default:"100ms"`
			BackoffMax time.Duration `yaml:"backoff_max" default:"5s"`
			MinBytes   int           `yaml:"min_bytes" default:"1"`
			MaxBytes   int           `yaml:"max_bytes" default:"10485760"`
			BufferSize int           `yaml:"buffer_size" default:"256"`
			DLQTopic   string        `yaml:"dlq_topic" default:"swarm.ticks.dlq"`
		} `yaml:"consumer"`
	} `yaml:"kafka"`
	ClickHouse struct {
		Enabled      bool          `yaml:"enabled"`
		Host         string        `yaml:"host" default:"localhost"`
		Port         int           `yaml:"port" default:"9000"`
		Database     string        `yaml:"database" default:"swarm"`
		User         string        `yaml:"user" default:"default"`
		Password     string        `yaml:"password"`
		UseHTTP      bool          `yaml:"use_http"`
		AsyncInsert  bool          `yaml:"async_insert" default:"true"`
		DialTimeout  time.Duration `yaml:"dial_timeout" default:"5s"`
		ReadTimeout  time.Duration `yaml:"read_timeout" default:"10s"`
		WriteTimeout time.Duration `yaml:"write_timeout" default:"10s"`
	} `yaml:"clickhouse"`
	Redis struct {
		Enabled   bool          `yaml:"enabled"`
		Host      string        `yaml:"host" default:"localhost"`
		Port      int           `yaml:"port" default:"6379"`
		Password  string        `yaml:"password"`
		DB        int           `yaml:"db"`
		Prefix    string        `yaml:"prefix" default:"swarm"`
		LeaderTTL time.Duration `yaml:"leader_ttl" default:"30s"`
	} `yaml:"redis"`
	Queue struct {
		Enabled   bool   `yaml:"enabled"`
		KeyPrefix string `yaml:"key_prefix" default:"swarm:queue"`
		Workers   int    `yaml:"workers" default:"2"`
	} `yaml:"queue"`
	Signals struct {
		URL      string        `yaml:"url"`
		Timeout  time.Duration `yaml:"timeout" default:"2s"`
		Attempts int           `yaml:"attempts" default:"2"`
		MaxRPS   float64       `yaml:"max_rps" default:"20"`
	} `yaml:"signals"`
}

// Swarm holds scheduler, sizing and ledger settings.
type Swarm struct {
	InitialCapital             float64       `yaml:"initial_capital" default:"500" validate:"gt=0"`
	MaxPositions               int           `yaml:"max_positions" default:"100" validate:"min=1"`
	MinPositionFraction        float64       `yaml:"min_position_fraction" default:"0.005" validate:"gt=0,lte=1"`
	BasePositionFraction       float64       `yaml:"base_position_fraction" default:"0.005" validate:"gt=0,lte=1"`
	MaxPositionFraction        float64       `yaml:"max_position_fraction" default:"0.02" validate:"gt=0,lte=1"`
	DeploymentCeilingFraction  float64       `yaml:"deployment_ceiling_fraction" default:"0.90" validate:"gt=0,lte=1"`
	MaxCycleDeploymentFraction float64       `yaml:"max_cycle_deployment_fraction" default:"0.90" validate:"gt=0,lte=1"`
	CycleInterval              time.Duration `yaml:"cycle_interval" default:"10s"`
	CycleDeadline              time.Duration `yaml:"cycle_deadline" default:"8s"`
	SourceTimeout              time.Duration `yaml:"source_timeout" default:"2s"`
	Workers                    int           `yaml:"workers" default:"32" validate:"min=1"`
	MaxHoldingDuration         time.Duration `yaml:"max_holding_duration" default:"1h"`
	ReturnClipMin              float64       `yaml:"return_clip_min" default:"0"`
	ReturnClipMax              float64       `yaml:"return_clip_max" default:"0.02"`
	FeeRate                    float64       `yaml:"fee_rate" default:"0.0004" validate:"gte=0,lt=0.01"`
	SessionTimezone            string        `yaml:"session_timezone" default:"UTC"`
	Mode                       string        `yaml:"mode" default:"paper" validate:"oneof=paper live"`
	ReferenceSymbol            string        `yaml:"reference_symbol" default:"BTCUSDT"`
	ReportBuffer               int           `yaml:"report_buffer" default:"64"`
}

// Breaker limits are positive fractions of total capital.
type Breaker struct {
	DailyLossLimit    float64 `yaml:"daily_loss_limit" default:"0.10" validate:"gt=0,lt=1"`
	DrawdownLimit     float64 `yaml:"drawdown_limit" default:"0.15" validate:"gt=0,lt=1"`
	StrategyLossLimit float64 `yaml:"strategy_loss_limit" default:"0.05" validate:"gte=0,lt=1"`
}

type Universe struct {
	Symbols    []string   `yaml:"symbols"`
	Strategies []Strategy `yaml:"strategies" validate:"dive"`
}

type Strategy struct {
	ID            string   `yaml:"id" validate:"required"`
	Kind          string   `yaml:"kind" validate:"required,oneof=hf_scalping momentum stat_arb funding_arb grid remote"`
	Timeframes    []string `yaml:"timeframes"`
	Leverage      float64  `yaml:"leverage" validate:"gte=0,lte=125"`
	MinConfidence float64  `yaml:"min_confidence" validate:"gte=0,lte=1"`
	StopLossPct   float64  `yaml:"stop_loss_pct" validate:"gte=0,lt=1"`
	TakeProfitPct float64  `yaml:"take_profit_pct" validate:"gte=0,lt=1"`
	Enabled       *bool    `yaml:"enabled"`
}

// IsEnabled treats an omitted flag as enabled.
func (s Strategy) IsEnabled() bool { return s.Enabled == nil || *s.Enabled }

type Feed struct {
	Type           string        `yaml:"type" default:"bybit" validate:"oneof=bybit kafka"`
	WebSocketURL   string        `yaml:"websocket_url" default:"wss://stream.bybit.com/v5/public/linear"`
	RESTURL        string        `yaml:"rest_url" default:"https://api.bybit.com"`
	Backfill       bool          `yaml:"backfill" default:"true"`
	ReconnectDelay time.Duration `yaml:"reconnect_delay" default:"3s"`
	PingInterval   time.Duration `yaml:"ping_interval" default:"20s"`
	StaleAfter     time.Duration `yaml:"stale_after" default:"30s"`
	MaxRPS         float64       `yaml:"max_rps" default:"5"`
	BufferSize     int           `yaml:"buffer_size" default:"4096"`
	CandleHistory  int           `yaml:"candle_history" default:"240" validate:"min=10"`
	PreflightWait  time.Duration `yaml:"preflight_wait" default:"15s"`
}

// DefaultSymbols is the trading universe used when none is configured.
var DefaultSymbols = []string{
	"BTCUSDT", "ETHUSDT", "SOLUSDT", "BNBUSDT", "ARBUSDT",
	"MATICUSDT", "AVAXUSDT", "LINKUSDT", "UNIUSDT", "ATOMUSDT",
	"DOTUSDT", "ADAUSDT", "XRPUSDT", "DOGEUSDT", "LTCUSDT",
	"BCHUSDT", "ETCUSDT", "FILUSDT", "NEARUSDT", "APTUSDT",
}

// DefaultStrategies mirrors the five built-in strategy kinds.
func DefaultStrategies() []Strategy {
	return []Strategy{
		{ID: "hf_scalping", Kind: "hf_scalping", Timeframes: []string{"1m", "3m", "5m"}, Leverage: 20, MinConfidence: 0.75, StopLossPct: 0.0015, TakeProfitPct: 0.0025},
		{ID: "momentum", Kind: "momentum", Timeframes: []string{"15m", "30m", "1h"}, Leverage: 15, MinConfidence: 0.70},
		{ID: "stat_arb", Kind: "stat_arb", Timeframes: []string{"15m", "1h", "4h"}, Leverage: 12, MinConfidence: 0.65},
		{ID: "funding_arb", Kind: "funding_arb", Timeframes: []string{"8h"}, Leverage: 10, MinConfidence: 0.80},
		{ID: "grid", Kind: "grid", Timeframes: []string{"5m", "15m"}, Leverage: 8, MinConfidence: 0.70},
	}
}

var validate = validator.New()

// Load reads a YAML file on top of defaults, applies .env and environment overrides,
// and validates the result.
func Load(path string) (*Config, error) {
	var c Config
	if err := defaults.Set(&c); err != nil {
		return nil, fmt.Errorf("config defaults: %w", err)
	}

	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(b, &c); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	c.Universe.Symbols = util.NormalizeSymbols(c.Universe.Symbols)
	if len(c.Universe.Symbols) == 0 {
		c.Universe.Symbols = append([]string(nil), DefaultSymbols...)
	}
	if len(c.Universe.Strategies) == 0 {
		c.Universe.Strategies = DefaultStrategies()
	}

	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return &c, nil
}

// LoadWithEnv loads .env (if present) and lets environment variables override the file.
func LoadWithEnv(path string) (*Config, error) {
	_ = godotenv.Load()

	c, err := Load(path)
	if err != nil {
		return nil, err
	}
	if err := c.applyEnv(); err != nil {
		return nil, err
	}
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return c, nil
}

func (c *Config) applyEnv() error {
	if v := os.Getenv("SWARM_ENV"); v != "" {
		c.Environment = v
	}
	if v := os.Getenv("SWARM_MODE"); v != "" {
		c.Swarm.Mode = v
	}
	if v := os.Getenv("SWARM_SYMBOLS"); v != "" {
		c.Universe.Symbols = util.NormalizeSymbols(strings.Split(v, ","))
	}
	if v := os.Getenv("SWARM_INITIAL_CAPITAL"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("SWARM_INITIAL_CAPITAL: %w", err)
		}
		c.Swarm.InitialCapital = f
	}
	if v := os.Getenv("SWARM_LOG_LEVEL"); v != "" {
		c.Log.Level = v
	}
	if v := os.Getenv("FEED_TYPE"); v != "" {
		c.Feed.Type = v
	}
	if v := os.Getenv("KAFKA_BROKERS"); v != "" {
		c.Kafka.Brokers = splitList(v)
		c.Kafka.Enabled = true
	}
	if v := os.Getenv("CLICKHOUSE_HOST"); v != "" {
		c.ClickHouse.Host = v
		c.ClickHouse.Enabled = true
	}
	if v := os.Getenv("CLICKHOUSE_PASSWORD"); v != "" {
		c.ClickHouse.Password = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		host, port, ok := strings.Cut(v, ":")
		c.Redis.Host = host
		if ok {
			p, err := strconv.Atoi(port)
			if err != nil {
				return fmt.Errorf("REDIS_ADDR: %w", err)
			}
			c.Redis.Port = p
		}
		c.Redis.Enabled = true
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		c.Redis.Password = v
	}
	if v := os.Getenv("SIGNALS_URL"); v != "" {
		c.Signals.URL = v
	}
	return nil
}

func splitList(v string) []string {
	parts := strings.Split(v, ",")
	out := parts[:0]
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Validate runs tag validation and the cross-field rules tags cannot express.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return err
	}

	s := c.Swarm
	if !(s.MinPositionFraction <= s.BasePositionFraction && s.BasePositionFraction <= s.MaxPositionFraction) {
		return errors.New("swarm: need min_position_fraction <= base_position_fraction <= max_position_fraction")
	}
	if s.ReturnClipMax <= s.ReturnClipMin {
		return errors.New("swarm.return_clip_max must be greater than return_clip_min")
	}
	if s.CycleInterval <= 0 {
		return errors.New("swarm.cycle_interval must be positive")
	}
	if s.CycleDeadline <= 0 || s.CycleDeadline >= s.CycleInterval {
		return fmt.Errorf("swarm.cycle_deadline %s must be positive and below cycle_interval %s", s.CycleDeadline, s.CycleInterval)
	}
	if s.SourceTimeout <= 0 || s.SourceTimeout > s.CycleDeadline {
		return errors.New("swarm.source_timeout must be positive and not above cycle_deadline")
	}
	if _, err := time.LoadLocation(s.SessionTimezone); err != nil {
		return fmt.Errorf("swarm.session_timezone: %w", err)
	}

	if len(c.Universe.Symbols) == 0 {
		return errors.New("universe.symbols cannot be empty")
	}
	enabled := 0
	seen := make(map[string]struct{}, len(c.Universe.Strategies))
	for _, st := range c.Universe.Strategies {
		if _, dup := seen[st.ID]; dup {
			return fmt.Errorf("universe.strategies: duplicate id %q", st.ID)
		}
		seen[st.ID] = struct{}{}
		if st.IsEnabled() {
			enabled++
		}
		if st.Kind == "remote" && c.Signals.URL == "" {
			return fmt.Errorf("strategy %q: kind remote requires signals.url", st.ID)
		}
		for _, tf := range st.Timeframes {
			if !validTimeframes[tf] {
				return fmt.Errorf("strategy %q: invalid timeframe %q", st.ID, tf)
			}
		}
	}
	if enabled == 0 {
		return errors.New("universe.strategies: at least one strategy must be enabled")
	}

	if c.Kafka.Enabled && len(c.Kafka.Brokers) == 0 {
		return errors.New("kafka.enabled requires kafka.brokers")
	}
	if c.Feed.Type == "kafka" && !c.Kafka.Enabled {
		return errors.New("feed.type kafka requires kafka.enabled")
	}
	return nil
}

// Location returns the session timezone. Validate has already checked it.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Swarm.SessionTimezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

var validTimeframes = map[string]bool{
	"1m": true, "3m": true, "5m": true, "15m": true, "30m": true,
	"1h": true, "4h": true, "8h": true,
}
