package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	Redis    RedisConfig    `yaml:"redis"`
	Auth     AuthConfig     `yaml:"auth"`
	Sim      SimConfig      `yaml:"sim"`
	Engine   EngineConfig   `yaml:"engine"`
	Market   MarketConfig   `yaml:"market"`
}

type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
	Mode string `yaml:"mode"`
}

type DatabaseConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	DBName   string `yaml:"dbname"`
	SSLMode  string `yaml:"sslmode"`
}

type RedisConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

type AuthConfig struct {
	// Bcrypt hash of the admin key accepted by POST /api/v1/auth/token.
	AdminKeyHash string `yaml:"admin_key_hash"`
	JWTSecret    string `yaml:"jwt_secret"`
	ExpireHours  int    `yaml:"expire_hours"`
}

// SimConfig holds the simulation parameters. A version snapshots these at
// deploy time; changing them afterwards requires deploying a new version.
type SimConfig struct {
	InitialMargin     float64  `yaml:"initial_margin" json:"initial_margin"`         // e.g. 0.05
	MaintenanceMargin float64  `yaml:"maintenance_margin" json:"maintenance_margin"` // must stay below initial_margin
	MaxLeverage       float64  `yaml:"max_leverage" json:"max_leverage"`
	SlippageBps       float64  `yaml:"slippage_bps" json:"slippage_bps"`
	FeeBps            float64  `yaml:"fee_bps" json:"fee_bps"`
	LiqPenaltyBps     float64  `yaml:"liq_penalty_bps" json:"liq_penalty_bps"`
	FundingMode       string   `yaml:"funding_mode" json:"funding_mode"` // none, heuristic, external
	MinNotional       float64  `yaml:"min_notional" json:"min_notional"`
	TickSize          float64  `yaml:"tick_size" json:"tick_size"`
	InitialCash       float64  `yaml:"initial_cash" json:"initial_cash"`
	Symbols           []string `yaml:"symbols" json:"symbols"`
}

type EngineConfig struct {
	CycleIntervalSec     int `yaml:"cycle_interval_sec"`
	CycleTimeoutSec      int `yaml:"cycle_timeout_sec"`
	DecisionTimeoutSec   int `yaml:"decision_timeout_sec"`
	FundingIntervalSec   int `yaml:"funding_interval_sec"`
	AnalyticsEveryCycles int `yaml:"analytics_every_cycles"`
}

type MarketConfig struct {
	FeedURL string `yaml:"feed_url"`
}

// Load loads configuration from file and environment variables
func Load(path string) (*Config, error) {
	cfg := &Config{}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}

	cfg.loadFromEnv()
	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) loadFromEnv() {
	// Server
	if v := os.Getenv("SERVER_HOST"); v != "" {
		c.Server.Host = v
	}
	if v := os.Getenv("SERVER_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			c.Server.Port = port
		}
	}
	if v := os.Getenv("SERVER_MODE"); v != "" {
		c.Server.Mode = v
	}

	// Database
	if v := os.Getenv("DB_HOST"); v != "" {
		c.Database.Host = v
	}
	if v := os.Getenv("DB_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			c.Database.Port = port
		}
	}
	if v := os.Getenv("DB_USER"); v != "" {
		c.Database.User = v
	}
	if v := os.Getenv("DB_PASSWORD"); v != "" {
		c.Database.Password = v
	}
	if v := os.Getenv("DB_NAME"); v != "" {
		c.Database.DBName = v
	}

	// Redis
	if v := os.Getenv("REDIS_HOST"); v != "" {
		c.Redis.Host = v
	}
	if v := os.Getenv("REDIS_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			c.Redis.Port = port
		}
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		c.Redis.Password = v
	}

	// Auth
	if v := os.Getenv("ADMIN_KEY_HASH"); v != "" {
		c.Auth.AdminKeyHash = v
	}
	if v := os.Getenv("JWT_SECRET"); v != "" {
		c.Auth.JWTSecret = v
	}
	if v := os.Getenv("JWT_EXPIRE_HOURS"); v != "" {
		if hours, err := strconv.Atoi(v); err == nil {
			c.Auth.ExpireHours = hours
		}
	}

	// Simulation
	if v := os.Getenv("SIM_FUNDING_MODE"); v != "" {
		c.Sim.FundingMode = v
	}
	if v := os.Getenv("SIM_SYMBOLS"); v != "" {
		c.Sim.Symbols = strings.Split(v, ",")
	}

	// Market
	if v := os.Getenv("MARKET_FEED_URL"); v != "" {
		c.Market.FeedURL = v
	}
}

func (c *Config) applyDefaults() {
	if c.Sim.InitialMargin == 0 {
		c.Sim.InitialMargin = 0.05
	}
	if c.Sim.MaintenanceMargin == 0 {
		c.Sim.MaintenanceMargin = 0.03
	}
	if c.Sim.MaxLeverage == 0 {
		c.Sim.MaxLeverage = 20
	}
	if c.Sim.MinNotional == 0 {
		c.Sim.MinNotional = 5
	}
	if c.Sim.TickSize == 0 {
		c.Sim.TickSize = 0.5
	}
	if c.Sim.InitialCash == 0 {
		c.Sim.InitialCash = 10000
	}
	if c.Sim.FundingMode == "" {
		c.Sim.FundingMode = "none"
	}
	if len(c.Sim.Symbols) == 0 {
		c.Sim.Symbols = []string{"BTC-USD"}
	}
	if c.Engine.CycleIntervalSec == 0 {
		c.Engine.CycleIntervalSec = 180
	}
	if c.Engine.CycleTimeoutSec == 0 {
		c.Engine.CycleTimeoutSec = c.Engine.CycleIntervalSec
	}
	if c.Engine.DecisionTimeoutSec == 0 {
		c.Engine.DecisionTimeoutSec = 60
	}
	if c.Engine.FundingIntervalSec == 0 {
		c.Engine.FundingIntervalSec = 60
	}
	if c.Engine.AnalyticsEveryCycles == 0 {
		c.Engine.AnalyticsEveryCycles = 5
	}
	if c.Auth.ExpireHours == 0 {
		c.Auth.ExpireHours = 24
	}
}

// Validate rejects parameter combinations the engine cannot run with.
func (c *Config) Validate() error {
	if c.Sim.MaintenanceMargin >= c.Sim.InitialMargin {
		return fmt.Errorf("maintenance_margin %.4f must be below initial_margin %.4f",
			c.Sim.MaintenanceMargin, c.Sim.InitialMargin)
	}
	if c.Sim.MaxLeverage < 1 {
		return fmt.Errorf("max_leverage %.2f must be at least 1", c.Sim.MaxLeverage)
	}
	switch c.Sim.FundingMode {
	case "none", "heuristic", "external":
	default:
		return fmt.Errorf("unknown funding_mode %q", c.Sim.FundingMode)
	}
	return nil
}

// DSN returns the PostgreSQL connection string
func (c *DatabaseConfig) DSN() string {
	return "host=" + c.Host +
		" port=" + strconv.Itoa(c.Port) +
		" user=" + c.User +
		" password=" + c.Password +
		" dbname=" + c.DBName +
		" sslmode=" + c.SSLMode
}
