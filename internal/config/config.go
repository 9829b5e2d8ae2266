package config

// Package config handles configuration loading for reportalpha.
// It supports YAML config files, a .env file and environment variable overrides.

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config represents the complete application configuration.
type Config struct {
	Crawler   CrawlerConfig   `mapstructure:"crawler"   yaml:"crawler"`
	Store     StoreConfig     `mapstructure:"store"     yaml:"store"`
	Text      TextConfig      `mapstructure:"text"      yaml:"text"`
	Sentiment SentimentConfig `mapstructure:"sentiment" yaml:"sentiment"`
	Factor    FactorConfig    `mapstructure:"factor"    yaml:"factor"`
	Market    MarketConfig    `mapstructure:"market"    yaml:"market"`
	Backtest  BacktestConfig  `mapstructure:"backtest"  yaml:"backtest"`
	Notify    NotifyConfig    `mapstructure:"notify"    yaml:"notify"`
	Schedule  ScheduleConfig  `mapstructure:"schedule"  yaml:"schedule"`
	Logging   LoggingConfig   `mapstructure:"logging"   yaml:"logging"`
}

// CrawlerConfig holds settings shared by both report crawlers.
type CrawlerConfig struct {
	UserAgents      []string        `mapstructure:"user_agents"      yaml:"user_agents"      validate:"min=1"`
	Timeout         time.Duration   `mapstructure:"timeout"          yaml:"timeout"          validate:"gt=0"`
	RequestInterval time.Duration   `mapstructure:"request_interval" yaml:"request_interval" validate:"gte=0"`
	Seed            int64           `mapstructure:"seed"             yaml:"seed"` // 0 = seeded from the clock
	StockTable      string          `mapstructure:"stock_table"      yaml:"stock_table"`
	CompanyTypes    []string        `mapstructure:"company_types"    yaml:"company_types"    validate:"min=1"`
	Eastmoney       EastmoneyConfig `mapstructure:"eastmoney"        yaml:"eastmoney"`
	Sina            SinaConfig      `mapstructure:"sina"             yaml:"sina"`
}

// EastmoneyConfig holds the listing API and PDF download settings.
type EastmoneyConfig struct {
	ListURL          string        `mapstructure:"list_url"          yaml:"list_url"          validate:"required,url"`
	PDFURLTemplate   string        `mapstructure:"pdf_url_template"  yaml:"pdf_url_template"  validate:"required"`
	PageSize         int           `mapstructure:"page_size"         yaml:"page_size"         validate:"min=1"`
	Workers          int           `mapstructure:"workers"           yaml:"workers"           validate:"min=1"`
	ListAttempts     int           `mapstructure:"list_attempts"     yaml:"list_attempts"     validate:"min=1"`
	ListBackoff      time.Duration `mapstructure:"list_backoff"      yaml:"list_backoff"      validate:"gte=0"`
	ListMaxBackoff   time.Duration `mapstructure:"list_max_backoff"  yaml:"list_max_backoff"  validate:"gte=0"`
	DownloadAttempts int           `mapstructure:"download_attempts" yaml:"download_attempts" validate:"min=1"`
	DownloadBackoff  time.Duration `mapstructure:"download_backoff"  yaml:"download_backoff"  validate:"gte=0"`
	OutputDir        string        `mapstructure:"output_dir"        yaml:"output_dir"        validate:"required"`
	StartDate        string        `mapstructure:"start_date"        yaml:"start_date"        validate:"omitempty,datetime=2006-01-02"`
	EndDate          string        `mapstructure:"end_date"          yaml:"end_date"          validate:"omitempty,datetime=2006-01-02"`
}

// SinaConfig holds the HTML listing and text fragment settings.
type SinaConfig struct {
	ListURL        string        `mapstructure:"list_url"         yaml:"list_url"         validate:"required,url"`
	OutputDir      string        `mapstructure:"output_dir"       yaml:"output_dir"       validate:"required"`
	PageAttempts   int           `mapstructure:"page_attempts"    yaml:"page_attempts"    validate:"min=1"`
	PageBackoff    time.Duration `mapstructure:"page_backoff"     yaml:"page_backoff"     validate:"gte=0"`
	TextAttempts   int           `mapstructure:"text_attempts"    yaml:"text_attempts"    validate:"min=1"`
	TextBackoffMin time.Duration `mapstructure:"text_backoff_min" yaml:"text_backoff_min" validate:"gte=0"`
	TextBackoffMax time.Duration `mapstructure:"text_backoff_max" yaml:"text_backoff_max" validate:"gtefield=TextBackoffMin"`
	DelayMin       time.Duration `mapstructure:"delay_min"        yaml:"delay_min"        validate:"gte=0"`
	DelayMax       time.Duration `mapstructure:"delay_max"        yaml:"delay_max"        validate:"gtefield=DelayMin"`
	StartDate      string        `mapstructure:"start_date"       yaml:"start_date"       validate:"omitempty,datetime=2006-01-02"`
	EndDate        string        `mapstructure:"end_date"         yaml:"end_date"         validate:"omitempty,datetime=2006-01-02"`
}

// StoreConfig selects and configures the document database.
type StoreConfig struct {
	Driver      string `mapstructure:"driver"       yaml:"driver"       validate:"oneof=badger postgres"`
	BadgerPath  string `mapstructure:"badger_path"  yaml:"badger_path"`
	PostgresDSN string `mapstructure:"postgres_dsn" yaml:"postgres_dsn" validate:"required_if=Driver postgres"`
	FlushSize   int    `mapstructure:"flush_size"   yaml:"flush_size"   validate:"min=1"`
}

// TextConfig holds the normalizer phrase lists.
type TextConfig struct {
	RiskLeadIns         []string `mapstructure:"risk_lead_ins"        yaml:"risk_lead_ins"`
	BoilerplatePrefixes []string `mapstructure:"boilerplate_prefixes" yaml:"boilerplate_prefixes"`
}

// SentimentConfig holds classifier settings. An empty endpoint selects the
// offline lexicon classifier.
type SentimentConfig struct {
	Endpoint  string        `mapstructure:"endpoint"   yaml:"endpoint"   validate:"omitempty,url"`
	APIKey    string        `mapstructure:"api_key"    yaml:"api_key"`
	MaxLength int           `mapstructure:"max_length" yaml:"max_length" validate:"min=1"`
	Timeout   time.Duration `mapstructure:"timeout"    yaml:"timeout"    validate:"gt=0"`
	StartDate string        `mapstructure:"start_date" yaml:"start_date" validate:"omitempty,datetime=2006-01-02"`
	EndDate   string        `mapstructure:"end_date"   yaml:"end_date"   validate:"omitempty,datetime=2006-01-02"`
}

// FactorConfig holds trailing factor settings.
type FactorConfig struct {
	Window       int    `mapstructure:"window"        yaml:"window"        validate:"min=1"`
	Output       string `mapstructure:"output"        yaml:"output"        validate:"required"`
	ScoresOutput string `mapstructure:"scores_output" yaml:"scores_output"`
	StartDate    string `mapstructure:"start_date"    yaml:"start_date"    validate:"omitempty,datetime=2006-01-02"`
	EndDate      string `mapstructure:"end_date"      yaml:"end_date"      validate:"omitempty,datetime=2006-01-02"`
}

// MarketConfig holds the price history source settings.
type MarketConfig struct {
	KlineURL       string `mapstructure:"kline_url"       yaml:"kline_url"       validate:"required,url"`
	HistoryDir     string `mapstructure:"history_dir"     yaml:"history_dir"     validate:"required"`
	Period         string `mapstructure:"period"          yaml:"period"          validate:"oneof=monthly daily"`
	BenchmarkSecID string `mapstructure:"benchmark_secid" yaml:"benchmark_secid" validate:"required"`
	BenchmarkFile  string `mapstructure:"benchmark_file"  yaml:"benchmark_file"  validate:"required"`
	StartDate      string `mapstructure:"start_date"      yaml:"start_date"      validate:"omitempty,datetime=2006-01-02"`
	EndDate        string `mapstructure:"end_date"        yaml:"end_date"        validate:"omitempty,datetime=2006-01-02"`
}

// BacktestConfig holds evaluator outputs and layer settings.
type BacktestConfig struct {
	RankICOutput  string  `mapstructure:"rankic_output"  yaml:"rankic_output"`
	LayersOutput  string  `mapstructure:"layers_output"  yaml:"layers_output"`
	ChartOutput   string  `mapstructure:"chart_output"   yaml:"chart_output"`
	Layers        int     `mapstructure:"layers"         yaml:"layers"         validate:"min=2"`
	DropLastMonth bool    `mapstructure:"drop_last_month" yaml:"drop_last_month"`
	Significance  float64 `mapstructure:"significance"   yaml:"significance"   validate:"gt=0,lt=1"`
}

// NotifyConfig holds the completion webhook.
type NotifyConfig struct {
	WebhookURL string `mapstructure:"webhook_url" yaml:"webhook_url" validate:"omitempty,url"`
}

// ScheduleConfig holds cron expressions for unattended runs.
type ScheduleConfig struct {
	Eastmoney string `mapstructure:"eastmoney" yaml:"eastmoney" validate:"required"`
	Timezone  string `mapstructure:"timezone"  yaml:"timezone"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `mapstructure:"level"  yaml:"level"` // "debug", "info", "warn", "error"
	Format string `mapstructure:"format" yaml:"format" validate:"oneof=console json"`
}

const envPrefix = "REPORTALPHA"

// Load reads the configuration from file and environment variables.
// Config file search order:
//  1. ./config/config.yaml (project root)
//  2. ~/.reportalpha/config.yaml (home directory)
//  3. /etc/reportalpha/config.yaml (system)
//
// A .env file in the working directory is loaded first when present.
// Environment variables override config file values.
// Format: REPORTALPHA_<SECTION>_<KEY>, e.g., REPORTALPHA_STORE_DRIVER
func Load() (*Config, error) {
	_ = godotenv.Load()

	v := newViper()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath("./config")
	v.AddConfigPath(filepath.Join(homeDir(), ".reportalpha"))
	v.AddConfigPath("/etc/reportalpha")

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	return decode(v)
}

// LoadFromFile reads configuration from a specific file path.
func LoadFromFile(path string) (*Config, error) {
	_ = godotenv.Load()

	v := newViper()
	v.SetConfigFile(path)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("error reading config file %s: %w", path, err)
	}

	return decode(v)
}

func newViper() *viper.Viper {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

func decode(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}
	overrideFromEnv(&cfg)
	return &cfg, nil
}

// Validate checks field constraints declared in struct tags.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}

// setDefaults sets sensible defaults for all config values.
func setDefaults(v *viper.Viper) {
	// Crawler defaults
	v.SetDefault("crawler.user_agents", DefaultUserAgents)
	v.SetDefault("crawler.timeout", 10*time.Second)
	v.SetDefault("crawler.request_interval", 200*time.Millisecond)
	v.SetDefault("crawler.seed", 0)
	v.SetDefault("crawler.stock_table", "./data/basicInfo.xlsx")
	v.SetDefault("crawler.company_types", []string{"公司", "创业板"})

	v.SetDefault("crawler.eastmoney.list_url", "https://reportapi.eastmoney.com/report/list")
	v.SetDefault("crawler.eastmoney.pdf_url_template", "https://pdf.dfcfw.com/pdf/H3_%s_1.pdf")
	v.SetDefault("crawler.eastmoney.page_size", 50)
	v.SetDefault("crawler.eastmoney.workers", 3)
	v.SetDefault("crawler.eastmoney.list_attempts", 3)
	v.SetDefault("crawler.eastmoney.list_backoff", 10*time.Second)
	v.SetDefault("crawler.eastmoney.list_max_backoff", time.Minute)
	v.SetDefault("crawler.eastmoney.download_attempts", 3)
	v.SetDefault("crawler.eastmoney.download_backoff", 10*time.Second)
	v.SetDefault("crawler.eastmoney.output_dir", "./data/eastmoney")

	v.SetDefault("crawler.sina.list_url", "https://stock.finance.sina.com.cn/stock/go.php/vReport_List/kind/search/index.phtml")
	v.SetDefault("crawler.sina.output_dir", "./data/sina")
	v.SetDefault("crawler.sina.page_attempts", 3)
	v.SetDefault("crawler.sina.page_backoff", 3*time.Second)
	v.SetDefault("crawler.sina.text_attempts", 4)
	v.SetDefault("crawler.sina.text_backoff_min", 2*time.Second)
	v.SetDefault("crawler.sina.text_backoff_max", 5*time.Second)
	v.SetDefault("crawler.sina.delay_min", time.Second)
	v.SetDefault("crawler.sina.delay_max", 3500*time.Millisecond)

	// Store defaults
	v.SetDefault("store.driver", "badger")
	v.SetDefault("store.badger_path", "./data/store")
	v.SetDefault("store.flush_size", 1000)

	// Text defaults
	v.SetDefault("text.risk_lead_ins", []string{"风险提示"})
	v.SetDefault("text.boilerplate_prefixes", []string{
		"数据来源", "相关资料", "本报告不构成投资建议", "免责声明", "资料来源", "数据来自",
	})

	// Sentiment defaults
	v.SetDefault("sentiment.max_length", 500)
	v.SetDefault("sentiment.timeout", 60*time.Second)

	// Factor defaults
	v.SetDefault("factor.window", 90)
	v.SetDefault("factor.output", "./output/pivoted_data_output.xlsx")
	v.SetDefault("factor.scores_output", "./output/stock_scores.xlsx")

	// Market defaults
	v.SetDefault("market.kline_url", "https://push2his.eastmoney.com/api/qt/stock/kline/get")
	v.SetDefault("market.history_dir", "./data/history")
	v.SetDefault("market.period", "monthly")
	v.SetDefault("market.benchmark_secid", "1.000001")
	v.SetDefault("market.benchmark_file", "./data/sh000001.csv")
	v.SetDefault("market.start_date", "2008-01-01")

	// Backtest defaults
	v.SetDefault("backtest.rankic_output", "./output/RankIC.csv")
	v.SetDefault("backtest.layers_output", "./output/layers.csv")
	v.SetDefault("backtest.chart_output", "./output/layers.svg")
	v.SetDefault("backtest.layers", 5)
	v.SetDefault("backtest.drop_last_month", true)
	v.SetDefault("backtest.significance", 0.05)

	// Schedule defaults: weekdays after the afternoon close
	v.SetDefault("schedule.eastmoney", "30 15 * * 1-5")
	v.SetDefault("schedule.timezone", "Asia/Shanghai")

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "console")
}

// DefaultUserAgents is the browser header pool rotated across requests.
var DefaultUserAgents = []string{
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.2 Safari/605.1.15",
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64; rv:121.0) Gecko/20100101 Firefox/121.0",
	"Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/119.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36 Edg/120.0.0.0",
}

// overrideFromEnv explicitly reads sensitive keys from environment variables.
func overrideFromEnv(cfg *Config) {
	if dsn := os.Getenv("REPORTALPHA_POSTGRES_DSN"); dsn != "" {
		cfg.Store.PostgresDSN = dsn
	}
	if key := os.Getenv("SENTIMENT_API_KEY"); key != "" {
		cfg.Sentiment.APIKey = key
	}
	if hook := os.Getenv("FEISHU_WEBHOOK_URL"); hook != "" {
		cfg.Notify.WebhookURL = hook
	}
}

// homeDir returns the user's home directory.
func homeDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return home
}
