package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
)

const (
	EnvPrefix       = "SIGNALBOT"
	DefaultSettings = "settings/config.yaml"
)

type Config struct {
	Broker    BrokerConfig
	Paper     PaperConfig
	Mailbox   MailboxConfig
	Trade     TradeConfig
	Runtime   RuntimeConfig
	Ledger    LedgerConfig
	Dashboard DashboardConfig
	Notify    NotifyConfig

	// settings file credentials are written back to
	settingsPath string
}

type BrokerConfig struct {
	Driver   string        `validate:"oneof=paper bridge"`
	URL      string        `validate:"required_if=Driver bridge"`
	Email    string        `validate:"required_if=Driver bridge"`
	Password string        `validate:"required_if=Driver bridge"`
	Timeout  time.Duration `validate:"gt=0"`
}

type PaperConfig struct {
	Balance      float64 `validate:"gte=0"`
	Payout       float64 `validate:"gte=0,lte=100"`
	WinRate      float64 `validate:"gte=0,lte=1"`
	ClosedAssets []string
	// Payouts overrides Payout per asset. Keys are upper-case symbols
	// without the _otc suffix.
	Payouts map[string]float64 `validate:"dive,gte=0,lte=100"`
}

type MailboxConfig struct {
	Host          string `validate:"required"`
	Port          int    `validate:"gt=0,lte=65535"`
	User          string `validate:"required"`
	Password      string `validate:"required"`
	Folder        string `validate:"required"`
	SubjectFilter string `validate:"required"`
}

func (m MailboxConfig) Addr() string {
	return fmt.Sprintf("%s:%d", m.Host, m.Port)
}

type TradeConfig struct {
	Amount   float64       `validate:"gt=0"`
	Duration time.Duration `validate:"gte=1s"`
}

func (t TradeConfig) Stake() decimal.Decimal {
	return decimal.NewFromFloat(t.Amount)
}

type RuntimeConfig struct {
	KeepaliveInterval    time.Duration `validate:"gt=0"`
	ReconnectDelay       time.Duration `validate:"gt=0"`
	MaxReconnectFailures int           `validate:"gte=1"`
	PollInterval         time.Duration `validate:"gt=0"`
	ErrorBackoff         time.Duration `validate:"gt=0"`
	Log                  LogConfig
}

type LogConfig struct {
	Level      string
	Format     string `validate:"omitempty,oneof=text json"`
	File       string
	MaxSize    int
	MaxBackups int
	MaxAge     int
	Compress   bool
}

type LedgerConfig struct {
	Driver string `validate:"oneof=sqlite bolt"`
	Path   string `validate:"required"`
}

type DashboardConfig struct {
	Addr string
}

type NotifyConfig struct {
	TelegramToken  string
	TelegramChatID int64 `validate:"required_with=TelegramToken"`
	RatePerSecond  float64
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("broker.driver", "paper")
	v.SetDefault("broker.timeout", 15*time.Second)

	v.SetDefault("paper.balance", 10000)
	v.SetDefault("paper.payout", 85)
	v.SetDefault("paper.win_rate", 0.5)

	v.SetDefault("mailbox.host", "imap.gmail.com")
	v.SetDefault("mailbox.port", 993)
	v.SetDefault("mailbox.folder", "INBOX")
	v.SetDefault("mailbox.subject_filter", "Alert: quotex bot")

	v.SetDefault("trade.amount", 50)
	v.SetDefault("trade.duration", 60*time.Second)

	v.SetDefault("runtime.keepalive_interval", 10*time.Second)
	v.SetDefault("runtime.reconnect_delay", 30*time.Second)
	v.SetDefault("runtime.max_reconnect_failures", 3)
	v.SetDefault("runtime.poll_interval", 2*time.Second)
	v.SetDefault("runtime.error_backoff", 5*time.Second)
	v.SetDefault("runtime.log.level", "info")
	v.SetDefault("runtime.log.format", "text")
	v.SetDefault("runtime.log.max_size", 50)
	v.SetDefault("runtime.log.max_backups", 5)
	v.SetDefault("runtime.log.max_age", 30)
	v.SetDefault("runtime.log.compress", true)

	v.SetDefault("ledger.driver", "sqlite")
	v.SetDefault("ledger.path", "trades.db")

	v.SetDefault("dashboard.addr", "127.0.0.1:8000")

	v.SetDefault("notify.rate_per_second", 1)
}

// Load reads the settings file (path, $CONFIG_PATH, or settings/config.* and
// configs/config.*), then overlays SIGNALBOT_* environment variables and a
// local .env file. Missing credentials are not an error here; see Validate.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	setDefaults(v)

	if path == "" {
		path = os.Getenv("CONFIG_PATH")
	}
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.AddConfigPath("settings")
		v.AddConfigPath("configs")
		v.AddConfigPath(".")
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !(path != "" && errors.Is(err, os.ErrNotExist)) {
			return nil, fmt.Errorf("Не удалось прочитать настройки: %w", err)
		}
	}

	cfg := &Config{settingsPath: v.ConfigFileUsed()}
	if cfg.settingsPath == "" {
		cfg.settingsPath = path
	}
	if cfg.settingsPath == "" {
		cfg.settingsPath = DefaultSettings
	}

	cfg.Broker = BrokerConfig{
		Driver:   strings.ToLower(v.GetString("broker.driver")),
		URL:      v.GetString("broker.url"),
		Email:    envSub(v, "broker.email"),
		Password: envSub(v, "broker.password"),
		Timeout:  v.GetDuration("broker.timeout"),
	}

	cfg.Paper = PaperConfig{
		Balance:      v.GetFloat64("paper.balance"),
		Payout:       v.GetFloat64("paper.payout"),
		WinRate:      v.GetFloat64("paper.win_rate"),
		ClosedAssets: v.GetStringSlice("paper.closed_assets"),
	}
	payouts, err := parsePayouts(v.GetStringMapString("paper.payouts"))
	if err != nil {
		return nil, err
	}
	cfg.Paper.Payouts = payouts

	cfg.Mailbox = MailboxConfig{
		Host:          v.GetString("mailbox.host"),
		Port:          v.GetInt("mailbox.port"),
		User:          envSub(v, "mailbox.user"),
		Password:      envSub(v, "mailbox.password"),
		Folder:        v.GetString("mailbox.folder"),
		SubjectFilter: v.GetString("mailbox.subject_filter"),
	}

	cfg.Trade = TradeConfig{
		Amount:   v.GetFloat64("trade.amount"),
		Duration: v.GetDuration("trade.duration"),
	}

	cfg.Runtime = RuntimeConfig{
		KeepaliveInterval:    v.GetDuration("runtime.keepalive_interval"),
		ReconnectDelay:       v.GetDuration("runtime.reconnect_delay"),
		MaxReconnectFailures: v.GetInt("runtime.max_reconnect_failures"),
		PollInterval:         v.GetDuration("runtime.poll_interval"),
		ErrorBackoff:         v.GetDuration("runtime.error_backoff"),
		Log: LogConfig{
			Level:      v.GetString("runtime.log.level"),
			Format:     v.GetString("runtime.log.format"),
			File:       v.GetString("runtime.log.file"),
			MaxSize:    v.GetInt("runtime.log.max_size"),
			MaxBackups: v.GetInt("runtime.log.max_backups"),
			MaxAge:     v.GetInt("runtime.log.max_age"),
			Compress:   v.GetBool("runtime.log.compress"),
		},
	}

	cfg.Ledger = LedgerConfig{
		Driver: strings.ToLower(v.GetString("ledger.driver")),
		Path:   v.GetString("ledger.path"),
	}

	cfg.Dashboard = DashboardConfig{
		Addr: v.GetString("dashboard.addr"),
	}

	cfg.Notify = NotifyConfig{
		TelegramToken:  envSub(v, "notify.telegram_token"),
		TelegramChatID: v.GetInt64("notify.telegram_chat_id"),
		RatePerSecond:  v.GetFloat64("notify.rate_per_second"),
	}

	return cfg, nil
}

func parsePayouts(raw map[string]string) (map[string]float64, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	payouts := make(map[string]float64, len(raw))
	for asset, value := range raw {
		symbol := strings.TrimSuffix(strings.ToUpper(strings.TrimSpace(asset)), "_OTC")
		p, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
		if err != nil {
			return nil, fmt.Errorf("Неверная выплата для актива %s: %w", symbol, err)
		}
		payouts[symbol] = p
	}
	return payouts, nil
}

func (c *Config) SettingsPath() string {
	return c.settingsPath
}

var validate = validator.New(validator.WithRequiredStructEnabled())

func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("Некорректные настройки: %w", err)
	}
	return nil
}

var envRef = regexp.MustCompile(`\$\{(\w+)\}`)

// envSub expands ${VAR} references inside secret values.
func envSub(v *viper.Viper, key string) string {
	val := v.GetString(key)
	if val == "" {
		return ""
	}

	return envRef.ReplaceAllStringFunc(val, func(match string) string {
		envKey := strings.TrimSuffix(strings.TrimPrefix(match, "${"), "}")
		return os.Getenv(envKey)
	})
}

// persist writes key=value into the settings file without copying
// environment overrides or defaults into it.
func persist(path string, values map[string]string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return err
	}
	fv := viper.New()
	fv.SetConfigFile(path)
	if ext := filepath.Ext(path); ext == "" {
		fv.SetConfigType("yaml")
	}
	if err := fv.ReadInConfig(); err != nil && !errors.Is(err, os.ErrNotExist) {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return err
		}
	}
	for key, val := range values {
		fv.Set(key, val)
	}
	return fv.WriteConfigAs(path)
}
