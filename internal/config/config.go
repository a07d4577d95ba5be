package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"

	"github.com/i474232898/climate-risk-alerts/internal/alert"
	"github.com/i474232898/climate-risk-alerts/internal/climate"
	"github.com/i474232898/climate-risk-alerts/internal/notify"
)

// Job names accepted in schedule bindings.
const (
	JobCollect    = "collect"
	JobPreprocess = "preprocess"
	JobAlerts     = "alerts"
	JobPipeline   = "pipeline"
)

// Binding ties one job to exactly one trigger: a fixed interval, a daily
// wall-clock time ("HH:MM"), or a standard five-field cron expression.
type Binding struct {
	Job   string        `yaml:"job" validate:"required,oneof=collect preprocess alerts pipeline"`
	Every time.Duration `yaml:"every" validate:"gte=0"`
	At    string        `yaml:"at"`
	Cron  string        `yaml:"cron"`
}

func (b Binding) validate() error {
	set := 0
	if b.Every > 0 {
		set++
	}
	if b.At != "" {
		set++
		if _, err := time.Parse("15:04", b.At); err != nil {
			return fmt.Errorf("schedule %s: invalid at %q: %w", b.Job, b.At, err)
		}
	}
	if b.Cron != "" {
		set++
		if _, err := cron.ParseStandard(b.Cron); err != nil {
			return fmt.Errorf("schedule %s: invalid cron %q: %w", b.Job, b.Cron, err)
		}
	}
	if set != 1 {
		return fmt.Errorf("schedule %s: exactly one of every, at, cron must be set", b.Job)
	}
	return nil
}

// DefaultSchedule returns the built-in bindings.
func DefaultSchedule() []Binding {
	return []Binding{
		{Job: JobCollect, Every: 3 * time.Hour},
		{Job: JobPreprocess, Every: 3 * time.Hour},
		{Job: JobAlerts, Every: time.Hour},
		{Job: JobPipeline, At: "06:00"},
	}
}

// DefaultCities returns the cities tracked when none are configured.
func DefaultCities() []climate.Location {
	return []climate.Location{
		{City: "Delhi", Country: "IN"},
		{City: "Mumbai", Country: "IN"},
		{City: "London", Country: "GB"},
		{City: "New York", Country: "US"},
	}
}

// Credentials hold secrets for providers and notification channels. Each
// empty value disables the feature that needs it.
type Credentials struct {
	EmailUser string
	EmailPass string
	SMTPHost  string
	SMTPPort  int

	SMSSID   string
	SMSToken string
	SMSFrom  string

	TelegramToken string

	WeatherAPIKey    string // OpenWeatherMap
	WeatherAPIComKey string // WeatherAPI.com
	AQIAPIKey        string // WAQI / AQICN
	GeocoderAPIKey   string // Google geocoding for Open-Meteo
}

// File is the optional YAML configuration file.
type File struct {
	Cities     []climate.Location `yaml:"cities"`
	Thresholds alert.Rules        `yaml:"thresholds"`
	Recipients notify.Recipients  `yaml:"recipients"`
	Schedule   []Binding          `yaml:"schedule"`
	ThemesFile string             `yaml:"themes_file"`
}

type AppConfig struct {
	Credentials Credentials

	Cities     []climate.Location
	Thresholds alert.Rules
	Recipients notify.Recipients
	Schedule   []Binding

	DataDir    string
	LogFile    string
	LogLevel   string
	ThemesFile string

	// HTTPTimeout bounds every outbound provider and notification call.
	HTTPTimeout time.Duration

	// TrainingCheck selects the skip-training policy: "missing" or "sentinel".
	TrainingCheck string

	// In-memory store retention.
	StoreMaxHistory int           // max number of readings per city (0 = unlimited)
	StoreMaxAge     time.Duration // max age of readings (0 = unlimited)

	// LiveReadingMaxAge is the oldest latest reading the alert job still
	// evaluates (0 = unlimited).
	LiveReadingMaxAge time.Duration

	Port string
}

// Data file locations under DataDir.
func (c *AppConfig) RealtimePath() string  { return filepath.Join(c.DataDir, "realtime_climate.csv") }
func (c *AppConfig) ProcessedPath() string { return filepath.Join(c.DataDir, "processed_climate.csv") }
func (c *AppConfig) CombinedPath() string  { return filepath.Join(c.DataDir, "combined_climate.csv") }
func (c *AppConfig) AlertLogPath() string  { return filepath.Join(c.DataDir, "alert_log.csv") }
func (c *AppConfig) ModelsPath() string    { return filepath.Join(c.DataDir, "models.db") }

var validate = validator.New()

// Load reads configuration from the environment (after .env) and the
// optional YAML file named by CLIMATE_CONFIG, with sensible defaults.
func Load() (*AppConfig, error) {
	if err := godotenv.Load(); err != nil {
		slog.Debug("config: no .env file loaded", "err", err)
	}
	cfg := &AppConfig{}

	cfg.Credentials = Credentials{
		EmailUser:        os.Getenv("EMAIL_USER"),
		EmailPass:        os.Getenv("EMAIL_PASS"),
		SMTPHost:         getenvDefault("SMTP_HOST", "smtp.gmail.com"),
		SMTPPort:         getenvInt("SMTP_PORT", 587),
		SMSSID:           os.Getenv("TWILIO_SID"),
		SMSToken:         os.Getenv("TWILIO_TOKEN"),
		SMSFrom:          os.Getenv("TWILIO_PHONE"),
		TelegramToken:    os.Getenv("TELEGRAM_BOT_TOKEN"),
		WeatherAPIKey:    os.Getenv("OPENWEATHER_API_KEY"),
		WeatherAPIComKey: os.Getenv("WEATHERAPI_API_KEY"),
		AQIAPIKey:        os.Getenv("AQICN_API_KEY"),
		GeocoderAPIKey:   os.Getenv("GEOCODER_API_KEY"),
	}

	timeout, err := time.ParseDuration(getenvDefault("HTTP_TIMEOUT", "10s"))
	if err != nil {
		return nil, fmt.Errorf("invalid HTTP_TIMEOUT: %w", err)
	}
	cfg.HTTPTimeout = timeout

	// Store retention.
	cfg.StoreMaxHistory = getenvInt("STORE_MAX_HISTORY", 240) // 30 days at 3-hour intervals

	maxAge, err := time.ParseDuration(getenvDefault("STORE_MAX_AGE", "720h"))
	if err != nil {
		return nil, fmt.Errorf("invalid STORE_MAX_AGE: %w", err)
	}
	cfg.StoreMaxAge = maxAge

	liveAge, err := time.ParseDuration(getenvDefault("LIVE_READING_MAX_AGE", "3h"))
	if err != nil {
		return nil, fmt.Errorf("invalid LIVE_READING_MAX_AGE: %w", err)
	}
	cfg.LiveReadingMaxAge = liveAge

	cfg.DataDir = getenvDefault("DATA_DIR", "data")
	cfg.LogFile = getenvDefault("LOG_FILE", filepath.Join("logs", "climate_pipeline.log"))
	cfg.LogLevel = getenvDefault("LOG_LEVEL", "info")
	cfg.TrainingCheck = getenvDefault("TRAINING_CHECK", "missing")
	cfg.Port = getenvDefault("PORT", "8080")

	file, err := LoadFile(getenvDefault("CLIMATE_CONFIG", "climate.yaml"))
	if err != nil {
		return nil, err
	}
	cfg.apply(file)

	// Environment wins over the file for recipients, which are often secret.
	if v := os.Getenv("ALERT_EMAIL_TO"); v != "" {
		cfg.Recipients.Email = v
	}
	if v := os.Getenv("ALERT_SMS_TO"); v != "" {
		cfg.Recipients.SMS = v
	}
	if v := os.Getenv("ALERT_TELEGRAM_CHAT"); v != "" {
		cfg.Recipients.Telegram = v
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFile parses the YAML file at path. A missing file yields an empty
// File so every setting falls back to its default.
func LoadFile(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return &File{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	return &f, nil
}

func (c *AppConfig) apply(f *File) {
	c.Cities = f.Cities
	if len(c.Cities) == 0 {
		c.Cities = DefaultCities()
	}
	c.Thresholds = f.Thresholds
	if len(c.Thresholds) == 0 {
		c.Thresholds = alert.DefaultRules()
	}
	c.Schedule = f.Schedule
	if len(c.Schedule) == 0 {
		c.Schedule = DefaultSchedule()
	}
	c.Recipients = f.Recipients
	c.ThemesFile = f.ThemesFile
	if c.ThemesFile == "" {
		c.ThemesFile = getenvDefault("THEMES_FILE", "themes.yaml")
	}
}

// Validate checks field constraints, thresholds and schedule triggers.
func (c *AppConfig) Validate() error {
	for _, loc := range c.Cities {
		if err := validate.Struct(loc); err != nil {
			return fmt.Errorf("invalid city: %w", err)
		}
	}
	if err := validate.Struct(c.Recipients); err != nil {
		return fmt.Errorf("invalid recipients: %w", err)
	}
	if err := c.Thresholds.Validate(); err != nil {
		return fmt.Errorf("invalid thresholds: %w", err)
	}
	for _, b := range c.Schedule {
		if err := validate.Struct(b); err != nil {
			return fmt.Errorf("invalid schedule: %w", err)
		}
		if err := b.validate(); err != nil {
			return err
		}
	}
	switch strings.ToLower(c.TrainingCheck) {
	case "missing", "sentinel":
	default:
		return fmt.Errorf("invalid TRAINING_CHECK %q", c.TrainingCheck)
	}
	if c.HTTPTimeout <= 0 {
		return fmt.Errorf("invalid HTTP_TIMEOUT: must be positive")
	}
	return nil
}

func getenvDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		n, err := strconv.Atoi(v)
		if err == nil {
			return n
		}
	}
	return def
}
