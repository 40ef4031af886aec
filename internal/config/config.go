package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/dantezy/polyweather/internal/deb"
	"github.com/dantezy/polyweather/internal/weather"
)

type Config struct {
	// Storage
	DBPath      string
	LockTimeout time.Duration

	// Blending
	DEBWindow      int     // Finalized days used for the error history
	DEBEpsilon     float64 // Added to MAE before inversion
	MinHistoryDays int     // Below this the weights fall back to equal
	ModelShare     float64 // Weight of the model blend against the ensemble median

	// Consensus thresholds per unit (tight, medium)
	ConsensusTightC float64
	ConsensusMidC   float64
	ConsensusTightF float64
	ConsensusMidF   float64

	// City profiles (optional YAML overrides)
	CitiesFile string

	// Telegram notifications (optional)
	TelegramBotToken    string
	TelegramChatID      string
	NotifyLowConfidence bool // Also alert on degenerate-spread distributions

	// HTTP API
	HTTPAddr string

	// Background jobs
	FinalizeInterval time.Duration
	RetentionDays    int // 0 keeps everything
}

// Load reads configuration from the environment. Each file in files is loaded
// into the environment first; with no files a local .env is tried.
func Load(files ...string) (*Config, error) {
	if err := godotenv.Load(files...); err != nil {
		// .env file is optional if env vars are set directly
		if len(files) > 0 || !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to load env file: %w", err)
		}
	}

	cfg := &Config{
		DBPath:      getEnvString("DB_PATH", "polyweather.db"),
		LockTimeout: getEnvDuration("LOCK_TIMEOUT", 2*time.Second),

		DEBWindow:      getEnvInt("DEB_WINDOW", deb.DefaultWindow),
		DEBEpsilon:     getEnvFloat("DEB_EPSILON", deb.DefaultEpsilon),
		MinHistoryDays: getEnvInt("DEB_MIN_HISTORY_DAYS", deb.DefaultMinHistoryDays),
		ModelShare:     getEnvFloat("MODEL_SHARE", deb.DefaultModelShare),

		ConsensusTightC: getEnvFloat("CONSENSUS_TIGHT_C", 0.8),
		ConsensusMidC:   getEnvFloat("CONSENSUS_MID_C", 1.5),
		ConsensusTightF: getEnvFloat("CONSENSUS_TIGHT_F", 1.5),
		ConsensusMidF:   getEnvFloat("CONSENSUS_MID_F", 3.0),

		CitiesFile: os.Getenv("CITIES_FILE"),

		HTTPAddr: getEnvString("HTTP_ADDR", ":8080"),

		FinalizeInterval: getEnvDuration("FINALIZE_INTERVAL", 30*time.Minute),
		RetentionDays:    getEnvInt("RETENTION_DAYS", 90),
	}

	// Optional telegram config
	cfg.TelegramBotToken = os.Getenv("TELEGRAM_BOT_TOKEN")
	cfg.TelegramChatID = os.Getenv("TELEGRAM_CHAT_ID")
	cfg.NotifyLowConfidence = getEnvBool("NOTIFY_LOW_CONFIDENCE", false)

	return cfg, nil
}

// HasTelegram returns true if Telegram notifications are configured
func (c *Config) HasTelegram() bool {
	return c.TelegramBotToken != "" && c.TelegramChatID != ""
}

// Validate performs runtime validation of config values
func (c *Config) Validate() error {
	if c.DBPath == "" {
		return errors.New("DB_PATH must not be empty")
	}
	if c.LockTimeout <= 0 {
		return errors.New("LOCK_TIMEOUT must be positive")
	}
	if c.DEBWindow < 1 {
		return errors.New("DEB_WINDOW must be at least 1")
	}
	if c.DEBEpsilon < 0 {
		return errors.New("DEB_EPSILON must be non-negative")
	}
	if c.MinHistoryDays < 1 {
		return errors.New("DEB_MIN_HISTORY_DAYS must be at least 1")
	}
	if c.ModelShare < 0 || c.ModelShare > 1 {
		return errors.New("MODEL_SHARE must be between 0 and 1")
	}
	if c.ConsensusTightC <= 0 || c.ConsensusMidC < c.ConsensusTightC {
		return errors.New("CONSENSUS_TIGHT_C must be positive and not above CONSENSUS_MID_C")
	}
	if c.ConsensusTightF <= 0 || c.ConsensusMidF < c.ConsensusTightF {
		return errors.New("CONSENSUS_TIGHT_F must be positive and not above CONSENSUS_MID_F")
	}
	if c.FinalizeInterval < time.Minute {
		return errors.New("FINALIZE_INTERVAL must be at least 1m")
	}
	if c.RetentionDays < 0 {
		return errors.New("RETENTION_DAYS must be non-negative")
	}
	return nil
}

// Calculator returns the weight calculator described by c.
func (c *Config) Calculator() *deb.Calculator {
	return &deb.Calculator{
		Window:         c.DEBWindow,
		Epsilon:        c.DEBEpsilon,
		MinHistoryDays: c.MinHistoryDays,
	}
}

// Blender returns the forecast blender described by c.
func (c *Config) Blender() *deb.Blender {
	b := deb.NewBlender()
	b.ModelShare = c.ModelShare
	return b
}

// Consensus returns the consensus thresholds keyed by unit.
func (c *Config) Consensus() map[weather.Unit]weather.ConsensusThresholds {
	return map[weather.Unit]weather.ConsensusThresholds{
		weather.Celsius:    {Tight: c.ConsensusTightC, Mid: c.ConsensusMidC},
		weather.Fahrenheit: {Tight: c.ConsensusTightF, Mid: c.ConsensusMidF},
	}
}

type citiesFile struct {
	Cities []weather.Location `yaml:"cities"`
}

// Directory returns the built-in cities merged with CITIES_FILE, if set.
// File entries replace built-in cities of the same name.
func (c *Config) Directory() (*weather.Directory, error) {
	cities := append([]weather.Location(nil), weather.AllCities...)
	if c.CitiesFile == "" {
		return weather.NewDirectory(cities), nil
	}

	data, err := os.ReadFile(c.CitiesFile)
	if err != nil {
		return nil, fmt.Errorf("reading cities file: %w", err)
	}
	var f citiesFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parsing cities file: %w", err)
	}
	for i, loc := range f.Cities {
		if loc.Name == "" {
			return nil, fmt.Errorf("cities file entry %d: name is required", i)
		}
		if loc.TimezoneID != "" {
			if _, err := time.LoadLocation(loc.TimezoneID); err != nil {
				return nil, fmt.Errorf("city %s: %w", loc.Name, err)
			}
		}
		if loc.Unit != "" && loc.Unit != weather.Celsius && loc.Unit != weather.Fahrenheit {
			return nil, fmt.Errorf("city %s: unit must be C or F, got %q", loc.Name, loc.Unit)
		}
	}
	return weather.NewDirectory(append(cities, f.Cities...)), nil
}

func getEnvInt(key string, defaultVal int) int {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	parsed, err := strconv.Atoi(val)
	if err != nil {
		return defaultVal
	}
	return parsed
}

func getEnvFloat(key string, defaultVal float64) float64 {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	parsed, err := strconv.ParseFloat(val, 64)
	if err != nil {
		return defaultVal
	}
	return parsed
}

func getEnvBool(key string, defaultVal bool) bool {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	parsed, err := strconv.ParseBool(val)
	if err != nil {
		return defaultVal
	}
	return parsed
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	parsed, err := time.ParseDuration(val)
	if err != nil {
		return defaultVal
	}
	return parsed
}

func getEnvString(key string, defaultVal string) string {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	return val
}
