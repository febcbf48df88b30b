// internal/config/config.go

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
)

// Config holds all application configuration
type Config struct {
	Environment string         `yaml:"environment"`
	Server      ServerConfig   `yaml:"server"`
	Database    DatabaseConfig `yaml:"database"`
	NATS        NATSConfig     `yaml:"nats"`
	Engine      EngineConfig   `yaml:"engine"`
	Anchors     AnchorsConfig  `yaml:"anchors"`
	TextGen     TextGenConfig  `yaml:"textgen"`
	Logging     LoggingConfig  `yaml:"logging"`
}

// ServerConfig holds server configuration
type ServerConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	CorsOrigins     []string      `yaml:"cors_origins"`
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Driver       string        `yaml:"driver"`
	SQLitePath   string        `yaml:"sqlite_path"`
	Host         string        `yaml:"host"`
	Port         int           `yaml:"port"`
	User         string        `yaml:"user"`
	Password     string        `yaml:"password"`
	Database     string        `yaml:"database"`
	MaxOpenConns int           `yaml:"max_open_conns"`
	MaxLifetime  time.Duration `yaml:"max_lifetime"`
	SSLMode      string        `yaml:"ssl_mode"`
	AutoMigrate  bool          `yaml:"auto_migrate"`
}

// NATSConfig holds NATS configuration
type NATSConfig struct {
	URL            string        `yaml:"url"`
	MaxReconnects  int           `yaml:"max_reconnects"`
	ReconnectWait  time.Duration `yaml:"reconnect_wait"`
	ConnectTimeout time.Duration `yaml:"connect_timeout"`
}

// EngineConfig holds trigger and generation loop configuration
type EngineConfig struct {
	EventsTopic       string        `yaml:"events_topic"`
	EvaluationPeriod  time.Duration `yaml:"evaluation_period"`
	Cooldown          time.Duration `yaml:"cooldown"`
	MaxInFlight       time.Duration `yaml:"max_in_flight"`
	FailureBackoff    time.Duration `yaml:"failure_backoff"`
	HistorySize       int           `yaml:"history_size"`
	GenerationTimeout time.Duration `yaml:"generation_timeout"`
	Seed              int64         `yaml:"seed"`
}

// AnchorsConfig holds anchor lookup configuration
type AnchorsConfig struct {
	WikipediaURL   string        `yaml:"wikipedia_url"`
	Limit          int           `yaml:"limit"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
	TilePrecision  int           `yaml:"tile_precision"`
	CacheTTL       time.Duration `yaml:"cache_ttl"`
}

// TextGenConfig holds text-generation collaborator configuration
type TextGenConfig struct {
	Provider          string  `yaml:"provider"`
	APIKey            string  `yaml:"api_key"`
	Model             string  `yaml:"model"`
	Temperature       float64 `yaml:"temperature"`
	MaxOutputTokens   int     `yaml:"max_output_tokens"`
	TopP              float64 `yaml:"top_p"`
	RepetitionPenalty float64 `yaml:"repetition_penalty"`
}

// LoggingConfig holds logger configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Defaults returns the built-in configuration
func Defaults() Config {
	return Config{
		Environment: "development",
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            8080,
			ReadTimeout:     10 * time.Second,
			WriteTimeout:    90 * time.Second,
			ShutdownTimeout: 10 * time.Second,
			CorsOrigins:     []string{"*"},
		},
		Database: DatabaseConfig{
			Driver:       "sqlite",
			SQLitePath:   "latent.db",
			Host:         "localhost",
			Port:         5432,
			User:         "postgres",
			Password:     "postgres",
			Database:     "latent",
			MaxOpenConns: 10,
			MaxLifetime:  5 * time.Minute,
			SSLMode:      "disable",
			AutoMigrate:  true,
		},
		NATS: NATSConfig{
			URL:            "",
			MaxReconnects:  10,
			ReconnectWait:  1 * time.Second,
			ConnectTimeout: 2 * time.Second,
		},
		Engine: EngineConfig{
			EventsTopic:       "transmission",
			EvaluationPeriod:  5 * time.Second,
			Cooldown:          10 * time.Second,
			MaxInFlight:       2 * time.Minute,
			FailureBackoff:    30 * time.Second,
			HistorySize:       50,
			GenerationTimeout: 45 * time.Second,
		},
		Anchors: AnchorsConfig{
			WikipediaURL:   "https://en.wikipedia.org/w/api.php",
			Limit:          50,
			RequestTimeout: 10 * time.Second,
			TilePrecision:  3,
			CacheTTL:       24 * time.Hour,
		},
		TextGen: TextGenConfig{
			Provider:          "genai",
			Model:             "gemini-2.0-flash",
			Temperature:       0.9,
			MaxOutputTokens:   120,
			TopP:              0.92,
			RepetitionPenalty: 1.15,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
		},
	}
}

// Load loads configuration from an optional .env file, an optional YAML
// file named by LATENT_CONFIG_FILE, then environment variables
func Load() (Config, error) {
	// A missing .env is not an error
	_ = godotenv.Load()

	config := Defaults()

	if path := os.Getenv("LATENT_CONFIG_FILE"); path != "" {
		if err := loadFile(path, &config); err != nil {
			return config, err
		}
	}

	applyEnv(&config)

	return config, validate(config)
}

// loadFile overlays YAML values from path onto config
func loadFile(path string, config *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("error reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, config); err != nil {
		return fmt.Errorf("error parsing config file %s: %w", path, err)
	}

	return nil
}

// applyEnv overrides config with any environment variables that are set
func applyEnv(c *Config) {
	c.Environment = getEnv("APP_ENV", c.Environment)

	c.Server = ServerConfig{
		Host:            getEnv("SERVER_HOST", c.Server.Host),
		Port:            getEnvAsInt("SERVER_PORT", c.Server.Port),
		ReadTimeout:     getEnvAsDuration("SERVER_READ_TIMEOUT", c.Server.ReadTimeout),
		WriteTimeout:    getEnvAsDuration("SERVER_WRITE_TIMEOUT", c.Server.WriteTimeout),
		ShutdownTimeout: getEnvAsDuration("SERVER_SHUTDOWN_TIMEOUT", c.Server.ShutdownTimeout),
		CorsOrigins:     getEnvAsSlice("SERVER_CORS_ORIGINS", c.Server.CorsOrigins),
	}

	c.Database = DatabaseConfig{
		Driver:       getEnv("DB_DRIVER", c.Database.Driver),
		SQLitePath:   getEnv("DB_SQLITE_PATH", c.Database.SQLitePath),
		Host:         getEnv("DB_HOST", c.Database.Host),
		Port:         getEnvAsInt("DB_PORT", c.Database.Port),
		User:         getEnv("DB_USER", c.Database.User),
		Password:     getEnv("DB_PASSWORD", c.Database.Password),
		Database:     getEnv("DB_NAME", c.Database.Database),
		MaxOpenConns: getEnvAsInt("DB_MAX_OPEN_CONNS", c.Database.MaxOpenConns),
		MaxLifetime:  getEnvAsDuration("DB_MAX_LIFETIME", c.Database.MaxLifetime),
		SSLMode:      getEnv("DB_SSL_MODE", c.Database.SSLMode),
		AutoMigrate:  getEnvAsBool("DB_AUTO_MIGRATE", c.Database.AutoMigrate),
	}

	c.NATS = NATSConfig{
		URL:            getEnv("NATS_URL", c.NATS.URL),
		MaxReconnects:  getEnvAsInt("NATS_MAX_RECONNECTS", c.NATS.MaxReconnects),
		ReconnectWait:  getEnvAsDuration("NATS_RECONNECT_WAIT", c.NATS.ReconnectWait),
		ConnectTimeout: getEnvAsDuration("NATS_CONNECT_TIMEOUT", c.NATS.ConnectTimeout),
	}

	c.Engine = EngineConfig{
		EventsTopic:       getEnv("ENGINE_EVENTS_TOPIC", c.Engine.EventsTopic),
		EvaluationPeriod:  getEnvAsDuration("ENGINE_EVALUATION_PERIOD", c.Engine.EvaluationPeriod),
		Cooldown:          getEnvAsDuration("ENGINE_COOLDOWN", c.Engine.Cooldown),
		MaxInFlight:       getEnvAsDuration("ENGINE_MAX_IN_FLIGHT", c.Engine.MaxInFlight),
		FailureBackoff:    getEnvAsDuration("ENGINE_FAILURE_BACKOFF", c.Engine.FailureBackoff),
		HistorySize:       getEnvAsInt("ENGINE_HISTORY_SIZE", c.Engine.HistorySize),
		GenerationTimeout: getEnvAsDuration("ENGINE_GENERATION_TIMEOUT", c.Engine.GenerationTimeout),
		Seed:              getEnvAsInt64("ENGINE_SEED", c.Engine.Seed),
	}

	c.Anchors = AnchorsConfig{
		WikipediaURL:   getEnv("ANCHORS_WIKIPEDIA_URL", c.Anchors.WikipediaURL),
		Limit:          getEnvAsInt("ANCHORS_LIMIT", c.Anchors.Limit),
		RequestTimeout: getEnvAsDuration("ANCHORS_REQUEST_TIMEOUT", c.Anchors.RequestTimeout),
		TilePrecision:  getEnvAsInt("ANCHORS_TILE_PRECISION", c.Anchors.TilePrecision),
		CacheTTL:       getEnvAsDuration("ANCHORS_CACHE_TTL", c.Anchors.CacheTTL),
	}

	c.TextGen = TextGenConfig{
		Provider:          getEnv("TEXTGEN_PROVIDER", c.TextGen.Provider),
		APIKey:            getEnv("GEMINI_API_KEY", c.TextGen.APIKey),
		Model:             getEnv("TEXTGEN_MODEL", c.TextGen.Model),
		Temperature:       getEnvAsFloat("TEXTGEN_TEMPERATURE", c.TextGen.Temperature),
		MaxOutputTokens:   getEnvAsInt("TEXTGEN_MAX_OUTPUT_TOKENS", c.TextGen.MaxOutputTokens),
		TopP:              getEnvAsFloat("TEXTGEN_TOP_P", c.TextGen.TopP),
		RepetitionPenalty: getEnvAsFloat("TEXTGEN_REPETITION_PENALTY", c.TextGen.RepetitionPenalty),
	}

	c.Logging = LoggingConfig{
		Level:  getEnv("LOG_LEVEL", c.Logging.Level),
		Format: getEnv("LOG_FORMAT", c.Logging.Format),
	}
}

// validate checks if config is valid
func validate(config Config) error {
	var errs []error

	switch config.Database.Driver {
	case "postgres", "sqlite":
	default:
		errs = append(errs, fmt.Errorf("unknown database driver %q", config.Database.Driver))
	}

	if config.Engine.EvaluationPeriod <= 0 {
		errs = append(errs, errors.New("engine evaluation period must be positive"))
	}
	if config.Engine.Cooldown < 0 {
		errs = append(errs, errors.New("engine cooldown must not be negative"))
	}
	if config.Engine.MaxInFlight < 0 {
		errs = append(errs, errors.New("engine max in-flight duration must not be negative"))
	}
	if config.Engine.FailureBackoff < 0 {
		errs = append(errs, errors.New("engine failure backoff must not be negative"))
	}
	if config.Server.WriteTimeout > 0 &&
		(config.Engine.GenerationTimeout <= 0 || config.Engine.GenerationTimeout >= config.Server.GenerationRequestTimeout()) {
		errs = append(errs, fmt.Errorf("engine generation timeout %s must be positive and shorter than the generation request timeout %s",
			config.Engine.GenerationTimeout, config.Server.GenerationRequestTimeout()))
	}
	if config.Anchors.TilePrecision < 0 || config.Anchors.TilePrecision > 8 {
		errs = append(errs, fmt.Errorf("anchor tile precision %d outside [0,8]", config.Anchors.TilePrecision))
	}

	switch config.TextGen.Provider {
	case "genai":
		if config.TextGen.APIKey == "" && config.Environment != "development" {
			errs = append(errs, errors.New("GEMINI_API_KEY must be set in non-development environments"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown text generation provider %q", config.TextGen.Provider))
	}

	return errors.Join(errs...)
}

// DatabaseURL returns the PostgreSQL connection string
func (c DatabaseConfig) DatabaseURL() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.User,
		c.Password,
		c.Host,
		c.Port,
		c.Database,
		c.SSLMode,
	)
}

// Address returns the listen address
func (c ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// GenerationRequestTimeout bounds requests that may run a generation. It
// stays under the write deadline so a timed-out request still gets its
// 504 instead of a dropped connection.
func (c ServerConfig) GenerationRequestTimeout() time.Duration {
	if c.WriteTimeout <= 0 {
		return 90 * time.Second
	}
	return c.WriteTimeout * 9 / 10
}

// RequestTimeout bounds every other API request
func (c ServerConfig) RequestTimeout() time.Duration {
	if timeout := c.GenerationRequestTimeout(); timeout < 30*time.Second {
		return timeout
	}
	return 30 * time.Second
}

// Helper functions

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsInt64(key string, defaultValue int64) int64 {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseInt(valueStr, 10, 64); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseFloat(valueStr, 64); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseBool(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if value, err := time.ParseDuration(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsSlice(key string, defaultValue []string) []string {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}
	return strings.Split(valueStr, ",")
}
