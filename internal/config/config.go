package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config represents the application configuration
type Config struct {
	Server     ServerConfig     `json:"server"`
	Mongo      MongoConfig      `json:"mongo"`
	Database   DatabaseConfig   `json:"database"`
	Redis      RedisConfig      `json:"redis"`
	Analysis   AnalysisConfig   `json:"analysis"`
	Scheduler  SchedulerConfig  `json:"scheduler"`
	Rewards    RewardsConfig    `json:"rewards"`
	Geospatial GeospatialConfig `json:"geospatial"`
	AWS        AWSConfig        `json:"aws"`
	Search     SearchConfig     `json:"search"`
	Logging    LoggingConfig    `json:"logging"`
}

// ServerConfig represents server configuration
type ServerConfig struct {
	Host            string   `json:"host"`
	Port            int      `json:"port"`
	ReadTimeout     Duration `json:"read_timeout"`
	WriteTimeout    Duration `json:"write_timeout"`
	ShutdownTimeout Duration `json:"shutdown_timeout"`
}

// MongoConfig locates the submission store
type MongoConfig struct {
	URI      string `json:"uri"`
	Database string `json:"database"`
}

// DatabaseConfig represents the Postgres configuration used by the ledger and review queue
type DatabaseConfig struct {
	Host           string   `json:"host"`
	Port           int      `json:"port"`
	User           string   `json:"user"`
	Password       string   `json:"password"`
	DBName         string   `json:"db_name"`
	SSLMode        string   `json:"ssl_mode"`
	MaxConnections int      `json:"max_connections"`
	MaxIdleConns   int      `json:"max_idle_conns"`
	MaxLifetime    Duration `json:"max_lifetime"`
}

// RedisConfig enables the shared tick lock when Addr is set
type RedisConfig struct {
	Addr      string `json:"addr"`
	Password  string `json:"password"`
	DB        int    `json:"db"`
	KeyPrefix string `json:"key_prefix"`
}

// AnalysisConfig configures the content-analysis capability
type AnalysisConfig struct {
	APIKey            string   `json:"api_key"`
	Model             string   `json:"model"`
	Temperature       float32  `json:"temperature"`
	TaskTimeout       Duration `json:"task_timeout"`
	RequestsPerSecond float64  `json:"requests_per_second"`
	Burst             int      `json:"burst"`
	Synthesis         bool     `json:"synthesis"`
}

// KindSchedule is the cadence of one submission kind
type KindSchedule struct {
	Spec      string `json:"spec"`
	BatchSize int    `json:"batch_size"`
}

// SchedulerConfig configures the verification scheduler
type SchedulerConfig struct {
	Complaints  KindSchedule `json:"complaints"`
	Plantations KindSchedule `json:"plantations"`
	MaxAttempts int          `json:"max_attempts"`
	LockTTL     Duration     `json:"lock_ttl"`
}

// RewardsConfig points at an optional YAML reward policy
type RewardsConfig struct {
	PolicyFile string `json:"policy_file"`
}

// GeospatialConfig points at an optional GeoJSON protected-zone catalog
type GeospatialConfig struct {
	ZonesFile string `json:"zones_file"`
}

// AWSConfig configures the audit archive and the status topic
type AWSConfig struct {
	Region          string `json:"region"`
	AccessKeyID     string `json:"access_key_id"`
	SecretAccessKey string `json:"secret_access_key"`
	Endpoint        string `json:"endpoint"`
	ArchiveBucket   string `json:"archive_bucket"`
	StatusTopicARN  string `json:"status_topic_arn"`
}

// SearchConfig configures the Elasticsearch verification index
type SearchConfig struct {
	Addresses []string `json:"addresses"`
	Username  string   `json:"username"`
	Password  string   `json:"password"`
	Index     string   `json:"index"`
}

// LoggingConfig
type LoggingConfig struct {
	Level string `json:"level"`
}

// Duration is a time.Duration that reads "30s" style strings from JSON
type Duration time.Duration

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

func (d *Duration) UnmarshalJSON(b []byte) error {
	var v interface{}
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	switch value := v.(type) {
	case float64:
		*d = Duration(time.Duration(value))
	case string:
		parsed, err := time.ParseDuration(value)
		if err != nil {
			return fmt.Errorf("invalid duration %q: %w", value, err)
		}
		*d = Duration(parsed)
	default:
		return fmt.Errorf("invalid duration %v", v)
	}
	return nil
}

// Std returns the value as a time.Duration
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Default returns the configuration used when no file or environment overrides it
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            8080,
			ReadTimeout:     Duration(15 * time.Second),
			WriteTimeout:    Duration(15 * time.Second),
			ShutdownTimeout: Duration(10 * time.Second),
		},
		Mongo: MongoConfig{
			URI:      "mongodb://localhost:27017",
			Database: "carbon_scribe",
		},
		Database: DatabaseConfig{
			Host:           "localhost",
			Port:           5432,
			User:           os.Getenv("USER"),
			DBName:         "carbon_scribe",
			SSLMode:        "disable",
			MaxConnections: 10,
			MaxIdleConns:   5,
			MaxLifetime:    Duration(30 * time.Minute),
		},
		Redis: RedisConfig{
			KeyPrefix: "carbon-scribe:",
		},
		Analysis: AnalysisConfig{
			Model:             "gemini-2.0-flash",
			Temperature:       0.1,
			TaskTimeout:       Duration(45 * time.Second),
			RequestsPerSecond: 2,
			Burst:             4,
			Synthesis:         true,
		},
		Scheduler: SchedulerConfig{
			Complaints:  KindSchedule{Spec: "@every 1m", BatchSize: 10},
			Plantations: KindSchedule{Spec: "@every 30s", BatchSize: 5},
			MaxAttempts: 5,
			LockTTL:     Duration(10 * time.Minute),
		},
		AWS: AWSConfig{
			Region: "us-east-1",
		},
		Search: SearchConfig{
			Index: "verifications",
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// LoadConfig loads configuration from file and environment variables. A .env file in the
// working directory is read first; variables already set in the environment win.
func LoadConfig(configPath string) (*Config, error) {
	_ = godotenv.Load()

	config := Default()

	if configPath != "" {
		data, err := os.ReadFile(configPath)
		if err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err == nil {
			if err := json.Unmarshal(data, config); err != nil {
				return nil, fmt.Errorf("failed to parse config file: %w", err)
			}
		}
	}

	overrideWithEnv(config)

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

// Validate checks values that would otherwise fail late
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port %d", c.Server.Port)
	}
	if c.Scheduler.Complaints.BatchSize <= 0 || c.Scheduler.Plantations.BatchSize <= 0 {
		return fmt.Errorf("scheduler batch sizes must be positive")
	}
	if c.Scheduler.MaxAttempts <= 0 {
		return fmt.Errorf("scheduler max_attempts must be positive")
	}
	if c.Analysis.RequestsPerSecond <= 0 {
		return fmt.Errorf("analysis requests_per_second must be positive")
	}
	return nil
}

func overrideWithEnv(config *Config) {
	setString(&config.Server.Host, "SERVER_HOST")
	setInt(&config.Server.Port, "SERVER_PORT")

	setString(&config.Mongo.URI, "MONGO_URI")
	setString(&config.Mongo.Database, "MONGO_DATABASE")

	setString(&config.Database.Host, "DATABASE_HOST")
	setInt(&config.Database.Port, "DATABASE_PORT")
	setString(&config.Database.User, "DATABASE_USER")
	setString(&config.Database.Password, "DATABASE_PASSWORD")
	setString(&config.Database.DBName, "DATABASE_DBNAME")
	setString(&config.Database.SSLMode, "DATABASE_SSLMODE")

	setString(&config.Redis.Addr, "REDIS_ADDR")
	setString(&config.Redis.Password, "REDIS_PASSWORD")
	setInt(&config.Redis.DB, "REDIS_DB")

	setString(&config.Analysis.APIKey, "GEMINI_API_KEY")
	setString(&config.Analysis.Model, "GEMINI_MODEL")

	setString(&config.Scheduler.Complaints.Spec, "SCHEDULER_COMPLAINTS_SPEC")
	setString(&config.Scheduler.Plantations.Spec, "SCHEDULER_PLANTATIONS_SPEC")
	setInt(&config.Scheduler.MaxAttempts, "SCHEDULER_MAX_ATTEMPTS")

	setString(&config.Rewards.PolicyFile, "REWARDS_POLICY_FILE")
	setString(&config.Geospatial.ZonesFile, "GEOSPATIAL_ZONES_FILE")

	setString(&config.AWS.Region, "AWS_REGION")
	setString(&config.AWS.AccessKeyID, "AWS_ACCESS_KEY_ID")
	setString(&config.AWS.SecretAccessKey, "AWS_SECRET_ACCESS_KEY")
	setString(&config.AWS.Endpoint, "AWS_ENDPOINT_URL")
	setString(&config.AWS.ArchiveBucket, "ARCHIVE_BUCKET")
	setString(&config.AWS.StatusTopicARN, "STATUS_TOPIC_ARN")

	if addrs := os.Getenv("ELASTICSEARCH_ADDRESSES"); addrs != "" {
		config.Search.Addresses = strings.Split(addrs, ",")
	}
	setString(&config.Search.Username, "ELASTICSEARCH_USERNAME")
	setString(&config.Search.Password, "ELASTICSEARCH_PASSWORD")

	setString(&config.Logging.Level, "LOG_LEVEL")
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

// GetDatabaseURL returns the database connection string
func (c *DatabaseConfig) GetDatabaseURL() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.DBName, c.SSLMode)
}

// GetServerAddr returns the server address
func (c *ServerConfig) GetServerAddr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}
