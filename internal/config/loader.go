package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rpattn/driftetl/internal/db"
	"github.com/rpattn/driftetl/internal/export"
	"github.com/rpattn/driftetl/internal/extract"

	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every environment override, e.g.
// DRIFTETL_SERVER_ADDR or DRIFTETL_DATABASE_HOST.
const EnvPrefix = "DRIFTETL"

// Config is the full runtime configuration.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Parser   ParserConfig   `mapstructure:"parser"`
	Database DatabaseConfig `mapstructure:"database"`
	Export   ExportConfig   `mapstructure:"export"`
	Log      LogConfig      `mapstructure:"log"`
}

type ServerConfig struct {
	Addr           string        `mapstructure:"addr"`
	ReadTimeout    time.Duration `mapstructure:"read_timeout"`
	WriteTimeout   time.Duration `mapstructure:"write_timeout"`
	AllowedOrigins []string      `mapstructure:"allowed_origins"`
	RateLimit      float64       `mapstructure:"rate_limit"`
	RateBurst      int           `mapstructure:"rate_burst"`
	MaxUploadBytes int64         `mapstructure:"max_upload_bytes"`
	JobRetention   int           `mapstructure:"job_retention"`
}

type ParserConfig struct {
	MaxDocumentBytes  int `mapstructure:"max_document_bytes"`
	MaxCandidateBytes int `mapstructure:"max_candidate_bytes"`
	Workers           int `mapstructure:"workers"`
}

type DatabaseConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	DBName   string `mapstructure:"dbname"`
	SSLMode  string `mapstructure:"sslmode"`
	MaxConns int32  `mapstructure:"max_conns"`
}

type ExportConfig struct {
	Dir              string        `mapstructure:"dir"`
	DownloadTokenTTL time.Duration `mapstructure:"download_token_ttl"`
	Minio            MinioConfig   `mapstructure:"minio"`
}

type MinioConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	Endpoint  string `mapstructure:"endpoint"`
	AccessKey string `mapstructure:"access_key"`
	SecretKey string `mapstructure:"secret_key"`
	Bucket    string `mapstructure:"bucket"`
	Region    string `mapstructure:"region"`
	Prefix    string `mapstructure:"prefix"`
	UseSSL    bool   `mapstructure:"use_ssl"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Load reads config.yaml from configPath when present, then applies
// DRIFTETL_* environment overrides on top of the defaults.
func Load(configPath string) (Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	if configPath != "" {
		v.AddConfigPath(configPath)
	}
	v.AddConfigPath(".")
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return Config{}, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("failed to decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	dbDefaults := db.DefaultConfig()
	parserDefaults := extract.DefaultConfig()

	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.read_timeout", 15*time.Second)
	v.SetDefault("server.write_timeout", 15*time.Second)
	v.SetDefault("server.allowed_origins", []string{"http://localhost:3000"})
	v.SetDefault("server.rate_limit", 20.0)
	v.SetDefault("server.rate_burst", 40)
	v.SetDefault("server.max_upload_bytes", int64(32<<20))
	v.SetDefault("server.job_retention", 1000)

	v.SetDefault("parser.max_document_bytes", parserDefaults.MaxDocumentBytes)
	v.SetDefault("parser.max_candidate_bytes", parserDefaults.MaxCandidateBytes)
	v.SetDefault("parser.workers", parserDefaults.Workers)

	v.SetDefault("database.enabled", false)
	v.SetDefault("database.host", dbDefaults.Host)
	v.SetDefault("database.port", dbDefaults.Port)
	v.SetDefault("database.user", dbDefaults.User)
	v.SetDefault("database.password", dbDefaults.Password)
	v.SetDefault("database.dbname", dbDefaults.DBName)
	v.SetDefault("database.sslmode", dbDefaults.SSLMode)
	v.SetDefault("database.max_conns", 5)

	v.SetDefault("export.dir", "")
	v.SetDefault("export.download_token_ttl", 5*time.Minute)
	v.SetDefault("export.minio.enabled", false)
	v.SetDefault("export.minio.endpoint", "localhost:9000")
	v.SetDefault("export.minio.access_key", "")
	v.SetDefault("export.minio.secret_key", "")
	v.SetDefault("export.minio.bucket", "driftetl")
	v.SetDefault("export.minio.region", "")
	v.SetDefault("export.minio.prefix", "")
	v.SetDefault("export.minio.use_ssl", false)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
}

// Validate rejects settings the server cannot start with.
func (c Config) Validate() error {
	if strings.TrimSpace(c.Server.Addr) == "" {
		return fmt.Errorf("server.addr must not be empty")
	}
	if c.Server.RateLimit < 0 || c.Server.RateBurst < 0 {
		return fmt.Errorf("server rate limit settings must not be negative")
	}
	if c.Server.MaxUploadBytes <= 0 {
		return fmt.Errorf("server.max_upload_bytes must be positive")
	}
	if c.Parser.Workers <= 0 {
		return fmt.Errorf("parser.workers must be positive")
	}
	if c.Export.Minio.Enabled && strings.TrimSpace(c.Export.Minio.Bucket) == "" {
		return fmt.Errorf("export.minio.bucket is required when minio is enabled")
	}
	return nil
}

// DB converts the database section into connection settings.
func (d DatabaseConfig) DB() db.Config {
	return db.Config{
		Host:     d.Host,
		Port:     d.Port,
		User:     d.User,
		Password: d.Password,
		DBName:   d.DBName,
		SSLMode:  d.SSLMode,
		MaxConns: d.MaxConns,
	}
}

// Extract converts the parser section into parser limits.
func (p ParserConfig) Extract() extract.Config {
	return extract.Config{
		MaxDocumentBytes:  p.MaxDocumentBytes,
		MaxCandidateBytes: p.MaxCandidateBytes,
		Workers:           p.Workers,
	}
}

// Sink converts the minio section into sink settings.
func (m MinioConfig) Sink() export.MinioConfig {
	return export.MinioConfig{
		Endpoint:  m.Endpoint,
		AccessKey: m.AccessKey,
		SecretKey: m.SecretKey,
		Bucket:    m.Bucket,
		Region:    m.Region,
		Prefix:    m.Prefix,
		UseSSL:    m.UseSSL,
	}
}
