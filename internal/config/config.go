package config

import (
	"log"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
	"github.com/joho/godotenv"
)

// Config holds all agent configuration
type Config struct {
	Server   Server   `yaml:"server"`
	Session  Session  `yaml:"session"`
	API      API      `yaml:"api"`
	Socket   Socket   `yaml:"socket"`
	Database Database `yaml:"database"`
	Mirror   Mirror   `yaml:"mirror"`
	S3       S3       `yaml:"s3"`
}

// Server holds the agent's local HTTP server configuration
type Server struct {
	Host         string        `yaml:"host" env:"SERVER_HOST" env-default:"127.0.0.1"`
	Port         string        `yaml:"port" env:"SERVER_PORT" env-default:"8090"`
	ReadTimeout  time.Duration `yaml:"read_timeout" env:"SERVER_READ_TIMEOUT" env-default:"15s"`
	WriteTimeout time.Duration `yaml:"write_timeout" env:"SERVER_WRITE_TIMEOUT" env-default:"15s"`
	IdleTimeout  time.Duration `yaml:"idle_timeout" env:"SERVER_IDLE_TIMEOUT" env-default:"60s"`
}

// Address returns the full server address
func (s Server) Address() string {
	return s.Host + ":" + s.Port
}

// Session identifies the authenticated participant the agent runs as.
// Authentication itself is an external concern; the agent receives a
// ready-made token.
type Session struct {
	ParticipantID string `yaml:"participant_id" env:"SESSION_PARTICIPANT_ID"`
	Role          string `yaml:"role" env:"SESSION_ROLE" env-default:"student"`
	DisplayName   string `yaml:"display_name" env:"SESSION_DISPLAY_NAME"`
	AuthToken     string `yaml:"auth_token" env:"SESSION_AUTH_TOKEN"`
}

// API holds the EduSphere REST backend configuration
type API struct {
	BaseURL string        `yaml:"base_url" env:"API_BASE_URL" env-default:"https://api.edusphere.app"`
	Timeout time.Duration `yaml:"timeout" env:"API_TIMEOUT" env-default:"30s"`
}

// Socket holds the realtime connection configuration
type Socket struct {
	URL        string        `yaml:"url" env:"SOCKET_URL" env-default:"wss://api.edusphere.app/socket"`
	MaxRetries int           `yaml:"max_retries" env:"SOCKET_MAX_RETRIES" env-default:"5"`
	Backoff    time.Duration `yaml:"backoff" env:"SOCKET_BACKOFF" env-default:"1s"`
	PingPeriod time.Duration `yaml:"ping_period" env:"SOCKET_PING_PERIOD" env-default:"30s"`
}

// Database holds mirror cache database configuration. An empty DSN disables
// the mirror entirely; the agent then only maintains in-memory state.
type Database struct {
	PostgresDSN string `yaml:"postgres_dsn" env:"DATABASE_URL"`
	MaxConns    int32  `yaml:"max_conns" env:"DB_MAX_CONNS" env-default:"10"`
	MinConns    int32  `yaml:"min_conns" env:"DB_MIN_CONNS" env-default:"2"`
}

// Mirror holds mirror scheduler configuration
type Mirror struct {
	Enabled   bool          `yaml:"enabled" env:"MIRROR_ENABLED" env-default:"false"`
	Interval  time.Duration `yaml:"interval" env:"MIRROR_INTERVAL" env-default:"5m"`
	BatchSize int           `yaml:"batch_size" env:"MIRROR_BATCH_SIZE" env-default:"20"`
}

// S3 holds attachment store configuration
type S3 struct {
	Endpoint        string `yaml:"endpoint" env:"S3_ENDPOINT" env-default:"http://localhost:9000"`
	AccessKeyID     string `yaml:"access_key_id" env:"S3_ACCESS_KEY_ID" env-default:"minioadmin"`
	SecretAccessKey string `yaml:"secret_access_key" env:"S3_SECRET_ACCESS_KEY" env-default:"minioadmin"`
	Bucket          string `yaml:"bucket" env:"S3_BUCKET" env-default:"chat-media"`
	Region          string `yaml:"region" env:"S3_REGION" env-default:"us-east-1"`
	PublicURL       string `yaml:"public_url" env:"S3_PUBLIC_URL" env-default:"http://localhost:9000/chat-media"`
}

// MustLoad loads configuration from environment and panics on error
func MustLoad() Config {
	// Load .env file if exists (for development)
	_ = godotenv.Load()

	var cfg Config
	if err := cleanenv.ReadEnv(&cfg); err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	return cfg
}

// LoadFromFile loads configuration from a YAML file
func LoadFromFile(path string) (Config, error) {
	var cfg Config
	if err := cleanenv.ReadConfig(path, &cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}
