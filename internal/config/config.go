package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config is the process-wide configuration, constructed once at start and
// passed explicitly to every component.
type Config struct {
	Server        ServerConfig        `mapstructure:"server"`
	Database      DatabaseConfig      `mapstructure:"database"`
	Qdrant        QdrantConfig        `mapstructure:"qdrant"`
	Embedding     EmbeddingConfig     `mapstructure:"embedding"`
	LLM           LLMConfig           `mapstructure:"llm"`
	Transcription TranscriptionConfig `mapstructure:"transcription"`
	Acquisition   AcquisitionConfig   `mapstructure:"acquisition"`
	Blog          BlogConfig          `mapstructure:"blog"`
	Storage       StorageConfig       `mapstructure:"storage"`
	RAG           RAGConfig           `mapstructure:"rag"`
}

type ServerConfig struct {
	Port         int           `mapstructure:"port"`
	Mode         string        `mapstructure:"mode"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	CORS         CORSConfig    `mapstructure:"cors"`
}

type CORSConfig struct {
	AllowedOrigins  []string `mapstructure:"allowed_origins"`
	AllowAllOrigins bool     `mapstructure:"allow_all_origins"`
}

// DatabaseConfig selects the pipeline-run store. Driver is "sqlite" or "postgres".
type DatabaseConfig struct {
	Driver          string        `mapstructure:"driver"`
	Path            string        `mapstructure:"path"`
	URL             string        `mapstructure:"url"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	AutoMigrate     bool          `mapstructure:"auto_migrate"`
}

// DSN returns the driver-specific connection string.
func (c *DatabaseConfig) DSN() string {
	if c.Driver == "postgres" {
		return c.URL
	}
	return c.Path
}

type QdrantConfig struct {
	Host          string        `mapstructure:"host"`
	Port          int           `mapstructure:"port"`
	Collection    string        `mapstructure:"collection"`
	APIKey        string        `mapstructure:"api_key"`
	UseTLS        bool          `mapstructure:"use_tls"`
	Dimension     int           `mapstructure:"dimension"`
	ReadyTimeout  time.Duration `mapstructure:"ready_timeout"`
	PollInterval  time.Duration `mapstructure:"poll_interval"`
	BatchSize     int           `mapstructure:"batch_size"`
	UpsertWorkers int           `mapstructure:"upsert_workers"`
	UpsertRetries int           `mapstructure:"upsert_retries"`
}

// EmbeddingConfig selects the sentence-embedding server.
// Provider is "tei" (text-embeddings-inference) or "openai-compatible".
type EmbeddingConfig struct {
	Provider   string        `mapstructure:"provider"`
	BaseURL    string        `mapstructure:"base_url"`
	Model      string        `mapstructure:"model"`
	APIKey     string        `mapstructure:"api_key"`
	Dimensions int           `mapstructure:"dimensions"`
	BatchSize  int           `mapstructure:"batch_size"`
	Timeout    time.Duration `mapstructure:"timeout"`
}

// LLMConfig points at an OpenAI-compatible chat completion endpoint.
type LLMConfig struct {
	BaseURL     string        `mapstructure:"base_url"`
	APIKey      string        `mapstructure:"api_key"`
	Model       string        `mapstructure:"model"`
	Temperature float64       `mapstructure:"temperature"`
	MaxTokens   int64         `mapstructure:"max_tokens"`
	Timeout     time.Duration `mapstructure:"timeout"`
}

type TranscriptionConfig struct {
	BaseURL         string        `mapstructure:"base_url"`
	APIKey          string        `mapstructure:"api_key"`
	PollInterval    time.Duration `mapstructure:"poll_interval"`
	MaxWait         time.Duration `mapstructure:"max_wait"`
	WithDiarization bool          `mapstructure:"with_diarization"`
	OutputDir       string        `mapstructure:"output_dir"`
	Timeout         time.Duration `mapstructure:"timeout"`
}

type AcquisitionConfig struct {
	YtDlpPath  string        `mapstructure:"ytdlp_path"`
	FFmpegPath string        `mapstructure:"ffmpeg_path"`
	WorkDir    string        `mapstructure:"work_dir"`
	SampleRate int           `mapstructure:"sample_rate"`
	Timeout    time.Duration `mapstructure:"timeout"`
}

type BlogConfig struct {
	ChunkSize      int           `mapstructure:"chunk_size"`
	ChunkOverlap   int           `mapstructure:"chunk_overlap"`
	TokenMax       int           `mapstructure:"token_max"`
	SectionDelay   time.Duration `mapstructure:"section_delay"`
	MapConcurrency int           `mapstructure:"map_concurrency"`
}

// StorageConfig configures the optional S3-compatible artifact archive.
type StorageConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	Type      string `mapstructure:"type"`
	Endpoint  string `mapstructure:"endpoint"`
	AccessKey string `mapstructure:"access_key"`
	SecretKey string `mapstructure:"secret_key"`
	UseSSL    bool   `mapstructure:"use_ssl"`
	Bucket    string `mapstructure:"bucket"`
	Region    string `mapstructure:"region"`
	PublicURL string `mapstructure:"public_url"`
	Prefix    string `mapstructure:"prefix"`
}

type RAGConfig struct {
	TopK int `mapstructure:"top_k"`
}

// Load reads configuration from an optional YAML file, .env and the environment.
// Parameters:
//   - configPath: explicit config file; empty searches ./configs and the working directory.
//
// Returns:
//   - *Config: populated configuration.
//   - error: non-nil if the file exists but cannot be read or decoded.
func Load(configPath string) (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath("./configs")
		v.AddConfigPath(".")
	}

	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	// Secrets and deployment-specific values
	v.BindEnv("database.url", "DATABASE_URL")
	v.BindEnv("qdrant.host", "QDRANT_HOST")
	v.BindEnv("qdrant.port", "QDRANT_PORT")
	v.BindEnv("qdrant.api_key", "QDRANT_API_KEY")
	v.BindEnv("qdrant.use_tls", "QDRANT_USE_TLS")
	v.BindEnv("embedding.base_url", "EMBEDDING_BASE_URL")
	v.BindEnv("embedding.api_key", "EMBEDDING_API_KEY")
	v.BindEnv("llm.api_key", "LLM_API_KEY", "GROQ_API_KEY")
	v.BindEnv("llm.base_url", "LLM_BASE_URL")
	v.BindEnv("llm.model", "LLM_MODEL")
	v.BindEnv("transcription.api_key", "SARVAM_API_KEY")
	v.BindEnv("storage.endpoint", "STORAGE_ENDPOINT")
	v.BindEnv("storage.access_key", "STORAGE_ACCESS_KEY")
	v.BindEnv("storage.secret_key", "STORAGE_SECRET_KEY")
	v.BindEnv("storage.bucket", "STORAGE_BUCKET")

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.mode", "debug")
	v.SetDefault("server.read_timeout", 30*time.Second)
	v.SetDefault("server.write_timeout", 0*time.Second)
	v.SetDefault("server.cors.allow_all_origins", true)
	v.SetDefault("server.cors.allowed_origins", []string{})

	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.path", "./data/vidtalker.db")
	v.SetDefault("database.max_idle_conns", 2)
	v.SetDefault("database.max_open_conns", 4)
	v.SetDefault("database.conn_max_lifetime", time.Hour)
	v.SetDefault("database.auto_migrate", true)

	v.SetDefault("qdrant.host", "localhost")
	v.SetDefault("qdrant.port", 6334)
	v.SetDefault("qdrant.collection", "youtube-transcript-rag")
	v.SetDefault("qdrant.use_tls", false)
	v.SetDefault("qdrant.dimension", 384)
	v.SetDefault("qdrant.ready_timeout", 60*time.Second)
	v.SetDefault("qdrant.poll_interval", 500*time.Millisecond)
	v.SetDefault("qdrant.batch_size", 100)
	v.SetDefault("qdrant.upsert_workers", 4)
	v.SetDefault("qdrant.upsert_retries", 3)

	v.SetDefault("embedding.provider", "tei")
	v.SetDefault("embedding.base_url", "http://localhost:8081")
	v.SetDefault("embedding.model", "sentence-transformers/all-MiniLM-L6-v2")
	v.SetDefault("embedding.dimensions", 384)
	v.SetDefault("embedding.batch_size", 32)
	v.SetDefault("embedding.timeout", 30*time.Second)

	v.SetDefault("llm.base_url", "https://api.groq.com/openai/v1")
	v.SetDefault("llm.model", "llama-3.1-8b-instant")
	v.SetDefault("llm.temperature", 0.2)
	v.SetDefault("llm.max_tokens", 1024)
	v.SetDefault("llm.timeout", 120*time.Second)

	v.SetDefault("transcription.base_url", "https://api.sarvam.ai")
	v.SetDefault("transcription.poll_interval", 10*time.Second)
	v.SetDefault("transcription.max_wait", 30*time.Minute)
	v.SetDefault("transcription.with_diarization", true)
	v.SetDefault("transcription.output_dir", "./data/transcripts")
	v.SetDefault("transcription.timeout", 5*time.Minute)

	v.SetDefault("acquisition.ytdlp_path", "yt-dlp")
	v.SetDefault("acquisition.ffmpeg_path", "ffmpeg")
	v.SetDefault("acquisition.work_dir", "./data/audio")
	v.SetDefault("acquisition.sample_rate", 16000)
	v.SetDefault("acquisition.timeout", 15*time.Minute)

	v.SetDefault("blog.chunk_size", 2000)
	v.SetDefault("blog.chunk_overlap", 200)
	v.SetDefault("blog.token_max", 3000)
	v.SetDefault("blog.section_delay", 2*time.Second)
	v.SetDefault("blog.map_concurrency", 4)

	v.SetDefault("storage.enabled", false)
	v.SetDefault("storage.use_ssl", true)
	v.SetDefault("storage.bucket", "vidtalker")
	v.SetDefault("storage.prefix", "runs")

	v.SetDefault("rag.top_k", 5)
}

// Validate checks invariants that would otherwise fail deep inside a request.
func (c *Config) Validate() error {
	var errs []error

	if c.Qdrant.Collection == "" {
		errs = append(errs, errors.New("qdrant.collection is required"))
	}
	if c.Qdrant.Dimension <= 0 {
		errs = append(errs, errors.New("qdrant.dimension must be positive"))
	}
	if c.Embedding.Dimensions != c.Qdrant.Dimension {
		errs = append(errs, fmt.Errorf("embedding.dimensions (%d) must equal qdrant.dimension (%d)",
			c.Embedding.Dimensions, c.Qdrant.Dimension))
	}
	if c.Qdrant.BatchSize <= 0 {
		errs = append(errs, errors.New("qdrant.batch_size must be positive"))
	}
	switch c.Embedding.Provider {
	case "tei", "openai-compatible":
	default:
		errs = append(errs, fmt.Errorf("embedding.provider %q is not supported", c.Embedding.Provider))
	}
	if c.Embedding.BaseURL == "" {
		errs = append(errs, errors.New("embedding.base_url is required"))
	}
	if c.LLM.Model == "" {
		errs = append(errs, errors.New("llm.model is required"))
	}
	if c.Blog.ChunkOverlap >= c.Blog.ChunkSize {
		errs = append(errs, errors.New("blog.chunk_overlap must be smaller than blog.chunk_size"))
	}
	if c.RAG.TopK <= 0 {
		errs = append(errs, errors.New("rag.top_k must be positive"))
	}
	if c.Storage.Enabled && c.Storage.Endpoint == "" {
		errs = append(errs, errors.New("storage.endpoint is required when storage is enabled"))
	}

	return errors.Join(errs...)
}
