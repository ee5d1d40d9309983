package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	Server     ServerConfig
	SQLite     SQLiteConfig
	Index      IndexConfig
	Redis      RedisConfig
	Cache      CacheConfig
	LLM        LLMConfig
	Processing ProcessingConfig
	Upload     UploadConfig
	OCR        OCRConfig
	RateLimit  RateLimitConfig
	Logging    LoggingConfig
}

type ServerConfig struct {
	Host           string
	Port           int
	ReadTimeout    int
	WriteTimeout   int
	BodyLimit      int
	AllowedOrigins []string
	Development    bool
}

type SQLiteConfig struct {
	Path string
}

type IndexConfig struct {
	PersistDirectory string
	CollectionName   string
}

// SnapshotPath is the file holding the persisted index state.
func (c IndexConfig) SnapshotPath() string {
	return filepath.Join(c.PersistDirectory, "vector_store.json")
}

type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
}

type CacheConfig struct {
	Enabled bool
	TTLSec  int
}

type LLMConfig struct {
	Provider    string
	Model       string
	APIKey      string
	BaseURL     string
	Temperature float32
	MaxTokens   int
	TimeoutSec  int
}

type ProcessingConfig struct {
	ChunkSize int
	// ChunkOverlap is accepted for compatibility; the paragraph chunker does not overlap.
	ChunkOverlap         int
	MaxDocumentsPerQuery int
	SimilarityThreshold  float64
	AllowedExtensions    []string
	MinPDFTextLength     int
}

type UploadConfig struct {
	Dir         string
	MaxFileSize int64
}

type OCRConfig struct {
	Enabled       bool
	TesseractPath string
	PdftoppmPath  string
	Language      string
}

type RateLimitConfig struct {
	Enabled              bool
	MaxRequestsPerMinute int
}

type LoggingConfig struct {
	Level      string
	Format     string
	OutputPath string
}

const (
	ProviderOpenAI     = "openai"
	ProviderOpenRouter = "openrouter"
	ProviderGemini     = "gemini"
)

// Load reads configuration from an optional file, a .env file and the
// environment (prefix DOCSYNTH_, dots replaced by underscores).
func Load(configFile string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env file: %w", err)
	}

	v := viper.New()
	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		v.AddConfigPath("/etc/docsynth")
	}

	v.SetEnvPrefix("DOCSYNTH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if configFile != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &config, nil
}

// Validate reports every precondition the service needs before it starts.
func (c *Config) Validate() error {
	var errs []error

	switch c.LLM.Provider {
	case ProviderOpenAI, ProviderOpenRouter, ProviderGemini:
	default:
		errs = append(errs, fmt.Errorf("unsupported llm provider %q", c.LLM.Provider))
	}
	if c.LLM.APIKey == "" {
		errs = append(errs, fmt.Errorf("llm.apiKey is not set for provider %q", c.LLM.Provider))
	}
	if c.Processing.ChunkSize <= 0 {
		errs = append(errs, fmt.Errorf("processing.chunkSize must be positive, got %d", c.Processing.ChunkSize))
	}
	if c.Processing.MaxDocumentsPerQuery <= 0 {
		errs = append(errs, fmt.Errorf("processing.maxDocumentsPerQuery must be positive, got %d", c.Processing.MaxDocumentsPerQuery))
	}
	if c.Processing.SimilarityThreshold < 0 || c.Processing.SimilarityThreshold > 1 {
		errs = append(errs, fmt.Errorf("processing.similarityThreshold must be within [0,1], got %g", c.Processing.SimilarityThreshold))
	}
	if len(c.Processing.AllowedExtensions) == 0 {
		errs = append(errs, errors.New("processing.allowedExtensions must not be empty"))
	}

	return errors.Join(errs...)
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.readTimeout", 30)
	v.SetDefault("server.writeTimeout", 300)
	v.SetDefault("server.bodyLimit", 52428800)
	v.SetDefault("server.allowedOrigins", []string{})
	v.SetDefault("server.development", false)

	v.SetDefault("sqlite.path", "./data/docsynth.db")

	v.SetDefault("index.persistDirectory", "./chroma_db")
	v.SetDefault("index.collectionName", "document_embeddings")

	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)

	v.SetDefault("cache.enabled", false)
	v.SetDefault("cache.ttlSec", 3600)

	v.SetDefault("llm.provider", ProviderOpenAI)
	v.SetDefault("llm.model", "")
	v.SetDefault("llm.apiKey", "")
	v.SetDefault("llm.baseURL", "")
	v.SetDefault("llm.temperature", 0.1)
	v.SetDefault("llm.maxTokens", 1024)
	v.SetDefault("llm.timeoutSec", 60)

	v.SetDefault("processing.chunkSize", 1000)
	v.SetDefault("processing.chunkOverlap", 200)
	v.SetDefault("processing.maxDocumentsPerQuery", 20)
	v.SetDefault("processing.similarityThreshold", 0.7)
	v.SetDefault("processing.allowedExtensions", []string{"pdf", "png", "jpg", "jpeg", "tiff", "bmp", "txt", "docx", "html", "htm"})
	v.SetDefault("processing.minPDFTextLength", 50)

	v.SetDefault("upload.dir", "./uploads")
	v.SetDefault("upload.maxFileSize", 52428800)

	v.SetDefault("ocr.enabled", true)
	v.SetDefault("ocr.tesseractPath", "tesseract")
	v.SetDefault("ocr.pdftoppmPath", "pdftoppm")
	v.SetDefault("ocr.language", "eng")

	v.SetDefault("rateLimit.enabled", true)
	v.SetDefault("rateLimit.maxRequestsPerMinute", 60)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.outputPath", "stdout")
}
