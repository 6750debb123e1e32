package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/liliang-cn/cognify/pkg/log"
)

type Config struct {
	Home     string         `mapstructure:"home"`
	Chunk    ChunkConfig    `mapstructure:"chunk"`
	Extract  ExtractConfig  `mapstructure:"extract"`
	Resolve  ResolveConfig  `mapstructure:"resolve"`
	Validate ValidateConfig `mapstructure:"validate"`
	Retrieve RetrieveConfig `mapstructure:"retrieve"`
	Workers  WorkersConfig  `mapstructure:"workers"`
	Embed    EmbedConfig    `mapstructure:"embed"`
	Deadline DeadlineConfig `mapstructure:"deadline"`
	Provider ProviderConfig `mapstructure:"provider"`
	Storage  StorageConfig  `mapstructure:"storage"`
}

type ChunkConfig struct {
	Size    int `mapstructure:"size"`
	Overlap int `mapstructure:"overlap"`
}

type ExtractConfig struct {
	Temperature     float64 `mapstructure:"temperature"`
	MaxRetries      int     `mapstructure:"max_retries"`
	MaxParseRetries int     `mapstructure:"max_parse_retries"`
}

type ResolveConfig struct {
	FuzzyThreshold float64 `mapstructure:"fuzzy_threshold"`
	EmbThreshold   float64 `mapstructure:"emb_threshold"`
}

type ValidateConfig struct {
	Threshold float64 `mapstructure:"threshold"`
}

type HybridWeights struct {
	Vector  float64 `mapstructure:"vec"`
	Graph   float64 `mapstructure:"graph"`
	Lexical float64 `mapstructure:"lex"`
}

type RetrieveConfig struct {
	TopK                int           `mapstructure:"top_k"`
	SimilarityThreshold float64       `mapstructure:"similarity_threshold"`
	HybridWeights       HybridWeights `mapstructure:"hybrid_weights"`
	RRFConstant         float64       `mapstructure:"rrf_k"`
	RerankEnabled       bool          `mapstructure:"rerank_enabled"`
	GraphDepth          int           `mapstructure:"graph_depth"`
	GraphMaxFrontier    int           `mapstructure:"graph_max_frontier"`
}

type WorkersConfig struct {
	Pool int `mapstructure:"pool"`
}

type EmbedConfig struct {
	Batch int `mapstructure:"batch"`
}

type DeadlineConfig struct {
	LLM   time.Duration `mapstructure:"llm"`
	Embed time.Duration `mapstructure:"embed"`
	DB    time.Duration `mapstructure:"db"`
}

type ProviderConfig struct {
	BaseURL        string  `mapstructure:"base_url"`
	APIKey         string  `mapstructure:"api_key"`
	LLMModel       string  `mapstructure:"llm_model"`
	EmbeddingModel string  `mapstructure:"embedding_model"`
	LLMRate        float64 `mapstructure:"llm_rate"`  // requests per second
	LLMBurst       int     `mapstructure:"llm_burst"` // token bucket size
	EmbedRate      float64 `mapstructure:"embed_rate"`
	EmbedBurst     int     `mapstructure:"embed_burst"`
	AnswerTemp     float64 `mapstructure:"answer_temperature"`
}

type StorageConfig struct {
	DBPath      string `mapstructure:"db_path"`
	GraphDBPath string `mapstructure:"graph_db_path"`
	QdrantURL   string `mapstructure:"qdrant_url"`
}

func Load(configPath string) (*Config, error) {
	config := &Config{}

	home := os.Getenv("COGNIFY_HOME")
	if home == "" {
		home = "~/.cognify"
	}
	home = expandHomePath(home)

	if configPath != "" {
		absPath, _ := filepath.Abs(configPath)
		viper.SetConfigFile(absPath)
		home = filepath.Dir(absPath)
	} else {
		if _, err := os.Stat("cognify.toml"); err == nil {
			abs, _ := filepath.Abs("cognify.toml")
			viper.SetConfigFile(abs)
			home = filepath.Dir(abs)
		} else {
			viper.SetConfigFile(filepath.Join(home, "cognify.toml"))
		}
	}

	setDefaults()
	bindEnvVars()

	if err := viper.ReadInConfig(); err != nil {
		if configPath != "" {
			return nil, fmt.Errorf("failed to read config file %s: %w", configPath, err)
		}
		// Default config absent: continue with defaults.
	}

	if err := viper.Unmarshal(config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if config.Home == "" {
		config.Home = home
	}
	config.Home = expandHomePath(config.Home)
	config.resolveStoragePaths()

	if err := config.ValidateAll(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return config, nil
}

// Default returns the built-in configuration without touching the
// filesystem. Tests and embedded callers use this.
func Default() *Config {
	return &Config{
		Chunk:   ChunkConfig{Size: 512, Overlap: 50},
		Extract: ExtractConfig{Temperature: 0, MaxRetries: 5, MaxParseRetries: 2},
		Resolve: ResolveConfig{FuzzyThreshold: 0.85, EmbThreshold: 0.90},
		Validate: ValidateConfig{
			Threshold: 0.7,
		},
		Retrieve: RetrieveConfig{
			TopK:                10,
			SimilarityThreshold: 0.7,
			HybridWeights:       HybridWeights{Vector: 0.4, Graph: 0.3, Lexical: 0.3},
			RRFConstant:         60,
			RerankEnabled:       false,
			GraphDepth:          2,
			GraphMaxFrontier:    50,
		},
		Workers: WorkersConfig{Pool: 8},
		Embed:   EmbedConfig{Batch: 32},
		Deadline: DeadlineConfig{
			LLM:   60 * time.Second,
			Embed: 30 * time.Second,
			DB:    10 * time.Second,
		},
		Provider: ProviderConfig{
			LLMModel:       "gpt-4o-mini",
			EmbeddingModel: "text-embedding-3-small",
			LLMRate:        5,
			LLMBurst:       10,
			EmbedRate:      10,
			EmbedBurst:     20,
			AnswerTemp:     0.3,
		},
	}
}

func setDefaults() {
	d := Default()
	viper.SetDefault("chunk.size", d.Chunk.Size)
	viper.SetDefault("chunk.overlap", d.Chunk.Overlap)
	viper.SetDefault("extract.temperature", d.Extract.Temperature)
	viper.SetDefault("extract.max_retries", d.Extract.MaxRetries)
	viper.SetDefault("extract.max_parse_retries", d.Extract.MaxParseRetries)
	viper.SetDefault("resolve.fuzzy_threshold", d.Resolve.FuzzyThreshold)
	viper.SetDefault("resolve.emb_threshold", d.Resolve.EmbThreshold)
	viper.SetDefault("validate.threshold", d.Validate.Threshold)
	viper.SetDefault("retrieve.top_k", d.Retrieve.TopK)
	viper.SetDefault("retrieve.similarity_threshold", d.Retrieve.SimilarityThreshold)
	viper.SetDefault("retrieve.hybrid_weights.vec", d.Retrieve.HybridWeights.Vector)
	viper.SetDefault("retrieve.hybrid_weights.graph", d.Retrieve.HybridWeights.Graph)
	viper.SetDefault("retrieve.hybrid_weights.lex", d.Retrieve.HybridWeights.Lexical)
	viper.SetDefault("retrieve.rrf_k", d.Retrieve.RRFConstant)
	viper.SetDefault("retrieve.rerank_enabled", d.Retrieve.RerankEnabled)
	viper.SetDefault("retrieve.graph_depth", d.Retrieve.GraphDepth)
	viper.SetDefault("retrieve.graph_max_frontier", d.Retrieve.GraphMaxFrontier)
	viper.SetDefault("workers.pool", d.Workers.Pool)
	viper.SetDefault("embed.batch", d.Embed.Batch)
	viper.SetDefault("deadline.llm", d.Deadline.LLM)
	viper.SetDefault("deadline.embed", d.Deadline.Embed)
	viper.SetDefault("deadline.db", d.Deadline.DB)
	viper.SetDefault("provider.llm_model", d.Provider.LLMModel)
	viper.SetDefault("provider.embedding_model", d.Provider.EmbeddingModel)
	viper.SetDefault("provider.llm_rate", d.Provider.LLMRate)
	viper.SetDefault("provider.llm_burst", d.Provider.LLMBurst)
	viper.SetDefault("provider.embed_rate", d.Provider.EmbedRate)
	viper.SetDefault("provider.embed_burst", d.Provider.EmbedBurst)
	viper.SetDefault("provider.answer_temperature", d.Provider.AnswerTemp)
}

func bindEnvVars() {
	viper.SetEnvPrefix("COGNIFY")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	for key, env := range map[string]string{
		"home":               "COGNIFY_HOME",
		"provider.api_key":   "COGNIFY_API_KEY",
		"provider.base_url":  "COGNIFY_BASE_URL",
		"storage.qdrant_url": "COGNIFY_QDRANT_URL",
		"storage.db_path":    "COGNIFY_DB_PATH",
	} {
		if err := viper.BindEnv(key, env); err != nil {
			log.Warnf("failed to bind %s env var: %v", key, err)
		}
	}
}

// ValidateAll checks the cross-field constraints the pipeline depends on.
func (c *Config) ValidateAll() error {
	if c.Validate.Threshold < 0 || c.Validate.Threshold > 1 {
		return fmt.Errorf("validate.threshold must be in [0,1]: %f", c.Validate.Threshold)
	}
	if c.Chunk.Size <= 0 {
		return fmt.Errorf("chunk size must be positive: %d", c.Chunk.Size)
	}
	if c.Chunk.Overlap < 0 || c.Chunk.Overlap >= c.Chunk.Size {
		return fmt.Errorf("overlap must be between 0 and chunk size: %d", c.Chunk.Overlap)
	}
	if c.Resolve.FuzzyThreshold <= 0 || c.Resolve.FuzzyThreshold > 1 {
		return fmt.Errorf("resolve.fuzzy_threshold must be in (0,1]: %f", c.Resolve.FuzzyThreshold)
	}
	if c.Resolve.EmbThreshold <= 0 || c.Resolve.EmbThreshold > 1 {
		return fmt.Errorf("resolve.emb_threshold must be in (0,1]: %f", c.Resolve.EmbThreshold)
	}
	if c.Retrieve.TopK <= 0 {
		return fmt.Errorf("retrieve.top_k must be positive: %d", c.Retrieve.TopK)
	}
	w := c.Retrieve.HybridWeights
	if sum := w.Vector + w.Graph + w.Lexical; sum < 0.999 || sum > 1.001 {
		return fmt.Errorf("hybrid weights must sum to 1: %f", sum)
	}
	if c.Workers.Pool <= 0 {
		return fmt.Errorf("workers.pool must be positive: %d", c.Workers.Pool)
	}
	if c.Embed.Batch <= 0 {
		return fmt.Errorf("embed.batch must be positive: %d", c.Embed.Batch)
	}
	return nil
}

func (c *Config) DataDir() string {
	return filepath.Join(c.Home, "data")
}

func (c *Config) resolveStoragePaths() {
	if c.Storage.DBPath == "" {
		c.Storage.DBPath = filepath.Join(c.DataDir(), "cognify.db")
	}
	if c.Storage.GraphDBPath == "" {
		c.Storage.GraphDBPath = filepath.Join(c.DataDir(), "graph.db")
	}
	c.Storage.DBPath = expandHomePath(c.Storage.DBPath)
	c.Storage.GraphDBPath = expandHomePath(c.Storage.GraphDBPath)
	ensureParentDir(c.Storage.DBPath)
	ensureParentDir(c.Storage.GraphDBPath)
}

func expandHomePath(path string) string {
	if path == "" {
		return path
	}
	if strings.HasPrefix(path, "~/") {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(homeDir, path[2:])
	}
	return path
}

func ensureParentDir(filePath string) {
	if filePath == "" {
		return
	}
	dir := filepath.Dir(filePath)
	if dir != "." && dir != "/" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			log.Warnf("failed to create directory %s: %v", dir, err)
		}
	}
}
