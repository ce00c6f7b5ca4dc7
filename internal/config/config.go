package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every environment override, e.g.
// EDRDASH_MODEL_PATH for model.path.
const EnvPrefix = "EDRDASH"

// Config holds all edrdash configuration.
type Config struct {
	Model   ModelConfig
	Data    DataConfig
	Explain ExplainConfig
	Labels  LabelsConfig
	Server  ServerConfig
	Log     LogConfig
	Output  OutputConfig
	History HistoryConfig
}

// ModelConfig locates the classifier artifact.
type ModelConfig struct {
	Path        string
	Format      string   // "" infers from the extension
	ONNXLibrary string   // shared library for ONNX models
	Features    []string // ONNX feature names when the artifact carries none
}

// DataConfig holds loader settings.
type DataConfig struct {
	SamplePath  string // "" uses the bundled sample
	PreviewRows int
}

// ExplainConfig selects and tunes the explanation algorithm.
type ExplainConfig struct {
	Algorithm      string // "tree" or "permutation"
	TopN           int
	Permutations   int
	BackgroundRows int
	Seed           uint64
}

// LabelsConfig points at an optional taxonomy override file.
type LabelsConfig struct {
	File string
}

// ServerConfig holds dashboard settings.
type ServerConfig struct {
	Addr           string
	MaxUploadBytes int64
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
}

// LogConfig holds logger settings.
type LogConfig struct {
	Level  string
	Format string // "json" or "console"
}

// OutputConfig holds CLI report destinations.
type OutputConfig struct {
	Format       string // "text" or "json"
	Pretty       bool
	Verbosity    string // "summary" or "full"
	Color        bool   // false disables ANSI colors; true colors terminals only
	File         string
	FileMaxBytes int64
	WebhookURL   string
	ChartsDir    string
}

// HistoryConfig selects the run store.
type HistoryConfig struct {
	Backend   string // "memory" or "redis"
	RedisAddr string
	TTL       time.Duration
	MaxRuns   int
}

// New returns a viper instance with defaults and environment overrides
// registered. Callers may bind flags to it before calling Read.
func New() *viper.Viper {
	v := viper.New()

	v.SetDefault("model.path", "models/model.json")
	v.SetDefault("model.format", "")
	v.SetDefault("model.onnx_library", "")
	v.SetDefault("model.features", []string{})

	v.SetDefault("data.sample_path", "")
	v.SetDefault("data.preview_rows", 10)

	v.SetDefault("explain.algorithm", "tree")
	v.SetDefault("explain.top_n", 10)
	v.SetDefault("explain.permutations", 10)
	v.SetDefault("explain.background_rows", 50)
	v.SetDefault("explain.seed", 1)

	v.SetDefault("labels.file", "")

	v.SetDefault("server.addr", ":8501")
	v.SetDefault("server.max_upload_bytes", 32<<20)
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "2m")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	v.SetDefault("output.format", "text")
	v.SetDefault("output.pretty", false)
	v.SetDefault("output.verbosity", "summary")
	v.SetDefault("output.color", true)
	v.SetDefault("output.file", "")
	v.SetDefault("output.file_max_bytes", 0)
	v.SetDefault("output.webhook_url", "")
	v.SetDefault("output.charts_dir", "")

	v.SetDefault("history.backend", "memory")
	v.SetDefault("history.redis_addr", "localhost:6379")
	v.SetDefault("history.ttl", "24h")
	v.SetDefault("history.max_runs", 100)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// Load reads configuration from defaults, the optional YAML file at path and
// the environment.
func Load(path string) (Config, error) {
	return Read(New(), path)
}

// Read merges the optional config file at path into v and decodes the result.
func Read(v *viper.Viper, path string) (Config, error) {
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("config: read %s: %w", path, err)
		}
	}

	cfg := Config{
		Model: ModelConfig{
			Path:        v.GetString("model.path"),
			Format:      v.GetString("model.format"),
			ONNXLibrary: v.GetString("model.onnx_library"),
			Features:    v.GetStringSlice("model.features"),
		},
		Data: DataConfig{
			SamplePath:  v.GetString("data.sample_path"),
			PreviewRows: v.GetInt("data.preview_rows"),
		},
		Explain: ExplainConfig{
			Algorithm:      strings.ToLower(v.GetString("explain.algorithm")),
			TopN:           v.GetInt("explain.top_n"),
			Permutations:   v.GetInt("explain.permutations"),
			BackgroundRows: v.GetInt("explain.background_rows"),
			Seed:           v.GetUint64("explain.seed"),
		},
		Labels: LabelsConfig{
			File: v.GetString("labels.file"),
		},
		Server: ServerConfig{
			Addr:           v.GetString("server.addr"),
			MaxUploadBytes: v.GetInt64("server.max_upload_bytes"),
			ReadTimeout:    v.GetDuration("server.read_timeout"),
			WriteTimeout:   v.GetDuration("server.write_timeout"),
		},
		Log: LogConfig{
			Level:  v.GetString("log.level"),
			Format: strings.ToLower(v.GetString("log.format")),
		},
		Output: OutputConfig{
			Format:       strings.ToLower(v.GetString("output.format")),
			Pretty:       v.GetBool("output.pretty"),
			Verbosity:    strings.ToLower(v.GetString("output.verbosity")),
			Color:        v.GetBool("output.color"),
			File:         v.GetString("output.file"),
			FileMaxBytes: v.GetInt64("output.file_max_bytes"),
			WebhookURL:   v.GetString("output.webhook_url"),
			ChartsDir:    v.GetString("output.charts_dir"),
		},
		History: HistoryConfig{
			Backend:   strings.ToLower(v.GetString("history.backend")),
			RedisAddr: v.GetString("history.redis_addr"),
			TTL:       v.GetDuration("history.ttl"),
			MaxRuns:   v.GetInt("history.max_runs"),
		},
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate reports every invalid setting at once.
func (c Config) Validate() error {
	var errs []error
	if c.Model.Path == "" {
		errs = append(errs, errors.New("model.path is required"))
	}
	if c.Data.PreviewRows < 1 {
		errs = append(errs, fmt.Errorf("data.preview_rows must be >= 1, got %d", c.Data.PreviewRows))
	}
	switch c.Explain.Algorithm {
	case "tree", "permutation":
	default:
		errs = append(errs, fmt.Errorf("explain.algorithm must be tree or permutation, got %q", c.Explain.Algorithm))
	}
	if c.Explain.TopN < 1 {
		errs = append(errs, fmt.Errorf("explain.top_n must be >= 1, got %d", c.Explain.TopN))
	}
	if c.Server.MaxUploadBytes <= 0 {
		errs = append(errs, fmt.Errorf("server.max_upload_bytes must be > 0, got %d", c.Server.MaxUploadBytes))
	}
	switch c.Log.Format {
	case "json", "console":
	default:
		errs = append(errs, fmt.Errorf("log.format must be json or console, got %q", c.Log.Format))
	}
	switch c.Output.Format {
	case "text", "json":
	default:
		errs = append(errs, fmt.Errorf("output.format must be text or json, got %q", c.Output.Format))
	}
	switch c.Output.Verbosity {
	case "summary", "full":
	default:
		errs = append(errs, fmt.Errorf("output.verbosity must be summary or full, got %q", c.Output.Verbosity))
	}
	switch c.History.Backend {
	case "memory":
	case "redis":
		if c.History.RedisAddr == "" {
			errs = append(errs, errors.New("history.redis_addr is required for the redis backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("history.backend must be memory or redis, got %q", c.History.Backend))
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	return nil
}
