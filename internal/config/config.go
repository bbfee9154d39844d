// Package config reads server and CLI settings from flags, falling back to
// environment variables.
package config

import (
	"flag"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/Brownie44l1/oncoscopic-api/internal/preprocess"
)

const (
	ServiceName = "Oncoscopic ML API"

	DefaultModelPath    = "models/skin_lesion_model.onnx"
	DefaultMetadataPath = "models/model_metadata.json"
)

// Artifacts is shared by the server and the CLI.
type Artifacts struct {
	ModelPath    string
	MetadataPath string
	LabelsPath   string
	ORTLibPath   string
	ResizeFilter string
}

type Server struct {
	Artifacts

	Port           string
	Sessions       int
	PredictTimeout time.Duration
	RequireModel   bool
	LegacyStatus   bool
	CORSOrigins    []string
	MaxUploadBytes int64
	Release        bool

	LogFormat string
	LogLevel  string

	ResultStore   string
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	ResultTTL     time.Duration

	SentryDSN string
}

func (a *Artifacts) register(fs *flag.FlagSet) {
	fs.StringVar(&a.ModelPath, "model", envOr("ONCO_MODEL_PATH", DefaultModelPath), "ONNX model path")
	fs.StringVar(&a.MetadataPath, "metadata", envOr("ONCO_METADATA_PATH", DefaultMetadataPath), "model metadata JSON path (optional)")
	fs.StringVar(&a.LabelsPath, "labels", envOr("ONCO_LABELS_PATH", ""), "label vocabulary file (.txt one per line, or .json); empty uses metadata classes or built-in labels")
	fs.StringVar(&a.ORTLibPath, "ort-lib", envOr("ONCO_ORT_LIB", ""), "path to the onnxruntime shared library")
	fs.StringVar(&a.ResizeFilter, "resize-filter", envOr("ONCO_RESIZE_FILTER", "bicubic"), "resampling filter: nearest|bilinear|bicubic|mitchell|lanczos2|lanczos3")
}

// resolve anchors relative artifact paths at the project root.
func (a *Artifacts) resolve(root string) {
	a.ModelPath = resolvePath(root, a.ModelPath)
	a.MetadataPath = resolvePath(root, a.MetadataPath)
	a.LabelsPath = resolvePath(root, a.LabelsPath)
}

func (a Artifacts) validate() error {
	if strings.TrimSpace(a.ModelPath) == "" {
		return errors.New("model path is required")
	}
	if _, err := preprocess.ParseFilter(a.ResizeFilter); err != nil {
		return err
	}
	return nil
}

// LoadServer parses server flags. Unset flags fall back to PORT and ONCO_*
// environment variables.
func LoadServer(args []string) (Server, error) {
	var cfg Server
	fs := flag.NewFlagSet("server", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	cfg.Artifacts.register(fs)

	var origins string
	fs.StringVar(&cfg.Port, "port", envOr("PORT", "8080"), "HTTP listen port")
	fs.IntVar(&cfg.Sessions, "sessions", envInt("ONCO_SESSIONS", 2), "number of ONNX sessions kept for concurrent requests")
	fs.DurationVar(&cfg.PredictTimeout, "predict-timeout", envDuration("ONCO_PREDICT_TIMEOUT", 0), "per-request prediction timeout (0 disables)")
	fs.BoolVar(&cfg.RequireModel, "require-model", envBool("ONCO_REQUIRE_MODEL", true), "exit when the model or labels fail to load")
	fs.BoolVar(&cfg.LegacyStatus, "legacy-status", envBool("ONCO_LEGACY_STATUS", false), "answer handled errors with HTTP 200")
	fs.StringVar(&origins, "cors-origins", envOr("ONCO_CORS_ORIGINS", "*"), "comma separated allowed CORS origins")
	fs.Int64Var(&cfg.MaxUploadBytes, "max-upload-bytes", envInt64("ONCO_MAX_UPLOAD_BYTES", 10<<20), "maximum upload size in bytes")
	fs.BoolVar(&cfg.Release, "release", envBool("ONCO_RELEASE", false), "run gin in release mode")
	fs.StringVar(&cfg.LogFormat, "log-format", envOr("ONCO_LOG_FORMAT", "json"), "log format: json|text")
	fs.StringVar(&cfg.LogLevel, "log-level", envOr("ONCO_LOG_LEVEL", "info"), "log level: debug|info|warn|error")
	fs.StringVar(&cfg.ResultStore, "result-store", envOr("ONCO_RESULT_STORE", ""), "keep predictions for GET /predict/:id: memory|redis (empty disables)")
	fs.StringVar(&cfg.RedisAddr, "redis-addr", envOr("ONCO_REDIS_ADDR", "localhost:6379"), "redis address for the result store")
	fs.StringVar(&cfg.RedisPassword, "redis-password", envOr("ONCO_REDIS_PASSWORD", ""), "redis password")
	fs.IntVar(&cfg.RedisDB, "redis-db", envInt("ONCO_REDIS_DB", 0), "redis database")
	fs.DurationVar(&cfg.ResultTTL, "result-ttl", envDuration("ONCO_RESULT_TTL", time.Hour), "how long stored predictions are kept")
	fs.StringVar(&cfg.SentryDSN, "sentry-dsn", envOr("ONCO_SENTRY_DSN", ""), "report request failures to this Sentry DSN")

	if err := fs.Parse(args); err != nil {
		return cfg, errors.Wrap(err, "invalid flags")
	}
	cfg.CORSOrigins = splitList(origins)

	root, err := ProjectRoot()
	if err != nil {
		return cfg, err
	}
	cfg.Artifacts.resolve(root)
	return cfg, cfg.Validate()
}

func (c Server) Validate() error {
	if err := c.Artifacts.validate(); err != nil {
		return err
	}
	if _, err := strconv.Atoi(c.Port); err != nil {
		return errors.Errorf("invalid port %q", c.Port)
	}
	if c.Sessions <= 0 {
		return errors.Errorf("sessions must be positive, got %d", c.Sessions)
	}
	if c.PredictTimeout < 0 {
		return errors.New("predict timeout must not be negative")
	}
	if c.MaxUploadBytes <= 0 {
		return errors.Errorf("max upload bytes must be positive, got %d", c.MaxUploadBytes)
	}
	switch c.ResultStore {
	case "", "memory", "redis":
	default:
		return errors.Errorf("unsupported result store %q", c.ResultStore)
	}
	if len(c.CORSOrigins) == 0 {
		return errors.New("at least one CORS origin is required")
	}
	return nil
}

type CLI struct {
	Artifacts

	ImagePath     string
	NoFallback    bool
	Probabilities bool
	Remote        string
	Timeout       time.Duration
	LogLevel      string
}

// LoadCLI parses the predict command line: flags then one image path.
func LoadCLI(args []string) (CLI, error) {
	var cfg CLI
	fs := flag.NewFlagSet("predict", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	cfg.Artifacts.register(fs)
	fs.BoolVar(&cfg.NoFallback, "no-fallback", envBool("ONCO_NO_FALLBACK", false), "fail instead of using the degraded heuristic when the model cannot load")
	fs.BoolVar(&cfg.Probabilities, "probabilities", false, "include per-class probabilities")
	fs.StringVar(&cfg.Remote, "remote", envOr("ONCO_REMOTE_URL", ""), "send the image to a running server at this URL instead of predicting locally")
	fs.DurationVar(&cfg.Timeout, "timeout", envDuration("ONCO_CLI_TIMEOUT", 30*time.Second), "overall prediction timeout")
	fs.StringVar(&cfg.LogLevel, "log-level", envOr("ONCO_LOG_LEVEL", "warn"), "log level for stderr diagnostics")

	if err := fs.Parse(args); err != nil {
		return cfg, errors.Wrap(err, "invalid flags")
	}
	if fs.NArg() != 1 {
		return cfg, errors.New("Please provide an image path")
	}
	cfg.ImagePath = fs.Arg(0)

	if cfg.Remote == "" {
		root, err := ProjectRoot()
		if err != nil {
			return cfg, err
		}
		cfg.Artifacts.resolve(root)
		if err := cfg.Artifacts.validate(); err != nil {
			return cfg, err
		}
	}
	return cfg, nil
}

// ProjectRoot is the working directory, or the repository root when the
// binary is started from inside cmd/<name>.
func ProjectRoot() (string, error) {
	wd, err := os.Getwd()
	if err != nil {
		return "", errors.Wrap(err, "failed to get working directory")
	}
	if filepath.Base(filepath.Dir(wd)) == "cmd" {
		return filepath.Join(wd, "..", ".."), nil
	}
	return wd, nil
}

func resolvePath(root, p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(root, p)
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if clean := strings.TrimSpace(part); clean != "" {
			out = append(out, clean)
		}
	}
	return out
}

func envOr(key string, fallback string) string {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	return value
}

func envBool(key string, fallback bool) bool {
	value := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	switch value {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}

func envInt(key string, fallback int) int {
	parsed, err := strconv.Atoi(strings.TrimSpace(os.Getenv(key)))
	if err != nil {
		return fallback
	}
	return parsed
}

func envInt64(key string, fallback int64) int64 {
	parsed, err := strconv.ParseInt(strings.TrimSpace(os.Getenv(key)), 10, 64)
	if err != nil {
		return fallback
	}
	return parsed
}

func envDuration(key string, fallback time.Duration) time.Duration {
	parsed, err := time.ParseDuration(strings.TrimSpace(os.Getenv(key)))
	if err != nil {
		return fallback
	}
	return parsed
}
