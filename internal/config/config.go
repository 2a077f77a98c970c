package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/kozaktomas/people-tracker/internal/constants"
)

type Config struct {
	Tracking    TrackingConfig
	Plugins     PluginsConfig
	Detector    DetectorConfig
	OpenAI      OpenAIConfig
	Gemini      GeminiConfig
	Ollama      OllamaConfig
	EmotionAPI  EmotionAPIConfig
	ActivityAPI ActivityAPIConfig
	Capture     CaptureConfig
	Database    DatabaseConfig
	Web         WebConfig
	Log         LogConfig
}

// TrackingConfig holds the identity resolution thresholds.
type TrackingConfig struct {
	MatchThreshold float64 `validate:"gt=0"`
	// CandidateThreshold holds back ambiguous candidates whose best distance
	// lies in [MatchThreshold, CandidateThreshold). Zero disables the hold.
	CandidateThreshold float64 `validate:"gte=0"`
	ConfirmFrames      int     `validate:"min=1"`
	MaxMissedTicks     int     `validate:"gte=0"`
	MaxFingerprints    int     `validate:"min=1"`
	DuplicateEps       float64 `validate:"gte=0"`
	FingerprintDim     int     `validate:"gte=0"` // 0 = inferred from the first fingerprint
	ReliableDiscount   float64 `validate:"gt=0"`
	SparsePenalty      float64 `validate:"gt=0"`
	ANNMinIdentities   int     `validate:"gte=0"` // 0 = linear scan only
	ANNCandidates      int     `validate:"min=1"`
	ResizeMax          int     `validate:"gte=0"`
	FPS                float64 `validate:"gt=0"`
}

// PluginsConfig holds executor limits and the path of the per-plugin
// settings file.
type PluginsConfig struct {
	SettingsFile        string
	SyncBudget          time.Duration `validate:"gt=0"`
	AsyncTimeout        time.Duration `validate:"gt=0"`
	AsyncWorkers        int           `validate:"min=1"`
	ResultHistory       int           `validate:"min=1"`
	ResultMaxAge        time.Duration `validate:"gt=0"`
	PruneInterval       time.Duration `validate:"gt=0"`
	FlushInterval       time.Duration `validate:"gt=0"`
	DescriptionProvider string        `validate:"omitempty,oneof=openai gemini ollama"`
}

type DetectorConfig struct {
	URL      string        `validate:"omitempty,url"` // face/body embedding server
	Timeout  time.Duration `validate:"gt=0"`
	MinScore float64       `validate:"gte=0,lte=1"` // faces scored lower are ignored
}

type OpenAIConfig struct {
	Token string
	Model string
}

type GeminiConfig struct {
	APIKey string
	Model  string
}

type OllamaConfig struct {
	URL   string // defaults to http://localhost:11434
	Model string // defaults to llama3.2-vision:11b
}

type EmotionAPIConfig struct {
	URL       string  `validate:"omitempty,url"`
	RateLimit float64 `validate:"gte=0"` // requests per second, 0 = unlimited
}

type ActivityAPIConfig struct {
	URL          string `validate:"omitempty,url"`
	APIKey       string
	MaxNewTokens int     `validate:"min=1"`
	RateLimit    float64 `validate:"gte=0"`
}

// CaptureConfig controls the snapshot_capture plugin. An empty Dir disables
// it; a zero interval disables one crop kind.
type CaptureConfig struct {
	Dir          string
	HeadInterval time.Duration `validate:"gte=0"`
	BodyInterval time.Duration `validate:"gte=0"`
	PoseInterval time.Duration `validate:"gte=0"`
}

type DatabaseConfig struct {
	Backend      string `validate:"oneof=file postgres mariadb none"`
	Dir          string // identity directory for the file backend
	URL          string // PostgreSQL URL or MariaDB DSN
	MaxOpenConns int    `validate:"min=1"`
	MaxIdleConns int    `validate:"gte=0"`
}

type WebConfig struct {
	Host           string
	Port           int `validate:"min=1,max=65535"`
	AllowedOrigins []string
}

type LogConfig struct {
	Level  string `validate:"omitempty,oneof=debug info warn warning error"`
	Format string `validate:"omitempty,oneof=console text json"`
}

// envInt reads an environment variable and parses it as a positive integer.
// Returns the default value if the env var is unset, empty, or invalid.
func envInt(key string, defaultVal int) int {
	s := os.Getenv(key)
	if s == "" {
		return defaultVal
	}
	if n, err := strconv.Atoi(s); err == nil && n > 0 {
		return n
	}
	return defaultVal
}

// envFloat reads a non-negative float, falling back to the default.
func envFloat(key string, defaultVal float64) float64 {
	s := os.Getenv(key)
	if s == "" {
		return defaultVal
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil && f >= 0 {
		return f
	}
	return defaultVal
}

// envDuration reads a Go duration ("250ms", "10s"), falling back to the default.
func envDuration(key string, defaultVal time.Duration) time.Duration {
	s := os.Getenv(key)
	if s == "" {
		return defaultVal
	}
	if d, err := time.ParseDuration(s); err == nil && d > 0 {
		return d
	}
	return defaultVal
}

// envInterval is envDuration that also accepts "0" or "off" to disable.
func envInterval(key string, defaultVal time.Duration) time.Duration {
	switch strings.ToLower(strings.TrimSpace(os.Getenv(key))) {
	case "0", "off":
		return 0
	}
	return envDuration(key, defaultVal)
}

func envString(key, defaultVal string) string {
	if s := os.Getenv(key); s != "" {
		return s
	}
	return defaultVal
}

// envList splits a comma-separated variable, dropping empty entries.
func envList(key string) []string {
	var out []string
	for item := range strings.SplitSeq(os.Getenv(key), ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

func Load() *Config {
	return &Config{
		Tracking: TrackingConfig{
			MatchThreshold:     envFloat("MATCH_THRESHOLD", constants.DefaultMatchThreshold),
			CandidateThreshold: envFloat("CANDIDATE_THRESHOLD", 0),
			ConfirmFrames:      envInt("CONFIRM_FRAMES", constants.DefaultConfirmFrames),
			MaxMissedTicks:     envInt("MAX_MISSED_TICKS", constants.DefaultMaxMissedTicks),
			MaxFingerprints:    envInt("MAX_FINGERPRINTS", constants.DefaultMaxFingerprints),
			DuplicateEps:       envFloat("DUPLICATE_EPS", constants.DefaultDuplicateEps),
			FingerprintDim:     envInt("FINGERPRINT_DIM", 0),
			ReliableDiscount:   envFloat("RELIABLE_DISCOUNT", constants.DefaultReliableDiscount),
			SparsePenalty:      envFloat("SPARSE_PENALTY", constants.DefaultSparsePenalty),
			ANNMinIdentities:   envInt("ANN_MIN_IDENTITIES", 0),
			ANNCandidates:      envInt("ANN_CANDIDATES", constants.DefaultANNCandidates),
			ResizeMax:          envInt("RESIZE_MAX", constants.ResizeMax),
			FPS:                envFloat("TRACK_FPS", 10),
		},
		Plugins: PluginsConfig{
			SettingsFile:        os.Getenv("PLUGIN_SETTINGS"),
			SyncBudget:          envDuration("PLUGIN_SYNC_BUDGET", constants.DefaultSyncBudget),
			AsyncTimeout:        envDuration("PLUGIN_ASYNC_TIMEOUT", constants.DefaultAsyncTimeout),
			AsyncWorkers:        envInt("PLUGIN_ASYNC_WORKERS", constants.DefaultAsyncWorkers),
			ResultHistory:       envInt("PLUGIN_RESULT_HISTORY", constants.DefaultResultHistory),
			ResultMaxAge:        envDuration("PLUGIN_RESULT_MAX_AGE", constants.DefaultResultMaxAge),
			PruneInterval:       envDuration("PLUGIN_PRUNE_INTERVAL", constants.DefaultPruneInterval),
			FlushInterval:       envDuration("IDENTITY_FLUSH_INTERVAL", constants.DefaultFlushInterval),
			DescriptionProvider: strings.ToLower(os.Getenv("DESCRIPTION_PROVIDER")),
		},
		Detector: DetectorConfig{
			URL:      os.Getenv("DETECTOR_URL"),
			Timeout:  envDuration("DETECTOR_TIMEOUT", 5*time.Second),
			MinScore: envFloat("DETECTOR_MIN_SCORE", 0.5),
		},
		OpenAI: OpenAIConfig{
			Token: os.Getenv("OPENAI_TOKEN"),
			Model: os.Getenv("OPENAI_MODEL"),
		},
		Gemini: GeminiConfig{
			APIKey: os.Getenv("GEMINI_API_KEY"),
			Model:  os.Getenv("GEMINI_MODEL"),
		},
		Ollama: OllamaConfig{
			URL:   os.Getenv("OLLAMA_URL"),
			Model: os.Getenv("OLLAMA_MODEL"),
		},
		EmotionAPI: EmotionAPIConfig{
			URL:       os.Getenv("EMOTION_API_URL"),
			RateLimit: envFloat("EMOTION_API_RATE_LIMIT", 0),
		},
		ActivityAPI: ActivityAPIConfig{
			URL:          os.Getenv("ACTIVITY_API_URL"),
			APIKey:       os.Getenv("ACTIVITY_API_KEY"),
			MaxNewTokens: envInt("ACTIVITY_API_MAX_NEW_TOKENS", 200),
			RateLimit:    envFloat("ACTIVITY_API_RATE_LIMIT", 0),
		},
		Capture: CaptureConfig{
			Dir:          os.Getenv("CAPTURE_DIR"),
			HeadInterval: envInterval("CAPTURE_HEAD_INTERVAL", 5*time.Second),
			BodyInterval: envInterval("CAPTURE_BODY_INTERVAL", 10*time.Second),
			PoseInterval: envInterval("CAPTURE_POSE_INTERVAL", 15*time.Second),
		},
		Database: DatabaseConfig{
			Backend:      strings.ToLower(envString("DATABASE_BACKEND", "file")),
			Dir:          envString("IDENTITY_DIR", "people"),
			URL:          os.Getenv("DATABASE_URL"),
			MaxOpenConns: envInt("DATABASE_MAX_OPEN_CONNS", 25),
			MaxIdleConns: envInt("DATABASE_MAX_IDLE_CONNS", 5),
		},
		Web: WebConfig{
			Host:           envString("WEB_HOST", "0.0.0.0"),
			Port:           envInt("WEB_PORT", 8080),
			AllowedOrigins: envList("WEB_ALLOWED_ORIGINS"),
		},
		Log: LogConfig{
			Level:  strings.ToLower(envString("LOG_LEVEL", "info")),
			Format: strings.ToLower(os.Getenv("LOG_FORMAT")),
		},
	}
}

var validate = validator.New()

// Validate checks field ranges and cross-field constraints. It must pass
// before the first tick runs.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			return fmt.Errorf("invalid configuration: %s fails %q (value %v)", fe.Namespace(), fe.Tag(), fe.Value())
		}
		return fmt.Errorf("invalid configuration: %w", err)
	}

	t := c.Tracking
	if t.CandidateThreshold != 0 && t.CandidateThreshold < t.MatchThreshold {
		return fmt.Errorf("invalid configuration: CANDIDATE_THRESHOLD (%.3f) must not be below MATCH_THRESHOLD (%.3f)",
			t.CandidateThreshold, t.MatchThreshold)
	}

	switch c.Database.Backend {
	case "postgres", "mariadb":
		if c.Database.URL == "" {
			return fmt.Errorf("invalid configuration: DATABASE_URL is required for the %s backend", c.Database.Backend)
		}
	case "file":
		if c.Database.Dir == "" {
			return errors.New("invalid configuration: IDENTITY_DIR is required for the file backend")
		}
	}

	if c.Plugins.DescriptionProvider == "openai" && c.OpenAI.Token == "" {
		return errors.New("invalid configuration: OPENAI_TOKEN is required for the openai description provider")
	}
	if c.Plugins.DescriptionProvider == "gemini" && c.Gemini.APIKey == "" {
		return errors.New("invalid configuration: GEMINI_API_KEY is required for the gemini description provider")
	}
	return nil
}

// EffectiveCandidateThreshold returns the ambiguity threshold, which
// defaults to the match threshold.
func (t TrackingConfig) EffectiveCandidateThreshold() float64 {
	if t.CandidateThreshold == 0 {
		return t.MatchThreshold
	}
	return t.CandidateThreshold
}
