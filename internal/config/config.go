// Package config provides settings loading and validation for the prospecting
// service and CLI.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Settings is the full runtime configuration. Values are layered: built-in
// defaults, then a config file, then environment variables, then CLI flags.
type Settings struct {
	// Generation backend
	GeminiAPIKey        string `yaml:"gemini_api_key" json:"gemini_api_key,omitempty"`
	GeminiModel         string `yaml:"gemini_model" json:"gemini_model,omitempty"`
	GeminiResearchModel string `yaml:"gemini_research_model" json:"gemini_research_model,omitempty"`

	// Storage
	MemoryDir   string `yaml:"memory_dir" json:"memory_dir,omitempty"`
	OutputDir   string `yaml:"output_dir" json:"output_dir,omitempty"`
	DatabaseURL string `yaml:"database_url" json:"database_url,omitempty"` // empty selects in-memory repositories

	LogLevel string `yaml:"log_level" json:"log_level,omitempty"`

	// Pipeline tuning
	MinIdeas            int     `yaml:"min_ideas" json:"min_ideas,omitempty"`
	TopPlays            int     `yaml:"top_plays" json:"top_plays,omitempty"`
	RetryAttempts       int     `yaml:"retry_attempts" json:"retry_attempts,omitempty"`
	RetryInitialSeconds float64 `yaml:"retry_initial_seconds" json:"retry_initial_seconds,omitempty"`
	RetryMaxSeconds     float64 `yaml:"retry_max_seconds" json:"retry_max_seconds,omitempty"`

	// Web grounding
	SearchAPIKey   string `yaml:"search_api_key" json:"search_api_key,omitempty"`
	SearchEngineID string `yaml:"search_engine_id" json:"search_engine_id,omitempty"`
	Grounding      bool   `yaml:"grounding" json:"grounding,omitempty"`
	UseBrowser     bool   `yaml:"use_browser" json:"use_browser,omitempty"`

	// Server
	Workers          int      `yaml:"workers" json:"workers,omitempty"`
	Port             int      `yaml:"port" json:"port,omitempty"`
	KeepaliveSeconds int      `yaml:"keepalive_seconds" json:"keepalive_seconds,omitempty"`
	CORSOrigins      []string `yaml:"cors_origins" json:"cors_origins,omitempty"`
}

// Defaults returns the built-in settings.
func Defaults() Settings {
	return Settings{
		GeminiModel:         "gemini-2.0-flash",
		GeminiResearchModel: "gemini-2.0-flash-thinking-exp",
		MemoryDir:           "./data/memory",
		OutputDir:           "./output",
		LogLevel:            "info",
		MinIdeas:            10,
		TopPlays:            3,
		RetryAttempts:       3,
		RetryInitialSeconds: 2,
		RetryMaxSeconds:     30,
		Workers:             4,
		Port:                8080,
		KeepaliveSeconds:    60,
		CORSOrigins:         []string{"http://localhost:8501"},
	}
}

// Load builds settings from defaults, the optional file at path, and the
// process environment, then validates the result.
func Load(path string) (*Settings, error) {
	s := Defaults()
	if path != "" {
		if err := s.mergeFile(path); err != nil {
			return nil, err
		}
	}
	if err := s.ApplyEnv(os.Getenv); err != nil {
		return nil, err
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return &s, nil
}

// LoadConfig loads settings from a YAML or JSON file on top of the defaults.
// The format is chosen by extension; anything other than .json is read as YAML.
func LoadConfig(path string) (*Settings, error) {
	if path == "" {
		return nil, fmt.Errorf("config path is empty")
	}
	s := Defaults()
	if err := s.mergeFile(path); err != nil {
		return nil, err
	}
	return &s, nil
}

func (s *Settings) mergeFile(path string) error {
	// Resolve path relative to current directory if not absolute
	if !filepath.IsAbs(path) {
		cwd, err := os.Getwd()
		if err != nil {
			return fmt.Errorf("failed to get current directory: %w", err)
		}
		path = filepath.Join(cwd, path)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		if err := json.Unmarshal(data, s); err != nil {
			return fmt.Errorf("failed to parse config JSON: %w", err)
		}
	default:
		if err := yaml.Unmarshal(data, s); err != nil {
			return fmt.Errorf("failed to parse config YAML: %w", err)
		}
	}
	return nil
}

// ApplyEnv overrides settings from environment variables read through getenv.
// Unset or empty variables leave the current value alone.
func (s *Settings) ApplyEnv(getenv func(string) string) error {
	strs := map[string]*string{
		"GEMINI_API_KEY":        &s.GeminiAPIKey,
		"GEMINI_MODEL":          &s.GeminiModel,
		"GEMINI_RESEARCH_MODEL": &s.GeminiResearchModel,
		"MEMORY_DIR":            &s.MemoryDir,
		"OUTPUT_DIR":            &s.OutputDir,
		"DATABASE_URL":          &s.DatabaseURL,
		"LOG_LEVEL":             &s.LogLevel,
		"SEARCH_API_KEY":        &s.SearchAPIKey,
		"SEARCH_ENGINE_ID":      &s.SearchEngineID,
	}
	for key, dst := range strs {
		if v := getenv(key); v != "" {
			*dst = v
		}
	}

	ints := map[string]*int{
		"MIN_IDEAS":         &s.MinIdeas,
		"TOP_PLAYS":         &s.TopPlays,
		"RETRY_ATTEMPTS":    &s.RetryAttempts,
		"WORKERS":           &s.Workers,
		"PORT":              &s.Port,
		"KEEPALIVE_SECONDS": &s.KeepaliveSeconds,
	}
	for key, dst := range ints {
		if v := getenv(key); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				return fmt.Errorf("invalid %s: %v", key, err)
			}
			*dst = n
		}
	}

	floats := map[string]*float64{
		"RETRY_INITIAL_SECONDS": &s.RetryInitialSeconds,
		"RETRY_MAX_SECONDS":     &s.RetryMaxSeconds,
	}
	for key, dst := range floats {
		if v := getenv(key); v != "" {
			f, err := strconv.ParseFloat(v, 64)
			if err != nil {
				return fmt.Errorf("invalid %s: %v", key, err)
			}
			*dst = f
		}
	}

	bools := map[string]*bool{
		"GROUNDING":   &s.Grounding,
		"USE_BROWSER": &s.UseBrowser,
	}
	for key, dst := range bools {
		if v := getenv(key); v != "" {
			b, err := strconv.ParseBool(v)
			if err != nil {
				return fmt.Errorf("invalid %s: %v", key, err)
			}
			*dst = b
		}
	}

	if v := getenv("CORS_ORIGINS"); v != "" {
		s.CORSOrigins = splitList(v)
	}
	return nil
}

// Validate checks that the settings have usable values.
func (s *Settings) Validate() error {
	positive := []struct {
		name  string
		value int
	}{
		{"min_ideas", s.MinIdeas},
		{"top_plays", s.TopPlays},
		{"retry_attempts", s.RetryAttempts},
		{"workers", s.Workers},
		{"keepalive_seconds", s.KeepaliveSeconds},
	}
	for _, p := range positive {
		if p.value <= 0 {
			return fmt.Errorf("config error: '%s' must be positive, got %d", p.name, p.value)
		}
	}
	if s.TopPlays > s.MinIdeas {
		return fmt.Errorf("config error: 'top_plays' (%d) cannot exceed 'min_ideas' (%d)", s.TopPlays, s.MinIdeas)
	}
	if s.RetryInitialSeconds <= 0 || s.RetryMaxSeconds < s.RetryInitialSeconds {
		return fmt.Errorf("config error: retry backoff must satisfy 0 < initial <= max")
	}
	if s.Port < 1 || s.Port > 65535 {
		return fmt.Errorf("config error: 'port' out of range: %d", s.Port)
	}
	switch s.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("config error: unknown log level %q", s.LogLevel)
	}
	return nil
}

// Keepalive returns the SSE keepalive interval.
func (s *Settings) Keepalive() time.Duration {
	return time.Duration(s.KeepaliveSeconds) * time.Second
}

// RetryInitial returns the first retry delay.
func (s *Settings) RetryInitial() time.Duration {
	return time.Duration(s.RetryInitialSeconds * float64(time.Second))
}

// RetryMax returns the retry delay cap.
func (s *Settings) RetryMax() time.Duration {
	return time.Duration(s.RetryMaxSeconds * float64(time.Second))
}

// GroundingConfigured reports whether web search credentials are present.
func (s *Settings) GroundingConfigured() bool {
	return s.SearchAPIKey != "" && s.SearchEngineID != ""
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
