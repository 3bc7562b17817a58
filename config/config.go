// Package config loads crawler configuration by layering Pkl over
// defaults (Default, then an optional file layer, then merge), and
// adds an environment-variable override pass that applies after the
// file layer — every field the external interface names must be
// overridable by an env var.
package config

import (
	"context"
	_ "embed"
	"encoding/json"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/apple/pkl-go/pkl"
)

//go:embed Config.pkl
var defaultPkl string

type Crawler struct {
	TimeoutSeconds int    `json:"timeoutSeconds"`
	UserAgent      string `json:"userAgent"`
	RetryCount     int    `json:"retryCount"`
}

type Detection struct {
	MinConfidence       float64 `json:"minConfidence"`
	MinNotices          int     `json:"minNotices"`
	MinTitleLength      int     `json:"minTitleLength"`
	MaxTitleLength      int     `json:"maxTitleLength"`
	SimilarityThreshold float64 `json:"similarityThreshold"`
}

type Validation struct {
	MaxNoticesPerUniversity int `json:"maxNoticesPerUniversity"`
}

type Fallback struct {
	UseBrowser bool     `json:"useBrowser"`
	Selectors  []string `json:"selectors"`
}

// Browser configures the headless-browser fallback process itself:
// extra Chrome command-line flags, its own timeout (independent of the
// plain-fetch timeout), and an optional explicit binary path.
type Browser struct {
	ChromeOptions  []string `json:"chromeOptions"`
	TimeoutSeconds int      `json:"timeoutSeconds"`
	ChromePath     string   `json:"chromePath"`
}

// Patterns carries the detection heuristics' raw inputs: the date
// regexes scanned for in candidate leaves and the keyword substrings
// that mark a row cluster as notice-shaped. Both lists are compiled or
// lowercased once at engine construction, never per call.
type Patterns struct {
	DatePatterns   []string `json:"datePatterns"`
	NoticeKeywords []string `json:"noticeKeywords"`
}

type Logging struct {
	Level string `json:"level"`
}

// Config is the fully resolved crawler configuration: Go-side
// defaults, optionally layered with a user config.pkl, then with
// environment-variable overrides applied last.
type Config struct {
	Crawler    Crawler    `json:"crawler"`
	Detection  Detection  `json:"detection"`
	Validation Validation `json:"validation"`
	Fallback   Fallback   `json:"fallback"`
	Browser    Browser    `json:"browser"`
	Patterns   Patterns   `json:"patterns"`
	BatchSize  int        `json:"batchSize"`
	Logging    Logging    `json:"logging"`
}

func Default() Config {
	return Config{
		Crawler: Crawler{
			TimeoutSeconds: 15,
			UserAgent:      "Mozilla/5.0 (compatible; NoticeCrawler/1.0; +https://example.invalid/bot)",
			RetryCount:     2,
		},
		Detection: Detection{
			MinConfidence:       0.7,
			MinNotices:          3,
			MinTitleLength:      5,
			MaxTitleLength:      500,
			SimilarityThreshold: 0.8,
		},
		Validation: Validation{MaxNoticesPerUniversity: 50},
		Fallback:   Fallback{UseBrowser: false},
		Browser:    Browser{TimeoutSeconds: 30},
		BatchSize:  10,
		Logging:    Logging{Level: "info"},
	}
}

func configDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".config", "noticecrawler"), nil
}

// ConfigPath returns the path a user config.pkl would live at.
func ConfigPath() (string, error) {
	dir, err := configDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.pkl"), nil
}

// rawOverrides mirrors Config but with pointer fields, so that a
// field genuinely absent from the user's file is distinguishable from
// an explicit zero/false value — a plain-struct merge can't make that
// distinction for booleans without this.
type rawOverrides struct {
	Crawler *struct {
		TimeoutSeconds *int    `json:"timeoutSeconds"`
		UserAgent      *string `json:"userAgent"`
		RetryCount     *int    `json:"retryCount"`
	} `json:"crawler"`
	Detection *struct {
		MinConfidence       *float64 `json:"minConfidence"`
		MinNotices          *int     `json:"minNotices"`
		MinTitleLength      *int     `json:"minTitleLength"`
		MaxTitleLength      *int     `json:"maxTitleLength"`
		SimilarityThreshold *float64 `json:"similarityThreshold"`
	} `json:"detection"`
	Validation *struct {
		MaxNoticesPerUniversity *int `json:"maxNoticesPerUniversity"`
	} `json:"validation"`
	Fallback *struct {
		UseBrowser *bool    `json:"useBrowser"`
		Selectors  []string `json:"selectors"`
	} `json:"fallback"`
	Browser *struct {
		ChromeOptions  []string `json:"chromeOptions"`
		TimeoutSeconds *int     `json:"timeoutSeconds"`
		ChromePath     *string  `json:"chromePath"`
	} `json:"browser"`
	Patterns *struct {
		DatePatterns   []string `json:"datePatterns"`
		NoticeKeywords []string `json:"noticeKeywords"`
	} `json:"patterns"`
	BatchSize *int `json:"batchSize"`
	Logging   *struct {
		Level *string `json:"level"`
	} `json:"logging"`
}

// Load builds a Config from Go-side defaults, layered with the Pkl file
// at path (ConfigPath when path is empty) if that file exists, then
// with environment-variable overrides applied last.
func Load(ctx context.Context, path string) (Config, error) {
	cfg := Default()

	if path == "" {
		var err error
		path, err = ConfigPath()
		if err != nil {
			return cfg, nil //nolint:nilerr // no home dir is not fatal; defaults stand
		}
	}
	if _, err := os.Stat(path); err == nil {
		raw, err := evaluatePkl(ctx, path)
		if err != nil {
			return cfg, err
		}
		merge(&cfg, raw)
	}

	ApplyEnvOverrides(&cfg)
	return cfg, nil
}

func evaluatePkl(ctx context.Context, path string) (rawOverrides, error) {
	var raw rawOverrides

	evaluator, err := pkl.NewEvaluator(ctx, pkl.PreconfiguredOptions)
	if err != nil {
		return raw, err
	}
	defer evaluator.Close()

	jsonBytes, err := evaluator.EvaluateExpressionRaw(ctx, pkl.FileSource(path), "new JsonRenderer {}.renderValue(this)")
	if err != nil {
		return raw, err
	}

	// Pkl may emit leading bytes before the JSON payload; seek the
	// opening brace, as the only reliable anchor.
	jsonStr := string(jsonBytes)
	start := strings.IndexByte(jsonStr, '{')
	if start < 0 {
		return raw, nil
	}
	jsonStr = jsonStr[start:]

	if err := json.Unmarshal([]byte(jsonStr), &raw); err != nil {
		return raw, err
	}
	return raw, nil
}

func merge(cfg *Config, raw rawOverrides) {
	if raw.Crawler != nil {
		if raw.Crawler.TimeoutSeconds != nil {
			cfg.Crawler.TimeoutSeconds = *raw.Crawler.TimeoutSeconds
		}
		if raw.Crawler.UserAgent != nil {
			cfg.Crawler.UserAgent = *raw.Crawler.UserAgent
		}
		if raw.Crawler.RetryCount != nil {
			cfg.Crawler.RetryCount = *raw.Crawler.RetryCount
		}
	}
	if raw.Detection != nil {
		if raw.Detection.MinConfidence != nil {
			cfg.Detection.MinConfidence = *raw.Detection.MinConfidence
		}
		if raw.Detection.MinNotices != nil {
			cfg.Detection.MinNotices = *raw.Detection.MinNotices
		}
		if raw.Detection.MinTitleLength != nil {
			cfg.Detection.MinTitleLength = *raw.Detection.MinTitleLength
		}
		if raw.Detection.MaxTitleLength != nil {
			cfg.Detection.MaxTitleLength = *raw.Detection.MaxTitleLength
		}
		if raw.Detection.SimilarityThreshold != nil {
			cfg.Detection.SimilarityThreshold = *raw.Detection.SimilarityThreshold
		}
	}
	if raw.Validation != nil && raw.Validation.MaxNoticesPerUniversity != nil {
		cfg.Validation.MaxNoticesPerUniversity = *raw.Validation.MaxNoticesPerUniversity
	}
	if raw.Fallback != nil {
		if raw.Fallback.UseBrowser != nil {
			cfg.Fallback.UseBrowser = *raw.Fallback.UseBrowser
		}
		if len(raw.Fallback.Selectors) > 0 {
			cfg.Fallback.Selectors = raw.Fallback.Selectors
		}
	}
	if raw.Browser != nil {
		if len(raw.Browser.ChromeOptions) > 0 {
			cfg.Browser.ChromeOptions = raw.Browser.ChromeOptions
		}
		if raw.Browser.TimeoutSeconds != nil {
			cfg.Browser.TimeoutSeconds = *raw.Browser.TimeoutSeconds
		}
		if raw.Browser.ChromePath != nil {
			cfg.Browser.ChromePath = *raw.Browser.ChromePath
		}
	}
	if raw.Patterns != nil {
		if len(raw.Patterns.DatePatterns) > 0 {
			cfg.Patterns.DatePatterns = raw.Patterns.DatePatterns
		}
		if len(raw.Patterns.NoticeKeywords) > 0 {
			cfg.Patterns.NoticeKeywords = raw.Patterns.NoticeKeywords
		}
	}
	if raw.BatchSize != nil {
		cfg.BatchSize = *raw.BatchSize
	}
	if raw.Logging != nil && raw.Logging.Level != nil {
		cfg.Logging.Level = *raw.Logging.Level
	}
}

// envMapping names the env vars that override a Config field, one
// entry per field this package exposes.
var envMapping = []struct {
	key   string
	apply func(*Config, string)
}{
	{"CRAWLER_TIMEOUT", func(c *Config, v string) { setInt(&c.Crawler.TimeoutSeconds, v) }},
	{"CRAWLER_USER_AGENT", func(c *Config, v string) { c.Crawler.UserAgent = v }},
	{"CRAWLER_RETRY_COUNT", func(c *Config, v string) { setInt(&c.Crawler.RetryCount, v) }},
	{"DETECTION_MIN_CONFIDENCE", func(c *Config, v string) { setFloat(&c.Detection.MinConfidence, v) }},
	{"DETECTION_MIN_NOTICES", func(c *Config, v string) { setInt(&c.Detection.MinNotices, v) }},
	{"DETECTION_MIN_TITLE_LENGTH", func(c *Config, v string) { setInt(&c.Detection.MinTitleLength, v) }},
	{"DETECTION_MAX_TITLE_LENGTH", func(c *Config, v string) { setInt(&c.Detection.MaxTitleLength, v) }},
	{"DETECTION_SIMILARITY_THRESHOLD", func(c *Config, v string) { setFloat(&c.Detection.SimilarityThreshold, v) }},
	{"VALIDATION_MAX_NOTICES", func(c *Config, v string) { setInt(&c.Validation.MaxNoticesPerUniversity, v) }},
	{"FALLBACK_USE_BROWSER", func(c *Config, v string) { c.Fallback.UseBrowser = isTruthy(v) }},
	{"FALLBACK_SELECTORS", func(c *Config, v string) { c.Fallback.Selectors = splitList(v, ";") }},
	{"SELENIUM_TIMEOUT", func(c *Config, v string) { setInt(&c.Browser.TimeoutSeconds, v) }},
	{"SELENIUM_CHROME_OPTIONS", func(c *Config, v string) { c.Browser.ChromeOptions = splitList(v, ",") }},
	{"CHROME_BINARY_PATH", func(c *Config, v string) { c.Browser.ChromePath = v }},
	// Semicolon-separated: date regexes routinely contain commas-adjacent
	// metacharacters, so the list separator must stay out of regex syntax.
	{"PATTERNS_DATE_PATTERNS", func(c *Config, v string) { c.Patterns.DatePatterns = splitList(v, ";") }},
	{"PATTERNS_NOTICE_KEYWORDS", func(c *Config, v string) { c.Patterns.NoticeKeywords = splitList(v, ",") }},
	{"BATCH_SIZE", func(c *Config, v string) { setInt(&c.BatchSize, v) }},
	{"LOG_LEVEL", func(c *Config, v string) { c.Logging.Level = v }},
}

// ApplyEnvOverrides mutates cfg in place for every env var present in
// envMapping, matching the original's type-converting override pass.
func ApplyEnvOverrides(cfg *Config) {
	for _, m := range envMapping {
		if v, ok := os.LookupEnv(m.key); ok {
			m.apply(cfg, v)
		}
	}
}

func setInt(dst *int, v string) {
	if n, err := strconv.Atoi(v); err == nil {
		*dst = n
	}
}

func setFloat(dst *float64, v string) {
	if f, err := strconv.ParseFloat(v, 64); err == nil {
		*dst = f
	}
}

func splitList(v, sep string) []string {
	var out []string
	for _, part := range strings.Split(v, sep) {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func isTruthy(v string) bool {
	switch strings.ToLower(v) {
	case "true", "1", "yes":
		return true
	default:
		return false
	}
}

// DefaultPkl returns the literal Config.pkl template, for writers that
// want to seed a user config file.
func DefaultPkl() string {
	return defaultPkl
}
