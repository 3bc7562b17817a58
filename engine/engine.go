// Package engine implements the Extraction Engine: the cascade that
// ties the Template Registry, Pattern Detector, generic selector
// sets, and headless-browser fallback together into one
// Extract(url, siteName) call, trying each ranked strategy in order
// and continuing past failure until one succeeds or all are
// exhausted.
package engine

import (
	"context"
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"noticecrawler/config"
	"noticecrawler/detect"
	"noticecrawler/fetch"
	"noticecrawler/notice"
	"noticecrawler/registry"
	"noticecrawler/selectors"
)

// allCascadesFailed is the literal failure message emitted when every
// strategy — template, detector, generic patterns, and (if enabled)
// the headless fallback — produces nothing usable.
const allCascadesFailed = "모든 크롤링 방법 실패"

// pageFetcher is the slice of the fetch layer the engine drives. The
// concrete *fetch.Client satisfies it; tests substitute a stub so the
// headless path can be exercised without a browser process.
type pageFetcher interface {
	Simple(ctx context.Context, pageURL string) (fetch.Result, error)
	Browser(ctx context.Context, pageURL string) (fetch.Result, error)
}

// Engine orchestrates one site's extraction. It holds no per-call
// mutable state: the Template Registry is shared and RWMutex-guarded,
// the fetch Client serializes its own browser access, so one Engine
// value is safe to call Extract on concurrently from multiple workers.
type Engine struct {
	registry  *registry.Registry
	fetcher   pageFetcher
	cfg       config.Config
	detectCfg detect.Config
	log       *zap.Logger

	statsMu sync.Mutex
	stats   map[notice.Method]int
}

// New builds an Engine from a loaded config, an optional custom
// registry (nil uses the embedded defaults), and an optional logger
// (nil uses a no-op logger). Configured date patterns are compiled
// here, once; a regex that fails to compile is a fatal construction
// error, never a per-crawl one.
func New(cfg config.Config, reg *registry.Registry, log *zap.Logger) (*Engine, error) {
	if reg == nil {
		var err error
		reg, err = registry.New()
		if err != nil {
			return nil, err
		}
	}
	if log == nil {
		log = zap.NewNop()
	}

	detectCfg := detect.DefaultConfig()
	detectCfg.MinNotices = cfg.Detection.MinNotices
	detectCfg.SimilarityThreshold = cfg.Detection.SimilarityThreshold
	if len(cfg.Patterns.NoticeKeywords) > 0 {
		detectCfg.NoticeKeywords = cfg.Patterns.NoticeKeywords
	}
	for _, pat := range cfg.Patterns.DatePatterns {
		re, err := regexp.Compile(pat)
		if err != nil {
			return nil, fmt.Errorf("compiling date pattern %q: %w", pat, err)
		}
		detectCfg.DatePatterns = append(detectCfg.DatePatterns, re)
	}

	fetchOpts := fetch.Options{
		UserAgent:             cfg.Crawler.UserAgent,
		TimeoutSeconds:        cfg.Crawler.TimeoutSeconds,
		BrowserTimeoutSeconds: cfg.Browser.TimeoutSeconds,
		ChromePath:            cfg.Browser.ChromePath,
		ChromeFlags:           cfg.Browser.ChromeOptions,
	}
	return &Engine{
		registry:  reg,
		fetcher:   fetch.New(fetchOpts),
		cfg:       cfg,
		detectCfg: detectCfg,
		log:       log,
		stats:     make(map[notice.Method]int),
	}, nil
}

// Stats returns a snapshot of how many successful crawls each cascade
// method has produced since the engine was built. Each successful
// Extract increments exactly one counter.
func (e *Engine) Stats() map[notice.Method]int {
	e.statsMu.Lock()
	defer e.statsMu.Unlock()
	out := make(map[notice.Method]int, len(e.stats))
	for k, v := range e.stats {
		out[k] = v
	}
	return out
}

// Extract runs the full cascade for one URL. It never returns a Go
// error: every fault becomes ExtractResult{Success:false, Error:...}.
func (e *Engine) Extract(ctx context.Context, pageURL, siteName string) notice.ExtractResult {
	res := e.extract(ctx, pageURL, siteName)
	res.Timestamp = time.Now().UTC().Format(time.RFC3339)
	if res.Success {
		e.statsMu.Lock()
		e.stats[res.Method]++
		e.statsMu.Unlock()
	}
	return res
}

func (e *Engine) extract(ctx context.Context, pageURL, siteName string) notice.ExtractResult {
	log := e.log.With(zap.String("site", siteName), zap.String("url", pageURL))

	res, err := e.fetcher.Simple(ctx, pageURL)
	if err != nil {
		log.Debug("fetch failed, falling through to browser if enabled", zap.Error(err))
		return e.fallbackOrFail(ctx, pageURL, siteName, log)
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(res.HTML))
	if err != nil {
		log.Debug("parse failed, falling through to browser if enabled", zap.Error(err))
		return e.fallbackOrFail(ctx, pageURL, siteName, log)
	}

	host := hostOf(res.FinalURL)

	if set, name, ok := e.registry.Match(res.FinalURL, host, doc, res.HTML); ok {
		notices := e.extractAndValidate(doc, set, res.FinalURL)
		if len(notices) >= e.cfg.Detection.MinNotices {
			log.Info("matched template", zap.String("template", name), zap.Int("count", len(notices)))
			return notice.ExtractResult{Success: true, Notices: notices, Method: notice.MethodTemplate}
		}
	}

	if result := detect.Detect(doc, e.detectCfg); result.Confidence >= e.cfg.Detection.MinConfidence {
		notices := e.extractAndValidate(doc, result.Selectors, res.FinalURL)
		if len(notices) >= e.cfg.Detection.MinNotices {
			log.Info("auto-detected structure", zap.Float64("confidence", result.Confidence), zap.Int("count", len(notices)))
			return notice.ExtractResult{Success: true, Notices: notices, Method: notice.MethodAutoDetect}
		}
	}

	for _, set := range registry.GenericSets() {
		notices := e.extractAndValidate(doc, set, res.FinalURL)
		if len(notices) >= e.cfg.Detection.MinNotices {
			log.Info("matched generic pattern", zap.Int("count", len(notices)))
			return notice.ExtractResult{Success: true, Notices: notices, Method: notice.MethodCustom}
		}
	}

	return e.fallbackOrFail(ctx, pageURL, siteName, log)
}

// fallbackOrFail is stage 4: render the page headlessly, try the
// fallback selectors as candidate item selectors (spec's resolution of
// the selenium_selectors open question), then re-run the Pattern
// Detector at the relaxed 0.5 confidence floor. If the browser
// fallback is disabled or everything still fails, the cascade ends in
// the literal all-methods-failed result.
func (e *Engine) fallbackOrFail(ctx context.Context, pageURL, siteName string, log *zap.Logger) notice.ExtractResult {
	if !e.cfg.Fallback.UseBrowser {
		return notice.ExtractResult{Success: false, Error: allCascadesFailed}
	}

	res, err := e.fetcher.Browser(ctx, pageURL)
	if err != nil {
		log.Debug("headless fallback failed", zap.Error(err))
		return notice.ExtractResult{Success: false, Error: allCascadesFailed}
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(res.HTML))
	if err != nil {
		return notice.ExtractResult{Success: false, Error: allCascadesFailed}
	}

	for _, raw := range e.cfg.Fallback.Selectors {
		set := notice.SelectorSet{Item: raw, Title: "a, .title, .subject", Date: ".date, .regdate, .time", Link: "a"}
		if doc.Find(raw).Length() < e.cfg.Detection.MinNotices {
			continue
		}
		notices := e.extractAndValidate(doc, set, res.FinalURL)
		if len(notices) >= e.cfg.Detection.MinNotices {
			log.Info("headless fallback matched configured selector", zap.String("selector", raw))
			return notice.ExtractResult{Success: true, Notices: notices, Method: notice.MethodSelenium}
		}
	}

	if result := detect.Detect(doc, e.detectCfg); result.Confidence >= 0.5 {
		notices := e.extractAndValidate(doc, result.Selectors, res.FinalURL)
		if len(notices) >= e.cfg.Detection.MinNotices {
			log.Info("headless fallback auto-detected structure", zap.Float64("confidence", result.Confidence))
			return notice.ExtractResult{Success: true, Notices: notices, Method: notice.MethodSelenium}
		}
	}

	return notice.ExtractResult{Success: false, Error: allCascadesFailed}
}

// extractAndValidate runs Selector Execution, drops duplicate titles,
// and caps the result at max_notices_per_university — the one
// validation/dedup/cap pass shared by every cascade stage.
func (e *Engine) extractAndValidate(doc *goquery.Document, set notice.SelectorSet, baseURL string) []notice.Notice {
	raw := selectors.ExecuteLimits(doc, set, baseURL,
		e.cfg.Detection.MinTitleLength, e.cfg.Detection.MaxTitleLength)

	seen := make(map[string]bool, len(raw))
	out := make([]notice.Notice, 0, len(raw))
	for _, n := range raw {
		if seen[n.Title] {
			continue
		}
		seen[n.Title] = true
		out = append(out, n)
		if len(out) >= e.cfg.Validation.MaxNoticesPerUniversity {
			break
		}
	}
	return out
}

func hostOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return u.Hostname()
}
