// Package fetch is the Fetch Layer: a shared HTTP client for the
// plain-HTML path and a headless-browser adapter for the JS-rendered
// fallback. The plain GET path carries a configurable User-Agent and
// timeout; the headless path runs a persistent Chrome profile through
// a fixed ExecAllocatorOption set — no stealth scripting or search-
// engine-specific navigation, since a batch crawler fetching published
// .ac.kr boards has no adversary to evade.
package fetch

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/chromedp"
	"golang.org/x/net/html/charset"
)

// Options configures both fetch paths. ChromeFlags are extra Chrome
// command-line options in "--name" or "--name=value" form, appended
// after the defaults; BrowserTimeoutSeconds bounds one headless render
// independently of the plain-fetch timeout.
type Options struct {
	UserAgent             string
	TimeoutSeconds        int
	BrowserTimeoutSeconds int
	ChromePath            string
	ChromeFlags           []string
}

func DefaultOptions() Options {
	return Options{
		UserAgent:             "Mozilla/5.0 (compatible; NoticeCrawler/1.0; +https://example.invalid/bot)",
		TimeoutSeconds:        15,
		BrowserTimeoutSeconds: 30,
	}
}

// Result is a fetched page: its HTML, the URL it was ultimately served
// from (post-redirect), and whether the headless path produced it.
type Result struct {
	HTML        string
	FinalURL    string
	UsedBrowser bool
}

// Client wraps one *http.Client, reused across calls, and serializes
// headless-browser access so only one Chrome process runs at a time
// regardless of how many workers call Browser concurrently.
type Client struct {
	http        *http.Client
	opts        Options
	browserMu   sync.Mutex
	userDataDir string
}

func New(opts Options) *Client {
	if opts.UserAgent == "" {
		opts = DefaultOptions()
	}
	return &Client{
		http: &http.Client{
			Timeout: time.Duration(opts.TimeoutSeconds) * time.Second,
		},
		opts:        opts,
		userDataDir: defaultUserDataDir(),
	}
}

// splitChromeFlag parses one configured Chrome option in "--name" or
// "--name=value" form; a value-less flag becomes a boolean switch.
func splitChromeFlag(flag string) (name, value string) {
	name, value, _ = strings.Cut(strings.TrimLeft(flag, "-"), "=")
	return name, value
}

func defaultUserDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	dir := filepath.Join(home, ".cache", "noticecrawler", "chrome-profile")
	_ = os.MkdirAll(dir, 0o755)
	return dir
}

// Simple performs a plain GET, decoding the response body to UTF-8
// using the server's declared charset when present and falling back
// to content-sniffing otherwise. A non-2xx status is a fetch failure.
func (c *Client) Simple(ctx context.Context, pageURL string) (Result, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return Result{}, err
	}
	req.Header.Set("User-Agent", c.opts.UserAgent)

	resp, err := c.http.Do(req)
	if err != nil {
		return Result{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return Result{}, fmt.Errorf("fetch: %s returned status %d", pageURL, resp.StatusCode)
	}

	reader, err := charset.NewReader(resp.Body, resp.Header.Get("Content-Type"))
	if err != nil {
		reader = resp.Body
	}
	body, err := io.ReadAll(reader)
	if err != nil {
		return Result{}, err
	}

	finalURL := pageURL
	if resp.Request != nil && resp.Request.URL != nil {
		finalURL = resp.Request.URL.String()
	}
	return Result{HTML: string(body), FinalURL: finalURL}, nil
}

// Browser renders pageURL in a headless Chrome instance, waits ~2s for
// scripted content to settle, and returns the serialized DOM. Only one
// Browser call runs at a time per Client; the allocator and context
// are always released, even on error or timeout.
func (c *Client) Browser(ctx context.Context, pageURL string) (Result, error) {
	c.browserMu.Lock()
	defer c.browserMu.Unlock()

	allocOpts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", true),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("no-sandbox", true),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.UserAgent(c.opts.UserAgent),
		chromedp.WindowSize(1280, 1024),
	)
	if c.userDataDir != "" {
		allocOpts = append(allocOpts, chromedp.UserDataDir(c.userDataDir))
	}
	if c.opts.ChromePath != "" {
		allocOpts = append(allocOpts, chromedp.ExecPath(c.opts.ChromePath))
	}
	for _, flag := range c.opts.ChromeFlags {
		name, value := splitChromeFlag(flag)
		if name == "" {
			continue
		}
		if value == "" {
			allocOpts = append(allocOpts, chromedp.Flag(name, true))
		} else {
			allocOpts = append(allocOpts, chromedp.Flag(name, value))
		}
	}

	allocCtx, cancelAlloc := chromedp.NewExecAllocator(ctx, allocOpts...)
	defer cancelAlloc()

	browserCtx, cancelCtx := chromedp.NewContext(allocCtx)
	defer cancelCtx()

	timeout := time.Duration(c.opts.BrowserTimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	runCtx, cancelTimeout := context.WithTimeout(browserCtx, timeout)
	defer cancelTimeout()

	var rendered string
	var finalURL string
	err := chromedp.Run(runCtx,
		chromedp.Navigate(pageURL),
		chromedp.Sleep(2*time.Second),
		chromedp.Location(&finalURL),
		chromedp.OuterHTML("html", &rendered, chromedp.ByQuery),
	)
	if err != nil {
		return Result{}, err
	}
	if finalURL == "" {
		finalURL = pageURL
	}
	return Result{HTML: rendered, FinalURL: finalURL, UsedBrowser: true}, nil
}
