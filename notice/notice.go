// Package notice defines the shared data types passed between the
// registry, detector, selector and engine packages.
package notice

import (
	"net/url"
	"time"
)

// Notice is a single extracted row from a university notice board.
type Notice struct {
	Title string `json:"title"`
	Date  string `json:"date,omitempty"`
	Link  string `json:"link,omitempty"`
}

const (
	MinTitleRunes = 5
	MaxTitleRunes = 500
)

// Valid reports whether n satisfies the Notice invariants at the
// default title bounds: a title between MinTitleRunes and
// MaxTitleRunes runes, a Date that is either empty or already
// normalized to YYYY-MM-DD, and a Link that is either empty or an
// absolute http(s) URL. Callers normalize before calling Valid; Valid
// itself does no cleanup.
func (n Notice) Valid() bool {
	return n.ValidWithin(MinTitleRunes, MaxTitleRunes)
}

// ValidWithin is Valid with caller-supplied title bounds, for engines
// whose min/max title length is configured away from the defaults.
func (n Notice) ValidWithin(minTitle, maxTitle int) bool {
	r := []rune(n.Title)
	if len(r) < minTitle || len(r) > maxTitle {
		return false
	}
	if n.Date != "" {
		if _, err := time.Parse("2006-01-02", n.Date); err != nil {
			return false
		}
	}
	if n.Link != "" {
		u, err := url.Parse(n.Link)
		if err != nil || !u.IsAbs() || (u.Scheme != "http" && u.Scheme != "https") {
			return false
		}
	}
	return true
}

// Method names the cascade stage that produced an ExtractResult.
type Method string

const (
	MethodTemplate   Method = "template"
	MethodAutoDetect Method = "auto_detect"
	MethodCustom     Method = "custom"
	MethodSelenium   Method = "selenium"
)

// ExtractResult is the outcome of one Engine.Extract call. Success is
// false for every failure path; Error then carries a human-readable
// reason. The engine never returns a Go error from Extract itself.
// Timestamp is stamped by the engine on every result, success or not.
type ExtractResult struct {
	Success   bool     `json:"success"`
	Notices   []Notice `json:"notices,omitempty"`
	Method    Method   `json:"method,omitempty"`
	Error     string   `json:"error,omitempty"`
	Timestamp string   `json:"timestamp"`
}

// SelectorSet names the CSS selectors needed to pull notices out of a
// parsed page: Item selects each repeating row, and Title/Date/Link
// are evaluated relative to each matched row (falling back to the row
// element itself for Link when no anchor matches).
type SelectorSet struct {
	Item  string `json:"item"`
	Title string `json:"title"`
	Date  string `json:"date,omitempty"`
	Link  string `json:"link,omitempty"`
}
