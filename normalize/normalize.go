// Package normalize cleans up raw HTML text and dates the way every
// cascade stage needs them cleaned: entity-decoded, whitespace
// collapsed, dates folded onto a single YYYY-MM-DD shape.
package normalize

import (
	"fmt"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"
)

var entityReplacer = strings.NewReplacer(
	"&nbsp;", " ",
	"&amp;", "&",
	"&lt;", "<",
	"&gt;", ">",
	"&quot;", "\"",
	"&#39;", "'",
)

var whitespaceRun = regexp.MustCompile(`\s+`)

// CleanText decodes the handful of HTML entities goquery leaves behind
// in .Text() output, collapses runs of whitespace to a single space,
// and trims the ends.
func CleanText(s string) string {
	s = entityReplacer.Replace(s)
	s = whitespaceRun.ReplaceAllString(s, " ")
	return strings.TrimSpace(s)
}

var (
	dateYMD       = regexp.MustCompile(`(\d{4})[-./](\d{1,2})[-./](\d{1,2})`)
	dateYYMD      = regexp.MustCompile(`(\d{2})[-./](\d{1,2})[-./](\d{1,2})`)
	dateKoreanYMD = regexp.MustCompile(`(\d{4})년\s*(\d{1,2})월\s*(\d{1,2})일`)
	dateMD        = regexp.MustCompile(`^\s*(\d{1,2})[-./](\d{1,2})\s*$`)
	dateKoreanMD  = regexp.MustCompile(`(\d{1,2})월\s*(\d{1,2})일`)
)

// ParseDate applies, in order, the five date shapes notice boards use
// in this region and returns the first one that both matches and
// round-trips through a real calendar date. It returns "" when none
// of the five patterns produce a valid date.
func ParseDate(s string) string {
	now := func() int { return time.Now().Year() }

	if m := dateYMD.FindStringSubmatch(s); m != nil {
		if d := validate(m[1], m[2], m[3]); d != "" {
			return d
		}
	}
	if m := dateYYMD.FindStringSubmatch(s); m != nil {
		if d := validate("20"+m[1], m[2], m[3]); d != "" {
			return d
		}
	}
	if m := dateKoreanYMD.FindStringSubmatch(s); m != nil {
		if d := validate(m[1], m[2], m[3]); d != "" {
			return d
		}
	}
	if m := dateMD.FindStringSubmatch(s); m != nil {
		if d := validate(strconv.Itoa(now()), m[1], m[2]); d != "" {
			return d
		}
	}
	if m := dateKoreanMD.FindStringSubmatch(s); m != nil {
		if d := validate(strconv.Itoa(now()), m[1], m[2]); d != "" {
			return d
		}
	}
	return ""
}

func validate(y, m, d string) string {
	yi, err1 := strconv.Atoi(y)
	mi, err2 := strconv.Atoi(m)
	di, err3 := strconv.Atoi(d)
	if err1 != nil || err2 != nil || err3 != nil {
		return ""
	}
	candidate := fmt.Sprintf("%04d-%02d-%02d", yi, mi, di)
	t, err := time.Parse("2006-01-02", candidate)
	if err != nil {
		return ""
	}
	// Reject strptime-style overflow (e.g. 2024-02-31 silently rolling
	// into March); require the parsed value to echo back unchanged.
	if t.Format("2006-01-02") != candidate {
		return ""
	}
	return candidate
}

// LooksLikeDate reports whether s contains any of the five date
// shapes ParseDate understands, without requiring the match to be a
// real calendar date. The pattern detector uses this cheap check to
// scan candidate leaves before committing to full validation.
func LooksLikeDate(s string) bool {
	return dateYMD.MatchString(s) || dateYYMD.MatchString(s) ||
		dateKoreanYMD.MatchString(s) || dateMD.MatchString(s) || dateKoreanMD.MatchString(s)
}

// ResolveLink absolutizes href against base, matching the cascade's
// href-resolution order: an already-absolute href passes through,
// otherwise it is joined against the page's base URL. Malformed hrefs
// yield "" rather than a half-resolved string, and so does any
// resolved URL whose scheme is not http or https — a mailto: or tel:
// anchor in a board row is navigation chrome, not a notice link.
func ResolveLink(base, href string) string {
	href = strings.TrimSpace(href)
	if href == "" || strings.HasPrefix(href, "#") {
		return ""
	}
	u, err := url.Parse(href)
	if err != nil {
		return ""
	}
	if u.IsAbs() {
		if u.Scheme != "http" && u.Scheme != "https" {
			return ""
		}
		return u.String()
	}
	baseURL, err := url.Parse(base)
	if err != nil {
		return ""
	}
	resolved := baseURL.ResolveReference(u)
	if resolved.Scheme != "http" && resolved.Scheme != "https" {
		return ""
	}
	return resolved.String()
}

// Jaccard computes the Jaccard similarity of two class-name sets, used
// by the pattern detector's structural clustering pass. Two classless
// sets score 0, not 1: having no classes at all is not a structural
// similarity signal.
func Jaccard(a, b []string) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 0
	}
	set := func(xs []string) map[string]struct{} {
		m := make(map[string]struct{}, len(xs))
		for _, x := range xs {
			m[x] = struct{}{}
		}
		return m
	}
	sa, sb := set(a), set(b)
	inter := 0
	for k := range sa {
		if _, ok := sb[k]; ok {
			inter++
		}
	}
	union := len(sa) + len(sb) - inter
	if union == 0 {
		return 0
	}
	return float64(inter) / float64(union)
}
