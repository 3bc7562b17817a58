// Package selectors runs a notice.SelectorSet against a parsed page
// and turns the matched rows into notice.Notice values.
package selectors

import (
	"strings"

	"github.com/PuerkitoBio/goquery"

	"noticecrawler/normalize"
	"noticecrawler/notice"
)

// Execute finds every row matched by set.Item, extracts title/date/link
// from each, normalizes and absolutizes them against baseURL, and
// drops any row that fails the Notice invariants at the default title
// bounds. It never returns an error: a selector that matches nothing
// just yields an empty slice.
func Execute(doc *goquery.Document, set notice.SelectorSet, baseURL string) []notice.Notice {
	return ExecuteLimits(doc, set, baseURL, notice.MinTitleRunes, notice.MaxTitleRunes)
}

// ExecuteLimits is Execute with caller-supplied title-length bounds,
// for engines whose min/max title length is configured away from the
// defaults.
func ExecuteLimits(doc *goquery.Document, set notice.SelectorSet, baseURL string, minTitle, maxTitle int) []notice.Notice {
	if set.Item == "" {
		return nil
	}
	rows := doc.Find(set.Item)
	if rows.Length() == 0 {
		return nil
	}

	var out []notice.Notice
	rows.Each(func(_ int, row *goquery.Selection) {
		n := extractRow(row, set, baseURL)
		if n.ValidWithin(minTitle, maxTitle) {
			out = append(out, n)
		}
	})
	return out
}

func extractRow(row *goquery.Selection, set notice.SelectorSet, baseURL string) notice.Notice {
	title := findText(row, set.Title)
	if title == "" {
		title = findText(row, "a")
	}

	href := findHref(row, set.Link)
	var date string
	if set.Date != "" {
		date = normalize.ParseDate(findText(row, set.Date))
	}
	if date == "" {
		date = normalize.ParseDate(row.Text())
	}

	return notice.Notice{
		Title: normalize.CleanText(title),
		Date:  date,
		Link:  normalize.ResolveLink(baseURL, href),
	}
}

func findText(row *goquery.Selection, selector string) string {
	if selector == "" {
		return ""
	}
	for _, sel := range splitCommaList(selector) {
		if sel == "" {
			continue
		}
		sub := row.Find(sel)
		if sub.Length() > 0 {
			if t := normalize.CleanText(sub.First().Text()); t != "" {
				return t
			}
		}
	}
	return ""
}

// findHref mirrors apply.go's three-way href resolution: the row's own
// href attribute, then the first descendant anchor, then (if the row
// itself sits inside an anchor) the nearest ancestor anchor.
func findHref(row *goquery.Selection, selector string) string {
	if selector != "" {
		for _, sel := range splitCommaList(selector) {
			sub := row.Find(sel)
			if sub.Length() > 0 {
				if href, ok := sub.First().Attr("href"); ok && href != "" {
					return href
				}
			}
		}
	}
	if href, ok := row.Attr("href"); ok && href != "" {
		return href
	}
	if a := row.Find("a").First(); a.Length() > 0 {
		if href, ok := a.Attr("href"); ok {
			return href
		}
	}
	if parentAnchor := row.Closest("a"); parentAnchor.Length() > 0 {
		if href, ok := parentAnchor.Attr("href"); ok {
			return href
		}
	}
	return ""
}

func splitCommaList(s string) []string {
	parts := strings.Split(s, ",")
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	return parts
}
