// Package registry implements the Template Registry: a ranked
// cascade of known-site selector sets, tried before the heuristic
// pattern detector ever runs. The cascade and its RWMutex-guarded
// custom-template slot follow the same "ranked strategies, first
// match wins" shape as a handler registry, generalized from matching
// page types to matching notice-board selector sets.
package registry

import (
	_ "embed"
	"encoding/json"
	"os"
	"strconv"
	"strings"
	"sync"

	"github.com/PuerkitoBio/goquery"

	"noticecrawler/normalize"
	"noticecrawler/notice"
)

//go:embed templates.json
var defaultTemplatesJSON []byte

// Template is one named selector set plus the fingerprint used to
// decide whether it applies to a given page.
type Template struct {
	Name       string             `json:"-"`
	Indicators []string           `json:"indicators,omitempty"`
	Selectors  notice.SelectorSet `json:"selectors"`
}

type fileFormat struct {
	Systems map[string]Template `json:"systems"`
	Domains map[string]Template `json:"domains"`
	Custom  map[string]Template `json:"custom"`
}

// Registry holds domain templates (matched by hostname), system
// templates (matched by indicator fingerprint), and caller-registered
// custom templates (checked first, highest priority). Reads happen
// far more often than writes, so lookups take the read lock and
// AddCustom takes the write lock.
type Registry struct {
	mu      sync.RWMutex
	domains map[string]Template
	systems map[string]Template
	custom  map[string]Template
}

// New builds a Registry from the embedded default templates.
func New() (*Registry, error) {
	return Load(defaultTemplatesJSON)
}

// Load builds a Registry from a templates.json document, in the same
// systems/domains/custom shape the registry persists as.
func Load(data []byte) (*Registry, error) {
	var f fileFormat
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, err
	}
	r := &Registry{
		domains: nameMap(f.Domains),
		systems: nameMap(f.Systems),
		custom:  nameMap(f.Custom),
	}
	return r, nil
}

func nameMap(m map[string]Template) map[string]Template {
	out := make(map[string]Template, len(m))
	for name, t := range m {
		t.Name = name
		out[name] = t
	}
	return out
}

// AddCustom registers a caller-supplied template at runtime. Custom
// templates are checked before domain and system templates. Adding is
// an in-memory append only; use Save to persist the registry.
func (r *Registry) AddCustom(name string, t Template) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t.Name = name
	r.custom[name] = t
}

// Export serializes the registry back into the templates.json shape it
// loads from.
func (r *Registry) Export() ([]byte, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return json.MarshalIndent(fileFormat{
		Systems: r.systems,
		Domains: r.domains,
		Custom:  r.custom,
	}, "", "  ")
}

// Save writes the registry, custom templates included, to path. It is
// the explicit persistence step AddCustom deliberately does not do.
func (r *Registry) Save(path string) error {
	data, err := r.Export()
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

// Match runs the template cascade only: custom templates by domain
// match, then built-in domain templates, then system templates by
// indicator fingerprint. It returns the first Template that passes
// validateTemplate against doc, or ok=false if no template applies. Generic selector sets are a distinct, later cascade stage;
// see GenericSets.
func (r *Registry) Match(pageURL, host string, doc *goquery.Document, rawHTML string) (notice.SelectorSet, string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if t, ok := matchByDomain(r.custom, host); ok {
		if validateTemplate(doc, t.Selectors) {
			return t.Selectors, t.Name, true
		}
	}
	if t, ok := matchByDomain(r.domains, host); ok {
		if validateTemplate(doc, t.Selectors) {
			return t.Selectors, t.Name, true
		}
	}
	if t, ok := matchBySystem(r.systems, rawHTML, pageURL); ok {
		if validateTemplate(doc, t.Selectors) {
			return t.Selectors, t.Name, true
		}
	}
	return notice.SelectorSet{}, "", false
}

// validateTemplate runs a candidate template's Item selector against
// doc and accepts it only if it selects at least 3 elements and at
// least half of the first 5 yield a title-bearing anchor/text longer
// than 5 characters (checked under Title, falling back to Link when
// Title is empty).
func validateTemplate(doc *goquery.Document, s notice.SelectorSet) bool {
	if s.Item == "" {
		return false
	}
	items := doc.Find(s.Item)
	if items.Length() < 3 {
		return false
	}

	sample := items.Length()
	if sample > 5 {
		sample = 5
	}
	hits := 0
	items.EachWithBreak(func(i int, row *goquery.Selection) bool {
		if i >= sample {
			return false
		}
		text := firstMatch(row, s.Title)
		if text == "" {
			text = firstMatch(row, s.Link)
		}
		if len([]rune(normalize.CleanText(text))) > 5 {
			hits++
		}
		return true
	})
	return float64(hits)/float64(sample) >= 0.5
}

func firstMatch(row *goquery.Selection, selector string) string {
	if selector == "" {
		return ""
	}
	for _, sel := range strings.Split(selector, ",") {
		sel = strings.TrimSpace(sel)
		if sel == "" {
			continue
		}
		sub := row.Find(sel)
		if sub.Length() > 0 {
			return sub.First().Text()
		}
	}
	return ""
}

func matchByDomain(m map[string]Template, host string) (Template, bool) {
	host = strings.ToLower(host)
	if t, ok := m[host]; ok {
		return t, true
	}
	for name, t := range m {
		if strings.HasSuffix(host, "."+strings.ToLower(name)) {
			return t, true
		}
	}
	return Template{}, false
}

// matchBySystem picks the system template with the highest indicator
// hit-rate, provided at least half of its indicators are present
// (case-insensitively) in the page HTML or URL.
func matchBySystem(m map[string]Template, rawHTML, pageURL string) (Template, bool) {
	haystack := strings.ToLower(rawHTML + " " + pageURL)
	var best Template
	bestRatio := 0.0
	found := false
	for _, t := range m {
		if len(t.Indicators) == 0 {
			continue
		}
		hits := 0
		for _, ind := range t.Indicators {
			if strings.Contains(haystack, strings.ToLower(ind)) {
				hits++
			}
		}
		ratio := float64(hits) / float64(len(t.Indicators))
		if ratio >= 0.5 && ratio > bestRatio {
			best, bestRatio, found = t, ratio, true
		}
	}
	return best, found
}

// genericSets are the three fixed fallback selector sets, tried in
// order after templates fail to match. Their selectors are fixed by
// contract; do not reorder or reword them.
var genericSets = []notice.SelectorSet{
	{
		Item:  "table tbody tr, .board-table tr",
		Title: "td:nth-child(2) a, td.title a, td.subject a",
		Date:  "td:last-child, td.date, td:nth-last-child(2)",
		Link:  "a",
	},
	{
		Item:  "ul.board-list li, .notice-list li, .list-group-item",
		Title: ".title a, .subject a, a",
		Date:  ".date, .regdate, .time",
		Link:  "a",
	},
	{
		Item:  ".board-item, .notice-item, .item, .row",
		Title: ".title a, .subject a, h3 a, h4 a",
		Date:  ".date, .regdate, .time, span:last-child",
		Link:  "a",
	},
}

var genericNames = []string{"generic-table", "generic-list", "generic-div"}

// GenericSets returns a copy of the fixed fallback selector sets, for
// the engine's generic-pattern stage that runs after template matching
// and pattern detection both fail.
func GenericSets() []notice.SelectorSet {
	out := make([]notice.SelectorSet, len(genericSets))
	copy(out, genericSets)
	return out
}

// Suggestion is a proposed template for a page the registry and
// detector both failed to resolve. It is not part of the extraction
// cascade: it is a starter template for offline authoring, handed to
// AddCustom or written into templates.json once reviewed.
type Suggestion struct {
	Selectors  notice.SelectorSet
	Confidence float64
	Kind       string // "table" or "list"
}

// Suggest scans doc for a plausible table- or list-based board
// structure and proposes a starter template, the way a human template
// author would eyeball the page: find a table with enough data rows
// and guess its widest-text column as the title column and its last
// column as the date column, or find a list whose items all contain a
// link. It returns ok=false when nothing promising is found.
func Suggest(doc *goquery.Document) (Suggestion, bool) {
	var best Suggestion
	found := false

	doc.Find("table").Each(func(_ int, table *goquery.Selection) {
		rows := table.Find("tbody tr")
		if rows.Length() == 0 {
			rows = table.Find("tr")
		}
		if rows.Length() > 0 && rows.First().Find("th").Length() > 0 {
			rows = rows.Slice(1, rows.Length())
		}
		if rows.Length() < 3 {
			return
		}
		cells := rows.First().Find("td")
		if cells.Length() < 2 {
			return
		}

		titleCol, maxLen := 0, 0
		cells.Each(func(i int, cell *goquery.Selection) {
			n := len([]rune(normalize.CleanText(cell.Text())))
			if n > maxLen {
				maxLen, titleCol = n, i
			}
		})
		dateCol := cells.Length() - 1

		s := Suggestion{
			Selectors: notice.SelectorSet{
				Item:  tableSelector(table) + " tbody tr",
				Title: nthChildSelector(titleCol+1) + " a, " + nthChildSelector(titleCol+1),
				Date:  nthChildSelector(dateCol + 1),
				Link:  "a",
			},
			Confidence: 0.8,
			Kind:       "table",
		}
		if !found || s.Confidence > best.Confidence {
			best, found = s, true
		}
	})

	doc.Find("ul, ol, .list, .board").Each(func(_ int, list *goquery.Selection) {
		items := list.Find("li, .item, .row")
		if items.Length() < 3 {
			return
		}
		linkless := items.FilterFunction(func(_ int, it *goquery.Selection) bool {
			return it.Find("a").Length() == 0
		})
		if linkless.Length() > 0 {
			return
		}
		s := Suggestion{
			Selectors: notice.SelectorSet{
				Item:  listSelector(list) + " li",
				Title: "a, .title, .subject",
				Date:  ".date, .regdate, .time, span:last-child",
				Link:  "a",
			},
			Confidence: 0.7,
			Kind:       "list",
		}
		if !found || s.Confidence > best.Confidence {
			best, found = s, true
		}
	})

	return best, found
}

func tableSelector(table *goquery.Selection) string {
	if id, ok := table.Attr("id"); ok && id != "" {
		return "#" + id
	}
	if class, ok := table.Attr("class"); ok && class != "" {
		return "table." + strings.Join(strings.Fields(class), ".")
	}
	return "table"
}

func listSelector(list *goquery.Selection) string {
	tag := goquery.NodeName(list)
	if id, ok := list.Attr("id"); ok && id != "" {
		return "#" + id
	}
	if class, ok := list.Attr("class"); ok && class != "" {
		return tag + "." + strings.Join(strings.Fields(class), ".")
	}
	return tag
}

func nthChildSelector(n int) string {
	return "td:nth-child(" + strconv.Itoa(n) + ")"
}
