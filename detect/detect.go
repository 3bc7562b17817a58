// Package detect implements the heuristic Pattern Detector: given an
// arbitrary parsed page, it infers a repeating notice-row structure
// without any prior knowledge of the site, by locating date-bearing
// leaves, walking to their enclosing row, clustering similar rows,
// and scoring the best cluster.
package detect

import (
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"

	"noticecrawler/normalize"
	"noticecrawler/notice"
)

// Config carries the tunables named in the external-interfaces
// contract; every field has the documented default. DatePatterns, when
// set, replaces the built-in date shapes for the leaf scan — callers
// compile the regexes once at construction, never per Detect call.
type Config struct {
	MinNotices          int
	SimilarityThreshold float64
	NoticeKeywords      []string
	DatePatterns        []*regexp.Regexp
}

func (c Config) looksLikeDate(s string) bool {
	if len(c.DatePatterns) == 0 {
		return normalize.LooksLikeDate(s)
	}
	for _, re := range c.DatePatterns {
		if re.MatchString(s) {
			return true
		}
	}
	return false
}

func DefaultConfig() Config {
	return Config{
		MinNotices:          3,
		SimilarityThreshold: 0.8,
		NoticeKeywords: []string{
			"공지", "안내", "모집", "전형", "입학", "합격",
			"발표", "시험", "접수", "마감", "변경", "연기", "취소", "선발",
		},
	}
}

// Result is the Detection Result: a synthesized selector quadruple
// plus the confidence the cascade checks against its threshold.
type Result struct {
	Confidence float64
	Selectors  notice.SelectorSet
}

var itemContainerTags = map[string]bool{"tr": true, "li": true, "article": true, "section": true}

var itemContainerKeywords = []string{"item", "notice", "board", "list", "row", "article", "post", "entry", "content"}

var dateClassKeywords = []string{"date", "time", "regist", "write", "post"}

var candidateTags = map[string]bool{"td": true, "div": true, "span": true, "a": true, "strong": true, "em": true}

type feature struct {
	node          *html.Node
	sel           *goquery.Selection
	tag           string
	classes       []string
	parentTag     string
	parentClasses []string
	siblingCount  int
	hasLink       bool
	textLen       int
	titleCand     []candidate
	dateCand      []candidate
	linkCand      []candidate
}

type candidate struct {
	sel      *goquery.Selection
	text     string
	selector string
}

// Detect runs the four-phase algorithm against doc and returns a
// Result. It never returns an error: a document with no date-bearing
// leaves simply yields Confidence 0.
func Detect(doc *goquery.Document, cfg Config) Result {
	containers := findContainers(doc, cfg)
	if len(containers) == 0 {
		return Result{}
	}

	features := make([]feature, 0, len(containers))
	for _, c := range containers {
		features = append(features, analyze(c, cfg))
	}

	clusters := cluster(features, cfg.SimilarityThreshold)
	if len(clusters) == 0 {
		return Result{}
	}

	rep := bestCluster(clusters, cfg.NoticeKeywords)

	set := synthesize(rep, cfg)
	confidence := scoreConfidence(doc, set, cfg)

	return Result{Confidence: confidence, Selectors: set}
}

// bestCluster implements Phase D's "score, then pick the winner" step:
// every cluster's representative is scored via scoreStructure, and the
// highest-scoring one wins, not simply the largest cluster. A nav menu
// with as many <li> siblings as the real notice list must lose to the
// cluster whose has_link/length/keyword bonuses actually mark it as
// notice-shaped.
func bestCluster(clusters [][]feature, keywords []string) feature {
	bestRep := representative(clusters[0])
	bestScore := scoreStructure(bestRep, keywords)
	for _, c := range clusters[1:] {
		rep := representative(c)
		if score := scoreStructure(rep, keywords); score > bestScore {
			bestRep, bestScore = rep, score
		}
	}
	return bestRep
}

// findContainers implements Phase A: locate date-bearing leaves, then
// walk up to 5 ancestors to the nearest row-like container.
func findContainers(doc *goquery.Document, cfg Config) []*goquery.Selection {
	seen := make(map[*html.Node]bool)
	var out []*goquery.Selection

	doc.Find("*").Each(func(_ int, s *goquery.Selection) {
		text := normalize.CleanText(s.Text())
		if text == "" || !cfg.looksLikeDate(text) {
			return
		}
		if s.Children().Length() > 0 {
			// Non-leaf elements only count when their class or id hints
			// at a date slot; otherwise every ancestor of a date leaf
			// would register too.
			class, _ := s.Attr("class")
			id, _ := s.Attr("id")
			hay := strings.ToLower(class + " " + id)
			matchedKeyword := false
			for _, kw := range dateClassKeywords {
				if strings.Contains(hay, kw) {
					matchedKeyword = true
					break
				}
			}
			if !matchedKeyword {
				return
			}
		}

		container := walkToContainer(s)
		if container == nil {
			return
		}
		node := container.Get(0)
		if seen[node] {
			return
		}
		seen[node] = true
		out = append(out, container)
	})
	return out
}

func walkToContainer(s *goquery.Selection) *goquery.Selection {
	cur := s
	for i := 0; i < 5; i++ {
		parent := cur.Parent()
		if parent.Length() == 0 {
			return nil
		}
		tag := goquery.NodeName(parent)
		if itemContainerTags[tag] {
			return parent
		}
		if tag == "div" && isItemContainer(parent) {
			return parent
		}
		cur = parent
	}
	return nil
}

func isItemContainer(s *goquery.Selection) bool {
	class, _ := s.Attr("class")
	id, _ := s.Attr("id")
	hay := strings.ToLower(class + " " + id)
	for _, kw := range itemContainerKeywords {
		if strings.Contains(hay, kw) {
			return true
		}
	}
	return false
}

// analyze implements Phase B: extract structural features and
// candidate title/date/link descendants for one container.
func analyze(c *goquery.Selection, cfg Config) feature {
	tag := goquery.NodeName(c)
	class, _ := c.Attr("class")
	parent := c.Parent()
	parentTag := ""
	var parentClasses []string
	siblingCount := 0
	if parent.Length() > 0 {
		parentTag = goquery.NodeName(parent)
		if pc, ok := parent.Attr("class"); ok {
			parentClasses = strings.Fields(pc)
		}
		parent.Children().Each(func(_ int, s *goquery.Selection) {
			if goquery.NodeName(s) == tag {
				siblingCount++
			}
		})
	}

	f := feature{
		node:          c.Get(0),
		sel:           c,
		tag:           tag,
		classes:       strings.Fields(class),
		parentTag:     parentTag,
		parentClasses: parentClasses,
		siblingCount:  siblingCount,
		hasLink:       tag == "a" || c.Find("a").Length() > 0,
		textLen:       len([]rune(normalize.CleanText(c.Text()))),
	}

	// Title, date and link candidacy are independent checks on the same
	// descendant: a date-bearing cell can still be the row's link
	// carrier, and a non-anchor wrapper counts as a link candidate when
	// an anchor sits anywhere inside it.
	c.Find("*").Each(func(_ int, d *goquery.Selection) {
		if !candidateTags[goquery.NodeName(d)] {
			return
		}
		text := normalize.CleanText(d.Text())
		if text == "" {
			return
		}
		sel := generateSelector(d, c)
		isDate := cfg.looksLikeDate(text)
		if isDate {
			f.dateCand = append(f.dateCand, candidate{d, text, sel})
		}
		if !isDate && len([]rune(text)) > 10 {
			f.titleCand = append(f.titleCand, candidate{d, text, sel})
		}
		if goquery.NodeName(d) == "a" || d.Find("a").Length() > 0 {
			f.linkCand = append(f.linkCand, candidate{d, text, sel})
		}
	})
	return f
}

// generateSelector synthesizes a CSS selector for el relative to
// container by walking the ancestor chain, recording tag, classes,
// and :nth-child(k) only when the sibling group is ambiguous.
func generateSelector(el, container *goquery.Selection) string {
	var parts []string
	cur := el
	for cur.Length() > 0 && cur.Get(0) != container.Get(0) {
		tag := goquery.NodeName(cur)
		part := tag
		if class, ok := cur.Attr("class"); ok && class != "" {
			for _, c := range strings.Fields(class) {
				part += "." + c
			}
		}
		parent := cur.Parent()
		if parent.Length() > 0 {
			sameTag := parent.Children().FilterFunction(func(_ int, s *goquery.Selection) bool {
				return goquery.NodeName(s) == tag
			})
			if sameTag.Length() > 1 {
				idx := indexOf(parent.Children(), cur.Get(0))
				if idx >= 0 {
					part += ":nth-child(" + itoa(idx+1) + ")"
				}
			}
		}
		parts = append([]string{part}, parts...)
		if parent.Length() == 0 {
			break
		}
		cur = parent
	}
	return strings.Join(parts, " ")
}

func indexOf(sel *goquery.Selection, node *html.Node) int {
	idx := -1
	sel.EachWithBreak(func(i int, s *goquery.Selection) bool {
		if s.Get(0) == node {
			idx = i
			return false
		}
		return true
	})
	return idx
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	digits := []byte{}
	for n > 0 {
		digits = append([]byte{byte('0' + n%10)}, digits...)
		n /= 10
	}
	return string(digits)
}

// cluster implements Phase C: group features by pairwise structural
// similarity. Clusters are left in discovery order; bestCluster scores
// every one of them rather than assuming the largest is the winner.
func cluster(features []feature, threshold float64) [][]feature {
	var clusters [][]feature
	used := make([]bool, len(features))

	for i := range features {
		if used[i] {
			continue
		}
		group := []feature{features[i]}
		used[i] = true
		for j := i + 1; j < len(features); j++ {
			if used[j] {
				continue
			}
			if similarity(features[i], features[j]) >= threshold {
				group = append(group, features[j])
				used[j] = true
			}
		}
		clusters = append(clusters, group)
	}
	return clusters
}

func similarity(a, b feature) float64 {
	score := 0.0
	if a.tag == b.tag {
		score += 0.3
	}
	if a.parentTag == b.parentTag {
		score += 0.2
	}
	score += 0.3 * normalize.Jaccard(a.classes, b.classes)
	delta := a.siblingCount - b.siblingCount
	if delta < 0 {
		delta = -delta
	}
	closeness := 1 - float64(delta)/10
	if closeness < 0 {
		closeness = 0
	}
	score += 0.2 * closeness
	return score
}

// representative picks the member with the highest sibling count.
func representative(group []feature) feature {
	best := group[0]
	for _, f := range group[1:] {
		if f.siblingCount > best.siblingCount {
			best = f
		}
	}
	return best
}

func scoreStructure(f feature, keywords []string) float64 {
	score := 0.4 * min1(float64(f.siblingCount)/20)
	if f.hasLink {
		score += 0.3
	}
	switch {
	case f.textLen >= 20 && f.textLen <= 200:
		score += 0.2
	case f.textLen > 200:
		score += 0.1
	}
	text := strings.ToLower(normalize.CleanText(f.sel.Text()))
	for _, kw := range keywords {
		if strings.Contains(text, strings.ToLower(kw)) {
			score += 0.1
			break
		}
	}
	return score
}

func min1(f float64) float64 {
	if f > 1 {
		return 1
	}
	return f
}

// synthesize implements Phase D's selector-quadruple synthesis from
// the winning representative.
func synthesize(rep feature, cfg Config) notice.SelectorSet {

	containerSel := findListContainerSelector(rep.sel)
	itemSel := rep.tag
	for _, c := range rep.classes {
		low := strings.ToLower(c)
		for _, kw := range itemContainerKeywords {
			if strings.Contains(low, kw) {
				itemSel = rep.tag + "." + c
				break
			}
		}
	}

	full := itemSel
	if containerSel != "" {
		full = containerSel + " " + itemSel
	}

	title := bestTitleCandidate(rep.titleCand)
	if title == "" {
		title = "a, .title, .subject, td:nth-child(2), td:nth-child(3)"
	}
	date := ""
	if len(rep.dateCand) > 0 {
		date = rep.dateCand[0].selector
	} else {
		date = ".date, .regdate, .time, td:last-child, td:nth-last-child(2)"
	}
	link := "a"
	if len(rep.linkCand) > 0 {
		link = rep.linkCand[0].selector
	}

	return notice.SelectorSet{Item: strings.TrimSpace(full), Title: title, Date: date, Link: link}
}

func bestTitleCandidate(cands []candidate) string {
	if len(cands) == 0 {
		return ""
	}
	best := cands[0]
	for _, c := range cands[1:] {
		if len([]rune(c.text)) > len([]rune(best.text)) {
			best = c
		}
	}
	return best.selector
}

// findListContainerSelector walks the parent chain from the item's
// own parent until it finds an ancestor with >=3 children sharing the
// item's tag, preferring an #id selector, else tag.class, else tag.
func findListContainerSelector(item *goquery.Selection) string {
	tag := goquery.NodeName(item)
	cur := item.Parent()
	for cur.Length() > 0 {
		sameTag := cur.Children().FilterFunction(func(_ int, s *goquery.Selection) bool {
			return goquery.NodeName(s) == tag
		})
		if sameTag.Length() >= 3 {
			if id, ok := cur.Attr("id"); ok && id != "" {
				return "#" + id
			}
			if class, ok := cur.Attr("class"); ok && class != "" {
				fields := strings.Fields(class)
				return goquery.NodeName(cur) + "." + fields[0]
			}
			return goquery.NodeName(cur)
		}
		cur = cur.Parent()
	}
	return ""
}

// scoreConfidence implements the post-synthesis confidence formula,
// evaluated against the real DOM rather than the candidate feature.
func scoreConfidence(doc *goquery.Document, set notice.SelectorSet, cfg Config) float64 {
	if set.Item == "" {
		return 0
	}
	items := doc.Find(set.Item)
	n := items.Length()
	if n == 0 {
		return 0
	}
	if n < cfg.MinNotices {
		return 0.3
	}

	sample := n
	if sample > 5 {
		sample = 5
	}
	titleHits, dateHits := 0, 0
	items.EachWithBreak(func(i int, s *goquery.Selection) bool {
		if i >= sample {
			return false
		}
		title := titleText(s, set.Title)
		if len([]rune(title)) > 5 {
			titleHits++
		}
		dateText := titleText(s, set.Date)
		if set.Date != "" && cfg.looksLikeDate(dateText) {
			dateHits++
		}
		return true
	})

	titleRate := float64(titleHits) / float64(sample)
	dateRate := float64(dateHits) / float64(sample)
	conf := 0.4*min1(float64(n)/10) + 0.4*titleRate + 0.2*dateRate
	if conf > 1 {
		conf = 1
	}
	return conf
}

func titleText(row *goquery.Selection, selector string) string {
	if selector == "" {
		return normalize.CleanText(row.Text())
	}
	for _, sel := range strings.Split(selector, ",") {
		sel = strings.TrimSpace(sel)
		if sel == "" {
			continue
		}
		sub := row.Find(sel)
		if sub.Length() > 0 {
			return normalize.CleanText(sub.First().Text())
		}
	}
	return ""
}
