package selectors

import (
	"strings"
	"testing"

	"github.com/PuerkitoBio/goquery"

	"noticecrawler/notice"
)

const tableHTML = `
<html><body><table><tbody>
<tr><td>1</td><td><a href="/v/1">제목 가나다라</a></td><td>2024-05-01</td></tr>
<tr><td>2</td><td><a href="/v/2">제목 마바사아</a></td><td>2024-05-02</td></tr>
<tr><td>3</td><td><a href="/v/3">제목 자차카타</a></td><td>2024-05-03</td></tr>
</tbody></table></body></html>`

func TestExecuteTableBoard(t *testing.T) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(tableHTML))
	if err != nil {
		t.Fatal(err)
	}
	set := notice.SelectorSet{
		Item:  "table tbody tr",
		Title: "td:nth-child(2) a",
		Date:  "td:last-child",
		Link:  "a",
	}
	notices := Execute(doc, set, "https://x.ac.kr/board/list")
	if len(notices) != 3 {
		t.Fatalf("got %d notices, want 3", len(notices))
	}
	if notices[0].Title != "제목 가나다라" {
		t.Errorf("title = %q", notices[0].Title)
	}
	if notices[0].Date != "2024-05-01" {
		t.Errorf("date = %q", notices[0].Date)
	}
	if notices[0].Link != "https://x.ac.kr/v/1" {
		t.Errorf("link = %q", notices[0].Link)
	}
}

func TestExecuteDropsShortTitles(t *testing.T) {
	html := `<html><body><ul><li><a href="/a">hi</a></li></ul></body></html>`
	doc, _ := goquery.NewDocumentFromReader(strings.NewReader(html))
	set := notice.SelectorSet{Item: "li", Title: "a", Link: "a"}
	notices := Execute(doc, set, "https://x.ac.kr")
	if len(notices) != 0 {
		t.Errorf("expected short title to be dropped, got %v", notices)
	}
}

func TestExecuteNoMatch(t *testing.T) {
	html := `<html><body><div>nothing here</div></body></html>`
	doc, _ := goquery.NewDocumentFromReader(strings.NewReader(html))
	set := notice.SelectorSet{Item: "li.does-not-exist"}
	if got := Execute(doc, set, "https://x.ac.kr"); got != nil {
		t.Errorf("expected nil, got %v", got)
	}
}
