package engine

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"noticecrawler/config"
	"noticecrawler/fetch"
	"noticecrawler/notice"
)

// stubFetcher replaces the fetch layer so the headless-fallback path
// can be driven without a browser process: Simple returns the initial
// static HTML, Browser the post-render DOM.
type stubFetcher struct {
	simpleHTML   string
	browserHTML  string
	browserCalls int
}

func (s *stubFetcher) Simple(_ context.Context, pageURL string) (fetch.Result, error) {
	return fetch.Result{HTML: s.simpleHTML, FinalURL: pageURL}, nil
}

func (s *stubFetcher) Browser(_ context.Context, pageURL string) (fetch.Result, error) {
	s.browserCalls++
	return fetch.Result{HTML: s.browserHTML, FinalURL: pageURL, UsedBrowser: true}, nil
}

func serve(t *testing.T, html string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.Write([]byte(html))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestExtractClassicTableBoard(t *testing.T) {
	html := `<html><body><table><tbody>
<tr><td>1</td><td><a href="/v/1">제목 가나다라마바사</a></td><td>2024-05-01</td></tr>
<tr><td>2</td><td><a href="/v/2">제목 마바사아자차카</a></td><td>2024-05-02</td></tr>
<tr><td>3</td><td><a href="/v/3">제목 자차카타파하가</a></td><td>2024-05-03</td></tr>
<tr><td>4</td><td><a href="/v/4">제목 나다라마바사아</a></td><td>2024-05-04</td></tr>
<tr><td>5</td><td><a href="/v/5">제목 다라마바사아자</a></td><td>2024-05-05</td></tr>
</tbody></table></body></html>`
	srv := serve(t, html)

	cfg := config.Default()
	eng, err := New(cfg, nil, nil)
	if err != nil {
		t.Fatal(err)
	}

	result := eng.Extract(context.Background(), srv.URL, "test-university")
	if !result.Success {
		t.Fatalf("expected success, got error %q", result.Error)
	}
	if len(result.Notices) != 5 {
		t.Fatalf("got %d notices, want 5", len(result.Notices))
	}
	if result.Method != notice.MethodAutoDetect {
		t.Errorf("method = %q, want %q", result.Method, notice.MethodAutoDetect)
	}
	if result.Timestamp == "" {
		t.Error("expected result to carry a timestamp")
	}
	if got := eng.Stats()[notice.MethodAutoDetect]; got != 1 {
		t.Errorf("stats[auto_detect] = %d, want 1", got)
	}
}

// A dateless list defeats the pattern detector (no date leaves to
// anchor on), so the cascade must fall through to the generic selector
// sets and tag the result accordingly.
func TestExtractGenericPattern(t *testing.T) {
	html := `<html><body><ul class="board-list">
<li><span class="title"><a href="/b?id=1">첫번째 공지 제목입니다</a></span></li>
<li><span class="title"><a href="/b?id=2">두번째 공지 제목입니다</a></span></li>
<li><span class="title"><a href="/b?id=3">세번째 공지 제목입니다</a></span></li>
<li><span class="title"><a href="/b?id=4">네번째 공지 제목입니다</a></span></li>
</ul></body></html>`
	srv := serve(t, html)

	cfg := config.Default()
	eng, err := New(cfg, nil, nil)
	if err != nil {
		t.Fatal(err)
	}

	result := eng.Extract(context.Background(), srv.URL, "test-university")
	if !result.Success {
		t.Fatalf("expected success, got error %q", result.Error)
	}
	if result.Method != notice.MethodCustom {
		t.Errorf("method = %q, want %q", result.Method, notice.MethodCustom)
	}
	if len(result.Notices) != 4 {
		t.Errorf("got %d notices, want 4", len(result.Notices))
	}
	if got := eng.Stats()[notice.MethodCustom]; got != 1 {
		t.Errorf("stats[custom] = %d, want 1", got)
	}
}

func TestNewRejectsBadDatePattern(t *testing.T) {
	cfg := config.Default()
	cfg.Patterns.DatePatterns = []string{`(\d{4}`}
	if _, err := New(cfg, nil, nil); err == nil {
		t.Fatal("expected a construction error for an invalid date pattern")
	}
}

// A vendor fingerprint in a script src must resolve through the
// template stage and stop the cascade there.
func TestExtractTemplateMethod(t *testing.T) {
	html := `<html><head><script src="https://cdn.acapia.co.kr/v2.js"></script></head>
<body><table class="board_list"><tbody>
<tr><td>1</td><td class="title"><a href="/v/1">첫번째 모집공고 안내</a></td><td class="date">2024-05-01</td></tr>
<tr><td>2</td><td class="title"><a href="/v/2">두번째 모집공고 안내</a></td><td class="date">2024-05-02</td></tr>
<tr><td>3</td><td class="title"><a href="/v/3">세번째 모집공고 안내</a></td><td class="date">2024-05-03</td></tr>
</tbody></table></body></html>`
	srv := serve(t, html)

	eng, err := New(config.Default(), nil, nil)
	if err != nil {
		t.Fatal(err)
	}

	result := eng.Extract(context.Background(), srv.URL, "test-university")
	if !result.Success {
		t.Fatalf("expected success, got error %q", result.Error)
	}
	if result.Method != notice.MethodTemplate {
		t.Errorf("method = %q, want %q", result.Method, notice.MethodTemplate)
	}
	if len(result.Notices) != 3 {
		t.Errorf("got %d notices, want 3", len(result.Notices))
	}
	if result.Notices[0].Date != "2024-05-01" {
		t.Errorf("date = %q, want 2024-05-01", result.Notices[0].Date)
	}
}

const emptyTbodyHTML = `<html><body><table><tbody></tbody></table></body></html>`

const renderedBoardHTML = `<html><body><table><tbody>
<tr><td>1</td><td><a href="/v/1">렌더링된 공지 첫번째</a></td><td>2024-06-01</td></tr>
<tr><td>2</td><td><a href="/v/2">렌더링된 공지 두번째</a></td><td>2024-06-02</td></tr>
<tr><td>3</td><td><a href="/v/3">렌더링된 공지 세번째</a></td><td>2024-06-03</td></tr>
<tr><td>4</td><td><a href="/v/4">렌더링된 공지 네번째</a></td><td>2024-06-04</td></tr>
<tr><td>5</td><td><a href="/v/5">렌더링된 공지 다섯번째</a></td><td>2024-06-05</td></tr>
<tr><td>6</td><td><a href="/v/6">렌더링된 공지 여섯번째</a></td><td>2024-06-06</td></tr>
</tbody></table></body></html>`

// The JS-rendered-board scenario: the static fetch sees an empty
// tbody, the rendered DOM has six rows. With the fallback enabled the
// relaxed detector re-run must recover them and tag the result
// selenium.
func TestExtractHeadlessFallbackRendersRows(t *testing.T) {
	cfg := config.Default()
	cfg.Fallback.UseBrowser = true
	eng, err := New(cfg, nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	stub := &stubFetcher{simpleHTML: emptyTbodyHTML, browserHTML: renderedBoardHTML}
	eng.fetcher = stub

	result := eng.Extract(context.Background(), "https://x.ac.kr/board", "test-university")
	if !result.Success {
		t.Fatalf("expected success, got error %q", result.Error)
	}
	if result.Method != notice.MethodSelenium {
		t.Errorf("method = %q, want %q", result.Method, notice.MethodSelenium)
	}
	if len(result.Notices) != 6 {
		t.Errorf("got %d notices, want 6", len(result.Notices))
	}
	if stub.browserCalls != 1 {
		t.Errorf("browser calls = %d, want 1", stub.browserCalls)
	}
	if got := eng.Stats()[notice.MethodSelenium]; got != 1 {
		t.Errorf("stats[selenium] = %d, want 1", got)
	}
}

func TestExtractHeadlessFallbackDisabled(t *testing.T) {
	cfg := config.Default()
	cfg.Fallback.UseBrowser = false
	eng, err := New(cfg, nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	stub := &stubFetcher{simpleHTML: emptyTbodyHTML, browserHTML: renderedBoardHTML}
	eng.fetcher = stub

	result := eng.Extract(context.Background(), "https://x.ac.kr/board", "test-university")
	if result.Success {
		t.Fatal("expected failure with the fallback disabled")
	}
	if result.Error != "모든 크롤링 방법 실패" {
		t.Errorf("error = %q, want the all-methods-failed message", result.Error)
	}
	if stub.browserCalls != 0 {
		t.Errorf("browser calls = %d, want 0", stub.browserCalls)
	}
}

// Configured fallback selectors are tried as candidate item selectors
// on the rendered DOM before the detector re-runs; a dateless rendered
// list the detector cannot anchor on must still extract through them.
func TestExtractHeadlessFallbackConfiguredSelector(t *testing.T) {
	cfg := config.Default()
	cfg.Fallback.UseBrowser = true
	cfg.Fallback.Selectors = []string{"ul.rendered li"}
	eng, err := New(cfg, nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	eng.fetcher = &stubFetcher{
		simpleHTML: emptyTbodyHTML,
		browserHTML: `<html><body><ul class="rendered">
<li><a href="/r/1">렌더링된 목록 항목 하나</a></li>
<li><a href="/r/2">렌더링된 목록 항목 둘</a></li>
<li><a href="/r/3">렌더링된 목록 항목 셋</a></li>
</ul></body></html>`,
	}

	result := eng.Extract(context.Background(), "https://x.ac.kr/board", "test-university")
	if !result.Success {
		t.Fatalf("expected success, got error %q", result.Error)
	}
	if result.Method != notice.MethodSelenium {
		t.Errorf("method = %q, want %q", result.Method, notice.MethodSelenium)
	}
	if len(result.Notices) != 3 {
		t.Errorf("got %d notices, want 3", len(result.Notices))
	}
	if result.Notices[0].Link != "https://x.ac.kr/r/1" {
		t.Errorf("link = %q, want absolutized https://x.ac.kr/r/1", result.Notices[0].Link)
	}
}

func TestExtractAllMethodsFail(t *testing.T) {
	srv := serve(t, `<html><body><p>nothing here at all</p></body></html>`)

	cfg := config.Default()
	cfg.Fallback.UseBrowser = false
	eng, err := New(cfg, nil, nil)
	if err != nil {
		t.Fatal(err)
	}

	result := eng.Extract(context.Background(), srv.URL, "test-university")
	if result.Success {
		t.Fatal("expected failure")
	}
	if result.Error != "모든 크롤링 방법 실패" {
		t.Errorf("error = %q, want the all-methods-failed message", result.Error)
	}
}

func TestExtractDedupesByTitle(t *testing.T) {
	html := `<html><body><ul class="notice-list">
<li><a class="tit" href="/n?id=1">모집 안내 가나다</a><span class="date">2024-05-01</span></li>
<li><a class="tit" href="/n?id=1b">모집 안내 가나다</a><span class="date">2024-05-01</span></li>
<li><a class="tit" href="/n?id=2">두번째 모집 안내</a><span class="date">2024-05-02</span></li>
<li><a class="tit" href="/n?id=3">세번째 모집 안내</a><span class="date">2024-05-03</span></li>
</ul></body></html>`
	srv := serve(t, html)

	cfg := config.Default()
	eng, err := New(cfg, nil, nil)
	if err != nil {
		t.Fatal(err)
	}

	result := eng.Extract(context.Background(), srv.URL, "test-university")
	if !result.Success {
		t.Fatalf("expected success, got error %q", result.Error)
	}
	seen := map[string]bool{}
	for _, n := range result.Notices {
		if seen[n.Title] {
			t.Errorf("duplicate title in result: %q", n.Title)
		}
		seen[n.Title] = true
	}
}
