package store

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"noticecrawler/notice"
)

// fakeTable emulates the two PostgREST calls TableClient makes: a GET
// for recent titles and a POST batch insert that echoes the rows back.
func fakeTable(t *testing.T, existingTitles []string) (*httptest.Server, *[][]byte) {
	t.Helper()
	var posts [][]byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			var rows []map[string]string
			for _, title := range existingTitles {
				rows = append(rows, map[string]string{"notice_title": title})
			}
			json.NewEncoder(w).Encode(rows)
		case http.MethodPost:
			body, _ := io.ReadAll(r.Body)
			posts = append(posts, body)
			w.Header().Set("Content-Type", "application/json")
			w.Write(body)
		default:
			w.WriteHeader(http.StatusMethodNotAllowed)
		}
	}))
	t.Cleanup(srv.Close)
	return srv, &posts
}

func TestSaveSkipsAlreadySeenTitles(t *testing.T) {
	srv, posts := fakeTable(t, []string{"이미 저장된 공지입니다"})
	c := NewTableClient(srv.URL, "university_notices", "test-key")

	notices := []notice.Notice{
		{Title: "이미 저장된 공지입니다", Date: "2024-05-01"},
		{Title: "새로 발견된 공지입니다", Date: "2024-05-02", Link: "https://x.ac.kr/v/2"},
	}
	saved, err := c.Save(context.Background(), "test-university", notices)
	if err != nil {
		t.Fatal(err)
	}
	if saved != 1 {
		t.Errorf("saved = %d, want 1", saved)
	}
	if len(*posts) != 1 {
		t.Fatalf("got %d insert batches, want 1", len(*posts))
	}

	var rows []map[string]string
	if err := json.Unmarshal((*posts)[0], &rows); err != nil {
		t.Fatal(err)
	}
	if len(rows) != 1 || rows[0]["notice_title"] != "새로 발견된 공지입니다" {
		t.Errorf("inserted rows = %v", rows)
	}
	if rows[0]["university_name"] != "test-university" {
		t.Errorf("university_name = %q", rows[0]["university_name"])
	}
	if rows[0]["crawled_at"] == "" {
		t.Error("expected crawled_at to be stamped")
	}
}

func TestSaveEmptyBatchIsNoop(t *testing.T) {
	srv, posts := fakeTable(t, nil)
	c := NewTableClient(srv.URL, "university_notices", "")

	saved, err := c.Save(context.Background(), "test-university", nil)
	if err != nil {
		t.Fatal(err)
	}
	if saved != 0 || len(*posts) != 0 {
		t.Errorf("saved = %d with %d posts, want 0 and 0", saved, len(*posts))
	}
}

func TestSaveFailOpenWhenDedupLookupFails(t *testing.T) {
	var posts [][]byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		body, _ := io.ReadAll(r.Body)
		posts = append(posts, body)
		w.Write(body)
	}))
	t.Cleanup(srv.Close)
	c := NewTableClient(srv.URL, "university_notices", "")

	saved, err := c.Save(context.Background(), "test-university", []notice.Notice{
		{Title: "조회 실패에도 저장될 공지"},
	})
	if err != nil {
		t.Fatal(err)
	}
	if saved != 1 {
		t.Errorf("saved = %d, want 1 (dedup lookup failure must not drop the crawl)", saved)
	}
}
