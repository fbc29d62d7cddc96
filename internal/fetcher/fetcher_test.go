package fetcher

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/vmoraes/event-harvester/internal/logger"
)

func newTestFetcher(t *testing.T, baseURL string, timeout time.Duration) *Fetcher {
	t.Helper()
	f, err := New(Options{
		BaseURL:   baseURL,
		UserAgent: UserAgent("event-harvester", "TEST", baseURL),
		Timeout:   timeout,
	}, logger.Nop())
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	t.Cleanup(func() { f.Close() })
	return f
}

func TestFetchPage(t *testing.T) {
	tests := []struct {
		name       string
		body       string
		statusCode int
		wantError  bool
		wantStatus int
	}{
		{
			name:       "successful fetch",
			body:       `<html><body><script type="application/ld+json">{}</script></body></html>`,
			statusCode: http.StatusOK,
		},
		{
			name:       "not found",
			statusCode: http.StatusNotFound,
			wantError:  true,
			wantStatus: http.StatusNotFound,
		},
		{
			name:       "server error",
			body:       "oops",
			statusCode: http.StatusBadGateway,
			wantError:  true,
			wantStatus: http.StatusBadGateway,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if r.Method != http.MethodGet {
					t.Errorf("method = %s, want GET", r.Method)
				}
				if ua := r.Header.Get("User-Agent"); !strings.HasPrefix(ua, "event-harvester-TEST/1.0") {
					t.Errorf("User-Agent = %q, want event-harvester-TEST/1.0 prefix", ua)
				}
				w.WriteHeader(tt.statusCode)
				w.Write([]byte(tt.body))
			}))
			defer server.Close()

			f := newTestFetcher(t, server.URL, time.Second)
			got, err := f.FetchPage(context.Background())

			if tt.wantError {
				var nerr *NetworkError
				if !errors.As(err, &nerr) {
					t.Fatalf("FetchPage() error = %v, want *NetworkError", err)
				}
				if nerr.StatusCode != tt.wantStatus {
					t.Errorf("StatusCode = %d, want %d", nerr.StatusCode, tt.wantStatus)
				}
				return
			}
			if err != nil {
				t.Fatalf("FetchPage() unexpected error: %v", err)
			}
			if got != tt.body {
				t.Errorf("FetchPage() = %q, want %q", got, tt.body)
			}
		})
	}
}

func TestFetchPage_Timeout(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer server.Close()
	defer close(release)

	f := newTestFetcher(t, server.URL, 50*time.Millisecond)
	_, err := f.FetchPage(context.Background())

	var nerr *NetworkError
	if !errors.As(err, &nerr) {
		t.Fatalf("FetchPage() error = %v, want *NetworkError", err)
	}
	if !nerr.Timeout() {
		t.Errorf("Timeout() = false for %v", err)
	}
}

func TestFetchBatch(t *testing.T) {
	var gotForm map[string]string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != AjaxPath {
			t.Errorf("path = %s, want %s", r.URL.Path, AjaxPath)
		}
		if r.Method != http.MethodPost {
			t.Errorf("method = %s, want POST", r.Method)
		}
		if err := r.ParseForm(); err != nil {
			t.Fatal(err)
		}
		gotForm = map[string]string{
			"action":         r.PostForm.Get("action"),
			"mec_start_date": r.PostForm.Get("mec_start_date"),
			"mec_offset":     r.PostForm.Get("mec_offset"),
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"html":"<div>batch</div>","count":3,"end_date":"2026-10-31"}`))
	}))
	defer server.Close()

	f := newTestFetcher(t, server.URL+"/events/", time.Second)
	payload, err := f.FetchBatch(context.Background(), LoadMoreAction, "2026-10-24", 0)
	if err != nil {
		t.Fatalf("FetchBatch() error = %v", err)
	}

	want := map[string]string{
		"action":         "mec_grid_load_more",
		"mec_start_date": "2026-10-24",
		"mec_offset":     "0",
	}
	for k, v := range want {
		if gotForm[k] != v {
			t.Errorf("form[%s] = %q, want %q", k, gotForm[k], v)
		}
	}

	if payload.HTML != "<div>batch</div>" {
		t.Errorf("HTML = %q", payload.HTML)
	}
	if string(payload.Fields["count"]) != "3" {
		t.Errorf("Fields[count] = %s, want 3", payload.Fields["count"])
	}
	if _, ok := payload.Fields["html"]; ok {
		t.Error("html should not be duplicated in Fields")
	}
}

func TestFetchBatch_Failures(t *testing.T) {
	tests := []struct {
		name       string
		body       string
		statusCode int
	}{
		{"not json", "<html>Bad Gateway</html>", http.StatusOK},
		{"html not a string", `{"html": 42}`, http.StatusOK},
		{"forbidden", `{"html":""}`, http.StatusForbidden},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.statusCode)
				w.Write([]byte(tt.body))
			}))
			defer server.Close()

			f := newTestFetcher(t, server.URL, time.Second)
			_, err := f.FetchBatch(context.Background(), LoadMoreAction, "2026-10-24", 0)

			var nerr *NetworkError
			if !errors.As(err, &nerr) {
				t.Fatalf("FetchBatch() error = %v, want *NetworkError", err)
			}
			if nerr.Op != "batch" {
				t.Errorf("Op = %q, want batch", nerr.Op)
			}
		})
	}
}

func TestDecodeBatch(t *testing.T) {
	tests := []struct {
		name     string
		body     string
		wantHTML string
		wantErr  bool
	}{
		{"html present", `{"html":"<p>x</p>"}`, "<p>x</p>", false},
		{"html missing", `{"count":0}`, "", false},
		{"html null", `{"html":null}`, "", false},
		{"leading BOM and spaces", "\xef\xbb\xbf {\"html\":\"ok\"}", "ok", false},
		{"array body", `[1,2]`, "", true},
		{"empty body", ``, "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := decodeBatch([]byte(tt.body))
			if (err != nil) != tt.wantErr {
				t.Fatalf("decodeBatch() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err == nil && p.HTML != tt.wantHTML {
				t.Errorf("HTML = %q, want %q", p.HTML, tt.wantHTML)
			}
		})
	}
}

func TestClose(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	}))
	defer server.Close()

	f := newTestFetcher(t, server.URL, time.Second)
	if _, err := f.FetchPage(context.Background()); err != nil {
		t.Fatalf("FetchPage() error = %v", err)
	}

	if err := f.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if err := f.Close(); err != nil {
		t.Fatalf("second Close() error = %v", err)
	}

	_, err := f.FetchPage(context.Background())
	if !errors.Is(err, ErrClosed) {
		t.Errorf("FetchPage() after Close error = %v, want ErrClosed", err)
	}
}

func TestFetch_BodyTooLarge(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			w.Write([]byte(`{"html":"` + strings.Repeat("x", 64) + `"}`))
			return
		}
		w.Write([]byte(strings.Repeat("x", 65)))
	}))
	defer server.Close()

	f := newTestFetcher(t, server.URL, time.Second)
	f.maxBody = 64

	var netErr *NetworkError
	_, err := f.FetchPage(context.Background())
	if !errors.As(err, &netErr) || !errors.Is(err, ErrBodyTooLarge) {
		t.Errorf("FetchPage() error = %v, want NetworkError wrapping ErrBodyTooLarge", err)
	}
	_, err = f.FetchBatch(context.Background(), LoadMoreAction, "2026-10-17", 0)
	if !errors.As(err, &netErr) || !errors.Is(err, ErrBodyTooLarge) {
		t.Errorf("FetchBatch() error = %v, want NetworkError wrapping ErrBodyTooLarge", err)
	}
}

func TestFetch_BodyAtLimit(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(strings.Repeat("x", 64)))
	}))
	defer server.Close()

	f := newTestFetcher(t, server.URL, time.Second)
	f.maxBody = 64

	body, err := f.FetchPage(context.Background())
	if err != nil || len(body) != 64 {
		t.Errorf("FetchPage() = %d bytes, %v; want 64 bytes", len(body), err)
	}
}

func TestNew_RejectsBadURL(t *testing.T) {
	for _, u := range []string{"ftp://example.com", "://nope", ""} {
		if _, err := New(Options{BaseURL: u}, logger.Nop()); err == nil {
			t.Errorf("New(%q) expected error", u)
		}
	}
}

func TestUserAgent(t *testing.T) {
	got := UserAgent("VictorMoraesPbTP5", "DEV", "https://example.com")
	want := "VictorMoraesPbTP5-DEV/1.0 (+https://example.com)"
	if got != want {
		t.Errorf("UserAgent() = %q, want %q", got, want)
	}
}
