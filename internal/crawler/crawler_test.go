package crawler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/vmoraes/event-harvester/internal/event"
	"github.com/vmoraes/event-harvester/internal/extractor"
	"github.com/vmoraes/event-harvester/internal/fetcher"
	"github.com/vmoraes/event-harvester/internal/ingest"
	"github.com/vmoraes/event-harvester/internal/logger"
	"github.com/vmoraes/event-harvester/internal/store"
)

var runStart = time.Date(2026, 10, 17, 9, 30, 0, 0, time.UTC)

func block(name, date string) string {
	return fmt.Sprintf(`<script type="application/ld+json">
{"@context":"https://schema.org","@type":"Event","name":%q,"startDate":%q,
 "location":{"name":"Circo Voador","address":"Lapa, Rio de Janeiro"}}
</script>`, name, date)
}

// source serves the events page and answers load-more requests per start date.
type source struct {
	mu      sync.Mutex
	dates   []string
	offsets []string
	page    int
	batches map[string]func(w http.ResponseWriter)
}

func (s *source) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if s.page != http.StatusOK {
			w.WriteHeader(s.page)
			return
		}
		fmt.Fprint(w, "<html><head>"+block("Show A", "2026-10-17")+"</head><body></body></html>")
	})
	mux.HandleFunc(fetcher.AjaxPath, func(w http.ResponseWriter, r *http.Request) {
		date := r.FormValue("mec_start_date")
		s.mu.Lock()
		s.dates = append(s.dates, date)
		s.offsets = append(s.offsets, r.FormValue("mec_offset"))
		s.mu.Unlock()

		if respond, ok := s.batches[date]; ok {
			respond(w)
			return
		}
		json.NewEncoder(w).Encode(map[string]interface{}{"html": "", "count": 0})
	})
	return mux
}

func batchHTML(html string) func(w http.ResponseWriter) {
	return func(w http.ResponseWriter) {
		json.NewEncoder(w).Encode(map[string]interface{}{"html": html, "count": 1})
	}
}

type closeTracker struct {
	*store.Memory
	closed int
}

func (c *closeTracker) Close() error {
	c.closed++
	return c.Memory.Close()
}

type recordingArchive struct {
	keys []string
}

func (a *recordingArchive) Put(_ context.Context, runID, kind, date string, _ []byte) error {
	a.keys = append(a.keys, runID+"/"+kind+"-"+date)
	return nil
}

type recordingNotifier struct {
	sightings []event.Sighting
	err       error
}

func (n *recordingNotifier) Notify(_ context.Context, s []event.Sighting) error {
	n.sightings = append(n.sightings, s...)
	return n.err
}

func (n *recordingNotifier) Close() error { return nil }

type harness struct {
	driver   *Driver
	store    *closeTracker
	fetcher  *fetcher.Fetcher
	archive  *recordingArchive
	notifier *recordingNotifier
}

func newHarness(t *testing.T, baseURL string) *harness {
	t.Helper()
	log := logger.Nop()

	f, err := fetcher.New(fetcher.Options{BaseURL: baseURL, UserAgent: "test/1.0", Timeout: 2 * time.Second}, log)
	if err != nil {
		t.Fatalf("fetcher.New() error = %v", err)
	}
	mem := store.NewMemory()
	mem.SetClock(func() time.Time { return runStart })

	h := &harness{
		store:    &closeTracker{Memory: mem},
		fetcher:  f,
		archive:  &recordingArchive{},
		notifier: &recordingNotifier{},
	}
	h.driver = New(Deps{
		Fetcher:   f,
		Extractor: extractor.New(log, nil),
		Ingest:    ingest.New(h.store, log, nil),
		Store:     h.store,
		Archive:   h.archive,
		Notifier:  h.notifier,
	}, Config{}, log)
	h.driver.now = func() time.Time { return runStart }
	h.driver.newID = func() string { return "run-1" }
	return h
}

func TestRun(t *testing.T) {
	src := &source{
		page: http.StatusOK,
		batches: map[string]func(w http.ResponseWriter){
			"2026-10-17": batchHTML(block("Show A", "2026-10-17") + block("Show B", "2026-10-20")),
			"2026-10-24": func(w http.ResponseWriter) { w.WriteHeader(http.StatusBadGateway) },
			// 2026-10-31 answers with blank html
		},
	}
	srv := httptest.NewServer(src.handler())
	defer srv.Close()

	h := newHarness(t, srv.URL)
	summary, err := h.driver.Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	wantDates := []string{"2026-10-17", "2026-10-24", "2026-10-31"}
	if fmt.Sprint(src.dates) != fmt.Sprint(wantDates) {
		t.Errorf("batch dates = %v, want %v", src.dates, wantDates)
	}
	for _, off := range src.offsets {
		if off != "0" {
			t.Errorf("mec_offset = %q, want 0", off)
		}
	}

	if summary.RunID != "run-1" || summary.PagesFetched != 1 || summary.BatchesFetched != 1 || summary.BatchesSkipped != 2 {
		t.Errorf("summary = %+v", summary)
	}
	if summary.Ingest.Candidates != 3 || summary.Ingest.Committed != 3 || summary.Ingest.Failed != 0 {
		t.Errorf("ingest = %+v", summary.Ingest)
	}
	want := store.Counts{Events: 2, Occurrences: 2}
	if summary.Counts != want {
		t.Errorf("counts = %+v, want %+v", summary.Counts, want)
	}

	wantKeys := []string{"run-1/page-2026-10-17", "run-1/batch-2026-10-17"}
	if fmt.Sprint(h.archive.keys) != fmt.Sprint(wantKeys) {
		t.Errorf("archived = %v, want %v", h.archive.keys, wantKeys)
	}
	if len(h.notifier.sightings) != 3 {
		t.Errorf("notified %d sightings, want 3", len(h.notifier.sightings))
	}

	if h.store.closed != 1 {
		t.Errorf("store closed %d times, want 1", h.store.closed)
	}
	if _, err := h.fetcher.FetchPage(context.Background()); !errors.Is(err, fetcher.ErrClosed) {
		t.Errorf("fetcher not closed after run: %v", err)
	}
}

func TestRunBucketsFollowLocalDate(t *testing.T) {
	src := &source{page: http.StatusOK}
	srv := httptest.NewServer(src.handler())
	defer srv.Close()

	h := newHarness(t, srv.URL)
	// 22:30 in Rio is 01:30 the next day in UTC
	rio := time.FixedZone("BRT", -3*60*60)
	h.driver.now = func() time.Time { return time.Date(2026, 10, 17, 22, 30, 0, 0, rio) }

	summary, err := h.driver.Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	wantDates := []string{"2026-10-17", "2026-10-24", "2026-10-31"}
	if fmt.Sprint(src.dates) != fmt.Sprint(wantDates) {
		t.Errorf("batch dates = %v, want %v", src.dates, wantDates)
	}
	if len(h.archive.keys) == 0 || h.archive.keys[0] != "run-1/page-2026-10-17" {
		t.Errorf("archived = %v, want the page under the local date", h.archive.keys)
	}
	if summary.StartedAt.Location() != time.UTC {
		t.Errorf("StartedAt = %v, want UTC", summary.StartedAt)
	}
}

func TestRunPageFailureIsFatal(t *testing.T) {
	src := &source{page: http.StatusServiceUnavailable}
	srv := httptest.NewServer(src.handler())
	defer srv.Close()

	h := newHarness(t, srv.URL)
	_, err := h.driver.Run(context.Background())

	var fatal *FatalError
	if !errors.As(err, &fatal) {
		t.Fatalf("Run() error = %v, want *FatalError", err)
	}
	var nerr *fetcher.NetworkError
	if !errors.As(err, &nerr) || nerr.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("cause = %v, want NetworkError with status 503", err)
	}
	if len(src.dates) != 0 {
		t.Errorf("batches requested after fatal page failure: %v", src.dates)
	}
	if h.store.closed != 1 {
		t.Errorf("store closed %d times, want 1", h.store.closed)
	}
}

func TestRunNotifierFailureIsNotFatal(t *testing.T) {
	src := &source{page: http.StatusOK}
	srv := httptest.NewServer(src.handler())
	defer srv.Close()

	h := newHarness(t, srv.URL)
	h.notifier.err = errors.New("broker down")

	summary, err := h.driver.Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if summary.Ingest.Committed != 1 {
		t.Errorf("Committed = %d, want 1", summary.Ingest.Committed)
	}
}

type panickingFetcher struct {
	closed bool
}

func (p *panickingFetcher) FetchPage(context.Context) (string, error) { return "<html></html>", nil }

func (p *panickingFetcher) FetchBatch(context.Context, string, string, int) (*fetcher.BatchPayload, error) {
	panic("unexpected payload")
}

func (p *panickingFetcher) Close() error {
	p.closed = true
	return nil
}

func TestRunRecoversPanic(t *testing.T) {
	log := logger.Nop()
	f := &panickingFetcher{}
	s := &closeTracker{Memory: store.NewMemory()}
	d := New(Deps{
		Fetcher:   f,
		Extractor: extractor.New(log, nil),
		Ingest:    ingest.New(s, log, nil),
		Store:     s,
	}, Config{BatchDates: 1}, log)

	_, err := d.Run(context.Background())

	var fatal *FatalError
	if !errors.As(err, &fatal) {
		t.Fatalf("Run() error = %v, want *FatalError", err)
	}
	if !f.closed || s.closed != 1 {
		t.Errorf("resources not released: fetcher closed %v, store closed %d", f.closed, s.closed)
	}
}

func TestRunCancelled(t *testing.T) {
	src := &source{page: http.StatusOK}
	srv := httptest.NewServer(src.handler())
	defer srv.Close()

	h := newHarness(t, srv.URL)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := h.driver.Run(ctx)
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Run() error = %v, want context.Canceled", err)
	}
}
