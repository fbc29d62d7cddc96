package metrics

import (
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMetrics_Counters(t *testing.T) {
	m := New()

	m.Fetch("page", nil)
	m.Fetch("batch", errors.New("timeout"))
	m.Fetch("batch", errors.New("timeout"))
	m.Block(nil)
	m.Block(errors.New("bad json"))
	m.Candidate(true)
	m.Candidate(false)
	m.Ingested("committed")
	m.Row("event", true)
	m.Row("event", false)

	tests := []struct {
		name string
		got  float64
		want float64
	}{
		{"page ok", testutil.ToFloat64(m.fetches.WithLabelValues("page", "ok")), 1},
		{"batch error", testutil.ToFloat64(m.fetches.WithLabelValues("batch", "error")), 2},
		{"block parse error", testutil.ToFloat64(m.blocks.WithLabelValues("parse_error")), 1},
		{"invalid candidate", testutil.ToFloat64(m.candidates.WithLabelValues("invalid")), 1},
		{"committed", testutil.ToFloat64(m.ingested.WithLabelValues("committed")), 1},
		{"event created", testutil.ToFloat64(m.rows.WithLabelValues("event", "created")), 1},
		{"event updated", testutil.ToFloat64(m.rows.WithLabelValues("event", "updated")), 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.got != tt.want {
				t.Errorf("got %v, want %v", tt.got, tt.want)
			}
		})
	}
}

func TestMetrics_NilIsNoop(t *testing.T) {
	var m *Metrics
	m.Fetch("page", nil)
	m.Block(nil)
	m.Candidate(true)
	m.Ingested("failed")
	m.Row("metadata", true)
	m.RunFinished(time.Second, time.Now(), true)
}

func TestMetrics_WriteFile(t *testing.T) {
	m := New()
	m.Fetch("page", nil)
	m.RunFinished(2*time.Second, time.Unix(1700000000, 0), true)

	path := filepath.Join(t.TempDir(), "event_harvester.prom")
	if err := m.WriteFile(path); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	for _, want := range []string{
		`event_harvester_fetches_total{kind="page",status="ok"} 1`,
		`event_harvester_run_duration_seconds 2`,
		`event_harvester_last_success_timestamp_seconds 1.7e+09`,
	} {
		if !strings.Contains(string(data), want) {
			t.Errorf("textfile missing %q", want)
		}
	}
}

func TestMetrics_Handler(t *testing.T) {
	m := New()
	m.Ingested("failed")

	srv := httptest.NewServer(m.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(body), `event_harvester_ingested_total{outcome="failed"} 1`) {
		t.Errorf("metrics output missing ingested counter:\n%s", body)
	}
}
