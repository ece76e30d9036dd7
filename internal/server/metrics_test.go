package server

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/sourcedai/sai-go/internal/ingest"
)

func Test_Metrics_EndpointReturns200(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	newServerMetrics(reg)

	srv := httptest.NewServer(promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	t.Cleanup(srv.Close)

	req, err := http.NewRequestWithContext(t.Context(), http.MethodGet, srv.URL+"/metrics", nil)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("GET /metrics: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Errorf("want 200, got %d", resp.StatusCode)
	}
	ct := resp.Header.Get("Content-Type")
	if !strings.HasPrefix(ct, "text/plain") {
		t.Errorf("want text/plain content-type, got %q", ct)
	}
}

// counterValue returns the value of the named counter with the given label
// pair, or -1 when the series is absent.
func counterValue(t *testing.T, reg *prometheus.Registry, name, label, value string) float64 {
	t.Helper()

	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	for _, mf := range mfs {
		if mf.GetName() != name {
			continue
		}
		for _, m := range mf.GetMetric() {
			for _, lp := range m.GetLabel() {
				if lp.GetName() == label && lp.GetValue() == value {
					return m.GetCounter().GetValue()
				}
			}
		}
	}
	return -1
}

func Test_Metrics_ObserveIngestCountsOutcomes(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	m := newServerMetrics(reg)

	m.observeIngest(ingest.Summary{Submitted: 7, Failed: 2, Skipped: 1}, 120*time.Millisecond)
	m.observeIngest(ingest.Summary{Submitted: 3}, 40*time.Millisecond)

	if got := counterValue(t, reg, "sai_ingest_documents_total", "outcome", "submitted"); got != 10 {
		t.Errorf("submitted counter: want 10, got %v", got)
	}
	if got := counterValue(t, reg, "sai_ingest_documents_total", "outcome", "failed"); got != 2 {
		t.Errorf("failed counter: want 2, got %v", got)
	}
	if got := counterValue(t, reg, "sai_ingest_documents_total", "outcome", "skipped"); got != 1 {
		t.Errorf("skipped counter: want 1, got %v", got)
	}
}

func Test_Metrics_ObserveRequestCountsByCode(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	m := newServerMetrics(reg)

	m.observeRequest(http.MethodPost, "/api/ingest", http.StatusOK, 10*time.Millisecond)
	m.observeRequest(http.MethodPost, "/api/ingest", http.StatusOK, 15*time.Millisecond)
	m.observeRequest(http.MethodPost, "/api/search", http.StatusBadRequest, 1*time.Millisecond)

	if got := counterValue(t, reg, "sai_http_requests_total", "code", "200"); got != 2 {
		t.Errorf("200 counter: want 2, got %v", got)
	}
	if got := counterValue(t, reg, "sai_http_requests_total", "code", "400"); got != 1 {
		t.Errorf("400 counter: want 1, got %v", got)
	}
}


