package metrics

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestMetricsServer(t *testing.T) {
	srv := Start(8889, nil)
	// Give it a tiny bit of time to start up
	time.Sleep(100 * time.Millisecond)

	defer srv.Stop(context.Background())

	RecordRequest("example.com", 200, nil, "", time.Second, 11)

	resp, err := http.Get("http://localhost:8889/metrics")
	if err != nil {
		t.Fatalf("failed to fetch metrics: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected status 200, got %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("failed to read body: %v", err)
	}
	output := string(body)

	if !strings.Contains(output, "maestro_gather_requests_total") {
		t.Errorf("expected maestro_gather_requests_total metric")
	}
	if !strings.Contains(output, `maestro_gather_bytes_total{domain="example.com"}`) {
		t.Errorf("expected maestro_gather_bytes_total metric for example.com")
	}
}

func TestHandler_PipelineMetrics(t *testing.T) {
	RecordStage("fetch", "success", 2*time.Second)
	RecordPlugin("FETCHER", "Bing image", errors.New("boom"))
	RecordCache(true)
	WebhookDeliveriesTotal.WithLabelValues("delivered").Inc()

	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	output := rec.Body.String()

	for _, want := range []string{
		`maestro_stage_runs_total{outcome="success",stage="fetch"}`,
		`maestro_stage_duration_seconds_bucket`,
		`maestro_plugin_invocations_total{kind="FETCHER",plugin="Bing image",result="error"}`,
		`maestro_cache_lookups_total{result="hit"}`,
		`maestro_webhook_deliveries_total{outcome="delivered"}`,
	} {
		if !strings.Contains(output, want) {
			t.Errorf("expected %s in output", want)
		}
	}
}
