package prometheus

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	authflow "github.com/dj-pearson/project-profit-radar-sub001"
)

type fakeSource struct {
	snapshot authflow.MetricsSnapshot
	dropped  uint64
}

func (f fakeSource) MetricsSnapshot() authflow.MetricsSnapshot { return f.snapshot }
func (f fakeSource) AuditDropped() uint64                      { return f.dropped }

func TestRenderEmptyWhenMetricsDisabled(t *testing.T) {
	exp := NewPrometheusExporterFromSource(fakeSource{
		snapshot: authflow.MetricsSnapshot{
			Counters:   map[authflow.MetricID]uint64{},
			Histograms: map[authflow.MetricID][]uint64{},
		},
	})

	if got := exp.Render(); got != "" {
		t.Fatalf("expected empty output for disabled metrics, got:\n%s", got)
	}
}

func TestRenderIncludesCounterAndHistogram(t *testing.T) {
	exp := NewPrometheusExporterFromSource(fakeSource{
		snapshot: authflow.MetricsSnapshot{
			Counters: map[authflow.MetricID]uint64{
				authflow.MetricCodeSent: 7,
			},
			Histograms: map[authflow.MetricID][]uint64{
				authflow.MetricExternalCallLatency: {1, 2, 3, 4, 5, 6, 7, 8},
			},
		},
		dropped: 2,
	})

	out := exp.Render()
	for _, want := range []string{
		"authflow_code_sent_total 7",
		"authflow_reset_completed_total 0",
		"authflow_external_call_latency_seconds_bucket{le=\"0.025\"} 1",
		"authflow_external_call_latency_seconds_bucket{le=\"+Inf\"} 36",
		"authflow_external_call_latency_seconds_count 36",
		"authflow_audit_dropped_total 2",
	} {
		if !strings.Contains(out, want) {
			t.Fatalf("expected %q in output, got:\n%s", want, out)
		}
	}
}

func TestRenderFromEngine(t *testing.T) {
	cfg := authflow.DefaultConfig()
	cfg.Metrics.Enabled = true
	engine, err := authflow.New().WithConfig(cfg).WithCodeService(nopCodes{}).Build()
	if err != nil {
		t.Fatalf("build engine: %v", err)
	}
	defer engine.Close()

	if _, err := engine.NewSignupFlow(); err != nil {
		t.Fatalf("new flow: %v", err)
	}

	out := NewPrometheusExporter(engine).Render()
	if !strings.Contains(out, "authflow_flow_started_total 1") {
		t.Fatalf("expected flow_started counter, got:\n%s", out)
	}
}

func TestHandlerWritesPrometheusContentType(t *testing.T) {
	exp := NewPrometheusExporterFromSource(fakeSource{
		snapshot: authflow.MetricsSnapshot{
			Counters:   map[authflow.MetricID]uint64{authflow.MetricSignInSuccess: 1},
			Histograms: map[authflow.MetricID][]uint64{},
		},
	})

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	exp.Handler().ServeHTTP(rec, req)

	if got := rec.Header().Get("Content-Type"); !strings.Contains(got, "text/plain") {
		t.Fatalf("expected prometheus content type, got %q", got)
	}
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}

type failingWriter struct{}

func (failingWriter) Write([]byte) (int, error) { return 0, errors.New("closed") }

func TestWriteToReportsWriterError(t *testing.T) {
	exp := NewPrometheusExporterFromSource(fakeSource{dropped: 1})

	if _, err := exp.WriteTo(failingWriter{}); err == nil {
		t.Fatal("expected write error")
	}

	var nilExp *PrometheusExporter
	if n, err := nilExp.WriteTo(failingWriter{}); n != 0 || err != nil {
		t.Fatalf("nil exporter should write nothing, got n=%d err=%v", n, err)
	}
}

func BenchmarkRender(b *testing.B) {
	exp := NewPrometheusExporterFromSource(fakeSource{
		snapshot: authflow.MetricsSnapshot{
			Counters: map[authflow.MetricID]uint64{
				authflow.MetricFlowStarted:        1000,
				authflow.MetricCodeSent:           900,
				authflow.MetricSignupVerified:     600,
				authflow.MetricResetCompleted:     200,
				authflow.MetricResetCodeFailure:   40,
				authflow.MetricSignInSuccess:      800,
				authflow.MetricValidationRejected: 3,
			},
			Histograms: map[authflow.MetricID][]uint64{
				authflow.MetricExternalCallLatency: {10, 20, 30, 40, 50, 60, 70, 80},
			},
		},
	})

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = exp.Render()
	}
}
