package main

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/kursadbilgin/notification-center/internal/observability"
	"go.uber.org/zap"
)

func TestMetricsAppServesDeliveryMetrics(t *testing.T) {
	t.Parallel()

	metrics := observability.NewMetrics()
	metrics.IncJobClaimed("sms")
	metrics.IncDelivery("sms", false)
	metrics.IncJobRetry("sms")

	app := newMetricsApp(metrics, zap.NewNop())

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if err != nil {
		t.Fatalf("app.Test() error = %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	for _, want := range []string{
		`notify_jobs_claimed_total{channel="sms"} 1`,
		`notify_job_retries_total{channel="sms"} 1`,
	} {
		if !strings.Contains(string(body), want) {
			t.Fatalf("metrics body missing %q: %s", want, string(body))
		}
	}
}

func TestMetricsAppUnknownRoute(t *testing.T) {
	t.Parallel()

	app := newMetricsApp(observability.NewMetrics(), zap.NewNop())

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/v1/notifications", nil))
	if err != nil {
		t.Fatalf("app.Test() error = %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", resp.StatusCode)
	}
}
