package api

import (
	"bufio"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
)

func TestHealthEndpoint(t *testing.T) {
	srv := newTestServer(t, Config{})

	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/health")
	if err != nil {
		t.Fatalf("GET /health: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want 200", resp.StatusCode)
	}
	body, _ := io.ReadAll(resp.Body)
	if string(body) != "OK" {
		t.Errorf("body = %q, want %q", body, "OK")
	}
}

func TestMetricsEndpoint(t *testing.T) {
	srv := newTestServer(t, Config{})

	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	// Make a request to generate metrics.
	http.Get(ts.URL + "/health")

	resp, err := http.Get(ts.URL + "/metrics")
	if err != nil {
		t.Fatalf("GET /metrics: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want 200", resp.StatusCode)
	}

	contentType := resp.Header.Get("Content-Type")
	if !strings.Contains(contentType, "text/plain") && !strings.Contains(contentType, "text/openmetrics") {
		t.Errorf("Content-Type = %q, expected prometheus format", contentType)
	}

	bodyBytes, _ := io.ReadAll(resp.Body)
	body := string(bodyBytes)

	if !strings.Contains(body, "fcagent_http_requests_total") {
		t.Error("metrics output missing fcagent_http_requests_total")
	}
	if !strings.Contains(body, "fcagent_http_request_duration_seconds") {
		t.Error("metrics output missing fcagent_http_request_duration_seconds")
	}
}

func TestMetricsRouter(t *testing.T) {
	ts := httptest.NewServer(MetricsRouter())
	defer ts.Close()

	for _, path := range []string{"/health", "/metrics"} {
		resp, err := http.Get(ts.URL + path)
		if err != nil {
			t.Fatalf("GET %s: %v", path, err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			t.Errorf("GET %s status = %d, want 200", path, resp.StatusCode)
		}
	}
}

// scrapeSeries returns the value of one exposition line from /metrics, or
// zero when the series is absent.
func scrapeSeries(t *testing.T, baseURL, series string) float64 {
	t.Helper()
	resp, err := http.Get(baseURL + "/metrics")
	if err != nil {
		t.Fatalf("GET /metrics: %v", err)
	}
	defer resp.Body.Close()

	sc := bufio.NewScanner(resp.Body)
	for sc.Scan() {
		name, value, ok := strings.Cut(sc.Text(), " ")
		if !ok || name != series {
			continue
		}
		v, err := strconv.ParseFloat(value, 64)
		if err != nil {
			t.Fatalf("parse %s: %v", series, err)
		}
		return v
	}
	return 0
}

func TestExecOutcomeMetrics(t *testing.T) {
	requireBinary(t, "echo")
	srv := newTestServer(t, Config{})
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	const (
		exited      = `fcagent_http_exec_total{outcome="exited"}`
		spawnFailed = `fcagent_http_exec_total{outcome="spawn_failed"}`
		stdoutCount = `fcagent_http_exec_output_bytes_count{stream="stdout"}`
		execRoute   = `fcagent_http_requests_total{method="POST",route="/exec",status="200"}`
	)
	before := map[string]float64{}
	for _, s := range []string{exited, spawnFailed, stdoutCount, execRoute} {
		before[s] = scrapeSeries(t, ts.URL, s)
	}

	postExec(t, ts.URL, map[string]any{"command": []string{"echo", "hi"}})
	postExec(t, ts.URL, map[string]any{"command": []string{"/nonexistent/fcagent-test-binary"}})

	for series, want := range map[string]float64{exited: 1, spawnFailed: 1, stdoutCount: 1, execRoute: 1} {
		if got := scrapeSeries(t, ts.URL, series) - before[series]; got != want {
			t.Errorf("%s grew by %v, want %v", series, got, want)
		}
	}
}
