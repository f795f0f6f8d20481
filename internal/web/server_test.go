package web

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"go.uber.org/zap/zaptest"

	"github.com/fiurin/tacd/internal/adc"
	"github.com/fiurin/tacd/internal/broker"
	"github.com/fiurin/tacd/internal/config"
)

func newTestServer(t *testing.T) (*httptest.Server, *broker.Broker) {
	t.Helper()

	b := broker.New()
	broker.TopicRW(b, "/v1/dut/powered", false)
	broker.TopicRO(b, "/v1/tac/temperatures/soc", adc.Measurement{Value: 42.5})
	broker.TopicWO[string](b, "/v1/tac/reboot")
	broker.TopicRO[string](b, "/v1/tac/network/hostname")

	srv, err := New(b, config.Default(), zaptest.NewLogger(t))
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}

	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return ts, b
}

func get(t *testing.T, ts *httptest.Server, path string) (int, string) {
	t.Helper()

	resp, err := http.Get(ts.URL + path)
	if err != nil {
		t.Fatalf("GET %s failed: %v", path, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("reading body of %s failed: %v", path, err)
	}
	return resp.StatusCode, string(body)
}

func TestPagesRenderLayoutAndView(t *testing.T) {
	ts, _ := newTestServer(t)

	views := map[string]string{
		"/":                 `id="view-landing"`,
		"/dashboard/dut":    `id="view-dashboard-dut"`,
		"/dashboard/tac":    `id="view-dashboard-tac"`,
		"/settings/labgrid": `id="view-settings-labgrid"`,
	}

	for path, marker := range views {
		status, body := get(t, ts, path)
		if status != http.StatusOK {
			t.Errorf("GET %s: status = %d, want 200", path, status)
		}
		if n := strings.Count(body, `id="root"`); n != 1 {
			t.Errorf("GET %s: %d root anchors, want exactly one", path, n)
		}
		if !strings.Contains(body, marker) {
			t.Errorf("GET %s: view marker %s missing", path, marker)
		}
	}
}

func TestPagesShareChrome(t *testing.T) {
	ts, _ := newTestServer(t)

	chrome := []string{
		`<header class="chrome">`,
		`<a href="/">`,
		`<a href="/dashboard/dut">`,
		`<a href="/dashboard/tac">`,
		`<a href="/settings/labgrid">`,
		`<script src="/static/app.js">`,
	}

	for _, path := range []string{"/", "/dashboard/dut", "/dashboard/tac", "/settings/labgrid"} {
		_, body := get(t, ts, path)
		for _, want := range chrome {
			if !strings.Contains(body, want) {
				t.Errorf("GET %s: chrome element %s missing", path, want)
			}
		}
	}
}

func TestUnknownPathRendersEmptyLayout(t *testing.T) {
	ts, _ := newTestServer(t)

	status, body := get(t, ts, "/no/such/page")
	if status != http.StatusOK {
		t.Errorf("status = %d, want 200", status)
	}
	if !strings.Contains(body, `id="root"`) {
		t.Error("layout root anchor missing")
	}
	if strings.Contains(body, `id="view-`) {
		t.Error("unknown path rendered a view")
	}
}

func TestViewsDoNotLeakAcrossPages(t *testing.T) {
	ts, _ := newTestServer(t)

	_, body := get(t, ts, "/dashboard/dut")
	if strings.Contains(body, `id="view-landing"`) {
		t.Error("landing view rendered on the DUT dashboard")
	}
}

func TestTopicGet(t *testing.T) {
	ts, _ := newTestServer(t)

	status, body := get(t, ts, "/v1/dut/powered")
	if status != http.StatusOK {
		t.Fatalf("status = %d, want 200", status)
	}
	if strings.TrimSpace(body) != "false" {
		t.Errorf("body = %q, want false", body)
	}
}

func TestTopicGetUnknown(t *testing.T) {
	ts, _ := newTestServer(t)

	if status, _ := get(t, ts, "/v1/does/not/exist"); status != http.StatusNotFound {
		t.Errorf("status = %d, want 404", status)
	}
}

func TestTopicGetWithoutValue(t *testing.T) {
	ts, _ := newTestServer(t)

	if status, _ := get(t, ts, "/v1/tac/network/hostname"); status != http.StatusNotFound {
		t.Errorf("status = %d, want 404", status)
	}
}

func TestTopicGetWriteOnly(t *testing.T) {
	ts, _ := newTestServer(t)

	if status, _ := get(t, ts, "/v1/tac/reboot"); status != http.StatusForbidden {
		t.Errorf("status = %d, want 403", status)
	}
}

func TestTopicPut(t *testing.T) {
	ts, b := newTestServer(t)

	req, _ := http.NewRequest(http.MethodPut, ts.URL+"/v1/dut/powered", strings.NewReader("true"))
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("PUT failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("status = %d, want 204", resp.StatusCode)
	}

	topic, _ := b.Lookup("/v1/dut/powered")
	payload, ok := topic.TryGetBytes()
	if !ok || string(payload) != "true" {
		t.Errorf("retained value = %q, want true", payload)
	}
}

func TestTopicPutReadOnly(t *testing.T) {
	ts, _ := newTestServer(t)

	req, _ := http.NewRequest(http.MethodPut, ts.URL+"/v1/tac/temperatures/soc", strings.NewReader("{}"))
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("PUT failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusForbidden {
		t.Errorf("status = %d, want 403", resp.StatusCode)
	}
}

func TestTopicPutMalformed(t *testing.T) {
	ts, _ := newTestServer(t)

	req, _ := http.NewRequest(http.MethodPut, ts.URL+"/v1/dut/powered", strings.NewReader("{{nope"))
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("PUT failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", resp.StatusCode)
	}
}

func TestStaticAssets(t *testing.T) {
	ts, _ := newTestServer(t)

	resp, err := http.Get(ts.URL + "/static/style.css")
	if err != nil {
		t.Fatalf("GET failed: %v", err)
	}
	io.Copy(io.Discard, resp.Body)
	resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); !strings.HasPrefix(ct, "text/css") {
		t.Errorf("Content-Type = %q, want text/css", ct)
	}
	etag := resp.Header.Get("ETag")
	if etag == "" {
		t.Fatal("no ETag header")
	}

	req, _ := http.NewRequest(http.MethodGet, ts.URL+"/static/style.css", nil)
	req.Header.Set("If-None-Match", etag)
	resp, err = http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("conditional GET failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotModified {
		t.Errorf("conditional status = %d, want 304", resp.StatusCode)
	}
}

func TestHealth(t *testing.T) {
	ts, _ := newTestServer(t)

	status, body := get(t, ts, "/health")
	if status != http.StatusOK {
		t.Errorf("status = %d, want 200", status)
	}
	if !strings.Contains(body, `"ok"`) {
		t.Errorf("body = %q", body)
	}
}
