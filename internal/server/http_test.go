package server

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/morezero/plugin-host/internal/config"
	"github.com/morezero/plugin-host/internal/host"
	"github.com/morezero/plugin-host/internal/modules/agentloop"
	"github.com/morezero/plugin-host/pkg/dispatcher"
	"github.com/morezero/plugin-host/pkg/registry"
	"github.com/morezero/plugin-host/pkg/service"
)

const httpTestPrefix = "server:http_test"

func testConfig() *config.Config {
	return &config.Config{
		RequestTimeout:     5 * time.Second,
		HealthCheckTimeout: time.Second,
	}
}

// newTestServer starts the default host and serves its router.
func newTestServer(t *testing.T) (*Server, *httptest.Server) {
	t.Helper()
	h, err := host.New(host.NewParams{})
	if err != nil {
		t.Fatalf("%s - host.New failed: %v", httpTestPrefix, err)
	}
	if err := h.Start(context.Background()); err != nil {
		t.Fatalf("%s - Start failed: %v", httpTestPrefix, err)
	}
	s := NewServer(NewServerParams{Config: testConfig(), Host: h})
	ts := httptest.NewServer(s.Router())
	t.Cleanup(func() {
		ts.Close()
		h.Shutdown()
	})
	return s, ts
}

func getJSON(t *testing.T, url string, out interface{}) int {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("%s - GET %s: %v", httpTestPrefix, url, err)
	}
	defer resp.Body.Close()
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("%s - decode %s: %v", httpTestPrefix, url, err)
		}
	}
	return resp.StatusCode
}

func postInvoke(t *testing.T, url, body string) (int, *dispatcher.InvokeResponse) {
	t.Helper()
	resp, err := http.Post(url, "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatalf("%s - POST %s: %v", httpTestPrefix, url, err)
	}
	defer resp.Body.Close()
	var out dispatcher.InvokeResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("%s - decode %s: %v", httpTestPrefix, url, err)
	}
	return resp.StatusCode, &out
}

func TestRouter_Health(t *testing.T) {
	_, ts := newTestServer(t)

	var h registry.HealthOutput
	if code := getJSON(t, ts.URL+"/health", &h); code != http.StatusOK {
		t.Fatalf("%s - /health status = %d", httpTestPrefix, code)
	}
	if h.Status != "healthy" || h.Services != 3 || h.Checks.Journal != nil {
		t.Errorf("%s - /health = %+v", httpTestPrefix, h)
	}
}

func TestRouter_Ready(t *testing.T) {
	s, ts := newTestServer(t)

	if code := getJSON(t, ts.URL+"/ready", nil); code != http.StatusServiceUnavailable {
		t.Errorf("%s - /ready before ready = %d, want 503", httpTestPrefix, code)
	}
	s.ready.Store(true)
	if code := getJSON(t, ts.URL+"/ready", nil); code != http.StatusOK {
		t.Errorf("%s - /ready after ready = %d, want 200", httpTestPrefix, code)
	}
}

func TestRouter_ServicesAndModules(t *testing.T) {
	_, ts := newTestServer(t)

	var list registry.ListOutput
	if code := getJSON(t, ts.URL+"/services", &list); code != http.StatusOK {
		t.Fatalf("%s - /services status = %d", httpTestPrefix, code)
	}
	if list.Total != 3 || len(list.Services) != 3 {
		t.Errorf("%s - /services = %+v", httpTestPrefix, list)
	}

	var modules []struct {
		Name  string `json:"name"`
		State string `json:"state"`
	}
	getJSON(t, ts.URL+"/modules", &modules)
	if len(modules) != 1 || modules[0].Name != agentloop.ModuleName || modules[0].State != "active" {
		t.Errorf("%s - /modules = %+v", httpTestPrefix, modules)
	}
}

func TestRouter_DescribeService(t *testing.T) {
	_, ts := newTestServer(t)

	tests := []struct {
		name   string
		path   string
		status int
		id     string
	}{
		{"by id", "/services/" + agentloop.ServiceCLI, http.StatusOK, agentloop.ServiceCLI},
		{"by alias", "/services/agent.tools", http.StatusOK, agentloop.ServiceTools},
		{"unknown", "/services/does.not.exist", http.StatusNotFound, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, err := http.Get(ts.URL + tt.path)
			if err != nil {
				t.Fatalf("%s - GET failed: %v", httpTestPrefix, err)
			}
			defer resp.Body.Close()
			if resp.StatusCode != tt.status {
				t.Fatalf("%s - status = %d, want %d", httpTestPrefix, resp.StatusCode, tt.status)
			}
			if tt.id == "" {
				var errResp dispatcher.InvokeResponse
				_ = json.NewDecoder(resp.Body).Decode(&errResp)
				if errResp.Error == nil || errResp.Error.Code != service.CodeNotRegistered {
					t.Errorf("%s - error body = %+v", httpTestPrefix, errResp)
				}
				return
			}
			var summary registry.ServiceSummary
			_ = json.NewDecoder(resp.Body).Decode(&summary)
			if summary.ID != tt.id || summary.Module != agentloop.ModuleName || len(summary.Methods) != 2 {
				t.Errorf("%s - summary = %+v", httpTestPrefix, summary)
			}
		})
	}
}

func TestRouter_Invoke(t *testing.T) {
	_, ts := newTestServer(t)
	base := ts.URL + "/services/"

	tests := []struct {
		name   string
		url    string
		body   string
		status int
		code   string
	}{
		{"list tools", base + agentloop.ServiceTools + "/invoke/list_tools", "", http.StatusOK, ""},
		{"alias", base + "agent.tools/invoke/list_tools", "null", http.StatusOK, ""},
		{"version ok", base + agentloop.ServiceTools + "/invoke/list_tools?version=%5E1", "", http.StatusOK, ""},
		{"version mismatch", base + agentloop.ServiceTools + "/invoke/list_tools?version=%5E2", "", http.StatusConflict, service.CodeVersionMismatch},
		{"unknown method", base + agentloop.ServiceTools + "/invoke/nope", "", http.StatusNotFound, service.CodeMethodNotFound},
		{"unknown service", base + "nope.svc/invoke/x", "", http.StatusNotFound, service.CodeNotRegistered},
		{"invocation error", base + agentloop.ServiceTools + "/invoke/call_tool", `{"name":"missing"}`, http.StatusBadRequest, service.CodeInvocationError},
		{"malformed body", base + agentloop.ServiceTools + "/invoke/call_tool", `{"name":`, http.StatusBadRequest, service.CodeInvocationError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, resp := postInvoke(t, tt.url, tt.body)
			if status != tt.status {
				t.Errorf("%s - status = %d, want %d (%+v)", httpTestPrefix, status, tt.status, resp.Error)
			}
			if resp.ID == "" {
				t.Errorf("%s - response carries no request id", httpTestPrefix)
			}
			if tt.code == "" {
				if !resp.Ok {
					t.Errorf("%s - expected ok, got %+v", httpTestPrefix, resp.Error)
				}
				return
			}
			if resp.Ok || resp.Error == nil || resp.Error.Code != tt.code {
				t.Errorf("%s - error = %+v, want %s", httpTestPrefix, resp.Error, tt.code)
			}
		})
	}
}

func TestRouter_InvokeUsesRequestIDHeader(t *testing.T) {
	_, ts := newTestServer(t)

	req, _ := http.NewRequest(http.MethodPost, ts.URL+"/services/agent/invoke/list_commands", nil)
	req.Header.Set("X-Request-Id", "req-42")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s - POST failed: %v", httpTestPrefix, err)
	}
	defer resp.Body.Close()

	var out dispatcher.InvokeResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("%s - decode failed: %v", httpTestPrefix, err)
	}
	if !out.Ok || out.ID != "req-42" {
		t.Errorf("%s - response = %+v", httpTestPrefix, out)
	}
}

func TestRouter_OpenAPIAndDocs(t *testing.T) {
	_, ts := newTestServer(t)

	var doc openAPI3Spec
	if code := getJSON(t, ts.URL+"/services/"+agentloop.ServiceCLI+"/openapi.json", &doc); code != http.StatusOK {
		t.Fatalf("%s - openapi status = %d", httpTestPrefix, code)
	}
	if doc.OpenAPI != "3.0.0" || doc.Info.Title != agentloop.ServiceCLI || doc.Info.Version != "1.0.0" {
		t.Errorf("%s - openapi info = %+v", httpTestPrefix, doc.Info)
	}
	if _, ok := doc.Paths["/services/"+agentloop.ServiceCLI+"/invoke/run_command"]; !ok {
		t.Errorf("%s - openapi paths missing run_command: %v", httpTestPrefix, doc.Paths)
	}

	resp, err := http.Get(ts.URL + "/services/" + agentloop.ServiceCLI + "/docs")
	if err != nil {
		t.Fatalf("%s - GET docs failed: %v", httpTestPrefix, err)
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if !strings.Contains(string(body), "/services/"+agentloop.ServiceCLI+"/openapi.json") {
		t.Errorf("%s - docs page does not load the OpenAPI document", httpTestPrefix)
	}

	resp, err = http.Get(ts.URL + "/services/missing/docs")
	if err != nil {
		t.Fatalf("%s - GET docs failed: %v", httpTestPrefix, err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("%s - missing docs status = %d", httpTestPrefix, resp.StatusCode)
	}
}

func TestRouter_HomeAndMetrics(t *testing.T) {
	_, ts := newTestServer(t)

	postInvoke(t, ts.URL+"/services/agent/invoke/list_commands", "")

	resp, err := http.Get(ts.URL + "/")
	if err != nil {
		t.Fatalf("%s - GET / failed: %v", httpTestPrefix, err)
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	for _, want := range []string{"Plugin Host", agentloop.ServiceCLI, agentloop.ModuleName, "healthy"} {
		if !strings.Contains(string(body), want) {
			t.Errorf("%s - home page missing %q", httpTestPrefix, want)
		}
	}

	resp, err = http.Get(ts.URL + "/metrics")
	if err != nil {
		t.Fatalf("%s - GET /metrics failed: %v", httpTestPrefix, err)
	}
	body, _ = io.ReadAll(resp.Body)
	resp.Body.Close()
	for _, want := range []string{"plugin_host_dispatch_calls_total", "plugin_host_registry_services 3", "plugin_host_http_requests_total"} {
		if !strings.Contains(string(body), want) {
			t.Errorf("%s - metrics missing %q", httpTestPrefix, want)
		}
	}
}

func TestStatusForCode(t *testing.T) {
	tests := []struct {
		code string
		want int
	}{
		{service.CodeNotRegistered, http.StatusNotFound},
		{service.CodeMethodNotFound, http.StatusNotFound},
		{service.CodeVersionMismatch, http.StatusConflict},
		{service.CodeDuplicateRegistration, http.StatusConflict},
		{service.CodeInvocationError, http.StatusBadRequest},
		{service.CodeInternal, http.StatusInternalServerError},
		{"SOMETHING_ELSE", http.StatusInternalServerError},
	}
	for _, tt := range tests {
		if got := statusForCode(tt.code); got != tt.want {
			t.Errorf("%s - statusForCode(%s) = %d, want %d", httpTestPrefix, tt.code, got, tt.want)
		}
	}
}
