package dispatcher

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/morezero/plugin-host/pkg/semver"
	"github.com/morezero/plugin-host/pkg/service"
	"github.com/morezero/plugin-host/pkg/value"
)

const handleTestPrefix = "dispatcher:handle_test"

func TestInvokeRequest_Unmarshal(t *testing.T) {
	raw := `{
		"id": "req-1",
		"type": "invoke",
		"service": "adi.agent-loop.cli",
		"method": "run_command",
		"version": "^1.0",
		"params": {"args": ["run", "hello"]},
		"ctx": {"requestId": "abc", "timeoutMs": 500}
	}`

	var req InvokeRequest
	if err := json.Unmarshal([]byte(raw), &req); err != nil {
		t.Fatalf("%s - failed to unmarshal: %v", handleTestPrefix, err)
	}
	if req.Service != "adi.agent-loop.cli" || req.Method != "run_command" || req.Version != "^1.0" {
		t.Errorf("%s - unexpected request %+v", handleTestPrefix, req)
	}
	if string(req.Params) != `{"args": ["run", "hello"]}` {
		t.Errorf("%s - params should stay raw, got %s", handleTestPrefix, req.Params)
	}
	if req.Ctx == nil || req.Ctx.TimeoutMs != 500 {
		t.Errorf("%s - expected ctx.timeoutMs 500, got %+v", handleTestPrefix, req.Ctx)
	}
}

func newHandleDispatcher(t *testing.T) *Dispatcher {
	t.Helper()
	disp, reg := newTestDispatcher(t, nil)
	desc, table := echoService("demo.echo", semver.NewVersion(1, 2, 0))
	if err := reg.Register(desc.WithDescription("Echo service"), table); err != nil {
		t.Fatalf("%s - Register failed: %v", handleTestPrefix, err)
	}
	return disp
}

func TestHandle_Invoke(t *testing.T) {
	disp := newHandleDispatcher(t)

	resp := disp.Handle(context.Background(), &InvokeRequest{
		ID:      "req-1",
		Service: "demo.echo",
		Method:  "echo",
		Params:  json.RawMessage(`{"z":1,"a":2}`),
	})

	if !resp.Ok || resp.Error != nil {
		t.Fatalf("%s - expected ok response, got %+v", handleTestPrefix, resp.Error)
	}
	if resp.ID != "req-1" {
		t.Errorf("%s - ID = %q, want req-1", handleTestPrefix, resp.ID)
	}
	if string(resp.Result) != `{"z":1,"a":2}` {
		t.Errorf("%s - Result = %s, want key order preserved", handleTestPrefix, resp.Result)
	}
}

func TestHandle_NonJSONResultIsInternal(t *testing.T) {
	disp, reg := newTestDispatcher(t, nil)
	_ = reg.Register(service.NewDescriptor("svc.faulty", semver.NewVersion(1, 0, 0), "demo"), faultyTable{})

	resp := disp.Handle(context.Background(), &InvokeRequest{
		ID:      "req-text",
		Service: "svc.faulty",
		Method:  "text",
	})

	if resp.Ok || resp.Error == nil {
		t.Fatalf("%s - expected error response, got result %s", handleTestPrefix, resp.Result)
	}
	if resp.Error.Code != service.CodeInternal {
		t.Errorf("%s - code = %s, want %s", handleTestPrefix, resp.Error.Code, service.CodeInternal)
	}
	raw, err := json.Marshal(resp)
	if err != nil {
		t.Fatalf("%s - response must stay encodable: %v", handleTestPrefix, err)
	}
	if !json.Valid(raw) {
		t.Errorf("%s - encoded response is not JSON: %s", handleTestPrefix, raw)
	}
}

func TestHandle_InvokeWithoutParams(t *testing.T) {
	disp := newHandleDispatcher(t)

	resp := disp.Handle(context.Background(), &InvokeRequest{ID: "req-2", Service: "demo.echo", Method: "echo"})
	if !resp.Ok || string(resp.Result) != "null" {
		t.Errorf("%s - expected null result, got ok=%v result=%s", handleTestPrefix, resp.Ok, resp.Result)
	}
}

func TestHandle_VersionForms(t *testing.T) {
	disp := newHandleDispatcher(t)

	tests := []struct {
		name     string
		service  string
		version  string
		wantCode string
	}{
		{"no version", "demo.echo", "", ""},
		{"version field", "demo.echo", "1.0.0", ""},
		{"inline requirement", "demo.echo@^1.1", "", ""},
		{"field wins over inline", "demo.echo@2", "1", ""},
		{"mismatch", "demo.echo", "2.0.0", service.CodeVersionMismatch},
		{"inline mismatch", "demo.echo@2", "", service.CodeVersionMismatch},
		{"invalid requirement", "demo.echo", "not-a-version", service.CodeVersionMismatch},
		{"unknown service", "demo.missing", "", service.CodeNotRegistered},
		{"empty service", "", "", service.CodeNotRegistered},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := disp.Handle(context.Background(), &InvokeRequest{
				ID:      "req",
				Service: tt.service,
				Version: tt.version,
				Method:  "echo",
				Params:  json.RawMessage(`1`),
			})
			if tt.wantCode == "" {
				if !resp.Ok {
					t.Errorf("%s - expected ok, got %+v", handleTestPrefix, resp.Error)
				}
				return
			}
			if resp.Ok || resp.Error == nil || resp.Error.Code != tt.wantCode {
				t.Errorf("%s - expected %s, got ok=%v error=%+v", handleTestPrefix, tt.wantCode, resp.Ok, resp.Error)
			}
		})
	}
}

func TestHandle_Methods(t *testing.T) {
	disp := newHandleDispatcher(t)

	resp := disp.Handle(context.Background(), &InvokeRequest{ID: "req-3", Type: TypeMethods, Service: "demo.echo"})
	if !resp.Ok {
		t.Fatalf("%s - expected ok, got %+v", handleTestPrefix, resp.Error)
	}
	var methods []service.MethodDescriptor
	if err := json.Unmarshal(resp.Result, &methods); err != nil {
		t.Fatalf("%s - result is not a method list: %v", handleTestPrefix, err)
	}
	if len(methods) != 1 || methods[0].Name != "echo" {
		t.Errorf("%s - methods = %+v", handleTestPrefix, methods)
	}
}

func TestHandle_Services(t *testing.T) {
	disp := newHandleDispatcher(t)

	resp := disp.Handle(context.Background(), &InvokeRequest{ID: "req-4", Type: TypeServices})
	if !resp.Ok {
		t.Fatalf("%s - expected ok, got %+v", handleTestPrefix, resp.Error)
	}
	var out struct {
		Services []struct {
			ID      string `json:"id"`
			Version string `json:"version"`
		} `json:"services"`
		Total int `json:"total"`
	}
	if err := json.Unmarshal(resp.Result, &out); err != nil {
		t.Fatalf("%s - result is not a listing: %v", handleTestPrefix, err)
	}
	if out.Total != 1 || out.Services[0].ID != "demo.echo" || out.Services[0].Version != "1.2.0" {
		t.Errorf("%s - listing = %+v", handleTestPrefix, out)
	}
}

func TestHandle_Health(t *testing.T) {
	disp := newHandleDispatcher(t)

	resp := disp.Handle(context.Background(), &InvokeRequest{ID: "req-5", Type: TypeHealth})
	if !resp.Ok {
		t.Fatalf("%s - expected ok, got %+v", handleTestPrefix, resp.Error)
	}
	var out struct {
		Status string `json:"status"`
	}
	_ = json.Unmarshal(resp.Result, &out)
	if out.Status != "healthy" {
		t.Errorf("%s - status = %q, want healthy", handleTestPrefix, out.Status)
	}
}

func TestHandle_UnknownType(t *testing.T) {
	disp := newHandleDispatcher(t)

	for _, id := range []string{"req-1", "unique-abc-123", ""} {
		resp := disp.Handle(context.Background(), &InvokeRequest{ID: id, Type: "nonexistent"})
		if resp.Ok || resp.Error == nil || resp.Error.Code != service.CodeMethodNotFound {
			t.Fatalf("%s - expected METHOD_NOT_FOUND, got %+v", handleTestPrefix, resp)
		}
		if resp.Error.Retryable {
			t.Errorf("%s - METHOD_NOT_FOUND should not be retryable", handleTestPrefix)
		}
		if resp.ID != id {
			t.Errorf("%s - ID = %q, want %q", handleTestPrefix, resp.ID, id)
		}
	}
}

func TestHandle_TimeoutFromContext(t *testing.T) {
	disp, reg := newTestDispatcher(t, nil)
	table := service.NewMethods().HandleFunc("deadline", "", func(ctx context.Context, _ value.Value) (value.Value, error) {
		deadline, ok := ctx.Deadline()
		if !ok {
			return value.Bool(false), nil
		}
		return value.Bool(time.Until(deadline) <= time.Second), nil
	})
	_ = reg.Register(service.NewDescriptor("svc.deadline", semver.NewVersion(1, 0, 0), "demo"), table)

	resp := disp.Handle(context.Background(), &InvokeRequest{
		ID:      "req",
		Service: "svc.deadline",
		Method:  "deadline",
		Ctx:     &InvocationContext{TimeoutMs: 1000},
	})
	if !resp.Ok || string(resp.Result) != "true" {
		t.Errorf("%s - expected handler to observe the deadline, got ok=%v result=%s", handleTestPrefix, resp.Ok, resp.Result)
	}
}

func TestInvokeResponse_Marshal(t *testing.T) {
	resp := errorResponse("req-1", service.Internal("service invocation failed"))

	data, err := json.Marshal(resp)
	if err != nil {
		t.Fatalf("%s - failed to marshal: %v", handleTestPrefix, err)
	}
	var decoded map[string]interface{}
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("%s - failed to unmarshal response: %v", handleTestPrefix, err)
	}
	if decoded["ok"] != false {
		t.Errorf("%s - expected ok=false, got %v", handleTestPrefix, decoded["ok"])
	}
	if _, has := decoded["result"]; has {
		t.Errorf("%s - error response should omit result", handleTestPrefix)
	}
	errObj, _ := decoded["error"].(map[string]interface{})
	if errObj["code"] != "INTERNAL_ERROR" || errObj["retryable"] != true {
		t.Errorf("%s - error = %v", handleTestPrefix, errObj)
	}
}
