package client

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	commsserver "github.com/nats-io/nats-server/v2/server"
	comms "github.com/nats-io/nats.go"

	"github.com/morezero/plugin-host/pkg/commsutil"
	"github.com/morezero/plugin-host/pkg/dispatcher"
	"github.com/morezero/plugin-host/pkg/registry"
	"github.com/morezero/plugin-host/pkg/semver"
	"github.com/morezero/plugin-host/pkg/service"
	"github.com/morezero/plugin-host/pkg/value"
)

const clientTestPrefix = "client:client_test"

// startTestServer starts an in-process COMMS server for testing.
func startTestServer(t *testing.T, port int) *comms.Conn {
	t.Helper()

	ns, err := commsserver.NewServer(&commsserver.Options{
		Host:   "127.0.0.1",
		Port:   port,
		NoLog:  true,
		NoSigs: true,
	})
	if err != nil {
		t.Fatalf("%s - failed to create server: %v", clientTestPrefix, err)
	}
	go ns.Start()
	if !ns.ReadyForConnections(10 * time.Second) {
		t.Fatalf("%s - server failed to start", clientTestPrefix)
	}

	nc, err := comms.Connect(ns.ClientURL(), comms.Timeout(5*time.Second))
	if err != nil {
		ns.Shutdown()
		t.Fatalf("%s - failed to connect: %v", clientTestPrefix, err)
	}
	t.Cleanup(func() {
		nc.Close()
		ns.Shutdown()
		ns.WaitForShutdown()
	})
	return nc
}

// serveHost answers envelopes on the host subject with a dispatcher over an
// echo service.
func serveHost(t *testing.T, nc *comms.Conn) *registry.Registry {
	t.Helper()
	reg := registry.NewRegistry(registry.NewRegistryParams{})
	table := service.NewMethods().
		HandleFunc("echo", "Echoes its arguments", func(_ context.Context, args value.Value) (value.Value, error) {
			return args, nil
		})
	if err := reg.Register(service.NewDescriptor("demo.echo", semver.NewVersion(1, 2, 0), "demo"), table); err != nil {
		t.Fatalf("%s - register failed: %v", clientTestPrefix, err)
	}
	disp := dispatcher.NewDispatcher(dispatcher.NewDispatcherParams{Registry: reg})

	sub, err := nc.Subscribe(commsutil.SubjectHost, func(msg *comms.Msg) {
		var req dispatcher.InvokeRequest
		if err := commsutil.DecodePayload(msg.Data, &req); err != nil {
			t.Errorf("%s - bad request: %v", clientTestPrefix, err)
			return
		}
		_ = commsutil.Respond(msg, disp.Handle(context.Background(), &req))
	})
	if err != nil {
		t.Fatalf("%s - subscribe failed: %v", clientTestPrefix, err)
	}
	t.Cleanup(func() { _ = sub.Unsubscribe() })
	return reg
}

func TestClient_Invoke(t *testing.T) {
	nc := startTestServer(t, 14240)
	serveHost(t, nc)
	c := NewClient(NewClientParams{Conn: nc, Caller: "test"})

	got, err := c.Invoke(context.Background(), "demo.echo@^1", "echo", json.RawMessage(`{"a":[1,2]}`))
	if err != nil {
		t.Fatalf("%s - Invoke failed: %v", clientTestPrefix, err)
	}
	if string(got) != `{"a":[1,2]}` {
		t.Errorf("%s - result = %s", clientTestPrefix, got)
	}
}

func TestClient_ErrorsAreServiceErrors(t *testing.T) {
	nc := startTestServer(t, 14241)
	serveHost(t, nc)
	c := NewClient(NewClientParams{Conn: nc})

	tests := []struct {
		name   string
		target string
		method string
		want   *service.ServiceError
	}{
		{"unknown service", "nope", "echo", service.ErrNotRegistered},
		{"unknown method", "demo.echo", "nope", service.ErrMethodNotFound},
		{"version gate", "demo.echo@2", "echo", service.ErrVersionMismatch},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := c.Invoke(context.Background(), tt.target, tt.method, nil)
			if !errors.Is(err, tt.want) {
				t.Errorf("%s - error = %v, want %s", clientTestPrefix, err, tt.want.Code)
			}
		})
	}
}

func TestClient_MethodsServicesHealth(t *testing.T) {
	nc := startTestServer(t, 14242)
	serveHost(t, nc)
	c := NewClient(NewClientParams{Conn: nc})
	ctx := context.Background()

	methods, err := c.Methods(ctx, "demo.echo")
	if err != nil || len(methods) != 1 || methods[0].Name != "echo" {
		t.Errorf("%s - Methods = %+v, %v", clientTestPrefix, methods, err)
	}

	services, err := c.Services(ctx)
	if err != nil || services.Total != 1 || services.Services[0].Version != "1.2.0" {
		t.Errorf("%s - Services = %+v, %v", clientTestPrefix, services, err)
	}

	health, err := c.Health(ctx)
	if err != nil || health.Status != "healthy" || health.Services != 1 {
		t.Errorf("%s - Health = %+v, %v", clientTestPrefix, health, err)
	}
}

func TestClient_NoResponders(t *testing.T) {
	nc := startTestServer(t, 14243)
	c := NewClient(NewClientParams{Conn: nc, Timeout: time.Second})

	_, err := c.Invoke(context.Background(), "demo.echo", "echo", nil)
	if err == nil || !strings.Contains(err.Error(), "no host listening") {
		t.Errorf("%s - expected no responders error, got %v", clientTestPrefix, err)
	}
}

func TestClient_RetriesRetryableFailures(t *testing.T) {
	nc := startTestServer(t, 14244)

	var calls atomic.Int32
	sub, err := nc.Subscribe("custom.host", func(msg *comms.Msg) {
		var req dispatcher.InvokeRequest
		_ = commsutil.DecodePayload(msg.Data, &req)
		if req.Ctx == nil || req.Ctx.RequestID != req.ID || req.Ctx.TimeoutMs <= 0 {
			t.Errorf("%s - invocation context not filled in: %+v", clientTestPrefix, req.Ctx)
		}
		resp := &dispatcher.InvokeResponse{ID: req.ID, Ok: true, Result: json.RawMessage(`"done"`)}
		if calls.Add(1) == 1 {
			resp = &dispatcher.InvokeResponse{ID: req.ID, Error: &dispatcher.ErrorDetail{Code: service.CodeInternal, Message: "flaky", Retryable: true}}
		}
		_ = commsutil.Respond(msg, resp)
	})
	if err != nil {
		t.Fatalf("%s - subscribe failed: %v", clientTestPrefix, err)
	}
	defer sub.Unsubscribe()

	c := NewClient(NewClientParams{Conn: nc, Subject: "custom.host", Retries: 1})
	got, err := c.Invoke(context.Background(), "demo.flaky", "run", nil)
	if err != nil || string(got) != `"done"` {
		t.Errorf("%s - Invoke = %s, %v", clientTestPrefix, got, err)
	}
	if calls.Load() != 2 {
		t.Errorf("%s - calls = %d, want 2", clientTestPrefix, calls.Load())
	}
}
