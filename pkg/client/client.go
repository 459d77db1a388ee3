// Package client calls a remote plugin host over COMMS using the invoke
// envelope.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	comms "github.com/nats-io/nats.go"

	"github.com/morezero/plugin-host/pkg/commsutil"
	"github.com/morezero/plugin-host/pkg/dispatcher"
	"github.com/morezero/plugin-host/pkg/registry"
	"github.com/morezero/plugin-host/pkg/service"
)

const logPrefix = "client:client"

const defaultTimeout = 25 * time.Second

// Client sends envelopes to a host subject.
type Client struct {
	nc      *comms.Conn
	subject string
	timeout time.Duration
	caller  string
	retries int
}

// NewClientParams holds parameters for NewClient.
type NewClientParams struct {
	Conn *comms.Conn
	// Subject defaults to commsutil.SubjectHost.
	Subject string
	// Timeout applies when the call context has no deadline. Defaults to 25s.
	Timeout time.Duration
	// Caller is reported to the host in the invocation context.
	Caller string
	// Retries is how many times a retryable failure is retried.
	Retries int
}

// NewClient creates a new Client.
func NewClient(params NewClientParams) *Client {
	subject := params.Subject
	if subject == "" {
		subject = commsutil.SubjectHost
	}
	timeout := params.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Client{
		nc:      params.Conn,
		subject: subject,
		timeout: timeout,
		caller:  params.Caller,
		retries: params.Retries,
	}
}

// Invoke calls a method on target ("id" or "id@requirement") and returns the
// raw result. A failed response is returned as a *service.ServiceError.
func (c *Client) Invoke(ctx context.Context, target, method string, params json.RawMessage) (json.RawMessage, error) {
	resp, err := c.Do(ctx, &dispatcher.InvokeRequest{
		Type:    dispatcher.TypeInvoke,
		Service: target,
		Method:  method,
		Params:  params,
	})
	if err != nil {
		return nil, err
	}
	return resp.Result, nil
}

// Methods lists a remote service's methods.
func (c *Client) Methods(ctx context.Context, target string) ([]service.MethodDescriptor, error) {
	var out []service.MethodDescriptor
	if err := c.call(ctx, &dispatcher.InvokeRequest{Type: dispatcher.TypeMethods, Service: target}, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Services lists the remote host's services.
func (c *Client) Services(ctx context.Context) (*registry.ListOutput, error) {
	var out registry.ListOutput
	if err := c.call(ctx, &dispatcher.InvokeRequest{Type: dispatcher.TypeServices}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Health returns the remote host's health.
func (c *Client) Health(ctx context.Context) (*registry.HealthOutput, error) {
	var out registry.HealthOutput
	if err := c.call(ctx, &dispatcher.InvokeRequest{Type: dispatcher.TypeHealth}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) call(ctx context.Context, req *dispatcher.InvokeRequest, out interface{}) error {
	resp, err := c.Do(ctx, req)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(resp.Result, out); err != nil {
		return fmt.Errorf("%s - invalid %s result: %w", logPrefix, req.Type, err)
	}
	return nil
}

// Do sends req and waits for the response. It fills in the request id and
// invocation context. Transport failures are returned as errors; a response
// with ok=false becomes a *service.ServiceError, after retrying retryable
// failures.
func (c *Client) Do(ctx context.Context, req *dispatcher.InvokeRequest) (*dispatcher.InvokeResponse, error) {
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	if req.ID == "" {
		req.ID = uuid.NewString()
	}
	if req.Ctx == nil {
		req.Ctx = &dispatcher.InvocationContext{}
	}
	if req.Ctx.RequestID == "" {
		req.Ctx.RequestID = req.ID
	}
	if req.Ctx.Caller == "" {
		req.Ctx.Caller = c.caller
	}
	if deadline, ok := ctx.Deadline(); ok {
		req.Ctx.TimeoutMs = int(time.Until(deadline).Milliseconds())
	}

	var resp *dispatcher.InvokeResponse
	for attempt := 0; ; attempt++ {
		var err error
		resp, err = c.request(ctx, req)
		if err != nil {
			return nil, err
		}
		if resp.Ok || resp.Error == nil || !resp.Error.Retryable || attempt >= c.retries {
			break
		}
		slog.Warn(fmt.Sprintf("%s - retrying %s %s.%s after %s (attempt %d)", logPrefix, req.ID, req.Service, req.Method, resp.Error.Code, attempt+1))
	}

	if !resp.Ok {
		if resp.Error == nil {
			return nil, service.Internal("response without result or error")
		}
		return nil, service.NewServiceError(resp.Error.Code, resp.Error.Message)
	}
	return resp, nil
}

func (c *Client) request(ctx context.Context, req *dispatcher.InvokeRequest) (*dispatcher.InvokeResponse, error) {
	data, err := commsutil.EncodePayload(req)
	if err != nil {
		return nil, fmt.Errorf("%s - failed to encode request: %w", logPrefix, err)
	}

	msg, err := c.nc.RequestWithContext(ctx, c.subject, data)
	if err != nil {
		if errors.Is(err, comms.ErrNoResponders) {
			return nil, fmt.Errorf("%s - no host listening on %s: %w", logPrefix, c.subject, err)
		}
		return nil, fmt.Errorf("%s - request %s failed: %w", logPrefix, req.ID, err)
	}

	var resp dispatcher.InvokeResponse
	if err := commsutil.DecodePayload(msg.Data, &resp); err != nil {
		return nil, fmt.Errorf("%s - invalid response: %w", logPrefix, err)
	}
	if resp.ID != req.ID {
		return nil, fmt.Errorf("%s - response id %q does not match request %q", logPrefix, resp.ID, req.ID)
	}
	return &resp, nil
}
