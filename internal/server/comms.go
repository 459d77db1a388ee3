package server

import (
	"context"
	"fmt"
	"log/slog"

	comms "github.com/nats-io/nats.go"

	"github.com/morezero/plugin-host/pkg/commsutil"
	"github.com/morezero/plugin-host/pkg/dispatcher"
	"github.com/morezero/plugin-host/pkg/service"
)

const commsLogPrefix = "server:comms"

// maxConcurrentRequests bounds envelopes handled at once over COMMS.
const maxConcurrentRequests = 64

// SubscribeHost answers invoke envelopes on subject. Each message is handled
// on its own goroutine so a slow service does not hold up others.
func (s *Server) SubscribeHost(ctx context.Context, subject string) error {
	sub, err := s.nc.Subscribe(subject, func(msg *comms.Msg) {
		s.enqueue(ctx, msg)
	})
	if err != nil {
		return fmt.Errorf("%s - failed to subscribe to %s: %w", commsLogPrefix, subject, err)
	}
	s.sub = sub
	slog.Info(fmt.Sprintf("%s - Subscribed to %s", commsLogPrefix, subject))
	return nil
}

// enqueue hands msg to a worker goroutine, or drops it once Shutdown began.
func (s *Server) enqueue(ctx context.Context, msg *comms.Msg) {
	s.slots <- struct{}{}
	if !s.acceptRequest() {
		<-s.slots
		slog.Warn(fmt.Sprintf("%s - dropped request on %s: shutting down", commsLogPrefix, msg.Subject))
		return
	}
	go func() {
		defer func() {
			<-s.slots
			s.inflight.Done()
		}()
		s.handleMessage(ctx, msg)
	}()
}

// acceptRequest counts a request as in flight unless Shutdown has begun.
// Shutdown sets closing under the same lock before it waits on inflight.
func (s *Server) acceptRequest() bool {
	s.intakeMu.Lock()
	defer s.intakeMu.Unlock()
	if s.closing {
		return false
	}
	s.inflight.Add(1)
	return true
}

func (s *Server) handleMessage(ctx context.Context, msg *comms.Msg) {
	var req dispatcher.InvokeRequest
	if err := commsutil.DecodePayload(msg.Data, &req); err != nil {
		slog.Error(fmt.Sprintf("%s - failed to decode request: %v", commsLogPrefix, err))
		resp := &dispatcher.InvokeResponse{
			Ok: false,
			Error: &dispatcher.ErrorDetail{
				Code:    service.CodeInvocationError,
				Message: "Failed to decode request",
			},
		}
		if err := commsutil.Respond(msg, resp); err != nil {
			slog.Error(fmt.Sprintf("%s - %v", commsLogPrefix, err))
		}
		return
	}

	reqCtx, cancel := context.WithTimeout(ctx, s.cfg.RequestTimeout)
	defer cancel()

	resp := s.host.Handle(reqCtx, &req)
	if err := commsutil.Respond(msg, resp); err != nil {
		slog.Error(fmt.Sprintf("%s - %v", commsLogPrefix, err))
	}
}
