// Package framework wraps cloud function handlers with the cross-cutting
// plumbing every function needs: structured logging, panic recovery and
// error reporting.
package framework

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/cloudevents/sdk-go/v2/event"
	"github.com/google/uuid"

	"github.com/tracktiles/server/pkg/bootstrap"
	ps "github.com/tracktiles/server/pkg/infrastructure/pubsub"
	"github.com/tracktiles/server/pkg/infrastructure/sentry"
)

// Context carries per-invocation dependencies into a handler.
type Context struct {
	Service      *bootstrap.Service
	Logger       *slog.Logger
	InvocationID string
}

// HandlerFunc is the signature for a CloudEvent function handler.
type HandlerFunc func(ctx context.Context, e event.Event, fwCtx *Context) error

// WrapCloudEvent decorates a handler with invocation logging, panic
// capture and Sentry reporting. Returned errors propagate so the
// platform retries the delivery.
func WrapCloudEvent(serviceName string, svc *bootstrap.Service, handler HandlerFunc) func(context.Context, event.Event) error {
	return func(ctx context.Context, e event.Event) (err error) {
		invocationID := uuid.NewString()

		logger := bootstrap.NewLogger(serviceName).With("invocation_id", invocationID)
		if userID := extractUserID(e); userID != "" {
			logger = logger.With("user_id", userID)
		}

		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("panic in %s: %v", serviceName, r)
				logger.Error("Function panicked", "panic", r)
				sentry.CaptureException(err, map[string]interface{}{"invocation_id": invocationID}, logger)
				sentry.Flush(2 * time.Second)
			}
		}()

		logger.Info("Function started", "event_type", e.Type())
		started := time.Now()

		fwCtx := &Context{Service: svc, Logger: logger, InvocationID: invocationID}
		if err := handler(ctx, e, fwCtx); err != nil {
			logger.Error("Function failed", "error", err, "duration", time.Since(started))
			sentry.CaptureException(err, map[string]interface{}{"invocation_id": invocationID}, logger)
			sentry.Flush(2 * time.Second)
			return err
		}

		logger.Info("Function completed", "duration", time.Since(started))
		return nil
	}
}

// extractUserID pulls the user ID out of a Pub/Sub-carried event payload
// so it can be attached to every log line of the invocation.
func extractUserID(e event.Event) string {
	var msg ps.MessagePublishedData
	if err := e.DataAs(&msg); err != nil {
		return ""
	}

	var payload struct {
		UserID string `json:"user_id"`
	}
	if err := json.Unmarshal(msg.Message.Data, &payload); err != nil {
		return ""
	}
	return payload.UserID
}
