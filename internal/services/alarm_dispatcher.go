package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/securetrack/server/internal/models"
	"github.com/securetrack/server/internal/observability"
)

// Callable invokes a named remote procedure and returns its structured reply
type Callable interface {
	Call(ctx context.Context, name string, payload map[string]interface{}) (map[string]interface{}, error)
}

// AlarmDispatcher asks the backend to ring another user's device
type AlarmDispatcher struct {
	callable Callable
	metrics  *observability.AlarmMetrics
}

// NewAlarmDispatcher creates a dispatcher over a callable client. metrics may be nil.
func NewAlarmDispatcher(callable Callable, metrics *observability.AlarmMetrics) *AlarmDispatcher {
	return &AlarmDispatcher{callable: callable, metrics: metrics}
}

// Send dispatches asynchronously. The channel yields exactly one result
// and is then closed.
func (d *AlarmDispatcher) Send(ctx context.Context, targetUserID string) <-chan models.AlarmResult {
	out := make(chan models.AlarmResult, 1)
	go func() {
		defer close(out)
		out <- d.SendSync(ctx, targetUserID)
	}()
	return out
}

// SendSync dispatches and waits for the outcome. Every failure is reported
// in the result.
func (d *AlarmDispatcher) SendSync(ctx context.Context, targetUserID string) (result models.AlarmResult) {
	req := models.AlarmRequest{TargetUserID: strings.TrimSpace(targetUserID)}
	if !req.Valid() {
		result = models.AlarmResult{
			Outcome:      models.AlarmInvalidTarget,
			ErrorMessage: "target user id is required",
		}
		d.metrics.RecordAlarm(ctx, string(result.Outcome))
		return result
	}

	ctx, span := observability.StartServiceSpan(ctx, "AlarmDispatcher", "Send")
	defer span.End()
	span.SetAttributes(observability.TargetUserID(req.TargetUserID))

	logger := observability.WithContext(ctx).WithField("target_user_id", req.TargetUserID)

	defer func() {
		if r := recover(); r != nil {
			result = models.AlarmResult{
				Outcome:      models.AlarmTransportFailure,
				ErrorMessage: fmt.Sprintf("alarm call failed: %v", r),
			}
			logger.Errorf("Alarm call panicked: %v", r)
		}
		d.metrics.RecordAlarm(ctx, string(result.Outcome))
	}()

	reply, err := d.callable.Call(ctx, models.SendAlarmCallable, req.Payload())
	var callErr *CallableError
	if errors.As(err, &callErr) {
		observability.RecordError(span, err)
		logger.Warnf("Alarm rejected by backend: %v", err)
		return models.AlarmResult{
			Outcome:      models.AlarmRemoteRejected,
			ErrorMessage: callErr.Message,
		}
	}
	if err != nil {
		observability.RecordError(span, err)
		logger.Warnf("Alarm transport failure: %v", err)
		return models.AlarmResult{
			Outcome:      models.AlarmTransportFailure,
			ErrorMessage: err.Error(),
		}
	}

	parsed := models.AlarmReplyFromMap(reply)
	if !parsed.Success {
		msg := parsed.Error
		if msg == "" {
			msg = "alarm rejected"
		}
		logger.Warnf("Alarm rejected: %s", msg)
		return models.AlarmResult{
			Outcome:      models.AlarmRemoteRejected,
			ErrorMessage: msg,
		}
	}

	observability.SetSuccess(span)
	logger.WithField("message_id", parsed.MessageID).Info("Alarm sent")
	return models.AlarmResult{
		Outcome:   models.AlarmSent,
		Success:   true,
		MessageID: parsed.MessageID,
	}
}
