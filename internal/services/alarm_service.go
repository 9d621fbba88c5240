package services

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/securetrack/server/internal/models"
	"github.com/securetrack/server/internal/observability"
	"github.com/securetrack/server/internal/store"
)

// PushFeed mirrors push data to connected agents
type PushFeed interface {
	SendToUserTopic(userID, topic string, msg WSMessage)
}

// AlarmService is the backend half of the sendAlarm callable
type AlarmService struct {
	store   store.RemoteStore
	sender  PushSender
	feed    PushFeed
	limiter *AlarmLimiter
	metrics *observability.AlarmMetrics
}

// NewAlarmService creates an AlarmService. sender, feed, limiter and
// metrics are each optional, but at least one of sender or feed should be set.
func NewAlarmService(remote store.RemoteStore, sender PushSender, feed PushFeed, limiter *AlarmLimiter, metrics *observability.AlarmMetrics) *AlarmService {
	return &AlarmService{
		store:   remote,
		sender:  sender,
		feed:    feed,
		limiter: limiter,
		metrics: metrics,
	}
}

// SendAlarm rings targetUserID's devices on behalf of callerID. Failures are
// returned as *CallableError.
func (s *AlarmService) SendAlarm(ctx context.Context, callerID, targetUserID string) (*models.AlarmReply, error) {
	ctx, span := observability.StartServiceSpan(ctx, "AlarmService", "SendAlarm")
	defer span.End()

	logger := observability.WithContext(ctx).WithFields(map[string]interface{}{
		"caller_id":      callerID,
		"target_user_id": targetUserID,
	})

	if callerID == "" {
		return nil, &CallableError{Status: StatusUnauthenticated, Message: "User must be authenticated"}
	}
	targetUserID = strings.TrimSpace(targetUserID)
	if targetUserID == "" {
		return nil, &CallableError{Status: StatusInvalidArgument, Message: "targetUserId is required"}
	}
	if s.limiter != nil && !s.limiter.Allow(callerID) {
		s.metrics.RecordRateLimited(ctx)
		logger.Warn("Alarm rate limit exceeded")
		return nil, &CallableError{Status: StatusResourceExhausted, Message: "Too many alarms; try again shortly"}
	}

	snap, err := s.store.Get(ctx, models.UserPath(targetUserID))
	if err != nil {
		observability.RecordError(span, err)
		logger.Errorf("Failed to load target user: %v", err)
		return nil, &CallableError{Status: StatusInternal, Message: "Failed to load target user"}
	}
	if !snap.Exists {
		return nil, &CallableError{Status: StatusNotFound, Message: "Target user not found"}
	}

	target := models.PresenceFromDocument(targetUserID, snap.Data)
	if !target.HasPushToken() {
		return nil, &CallableError{Status: StatusFailedPrecondition, Message: "Target user has no FCM token"}
	}

	data := map[string]string{
		models.PushKeyAction:       models.ActionRingAlarm,
		models.PushKeyTimestamp:    strconv.FormatInt(time.Now().UnixMilli(), 10),
		models.PushKeyTargetUserID: targetUserID,
	}

	messageID := ""
	if s.sender != nil {
		messageID, err = s.sender.SendData(ctx, target.PushToken, data)
		if err != nil {
			observability.RecordError(span, err)
			logger.Errorf("Failed to send alarm push: %v", err)
			s.metrics.RecordAlarm(ctx, string(models.AlarmTransportFailure))
			return nil, &CallableError{Status: StatusInternal, Message: "Failed to send alarm: " + err.Error()}
		}
	}

	if s.feed != nil {
		s.feed.SendToUserTopic(targetUserID, TopicPush, WSMessage{Type: WSTypePush, Payload: data})
		if messageID == "" {
			messageID = "feed/" + uuid.New().String()
		}
	}

	s.metrics.RecordAlarm(ctx, string(models.AlarmSent))
	observability.SetSuccess(span)
	logger.WithField("message_id", messageID).Info("Alarm sent")

	return &models.AlarmReply{
		Success:      true,
		MessageID:    messageID,
		TargetUserID: targetUserID,
	}, nil
}
