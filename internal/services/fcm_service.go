package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/securetrack/server/internal/observability"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
)

const (
	fcmScope           = "https://www.googleapis.com/auth/firebase.messaging"
	defaultFCMEndpoint = "https://fcm.googleapis.com"
)

// PushSender delivers a data message to a device token and returns the
// transport's message id
type PushSender interface {
	SendData(ctx context.Context, deviceToken string, data map[string]string) (string, error)
}

// FCMService sends messages through the Firebase Cloud Messaging HTTP v1 API
type FCMService struct {
	projectID   string
	tokenSource oauth2.TokenSource
	httpClient  *http.Client
	endpoint    string
}

// NewFCMService creates an FCMService from a service account credentials file
func NewFCMService(ctx context.Context, credentialsPath string) (*FCMService, error) {
	if credentialsPath == "" {
		return nil, fmt.Errorf("firebase credentials path is required")
	}

	credData, err := os.ReadFile(credentialsPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read credentials: %w", err)
	}

	creds, err := google.CredentialsFromJSON(ctx, credData, fcmScope)
	if err != nil {
		return nil, fmt.Errorf("failed to create credentials: %w", err)
	}
	if creds.ProjectID == "" {
		return nil, fmt.Errorf("credentials file has no project_id")
	}

	svc := NewFCMServiceWithTokenSource(creds.ProjectID, creds.TokenSource, defaultFCMEndpoint)

	// Fail fast on unusable credentials
	if _, err := svc.tokenSource.Token(); err != nil {
		return nil, fmt.Errorf("failed to get initial access token: %w", err)
	}
	observability.WithField("project_id", creds.ProjectID).Info("Firebase Cloud Messaging initialized")

	return svc, nil
}

// NewFCMServiceWithTokenSource creates an FCMService with explicit auth and endpoint
func NewFCMServiceWithTokenSource(projectID string, ts oauth2.TokenSource, endpoint string) *FCMService {
	return &FCMService{
		projectID:   projectID,
		tokenSource: oauth2.ReuseTokenSource(nil, ts),
		httpClient:  &http.Client{Timeout: 30 * time.Second},
		endpoint:    strings.TrimRight(endpoint, "/"),
	}
}

// FCM API message structures
type fcmMessage struct {
	Message fcmMessageBody `json:"message"`
}

type fcmMessageBody struct {
	Token   string            `json:"token"`
	Data    map[string]string `json:"data,omitempty"`
	Android *fcmAndroid       `json:"android,omitempty"`
	APNS    *fcmAPNS          `json:"apns,omitempty"`
}

type fcmAndroid struct {
	Priority string `json:"priority,omitempty"`
}

type fcmAPNS struct {
	Headers map[string]string `json:"headers,omitempty"`
	Payload *fcmAPNSPayload   `json:"payload,omitempty"`
}

type fcmAPNSPayload struct {
	Aps *fcmAps `json:"aps,omitempty"`
}

type fcmAps struct {
	ContentAvailable int `json:"content-available,omitempty"`
}

type fcmSendResponse struct {
	Name string `json:"name"`
}

type fcmErrorResponse struct {
	Error struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
		Status  string `json:"status"`
	} `json:"error"`
}

// FCMError is a non-2xx reply from the FCM API
type FCMError struct {
	HTTPStatus int
	Status     string
	Message    string
}

func (e *FCMError) Error() string {
	return fmt.Sprintf("FCM API error %d %s: %s", e.HTTPStatus, e.Status, e.Message)
}

// SendData sends a data-only message at high priority on Android and
// priority 10 on APNs
func (s *FCMService) SendData(ctx context.Context, deviceToken string, data map[string]string) (string, error) {
	ctx, span := observability.StartServiceSpan(ctx, "FCMService", "SendData")
	defer span.End()

	token, err := s.tokenSource.Token()
	if err != nil {
		observability.RecordError(span, err)
		return "", fmt.Errorf("failed to get access token: %w", err)
	}

	message := fcmMessage{
		Message: fcmMessageBody{
			Token:   deviceToken,
			Data:    data,
			Android: &fcmAndroid{Priority: "high"},
			APNS: &fcmAPNS{
				Headers: map[string]string{"apns-priority": "10"},
				Payload: &fcmAPNSPayload{Aps: &fcmAps{ContentAvailable: 1}},
			},
		},
	}

	jsonData, err := json.Marshal(message)
	if err != nil {
		return "", fmt.Errorf("failed to marshal message: %w", err)
	}

	url := fmt.Sprintf("%s/v1/projects/%s/messages:send", s.endpoint, s.projectID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(jsonData))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token.AccessToken)
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		observability.RecordError(span, err)
		return "", fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))

	if resp.StatusCode != http.StatusOK {
		fcmErr := &FCMError{HTTPStatus: resp.StatusCode, Message: string(respBody)}
		var decoded fcmErrorResponse
		if json.Unmarshal(respBody, &decoded) == nil && decoded.Error.Message != "" {
			fcmErr.Status = decoded.Error.Status
			fcmErr.Message = decoded.Error.Message
		}
		observability.RecordError(span, fcmErr)
		observability.WithFields(map[string]interface{}{
			"status":       resp.StatusCode,
			"token_prefix": deviceToken[:min(12, len(deviceToken))],
		}).Warnf("FCM send failed: %s", fcmErr.Message)
		return "", fcmErr
	}

	var sent fcmSendResponse
	if err := json.Unmarshal(respBody, &sent); err != nil {
		return "", fmt.Errorf("failed to decode FCM response: %w", err)
	}

	observability.SetSuccess(span)
	return sent.Name, nil
}
