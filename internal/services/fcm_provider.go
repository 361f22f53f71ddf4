package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/KodeKenobi/nusuru-admin/internal/models"
	"github.com/KodeKenobi/nusuru-admin/pkg/logger"
)

const maxProviderResponse = 1 << 20

// FCMProvider sends notifications through the FCM HTTP v1 API.
type FCMProvider struct {
	endpoint string
	client   *http.Client
	logger   *slog.Logger
}

// NewFCMProvider targets {baseURL}/v1/projects/{projectID}/messages:send.
func NewFCMProvider(baseURL, projectID string, timeout time.Duration, logger *slog.Logger) *FCMProvider {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &FCMProvider{
		endpoint: fmt.Sprintf("%s/v1/projects/%s/messages:send", strings.TrimRight(baseURL, "/"), projectID),
		client: &http.Client{
			Timeout: timeout,
		},
		logger: logger,
	}
}

func (p *FCMProvider) Name() string {
	return "fcm"
}

// Endpoint is the messages:send URL this provider posts to.
func (p *FCMProvider) Endpoint() string {
	return p.endpoint
}

func (p *FCMProvider) Send(ctx context.Context, accessToken string, msg *Message) (models.DispatchResult, error) {
	result := models.DispatchResult{Token: msg.Token}

	body, err := json.Marshal(newEnvelope(msg))
	if err != nil {
		result.Error = err.Error()
		return result, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint, bytes.NewReader(body))
	if err != nil {
		result.Error = err.Error()
		return result, nil
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+accessToken)

	resp, err := p.client.Do(req)
	if err != nil {
		p.logger.Warn("fcm request failed",
			slog.String("token", logger.TokenPreview(msg.Token)),
			slog.Any("error", err))
		result.Error = err.Error()
		return result, ErrDelivery.Wrap(err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxProviderResponse))
	if err != nil {
		result.Error = err.Error()
		return result, ErrDelivery.Wrap(err)
	}

	parsed, details := parseResponse(raw)
	result.Details = details
	result.Success = resp.StatusCode >= 200 && resp.StatusCode < 300
	if result.Success {
		result.MessageID = parsed.Name
		return result, nil
	}

	result.Error = parsed.errorMessage()
	if result.Error == "" {
		result.Error = fmt.Sprintf("fcm: unexpected status %d", resp.StatusCode)
	}
	p.logger.Debug("fcm rejected message",
		slog.String("token", logger.TokenPreview(msg.Token)),
		slog.Int("status", resp.StatusCode),
		slog.String("error", result.Error))

	if isRetryableStatus(resp.StatusCode) {
		return result, ErrDelivery.New("fcm returned %d", resp.StatusCode)
	}
	return result, nil
}

type fcmEnvelope struct {
	Message fcmMessage `json:"message"`
}

type fcmMessage struct {
	Token        string              `json:"token"`
	Notification models.Notification `json:"notification"`
	Data         map[string]string   `json:"data"`
	Android      androidConfig       `json:"android"`
	APNS         apnsConfig          `json:"apns"`
}

type androidConfig struct {
	Notification androidNotification `json:"notification"`
	Priority     string              `json:"priority"`
}

type androidNotification struct {
	Sound       string `json:"sound"`
	ClickAction string `json:"click_action"`
}

type apnsConfig struct {
	Payload apnsPayload `json:"payload"`
}

type apnsPayload struct {
	Aps aps `json:"aps"`
}

type aps struct {
	Sound string `json:"sound"`
	Badge int    `json:"badge"`
}

func newEnvelope(msg *Message) fcmEnvelope {
	return fcmEnvelope{
		Message: fcmMessage{
			Token:        msg.Token,
			Notification: msg.Notification,
			Data:         msg.Data,
			Android: androidConfig{
				Notification: androidNotification{
					Sound:       "default",
					ClickAction: "FLUTTER_NOTIFICATION_CLICK",
				},
				Priority: "high",
			},
			APNS: apnsConfig{
				Payload: apnsPayload{
					Aps: aps{Sound: "default", Badge: 1},
				},
			},
		},
	}
}

type fcmResponse struct {
	Name  string          `json:"name"`
	Error json.RawMessage `json:"error"`
}

// errorMessage reads error.message, or error itself when it is a plain string.
func (r fcmResponse) errorMessage() string {
	if len(r.Error) == 0 {
		return ""
	}
	var structured struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal(r.Error, &structured); err == nil && structured.Message != "" {
		return structured.Message
	}
	var plain string
	if err := json.Unmarshal(r.Error, &plain); err == nil {
		return plain
	}
	return ""
}

// parseResponse decodes the provider body. A body that is not JSON is wrapped
// as {"error": "<raw text>"} so it still reaches the caller as details.
func parseResponse(raw []byte) (fcmResponse, json.RawMessage) {
	var parsed fcmResponse
	if err := json.Unmarshal(raw, &parsed); err == nil {
		return parsed, json.RawMessage(raw)
	}

	text := strings.TrimSpace(string(raw))
	wrapped, _ := json.Marshal(map[string]string{"error": text})
	parsed = fcmResponse{}
	if text != "" {
		parsed.Error, _ = json.Marshal(text)
	}
	return parsed, json.RawMessage(wrapped)
}

func isRetryableStatus(code int) bool {
	return code == http.StatusTooManyRequests || code >= 500
}
