package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
)

// HTTPSink posts notifications to the notification service's internal bulk endpoint.
type HTTPSink struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	logger     *zap.Logger
}

func NewHTTPSink(baseURL, apiKey string, timeout time.Duration, logger *zap.Logger) *HTTPSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HTTPSink{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger,
	}
}

func (s *HTTPSink) SendBulk(ctx context.Context, notifications []Notification) error {
	if len(notifications) == 0 {
		return nil
	}
	stamp(notifications)

	body, err := json.Marshal(BulkRequest{Notifications: notifications})
	if err != nil {
		return fmt.Errorf("failed to marshal notifications: %w", err)
	}

	url := s.baseURL + "/internal/notifications/bulk"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Internal-API-Key", s.apiKey)

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send notifications: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("notification service returned status %d", resp.StatusCode)
	}

	s.logger.Debug("Bulk notifications sent", zap.Int("count", len(notifications)))
	return nil
}
