// Package whatsapp provides the WhatsApp gateway implementation of the
// channel adapter.
package whatsapp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/leadflow/leadflow/pkg/channel"
)

const defaultTimeoutSeconds = 30

// Adapter sends text messages through a WhatsApp HTTP gateway.
type Adapter struct {
	baseURL string
	token   string
	client  *http.Client
	logger  *slog.Logger
}

type sendRequest struct {
	To   string `json:"to"`
	Text string `json:"text"`
}

type sendResponse struct {
	Success   bool   `json:"success"`
	MessageID string `json:"message_id"`
	Error     string `json:"error,omitempty"`
}

func NewAdapter(baseURL, token string, logger *slog.Logger) *Adapter {
	return &Adapter{
		baseURL: baseURL,
		token:   token,
		client:  &http.Client{Timeout: defaultTimeoutSeconds * time.Second},
		logger:  logger.With("module", "whatsapp_channel"),
	}
}

// Send delivers one text message. Transport and gateway-level failures are
// returned as *channel.SendError.
func (a *Adapter) Send(ctx context.Context, destination, text string) (*channel.SendResult, error) {
	payload, err := json.Marshal(sendRequest{To: destination, Text: text})
	if err != nil {
		return nil, fmt.Errorf("failed to encode send request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+"/messages", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to build send request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")

	if a.token != "" {
		req.Header.Set("Authorization", "Bearer "+a.token)
	}

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, &channel.SendError{Destination: destination, Err: err}
	}

	defer func() {
		err := resp.Body.Close()
		if err != nil {
			a.logger.ErrorContext(ctx, "Failed to close response body", "error", err)
		}
	}()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &channel.SendError{Destination: destination, Err: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &channel.SendError{
			Destination: destination,
			Err:         fmt.Errorf("gateway returned status %d: %s", resp.StatusCode, string(body)),
		}
	}

	var result sendResponse

	err = json.Unmarshal(body, &result)
	if err != nil {
		return nil, &channel.SendError{Destination: destination, Err: err}
	}

	if !result.Success {
		return nil, &channel.SendError{
			Destination: destination,
			Err:         fmt.Errorf("gateway rejected message: %s", result.Error),
		}
	}

	a.logger.DebugContext(ctx, "Message delivered", "destination", destination, "message_id", result.MessageID)

	return &channel.SendResult{MessageID: result.MessageID}, nil
}
