package whatsapp

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leadflow/leadflow/pkg/channel"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, nil))
}

func TestAdapterSend_Success(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/messages", r.URL.Path)
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))

		var req sendRequest

		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "5511999990000", req.To)
		assert.Equal(t, "Hi Alice", req.Text)

		_ = json.NewEncoder(w).Encode(sendResponse{Success: true, MessageID: "wamid-1"})
	}))
	defer server.Close()

	adapter := NewAdapter(server.URL, "secret", testLogger())

	result, err := adapter.Send(context.Background(), "5511999990000", "Hi Alice")

	require.NoError(t, err)
	assert.Equal(t, "wamid-1", result.MessageID)
}

func TestAdapterSend_GatewayRejection(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(sendResponse{Success: false, Error: "session disconnected"})
	}))
	defer server.Close()

	adapter := NewAdapter(server.URL, "", testLogger())

	_, err := adapter.Send(context.Background(), "5511999990000", "Hi")

	require.Error(t, err)
	assert.True(t, channel.IsSendError(err))
	assert.Contains(t, err.Error(), "session disconnected")
}

func TestAdapterSend_HTTPError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "upstream unavailable", http.StatusBadGateway)
	}))
	defer server.Close()

	adapter := NewAdapter(server.URL, "", testLogger())

	_, err := adapter.Send(context.Background(), "5511999990000", "Hi")

	require.Error(t, err)
	assert.True(t, channel.IsSendError(err))
	assert.Contains(t, err.Error(), "502")
}
