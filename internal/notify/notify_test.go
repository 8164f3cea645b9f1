package notify

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/kebairia/phoenix/internal/config"
	"github.com/kebairia/phoenix/internal/logger"
)

func TestWebhookNotifier_PostsPayload(t *testing.T) {
	var got webhookPayload
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	n := NewWebhookNotifier(srv.URL, time.Second, logger.Nop())
	err := n.Notify(context.Background(), SeverityWarning, "backup finished with warnings")
	require.NoError(t, err)
	require.Equal(t, "warning", got.Severity)
	require.Equal(t, "backup finished with warnings", got.Message)
}

func TestWebhookNotifier_NonSuccessStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	n := NewWebhookNotifier(srv.URL, time.Second, logger.Nop())
	require.Error(t, n.Notify(context.Background(), SeverityInfo, "hello"))
}

func TestNewFromConfig_FallsBackToLog(t *testing.T) {
	n := NewFromConfig(config.NotifyConfig{}, logger.Nop())
	_, isLog := n.(*LogNotifier)
	require.True(t, isLog)
	require.NoError(t, n.Notify(context.Background(), SeverityCritical, "recovery failed"))
}
