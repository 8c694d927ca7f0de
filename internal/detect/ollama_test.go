package detect

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roadsight/roadsight/internal/models"
)

func TestOllamaDetector_Detect(t *testing.T) {
	var gotReq ollamaChatRequest

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/chat", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotReq))

		reply := ollamaChatResponse{Message: ollamaChatMessage{
			Role:    "assistant",
			Content: `{"damages":[{"type":"坑槽","severity":"严重","confidence":0.88}],"riskLevel":"高","summary":"deep pothole"}`,
		}}
		require.NoError(t, json.NewEncoder(w).Encode(reply))
	}))
	defer server.Close()

	d := NewOllamaDetector(server.URL, "qwen2-vl:7b")

	result, err := d.Detect(context.Background(), []byte("raw-image"))
	require.NoError(t, err)

	assert.Equal(t, "qwen2-vl:7b", gotReq.Model)
	assert.False(t, gotReq.Stream)
	require.Len(t, gotReq.Messages, 1)
	assert.Len(t, gotReq.Messages[0].Images, 1)

	require.False(t, result.Degraded)
	require.Len(t, result.Findings, 1)
	assert.Equal(t, models.DamagePothole, result.Findings[0].Type)
	assert.Equal(t, models.SeveritySevere, result.Findings[0].Severity)
	assert.Equal(t, models.RiskHigh, result.RiskLevel)
}

func TestOllamaDetector_RetriesServerErrors(t *testing.T) {
	var calls atomic.Int32

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}

		reply := ollamaChatResponse{Message: ollamaChatMessage{
			Content: `{"damages":[],"riskLevel":"low","summary":"clear"}`,
		}}
		require.NoError(t, json.NewEncoder(w).Encode(reply))
	}))
	defer server.Close()

	d := NewOllamaDetector(server.URL, "qwen2-vl:7b")

	result, err := d.Detect(context.Background(), []byte("img"))
	require.NoError(t, err)
	assert.Equal(t, models.RiskLow, result.RiskLevel)
	assert.GreaterOrEqual(t, calls.Load(), int32(2))
}

func TestOllamaDetector_EmptyReply(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		require.NoError(t, json.NewEncoder(w).Encode(ollamaChatResponse{}))
	}))
	defer server.Close()

	d := NewOllamaDetector(server.URL, "qwen2-vl:7b")

	_, err := d.Detect(context.Background(), []byte("img"))
	assert.ErrorIs(t, err, ErrNoReply)
}
