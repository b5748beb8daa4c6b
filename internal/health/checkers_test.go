package health

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap/zaptest"
)

func TestLLMServiceChecker(t *testing.T) {
	tests := []struct {
		name       string
		statusCode int
		want       CheckStatus
	}{
		{name: "healthy", statusCode: http.StatusOK, want: StatusHealthy},
		{name: "server error", statusCode: http.StatusServiceUnavailable, want: StatusUnhealthy},
		{name: "unexpected client error", statusCode: http.StatusNotFound, want: StatusDegraded},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, "/health", r.URL.Path)
				w.WriteHeader(tt.statusCode)
			}))
			defer ts.Close()

			checker := NewLLMServiceHealthChecker(ts.URL, zaptest.NewLogger(t))
			checker.client = ts.Client()

			result := checker.Check(context.Background())
			assert.Equal(t, tt.want, result.Status)
			assert.Equal(t, "llm-service", result.Component)
			assert.True(t, result.Critical)
		})
	}
}

func TestLLMServiceCheckerUnreachable(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	ts.Close() // shut down before checking

	checker := NewLLMServiceHealthChecker(ts.URL, zaptest.NewLogger(t))

	result := checker.Check(context.Background())
	assert.Equal(t, StatusUnhealthy, result.Status)
	assert.Contains(t, result.Message, "unreachable")
	assert.NotEmpty(t, result.Error)
}

func TestCheckStatusString(t *testing.T) {
	assert.Equal(t, "healthy", StatusHealthy.String())
	assert.Equal(t, "degraded", StatusDegraded.String())
	assert.Equal(t, "unhealthy", StatusUnhealthy.String())
	assert.Equal(t, "unknown", StatusUnknown.String())
	assert.Equal(t, "unknown", CheckStatus(42).String())
}
