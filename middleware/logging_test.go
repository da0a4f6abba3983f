package middleware

import (
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

type MockRequestRecorder struct {
	mock.Mock
}

func (m *MockRequestRecorder) RecordRequest(method, route string, status int, duration time.Duration) {
	m.Called(method, route, status, duration)
}

func TestRequestLogger(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	recorder := &MockRequestRecorder{}
	recorder.On("RecordRequest", http.MethodGet, "/projects/{project_id}/manifest", http.StatusOK, mock.AnythingOfType("time.Duration")).Once()

	r := chi.NewRouter()
	r.Use(RequestID)
	r.Use(RequestLogger(zap.New(core), recorder))
	r.Get("/projects/{project_id}/manifest", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{}`))
	})

	req := httptest.NewRequest(http.MethodGet, "/projects/demo/manifest", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	processing := w.Header().Get(ProcessingTimeHeader)
	require.NotEmpty(t, processing)
	_, err := strconv.ParseFloat(processing, 64)
	assert.NoError(t, err)
	assert.NotEmpty(t, w.Header().Get(RequestIDHeader))

	recorder.AssertExpectations(t)

	entries := logs.FilterMessage("request completed").All()
	require.Len(t, entries, 1)
	fields := entries[0].ContextMap()
	assert.Equal(t, "/projects/demo/manifest", fields["path"])
	assert.Equal(t, "/projects/{project_id}/manifest", fields["route"])
	assert.Equal(t, int64(http.StatusOK), fields["status"])
	assert.Equal(t, w.Header().Get(RequestIDHeader), fields["request_id"])
}

func TestRequestLogger_LevelByStatus(t *testing.T) {
	tests := []struct {
		status int
		level  zapcore.Level
	}{
		{http.StatusOK, zapcore.InfoLevel},
		{http.StatusNotFound, zapcore.WarnLevel},
		{http.StatusBadGateway, zapcore.ErrorLevel},
	}

	for _, tt := range tests {
		t.Run(strconv.Itoa(tt.status), func(t *testing.T) {
			core, logs := observer.New(zapcore.DebugLevel)
			handler := RequestLogger(zap.New(core), nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
			}))

			w := httptest.NewRecorder()
			handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/x", nil))

			require.Equal(t, 1, logs.Len())
			entry := logs.All()[0]
			assert.Equal(t, tt.level, entry.Level)
			assert.Equal(t, "unmatched", entry.ContextMap()["route"])
			assert.NotEmpty(t, w.Header().Get(ProcessingTimeHeader))
		})
	}
}

func TestRequestLogger_PassesFlushThrough(t *testing.T) {
	r := chi.NewRouter()
	r.Use(RequestLogger(zap.NewNop(), nil))
	r.Get("/stream", func(w http.ResponseWriter, r *http.Request) {
		flusher, ok := w.(http.Flusher)
		require.True(t, ok, "response writer must support flushing")
		_, _ = w.Write([]byte("data: 1\n\n"))
		flusher.Flush()
	})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/stream", nil))

	assert.True(t, w.Flushed)
	assert.NotEmpty(t, w.Header().Get(ProcessingTimeHeader))
}

func TestTimingWriter_FlushStampsHeader(t *testing.T) {
	w := httptest.NewRecorder()
	tw := &timingWriter{ResponseWriter: w, start: time.Now()}

	tw.Flush()

	assert.True(t, w.Flushed)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.NotEmpty(t, w.Header().Get(ProcessingTimeHeader))
}
