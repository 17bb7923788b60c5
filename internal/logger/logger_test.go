package logger

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func TestRequestsHandler(t *testing.T) {
	t.Run("logs request outcome with client ip", func(t *testing.T) {
		var buf bytes.Buffer
		rl := NewRequests(zerolog.New(&buf))

		h := rl.Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			require.NotNil(t, zerolog.Ctx(r.Context()))
			w.WriteHeader(http.StatusCreated)
			_, _ = w.Write([]byte("ok"))
		}))

		req := httptest.NewRequest(http.MethodPost, "/v1/messagesToSign", nil)
		req.Header.Set("X-Forwarded-For", "203.0.113.7, 10.0.0.1")
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)

		var entry map[string]any
		require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
		require.Equal(t, "info", entry["level"])
		require.Equal(t, "POST", entry["method"])
		require.Equal(t, "/v1/messagesToSign", entry["path"])
		require.Equal(t, "203.0.113.7", entry["client_ip"])
		require.EqualValues(t, http.StatusCreated, entry["status"])
		require.EqualValues(t, 2, entry["bytes"])
	})

	t.Run("server errors log at error level", func(t *testing.T) {
		var buf bytes.Buffer
		rl := NewRequests(zerolog.New(&buf))

		h := rl.Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusBadGateway)
		}))

		h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))

		var entry map[string]any
		require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
		require.Equal(t, "error", entry["level"])
		require.EqualValues(t, http.StatusBadGateway, entry["status"])
	})

	t.Run("implicit status is ok", func(t *testing.T) {
		var buf bytes.Buffer
		rl := NewRequests(zerolog.New(&buf))

		h := rl.Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
		h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))

		var entry map[string]any
		require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
		require.EqualValues(t, http.StatusOK, entry["status"])
		require.Equal(t, "192.0.2.1", entry["client_ip"])
	})
}
