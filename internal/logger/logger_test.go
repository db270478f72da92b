package logger

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/iurnickita/freightrate/internal/logger/config"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestNewZapLog(t *testing.T) {
	_, err := NewZapLog(config.Config{LogLevel: "info"})
	require.NoError(t, err)

	_, err = NewZapLog(config.Config{LogLevel: "loud"})
	require.Error(t, err)
}

func TestRequestLoggerMasksTokens(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	l := NewRequestLogger(config.Config{MaskedPaths: []string{"/api/carrier/quotes/"}}, zap.New(core))

	h := l.Middleware(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusGone)
		w.Write([]byte("expired"))
	})

	w := httptest.NewRecorder()
	h(w, httptest.NewRequest(http.MethodPost, "/api/carrier/quotes/0123abcd", nil))
	require.Equal(t, http.StatusGone, w.Code)

	entries := logs.All()
	require.Len(t, entries, 2)
	require.Equal(t, "/api/carrier/quotes/***", entries[0].ContextMap()["path"])
	require.Equal(t, int64(http.StatusGone), entries[1].ContextMap()["code"])
	require.Equal(t, int64(7), entries[1].ContextMap()["length"])

	logs.TakeAll()
	h(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/quotes/100001", nil))
	require.Equal(t, "/api/quotes/100001", logs.All()[0].ContextMap()["path"])
}
