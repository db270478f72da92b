package logger

import (
	"bytes"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/iurnickita/freightrate/internal/logger/config"
	"go.uber.org/zap"
)

func NewZapLog(cfg config.Config) (*zap.Logger, error) {
	// преобразуем текстовый уровень логирования в zap.AtomicLevel
	lvl, err := zap.ParseAtomicLevel(cfg.LogLevel)
	if err != nil {
		return nil, err
	}
	zapcfg := zap.NewProductionConfig()
	zapcfg.Level = lvl
	return zapcfg.Build()
}

// RequestLogger пишет в лог входящие HTTP-запросы и ответы.
type RequestLogger struct {
	zaplog *zap.Logger
	masked []string
}

func NewRequestLogger(cfg config.Config, zaplog *zap.Logger) *RequestLogger {
	return &RequestLogger{zaplog: zaplog, masked: cfg.MaskedPaths}
}

// maskPath скрывает токен в пути, чтобы одноразовые ссылки не попадали в лог
func (l *RequestLogger) maskPath(path string) string {
	for _, prefix := range l.masked {
		if rest, ok := strings.CutPrefix(path, prefix); ok && rest != "" {
			return prefix + "***"
		}
	}
	return path
}

// Middleware - middleware-логер для входящих HTTP-запросов.
func (l *RequestLogger) Middleware(h http.HandlerFunc) http.HandlerFunc {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {

		// request body
		bodyBytes, _ := io.ReadAll(r.Body)
		r.Body.Close() //  must close
		r.Body = io.NopCloser(bytes.NewBuffer(bodyBytes))

		path := l.maskPath(r.URL.Path)
		l.zaplog.Info("got incoming HTTP request",
			zap.String("path", path),
			zap.String("method", r.Method),
			zap.Int("body_length", len(bodyBytes)),
		)

		wl := newResponseWriterLogger(w)

		handlerStart := time.Now()
		h(wl, r)
		handlerDuration := time.Since(handlerStart)

		l.zaplog.Info("send HTTP response",
			zap.String("path", path),
			zap.Int("code", wl.statusCode),
			zap.Int("length", wl.length),
			zap.Duration("duration", handlerDuration),
		)
	})
}

type responseWriterLogger struct {
	http.ResponseWriter
	statusCode int
	length     int
}

func newResponseWriterLogger(w http.ResponseWriter) *responseWriterLogger {
	return &responseWriterLogger{w, http.StatusOK, 0}
}

func (wl *responseWriterLogger) WriteHeader(code int) {
	wl.statusCode = code
	wl.ResponseWriter.WriteHeader(code)
}

func (wl *responseWriterLogger) Write(b []byte) (n int, err error) {
	n, err = wl.ResponseWriter.Write(b)
	wl.length += n
	return
}
