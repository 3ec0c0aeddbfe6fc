package handlers

import (
	"context"
	"net"
	"net/http"
	"runtime/debug"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"github.com/sdko-org/gridgate/internal/models"
)

type loggingResponseWriter struct {
	http.ResponseWriter
	statusCode  int
	bytesSent   int
	wroteHeader bool
}

func (lrw *loggingResponseWriter) WriteHeader(code int) {
	lrw.statusCode = code
	lrw.wroteHeader = true
	lrw.ResponseWriter.WriteHeader(code)
}

func (lrw *loggingResponseWriter) Write(b []byte) (int, error) {
	lrw.wroteHeader = true
	n, err := lrw.ResponseWriter.Write(b)
	lrw.bytesSent += n
	return n, err
}

// ClientIPFunc resolves the client address used for quotas and logs.
type ClientIPFunc func(r *http.Request) string

// ClientIP returns a resolver using the connection's remote address. Proxy
// headers are only consulted when trustProxyHeaders is set, since any client
// can forge them.
func ClientIP(trustProxyHeaders bool) ClientIPFunc {
	return func(r *http.Request) string {
		if trustProxyHeaders {
			ip := r.Header.Get("X-Forwarded-For")
			if ip == "" {
				ip = r.Header.Get("X-Real-IP")
			}
			if strings.Contains(ip, ",") {
				ip = strings.Split(ip, ",")[0]
			}
			if ip = strings.TrimSpace(ip); ip != "" {
				return ip
			}
		}
		ip, _, err := net.SplitHostPort(r.RemoteAddr)
		if err != nil {
			return r.RemoteAddr
		}
		return ip
	}
}

// LoggingMiddleware logs every request and, when db is not nil, stores an
// access log row without blocking the response.
func LoggingMiddleware(logger *logrus.Logger, db *gorm.DB, clientIP ClientIPFunc) func(http.Handler) http.Handler {
	logEntry := logger.WithField("component", "http_middleware")

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			lrw := &loggingResponseWriter{ResponseWriter: w, statusCode: http.StatusOK}

			defer func() {
				duration := time.Since(start)
				ip := clientIP(r)
				logEntry.WithFields(logrus.Fields{
					"method":     r.Method,
					"path":       r.URL.Path,
					"status":     lrw.statusCode,
					"duration":   duration,
					"client_ip":  ip,
					"bytes":      lrw.bytesSent,
					"user_agent": r.UserAgent(),
				}).Info("Request processed")

				if db == nil {
					return
				}
				entry := models.AccessLog{
					Timestamp: start,
					Method:    r.Method,
					Path:      r.URL.Path,
					Status:    lrw.statusCode,
					Duration:  duration,
					ClientIP:  ip,
					UserAgent: r.UserAgent(),
					BytesSent: lrw.bytesSent,
				}
				go func() {
					ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
					defer cancel()
					if err := db.WithContext(ctx).Create(&entry).Error; err != nil {
						logEntry.WithError(err).Warn("Failed to save access log")
					}
				}()
			}()

			next.ServeHTTP(lrw, r)
		})
	}
}

// RecoverMiddleware turns a panicking handler into a generic 500.
func RecoverMiddleware(logger *logrus.Logger) func(http.Handler) http.Handler {
	logEntry := logger.WithField("component", "http_middleware")

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			lrw := &loggingResponseWriter{ResponseWriter: w, statusCode: http.StatusOK}
			defer func() {
				rec := recover()
				if rec == nil {
					return
				}
				if rec == http.ErrAbortHandler {
					panic(rec)
				}
				logEntry.WithFields(logrus.Fields{
					"method": r.Method,
					"path":   r.URL.Path,
					"panic":  rec,
					"stack":  string(debug.Stack()),
				}).Error("Handler panicked")
				if !lrw.wroteHeader {
					writeJSON(lrw, http.StatusInternalServerError, errorResponse{Detail: "Internal server error"})
				}
			}()
			next.ServeHTTP(lrw, r)
		})
	}
}
