package middleware

import (
	"net/http"
	"strconv"
	"time"

	"github.com/convsession/internal/logger"
)

// Observer получает метод, статус и длительность каждого запроса (метрики).
type Observer func(method string, status int, d time.Duration)

// RequestLog логирует каждый HTTP-запрос: method, path, статус и время выполнения (асинхронно, не блокирует).
func RequestLog(observe Observer) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rw := wrap(w)
			next.ServeHTTP(rw, r)
			d := time.Since(start)
			logger.LogDuration("http "+r.Method+" "+r.URL.Path+" "+strconv.Itoa(rw.status), start)
			if observe != nil {
				observe(r.Method, rw.status, d)
			}
		})
	}
}
