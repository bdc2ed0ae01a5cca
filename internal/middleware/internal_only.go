package middleware

import (
	"net"
	"net/http"
)

// LocalOnly пропускает запросы только с loopback и приватных адресов: мост сессии
// держит токен пользователя и не должен быть доступен снаружи.
func LocalOnly(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ipStr, _, err := net.SplitHostPort(r.RemoteAddr)
		if err != nil {
			ipStr = r.RemoteAddr
		}
		if isPrivateIP(ipStr) {
			next.ServeHTTP(w, r)
			return
		}
		writeJSONError(w, http.StatusForbidden, "forbidden")
	})
}

func isPrivateIP(s string) bool {
	ip := net.ParseIP(s)
	if ip == nil {
		return false
	}
	return ip.IsLoopback() || ip.IsPrivate()
}
