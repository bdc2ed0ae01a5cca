package middleware

import (
	"net/http"
	"strings"
)

// TokenResolver возвращает user_id по токену; "" означает неизвестный токен.
type TokenResolver func(token string) string

// BearerToken достаёт токен из "Authorization: Bearer ..." или из ?token= (браузерный WebSocket не умеет заголовки).
func BearerToken(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		if t, ok := strings.CutPrefix(h, "Bearer "); ok {
			return strings.TrimSpace(t)
		}
		return ""
	}
	return strings.TrimSpace(r.URL.Query().Get("token"))
}

// BearerAuth кладёт user_id в контекст; без валидного токена отвечает 401.
func BearerAuth(resolve TokenResolver) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := BearerToken(r)
			userID := ""
			if token != "" {
				userID = resolve(token)
			}
			if userID == "" {
				writeJSONError(w, http.StatusUnauthorized, "unauthorized")
				return
			}
			next.ServeHTTP(w, r.WithContext(WithUserID(r.Context(), userID)))
		})
	}
}

// StaticTokens: TokenResolver по фиксированной таблице token -> user_id.
func StaticTokens(tokens map[string]string) TokenResolver {
	return func(token string) string {
		return tokens[token]
	}
}
